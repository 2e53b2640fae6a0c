package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/crawler-fleet/internal/api"
	"github.com/JakeFAU/crawler-fleet/internal/app"
	"github.com/JakeFAU/crawler-fleet/internal/autoscale"
	"github.com/JakeFAU/crawler-fleet/internal/depth"
)

func newAutoscaleCmd() *cobra.Command {
	var withSampler bool
	cmd := &cobra.Command{
		Use:   "autoscale",
		Short: "Run the autoscaling loop and the admin HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := resolveApp(ctx)
			if err != nil {
				return err
			}
			daemons, err := buildAutoscaleDaemons(ctx, a, withSampler)
			if err != nil {
				return err
			}
			return daemons.run(ctx)
		},
	}
	cmd.Flags().BoolVar(&withSampler, "with-sampler", false, "also run the queue-depth sampler in this process")
	return cmd
}

// autoscaleDaemons holds everything `fleet autoscale` runs. All of it is
// built before any goroutine starts.
type autoscaleDaemons struct {
	loop    *autoscale.Loop
	server  *api.Server
	sampler *depth.Sampler
	addr    string
}

func buildAutoscaleDaemons(ctx context.Context, a *app.App, withSampler bool) (*autoscaleDaemons, error) {
	cfg := a.Config()

	policy := a.Policy()
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	reader, err := a.DepthReader(ctx)
	if err != nil {
		return nil, err
	}
	manager, err := a.Manager()
	if err != nil {
		return nil, err
	}
	ready, err := a.Readiness(ctx)
	if err != nil {
		return nil, err
	}
	b, err := a.Barrier(ctx)
	if err != nil {
		return nil, err
	}
	store, err := a.Store(ctx)
	if err != nil {
		return nil, err
	}
	ledger, err := a.Ledger(ctx)
	if err != nil {
		return nil, err
	}
	var sampler *depth.Sampler
	if withSampler {
		if sampler, err = a.Sampler(ctx); err != nil {
			return nil, err
		}
	}

	loop := autoscale.NewLoop(policy, reader, manager, ready, cfg.Autoscale.Interval, a.Logger().Named("autoscale"))
	server := api.NewServer(api.Deps{
		Store:     store,
		Depth:     reader,
		Fleet:     manager,
		Readiness: ready,
		Counters:  b,
		Decisions: loop,
		Ledger:    ledger,
	}, a.Logger().Named("api"))

	return &autoscaleDaemons{
		loop:    loop,
		server:  server,
		sampler: sampler,
		addr:    fmt.Sprintf(":%d", cfg.Admin.Port),
	}, nil
}

func (d *autoscaleDaemons) run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return d.loop.Run(gctx) })
	g.Go(func() error { return d.server.ListenAndServe(gctx, d.addr) })
	if d.sampler != nil {
		g.Go(func() error {
			d.sampler.Run(gctx)
			return nil
		})
	}
	return g.Wait()
}
