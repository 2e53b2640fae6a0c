package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawler-fleet/internal/dispatcher"
	"github.com/JakeFAU/crawler-fleet/internal/executor"
	"github.com/JakeFAU/crawler-fleet/internal/worker"
)

func newWorkCmd() *cobra.Command {
	var concurrency int
	cmd := &cobra.Command{
		Use:   "work",
		Short: "Consume sub-tasks from the job queue (runs inside a worker container)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := resolveApp(ctx)
			if err != nil {
				return err
			}
			cfg := a.Config()
			if concurrency <= 0 {
				concurrency = cfg.Worker.Concurrency
			}

			q, err := a.Queue(ctx)
			if err != nil {
				return err
			}
			b, err := a.Barrier(ctx)
			if err != nil {
				return err
			}
			exec := executor.New(cfg.Executor.Binary, cfg.Executor.Args, cfg.Executor.Dir, a.Logger().Named("executor"))
			active := worker.NewActiveSet(cfg.Worker.StateFile)
			wcfg := worker.Config{PopTimeout: cfg.Worker.PopTimeout}

			runners := make([]dispatcher.Runner, 0, concurrency)
			for i := 0; i < concurrency; i++ {
				runners = append(runners, worker.New(q, exec, b, active, a.Clock(), wcfg,
					a.Logger().Named("worker").With(zap.Int("index", i))))
			}
			dispatcher.New(runners, a.Logger().Named("dispatcher")).Run(ctx)
			return nil
		},
	}
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "number of concurrent sub-tasks (default worker.concurrency)")
	return cmd
}
