// Package cmd defines the CLI commands of the fleet executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawler-fleet/internal/app"
	"github.com/JakeFAU/crawler-fleet/internal/config"
	"github.com/JakeFAU/crawler-fleet/internal/logging"
)

type appKeyType struct{}

var appKey appKeyType

type rootOptions struct {
	cfgFile string
	dryRun  bool
}

// newApp is the application factory. It is a variable so tests can swap it.
var newApp = func(cfg config.Config, logger *zap.Logger, opts app.Options) *app.App {
	return app.New(cfg, logger, opts)
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "fleet",
		Short: "Autoscaling control plane for a fleet of crawler workers.",
		Long: `fleet keeps a pool of crawler worker containers sized to the depth of a
shared job queue, and fires a finalization pipeline exactly once when every
sub-task of a batch has reported in.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.cfgFile)
			if err != nil {
				return err
			}
			logger, err := logging.New(logging.Options{
				Development: cfg.Logging.Development,
				Level:       cfg.Logging.Level,
				File:        cfg.Logging.File,
			})
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)
			a := newApp(cfg, logger.With(zap.String("command", cmd.Name())), app.Options{DryRun: opts.dryRun})
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, a))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			a, ok := cmd.Context().Value(appKey).(*app.App)
			if !ok || a == nil {
				return
			}
			if err := a.Close(); err != nil {
				a.Logger().Warn("error closing clients", zap.Error(err))
			}
			_ = a.Logger().Sync()
		},
	}

	cmd.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "config file (YAML)")
	cmd.PersistentFlags().BoolVar(&opts.dryRun, "dry-run", false,
		"use in-process fakes instead of Redis, Docker, Postgres and Pub/Sub")

	cmd.AddCommand(
		newAutoscaleCmd(),
		newSampleCmd(),
		newWorkCmd(),
		newBatchCmd(),
		newInspectCmd(),
	)
	return cmd
}

func resolveApp(ctx context.Context) (*app.App, error) {
	a, ok := ctx.Value(appKey).(*app.App)
	if !ok || a == nil {
		return nil, errors.New("application services not initialized")
	}
	return a, nil
}

// Execute runs the root command until it returns or SIGINT/SIGTERM arrives.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		zap.L().Error("command failed", zap.Error(err))
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}
