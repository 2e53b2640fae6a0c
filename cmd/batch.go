package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/crawler-fleet/internal/batch"
	"github.com/JakeFAU/crawler-fleet/internal/fleet"
)

func newBatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Start and inspect crawl batches",
	}
	cmd.AddCommand(newBatchStartCmd(), newBatchStatusCmd())
	return cmd
}

func newBatchStartCmd() *cobra.Command {
	var planPath string
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Arm the completion barrier and enqueue every sub-task of a plan",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := resolveApp(ctx)
			if err != nil {
				return err
			}
			plan, err := batch.LoadPlan(planPath)
			if err != nil {
				return err
			}
			b, err := a.Barrier(ctx)
			if err != nil {
				return err
			}
			q, err := a.Queue(ctx)
			if err != nil {
				return err
			}
			starter := batch.NewStarter(b, q, a.IDs(), a.Clock(), a.Config().Batch.ChunkSize, a.Logger().Named("batch"))
			started, err := starter.Start(ctx, plan.Expand())
			if err != nil {
				return err
			}
			return printJSON(cmd, started)
		},
	}
	cmd.Flags().StringVar(&planPath, "plan", "", "batch plan file (YAML)")
	_ = cmd.MarkFlagRequired("plan")
	return cmd
}

type batchStatus struct {
	Counters fleet.CompletionCounters `json:"counters"`
	Ready    bool                     `json:"ready_to_terminate"`
	Recent   []fleet.BatchRun         `json:"recent,omitempty"`
}

func newBatchStatusCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the current barrier counters and recent batches",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := resolveApp(ctx)
			if err != nil {
				return err
			}
			b, err := a.Barrier(ctx)
			if err != nil {
				return err
			}
			ready, err := a.Readiness(ctx)
			if err != nil {
				return err
			}
			var st batchStatus
			if st.Counters, err = b.Snapshot(ctx); err != nil {
				return err
			}
			if st.Ready, err = ready.IsReadyToTerminate(ctx); err != nil {
				return err
			}
			ledger, err := a.Ledger(ctx)
			if err != nil {
				return err
			}
			if ledger != nil {
				if st.Recent, err = ledger.Recent(ctx, limit); err != nil {
					return err
				}
			}
			return printJSON(cmd, st)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "number of recent batches to show")
	return cmd
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}
