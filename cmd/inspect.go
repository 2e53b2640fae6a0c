package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/crawler-fleet/internal/lifecycle"
	"github.com/JakeFAU/crawler-fleet/internal/worker"
)

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect",
		Short: "Print the sub-tasks running in this worker, one per line",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			jobs, err := worker.ReadActiveJobs(a.Config().Worker.StateFile)
			if err != nil {
				return err
			}
			for _, job := range jobs {
				line, err := lifecycle.FormatActiveJob(job)
				if err != nil {
					return err
				}
				if _, err := fmt.Fprintln(cmd.OutOrStdout(), line); err != nil {
					return fmt.Errorf("write output: %w", err)
				}
			}
			return nil
		},
	}
}
