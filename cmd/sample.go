package cmd

import (
	"github.com/spf13/cobra"
)

func newSampleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sample",
		Short: "Publish the job queue depth on a fixed interval",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			sampler, err := a.Sampler(cmd.Context())
			if err != nil {
				return err
			}
			sampler.Run(cmd.Context())
			return nil
		},
	}
}
