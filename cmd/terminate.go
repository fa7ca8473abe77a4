package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var terminateCmd = &cobra.Command{
	Use:   "terminate",
	Short: "Force-terminate the runner instance",
	Long: `Request termination of the configured runner instance. Terminating an
instance that is already shutting down or terminated succeeds quietly.
Use this when a termination-failure alert fired and the instance is still
accruing cost.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx := context.Background()
		cl, err := buildClients(ctx, cfg)
		if err != nil {
			return err
		}

		if err := cl.compute.TerminateInstance(ctx, cfg.Runner.InstanceID); err != nil {
			return err
		}
		fmt.Printf("Termination requested for %s\n", cfg.Runner.InstanceID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(terminateCmd)
}
