package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/batchline/batchline/internal/history"
)

var statusRuns int

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the runner instance state and recent runs",
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

		st, err := cl.compute.DescribeInstance(ctx, cfg.Runner.InstanceID)
		if err != nil {
			return fmt.Errorf("describing instance: %w", err)
		}
		fmt.Printf("Instance %s: %s (healthy: %v)\n", cfg.Runner.InstanceID, st.State, st.Healthy)

		store := history.NewStore(cfg.History.Path)
		records, err := store.Recent(statusRuns)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			fmt.Println("No recorded runs.")
			return nil
		}

		fmt.Println("\nRecent runs:")
		for _, rec := range records {
			line := fmt.Sprintf("  %s  %s  %s", rec.StartedAt.Format("2006-01-02 15:04:05"), rec.RunID, rec.Stage)
			if rec.Destination != "" {
				line += "  → " + rec.Destination
			}
			if rec.Error != "" {
				line += "  (" + rec.Error + ")"
			}
			if rec.TerminationError != "" {
				line += "  [TERMINATION FAILED: " + rec.TerminationError + "]"
			}
			fmt.Println(line)
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().IntVar(&statusRuns, "runs", 10, "number of recent runs to show")
	rootCmd.AddCommand(statusCmd)
}
