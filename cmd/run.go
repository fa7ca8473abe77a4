package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/batchline/batchline/internal/aws"
	"github.com/batchline/batchline/internal/history"
	"github.com/batchline/batchline/internal/pipeline"
)

var (
	runInstanceID string
	runSelf       bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute the pipeline once and terminate the instance",
	Long: `Run the full pipeline: ensure the Athena schema, execute the state-count
query, copy the result to the output prefix, and terminate the runner
instance. Intended to run on the instance itself (use --self to discover
the instance id from metadata), but works against any configured instance.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger, err := setupLogger(cfg)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		cl, err := buildClients(ctx, cfg)
		if err != nil {
			return err
		}

		instanceID := cfg.Runner.InstanceID
		if runInstanceID != "" {
			instanceID = runInstanceID
		}
		if runSelf {
			awsCfg, err := aws.LoadConfig(ctx, cfg.AWS.Profile, cfg.AWS.Region)
			if err != nil {
				return err
			}
			instanceID, err = aws.SelfInstanceID(ctx, awsCfg)
			if err != nil {
				return fmt.Errorf("discovering own instance id: %w", err)
			}
		}
		if instanceID == "" {
			return fmt.Errorf("no instance id: set runner.instance_id, --instance, or --self")
		}

		runner := pipeline.NewRunner(cfg, cl.compute, cl.engine, cl.storage, cl.catalog, logger)
		run := runner.Run(ctx, instanceID)

		store := history.NewStore(cfg.History.Path)
		if err := store.Append(history.FromRun(run)); err != nil {
			logger.Error("recording run failed", "run_id", run.ID, "error", err)
		}

		if run.Done() {
			fmt.Printf("Run %s complete: %s\n", run.ID, run.Artifact.Destination)
			return nil
		}
		return fmt.Errorf("run %s failed: %v", run.ID, run.Err)
	},
}

func init() {
	runCmd.Flags().StringVar(&runInstanceID, "instance", "", "instance id to run against (default from config)")
	runCmd.Flags().BoolVar(&runSelf, "self", false, "discover the instance id from instance metadata")
	rootCmd.AddCommand(runCmd)
}
