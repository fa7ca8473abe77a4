package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/batchline/batchline/internal/activator"
	"github.com/batchline/batchline/internal/history"
	"github.com/batchline/batchline/internal/pipeline"
	"github.com/batchline/batchline/internal/trigger"
)

var activateKey string

var activateCmd = &cobra.Command{
	Use:   "activate",
	Short: "Activate the runner for an upload, as the event source would",
	Long: `Feed one upload event through the trigger path by hand: filter it, start
the instance if it qualifies, wait for health, and execute the pipeline.
Useful for replaying a missed event or smoke-testing the wiring.`,
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

		runner := pipeline.NewRunner(cfg, cl.compute, cl.engine, cl.storage, cl.catalog, logger)
		act := activator.New(cfg, cl.compute, runner, logger)
		listener := trigger.NewListener(cfg, act, logger)

		ev := trigger.UploadEvent{
			Bucket:    cfg.Data.Bucket,
			Key:       activateKey,
			EventTime: time.Now().UTC(),
		}

		outcome, run, err := listener.OnUpload(ctx, ev)
		if outcome == trigger.Ignored {
			fmt.Printf("Ignored: %s does not qualify (prefix %s, extension %s)\n",
				activateKey, cfg.Data.RawPrefix, cfg.Trigger.Extension)
			return nil
		}
		if errors.Is(err, activator.ErrRunInFlight) {
			fmt.Println("Coalesced: a run is already in flight for this instance")
			return nil
		}

		if run != nil {
			store := history.NewStore(cfg.History.Path)
			if recErr := store.Append(history.FromRun(run)); recErr != nil {
				logger.Error("recording run failed", "run_id", run.ID, "error", recErr)
			}
		}
		if err != nil {
			return err
		}
		fmt.Printf("Run %s complete: %s\n", run.ID, run.Artifact.Destination)
		return nil
	},
}

func init() {
	activateCmd.Flags().StringVar(&activateKey, "key", "", "object key of the upload event (required)")
	activateCmd.MarkFlagRequired("key")
	rootCmd.AddCommand(activateCmd)
}
