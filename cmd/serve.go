package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/batchline/batchline/internal/activator"
	"github.com/batchline/batchline/internal/api"
	"github.com/batchline/batchline/internal/history"
	"github.com/batchline/batchline/internal/pipeline"
	"github.com/batchline/batchline/internal/trigger"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Listen for upload events and trigger pipeline runs",
	Long: `Start the HTTP event listener. POST S3 event notifications to /events;
qualifying raw-data uploads activate the runner instance and execute the
pipeline. Duplicate events while a run is in flight are coalesced.`,
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
		store := history.NewStore(cfg.History.Path)

		port := cfg.Trigger.Port
		if servePort != 0 {
			port = servePort
		}
		srv := api.New(listener, store, logger, port)

		errCh := make(chan error, 1)
		go func() { errCh <- srv.Start() }()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		logger.Info("shutting down, waiting for in-flight runs")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
