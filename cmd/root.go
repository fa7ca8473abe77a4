package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/batchline/batchline/internal/config"
	"github.com/batchline/batchline/internal/logging"
)

var (
	cfgFile  string
	logLevel string
	version  = "dev"
	commit   = "none"
	date     = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "batchline",
	Short: "Batchline — event-triggered batch analytics runner",
	Long: `Batchline turns raw-data uploads into analytics results at minimal
cost: an upload starts a dormant compute instance, the instance runs the
Athena query pipeline, the result lands under the output prefix, and the
instance terminates itself.

Run "batchline serve" to listen for upload events, or "batchline run" on
the instance itself to execute the pipeline once.`,
}

func Execute() {
	rootCmd.Version = version
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.batchline/batchline.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
}

// loadConfig loads the effective configuration for a command.
func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		path = config.ExpandHome(config.DefaultPath)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	return cfg, nil
}

// setupLogger builds the logger from the loaded config.
func setupLogger(cfg *config.Config) (*slog.Logger, error) {
	logger, err := logging.Setup(cfg.Logging.Level, cfg.Logging.Directory)
	if err != nil {
		return nil, fmt.Errorf("setting up logging: %w", err)
	}
	return logger, nil
}
