package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"ReviewHarvester/internal/app"
	"ReviewHarvester/internal/config"
	"ReviewHarvester/internal/logging"
)

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:           "reviewharvester",
	Short:         "Incrementally harvest, store and label public reviews",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config (default: $REVIEW_HARVESTER_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override logging level (debug, info, warn, error)")
	rootCmd.AddCommand(runCmd, classifyCmd, statsCmd)
}

// loadConfig reads and validates the configuration, applying global flag overrides.
func loadConfig() (config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	return cfg, logging.New(cfg.Logging.Level, cfg.Logging.Format), nil
}

func openApplication(ctx context.Context, cfg config.Config, logger *slog.Logger, opts app.Options) (*app.Application, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return app.New(ctx, cfg, logger, opts)
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
