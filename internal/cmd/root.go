// Package cmd implements the meetscribe command line.
package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/meetscribe/client/internal/config"
	"github.com/meetscribe/client/internal/logging"
)

const defaultConfigPath = "config.yaml"

var rootCmd = &cobra.Command{
	Use:   "meetscribe",
	Short: "Upload meeting audio and follow its transcription",
	Long: `meetscribe uploads meeting recordings to the transcription backend and
shows live processing progress pushed over a websocket channel. The serve
command runs a local development backend speaking the same protocol.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", defaultConfigPath, "config file")
	rootCmd.PersistentFlags().String("log-level", "", "override log level (debug, info, warn, error)")
}

// app holds the loaded configuration and process logger.
type app struct {
	cfg    *config.Config
	log    *slog.Logger
	closer io.Closer
}

func (a *app) Close() error { return a.closer.Close() }

// setup loads configuration and builds the logger. quiet keeps log output
// off the terminal, for commands that draw a TUI.
func setup(cmd *cobra.Command, quiet bool) (*app, error) {
	path, _ := cmd.Flags().GetString("config")
	required := cmd.Flags().Changed("config")

	cfg, err := config.Load(path, required)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		cfg.Log.Level = lvl
	}

	logger, closer, err := logging.New(logging.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
		Quiet:      quiet,
	}, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("failed to set up logging: %w", err)
	}
	slog.SetDefault(logger)
	return &app{cfg: cfg, log: logger, closer: closer}, nil
}
