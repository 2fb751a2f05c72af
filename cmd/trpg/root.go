package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/jwebster45206/alignment-engine/internal/config"
	"github.com/jwebster45206/alignment-engine/internal/logger"
)

var rootCmd = &cobra.Command{
	Use:   "trpg",
	Short: "Play the alignment engine in your terminal",
	Long: `trpg runs a session in-process against the configured model and store,
without the HTTP API. Configuration comes from the same environment
variables as the API server, optionally loaded from a .env file.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		envFile, _ := cmd.Flags().GetString("env-file")
		// A missing .env file is fine; the environment may already be set.
		_ = godotenv.Load(envFile)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("env-file", ".env", "Environment file to load before reading configuration")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Write logs to stderr")
}

// loadConfig reads the environment and sets up logging. Logs are dropped
// unless --verbose is set so they do not interleave with the story.
func loadConfig(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	var w io.Writer = io.Discard
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		w = cmd.ErrOrStderr()
	}
	return cfg, logger.SetupWriter(cfg, w), nil
}
