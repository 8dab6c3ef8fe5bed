package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"trade-settlement-engine/internal/api"
	"trade-settlement-engine/internal/config"
	"trade-settlement-engine/internal/logger"
)

//nolint:gochecknoglobals // Cobra boilerplate
var (
	configDir  string
	remoteURL  string
	actorFlag  string
	timeoutArg time.Duration
)

//nolint:gochecknoglobals // Cobra boilerplate
var rootCmd = &cobra.Command{
	Use:   "settlectl",
	Short: "Operator console for the trade settlement engine",
	Long: `settlectl talks to a running settlement engine over its HTTP API.

Admin commands (set-outcome, force-settle, cancel) go through the same
claim as every other trigger and are recorded in the audit trail.
The watch command runs a client-side countdown for one trade.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config", "./configs", "Directory containing config.yml")
	rootCmd.PersistentFlags().StringVar(&remoteURL, "url", "", "Engine base URL (overrides settlement.remote_url)")
	rootCmd.PersistentFlags().StringVar(&actorFlag, "actor", "", "Operator name recorded in the audit trail (defaults to $USER)")
	rootCmd.PersistentFlags().DurationVar(&timeoutArg, "timeout", 10*time.Second, "Timeout for one-shot commands")
}

// setup loads .env and configuration and builds a logger and API client.
func setup() (config.Config, *zap.Logger, *api.Client, error) {
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(configDir)
	if err != nil {
		return cfg, nil, nil, fmt.Errorf("load config: %w", err)
	}
	if remoteURL != "" {
		cfg.Settlement.RemoteURL = remoteURL
	}

	log, err := logger.NewLogger("settlectl", cfg.Logger.Level, "console")
	if err != nil {
		return cfg, nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, log, api.NewClient(cfg.Settlement, log), nil
}

func actor() string {
	if actorFlag != "" {
		return actorFlag
	}
	return os.Getenv("USER")
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
