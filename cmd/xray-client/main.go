package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/creamcroissant/xray-client/internal/client"
	"github.com/creamcroissant/xray-client/internal/config"
	"github.com/creamcroissant/xray-client/internal/support/logging"
)

// Build info - injected via ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "xray-client",
	Short: "Xray subscription and node manager",
	Long: `xray-client fetches proxy subscriptions, keeps a local node registry,
generates the xray config for the selected node and controls the xray service,
TUN transparent proxy and shell proxy environment.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default /etc/xray-client/client.yaml)")
}

// loadConfig reads the client config and builds the CLI logger (text on stderr).
func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	format := cfg.Log.Format
	if format == "" || format == "json" {
		format = "text"
	}
	logger := logging.New(logging.Options{
		Level:     cfg.Log.SlogLevel(),
		Format:    format,
		AddSource: cfg.Log.AddSource,
	})
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func newClient(cfg *config.Config, deps client.Deps, logger *slog.Logger) (*client.Client, error) {
	c, err := client.New(cfg, deps, logger)
	if err != nil {
		return nil, fmt.Errorf("init client: %w", err)
	}
	return c, nil
}

// getClient loads config and constructs a client with default collaborators.
func getClient() (*client.Client, *slog.Logger, error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	c, err := newClient(cfg, client.Deps{}, logger)
	if err != nil {
		return nil, nil, err
	}
	return c, logger, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
