// Package cmd provides the CLI commands for anxun using Cobra.
package cmd

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/Zerofisher/anxun/internal/app"
	"github.com/Zerofisher/anxun/internal/config"
	"github.com/Zerofisher/anxun/internal/logging"
)

// Version is set at build time via -ldflags.
var Version = "dev"

// global flags
var (
	configPath string
	dataDir    string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "anxun",
	Short: "安巡 campus network security assistant",
	Long: `安巡 (anxun) analyzes captured network traffic with a local language model:

  - pcap/pcapng/cap file analysis with risk assessment
  - bounded live capture through tshark
  - security chat with per-session memory
  - HTTP API for web front ends

Examples:
  anxun analyze campus.pcap                     # Analyze a capture file
  anxun analyze campus.pcap -Y "tcp.port == 22" # Analyze SSH traffic only
  anxun capture any -d 10 -c 50                 # Capture 10s / 50 packets
  anxun chat                                    # Interactive security chat
  anxun serve                                   # Start the HTTP API`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Data directory (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warning, error")

	// Define command groups for organized help output
	rootCmd.AddGroup(
		&cobra.Group{ID: "analysis", Title: "Analysis Commands:"},
		&cobra.Group{ID: "service", Title: "Service Commands:"},
		&cobra.Group{ID: "info", Title: "Information Commands:"},
	)

	// Add subcommands
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(captureCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(listCmd)
}

// loadConfig reads the configuration and applies the global flags.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) logging.Logger {
	return logging.New(cfg.Log.AppName, os.Stderr, cfg.Log.Level)
}

// setupService loads the configuration and builds the service. The caller
// must Close it.
func setupService(ctx context.Context) (*app.Service, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return app.Setup(ctx, cfg, newLogger(cfg))
}
