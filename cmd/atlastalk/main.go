package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/hari-co/AtlasTalk/pkg/config"
)

// Version information (set via ldflags)
var Version = "dev"

var (
	configFile string
	logLevel   string
)

func main() {
	root := &cobra.Command{
		Use:          "atlastalk",
		Short:        "Language-practice conversation backend",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogging(logLevel)
		},
	}
	root.PersistentFlags().StringVar(&configFile, "config", os.Getenv("CONFIG_FILE"), "path to config YAML")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(serveCmd(), chatCmd(), versionCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("atlastalk %s\n", Version)
		},
	}
}

func loadConfig() (*config.Config, error) {
	if configFile == "" {
		return config.Default(), nil
	}
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}
