// Package cli implements the previewcache command line interface.
package cli

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/spritepal/previewcache/internal/config"
)

var Version = "dev"

var (
	flagConfig   string
	flagCacheDir string
	flagLogLevel string
)

func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "previewcache",
		Short: "Tiered preview cache for ROM tile data",
		Long:  "Previewcache generates, caches, and serves tile previews for ROM files across an in-memory LRU and a persistent on-disk store.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if flagLogLevel != "" {
				configureLogging(flagLogLevel)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	root.PersistentFlags().StringVar(&flagConfig, "config", "", "path to a YAML configuration file")
	root.PersistentFlags().StringVar(&flagCacheDir, "cache-dir", "", "disk cache directory (default $HOME/.previewcache)")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level: DEBUG, INFO, WARN, ERROR")

	root.AddCommand(
		newWarmCmd(),
		newStatsCmd(),
		newInspectCmd(),
		newCleanCmd(),
	)

	root.Version = Version
	root.SetVersionTemplate(fmt.Sprintf("previewcache %s\n", Version))

	return root
}

func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig resolves the effective configuration: defaults, then the config
// file when given, then environment variables, then flags.
func loadConfig() (*config.Configuration, error) {
	cfg := config.NewDefault()
	if flagConfig != "" {
		if err := cfg.LoadFromFile(flagConfig); err != nil {
			return nil, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}
	if flagCacheDir != "" {
		cfg.DiskCache.Directory = flagCacheDir
	}
	if flagLogLevel != "" {
		cfg.Global.LogLevel = flagLogLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	configureLogging(cfg.Global.LogLevel)
	return cfg, nil
}

func configureLogging(level string) {
	var l slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		l = slog.LevelDebug
	case "WARN":
		l = slog.LevelWarn
	case "ERROR":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l})))
}
