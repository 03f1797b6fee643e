package main

import (
	"context"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/stake-plus/nexvote/src/config"
	"github.com/stake-plus/nexvote/src/logging"
)

var (
	flagConfig string
	flagLevel  string
	flagPretty bool
)

var rootCmd = &cobra.Command{
	Use:           "nexvote",
	Short:         "civic proposal lifecycle engine",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "YAML config file (overrides NEXVOTE_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&flagLevel, "log-level", "", "log level; empty uses LOG_LEVEL")
	rootCmd.PersistentFlags().BoolVar(&flagPretty, "pretty", false, "human readable logs")
}

// load resolves configuration and the process logger from flags and the
// environment.
func load() (config.Config, zerolog.Logger, error) {
	if flagConfig != "" {
		if err := os.Setenv("NEXVOTE_CONFIG", flagConfig); err != nil {
			return config.Config{}, zerolog.Nop(), err
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, zerolog.Nop(), err
	}
	if flagLevel != "" {
		cfg.LogLevel = flagLevel
	}
	if flagPretty {
		cfg.LogPretty = true
	}
	return cfg, logging.New(cfg.LogLevel, cfg.LogPretty), nil
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		rootCmd.PrintErrln("Error:", err.Error())
		os.Exit(1)
	}
}
