package main

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/allaspectsdev/transgate/internal/config"
)

var rootCmd = &cobra.Command{
	Use:           "transgate",
	Short:         "Multi-tier translation proxy with cost control",
	Long:          "transgate caches translations locally and fails over between DeepL, OpenAI, and Google Translate, keeping daily spend inside configured budgets.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(cacheCmd)
	rootCmd.AddCommand(dbCmd)
	rootCmd.AddCommand(versionCmd)
}

// setupLogging configures the global zerolog logger from the configured
// level, with console output on stderr.
func setupLogging(cfg *config.Config) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
	})
}

// loadConfig loads config and wires logging; every subcommand that touches
// the database goes through here.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	setupLogging(cfg)
	return cfg, nil
}
