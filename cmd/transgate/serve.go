package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/allaspectsdev/transgate/internal/api"
	"github.com/allaspectsdev/transgate/internal/config"
	"github.com/allaspectsdev/transgate/internal/costctl"
	"github.com/allaspectsdev/transgate/internal/extdata"
	"github.com/allaspectsdev/transgate/internal/pipeline"
	"github.com/allaspectsdev/transgate/internal/provider"
	"github.com/allaspectsdev/transgate/internal/store"
	"github.com/allaspectsdev/transgate/internal/version"
)

const (
	shutdownTimeout = 15 * time.Second
	sweepInterval   = 6 * time.Hour
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the translation proxy server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return runServe(cfg)
	},
}

func runServe(cfg *config.Config) error {
	log.Info().Str("version", version.Version).Msg("starting transgate")

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()

	costs := costctl.New(st, costctl.Budgets{
		GoogleUSD: cfg.DailyBudgetGoogle,
		OpenAIUSD: cfg.DailyBudgetOpenAI,
	})

	openai := provider.NewOpenAI(
		cfg.OpenAIAPIKey,
		cfg.OpenAITranslationModel,
		cfg.OpenAIRefinementModel,
		provider.OpenAIPricing{
			InputUSD:  cfg.OpenAIPriceInput,
			OutputUSD: cfg.OpenAIPriceOutput,
		},
		cfg.ProviderTimeout,
	)
	google := provider.NewGoogle(cfg.GoogleCredentials, cfg.GooglePricePerMillionChars)
	defer google.Close()

	providers := map[string]provider.Provider{
		provider.NameDeepL:  provider.NewDeepL(cfg.DeepLAPIKey, cfg.ProviderTimeout),
		provider.NameOpenAI: openai,
		provider.NameGoogle: google,
	}

	var refiner provider.Refiner
	if cfg.OpenAIAPIKey != "" {
		refiner = openai
	}

	pipe, err := pipeline.New(st, costs, providers, refiner, cfg.MemoryCacheSize)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ext := extdata.New(st)
	if err := ext.Initialize(ctx); err != nil {
		// Reference data is nice to have; the defaults keep the proxy
		// functional.
		log.Error().Err(err).Msg("external data init failed, using defaults")
	}

	go runCacheSweeper(ctx, st, cfg.CacheExpireDays)

	server := api.New(cfg.ListenAddr(), pipe, st, costs, ext)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errCh:
		if err != nil {
			return err
		}
		return nil
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	return server.Shutdown(shutdownCtx)
}

// runCacheSweeper deletes cache rows not accessed within expireDays, on a
// fixed interval. A panic in one sweep must not kill the goroutine.
func runCacheSweeper(ctx context.Context, st *store.Store, expireDays int) {
	if expireDays <= 0 {
		log.Info().Msg("cache sweeper disabled")
		return
	}
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweep(ctx, st, expireDays)
		}
	}
}

func sweep(ctx context.Context, st *store.Store, expireDays int) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("cache sweep panicked")
		}
	}()
	n, err := st.DeleteExpired(ctx, expireDays)
	if err != nil {
		log.Error().Err(err).Msg("cache sweep failed")
		return
	}
	if n > 0 {
		log.Info().Int64("deleted", n).Int("days", expireDays).Msg("cache swept")
	}
}
