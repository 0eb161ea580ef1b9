// Package config loads the service configuration from environment variables
// via viper. There is no config file: deployment fixes every knob through
// the environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration for transgate.
type Config struct {
	// Credentials.
	DeepLAPIKey       string
	OpenAIAPIKey      string
	GoogleCredentials string // path to a service-account JSON file; empty uses ADC
	GoogleProject     string

	// Storage.
	DBPath string

	// Daily budgets in USD.
	DailyBudgetGoogle float64
	DailyBudgetOpenAI float64

	// HTTP server.
	APIHost  string
	APIPort  int
	LogLevel string

	// Model settings.
	OpenAITranslationModel string
	OpenAIRefinementModel  string

	// List prices. Overridable for testing; refreshed copies live in the
	// external_data table.
	OpenAIPriceInput           float64 // USD per 1M input tokens
	OpenAIPriceOutput          float64 // USD per 1M output tokens
	GooglePricePerMillionChars float64 // USD per 1M characters

	// Cache.
	CacheExpireDays int
	MemoryCacheSize int

	// Per-backend translate timeout.
	ProviderTimeout time.Duration
}

// Load reads the configuration from the environment, applying defaults for
// anything unset.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("SQLITE_DB_PATH", "./data/transgate.db")
	v.SetDefault("DAILY_BUDGET_GOOGLE", 10.0)
	v.SetDefault("DAILY_BUDGET_OPENAI", 5.0)
	v.SetDefault("API_HOST", "0.0.0.0")
	v.SetDefault("API_PORT", 8000)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("OPENAI_TRANSLATION_MODEL", "gpt-4o-mini")
	v.SetDefault("OPENAI_REFINEMENT_MODEL", "gpt-4o-mini")
	v.SetDefault("OPENAI_PRICE_INPUT", 0.15)
	v.SetDefault("OPENAI_PRICE_OUTPUT", 0.60)
	v.SetDefault("GOOGLE_PRICE_PER_MILLION_CHARS", 20.0)
	v.SetDefault("CACHE_EXPIRE_DAYS", 90)
	v.SetDefault("MEMORY_CACHE_SIZE", 1000)
	v.SetDefault("PROVIDER_TIMEOUT_SECONDS", 60)

	cfg := &Config{
		DeepLAPIKey:       v.GetString("DEEPL_API_KEY"),
		OpenAIAPIKey:      v.GetString("OPENAI_API_KEY"),
		GoogleCredentials: v.GetString("GOOGLE_APPLICATION_CREDENTIALS"),
		GoogleProject:     v.GetString("GOOGLE_CLOUD_PROJECT"),

		DBPath: v.GetString("SQLITE_DB_PATH"),

		DailyBudgetGoogle: v.GetFloat64("DAILY_BUDGET_GOOGLE"),
		DailyBudgetOpenAI: v.GetFloat64("DAILY_BUDGET_OPENAI"),

		APIHost:  v.GetString("API_HOST"),
		APIPort:  v.GetInt("API_PORT"),
		LogLevel: strings.ToLower(v.GetString("LOG_LEVEL")),

		OpenAITranslationModel: v.GetString("OPENAI_TRANSLATION_MODEL"),
		OpenAIRefinementModel:  v.GetString("OPENAI_REFINEMENT_MODEL"),

		OpenAIPriceInput:           v.GetFloat64("OPENAI_PRICE_INPUT"),
		OpenAIPriceOutput:          v.GetFloat64("OPENAI_PRICE_OUTPUT"),
		GooglePricePerMillionChars: v.GetFloat64("GOOGLE_PRICE_PER_MILLION_CHARS"),

		CacheExpireDays: v.GetInt("CACHE_EXPIRE_DAYS"),
		MemoryCacheSize: v.GetInt("MEMORY_CACHE_SIZE"),

		ProviderTimeout: time.Duration(v.GetInt("PROVIDER_TIMEOUT_SECONDS")) * time.Second,
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("config: SQLITE_DB_PATH must not be empty")
	}
	if c.APIPort <= 0 || c.APIPort > 65535 {
		return fmt.Errorf("config: API_PORT %d out of range", c.APIPort)
	}
	if c.DailyBudgetGoogle < 0 || c.DailyBudgetOpenAI < 0 {
		return fmt.Errorf("config: daily budgets must be non-negative")
	}
	if c.CacheExpireDays < 0 {
		return fmt.Errorf("config: CACHE_EXPIRE_DAYS must be non-negative")
	}
	return nil
}

// ListenAddr returns the host:port pair the API server binds to.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.APIHost, c.APIPort)
}
