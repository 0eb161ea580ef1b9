// Package extdata fetches and caches external reference data: the USD/TWD
// exchange rate and the provider pricing table. Fetched values persist in
// the external_data table so restarts do not re-hit the upstream sources.
package extdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"

	"github.com/allaspectsdev/transgate/internal/store"
)

const (
	categoryExchangeRate = "exchange_rate"
	categoryPricing      = "pricing"

	exchangeRateURL  = "https://tw.rter.info/capi.php"
	googlePricingURL = "https://cloud.google.com/translate/pricing"

	// fallbackUSDTWD is used when the rate source is unreachable.
	fallbackUSDTWD = 32.5

	fetchRetries = 5
	userAgent    = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"
)

// ExchangeRate is the cached USD/TWD rate.
type ExchangeRate struct {
	USDTWD    float64   `json:"usd_twd"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Pricing holds the free-tier limits and per-unit prices used for reporting.
type Pricing struct {
	DeepLFreeLimit             int64   `json:"deepl_free_limit"`
	GoogleFreeLimit            int64   `json:"google_free_limit"`
	GooglePricePerMillionChars float64 `json:"google_price_per_million_chars"`
	OpenAIPriceInput           float64 `json:"openai_price_input"`
	OpenAIPriceOutput          float64 `json:"openai_price_output"`
}

func defaultPricing() Pricing {
	return Pricing{
		DeepLFreeLimit:             500_000,
		GoogleFreeLimit:            500_000,
		GooglePricePerMillionChars: 20.0,
		OpenAIPriceInput:           0.15,
		OpenAIPriceOutput:          0.60,
	}
}

// googlePriceRe matches "$20 per million" or "$20 / million" in the pricing
// page text.
var googlePriceRe = regexp.MustCompile(`(?i)\$\s*(\d+(?:\.\d+)?)\s*(?:per|/)\s*million`)

// Service loads external data from the store at startup and refreshes it
// when the cached copy is stale. Accessors are safe for concurrent use.
type Service struct {
	store      *store.Store
	client     *http.Client
	rateURL    string
	pricingURL string

	mu      sync.RWMutex
	rate    ExchangeRate
	pricing Pricing
}

// New creates a Service with the default pricing and fallback rate already
// in place, so accessors work before Initialize runs.
func New(s *store.Store) *Service {
	return &Service{
		store:      s,
		client:     &http.Client{Timeout: 15 * time.Second},
		rateURL:    exchangeRateURL,
		pricingURL: googlePricingURL,
		rate:       ExchangeRate{USDTWD: fallbackUSDTWD},
		pricing:    defaultPricing(),
	}
}

// Initialize loads cached rows from the store and refreshes them when the
// exchange rate was not updated today. Fetch failures are logged, not
// returned: stale data beats no data.
func (s *Service) Initialize(ctx context.Context) error {
	fresh, err := s.loadFromStore(ctx)
	if err != nil {
		return err
	}
	if !fresh {
		log.Info().Msg("external data missing or stale, refreshing")
		s.Refresh(ctx)
	}
	return nil
}

// loadFromStore reports whether the cached exchange rate is from today.
func (s *Service) loadFromStore(ctx context.Context) (bool, error) {
	row, err := s.store.GetExternalData(ctx, categoryExchangeRate)
	if err != nil {
		return false, fmt.Errorf("extdata: load exchange rate: %w", err)
	}
	fresh := false
	if row != nil {
		var rate ExchangeRate
		if err := json.Unmarshal([]byte(row.Data), &rate); err != nil {
			log.Error().Err(err).Msg("corrupt exchange rate row, ignoring")
		} else {
			rate.UpdatedAt = row.UpdatedAt
			s.mu.Lock()
			s.rate = rate
			s.mu.Unlock()
			fresh = row.UpdatedAt.Local().Format("2006-01-02") == store.Today()
		}
	}

	row, err = s.store.GetExternalData(ctx, categoryPricing)
	if err != nil {
		return false, fmt.Errorf("extdata: load pricing: %w", err)
	}
	if row != nil {
		var pricing Pricing
		if err := json.Unmarshal([]byte(row.Data), &pricing); err != nil {
			log.Error().Err(err).Msg("corrupt pricing row, ignoring")
		} else {
			s.mu.Lock()
			s.pricing = pricing
			s.mu.Unlock()
		}
	}
	return fresh, nil
}

// Refresh fetches the exchange rate and pricing from their sources and
// persists whatever succeeded.
func (s *Service) Refresh(ctx context.Context) {
	rate := s.fetchExchangeRate(ctx)
	s.mu.Lock()
	s.rate = ExchangeRate{USDTWD: rate, UpdatedAt: time.Now().UTC()}
	s.mu.Unlock()
	if err := s.persist(ctx, categoryExchangeRate, s.Rate()); err != nil {
		log.Error().Err(err).Msg("persist exchange rate failed")
	}

	pricing := s.fetchPricing(ctx)
	s.mu.Lock()
	s.pricing = pricing
	s.mu.Unlock()
	if err := s.persist(ctx, categoryPricing, pricing); err != nil {
		log.Error().Err(err).Msg("persist pricing failed")
	}
}

func (s *Service) persist(ctx context.Context, category string, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("extdata: marshal %s: %w", category, err)
	}
	return s.store.PutExternalData(ctx, category, string(payload))
}

// Rate returns the current USD/TWD exchange rate snapshot.
func (s *Service) Rate() ExchangeRate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rate
}

// CurrentPricing returns the current pricing table.
func (s *Service) CurrentPricing() Pricing {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pricing
}

// fetchBody GETs url with exponential backoff: 1s initial delay, doubling,
// up to fetchRetries attempts.
func (s *Service) fetchBody(ctx context.Context, url string) ([]byte, error) {
	policy := backoff.WithContext(backoff.WithMaxRetries(
		backoff.NewExponentialBackOff(
			backoff.WithInitialInterval(time.Second),
			backoff.WithMultiplier(2),
		),
		fetchRetries-1,
	), ctx)

	var body []byte
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("User-Agent", userAgent)

		resp, err := s.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("status %d", resp.StatusCode)
		}
		body, err = io.ReadAll(resp.Body)
		return err
	}
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, fmt.Errorf("extdata: fetch %s: %w", url, err)
	}
	return body, nil
}

// fetchExchangeRate pulls the USD/TWD rate from tw.rter.info, falling back
// to a fixed rate when the source is unreachable or unparseable.
func (s *Service) fetchExchangeRate(ctx context.Context) float64 {
	body, err := s.fetchBody(ctx, s.rateURL)
	if err != nil {
		log.Warn().Err(err).Float64("fallback", fallbackUSDTWD).Msg("exchange rate fetch failed")
		return fallbackUSDTWD
	}

	var payload map[string]struct {
		Exrate float64 `json:"Exrate"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		log.Warn().Err(err).Msg("exchange rate response unparseable")
		return fallbackUSDTWD
	}
	entry, ok := payload["USDTWD"]
	if !ok || entry.Exrate <= 0 {
		log.Warn().Msg("exchange rate response missing USDTWD")
		return fallbackUSDTWD
	}
	log.Info().Float64("usd_twd", entry.Exrate).Msg("exchange rate updated")
	return entry.Exrate
}

// fetchPricing scrapes the Google pricing page for the per-million-character
// price. The other entries keep their defaults; their upstream pages have no
// stable machine-readable form.
func (s *Service) fetchPricing(ctx context.Context) Pricing {
	pricing := defaultPricing()

	body, err := s.fetchBody(ctx, s.pricingURL)
	if err != nil {
		log.Warn().Err(err).Msg("google pricing fetch failed, keeping defaults")
		return pricing
	}
	if price, ok := parseGooglePrice(string(body)); ok {
		pricing.GooglePricePerMillionChars = price
		log.Info().Float64("price", price).Msg("google pricing updated")
	}
	return pricing
}

// parseGooglePrice extracts the per-million price from pricing page text.
func parseGooglePrice(text string) (float64, bool) {
	m := googlePriceRe.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	price, err := strconv.ParseFloat(m[1], 64)
	if err != nil || price <= 0 {
		return 0, false
	}
	return price, true
}
