package extdata

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/allaspectsdev/transgate/internal/store"
)

func newTestService(t *testing.T, rateHandler, pricingHandler http.HandlerFunc) (*Service, *store.Store) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "transgate.db"))
	if err != nil {
		t.Fatalf("store.Open() error: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	svc := New(s)
	svc.client = &http.Client{Timeout: time.Second}
	if rateHandler != nil {
		srv := httptest.NewServer(rateHandler)
		t.Cleanup(srv.Close)
		svc.rateURL = srv.URL
	}
	if pricingHandler != nil {
		srv := httptest.NewServer(pricingHandler)
		t.Cleanup(srv.Close)
		svc.pricingURL = srv.URL
	}
	return svc, s
}

func TestDefaultsBeforeInitialize(t *testing.T) {
	svc, _ := newTestService(t, nil, nil)

	if got := svc.Rate().USDTWD; got != fallbackUSDTWD {
		t.Errorf("Rate() = %v, want fallback %v", got, fallbackUSDTWD)
	}
	p := svc.CurrentPricing()
	if p.GooglePricePerMillionChars != 20.0 || p.OpenAIPriceInput != 0.15 || p.OpenAIPriceOutput != 0.60 {
		t.Errorf("pricing = %+v", p)
	}
	if p.DeepLFreeLimit != 500_000 {
		t.Errorf("DeepLFreeLimit = %d", p.DeepLFreeLimit)
	}
}

func TestRefreshFetchesAndPersists(t *testing.T) {
	svc, s := newTestService(t,
		func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"USDTWD":{"Exrate":31.25,"UTC":"2026-08-26 00:00:00"}}`))
		},
		func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`<html>Neural Machine Translation: $25 per million characters</html>`))
		},
	)
	ctx := context.Background()

	svc.Refresh(ctx)

	if got := svc.Rate().USDTWD; got != 31.25 {
		t.Errorf("Rate() = %v, want 31.25", got)
	}
	if got := svc.CurrentPricing().GooglePricePerMillionChars; got != 25 {
		t.Errorf("google price = %v, want 25", got)
	}

	// Both categories persisted.
	for _, category := range []string{"exchange_rate", "pricing"} {
		row, err := s.GetExternalData(ctx, category)
		if err != nil {
			t.Fatalf("GetExternalData(%s) error: %v", category, err)
		}
		if row == nil {
			t.Errorf("category %s not persisted", category)
		}
	}
}

func TestFetchFallbackOnError(t *testing.T) {
	svc, _ := newTestService(t,
		func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		},
		func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		},
	)

	// Short timeout so the retry loop does not stretch the test.
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	svc.Refresh(ctx)

	if got := svc.Rate().USDTWD; got != fallbackUSDTWD {
		t.Errorf("Rate() = %v, want fallback", got)
	}
	if got := svc.CurrentPricing().GooglePricePerMillionChars; got != 20.0 {
		t.Errorf("google price = %v, want default 20", got)
	}
}

func TestInitializeUsesFreshStoreData(t *testing.T) {
	fetches := 0
	svc, s := newTestService(t,
		func(w http.ResponseWriter, r *http.Request) {
			fetches++
			w.Write([]byte(`{"USDTWD":{"Exrate":30.0}}`))
		},
		func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(``))
		},
	)
	ctx := context.Background()

	// Seed a row updated today.
	if err := s.PutExternalData(ctx, "exchange_rate", `{"usd_twd":33.5}`); err != nil {
		t.Fatalf("PutExternalData() error: %v", err)
	}

	if err := svc.Initialize(ctx); err != nil {
		t.Fatalf("Initialize() error: %v", err)
	}
	if fetches != 0 {
		t.Errorf("fetched %d times despite fresh cache", fetches)
	}
	if got := svc.Rate().USDTWD; got != 33.5 {
		t.Errorf("Rate() = %v, want cached 33.5", got)
	}
}

func TestInitializeRefreshesWhenEmpty(t *testing.T) {
	svc, _ := newTestService(t,
		func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"USDTWD":{"Exrate":30.0}}`))
		},
		func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`$20 per million`))
		},
	)

	if err := svc.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() error: %v", err)
	}
	if got := svc.Rate().USDTWD; got != 30.0 {
		t.Errorf("Rate() = %v, want fetched 30.0", got)
	}
}

func TestParseGooglePrice(t *testing.T) {
	tests := []struct {
		text string
		want float64
		ok   bool
	}{
		{"$20 per million characters", 20, true},
		{"$ 22.5 / million chars", 22.5, true},
		{"USD twenty per million", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		got, ok := parseGooglePrice(tt.text)
		if ok != tt.ok || got != tt.want {
			t.Errorf("parseGooglePrice(%q) = %v, %v; want %v, %v", tt.text, got, ok, tt.want, tt.ok)
		}
	}
}
