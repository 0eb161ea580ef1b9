package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestDeepLLangMapping(t *testing.T) {
	tests := []struct {
		lang   string
		target bool
		want   string
	}{
		{"en", false, "EN"},
		{"en", true, "EN-US"},
		{"zh-tw", true, "ZH-HANT"},
		{"zh-cn", true, "ZH-HANS"},
		{"ZH-TW", true, "ZH-HANT"},
		{"pt", true, "PT-PT"},
		{"pt-br", true, "PT-BR"},
		{"tlh", true, "TLH"}, // unmapped codes pass through uppercased
	}
	for _, tt := range tests {
		if got := deeplLang(tt.lang, tt.target); got != tt.want {
			t.Errorf("deeplLang(%q, %v) = %q, want %q", tt.lang, tt.target, got, tt.want)
		}
	}
}

func TestDeepLTranslate(t *testing.T) {
	var gotAuth, gotTarget, gotSource string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/translate" {
			t.Errorf("path = %q", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		if err := r.ParseForm(); err != nil {
			t.Fatalf("ParseForm: %v", err)
		}
		gotTarget = r.PostForm.Get("target_lang")
		gotSource = r.PostForm.Get("source_lang")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"translations":[{"detected_source_language":"EN","text":"你好"}]}`))
	}))
	defer srv.Close()

	d := NewDeepLWithBaseURL("test-key", srv.URL, time.Second)
	res, err := d.Translate(context.Background(), "Hello", "en", "zh-tw")
	if err != nil {
		t.Fatalf("Translate() error: %v", err)
	}
	if res.Text != "你好" {
		t.Errorf("Text = %q, want 你好", res.Text)
	}
	if res.Provider != NameDeepL {
		t.Errorf("Provider = %q, want deepl", res.Provider)
	}
	if res.CharCount != 5 {
		t.Errorf("CharCount = %d, want 5", res.CharCount)
	}
	if res.CostUSD != 0 {
		t.Errorf("CostUSD = %v, want 0", res.CostUSD)
	}
	if gotAuth != "DeepL-Auth-Key test-key" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotTarget != "ZH-HANT" || gotSource != "EN" {
		t.Errorf("langs = %q/%q, want EN/ZH-HANT", gotSource, gotTarget)
	}
}

func TestDeepLStatusMapping(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{456, ErrQuotaExceeded},
		{http.StatusTooManyRequests, ErrRateLimited},
		{http.StatusUnauthorized, ErrAuthFailure},
		{http.StatusForbidden, ErrAuthFailure},
		{http.StatusInternalServerError, ErrUnavailable},
		{http.StatusServiceUnavailable, ErrUnavailable},
	}
	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		}))
		d := NewDeepLWithBaseURL("k", srv.URL, time.Second)
		_, err := d.Translate(context.Background(), "x", "en", "ja")
		srv.Close()
		if !errors.Is(err, tt.want) {
			t.Errorf("status %d: error = %v, want %v", tt.status, err, tt.want)
		}
	}
}

func TestDeepLNoAPIKey(t *testing.T) {
	d := NewDeepL("", time.Second)
	_, err := d.Translate(context.Background(), "x", "en", "ja")
	if !errors.Is(err, ErrAuthFailure) {
		t.Errorf("error = %v, want ErrAuthFailure", err)
	}
	if d.Available(context.Background()) {
		t.Error("Available() = true with no key")
	}
}

func TestDeepLUsage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/usage" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"character_count":123456,"character_limit":500000}`))
	}))
	defer srv.Close()

	d := NewDeepLWithBaseURL("k", srv.URL, time.Second)
	usage, err := d.Usage(context.Background())
	if err != nil {
		t.Fatalf("Usage() error: %v", err)
	}
	if usage.CharacterCount != 123456 || usage.CharacterLimit != 500000 {
		t.Errorf("usage = %+v", usage)
	}
	if !d.Available(context.Background()) {
		t.Error("Available() = false with working usage endpoint")
	}
}
