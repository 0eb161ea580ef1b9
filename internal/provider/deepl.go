package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
)

const defaultDeepLBaseURL = "https://api-free.deepl.com"

// deeplLangMap maps lowercase ISO 639-1 codes to DeepL's language codes.
// Codes not in the map are sent uppercased as-is.
var deeplLangMap = map[string]string{
	"en":    "EN",
	"zh":    "ZH",
	"zh-tw": "ZH-HANT",
	"zh-cn": "ZH-HANS",
	"ja":    "JA",
	"ko":    "KO",
	"de":    "DE",
	"fr":    "FR",
	"es":    "ES",
	"it":    "IT",
	"pt":    "PT-PT",
	"pt-br": "PT-BR",
	"ru":    "RU",
	"nl":    "NL",
	"pl":    "PL",
}

// DeepL is the primary external translation tier. Translations are free
// within the monthly character quota; the API signals exhaustion with
// HTTP 456.
type DeepL struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewDeepL creates a DeepL client against the free-tier endpoint.
func NewDeepL(apiKey string, timeout time.Duration) *DeepL {
	return &DeepL{
		apiKey:  apiKey,
		baseURL: defaultDeepLBaseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// NewDeepLWithBaseURL is used by tests to point at a stub server.
func NewDeepLWithBaseURL(apiKey, baseURL string, timeout time.Duration) *DeepL {
	d := NewDeepL(apiKey, timeout)
	d.baseURL = strings.TrimRight(baseURL, "/")
	return d
}

func (d *DeepL) Name() string { return NameDeepL }

func deeplLang(lang string, target bool) string {
	mapped, ok := deeplLangMap[strings.ToLower(lang)]
	if !ok {
		return strings.ToUpper(lang)
	}
	// Bare EN is not a valid target; DeepL wants a regional variant.
	if target && mapped == "EN" {
		return "EN-US"
	}
	return mapped
}

type deeplTranslateResponse struct {
	Translations []struct {
		DetectedSourceLanguage string `json:"detected_source_language"`
		Text                   string `json:"text"`
	} `json:"translations"`
}

// Translate calls the /v2/translate endpoint. DeepL usage counts characters,
// not tokens, and costs nothing within the free quota.
func (d *DeepL) Translate(ctx context.Context, text, sourceLang, targetLang string) (*Result, error) {
	if d.apiKey == "" {
		return nil, fmt.Errorf("deepl: no API key: %w", ErrAuthFailure)
	}

	form := url.Values{}
	form.Set("text", text)
	form.Set("target_lang", deeplLang(targetLang, true))
	form.Set("preserve_formatting", "1")
	if sourceLang != "" {
		form.Set("source_lang", deeplLang(sourceLang, false))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		d.baseURL+"/v2/translate", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("deepl: build request: %w", err)
	}
	req.Header.Set("Authorization", "DeepL-Auth-Key "+d.apiKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("deepl: request failed: %v: %w", err, ErrUnavailable)
	}
	defer resp.Body.Close()

	if err := deeplStatusError(resp.StatusCode); err != nil {
		return nil, err
	}

	var body deeplTranslateResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("deepl: decode response: %w", err)
	}
	if len(body.Translations) == 0 {
		return nil, fmt.Errorf("deepl: empty translations array")
	}

	return &Result{
		Text:      body.Translations[0].Text,
		Provider:  NameDeepL,
		CharCount: int64(utf8.RuneCountInString(text)),
		CostUSD:   0,
	}, nil
}

// deeplStatusError maps DeepL HTTP status codes to sentinel errors.
// 456 is DeepL's nonstandard "quota exceeded" status.
func deeplStatusError(status int) error {
	switch {
	case status == http.StatusOK:
		return nil
	case status == 456:
		return fmt.Errorf("deepl: status 456: %w", ErrQuotaExceeded)
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("deepl: status 429: %w", ErrRateLimited)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("deepl: status %d: %w", status, ErrAuthFailure)
	case status >= 500:
		return fmt.Errorf("deepl: status %d: %w", status, ErrUnavailable)
	default:
		return fmt.Errorf("deepl: unexpected status %d", status)
	}
}

// DeepLUsage is the quota snapshot from the /v2/usage endpoint.
type DeepLUsage struct {
	CharacterCount int64 `json:"character_count"`
	CharacterLimit int64 `json:"character_limit"`
}

// Usage fetches the current monthly character usage.
func (d *DeepL) Usage(ctx context.Context) (*DeepLUsage, error) {
	if d.apiKey == "" {
		return nil, fmt.Errorf("deepl: no API key: %w", ErrAuthFailure)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+"/v2/usage", nil)
	if err != nil {
		return nil, fmt.Errorf("deepl: build usage request: %w", err)
	}
	req.Header.Set("Authorization", "DeepL-Auth-Key "+d.apiKey)

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("deepl: usage request failed: %v: %w", err, ErrUnavailable)
	}
	defer resp.Body.Close()

	if err := deeplStatusError(resp.StatusCode); err != nil {
		return nil, err
	}

	var usage DeepLUsage
	if err := json.NewDecoder(resp.Body).Decode(&usage); err != nil {
		return nil, fmt.Errorf("deepl: decode usage: %w", err)
	}
	return &usage, nil
}

// Available reports whether the key is set and the usage probe succeeds.
func (d *DeepL) Available(ctx context.Context) bool {
	if d.apiKey == "" {
		return false
	}
	if _, err := d.Usage(ctx); err != nil {
		log.Debug().Err(err).Msg("deepl availability probe failed")
		return false
	}
	return true
}
