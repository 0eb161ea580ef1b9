package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

var testPricing = OpenAIPricing{InputUSD: 0.15, OutputUSD: 0.60}

func newTestOpenAI(t *testing.T, handler http.HandlerFunc) *OpenAI {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewOpenAIWithBaseURL("test-key", "gpt-4o-mini", "gpt-4o-mini", testPricing, srv.URL, time.Second)
}

func chatStub(t *testing.T, content string, promptTokens, completionTokens int64) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}
		resp := map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"content": content}},
			},
			"usage": map[string]int64{
				"prompt_tokens":     promptTokens,
				"completion_tokens": completionTokens,
			},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}
}

func TestOpenAITranslate(t *testing.T) {
	var gotReq chatRequest
	o := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		chatStub(t, `{"translation":"你好，世界"}`, 50, 12)(w, r)
	})

	res, err := o.Translate(context.Background(), "Hello, world", "en", "zh-tw")
	if err != nil {
		t.Fatalf("Translate() error: %v", err)
	}
	if res.Text != "你好，世界" {
		t.Errorf("Text = %q", res.Text)
	}
	if res.Provider != NameOpenAI {
		t.Errorf("Provider = %q", res.Provider)
	}
	if res.TokensIn != 50 || res.TokensOut != 12 {
		t.Errorf("tokens = %d/%d, want 50/12", res.TokensIn, res.TokensOut)
	}
	wantCost := 50.0/1_000_000*0.15 + 12.0/1_000_000*0.60
	if res.CostUSD != wantCost {
		t.Errorf("CostUSD = %v, want %v", res.CostUSD, wantCost)
	}

	if gotReq.Model != "gpt-4o-mini" {
		t.Errorf("model = %q", gotReq.Model)
	}
	if gotReq.Temperature != 0.1 {
		t.Errorf("temperature = %v, want 0.1", gotReq.Temperature)
	}
	if gotReq.ResponseFormat.Type != "json_object" {
		t.Errorf("response_format = %q", gotReq.ResponseFormat.Type)
	}
	if gotReq.MaxTokens < 1000 {
		t.Errorf("max_tokens = %d, want >= 1000", gotReq.MaxTokens)
	}
	if len(gotReq.Messages) != 2 || gotReq.Messages[0].Role != "system" {
		t.Errorf("messages = %+v", gotReq.Messages)
	}
}

func TestOpenAITranslateRawFallback(t *testing.T) {
	// Model ignored the JSON instruction; the raw text is used directly.
	o := newTestOpenAI(t, chatStub(t, "  Bonjour le monde  ", 40, 8))

	res, err := o.Translate(context.Background(), "Hello world", "en", "fr")
	if err != nil {
		t.Fatalf("Translate() error: %v", err)
	}
	if res.Text != "Bonjour le monde" {
		t.Errorf("Text = %q, want trimmed raw content", res.Text)
	}
}

func TestOpenAIRefine(t *testing.T) {
	var gotReq chatRequest
	o := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		chatStub(t, `{"refined":"你好，世界！"}`, 80, 15)(w, r)
	})

	ref, err := o.Refine(context.Background(), "Hello, world", "你好，世界", "en", "zh-tw", "")
	if err != nil {
		t.Fatalf("Refine() error: %v", err)
	}
	if ref.Text != "你好，世界！" {
		t.Errorf("Text = %q", ref.Text)
	}
	if ref.Model != "gpt-4o-mini" {
		t.Errorf("Model = %q", ref.Model)
	}
	if gotReq.Temperature != 0.3 {
		t.Errorf("temperature = %v, want 0.3", gotReq.Temperature)
	}

	var user map[string]string
	if err := json.Unmarshal([]byte(gotReq.Messages[1].Content), &user); err != nil {
		t.Fatalf("user content not JSON: %v", err)
	}
	if user["original"] != "Hello, world" || user["draft_translation"] != "你好，世界" {
		t.Errorf("user content = %+v", user)
	}
}

func TestOpenAIErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"insufficient quota", 429, `{"error":{"message":"You exceeded your current quota","code":"insufficient_quota"}}`, ErrQuotaExceeded},
		{"rate limited", 429, `{"error":{"message":"slow down","code":"rate_limit_exceeded"}}`, ErrRateLimited},
		{"bad key", 401, `{"error":{"message":"invalid api key"}}`, ErrAuthFailure},
		{"context window", 400, `{"error":{"message":"maximum context length exceeded","code":"context_length_exceeded"}}`, ErrContextWindow},
		{"server fault", 500, `{}`, ErrUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})
			_, err := o.Translate(context.Background(), "x", "en", "ja")
			if !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestOpenAINoAPIKey(t *testing.T) {
	o := NewOpenAI("", "gpt-4o-mini", "gpt-4o-mini", testPricing, time.Second)
	_, err := o.Translate(context.Background(), "x", "en", "ja")
	if !errors.Is(err, ErrAuthFailure) {
		t.Errorf("error = %v, want ErrAuthFailure", err)
	}
	if o.Available(context.Background()) {
		t.Error("Available() = true with no key")
	}
}

func TestExtractJSONField(t *testing.T) {
	tests := []struct {
		content string
		field   string
		want    string
	}{
		{`{"translation":"hola"}`, "translation", "hola"},
		{`{"refined":"hola!"}`, "refined", "hola!"},
		{`not json at all`, "translation", "not json at all"},
		{`  padded raw  `, "translation", "padded raw"},
		{`{"other":"x"}`, "translation", `{"other":"x"}`},
	}
	for _, tt := range tests {
		if got := extractJSONField(tt.content, tt.field); got != tt.want {
			t.Errorf("extractJSONField(%q, %q) = %q, want %q", tt.content, tt.field, got, tt.want)
		}
	}
}
