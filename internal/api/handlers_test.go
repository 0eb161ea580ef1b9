package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/allaspectsdev/transgate/internal/costctl"
	"github.com/allaspectsdev/transgate/internal/extdata"
	"github.com/allaspectsdev/transgate/internal/pipeline"
	"github.com/allaspectsdev/transgate/internal/provider"
	"github.com/allaspectsdev/transgate/internal/store"
)

type stubProvider struct {
	name string
	text string
	err  error
}

func (p *stubProvider) Name() string { return p.name }

func (p *stubProvider) Available(ctx context.Context) bool { return true }

func (p *stubProvider) Translate(ctx context.Context, text, sourceLang, targetLang string) (*provider.Result, error) {
	if p.err != nil {
		return nil, p.err
	}
	return &provider.Result{Text: p.text, Provider: p.name, CharCount: int64(len(text))}, nil
}

type testServer struct {
	server *Server
	store  *store.Store
	deepl  *stubProvider
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "transgate.db"))
	if err != nil {
		t.Fatalf("store.Open() error: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	costs := costctl.New(s, costctl.Budgets{GoogleUSD: 10, OpenAIUSD: 5})
	deepl := &stubProvider{name: provider.NameDeepL, text: "translated"}
	p, err := pipeline.New(s, costs, map[string]provider.Provider{
		provider.NameDeepL: deepl,
	}, nil, 100)
	if err != nil {
		t.Fatalf("pipeline.New() error: %v", err)
	}

	return &testServer{
		server: New("127.0.0.1:0", p, s, costs, extdata.New(s)),
		store:  s,
		deepl:  deepl,
	}
}

func (ts *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	ts.server.httpServer.Handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v (%s)", err, rec.Body.String())
	}
	return body
}

func TestTranslateEndpoint(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/v1/translate",
		`{"text":"Hello","source_lang":"en","target_lang":"zh-tw"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	body := decodeBody(t, rec)
	if body["success"] != true {
		t.Fatalf("success = %v", body["success"])
	}
	data := body["data"].(map[string]interface{})
	if data["text"] != "translated" || data["provider"] != "deepl" {
		t.Errorf("data = %+v", data)
	}
	if data["is_cached"] != false {
		t.Errorf("is_cached = %v", data["is_cached"])
	}

	// Second identical request is served from cache.
	rec = ts.do(t, http.MethodPost, "/api/v1/translate",
		`{"text":"Hello","source_lang":"en","target_lang":"zh-tw"}`)
	data = decodeBody(t, rec)["data"].(map[string]interface{})
	if data["is_cached"] != true || data["provider"] != "cache" {
		t.Errorf("second call data = %+v, want cache hit", data)
	}
}

func TestTranslateValidation(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"bad json", `{not json`},
		{"empty text", `{"text":"  ","source_lang":"en","target_lang":"ja"}`},
		{"short source lang", `{"text":"hi","source_lang":"e","target_lang":"ja"}`},
		{"missing target lang", `{"text":"hi","source_lang":"en"}`},
		{"bad format", `{"text":"hi","source_lang":"en","target_lang":"ja","format":"xml"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, "/api/v1/translate", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
			if decodeBody(t, rec)["success"] != false {
				t.Error("success = true on validation error")
			}
		})
	}
}

func TestTranslateAutoDetectSource(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/v1/translate",
		`{"text":"Hello","target_lang":"ja"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["success"] != true {
		t.Errorf("success = %v, want auto-detect accepted", body["success"])
	}
}

func TestTranslateProviderFailureIs200(t *testing.T) {
	ts := newTestServer(t)
	ts.deepl.err = provider.ErrUnavailable

	rec := ts.do(t, http.MethodPost, "/api/v1/translate",
		`{"text":"Hello","source_lang":"en","target_lang":"ja"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 envelope", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["success"] != false || body["error"] == "" {
		t.Errorf("body = %+v", body)
	}
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/v1/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["status"] != "healthy" {
		t.Errorf("status = %v", body["status"])
	}
	if _, ok := body["version"]; !ok {
		t.Error("version missing")
	}
}

func TestStatsEndpoint(t *testing.T) {
	ts := newTestServer(t)

	// Generate some usage.
	ts.do(t, http.MethodPost, "/api/v1/translate",
		`{"text":"Hello","source_lang":"en","target_lang":"ja"}`)

	rec := ts.do(t, http.MethodGet, "/api/v1/stats", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["date"] != store.Today() {
		t.Errorf("date = %v", body["date"])
	}
	providers := body["providers"].(map[string]interface{})
	if _, ok := providers["deepl"]; !ok {
		t.Errorf("providers = %+v, want deepl entry", providers)
	}
	if body["total_requests"].(float64) < 1 {
		t.Errorf("total_requests = %v", body["total_requests"])
	}
	if _, ok := body["budgets"]; !ok {
		t.Error("budgets missing")
	}

	rec = ts.do(t, http.MethodGet, "/api/v1/stats?date=not-a-date", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad date status = %d, want 400", rec.Code)
	}
}

func TestDashboardEndpoint(t *testing.T) {
	ts := newTestServer(t)

	ts.do(t, http.MethodPost, "/api/v1/translate",
		`{"text":"Hello","source_lang":"en","target_lang":"ja"}`)

	rec := ts.do(t, http.MethodGet, "/api/v1/stats/dashboard?days=30", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)

	stats := body["stats"].(map[string]interface{})
	if stats["days"].(float64) != 30 {
		t.Errorf("days = %v", stats["days"])
	}
	freeTier := body["free_tier"].(map[string]interface{})
	deepl := freeTier["deepl"].(map[string]interface{})
	if deepl["limit_chars"].(float64) != 500000 {
		t.Errorf("deepl limit = %v", deepl["limit_chars"])
	}
	if deepl["used_chars"].(float64) != 5 {
		t.Errorf("deepl used = %v", deepl["used_chars"])
	}
	if _, ok := body["exchange_rate"]; !ok {
		t.Error("exchange_rate missing")
	}

	rec = ts.do(t, http.MethodGet, "/api/v1/stats/dashboard?days=0", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("days=0 status = %d, want 400", rec.Code)
	}
}

func TestProvidersEndpoint(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/v1/providers", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	providers := decodeBody(t, rec)["providers"].(map[string]interface{})
	deepl := providers["deepl"].(map[string]interface{})
	if deepl["available"] != true {
		t.Errorf("deepl = %+v", deepl)
	}
}

func TestTranslationsEndpoint(t *testing.T) {
	ts := newTestServer(t)

	ts.do(t, http.MethodPost, "/api/v1/translate",
		`{"text":"Hello","source_lang":"en","target_lang":"ja"}`)
	ts.do(t, http.MethodPost, "/api/v1/translate",
		`{"text":"World","source_lang":"en","target_lang":"fr"}`)

	rec := ts.do(t, http.MethodGet, "/api/v1/translations?page_size=1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["total"].(float64) != 2 {
		t.Errorf("total = %v", body["total"])
	}
	items := body["items"].([]interface{})
	if len(items) != 1 {
		t.Errorf("len(items) = %d, want 1", len(items))
	}

	rec = ts.do(t, http.MethodGet, "/api/v1/translations?target_lang=fr", "")
	body = decodeBody(t, rec)
	if body["total"].(float64) != 1 {
		t.Errorf("filtered total = %v", body["total"])
	}

	rec = ts.do(t, http.MethodGet, "/api/v1/translations?page_size=500", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("oversize page status = %d, want 400", rec.Code)
	}
}

func TestLanguagesEndpoint(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/v1/languages", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if _, ok := body["sources"].([]interface{}); !ok {
		t.Errorf("sources = %v, want array even when empty", body["sources"])
	}

	ts.do(t, http.MethodPost, "/api/v1/translate",
		`{"text":"Hello","source_lang":"en","target_lang":"ja"}`)
	rec = ts.do(t, http.MethodGet, "/api/v1/languages", "")
	body = decodeBody(t, rec)
	sources := body["sources"].([]interface{})
	if len(sources) != 1 || sources[0] != "en" {
		t.Errorf("sources = %v", sources)
	}
}
