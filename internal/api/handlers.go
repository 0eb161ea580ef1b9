package api

import (
	"encoding/json"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/allaspectsdev/transgate/internal/pipeline"
	"github.com/allaspectsdev/transgate/internal/provider"
	"github.com/allaspectsdev/transgate/internal/store"
	"github.com/allaspectsdev/transgate/internal/version"
)

type translateRequest struct {
	Text              string `json:"text"`
	SourceLang        string `json:"source_lang"` // empty means auto-detect
	TargetLang        string `json:"target_lang"`
	Format            string `json:"format"`
	EnableRefinement  bool   `json:"enable_refinement"`
	RefinementModel   string `json:"refinement_model"`
	PreferredProvider string `json:"preferred_provider"`
}

type translateData struct {
	Text      string `json:"text"`
	Provider  string `json:"provider"`
	IsRefined bool   `json:"is_refined"`
	IsCached  bool   `json:"is_cached"`
}

type apiResponse struct {
	Success bool           `json:"success"`
	Data    *translateData `json:"data,omitempty"`
	Error   string         `json:"error,omitempty"`
}

var dateRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("encode response failed")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, apiResponse{Success: false, Error: msg})
}

// handleTranslate runs the translation pipeline. Provider failures come back
// as HTTP 200 with success=false; only malformed requests get a 4xx.
func (s *Server) handleTranslate(w http.ResponseWriter, r *http.Request) {
	var req translateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	if len(req.TargetLang) < 2 {
		writeError(w, http.StatusBadRequest, "target_lang is required")
		return
	}
	if req.SourceLang != "" && len(req.SourceLang) < 2 {
		writeError(w, http.StatusBadRequest, "source_lang must be a language code or empty for auto-detect")
		return
	}
	if req.Format != "" && req.Format != "plain" && req.Format != "html" {
		writeError(w, http.StatusBadRequest, "format must be plain or html")
		return
	}

	result := s.pipeline.Translate(r.Context(), pipeline.Request{
		Text:              req.Text,
		SourceLang:        req.SourceLang,
		TargetLang:        req.TargetLang,
		Format:            req.Format,
		EnableRefinement:  req.EnableRefinement,
		RefinementModel:   req.RefinementModel,
		PreferredProvider: req.PreferredProvider,
	})

	if !result.Success {
		writeJSON(w, http.StatusOK, apiResponse{Success: false, Error: result.Error})
		return
	}
	writeJSON(w, http.StatusOK, apiResponse{
		Success: true,
		Data: &translateData{
			Text:      result.Text,
			Provider:  result.Provider,
			IsRefined: result.IsRefined,
			IsCached:  result.IsCached,
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	code := http.StatusOK
	if err := s.store.Ping(); err != nil {
		log.Error().Err(err).Msg("health check: store unreachable")
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]string{
		"status":  status,
		"version": version.Version,
	})
}

// handleStats reports usage counters and budget state for one date
// (default: today).
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	if date == "" {
		date = store.Today()
	}
	if !dateRe.MatchString(date) {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}

	usage, err := s.store.ListDailyUsage(r.Context(), date)
	if err != nil {
		log.Error().Err(err).Msg("stats query failed")
		writeError(w, http.StatusInternalServerError, "failed to read usage")
		return
	}

	providers := make(map[string]*store.DailyUsage, len(usage))
	var totalCost float64
	var totalRequests int64
	for _, u := range usage {
		providers[u.Provider] = u
		totalCost += u.CostEstimated
		totalRequests += u.RequestCount
	}

	budgets, err := s.costs.DailySummary(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("budget summary failed")
		writeError(w, http.StatusInternalServerError, "failed to read budgets")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"date":           date,
		"providers":      providers,
		"total_cost":     totalCost,
		"total_requests": totalRequests,
		"budgets":        budgets,
	})
}

// handleDashboard aggregates a multi-day usage window plus free-tier
// consumption and the cached exchange rate.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	days := 7
	if raw := r.URL.Query().Get("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 365 {
			writeError(w, http.StatusBadRequest, "days must be between 1 and 365")
			return
		}
		days = parsed
	}

	stats, err := s.store.GetDashboardStats(r.Context(), days)
	if err != nil {
		log.Error().Err(err).Msg("dashboard query failed")
		writeError(w, http.StatusInternalServerError, "failed to read stats")
		return
	}

	pricing := s.extdata.CurrentPricing()
	rate := s.extdata.Rate()

	freeTier := map[string]interface{}{
		"deepl": freeTierUsage(stats.MonthByChars[provider.UsageDeepL], pricing.DeepLFreeLimit),
		"google": freeTierUsage(stats.MonthByChars[provider.UsageGoogle], pricing.GoogleFreeLimit),
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"stats":     stats,
		"free_tier": freeTier,
		"exchange_rate": map[string]interface{}{
			"usd_twd":        rate.USDTWD,
			"updated_at":     rate.UpdatedAt,
			"month_cost_twd": stats.MonthCost * rate.USDTWD,
		},
	})
}

func freeTierUsage(used, limit int64) map[string]interface{} {
	percent := 0.0
	if limit > 0 {
		percent = float64(used) / float64(limit) * 100
	}
	return map[string]interface{}{
		"used_chars":   used,
		"limit_chars":  limit,
		"used_percent": percent,
	}
}

func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"providers": s.pipeline.ProviderStatus(r.Context()),
	})
}

// handleTranslations lists cache rows with filtering and pagination.
func (s *Server) handleTranslations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := store.TranslationFilter{
		Search:     q.Get("search"),
		SourceLang: q.Get("source_lang"),
		TargetLang: q.Get("target_lang"),
		Page:       1,
		PageSize:   20,
	}
	if raw := q.Get("provider"); raw != "" {
		filter.Providers = strings.Split(raw, ",")
	}
	if raw := q.Get("refined"); raw != "" {
		refined, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "refined must be a boolean")
			return
		}
		filter.Refined = &refined
	}
	if raw := q.Get("page"); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil || page < 1 {
			writeError(w, http.StatusBadRequest, "page must be a positive integer")
			return
		}
		filter.Page = page
	}
	if raw := q.Get("page_size"); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil || size < 1 || size > 100 {
			writeError(w, http.StatusBadRequest, "page_size must be between 1 and 100")
			return
		}
		filter.PageSize = size
	}

	rows, total, err := s.store.ListTranslations(r.Context(), filter)
	if err != nil {
		log.Error().Err(err).Msg("translations query failed")
		writeError(w, http.StatusInternalServerError, "failed to list translations")
		return
	}

	items := make([]map[string]interface{}, 0, len(rows))
	for _, row := range rows {
		items = append(items, translationItem(row))
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"items":     items,
		"total":     total,
		"page":      filter.Page,
		"page_size": filter.PageSize,
	})
}

func translationItem(t *store.Translation) map[string]interface{} {
	item := map[string]interface{}{
		"cache_key":        t.CacheKey,
		"source_lang":      t.SourceLang,
		"target_lang":      t.TargetLang,
		"original_text":    t.OriginalText,
		"translated_text":  t.TranslatedText,
		"provider":         t.Provider,
		"is_refined":       t.IsRefined,
		"char_count":       t.CharCount,
		"created_at":       t.CreatedAt.Format(time.RFC3339),
		"last_accessed_at": t.LastAccessedAt.Format(time.RFC3339),
	}
	if t.RefinedText != "" {
		item["refined_text"] = t.RefinedText
	}
	if t.RefinementModel != "" {
		item["refinement_model"] = t.RefinementModel
	}
	return item
}

func (s *Server) handleLanguages(w http.ResponseWriter, r *http.Request) {
	sources, targets, err := s.store.Languages(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("languages query failed")
		writeError(w, http.StatusInternalServerError, "failed to list languages")
		return
	}
	if sources == nil {
		sources = []string{}
	}
	if targets == nil {
		targets = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sources": sources,
		"targets": targets,
	})
}
