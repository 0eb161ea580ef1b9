// Package pipeline implements the multi-tier translation decision engine:
// memory and SQLite cache first, then the external providers in cost order,
// with optional LLM refinement on the way out.
package pipeline

import (
	"context"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"

	"github.com/allaspectsdev/transgate/internal/costctl"
	"github.com/allaspectsdev/transgate/internal/fingerprint"
	"github.com/allaspectsdev/transgate/internal/provider"
	"github.com/allaspectsdev/transgate/internal/store"
)

// Request is one translation request after HTTP decoding.
type Request struct {
	Text             string
	SourceLang       string
	TargetLang       string
	Format           string // "plain" or "html"; empty defaults to plain
	EnableRefinement bool
	RefinementModel  string // empty uses the refiner's configured model
	// PreferredProvider moves one tier to the front of the failover order.
	// "auto" or empty keeps the default deepl, openai, google order.
	PreferredProvider string
}

// Response is the outcome. Success=false carries a human-readable Error;
// the pipeline never fails with a Go error, callers always get a Response.
type Response struct {
	Success   bool
	Text      string
	Provider  string
	IsRefined bool
	IsCached  bool
	Error     string
}

// usageKeys maps provider names to their usage-counter keys.
var usageKeys = map[string]string{
	provider.NameDeepL:  provider.UsageDeepL,
	provider.NameOpenAI: provider.UsageOpenAITrans,
	provider.NameGoogle: provider.UsageGoogle,
}

// defaultTierOrder is cheapest-first: DeepL is free in quota, OpenAI is
// fractions of a cent per call, Google bills every character.
var defaultTierOrder = []string{provider.NameDeepL, provider.NameOpenAI, provider.NameGoogle}

// Pipeline wires the cache, the cost controller, and the provider tiers.
type Pipeline struct {
	store     *store.Store
	costs     *costctl.Controller
	providers map[string]provider.Provider
	refiner   provider.Refiner
	memCache  *lru.Cache[string, *store.Translation]
}

// New creates a Pipeline. providers is keyed by provider name; missing tiers
// are simply skipped during failover. refiner may be nil to disable
// refinement entirely. memCacheSize caps the in-process hot tier.
func New(s *store.Store, costs *costctl.Controller, providers map[string]provider.Provider, refiner provider.Refiner, memCacheSize int) (*Pipeline, error) {
	if memCacheSize < 1 {
		memCacheSize = 1
	}
	memCache, err := lru.New[string, *store.Translation](memCacheSize)
	if err != nil {
		return nil, err
	}
	return &Pipeline{
		store:     s,
		costs:     costs,
		providers: providers,
		refiner:   refiner,
		memCache:  memCache,
	}, nil
}

// Translate runs the full decision chain for one request. Concurrent
// identical misses each walk the provider chain; the cache upsert is
// idempotent, so the last writer wins.
func (p *Pipeline) Translate(ctx context.Context, req Request) *Response {
	sourceLang := fingerprint.NormalizeLang(req.SourceLang)
	targetLang := fingerprint.NormalizeLang(req.TargetLang)
	key := fingerprint.Key(req.Text, req.SourceLang, req.TargetLang, req.Format)

	if resp := p.lookupCache(ctx, key, req.EnableRefinement); resp != nil {
		return resp
	}

	result, err := p.runTiers(ctx, req.Text, sourceLang, targetLang, req.PreferredProvider)
	if err != nil {
		log.Error().Err(err).Str("key", key[:8]).Msg("all translation tiers failed")
		return &Response{Success: false, Error: err.Error()}
	}

	text := result.Text
	isRefined := false
	refinementModel := ""
	refinedText := ""

	// The OpenAI translation already went through an LLM; refining it again
	// buys nothing.
	if req.EnableRefinement && result.Provider != provider.NameOpenAI {
		if ref := p.tryRefine(ctx, req.Text, text, sourceLang, targetLang, req.RefinementModel); ref != nil {
			text = ref.Text
			refinedText = ref.Text
			isRefined = true
			refinementModel = ref.Model
		}
	}

	row := &store.Translation{
		CacheKey:        key,
		SourceLang:      sourceLang,
		TargetLang:      targetLang,
		OriginalText:    req.Text,
		TranslatedText:  result.Text,
		RefinedText:     refinedText,
		Provider:        result.Provider,
		IsRefined:       isRefined,
		RefinementModel: refinementModel,
	}
	if err := p.store.UpsertTranslation(ctx, row); err != nil {
		// Cache write failure must not lose a paid translation.
		log.Error().Err(err).Str("key", key[:8]).Msg("cache write failed")
	}
	p.memCache.Remove(key)

	return &Response{
		Success:   true,
		Text:      text,
		Provider:  result.Provider,
		IsRefined: isRefined,
		IsCached:  false,
	}
}

// lookupCache checks the memory tier and then SQLite. A hit falls through to
// the provider chain when the caller wants refinement and the cached row was
// never refined.
func (p *Pipeline) lookupCache(ctx context.Context, key string, wantRefined bool) *Response {
	cached, fromMemory := p.memCache.Get(key)
	if !fromMemory {
		var err error
		cached, err = p.store.GetTranslation(ctx, key)
		if err != nil {
			log.Error().Err(err).Str("key", key[:8]).Msg("cache read failed")
			return nil
		}
		if cached != nil {
			p.memCache.Add(key, cached)
		}
	}
	if cached == nil {
		return nil
	}
	if wantRefined && !cached.IsRefined {
		return nil
	}

	if err := p.store.TouchTranslation(ctx, key); err != nil {
		log.Warn().Err(err).Str("key", key[:8]).Msg("touch failed")
	}
	if err := p.costs.RecordUsage(ctx, provider.UsageCache, store.UsageDelta{
		CharCount: cached.CharCount,
	}); err != nil {
		log.Warn().Err(err).Msg("record cache usage failed")
	}

	text := cached.TranslatedText
	if cached.IsRefined && cached.RefinedText != "" {
		text = cached.RefinedText
	}
	log.Debug().Str("key", key[:8]).Bool("memory", fromMemory).Msg("cache hit")
	return &Response{
		Success:   true,
		Text:      text,
		Provider:  provider.NameCache,
		IsRefined: cached.IsRefined,
		IsCached:  true,
	}
}

// tierOrder returns the failover order, honoring a preferred provider by
// moving it to the front. Unknown preferences keep the default order.
func tierOrder(preferred string) []string {
	preferred = strings.ToLower(preferred)
	if preferred == "" || preferred == "auto" {
		return defaultTierOrder
	}
	order := make([]string, 0, len(defaultTierOrder))
	order = append(order, preferred)
	for _, name := range defaultTierOrder {
		if name != preferred {
			order = append(order, name)
		}
	}
	if len(order) > len(defaultTierOrder) {
		// Preference did not match any tier.
		return defaultTierOrder
	}
	return order
}

// runTiers walks the provider tiers, skipping those gated out by quota flags
// or budgets, and returns the first successful result.
func (p *Pipeline) runTiers(ctx context.Context, text, sourceLang, targetLang, preferred string) (*provider.Result, error) {
	for _, name := range tierOrder(preferred) {
		backend, ok := p.providers[name]
		if !ok {
			continue
		}
		if p.costs.IsQuotaExceeded(name) {
			log.Debug().Str("provider", name).Msg("skipping: quota flagged")
			continue
		}
		over, err := p.costs.IsBudgetExceeded(ctx, name)
		if err != nil {
			log.Error().Err(err).Str("provider", name).Msg("budget check failed")
			continue
		}
		if over {
			log.Warn().Str("provider", name).Msg("skipping: daily budget exceeded")
			continue
		}
		if !backend.Available(ctx) {
			log.Debug().Str("provider", name).Msg("skipping: not available")
			continue
		}

		result, err := backend.Translate(ctx, text, sourceLang, targetLang)
		if err != nil {
			if isQuotaErr(err) {
				p.costs.SetQuotaExceeded(name)
			}
			log.Warn().Err(err).Str("provider", name).Msg("translation failed, trying next tier")
			continue
		}

		p.recordTranslationUsage(ctx, name, result)
		log.Info().Str("provider", name).Int64("chars", result.CharCount).Msg("translation succeeded")
		return result, nil
	}
	return nil, errAllTiersFailed
}

func (p *Pipeline) recordTranslationUsage(ctx context.Context, name string, result *provider.Result) {
	usageKey, ok := usageKeys[name]
	if !ok {
		usageKey = name
	}
	err := p.costs.RecordUsage(ctx, usageKey, store.UsageDelta{
		CharCount:     result.CharCount,
		TokensIn:      result.TokensIn,
		TokensOut:     result.TokensOut,
		CostEstimated: result.CostUSD,
	})
	if err != nil {
		log.Warn().Err(err).Str("provider", name).Msg("record usage failed")
	}
}

// tryRefine attempts refinement, returning nil when the refiner is missing,
// over budget, or fails. Refinement failures never fail the translation.
func (p *Pipeline) tryRefine(ctx context.Context, original, draft, sourceLang, targetLang, model string) *provider.Refinement {
	if p.refiner == nil {
		return nil
	}
	over, err := p.costs.IsBudgetExceeded(ctx, provider.NameOpenAI)
	if err != nil {
		log.Error().Err(err).Msg("refinement budget check failed")
		return nil
	}
	if over {
		log.Warn().Msg("skipping refinement: openai budget exceeded")
		return nil
	}

	ref, err := p.refiner.Refine(ctx, original, draft, sourceLang, targetLang, model)
	if err != nil {
		log.Warn().Err(err).Msg("refinement failed, returning draft")
		return nil
	}

	if err := p.costs.RecordUsage(ctx, provider.UsageOpenAIRefine, store.UsageDelta{
		TokensIn:      ref.TokensIn,
		TokensOut:     ref.TokensOut,
		CostEstimated: ref.CostUSD,
	}); err != nil {
		log.Warn().Err(err).Msg("record refinement usage failed")
	}
	return ref
}

// TierStatus reports one provider's gate state for the status endpoint.
type TierStatus struct {
	Available      bool                 `json:"available"`
	QuotaExceeded  bool                 `json:"quota_exceeded"`
	BudgetExceeded bool                 `json:"budget_exceeded"`
	Usage          *provider.DeepLUsage `json:"usage,omitempty"`
}

// ProviderStatus probes every configured tier. Providers that report
// upstream quota consumption get their usage snapshot attached.
func (p *Pipeline) ProviderStatus(ctx context.Context) map[string]TierStatus {
	status := make(map[string]TierStatus, len(p.providers))
	for name, backend := range p.providers {
		over, err := p.costs.IsBudgetExceeded(ctx, name)
		if err != nil {
			log.Error().Err(err).Str("provider", name).Msg("budget check failed")
		}
		ts := TierStatus{
			Available:      backend.Available(ctx),
			QuotaExceeded:  p.costs.IsQuotaExceeded(name),
			BudgetExceeded: over,
		}
		if reporter, ok := backend.(provider.UsageReporter); ok && ts.Available {
			if usage, err := reporter.Usage(ctx); err == nil {
				ts.Usage = usage
			}
		}
		status[name] = ts
	}
	return status
}
