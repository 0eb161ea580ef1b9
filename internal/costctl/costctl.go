// Package costctl enforces the daily spending budgets and tracks the
// process-lifetime quota flags for the external translation providers.
package costctl

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/allaspectsdev/transgate/internal/provider"
	"github.com/allaspectsdev/transgate/internal/store"
)

// Budgets holds the configured daily spending caps in USD. A zero cap
// disables the gate for that provider.
type Budgets struct {
	GoogleUSD float64
	OpenAIUSD float64
}

// Controller combines the in-memory quota flags with the date-scoped budget
// gates backed by the usage counters. Quota flags reset on process restart;
// budgets reset when the calendar day rolls over, because the counters are
// keyed by date.
type Controller struct {
	store   *store.Store
	budgets Budgets

	mu            sync.Mutex
	quotaExceeded map[string]bool
}

// New creates a Controller over the usage counters in s.
func New(s *store.Store, budgets Budgets) *Controller {
	return &Controller{
		store:         s,
		budgets:       budgets,
		quotaExceeded: make(map[string]bool),
	}
}

// SetQuotaExceeded flags a provider as out of quota for the rest of the
// process lifetime. Provider names are case-insensitive.
func (c *Controller) SetQuotaExceeded(name string) {
	key := strings.ToLower(name)
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.quotaExceeded[key] {
		log.Warn().Str("provider", key).Msg("provider flagged quota exceeded")
	}
	c.quotaExceeded[key] = true
}

// IsQuotaExceeded reports whether a provider has been flagged.
func (c *Controller) IsQuotaExceeded(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.quotaExceeded[strings.ToLower(name)]
}

// ResetQuotaExceeded clears a provider's flag. Used by operators after a
// billing-period rollover without restarting the process.
func (c *Controller) ResetQuotaExceeded(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.quotaExceeded, strings.ToLower(name))
}

// IsBudgetExceeded reports whether today's estimated spend for a provider
// has reached its daily cap. Providers without a cap never exceed. OpenAI
// spend sums the translation and refinement counters.
func (c *Controller) IsBudgetExceeded(ctx context.Context, name string) (bool, error) {
	switch strings.ToLower(name) {
	case provider.NameGoogle:
		if c.budgets.GoogleUSD <= 0 {
			return false, nil
		}
		spent, err := c.todaySpend(ctx, provider.UsageGoogle)
		if err != nil {
			return false, err
		}
		return spent >= c.budgets.GoogleUSD, nil
	case provider.NameOpenAI:
		return c.isOpenAIBudgetExceeded(ctx)
	default:
		// DeepL and the cache tier have no monetary budget.
		return false, nil
	}
}

func (c *Controller) isOpenAIBudgetExceeded(ctx context.Context) (bool, error) {
	if c.budgets.OpenAIUSD <= 0 {
		return false, nil
	}
	trans, err := c.todaySpend(ctx, provider.UsageOpenAITrans)
	if err != nil {
		return false, err
	}
	refine, err := c.todaySpend(ctx, provider.UsageOpenAIRefine)
	if err != nil {
		return false, err
	}
	return trans+refine >= c.budgets.OpenAIUSD, nil
}

func (c *Controller) todaySpend(ctx context.Context, usageKey string) (float64, error) {
	u, err := c.store.GetDailyUsage(ctx, store.Today(), usageKey)
	if err != nil {
		return 0, fmt.Errorf("costctl: read usage %s: %w", usageKey, err)
	}
	if u == nil {
		return 0, nil
	}
	return u.CostEstimated, nil
}

// RecordUsage increments today's counters for a usage key.
func (c *Controller) RecordUsage(ctx context.Context, usageKey string, d store.UsageDelta) error {
	if err := c.store.IncrementUsage(ctx, store.Today(), usageKey, d); err != nil {
		return fmt.Errorf("costctl: record usage %s: %w", usageKey, err)
	}
	return nil
}

// ProviderStatus is the gate state of one provider, for the status endpoint.
type ProviderStatus struct {
	QuotaExceeded  bool    `json:"quota_exceeded"`
	BudgetExceeded bool    `json:"budget_exceeded"`
	BudgetUSD      float64 `json:"budget_usd"`
	SpentTodayUSD  float64 `json:"spent_today_usd"`
}

// DailySummary reports today's gate state for every external provider.
func (c *Controller) DailySummary(ctx context.Context) (map[string]ProviderStatus, error) {
	summary := make(map[string]ProviderStatus, 3)

	deeplStatus := ProviderStatus{QuotaExceeded: c.IsQuotaExceeded(provider.NameDeepL)}
	summary[provider.NameDeepL] = deeplStatus

	googleSpent, err := c.todaySpend(ctx, provider.UsageGoogle)
	if err != nil {
		return nil, err
	}
	summary[provider.NameGoogle] = ProviderStatus{
		QuotaExceeded:  c.IsQuotaExceeded(provider.NameGoogle),
		BudgetExceeded: c.budgets.GoogleUSD > 0 && googleSpent >= c.budgets.GoogleUSD,
		BudgetUSD:      c.budgets.GoogleUSD,
		SpentTodayUSD:  googleSpent,
	}

	trans, err := c.todaySpend(ctx, provider.UsageOpenAITrans)
	if err != nil {
		return nil, err
	}
	refine, err := c.todaySpend(ctx, provider.UsageOpenAIRefine)
	if err != nil {
		return nil, err
	}
	openaiSpent := trans + refine
	summary[provider.NameOpenAI] = ProviderStatus{
		QuotaExceeded:  c.IsQuotaExceeded(provider.NameOpenAI),
		BudgetExceeded: c.budgets.OpenAIUSD > 0 && openaiSpent >= c.budgets.OpenAIUSD,
		BudgetUSD:      c.budgets.OpenAIUSD,
		SpentTodayUSD:  openaiSpent,
	}

	return summary, nil
}
