// Package provider contains the translation backend clients. Each backend
// implements the Provider interface; OpenAI additionally implements Refiner.
package provider

import "context"

// Provider name constants. These are the values stored on cache rows and
// returned in API responses.
const (
	NameDeepL  = "deepl"
	NameOpenAI = "openai"
	NameGoogle = "google"
	NameCache  = "cache"
)

// Usage-counter keys. OpenAI usage is split so translation and refinement
// spend can be budgeted together but reported separately.
const (
	UsageDeepL        = "deepl"
	UsageGoogle       = "google"
	UsageOpenAITrans  = "openai_trans"
	UsageOpenAIRefine = "openai_refine"
	UsageCache        = "cache"
)

// Result is the outcome of one successful translation call.
type Result struct {
	Text      string
	Provider  string
	CharCount int64
	TokensIn  int64
	TokensOut int64
	CostUSD   float64
}

// Refinement is the outcome of one successful refinement call.
type Refinement struct {
	Text      string
	Model     string
	TokensIn  int64
	TokensOut int64
	CostUSD   float64
}

// Provider is a translation backend.
type Provider interface {
	// Name returns the provider name constant.
	Name() string

	// Translate translates text from sourceLang to targetLang. Failures are
	// reported through the sentinel errors in this package so the caller can
	// distinguish quota exhaustion from transient faults.
	Translate(ctx context.Context, text, sourceLang, targetLang string) (*Result, error)

	// Available reports whether the backend is configured and reachable.
	Available(ctx context.Context) bool
}

// UsageReporter is implemented by providers that can report their upstream
// quota consumption.
type UsageReporter interface {
	Usage(ctx context.Context) (*DeepLUsage, error)
}

// Refiner improves a draft translation without changing its meaning.
// model overrides the configured refinement model; empty keeps the default.
type Refiner interface {
	Refine(ctx context.Context, original, draft, sourceLang, targetLang, model string) (*Refinement, error)
}
