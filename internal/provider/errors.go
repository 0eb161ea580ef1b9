package provider

import "errors"

// Sentinel errors returned by backend clients. The pipeline matches on these
// with errors.Is to decide between flagging quota, skipping a tier, and
// plain failover.
var (
	// ErrQuotaExceeded means the provider's quota is used up for the
	// current billing period. The provider is skipped until restart.
	ErrQuotaExceeded = errors.New("provider: quota exceeded")

	// ErrRateLimited means the provider rejected the call transiently.
	ErrRateLimited = errors.New("provider: rate limited")

	// ErrContextWindow means the text is too long for the model.
	ErrContextWindow = errors.New("provider: context window exceeded")

	// ErrAuthFailure means the API key or credentials were rejected.
	ErrAuthFailure = errors.New("provider: authentication failed")

	// ErrUnavailable covers server-side faults and unreachable backends.
	ErrUnavailable = errors.New("provider: unavailable")
)
