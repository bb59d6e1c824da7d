package backend

import "errors"

// Sentinel errors forming the failure taxonomy shared by all backends.
// Implementations wrap these with fmt.Errorf("...: %w", ...) so callers
// can match with errors.Is while keeping the provider-specific detail.
var (
	// ErrQuotaExceeded signals the provider reported its allowance is
	// exhausted (e.g. DeepL's HTTP 456). Distinct from transport errors:
	// the pipeline latches it for the rest of the process lifetime.
	ErrQuotaExceeded = errors.New("quota exceeded")

	// ErrRateLimited signals an HTTP 429 or equivalent. The tier is
	// skipped for this request; no retry.
	ErrRateLimited = errors.New("rate limited")

	// ErrContextWindow signals the LLM reported the input is too large.
	ErrContextWindow = errors.New("context window exceeded")

	// ErrAuth signals missing or rejected credentials.
	ErrAuth = errors.New("authentication failed")

	// ErrUnavailable covers transport failures, timeouts, and 5xx
	// responses.
	ErrUnavailable = errors.New("provider unavailable")
)
