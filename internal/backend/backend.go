// Package backend defines the uniform contract over the external
// translation services and its three implementations (DeepL, OpenAI,
// Google Cloud Translation).
package backend

import "context"

// Provider names as recorded in usage counters and cache rows.
const (
	ProviderDeepL        = "deepl"
	ProviderOpenAI       = "openai"
	ProviderGoogle       = "google"
	ProviderOpenAITrans  = "openai_trans"
	ProviderOpenAIRefine = "openai_refine"
	ProviderCache        = "cache"
)

// Result is the normalized outcome of one translate call. CharCount is the
// character count of the original text; token counts are zero for backends
// billed by characters, and cost is zero only for DeepL.
type Result struct {
	Text          string
	Provider      string
	CharCount     int
	TokenInput    int
	TokenOutput   int
	CostEstimated float64
}

// Refinement is the outcome of one refine call.
type Refinement struct {
	Text          string
	Model         string
	TokenInput    int
	TokenOutput   int
	CostEstimated float64
}

// Backend is the uniform contract every translation tier implements.
// Translate may be called with an empty sourceLang, meaning auto-detect
// where the service supports it. Available is a cheap configuration /
// reachability probe; it must never panic and should be inexpensive
// enough to run per request.
type Backend interface {
	Name() string
	Translate(ctx context.Context, text, sourceLang, targetLang string) (*Result, error)
	Available(ctx context.Context) bool
}

// Refiner is implemented by backends that can improve a draft translation.
// model may be empty to use the backend's configured default.
type Refiner interface {
	Refine(ctx context.Context, original, draft, sourceLang, targetLang, model string) (*Refinement, error)
}
