// Package pipeline orchestrates one translation request: fingerprint,
// cache lookup, tiered failover across the backends in cost order,
// optional LLM refinement, and the final cache write.
package pipeline

import (
	"context"
	"database/sql"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/allaspectsdev/lingoproxy/internal/backend"
	"github.com/allaspectsdev/lingoproxy/internal/cache"
	"github.com/allaspectsdev/lingoproxy/internal/costctl"
	"github.com/allaspectsdev/lingoproxy/internal/fingerprint"
	"github.com/allaspectsdev/lingoproxy/internal/store"
)

// Options tunes one translate request.
type Options struct {
	Format            string // "plain" (default) or "html"
	EnableRefinement  bool
	RefinementModel   string // empty = backend default
	PreferredProvider string // "auto" (default), "deepl", "openai", "google"
}

// Request is one translation request. An empty SourceLang means
// auto-detect, forwarded only to backends that support it.
type Request struct {
	Text       string
	SourceLang string
	TargetLang string
	Options    Options
}

// Response is the uniform pipeline outcome. The pipeline never fails with
// an error value: controlled failure is Success=false with a reason.
type Response struct {
	Success   bool   `json:"success"`
	Text      string `json:"text,omitempty"`
	Provider  string `json:"provider,omitempty"`
	IsRefined bool   `json:"is_refined"`
	IsCached  bool   `json:"is_cached"`
	Error     string `json:"error,omitempty"`
}

// allExhaustedMessage is returned when every tier was skipped or failed.
const allExhaustedMessage = "all translation providers failed or exceeded budget"

// Translator walks the tier chain for each request. Backends are injected
// so tests can substitute fakes.
type Translator struct {
	cache  *cache.TranslationCache
	cost   *costctl.Controller
	deepl  backend.Backend
	openai backend.Backend
	google backend.Backend

	// refiner is the openai backend's refinement surface; nil disables
	// refinement entirely.
	refiner backend.Refiner
}

// New creates a Translator. openai may additionally implement
// backend.Refiner; when it does, refinement is enabled.
func New(c *cache.TranslationCache, cost *costctl.Controller, deepl, openai, google backend.Backend) *Translator {
	t := &Translator{
		cache:  c,
		cost:   cost,
		deepl:  deepl,
		openai: openai,
		google: google,
	}
	if r, ok := openai.(backend.Refiner); ok {
		t.refiner = r
	}
	return t
}

// tier couples a backend with its gate predicate and usage recording.
type tier struct {
	name    string
	backend backend.Backend
	// gateClosed reports whether the tier must be skipped before any
	// network traffic. Gate errors fail open: a broken budget read must
	// not take the tier down.
	gateClosed func(ctx context.Context) bool
	record     func(ctx context.Context, r *backend.Result) error
}

func (t *Translator) tiers() []tier {
	return []tier{
		{
			name:    backend.ProviderDeepL,
			backend: t.deepl,
			gateClosed: func(ctx context.Context) bool {
				return t.cost.IsQuotaExceeded(backend.ProviderDeepL)
			},
			record: func(ctx context.Context, r *backend.Result) error {
				return t.cost.RecordUsage(ctx, backend.ProviderDeepL, r.CharCount, 0, 0, 0)
			},
		},
		{
			name:    backend.ProviderOpenAI,
			backend: t.openai,
			gateClosed: func(ctx context.Context) bool {
				exceeded, err := t.cost.IsOpenAIBudgetExceeded(ctx)
				if err != nil {
					log.Warn().Err(err).Msg("openai budget check failed, allowing tier")
					return false
				}
				return exceeded
			},
			record: func(ctx context.Context, r *backend.Result) error {
				return t.cost.RecordUsage(ctx, backend.ProviderOpenAITrans, 0, r.TokenInput, r.TokenOutput, r.CostEstimated)
			},
		},
		{
			name:    backend.ProviderGoogle,
			backend: t.google,
			gateClosed: func(ctx context.Context) bool {
				exceeded, err := t.cost.IsBudgetExceeded(ctx, backend.ProviderGoogle)
				if err != nil {
					log.Warn().Err(err).Msg("google budget check failed, allowing tier")
					return false
				}
				return exceeded
			},
			record: func(ctx context.Context, r *backend.Result) error {
				return t.cost.RecordUsage(ctx, backend.ProviderGoogle, r.CharCount, 0, 0, r.CostEstimated)
			},
		},
	}
}

// orderedTiers returns the tier chain, moving the preferred provider to
// the front. The remaining tiers keep their canonical cost order.
func (t *Translator) orderedTiers(preferred string) []tier {
	all := t.tiers()
	if preferred == "" || preferred == "auto" {
		return all
	}
	ordered := make([]tier, 0, len(all))
	for _, candidate := range all {
		if candidate.name == preferred {
			ordered = append(ordered, candidate)
		}
	}
	if len(ordered) == 0 {
		return all // unknown name: fall back to canonical order
	}
	for _, candidate := range all {
		if candidate.name != preferred {
			ordered = append(ordered, candidate)
		}
	}
	return ordered
}

// Translate runs the full state machine for one request.
func (t *Translator) Translate(ctx context.Context, req Request) Response {
	format := req.Options.Format
	if format == "" {
		format = fingerprint.DefaultFormat
	}
	key := fingerprint.Key(req.Text, req.SourceLang, req.TargetLang, format)

	// Cache lookup. A hit short-circuits unless the caller wants a
	// refined result and the cached row is an unrefined draft.
	cached, err := t.cache.Get(ctx, key)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("cache lookup failed, treating as miss")
	}
	if cached != nil && (!req.Options.EnableRefinement || cached.IsRefined) {
		if err := t.cache.Touch(ctx, key); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("cache touch failed")
		}
		if err := t.cost.RecordUsage(ctx, backend.ProviderCache, int(cached.CharCount), 0, 0, 0); err != nil {
			log.Warn().Err(err).Msg("cache usage recording failed")
		}
		log.Info().Str("key", key[:8]).Msg("cache hit")
		return Response{
			Success:   true,
			Text:      cached.TranslatedText,
			Provider:  backend.ProviderCache,
			IsRefined: cached.IsRefined,
			IsCached:  true,
		}
	}

	// Tier walk.
	result, providerUsed := t.walkTiers(ctx, req)
	if result == nil {
		return Response{Success: false, Error: allExhaustedMessage}
	}

	finalText := result.Text
	isRefined := false
	refinementModel := ""

	// Refinement never runs on the LLM tier's own output.
	if req.Options.EnableRefinement && providerUsed != backend.ProviderOpenAI {
		if refined := t.tryRefine(ctx, req, finalText); refined != nil {
			finalText = refined.Text
			isRefined = true
			refinementModel = refined.Model
		}
	}

	// Cache write. The row stores the provider of the translation step,
	// never the refinement provider. A write failure is logged but does
	// not fail the request: the translation is already in hand.
	row := &store.Translation{
		CacheKey:       key,
		SourceLang:     req.SourceLang,
		TargetLang:     req.TargetLang,
		OriginalText:   req.Text,
		TranslatedText: finalText,
		Provider:       providerUsed,
		IsRefined:      isRefined,
	}
	if isRefined {
		row.RefinedText = sql.NullString{String: finalText, Valid: true}
		row.RefinementModel = sql.NullString{String: refinementModel, Valid: true}
	}
	if err := t.cache.Put(ctx, row); err != nil {
		log.Error().Err(err).Str("key", key).Msg("cache write failed")
	}

	return Response{
		Success:   true,
		Text:      finalText,
		Provider:  providerUsed,
		IsRefined: isRefined,
	}
}

// walkTiers tries each tier in order and returns the first success along
// with the provider name, or (nil, "") when every tier was skipped or
// failed.
func (t *Translator) walkTiers(ctx context.Context, req Request) (*backend.Result, string) {
	for _, tr := range t.orderedTiers(req.Options.PreferredProvider) {
		if tr.gateClosed(ctx) {
			log.Warn().Str("provider", tr.name).Msg("tier gate closed, skipping")
			continue
		}
		if !tr.backend.Available(ctx) {
			log.Warn().Str("provider", tr.name).Msg("tier unavailable, skipping")
			continue
		}

		result, err := tr.backend.Translate(ctx, req.Text, req.SourceLang, req.TargetLang)
		if err != nil {
			if errors.Is(err, backend.ErrQuotaExceeded) {
				t.cost.SetQuotaExceeded(tr.name)
				log.Warn().Str("provider", tr.name).Msg("quota exceeded, flag set")
			} else {
				log.Warn().Err(err).Str("provider", tr.name).Msg("tier failed, skipping")
			}
			continue
		}

		if err := tr.record(ctx, result); err != nil {
			log.Warn().Err(err).Str("provider", tr.name).Msg("usage recording failed")
		}
		log.Info().Str("provider", tr.name).Int("chars", result.CharCount).Msg("translation succeeded")
		return result, tr.name
	}
	return nil, ""
}

// tryRefine runs the refinement pass. A nil return means the draft stands:
// refinement failures and budget exhaustion are both non-fatal.
func (t *Translator) tryRefine(ctx context.Context, req Request, draft string) *backend.Refinement {
	if t.refiner == nil {
		return nil
	}
	exceeded, err := t.cost.IsOpenAIBudgetExceeded(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("refinement budget check failed, skipping refinement")
		return nil
	}
	if exceeded {
		log.Warn().Msg("openai budget exceeded, skipping refinement")
		return nil
	}

	refined, err := t.refiner.Refine(ctx, req.Text, draft, req.SourceLang, req.TargetLang, req.Options.RefinementModel)
	if err != nil {
		log.Warn().Err(err).Msg("refinement failed, keeping draft")
		return nil
	}

	if err := t.cost.RecordUsage(ctx, backend.ProviderOpenAIRefine, 0, refined.TokenInput, refined.TokenOutput, refined.CostEstimated); err != nil {
		log.Warn().Err(err).Msg("refinement usage recording failed")
	}
	return refined
}

// ProviderStatus describes one tier's health and gate state for the
// providers endpoint.
type ProviderStatus struct {
	Name           string `json:"name"`
	Available      bool   `json:"available"`
	QuotaExceeded  bool   `json:"quota_exceeded"`
	BudgetExceeded bool   `json:"budget_exceeded"`
}

// ProviderStatuses probes every tier and reports availability alongside
// both gate signals.
func (t *Translator) ProviderStatuses(ctx context.Context) []ProviderStatus {
	var statuses []ProviderStatus
	for _, tr := range t.tiers() {
		s := ProviderStatus{
			Name:          tr.name,
			Available:     tr.backend.Available(ctx),
			QuotaExceeded: t.cost.IsQuotaExceeded(tr.name),
		}
		switch tr.name {
		case backend.ProviderOpenAI:
			s.BudgetExceeded, _ = t.cost.IsOpenAIBudgetExceeded(ctx)
		case backend.ProviderGoogle:
			s.BudgetExceeded, _ = t.cost.IsBudgetExceeded(ctx, tr.name)
		}
		statuses = append(statuses, s)
	}
	return statuses
}
