// Package costctl gates translation tiers on two independent signals:
// an external quota flag latched from provider responses (process
// lifetime, in memory) and an internal budget computed from the daily
// usage counters against operator-configured dollar limits.
package costctl

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/allaspectsdev/lingoproxy/internal/backend"
	"github.com/allaspectsdev/lingoproxy/internal/store"
)

// Budgets holds the daily USD limits per budget group. The OpenAI budget
// covers translation and refinement combined.
type Budgets struct {
	Google float64
	OpenAI float64
}

// Controller tracks quota flags and answers budget predicates. The quota
// set is in-memory only: it resets on restart and is never persisted.
type Controller struct {
	store   *store.Store
	budgets Budgets

	// Google's price per million characters; updated from external
	// pricing data.
	googlePricePerMillion float64

	mu            sync.Mutex
	quotaExceeded map[string]struct{}
}

// New creates a Controller over the given store.
func New(st *store.Store, budgets Budgets) *Controller {
	return &Controller{
		store:                 st,
		budgets:               budgets,
		googlePricePerMillion: backend.DefaultGooglePricePerMillionChars,
		quotaExceeded:         make(map[string]struct{}),
	}
}

// SetGooglePricePerMillion updates the list price used by the Google
// budget predicate.
func (c *Controller) SetGooglePricePerMillion(price float64) {
	if price <= 0 {
		return
	}
	c.mu.Lock()
	c.googlePricePerMillion = price
	c.mu.Unlock()
}

// SetBudgets replaces the configured limits (config hot-reload).
func (c *Controller) SetBudgets(b Budgets) {
	c.mu.Lock()
	c.budgets = b
	c.mu.Unlock()
}

// SetQuotaExceeded marks a provider as having exhausted its external
// quota for the rest of the process lifetime.
func (c *Controller) SetQuotaExceeded(provider string) {
	c.mu.Lock()
	c.quotaExceeded[strings.ToLower(provider)] = struct{}{}
	c.mu.Unlock()
}

// IsQuotaExceeded reports whether the quota flag is set for a provider.
// Case-insensitive.
func (c *Controller) IsQuotaExceeded(provider string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.quotaExceeded[strings.ToLower(provider)]
	return ok
}

// ResetQuotaExceeded clears the quota flag for a provider.
func (c *Controller) ResetQuotaExceeded(provider string) {
	c.mu.Lock()
	delete(c.quotaExceeded, strings.ToLower(provider))
	c.mu.Unlock()
}

func (c *Controller) limits() (budgets Budgets, googlePrice float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.budgets, c.googlePricePerMillion
}

// IsBudgetExceeded reports whether today's spend for the provider has
// reached its daily limit. Google is gated on an estimate derived from
// its character counter; the OpenAI sub-providers are gated on their
// accumulated cost estimate. DeepL has no budget gate: its limit is the
// external quota.
func (c *Controller) IsBudgetExceeded(ctx context.Context, provider string) (bool, error) {
	provider = strings.ToLower(provider)
	usage, err := c.store.GetDailyUsage(ctx, store.Today(), provider)
	if err != nil {
		return false, fmt.Errorf("costctl: budget check %s: %w", provider, err)
	}
	if usage == nil {
		return false, nil
	}

	budgets, googlePrice := c.limits()
	switch {
	case provider == backend.ProviderGoogle:
		estimated := float64(usage.CharCount) / 1_000_000 * googlePrice
		return estimated >= budgets.Google, nil
	case strings.HasPrefix(provider, "openai"):
		return usage.CostEstimated >= budgets.OpenAI, nil
	}
	return false, nil
}

// OpenAICostToday sums the translation and refinement cost estimates for
// the given date (today when empty).
func (c *Controller) OpenAICostToday(ctx context.Context, date string) (float64, error) {
	if date == "" {
		date = store.Today()
	}
	var total float64
	for _, provider := range []string{backend.ProviderOpenAITrans, backend.ProviderOpenAIRefine} {
		usage, err := c.store.GetDailyUsage(ctx, date, provider)
		if err != nil {
			return 0, fmt.Errorf("costctl: openai cost: %w", err)
		}
		if usage != nil {
			total += usage.CostEstimated
		}
	}
	return total, nil
}

// IsOpenAIBudgetExceeded reports whether the combined OpenAI spend
// (translation + refinement) has reached the shared daily limit.
func (c *Controller) IsOpenAIBudgetExceeded(ctx context.Context) (bool, error) {
	total, err := c.OpenAICostToday(ctx, "")
	if err != nil {
		return false, err
	}
	budgets, _ := c.limits()
	return total >= budgets.OpenAI, nil
}

// RecordUsage writes one request's counters through to the usage repo
// under today's date.
func (c *Controller) RecordUsage(ctx context.Context, provider string, chars, tokensIn, tokensOut int, cost float64) error {
	return c.store.IncrementUsage(ctx, store.Today(), strings.ToLower(provider), store.UsageDelta{
		CharCount:     int64(chars),
		TokenInput:    int64(tokensIn),
		TokenOutput:   int64(tokensOut),
		CostEstimated: cost,
	})
}

// ProviderSummary is one provider's counters inside a DailySummary.
type ProviderSummary struct {
	RequestCount  int64   `json:"request_count"`
	CharCount     int64   `json:"char_count"`
	TokenInput    int64   `json:"token_input"`
	TokenOutput   int64   `json:"token_output"`
	CostEstimated float64 `json:"cost_estimated"`
}

// BudgetStatus reports one budget gate.
type BudgetStatus struct {
	Limit    float64 `json:"limit"`
	Exceeded bool    `json:"exceeded"`
}

// DailySummary aggregates one day of usage plus the state of both budget
// gates.
type DailySummary struct {
	Date          string                     `json:"date"`
	Providers     map[string]ProviderSummary `json:"providers"`
	TotalCost     float64                    `json:"total_cost"`
	TotalRequests int64                      `json:"total_requests"`
	Budgets       map[string]BudgetStatus    `json:"budgets"`
}

// DailySummary returns the usage summary for date (today when empty).
func (c *Controller) DailySummary(ctx context.Context, date string) (*DailySummary, error) {
	if date == "" {
		date = store.Today()
	}

	rows, err := c.store.ListDailyUsage(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("costctl: daily summary: %w", err)
	}

	summary := &DailySummary{
		Date:      date,
		Providers: make(map[string]ProviderSummary),
		Budgets:   make(map[string]BudgetStatus),
	}
	for _, u := range rows {
		summary.Providers[u.Provider] = ProviderSummary{
			RequestCount:  u.RequestCount,
			CharCount:     u.CharCount,
			TokenInput:    u.TokenInput,
			TokenOutput:   u.TokenOutput,
			CostEstimated: u.CostEstimated,
		}
		summary.TotalCost += u.CostEstimated
		summary.TotalRequests += u.RequestCount
	}

	googleExceeded, err := c.IsBudgetExceeded(ctx, backend.ProviderGoogle)
	if err != nil {
		return nil, err
	}
	openaiCost, err := c.OpenAICostToday(ctx, date)
	if err != nil {
		return nil, err
	}

	budgets, _ := c.limits()
	summary.Budgets[backend.ProviderGoogle] = BudgetStatus{
		Limit:    budgets.Google,
		Exceeded: googleExceeded,
	}
	summary.Budgets[backend.ProviderOpenAI] = BudgetStatus{
		Limit:    budgets.OpenAI,
		Exceeded: openaiCost >= budgets.OpenAI,
	}

	return summary, nil
}
