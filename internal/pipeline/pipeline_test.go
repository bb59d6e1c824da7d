package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/allaspectsdev/lingoproxy/internal/backend"
	"github.com/allaspectsdev/lingoproxy/internal/cache"
	"github.com/allaspectsdev/lingoproxy/internal/costctl"
	"github.com/allaspectsdev/lingoproxy/internal/fingerprint"
	"github.com/allaspectsdev/lingoproxy/internal/store"
)

// fakeBackend scripts one tier's behaviour and counts invocations.
type fakeBackend struct {
	name      string
	available bool
	text      string
	err       error
	calls     int

	refineText  string
	refineErr   error
	refineCalls int
}

func (f *fakeBackend) Name() string { return f.name }

func (f *fakeBackend) Available(ctx context.Context) bool { return f.available }

func (f *fakeBackend) Translate(ctx context.Context, text, src, tgt string) (*backend.Result, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	r := &backend.Result{
		Text:      f.text,
		Provider:  f.name,
		CharCount: len([]rune(text)),
	}
	switch f.name {
	case backend.ProviderOpenAI:
		r.TokenInput = 50
		r.TokenOutput = 10
		r.CostEstimated = 0.0001
	case backend.ProviderGoogle:
		r.CostEstimated = float64(r.CharCount) / 1_000_000 * 20
	}
	return r, nil
}

func (f *fakeBackend) Refine(ctx context.Context, original, draft, src, tgt, model string) (*backend.Refinement, error) {
	f.refineCalls++
	if f.refineErr != nil {
		return nil, f.refineErr
	}
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &backend.Refinement{
		Text:          f.refineText,
		Model:         model,
		TokenInput:    80,
		TokenOutput:   5,
		CostEstimated: 0.0002,
	}, nil
}

type fixture struct {
	translator *Translator
	st         *store.Store
	cost       *costctl.Controller
	deepl      *fakeBackend
	openai     *fakeBackend
	google     *fakeBackend
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	c, err := cache.New(st, 16)
	if err != nil {
		t.Fatalf("cache.New: %v", err)
	}
	cost := costctl.New(st, costctl.Budgets{Google: 10, OpenAI: 5})

	f := &fixture{
		st:     st,
		cost:   cost,
		deepl:  &fakeBackend{name: backend.ProviderDeepL, available: true, text: "你好", refineText: "嗨"},
		openai: &fakeBackend{name: backend.ProviderOpenAI, available: true, text: "您好", refineText: "嗨"},
		google: &fakeBackend{name: backend.ProviderGoogle, available: true, text: "哈囉"},
	}
	f.translator = New(c, cost, f.deepl, f.openai, f.google)
	return f
}

func request() Request {
	return Request{Text: "Hello", SourceLang: "en", TargetLang: "zh-tw"}
}

func TestTranslate_FirstTierSucceeds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp := f.translator.Translate(ctx, request())
	if !resp.Success {
		t.Fatalf("Translate failed: %s", resp.Error)
	}
	if resp.Text != "你好" {
		t.Errorf("Text: got %q", resp.Text)
	}
	if resp.Provider != "deepl" {
		t.Errorf("Provider: got %q, want deepl", resp.Provider)
	}
	if resp.IsCached || resp.IsRefined {
		t.Errorf("flags: cached=%v refined=%v, want false/false", resp.IsCached, resp.IsRefined)
	}
	if f.openai.calls != 0 || f.google.calls != 0 {
		t.Error("lower tiers must not be called when deepl succeeds")
	}

	// The cache row is keyed by the canonical fingerprint.
	key := fingerprint.Key("Hello", "en", "zh-tw", "plain")
	row, err := f.st.GetTranslation(ctx, key)
	if err != nil {
		t.Fatalf("GetTranslation: %v", err)
	}
	if row == nil || row.TranslatedText != "你好" || row.Provider != "deepl" {
		t.Errorf("cache row: %+v", row)
	}

	// Usage counter for deepl incremented exactly once.
	usage, _ := f.st.GetDailyUsage(ctx, store.Today(), "deepl")
	if usage == nil || usage.RequestCount != 1 {
		t.Errorf("deepl usage: %+v", usage)
	}
	if usage.CharCount != 5 {
		t.Errorf("deepl chars: got %d, want 5", usage.CharCount)
	}
}

func TestTranslate_SecondRequestHitsCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.translator.Translate(ctx, request())
	if !first.Success {
		t.Fatalf("first Translate failed: %s", first.Error)
	}
	key := fingerprint.Key("Hello", "en", "zh-tw", "plain")
	before, _ := f.st.GetTranslation(ctx, key)

	time.Sleep(5 * time.Millisecond)
	second := f.translator.Translate(ctx, request())
	if !second.Success {
		t.Fatalf("second Translate failed: %s", second.Error)
	}
	if !second.IsCached {
		t.Error("second request should be served from cache")
	}
	if second.Provider != "cache" {
		t.Errorf("Provider: got %q, want cache", second.Provider)
	}
	if second.Text != "你好" {
		t.Errorf("Text: got %q", second.Text)
	}
	if f.deepl.calls != 1 {
		t.Errorf("deepl called %d times, want 1", f.deepl.calls)
	}

	after, _ := f.st.GetTranslation(ctx, key)
	if after.LastAccessedAt <= before.LastAccessedAt {
		t.Error("cache hit did not advance last_accessed_at")
	}

	// Cache hits are recorded under the cache pseudo-provider.
	usage, _ := f.st.GetDailyUsage(ctx, store.Today(), "cache")
	if usage == nil || usage.RequestCount != 1 {
		t.Errorf("cache usage: %+v", usage)
	}
}

func TestTranslate_QuotaFailover(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.deepl.err = fmt.Errorf("deepl: quota: %w", backend.ErrQuotaExceeded)

	resp := f.translator.Translate(ctx, request())
	if !resp.Success {
		t.Fatalf("Translate failed: %s", resp.Error)
	}
	if resp.Provider != "openai" {
		t.Errorf("Provider: got %q, want openai", resp.Provider)
	}
	if !f.cost.IsQuotaExceeded("deepl") {
		t.Error("quota flag not latched")
	}

	// Subsequent requests skip deepl without attempting it.
	f.translator.Translate(ctx, Request{Text: "Other", SourceLang: "en", TargetLang: "zh-tw"})
	if f.deepl.calls != 1 {
		t.Errorf("deepl called %d times after quota flag, want 1", f.deepl.calls)
	}

	// Until the operator resets the flag.
	f.deepl.err = nil
	f.cost.ResetQuotaExceeded("deepl")
	resp = f.translator.Translate(ctx, Request{Text: "Third", SourceLang: "en", TargetLang: "zh-tw"})
	if resp.Provider != "deepl" {
		t.Errorf("after reset: got %q, want deepl", resp.Provider)
	}
}

func TestTranslate_FullFailover(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.deepl.available = false
	f.openai.err = fmt.Errorf("openai: %w", backend.ErrUnavailable)

	resp := f.translator.Translate(ctx, request())
	if !resp.Success {
		t.Fatalf("Translate failed: %s", resp.Error)
	}
	if resp.Provider != "google" {
		t.Errorf("Provider: got %q, want google", resp.Provider)
	}

	usage, _ := f.st.GetDailyUsage(ctx, store.Today(), "google")
	if usage == nil {
		t.Fatal("google usage missing")
	}
	if usage.CharCount != 5 {
		t.Errorf("google chars: got %d, want 5", usage.CharCount)
	}
	if usage.CostEstimated <= 0 || usage.CostEstimated > 0.001 {
		t.Errorf("google cost: got %g, want ~0.0001", usage.CostEstimated)
	}
}

func TestTranslate_AllExhausted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.deepl.err = errors.New("deepl down")
	f.openai.available = false
	f.google.err = fmt.Errorf("google: %w", backend.ErrUnavailable)

	resp := f.translator.Translate(ctx, request())
	if resp.Success {
		t.Fatal("expected failure when every tier fails")
	}
	if resp.Error == "" {
		t.Error("failure must carry a message")
	}

	// No cache row is written on failure.
	key := fingerprint.Key("Hello", "en", "zh-tw", "plain")
	row, _ := f.st.GetTranslation(ctx, key)
	if row != nil {
		t.Errorf("cache row written on failure: %+v", row)
	}
}

func TestTranslate_Refinement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := request()
	req.Options.EnableRefinement = true

	resp := f.translator.Translate(ctx, req)
	if !resp.Success {
		t.Fatalf("Translate failed: %s", resp.Error)
	}
	if resp.Text != "嗨" {
		t.Errorf("Text: got %q, want refined text", resp.Text)
	}
	// The provider is the translation step's, not the refiner's.
	if resp.Provider != "deepl" {
		t.Errorf("Provider: got %q, want deepl", resp.Provider)
	}
	if !resp.IsRefined {
		t.Error("IsRefined: got false")
	}
	if f.openai.refineCalls != 1 {
		t.Errorf("refine called %d times, want 1", f.openai.refineCalls)
	}

	// The refined result is served from cache next time.
	second := f.translator.Translate(ctx, req)
	if !second.IsCached || second.Text != "嗨" || !second.IsRefined {
		t.Errorf("second request: %+v", second)
	}
	if f.openai.refineCalls != 1 {
		t.Error("cache hit must not re-refine")
	}

	// Refinement usage was recorded under openai_refine.
	usage, _ := f.st.GetDailyUsage(ctx, store.Today(), "openai_refine")
	if usage == nil || usage.RequestCount != 1 {
		t.Errorf("openai_refine usage: %+v", usage)
	}
}

func TestTranslate_RefinementSkippedForOpenAITier(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.deepl.available = false
	req := request()
	req.Options.EnableRefinement = true

	resp := f.translator.Translate(ctx, req)
	if !resp.Success {
		t.Fatalf("Translate failed: %s", resp.Error)
	}
	if resp.Provider != "openai" {
		t.Fatalf("Provider: got %q, want openai", resp.Provider)
	}
	// The LLM's own output is not re-refined.
	if resp.IsRefined {
		t.Error("IsRefined: got true for openai-produced draft")
	}
	if f.openai.refineCalls != 0 {
		t.Errorf("refine called %d times, want 0", f.openai.refineCalls)
	}
}

func TestTranslate_RefinementFailureKeepsDraft(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.openai.refineErr = errors.New("refine blew up")
	req := request()
	req.Options.EnableRefinement = true

	resp := f.translator.Translate(ctx, req)
	if !resp.Success {
		t.Fatalf("Translate failed: %s", resp.Error)
	}
	if resp.Text != "你好" {
		t.Errorf("Text: got %q, want unrefined draft", resp.Text)
	}
	if resp.IsRefined {
		t.Error("IsRefined: got true after refinement failure")
	}
}

func TestTranslate_CachedDraftUpgradedByRefinement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// First request caches an unrefined draft.
	first := f.translator.Translate(ctx, request())
	if first.IsRefined {
		t.Fatal("first result should be unrefined")
	}

	// Same request with refinement enabled falls through the cache and
	// upgrades the row.
	req := request()
	req.Options.EnableRefinement = true
	second := f.translator.Translate(ctx, req)
	if second.IsCached {
		t.Error("draft row must not satisfy a refinement request")
	}
	if !second.IsRefined || second.Text != "嗨" {
		t.Errorf("upgrade: %+v", second)
	}

	key := fingerprint.Key("Hello", "en", "zh-tw", "plain")
	row, _ := f.st.GetTranslation(ctx, key)
	if !row.IsRefined {
		t.Error("cache row not promoted to refined")
	}

	// A later plain request is satisfied by the refined row: promotion is
	// never reversed.
	third := f.translator.Translate(ctx, request())
	if !third.IsCached || !third.IsRefined {
		t.Errorf("refined row must satisfy plain requests: %+v", third)
	}
	row, _ = f.st.GetTranslation(ctx, key)
	if !row.IsRefined {
		t.Error("row demoted from refined")
	}
}

func TestTranslate_OpenAIBudgetGate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Exhaust the combined OpenAI budget.
	if err := f.cost.RecordUsage(ctx, "openai_trans", 0, 0, 0, 6.0); err != nil {
		t.Fatalf("RecordUsage: %v", err)
	}
	f.deepl.available = false

	req := request()
	req.Options.EnableRefinement = true
	resp := f.translator.Translate(ctx, req)
	if !resp.Success {
		t.Fatalf("Translate failed: %s", resp.Error)
	}
	if resp.Provider != "google" {
		t.Errorf("Provider: got %q, want google (openai gated)", resp.Provider)
	}
	if f.openai.calls != 0 {
		t.Error("openai.Translate called despite exceeded budget")
	}
	if f.openai.refineCalls != 0 {
		t.Error("openai.Refine called despite exceeded budget")
	}
}

func TestTranslate_GoogleBudgetGate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// 600k chars at $20/M is $12, over the $10 budget.
	if err := f.cost.RecordUsage(ctx, "google", 600_000, 0, 0, 12.0); err != nil {
		t.Fatalf("RecordUsage: %v", err)
	}
	f.deepl.available = false
	f.openai.available = false

	resp := f.translator.Translate(ctx, request())
	if resp.Success {
		t.Fatal("expected all-exhausted failure")
	}
	if f.google.calls != 0 {
		t.Error("google.Translate called despite exceeded budget")
	}
}

func TestTranslate_PreferredProvider(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := request()
	req.Options.PreferredProvider = "google"

	resp := f.translator.Translate(ctx, req)
	if resp.Provider != "google" {
		t.Errorf("Provider: got %q, want google", resp.Provider)
	}
	if f.deepl.calls != 0 {
		t.Error("deepl tried before the preferred provider")
	}

	// A failing preferred provider falls back to the canonical order.
	f.google.err = fmt.Errorf("google: %w", backend.ErrUnavailable)
	req.Text = "Another"
	resp = f.translator.Translate(ctx, req)
	if resp.Provider != "deepl" {
		t.Errorf("fallback after preferred failure: got %q, want deepl", resp.Provider)
	}
}

func TestTranslate_AutoDetectSource(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp := f.translator.Translate(ctx, Request{Text: "Hello", TargetLang: "zh-tw"})
	if !resp.Success {
		t.Fatalf("Translate failed: %s", resp.Error)
	}
	// The empty source participates in the fingerprint, so a second
	// identical request hits the cache.
	second := f.translator.Translate(ctx, Request{Text: "Hello", TargetLang: "zh-tw"})
	if !second.IsCached {
		t.Error("auto-detect request should be cacheable")
	}
}

func TestProviderStatuses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.openai.available = false
	f.cost.SetQuotaExceeded("deepl")
	if err := f.cost.RecordUsage(ctx, "google", 600_000, 0, 0, 12.0); err != nil {
		t.Fatalf("RecordUsage: %v", err)
	}

	statuses := f.translator.ProviderStatuses(ctx)
	if len(statuses) != 3 {
		t.Fatalf("statuses: got %d, want 3", len(statuses))
	}
	byName := make(map[string]ProviderStatus)
	for _, s := range statuses {
		byName[s.Name] = s
	}
	if !byName["deepl"].QuotaExceeded {
		t.Error("deepl quota flag not reported")
	}
	if byName["openai"].Available {
		t.Error("openai availability not reported")
	}
	if !byName["google"].BudgetExceeded {
		t.Error("google budget gate not reported")
	}
}
