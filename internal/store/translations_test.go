package store

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"
)

func testTranslation(key string) *Translation {
	return &Translation{
		CacheKey:       key,
		SourceLang:     "en",
		TargetLang:     "zh-tw",
		OriginalText:   "Hello",
		TranslatedText: "你好",
		Provider:       "deepl",
	}
}

func TestUpsertTranslation_Get(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	if err := st.UpsertTranslation(ctx, testTranslation("key1")); err != nil {
		t.Fatalf("UpsertTranslation: %v", err)
	}

	got, err := st.GetTranslation(ctx, "key1")
	if err != nil {
		t.Fatalf("GetTranslation: %v", err)
	}
	if got == nil {
		t.Fatal("GetTranslation returned nil for existing row")
	}
	if got.TranslatedText != "你好" {
		t.Errorf("TranslatedText: got %q, want %q", got.TranslatedText, "你好")
	}
	if got.Provider != "deepl" {
		t.Errorf("Provider: got %q, want %q", got.Provider, "deepl")
	}
	if got.CharCount != 5 {
		t.Errorf("CharCount: got %d, want 5", got.CharCount)
	}
	if got.IsRefined {
		t.Error("IsRefined: got true, want false")
	}
	if got.CreatedAt == "" || got.LastAccessedAt == "" {
		t.Error("timestamps not populated")
	}
	if got.LastAccessedAt < got.CreatedAt {
		t.Errorf("last_accessed_at %q before created_at %q", got.LastAccessedAt, got.CreatedAt)
	}
}

func TestGetTranslation_Missing(t *testing.T) {
	st := openTestStore(t)

	got, err := st.GetTranslation(context.Background(), "nope")
	if err != nil {
		t.Fatalf("GetTranslation: %v", err)
	}
	if got != nil {
		t.Errorf("GetTranslation: got %+v, want nil", got)
	}
}

func TestGetTranslation_Expired(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	tr := testTranslation("expiring")
	tr.ExpiresAt = sql.NullString{
		String: time.Now().UTC().Add(-time.Hour).Format(timeFormat),
		Valid:  true,
	}
	if err := st.UpsertTranslation(ctx, tr); err != nil {
		t.Fatalf("UpsertTranslation: %v", err)
	}

	got, err := st.GetTranslation(ctx, "expiring")
	if err != nil {
		t.Fatalf("GetTranslation: %v", err)
	}
	if got != nil {
		t.Error("expired row should not be returned")
	}

	// A future expiry is still served.
	tr.ExpiresAt.String = time.Now().UTC().Add(time.Hour).Format(timeFormat)
	if err := st.UpsertTranslation(ctx, tr); err != nil {
		t.Fatalf("UpsertTranslation: %v", err)
	}
	got, err = st.GetTranslation(ctx, "expiring")
	if err != nil {
		t.Fatalf("GetTranslation: %v", err)
	}
	if got == nil {
		t.Error("unexpired row should be returned")
	}
}

func TestUpsertTranslation_OverwritePreservesCreatedAt(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	if err := st.UpsertTranslation(ctx, testTranslation("key1")); err != nil {
		t.Fatalf("UpsertTranslation: %v", err)
	}
	first, err := st.GetTranslation(ctx, "key1")
	if err != nil {
		t.Fatalf("GetTranslation: %v", err)
	}

	time.Sleep(5 * time.Millisecond)

	upgrade := testTranslation("key1")
	upgrade.TranslatedText = "嗨"
	upgrade.IsRefined = true
	upgrade.RefinementModel = sql.NullString{String: "gpt-4o-mini", Valid: true}
	if err := st.UpsertTranslation(ctx, upgrade); err != nil {
		t.Fatalf("upgrade UpsertTranslation: %v", err)
	}

	got, err := st.GetTranslation(ctx, "key1")
	if err != nil {
		t.Fatalf("GetTranslation: %v", err)
	}
	if got.TranslatedText != "嗨" {
		t.Errorf("TranslatedText after upgrade: got %q, want %q", got.TranslatedText, "嗨")
	}
	if !got.IsRefined {
		t.Error("IsRefined not set by upgrade")
	}
	if got.RefinementModel.String != "gpt-4o-mini" {
		t.Errorf("RefinementModel: got %q", got.RefinementModel.String)
	}
	if got.CreatedAt != first.CreatedAt {
		t.Errorf("created_at changed on update: %q -> %q", first.CreatedAt, got.CreatedAt)
	}
	if got.LastAccessedAt <= first.LastAccessedAt {
		t.Error("last_accessed_at did not advance on update")
	}
}

func TestInsertTranslation_DoesNotOverwrite(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	if err := st.InsertTranslation(ctx, testTranslation("key1")); err != nil {
		t.Fatalf("InsertTranslation: %v", err)
	}

	second := testTranslation("key1")
	second.TranslatedText = "different"
	if err := st.InsertTranslation(ctx, second); err != nil {
		t.Fatalf("second InsertTranslation: %v", err)
	}

	got, err := st.GetTranslation(ctx, "key1")
	if err != nil {
		t.Fatalf("GetTranslation: %v", err)
	}
	if got.TranslatedText != "你好" {
		t.Errorf("insert-only variant overwrote the row: got %q", got.TranslatedText)
	}
}

func TestTouchTranslation(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	if err := st.UpsertTranslation(ctx, testTranslation("key1")); err != nil {
		t.Fatalf("UpsertTranslation: %v", err)
	}
	before, _ := st.GetTranslation(ctx, "key1")

	time.Sleep(5 * time.Millisecond)
	if err := st.TouchTranslation(ctx, "key1"); err != nil {
		t.Fatalf("TouchTranslation: %v", err)
	}

	after, _ := st.GetTranslation(ctx, "key1")
	if after.LastAccessedAt <= before.LastAccessedAt {
		t.Error("touch did not advance last_accessed_at")
	}

	// Touching a missing row is silent.
	if err := st.TouchTranslation(ctx, "missing"); err != nil {
		t.Errorf("TouchTranslation on missing row: %v", err)
	}
}

func TestDeleteExpired(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := st.UpsertTranslation(ctx, testTranslation(fmt.Sprintf("key%d", i))); err != nil {
			t.Fatalf("UpsertTranslation: %v", err)
		}
	}

	// A huge threshold deletes nothing.
	n, err := st.DeleteExpired(ctx, 10000)
	if err != nil {
		t.Fatalf("DeleteExpired(10000): %v", err)
	}
	if n != 0 {
		t.Errorf("DeleteExpired(10000): deleted %d, want 0", n)
	}

	// Dry-run count matches what zero days would delete.
	time.Sleep(5 * time.Millisecond)
	count, err := st.CountExpired(ctx, 0)
	if err != nil {
		t.Fatalf("CountExpired(0): %v", err)
	}
	if count != 3 {
		t.Errorf("CountExpired(0): got %d, want 3", count)
	}

	// Zero days deletes everything.
	n, err = st.DeleteExpired(ctx, 0)
	if err != nil {
		t.Fatalf("DeleteExpired(0): %v", err)
	}
	if n != 3 {
		t.Errorf("DeleteExpired(0): deleted %d, want 3", n)
	}

	if _, err := st.DeleteExpired(ctx, -1); err == nil {
		t.Error("DeleteExpired(-1): expected error")
	}
}

func TestListTranslations_Pagination(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 25; i++ {
		tr := testTranslation(fmt.Sprintf("key%02d", i))
		tr.OriginalText = fmt.Sprintf("Hello %d", i)
		if err := st.UpsertTranslation(ctx, tr); err != nil {
			t.Fatalf("UpsertTranslation: %v", err)
		}
	}

	var seen int
	for page := 1; ; page++ {
		items, total, err := st.ListTranslations(ctx, TranslationFilter{Page: page, PageSize: 10})
		if err != nil {
			t.Fatalf("ListTranslations page %d: %v", page, err)
		}
		if total != 25 {
			t.Errorf("total on page %d: got %d, want 25", page, total)
		}
		if len(items) == 0 {
			break
		}
		seen += len(items)
	}
	if seen != 25 {
		t.Errorf("sum of page lengths: got %d, want 25", seen)
	}
}

func TestListTranslations_Filters(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	a := testTranslation("a")
	a.OriginalText = "Good morning"
	a.Provider = "deepl"
	b := testTranslation("b")
	b.OriginalText = "Good night"
	b.Provider = "google"
	b.SourceLang = "de"
	c := testTranslation("c")
	c.OriginalText = "Hello"
	c.Provider = "openai"
	c.IsRefined = true
	c.RefinementModel = sql.NullString{String: "gpt-4o-mini", Valid: true}

	for _, tr := range []*Translation{a, b, c} {
		if err := st.UpsertTranslation(ctx, tr); err != nil {
			t.Fatalf("UpsertTranslation: %v", err)
		}
	}

	items, total, err := st.ListTranslations(ctx, TranslationFilter{Query: "Good", Page: 1, PageSize: 10})
	if err != nil {
		t.Fatalf("ListTranslations query: %v", err)
	}
	if total != 2 || len(items) != 2 {
		t.Errorf("query filter: got total=%d len=%d, want 2/2", total, len(items))
	}

	_, total, err = st.ListTranslations(ctx, TranslationFilter{Providers: []string{"google", "openai"}, Page: 1, PageSize: 10})
	if err != nil {
		t.Fatalf("ListTranslations providers: %v", err)
	}
	if total != 2 {
		t.Errorf("provider filter: got total=%d, want 2", total)
	}

	_, total, err = st.ListTranslations(ctx, TranslationFilter{SourceLang: "de", Page: 1, PageSize: 10})
	if err != nil {
		t.Fatalf("ListTranslations source: %v", err)
	}
	if total != 1 {
		t.Errorf("source filter: got total=%d, want 1", total)
	}

	refined := true
	items, total, err = st.ListTranslations(ctx, TranslationFilter{IsRefined: &refined, Page: 1, PageSize: 10})
	if err != nil {
		t.Fatalf("ListTranslations refined: %v", err)
	}
	if total != 1 || len(items) != 1 || items[0].CacheKey != "c" {
		t.Errorf("refined filter: got total=%d, want the single refined row", total)
	}

	// Page size is clamped to 100.
	_, _, err = st.ListTranslations(ctx, TranslationFilter{Page: 1, PageSize: 5000})
	if err != nil {
		t.Fatalf("ListTranslations oversized page: %v", err)
	}
}

func TestLanguages(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	pairs := []struct{ src, tgt string }{
		{"en", "zh-tw"},
		{"en", "ja"},
		{"de", "en"},
	}
	for i, p := range pairs {
		tr := testTranslation(fmt.Sprintf("key%d", i))
		tr.SourceLang = p.src
		tr.TargetLang = p.tgt
		if err := st.UpsertTranslation(ctx, tr); err != nil {
			t.Fatalf("UpsertTranslation: %v", err)
		}
	}

	sources, targets, err := st.Languages(ctx)
	if err != nil {
		t.Fatalf("Languages: %v", err)
	}
	wantSources := []string{"de", "en"}
	wantTargets := []string{"en", "ja", "zh-tw"}
	if len(sources) != len(wantSources) {
		t.Fatalf("sources: got %v, want %v", sources, wantSources)
	}
	for i := range wantSources {
		if sources[i] != wantSources[i] {
			t.Errorf("sources[%d]: got %q, want %q", i, sources[i], wantSources[i])
		}
	}
	if len(targets) != len(wantTargets) {
		t.Fatalf("targets: got %v, want %v", targets, wantTargets)
	}
	for i := range wantTargets {
		if targets[i] != wantTargets[i] {
			t.Errorf("targets[%d]: got %q, want %q", i, targets[i], wantTargets[i])
		}
	}
}
