package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Translation represents one cached translation row. Timestamps are UTC
// RFC3339 strings; ExpiresAt is null for rows that never expire.
type Translation struct {
	CacheKey        string
	SourceLang      string
	TargetLang      string
	OriginalText    string
	TranslatedText  string
	RefinedText     sql.NullString
	Provider        string
	IsRefined       bool
	RefinementModel sql.NullString
	CharCount       int64
	CreatedAt       string
	LastAccessedAt  string
	ExpiresAt       sql.NullString
}

// TranslationFilter narrows ListTranslations results. Zero values mean
// "no constraint"; IsRefined is a tri-state pointer.
type TranslationFilter struct {
	Query      string
	Providers  []string
	SourceLang string
	TargetLang string
	IsRefined  *bool
	Page       int
	PageSize   int
}

const translationColumns = `cache_key, source_lang, target_lang, original_text,
       translated_text, refined_text, provider, is_refined, refinement_model,
       char_count, created_at, last_accessed_at, expires_at`

func scanTranslation(row interface{ Scan(...any) error }) (*Translation, error) {
	t := &Translation{}
	var refinedInt int
	err := row.Scan(
		&t.CacheKey, &t.SourceLang, &t.TargetLang, &t.OriginalText,
		&t.TranslatedText, &t.RefinedText, &t.Provider, &refinedInt, &t.RefinementModel,
		&t.CharCount, &t.CreatedAt, &t.LastAccessedAt, &t.ExpiresAt,
	)
	if err != nil {
		return nil, err
	}
	t.IsRefined = refinedInt != 0
	return t, nil
}

// GetTranslation retrieves a cached translation by its key. It returns
// (nil, nil) when the row is absent or its expires_at is in the past.
func (s *Store) GetTranslation(ctx context.Context, key string) (*Translation, error) {
	now := nowUTC()
	row := s.reader.QueryRowContext(ctx, `
		SELECT `+translationColumns+`
		FROM translations
		WHERE cache_key = ?
		AND (expires_at IS NULL OR expires_at > ?)`, key, now,
	)
	t, err := scanTranslation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get translation %s: %w", key, err)
	}
	return t, nil
}

// UpsertTranslation inserts a translation or, on key collision, overwrites
// the translated text, refined text, provider, refinement fields and
// expires_at, and bumps last_accessed_at. created_at is preserved on update, so a refinement
// upgrade replaces a prior draft without resetting its age.
func (s *Store) UpsertTranslation(ctx context.Context, t *Translation) error {
	now := nowUTC()
	charCount := int64(utf8.RuneCountInString(t.OriginalText))

	_, err := s.writer.ExecContext(ctx, `
		INSERT INTO translations (
			cache_key, source_lang, target_lang, original_text,
			translated_text, refined_text, provider, is_refined, refinement_model,
			char_count, created_at, last_accessed_at, expires_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(cache_key) DO UPDATE SET
			translated_text = excluded.translated_text,
			refined_text = excluded.refined_text,
			provider = excluded.provider,
			is_refined = excluded.is_refined,
			refinement_model = excluded.refinement_model,
			last_accessed_at = excluded.last_accessed_at,
			expires_at = excluded.expires_at`,
		t.CacheKey, t.SourceLang, t.TargetLang, t.OriginalText,
		t.TranslatedText, t.RefinedText, t.Provider, boolToInt(t.IsRefined), t.RefinementModel,
		charCount, now, now, t.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("store: upsert translation: %w", err)
	}
	return nil
}

// InsertTranslation is the insert-only variant of UpsertTranslation: an
// existing row is left untouched.
func (s *Store) InsertTranslation(ctx context.Context, t *Translation) error {
	now := nowUTC()
	charCount := int64(utf8.RuneCountInString(t.OriginalText))

	_, err := s.writer.ExecContext(ctx, `
		INSERT INTO translations (
			cache_key, source_lang, target_lang, original_text,
			translated_text, refined_text, provider, is_refined, refinement_model,
			char_count, created_at, last_accessed_at, expires_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(cache_key) DO NOTHING`,
		t.CacheKey, t.SourceLang, t.TargetLang, t.OriginalText,
		t.TranslatedText, t.RefinedText, t.Provider, boolToInt(t.IsRefined), t.RefinementModel,
		charCount, now, now, t.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("store: insert translation: %w", err)
	}
	return nil
}

// TouchTranslation updates last_accessed_at for cache-hit tracking. It is
// silent when the row is absent.
func (s *Store) TouchTranslation(ctx context.Context, key string) error {
	now := nowUTC()
	_, err := s.writer.ExecContext(ctx,
		"UPDATE translations SET last_accessed_at = ? WHERE cache_key = ?", now, key,
	)
	if err != nil {
		return fmt.Errorf("store: touch translation: %w", err)
	}
	return nil
}

// DeleteExpired removes translations whose last_accessed_at is older than
// days ago and returns the number of rows deleted. days must be >= 0;
// zero deletes everything.
func (s *Store) DeleteExpired(ctx context.Context, days int) (int64, error) {
	if days < 0 {
		return 0, fmt.Errorf("store: delete expired: days must be non-negative, got %d", days)
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -days).Format(timeFormat)
	result, err := s.writer.ExecContext(ctx,
		"DELETE FROM translations WHERE last_accessed_at < ?", cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("store: delete expired: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: delete expired rows affected: %w", err)
	}
	return n, nil
}

// CountExpired reports how many rows DeleteExpired would remove. It backs
// the cleanup CLI's dry-run mode.
func (s *Store) CountExpired(ctx context.Context, days int) (int64, error) {
	if days < 0 {
		return 0, fmt.Errorf("store: count expired: days must be non-negative, got %d", days)
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -days).Format(timeFormat)
	var n int64
	err := s.reader.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM translations WHERE last_accessed_at < ?", cutoff,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: count expired: %w", err)
	}
	return n, nil
}

// ListTranslations returns one page of translations matching the filter,
// ordered by created_at descending, along with the total match count.
// Page is 1-based; page size is clamped to [1, 100].
func (s *Store) ListTranslations(ctx context.Context, f TranslationFilter) ([]*Translation, int64, error) {
	page := f.Page
	if page < 1 {
		page = 1
	}
	pageSize := f.PageSize
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > 100 {
		pageSize = 100
	}

	var conditions []string
	var params []any

	if f.Query != "" {
		conditions = append(conditions, "(original_text LIKE ? OR translated_text LIKE ?)")
		pattern := "%" + f.Query + "%"
		params = append(params, pattern, pattern)
	}
	if len(f.Providers) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(f.Providers)), ",")
		conditions = append(conditions, "provider IN ("+placeholders+")")
		for _, p := range f.Providers {
			params = append(params, p)
		}
	}
	if f.SourceLang != "" {
		conditions = append(conditions, "source_lang = ?")
		params = append(params, f.SourceLang)
	}
	if f.TargetLang != "" {
		conditions = append(conditions, "target_lang = ?")
		params = append(params, f.TargetLang)
	}
	if f.IsRefined != nil {
		conditions = append(conditions, "is_refined = ?")
		params = append(params, boolToInt(*f.IsRefined))
	}

	where := "1=1"
	if len(conditions) > 0 {
		where = strings.Join(conditions, " AND ")
	}

	var total int64
	err := s.reader.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM translations WHERE "+where, params...,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("store: count translations: %w", err)
	}

	offset := (page - 1) * pageSize
	rows, err := s.reader.QueryContext(ctx, `
		SELECT `+translationColumns+`
		FROM translations
		WHERE `+where+`
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?`, append(params, pageSize, offset)...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("store: list translations: %w", err)
	}
	defer rows.Close()

	var items []*Translation
	for rows.Next() {
		t, err := scanTranslation(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("store: scan translation row: %w", err)
		}
		items = append(items, t)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("store: list translations iteration: %w", err)
	}
	return items, total, nil
}

// Languages returns the distinct source and target language codes present
// in the cache, each sorted ascending.
func (s *Store) Languages(ctx context.Context) (sources, targets []string, err error) {
	collect := func(query string) ([]string, error) {
		rows, err := s.reader.QueryContext(ctx, query)
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		var out []string
		for rows.Next() {
			var lang string
			if err := rows.Scan(&lang); err != nil {
				return nil, err
			}
			out = append(out, lang)
		}
		return out, rows.Err()
	}

	sources, err = collect("SELECT DISTINCT source_lang FROM translations ORDER BY source_lang")
	if err != nil {
		return nil, nil, fmt.Errorf("store: source languages: %w", err)
	}
	targets, err = collect("SELECT DISTINCT target_lang FROM translations ORDER BY target_lang")
	if err != nil {
		return nil, nil, fmt.Errorf("store: target languages: %w", err)
	}
	return sources, targets, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
