package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// DailyUsage represents accumulated usage counters for one (date, provider)
// pair. Date is the server-local calendar day as YYYY-MM-DD.
type DailyUsage struct {
	Date          string
	Provider      string
	RequestCount  int64
	CharCount     int64
	TokenInput    int64
	TokenOutput   int64
	CostEstimated float64
}

// UsageDelta carries the per-request increments applied by IncrementUsage.
// Request count is implicit: every call counts as one request.
type UsageDelta struct {
	CharCount     int64
	TokenInput    int64
	TokenOutput   int64
	CostEstimated float64
}

// Today returns the current calendar day in the server's local timezone,
// formatted as YYYY-MM-DD.
func Today() string {
	return time.Now().Format("2006-01-02")
}

// GetDailyUsage returns the counters for (date, provider), or (nil, nil)
// when no usage has been recorded yet.
func (s *Store) GetDailyUsage(ctx context.Context, date, provider string) (*DailyUsage, error) {
	u := &DailyUsage{}
	err := s.reader.QueryRowContext(ctx, `
		SELECT date, provider, request_count, char_count, token_input, token_output, cost_estimated
		FROM daily_usage_stats
		WHERE date = ? AND provider = ?`, date, provider,
	).Scan(&u.Date, &u.Provider, &u.RequestCount, &u.CharCount, &u.TokenInput, &u.TokenOutput, &u.CostEstimated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get daily usage %s/%s: %w", date, provider, err)
	}
	return u, nil
}

// IncrementUsage applies the delta to (date, provider) as a single upsert
// statement: a missing row is created with request_count=1, an existing row
// accumulates and bumps request_count. The single statement keeps concurrent
// increments atomic.
func (s *Store) IncrementUsage(ctx context.Context, date, provider string, d UsageDelta) error {
	_, err := s.writer.ExecContext(ctx, `
		INSERT INTO daily_usage_stats (
			date, provider, request_count, char_count, token_input, token_output, cost_estimated
		) VALUES (?, ?, 1, ?, ?, ?, ?)
		ON CONFLICT(date, provider) DO UPDATE SET
			request_count = request_count + 1,
			char_count = char_count + excluded.char_count,
			token_input = token_input + excluded.token_input,
			token_output = token_output + excluded.token_output,
			cost_estimated = cost_estimated + excluded.cost_estimated`,
		date, provider, d.CharCount, d.TokenInput, d.TokenOutput, d.CostEstimated,
	)
	if err != nil {
		return fmt.Errorf("store: increment usage %s/%s: %w", date, provider, err)
	}
	return nil
}

// ListDailyUsage returns all provider rows for one date.
func (s *Store) ListDailyUsage(ctx context.Context, date string) ([]*DailyUsage, error) {
	rows, err := s.reader.QueryContext(ctx, `
		SELECT date, provider, request_count, char_count, token_input, token_output, cost_estimated
		FROM daily_usage_stats
		WHERE date = ?
		ORDER BY provider`, date,
	)
	if err != nil {
		return nil, fmt.Errorf("store: list daily usage: %w", err)
	}
	defer rows.Close()

	var results []*DailyUsage
	for rows.Next() {
		u := &DailyUsage{}
		if err := rows.Scan(&u.Date, &u.Provider, &u.RequestCount, &u.CharCount, &u.TokenInput, &u.TokenOutput, &u.CostEstimated); err != nil {
			return nil, fmt.Errorf("store: scan usage row: %w", err)
		}
		results = append(results, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list daily usage iteration: %w", err)
	}
	return results, nil
}

// ProviderTotals holds summed counters for one provider over a range.
type ProviderTotals struct {
	Requests  int64   `json:"requests"`
	Chars     int64   `json:"chars"`
	TokensIn  int64   `json:"tokens_in"`
	TokensOut int64   `json:"tokens_out"`
	Cost      float64 `json:"cost"`
}

// TrendPoint is one day of the dashboard request trend.
type TrendPoint struct {
	Date  string `json:"date"`
	Count int64  `json:"count"`
}

// DashboardStats aggregates the counters the dashboard endpoint serves.
type DashboardStats struct {
	TotalRequests   int64                     `json:"total_requests"`
	TotalChars      int64                     `json:"total_chars"`
	TotalCostUSD    float64                   `json:"total_cost_usd"`
	CacheHitRate    float64                   `json:"cache_hit_rate"`
	ProviderUsage   map[string]int64          `json:"provider_usage"`
	ProviderDetails map[string]ProviderTotals `json:"provider_details"`
	DailyTrend      []TrendPoint              `json:"daily_trend"`

	// Month-to-date quota tracking.
	DeepLCharsMonth      int64   `json:"deepl_chars_month"`
	GoogleCharsMonth     int64   `json:"google_chars_month"`
	OpenAITokensInMonth  int64   `json:"openai_tokens_input_month"`
	OpenAITokensOutMonth int64   `json:"openai_tokens_output_month"`
	OpenAICostMonth      float64 `json:"openai_cost_month"`
	DeepLQuotaPercent    float64 `json:"deepl_quota_percent"`
	GoogleQuotaPercent   float64 `json:"google_quota_percent"`
}

// FreeQuotaChars is the monthly free-tier character allowance used as the
// quota-percentage denominator for DeepL and Google.
const FreeQuotaChars = 500_000

// GetDashboardStats computes aggregate statistics broken down by provider.
// days (30 when not positive) bounds only the daily trend; the totals, cache
// hit rate, total cost and per-provider figures cover all recorded rows, and
// the quota figures cover the current calendar month.
func (s *Store) GetDashboardStats(ctx context.Context, days int) (*DashboardStats, error) {
	if days <= 0 {
		days = 30
	}
	stats := &DashboardStats{
		ProviderUsage:   make(map[string]int64),
		ProviderDetails: make(map[string]ProviderTotals),
	}

	// Cached translation totals.
	err := s.reader.QueryRowContext(ctx,
		"SELECT COUNT(*), COALESCE(SUM(char_count), 0) FROM translations",
	).Scan(&stats.TotalRequests, &stats.TotalChars)
	if err != nil {
		return nil, fmt.Errorf("store: dashboard translation totals: %w", err)
	}
	totalTranslations := stats.TotalRequests

	// Per-provider counts from the cache.
	rows, err := s.reader.QueryContext(ctx,
		"SELECT provider, COUNT(*) FROM translations GROUP BY provider",
	)
	if err != nil {
		return nil, fmt.Errorf("store: dashboard provider usage: %w", err)
	}
	for rows.Next() {
		var provider string
		var count int64
		if err := rows.Scan(&provider, &count); err != nil {
			rows.Close()
			return nil, fmt.Errorf("store: scan provider usage: %w", err)
		}
		stats.ProviderUsage[provider] = count
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("store: dashboard provider usage iteration: %w", err)
	}
	rows.Close()

	// Cache hits come from the usage counters, not the translations table.
	var cacheHits int64
	err = s.reader.QueryRowContext(ctx,
		"SELECT COALESCE(SUM(request_count), 0) FROM daily_usage_stats WHERE provider = 'cache'",
	).Scan(&cacheHits)
	if err != nil {
		return nil, fmt.Errorf("store: dashboard cache hits: %w", err)
	}
	stats.ProviderUsage["cache"] = cacheHits
	stats.TotalRequests = totalTranslations + cacheHits
	if stats.TotalRequests > 0 {
		stats.CacheHitRate = float64(cacheHits) / float64(stats.TotalRequests)
	}

	err = s.reader.QueryRowContext(ctx,
		"SELECT COALESCE(SUM(cost_estimated), 0.0) FROM daily_usage_stats",
	).Scan(&stats.TotalCostUSD)
	if err != nil {
		return nil, fmt.Errorf("store: dashboard total cost: %w", err)
	}

	// All-time per-provider counter totals.
	rows, err = s.reader.QueryContext(ctx, `
		SELECT provider,
		       COALESCE(SUM(request_count), 0),
		       COALESCE(SUM(char_count), 0),
		       COALESCE(SUM(token_input), 0),
		       COALESCE(SUM(token_output), 0),
		       COALESCE(SUM(cost_estimated), 0.0)
		FROM daily_usage_stats
		GROUP BY provider`,
	)
	if err != nil {
		return nil, fmt.Errorf("store: dashboard provider details: %w", err)
	}
	for rows.Next() {
		var provider string
		var pt ProviderTotals
		if err := rows.Scan(&provider, &pt.Requests, &pt.Chars, &pt.TokensIn, &pt.TokensOut, &pt.Cost); err != nil {
			rows.Close()
			return nil, fmt.Errorf("store: scan provider details: %w", err)
		}
		stats.ProviderDetails[provider] = pt
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("store: dashboard provider details iteration: %w", err)
	}
	rows.Close()

	// Daily request trend over the window.
	since := time.Now().AddDate(0, 0, -days).Format("2006-01-02")
	rows, err = s.reader.QueryContext(ctx, `
		SELECT date, SUM(request_count)
		FROM daily_usage_stats
		WHERE date >= ?
		GROUP BY date
		ORDER BY date ASC`, since,
	)
	if err != nil {
		return nil, fmt.Errorf("store: dashboard trend: %w", err)
	}
	for rows.Next() {
		var p TrendPoint
		if err := rows.Scan(&p.Date, &p.Count); err != nil {
			rows.Close()
			return nil, fmt.Errorf("store: scan trend point: %w", err)
		}
		stats.DailyTrend = append(stats.DailyTrend, p)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("store: dashboard trend iteration: %w", err)
	}
	rows.Close()

	// Month-to-date per-provider quota figures.
	now := time.Now()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location()).Format("2006-01-02")
	rows, err = s.reader.QueryContext(ctx, `
		SELECT provider,
		       COALESCE(SUM(char_count), 0),
		       COALESCE(SUM(token_input), 0),
		       COALESCE(SUM(token_output), 0),
		       COALESCE(SUM(cost_estimated), 0.0)
		FROM daily_usage_stats
		WHERE date >= ?
		GROUP BY provider`, monthStart,
	)
	if err != nil {
		return nil, fmt.Errorf("store: dashboard monthly stats: %w", err)
	}
	for rows.Next() {
		var provider string
		var chars, tokensIn, tokensOut int64
		var cost float64
		if err := rows.Scan(&provider, &chars, &tokensIn, &tokensOut, &cost); err != nil {
			rows.Close()
			return nil, fmt.Errorf("store: scan monthly stats: %w", err)
		}
		switch provider {
		case "deepl":
			stats.DeepLCharsMonth = chars
		case "google":
			stats.GoogleCharsMonth = chars
		case "openai_trans", "openai_refine":
			stats.OpenAITokensInMonth += tokensIn
			stats.OpenAITokensOutMonth += tokensOut
			stats.OpenAICostMonth += cost
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("store: dashboard monthly stats iteration: %w", err)
	}
	rows.Close()

	stats.DeepLQuotaPercent = float64(stats.DeepLCharsMonth) / FreeQuotaChars * 100
	stats.GoogleQuotaPercent = float64(stats.GoogleCharsMonth) / FreeQuotaChars * 100

	return stats, nil
}
