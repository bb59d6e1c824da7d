// Package extdata refreshes exchange-rate and list-price metadata in the
// background. It is never on the translate request path: accessors serve
// the last known values and fall back to hard-coded defaults when no
// fetch has ever succeeded.
package extdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/allaspectsdev/lingoproxy/internal/store"
)

// Storage categories in the external_data table.
const (
	categoryExchangeRate = "exchange_rate"
	categoryPricing      = "pricing"
)

// exchangeRateURL serves the USD/TWD rate as JSON.
const exchangeRateURL = "https://tw.rter.info/capi.php"

// Fallback values used when fetching fails and nothing is cached.
const (
	DefaultExchangeRate = 32.5
	DefaultFreeLimit    = 500_000
)

// ExchangeRate is the cached USD→TWD conversion rate.
type ExchangeRate struct {
	Rate      float64 `json:"USD_TWD"`
	UpdatedAt string  `json:"updated_at,omitempty"`
}

// Pricing is the cached provider price sheet.
type Pricing struct {
	DeepLFreeLimit             int64   `json:"deepl_free_limit"`
	GoogleFreeLimit            int64   `json:"google_free_limit"`
	GooglePricePerMillionChars float64 `json:"google_price_per_million_chars"`
	OpenAIPriceInput           float64 `json:"openai_price_input"`
	OpenAIPriceOutput          float64 `json:"openai_price_output"`
	UpdatedAt                  string  `json:"updated_at,omitempty"`
}

func defaultPricing() Pricing {
	return Pricing{
		DeepLFreeLimit:             DefaultFreeLimit,
		GoogleFreeLimit:            DefaultFreeLimit,
		GooglePricePerMillionChars: 20.0,
		OpenAIPriceInput:           0.15,
		OpenAIPriceOutput:          0.60,
	}
}

// Service loads, refreshes, and serves external metadata. All accessors
// are synchronous and never fail.
type Service struct {
	store   *store.Store
	client  *http.Client
	baseURL string // overrides exchangeRateURL in tests

	mu       sync.Mutex
	exchange ExchangeRate
	pricing  Pricing
}

// NewService creates a Service over the given store. baseURL overrides
// the exchange-rate source for tests; empty selects the real endpoint.
func NewService(st *store.Store, baseURL string) *Service {
	if baseURL == "" {
		baseURL = exchangeRateURL
	}
	return &Service{
		store:    st,
		client:   &http.Client{Timeout: 15 * time.Second},
		baseURL:  baseURL,
		exchange: ExchangeRate{Rate: DefaultExchangeRate},
		pricing:  defaultPricing(),
	}
}

// Initialize loads cached rows and refreshes them when today's exchange
// rate is missing or stale. Intended to run in a goroutine at startup;
// it logs failures instead of returning them.
func (s *Service) Initialize(ctx context.Context) {
	s.loadFromStore(ctx)

	s.mu.Lock()
	updatedAt := s.exchange.UpdatedAt
	s.mu.Unlock()

	today := time.Now().UTC().Format("2006-01-02")
	if strings.HasPrefix(updatedAt, today) {
		log.Info().Msg("external data is up to date")
		return
	}

	log.Info().Msg("external data missing or stale, fetching")
	s.Refresh(ctx)
}

// loadFromStore restores the last persisted values.
func (s *Service) loadFromStore(ctx context.Context) {
	if row, err := s.store.GetExternalData(ctx, categoryExchangeRate); err != nil {
		log.Warn().Err(err).Msg("loading cached exchange rate failed")
	} else if row != nil {
		var rate ExchangeRate
		if err := json.Unmarshal([]byte(row.Data), &rate); err != nil {
			log.Warn().Err(err).Msg("parsing cached exchange rate failed")
		} else if rate.Rate > 0 {
			rate.UpdatedAt = row.UpdatedAt
			s.mu.Lock()
			s.exchange = rate
			s.mu.Unlock()
		}
	}

	if row, err := s.store.GetExternalData(ctx, categoryPricing); err != nil {
		log.Warn().Err(err).Msg("loading cached pricing failed")
	} else if row != nil {
		var pricing Pricing
		if err := json.Unmarshal([]byte(row.Data), &pricing); err != nil {
			log.Warn().Err(err).Msg("parsing cached pricing failed")
		} else {
			pricing.UpdatedAt = row.UpdatedAt
			s.mu.Lock()
			s.pricing = pricing
			s.mu.Unlock()
		}
	}
}

// Refresh fetches fresh values and persists them. Failures leave the
// current values in place.
func (s *Service) Refresh(ctx context.Context) {
	if rate, err := s.fetchExchangeRate(ctx); err != nil {
		log.Warn().Err(err).Float64("fallback", DefaultExchangeRate).Msg("exchange rate fetch failed")
	} else {
		payload, _ := json.Marshal(ExchangeRate{Rate: rate})
		if err := s.store.SetExternalData(ctx, categoryExchangeRate, string(payload)); err != nil {
			log.Warn().Err(err).Msg("persisting exchange rate failed")
		}
		s.mu.Lock()
		s.exchange = ExchangeRate{
			Rate:      rate,
			UpdatedAt: time.Now().UTC().Format(time.RFC3339),
		}
		s.mu.Unlock()
		log.Info().Float64("rate", rate).Msg("exchange rate updated")
	}

	// Provider list prices change rarely; until a scraper exists the
	// sheet is re-persisted with the defaults so operators can inspect
	// it in the database; each refresh overwrites the stored sheet. The
	// write is not cut short by cancellation of ctx.
	pricing := defaultPricing()
	payload, _ := json.Marshal(pricing)
	if err := s.store.SetExternalData(context.WithoutCancel(ctx), categoryPricing, string(payload)); err != nil {
		log.Warn().Err(err).Msg("persisting pricing failed")
	}
	s.mu.Lock()
	pricing.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	s.pricing = pricing
	s.mu.Unlock()
}

// fetchExchangeRate retrieves the USD→TWD rate with exponential backoff:
// base 1 s, factor 2, 5 attempts.
func (s *Service) fetchExchangeRate(ctx context.Context) (float64, error) {
	body, err := s.fetchWithRetry(ctx, s.baseURL, 5, time.Second)
	if err != nil {
		return 0, err
	}

	var payload map[string]struct {
		Exrate float64 `json:"Exrate"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return 0, fmt.Errorf("extdata: parse exchange rate: %w", err)
	}
	entry, ok := payload["USDTWD"]
	if !ok || entry.Exrate <= 0 {
		return 0, fmt.Errorf("extdata: USDTWD missing from response")
	}
	return entry.Exrate, nil
}

// fetchWithRetry GETs url, retrying on any failure with exponential
// backoff. The delay doubles per attempt starting from base.
func (s *Service) fetchWithRetry(ctx context.Context, url string, attempts int, base time.Duration) ([]byte, error) {
	delay := base
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		body, err := s.fetchOnce(ctx, url)
		if err == nil {
			return body, nil
		}
		lastErr = err
		log.Warn().Err(err).Int("attempt", attempt).Int("of", attempts).Str("url", url).Msg("fetch failed")

		if attempt == attempts {
			break
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		delay *= 2
	}
	return nil, fmt.Errorf("extdata: %d attempts failed: %w", attempts, lastErr)
}

func (s *Service) fetchOnce(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "lingoproxy/1.0")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body) //nolint:errcheck
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// ExchangeRate returns the current USD→TWD rate.
func (s *Service) ExchangeRate() ExchangeRate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exchange
}

// Pricing returns the current provider price sheet.
func (s *Service) Pricing() Pricing {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pricing
}
