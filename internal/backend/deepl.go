package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
)

// deeplLangMap maps generic language codes to DeepL's dialect.
var deeplLangMap = map[string]string{
	"en":    "EN",
	"zh":    "ZH",
	"zh-tw": "ZH-HANT",
	"zh-cn": "ZH-HANS",
	"ja":    "JA",
	"ko":    "KO",
	"de":    "DE",
	"fr":    "FR",
	"es":    "ES",
	"it":    "IT",
	"pt":    "PT-PT",
	"pt-br": "PT-BR",
	"ru":    "RU",
	"nl":    "NL",
	"pl":    "PL",
}

// DeepL is the specialized neural MT tier. Free-tier keys (suffix ":fx")
// are routed to the free API host. Translation cost is $0: usage counts
// against the monthly character quota instead.
type DeepL struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewDeepL creates a DeepL backend. baseURL overrides the API host for
// tests; empty selects the host matching the key type.
func NewDeepL(apiKey, baseURL string, timeout time.Duration) *DeepL {
	if baseURL == "" {
		if strings.HasSuffix(apiKey, ":fx") {
			baseURL = "https://api-free.deepl.com"
		} else {
			baseURL = "https://api.deepl.com"
		}
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &DeepL{
		apiKey:  apiKey,
		baseURL: baseURL,
		client:  newHTTPClient(timeout),
	}
}

// newHTTPClient builds an HTTP client with connection pooling shared by
// all backends.
func newHTTPClient(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}
}

// Name returns the provider name.
func (d *DeepL) Name() string {
	return ProviderDeepL
}

// mapLanguage maps a generic code to DeepL's format. Target "en" must be
// disambiguated to a region variant; unmapped codes are upper-cased and
// passed through.
func (d *DeepL) mapLanguage(lang string, isTarget bool) string {
	if mapped, ok := deeplLangMap[strings.ToLower(lang)]; ok {
		if isTarget && mapped == "EN" {
			return "EN-US"
		}
		return mapped
	}
	return strings.ToUpper(lang)
}

type deeplResponse struct {
	Translations []struct {
		DetectedSourceLanguage string `json:"detected_source_language"`
		Text                   string `json:"text"`
	} `json:"translations"`
	Message string `json:"message"`
}

// Translate calls DeepL's /v2/translate endpoint. An empty sourceLang
// lets DeepL auto-detect. HTTP 456 (quota exhausted) is surfaced as
// ErrQuotaExceeded so the pipeline can latch the quota flag.
func (d *DeepL) Translate(ctx context.Context, text, sourceLang, targetLang string) (*Result, error) {
	if d.apiKey == "" {
		return nil, fmt.Errorf("deepl: API key not configured: %w", ErrAuth)
	}

	form := url.Values{}
	form.Set("text", text)
	form.Set("target_lang", d.mapLanguage(targetLang, true))
	form.Set("preserve_formatting", "1")
	if sourceLang != "" {
		form.Set("source_lang", d.mapLanguage(sourceLang, false))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		d.baseURL+"/v2/translate", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("deepl: build request: %w", err)
	}
	req.Header.Set("Authorization", "DeepL-Auth-Key "+d.apiKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("deepl: %v: %w", err, ErrUnavailable)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("deepl: read response: %w", ErrUnavailable)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, deeplStatusError(resp.StatusCode, body)
	}

	var parsed deeplResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("deepl: parse response: %w", ErrUnavailable)
	}
	if len(parsed.Translations) == 0 {
		return nil, fmt.Errorf("deepl: empty translation list: %w", ErrUnavailable)
	}

	return &Result{
		Text:      parsed.Translations[0].Text,
		Provider:  ProviderDeepL,
		CharCount: utf8.RuneCountInString(text),
	}, nil
}

// deeplStatusError maps a non-200 DeepL status to the shared taxonomy.
func deeplStatusError(status int, body []byte) error {
	var parsed deeplResponse
	_ = json.Unmarshal(body, &parsed)
	msg := parsed.Message
	if msg == "" {
		msg = http.StatusText(status)
	}

	switch {
	case status == 456:
		return fmt.Errorf("deepl: %s (status 456): %w", msg, ErrQuotaExceeded)
	case status == http.StatusForbidden, status == http.StatusUnauthorized:
		return fmt.Errorf("deepl: %s: %w", msg, ErrAuth)
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("deepl: %s: %w", msg, ErrRateLimited)
	default:
		return fmt.Errorf("deepl: %s (status %d): %w", msg, status, ErrUnavailable)
	}
}

// Usage holds DeepL's reported quota counters.
type Usage struct {
	CharacterCount int64 `json:"character_count"`
	CharacterLimit int64 `json:"character_limit"`
}

// Usage fetches the current quota counters from /v2/usage.
func (d *DeepL) Usage(ctx context.Context) (*Usage, error) {
	if d.apiKey == "" {
		return nil, fmt.Errorf("deepl: API key not configured: %w", ErrAuth)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+"/v2/usage", nil)
	if err != nil {
		return nil, fmt.Errorf("deepl: build usage request: %w", err)
	}
	req.Header.Set("Authorization", "DeepL-Auth-Key "+d.apiKey)

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("deepl: %v: %w", err, ErrUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, deeplStatusError(resp.StatusCode, body)
	}

	u := &Usage{}
	if err := json.NewDecoder(resp.Body).Decode(u); err != nil {
		return nil, fmt.Errorf("deepl: parse usage: %w", ErrUnavailable)
	}
	return u, nil
}

// Available reports whether the backend is configured and reachable by
// probing the usage endpoint.
func (d *DeepL) Available(ctx context.Context) bool {
	if d.apiKey == "" {
		return false
	}
	if _, err := d.Usage(ctx); err != nil {
		log.Debug().Err(err).Msg("deepl availability probe failed")
		return false
	}
	return true
}
