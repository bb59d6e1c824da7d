package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const translateScope = "https://www.googleapis.com/auth/cloud-translation"

// DefaultGooglePricePerMillionChars is the list price per million
// characters after the monthly free tier.
const DefaultGooglePricePerMillionChars = 20.0

// googleLangMap maps generic codes to BCP-47 with uppercased region.
var googleLangMap = map[string]string{
	"zh-tw": "zh-TW",
	"zh-cn": "zh-CN",
	"zh":    "zh-CN",
	"pt-br": "pt-BR",
}

// Google is the cloud MT tier, the most expensive and therefore last in
// the failover chain. It talks to the Cloud Translation v3 REST API with
// a token source built from a service-account file or application default
// credentials.
type Google struct {
	credentialsPath string
	projectID       string
	baseURL         string
	pricePerMillion float64
	timeout         time.Duration

	initOnce sync.Once
	initErr  error
	source   oauth2.TokenSource
	client   *http.Client
}

// GoogleConfig carries construction parameters. ProjectID may be empty
// when it can be recovered from the credentials file or environment.
type GoogleConfig struct {
	CredentialsPath string
	ProjectID       string
	BaseURL         string
	PricePerMillion float64
	Timeout         time.Duration
}

// NewGoogle creates a Google Cloud Translation backend.
func NewGoogle(cfg GoogleConfig) *Google {
	g := &Google{
		credentialsPath: cfg.CredentialsPath,
		projectID:       cfg.ProjectID,
		baseURL:         cfg.BaseURL,
		pricePerMillion: cfg.PricePerMillion,
		timeout:         cfg.Timeout,
	}
	if g.baseURL == "" {
		g.baseURL = "https://translation.googleapis.com"
	}
	if g.pricePerMillion <= 0 {
		g.pricePerMillion = DefaultGooglePricePerMillionChars
	}
	if g.timeout <= 0 {
		g.timeout = 30 * time.Second
	}
	return g
}

// Name returns the provider name.
func (g *Google) Name() string {
	return ProviderGoogle
}

// SetPricePerMillion updates the list price used for cost estimation
// (refreshed from external pricing data).
func (g *Google) SetPricePerMillion(price float64) {
	if price > 0 {
		g.pricePerMillion = price
	}
}

// initialize builds the token source and resolves the project ID exactly once,
// even under concurrent first use.
func (g *Google) initialize(ctx context.Context) error {
	g.initOnce.Do(func() {
		g.source, g.initErr = g.tokenSource(ctx)
		if g.initErr != nil {
			return
		}
		if g.projectID == "" {
			g.projectID = resolveProjectID(g.credentialsPath)
		}
		if g.projectID == "" {
			g.initErr = fmt.Errorf("google: project ID not found: %w", ErrAuth)
			return
		}
		g.client = newHTTPClient(g.timeout)
	})
	return g.initErr
}

// tokenSource prefers an explicit service-account file and falls back to
// application default credentials.
func (g *Google) tokenSource(ctx context.Context) (oauth2.TokenSource, error) {
	if g.credentialsPath != "" {
		data, err := os.ReadFile(g.credentialsPath)
		if err != nil {
			return nil, fmt.Errorf("google: read credentials %s: %v: %w", g.credentialsPath, err, ErrAuth)
		}
		creds, err := google.CredentialsFromJSON(ctx, data, translateScope)
		if err != nil {
			return nil, fmt.Errorf("google: parse credentials: %v: %w", err, ErrAuth)
		}
		if g.projectID == "" {
			g.projectID = creds.ProjectID
		}
		return creds.TokenSource, nil
	}

	creds, err := google.FindDefaultCredentials(ctx, translateScope)
	if err != nil {
		return nil, fmt.Errorf("google: default credentials: %v: %w", err, ErrAuth)
	}
	if g.projectID == "" {
		g.projectID = creds.ProjectID
	}
	return creds.TokenSource, nil
}

// resolveProjectID recovers the project ID from the credentials file or
// the usual environment variables.
func resolveProjectID(credentialsPath string) string {
	if credentialsPath != "" {
		if data, err := os.ReadFile(credentialsPath); err == nil {
			var creds struct {
				ProjectID      string `json:"project_id"`
				QuotaProjectID string `json:"quota_project_id"`
			}
			if json.Unmarshal(data, &creds) == nil {
				if creds.ProjectID != "" {
					return creds.ProjectID
				}
				if creds.QuotaProjectID != "" {
					return creds.QuotaProjectID
				}
			}
		}
	}
	for _, env := range []string{"GOOGLE_CLOUD_PROJECT", "GCLOUD_PROJECT", "CLOUDSDK_CORE_PROJECT"} {
		if v := os.Getenv(env); v != "" {
			return v
		}
	}
	return ""
}

// mapLanguage maps a generic code to Google's BCP-47 form.
func (g *Google) mapLanguage(lang string) string {
	lower := strings.ToLower(lang)
	if mapped, ok := googleLangMap[lower]; ok {
		return mapped
	}
	return lower
}

type googleTranslateRequest struct {
	Contents           []string `json:"contents"`
	MimeType           string   `json:"mimeType"`
	SourceLanguageCode string   `json:"sourceLanguageCode,omitempty"`
	TargetLanguageCode string   `json:"targetLanguageCode"`
}

type googleTranslateResponse struct {
	Translations []struct {
		TranslatedText string `json:"translatedText"`
	} `json:"translations"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// Translate calls the v3 translateText method. An empty sourceLang lets
// the service detect the language.
func (g *Google) Translate(ctx context.Context, text, sourceLang, targetLang string) (*Result, error) {
	if err := g.initialize(ctx); err != nil {
		return nil, err
	}

	reqBody := googleTranslateRequest{
		Contents:           []string{text},
		MimeType:           "text/plain",
		TargetLanguageCode: g.mapLanguage(targetLang),
	}
	if sourceLang != "" {
		reqBody.SourceLanguageCode = g.mapLanguage(sourceLang)
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("google: marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v3/projects/%s/locations/global:translateText", g.baseURL, g.projectID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("google: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if err := g.authorize(req); err != nil {
		return nil, err
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("google: %v: %w", err, ErrUnavailable)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("google: read response: %w", ErrUnavailable)
	}

	var parsed googleTranslateResponse
	if err := json.Unmarshal(body, &parsed); err != nil && resp.StatusCode == http.StatusOK {
		return nil, fmt.Errorf("google: parse response: %w", ErrUnavailable)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, googleStatusError(resp.StatusCode, &parsed)
	}
	if len(parsed.Translations) == 0 {
		return nil, fmt.Errorf("google: empty translation list: %w", ErrUnavailable)
	}

	charCount := utf8.RuneCountInString(text)
	return &Result{
		Text:          parsed.Translations[0].TranslatedText,
		Provider:      ProviderGoogle,
		CharCount:     charCount,
		CostEstimated: float64(charCount) / 1_000_000 * g.pricePerMillion,
	}, nil
}

// authorize attaches a fresh bearer token from the token source.
func (g *Google) authorize(req *http.Request) error {
	token, err := g.source.Token()
	if err != nil {
		return fmt.Errorf("google: fetch token: %v: %w", err, ErrAuth)
	}
	token.SetAuthHeader(req)
	return nil
}

// googleStatusError maps a non-200 response to the shared taxonomy.
func googleStatusError(status int, parsed *googleTranslateResponse) error {
	msg := http.StatusText(status)
	if parsed != nil && parsed.Error != nil && parsed.Error.Message != "" {
		msg = parsed.Error.Message
	}

	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("google: %s: %w", msg, ErrAuth)
	case http.StatusTooManyRequests:
		return fmt.Errorf("google: %s: %w", msg, ErrRateLimited)
	default:
		return fmt.Errorf("google: %s (status %d): %w", msg, status, ErrUnavailable)
	}
}

// Available reports whether credentials resolve and a project ID is known.
// It does not issue a billable request.
func (g *Google) Available(ctx context.Context) bool {
	if g.credentialsPath != "" {
		if _, err := os.Stat(g.credentialsPath); err != nil {
			return false
		}
	}
	if err := g.initialize(ctx); err != nil {
		log.Debug().Err(err).Msg("google availability probe failed")
		return false
	}
	return true
}

// SupportedLanguage describes one language supported by the service.
type SupportedLanguage struct {
	LanguageCode  string `json:"languageCode"`
	DisplayName   string `json:"displayName"`
	SupportSource bool   `json:"supportSource"`
	SupportTarget bool   `json:"supportTarget"`
}

// SupportedLanguages lists the languages the service can translate,
// localized to displayLanguage.
func (g *Google) SupportedLanguages(ctx context.Context, displayLanguage string) ([]SupportedLanguage, error) {
	if err := g.initialize(ctx); err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/v3/projects/%s/locations/global/supportedLanguages?displayLanguageCode=%s",
		g.baseURL, g.projectID, displayLanguage)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("google: build languages request: %w", err)
	}
	if err := g.authorize(req); err != nil {
		return nil, err
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("google: %v: %w", err, ErrUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		var parsed googleTranslateResponse
		_ = json.Unmarshal(body, &parsed)
		return nil, googleStatusError(resp.StatusCode, &parsed)
	}

	var parsed struct {
		Languages []SupportedLanguage `json:"languages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("google: parse languages: %w", ErrUnavailable)
	}
	return parsed.Languages, nil
}
