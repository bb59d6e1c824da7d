package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"github.com/allaspectsdev/lingoproxy/internal/tokenizer"
)

// DefaultOpenAIModel is used for both translation and refinement unless
// overridden.
const DefaultOpenAIModel = "gpt-4o-mini"

// Default per-million-token prices for gpt-4o-mini.
const (
	DefaultOpenAIPriceInput  = 0.15
	DefaultOpenAIPriceOutput = 0.60
)

// The prompts constrain the model to a JSON object with a single key so
// the response can be unwrapped without scraping.
const translationSystemPrompt = `You are a professional translator API. Your task is to translate the user's text accurately.

Rules:
1. Translate from %s to %s
2. Preserve ALL HTML tags exactly as they appear
3. Preserve ALL variables (e.g., {name}, {0}, %%s) exactly as they appear
4. Do not add explanations or notes
5. Return ONLY the translated text, nothing else

Respond with a JSON object: {"translation": "your translated text here"}`

const refinementSystemPrompt = `You are a localization expert specializing in making translations sound natural and fluent.

Your task is to improve the draft translation for better readability while maintaining accuracy.

Rules:
1. Keep technical terms and proper nouns consistent
2. Improve naturalness and flow without changing the meaning
3. Preserve ALL HTML tags and variables exactly
4. Do not add explanations

Respond with a JSON object: {"refined": "your refined translation here"}`

// OpenAI is the LLM tier. It both translates (tier 2 of the failover
// chain) and refines drafts produced by the other tiers. Token counts are
// computed locally with tiktoken so cost can be estimated even when the
// response omits usage metadata.
type OpenAI struct {
	apiKey           string
	baseURL          string
	translationModel string
	refinementModel  string
	priceInput       float64
	priceOutput      float64
	timeout          time.Duration

	tok *tokenizer.Tokenizer

	clientOnce sync.Once
	client     *http.Client
}

// OpenAIConfig carries construction parameters; zero values fall back to
// the gpt-4o-mini defaults.
type OpenAIConfig struct {
	APIKey           string
	BaseURL          string
	TranslationModel string
	RefinementModel  string
	PriceInput       float64
	PriceOutput      float64
	Timeout          time.Duration
}

// NewOpenAI creates an OpenAI backend.
func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	o := &OpenAI{
		apiKey:           cfg.APIKey,
		baseURL:          cfg.BaseURL,
		translationModel: cfg.TranslationModel,
		refinementModel:  cfg.RefinementModel,
		priceInput:       cfg.PriceInput,
		priceOutput:      cfg.PriceOutput,
		timeout:          cfg.Timeout,
		tok:              tokenizer.New(),
	}
	if o.baseURL == "" {
		o.baseURL = "https://api.openai.com"
	}
	if o.translationModel == "" {
		o.translationModel = DefaultOpenAIModel
	}
	if o.refinementModel == "" {
		o.refinementModel = DefaultOpenAIModel
	}
	if o.priceInput <= 0 {
		o.priceInput = DefaultOpenAIPriceInput
	}
	if o.priceOutput <= 0 {
		o.priceOutput = DefaultOpenAIPriceOutput
	}
	if o.timeout <= 0 {
		o.timeout = 60 * time.Second
	}
	return o
}

// Name returns the provider name.
func (o *OpenAI) Name() string {
	return ProviderOpenAI
}

// httpClient lazily builds the shared HTTP client. Guarded so concurrent
// first requests initialize it exactly once.
func (o *OpenAI) httpClient() *http.Client {
	o.clientOnce.Do(func() {
		o.client = newHTTPClient(o.timeout)
	})
	return o.client
}

func (o *OpenAI) estimateCost(tokensIn, tokensOut int) float64 {
	return float64(tokensIn)/1_000_000*o.priceInput + float64(tokensOut)/1_000_000*o.priceOutput
}

// Chat completion wire types, trimmed to the fields this backend uses.

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	Temperature    float64       `json:"temperature"`
	MaxTokens      int           `json:"max_tokens"`
	ResponseFormat struct {
		Type string `json:"type"`
	} `json:"response_format"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Code    string `json:"code"`
		Type    string `json:"type"`
	} `json:"error"`
}

// complete performs one chat-completions call and returns the message
// content plus token counts (from the response when present, otherwise the
// local estimate).
func (o *OpenAI) complete(ctx context.Context, model, systemPrompt, userContent string, temperature float64) (content string, tokensIn, tokensOut int, err error) {
	if o.apiKey == "" {
		return "", 0, 0, fmt.Errorf("openai: API key not configured: %w", ErrAuth)
	}

	inputEstimate := o.tok.CountTokens(model, systemPrompt+userContent)
	maxTokens := inputEstimate * 2
	if maxTokens < 1000 {
		maxTokens = 1000
	}

	reqBody := chatRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userContent},
		},
		Temperature: temperature,
		MaxTokens:   maxTokens,
	}
	reqBody.ResponseFormat.Type = "json_object"

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", 0, 0, fmt.Errorf("openai: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		o.baseURL+"/v1/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", 0, 0, fmt.Errorf("openai: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+o.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient().Do(req)
	if err != nil {
		return "", 0, 0, fmt.Errorf("openai: %v: %w", err, ErrUnavailable)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", 0, 0, fmt.Errorf("openai: read response: %w", ErrUnavailable)
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil && resp.StatusCode == http.StatusOK {
		return "", 0, 0, fmt.Errorf("openai: parse response: %w", ErrUnavailable)
	}

	if resp.StatusCode != http.StatusOK {
		return "", 0, 0, openaiStatusError(resp.StatusCode, &parsed)
	}
	if len(parsed.Choices) == 0 {
		return "", 0, 0, fmt.Errorf("openai: empty choices: %w", ErrUnavailable)
	}

	content = parsed.Choices[0].Message.Content
	tokensIn = inputEstimate
	tokensOut = o.tok.CountTokens(model, content)
	if parsed.Usage != nil {
		tokensIn = parsed.Usage.PromptTokens
		tokensOut = parsed.Usage.CompletionTokens
	}
	return content, tokensIn, tokensOut, nil
}

// openaiStatusError maps a non-200 response to the shared taxonomy.
func openaiStatusError(status int, parsed *chatResponse) error {
	msg := http.StatusText(status)
	code := ""
	if parsed != nil && parsed.Error != nil {
		if parsed.Error.Message != "" {
			msg = parsed.Error.Message
		}
		code = parsed.Error.Code
	}

	switch {
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("openai: %s: %w", msg, ErrRateLimited)
	case code == "context_length_exceeded" || strings.Contains(strings.ToLower(msg), "context_length_exceeded"):
		return fmt.Errorf("openai: %s: %w", msg, ErrContextWindow)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("openai: %s: %w", msg, ErrAuth)
	default:
		return fmt.Errorf("openai: %s (status %d): %w", msg, status, ErrUnavailable)
	}
}

// unwrapJSONField extracts field from a {"<field>": "..."} payload. When
// the payload is not the expected JSON shape, the raw content is returned
// verbatim: a malformed response still carries a usable translation more
// often than not.
func unwrapJSONField(content, field string) string {
	var payload map[string]any
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		return strings.TrimSpace(content)
	}
	if v, ok := payload[field].(string); ok {
		return v
	}
	return strings.TrimSpace(content)
}

// Translate translates text with the configured translation model. An
// empty sourceLang is forwarded as "auto" inside the prompt.
func (o *OpenAI) Translate(ctx context.Context, text, sourceLang, targetLang string) (*Result, error) {
	src := sourceLang
	if src == "" {
		src = "auto"
	}
	systemPrompt := fmt.Sprintf(translationSystemPrompt, src, targetLang)

	userPayload, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return nil, fmt.Errorf("openai: marshal user content: %w", err)
	}

	content, tokensIn, tokensOut, err := o.complete(ctx, o.translationModel, systemPrompt, string(userPayload), 0.1)
	if err != nil {
		return nil, err
	}

	return &Result{
		Text:          unwrapJSONField(content, "translation"),
		Provider:      ProviderOpenAI,
		CharCount:     utf8.RuneCountInString(text),
		TokenInput:    tokensIn,
		TokenOutput:   tokensOut,
		CostEstimated: o.estimateCost(tokensIn, tokensOut),
	}, nil
}

// Refine improves a draft translation. model may be empty to use the
// configured refinement model.
func (o *OpenAI) Refine(ctx context.Context, original, draft, sourceLang, targetLang, model string) (*Refinement, error) {
	if model == "" {
		model = o.refinementModel
	}

	userPayload, err := json.Marshal(map[string]string{
		"source_lang":       sourceLang,
		"target_lang":       targetLang,
		"original":          original,
		"draft_translation": draft,
	})
	if err != nil {
		return nil, fmt.Errorf("openai: marshal refine content: %w", err)
	}

	content, tokensIn, tokensOut, err := o.complete(ctx, model, refinementSystemPrompt, string(userPayload), 0.3)
	if err != nil {
		return nil, err
	}

	return &Refinement{
		Text:          unwrapJSONField(content, "refined"),
		Model:         model,
		TokenInput:    tokensIn,
		TokenOutput:   tokensOut,
		CostEstimated: o.estimateCost(tokensIn, tokensOut),
	}, nil
}

// Available reports whether the backend is configured and reachable by
// listing models.
func (o *OpenAI) Available(ctx context.Context) bool {
	if o.apiKey == "" {
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"/v1/models", nil)
	if err != nil {
		return false
	}
	req.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.httpClient().Do(req)
	if err != nil {
		log.Debug().Err(err).Msg("openai availability probe failed")
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body) //nolint:errcheck

	return resp.StatusCode == http.StatusOK
}
