package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

const defaultOpenAIBaseURL = "https://api.openai.com"

const openaiTranslatePrompt = `You are a professional translator API. Your task is to translate the user's text accurately.

Rules:
1. Translate from %s to %s
2. Preserve ALL HTML tags exactly as they appear
3. Preserve ALL variables (e.g., {{name}}, {{0}}, %%s) exactly as they appear
4. Do not add explanations or notes
5. Return ONLY the translated text, nothing else

Respond with a JSON object: {"translation": "your translated text here"}`

const openaiRefinePrompt = `You are a localization expert specializing in making translations sound natural and fluent.

Your task is to improve the draft translation for better readability while maintaining accuracy.

Rules:
1. Keep technical terms and proper nouns consistent
2. Improve naturalness and flow without changing the meaning
3. Preserve ALL HTML tags and variables exactly
4. Do not add explanations

Respond with a JSON object: {"refined": "your refined translation here"}`

// OpenAIPricing holds the per-million-token prices used for cost estimates.
type OpenAIPricing struct {
	InputUSD  float64 // per 1M input tokens
	OutputUSD float64 // per 1M output tokens
}

// OpenAI translates and refines through the chat-completions API. It sits
// behind DeepL in the failover order and doubles as the refinement stage.
type OpenAI struct {
	apiKey         string
	baseURL        string
	translateModel string
	refineModel    string
	pricing        OpenAIPricing
	client         *http.Client
	encoderOnce    sync.Once
	encoder        *tiktoken.Tiktoken
	encoderInitErr error
}

// NewOpenAI creates an OpenAI client.
func NewOpenAI(apiKey, translateModel, refineModel string, pricing OpenAIPricing, timeout time.Duration) *OpenAI {
	return &OpenAI{
		apiKey:         apiKey,
		baseURL:        defaultOpenAIBaseURL,
		translateModel: translateModel,
		refineModel:    refineModel,
		pricing:        pricing,
		client:         &http.Client{Timeout: timeout},
	}
}

// NewOpenAIWithBaseURL is used by tests to point at a stub server.
func NewOpenAIWithBaseURL(apiKey, translateModel, refineModel string, pricing OpenAIPricing, baseURL string, timeout time.Duration) *OpenAI {
	o := NewOpenAI(apiKey, translateModel, refineModel, pricing, timeout)
	o.baseURL = strings.TrimRight(baseURL, "/")
	return o
}

func (o *OpenAI) Name() string { return NameOpenAI }

// tokenizer lazily loads the tiktoken encoder for the translation model,
// falling back to cl100k_base for models the library does not know.
func (o *OpenAI) tokenizer() (*tiktoken.Tiktoken, error) {
	o.encoderOnce.Do(func() {
		enc, err := tiktoken.EncodingForModel(o.translateModel)
		if err != nil {
			enc, err = tiktoken.GetEncoding("cl100k_base")
		}
		o.encoder, o.encoderInitErr = enc, err
	})
	return o.encoder, o.encoderInitErr
}

// CountTokens counts tokens in text with the model's encoding. It returns a
// rune-based estimate when the encoder cannot be loaded.
func (o *OpenAI) CountTokens(text string) int64 {
	enc, err := o.tokenizer()
	if err != nil {
		return int64(utf8.RuneCountInString(text))
	}
	return int64(len(enc.Encode(text, nil, nil)))
}

func (o *OpenAI) estimateCost(tokensIn, tokensOut int64) float64 {
	return float64(tokensIn)/1_000_000*o.pricing.InputUSD +
		float64(tokensOut)/1_000_000*o.pricing.OutputUSD
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	Temperature    float64       `json:"temperature"`
	MaxTokens      int64         `json:"max_tokens"`
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
	Usage struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	} `json:"error"`
}

// complete runs one chat completion and returns the content plus token
// counts. inputTokens is the local estimate used when the API omits usage.
func (o *OpenAI) complete(ctx context.Context, model, systemPrompt, userContent string, temperature float64) (content string, tokensIn, tokensOut int64, err error) {
	if o.apiKey == "" {
		return "", 0, 0, fmt.Errorf("openai: no API key: %w", ErrAuthFailure)
	}

	inputTokens := o.CountTokens(systemPrompt + userContent)
	maxTokens := inputTokens * 2
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

	resp, err := o.client.Do(req)
	if err != nil {
		return "", 0, 0, fmt.Errorf("openai: request failed: %v: %w", err, ErrUnavailable)
	}
	defer resp.Body.Close()

	var body chatResponse
	decodeErr := json.NewDecoder(resp.Body).Decode(&body)

	if err := openaiStatusError(resp.StatusCode, &body); err != nil {
		return "", 0, 0, err
	}
	if decodeErr != nil {
		return "", 0, 0, fmt.Errorf("openai: decode response: %w", decodeErr)
	}
	if len(body.Choices) == 0 {
		return "", 0, 0, fmt.Errorf("openai: empty choices")
	}

	content = body.Choices[0].Message.Content
	tokensIn = body.Usage.PromptTokens
	if tokensIn == 0 {
		tokensIn = inputTokens
	}
	tokensOut = body.Usage.CompletionTokens
	if tokensOut == 0 {
		tokensOut = o.CountTokens(content)
	}
	return content, tokensIn, tokensOut, nil
}

func openaiStatusError(status int, body *chatResponse) error {
	if status == http.StatusOK {
		return nil
	}
	msg := ""
	code := ""
	if body != nil && body.Error != nil {
		msg = body.Error.Message
		code = body.Error.Code
	}
	switch {
	case status == http.StatusTooManyRequests:
		if code == "insufficient_quota" {
			return fmt.Errorf("openai: %s: %w", msg, ErrQuotaExceeded)
		}
		return fmt.Errorf("openai: status 429: %s: %w", msg, ErrRateLimited)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("openai: status %d: %s: %w", status, msg, ErrAuthFailure)
	case status == http.StatusBadRequest && strings.Contains(strings.ToLower(msg+code), "context_length"):
		return fmt.Errorf("openai: %s: %w", msg, ErrContextWindow)
	case status >= 500:
		return fmt.Errorf("openai: status %d: %w", status, ErrUnavailable)
	default:
		return fmt.Errorf("openai: unexpected status %d: %s", status, msg)
	}
}

// Translate runs a chat completion with the translation prompt. The model is
// asked for {"translation": ...}; if the content is not valid JSON the raw
// text is used as-is. An empty sourceLang asks the model to detect it.
func (o *OpenAI) Translate(ctx context.Context, text, sourceLang, targetLang string) (*Result, error) {
	if sourceLang == "" {
		sourceLang = "the detected source language"
	}
	systemPrompt := fmt.Sprintf(openaiTranslatePrompt, sourceLang, targetLang)

	userPayload, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return nil, fmt.Errorf("openai: marshal user content: %w", err)
	}

	content, tokensIn, tokensOut, err := o.complete(ctx, o.translateModel, systemPrompt, string(userPayload), 0.1)
	if err != nil {
		return nil, err
	}

	translated := extractJSONField(content, "translation")

	return &Result{
		Text:      translated,
		Provider:  NameOpenAI,
		CharCount: int64(utf8.RuneCountInString(text)),
		TokensIn:  tokensIn,
		TokensOut: tokensOut,
		CostUSD:   o.estimateCost(tokensIn, tokensOut),
	}, nil
}

// Refine improves a draft translation with the refinement prompt. An empty
// model falls back to the configured refinement model.
func (o *OpenAI) Refine(ctx context.Context, original, draft, sourceLang, targetLang, model string) (*Refinement, error) {
	if model == "" {
		model = o.refineModel
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

	content, tokensIn, tokensOut, err := o.complete(ctx, model, openaiRefinePrompt, string(userPayload), 0.3)
	if err != nil {
		return nil, err
	}

	return &Refinement{
		Text:      extractJSONField(content, "refined"),
		Model:     model,
		TokensIn:  tokensIn,
		TokensOut: tokensOut,
		CostUSD:   o.estimateCost(tokensIn, tokensOut),
	}, nil
}

// extractJSONField pulls field out of a JSON object, falling back to the
// trimmed raw content when the model did not return valid JSON or omitted
// the field.
func extractJSONField(content, field string) string {
	var parsed map[string]json.RawMessage
	if err := json.Unmarshal([]byte(content), &parsed); err == nil {
		if raw, ok := parsed[field]; ok {
			var value string
			if err := json.Unmarshal(raw, &value); err == nil {
				return value
			}
		}
	}
	return strings.TrimSpace(content)
}

// Available reports whether an API key is configured. No network probe:
// OpenAI has no free status endpoint worth spending tokens on.
func (o *OpenAI) Available(ctx context.Context) bool {
	return o.apiKey != ""
}
