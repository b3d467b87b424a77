// Package gemini adapts Google's Gemini API to the interfaces.LLMProvider
// contract.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/mdharwad-acog/dproc-framework-v4-sub000/internal/common"
	"github.com/mdharwad-acog/dproc-framework-v4-sub000/internal/dperrors"
	"github.com/mdharwad-acog/dproc-framework-v4-sub000/internal/interfaces"
	"github.com/mdharwad-acog/dproc-framework-v4-sub000/internal/models"
)

const (
	DefaultModel = "gemini-3-flash-preview"
	providerName = "google"
)

// Client implements interfaces.LLMProvider against the Gemini API.
type Client struct {
	client *genai.Client
	logger *common.Logger
}

// ClientOption configures the client.
type ClientOption func(*Client)

// WithLogger sets the logger.
func WithLogger(logger *common.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a new Gemini-backed provider.
func NewClient(ctx context.Context, apiKey string, opts ...ClientOption) (*Client, error) {
	genaiClient, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	c := &Client{
		client: genaiClient,
		logger: common.NewSilentLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Name identifies this provider for LLMConfig.Provider matching.
func (c *Client) Name() string { return providerName }

// Generate implements interfaces.LLMProvider. When extractJSON is set, the
// model is asked to respond with a single JSON object and the result's
// JSON field is populated from the parsed response.
func (c *Client) Generate(ctx context.Context, prompt string, cfg models.LLMConfig, extractJSON bool) (*interfaces.LLMResult, error) {
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}

	c.logger.Debug().Str("model", model).Int("max_tokens", cfg.MaxTokens).Msg("Generating content")

	if extractJSON {
		prompt = prompt + "\n\nRespond with a single JSON object and nothing else."
	}

	config := &genai.GenerateContentConfig{
		Temperature: float32Ptr(float32(cfg.Temperature)),
	}
	if cfg.MaxTokens > 0 {
		config.MaxOutputTokens = int32(cfg.MaxTokens)
	}

	result, err := c.client.Models.GenerateContent(ctx, model, genai.Text(prompt), config)
	if err != nil {
		return nil, mapError(err)
	}

	text, err := extractTextFromResponse(result)
	if err != nil {
		return nil, dperrors.NewAPIResponseError(providerName, 0, err)
	}

	llmResult := &interfaces.LLMResult{
		Text:     text,
		Provider: providerName,
		Model:    model,
		Usage:    usageTokens(result),
	}
	if extractJSON {
		parsed, err := parseJSONObject(text)
		if err != nil {
			return nil, dperrors.NewAPIResponseError(providerName, 0, fmt.Errorf("response was not valid JSON: %w", err))
		}
		llmResult.JSON = parsed
	}
	return llmResult, nil
}

func float32Ptr(f float32) *float32 { return &f }

// extractTextFromResponse concatenates every text part of the first candidate.
func extractTextFromResponse(result *genai.GenerateContentResponse) (string, error) {
	if len(result.Candidates) == 0 || result.Candidates[0].Content == nil || len(result.Candidates[0].Content.Parts) == 0 {
		return "", errors.New("no content generated")
	}
	var sb strings.Builder
	for _, part := range result.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}
	return sb.String(), nil
}

// parseJSONObject strips a ```json fenced block if present and unmarshals
// the remainder as an object.
func parseJSONObject(text string) (map[string]any, error) {
	trimmed := strings.TrimSpace(text)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)

	var parsed map[string]any
	if err := json.Unmarshal([]byte(trimmed), &parsed); err != nil {
		return nil, err
	}
	return parsed, nil
}

func usageTokens(result *genai.GenerateContentResponse) int {
	if result.UsageMetadata == nil {
		return 0
	}
	return int(result.UsageMetadata.TotalTokenCount)
}

// mapError translates the SDK's transport-level failures into the shared
// error taxonomy so the executor's retry/fallback logic (spec.md §5) can
// act on a Code rather than provider-specific error shapes.
func mapError(err error) error {
	var apiErr *genai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case 401:
			return dperrors.NewAPIKeyInvalid(providerName)
		case 403:
			return dperrors.NewQuotaExceeded(providerName)
		case 429:
			return dperrors.NewRateLimit(providerName, 0)
		default:
			return dperrors.NewAPIResponseError(providerName, apiErr.Code, err)
		}
	}
	return dperrors.NewAPIResponseError(providerName, 0, err)
}

var _ interfaces.LLMProvider = (*Client)(nil)
