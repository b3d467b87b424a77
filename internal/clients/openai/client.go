// Package openai adapts the OpenAI Chat Completions API to the
// interfaces.LLMProvider contract.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/mdharwad-acog/dproc-framework-v4-sub000/internal/common"
	"github.com/mdharwad-acog/dproc-framework-v4-sub000/internal/dperrors"
	"github.com/mdharwad-acog/dproc-framework-v4-sub000/internal/interfaces"
	"github.com/mdharwad-acog/dproc-framework-v4-sub000/internal/models"
)

const (
	DefaultModel = goopenai.GPT4o
	providerName = "openai"
)

// Client implements interfaces.LLMProvider against OpenAI's chat API.
type Client struct {
	client *goopenai.Client
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

// NewClient creates a new OpenAI-backed provider.
func NewClient(apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		client: goopenai.NewClient(apiKey),
		logger: common.NewSilentLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name identifies this provider for LLMConfig.Provider matching.
func (c *Client) Name() string { return providerName }

// Generate implements interfaces.LLMProvider.
func (c *Client) Generate(ctx context.Context, prompt string, cfg models.LLMConfig, extractJSON bool) (*interfaces.LLMResult, error) {
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}

	c.logger.Debug().Str("model", model).Int("max_tokens", cfg.MaxTokens).Msg("Generating content")

	req := goopenai.ChatCompletionRequest{
		Model: model,
		Messages: []goopenai.ChatCompletionMessage{
			{Role: goopenai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: float32(cfg.Temperature),
	}
	if cfg.MaxTokens > 0 {
		req.MaxTokens = cfg.MaxTokens
	}
	if extractJSON {
		req.ResponseFormat = &goopenai.ChatCompletionResponseFormat{Type: goopenai.ChatCompletionResponseFormatTypeJSONObject}
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, mapError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, dperrors.NewAPIResponseError(providerName, 0, errors.New("no choices in response"))
	}

	text := resp.Choices[0].Message.Content
	result := &interfaces.LLMResult{
		Text:     text,
		Provider: providerName,
		Model:    resp.Model,
		Usage:    resp.Usage.TotalTokens,
	}
	if extractJSON {
		parsed, err := parseJSONObject(text)
		if err != nil {
			return nil, dperrors.NewAPIResponseError(providerName, 0, err)
		}
		result.JSON = parsed
	}
	return result, nil
}

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

// mapError translates the SDK's HTTP-level failures into the shared error
// taxonomy (spec.md §5's 401/429/403 mapping).
func mapError(err error) error {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case 401:
			return dperrors.NewAPIKeyInvalid(providerName)
		case 403:
			return dperrors.NewQuotaExceeded(providerName)
		case 429:
			return dperrors.NewRateLimit(providerName, 0)
		default:
			return dperrors.NewAPIResponseError(providerName, apiErr.HTTPStatusCode, err)
		}
	}
	return dperrors.NewAPIResponseError(providerName, 0, err)
}

var _ interfaces.LLMProvider = (*Client)(nil)
