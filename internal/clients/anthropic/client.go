// Package anthropic adapts Anthropic's Messages API to the
// interfaces.LLMProvider contract.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/mdharwad-acog/dproc-framework-v4-sub000/internal/common"
	"github.com/mdharwad-acog/dproc-framework-v4-sub000/internal/dperrors"
	"github.com/mdharwad-acog/dproc-framework-v4-sub000/internal/interfaces"
	"github.com/mdharwad-acog/dproc-framework-v4-sub000/internal/models"
)

const (
	DefaultModel     = anthropic.ModelClaudeSonnet4_5
	defaultMaxTokens = 4096
	providerName     = "anthropic"
)

// Client implements interfaces.LLMProvider against Claude.
type Client struct {
	client anthropic.Client
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

// NewClient creates a new Claude-backed provider.
func NewClient(apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
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
	model := anthropic.Model(cfg.Model)
	if cfg.Model == "" {
		model = DefaultModel
	}
	maxTokens := int64(cfg.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	c.logger.Debug().Str("model", string(model)).Int64("max_tokens", maxTokens).Msg("Generating content")

	if extractJSON {
		prompt = prompt + "\n\nRespond with a single JSON object and nothing else."
	}

	message, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     model,
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return nil, mapError(err)
	}

	text := extractText(message)
	result := &interfaces.LLMResult{
		Text:     text,
		Provider: providerName,
		Model:    string(model),
		Usage:    int(message.Usage.InputTokens + message.Usage.OutputTokens),
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

func extractText(message *anthropic.Message) string {
	var sb strings.Builder
	for _, block := range message.Content {
		if text := block.Text; text != "" {
			sb.WriteString(text)
		}
	}
	return sb.String()
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
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 401:
			return dperrors.NewAPIKeyInvalid(providerName)
		case 403:
			return dperrors.NewQuotaExceeded(providerName)
		case 429:
			return dperrors.NewRateLimit(providerName, 0)
		default:
			return dperrors.NewAPIResponseError(providerName, apiErr.StatusCode, err)
		}
	}
	return dperrors.NewAPIResponseError(providerName, 0, err)
}

var _ interfaces.LLMProvider = (*Client)(nil)
