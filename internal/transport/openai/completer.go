package openai

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/kailas-cloud/sightdex/internal/domain"
)

// Completer produces schema-constrained JSON via response_format=json_schema.
type Completer struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
	strict      bool
	logger      *zap.Logger
}

// CompleterOption configures a Completer.
type CompleterOption func(*Completer)

// WithTemperature sets the sampling temperature.
func WithTemperature(t float32) CompleterOption {
	return func(c *Completer) { c.temperature = t }
}

// WithMaxTokens caps completion tokens.
func WithMaxTokens(n int) CompleterOption {
	return func(c *Completer) { c.maxTokens = n }
}

// WithStrict toggles strict schema enforcement. Some compatible servers reject it.
func WithStrict(strict bool) CompleterOption {
	return func(c *Completer) { c.strict = strict }
}

// NewCompleter creates a structured completion provider.
func NewCompleter(cfg *Config, opts ...CompleterOption) *Completer {
	l := cfg.Logger
	if l == nil {
		l = zap.NewNop()
	}
	c := &Completer{
		client: newClient(cfg),
		model:  cfg.Model,
		strict: true,
		logger: l,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// CompleteStructured implements the structured completion port.
func (c *Completer) CompleteStructured(ctx context.Context, req domain.StructuredRequest) (domain.StructuredResponse, error) {
	msgs := make([]openai.ChatCompletionMessage, 0, 2)
	if req.System != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Prompt})

	creq := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    msgs,
		Temperature: c.temperature,
	}
	if c.maxTokens > 0 {
		creq.MaxCompletionTokens = c.maxTokens
	}
	if len(req.Schema) > 0 {
		creq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   req.Name,
				Schema: req.Schema,
				Strict: c.strict,
			},
		}
	} else {
		creq.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}

	resp, err := c.client.CreateChatCompletion(ctx, creq)
	if err != nil {
		return domain.StructuredResponse{}, parseAPIError(err, "completion", domain.ErrCompletionProviderError)
	}
	if len(resp.Choices) == 0 {
		return domain.StructuredResponse{}, fmt.Errorf("empty completion response: %w", domain.ErrCompletionProviderError)
	}

	choice := resp.Choices[0]
	if choice.Message.Refusal != "" {
		return domain.StructuredResponse{}, fmt.Errorf("completion refused: %s: %w", choice.Message.Refusal, domain.ErrCompletionProviderError)
	}
	if choice.FinishReason == openai.FinishReasonLength {
		return domain.StructuredResponse{}, fmt.Errorf("completion truncated at max tokens: %w", domain.ErrCompletionProviderError)
	}

	c.logger.Debug("Structured completion",
		zap.String("name", req.Name),
		zap.String("model", c.model),
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens),
	)

	return domain.StructuredResponse{
		Content: []byte(strings.TrimSpace(choice.Message.Content)),
		Usage: domain.CompletionUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}
