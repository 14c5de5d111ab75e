// Package anthropic adapts the Anthropic Messages API to the structured
// completion port. The schema travels in the system prompt and the reply is
// parsed from text, since the API has no native JSON-schema response format.
package anthropic

import (
	"context"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/kailas-cloud/sightdex/internal/domain"
)

// DefaultMaxTokens caps one structured reply.
const DefaultMaxTokens = 2048

const schemaInstruction = `

Respond with a single JSON object that conforms to the JSON Schema below.
Output only the JSON object, without commentary or code fences.

JSON Schema:
`

// Config holds the provider settings.
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int64
	Temperature *float64
}

// Completer implements the structured completion port on top of the SDK.
type Completer struct {
	client      sdk.Client
	model       string
	maxTokens   int64
	temperature *float64
}

// NewCompleter creates a completer. Extra request options are passed to the SDK client.
func NewCompleter(cfg Config, opts ...option.RequestOption) *Completer {
	base := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		base = append(base, option.WithBaseURL(cfg.BaseURL))
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	return &Completer{
		client:      sdk.NewClient(append(base, opts...)...),
		model:       cfg.Model,
		maxTokens:   maxTokens,
		temperature: cfg.Temperature,
	}
}

// CompleteStructured implements the structured completion port.
func (c *Completer) CompleteStructured(ctx context.Context, req domain.StructuredRequest) (domain.StructuredResponse, error) {
	system := req.System
	if len(req.Schema) > 0 {
		system += schemaInstruction + string(req.Schema)
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(c.model),
		MaxTokens: c.maxTokens,
		System:    []sdk.TextBlockParam{{Text: system}},
		Messages:  []sdk.MessageParam{sdk.NewUserMessage(sdk.NewTextBlock(req.Prompt))},
	}
	if c.temperature != nil {
		params.Temperature = sdk.Float(*c.temperature)
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return domain.StructuredResponse{}, fmt.Errorf("%w: %w", domain.ErrCompletionProviderError,
			eris.Wrapf(err, "anthropic: %s", req.Name))
	}
	if msg.StopReason == sdk.StopReasonMaxTokens {
		return domain.StructuredResponse{}, fmt.Errorf("anthropic: %s: reply truncated at %d tokens: %w",
			req.Name, c.maxTokens, domain.ErrCompletionProviderError)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	u := usage{
		InputTokens:  msg.Usage.InputTokens,
		OutputTokens: msg.Usage.OutputTokens,
		CacheRead:    msg.Usage.CacheReadInputTokens,
		CacheWrite:   msg.Usage.CacheCreationInputTokens,
	}
	u.logCost(c.model, req.Name)

	return domain.StructuredResponse{
		Content: []byte(cleanJSON(text.String())),
		Usage: domain.CompletionUsage{
			PromptTokens:     int(u.InputTokens),
			CompletionTokens: int(u.OutputTokens),
			TotalTokens:      int(u.InputTokens + u.OutputTokens),
		},
	}, nil
}

// cleanJSON strips markdown code fences and surrounding prose from a JSON object reply.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}
	return strings.TrimSpace(text)
}

type usage struct {
	InputTokens  int64
	OutputTokens int64
	CacheRead    int64
	CacheWrite   int64
}

// per-million-token pricing: {input, output}
var modelPricing = map[string][2]float64{
	"claude-haiku-4-5":           {1.00, 5.00},
	"claude-haiku-4-5-20251001":  {1.00, 5.00},
	"claude-sonnet-4-5":          {3.00, 15.00},
	"claude-sonnet-4-5-20250929": {3.00, 15.00},
}

func (u usage) estimateCost(model string) float64 {
	p, ok := modelPricing[model]
	if !ok {
		return 0
	}
	in := float64(u.InputTokens) / 1e6 * p[0]
	out := float64(u.OutputTokens) / 1e6 * p[1]
	cacheWrite := float64(u.CacheWrite) / 1e6 * p[0] * 1.25
	cacheRead := float64(u.CacheRead) / 1e6 * p[0] * 0.1
	return in + out + cacheWrite + cacheRead
}

func (u usage) logCost(model, call string) {
	zap.L().Info("Completion cost",
		zap.String("model", model),
		zap.String("call", call),
		zap.Int64("input_tokens", u.InputTokens),
		zap.Int64("output_tokens", u.OutputTokens),
		zap.Int64("cache_read_tokens", u.CacheRead),
		zap.Int64("cache_write_tokens", u.CacheWrite),
		zap.Float64("estimated_cost_usd", u.estimateCost(model)),
	)
}
