package domain

import (
	"context"
	"encoding/json"
)

// StructuredRequest is one schema-constrained completion call.
// Schema is a JSON Schema object; providers that cannot enforce it natively
// must still return JSON and leave validation to the caller.
type StructuredRequest struct {
	Name   string
	System string
	Prompt string
	Schema json.RawMessage
}

// CompletionUsage is the token accounting of one completion call.
type CompletionUsage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// StructuredResponse carries the raw JSON document returned by the provider.
type StructuredResponse struct {
	Content json.RawMessage
	Usage   CompletionUsage
}

// Completer produces a JSON document conforming to a schema.
type Completer interface {
	CompleteStructured(ctx context.Context, req StructuredRequest) (StructuredResponse, error)
}
