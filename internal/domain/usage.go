package domain

import (
	"context"
	"sync"
)

type usageKey struct{}

// Usage collects provider token usage for a single HTTP request.
// The handler puts a mutable pointer into the context before calling the service;
// decorators write after each provider call; the handler reads it for response headers.
// Retrieval fetches run concurrently, so writes are guarded.
type Usage struct {
	mu               sync.Mutex
	embeddingTokens  int
	completionTokens int
	used             bool
}

// NewContextWithUsage returns a context with an embedded usage collector.
func NewContextWithUsage(ctx context.Context) (context.Context, *Usage) {
	u := &Usage{}
	return context.WithValue(ctx, usageKey{}, u), u
}

// UsageFromContext extracts the usage collector from context. Returns nil if not set.
func UsageFromContext(ctx context.Context) *Usage {
	u, _ := ctx.Value(usageKey{}).(*Usage)
	return u
}

// AddEmbeddingTokens records tokens consumed by an embedding call.
// A cache hit still marks the collector as used with 0 tokens.
func (u *Usage) AddEmbeddingTokens(n int) {
	if u == nil {
		return
	}
	u.mu.Lock()
	u.embeddingTokens += n
	u.used = true
	u.mu.Unlock()
}

// AddCompletionTokens records tokens consumed by a structured completion call.
func (u *Usage) AddCompletionTokens(n int) {
	if u == nil {
		return
	}
	u.mu.Lock()
	u.completionTokens += n
	u.used = true
	u.mu.Unlock()
}

// Snapshot returns the collected totals.
func (u *Usage) Snapshot() (embeddingTokens, completionTokens int, used bool) {
	if u == nil {
		return 0, 0, false
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.embeddingTokens, u.completionTokens, u.used
}
