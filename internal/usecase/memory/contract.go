package memory

import (
	"context"
	"time"

	"github.com/kailas-cloud/sightdex/internal/domain"
	dommem "github.com/kailas-cloud/sightdex/internal/domain/memory"
)

// Repository persists memories. Upsert is keyed by (UserID, Scope, Key) and last write wins.
type Repository interface {
	Upsert(ctx context.Context, m *dommem.Memory) (dommem.Memory, error)
	Get(ctx context.Context, userID, id string) (dommem.Memory, error)
	ListActive(ctx context.Context, userID string, now time.Time) ([]dommem.Memory, error)
	UpdateConfidence(ctx context.Context, userID, id string, confidence float64, now time.Time) (dommem.Memory, error)
	Delete(ctx context.Context, userID, id string) error
}

// Completer produces schema-constrained JSON for conversation extraction.
type Completer interface {
	CompleteStructured(ctx context.Context, req domain.StructuredRequest) (domain.StructuredResponse, error)
}
