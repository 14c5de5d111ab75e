package extraction

import (
	"context"

	"github.com/kailas-cloud/sightdex/internal/domain"
	domattr "github.com/kailas-cloud/sightdex/internal/domain/attribute"
	"github.com/kailas-cloud/sightdex/internal/usecase/cleanup"
)

// Completer produces schema-constrained JSON.
type Completer interface {
	CompleteStructured(ctx context.Context, req domain.StructuredRequest) (domain.StructuredResponse, error)
}

// AttributeStore commits published attribute sets.
type AttributeStore interface {
	Replace(ctx context.Context, recordID string, attrs []domattr.Extracted) (domattr.Stale, error)
	// RemoveStale must keep any field rewritten after the Replace that reported it.
	RemoveStale(ctx context.Context, recordID string, stale domattr.Stale) error
}

// Scheduler runs post-commit work in the background.
type Scheduler interface {
	Schedule(ctx context.Context, name string, task cleanup.Task) bool
}
