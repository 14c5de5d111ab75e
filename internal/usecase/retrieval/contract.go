package retrieval

import (
	"context"

	"github.com/kailas-cloud/sightdex/internal/domain"
	"github.com/kailas-cloud/sightdex/internal/domain/search/backend"
	"github.com/kailas-cloud/sightdex/internal/domain/search/candidate"
	"github.com/kailas-cloud/sightdex/internal/domain/value"
)

// Backend returns fused candidates ordered by CombinedScore.
type Backend interface {
	Retrieve(ctx context.Context, q backend.Query) ([]candidate.Candidate, error)
	SupportsTextSearch(ctx context.Context) bool
}

// VectorLookup reads the stored embedding of a record (used for similar-to queries).
type VectorLookup interface {
	Vector(ctx context.Context, id string) ([]float32, error)
}

// Embedder vectorizes query text.
type Embedder interface {
	Embed(ctx context.Context, text string) (domain.EmbeddingResult, error)
}

// AttributeFetcher bulk-loads attribute values per record id.
type AttributeFetcher interface {
	FetchAttributes(ctx context.Context, ids []string) (map[string]map[string][]value.Value, error)
}

// WitnessFetcher reports whether each record has a linked witness.
type WitnessFetcher interface {
	FetchWitnessPresence(ctx context.Context, ids []string) (map[string]bool, error)
}
