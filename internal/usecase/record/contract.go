package record

import (
	"context"

	"github.com/kailas-cloud/sightdex/internal/domain"
	domattr "github.com/kailas-cloud/sightdex/internal/domain/attribute"
	domrec "github.com/kailas-cloud/sightdex/internal/domain/record"
	"github.com/kailas-cloud/sightdex/internal/usecase/extraction"
)

// Repository stores records with their vectors (redis hash or postgres row).
type Repository interface {
	Upsert(ctx context.Context, rec *domrec.Record) error
}

// Reader loads a stored record.
type Reader interface {
	Get(ctx context.Context, id string) (domrec.Record, error)
}

// Embedder vectorizes record text.
type Embedder interface {
	Embed(ctx context.Context, text string) (domain.EmbeddingResult, error)
}

// Extractor runs the attribute pipeline and commits its output.
type Extractor interface {
	Extract(ctx context.Context, req extraction.Request) (extraction.Response, error)
	Publish(ctx context.Context, recordID, category string, attrs []domattr.Extracted) (extraction.PublishResult, error)
}

// WitnessLinker links witness records.
type WitnessLinker interface {
	Link(ctx context.Context, recordID string, witnessIDs ...string) error
}
