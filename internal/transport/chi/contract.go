package chi

import (
	"context"

	domattr "github.com/kailas-cloud/sightdex/internal/domain/attribute"
	dommem "github.com/kailas-cloud/sightdex/internal/domain/memory"
	domrec "github.com/kailas-cloud/sightdex/internal/domain/record"
	"github.com/kailas-cloud/sightdex/internal/domain/search/request"
	"github.com/kailas-cloud/sightdex/internal/domain/value"
	"github.com/kailas-cloud/sightdex/internal/usecase/extraction"
	healthuc "github.com/kailas-cloud/sightdex/internal/usecase/health"
	memoryuc "github.com/kailas-cloud/sightdex/internal/usecase/memory"
	recorduc "github.com/kailas-cloud/sightdex/internal/usecase/record"
	"github.com/kailas-cloud/sightdex/internal/usecase/retrieval"
)

// Searcher runs hybrid retrieval.
type Searcher interface {
	Search(ctx context.Context, req *request.Request) (retrieval.Response, error)
}

// Extractor runs and publishes attribute extraction.
type Extractor interface {
	Extract(ctx context.Context, req extraction.Request) (extraction.Response, error)
	Publish(ctx context.Context, recordID, category string, attrs []domattr.Extracted) (extraction.PublishResult, error)
}

// Records ingests and reads experience records.
type Records interface {
	Ingest(ctx context.Context, in recorduc.IngestInput) (recorduc.IngestResult, error)
	Get(ctx context.Context, id string) (domrec.Record, error)
	LinkWitnesses(ctx context.Context, recordID string, witnessIDs []string) error
}

// Memories manages personalization memories.
type Memories interface {
	Save(ctx context.Context, in memoryuc.SaveInput) (dommem.Memory, error)
	SaveManual(ctx context.Context, userID string, scope dommem.Scope, key string, v value.Value) (dommem.Memory, error)
	ListActive(ctx context.Context, userID string) ([]dommem.Memory, error)
	Reinforce(ctx context.Context, userID, id string, boost float64) (dommem.Memory, error)
	Decay(ctx context.Context, userID, id string, amount float64) (memoryuc.DecayResult, error)
	Delete(ctx context.Context, userID, id string) error
	Prompt(ctx context.Context, userID, base string) (string, error)
	ExtractFromConversation(ctx context.Context, userID, transcript string) (memoryuc.ExtractResult, error)
}

// HealthChecker aggregates component checks.
type HealthChecker interface {
	Check(ctx context.Context) healthuc.Report
}
