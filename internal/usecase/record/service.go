// Package record ingests experience records: vectorize, extract attributes,
// index, then publish attributes and witness links.
package record

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/sightdex/internal/domain"
	domrec "github.com/kailas-cloud/sightdex/internal/domain/record"
	"github.com/kailas-cloud/sightdex/internal/logger"
	"github.com/kailas-cloud/sightdex/internal/usecase/extraction"
)

// extractAttempts is one call plus one retry on a retryable failure.
const extractAttempts = 2

// IngestInput is a record as submitted by a client.
type IngestInput struct {
	Record     domrec.Record
	WitnessIDs []string
}

// IngestResult reports what ingest stored.
type IngestResult struct {
	Record                domrec.Record
	Extraction            *extraction.Response
	ExtractionUnavailable bool
	Publish               extraction.PublishResult
}

// Service orchestrates record ingest.
type Service struct {
	repo      Repository
	reader    Reader
	embedder  Embedder
	extractor Extractor
	witnesses WitnessLinker
	now       func() time.Time
}

// Option configures the service.
type Option func(*Service)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithReader enables Get.
func WithReader(r Reader) Option {
	return func(s *Service) { s.reader = r }
}

// New creates a Service. extractor and witnesses may be nil.
func New(repo Repository, embedder Embedder, extractor Extractor, witnesses WitnessLinker, opts ...Option) *Service {
	s := &Service{
		repo:      repo,
		embedder:  embedder,
		extractor: extractor,
		witnesses: witnesses,
		now:       time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Ingest vectorizes and indexes a record. Extraction is retried once; if it
// still fails the record is indexed without attributes and flagged.
func (s *Service) Ingest(ctx context.Context, in IngestInput) (IngestResult, error) {
	rec := in.Record
	rec.Tags = domrec.NormalizeTags(rec.Tags)
	if err := rec.Validate(); err != nil {
		return IngestResult{}, fmt.Errorf("%w: %w", domain.ErrInvalidRequest, err)
	}
	if s.witnesses == nil && len(in.WitnessIDs) > 0 {
		return IngestResult{}, fmt.Errorf("%w: witness links are not configured", domain.ErrInvalidRequest)
	}

	ctx = logger.With(ctx, zap.String("record_id", rec.ID))
	log := logger.FromContext(ctx)

	emb, err := s.embedder.Embed(ctx, embedText(&rec))
	if err != nil {
		return IngestResult{}, fmt.Errorf("vectorize record: %w", err)
	}
	domain.UsageFromContext(ctx).AddEmbeddingTokens(emb.TotalTokens)
	rec.Vector = emb.Embedding

	res := IngestResult{}
	if s.extractor != nil {
		out, err := s.extract(ctx, &rec)
		if err != nil {
			log.Warn("Extraction unavailable, indexing without attributes", zap.Error(err))
			rec.ExtractionUnavailable = true
			res.ExtractionUnavailable = true
		} else {
			applyExtraction(&rec, &out)
			res.Extraction = &out
		}
	}

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now().UTC()
	}
	if err := s.repo.Upsert(ctx, &rec); err != nil {
		return IngestResult{}, fmt.Errorf("index record: %w", err)
	}

	if res.Extraction != nil {
		pub, err := s.extractor.Publish(ctx, rec.ID, rec.CategorySlug, res.Extraction.Attributes)
		if err != nil {
			return IngestResult{}, fmt.Errorf("publish attributes: %w", err)
		}
		res.Publish = pub
	}

	if len(in.WitnessIDs) > 0 {
		if err := s.witnesses.Link(ctx, rec.ID, in.WitnessIDs...); err != nil {
			return IngestResult{}, fmt.Errorf("link witnesses: %w", err)
		}
	}

	log.Debug("Record ingested",
		zap.String("category", rec.CategorySlug),
		zap.Bool("extraction_unavailable", rec.ExtractionUnavailable),
		zap.Int("attributes", res.Publish.Written),
	)

	rec.Vector = nil
	res.Record = rec
	return res, nil
}

// Get returns a stored record without its vector.
func (s *Service) Get(ctx context.Context, id string) (domrec.Record, error) {
	if s.reader == nil {
		return domrec.Record{}, fmt.Errorf("get record: no reader configured")
	}
	rec, err := s.reader.Get(ctx, id)
	if err != nil {
		return domrec.Record{}, fmt.Errorf("get record: %w", err)
	}
	rec.Vector = nil
	return rec, nil
}

// LinkWitnesses links witnessIDs to an existing record.
func (s *Service) LinkWitnesses(ctx context.Context, recordID string, witnessIDs []string) error {
	if s.witnesses == nil {
		return fmt.Errorf("%w: witness links are not configured", domain.ErrInvalidRequest)
	}
	for _, w := range witnessIDs {
		if w == recordID {
			return fmt.Errorf("%w: a record cannot witness itself", domain.ErrInvalidRequest)
		}
	}
	if s.reader != nil {
		if _, err := s.reader.Get(ctx, recordID); err != nil {
			return fmt.Errorf("link witnesses: %w", err)
		}
	}
	if err := s.witnesses.Link(ctx, recordID, witnessIDs...); err != nil {
		return fmt.Errorf("link witnesses: %w", err)
	}
	return nil
}

func (s *Service) extract(ctx context.Context, rec *domrec.Record) (extraction.Response, error) {
	req := extraction.Request{Text: embedText(rec), CategorySlug: rec.CategorySlug}
	var err error
	for attempt := 1; attempt <= extractAttempts; attempt++ {
		var out extraction.Response
		out, err = s.extractor.Extract(ctx, req)
		if err == nil {
			return out, nil
		}
		if !domain.IsRetryable(err) || errors.Is(err, context.Canceled) {
			break
		}
	}
	return extraction.Response{}, err
}

// applyExtraction takes the resolved category and fills fields the client left empty.
// An unknown client category was replaced by detection, so out.Category wins.
func applyExtraction(rec *domrec.Record, out *extraction.Response) {
	if out.Category != "" {
		rec.CategorySlug = out.Category
	}
	if strings.TrimSpace(rec.Title) == "" {
		rec.Title = out.Title
	}
	rec.Tags = domrec.NormalizeTags(append(rec.Tags, out.Tags...))
}

func embedText(rec *domrec.Record) string {
	if t := strings.TrimSpace(rec.Title); t != "" {
		return t + "\n\n" + rec.Body
	}
	return rec.Body
}
