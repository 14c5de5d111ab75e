package extraction

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/kailas-cloud/sightdex/internal/domain"
	domattr "github.com/kailas-cloud/sightdex/internal/domain/attribute"
	"github.com/kailas-cloud/sightdex/internal/logger"
)

// PublishResult reports what a publish committed.
type PublishResult struct {
	Written          int
	Stale            []string
	CleanupScheduled bool
}

// Publish validates attrs against the catalog, commits them, then schedules
// removal of keys the record no longer carries. The removal skips keys a
// later publish has rewritten. Nothing is written if any
// value violates the schema. Cleanup failures are logged, never returned.
func (s *Service) Publish(ctx context.Context, recordID, category string, attrs []domattr.Extracted) (PublishResult, error) {
	if recordID == "" {
		return PublishResult{}, fmt.Errorf("%w: record id is required", domain.ErrInvalidRequest)
	}
	if category != "" && !s.catalog.HasCategory(category) {
		return PublishResult{}, fmt.Errorf("%w: unknown category %q", domain.ErrInvalidRequest, category)
	}
	if s.attrs == nil {
		return PublishResult{}, fmt.Errorf("publish: no attribute store configured")
	}

	lookup := domattr.Lookup(s.catalog.ForCategory(category))
	clean := make([]domattr.Extracted, 0, len(attrs))
	seen := make(map[string]struct{}, len(attrs))
	for _, a := range attrs {
		entry, ok := lookup[a.Key]
		if !ok {
			return PublishResult{}, &domain.SchemaViolationError{Key: a.Key, Value: strings.Join(a.Value.Strings(), ",")}
		}
		if _, dup := seen[a.Key]; dup {
			return PublishResult{}, fmt.Errorf("%w: duplicate attribute %q", domain.ErrInvalidRequest, a.Key)
		}
		seen[a.Key] = struct{}{}

		v := a.Value.Canonical()
		if err := conform(entry, v); err != nil {
			return PublishResult{}, err
		}
		a.Value = v
		a.Confidence = clampConfidence(a.Confidence)
		clean = append(clean, a)
	}

	stale, err := s.attrs.Replace(ctx, recordID, clean)
	if err != nil {
		return PublishResult{}, fmt.Errorf("publish attributes: %w", err)
	}

	res := PublishResult{Written: len(clean), Stale: stale.Keys()}
	if len(stale) > 0 && s.cleanup != nil {
		res.CleanupScheduled = s.cleanup.Schedule(ctx, "attributes:"+recordID, func(ctx context.Context) error {
			return s.attrs.RemoveStale(ctx, recordID, stale)
		})
	}

	logger.FromContext(ctx).Debug("Attributes published",
		zap.String("record_id", recordID),
		zap.Int("written", res.Written),
		zap.Strings("stale", res.Stale),
	)
	return res, nil
}
