package record

import (
	"context"
	"time"

	"github.com/kailas-cloud/sightdex/internal/domain"
	domattr "github.com/kailas-cloud/sightdex/internal/domain/attribute"
	domrec "github.com/kailas-cloud/sightdex/internal/domain/record"
	"github.com/kailas-cloud/sightdex/internal/usecase/extraction"
)

// --- Mocks ---

type mockRepo struct {
	upsertFn func(ctx context.Context, rec *domrec.Record) error
	getFn    func(ctx context.Context, id string) (domrec.Record, error)
	stored   []domrec.Record
}

func (m *mockRepo) Upsert(ctx context.Context, rec *domrec.Record) error {
	if m.upsertFn != nil {
		if err := m.upsertFn(ctx, rec); err != nil {
			return err
		}
	}
	m.stored = append(m.stored, *rec)
	return nil
}

func (m *mockRepo) Get(ctx context.Context, id string) (domrec.Record, error) {
	if m.getFn != nil {
		return m.getFn(ctx, id)
	}
	for _, r := range m.stored {
		if r.ID == id {
			return r, nil
		}
	}
	return domrec.Record{}, domain.ErrNotFound
}

type mockEmbedder struct {
	embedFn func(ctx context.Context, text string) (domain.EmbeddingResult, error)
	texts   []string
}

func (m *mockEmbedder) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	m.texts = append(m.texts, text)
	if m.embedFn != nil {
		return m.embedFn(ctx, text)
	}
	return domain.EmbeddingResult{Embedding: []float32{0.1, 0.2}, TotalTokens: 6}, nil
}

type mockExtractor struct {
	extractFn func(ctx context.Context, req extraction.Request) (extraction.Response, error)
	publishFn func(ctx context.Context, recordID, category string, attrs []domattr.Extracted) (extraction.PublishResult, error)
	calls     int
	published []string
}

func (m *mockExtractor) Extract(ctx context.Context, req extraction.Request) (extraction.Response, error) {
	m.calls++
	return m.extractFn(ctx, req)
}

func (m *mockExtractor) Publish(
	ctx context.Context, recordID, category string, attrs []domattr.Extracted,
) (extraction.PublishResult, error) {
	m.published = append(m.published, recordID+"/"+category)
	if m.publishFn != nil {
		return m.publishFn(ctx, recordID, category, attrs)
	}
	return extraction.PublishResult{Written: len(attrs)}, nil
}

type mockWitnesses struct {
	linkFn func(ctx context.Context, recordID string, ids ...string) error
	links  map[string][]string
}

func (m *mockWitnesses) Link(ctx context.Context, recordID string, ids ...string) error {
	if m.linkFn != nil {
		if err := m.linkFn(ctx, recordID, ids...); err != nil {
			return err
		}
	}
	if m.links == nil {
		m.links = make(map[string][]string)
	}
	m.links[recordID] = append(m.links[recordID], ids...)
	return nil
}

var fixedNow = time.Date(2026, 3, 14, 21, 30, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }
