package retrieval

import (
	"context"
	"testing"

	"github.com/kailas-cloud/sightdex/internal/db"
	"github.com/kailas-cloud/sightdex/internal/domain/search/fusion"
)

// mockStore implements the consumer interface for tests.
type mockStore struct {
	searchKNNFn  func(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error)
	searchBM25Fn func(ctx context.Context, q *db.TextQuery) (*db.SearchResult, error)
	textSearch   bool
}

func (m *mockStore) SearchKNN(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error) {
	if m.searchKNNFn != nil {
		return m.searchKNNFn(ctx, q)
	}
	return &db.SearchResult{}, nil
}

func (m *mockStore) SearchBM25(ctx context.Context, q *db.TextQuery) (*db.SearchResult, error) {
	if m.searchBM25Fn != nil {
		return m.searchBM25Fn(ctx, q)
	}
	return &db.SearchResult{}, nil
}

func (m *mockStore) SupportsTextSearch(_ context.Context) bool { return m.textSearch }

func newTestRepo(t *testing.T) (*Repo, *mockStore) {
	t.Helper()
	ms := &mockStore{textSearch: true}
	return New(ms, fusion.WeightedSum), ms
}

func entry(id string, score float64) db.SearchEntry {
	return db.SearchEntry{
		Key:    "sightdex:record:" + id,
		Score:  score,
		Fields: map[string]string{"title": "title-" + id, "tags": "a,b"},
	}
}
