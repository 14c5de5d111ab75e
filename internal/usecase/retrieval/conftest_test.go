package retrieval

import (
	"context"
	"testing"
	"time"

	"github.com/kailas-cloud/sightdex/internal/domain"
	"github.com/kailas-cloud/sightdex/internal/domain/search/backend"
	"github.com/kailas-cloud/sightdex/internal/domain/search/candidate"
	"github.com/kailas-cloud/sightdex/internal/domain/search/filter"
	"github.com/kailas-cloud/sightdex/internal/domain/search/request"
	"github.com/kailas-cloud/sightdex/internal/domain/value"
)

type mockBackend struct {
	retrieveFn func(ctx context.Context, q backend.Query) ([]candidate.Candidate, error)
	noText     bool
	lastQuery  backend.Query
}

func (m *mockBackend) Retrieve(ctx context.Context, q backend.Query) ([]candidate.Candidate, error) {
	m.lastQuery = q
	if m.retrieveFn != nil {
		return m.retrieveFn(ctx, q)
	}
	return nil, nil
}

func (m *mockBackend) SupportsTextSearch(context.Context) bool { return !m.noText }

type mockVectors struct {
	vectorFn func(ctx context.Context, id string) ([]float32, error)
}

func (m *mockVectors) Vector(ctx context.Context, id string) ([]float32, error) {
	return m.vectorFn(ctx, id)
}

type mockEmbedder struct {
	embedFn func(ctx context.Context, text string) (domain.EmbeddingResult, error)
	calls   int
}

func (m *mockEmbedder) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	m.calls++
	if m.embedFn != nil {
		return m.embedFn(ctx, text)
	}
	return domain.EmbeddingResult{Embedding: []float32{0.1, 0.2}, TotalTokens: 4}, nil
}

type mockAttrs struct {
	fetchFn func(ctx context.Context, ids []string) (map[string]map[string][]value.Value, error)
	lastIDs []string
}

func (m *mockAttrs) FetchAttributes(ctx context.Context, ids []string) (map[string]map[string][]value.Value, error) {
	m.lastIDs = ids
	if m.fetchFn != nil {
		return m.fetchFn(ctx, ids)
	}
	return map[string]map[string][]value.Value{}, nil
}

type mockWitness struct {
	fetchFn func(ctx context.Context, ids []string) (map[string]bool, error)
	calls   int
}

func (m *mockWitness) FetchWitnessPresence(ctx context.Context, ids []string) (map[string]bool, error) {
	m.calls++
	if m.fetchFn != nil {
		return m.fetchFn(ctx, ids)
	}
	return map[string]bool{}, nil
}

type fixture struct {
	svc     *Service
	backend *mockBackend
	vectors *mockVectors
	embed   *mockEmbedder
	attrs   *mockAttrs
	witness *mockWitness
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		backend: &mockBackend{},
		vectors: &mockVectors{vectorFn: func(context.Context, string) ([]float32, error) { return nil, domain.ErrNotFound }},
		embed:   &mockEmbedder{},
		attrs:   &mockAttrs{},
		witness: &mockWitness{},
	}
	f.svc = New(f.backend, f.vectors, f.embed, f.attrs, f.witness, WithTimeout(time.Second))
	return f
}

func mustRequest(t *testing.T, text string, vector []float32, seed string, fs filter.Set, maxResults int, w *float64) *request.Request {
	t.Helper()
	req, err := request.New(text, vector, seed, fs, maxResults, w)
	if err != nil {
		t.Fatalf("request.New: %v", err)
	}
	return &req
}

func cand(id string, combined float64) candidate.Candidate {
	return candidate.Candidate{ID: id, Title: "t-" + id, CombinedScore: combined}
}

func ptr[T any](v T) *T { return &v }

func ids(cs []candidate.Candidate) []string { return candidate.IDs(cs) }

func equalIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
