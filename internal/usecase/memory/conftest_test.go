package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kailas-cloud/sightdex/internal/domain"
	dommem "github.com/kailas-cloud/sightdex/internal/domain/memory"
)

// fakeRepo is an in-memory Repository with the same upsert key as the SQL stores.
type fakeRepo struct {
	mu     sync.Mutex
	seq    int
	byID   map[string]dommem.Memory
	upsert func(m *dommem.Memory) error
	getErr error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{byID: map[string]dommem.Memory{}}
}

func (r *fakeRepo) Upsert(_ context.Context, m *dommem.Memory) (dommem.Memory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.upsert != nil {
		if err := r.upsert(m); err != nil {
			return dommem.Memory{}, err
		}
	}
	for id, cur := range r.byID {
		if cur.UserID == m.UserID && cur.Scope == m.Scope && cur.Key == m.Key {
			cur.Value, cur.Confidence, cur.Source = m.Value, m.Confidence, m.Source
			cur.ExpiresAt, cur.UpdatedAt = m.ExpiresAt, m.UpdatedAt
			r.byID[id] = cur
			return cur, nil
		}
	}
	r.seq++
	saved := *m
	saved.ID = fmt.Sprintf("m%d", r.seq)
	r.byID[saved.ID] = saved
	return saved, nil
}

func (r *fakeRepo) Get(_ context.Context, userID, id string) (dommem.Memory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.getErr != nil {
		return dommem.Memory{}, r.getErr
	}
	m, ok := r.byID[id]
	if !ok || m.UserID != userID {
		return dommem.Memory{}, domain.ErrNotFound
	}
	return m, nil
}

func (r *fakeRepo) ListActive(_ context.Context, userID string, now time.Time) ([]dommem.Memory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []dommem.Memory
	for _, m := range r.byID {
		if m.UserID == userID && m.IsActive(now) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *fakeRepo) UpdateConfidence(_ context.Context, userID, id string, c float64, now time.Time) (dommem.Memory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.byID[id]
	if !ok || m.UserID != userID {
		return dommem.Memory{}, domain.ErrNotFound
	}
	m.Confidence, m.UpdatedAt = c, now
	r.byID[id] = m
	return m, nil
}

func (r *fakeRepo) Delete(_ context.Context, userID, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.byID[id]
	if !ok || m.UserID != userID {
		return domain.ErrNotFound
	}
	delete(r.byID, id)
	return nil
}

type mockCompleter struct {
	completeFn func(ctx context.Context, req domain.StructuredRequest) (domain.StructuredResponse, error)
	calls      int
}

func (m *mockCompleter) CompleteStructured(ctx context.Context, req domain.StructuredRequest) (domain.StructuredResponse, error) {
	m.calls++
	return m.completeFn(ctx, req)
}

func reply(content string) func(context.Context, domain.StructuredRequest) (domain.StructuredResponse, error) {
	return func(context.Context, domain.StructuredRequest) (domain.StructuredResponse, error) {
		return domain.StructuredResponse{Content: []byte(content)}, nil
	}
}

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestService(repo Repository, c Completer) *Service {
	return New(repo, c, WithClock(func() time.Time { return fixedNow }))
}
