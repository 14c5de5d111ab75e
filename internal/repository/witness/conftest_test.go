package witness

import (
	"context"
	"testing"
)

// mockStore implements the consumer interface for tests.
type mockStore struct {
	saddFn       func(ctx context.Context, key string, members ...string) error
	scardMultiFn func(ctx context.Context, keys []string) ([]int64, error)
}

func (m *mockStore) SAdd(ctx context.Context, key string, members ...string) error {
	if m.saddFn != nil {
		return m.saddFn(ctx, key, members...)
	}
	return nil
}

func (m *mockStore) SCardMulti(ctx context.Context, keys []string) ([]int64, error) {
	if m.scardMultiFn != nil {
		return m.scardMultiFn(ctx, keys)
	}
	return make([]int64, len(keys)), nil
}

func newTestRepo(t *testing.T) (*Repo, *mockStore) {
	t.Helper()
	ms := &mockStore{}
	return New(ms), ms
}
