package ratelimit

import (
	"context"
	"sync"
	"time"
)

// DefaultMaxKeys caps MemoryStore when no bound is given.
const DefaultMaxKeys = 10_000

type counter struct {
	n   int64
	end time.Time
}

// MemoryStore is a bounded in-process Store.
// When full it sweeps expired windows, then evicts the window closing first.
type MemoryStore struct {
	mu      sync.Mutex
	maxKeys int
	entries map[string]*counter
}

// NewMemoryStore creates a store holding at most maxKeys live windows.
func NewMemoryStore(maxKeys int) *MemoryStore {
	if maxKeys <= 0 {
		maxKeys = DefaultMaxKeys
	}
	return &MemoryStore{maxKeys: maxKeys, entries: make(map[string]*counter)}
}

// Incr implements Store.
func (s *MemoryStore) Incr(_ context.Context, key string, now, windowEnd time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.entries[key]; ok && now.Before(c.end) {
		c.n++
		return c.n, nil
	}
	delete(s.entries, key)

	if len(s.entries) >= s.maxKeys {
		s.evict(now)
	}
	s.entries[key] = &counter{n: 1, end: windowEnd}
	return 1, nil
}

// Len returns the number of tracked windows.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *MemoryStore) evict(now time.Time) {
	for k, c := range s.entries {
		if !now.Before(c.end) {
			delete(s.entries, k)
		}
	}
	for len(s.entries) >= s.maxKeys {
		var oldest string
		var oldestEnd time.Time
		for k, c := range s.entries {
			if oldest == "" || c.end.Before(oldestEnd) {
				oldest, oldestEnd = k, c.end
			}
		}
		delete(s.entries, oldest)
	}
}
