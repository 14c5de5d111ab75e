// Package ratelimit backs the rate limiter with KV counters (INCR + EXPIRE NX).
package ratelimit

import (
	"context"
	"fmt"
	"time"
)

// store is the consumer interface for counter operations (ISP).
type store interface {
	Incr(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration, nx bool) error
}

// Store shares window counters across service instances.
type Store struct {
	store store
}

// New creates a KV-backed rate limit store.
func New(s store) *Store {
	return &Store{store: s}
}

// Incr bumps the window counter and lets it expire when the window closes.
func (s *Store) Incr(ctx context.Context, key string, now, windowEnd time.Time) (int64, error) {
	n, err := s.store.Incr(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("ratelimit INCR %s: %w", key, err)
	}

	// TTL only on first set (NX), so repeated hits do not extend the window.
	ttl := windowEnd.Sub(now).Round(time.Second)
	if ttl < time.Second {
		ttl = time.Second
	}
	if err := s.store.Expire(ctx, key, ttl, true); err != nil {
		return 0, fmt.Errorf("ratelimit EXPIRE %s: %w", key, err)
	}
	return n, nil
}
