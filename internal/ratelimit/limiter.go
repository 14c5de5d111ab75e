// Package ratelimit implements a per-user fixed-window limiter.
// State lives in an injected Store and time comes from an injected Clock,
// so there is no process-wide counter.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/kailas-cloud/sightdex/internal/domain"
)

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time { return f() }

// SystemClock is the wall clock.
var SystemClock Clock = ClockFunc(time.Now)

// Store counts hits per window key. Implementations must be bounded:
// a key may be dropped once windowEnd has passed.
type Store interface {
	Incr(ctx context.Context, key string, now, windowEnd time.Time) (int64, error)
}

// Limiter allows at most limit hits per user per window.
type Limiter struct {
	store  Store
	clock  Clock
	limit  int
	window time.Duration
	prefix string
}

// New creates a limiter. limit <= 0 disables limiting.
func New(store Store, clock Clock, limit int, window time.Duration) *Limiter {
	if clock == nil {
		clock = SystemClock
	}
	if window <= 0 {
		window = time.Minute
	}
	return &Limiter{
		store:  store,
		clock:  clock,
		limit:  limit,
		window: window,
		prefix: domain.KeyPrefix + "rl:",
	}
}

// Allow records one hit for userID at now and reports whether it is within the limit.
func (l *Limiter) Allow(ctx context.Context, userID string, now time.Time) (bool, error) {
	if l == nil || l.limit <= 0 {
		return true, nil
	}
	if userID == "" {
		return false, fmt.Errorf("user id is required: %w", domain.ErrInvalidRequest)
	}

	start := now.Truncate(l.window)
	end := start.Add(l.window)
	key := l.prefix + userID + ":" + strconv.FormatInt(start.Unix(), 10)

	n, err := l.store.Incr(ctx, key, now, end)
	if err != nil {
		return false, fmt.Errorf("rate limit %s: %w", userID, err)
	}
	return n <= int64(l.limit), nil
}

// AllowNow is Allow at the limiter's clock time.
func (l *Limiter) AllowNow(ctx context.Context, userID string) (bool, error) {
	if l == nil {
		return true, nil
	}
	return l.Allow(ctx, userID, l.clock.Now())
}

// RetryAfter returns how long until the window containing now closes.
func (l *Limiter) RetryAfter(now time.Time) time.Duration {
	if l == nil {
		return 0
	}
	return now.Truncate(l.window).Add(l.window).Sub(now)
}

// RetryAfterNow is RetryAfter at the limiter's clock time.
func (l *Limiter) RetryAfterNow() time.Duration {
	if l == nil {
		return 0
	}
	return l.RetryAfter(l.clock.Now())
}
