// Package cleanup runs post-commit cleanup tasks in the background.
// A task never affects the outcome of the operation that scheduled it.
package cleanup

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultTimeout bounds a single cleanup task.
const DefaultTimeout = 30 * time.Second

// Task is one unit of cleanup work.
type Task func(ctx context.Context) error

// Scheduler runs tasks on their own goroutine with their own timeout.
// Failures are logged and dropped.
type Scheduler struct {
	timeout time.Duration
	logger  *zap.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewScheduler creates a scheduler. timeout <= 0 uses DefaultTimeout.
func NewScheduler(timeout time.Duration, l *zap.Logger) *Scheduler {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if l == nil {
		l = zap.NewNop()
	}
	return &Scheduler{timeout: timeout, logger: l}
}

// Schedule starts task in the background. The caller's cancellation does not
// propagate: the task runs after the request that scheduled it has returned.
// Returns false if the scheduler is already closed.
func (s *Scheduler) Schedule(ctx context.Context, name string, task Task) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.logger.Warn("Cleanup task dropped after shutdown", zap.String("task", name))
		return false
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		s.run(context.WithoutCancel(ctx), name, task)
	}()
	return true
}

func (s *Scheduler) run(ctx context.Context, name string, task Task) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Cleanup task panicked", zap.String("task", name), zap.Any("panic", r))
		}
	}()

	start := time.Now()
	if err := task(ctx); err != nil {
		s.logger.Error("Cleanup task failed",
			zap.String("task", name),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err),
		)
		return
	}
	s.logger.Debug("Cleanup task completed", zap.String("task", name), zap.Duration("duration", time.Since(start)))
}

// Close stops accepting tasks and waits for running ones, or until ctx ends.
func (s *Scheduler) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
