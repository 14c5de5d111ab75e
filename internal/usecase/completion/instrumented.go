// Package completion decorates the structured completion provider with an
// outbound throttle, per-call timeout, metrics and request usage accounting.
package completion

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kailas-cloud/sightdex/internal/domain"
	"github.com/kailas-cloud/sightdex/internal/metrics"
)

// InstrumentedCompleter wraps a provider Completer.
type InstrumentedCompleter struct {
	inner    domain.Completer
	provider string
	limiter  *rate.Limiter
	timeout  time.Duration
	logger   *zap.Logger
}

// Option configures an InstrumentedCompleter.
type Option func(*InstrumentedCompleter)

// WithRateLimit throttles outbound calls to rps per second with the given burst.
// rps <= 0 disables the throttle.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *InstrumentedCompleter) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithTimeout bounds a single provider call.
func WithTimeout(d time.Duration) Option {
	return func(c *InstrumentedCompleter) { c.timeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *InstrumentedCompleter) { c.logger = l }
}

// NewInstrumentedCompleter creates the decorator.
func NewInstrumentedCompleter(inner domain.Completer, provider string, opts ...Option) *InstrumentedCompleter {
	c := &InstrumentedCompleter{inner: inner, provider: provider, logger: zap.NewNop()}
	for _, o := range opts {
		o(c)
	}
	return c
}

// CompleteStructured waits for the throttle, then delegates with a bounded context.
func (c *InstrumentedCompleter) CompleteStructured(
	ctx context.Context, req domain.StructuredRequest,
) (domain.StructuredResponse, error) {
	log := c.logger

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			metrics.CompletionRequestsTotal.WithLabelValues(c.provider, req.Name, "throttled").Inc()
			return domain.StructuredResponse{}, fmt.Errorf("%w: completion throttle: %w", domain.ErrRateLimited, err)
		}
	}

	callCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := c.inner.CompleteStructured(callCtx, req)
	duration := time.Since(start)
	metrics.CompletionRequestDuration.WithLabelValues(c.provider, req.Name).Observe(duration.Seconds())

	if err != nil {
		metrics.CompletionRequestsTotal.WithLabelValues(c.provider, req.Name, "error").Inc()
		log.Error("Completion request failed",
			zap.String("provider", c.provider),
			zap.String("name", req.Name),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		return domain.StructuredResponse{}, fmt.Errorf("complete %s: %w", req.Name, err)
	}

	metrics.CompletionRequestsTotal.WithLabelValues(c.provider, req.Name, "success").Inc()
	metrics.CompletionTokensTotal.WithLabelValues(c.provider, "prompt").Add(float64(resp.Usage.PromptTokens))
	metrics.CompletionTokensTotal.WithLabelValues(c.provider, "completion").Add(float64(resp.Usage.CompletionTokens))
	domain.UsageFromContext(ctx).AddCompletionTokens(resp.Usage.TotalTokens)

	log.Debug("Completion request completed",
		zap.String("provider", c.provider),
		zap.String("name", req.Name),
		zap.Duration("duration", duration),
		zap.Int("total_tokens", resp.Usage.TotalTokens),
	)
	return resp, nil
}
