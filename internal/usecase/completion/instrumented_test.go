package completion

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/kailas-cloud/sightdex/internal/domain"
	"github.com/kailas-cloud/sightdex/internal/metrics"
)

type mockCompleter struct {
	completeFn func(ctx context.Context, req domain.StructuredRequest) (domain.StructuredResponse, error)
	calls      int
}

func (m *mockCompleter) CompleteStructured(
	ctx context.Context, req domain.StructuredRequest,
) (domain.StructuredResponse, error) {
	m.calls++
	if m.completeFn != nil {
		return m.completeFn(ctx, req)
	}
	return domain.StructuredResponse{
		Content: json.RawMessage(`{}`),
		Usage:   domain.CompletionUsage{PromptTokens: 7, CompletionTokens: 3, TotalTokens: 10},
	}, nil
}

func TestInstrumentedCompleter_RecordsUsage(t *testing.T) {
	inner := &mockCompleter{}
	c := NewInstrumentedCompleter(inner, "test-usage")

	ctx, usage := domain.NewContextWithUsage(context.Background())
	if _, err := c.CompleteStructured(ctx, domain.StructuredRequest{Name: "identify_attributes"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := c.CompleteStructured(ctx, domain.StructuredRequest{Name: "extract_attributes"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, completion, used := usage.Snapshot()
	if completion != 20 || !used {
		t.Errorf("completion tokens = %d used=%v, expected 20", completion, used)
	}
	got := testutil.ToFloat64(metrics.CompletionRequestsTotal.WithLabelValues("test-usage", "identify_attributes", "success"))
	if got != 1 {
		t.Errorf("success counter = %v", got)
	}
	if v := testutil.ToFloat64(metrics.CompletionTokensTotal.WithLabelValues("test-usage", "prompt")); v != 14 {
		t.Errorf("prompt tokens = %v", v)
	}
}

func TestInstrumentedCompleter_Error(t *testing.T) {
	inner := &mockCompleter{completeFn: func(context.Context, domain.StructuredRequest) (domain.StructuredResponse, error) {
		return domain.StructuredResponse{}, domain.ErrCompletionProviderError
	}}
	c := NewInstrumentedCompleter(inner, "test-error")

	_, err := c.CompleteStructured(context.Background(), domain.StructuredRequest{Name: "detect_category"})
	if !errors.Is(err, domain.ErrCompletionProviderError) {
		t.Fatalf("expected ErrCompletionProviderError, got %v", err)
	}
	if v := testutil.ToFloat64(metrics.CompletionRequestsTotal.WithLabelValues("test-error", "detect_category", "error")); v != 1 {
		t.Errorf("error counter = %v", v)
	}
}

func TestInstrumentedCompleter_Timeout(t *testing.T) {
	inner := &mockCompleter{completeFn: func(ctx context.Context, _ domain.StructuredRequest) (domain.StructuredResponse, error) {
		<-ctx.Done()
		return domain.StructuredResponse{}, ctx.Err()
	}}
	c := NewInstrumentedCompleter(inner, "test-timeout", WithTimeout(20*time.Millisecond))

	start := time.Now()
	_, err := c.CompleteStructured(context.Background(), domain.StructuredRequest{Name: "n"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Error("timeout not applied")
	}
}

func TestInstrumentedCompleter_Throttle(t *testing.T) {
	inner := &mockCompleter{}
	// one token, refilled every 100s: the second call cannot get a token before the deadline
	c := NewInstrumentedCompleter(inner, "test-throttle", WithRateLimit(0.01, 1))

	if _, err := c.CompleteStructured(context.Background(), domain.StructuredRequest{Name: "n"}); err != nil {
		t.Fatalf("first call: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.CompleteStructured(ctx, domain.StructuredRequest{Name: "n"})
	if !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if inner.calls != 1 {
		t.Errorf("inner calls = %d, expected 1", inner.calls)
	}
}

func TestWithRateLimit_Disabled(t *testing.T) {
	c := NewInstrumentedCompleter(&mockCompleter{}, "p", WithRateLimit(0, 5))
	if c.limiter != nil {
		t.Error("rps <= 0 must disable the limiter")
	}
}
