package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Completion Prometheus metrics.
var (
	CompletionRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "completion_requests_total",
			Help:      "Structured completion requests by schema name and status",
		},
		[]string{"provider", "name", "status"},
	)

	CompletionRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "completion_request_duration_seconds",
			Help:      "Structured completion duration in seconds",
			Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 20, 40},
		},
		[]string{"provider", "name"},
	)

	CompletionTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "completion_tokens_total",
			Help:      "Completion tokens consumed",
		},
		[]string{"provider", "type"},
	)
)

// Retrieval, memory and rate-limit metrics.
var (
	RetrievalCandidates = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieval_candidates",
			Help:      "Candidates returned by the backend per query",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		},
	)

	RetrievalStageSurvivors = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieval_stage_survivors",
			Help:      "Candidates remaining after each filter stage",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		},
		[]string{"stage"},
	)

	MemoryOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_operations_total",
			Help:      "Memory lifecycle operations by kind and outcome",
		},
		[]string{"op", "result"},
	)

	RateLimitRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_rejections_total",
			Help:      "Requests rejected by the per-user rate limiter",
		},
		[]string{"route"},
	)
)

var registerOnce sync.Once

// Register registers the service metrics. Safe to call more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			EmbeddingRequestsTotal,
			EmbeddingRequestDuration,
			EmbeddingTokensTotal,
			EmbeddingCacheTotal,
			CompletionRequestsTotal,
			CompletionRequestDuration,
			CompletionTokensTotal,
			RetrievalCandidates,
			RetrievalStageSurvivors,
			MemoryOperationsTotal,
			RateLimitRejectionsTotal,
		)
	})
}
