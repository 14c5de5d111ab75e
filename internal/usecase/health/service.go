package health

import "context"

// Status represents the aggregated health status.
type Status string

const (
	// Healthy indicates all components are operational.
	Healthy Status = "ok"
	// Degraded indicates partial failure.
	Degraded Status = "degraded"
	// Unhealthy indicates total failure.
	Unhealthy Status = "error"
)

// CheckResult represents an individual component health check outcome.
type CheckResult string

const (
	// CheckOK indicates a passing health check.
	CheckOK CheckResult = "ok"
	// CheckError indicates a failing health check.
	CheckError CheckResult = "error"
)

// Report aggregates health check results.
type Report struct {
	Status Status
	Checks map[string]CheckResult
}

type namedCheck struct {
	name   string
	pinger DBPinger
}

// Service coordinates health checks.
type Service struct {
	db        DBPinger
	embedding EmbeddingChecker
	extra     []namedCheck
}

// Option adds a check to the Service.
type Option func(*Service)

// WithPinger registers an additional store under name (e.g. the memory SQL store).
func WithPinger(name string, p DBPinger) Option {
	return func(s *Service) {
		if p != nil {
			s.extra = append(s.extra, namedCheck{name: name, pinger: p})
		}
	}
}

// New creates a Service. embedding can be nil.
func New(db DBPinger, embedding EmbeddingChecker, opts ...Option) *Service {
	s := &Service{db: db, embedding: embedding}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Check runs health checks against all components.
func (s *Service) Check(ctx context.Context) Report {
	checks := make(map[string]CheckResult)

	if err := s.db.Ping(ctx); err != nil {
		checks["database"] = CheckError
	} else {
		checks["database"] = CheckOK
	}

	if s.embedding != nil {
		if err := s.embedding.HealthCheck(ctx); err != nil {
			checks["embedding"] = CheckError
		} else {
			checks["embedding"] = CheckOK
		}
	}

	for _, c := range s.extra {
		if err := c.pinger.Ping(ctx); err != nil {
			checks[c.name] = CheckError
		} else {
			checks[c.name] = CheckOK
		}
	}

	status := Healthy
	for _, v := range checks {
		if v == CheckError {
			status = Degraded
			break
		}
	}

	return Report{Status: status, Checks: checks}
}
