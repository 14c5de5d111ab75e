// Package memory manages confidence-scored personalization memories:
// upsert, reinforcement, decay with floor deletion, prompt rendering and
// extraction from conversation.
package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/sightdex/internal/domain"
	dommem "github.com/kailas-cloud/sightdex/internal/domain/memory"
	"github.com/kailas-cloud/sightdex/internal/domain/value"
	"github.com/kailas-cloud/sightdex/internal/logger"
	"github.com/kailas-cloud/sightdex/internal/metrics"
)

const (
	// DefaultTimeout bounds the extraction call.
	DefaultTimeout = 20 * time.Second
	// MaxExtracted caps memories saved from one conversation.
	MaxExtracted = 5
	// ContextTTL is the lifetime of context memories taken from conversation.
	ContextTTL = 7 * 24 * time.Hour
	// SourceAPI marks memories saved through the API with explicit confidence.
	SourceAPI = "api"
)

// Operation names reported in metrics.
const (
	opSave      = "save"
	opReinforce = "reinforce"
	opDecay     = "decay"
	opDelete    = "delete"
	opExtract   = "extract"
)

// SaveInput carries the fields of an upsert.
type SaveInput struct {
	UserID     string
	Scope      dommem.Scope
	Key        string
	Value      value.Value
	Confidence float64
	Source     string
	ExpiresAt  *time.Time
}

// DecayResult is the outcome of a decay. Memory holds the final state, which
// was deleted when Deleted is true.
type DecayResult struct {
	Memory  dommem.Memory
	Deleted bool
}

// ExtractResult reports a conversation extraction.
type ExtractResult struct {
	// Triggered is false when the pre-scan skipped the extraction call.
	Triggered bool
	Saved     []dommem.Memory
}

// Service implements the memory lifecycle.
type Service struct {
	repo      Repository
	completer Completer
	now       func() time.Time
	timeout   time.Duration
	observed  bool
}

// Option configures the service.
type Option func(*Service)

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithMetrics counts operations in MemoryOperationsTotal.
func WithMetrics() Option {
	return func(s *Service) { s.observed = true }
}

// New creates a memory service. completer may be nil when conversation extraction is disabled.
func New(repo Repository, completer Completer, opts ...Option) *Service {
	s := &Service{
		repo:      repo,
		completer: completer,
		now:       time.Now,
		timeout:   DefaultTimeout,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Save upserts on (UserID, Scope, Key), overwriting value, confidence and source.
func (s *Service) Save(ctx context.Context, in SaveInput) (dommem.Memory, error) {
	m, err := s.save(ctx, in)
	s.observe(opSave, err)
	return m, err
}

func (s *Service) save(ctx context.Context, in SaveInput) (dommem.Memory, error) {
	if in.Source == "" {
		in.Source = SourceAPI
	}
	now := s.now().UTC()
	m := &dommem.Memory{
		UserID:     in.UserID,
		Scope:      in.Scope,
		Key:        strings.TrimSpace(in.Key),
		Value:      in.Value,
		Confidence: in.Confidence,
		Source:     in.Source,
		CreatedAt:  now,
		UpdatedAt:  now,
		ExpiresAt:  in.ExpiresAt,
	}
	if err := m.Validate(); err != nil {
		return dommem.Memory{}, fmt.Errorf("%w: %w", domain.ErrInvalidRequest, err)
	}
	m.Confidence = dommem.Clamp(m.Confidence)

	saved, err := s.repo.Upsert(ctx, m)
	if err != nil {
		return dommem.Memory{}, fmt.Errorf("save memory: %w", err)
	}
	return saved, nil
}

// SaveManual stores a user-entered memory with full confidence.
func (s *Service) SaveManual(ctx context.Context, userID string, scope dommem.Scope, key string, v value.Value) (dommem.Memory, error) {
	return s.Save(ctx, SaveInput{
		UserID:     userID,
		Scope:      scope,
		Key:        key,
		Value:      v,
		Confidence: 1.0,
		Source:     dommem.SourceManual,
	})
}

// ListActive returns unexpired memories, highest confidence first.
func (s *Service) ListActive(ctx context.Context, userID string) ([]dommem.Memory, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", domain.ErrInvalidRequest)
	}
	out, err := s.repo.ListActive(ctx, userID, s.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}
	if out == nil {
		out = []dommem.Memory{}
	}
	return out, nil
}

// Reinforce raises confidence by boost (DefaultBoost if <= 0), capped at 1.
func (s *Service) Reinforce(ctx context.Context, userID, id string, boost float64) (dommem.Memory, error) {
	if boost <= 0 {
		boost = dommem.DefaultBoost
	}
	m, err := s.repo.Get(ctx, userID, id)
	if err != nil {
		err = s.notFound(userID, id, err)
		s.observe(opReinforce, err)
		return dommem.Memory{}, err
	}

	updated, err := s.repo.UpdateConfidence(ctx, userID, id, dommem.Reinforced(m.Confidence, boost), s.now().UTC())
	if err != nil {
		err = s.notFound(userID, id, err)
	}
	s.observe(opReinforce, err)
	return updated, err
}

// Decay lowers confidence by amount (DefaultDecay if <= 0). A result below
// the floor deletes the memory in the same call; it is never stored below it.
func (s *Service) Decay(ctx context.Context, userID, id string, amount float64) (DecayResult, error) {
	if amount <= 0 {
		amount = dommem.DefaultDecay
	}
	m, err := s.repo.Get(ctx, userID, id)
	if err != nil {
		err = s.notFound(userID, id, err)
		s.observe(opDecay, err)
		return DecayResult{}, err
	}

	next, drop := dommem.Decayed(m.Confidence, amount)
	if drop {
		if err := s.repo.Delete(ctx, userID, id); err != nil {
			err = s.notFound(userID, id, err)
			s.observe(opDecay, err)
			return DecayResult{}, err
		}
		m.Confidence = next
		s.observe(opDecay, nil)
		logger.FromContext(ctx).Debug("Memory decayed below floor, deleted",
			zap.String("user_id", userID),
			zap.String("memory_id", id),
		)
		return DecayResult{Memory: m, Deleted: true}, nil
	}

	updated, err := s.repo.UpdateConfidence(ctx, userID, id, next, s.now().UTC())
	if err != nil {
		err = s.notFound(userID, id, err)
		s.observe(opDecay, err)
		return DecayResult{}, err
	}
	s.observe(opDecay, nil)
	return DecayResult{Memory: updated}, nil
}

// Delete removes a memory.
func (s *Service) Delete(ctx context.Context, userID, id string) error {
	err := s.repo.Delete(ctx, userID, id)
	if err != nil {
		err = s.notFound(userID, id, err)
	}
	s.observe(opDelete, err)
	return err
}

// Prompt appends the user's rendered memories to base. base comes back
// unchanged when the user has no active memories.
func (s *Service) Prompt(ctx context.Context, userID, base string) (string, error) {
	mems, err := s.ListActive(ctx, userID)
	if err != nil {
		return "", err
	}
	return dommem.AppendToPrompt(base, mems), nil
}

// notFound converts a repository miss into MemoryNotFoundError.
func (s *Service) notFound(userID, id string, err error) error {
	if errors.Is(err, domain.ErrNotFound) {
		return &domain.MemoryNotFoundError{UserID: userID, ID: id}
	}
	return fmt.Errorf("memory %s: %w", id, err)
}

func (s *Service) observe(op string, err error) {
	if !s.observed {
		return
	}
	result := "ok"
	switch {
	case errors.Is(err, domain.ErrMemoryNotFound):
		result = "not_found"
	case errors.Is(err, domain.ErrInvalidRequest):
		result = "invalid"
	case err != nil:
		result = "error"
	}
	metrics.MemoryOperationsTotal.WithLabelValues(op, result).Inc()
}
