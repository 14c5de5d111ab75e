package retrieval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kailas-cloud/sightdex/internal/domain"
	"github.com/kailas-cloud/sightdex/internal/domain/search/backend"
	"github.com/kailas-cloud/sightdex/internal/domain/search/candidate"
	"github.com/kailas-cloud/sightdex/internal/domain/search/filter"
	"github.com/kailas-cloud/sightdex/internal/domain/search/fusion"
	"github.com/kailas-cloud/sightdex/internal/domain/search/mode"
	"github.com/kailas-cloud/sightdex/internal/domain/search/request"
	"github.com/kailas-cloud/sightdex/internal/logger"
	"github.com/kailas-cloud/sightdex/internal/metrics"
)

// DefaultTimeout bounds one search end to end.
const DefaultTimeout = 10 * time.Second

// StageCount is the number of candidates left after a stage.
type StageCount struct {
	Name      string `json:"name"`
	Remaining int    `json:"remaining"`
}

// Debug exposes how the result set was narrowed.
type Debug struct {
	Fetched int          `json:"fetched"`
	Stages  []StageCount `json:"stages"`
}

// Response is a ranked, attribute-annotated result page.
type Response struct {
	Results []candidate.Candidate
	Mode    mode.Mode
	Debug   Debug
}

// Service runs hybrid retrieval followed by the ordered filter stages.
type Service struct {
	backend  Backend
	vectors  VectorLookup
	embed    Embedder
	attrs    AttributeFetcher
	witness  WitnessFetcher
	timeout  time.Duration
	observed bool
}

// Option configures the service.
type Option func(*Service)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithMetrics records candidate and stage-survivor histograms.
func WithMetrics() Option {
	return func(s *Service) { s.observed = true }
}

// New creates a retrieval service. embed may be nil (lexical-only for text queries).
func New(
	b Backend,
	vectors VectorLookup,
	embed Embedder,
	attrs AttributeFetcher,
	witness WitnessFetcher,
	opts ...Option,
) *Service {
	s := &Service{
		backend: b,
		vectors: vectors,
		embed:   embed,
		attrs:   attrs,
		witness: witness,
		timeout: DefaultTimeout,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Search resolves the query vector, fetches maxResults×3 fused candidates,
// narrows them through Stages and truncates to maxResults in backend order.
func (s *Service) Search(ctx context.Context, req *request.Request) (Response, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	vector, err := s.resolveVector(ctx, req)
	if err != nil {
		return Response{}, err
	}

	hasText := req.Text() != ""
	if hasText && !s.backend.SupportsTextSearch(ctx) {
		if len(vector) == 0 {
			return Response{}, domain.ErrKeywordSearchNotSupported
		}
		hasText = false
	}
	m := mode.Resolve(len(vector) > 0, hasText)

	filters := req.Filters()
	limit := req.FetchLimit()
	if req.SeedID() != "" {
		limit++ // room for the seed itself
	}
	cands, err := s.backend.Retrieve(ctx, backend.Query{
		Text:     req.Text(),
		Vector:   vector,
		Category: filters.Category,
		Weights:  fusion.Weights{Vector: req.VectorWeight(), Lexical: req.LexicalWeight()},
		Limit:    limit,
	})
	if err != nil {
		if errors.Is(err, domain.ErrKeywordSearchNotSupported) {
			return Response{}, err
		}
		return Response{}, &domain.RetrievalError{Op: "retrieve", Err: err}
	}
	if req.SeedID() != "" {
		cands = dropID(cands, req.SeedID())
	}
	if len(cands) > req.FetchLimit() {
		cands = cands[:req.FetchLimit()]
	}

	debug := Debug{Fetched: len(cands), Stages: make([]StageCount, 0, len(Stages))}
	if s.observed {
		metrics.RetrievalCandidates.Observe(float64(len(cands)))
	}

	var enr *enrichment
	for _, st := range Stages {
		if st.Enriched && enr == nil {
			if enr, err = s.enrich(ctx, &filters, cands); err != nil {
				return Response{}, err
			}
		}
		cands = narrow(cands, st, &filters, enr)
		debug.Stages = append(debug.Stages, StageCount{Name: st.Name, Remaining: len(cands)})
		if s.observed {
			metrics.RetrievalStageSurvivors.WithLabelValues(st.Name).Observe(float64(len(cands)))
		}
	}

	if len(cands) > req.MaxResults() {
		cands = cands[:req.MaxResults()]
	}
	if cands == nil {
		cands = []candidate.Candidate{}
	}
	return Response{Results: cands, Mode: m, Debug: debug}, nil
}

// resolveVector returns the seed's stored vector, the caller's vector, or an
// embedding of the text. An embedding failure degrades to lexical-only.
func (s *Service) resolveVector(ctx context.Context, req *request.Request) ([]float32, error) {
	if id := req.SeedID(); id != "" {
		vec, err := s.vectors.Vector(ctx, id)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			return nil, &domain.InvalidSeedError{ID: id, Reason: "record not found"}
		case err != nil:
			return nil, &domain.RetrievalError{Op: "seed lookup", Err: err}
		case len(vec) == 0:
			return nil, &domain.InvalidSeedError{ID: id, Reason: "record has no embedding"}
		}
		return vec, nil
	}
	if len(req.Vector()) > 0 {
		return req.Vector(), nil
	}
	if req.Text() == "" || s.embed == nil {
		return nil, nil
	}

	res, err := s.embed.Embed(ctx, req.Text())
	if err != nil {
		if ctx.Err() != nil {
			return nil, &domain.RetrievalError{Op: "embed query", Err: ctx.Err()}
		}
		logger.FromContext(ctx).Warn("Query embedding failed, falling back to lexical search", zap.Error(err))
		return nil, nil
	}
	domain.UsageFromContext(ctx).AddEmbeddingTokens(res.TotalTokens)
	return res.Embedding, nil
}

// enrich fetches attributes and (when required) witness presence concurrently.
func (s *Service) enrich(ctx context.Context, f *filter.Set, cands []candidate.Candidate) (*enrichment, error) {
	enr := &enrichment{}
	if len(cands) == 0 {
		return enr, nil
	}
	if s.attrs == nil && f.HasAttributeFilters() {
		return nil, &domain.RetrievalError{Op: "fetch attributes", Err: fmt.Errorf("no attribute store configured")}
	}
	if s.witness == nil && f.WitnessRequired {
		return nil, &domain.RetrievalError{Op: "fetch witnesses", Err: fmt.Errorf("no witness store configured")}
	}
	ids := candidate.IDs(cands)

	g, gctx := errgroup.WithContext(ctx)
	if s.attrs != nil {
		g.Go(func() error {
			raw, err := s.attrs.FetchAttributes(gctx, ids)
			if err != nil {
				return &domain.RetrievalError{Op: "fetch attributes", Err: err}
			}
			enr.raw = raw
			enr.attrs = make(map[string]filter.Grouped, len(raw))
			for id, vals := range raw {
				enr.attrs[id] = filter.Group(vals)
			}
			return nil
		})
	}
	if f.WitnessRequired {
		g.Go(func() error {
			w, err := s.witness.FetchWitnessPresence(gctx, ids)
			if err != nil {
				return &domain.RetrievalError{Op: "fetch witnesses", Err: err}
			}
			enr.witness = w
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return enr, nil
}

func dropID(cs []candidate.Candidate, id string) []candidate.Candidate {
	for i := range cs {
		if cs[i].ID == id {
			return append(cs[:i], cs[i+1:]...)
		}
	}
	return cs
}
