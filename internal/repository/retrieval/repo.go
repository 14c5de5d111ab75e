package retrieval

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/kailas-cloud/sightdex/internal/db"
	"github.com/kailas-cloud/sightdex/internal/domain"
	"github.com/kailas-cloud/sightdex/internal/domain/search/backend"
	"github.com/kailas-cloud/sightdex/internal/domain/search/candidate"
	"github.com/kailas-cloud/sightdex/internal/domain/search/fusion"
	"github.com/kailas-cloud/sightdex/internal/repository/record"
)

// store is the consumer interface for search operations (ISP).
type store interface {
	SearchKNN(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error)
	SearchBM25(ctx context.Context, q *db.TextQuery) (*db.SearchResult, error)
	SupportsTextSearch(ctx context.Context) bool
}

// Repo runs KNN and BM25 over the record index and fuses them.
type Repo struct {
	store  store
	method fusion.Method
}

// New creates a retrieval backend over the FT index.
func New(s store, method fusion.Method) *Repo {
	if method == "" {
		method = fusion.WeightedSum
	}
	return &Repo{store: s, method: method}
}

// SupportsTextSearch proxies the capability check from the store.
func (r *Repo) SupportsTextSearch(ctx context.Context) bool {
	return r.store.SupportsTextSearch(ctx)
}

// Retrieve returns up to q.Limit candidates ordered by CombinedScore.
// KNN and BM25 run concurrently; BM25 scores are scaled by the best hit into [0,1].
func (r *Repo) Retrieve(ctx context.Context, q backend.Query) ([]candidate.Candidate, error) {
	if q.Limit <= 0 {
		return nil, nil
	}
	useText := q.HasText() && r.store.SupportsTextSearch(ctx)
	if !q.HasVector() && !useText {
		if q.HasText() {
			return nil, domain.ErrKeywordSearchNotSupported
		}
		return nil, nil
	}

	var filters []db.TagFilter
	if q.Category != "" {
		filters = append(filters, db.TagFilter{Field: record.FieldCategory, Values: []string{q.Category}})
	}

	var vecHits, lexHits []candidate.Candidate
	g, gctx := errgroup.WithContext(ctx)
	if q.HasVector() {
		g.Go(func() error {
			sr, err := r.store.SearchKNN(gctx, &db.KNNQuery{
				IndexName:    record.IndexName,
				VectorField:  record.FieldVector,
				Filters:      filters,
				Vector:       q.Vector,
				K:            q.Limit,
				ReturnFields: record.ReturnFields(),
			})
			if err != nil {
				return fmt.Errorf("search knn: %w", err)
			}
			vecHits = toCandidates(sr, func(c *candidate.Candidate, s float64) { c.VectorScore = s })
			return nil
		})
	}
	if useText {
		g.Go(func() error {
			sr, err := r.store.SearchBM25(gctx, &db.TextQuery{
				IndexName:    record.IndexName,
				TextField:    record.FieldContent,
				Query:        q.Text,
				Filters:      filters,
				TopK:         q.Limit,
				ReturnFields: record.ReturnFields(),
			})
			if err != nil {
				return fmt.Errorf("search bm25: %w", err)
			}
			normalizeBM25(sr)
			lexHits = toCandidates(sr, func(c *candidate.Candidate, s float64) { c.LexicalScore = s })
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return fusion.Fuse(vecHits, lexHits, q.Weights, r.method, q.Limit)
}

func toCandidates(sr *db.SearchResult, setScore func(*candidate.Candidate, float64)) []candidate.Candidate {
	if sr == nil || len(sr.Entries) == 0 {
		return nil
	}
	out := make([]candidate.Candidate, 0, len(sr.Entries))
	for _, e := range sr.Entries {
		c := record.DecodeCandidate(record.IDFromKey(e.Key), e.Fields)
		setScore(&c, e.Score)
		out = append(out, c)
	}
	return out
}

// normalizeBM25 divides raw BM25 scores by the maximum so the best hit scores 1.
func normalizeBM25(sr *db.SearchResult) {
	if sr == nil {
		return
	}
	var top float64
	for _, e := range sr.Entries {
		top = max(top, e.Score)
	}
	if top <= 0 {
		return
	}
	for i := range sr.Entries {
		sr.Entries[i].Score /= top
	}
}
