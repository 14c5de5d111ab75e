package request

import (
	"fmt"
	"math"

	"github.com/kailas-cloud/sightdex/internal/domain/search/filter"
)

// Search parameter limits.
const (
	// MaxQueryLength is the maximum allowed search query length.
	MaxQueryLength      = 4096
	DefaultMaxResults   = 15
	MaxMaxResults       = 100
	DefaultVectorWeight = 0.6
	// OverFetchFactor sizes the backend superset relative to maxResults.
	OverFetchFactor = 3
)

// Request is a validated retrieval query.
type Request struct {
	text         string
	vector       []float32
	seedID       string
	filters      filter.Set
	maxResults   int
	vectorWeight float64
}

// New validates and normalizes retrieval parameters.
// Defaults: maxResults=15, vectorWeight=0.6 (nil). At least one of text, vector, seed is required.
func New(
	text string,
	vector []float32,
	seedID string,
	filters filter.Set,
	maxResults int,
	vectorWeight *float64,
) (Request, error) {
	if text == "" && len(vector) == 0 && seedID == "" {
		return Request{}, fmt.Errorf("one of text, vector or similar_to is required")
	}
	if len(text) > MaxQueryLength {
		return Request{}, fmt.Errorf("query too long (max %d chars)", MaxQueryLength)
	}
	if seedID != "" && len(vector) > 0 {
		return Request{}, fmt.Errorf("vector and similar_to are mutually exclusive")
	}
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}
	if maxResults > MaxMaxResults {
		maxResults = MaxMaxResults
	}
	w := DefaultVectorWeight
	if vectorWeight != nil {
		w = *vectorWeight
	}
	if math.IsNaN(w) || w < 0 || w > 1 {
		return Request{}, fmt.Errorf("vector_weight must be between 0 and 1")
	}

	return Request{
		text:         text,
		vector:       vector,
		seedID:       seedID,
		filters:      filters,
		maxResults:   maxResults,
		vectorWeight: w,
	}, nil
}

// Text returns the free-text query.
func (r *Request) Text() string { return r.text }

// Vector returns the precomputed query vector, if any.
func (r *Request) Vector() []float32 { return r.vector }

// SeedID returns the find-similar-to record id, if any.
func (r *Request) SeedID() string { return r.seedID }

// Filters returns the post-retrieval filter set.
func (r *Request) Filters() filter.Set { return r.filters }

// MaxResults returns the result cap.
func (r *Request) MaxResults() int { return r.maxResults }

// FetchLimit returns the backend superset size.
func (r *Request) FetchLimit() int { return r.maxResults * OverFetchFactor }

// VectorWeight returns the semantic weight.
func (r *Request) VectorWeight() float64 { return r.vectorWeight }

// LexicalWeight returns 1 - VectorWeight.
func (r *Request) LexicalWeight() float64 { return 1 - r.vectorWeight }
