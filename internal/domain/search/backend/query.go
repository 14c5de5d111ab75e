// Package backend holds the single-call query sent to a retrieval backend.
package backend

import "github.com/kailas-cloud/sightdex/internal/domain/search/fusion"

// Query asks a backend for up to Limit fused candidates.
// Text or Vector may be empty; a backend uses whichever signals it gets.
type Query struct {
	Text     string
	Vector   []float32
	Category string
	Weights  fusion.Weights
	Limit    int
}

// HasVector reports whether the semantic signal is available.
func (q *Query) HasVector() bool { return len(q.Vector) > 0 }

// HasText reports whether the lexical signal is available.
func (q *Query) HasText() bool { return q.Text != "" }
