// Package fusion merges semantic and lexical hit lists into one ranking.
//
// Ordering contract for both methods: results are sorted by CombinedScore
// descending, ties broken by ascending ID. With VectorWeight=1 the order equals
// descending VectorScore; with VectorWeight=0 it equals descending LexicalScore.
package fusion

import (
	"fmt"
	"sort"

	"github.com/kailas-cloud/sightdex/internal/domain/search/candidate"
)

// Method selects the fusion formula.
type Method string

// Fusion methods.
const (
	// WeightedSum is vw*vectorScore + lw*lexicalScore.
	WeightedSum Method = "weighted"
	// RRF is weighted reciprocal rank fusion normalised to [0,1].
	RRF Method = "rrf"
)

// IsValid checks if the method is one of the supported values.
func (m Method) IsValid() bool { return m == WeightedSum || m == RRF }

// rrfK is the Reciprocal Rank Fusion constant (standard value from Cormack et al. 2009).
const rrfK = 60

// Weights are the per-signal fusion weights.
type Weights struct {
	Vector  float64
	Lexical float64
}

// Fuse merges both hit lists by ID and scores every candidate.
// Inputs carry VectorScore / LexicalScore respectively; a candidate missing
// from one list scores 0 on that signal. Record fields come from the first
// list that contains the ID.
func Fuse(vectorHits, lexicalHits []candidate.Candidate, w Weights, m Method, limit int) ([]candidate.Candidate, error) {
	if !m.IsValid() {
		return nil, fmt.Errorf("unknown fusion method %q", m)
	}

	merged := make(map[string]*candidate.Candidate, len(vectorHits)+len(lexicalHits))
	order := make([]string, 0, len(vectorHits)+len(lexicalHits))
	for i := range vectorHits {
		c := vectorHits[i]
		c.LexicalScore = 0
		merged[c.ID] = &c
		order = append(order, c.ID)
	}
	for i := range lexicalHits {
		h := lexicalHits[i]
		if existing, ok := merged[h.ID]; ok {
			existing.LexicalScore = h.LexicalScore
			continue
		}
		h.VectorScore = 0
		merged[h.ID] = &h
		order = append(order, h.ID)
	}

	out := make([]candidate.Candidate, 0, len(merged))
	for _, id := range order {
		out = append(out, *merged[id])
	}

	switch m {
	case WeightedSum:
		for i := range out {
			out[i].CombinedScore = w.Vector*out[i].VectorScore + w.Lexical*out[i].LexicalScore
		}
	case RRF:
		vr := ranks(out, func(c *candidate.Candidate) float64 { return c.VectorScore })
		lr := ranks(out, func(c *candidate.Candidate) float64 { return c.LexicalScore })
		norm := 1.0 / float64(rrfK+1)
		for i := range out {
			var s float64
			if r, ok := vr[out[i].ID]; ok {
				s += w.Vector / float64(rrfK+r)
			}
			if r, ok := lr[out[i].ID]; ok {
				s += w.Lexical / float64(rrfK+r)
			}
			out[i].CombinedScore = s / norm
		}
	}

	Sort(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Sort orders candidates by CombinedScore descending, then ID ascending.
func Sort(cs []candidate.Candidate) {
	sort.SliceStable(cs, func(i, j int) bool {
		if cs[i].CombinedScore != cs[j].CombinedScore {
			return cs[i].CombinedScore > cs[j].CombinedScore
		}
		return cs[i].ID < cs[j].ID
	})
}

// ranks assigns 1-based competition ranks by descending score.
// Equal scores share a rank; zero scores are treated as absent.
func ranks(cs []candidate.Candidate, score func(*candidate.Candidate) float64) map[string]int {
	idx := make([]int, 0, len(cs))
	for i := range cs {
		if score(&cs[i]) > 0 {
			idx = append(idx, i)
		}
	}
	sort.SliceStable(idx, func(a, b int) bool { return score(&cs[idx[a]]) > score(&cs[idx[b]]) })

	out := make(map[string]int, len(idx))
	for pos, i := range idx {
		rank := pos + 1
		if pos > 0 && score(&cs[i]) == score(&cs[idx[pos-1]]) {
			rank = out[cs[idx[pos-1]].ID]
		}
		out[cs[i].ID] = rank
	}
	return out
}
