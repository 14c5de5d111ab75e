// Package candidate defines one retrievable record as returned by a search backend.
package candidate

import (
	"time"

	"github.com/kailas-cloud/sightdex/internal/domain/value"
)

// Coordinates is a WGS84 point.
type Coordinates struct {
	Lat float64
	Lng float64
}

// Candidate is one ranked search hit. Attributes stay empty until the
// attribute filter attaches them.
type Candidate struct {
	ID           string
	Title        string
	BodyText     string
	CategorySlug string
	Tags         []string
	LocationText string
	Coordinates  *Coordinates
	OccurredAt   *time.Time
	CreatedAt    time.Time

	VectorScore   float64
	LexicalScore  float64
	CombinedScore float64

	Attributes map[string]value.Value
}

// HasTag reports whether the candidate carries tag.
func (c *Candidate) HasTag(tag string) bool {
	for _, t := range c.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// IDs returns candidate ids in order.
func IDs(cs []Candidate) []string {
	out := make([]string, len(cs))
	for i := range cs {
		out[i] = cs[i].ID
	}
	return out
}
