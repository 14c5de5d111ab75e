// Package record defines an experience record as stored by the service.
package record

import (
	"fmt"
	"strings"
	"time"

	"github.com/kailas-cloud/sightdex/internal/domain/search/candidate"
)

// MaxBodyLength bounds the narrative text accepted for one record.
const MaxBodyLength = 32 * 1024

// Record is a free-text narrative plus indexed metadata.
type Record struct {
	ID           string
	Title        string
	Body         string
	CategorySlug string
	Tags         []string
	LocationText string
	Coordinates  *candidate.Coordinates
	OccurredAt   *time.Time
	CreatedAt    time.Time
	Vector       []float32
	// ExtractionUnavailable marks a record indexed without attributes after extraction failed.
	ExtractionUnavailable bool
}

// Validate checks fields required for indexing.
func (r *Record) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("record id is required")
	}
	if strings.TrimSpace(r.Body) == "" {
		return fmt.Errorf("record body is required")
	}
	if len(r.Body) > MaxBodyLength {
		return fmt.Errorf("record body too long (max %d bytes)", MaxBodyLength)
	}
	if c := r.Coordinates; c != nil && (c.Lat < -90 || c.Lat > 90 || c.Lng < -180 || c.Lng > 180) {
		return fmt.Errorf("coordinates out of range")
	}
	return nil
}

// NormalizeTags lowercases, trims and dedups tags, keeping first-seen order.
func NormalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// Candidate projects the record onto a search candidate without scores.
func (r *Record) Candidate() candidate.Candidate {
	return candidate.Candidate{
		ID:           r.ID,
		Title:        r.Title,
		BodyText:     r.Body,
		CategorySlug: r.CategorySlug,
		Tags:         r.Tags,
		LocationText: r.LocationText,
		Coordinates:  r.Coordinates,
		OccurredAt:   r.OccurredAt,
		CreatedAt:    r.CreatedAt,
	}
}
