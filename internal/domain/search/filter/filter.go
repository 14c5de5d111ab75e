// Package filter holds the post-retrieval filter set. Filters are arbitrary
// user input: a filter that cannot match anything narrows to zero results
// instead of failing the query.
package filter

import (
	"strings"
	"time"

	"golang.org/x/text/cases"

	"github.com/kailas-cloud/sightdex/internal/domain/value"
)

// DateRange is an inclusive occurredAt window. Nil bounds are open.
type DateRange struct {
	From *time.Time
	To   *time.Time
}

// IsActive reports whether at least one bound is set.
func (r DateRange) IsActive() bool { return r.From != nil || r.To != nil }

// Contains reports whether t lies within the inclusive window.
func (r DateRange) Contains(t time.Time) bool {
	if r.From != nil && t.Before(*r.From) {
		return false
	}
	if r.To != nil && t.After(*r.To) {
		return false
	}
	return true
}

// Set is the full filter set of a retrieval request.
type Set struct {
	// Category is pushed down to the backend.
	Category    string
	TagsInclude []string
	TagsExclude []string
	Dates       DateRange
	Location    string
	// AttributesInclude: every key must match one of its listed values.
	AttributesInclude map[string][]string
	// AttributesExclude: any present pair drops the candidate.
	AttributesExclude map[string][]string
	WitnessRequired   bool
}

// HasAttributeFilters reports whether the attribute stage narrows anything.
func (s *Set) HasAttributeFilters() bool {
	return len(s.AttributesInclude) > 0 || len(s.AttributesExclude) > 0
}

// MatchTagsInclude keeps tag sets that intersect the include set.
func (s *Set) MatchTagsInclude(tags []string) bool {
	if len(s.TagsInclude) == 0 {
		return true
	}
	for _, want := range s.TagsInclude {
		for _, t := range tags {
			if t == want {
				return true
			}
		}
	}
	return false
}

// MatchTagsExclude drops tag sets that contain any excluded tag.
func (s *Set) MatchTagsExclude(tags []string) bool {
	for _, bad := range s.TagsExclude {
		for _, t := range tags {
			if t == bad {
				return false
			}
		}
	}
	return true
}

// MatchDates applies the date range. A missing occurredAt fails an active range.
func (s *Set) MatchDates(occurredAt *time.Time) bool {
	if !s.Dates.IsActive() {
		return true
	}
	if occurredAt == nil {
		return false
	}
	return s.Dates.Contains(*occurredAt)
}

// MatchLocation is a case-insensitive substring test using Unicode case folding.
func (s *Set) MatchLocation(location string) bool {
	if s.Location == "" {
		return true
	}
	if location == "" {
		return false
	}
	fold := cases.Fold()
	return strings.Contains(fold.String(location), fold.String(s.Location))
}

// Grouped is the value set per attribute key of one record.
type Grouped map[string]map[string]struct{}

// Group collects the string forms of all values per key.
// Multi-valued keys merge into one set.
func Group(attrs map[string][]value.Value) Grouped {
	g := make(Grouped, len(attrs))
	for key, vals := range attrs {
		set := g[key]
		if set == nil {
			set = make(map[string]struct{})
			g[key] = set
		}
		for _, v := range vals {
			for _, s := range v.Strings() {
				set[s] = struct{}{}
			}
		}
	}
	return g
}

// MatchAttributes applies include (AND across keys, OR within a key) and
// exclude (any verbatim pair) against a record's grouped values.
func (s *Set) MatchAttributes(g Grouped) bool {
	for key, acceptable := range s.AttributesInclude {
		have := g[key]
		hit := false
		for _, v := range acceptable {
			if _, ok := have[v]; ok {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	}
	for key, banned := range s.AttributesExclude {
		have := g[key]
		for _, v := range banned {
			if _, ok := have[v]; ok {
				return false
			}
		}
	}
	return true
}
