package retrieval

import (
	"github.com/kailas-cloud/sightdex/internal/domain/search/candidate"
	"github.com/kailas-cloud/sightdex/internal/domain/search/filter"
	"github.com/kailas-cloud/sightdex/internal/domain/value"
)

// Stage names, in execution order.
const (
	StageTagsInclude = "tags_include"
	StageTagsExclude = "tags_exclude"
	StageDateRange   = "date_range"
	StageLocation    = "location"
	StageAttributes  = "attributes"
	StageWitness     = "witness"
)

// enrichment is the bulk-fetched data the late stages read.
type enrichment struct {
	attrs   map[string]filter.Grouped
	raw     map[string]map[string][]value.Value
	witness map[string]bool
}

// Stage is one narrowing pass. Keep never reorders.
type Stage struct {
	Name string
	// Enriched marks stages that read fetched attributes or witnesses.
	Enriched bool
	Keep     func(c *candidate.Candidate, f *filter.Set, e *enrichment) bool
}

// Stages is the fixed filter order.
var Stages = []Stage{
	{Name: StageTagsInclude, Keep: func(c *candidate.Candidate, f *filter.Set, _ *enrichment) bool {
		return f.MatchTagsInclude(c.Tags)
	}},
	{Name: StageTagsExclude, Keep: func(c *candidate.Candidate, f *filter.Set, _ *enrichment) bool {
		return f.MatchTagsExclude(c.Tags)
	}},
	{Name: StageDateRange, Keep: func(c *candidate.Candidate, f *filter.Set, _ *enrichment) bool {
		return f.MatchDates(c.OccurredAt)
	}},
	{Name: StageLocation, Keep: func(c *candidate.Candidate, f *filter.Set, _ *enrichment) bool {
		return f.MatchLocation(c.LocationText)
	}},
	{Name: StageAttributes, Enriched: true, Keep: keepAttributes},
	{Name: StageWitness, Enriched: true, Keep: func(c *candidate.Candidate, f *filter.Set, e *enrichment) bool {
		return !f.WitnessRequired || e.witness[c.ID]
	}},
}

// keepAttributes applies include/exclude and attaches the first value per key to survivors.
func keepAttributes(c *candidate.Candidate, f *filter.Set, e *enrichment) bool {
	if f.HasAttributeFilters() && !f.MatchAttributes(e.attrs[c.ID]) {
		return false
	}
	if vals := e.raw[c.ID]; len(vals) > 0 {
		c.Attributes = make(map[string]value.Value, len(vals))
		for k, vs := range vals {
			if len(vs) > 0 {
				c.Attributes[k] = vs[0]
			}
		}
	}
	return true
}

// narrow keeps candidates passing st, in place and in order.
func narrow(cs []candidate.Candidate, st Stage, f *filter.Set, e *enrichment) []candidate.Candidate {
	out := cs[:0]
	for i := range cs {
		if st.Keep(&cs[i], f, e) {
			out = append(out, cs[i])
		}
	}
	return out
}
