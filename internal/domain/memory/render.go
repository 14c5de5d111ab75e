package memory

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

var sectionTitles = []struct {
	scope Scope
	title string
}{
	{Preference, "User preferences"},
	{Dislike, "User dislikes"},
	{Fact, "Known facts about the user"},
	{Context, "Recent context"},
}

// RenderPromptSection renders memories into a deterministic prompt block.
// Sections follow scope order preference, dislike, fact, context; within a
// section input order is kept, except context which keeps only the
// MaxContextEntries most recently updated entries. Zero memories render "".
func RenderPromptSection(memories []Memory) string {
	if len(memories) == 0 {
		return ""
	}

	grouped := make(map[Scope][]Memory, len(sectionTitles))
	for _, m := range memories {
		grouped[m.Scope] = append(grouped[m.Scope], m)
	}
	if ctx := grouped[Context]; len(ctx) > MaxContextEntries {
		sort.SliceStable(ctx, func(i, j int) bool { return ctx[i].UpdatedAt.After(ctx[j].UpdatedAt) })
		grouped[Context] = ctx[:MaxContextEntries]
	}

	var b strings.Builder
	for _, sec := range sectionTitles {
		items := grouped[sec.scope]
		if len(items) == 0 {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("## ")
		b.WriteString(sec.title)
		b.WriteString("\n")
		for _, m := range items {
			fmt.Fprintf(&b, "- %s: %s", m.Key, m.Value.Humanize())
			if sec.scope == Preference {
				fmt.Fprintf(&b, " (%d%% confidence)", int(math.Round(m.Confidence*100)))
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}

// AppendToPrompt joins base and the rendered section. Base is returned
// unmodified when there is nothing to render.
func AppendToPrompt(base string, memories []Memory) string {
	section := RenderPromptSection(memories)
	if section == "" {
		return base
	}
	if base == "" {
		return section
	}
	return strings.TrimRight(base, "\n") + "\n\n" + section
}
