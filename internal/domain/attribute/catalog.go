package attribute

import (
	"fmt"
	"strings"
)

// Catalog is the closed set of categories plus the attribute schema.
type Catalog struct {
	Categories []Category    `yaml:"categories"`
	Schema     []SchemaEntry `yaml:"schema"`
}

// Validate checks for duplicate slugs, duplicate keys and unknown categories.
func (c *Catalog) Validate() error {
	if len(c.Categories) == 0 {
		return fmt.Errorf("catalog: at least one category is required")
	}
	slugs := make(map[string]struct{}, len(c.Categories))
	for _, cat := range c.Categories {
		if cat.Slug == "" {
			return fmt.Errorf("catalog: category slug is required")
		}
		if _, dup := slugs[cat.Slug]; dup {
			return fmt.Errorf("catalog: duplicate category %q", cat.Slug)
		}
		slugs[cat.Slug] = struct{}{}
	}

	type scoped struct{ category, key string }
	keys := make(map[scoped]struct{}, len(c.Schema))
	for _, e := range c.Schema {
		if err := e.Validate(); err != nil {
			return fmt.Errorf("catalog: %w", err)
		}
		if !e.IsUniversal() {
			if _, ok := slugs[e.Category]; !ok {
				return fmt.Errorf("catalog: schema %q references unknown category %q", e.Key, e.Category)
			}
		}
		k := scoped{e.Category, e.Key}
		if _, dup := keys[k]; dup {
			return fmt.Errorf("catalog: duplicate schema key %q in category %q", e.Key, e.Category)
		}
		keys[k] = struct{}{}
	}
	return nil
}

// Slugs returns the category slugs in catalog order.
func (c *Catalog) Slugs() []string {
	out := make([]string, len(c.Categories))
	for i, cat := range c.Categories {
		out[i] = cat.Slug
	}
	return out
}

// HasCategory reports whether slug belongs to the closed set.
func (c *Catalog) HasCategory(slug string) bool {
	for _, cat := range c.Categories {
		if cat.Slug == slug {
			return true
		}
	}
	return false
}

// ForCategory returns the entries offered for a category: category-specific
// entries first, then universal ones. A category key shadows a universal key.
func (c *Catalog) ForCategory(slug string) []SchemaEntry {
	var specific, universal []SchemaEntry
	seen := make(map[string]struct{})
	for _, e := range c.Schema {
		if e.Category == slug && slug != "" {
			specific = append(specific, e)
			seen[e.Key] = struct{}{}
		}
	}
	for _, e := range c.Schema {
		if !e.IsUniversal() {
			continue
		}
		if _, shadowed := seen[e.Key]; shadowed {
			continue
		}
		universal = append(universal, e)
	}
	return append(specific, universal...)
}

// Lookup indexes entries by key.
func Lookup(entries []SchemaEntry) map[string]SchemaEntry {
	m := make(map[string]SchemaEntry, len(entries))
	for _, e := range entries {
		m[e.Key] = e
	}
	return m
}

// Restrict keeps only entries whose key is in keys, preserving entry order.
func Restrict(entries []SchemaEntry, keys []string) []SchemaEntry {
	want := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		want[strings.TrimSpace(k)] = struct{}{}
	}
	out := make([]SchemaEntry, 0, len(keys))
	for _, e := range entries {
		if _, ok := want[e.Key]; ok {
			out = append(out, e)
		}
	}
	return out
}
