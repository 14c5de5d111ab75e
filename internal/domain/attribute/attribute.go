// Package attribute defines the extractable attribute schema and extracted values.
package attribute

import (
	"fmt"
	"slices"

	"github.com/kailas-cloud/sightdex/internal/domain/value"
)

// DataType is the declared type of a schema entry.
type DataType string

// Supported data types.
const (
	Enum    DataType = "enum"
	String  DataType = "string"
	Boolean DataType = "boolean"
	Number  DataType = "number"
)

// IsValid checks if the data type is one of the supported values.
func (d DataType) IsValid() bool {
	return d == Enum || d == String || d == Boolean || d == Number
}

// SchemaEntry defines one extractable field.
// An empty Category marks a universal entry offered for every category.
type SchemaEntry struct {
	Key           string   `yaml:"key"`
	Category      string   `yaml:"category"`
	DisplayName   string   `yaml:"display_name"`
	DataType      DataType `yaml:"data_type"`
	AllowedValues []string `yaml:"allowed_values"`
	Description   string   `yaml:"description"`
}

// IsUniversal reports whether the entry applies to every category.
func (e SchemaEntry) IsUniversal() bool { return e.Category == "" }

// Validate checks the entry definition.
func (e SchemaEntry) Validate() error {
	if e.Key == "" {
		return fmt.Errorf("schema key is required")
	}
	if !e.DataType.IsValid() {
		return fmt.Errorf("schema %q: invalid data type %q", e.Key, e.DataType)
	}
	if e.DataType == Enum && len(e.AllowedValues) == 0 {
		return fmt.Errorf("schema %q: enum requires allowed_values", e.Key)
	}
	for _, a := range e.AllowedValues {
		// extracted values are canonicalised, so members must already be canonical
		if c, _ := value.String(a).Canonical().AsString(); c != a {
			return fmt.Errorf("schema %q: allowed value %q must be written as %q", e.Key, a, c)
		}
	}
	return nil
}

// Allows reports whether v is admissible for the entry.
// Enum entries accept only exact members of AllowedValues; callers
// canonicalise v first.
func (e SchemaEntry) Allows(v value.Value) bool {
	if e.DataType != Enum {
		return true
	}
	items := v.Strings()
	if len(items) == 0 {
		return false
	}
	for _, s := range items {
		if !slices.Contains(e.AllowedValues, s) {
			return false
		}
	}
	return true
}

// Extracted is one produced attribute value.
type Extracted struct {
	Key        string      `json:"key"`
	Value      value.Value `json:"value"`
	Confidence float64     `json:"confidence"`
	// SourceMentionConfirmed is true only if the identification pass listed the key.
	SourceMentionConfirmed bool `json:"source_mention_confirmed"`
}

// Stale maps attribute keys superseded by a publish to the stored encoding
// observed when that publish committed.
type Stale map[string]string

// Keys returns the stale attribute keys in sorted order.
func (s Stale) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Category is one detectable record category.
type Category struct {
	Slug        string `yaml:"slug"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}
