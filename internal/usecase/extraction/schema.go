package extraction

import (
	"encoding/json"
	"fmt"
	"strings"

	domattr "github.com/kailas-cloud/sightdex/internal/domain/attribute"
)

const (
	categorySystem = `You classify sighting reports into exactly one category from a closed list.
Answer with the category slug, your confidence between 0 and 1, and one sentence of reasoning.`

	identifySystem = `You read a sighting report and list which attributes it explicitly mentions.
Only list a key if the text states something about it. Do not guess. Do not extract values.`

	extractSystem = `You extract structured attributes from a sighting report.
Only use information stated in the text. If a value is not stated, use null.
Enum attributes must use one of the listed values exactly.
Tags are short lowercase keywords, at most 8.
List in missing_info the details a reader would need that the report does not give.`
)

// object builds a strict JSON Schema object: every property required, nothing extra.
func object(props map[string]any, order []string) map[string]any {
	return map[string]any{
		"type":                 "object",
		"properties":           props,
		"required":             order,
		"additionalProperties": false,
	}
}

func categorySchema(cat *domattr.Catalog) json.RawMessage {
	return mustJSON(object(map[string]any{
		"slug":       map[string]any{"type": "string", "enum": cat.Slugs()},
		"confidence": map[string]any{"type": "number"},
		"reasoning":  map[string]any{"type": "string"},
	}, []string{"slug", "confidence", "reasoning"}))
}

func categoryPrompt(cat *domattr.Catalog, text string) string {
	var b strings.Builder
	b.WriteString("Categories:\n")
	for _, c := range cat.Categories {
		fmt.Fprintf(&b, "- %s: %s", c.Slug, c.Name)
		if c.Description != "" {
			fmt.Fprintf(&b, " (%s)", c.Description)
		}
		b.WriteString("\n")
	}
	b.WriteString("\nReport:\n")
	b.WriteString(text)
	return b.String()
}

func identifySchema(entries []domattr.SchemaEntry) json.RawMessage {
	keys := make([]string, len(entries))
	for i, e := range entries {
		keys[i] = e.Key
	}
	items := map[string]any{"type": "string"}
	if len(keys) > 0 {
		items["enum"] = keys
	}
	return mustJSON(object(map[string]any{
		"mentioned_keys": map[string]any{"type": "array", "items": items},
		"justification":  map[string]any{"type": "string"},
	}, []string{"mentioned_keys", "justification"}))
}

func identifyPrompt(entries []domattr.SchemaEntry, text string) string {
	var b strings.Builder
	b.WriteString("Attributes:\n")
	for _, e := range entries {
		fmt.Fprintf(&b, "- %s", e.Key)
		if e.Description != "" {
			fmt.Fprintf(&b, ": %s", e.Description)
		}
		b.WriteString("\n")
	}
	b.WriteString("\nReport:\n")
	b.WriteString(text)
	return b.String()
}

// extractSchema is limited to the identified entries. Enum keys carry only their allowed values.
func extractSchema(entries []domattr.SchemaEntry) json.RawMessage {
	props := make(map[string]any, len(entries))
	order := make([]string, 0, len(entries))
	for _, e := range entries {
		props[e.Key] = object(map[string]any{
			"value":      valueSchema(e),
			"confidence": map[string]any{"type": "number"},
		}, []string{"value", "confidence"})
		order = append(order, e.Key)
	}
	return mustJSON(object(map[string]any{
		"title":        map[string]any{"type": "string"},
		"tags":         map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "maxItems": MaxTags},
		"attributes":   object(props, order),
		"missing_info": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
	}, []string{"title", "tags", "attributes", "missing_info"}))
}

func valueSchema(e domattr.SchemaEntry) map[string]any {
	switch e.DataType {
	case domattr.Enum:
		allowed := make([]any, 0, len(e.AllowedValues)+1)
		for _, v := range e.AllowedValues {
			allowed = append(allowed, v)
		}
		return map[string]any{"type": []string{"string", "null"}, "enum": append(allowed, nil)}
	case domattr.Boolean:
		return map[string]any{"type": []string{"boolean", "null"}}
	case domattr.Number:
		return map[string]any{"type": []string{"number", "null"}}
	default:
		return map[string]any{"type": []string{"string", "null"}}
	}
}

func extractPrompt(entries []domattr.SchemaEntry, text string) string {
	var b strings.Builder
	b.WriteString("Attributes to extract:\n")
	for _, e := range entries {
		fmt.Fprintf(&b, "- %s (%s)", e.Key, e.DataType)
		if e.DataType == domattr.Enum {
			fmt.Fprintf(&b, " one of: %s", strings.Join(e.AllowedValues, ", "))
		}
		if e.Description != "" {
			fmt.Fprintf(&b, ". %s", e.Description)
		}
		b.WriteString("\n")
	}
	b.WriteString("\nReport:\n")
	b.WriteString(text)
	return b.String()
}

func mustJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("extraction: encode schema: %v", err))
	}
	return data
}
