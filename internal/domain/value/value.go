// Package value holds the tagged union used for attribute and memory values.
package value

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Kind identifies the variant stored in a Value.
type Kind uint8

// Value kinds.
const (
	KindNone Kind = iota
	KindString
	KindBool
	KindNumber
	KindStringArray
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindStringArray:
		return "string_array"
	default:
		return "none"
	}
}

// Value is one of String, Bool, Number or StringArray.
// The zero Value is KindNone and marshals to JSON null.
type Value struct {
	kind Kind
	s    string
	b    bool
	n    float64
	arr  []string
}

// String creates a string value.
func String(s string) Value { return Value{kind: KindString, s: s} }

// Bool creates a boolean value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Number creates a numeric value.
func Number(n float64) Value { return Value{kind: KindNumber, n: n} }

// StringArray creates a string array value. The slice is copied.
func StringArray(items []string) Value {
	cp := make([]string, len(items))
	copy(cp, items)
	return Value{kind: KindStringArray, arr: cp}
}

// Kind returns the stored variant.
func (v Value) Kind() Kind { return v.kind }

// IsNone reports whether v holds no variant.
func (v Value) IsNone() bool { return v.kind == KindNone }

// AsString returns the string payload.
func (v Value) AsString() (string, bool) { return v.s, v.kind == KindString }

// AsBool returns the boolean payload.
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

// AsNumber returns the numeric payload.
func (v Value) AsNumber() (float64, bool) { return v.n, v.kind == KindNumber }

// AsStringArray returns a copy of the array payload.
func (v Value) AsStringArray() ([]string, bool) {
	if v.kind != KindStringArray {
		return nil, false
	}
	cp := make([]string, len(v.arr))
	copy(cp, v.arr)
	return cp, true
}

// FromAny converts a decoded JSON value into a Value.
// Arrays must contain only strings; objects are rejected.
func FromAny(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Value{}, nil
	case Value:
		return t, nil
	case string:
		return String(t), nil
	case bool:
		return Bool(t), nil
	case float64:
		return Number(t), nil
	case float32:
		return Number(float64(t)), nil
	case int:
		return Number(float64(t)), nil
	case int64:
		return Number(float64(t)), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("number %q: %w", t, err)
		}
		return Number(f), nil
	case []string:
		return StringArray(t), nil
	case []any:
		items := make([]string, 0, len(t))
		for i, el := range t {
			s, ok := el.(string)
			if !ok {
				return Value{}, fmt.Errorf("array element %d: expected string, got %T", i, el)
			}
			items = append(items, s)
		}
		return Value{kind: KindStringArray, arr: items}, nil
	default:
		return Value{}, fmt.Errorf("unsupported value type %T", x)
	}
}

// Any returns the payload as a plain Go value suitable for encoding/json.
func (v Value) Any() any {
	switch v.kind {
	case KindString:
		return v.s
	case KindBool:
		return v.b
	case KindNumber:
		return v.n
	case KindStringArray:
		out := make([]string, len(v.arr))
		copy(out, v.arr)
		return out
	default:
		return nil
	}
}

// Humanize renders the value for prompt text: underscores become spaces,
// booleans read yes/no, arrays are comma separated.
func (v Value) Humanize() string {
	switch v.kind {
	case KindString:
		return humanizeString(v.s)
	case KindBool:
		if v.b {
			return "yes"
		}
		return "no"
	case KindNumber:
		return formatNumber(v.n)
	case KindStringArray:
		parts := make([]string, len(v.arr))
		for i, s := range v.arr {
			parts[i] = humanizeString(s)
		}
		return strings.Join(parts, ", ")
	default:
		return ""
	}
}

// Canonical lowercases and trims string payloads. Other kinds are returned unchanged.
func (v Value) Canonical() Value {
	switch v.kind {
	case KindString:
		return String(canon(v.s))
	case KindStringArray:
		out := make([]string, 0, len(v.arr))
		for _, s := range v.arr {
			out = append(out, canon(s))
		}
		return Value{kind: KindStringArray, arr: out}
	default:
		return v
	}
}

// Strings flattens the value into the string forms used for exact matching.
// A StringArray yields one entry per element.
func (v Value) Strings() []string {
	switch v.kind {
	case KindString:
		return []string{v.s}
	case KindBool:
		return []string{strconv.FormatBool(v.b)}
	case KindNumber:
		return []string{formatNumber(v.n)}
	case KindStringArray:
		out := make([]string, len(v.arr))
		copy(out, v.arr)
		return out
	default:
		return nil
	}
}

// Equal reports whether both values hold the same variant and payload.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindString:
		return v.s == o.s
	case KindBool:
		return v.b == o.b
	case KindNumber:
		return v.n == o.n
	case KindStringArray:
		if len(v.arr) != len(o.arr) {
			return false
		}
		for i := range v.arr {
			if v.arr[i] != o.arr[i] {
				return false
			}
		}
		return true
	default:
		return true
	}
}

// MarshalJSON encodes the bare payload.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Any())
}

// UnmarshalJSON decodes a string, bool, number, string array or null.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return fmt.Errorf("decode value: %w", err)
	}
	parsed, err := FromAny(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

func humanizeString(s string) string {
	return strings.ReplaceAll(s, "_", " ")
}

func canon(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func formatNumber(n float64) string {
	return strconv.FormatFloat(n, 'f', -1, 64)
}
