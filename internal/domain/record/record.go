// Package record defines the untyped nested record shape shared by source and
// target platforms, together with a parsed dot/bracket path used to address
// values inside it.
//
// Nested maps inside a Record may be either Record or map[string]any (decoders
// produce the latter); every helper in this package accepts both.
package record

import (
	"encoding/json"
	"fmt"
)

// Record is a nested mapping from string keys to values
// (string, number, bool, nil, nested mapping or sequence).
type Record map[string]any

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out, _ := cloneValue(map[string]any(r)).(map[string]any)
	return Record(out)
}

// Lookup reads the value at the given textual path.
// A malformed path is reported as absent.
func (r Record) Lookup(path string) (any, bool) {
	p, err := ParsePath(path)
	if err != nil {
		return nil, false
	}
	return p.Get(r)
}

// GetString returns the value at path formatted as a string, or "" if absent.
func (r Record) GetString(path string) string {
	v, ok := r.Lookup(path)
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// MarshalJSON keeps nil records encoded as an empty object.
func (r Record) MarshalJSON() ([]byte, error) {
	if r == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(map[string]any(r))
}

// AsMap converts a nested node into a map if it is one.
func AsMap(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case map[string]any:
		return t, true
	case Record:
		return map[string]any(t), true
	default:
		return nil, false
	}
}

// AsSlice converts a nested node into a sequence if it is one.
func AsSlice(v any) ([]any, bool) {
	switch t := v.(type) {
	case []any:
		return t, true
	case []map[string]any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = t[i]
		}
		return out, true
	case []Record:
		out := make([]any, len(t))
		for i := range t {
			out[i] = t[i]
		}
		return out, true
	default:
		return nil, false
	}
}

// CloneValue deep-copies nested mappings and sequences; scalars are returned as-is.
func CloneValue(v any) any {
	return cloneValue(v)
}

func cloneValue(v any) any {
	if m, ok := AsMap(v); ok {
		out := make(map[string]any, len(m))
		for k, child := range m {
			out[k] = cloneValue(child)
		}
		return out
	}
	if s, ok := AsSlice(v); ok {
		out := make([]any, len(s))
		for i, child := range s {
			out[i] = cloneValue(child)
		}
		return out
	}
	return v
}
