package generation

import (
	"encoding/json"
	"strings"
)

// Result is a decoded generation. When OK is false the output was not valid
// JSON for T and only Raw is meaningful.
type Result[T any] struct {
	Parsed T
	Raw    string
	OK     bool
}

// Decode parses raw as a JSON object of type T. Markdown code fences and
// prose around the outermost object are tolerated.
func Decode[T any](raw string) Result[T] {
	res := Result[T]{Raw: raw}
	body := extractObject(raw)
	if body == "" {
		return res
	}
	if err := json.Unmarshal([]byte(body), &res.Parsed); err != nil {
		var zero T
		res.Parsed = zero
		return res
	}
	res.OK = true
	return res
}

func extractObject(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
		s = strings.TrimSpace(s)
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return ""
	}
	return s[start : end+1]
}

// Fields is a JSON object decoded one level deep. Values stay raw so each
// can be read on its own and a mis-shaped one does not spoil the rest.
type Fields map[string]json.RawMessage

// DecodeFields parses raw as a JSON object without constraining its values.
// It reports false only when raw holds no JSON object at all.
func DecodeFields(raw string) (Fields, bool) {
	res := Decode[Fields](raw)
	if !res.OK || res.Parsed == nil {
		return nil, false
	}
	return res.Parsed, true
}

// String returns the field when it holds a JSON string.
func (f Fields) String(key string) (string, bool) {
	return Field[string](f, key)
}

// Object returns the field when it holds a JSON object.
func (f Fields) Object(key string) (Fields, bool) {
	obj, ok := Field[Fields](f, key)
	return obj, ok && obj != nil
}

// Strings returns the string elements of a field holding a string or an
// array. Other elements are skipped.
func (f Fields) Strings(key string) []string {
	return Each[string](f, key)
}

// Field decodes one field into T. A missing, null or mis-shaped field
// reports false.
func Field[T any](f Fields, key string) (T, bool) {
	var v T
	data, ok := f[key]
	if !ok || string(data) == "null" {
		return v, false
	}
	if err := json.Unmarshal(data, &v); err != nil {
		var zero T
		return zero, false
	}
	return v, true
}

// Each decodes the elements of an array field into T, skipping elements
// that do not fit. A lone value counts as a one-element array.
func Each[T any](f Fields, key string) []T {
	var items []json.RawMessage
	if _, ok := f[key]; !ok {
		return nil
	}
	if err := json.Unmarshal(f[key], &items); err != nil {
		items = []json.RawMessage{f[key]}
	}
	out := make([]T, 0, len(items))
	for _, item := range items {
		var v T
		if err := json.Unmarshal(item, &v); err == nil {
			out = append(out, v)
		}
	}
	return out
}
