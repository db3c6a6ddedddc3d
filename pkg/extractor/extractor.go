// Package extractor resolves field paths against record documents.
package extractor

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/Ramsey-B/clover/pkg/models"
)

// Accessor reads field values out of a record. Every value reachable through the path is
// returned; an absent field yields an empty slice and no error.
type Accessor interface {
	Values(record models.Record, path string) ([]any, error)
}

// DocumentAccessor reads JSON-shaped documents (maps, slices and scalars).
//
// Supported path syntax:
//   - "name", "address.city"
//   - "name[0].family"
//   - "identifier[*].value" expands every element of the array
type DocumentAccessor struct{}

// New creates a DocumentAccessor.
func New() *DocumentAccessor {
	return &DocumentAccessor{}
}

func (e *DocumentAccessor) Values(record models.Record, path string) ([]any, error) {
	return e.ExtractAll(record.Data, path)
}

// Extract returns the first value found for path.
func (e *DocumentAccessor) Extract(data any, path string) (any, error) {
	values, err := e.ExtractAll(data, path)
	if err != nil || len(values) == 0 {
		return nil, err
	}
	return values[0], nil
}

// ExtractAll returns every non-nil value reachable through path.
func (e *DocumentAccessor) ExtractAll(data any, path string) ([]any, error) {
	if data == nil {
		return nil, nil
	}
	if path == "" {
		return []any{data}, nil
	}

	parts, err := parsePath(path)
	if err != nil {
		return nil, err
	}

	results := []any{data}
	for _, part := range parts {
		var next []any
		for _, current := range results {
			values, err := extractPart(current, part)
			if err != nil {
				return nil, fmt.Errorf("path %q: %w", path, err)
			}
			next = append(next, values...)
		}
		if len(next) == 0 {
			return nil, nil
		}
		results = next
	}

	// a leaf array is expanded so multi-valued fields compare element-wise
	var flattened []any
	for _, v := range results {
		if arr, ok := toArray(v); ok {
			for _, item := range arr {
				if item != nil {
					flattened = append(flattened, item)
				}
			}
			continue
		}
		flattened = append(flattened, v)
	}
	return flattened, nil
}

// ValidatePath reports a syntax error in path.
func ValidatePath(path string) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("path is empty")
	}
	_, err := parsePath(path)
	return err
}

type pathPart struct {
	key        string
	isArray    bool
	arrayIndex int
	isWildcard bool
}

func parsePath(path string) ([]pathPart, error) {
	var parts []pathPart

	for _, seg := range splitPath(path) {
		part := pathPart{key: seg}

		if idx := strings.Index(seg, "["); idx != -1 {
			if !strings.HasSuffix(seg, "]") {
				return nil, fmt.Errorf("unterminated index in segment %q", seg)
			}
			part.key = seg[:idx]
			part.isArray = true
			indexPart := seg[idx+1 : len(seg)-1]

			if indexPart == "*" {
				part.isWildcard = true
			} else {
				i, err := strconv.Atoi(indexPart)
				if err != nil || i < 0 {
					return nil, fmt.Errorf("invalid index %q in segment %q", indexPart, seg)
				}
				part.arrayIndex = i
			}
		}

		parts = append(parts, part)
	}

	if len(parts) == 0 {
		return nil, fmt.Errorf("path %q has no segments", path)
	}
	return parts, nil
}

func splitPath(path string) []string {
	var parts []string
	var current strings.Builder

	inBracket := false
	for _, c := range path {
		switch c {
		case '[':
			inBracket = true
			current.WriteRune(c)
		case ']':
			inBracket = false
			current.WriteRune(c)
		case '.':
			if inBracket {
				current.WriteRune(c)
				continue
			}
			if current.Len() > 0 {
				parts = append(parts, current.String())
				current.Reset()
			}
		default:
			current.WriteRune(c)
		}
	}

	if current.Len() > 0 {
		parts = append(parts, current.String())
	}
	return parts
}

func extractPart(data any, part pathPart) ([]any, error) {
	value := data

	if part.key != "" {
		switch v := data.(type) {
		case map[string]any:
			val, ok := v[part.key]
			if !ok || val == nil {
				return nil, nil
			}
			value = val
		case map[string]string:
			val, ok := v[part.key]
			if !ok {
				return nil, nil
			}
			value = val
		default:
			// scalars and arrays have no keys; the field is absent on this branch
			return nil, nil
		}
	}

	if !part.isArray {
		return []any{value}, nil
	}

	arr, ok := toArray(value)
	if !ok {
		return nil, fmt.Errorf("expected array at %q, got %T", part.key, value)
	}
	if part.isWildcard {
		out := make([]any, 0, len(arr))
		for _, item := range arr {
			if item != nil {
				out = append(out, item)
			}
		}
		return out, nil
	}
	if part.arrayIndex >= len(arr) || arr[part.arrayIndex] == nil {
		return nil, nil
	}
	return []any{arr[part.arrayIndex]}, nil
}

func toArray(v any) ([]any, bool) {
	switch arr := v.(type) {
	case []any:
		return arr, true
	case []string:
		result := make([]any, len(arr))
		for i, s := range arr {
			result[i] = s
		}
		return result, true
	case []map[string]any:
		result := make([]any, len(arr))
		for i, m := range arr {
			result[i] = m
		}
		return result, true
	default:
		return nil, false
	}
}

// ToString renders a scalar value as a string. Maps and slices are JSON encoded.
func ToString(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case json.Number:
		return val.String()
	case bool:
		return strconv.FormatBool(val)
	case nil:
		return ""
	default:
		b, _ := json.Marshal(v)
		return string(b)
	}
}

// FromJSON parses a JSON document into a map.
func FromJSON(data json.RawMessage) (map[string]any, error) {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}
