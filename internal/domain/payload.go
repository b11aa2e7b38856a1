package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// GraphFactsPayload is the unit of work flowing through ingestion: the
// extracted graph facts for a single source record. It is created once by
// extraction, mutated in place by normalization and repair, persisted exactly
// once, then discarded.
type GraphFactsPayload struct {
	Nodes []FactNode     `json:"nodes"`
	Rels  []FactRel      `json:"rels"`
	Meta  map[string]any `json:"meta,omitempty"`
}

type FactNode struct {
	Label    Label          `json:"label"`
	KeyProps map[string]any `json:"key_props"`
	SetProps map[string]any `json:"set_props,omitempty"`
}

type FactRel struct {
	FromLabel Label          `json:"from_label"`
	FromID    string         `json:"from_id"`
	RelType   RelType        `json:"rel_type"`
	ToLabel   Label          `json:"to_label"`
	ToID      string         `json:"to_id"`
	RelProps  map[string]any `json:"rel_props,omitempty"`
}

var (
	// ErrInvalidInput reports raw input that is not parseable JSON at all.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotAnObject reports parseable input whose top level is not an object.
	ErrNotAnObject = errors.New("input is not a JSON object")
)

// ScalarValue coerces v into the closed property-value union
// {string, bool, int64, float64, nil, []scalar}. Nested maps/objects are
// rejected: the graph store only accepts primitive properties.
func ScalarValue(v any) (any, bool) {
	switch t := v.(type) {
	case nil:
		return nil, true
	case string, bool, int, int32, int64, float32, float64:
		return normalizeNumber(t), true
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i, true
		}
		if f, err := t.Float64(); err == nil {
			return f, true
		}
		return nil, false
	case []any:
		out := make([]any, 0, len(t))
		for _, item := range t {
			sv, ok := ScalarValue(item)
			if !ok {
				return nil, false
			}
			if _, nested := sv.([]any); nested {
				return nil, false
			}
			out = append(out, sv)
		}
		return out, true
	default:
		return nil, false
	}
}

func normalizeNumber(v any) any {
	switch t := v.(type) {
	case int:
		return int64(t)
	case int32:
		return int64(t)
	case float32:
		return float64(t)
	default:
		return v
	}
}

var (
	codeFenceOpen  = regexp.MustCompile("^```[a-zA-Z0-9_-]*\n?")
	codeFenceClose = regexp.MustCompile("\n?```$")
	trailingComma  = regexp.MustCompile(`,\s*([}\]])`)
)

func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = codeFenceOpen.ReplaceAllString(s, "")
		s = codeFenceClose.ReplaceAllString(s, "")
	}
	return strings.TrimSpace(s)
}

// ParseRawRecord accepts a raw investigative record as a map, JSON bytes, or a
// JSON string, and returns the top-level object. String inputs get small
// repairs for common breakage (code fences, trailing commas) before parsing.
func ParseRawRecord(raw any) (map[string]any, error) {
	switch t := raw.(type) {
	case nil:
		return nil, fmt.Errorf("%w: raw input is nil", ErrInvalidInput)
	case map[string]any:
		return t, nil
	case []byte:
		return parseRawString(string(t))
	case string:
		return parseRawString(t)
	default:
		return nil, fmt.Errorf("%w: unsupported raw input type %T", ErrInvalidInput, raw)
	}
}

func parseRawString(s string) (map[string]any, error) {
	s = stripCodeFences(s)
	s = trailingComma.ReplaceAllString(s, "$1")

	if s == "" {
		return nil, fmt.Errorf("%w: empty input", ErrInvalidInput)
	}

	var parsed any
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	if err := dec.Decode(&parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	obj, ok := parsed.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: got %T", ErrNotAnObject, parsed)
	}
	return obj, nil
}

// DecodePayload converts an oracle response object into a typed payload. It is
// a structural decode only; schema checks belong to the validator.
func DecodePayload(obj map[string]any) (*GraphFactsPayload, error) {
	if obj == nil {
		return nil, fmt.Errorf("decode payload: nil object")
	}
	raw, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("decode payload: remarshal: %w", err)
	}
	var p GraphFactsPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	if p.Nodes == nil {
		p.Nodes = []FactNode{}
	}
	if p.Rels == nil {
		p.Rels = []FactRel{}
	}
	return &p, nil
}

// Clone returns a deep copy. The fix loop hands the oracle a copy so a failed
// repair cannot corrupt the payload the machine still holds.
func (p *GraphFactsPayload) Clone() *GraphFactsPayload {
	if p == nil {
		return nil
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return nil
	}
	var out GraphFactsPayload
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return &out
}
