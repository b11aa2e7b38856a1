package domain

import (
	"errors"
	"reflect"
	"testing"
)

func TestParseRawRecordVariants(t *testing.T) {
	want := map[string]any{"RNOKPP": "123"}

	for _, raw := range []any{
		map[string]any{"RNOKPP": "123"},
		[]byte(`{"RNOKPP":"123"}`),
		`{"RNOKPP":"123"}`,
		"```json\n{\"RNOKPP\":\"123\"}\n```",
		`{"RNOKPP":"123",}`,
	} {
		got, err := ParseRawRecord(raw)
		if err != nil {
			t.Fatalf("ParseRawRecord(%v): %v", raw, err)
		}
		if got["RNOKPP"] != want["RNOKPP"] {
			t.Fatalf("ParseRawRecord(%v) = %v", raw, got)
		}
	}
}

func TestParseRawRecordErrors(t *testing.T) {
	if _, err := ParseRawRecord(nil); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("nil input: %v", err)
	}
	if _, err := ParseRawRecord("not json"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("garbage input: %v", err)
	}
	if _, err := ParseRawRecord(`[1,2,3]`); !errors.Is(err, ErrNotAnObject) {
		t.Fatalf("array input: %v", err)
	}
	if _, err := ParseRawRecord(`"just a string"`); !errors.Is(err, ErrNotAnObject) {
		t.Fatalf("string input: %v", err)
	}
	if _, err := ParseRawRecord(42); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("int input: %v", err)
	}
}

func TestScalarValueUnion(t *testing.T) {
	if v, ok := ScalarValue("x"); !ok || v != "x" {
		t.Fatalf("string: %v %v", v, ok)
	}
	if v, ok := ScalarValue(7); !ok || v != int64(7) {
		t.Fatalf("int coerces to int64: %v %v", v, ok)
	}
	if v, ok := ScalarValue(float32(1.5)); !ok || v != float64(1.5) {
		t.Fatalf("float32 coerces to float64: %v %v", v, ok)
	}
	if v, ok := ScalarValue(nil); !ok || v != nil {
		t.Fatalf("nil: %v %v", v, ok)
	}
	if v, ok := ScalarValue([]any{"a", int64(1)}); !ok || !reflect.DeepEqual(v, []any{"a", int64(1)}) {
		t.Fatalf("array of scalars: %v %v", v, ok)
	}

	if _, ok := ScalarValue(map[string]any{"nested": true}); ok {
		t.Fatal("nested map must be rejected")
	}
	if _, ok := ScalarValue([]any{[]any{"deep"}}); ok {
		t.Fatal("nested array must be rejected")
	}
	if _, ok := ScalarValue([]any{map[string]any{}}); ok {
		t.Fatal("array of maps must be rejected")
	}
}

func TestDecodePayloadDefaultsToEmptySlices(t *testing.T) {
	p, err := DecodePayload(map[string]any{})
	if err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if p.Nodes == nil || p.Rels == nil {
		t.Fatal("nodes and rels must be non-nil")
	}
}

func TestPayloadClone(t *testing.T) {
	p := &GraphFactsPayload{
		Nodes: []FactNode{{Label: LabelPerson, KeyProps: map[string]any{"rnokpp": "1"}}},
		Rels:  []FactRel{{FromLabel: LabelPerson, FromID: "1", RelType: RelOwns, ToLabel: LabelProperty, ToID: "p1"}},
	}
	c := p.Clone()
	c.Nodes[0].KeyProps["rnokpp"] = "2"
	if p.Nodes[0].KeyProps["rnokpp"] != "1" {
		t.Fatal("clone must not share key props with the original")
	}
}
