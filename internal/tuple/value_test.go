package tuple

import (
	"encoding/json"
	"testing"
)

func TestSortedKeys_UTF16Ordering(t *testing.T) {
	// U+10000 encodes as the surrogate pair D800 DC00 in UTF-16, so it
	// sorts before U+FF61 (code unit FF61) - the opposite of UTF-8 byte
	// order. This is the RFC 8785 ordering requirement.
	obj := Object{
		"\U00010000": Int(1),
		"｡":     Int(2),
	}

	keys := obj.SortedKeys()
	if len(keys) != 2 {
		t.Fatalf("expected 2 keys, got %d", len(keys))
	}
	if keys[0] != "\U00010000" {
		t.Errorf("expected U+10000 first (UTF-16 order), got %q", keys[0])
	}
}

func TestSortedKeys_Simple(t *testing.T) {
	obj := Object{"b": Int(1), "a": Int(2), "c": Int(3)}
	keys := obj.SortedKeys()
	want := []string{"a", "b", "c"}
	for i, k := range want {
		if keys[i] != k {
			t.Errorf("keys[%d] = %q, want %q", i, keys[i], k)
		}
	}
}

func TestEqual(t *testing.T) {
	a := Object{"x": Int(1), "y": Array{String("a"), Bool(true)}}
	b := Object{"y": Array{String("a"), Bool(true)}, "x": Int(1)}

	same, err := Equal(a, b)
	if err != nil {
		t.Fatalf("Equal() failed: %v", err)
	}
	if !same {
		t.Error("structurally identical objects should be equal")
	}

	c := Object{"x": Int(2), "y": Array{String("a"), Bool(true)}}
	same, err = Equal(a, c)
	if err != nil {
		t.Fatalf("Equal() failed: %v", err)
	}
	if same {
		t.Error("objects with different values should not be equal")
	}
}

func TestUnmarshalValue_RejectsFloats(t *testing.T) {
	cases := []string{`1.5`, `{"x": 2.0}`, `[1, 2.5]`, `1e3`}
	for _, input := range cases {
		if _, err := UnmarshalValue([]byte(input)); err == nil {
			t.Errorf("UnmarshalValue(%q) should reject floats", input)
		}
	}
}

func TestUnmarshalValue_RejectsNull(t *testing.T) {
	cases := []string{`null`, `{"x": null}`, `[null]`}
	for _, input := range cases {
		if _, err := UnmarshalValue([]byte(input)); err == nil {
			t.Errorf("UnmarshalValue(%q) should reject null", input)
		}
	}
}

func TestUnmarshalValue_AcceptsInts(t *testing.T) {
	v, err := UnmarshalValue([]byte(`{"n": 42, "s": "x", "b": true, "a": [1, 2]}`))
	if err != nil {
		t.Fatalf("UnmarshalValue() failed: %v", err)
	}
	obj, ok := v.(Object)
	if !ok {
		t.Fatalf("expected Object, got %T", v)
	}
	if obj["n"] != Int(42) {
		t.Errorf("n = %v, want Int(42)", obj["n"])
	}
	if obj["s"] != String("x") {
		t.Errorf("s = %v, want String(x)", obj["s"])
	}
}

func TestObject_JSONRoundTrip(t *testing.T) {
	original := Object{
		"channel": String("orders"),
		"count":   Int(7),
		"nested":  Object{"flag": Bool(false)},
		"list":    Array{Int(1), String("two")},
	}

	raw, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var decoded Object
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	same, err := Equal(original, decoded)
	if err != nil {
		t.Fatalf("Equal() failed: %v", err)
	}
	if !same {
		t.Errorf("round trip changed value: %s", raw)
	}
}

func TestFromGo(t *testing.T) {
	v, err := FromGo(map[string]any{
		"name":  "cart",
		"count": 5,
		"tags":  []any{"a", "b"},
	})
	if err != nil {
		t.Fatalf("FromGo() failed: %v", err)
	}
	obj, ok := v.(Object)
	if !ok {
		t.Fatalf("expected Object, got %T", v)
	}
	if obj["count"] != Int(5) {
		t.Errorf("count = %v, want Int(5)", obj["count"])
	}

	if _, err := FromGo(1.5); err == nil {
		t.Error("FromGo(1.5) should reject floats")
	}
	if _, err := FromGo(nil); err == nil {
		t.Error("FromGo(nil) should reject null")
	}
}
