package tuple

import (
	"testing"

	"github.com/sebdah/goldie/v2"
)

func TestMarshalCanonical_SortedKeys(t *testing.T) {
	obj := Object{"b": Int(2), "a": Int(1)}
	raw, err := MarshalCanonical(obj)
	if err != nil {
		t.Fatalf("MarshalCanonical() failed: %v", err)
	}
	want := `{"a":1,"b":2}`
	if string(raw) != want {
		t.Errorf("got %s, want %s", raw, want)
	}
}

func TestMarshalCanonical_NoHTMLEscaping(t *testing.T) {
	raw, err := MarshalCanonical(String("<a>&</a>"))
	if err != nil {
		t.Fatalf("MarshalCanonical() failed: %v", err)
	}
	want := `"<a>&</a>"`
	if string(raw) != want {
		t.Errorf("got %s, want %s", raw, want)
	}
}

func TestMarshalCanonical_RejectsNull(t *testing.T) {
	if _, err := MarshalCanonical(Null{}); err == nil {
		t.Error("MarshalCanonical(Null{}) should fail")
	}
	if _, err := MarshalCanonical(nil); err == nil {
		t.Error("MarshalCanonical(nil) should fail")
	}
	if _, err := MarshalCanonical(Object{"x": Null{}}); err == nil {
		t.Error("MarshalCanonical should reject nested null")
	}
}

func TestMarshalCanonical_NFCNormalization(t *testing.T) {
	// "e" + COMBINING ACUTE ACCENT normalizes to the precomposed form.
	decomposed := String("e\u0301")
	precomposed := String("\u00e9")

	a, err := MarshalCanonical(decomposed)
	if err != nil {
		t.Fatalf("MarshalCanonical() failed: %v", err)
	}
	b, err := MarshalCanonical(precomposed)
	if err != nil {
		t.Fatalf("MarshalCanonical() failed: %v", err)
	}
	if string(a) != string(b) {
		t.Errorf("NFC forms should serialize identically: %s vs %s", a, b)
	}
}

func TestMarshalCanonical_U2028Unescaped(t *testing.T) {
	raw, err := MarshalCanonical(String("a\u2028b"))
	if err != nil {
		t.Fatalf("MarshalCanonical() failed: %v", err)
	}
	want := "\"a\u2028b\""
	if string(raw) != want {
		t.Errorf("U+2028 must stay literal, got %q", raw)
	}
}

func TestMarshalCanonical_LiteralBackslashU2028Preserved(t *testing.T) {
	// A literal backslash followed by the text "u2028" must not be
	// collapsed into the line separator character.
	raw, err := MarshalCanonical(String(`a\u2028b`))
	if err != nil {
		t.Fatalf("MarshalCanonical() failed: %v", err)
	}
	want := `"a\\u2028b"`
	if string(raw) != want {
		t.Errorf("escaped backslash form must be preserved, got %q", raw)
	}
}

func TestMarshalCanonical_Golden(t *testing.T) {
	v := Object{
		"b":   Int(2),
		"a":   String("x"),
		"arr": Array{Int(1), Bool(true), String("<&>")},
	}
	raw, err := MarshalCanonical(v)
	if err != nil {
		t.Fatalf("MarshalCanonical() failed: %v", err)
	}

	g := goldie.New(t)
	g.Assert(t, "canonical_composite", raw)
}
