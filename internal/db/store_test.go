package db

import (
	"testing"
)

func TestNilIfEmpty(t *testing.T) {
	if nilIfEmpty("") != nil {
		t.Fatal("empty string should map to nil")
	}
	if got := nilIfEmpty("x"); got == nil || *got != "x" {
		t.Fatalf("expected pointer to %q, got %v", "x", got)
	}
}

func TestAsInt_JSONNumbers(t *testing.T) {
	// JSON decoding yields float64; stored ints come back that way.
	if got := asInt(float64(3)); got != 3 {
		t.Fatalf("asInt(float64(3)) = %d", got)
	}
	if got := asInt(nil); got != 0 {
		t.Fatalf("asInt(nil) = %d", got)
	}
	if got := asInt("7"); got != 0 {
		t.Fatalf("asInt on a string should be 0, got %d", got)
	}
}

func TestAsStringSlice(t *testing.T) {
	raw := []interface{}{"a", 1, "b", nil}
	got := asStringSlice(raw)
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("unexpected slice: %v", got)
	}
	if asStringSlice("not a slice") != nil {
		t.Fatal("non-slice input should map to nil")
	}
}

func TestAppendMissing(t *testing.T) {
	list := []string{"a", "b"}
	list = appendMissing(list, "b")
	if len(list) != 2 {
		t.Fatalf("duplicate should not be appended: %v", list)
	}
	list = appendMissing(list, "c")
	if len(list) != 3 || list[2] != "c" {
		t.Fatalf("new value should be appended: %v", list)
	}
}
