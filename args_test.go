package taskforce

import "testing"

func TestArgHelpers(t *testing.T) {
	args := map[string]any{
		"name":    "notes.md",
		"flag":    true,
		"count":   float64(7), // JSON numbers decode as float64
		"ratio":   0.5,
		"files":   []any{"a.txt", "b.txt", 3, "c.txt"},
		"strings": []string{"x", "y"},
	}

	if v, ok := StringArg(args, "name"); !ok || v != "notes.md" {
		t.Errorf("StringArg = (%q, %v)", v, ok)
	}
	if _, ok := StringArg(args, "flag"); ok {
		t.Error("StringArg accepted a bool")
	}
	if _, ok := StringArg(args, "absent"); ok {
		t.Error("StringArg accepted a missing key")
	}

	if v, ok := BoolArg(args, "flag"); !ok || !v {
		t.Errorf("BoolArg = (%v, %v)", v, ok)
	}

	if v, ok := IntArg(args, "count"); !ok || v != 7 {
		t.Errorf("IntArg = (%d, %v), want 7 via float64", v, ok)
	}
	if _, ok := IntArg(args, "name"); ok {
		t.Error("IntArg accepted a string")
	}

	if v, ok := FloatArg(args, "ratio"); !ok || v != 0.5 {
		t.Errorf("FloatArg = (%v, %v)", v, ok)
	}

	// []any with a non-string element: the element is skipped, not fatal.
	if v, ok := StringSliceArg(args, "files"); !ok || len(v) != 3 || v[2] != "c.txt" {
		t.Errorf("StringSliceArg = (%v, %v), want 3 strings", v, ok)
	}
	if v, ok := StringSliceArg(args, "strings"); !ok || len(v) != 2 {
		t.Errorf("StringSliceArg []string = (%v, %v)", v, ok)
	}
	if _, ok := StringSliceArg(args, "name"); ok {
		t.Error("StringSliceArg accepted a string")
	}
}
