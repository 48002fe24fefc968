package keyseq

import (
	"fmt"
	"reflect"
	"testing"
)

func TestNextKey(t *testing.T) {
	tests := []struct {
		name     string
		keys     []string
		expected int
	}{
		{"Empty set", nil, 0},
		{"Contiguous keys append", []string{"0", "1", "2"}, 3},
		{"Fills the first gap", []string{"0", "2", "3"}, 1},
		{"Gap at zero", []string{"1", "2"}, 0},
		{"Unsorted input", []string{"2", "0", "1"}, 3},
		{"Legacy keys ignored", []string{"0", "-Nx8aK3j9", "1"}, 2},
		{"Only legacy keys", []string{"xK3j9", "abc"}, 0},
		{"Non-canonical numbers are legacy", []string{"0", "01", "-1"}, 1},
		{"Duplicates counted once", []string{"0", "0", "1"}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NextKey(tt.keys); got != tt.expected {
				t.Errorf("NextKey(%v) = %d, want %d", tt.keys, got, tt.expected)
			}
		})
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		key   string
		value int
		ok    bool
	}{
		{"0", 0, true},
		{"42", 42, true},
		{"007", 0, false},
		{"-3", 0, false},
		{"+3", 0, false},
		{"-NxQk2", 0, false},
		{"", 0, false},
	}

	for _, tt := range tests {
		n, ok := Parse(tt.key)
		if ok != tt.ok || n != tt.value {
			t.Errorf("Parse(%q) = (%d, %v), want (%d, %v)", tt.key, n, ok, tt.value, tt.ok)
		}
	}
}

func TestSort(t *testing.T) {
	keys := []string{"b", "10", "2", "a", "0", "-Nabc"}
	Sort(keys)

	expected := []string{"0", "2", "10", "-Nabc", "a", "b"}
	if !reflect.DeepEqual(keys, expected) {
		t.Errorf("Sort() = %v, want %v", keys, expected)
	}
}

func TestContiguous(t *testing.T) {
	if !Contiguous([]string{"1", "0", "2"}) {
		t.Error("0..2 in any order should be contiguous")
	}
	if !Contiguous(nil) {
		t.Error("empty key set should be contiguous")
	}
	if Contiguous([]string{"0", "2"}) {
		t.Error("gap should not be contiguous")
	}
	if Contiguous([]string{"0", "x"}) {
		t.Error("legacy key should not be contiguous")
	}
}

func TestCompact(t *testing.T) {
	collection := map[string]any{"0": "a", "1": "b", "2": "c", "3": "d"}

	patch := Compact(collection, "1", nil)

	expected := Patch{"1": "c", "2": "d", "3": nil}
	if !reflect.DeepEqual(patch, expected) {
		t.Errorf("Compact() = %v, want %v", patch, expected)
	}
}

func TestCompact_LastKey(t *testing.T) {
	collection := map[string]any{"0": "a", "1": "b"}

	patch := Compact(collection, "1", nil)

	expected := Patch{"1": nil}
	if !reflect.DeepEqual(patch, expected) {
		t.Errorf("Compact() = %v, want %v", patch, expected)
	}
}

func TestCompact_LegacyKeyNotShifted(t *testing.T) {
	collection := map[string]any{"0": "a", "1": "b", "-Nq": "z"}

	patch := Compact(collection, "-Nq", nil)

	expected := Patch{"-Nq": nil}
	if !reflect.DeepEqual(patch, expected) {
		t.Errorf("Compact() = %v, want %v", patch, expected)
	}
}

func TestCompact_Rekey(t *testing.T) {
	collection := map[string]any{
		"0": map[string]any{"order": 1},
		"1": map[string]any{"order": 2},
		"2": map[string]any{"order": 3},
	}

	patch := Compact(collection, "0", func(newKey int, value any) any {
		m := value.(map[string]any)
		return map[string]any{"order": newKey + 1, "was": m["order"]}
	})

	expected := Patch{
		"0": map[string]any{"order": 1, "was": 2},
		"1": map[string]any{"order": 2, "was": 3},
		"2": nil,
	}
	if !reflect.DeepEqual(patch, expected) {
		t.Errorf("Compact() = %v, want %v", patch, expected)
	}
}

// Applying the patch to a contiguous collection must leave it contiguous
// with every surviving value present exactly once.
func TestCompact_PreservesContiguity(t *testing.T) {
	for size := 1; size <= 8; size++ {
		for removed := 0; removed < size; removed++ {
			collection := make(map[string]any, size)
			for i := 0; i < size; i++ {
				collection[Format(i)] = fmt.Sprintf("v%d", i)
			}

			applied := make(map[string]any, size)
			for k, v := range collection {
				applied[k] = v
			}
			for k, v := range Compact(collection, Format(removed), nil) {
				if v == nil {
					delete(applied, k)
				} else {
					applied[k] = v
				}
			}

			keys := make([]string, 0, len(applied))
			for k := range applied {
				keys = append(keys, k)
			}
			if !Contiguous(keys) || len(keys) != size-1 {
				t.Fatalf("size %d remove %d: keys %v not contiguous", size, removed, keys)
			}

			for i := 0; i < size-1; i++ {
				src := i
				if i >= removed {
					src = i + 1
				}
				if applied[Format(i)] != fmt.Sprintf("v%d", src) {
					t.Fatalf("size %d remove %d: key %d = %v, want v%d", size, removed, i, applied[Format(i)], src)
				}
			}
		}
	}
}

func TestPatch_Paths(t *testing.T) {
	patch := Patch{"0": "a", "1": nil}

	paths := patch.Paths("party/player/queue")

	if len(paths) != 2 {
		t.Fatalf("Paths() returned %d entries, want 2", len(paths))
	}
	if paths["party/player/queue/0"] != "a" {
		t.Errorf("Paths()[0] = %v, want a", paths["party/player/queue/0"])
	}
	if v, ok := paths["party/player/queue/1"]; !ok || v != nil {
		t.Errorf("Paths()[1] = %v, want untyped nil", v)
	}
}

func BenchmarkNextKey(b *testing.B) {
	keys := make([]string, 500)
	for i := range keys {
		keys[i] = Format(i)
	}

	b.ResetTimer()
	for range b.N {
		NextKey(keys)
	}
}
