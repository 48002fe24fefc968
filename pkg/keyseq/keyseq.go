// Package keyseq allocates and compacts sequential collection keys.
//
// Collections keyed "0".."N-1" stay compact and human-debuggable. Keys that are
// not canonical non-negative integers (for example random push keys) are
// treated as legacy keys: they are ignored by the allocator and never shifted.
package keyseq

import (
	"sort"
	"strconv"
)

// Parse returns the integer value of a sequential key. Only the canonical
// decimal form counts, so "01" and "-1" are legacy keys.
func Parse(key string) (int, bool) {
	n, err := strconv.Atoi(key)
	if err != nil || n < 0 {
		return 0, false
	}
	if strconv.Itoa(n) != key {
		return 0, false
	}
	return n, true
}

// IsSequential reports whether key is a canonical non-negative integer.
func IsSequential(key string) bool {
	_, ok := Parse(key)
	return ok
}

// Format renders n as a collection key.
func Format(n int) string {
	return strconv.Itoa(n)
}

// NextKey returns the lowest non-negative integer not used by existing,
// filling gaps left by deletions before appending at the end.
func NextKey(existing []string) int {
	numeric := make([]int, 0, len(existing))
	seen := make(map[int]struct{}, len(existing))
	for _, key := range existing {
		n, ok := Parse(key)
		if !ok {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		numeric = append(numeric, n)
	}
	sort.Ints(numeric)

	for i, n := range numeric {
		if n != i {
			return i
		}
	}
	return len(numeric)
}

// NextKeyIn is NextKey over the keys of a collection.
func NextKeyIn[V any](collection map[string]V) int {
	keys := make([]string, 0, len(collection))
	for k := range collection {
		keys = append(keys, k)
	}
	return NextKey(keys)
}

// Less orders keys the way the store iterates them: sequential keys
// numerically first, then legacy keys lexically.
func Less(a, b string) bool {
	na, aok := Parse(a)
	nb, bok := Parse(b)
	switch {
	case aok && bok:
		return na < nb
	case aok:
		return true
	case bok:
		return false
	default:
		return a < b
	}
}

// Sort sorts keys in place using Less.
func Sort(keys []string) {
	sort.Slice(keys, func(i, j int) bool { return Less(keys[i], keys[j]) })
}

// Contiguous reports whether keys are exactly "0".."len(keys)-1".
func Contiguous(keys []string) bool {
	seen := make([]bool, len(keys))
	for _, key := range keys {
		n, ok := Parse(key)
		if !ok || n >= len(keys) || seen[n] {
			return false
		}
		seen[n] = true
	}
	return true
}
