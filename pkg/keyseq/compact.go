package keyseq

import (
	"sort"
)

// Patch maps collection keys to replacement values. A nil value deletes the
// key. A patch is only safe when applied as a single atomic multi-path write.
type Patch map[string]any

// Paths prefixes every key with the collection path, producing the argument
// for a store multi-path update.
func (p Patch) Paths(collectionPath string) map[string]any {
	out := make(map[string]any, len(p))
	for key, value := range p {
		if value == nil {
			out[collectionPath+"/"+key] = nil
			continue
		}
		out[collectionPath+"/"+key] = value
	}
	return out
}

// Rekey adjusts a value that moves to newKey during compaction.
type Rekey func(newKey int, value any) any

// Compact computes the patch that removes removedKey and shifts every higher
// sequential key down by one, so a collection keyed 0..N-1 stays keyed
// 0..N-2. rekey may be nil; the queue uses it to rewrite order fields.
// Removing a legacy key deletes it without shifting anything.
func Compact(collection map[string]any, removedKey string, rekey Rekey) Patch {
	patch := Patch{removedKey: nil}

	removed, ok := Parse(removedKey)
	if !ok {
		return patch
	}

	var higher []int
	for key := range collection {
		n, ok := Parse(key)
		if ok && n > removed {
			higher = append(higher, n)
		}
	}
	sort.Ints(higher)

	// Ascending: the delete written for k is overwritten when k+1 moves down.
	for _, n := range higher {
		value := collection[Format(n)]
		if rekey != nil {
			value = rekey(n-1, value)
		}
		patch[Format(n-1)] = value
		patch[Format(n)] = nil
	}
	return patch
}
