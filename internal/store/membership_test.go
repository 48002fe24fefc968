package store

import (
	"fmt"
	"testing"
)

func TestMembershipSet_Basic(t *testing.T) {
	set := NewMembershipSet(100, 0.001)

	if set.Has("a.mp4") {
		t.Error("Empty set should not have any keys")
	}

	set.Add("a.mp4")
	set.Add("a.mp4")
	if !set.Has("a.mp4") {
		t.Error("Set should have a.mp4 after adding")
	}
	if set.Size() != 1 {
		t.Errorf("Size should be 1 after duplicate add, got %d", set.Size())
	}

	set.Remove("a.mp4")
	if set.Has("a.mp4") {
		t.Error("Removed key should not be reported")
	}
	set.Remove("missing")
}

func TestMembershipSet_LoadReplaces(t *testing.T) {
	set := NewMembershipSet(10, 0.001)
	set.Add("old")

	set.Load([]string{"a", "b", "", "c"})

	if set.Has("old") {
		t.Error("Load should replace previous contents")
	}
	if set.Size() != 3 {
		t.Errorf("Expected 3 keys, got %d", set.Size())
	}
}

func TestMembershipSet_GrowsPastEstimate(t *testing.T) {
	set := NewMembershipSet(4, 0.01)

	keys := make([]string, 0, 50)
	for i := range 50 {
		keys = append(keys, fmt.Sprintf("song-%d", i))
	}
	set.Load(keys)

	for _, key := range keys {
		if !set.Has(key) {
			t.Errorf("Missing %s", key)
		}
	}
	if set.Has("song-50") {
		t.Error("Unexpected member song-50")
	}
}
