package history

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"karaoke/internal/core"
	"karaoke/internal/store"
)

const testParty = "party1"

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

func newTestAggregator(t *testing.T, limit int) (*Aggregator, *store.Document, *fakeClock) {
	t.Helper()
	doc := store.New(nil)
	t.Cleanup(func() { _ = doc.Close() })
	clock := &fakeClock{t: time.Date(2024, 1, 1, 20, 0, 0, 0, time.UTC)}
	agg := NewAggregator(doc, testParty, limit, nil, nil).WithClock(clock.Now)
	return agg, doc, clock
}

func TestAggregator_RecordPlayAccumulates(t *testing.T) {
	agg, _, _ := newTestAggregator(t, 0)
	ctx := context.Background()
	song := core.SongRef{Path: "/a.mp4", Artist: "X", Title: "Y"}

	var last core.HistoryEntry
	for range 3 {
		entry, err := agg.RecordPlay(ctx, song)
		if err != nil {
			t.Fatalf("RecordPlay failed: %v", err)
		}
		last = entry
	}

	entries, _ := agg.Entries(ctx)
	if len(entries) != 1 {
		t.Fatalf("Expected 1 entry, got %d", len(entries))
	}
	if entries[0].Count != 3 {
		t.Errorf("Expected count 3, got %d", entries[0].Count)
	}
	if entries[0].LastPlayed != last.LastPlayed {
		t.Errorf("lastPlayed should follow the latest play: %d != %d", entries[0].LastPlayed, last.LastPlayed)
	}
	if entries[0].Key != "0" {
		t.Errorf("Expected sequential key 0, got %s", entries[0].Key)
	}
}

func TestAggregator_RecordPlayUsesSongCount(t *testing.T) {
	agg, _, _ := newTestAggregator(t, 0)
	ctx := context.Background()

	_, _ = agg.RecordPlay(ctx, core.SongRef{Path: "/a.mp4"})
	entry, err := agg.RecordPlay(ctx, core.SongRef{Path: "/a.mp4", Count: 4})
	if err != nil {
		t.Fatalf("RecordPlay failed: %v", err)
	}
	if entry.Count != 5 {
		t.Errorf("Expected count 5, got %d", entry.Count)
	}

	// A first play always starts at one.
	entry, _ = agg.RecordPlay(ctx, core.SongRef{Path: "/b.mp4", Count: 9})
	if entry.Count != 1 {
		t.Errorf("Expected count 1 for a first play, got %d", entry.Count)
	}
}

func TestAggregator_RecordPlayRejectsEmptyPath(t *testing.T) {
	agg, _, _ := newTestAggregator(t, 0)
	if _, err := agg.RecordPlay(context.Background(), core.SongRef{Path: "  "}); !errors.Is(err, core.ErrInvalid) {
		t.Errorf("Expected ErrInvalid, got %v", err)
	}
}

func TestAggregator_RetentionBoundary(t *testing.T) {
	agg, _, _ := newTestAggregator(t, core.DefaultHistoryLimit)
	ctx := context.Background()

	for i := range core.DefaultHistoryLimit {
		if _, err := agg.RecordPlay(ctx, core.SongRef{Path: fmt.Sprintf("/%d.mp4", i)}); err != nil {
			t.Fatalf("RecordPlay %d failed: %v", i, err)
		}
	}
	// Replaying the first path makes /1.mp4 the least recently played.
	if _, err := agg.RecordPlay(ctx, core.SongRef{Path: "/0.mp4"}); err != nil {
		t.Fatalf("Replay failed: %v", err)
	}

	if _, err := agg.RecordPlay(ctx, core.SongRef{Path: "/new.mp4"}); err != nil {
		t.Fatalf("RecordPlay new failed: %v", err)
	}

	entries, _ := agg.Entries(ctx)
	if len(entries) != core.DefaultHistoryLimit {
		t.Fatalf("Expected %d entries, got %d", core.DefaultHistoryLimit, len(entries))
	}
	paths := make(map[string]bool, len(entries))
	for _, entry := range entries {
		paths[entry.Path] = true
	}
	if paths["/1.mp4"] {
		t.Error("The least recently played entry should have been evicted")
	}
	if !paths["/0.mp4"] || !paths["/new.mp4"] {
		t.Error("Recently played entries must survive eviction")
	}
}

func TestAggregator_EvictsDownToLimit(t *testing.T) {
	agg, doc, _ := newTestAggregator(t, 3)
	ctx := context.Background()

	// Seed an over-full log written before the limit was lowered.
	patch := make(map[string]any)
	for i := range 5 {
		patch[fmt.Sprintf("%s/%d", core.HistoryPath(testParty), i)] = core.HistoryEntry{
			Path: fmt.Sprintf("/%d.mp4", i), Count: 1, LastPlayed: int64(100 + i),
		}
	}
	if err := doc.Update(ctx, patch); err != nil {
		t.Fatalf("Seed failed: %v", err)
	}

	if _, err := agg.RecordPlay(ctx, core.SongRef{Path: "/new.mp4"}); err != nil {
		t.Fatalf("RecordPlay failed: %v", err)
	}

	entries, _ := agg.Entries(ctx)
	if len(entries) != 3 {
		t.Fatalf("Expected 3 entries, got %d", len(entries))
	}
	got := make(map[string]bool)
	for _, entry := range entries {
		got[entry.Path] = true
	}
	for _, want := range []string{"/3.mp4", "/4.mp4", "/new.mp4"} {
		if !got[want] {
			t.Errorf("Expected %s to survive, got %v", want, got)
		}
	}
}

func TestAggregator_EvictionIsAtomicWithInsert(t *testing.T) {
	agg, doc, _ := newTestAggregator(t, 2)
	ctx := context.Background()

	_, _ = agg.RecordPlay(ctx, core.SongRef{Path: "/a.mp4"})
	_, _ = agg.RecordPlay(ctx, core.SongRef{Path: "/b.mp4"})

	sizes := make(chan int, 64)
	unsubscribe := doc.Subscribe(core.HistoryPath(testParty), func(value any) {
		sizes <- len(core.DecodeCollection(value))
	})
	defer unsubscribe()

	_, _ = agg.RecordPlay(ctx, core.SongRef{Path: "/c.mp4"})

	deadline := time.After(2 * time.Second)
	for seen := 0; seen < 2; {
		select {
		case size := <-sizes:
			if size > 2 {
				t.Fatalf("Subscriber observed %d entries above the limit", size)
			}
			seen++
		case <-deadline:
			return
		}
	}
}

func TestAggregator_RemovePlay(t *testing.T) {
	agg, doc, _ := newTestAggregator(t, 0)
	ctx := context.Background()

	_, _ = agg.RecordPlay(ctx, core.SongRef{Path: "/a.mp4"})
	_, _ = agg.RecordPlay(ctx, core.SongRef{Path: "/b.mp4"})
	// A duplicate row left behind by two concurrent first plays.
	_ = doc.Set(ctx, core.HistoryPath(testParty)+"/5", core.HistoryEntry{Path: "/a.mp4", Count: 1})

	if err := agg.RemovePlay(ctx, "/a.mp4"); err != nil {
		t.Fatalf("RemovePlay failed: %v", err)
	}

	entries, _ := agg.Entries(ctx)
	if len(entries) != 1 || entries[0].Path != "/b.mp4" {
		t.Errorf("Unexpected entries after removal: %+v", entries)
	}
	if entries[0].Key != "1" {
		t.Errorf("History keys must not shift, got %s", entries[0].Key)
	}

	if err := agg.RemovePlay(ctx, "/a.mp4"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestAggregator_Recent(t *testing.T) {
	agg, _, _ := newTestAggregator(t, 0)
	ctx := context.Background()

	for _, path := range []string{"/a.mp4", "/b.mp4", "/c.mp4", "/a.mp4"} {
		_, _ = agg.RecordPlay(ctx, core.SongRef{Path: path})
	}

	recent, err := agg.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(recent) != 2 || recent[0].Path != "/a.mp4" || recent[1].Path != "/c.mp4" {
		t.Errorf("Unexpected recent entries: %+v", recent)
	}
}

func TestPlanEviction(t *testing.T) {
	collection := map[string]any{
		"0":   core.HistoryEntry{Path: "/a", LastPlayed: 50},
		"1":   core.HistoryEntry{Path: "/b", LastPlayed: 10},
		"2":   map[string]any{"count": 3},
		"3":   core.HistoryEntry{Path: "/d", LastPlayed: 5},
		"new": core.HistoryEntry{Path: "/e", LastPlayed: 1},
	}

	evicted := planEviction(collection, "new", 3)
	if fmt.Sprint(evicted) != "[2 3]" {
		t.Errorf("Expected [2 3], got %v", evicted)
	}

	if evicted := planEviction(collection, "new", 10); evicted != nil {
		t.Errorf("Expected no eviction under the limit, got %v", evicted)
	}
}
