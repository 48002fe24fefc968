package store

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"karaoke/internal/core"
)

type failingBackend struct {
	err     error
	commits int
}

func (b *failingBackend) Load(context.Context) (map[string]any, error) { return nil, nil }
func (b *failingBackend) Close() error                                 { return nil }

func (b *failingBackend) Commit(context.Context, map[string]any) error {
	b.commits++
	return b.err
}

func item(order int, singer, path string) map[string]any {
	return map[string]any{
		"order":  order,
		"singer": map[string]any{"name": singer},
		"song":   map[string]any{"path": path},
	}
}

func TestDocument_SetGet(t *testing.T) {
	ctx := context.Background()
	doc := New(nil)

	if err := doc.Set(ctx, "p1/player/queue/0", item(1, "Ann", "a.mp4")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	value, ok, err := doc.Get(ctx, "p1/player/queue/0/order")
	if err != nil || !ok {
		t.Fatalf("Get failed: ok=%v err=%v", ok, err)
	}
	if value != float64(1) {
		t.Errorf("Expected order 1, got %#v", value)
	}

	_, ok, _ = doc.Get(ctx, "p1/player/queue/7")
	if ok {
		t.Error("Missing key should not be found")
	}
}

func TestDocument_GetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	doc := New(nil)
	_ = doc.Set(ctx, "p1/history/0", map[string]any{"path": "a.mp4", "count": 1})

	value, _, _ := doc.Get(ctx, "p1/history/0")
	value.(map[string]any)["path"] = "mutated"

	again, _, _ := doc.Get(ctx, "p1/history/0/path")
	if again != "a.mp4" {
		t.Errorf("Store was mutated through a returned value: %v", again)
	}
}

func TestDocument_EmptyContainersArePruned(t *testing.T) {
	ctx := context.Background()
	doc := New(nil)

	if err := doc.Set(ctx, "p1/player/queue", map[string]any{}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if _, ok, _ := doc.Get(ctx, "p1/player"); ok {
		t.Error("Empty map should not be stored")
	}

	_ = doc.Set(ctx, "p1/player/queue/0", item(1, "Ann", "a.mp4"))
	_ = doc.Remove(ctx, "p1/player/queue/0")
	if _, ok, _ := doc.Get(ctx, "p1"); ok {
		t.Error("Removing the last child should prune empty parents")
	}
}

func TestDocument_UpdateIsAtomic(t *testing.T) {
	ctx := context.Background()
	doc := New(nil)

	_ = doc.Update(ctx, map[string]any{
		"p1/player/queue/0": item(1, "Ann", "a.mp4"),
		"p1/player/queue/1": item(2, "Bob", "b.mp4"),
		"p1/player/queue/2": item(3, "Cid", "c.mp4"),
	})

	// Shift-compaction after removing key 0.
	err := doc.Update(ctx, map[string]any{
		"p1/player/queue/0": item(1, "Bob", "b.mp4"),
		"p1/player/queue/1": item(2, "Cid", "c.mp4"),
		"p1/player/queue/2": nil,
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	queue, _, _ := doc.Get(ctx, "p1/player/queue")
	m := queue.(map[string]any)
	if len(m) != 2 {
		t.Fatalf("Expected 2 items, got %d: %v", len(m), m)
	}
	if name := m["0"].(map[string]any)["singer"].(map[string]any)["name"]; name != "Bob" {
		t.Errorf("Expected Bob at key 0, got %v", name)
	}
}

func TestDocument_UpdateRejectsOverlappingPaths(t *testing.T) {
	doc := New(nil)
	err := doc.Update(context.Background(), map[string]any{
		"p1/player/queue":   nil,
		"p1/player/queue/0": item(1, "Ann", "a.mp4"),
	})
	if !errors.Is(err, core.ErrInvalid) {
		t.Errorf("Expected ErrInvalid, got %v", err)
	}
}

func TestDocument_RejectsInvalidPaths(t *testing.T) {
	doc := New(nil)
	for _, path := range []string{"", "/", "p1/a.b", "p1/$x", "p1/[0]", "p1/#"} {
		if err := doc.Set(context.Background(), path, "v"); !errors.Is(err, core.ErrInvalid) {
			t.Errorf("Path %q: expected ErrInvalid, got %v", path, err)
		}
	}
}

func TestDocument_BackendFailureKeepsState(t *testing.T) {
	ctx := context.Background()
	backend := &failingBackend{}
	doc, err := Open(ctx, backend, nil)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	if err := doc.Set(ctx, "p1/player/state", "playing"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	backend.err = errors.New("disk full")
	err = doc.Update(ctx, map[string]any{
		"p1/player/state":   "paused",
		"p1/player/queue/0": item(1, "Ann", "a.mp4"),
	})
	if !errors.Is(err, core.ErrStoreUnavailable) {
		t.Fatalf("Expected ErrStoreUnavailable, got %v", err)
	}

	state, _, _ := doc.Get(ctx, "p1/player/state")
	if state != "playing" {
		t.Errorf("Failed write leaked: state=%v", state)
	}
	if _, ok, _ := doc.Get(ctx, "p1/player/queue"); ok {
		t.Error("Failed write leaked a queue item")
	}
	if backend.commits != 2 {
		t.Errorf("Expected 2 commit attempts, got %d", backend.commits)
	}
}

func TestDocument_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	doc := New(nil)
	if err := doc.Set(ctx, "p1/x", 1); err == nil {
		t.Error("Expected error for canceled context")
	}
}

func TestDocument_Push(t *testing.T) {
	ctx := context.Background()
	doc := New(nil)

	key, err := doc.Push(ctx, "p1/history", map[string]any{"path": "a.mp4"})
	if err != nil {
		t.Fatalf("Push failed: %v", err)
	}
	if !strings.HasPrefix(key, "-") {
		t.Errorf("Push key should be a legacy key, got %q", key)
	}

	other, _ := doc.Push(ctx, "p1/history", map[string]any{"path": "b.mp4"})
	if other == key {
		t.Error("Push keys should be unique")
	}
	if other < key {
		t.Errorf("Push keys should be time ordered: %q < %q", other, key)
	}
}

func waitFor(t *testing.T, ch <-chan any, match func(any) bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case value := <-ch:
			if match(value) {
				return
			}
		case <-deadline:
			t.Fatal("Timed out waiting for subscription delivery")
		}
	}
}

func TestDocument_Subscribe(t *testing.T) {
	ctx := context.Background()
	doc := New(nil)
	_ = doc.Set(ctx, "p1/player/state", "stopped")

	ch := make(chan any, 16)
	unsubscribe := doc.Subscribe("p1/player/state", func(value any) { ch <- value })

	waitFor(t, ch, func(v any) bool { return v == "stopped" })

	_ = doc.Set(ctx, "p1/player/state", "playing")
	waitFor(t, ch, func(v any) bool { return v == "playing" })

	// Writes to ancestors are visible to the subscriber.
	_ = doc.Update(ctx, map[string]any{"p1/player": map[string]any{"state": "paused"}})
	waitFor(t, ch, func(v any) bool { return v == "paused" })

	if doc.SubscriberCount() != 1 {
		t.Errorf("Expected 1 subscriber, got %d", doc.SubscriberCount())
	}
	unsubscribe()
	if doc.SubscriberCount() != 0 {
		t.Errorf("Expected 0 subscribers, got %d", doc.SubscriberCount())
	}
}

func TestDocument_SubscribeDeliversFullSnapshot(t *testing.T) {
	ctx := context.Background()
	doc := New(nil)

	ch := make(chan any, 16)
	unsubscribe := doc.Subscribe("p1/player/queue", func(value any) { ch <- value })
	defer unsubscribe()

	_ = doc.Set(ctx, "p1/player/queue/0", item(1, "Ann", "a.mp4"))
	_ = doc.Set(ctx, "p1/player/queue/1", item(2, "Bob", "b.mp4"))

	waitFor(t, ch, func(v any) bool {
		m, ok := v.(map[string]any)
		return ok && len(m) == 2
	})
}

func TestDocument_UnrelatedWritesDoNotNotify(t *testing.T) {
	ctx := context.Background()
	doc := New(nil)

	ch := make(chan any, 16)
	unsubscribe := doc.Subscribe("p1/history", func(value any) { ch <- value })
	defer unsubscribe()

	// Initial delivery of the empty collection.
	waitFor(t, ch, func(v any) bool { return v == nil })

	_ = doc.Set(ctx, "p2/history/0", map[string]any{"path": "a.mp4"})
	_ = doc.Set(ctx, "p1/player/state", "playing")

	select {
	case v := <-ch:
		t.Errorf("Unexpected delivery: %v", v)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestDocument_CloseStopsSubscriptions(t *testing.T) {
	doc := New(nil)
	doc.Subscribe("p1", func(any) {})
	if err := doc.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if doc.SubscriberCount() != 0 {
		t.Errorf("Expected no subscribers after Close, got %d", doc.SubscriberCount())
	}

	unsubscribe := doc.Subscribe("p1", func(any) {})
	unsubscribe()
}
