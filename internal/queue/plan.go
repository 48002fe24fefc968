package queue

import (
	"fmt"
	"sort"
	"strings"

	"karaoke/internal/core"
	"karaoke/pkg/keyseq"
)

// Planners turn a queue snapshot into the complete patch for one operation.
// They never touch the store, so each operation is exactly one atomic write.

// ranked decodes the snapshot in key rank order: sequential keys ascending,
// then legacy keys lexically. Undecodable keys are returned separately.
func ranked(collection map[string]any) (items []core.QueueItem, invalid []string) {
	for _, key := range core.SortedKeys(collection) {
		item, err := core.DecodeQueueItem(key, collection[key])
		if err != nil {
			invalid = append(invalid, key)
			continue
		}
		items = append(items, item)
	}
	return items, invalid
}

// byOrder sorts items for display: order ascending, key rank on ties.
func byOrder(items []core.QueueItem) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Order != items[j].Order {
			return items[i].Order < items[j].Order
		}
		return keyseq.Less(items[i].Key, items[j].Key)
	})
}

func sameSinger(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

func sameRequest(item core.QueueItem, singer core.SingerRef, song core.SongRef) bool {
	return item.Song.Path == song.Path && sameSinger(item.Singer.Name, singer.Name)
}

// planEnqueue returns the item to write for a new request, with its key and
// order filled in. The item always lands after every existing order.
func planEnqueue(collection map[string]any, singer core.SingerRef, song core.SongRef) (core.QueueItem, error) {
	singer.Name = strings.TrimSpace(singer.Name)
	song.Path = strings.TrimSpace(song.Path)
	if singer.Name == "" {
		return core.QueueItem{}, fmt.Errorf("%w: singer name is required", core.ErrInvalid)
	}
	if song.Path == "" {
		return core.QueueItem{}, fmt.Errorf("%w: song path is required", core.ErrInvalid)
	}

	maxOrder := 0
	for key, raw := range collection {
		item, err := core.DecodeQueueItem(key, raw)
		if err != nil {
			continue
		}
		if sameRequest(item, singer, song) {
			return core.QueueItem{}, fmt.Errorf("%w: %s already queued %s", core.ErrDuplicate, singer.Name, song.Path)
		}
		maxOrder = max(maxOrder, item.Order)
	}

	return core.QueueItem{
		Key:    keyseq.Format(keyseq.NextKeyIn(collection)),
		Order:  maxOrder + 1,
		Singer: singer,
		Song:   song,
	}, nil
}

// withOrder keeps order equal to key rank on items moved by compaction.
func withOrder(newKey int, value any) any {
	record, ok := value.(map[string]any)
	if !ok {
		return value
	}
	out := make(map[string]any, len(record))
	for k, v := range record {
		out[k] = v
	}
	out["order"] = newKey + 1
	return out
}

func planDequeue(collection map[string]any, key string) (keyseq.Patch, error) {
	if _, ok := collection[key]; !ok {
		return nil, fmt.Errorf("queue item %s: %w", key, core.ErrNotFound)
	}
	return keyseq.Compact(collection, key, withOrder), nil
}

// planRewrite deletes every existing key and writes items at 0..N-1 with
// order = index+1. Keys that are rewritten carry the new value, not a delete.
func planRewrite(collection map[string]any, items []core.QueueItem) keyseq.Patch {
	patch := make(keyseq.Patch, len(collection)+len(items))
	for key := range collection {
		patch[key] = nil
	}
	for i, item := range items {
		item.Key = keyseq.Format(i)
		item.Order = i + 1
		patch[item.Key] = item
	}
	return patch
}

// resolveOrder maps keys to current items in the requested order. Items the
// caller did not mention (for example requests queued after the caller last
// read the queue) keep their relative order after the listed ones.
func resolveOrder(collection map[string]any, keys []string) ([]core.QueueItem, error) {
	current := make(map[string]core.QueueItem, len(collection))
	all := make([]core.QueueItem, 0, len(collection))
	for key, raw := range collection {
		item, err := core.DecodeQueueItem(key, raw)
		if err != nil {
			continue
		}
		current[key] = item
		all = append(all, item)
	}
	byOrder(all)

	seen := make(map[string]struct{}, len(keys))
	ordered := make([]core.QueueItem, 0, len(all))
	for _, key := range keys {
		if _, dup := seen[key]; dup {
			return nil, fmt.Errorf("%w: key %s listed twice", core.ErrInvalid, key)
		}
		item, ok := current[key]
		if !ok {
			return nil, fmt.Errorf("queue item %s: %w", key, core.ErrNotFound)
		}
		seen[key] = struct{}{}
		ordered = append(ordered, item)
	}
	for _, item := range all {
		if _, ok := seen[item.Key]; !ok {
			ordered = append(ordered, item)
		}
	}
	return ordered, nil
}

// planRepair rewrites any order that differs from the item's 1-based rank by
// key. It only touches order fields unless undecodable records are present,
// in which case the queue is rewritten without them. The second result is the
// number of records it had to fix; zero means the queue is consistent.
func planRepair(collection map[string]any) (keyseq.Patch, int) {
	items, invalid := ranked(collection)

	if len(invalid) > 0 {
		fixed := len(invalid)
		for i, item := range items {
			if item.Key != keyseq.Format(i) || item.Order != i+1 {
				fixed++
			}
		}
		return planRewrite(collection, items), fixed
	}

	patch := make(keyseq.Patch)
	for i, item := range items {
		if item.Order != i+1 {
			patch[item.Key+"/order"] = i + 1
		}
	}
	return patch, len(patch)
}

// planMigrate moves every legacy key to an allocator key, taking legacy keys
// in store iteration order so push keys keep their chronological order.
func planMigrate(collection map[string]any) (keyseq.Patch, int) {
	var legacy []string
	used := make([]string, 0, len(collection))
	for key := range collection {
		if keyseq.IsSequential(key) {
			used = append(used, key)
		} else {
			legacy = append(legacy, key)
		}
	}
	sort.Strings(legacy)

	patch := make(keyseq.Patch, 2*len(legacy))
	for _, key := range legacy {
		next := keyseq.Format(keyseq.NextKey(used))
		used = append(used, next)
		patch[key] = nil
		patch[next] = collection[key]
	}
	return patch, len(legacy)
}
