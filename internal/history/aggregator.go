// Package history keeps the play log: one entry per played path with a
// running count, bounded by evicting the least recently played entries.
package history

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"karaoke/internal/core"
	"karaoke/pkg/keyseq"
)

type Aggregator struct {
	store    core.Store
	path     string
	limit    int
	now      func() time.Time
	logger   *zap.Logger
	recorder core.Recorder
}

// NewAggregator creates the aggregator for party. limit is the retention
// ceiling; values below one fall back to core.DefaultHistoryLimit.
func NewAggregator(store core.Store, party string, limit int, logger *zap.Logger, recorder core.Recorder) *Aggregator {
	if limit < 1 {
		limit = core.DefaultHistoryLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if recorder == nil {
		recorder = core.NopRecorder{}
	}
	return &Aggregator{
		store:    store,
		path:     core.HistoryPath(party),
		limit:    limit,
		now:      time.Now,
		logger:   logger.With(zap.String("party", party)),
		recorder: recorder,
	}
}

// WithClock replaces the time source used for lastPlayed.
func (a *Aggregator) WithClock(now func() time.Time) *Aggregator {
	a.now = now
	return a
}

func (a *Aggregator) snapshot(ctx context.Context) (map[string]any, error) {
	raw, _, err := a.store.Get(ctx, a.path)
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	return core.DecodeCollection(raw), nil
}

// Entries returns every decodable entry in key order.
func (a *Aggregator) Entries(ctx context.Context) ([]core.HistoryEntry, error) {
	collection, err := a.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	entries := make([]core.HistoryEntry, 0, len(collection))
	for _, key := range core.SortedKeys(collection) {
		entry, err := core.DecodeHistoryEntry(key, collection[key])
		if err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Recent returns up to limit entries, most recently played first.
func (a *Aggregator) Recent(ctx context.Context, limit int) ([]core.HistoryEntry, error) {
	entries, err := a.Entries(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].LastPlayed > entries[j].LastPlayed
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// RecordPlay adds one play of song. Repeat plays of a path accumulate on the
// existing entry. Insert and any eviction it causes are one atomic write.
func (a *Aggregator) RecordPlay(ctx context.Context, song core.SongRef) (entry core.HistoryEntry, err error) {
	start := time.Now()
	defer func() {
		a.recorder.RecordOperation("history.record", core.ErrorStatus(err), time.Since(start))
	}()

	path := strings.TrimSpace(song.Path)
	if path == "" {
		return core.HistoryEntry{}, fmt.Errorf("%w: song path is required", core.ErrInvalid)
	}

	collection, err := a.snapshot(ctx)
	if err != nil {
		return core.HistoryEntry{}, err
	}

	now := a.now().UnixMilli()
	entry, found := findByPath(collection, path)
	if found {
		increment := song.Count
		if increment <= 0 {
			increment = 1
		}
		entry.Count += increment
		entry.LastPlayed = now
		if entry.Artist == "" {
			entry.Artist = song.Artist
		}
		if entry.Title == "" {
			entry.Title = song.Title
		}
	} else {
		entry = core.HistoryEntry{
			Key:        keyseq.Format(keyseq.NextKeyIn(collection)),
			Path:       path,
			Artist:     song.Artist,
			Title:      song.Title,
			Count:      1,
			LastPlayed: now,
		}
	}

	next := make(map[string]any, len(collection)+1)
	for k, v := range collection {
		next[k] = v
	}
	next[entry.Key] = entry

	patch := keyseq.Patch{entry.Key: entry}
	evicted := planEviction(next, entry.Key, a.limit)
	for _, key := range evicted {
		patch[key] = nil
	}

	if err = a.store.Update(ctx, patch.Paths(a.path)); err != nil {
		return core.HistoryEntry{}, fmt.Errorf("write history: %w", err)
	}

	if len(evicted) > 0 {
		a.recorder.RecordEviction(len(evicted))
		a.logger.Debug("Evicted history entries",
			zap.Strings("keys", evicted),
			zap.Int("limit", a.limit))
	}
	a.logger.Debug("Recorded play",
		zap.String("key", entry.Key),
		zap.String("path", entry.Path),
		zap.Int("count", entry.Count))
	return entry, nil
}

// RemovePlay deletes every entry for path. History keys carry no rank, so
// nothing is shifted.
func (a *Aggregator) RemovePlay(ctx context.Context, path string) (err error) {
	start := time.Now()
	defer func() {
		a.recorder.RecordOperation("history.remove", core.ErrorStatus(err), time.Since(start))
	}()

	collection, err := a.snapshot(ctx)
	if err != nil {
		return err
	}

	patch := make(keyseq.Patch)
	for key, raw := range collection {
		entry, decodeErr := core.DecodeHistoryEntry(key, raw)
		if decodeErr == nil && entry.Path == path {
			patch[key] = nil
		}
	}
	if len(patch) == 0 {
		return fmt.Errorf("history entry %s: %w", path, core.ErrNotFound)
	}

	if err = a.store.Update(ctx, patch.Paths(a.path)); err != nil {
		return fmt.Errorf("write history: %w", err)
	}
	return nil
}

// findByPath returns the first entry for path in key order. Concurrent first
// plays can leave two entries for a path; the lowest key wins.
func findByPath(collection map[string]any, path string) (core.HistoryEntry, bool) {
	for _, key := range core.SortedKeys(collection) {
		entry, err := core.DecodeHistoryEntry(key, collection[key])
		if err == nil && entry.Path == path {
			return entry, true
		}
	}
	return core.HistoryEntry{}, false
}

// planEviction picks the keys to delete so that collection holds at most
// limit entries. Undecodable records go first, then the smallest lastPlayed.
// The key just written is never evicted.
func planEviction(collection map[string]any, written string, limit int) []string {
	excess := len(collection) - limit
	if excess <= 0 {
		return nil
	}

	type candidate struct {
		key        string
		valid      bool
		lastPlayed int64
	}
	candidates := make([]candidate, 0, len(collection))
	for key, raw := range collection {
		if key == written {
			continue
		}
		var c candidate
		c.key = key
		switch v := raw.(type) {
		case core.HistoryEntry:
			c.valid, c.lastPlayed = true, v.LastPlayed
		default:
			if entry, err := core.DecodeHistoryEntry(key, v); err == nil {
				c.valid, c.lastPlayed = true, entry.LastPlayed
			}
		}
		candidates = append(candidates, c)
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.valid != b.valid {
			return !a.valid
		}
		if a.lastPlayed != b.lastPlayed {
			return a.lastPlayed < b.lastPlayed
		}
		return keyseq.Less(a.key, b.key)
	})

	excess = min(excess, len(candidates))
	evicted := make([]string, 0, excess)
	for _, c := range candidates[:excess] {
		evicted = append(evicted, c.key)
	}
	return evicted
}
