// Package queue maintains the party request queue: a collection keyed 0..N-1
// whose items carry a dense 1-based order.
package queue

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"karaoke/internal/core"
	"karaoke/pkg/keyseq"
)

// Engine owns the queue invariants for one party. It holds no state of its
// own: every operation reads the current snapshot and commits one atomic
// patch, so concurrent engines on other processes converge through
// RepairOrder.
type Engine struct {
	store    core.Store
	path     string
	logger   *zap.Logger
	recorder core.Recorder
}

func NewEngine(store core.Store, party string, logger *zap.Logger, recorder core.Recorder) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if recorder == nil {
		recorder = core.NopRecorder{}
	}
	return &Engine{
		store:    store,
		path:     core.QueuePath(party),
		logger:   logger.With(zap.String("party", party)),
		recorder: recorder,
	}
}

func (e *Engine) observe(op string, start time.Time, err error) {
	e.recorder.RecordOperation("queue."+op, core.ErrorStatus(err), time.Since(start))
}

func (e *Engine) snapshot(ctx context.Context) (map[string]any, error) {
	raw, _, err := e.store.Get(ctx, e.path)
	if err != nil {
		return nil, fmt.Errorf("read queue: %w", err)
	}
	return core.DecodeCollection(raw), nil
}

func (e *Engine) commit(ctx context.Context, patch keyseq.Patch) error {
	if len(patch) == 0 {
		return nil
	}
	if err := e.store.Update(ctx, patch.Paths(e.path)); err != nil {
		return fmt.Errorf("write queue: %w", err)
	}
	return nil
}

// List returns the queue sorted by order. Undecodable records are skipped.
func (e *Engine) List(ctx context.Context) ([]core.QueueItem, error) {
	collection, err := e.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	items, invalid := core.DecodeQueue(collection)
	if len(invalid) > 0 {
		e.logger.Warn("Skipping undecodable queue items", zap.Strings("keys", invalid))
	}
	byOrder(items)
	return items, nil
}

// Head returns the item with the lowest order.
func (e *Engine) Head(ctx context.Context) (core.QueueItem, bool, error) {
	items, err := e.List(ctx)
	if err != nil || len(items) == 0 {
		return core.QueueItem{}, false, err
	}
	return items[0], true, nil
}

// Enqueue appends a request for singer to sing song. The same singer cannot
// queue the same path twice.
func (e *Engine) Enqueue(ctx context.Context, singer core.SingerRef, song core.SongRef) (item core.QueueItem, err error) {
	start := time.Now()
	defer func() { e.observe("enqueue", start, err) }()

	collection, err := e.snapshot(ctx)
	if err != nil {
		return core.QueueItem{}, err
	}

	item, err = planEnqueue(collection, singer, song)
	if err != nil {
		return core.QueueItem{}, err
	}

	if err = e.commit(ctx, keyseq.Patch{item.Key: item}); err != nil {
		return core.QueueItem{}, err
	}

	e.logger.Debug("Enqueued request",
		zap.String("key", item.Key),
		zap.Int("order", item.Order),
		zap.String("singer", item.Singer.Name),
		zap.String("path", item.Song.Path))
	return item, nil
}

// Dequeue removes the item at key and shifts every later key down by one.
func (e *Engine) Dequeue(ctx context.Context, key string) (removed core.QueueItem, err error) {
	start := time.Now()
	defer func() { e.observe("dequeue", start, err) }()

	collection, err := e.snapshot(ctx)
	if err != nil {
		return core.QueueItem{}, err
	}

	patch, err := planDequeue(collection, key)
	if err != nil {
		return core.QueueItem{}, err
	}
	removed, decodeErr := core.DecodeQueueItem(key, collection[key])
	if decodeErr != nil {
		e.logger.Warn("Dequeuing undecodable queue item", zap.String("key", key), zap.Error(decodeErr))
	}

	if err = e.commit(ctx, patch); err != nil {
		return core.QueueItem{}, err
	}

	e.logger.Debug("Dequeued request",
		zap.String("key", key),
		zap.Int("shifted", len(patch)-1))
	return removed, nil
}

// Reorder replaces the whole queue with items in the given order, keyed
// 0..N-1 with order index+1. Anything not in items is dropped.
func (e *Engine) Reorder(ctx context.Context, items []core.QueueItem) (err error) {
	start := time.Now()
	defer func() { e.observe("reorder", start, err) }()

	collection, err := e.snapshot(ctx)
	if err != nil {
		return err
	}
	for _, item := range items {
		if item.Song.Path == "" || item.Singer.Name == "" {
			return fmt.Errorf("%w: reorder item without song path or singer", core.ErrInvalid)
		}
	}

	return e.commit(ctx, planRewrite(collection, items))
}

// ReorderKeys reorders by key. Current items missing from keys keep their
// relative order behind the listed ones.
func (e *Engine) ReorderKeys(ctx context.Context, keys []string) (err error) {
	start := time.Now()
	defer func() { e.observe("reorder", start, err) }()

	collection, err := e.snapshot(ctx)
	if err != nil {
		return err
	}
	ordered, err := resolveOrder(collection, keys)
	if err != nil {
		return err
	}
	return e.commit(ctx, planRewrite(collection, ordered))
}

// Move places the item at key at position index (0-based) in display order.
// Out of range indexes clamp to the ends.
func (e *Engine) Move(ctx context.Context, key string, index int) (err error) {
	start := time.Now()
	defer func() { e.observe("move", start, err) }()

	collection, err := e.snapshot(ctx)
	if err != nil {
		return err
	}
	ordered, err := resolveOrder(collection, nil)
	if err != nil {
		return err
	}

	from := -1
	for i, item := range ordered {
		if item.Key == key {
			from = i
			break
		}
	}
	if from < 0 {
		return fmt.Errorf("queue item %s: %w", key, core.ErrNotFound)
	}

	moving := ordered[from]
	ordered = append(ordered[:from], ordered[from+1:]...)
	index = min(max(index, 0), len(ordered))
	ordered = append(ordered[:index], append([]core.QueueItem{moving}, ordered[index:]...)...)

	return e.commit(ctx, planRewrite(collection, ordered))
}

// RemoveSinger drops every request of the named singer and returns how many
// were removed.
func (e *Engine) RemoveSinger(ctx context.Context, name string) (removed int, err error) {
	start := time.Now()
	defer func() { e.observe("remove_singer", start, err) }()

	collection, err := e.snapshot(ctx)
	if err != nil {
		return 0, err
	}
	ordered, err := resolveOrder(collection, nil)
	if err != nil {
		return 0, err
	}

	kept := ordered[:0]
	for _, item := range ordered {
		if sameSinger(item.Singer.Name, name) {
			removed++
			continue
		}
		kept = append(kept, item)
	}
	if removed == 0 {
		return 0, nil
	}

	if err = e.commit(ctx, planRewrite(collection, kept)); err != nil {
		return 0, err
	}
	return removed, nil
}

// RepairOrder rewrites orders so they equal each item's rank by key. It is
// idempotent and returns the number of records it fixed.
func (e *Engine) RepairOrder(ctx context.Context) (fixed int, err error) {
	start := time.Now()
	defer func() { e.observe("repair", start, err) }()

	collection, err := e.snapshot(ctx)
	if err != nil {
		return 0, err
	}

	patch, fixed := planRepair(collection)
	if fixed == 0 {
		return 0, nil
	}

	e.logger.Warn("Repairing queue order",
		zap.Error(core.ErrInconsistent),
		zap.Int("fixed", fixed))

	if err = e.commit(ctx, patch); err != nil {
		return 0, err
	}
	e.recorder.RecordRepair("queue", fixed)
	return fixed, nil
}

// MigrateLegacyKeys re-keys push-style keys to sequential keys in one write.
func (e *Engine) MigrateLegacyKeys(ctx context.Context) (migrated int, err error) {
	start := time.Now()
	defer func() { e.observe("migrate", start, err) }()

	collection, err := e.snapshot(ctx)
	if err != nil {
		return 0, err
	}

	patch, migrated := planMigrate(collection)
	if migrated == 0 {
		return 0, nil
	}

	if err = e.commit(ctx, patch); err != nil {
		return 0, err
	}

	e.logger.Info("Migrated legacy queue keys", zap.Int("migrated", migrated))
	return migrated, nil
}

// Reconcile migrates legacy keys and then repairs order.
func (e *Engine) Reconcile(ctx context.Context) error {
	if _, err := e.MigrateLegacyKeys(ctx); err != nil {
		return err
	}
	if _, err := e.RepairOrder(ctx); err != nil {
		return err
	}
	return nil
}
