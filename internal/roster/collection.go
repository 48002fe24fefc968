// Package roster manages the membership collections of a party: singers,
// favorites and disabled songs.
package roster

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"karaoke/internal/core"
	"karaoke/pkg/keyseq"
)

// Collection is a sequential-keyed membership collection. Members are
// identified by identity (a name or a path); keys are allocated with
// keyseq.NextKey and kept contiguous by shift-compaction on removal.
type Collection[T any] struct {
	store    core.Store
	path     string
	name     string
	decode   func(key string, raw any) (T, error)
	identity func(T) string
	logger   *zap.Logger
	recorder core.Recorder
}

func newCollection[T any](
	store core.Store,
	path, name string,
	decode func(string, any) (T, error),
	identity func(T) string,
	logger *zap.Logger,
	recorder core.Recorder,
) *Collection[T] {
	if logger == nil {
		logger = zap.NewNop()
	}
	if recorder == nil {
		recorder = core.NopRecorder{}
	}
	return &Collection[T]{
		store:    store,
		path:     path,
		name:     name,
		decode:   decode,
		identity: identity,
		logger:   logger,
		recorder: recorder,
	}
}

func (c *Collection[T]) snapshot(ctx context.Context) (map[string]any, error) {
	raw, _, err := c.store.Get(ctx, c.path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", c.name, err)
	}
	return core.DecodeCollection(raw), nil
}

// List returns every decodable member in key order.
func (c *Collection[T]) List(ctx context.Context) ([]T, error) {
	collection, err := c.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	members := make([]T, 0, len(collection))
	for _, key := range core.SortedKeys(collection) {
		member, err := c.decode(key, collection[key])
		if err != nil {
			c.logger.Warn("Skipping undecodable member",
				zap.String("collection", c.name),
				zap.String("key", key),
				zap.Error(err))
			continue
		}
		members = append(members, member)
	}
	return members, nil
}

func (c *Collection[T]) find(collection map[string]any, id string) (string, T, bool) {
	for _, key := range core.SortedKeys(collection) {
		member, err := c.decode(key, collection[key])
		if err == nil && c.identity(member) == id {
			return key, member, true
		}
	}
	var zero T
	return "", zero, false
}

// Find returns the member with the given identity.
func (c *Collection[T]) Find(ctx context.Context, id string) (T, bool, error) {
	collection, err := c.snapshot(ctx)
	if err != nil {
		var zero T
		return zero, false, err
	}
	_, member, ok := c.find(collection, id)
	return member, ok, nil
}

// Add stores member under the next free key. A member with the same identity
// is a duplicate.
func (c *Collection[T]) Add(ctx context.Context, member T) (key string, err error) {
	start := time.Now()
	defer func() {
		c.recorder.RecordOperation(c.name+".add", core.ErrorStatus(err), time.Since(start))
	}()

	collection, err := c.snapshot(ctx)
	if err != nil {
		return "", err
	}
	id := c.identity(member)
	if _, _, exists := c.find(collection, id); exists {
		return "", fmt.Errorf("%s %s: %w", c.name, id, core.ErrDuplicate)
	}

	key = keyseq.Format(keyseq.NextKeyIn(collection))
	if err = c.store.Update(ctx, keyseq.Patch{key: member}.Paths(c.path)); err != nil {
		return "", fmt.Errorf("write %s: %w", c.name, err)
	}
	return key, nil
}

// Remove deletes the member with the given identity and compacts the keys
// above it.
func (c *Collection[T]) Remove(ctx context.Context, id string) (err error) {
	start := time.Now()
	defer func() {
		c.recorder.RecordOperation(c.name+".remove", core.ErrorStatus(err), time.Since(start))
	}()

	collection, err := c.snapshot(ctx)
	if err != nil {
		return err
	}
	key, _, ok := c.find(collection, id)
	if !ok {
		return fmt.Errorf("%s %s: %w", c.name, id, core.ErrNotFound)
	}

	patch := keyseq.Compact(collection, key, nil)
	if err = c.store.Update(ctx, patch.Paths(c.path)); err != nil {
		return fmt.Errorf("write %s: %w", c.name, err)
	}
	return nil
}
