// Package store provides the keyed collection store: a JSON document addressed
// by slash-separated paths with atomic multi-path updates and full-snapshot
// subscriptions, optionally persisted to SQLite.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"karaoke/internal/core"
)

// Backend persists committed documents. Commit receives every top-level
// segment touched by one write (nil means the segment is now empty) and must
// apply them all or none.
type Backend interface {
	Load(ctx context.Context) (map[string]any, error)
	Commit(ctx context.Context, docs map[string]any) error
	Close() error
}

// Document is the in-process keyed collection store. It implements core.Store.
type Document struct {
	mu      sync.RWMutex
	root    map[string]any
	backend Backend
	logger  *zap.Logger

	subMu  sync.Mutex
	subs   map[uint64]*subscription
	nextID uint64
	closed bool
}

var _ core.Store = (*Document)(nil)

// New creates an empty memory-only document.
func New(logger *zap.Logger) *Document {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Document{
		root:   make(map[string]any),
		logger: logger,
		subs:   make(map[uint64]*subscription),
	}
}

// Open loads the document from backend; every later write is committed to it
// before it becomes visible.
func Open(ctx context.Context, backend Backend, logger *zap.Logger) (*Document, error) {
	root, err := backend.Load(ctx)
	if err != nil {
		return nil, &core.StoreError{Op: "load", Err: err}
	}
	if root == nil {
		root = make(map[string]any)
	}

	d := New(logger)
	d.root = root
	d.backend = backend

	d.logger.Info("Loaded store document", zap.Int("parties", len(root)))
	return d, nil
}

// Get returns a copy of the value at path.
func (d *Document) Get(ctx context.Context, path string) (any, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, core.TimeoutError(ctx, err)
	}

	value := d.snapshot(path)
	return value, value != nil, nil
}

func (d *Document) snapshot(path string) any {
	d.mu.RLock()
	defer d.mu.RUnlock()

	segs := splitPath(path)
	if len(segs) == 0 {
		if len(d.root) == 0 {
			return nil
		}
		return deepCopy(d.root)
	}
	return deepCopy(lookup(d.root, segs))
}

// Set replaces the whole value at path. A nil value removes it.
func (d *Document) Set(ctx context.Context, path string, value any) error {
	return d.write(ctx, "set", map[string]any{path: value})
}

// Update applies every path in patch as one atomic write. Nil values delete.
func (d *Document) Update(ctx context.Context, patch map[string]any) error {
	if len(patch) == 0 {
		return nil
	}
	return d.write(ctx, "update", patch)
}

// Remove deletes the value at path.
func (d *Document) Remove(ctx context.Context, path string) error {
	return d.write(ctx, "remove", map[string]any{path: nil})
}

// Push stores value under a new time-ordered random key below path and
// returns the key. This is the legacy key scheme; the party engines allocate
// sequential keys instead.
func (d *Document) Push(ctx context.Context, path string, value any) (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate push key: %w", err)
	}
	key := "-" + id.String()
	if err := d.Set(ctx, core.JoinPath(path, key), value); err != nil {
		return "", err
	}
	return key, nil
}

type pendingWrite struct {
	path  string
	segs  []string
	value any
}

func (d *Document) write(ctx context.Context, op string, patch map[string]any) error {
	if err := ctx.Err(); err != nil {
		return core.TimeoutError(ctx, fmt.Errorf("store %s: %w", op, err))
	}

	writes := make([]pendingWrite, 0, len(patch))
	paths := make([]string, 0, len(patch))
	for rawPath, rawValue := range patch {
		segs, err := validatePath(rawPath)
		if err != nil {
			return err
		}
		value, err := toTree(rawValue)
		if err != nil {
			return fmt.Errorf("store %s %s: %w", op, rawPath, err)
		}
		path := strings.Join(segs, "/")
		writes = append(writes, pendingWrite{path: path, segs: segs, value: value})
		paths = append(paths, path)
	}
	if err := checkOverlap(paths); err != nil {
		return err
	}

	d.mu.Lock()
	next := d.root
	dirty := make(map[string]struct{})
	for _, w := range writes {
		next = withPath(next, w.segs, w.value)
		dirty[w.segs[0]] = struct{}{}
	}

	if d.backend != nil {
		docs := make(map[string]any, len(dirty))
		for seg := range dirty {
			docs[seg] = next[seg]
		}
		if err := d.backend.Commit(ctx, docs); err != nil {
			d.mu.Unlock()
			if errors.Is(err, context.DeadlineExceeded) {
				return core.TimeoutError(ctx, err)
			}
			return &core.StoreError{Op: op, Path: strings.Join(paths, ","), Err: err}
		}
	}
	d.root = next
	d.mu.Unlock()

	d.logger.Debug("Store write committed",
		zap.String("op", op),
		zap.Int("paths", len(paths)))

	d.notify(paths)
	return nil
}

// Subscribe calls fn with the current value at path and again after every
// committed write that touches it. Each delivery is the full value; a slow
// subscriber only sees the newest one.
func (d *Document) Subscribe(path string, fn func(value any)) (unsubscribe func()) {
	path = strings.Join(splitPath(path), "/")

	d.subMu.Lock()
	if d.closed {
		d.subMu.Unlock()
		return func() {}
	}
	id := d.nextID
	d.nextID++
	sub := newSubscription(path, fn)
	d.subs[id] = sub
	d.subMu.Unlock()

	go sub.run(d.snapshot)
	sub.signal()

	return func() {
		d.subMu.Lock()
		delete(d.subs, id)
		d.subMu.Unlock()
		sub.stop()
	}
}

// SubscriberCount reports the number of live subscriptions.
func (d *Document) SubscriberCount() int {
	d.subMu.Lock()
	defer d.subMu.Unlock()
	return len(d.subs)
}

func (d *Document) notify(paths []string) {
	d.subMu.Lock()
	defer d.subMu.Unlock()

	for _, sub := range d.subs {
		for _, p := range paths {
			if touches(sub.path, p) {
				sub.signal()
				break
			}
		}
	}
}

// Close stops every subscription and closes the backend.
func (d *Document) Close() error {
	d.subMu.Lock()
	d.closed = true
	subs := d.subs
	d.subs = make(map[uint64]*subscription)
	d.subMu.Unlock()

	for _, sub := range subs {
		sub.stop()
	}

	if d.backend != nil {
		if err := d.backend.Close(); err != nil {
			return fmt.Errorf("close store backend: %w", err)
		}
	}
	return nil
}
