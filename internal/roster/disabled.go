package roster

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"

	"karaoke/internal/core"
)

// Disabled holds songs that may not be requested. Entries are keyed by a
// hash of the path, so membership is a single lookup and writes never race
// on key allocation.
type Disabled struct {
	store    core.Store
	path     string
	timeout  time.Duration
	logger   *zap.Logger
	recorder core.Recorder
}

func NewDisabled(store core.Store, party string, timeout time.Duration, logger *zap.Logger, recorder core.Recorder) *Disabled {
	if timeout <= 0 {
		timeout = core.DefaultDisabledWriteTimeoutSecs * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if recorder == nil {
		recorder = core.NopRecorder{}
	}
	return &Disabled{
		store:    store,
		path:     core.DisabledPath(party),
		timeout:  timeout,
		logger:   logger,
		recorder: recorder,
	}
}

// Key returns the collection key for a song path.
func Key(path string) string {
	return strconv.FormatUint(xxhash.Sum64String(path), 16)
}

func (d *Disabled) List(ctx context.Context) ([]core.DisabledEntry, error) {
	raw, _, err := d.store.Get(ctx, d.path)
	if err != nil {
		return nil, fmt.Errorf("read disabled songs: %w", err)
	}
	collection := core.DecodeCollection(raw)
	entries := make([]core.DisabledEntry, 0, len(collection))
	for _, key := range core.SortedKeys(collection) {
		entry, err := core.DecodeDisabled(key, collection[key])
		if err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (d *Disabled) IsDisabled(ctx context.Context, path string) (bool, error) {
	_, found, err := d.store.Get(ctx, core.JoinPath(d.path, Key(path)))
	if err != nil {
		return false, fmt.Errorf("read disabled song: %w", err)
	}
	return found, nil
}

// Disable marks song as not requestable. Disabling twice is a no-op.
func (d *Disabled) Disable(ctx context.Context, song core.SongRef) (err error) {
	start := time.Now()
	defer func() {
		d.recorder.RecordOperation("disabled.add", core.ErrorStatus(err), time.Since(start))
	}()

	path := strings.TrimSpace(song.Path)
	if path == "" {
		return fmt.Errorf("%w: song path is required", core.ErrInvalid)
	}
	entry := core.DisabledEntry{Path: path, Artist: song.Artist, Title: song.Title}
	return d.bounded(ctx, "disable", Key(path), entry)
}

// Enable makes a disabled song requestable again.
func (d *Disabled) Enable(ctx context.Context, path string) (err error) {
	start := time.Now()
	defer func() {
		d.recorder.RecordOperation("disabled.remove", core.ErrorStatus(err), time.Since(start))
	}()

	path = strings.TrimSpace(path)
	disabled, err := d.IsDisabled(ctx, path)
	if err != nil {
		return err
	}
	if !disabled {
		return fmt.Errorf("disabled song %s: %w", path, core.ErrNotFound)
	}
	return d.bounded(ctx, "enable", Key(path), nil)
}

// bounded writes value at key but gives up waiting after the configured
// timeout. The write itself is not canceled; a late success still lands.
func (d *Disabled) bounded(ctx context.Context, op, key string, value any) error {
	done := make(chan error, 1)
	go func() {
		done <- d.store.Set(context.WithoutCancel(ctx), core.JoinPath(d.path, key), value)
	}()

	timer := time.NewTimer(d.timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("%s song: %w", op, err)
		}
		d.logger.Debug("Disabled songs updated", zap.String("op", op), zap.String("key", key))
		return nil
	case <-timer.C:
		d.logger.Warn("Disabled song write timed out",
			zap.String("op", op),
			zap.String("key", key),
			zap.Duration("timeout", d.timeout))
		return fmt.Errorf("%s song after %s: %w", op, d.timeout, core.ErrTimeout)
	case <-ctx.Done():
		return core.TimeoutError(ctx, fmt.Errorf("%s song: %w", op, ctx.Err()))
	}
}
