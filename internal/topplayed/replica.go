package topplayed

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"karaoke/internal/core"
)

// Replica keeps {party}/topPlayed in step with {party}/history. It reduces
// every history snapshot it is notified of and replaces the leaderboard
// whole.
type Replica struct {
	store        core.Store
	historyPath  string
	topPath      string
	limit        int
	writeTimeout time.Duration
	logger       *zap.Logger
	recorder     core.Recorder

	mu          sync.Mutex
	last        []core.TopPlayedEntry
	written     bool
	unsubscribe func()
}

func NewReplica(store core.Store, party string, limit int, logger *zap.Logger, recorder core.Recorder) *Replica {
	if logger == nil {
		logger = zap.NewNop()
	}
	if recorder == nil {
		recorder = core.NopRecorder{}
	}
	return &Replica{
		store:        store,
		historyPath:  core.HistoryPath(party),
		topPath:      core.TopPlayedPath(party),
		limit:        limit,
		writeTimeout: 10 * time.Second,
		logger:       logger.With(zap.String("party", party)),
		recorder:     recorder,
	}
}

// Start subscribes to history. Each notification triggers a recompute.
func (r *Replica) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.unsubscribe != nil {
		return
	}
	r.unsubscribe = r.store.Subscribe(r.historyPath, r.onHistory)
	r.logger.Debug("Top-played replica started")
}

func (r *Replica) onHistory(value any) {
	ctx, cancel := context.WithTimeout(context.Background(), r.writeTimeout)
	defer cancel()

	history, invalid := core.DecodeHistory(value)
	if len(invalid) > 0 {
		r.logger.Warn("Ignoring undecodable history entries", zap.Strings("keys", invalid))
	}
	if _, err := r.apply(ctx, history); err != nil {
		r.logger.Error("Failed to update top played", zap.Error(err))
	}
}

// Recompute reads the current history and rewrites the leaderboard.
func (r *Replica) Recompute(ctx context.Context) ([]core.TopPlayedEntry, error) {
	raw, _, err := r.store.Get(ctx, r.historyPath)
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	history, _ := core.DecodeHistory(raw)
	return r.apply(ctx, history)
}

func (r *Replica) apply(ctx context.Context, history []core.HistoryEntry) (top []core.TopPlayedEntry, err error) {
	start := time.Now()
	defer func() {
		r.recorder.RecordOperation("topplayed.recompute", core.ErrorStatus(err), time.Since(start))
	}()

	top = Reduce(history, r.limit)

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.written && slices.Equal(top, r.last) {
		return top, nil
	}
	if err = r.store.Set(ctx, r.topPath, top); err != nil {
		return nil, fmt.Errorf("write top played: %w", err)
	}
	r.last = top
	r.written = true

	r.logger.Debug("Top played updated",
		zap.Int("entries", len(top)),
		zap.Int("history", len(history)))
	return top, nil
}

// Close stops listening to history.
func (r *Replica) Close() {
	r.mu.Lock()
	unsubscribe := r.unsubscribe
	r.unsubscribe = nil
	r.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}
