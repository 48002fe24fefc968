package party

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"karaoke/internal/core"
	"karaoke/internal/history"
	"karaoke/internal/queue"
	"karaoke/internal/roster"
	"karaoke/internal/topplayed"
	"karaoke/pkg/keyseq"
)

func sortQueue(items []core.QueueItem) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Order != items[j].Order {
			return items[i].Order < items[j].Order
		}
		return keyseq.Less(items[i].Key, items[j].Key)
	})
}

// Controller runs one party. Its own mutations are serialized; writers in
// other processes can still interleave, which Reconcile heals.
type Controller struct {
	party    string
	store    core.Store
	logger   *zap.Logger
	recorder core.Recorder

	mu        sync.Mutex
	queue     *queue.Engine
	history   *history.Aggregator
	replica   *topplayed.Replica
	singers   *roster.Singers
	favorites *roster.Favorites
	disabled  *roster.Disabled
	session   *Session
}

// NewController opens the party: it reconciles the queue once, starts the
// top-played replica and opens the session.
func NewController(ctx context.Context, st core.Store, party string, cfg core.AppConfig,
	logger *zap.Logger, recorder core.Recorder) (*Controller, error) {
	if err := ValidateID(party); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if recorder == nil {
		recorder = core.NopRecorder{}
	}
	logger = logger.With(zap.String("party", party))

	c := &Controller{
		party:     party,
		store:     st,
		logger:    logger,
		recorder:  recorder,
		queue:     queue.NewEngine(st, party, logger.Named("queue"), recorder),
		history:   history.NewAggregator(st, party, cfg.HistoryLimit, logger.Named("history"), recorder),
		replica:   topplayed.NewReplica(st, party, cfg.TopPlayedLimit, logger.Named("topplayed"), recorder),
		singers:   roster.NewSingers(st, party, logger.Named("singers"), recorder),
		favorites: roster.NewFavorites(st, party, logger.Named("favorites"), recorder),
		disabled:  roster.NewDisabled(st, party, cfg.DisabledWriteTimeout(), logger.Named("disabled"), recorder),
	}

	if err := c.queue.Reconcile(ctx); err != nil {
		return nil, fmt.Errorf("reconcile queue: %w", err)
	}
	c.replica.Start()
	c.session = OpenSession(st, party, logger.Named("session"))

	// The session fills its membership set asynchronously; prime it so the
	// first requests already see songs disabled in an earlier run.
	disabled, err := c.disabled.List(ctx)
	if err != nil {
		c.Close()
		return nil, err
	}
	for _, entry := range disabled {
		c.session.markDisabled(entry.Path, true)
	}

	logger.Info("Party opened")
	return c, nil
}

func (c *Controller) Party() string { return c.party }

func (c *Controller) Session() *Session { return c.session }

// reconcile runs after mutations. Failures are logged; the next run heals.
func (c *Controller) reconcile(ctx context.Context) {
	if err := c.queue.Reconcile(ctx); err != nil {
		c.logger.Warn("Queue reconcile failed", zap.Error(err))
	}
}

func (c *Controller) Queue(ctx context.Context) ([]core.QueueItem, error) {
	return c.queue.List(ctx)
}

// Enqueue requests song for singer. Disabled songs are refused; singers not
// yet on the roster join it.
func (c *Controller) Enqueue(ctx context.Context, singerName string, song core.SongRef) (core.QueueItem, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session.IsDisabled(song.Path) {
		return core.QueueItem{}, fmt.Errorf("%s: %w", song.Path, core.ErrSongDisabled)
	}

	if _, err := c.singers.Join(ctx, singerName); err != nil && !errors.Is(err, core.ErrDuplicate) {
		return core.QueueItem{}, err
	}

	item, err := c.queue.Enqueue(ctx, core.SingerRef{Name: singerName}, song)
	if err != nil {
		return core.QueueItem{}, err
	}
	c.reconcile(ctx)
	return item, nil
}

func (c *Controller) Dequeue(ctx context.Context, key string) (core.QueueItem, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, err := c.queue.Dequeue(ctx, key)
	if err != nil {
		return core.QueueItem{}, err
	}
	c.reconcile(ctx)
	return item, nil
}

func (c *Controller) Reorder(ctx context.Context, keys []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queue.ReorderKeys(ctx, keys)
}

func (c *Controller) Move(ctx context.Context, key string, index int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queue.Move(ctx, key, index)
}

// Advance plays the head of the queue: the play is recorded, the item is
// dequeued and the player switches to playing.
func (c *Controller) Advance(ctx context.Context) (core.QueueItem, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	head, ok, err := c.queue.Head(ctx)
	if err != nil {
		return core.QueueItem{}, err
	}
	if !ok {
		return core.QueueItem{}, fmt.Errorf("queue head: %w", core.ErrNotFound)
	}

	if _, err := c.history.RecordPlay(ctx, head.Song); err != nil {
		return core.QueueItem{}, err
	}
	if _, err := c.queue.Dequeue(ctx, head.Key); err != nil {
		return core.QueueItem{}, err
	}
	if err := c.store.Set(ctx, core.StatePath(c.party), core.PlayerPlaying); err != nil {
		return core.QueueItem{}, fmt.Errorf("write player state: %w", err)
	}

	c.logger.Info("Advanced queue",
		zap.String("singer", head.Singer.Name),
		zap.String("path", head.Song.Path))
	c.reconcile(ctx)
	return head, nil
}

func (c *Controller) State(ctx context.Context) (core.PlayerState, error) {
	raw, _, err := c.store.Get(ctx, core.StatePath(c.party))
	if err != nil {
		return core.PlayerStopped, fmt.Errorf("read player state: %w", err)
	}
	return core.DecodePlayerState(raw), nil
}

func (c *Controller) SetState(ctx context.Context, state core.PlayerState) error {
	if !state.Valid() {
		return fmt.Errorf("%w: player state %q", core.ErrInvalid, state)
	}
	if err := c.store.Set(ctx, core.StatePath(c.party), state); err != nil {
		return fmt.Errorf("write player state: %w", err)
	}
	return nil
}

func (c *Controller) Settings(ctx context.Context) (core.PlayerSettings, error) {
	raw, _, err := c.store.Get(ctx, core.SettingsPath(c.party))
	if err != nil {
		return core.PlayerSettings{}, fmt.Errorf("read settings: %w", err)
	}
	return core.DecodeSettings(raw), nil
}

// UpdateSettings writes every settings field. False flags are stored
// explicitly so the object never disappears.
func (c *Controller) UpdateSettings(ctx context.Context, settings core.PlayerSettings) error {
	value := map[string]any{
		"autoadvance": settings.AutoAdvance,
		"userpick":    settings.UserPick,
	}
	if err := c.store.Set(ctx, core.SettingsPath(c.party), value); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	return nil
}

func (c *Controller) Singers(ctx context.Context) ([]core.Singer, error) {
	return c.singers.List(ctx)
}

func (c *Controller) JoinSinger(ctx context.Context, name string) (core.Singer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.singers.Join(ctx, name)
}

// RemoveSinger takes the singer off the roster and drops their requests.
func (c *Controller) RemoveSinger(ctx context.Context, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.singers.Leave(ctx, name); err != nil {
		return err
	}
	removed, err := c.queue.RemoveSinger(ctx, name)
	if err != nil {
		return err
	}
	c.logger.Debug("Singer removed", zap.String("singer", name), zap.Int("requests", removed))
	return nil
}

func (c *Controller) History(ctx context.Context, limit int) ([]core.HistoryEntry, error) {
	return c.history.Recent(ctx, limit)
}

func (c *Controller) RemovePlay(ctx context.Context, path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.history.RemovePlay(ctx, path)
}

func (c *Controller) TopPlayed(ctx context.Context) ([]core.TopPlayedEntry, error) {
	raw, _, err := c.store.Get(ctx, core.TopPlayedPath(c.party))
	if err != nil {
		return nil, fmt.Errorf("read top played: %w", err)
	}
	return core.DecodeTopPlayed(raw), nil
}

// RecomputeTopPlayed rebuilds the leaderboard from the current history.
func (c *Controller) RecomputeTopPlayed(ctx context.Context) ([]core.TopPlayedEntry, error) {
	return c.replica.Recompute(ctx)
}

func (c *Controller) Favorites(ctx context.Context) ([]core.FavoriteEntry, error) {
	return c.favorites.List(ctx)
}

func (c *Controller) MarkFavorite(ctx context.Context, song core.SongRef) (core.FavoriteEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.favorites.Mark(ctx, song)
}

func (c *Controller) UnmarkFavorite(ctx context.Context, path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.favorites.Unmark(ctx, path)
}

func (c *Controller) DisabledSongs(ctx context.Context) ([]core.DisabledEntry, error) {
	return c.disabled.List(ctx)
}

func (c *Controller) DisableSong(ctx context.Context, song core.SongRef) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.disabled.Disable(ctx, song); err != nil {
		return err
	}
	c.session.markDisabled(song.Path, true)
	return nil
}

func (c *Controller) EnableSong(ctx context.Context, path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.disabled.Enable(ctx, path); err != nil {
		return err
	}
	c.session.markDisabled(path, false)
	return nil
}

// Songs returns the published catalog with favorite and disabled flags set.
func (c *Controller) Songs(ctx context.Context) ([]core.SongRef, error) {
	raw, _, err := c.store.Get(ctx, core.SongsPath(c.party))
	if err != nil {
		return nil, fmt.Errorf("read songs: %w", err)
	}
	songs := decodeAll(raw, core.DecodeSong)

	favorites, err := c.favorites.List(ctx)
	if err != nil {
		return nil, err
	}
	favorite := make(map[string]bool, len(favorites))
	for _, f := range favorites {
		favorite[f.Path] = true
	}

	for i := range songs {
		songs[i].Favorite = favorite[songs[i].Path]
		songs[i].Disabled = c.session.IsDisabled(songs[i].Path)
	}
	return songs, nil
}

// Reconcile migrates legacy queue keys and repairs order.
func (c *Controller) Reconcile(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queue.Reconcile(ctx)
}

func (c *Controller) View() View {
	return c.session.View()
}

// Close releases the session and stops the replica.
func (c *Controller) Close() {
	c.replica.Close()
	c.session.Close()
	c.logger.Info("Party closed")
}
