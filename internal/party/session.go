// Package party hosts live parties: a Session caches the party's collections
// from store subscriptions, a Controller runs the party operations, and the
// Registry bounds how many controllers stay open.
package party

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"karaoke/internal/core"
	"karaoke/internal/roster"
	"karaoke/internal/store"
)

// View is a read-only snapshot of one party. Every field is replaced whole
// when its store path changes.
type View struct {
	Party     string                `json:"party"`
	Version   uint64                `json:"version"`
	State     core.PlayerState      `json:"state"`
	Settings  core.PlayerSettings   `json:"settings"`
	Queue     []core.QueueItem      `json:"queue"`
	Singers   []core.Singer         `json:"singers"`
	History   []core.HistoryEntry   `json:"history"`
	TopPlayed []core.TopPlayedEntry `json:"topPlayed"`
	Favorites []core.FavoriteEntry  `json:"favorites"`
	Disabled  []core.DisabledEntry  `json:"disabledSongs"`
}

// ValidateID checks that id can be used as a top-level store segment.
func ValidateID(id string) error {
	if strings.TrimSpace(id) == "" || id != strings.TrimSpace(id) {
		return fmt.Errorf("%w: party id %q", core.ErrInvalid, id)
	}
	if strings.ContainsAny(id, "/.#$[]") {
		return fmt.Errorf("%w: party id %q contains a reserved character", core.ErrInvalid, id)
	}
	return nil
}

// Session owns the party's store subscriptions for its lifetime. Open
// acquires them, Close releases them.
type Session struct {
	party    string
	store    core.Store
	logger   *zap.Logger
	disabled *store.MembershipSet
	// disabledMu orders membership reloads against local marks.
	disabledMu sync.Mutex

	mu        sync.Mutex
	view      View
	unsubs    []func()
	listeners map[uint64]chan View
	nextID    uint64
	closed    bool
}

func OpenSession(st core.Store, party string, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Session{
		party:     party,
		store:     st,
		logger:    logger,
		disabled:  store.NewMembershipSet(1024, 0.001),
		view:      View{Party: party, State: core.PlayerStopped},
		listeners: make(map[uint64]chan View),
	}

	s.watch(core.StatePath(party), func(v *View, raw any) {
		v.State = core.DecodePlayerState(raw)
	})
	s.watch(core.SettingsPath(party), func(v *View, raw any) {
		v.Settings = core.DecodeSettings(raw)
	})
	s.watch(core.QueuePath(party), func(v *View, raw any) {
		items, _ := core.DecodeQueue(raw)
		sortQueue(items)
		v.Queue = items
	})
	s.watch(core.SingersPath(party), func(v *View, raw any) {
		v.Singers = decodeAll(raw, core.DecodeSinger)
	})
	s.watch(core.HistoryPath(party), func(v *View, raw any) {
		v.History = decodeAll(raw, core.DecodeHistoryEntry)
	})
	s.watch(core.TopPlayedPath(party), func(v *View, raw any) {
		v.TopPlayed = core.DecodeTopPlayed(raw)
	})
	s.watch(core.FavoritesPath(party), func(v *View, raw any) {
		v.Favorites = decodeAll(raw, core.DecodeFavorite)
	})
	s.watch(core.DisabledPath(party), func(v *View, raw any) {
		v.Disabled = s.reloadDisabled(raw)
	})

	logger.Debug("Session opened", zap.Int("subscriptions", len(s.unsubs)))
	return s
}

func decodeAll[T any](raw any, decode func(string, any) (T, error)) []T {
	collection := core.DecodeCollection(raw)
	out := make([]T, 0, len(collection))
	for _, key := range core.SortedKeys(collection) {
		value, err := decode(key, collection[key])
		if err != nil {
			continue
		}
		out = append(out, value)
	}
	return out
}

func (s *Session) watch(path string, apply func(v *View, raw any)) {
	unsubscribe := s.store.Subscribe(path, func(raw any) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed {
			return
		}

		next := s.view
		apply(&next, raw)
		next.Version++
		s.view = next

		for _, ch := range s.listeners {
			publish(ch, next)
		}
	})
	s.unsubs = append(s.unsubs, unsubscribe)
}

// publish replaces any undelivered view with v.
func publish(ch chan View, v View) {
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- v:
	default:
	}
}

// View returns the latest snapshot.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view
}

// Updates streams views as they change, starting with the current one. Slow
// readers only see the newest view. The channel is closed by cancel or Close.
func (s *Session) Updates() (<-chan View, func()) {
	ch := make(chan View, 1)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := s.nextID
	s.nextID++
	s.listeners[id] = ch
	ch <- s.view
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if _, ok := s.listeners[id]; ok {
				delete(s.listeners, id)
				close(ch)
			}
		})
	}
}

// IsDisabled answers from the session's membership set without a store read.
func (s *Session) IsDisabled(path string) bool {
	return s.disabled.Has(roster.Key(path))
}

// reloadDisabled rebuilds the membership set from the committed collection.
// The delivered value may predate a write whose markDisabled already ran, so
// the set is built from a fresh read taken under disabledMu; raw is only used
// when that read fails.
func (s *Session) reloadDisabled(raw any) []core.DisabledEntry {
	s.disabledMu.Lock()
	defer s.disabledMu.Unlock()

	if current, _, err := s.store.Get(context.Background(), core.DisabledPath(s.party)); err == nil {
		raw = current
	} else {
		s.logger.Debug("Disabled songs reread failed", zap.Error(err))
	}

	entries := decodeAll(raw, core.DecodeDisabled)
	keys := make([]string, 0, len(entries))
	for _, entry := range entries {
		keys = append(keys, roster.Key(entry.Path))
	}
	s.disabled.Load(keys)
	return entries
}

// markDisabled runs after the write committed.
func (s *Session) markDisabled(path string, disabled bool) {
	s.disabledMu.Lock()
	defer s.disabledMu.Unlock()

	if disabled {
		s.disabled.Add(roster.Key(path))
	} else {
		s.disabled.Remove(roster.Key(path))
	}
}

// Close releases every subscription and ends all update streams.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	unsubs := s.unsubs
	s.unsubs = nil
	for id, ch := range s.listeners {
		delete(s.listeners, id)
		close(ch)
	}
	s.mu.Unlock()

	for _, unsubscribe := range unsubs {
		unsubscribe()
	}
	s.logger.Debug("Session closed")
}
