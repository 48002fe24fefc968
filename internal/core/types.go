package core

import (
	"context"
	"time"
)

// SongRef identifies a catalog song. Path is the storage identity; artist and
// title form the logical identity used for history grouping.
type SongRef struct {
	Path     string `json:"path"`
	Artist   string `json:"artist"`
	Title    string `json:"title"`
	Count    int    `json:"count,omitempty"`
	Disabled bool   `json:"disabled,omitempty"`
	Favorite bool   `json:"favorite,omitempty"`
}

type SingerRef struct {
	Name string `json:"name"`
}

// QueueItem is one pending request. Order is the dense 1-based display rank,
// Key is the collection key assigned by the allocator.
type QueueItem struct {
	Key    string    `json:"-"`
	Order  int       `json:"order"`
	Singer SingerRef `json:"singer"`
	Song   SongRef   `json:"song"`
}

type HistoryEntry struct {
	Key        string `json:"-"`
	Path       string `json:"path"`
	Artist     string `json:"artist"`
	Title      string `json:"title"`
	Count      int    `json:"count"`
	LastPlayed int64  `json:"lastPlayed"`
}

// LastPlayedTime converts the stored millisecond timestamp.
func (h HistoryEntry) LastPlayedTime() time.Time {
	return time.UnixMilli(h.LastPlayed)
}

type TopPlayedEntry struct {
	Key    string `json:"key"`
	Artist string `json:"artist"`
	Title  string `json:"title"`
	Count  int    `json:"count"`
}

type Singer struct {
	Key      string `json:"-"`
	Name     string `json:"name"`
	JoinedAt int64  `json:"joinedAt,omitempty"`
}

type FavoriteEntry struct {
	Key    string `json:"-"`
	Path   string `json:"path"`
	Artist string `json:"artist,omitempty"`
	Title  string `json:"title,omitempty"`
}

type DisabledEntry struct {
	Key    string `json:"-"`
	Path   string `json:"path"`
	Artist string `json:"artist,omitempty"`
	Title  string `json:"title,omitempty"`
}

type PlayerState string

const (
	PlayerStopped PlayerState = "stopped"
	PlayerPlaying PlayerState = "playing"
	PlayerPaused  PlayerState = "paused"
)

// Valid reports whether s is one of the known player states.
func (s PlayerState) Valid() bool {
	switch s {
	case PlayerStopped, PlayerPlaying, PlayerPaused:
		return true
	}
	return false
}

type PlayerSettings struct {
	AutoAdvance bool `json:"autoadvance"`
	UserPick    bool `json:"userpick"`
}

// Store is the keyed collection store every party component writes through.
// Only a single Update call is atomic across paths; nil values in a patch
// delete the path.
type Store interface {
	Get(ctx context.Context, path string) (any, bool, error)
	Set(ctx context.Context, path string, value any) error
	Update(ctx context.Context, patch map[string]any) error
	Remove(ctx context.Context, path string) error
	Subscribe(path string, fn func(value any)) (unsubscribe func())
}

// Recorder receives operational measurements. The HTTP server's metrics
// implement it; NopRecorder is used where nothing is collected.
type Recorder interface {
	RecordOperation(op, status string, duration time.Duration)
	RecordRepair(collection string, fixed int)
	RecordEviction(count int)
	SetActiveSessions(count int)
}

type NopRecorder struct{}

func (NopRecorder) RecordOperation(string, string, time.Duration) {}
func (NopRecorder) RecordRepair(string, int)                      {}
func (NopRecorder) RecordEviction(int)                            {}
func (NopRecorder) SetActiveSessions(int)                         {}
