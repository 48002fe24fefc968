package core

import (
	"strings"

	"karaoke/pkg/keyseq"
)

// Party-scoped store layout.
const (
	queueSegment     = "player/queue"
	singersSegment   = "player/singers"
	settingsSegment  = "player/settings"
	stateSegment     = "player/state"
	historySegment   = "history"
	topPlayedSegment = "topPlayed"
	favoritesSegment = "favorites"
	disabledSegment  = "disabledSongs"
	songsSegment     = "songs"
)

// JoinPath joins store path segments, dropping empty ones and stray slashes.
func JoinPath(parts ...string) string {
	cleaned := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.Trim(p, "/")
		if p != "" {
			cleaned = append(cleaned, p)
		}
	}
	return strings.Join(cleaned, "/")
}

func QueuePath(party string) string     { return JoinPath(party, queueSegment) }
func SingersPath(party string) string   { return JoinPath(party, singersSegment) }
func SettingsPath(party string) string  { return JoinPath(party, settingsSegment) }
func StatePath(party string) string     { return JoinPath(party, stateSegment) }
func HistoryPath(party string) string   { return JoinPath(party, historySegment) }
func TopPlayedPath(party string) string { return JoinPath(party, topPlayedSegment) }
func FavoritesPath(party string) string { return JoinPath(party, favoritesSegment) }
func DisabledPath(party string) string  { return JoinPath(party, disabledSegment) }
func SongsPath(party string) string     { return JoinPath(party, songsSegment) }

// SortedKeys returns the keys of m in store iteration order: integer keys
// ascending, then every other key lexically.
func SortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	keyseq.Sort(keys)
	return keys
}
