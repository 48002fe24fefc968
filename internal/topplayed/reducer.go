// Package topplayed derives the top-played leaderboard from the play history.
package topplayed

import (
	"path"
	"sort"
	"strings"

	"karaoke/internal/core"
	"karaoke/pkg/songkey"
)

type group struct {
	entry      core.TopPlayedEntry
	displayKey string
}

// Reduce groups history by logical song identity, sums the counts, and
// returns the top limit groups by count, ties broken by identity. It depends
// only on the set of entries, not on their order, so every replica that
// reduces the same snapshot gets the same result.
func Reduce(history []core.HistoryEntry, limit int) []core.TopPlayedEntry {
	if limit < 1 {
		limit = core.DefaultTopPlayedLimit
	}

	groups := make(map[string]*group)
	for _, h := range history {
		artist, title := h.Artist, h.Title
		if strings.TrimSpace(artist) == "" && strings.TrimSpace(title) == "" {
			title = strings.TrimSuffix(path.Base(h.Path), path.Ext(h.Path))
		}
		id := songkey.Identity(artist, title)

		count := h.Count
		if count <= 0 {
			count = 1
		}

		g, ok := groups[id]
		if !ok {
			g = &group{entry: core.TopPlayedEntry{Key: id}}
			groups[id] = g
		}
		g.entry.Count += count

		// Display names come from the lexically smallest path in the group.
		displayKey := h.Path + "\x00" + artist + "\x00" + title
		if !ok || displayKey < g.displayKey {
			g.displayKey = displayKey
			g.entry.Artist = songkey.Display(artist)
			g.entry.Title = songkey.Display(title)
		}
	}

	out := make([]core.TopPlayedEntry, 0, len(groups))
	for _, g := range groups {
		out = append(out, g.entry)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Key < out[j].Key
	})

	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
