package roster

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"karaoke/internal/core"
)

// Favorites holds the party's favorite songs, one entry per path.
type Favorites struct {
	*Collection[core.FavoriteEntry]
}

func NewFavorites(store core.Store, party string, logger *zap.Logger, recorder core.Recorder) *Favorites {
	return &Favorites{
		Collection: newCollection(store, core.FavoritesPath(party), "favorites",
			core.DecodeFavorite,
			func(f core.FavoriteEntry) string { return f.Path },
			logger, recorder),
	}
}

func (f *Favorites) Mark(ctx context.Context, song core.SongRef) (core.FavoriteEntry, error) {
	path := strings.TrimSpace(song.Path)
	if path == "" {
		return core.FavoriteEntry{}, fmt.Errorf("%w: song path is required", core.ErrInvalid)
	}

	entry := core.FavoriteEntry{Path: path, Artist: song.Artist, Title: song.Title}
	key, err := f.Add(ctx, entry)
	if err != nil {
		return core.FavoriteEntry{}, err
	}
	entry.Key = key
	return entry, nil
}

func (f *Favorites) Unmark(ctx context.Context, path string) error {
	return f.Remove(ctx, strings.TrimSpace(path))
}
