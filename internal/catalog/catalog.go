// Package catalog scans a directory of karaoke media and publishes the song
// list to parties.
package catalog

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"karaoke/internal/core"
	"karaoke/pkg/keyseq"
	"karaoke/pkg/songkey"
)

var mediaExtensions = map[string]bool{
	".mp4":  true,
	".mkv":  true,
	".webm": true,
	".avi":  true,
	".mp3":  true,
	".cdg":  true,
	".zip":  true,
}

// ParseName splits a file name of the form "Artist - Title.ext". Names
// without the separator are all title.
func ParseName(name string) (artist, title string) {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	if artist, title, ok := strings.Cut(base, " - "); ok {
		return songkey.Display(artist), songkey.Display(title)
	}
	return "", songkey.Display(base)
}

// Scan walks root and returns every media file as a song, sorted by path.
// Paths are relative to root with forward slashes. A .cdg file next to an
// .mp3 of the same name is the mp3's lyrics track and is not listed.
func Scan(root string) ([]core.SongRef, error) {
	var songs []core.SongRef
	present := make(map[string]bool)

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}

		ext := strings.ToLower(filepath.Ext(path))
		if !mediaExtensions[ext] {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		present[strings.ToLower(rel)] = true

		artist, title := ParseName(d.Name())
		songs = append(songs, core.SongRef{Path: rel, Artist: artist, Title: title})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan catalog %s: %w", root, err)
	}

	kept := songs[:0]
	for _, song := range songs {
		if strings.EqualFold(filepath.Ext(song.Path), ".cdg") {
			stem := strings.ToLower(strings.TrimSuffix(song.Path, filepath.Ext(song.Path)))
			if present[stem+".mp3"] {
				continue
			}
		}
		kept = append(kept, song)
	}

	sort.Slice(kept, func(i, j int) bool { return kept[i].Path < kept[j].Path })
	return kept, nil
}

// Catalog holds the last scan of a media directory.
type Catalog struct {
	root   string
	store  core.Store
	logger *zap.Logger

	mu    sync.RWMutex
	songs []core.SongRef
}

func New(root string, store core.Store, logger *zap.Logger) *Catalog {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Catalog{root: root, store: store, logger: logger}
}

// Refresh rescans the directory.
func (c *Catalog) Refresh() error {
	songs, err := Scan(c.root)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.songs = songs
	c.mu.Unlock()

	c.logger.Info("Catalog scanned",
		zap.String("root", c.root),
		zap.Int("songs", len(songs)))
	return nil
}

func (c *Catalog) Songs() []core.SongRef {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]core.SongRef(nil), c.songs...)
}

// Publish replaces {party}/songs with the current catalog in one write.
func (c *Catalog) Publish(ctx context.Context, party string) error {
	songs := c.Songs()

	var value any
	if len(songs) > 0 {
		collection := make(map[string]core.SongRef, len(songs))
		for i, song := range songs {
			collection[keyseq.Format(i)] = song
		}
		value = collection
	}

	if err := c.store.Set(ctx, core.SongsPath(party), value); err != nil {
		return fmt.Errorf("publish catalog to %s: %w", party, err)
	}
	c.logger.Debug("Catalog published",
		zap.String("party", party),
		zap.Int("songs", len(songs)))
	return nil
}
