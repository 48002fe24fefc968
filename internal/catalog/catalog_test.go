package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"karaoke/internal/core"
	"karaoke/internal/store"
)

func touch(t *testing.T, root, rel string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
}

func TestParseName(t *testing.T) {
	tests := []struct {
		name   string
		artist string
		title  string
	}{
		{name: "Queen - Bohemian Rhapsody.mp4", artist: "Queen", title: "Bohemian Rhapsody"},
		{name: "AC/DC - Thunderstruck.mkv", artist: "AC/DC", title: "Thunderstruck"},
		{name: "Nena -  99  Luftballons .mp3", artist: "Nena", title: "99 Luftballons"},
		{name: "Jean-Michel Jarre - Oxygene.webm", artist: "Jean-Michel Jarre", title: "Oxygene"},
		{name: "Untitled.zip", artist: "", title: "Untitled"},
		{name: "A - B - C.mp4", artist: "A", title: "B - C"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			artist, title := ParseName(tt.name)
			if artist != tt.artist || title != tt.title {
				t.Errorf("ParseName(%q) = %q, %q; want %q, %q", tt.name, artist, title, tt.artist, tt.title)
			}
		})
	}
}

func TestScan(t *testing.T) {
	root := t.TempDir()
	touch(t, root, "Queen - Bohemian Rhapsody.mp4")
	touch(t, root, "rock/Toto - Africa.MKV")
	touch(t, root, "cdg/Nena - 99 Luftballons.mp3")
	touch(t, root, "cdg/Nena - 99 Luftballons.cdg")
	touch(t, root, "cdg/Lonely - Lyrics.cdg")
	touch(t, root, "notes.txt")
	touch(t, root, ".hidden/Secret - Song.mp4")

	songs, err := Scan(root)
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}

	want := []string{
		"Queen - Bohemian Rhapsody.mp4",
		"cdg/Lonely - Lyrics.cdg",
		"cdg/Nena - 99 Luftballons.mp3",
		"rock/Toto - Africa.MKV",
	}
	if len(songs) != len(want) {
		t.Fatalf("Expected %d songs, got %d: %+v", len(want), len(songs), songs)
	}
	for i, song := range songs {
		if song.Path != want[i] {
			t.Errorf("Song %d: expected %s, got %s", i, want[i], song.Path)
		}
	}
	if songs[3].Artist != "Toto" || songs[3].Title != "Africa" {
		t.Errorf("Unexpected parse: %+v", songs[3])
	}
}

func TestScan_MissingRoot(t *testing.T) {
	if _, err := Scan(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("Expected an error for a missing root")
	}
}

func TestCatalog_Publish(t *testing.T) {
	root := t.TempDir()
	touch(t, root, "B - Two.mp4")
	touch(t, root, "A - One.mp4")

	doc := store.New(nil)
	defer doc.Close()
	ctx := context.Background()

	c := New(root, doc, nil)
	if err := c.Refresh(); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if err := c.Publish(ctx, "p1"); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	title, _, _ := doc.Get(ctx, core.SongsPath("p1")+"/0/title")
	if title != "One" {
		t.Errorf("Expected the first song to be One, got %v", title)
	}
	if _, ok, _ := doc.Get(ctx, core.SongsPath("p1")+"/1"); !ok {
		t.Error("Expected a second song at key 1")
	}
}

func TestCatalog_WatchRepublishes(t *testing.T) {
	root := t.TempDir()
	doc := store.New(nil)
	defer doc.Close()

	c := New(root, doc, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- c.Watch(ctx, func() []string { return []string{"p1"} }, 20*time.Millisecond)
	}()

	time.Sleep(100 * time.Millisecond)
	touch(t, root, "New - Song.mp4")

	deadline := time.Now().Add(3 * time.Second)
	for {
		if title, ok, _ := doc.Get(context.Background(), core.SongsPath("p1")+"/0/title"); ok && title == "Song" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("Catalog was not republished after a change")
		}
		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Watch returned %v", err)
	}
}
