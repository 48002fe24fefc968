package catalog

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultDebounce is how long the watcher waits for a burst of file events
// to settle before rescanning.
const DefaultDebounce = 500 * time.Millisecond

// Watch rescans the catalog after changes below root and publishes it to
// every party returned by parties. It blocks until ctx is done.
func (c *Catalog) Watch(ctx context.Context, parties func() []string, debounce time.Duration) error {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	if err := c.addTree(watcher, c.root); err != nil {
		return err
	}
	c.logger.Info("Watching catalog", zap.String("root", c.root))

	timer := time.NewTimer(debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := c.addTree(watcher, event.Name); err != nil {
						c.logger.Warn("Failed to watch new directory",
							zap.String("dir", event.Name),
							zap.Error(err))
					}
				}
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				timer.Reset(debounce)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			c.logger.Warn("Catalog watcher error", zap.Error(err))

		case <-timer.C:
			if err := c.Refresh(); err != nil {
				c.logger.Error("Catalog rescan failed", zap.Error(err))
				continue
			}
			for _, party := range parties() {
				if err := c.Publish(ctx, party); err != nil {
					c.logger.Error("Failed to publish catalog",
						zap.String("party", party),
						zap.Error(err))
				}
			}
		}
	}
}

func (c *Catalog) addTree(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if err := watcher.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		return nil
	})
}
