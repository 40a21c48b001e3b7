package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads the config file on change and hands the result to a
// callback. Editors often replace the file instead of writing in place, so
// the parent directory is watched and events are filtered by name.
type Watcher struct {
	Path string
	// Cooldown suppresses reload storms from editors that fire several
	// events per save. Defaults to 2s.
	Cooldown time.Duration
}

// Start blocks until ctx is done, invoking onUpdate with every config
// version that loads and validates. Broken intermediate states are skipped.
func (w Watcher) Start(ctx context.Context, onUpdate func(AppConfig)) error {
	if w.Cooldown <= 0 {
		w.Cooldown = 2 * time.Second
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(w.Path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	var lastReload time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.Path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if time.Since(lastReload) < w.Cooldown {
				continue
			}
			if cfg, err := LoadWithEnvOverrides(w.Path); err == nil {
				lastReload = time.Now()
				if onUpdate != nil {
					onUpdate(cfg)
				}
			}
		case _, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			// Keep watching; the next event may still be good.
		}
	}
}
