// Package watcher provides file system watching with debouncing for a
// bundle drop directory.
package watcher

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher monitors a directory for firmware bundles and emits the path of
// each bundle once writes to it have settled.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	dir       string
	debounce  time.Duration
	bundles   chan string
	done      chan struct{}
}

// Config holds watcher configuration options.
type Config struct {
	Dir         string
	DebounceDur time.Duration
}

// DefaultConfig returns sensible defaults for the watcher.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:         dir,
		DebounceDur: 2 * time.Second,
	}
}

// New creates a new bundle directory watcher.
func New(cfg Config) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}

	if cfg.DebounceDur <= 0 {
		cfg.DebounceDur = DefaultConfig(cfg.Dir).DebounceDur
	}

	return &Watcher{
		fsWatcher: fsw,
		dir:       cfg.Dir,
		debounce:  cfg.DebounceDur,
		bundles:   make(chan string, 8),
		done:      make(chan struct{}),
	}, nil
}

// Start begins watching the drop directory.
// Returns a channel that receives bundle paths once they settle.
func (w *Watcher) Start() (<-chan string, error) {
	if err := w.fsWatcher.Add(w.dir); err != nil {
		return nil, fmt.Errorf("watching directory %s: %w", w.dir, err)
	}

	go w.loop()

	return w.bundles, nil
}

// Stop terminates the watcher and releases resources.
func (w *Watcher) Stop() error {
	close(w.done)
	return w.fsWatcher.Close()
}

// loop processes file system events, debouncing per bundle path so a
// bundle still being copied in is not emitted until writes stop.
func (w *Watcher) loop() {
	ticker := time.NewTicker(w.debounce / 4)
	defer ticker.Stop()

	pending := make(map[string]time.Time)

	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}

			if !isBundleEvent(event) {
				continue
			}

			// Restart the settle window on every write
			pending[event.Name] = time.Now().Add(w.debounce)

		case now := <-ticker.C:
			for path, deadline := range pending {
				if now.Before(deadline) {
					continue
				}
				delete(pending, path)

				// Non-blocking send - drop if channel full
				select {
				case w.bundles <- path:
				default:
				}
			}

		case _, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			// Keep watching; callers that need error visibility can
			// wrap the watcher.

		case <-w.done:
			return
		}
	}
}

// isBundleEvent checks whether the event is a write to a bundle file.
func isBundleEvent(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return false
	}
	return strings.EqualFold(filepath.Ext(event.Name), ".raucb")
}
