package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DefaultWatchDebounce coalesces the burst of events editors emit on save.
const DefaultWatchDebounce = 500 * time.Millisecond

// Watcher reports a freshly loaded configuration whenever the file at Path changes.
// The parent directory is watched rather than the file so that atomic
// rename-over saves are observed.
type Watcher struct {
	Path     string
	Debounce time.Duration

	logger  zerolog.Logger
	watcher *fsnotify.Watcher
	mu      sync.Mutex
	timer   *time.Timer
}

// NewWatcher creates a watcher for the configuration file at path.
func NewWatcher(path string, logger zerolog.Logger) *Watcher {
	return &Watcher{
		Path:     path,
		Debounce: DefaultWatchDebounce,
		logger:   logger.With().Str("component", "config-watcher").Logger(),
	}
}

// Watch starts watching and calls onChange with each successfully parsed
// configuration until ctx is cancelled. Parse failures are logged and skipped.
func (w *Watcher) Watch(ctx context.Context, onChange func(*RouterConfig)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	dir := filepath.Dir(w.Path)
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	w.watcher = watcher

	go w.processEvents(ctx, onChange)

	w.logger.Info().Str("path", w.Path).Msg("Watching configuration file")
	return nil
}

func (w *Watcher) processEvents(ctx context.Context, onChange func(*RouterConfig)) {
	target := filepath.Clean(w.Path)
	for {
		select {
		case <-ctx.Done():
			w.mu.Lock()
			if w.timer != nil {
				w.timer.Stop()
			}
			w.mu.Unlock()
			_ = w.watcher.Close()
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}

			w.logger.Debug().
				Str("file", event.Name).
				Str("op", event.Op.String()).
				Msg("Configuration file changed")

			w.mu.Lock()
			if w.timer != nil {
				w.timer.Stop()
			}
			w.timer = time.AfterFunc(w.Debounce, func() {
				if ctx.Err() != nil {
					return
				}
				cfg, err := Load(w.Path)
				if err != nil {
					w.logger.Error().Err(err).Str("path", w.Path).Msg("Failed to reload configuration")
					return
				}
				onChange(cfg)
			})
			w.mu.Unlock()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("Watcher error")
		}
	}
}
