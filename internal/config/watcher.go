package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/GoCodeAlone/repost/internal/logging"
)

// Watcher reloads the config file on change and hands the fresh copy to
// a callback so live-tunable settings (concurrency, retry delay) apply
// without a restart.
type Watcher struct {
	path     string
	onChange func(*Config)
	logger   logging.Logger
	fs       *fsnotify.Watcher
}

// NewWatcher builds a watcher for the config at path. onChange runs
// with each successfully reloaded configuration.
func NewWatcher(path string, onChange func(*Config), logger logging.Logger) (*Watcher, error) {
	if logger == nil {
		logger = logging.Nop{}
	}
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating config watcher: %w", err)
	}
	// Watch the directory: editors replace files on save, which drops
	// a direct file watch.
	if err := fs.Add(filepath.Dir(path)); err != nil {
		_ = fs.Close()
		return nil, fmt.Errorf("watching config dir: %w", err)
	}
	return &Watcher{path: path, onChange: onChange, logger: logger, fs: fs}, nil
}

// Run processes file events until the context is cancelled. Rapid
// event bursts from a single save are debounced.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fs.Close()
	var debounce *time.Timer
	for {
		select {
		case event, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(100*time.Millisecond, w.reload)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("config watcher error", "error", err)
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return nil
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Error("config reload failed, keeping previous settings", "path", w.path, "error", err)
		return
	}
	w.logger.Info("config reloaded", "path", w.path)
	w.onChange(cfg)
}
