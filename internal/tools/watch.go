package tools

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Reloader is satisfied by Registry.
type Reloader interface {
	Load(ctx context.Context) error
}

// Watcher reloads a registry when the tools directory changes on disk.
type Watcher struct {
	dir      string
	target   Reloader
	debounce time.Duration
	logger   *slog.Logger
}

// NewWatcher creates a watcher for dir. A zero debounce uses 250ms.
func NewWatcher(dir string, target Reloader, debounce time.Duration, logger *slog.Logger) *Watcher {
	if debounce <= 0 {
		debounce = 250 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{dir: dir, target: target, debounce: debounce, logger: logger.With("component", "tools.watch")}
}

// Run watches until ctx is done. Bursts of events within the debounce window
// collapse into one reload.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	w.logger.Info("watching tools directory", "dir", w.dir)

	var mu sync.Mutex
	var timer *time.Timer
	scheduleReload := func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(w.debounce, func() {
			if ctx.Err() != nil {
				return
			}
			if err := w.target.Load(ctx); err != nil {
				w.logger.Warn("tool reload failed during watch refresh", "error", err)
				return
			}
			w.logger.Debug("tools reloaded from disk")
		})
	}
	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !relevant(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				scheduleReload()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("tools watch error", "error", err)
		}
	}
}

// relevant filters out temp files written by the file store and editors.
func relevant(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") || strings.HasSuffix(base, "~") {
		return false
	}
	return base == ConfigFileName || filepath.Ext(base) == ScriptExt
}
