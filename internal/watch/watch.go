// Package watch re-initialises a project when its C# sources change.
// Bursts of file events are collapsed into one refresh after a quiet period.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/savitharaghunathan/c-sharp-analyzer-provider/internal/syntax"
)

// DefaultDebounce is used when no debounce is configured.
const DefaultDebounce = 300 * time.Millisecond

// ErrRetry, wrapped in a RefreshFunc error, asks for the refresh to be
// scheduled again after another quiet period.
var ErrRetry = errors.New("watch: retry refresh")

// RefreshFunc is called once per quiet period after a relevant change.
// Calls never overlap.
type RefreshFunc func(ctx context.Context) error

// Watcher watches a directory tree for .cs changes.
type Watcher struct {
	fsw      *fsnotify.Watcher
	refresh  RefreshFunc
	debounce time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	timer   *time.Timer
	pending []string
	// running is set while refresh executes; dirty records changes that
	// settled during it and need one more pass.
	running bool
	dirty   bool
}

// New watches root and every non-hidden, non-build directory below it.
func New(root string, debounce time.Duration, refresh RefreshFunc, logger *slog.Logger) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: create watcher: %w", err)
	}
	w := &Watcher{fsw: fsw, refresh: refresh, debounce: debounce, logger: logger}
	if err := w.addTree(root); err != nil {
		fsw.Close()
		return nil, err
	}
	return w, nil
}

func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return fmt.Errorf("watch: %s: %w", root, err)
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && ignoredDir(d.Name()) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			w.logger.Warn("cannot watch directory", slog.String("path", path), slog.Any("error", err))
		}
		return nil
	})
}

func ignoredDir(name string) bool {
	switch name {
	case "bin", "obj", "node_modules", "packages":
		return true
	}
	return strings.HasPrefix(name, ".")
}

// Run processes events until ctx is done, then closes the watcher.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handle(ctx, ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watcher error", slog.Any("error", err))
		}
	}
}

// Watching lists the directories currently watched.
func (w *Watcher) Watching() []string {
	return w.fsw.WatchList()
}

func (w *Watcher) handle(ctx context.Context, ev fsnotify.Event) {
	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if !ignoredDir(filepath.Base(ev.Name)) {
				if err := w.addTree(ev.Name); err != nil {
					w.logger.Warn("cannot watch new directory", slog.String("path", ev.Name), slog.Any("error", err))
				}
			}
			return
		}
	}
	if !syntax.IsCSharp(ev.Name) {
		return
	}
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
		return
	}
	w.logger.Debug("source changed", slog.String("op", ev.Op.String()), slog.String("path", ev.Name))
	w.schedule(ctx, ev.Name)
}

// schedule (re)arms the debounce timer.
func (w *Watcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending = append(w.pending, path)
	w.arm(ctx)
}

// arm must be called with w.mu held.
func (w *Watcher) arm(ctx context.Context) {
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() { w.fire(ctx) })
}

func (w *Watcher) fire(ctx context.Context) {
	w.mu.Lock()
	if w.running {
		w.dirty = true
		w.mu.Unlock()
		return
	}
	w.running = true
	w.mu.Unlock()

	for {
		w.mu.Lock()
		changed := len(w.pending)
		w.pending = nil
		w.dirty = false
		w.mu.Unlock()
		if ctx.Err() != nil {
			break
		}

		w.logger.Info("refreshing after source changes", slog.Int("events", changed))
		err := w.refresh(ctx)
		if err != nil && !errors.Is(err, ErrRetry) {
			w.logger.Error("refresh failed", slog.Any("error", err))
		}

		w.mu.Lock()
		if errors.Is(err, ErrRetry) && ctx.Err() == nil {
			w.logger.Debug("refresh deferred", slog.Any("error", err))
			w.arm(ctx)
		}
		if !w.dirty {
			w.running = false
			w.mu.Unlock()
			return
		}
		w.mu.Unlock()
	}
	w.mu.Lock()
	w.running = false
	w.mu.Unlock()
}

func (w *Watcher) stop() {
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.mu.Unlock()
	w.fsw.Close()
}
