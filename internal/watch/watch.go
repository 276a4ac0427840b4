// Package watch re-runs the conversion whenever a source path changes.
// Deterministic output paths make each re-run idempotent, so a full rebuild
// is the unit of work; there is no incremental mode.
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long the watcher waits after the last event
// before starting a rebuild.
const DefaultDebounce = 500 * time.Millisecond

// Runner performs one full re-conversion.
type Runner func(ctx context.Context) error

// Options configure a watch session.
type Options struct {
	// Paths are the source roots to watch. Directories are watched
	// recursively; file paths are watched through their parent directory
	// so editors that replace-by-rename are still caught.
	Paths    []string
	Debounce time.Duration
	Logger   *slog.Logger
}

// Watch blocks until ctx is cancelled, invoking run after each debounced
// burst of file events. A failed run is logged and the watch continues.
func Watch(ctx context.Context, opts Options, run Runner) error {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch: create watcher: %w", err)
	}
	defer w.Close()

	var dirRoots []string
	fileRoots := make(map[string]struct{})
	for _, p := range opts.Paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return fmt.Errorf("watch: resolve %s: %w", p, err)
		}
		info, err := os.Stat(abs)
		if err != nil {
			return fmt.Errorf("watch: stat %s: %w", p, err)
		}
		if info.IsDir() {
			if err := addDirsRecursive(w, abs); err != nil {
				return fmt.Errorf("watch: add %s: %w", p, err)
			}
			dirRoots = append(dirRoots, abs)
		} else {
			if err := w.Add(filepath.Dir(abs)); err != nil {
				return fmt.Errorf("watch: add %s: %w", p, err)
			}
			fileRoots[abs] = struct{}{}
		}
	}

	relevant := func(name string) bool {
		if _, ok := fileRoots[name]; ok {
			return true
		}
		for _, d := range dirRoots {
			if name == d || strings.HasPrefix(name, d+string(os.PathSeparator)) {
				return true
			}
		}
		return false
	}

	logger.Info("watch: started",
		slog.Int("paths", len(opts.Paths)),
		slog.Duration("debounce", opts.Debounce))

	// rebuildTimer debounces bursts of events into one rebuild.
	var rebuildTimer *time.Timer
	var rebuildCh <-chan time.Time

	schedule := func() {
		if rebuildTimer == nil {
			rebuildTimer = time.NewTimer(opts.Debounce)
			rebuildCh = rebuildTimer.C
		} else {
			rebuildTimer.Reset(opts.Debounce)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if rebuildTimer != nil {
				rebuildTimer.Stop()
			}
			logger.Info("watch: stopped")
			return nil

		case <-rebuildCh:
			logger.Info("watch: change detected, rebuilding")
			if err := run(ctx); err != nil {
				logger.Error("watch: rebuild failed", slog.String("error", err.Error()))
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			// New directories under a watched root join the watch list.
			if ev.Op&fsnotify.Create != 0 && relevant(ev.Name) {
				if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
					if addErr := addDirsRecursive(w, ev.Name); addErr != nil {
						logger.Warn("watch: add new dir failed",
							slog.String("path", ev.Name),
							slog.String("error", addErr.Error()))
					}
				}
			}
			if !relevant(ev.Name) {
				continue
			}
			logger.Debug("watch: event", slog.String("path", ev.Name), slog.String("op", ev.Op.String()))
			schedule()

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watch: error", slog.String("error", watchErr.Error()))
		}
	}
}

// addDirsRecursive adds root and all its subdirectories to the watcher.
func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
}
