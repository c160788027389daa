// Package watch re-runs crawls when the watched tree changes. Events
// are debounced so a burst of writes (an rsync, an unpack) triggers one
// crawl, not hundreds.
package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/spawn/internal/matcher"
)

const defaultDebounce = 2 * time.Second

// Options configures the watcher.
type Options struct {
	// Debounce is the quiet period after the last event before the
	// callback fires. Defaults to 2s.
	Debounce time.Duration
	// SkipHiddenDirs keeps hidden directories out of the watch set,
	// mirroring the crawler's pruning.
	SkipHiddenDirs bool
	HiddenMarker   string
}

// Watcher triggers a callback after filesystem changes settle.
type Watcher struct {
	opts   Options
	logger *zap.Logger
}

// New creates a watcher.
func New(opts Options, logger *zap.Logger) *Watcher {
	if opts.Debounce <= 0 {
		opts.Debounce = defaultDebounce
	}
	if opts.HiddenMarker == "" {
		opts.HiddenMarker = "."
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{opts: opts, logger: logger.Named("watch")}
}

// Run watches root until ctx ends, calling fn after each debounced
// change burst. Directories created while watching are added to the
// watch set.
func (w *Watcher) Run(ctx context.Context, root string, fn func(context.Context)) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer fsw.Close()

	if err := w.addTree(fsw, root); err != nil {
		return err
	}
	w.logger.Info("watching for changes",
		zap.String("root", root),
		zap.Duration("debounce", w.opts.Debounce))

	// The timer starts drained; the first event arms it.
	debounce := time.NewTimer(w.opts.Debounce)
	if !debounce.Stop() {
		<-debounce.C
	}
	defer debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if ev.Op.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := w.addTree(fsw, ev.Name); err != nil {
						w.logger.Warn("watching new directory failed",
							zap.String("dir", ev.Name), zap.Error(err))
					}
				}
			}
			debounce.Reset(w.opts.Debounce)

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", zap.Error(err))

		case <-debounce.C:
			w.logger.Info("changes settled, triggering crawl")
			fn(ctx)
		}
	}
}

// addTree registers dir and every non-pruned subdirectory.
func (w *Watcher) addTree(fsw *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			w.logger.Warn("walk error while building watch set",
				zap.String("path", path), zap.Error(err))
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && w.opts.SkipHiddenDirs && matcher.HiddenDir(d.Name(), w.opts.HiddenMarker) {
			return filepath.SkipDir
		}
		if err := fsw.Add(path); err != nil {
			return fmt.Errorf("watching %s: %w", path, err)
		}
		return nil
	})
}
