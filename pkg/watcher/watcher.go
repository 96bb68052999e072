// Package watcher drives incremental rebuilds from filesystem events
package watcher

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"

	"github.com/kiln-build/kiln/pkg/logger"
)

// DefaultSettleDelay is how long the tree must stay quiet after the
// last event before a rebuild fires. Editors often emit bursts of
// writes for one save.
const DefaultSettleDelay = 500 * time.Millisecond

// watchedExtensions are the file types whose changes trigger rebuilds
var watchedExtensions = map[string]bool{
	".py":   true,
	".pyx":  true,
	".pxd":  true,
	".ini":  true,
	".json": true,
	".yaml": true,
}

// Watcher rebuilds on source changes with a settling delay
type Watcher struct {
	roots       []string
	settleDelay time.Duration
	rebuild     func(ctx context.Context) error
	logger      logger.Logger
}

// New creates a watcher over the given root directories. rebuild is
// invoked after each settled burst of changes.
func New(roots []string, rebuild func(ctx context.Context) error, log logger.Logger) *Watcher {
	return &Watcher{
		roots:       roots,
		settleDelay: DefaultSettleDelay,
		rebuild:     rebuild,
		logger:      log,
	}
}

// SetSettleDelay overrides the settling delay (mainly for tests)
func (w *Watcher) SetSettleDelay(d time.Duration) {
	w.settleDelay = d
}

// Run watches until the context is cancelled. Rebuild errors are
// logged, not fatal: the next change gets another chance.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()

	for _, root := range w.roots {
		if err := w.addRecursive(fsw, root); err != nil {
			return err
		}
	}
	w.logger.Info("Watching for changes", logger.WithField("roots", len(w.roots)))

	changes := make(chan string, 64)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(changes)
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case event, ok := <-fsw.Events:
				if !ok {
					return nil
				}
				// New directories need watches of their own
				if event.Op.Has(fsnotify.Create) {
					if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
						w.addRecursive(fsw, event.Name)
						continue
					}
				}
				if !w.relevant(event) {
					continue
				}
				select {
				case changes <- event.Name:
				default:
				}
			case err, ok := <-fsw.Errors:
				if !ok {
					return nil
				}
				w.logger.Warn("Watch error", logger.WithField("error", err))
			}
		}
	})

	g.Go(func() error {
		var timer *time.Timer
		var timerC <-chan time.Time

		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case path, ok := <-changes:
				if !ok {
					return nil
				}
				w.logger.Debug("Change detected", logger.WithField("path", path))
				if timer == nil {
					timer = time.NewTimer(w.settleDelay)
					timerC = timer.C
				} else {
					if !timer.Stop() {
						<-timer.C
					}
					timer.Reset(w.settleDelay)
				}
			case <-timerC:
				timer = nil
				timerC = nil
				w.logger.Info("Changes settled, rebuilding...")
				if err := w.rebuild(ctx); err != nil {
					w.logger.Error("Rebuild failed", logger.WithField("error", err))
				}
			}
		}
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) &&
		!event.Op.Has(fsnotify.Remove) && !event.Op.Has(fsnotify.Rename) {
		return false
	}
	return watchedExtensions[filepath.Ext(event.Name)]
}

func (w *Watcher) addRecursive(fsw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		name := d.Name()
		if name == ".git" || name == "__pycache__" || name == "build" {
			return filepath.SkipDir
		}
		if err := fsw.Add(path); err != nil {
			w.logger.Warn("Could not watch directory",
				logger.WithField("path", path),
				logger.WithField("error", err))
		}
		return nil
	})
}
