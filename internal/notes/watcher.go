package notes

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceWindow batches rapid editor writes into a single sync trigger.
const debounceWindow = 2 * time.Second

// Watcher monitors the corpus directory and invokes a trigger callback
// shortly after local edits settle, so a sync pass follows edits without
// waiting for the interval timer.
type Watcher struct {
	corpus  *Corpus
	logger  *slog.Logger
	trigger func()
}

// NewWatcher creates a watcher over the given corpus. trigger is invoked
// from the watch goroutine after each debounced burst of changes.
func NewWatcher(corpus *Corpus, logger *slog.Logger, trigger func()) *Watcher {
	return &Watcher{corpus: corpus, logger: logger, trigger: trigger}
}

// Watch blocks until the context is cancelled, watching the corpus
// recursively. New directories are added to the watch as they appear.
func (w *Watcher) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	if err := w.addRecursive(watcher); err != nil {
		return fmt.Errorf("watching corpus: %w", err)
	}

	w.logger.Info("corpus watcher started", slog.String("dir", w.corpus.Root()))

	// The timer is armed on the first relevant event and re-armed on each
	// subsequent one; it fires only after the window passes quietly.
	debounce := time.NewTimer(debounceWindow)
	if !debounce.Stop() {
		<-debounce.C
	}

	pending := false

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-debounce.C:
			if pending {
				pending = false

				w.logger.Debug("local edits settled, triggering sync")
				w.trigger()
			}

		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("fsnotify events channel closed")
			}

			if !w.relevant(watcher, event) {
				continue
			}

			if pending && !debounce.Stop() {
				<-debounce.C
			}

			pending = true
			debounce.Reset(debounceWindow)

		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("fsnotify errors channel closed")
			}

			w.logger.Warn("watcher error", slog.String("error", err.Error()))
		}
	}
}

// relevant reports whether an event should arm the debounce timer, and
// registers newly created directories with the watcher.
func (w *Watcher) relevant(watcher *fsnotify.Watcher, event fsnotify.Event) bool {
	rel, err := filepath.Rel(w.corpus.Root(), event.Name)
	if err != nil {
		return false
	}

	rel = filepath.ToSlash(rel)
	for _, part := range strings.Split(rel, "/") {
		if strings.HasPrefix(part, ".") || part == "node_modules" {
			return false
		}
	}

	if event.Has(fsnotify.Create) {
		// Use Lstat to avoid following symlinks to directories outside
		// the corpus.
		if info, err := os.Lstat(event.Name); err == nil && info.IsDir() {
			_ = watcher.Add(event.Name)
			return false
		}
	}

	if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
		_ = watcher.Remove(event.Name)
		return isMarkdown(rel)
	}

	return isMarkdown(rel) && (event.Has(fsnotify.Write) || event.Has(fsnotify.Create))
}

// addRecursive walks the corpus root and adds all non-hidden directories
// to the fsnotify watcher.
func (w *Watcher) addRecursive(watcher *fsnotify.Watcher) error {
	return filepath.WalkDir(w.corpus.Root(), func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if !d.IsDir() {
			return nil
		}

		name := d.Name()
		if strings.HasPrefix(name, ".") && path != w.corpus.Root() {
			return filepath.SkipDir
		}

		if name == "node_modules" {
			return filepath.SkipDir
		}

		return watcher.Add(path)
	})
}
