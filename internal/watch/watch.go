// Package watch re-runs a callback when the models file or evolution files
// change.
package watch

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/satishbabariya/schema-evolution/internal/debug"
)

// DefaultDebounce is how long the watcher waits for writes to settle.
const DefaultDebounce = 500 * time.Millisecond

// Watcher watches files and directories for changes.
type Watcher struct {
	files    map[string]bool
	dirs     []string
	callback func() error
	watcher  *fsnotify.Watcher
	debounce time.Duration
}

// NewWatcher watches files, and every file directly inside dirs. Missing
// dirs are skipped.
func NewWatcher(files, dirs []string, callback func() error) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	w := &Watcher{
		files:    make(map[string]bool),
		callback: callback,
		watcher:  fw,
		debounce: DefaultDebounce,
	}
	watched := make(map[string]bool)
	for _, file := range files {
		abs, err := filepath.Abs(file)
		if err != nil {
			fw.Close()
			return nil, fmt.Errorf("failed to get absolute path: %w", err)
		}
		w.files[abs] = true
		// Editors replace files, so the containing directory is watched.
		if dir := filepath.Dir(abs); !watched[dir] {
			if err := fw.Add(dir); err != nil {
				fw.Close()
				return nil, fmt.Errorf("failed to watch directory: %w", err)
			}
			watched[dir] = true
		}
	}
	for _, dir := range dirs {
		abs, err := filepath.Abs(dir)
		if err != nil {
			fw.Close()
			return nil, fmt.Errorf("failed to get absolute path: %w", err)
		}
		if watched[abs] {
			w.dirs = append(w.dirs, abs)
			continue
		}
		if err := fw.Add(abs); err != nil {
			debug.Warn("not watching directory", "dir", abs, "error", err)
			continue
		}
		watched[abs] = true
		w.dirs = append(w.dirs, abs)
	}
	return w, nil
}

// SetDebounce changes the settle delay.
func (w *Watcher) SetDebounce(d time.Duration) { w.debounce = d }

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
		!event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
		return false
	}
	path, err := filepath.Abs(event.Name)
	if err != nil {
		return false
	}
	if w.files[path] {
		return true
	}
	for _, dir := range w.dirs {
		if filepath.Dir(path) == dir && !strings.HasPrefix(filepath.Base(path), ".") {
			return true
		}
	}
	return false
}

// Run calls the callback once, then again after each settled change, until
// ctx is done. Callback errors are reported through onError and do not
// stop the watcher.
func (w *Watcher) Run(ctx context.Context, onError func(error)) error {
	defer w.watcher.Close()

	if err := w.callback(); err != nil {
		return fmt.Errorf("initial callback failed: %w", err)
	}

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	var settled <-chan time.Time

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if w.relevant(event) {
				debug.Debug("change detected", "path", event.Name, "op", event.Op.String())
				timer.Reset(w.debounce)
				settled = timer.C
			}

		case <-settled:
			settled = nil
			if err := w.callback(); err != nil && onError != nil {
				onError(err)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			if onError != nil {
				onError(err)
			}

		case <-ctx.Done():
			return nil
		}
	}
}
