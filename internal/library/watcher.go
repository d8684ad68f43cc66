package library

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// Watcher reacts to filesystem change events under the library root with
// the incremental single-file scan/delete logic. It never re-walks the
// whole tree per event.
type Watcher struct {
	scanner *Scanner
	logger  *slog.Logger
}

// NewWatcher creates a Watcher feeding the given scanner.
func NewWatcher(scanner *Scanner, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{scanner: scanner, logger: logger}
}

// Watch blocks, dispatching events until ctx is done. fsnotify watches are
// not recursive, so every subdirectory is registered individually and new
// directories are added as they appear.
func (w *Watcher) Watch(ctx context.Context, root string) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer fsw.Close()

	if err := addWatchesRecursive(fsw, root); err != nil {
		return err
	}

	w.logger.Info("watching library", "root", root)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(fsw, event)

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", "error", err)
		}
	}
}

func (w *Watcher) handleEvent(fsw *fsnotify.Watcher, event fsnotify.Event) {
	path := event.Name
	if strings.HasPrefix(filepath.Base(path), ".") {
		return
	}

	switch {
	case event.Has(fsnotify.Create):
		if fi, err := os.Stat(path); err == nil && fi.IsDir() {
			if err := addWatchesRecursive(fsw, path); err != nil {
				w.logger.Warn("failed to watch new directory", "dir", path, "error", err)
			}
			return
		}
		w.scanPath(path)

	case event.Has(fsnotify.Write):
		w.scanPath(path)

	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		if err := w.scanner.Remove(path); err != nil {
			w.logger.Warn("failed to remove metadata", "path", path, "error", err)
		}
	}
}

func (w *Watcher) scanPath(path string) {
	if !IsPackage(path) {
		return
	}
	if err := w.scanner.ScanOne(path, false); err != nil {
		w.logger.Warn("failed to scan changed file", "path", path, "error", err)
	}
}

// addWatchesRecursive registers root and every non-hidden subdirectory.
func addWatchesRecursive(fsw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if werr := fsw.Add(path); werr != nil {
			return fmt.Errorf("failed to watch %s: %w", path, werr)
		}
		return nil
	})
}
