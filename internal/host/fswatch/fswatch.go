// Package fswatch implements host.DirectoryWatcher on top of fsnotify.
package fswatch

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/jmylchreest/perch/internal/host"
)

// Watcher watches directory trees recursively. New subdirectories are added
// to the watch as they appear.
type Watcher struct {
	logger *slog.Logger
}

// New creates a Watcher.
func New(logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{logger: logger}
}

// WatchDirectory implements host.DirectoryWatcher.
func (w *Watcher) WatchDirectory(ctx context.Context, root string) (<-chan host.FileEvent, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	if err := addTree(fw, root); err != nil {
		_ = fw.Close()
		return nil, err
	}

	out := make(chan host.FileEvent, 64)
	go w.loop(ctx, fw, out)

	w.logger.Debug("directory watcher started", "path", root)
	return out, nil
}

func (w *Watcher) loop(ctx context.Context, fw *fsnotify.Watcher, out chan<- host.FileEvent) {
	defer close(out)
	defer func() {
		if err := fw.Close(); err != nil {
			w.logger.Debug("failed to close directory watcher", "error", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-fw.Events:
			if !ok {
				return
			}

			op, ok := translate(ev)
			if !ok {
				continue
			}

			// Directories created after startup need their own watch.
			if op == host.FileCreated {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := addTree(fw, ev.Name); err != nil {
						w.logger.Warn("failed to watch new directory", "path", ev.Name, "error", err)
					}
				}
			}

			select {
			case out <- host.FileEvent{Path: ev.Name, Op: op}:
			case <-ctx.Done():
				return
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("directory watcher error", "error", err)
		}
	}
}

func translate(ev fsnotify.Event) (host.FileOp, bool) {
	switch {
	case ev.Has(fsnotify.Create):
		return host.FileCreated, true
	case ev.Has(fsnotify.Write):
		return host.FileWritten, true
	case ev.Has(fsnotify.Remove):
		return host.FileRemoved, true
	case ev.Has(fsnotify.Rename):
		return host.FileRenamed, true
	default:
		return 0, false
	}
}

func addTree(fw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if err := fw.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		return nil
	})
}
