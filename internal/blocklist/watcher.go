package blocklist

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads a Blocklist when its backing file changes outside the
// process, e.g. an operator editing the JSON by hand.
type Watcher struct {
	list     *Blocklist
	path     string
	watcher  *fsnotify.Watcher
	logger   *slog.Logger
	debounce time.Duration
}

// NewWatcher watches the directory holding path. Saves replace the file by
// rename, so watching the file itself would lose track of it.
func NewWatcher(list *Blocklist, path string, logger *slog.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create blocklist watcher: %w", err)
	}

	path = filepath.Clean(path)
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch blocklist dir: %w", err)
	}

	return &Watcher{
		list:     list,
		path:     path,
		watcher:  fw,
		logger:   logger,
		debounce: 100 * time.Millisecond,
	}, nil
}

// Start processes file events until ctx is cancelled or Close is called.
func (w *Watcher) Start(ctx context.Context) {
	var pending <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&fsnotify.Write == fsnotify.Write ||
				event.Op&fsnotify.Create == fsnotify.Create ||
				event.Op&fsnotify.Rename == fsnotify.Rename {
				pending = time.After(w.debounce)
			}
		case <-pending:
			pending = nil
			if err := w.list.Reload(ctx); err == nil {
				w.logger.Info("blocklist reloaded from disk", slog.String("path", w.path))
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("blocklist watcher error", slog.Any("error", err))
		}
	}
}

// Close stops the underlying fsnotify watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
