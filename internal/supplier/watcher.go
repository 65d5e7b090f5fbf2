package supplier

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"lunch-menu-bot/internal/logfields"
)

// Watcher reloads a YAML catalog file into a Catalog whenever it changes.
type Watcher struct {
	path     string
	catalog  *Catalog
	watcher  *fsnotify.Watcher
	debounce time.Duration

	stopOnce sync.Once
	stopChan chan struct{}
	done     chan struct{}
	// reloaded is signalled after every reload attempt; tests wait on it.
	reloaded chan error
}

// NewWatcher creates a watcher for the catalog file at path.
func NewWatcher(path string, catalog *Catalog, debounce time.Duration) (*Watcher, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve catalog path: %w", err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if debounce <= 0 {
		debounce = time.Second
	}
	return &Watcher{
		path:     absPath,
		catalog:  catalog,
		watcher:  fw,
		debounce: debounce,
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
		reloaded: make(chan error, 1),
	}, nil
}

// Start watches the catalog's directory, which survives editors that replace
// the file on save.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch catalog directory: %w", err)
	}
	slog.Info("Watching menu catalog", logfields.Path(w.path))
	go w.loop(ctx)
	return nil
}

// Stop ends watching.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.stopChan)
		err = w.watcher.Close()
		<-w.done
	})
	return err
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)
	name := filepath.Base(w.path)

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("Catalog watcher error", logfields.Error(err))
		}
	}
}

func (w *Watcher) reload() {
	items, err := LoadCatalogFile(w.path)
	if err != nil {
		slog.Error("Keeping previous menu catalog", logfields.Path(w.path), logfields.Error(err))
	} else {
		w.catalog.Replace(items)
		slog.Info("Reloaded menu catalog", logfields.Path(w.path), logfields.Count(len(items)))
	}
	select {
	case w.reloaded <- err:
	default:
	}
}
