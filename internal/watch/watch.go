// Package watch follows the workflow state document on disk.
//
// Saves are atomic rename operations, so the watcher observes the
// document's parent directory and filters events by file name; watching
// the file itself would silently detach on the first save.
package watch

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/specgate/internal/state"
)

// Event describes one observed state change.
type Event struct {
	Version   int64
	ActiveID  string
	Phase     state.Phase
	Workflows int
	At        time.Time
}

// Watcher emits an Event whenever the state document changes.
type Watcher struct {
	store       *state.Store
	watcher     *fsnotify.Watcher
	events      chan Event
	stop        chan struct{}
	logger      *zap.Logger
	lastVersion int64
}

// NewWatcher builds a watcher over the store's document.
func NewWatcher(store *state.Store, logger *zap.Logger) (*Watcher, error) {
	if store == nil {
		return nil, fmt.Errorf("state store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fs watcher: %w", err)
	}

	return &Watcher{
		store:   store,
		watcher: fsw,
		events:  make(chan Event, 16),
		stop:    make(chan struct{}),
		logger:  logger,
	}, nil
}

// Start begins watching and emits events until Stop or context cancel.
func (w *Watcher) Start(ctx context.Context) error {
	dir := filepath.Dir(w.store.Path())
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}

	if gs, err := w.store.Load(); err == nil {
		w.lastVersion = gs.Version
	}

	go w.processEvents(ctx)
	return nil
}

// Stop stops the watcher and releases its resources.
func (w *Watcher) Stop() {
	select {
	case <-w.stop:
	default:
		close(w.stop)
		_ = w.watcher.Close()
	}
}

// Events returns the channel of observed state changes.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

func (w *Watcher) processEvents(ctx context.Context) {
	name := filepath.Base(w.store.Path())
	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			// Atomic saves surface as Create (rename target) on most
			// platforms; direct writes as Write.
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			w.emit()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("state watcher error", zap.Error(err))
		}
	}
}

// emit loads the document and publishes a change event. Unreadable
// documents are skipped: a save may still be in flight.
func (w *Watcher) emit() {
	gs, err := w.store.Load()
	if err != nil {
		w.logger.Debug("skipping unreadable state document", zap.Error(err))
		return
	}
	if gs.Version == w.lastVersion {
		return
	}
	w.lastVersion = gs.Version

	ev := Event{
		Version:   gs.Version,
		Workflows: len(gs.Workflows),
		At:        time.Now(),
	}
	if active := gs.Active(); active != nil {
		ev.ActiveID = active.ID
		ev.Phase = active.Phase
	}

	select {
	case w.events <- ev:
	default:
		w.logger.Debug("dropping state event, consumer is behind",
			zap.Int64("version", ev.Version),
		)
	}
}
