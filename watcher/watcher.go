// Package watcher keeps loaded directories in sync with the filesystem.
//
// Every loaded directory has one subscription. A notification about an entry
// of a watched directory is turned into a minimal delta by stat'ing just that
// entry. When the OS reports that notifications were dropped, every watched
// directory is marked stale and reconciled with a fresh listing.
package watcher

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/0glabs/0g-dirview/common"
	"github.com/0glabs/0g-dirview/common/util"
	"github.com/0glabs/0g-dirview/loader"
	"github.com/0glabs/0g-dirview/tree"
	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const reconcileReportInterval = 5 * time.Second

// State of the subscription of one directory.
type State int

const (
	Unwatched State = iota
	Watching
	Stale
)

var stateNames = []string{"unwatched", "watching", "stale"}

func (state State) String() string {
	if int(state) < len(stateNames) {
		return stateNames[state]
	}
	return "unknown"
}

type subscription struct {
	handle tree.Handle
	state  State
}

// Watcher translates notifications of a Backend into store mutations. Events
// are processed by a single goroutine, so deltas of one directory are applied
// in the order they were observed.
type Watcher struct {
	backend Backend
	store   *tree.Store
	loader  *loader.Loader
	logger  *logrus.Logger

	mu     sync.Mutex
	subs   map[string]*subscription
	failed map[string]error // not retried until forgotten
	closed bool
}

// New creates a watcher. Call Run to start processing notifications.
func New(store *tree.Store, loader *loader.Loader, backend Backend, logger *logrus.Logger) *Watcher {
	if logger == nil {
		logger = common.NewLogger()
	}

	return &Watcher{
		backend: backend,
		store:   store,
		loader:  loader,
		logger:  logger,
		subs:    make(map[string]*subscription),
		failed:  make(map[string]error),
	}
}

// Watch subscribes to changes of the directory at path. Watching an already
// watched directory is a no-op. If the subscription cannot be established
// the failure is logged once and returned as ErrWatchUnavailable, and later
// calls return the same error without retrying until Forget is called.
func (w *Watcher) Watch(handle tree.Handle, path string) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return tree.NewPathError("watch", path, tree.ErrWatchUnavailable, errors.New("watcher closed"))
	}

	if sub, ok := w.subs[path]; ok {
		sub.handle = handle
		w.mu.Unlock()
		return nil
	}

	if err, ok := w.failed[path]; ok {
		w.mu.Unlock()
		return err
	}
	w.mu.Unlock()

	err := w.backend.Add(path)

	w.mu.Lock()
	defer w.mu.Unlock()

	if err != nil {
		werr := tree.NewPathError("watch", path, tree.ErrWatchUnavailable, err)
		w.failed[path] = werr
		w.logger.WithError(err).WithField("dir", path).Warn("Failed to watch directory, changes will only show on reload")
		return werr
	}

	w.subs[path] = &subscription{handle: handle, state: Watching}
	w.logger.WithField("dir", path).Debug("Directory watched")

	return nil
}

// Unwatch releases the subscription of path, if any.
func (w *Watcher) Unwatch(path string) {
	w.mu.Lock()
	_, ok := w.subs[path]
	delete(w.subs, path)
	w.mu.Unlock()

	if !ok {
		return
	}

	// the OS drops watches of deleted directories by itself
	if err := w.backend.Remove(path); err != nil {
		w.logger.WithError(err).WithField("dir", path).Debug("Failed to remove watch")
	}

	w.logger.WithField("dir", path).Debug("Directory unwatched")
}

// Forget clears a remembered subscription failure of path, so that the next
// Watch tries again.
func (w *Watcher) Forget(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.failed, path)
}

// State returns the subscription state of path.
func (w *Watcher) State(path string) State {
	w.mu.Lock()
	defer w.mu.Unlock()

	if sub, ok := w.subs[path]; ok {
		return sub.state
	}
	return Unwatched
}

// Watched returns the number of subscriptions.
func (w *Watcher) Watched() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.subs)
}

// Run processes notifications until ctx is done or the backend is closed.
func (w *Watcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.backend.Events():
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-w.backend.Errors():
			if !ok {
				return
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				w.logger.Warn("Change notifications were dropped, reconciling watched directories")
				w.Reconcile(ctx)
			} else {
				w.logger.WithError(err).Warn("Change notification error")
			}
		}
	}
}

// Close releases every subscription and the backend.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.subs = make(map[string]*subscription)
	w.mu.Unlock()

	return w.backend.Close()
}

func (w *Watcher) subscription(path string) (tree.Handle, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if sub, ok := w.subs[path]; ok {
		return sub.handle, true
	}
	return tree.InvalidHandle, false
}

func (w *Watcher) setState(path string, state State) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if sub, ok := w.subs[path]; ok {
		sub.state = state
	}
}

// handle applies one notification. The entry named by the event is stat'ed
// again, so coalesced or reordered notifications still converge on the
// current state of the disk.
func (w *Watcher) handle(event fsnotify.Event) {
	path := filepath.Clean(event.Name)
	logger := w.logger.WithField("path", path).WithField("op", event.Op)
	logger.Debug("Change notification")

	if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
		if handle, ok := w.subscription(path); ok {
			w.handleSelf(path, handle)
		}
	}

	dir, name := filepath.Dir(path), filepath.Base(path)
	if dir == path {
		return
	}

	handle, ok := w.subscription(dir)
	if !ok {
		return
	}

	var delta tree.Delta
	entry, err := w.loader.Stat(path)
	if err != nil {
		delta.Removed = []string{name}
	} else {
		delta.Updated = []tree.Entry{entry}
	}

	if err := w.store.ApplyDelta(handle, delta); err != nil {
		if errors.Is(err, tree.ErrNotFound) {
			w.Unwatch(dir)
			return
		}
		logger.WithError(err).Warn("Failed to apply change")
	}
}

// handleSelf handles the removal or rename of a watched directory itself.
// If the parent is watched too, its own notification removes the node; this
// covers directories whose parent is not.
func (w *Watcher) handleSelf(path string, handle tree.Handle) {
	if entry, err := w.loader.Stat(path); err == nil && entry.Kind == tree.KindDirectory {
		// replaced by another directory before we got here
		return
	}

	if err := w.store.Remove(handle); err != nil && !errors.Is(err, tree.ErrInvalidPath) {
		w.logger.WithError(err).WithField("dir", path).Debug("Watched directory already gone")
	}

	w.Unwatch(path)
}

// Reconcile marks every watched directory Stale and reconciles it with a
// fresh listing. Handles of unchanged entries are preserved.
func (w *Watcher) Reconcile(ctx context.Context) {
	w.mu.Lock()
	refs := make([]tree.Ref, 0, len(w.subs))
	for path, sub := range w.subs {
		sub.state = Stale
		refs = append(refs, tree.Ref{Handle: sub.handle, Path: path})
	}
	w.mu.Unlock()

	reminder := util.NewReminder(w.logger, reconcileReportInterval)
	for i, ref := range refs {
		if ctx.Err() != nil {
			return
		}
		w.reconcile(ctx, ref)
		reminder.RemindWith("Reconciling watched directories", "remaining", len(refs)-i-1)
	}
}

func (w *Watcher) reconcile(ctx context.Context, ref tree.Ref) {
	logger := w.logger.WithField("dir", ref.Path)

	if _, err := w.store.MarkStale(ref.Handle); err != nil {
		w.Unwatch(ref.Path)
		return
	}

	generation, _, err := w.store.BeginLoad(ref.Handle)
	if err != nil {
		w.Unwatch(ref.Path)
		return
	}

	entries, err := w.loader.Rescan(ctx, ref.Path)
	if err != nil {
		if ferr := w.store.FailLoad(ref.Handle, generation, err); ferr != nil {
			logger.WithError(ferr).Debug("Failed reconcile superseded")
		}
		logger.WithError(err).Warn("Failed to reconcile directory")
		return
	}

	if err := w.store.MarkLoaded(ref.Handle, generation, entries); err != nil {
		logger.WithError(err).Debug("Reconcile result dropped")
		return
	}

	w.setState(ref.Path, Watching)
	logger.Debug("Directory reconciled")
}
