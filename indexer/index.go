// Package indexer is the public face of the filesystem tree index. It answers
// children, metadata and path queries from the in-memory tree, loads
// directories in the background on request and keeps loaded directories live
// through the change watcher.
package indexer

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/0glabs/0g-dirview/classify"
	"github.com/0glabs/0g-dirview/common"
	"github.com/0glabs/0g-dirview/loader"
	"github.com/0glabs/0g-dirview/sorting"
	"github.com/0glabs/0g-dirview/tree"
	"github.com/0glabs/0g-dirview/tree/fspath"
	"github.com/0glabs/0g-dirview/watcher"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// A load pass discarded by a concurrent reconcile is retried this many times.
const maxLoadAttempts = 3

var errClosed = errors.New("index closed")

// Requires `Index` implements the `Interface` interface.
var _ Interface = (*Index)(nil)

// Option holds the collaborators of an Index.
type Option struct {
	Logger *logrus.Logger

	// NewBackend creates the change notification backend, fsnotify by default.
	NewBackend func() (watcher.Backend, error)
}

type pendingLoad struct {
	done  chan struct{}
	again atomic.Bool // reload requested while in flight
}

type watchRunner struct {
	watcher *watcher.Watcher
	cancel  context.CancelFunc
	done    chan struct{}
}

// Index is safe for concurrent use.
type Index struct {
	store      *tree.Store
	loader     *loader.Loader
	classifier *classify.Classifier
	newBackend func() (watcher.Backend, error)
	logger     *logrus.Logger

	watch atomic.Pointer[watchRunner]

	mu      sync.Mutex
	config  Config
	pending map[tree.Handle]*pendingLoad
	start   tree.Handle
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an index holding only the root. Change watching is started
// unless disabled; if no backend can be created, the index logs a warning and
// works without live updates. If config.StartPath is set, it is resolved and
// its loading started; a start path that cannot be resolved falls back to
// the root.
func New(config Config, option ...Option) (*Index, error) {
	var opt Option
	if len(option) > 0 {
		opt = option[0]
	}

	if opt.Logger == nil {
		opt.Logger = common.NewLogger()
	}

	if opt.NewBackend == nil {
		opt.NewBackend = watcher.NewBackend
	}

	classifyOption := config.Classify
	classifyOption.Probing = !config.DisableCustomIconClassification
	classifier := classify.New(classifyOption, opt.Logger)

	idx := &Index{
		loader:     loader.New(classifier, opt.Logger, config.Loader),
		classifier: classifier,
		newBackend: opt.NewBackend,
		logger:     opt.Logger,
		config:     config,
		pending:    make(map[tree.Handle]*pendingLoad),
	}
	idx.ctx, idx.cancel = context.WithCancel(context.Background())

	store, err := tree.NewStore(config.Sort, tree.WithLogger(opt.Logger), tree.WithReleaseHook(idx.released))
	if err != nil {
		idx.cancel()
		idx.loader.Close()
		return nil, errors.WithMessage(err, "Failed to create node store")
	}
	idx.store = store

	if !config.DisableChangeWatching {
		if err = idx.startWatching(); err != nil {
			idx.logger.WithError(err).Warn("Change watching unavailable, changes will only show on reload")
		}
	}

	if config.StartPath != "" {
		handle, err := idx.Resolve(config.StartPath)
		if err != nil {
			idx.logger.WithError(err).WithField("path", config.StartPath).Warn("Start path unavailable, browsing from the root")
			handle = idx.store.Root()
		} else {
			idx.start = handle
		}

		if _, err = idx.Children(handle, true); err != nil {
			idx.Close()
			return nil, errors.WithMessage(err, "Failed to load start path")
		}
	}

	return idx, nil
}

// Root returns the handle of the synthetic root node.
func (idx *Index) Root() tree.Handle {
	return idx.store.Root()
}

// Start returns the handle of the configured start path, or the root.
func (idx *Index) Start() tree.Handle {
	if idx.start == tree.InvalidHandle {
		return idx.store.Root()
	}
	return idx.start
}

// Children returns the ordered children of a directory. With ensureLoaded,
// an unloaded directory starts loading in the background and the result is
// pending; concurrent callers share the same load. Without it, or for a
// directory already loaded, the cached sequence is returned as is, which may
// be Stale. Non-directories have no children.
func (idx *Index) Children(handle tree.Handle, ensureLoaded bool) (Result, error) {
	md, err := idx.store.MetadataOf(handle)
	if err != nil {
		return Result{}, err
	}

	if !md.Kind.IsDir() && md.Kind != tree.KindUnknown {
		return Result{State: md.State}, nil
	}

	if ensureLoaded && md.State == tree.Unloaded {
		if p := idx.load(handle); p != nil {
			return Result{State: tree.Loading, Pending: true, Done: p.done}, nil
		}

		// loaded by somebody else in the meantime
		if md, err = idx.store.MetadataOf(handle); err != nil {
			return Result{}, err
		}
	}

	if md.State == tree.Loading {
		result := Result{State: md.State, Pending: true}
		if p := idx.pendingOf(handle); p != nil {
			result.Done = p.done
		}
		return result, nil
	}

	children, err := idx.store.ChildrenOf(handle)
	if err != nil {
		return Result{}, err
	}

	return Result{Handles: children, State: md.State, Err: md.LoadErr}, nil
}

// Wait is the blocking form of Children with ensureLoaded. The deadline of
// ctx only aborts the wait: the load goes on and fills the tree for later
// queries.
func (idx *Index) Wait(ctx context.Context, handle tree.Handle) ([]tree.Handle, error) {
	for {
		result, err := idx.Children(handle, true)
		if err != nil {
			return nil, err
		}

		if !result.Pending {
			return result.Handles, result.Err
		}

		if result.Done == nil {
			return nil, tree.NewPathError("wait", handle.String(), tree.ErrDiscarded, nil)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-result.Done:
		}

		if result, err = idx.Children(handle, false); err != nil {
			return nil, err
		}

		if !result.Pending {
			return result.Handles, result.Err
		}
	}
}

// Metadata returns the cached metadata of a node. It never touches the disk.
func (idx *Index) Metadata(handle tree.Handle) (tree.Metadata, error) {
	return idx.store.MetadataOf(handle)
}

// Resolve returns the handle of a path. A path unknown to the tree is
// checked on disk first, so that a missing path yields ErrNotFound without
// creating any node.
func (idx *Index) Resolve(path string) (tree.Handle, error) {
	normalized, err := fspath.Normalize(path)
	if err != nil {
		return tree.InvalidHandle, err
	}

	if handle, ok := idx.store.Lookup(normalized); ok {
		return handle, nil
	}

	entry, err := idx.loader.Stat(normalized)
	if err != nil {
		return tree.InvalidHandle, err
	}

	handle, err := idx.store.HandleFor(normalized)
	if err != nil {
		return tree.InvalidHandle, err
	}

	if err = idx.store.Seed(handle, entry); err != nil {
		return tree.InvalidHandle, err
	}

	return handle, nil
}

// PathFor returns the normalized path of a live node.
func (idx *Index) PathFor(handle tree.Handle) (string, error) {
	return idx.store.PathFor(handle)
}

// SetSort changes the sort key and direction, re-sorting every loaded
// directory at once. It returns false if the order did not change.
func (idx *Index) SetSort(key sorting.Key, direction sorting.Direction) (bool, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	order := idx.config.Sort.WithKey(key, direction)

	changed, err := idx.store.SetOrder(order)
	if err != nil {
		return false, err
	}

	idx.config.Sort = order

	return changed, nil
}

// Configure applies the live options of config: the sort order, change
// watching and content probing. Other fields are ignored.
func (idx *Index) Configure(config Config) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.closed {
		return errClosed
	}

	if _, err := idx.store.SetOrder(config.Sort); err != nil {
		return err
	}
	idx.config.Sort = config.Sort

	idx.classifier.SetProbing(!config.DisableCustomIconClassification)
	idx.config.DisableCustomIconClassification = config.DisableCustomIconClassification

	if config.DisableChangeWatching == idx.config.DisableChangeWatching {
		return nil
	}
	idx.config.DisableChangeWatching = config.DisableChangeWatching

	if config.DisableChangeWatching {
		idx.stopWatching()
		idx.logger.Info("Change watching disabled")
		return nil
	}

	if err := idx.startWatching(); err != nil {
		return err
	}

	// changes made while unwatched were missed
	w := idx.watch.Load().watcher
	for _, ref := range idx.store.Loaded() {
		w.Watch(ref.Handle, ref.Path)
	}

	idx.wg.Add(1)
	go func() {
		defer idx.wg.Done()
		w.Reconcile(idx.ctx)
	}()

	idx.logger.Info("Change watching enabled")

	return nil
}

// Reload reconciles a directory with the disk, preserving the handles of
// unchanged entries. This is how changes show up when watching is disabled.
// A remembered watch failure of the directory is cleared and retried.
func (idx *Index) Reload(handle tree.Handle) (Result, error) {
	md, err := idx.store.MetadataOf(handle)
	if err != nil {
		return Result{}, err
	}

	if !md.Kind.IsDir() && md.Kind != tree.KindUnknown {
		return Result{State: md.State}, nil
	}

	if runner := idx.watch.Load(); runner != nil {
		runner.watcher.Forget(md.Path)
	}

	if _, err = idx.store.MarkStale(handle); err != nil {
		return Result{}, err
	}

	p := idx.reload(handle)
	if p == nil {
		return Result{}, errClosed
	}

	return Result{State: md.State, Pending: true, Done: p.done}, nil
}

// Unload drops the cached children of a directory and releases its watch.
// Handles below it are destroyed.
func (idx *Index) Unload(handle tree.Handle) error {
	return idx.store.Unload(handle)
}

// Subscribe returns the ordered stream of tree change events.
func (idx *Index) Subscribe() *tree.Subscription {
	return idx.store.Subscribe()
}

// Stats returns counters of the index.
func (idx *Index) Stats() Stats {
	stats := Stats{
		Nodes:        idx.store.Len(),
		Loaded:       len(idx.store.Loaded()),
		Enumerations: idx.loader.Enumerations(),
		Probes:       idx.classifier.Probes(),
	}

	if runner := idx.watch.Load(); runner != nil {
		stats.Watching = true
		stats.Watched = runner.watcher.Watched()
	}

	return stats
}

// Close stops the watcher, releasing every subscription, aborts the scans in
// flight, waits for background loads and terminates event subscriptions.
func (idx *Index) Close() {
	idx.mu.Lock()
	if idx.closed {
		idx.mu.Unlock()
		return
	}
	idx.closed = true
	idx.stopWatching()
	idx.mu.Unlock()

	idx.cancel()
	idx.loader.Close()
	idx.wg.Wait()
	idx.store.Close()
}

// startWatching must be called with idx.mu held.
func (idx *Index) startWatching() error {
	backend, err := idx.newBackend()
	if err != nil {
		return tree.NewPathError("watch", fspath.Root, tree.ErrWatchUnavailable, err)
	}

	ctx, cancel := context.WithCancel(idx.ctx)
	runner := &watchRunner{
		watcher: watcher.New(idx.store, idx.loader, backend, idx.logger),
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	go func() {
		defer close(runner.done)
		runner.watcher.Run(ctx)
	}()

	idx.watch.Store(runner)

	return nil
}

// stopWatching must be called with idx.mu held.
func (idx *Index) stopWatching() {
	runner := idx.watch.Swap(nil)
	if runner == nil {
		return
	}

	runner.cancel()
	if err := runner.watcher.Close(); err != nil {
		idx.logger.WithError(err).Warn("Failed to close change watcher")
	}
	<-runner.done
}

// released is the store's release hook.
func (idx *Index) released(ref tree.Ref) {
	if runner := idx.watch.Load(); runner != nil {
		runner.watcher.Unwatch(ref.Path)
	}
}

func (idx *Index) pendingOf(handle tree.Handle) *pendingLoad {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.pending[handle]
}

// load starts loading an Unloaded directory unless a load is in flight, in
// which case that one is returned. It returns nil if the directory is no
// longer Unloaded.
func (idx *Index) load(handle tree.Handle) *pendingLoad {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if p, ok := idx.pending[handle]; ok {
		return p
	}

	if md, err := idx.store.MetadataOf(handle); err != nil || md.State != tree.Unloaded {
		return nil
	}

	return idx.spawn(handle, false)
}

// reload starts a fresh pass over a directory. A load in flight is asked to
// run once more when it completes instead.
func (idx *Index) reload(handle tree.Handle) *pendingLoad {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if p, ok := idx.pending[handle]; ok {
		p.again.Store(true)
		return p
	}

	return idx.spawn(handle, true)
}

// spawn must be called with idx.mu held.
func (idx *Index) spawn(handle tree.Handle, rescan bool) *pendingLoad {
	if idx.closed {
		return nil
	}

	p := &pendingLoad{done: make(chan struct{})}
	idx.pending[handle] = p

	idx.wg.Add(1)
	go func() {
		defer idx.wg.Done()

		for again := rescan; ; again = true {
			if err := idx.populate(handle, again); err != nil {
				break
			}
			if !p.again.Swap(false) {
				break
			}
		}

		idx.mu.Lock()
		delete(idx.pending, handle)
		idx.mu.Unlock()

		close(p.done)
	}()

	return p
}

// populate runs one load pass of a directory: watch it, list it and hand the
// listing to the store. The watch is armed before listing, so that changes
// racing with the listing are not lost.
func (idx *Index) populate(handle tree.Handle, rescan bool) error {
	for attempt := 1; ; attempt++ {
		generation, path, err := idx.store.BeginLoad(handle)
		if err != nil {
			return err
		}

		logger := idx.logger.WithField("dir", path)

		if runner := idx.watch.Load(); runner != nil {
			if err = runner.watcher.Watch(handle, path); err != nil {
				logger.WithError(err).Debug("Directory loaded without change watching")
			}
		}

		var entries []tree.Entry
		if rescan || attempt > 1 {
			entries, err = idx.loader.Rescan(idx.ctx, path)
		} else {
			entries, err = idx.loader.Enumerate(idx.ctx, path)
		}

		if err != nil {
			if ferr := idx.store.FailLoad(handle, generation, err); ferr == nil {
				logger.WithError(err).Info("Failed to load directory")
			}
			idx.unwatchUnloaded(handle, path)
			return err
		}

		err = idx.store.MarkLoaded(handle, generation, entries)
		if !errors.Is(err, tree.ErrDiscarded) {
			if err == nil {
				logger.WithField("entries", len(entries)).Debug("Directory loaded")
			}
			return err
		}

		// superseded by an unload or a concurrent reconcile
		md, merr := idx.store.MetadataOf(handle)
		if merr != nil {
			return merr
		}

		if md.State == tree.Unloaded {
			idx.unwatchUnloaded(handle, path)
			return err
		}

		if md.State.HasChildren() || attempt >= maxLoadAttempts {
			return err
		}
	}
}

// unwatchUnloaded drops a watch armed for a directory that ended up without
// cached children.
func (idx *Index) unwatchUnloaded(handle tree.Handle, path string) {
	runner := idx.watch.Load()
	if runner == nil {
		return
	}

	if md, err := idx.store.MetadataOf(handle); err != nil || md.State == tree.Unloaded {
		runner.watcher.Unwatch(path)
	}
}
