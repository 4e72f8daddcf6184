// Package tree holds the in-memory mirror of the filesystem hierarchy: nodes
// addressed by stable handles, their load state, and the ordered children of
// every loaded directory.
//
// The Store is the only mutable shared structure of the index. All mutations
// go through MarkLoaded, ApplyDelta and their siblings under a single writer
// lock; readers never block each other. Every mutation is published as an
// ordered stream of events while the writer lock is held, so subscribers
// observe changes in exactly the order they were applied.
package tree

import (
	"sync"

	"github.com/0glabs/0g-dirview/common"
	"github.com/0glabs/0g-dirview/sorting"
	"github.com/0glabs/0g-dirview/tree/fspath"
	"github.com/sirupsen/logrus"
)

// Ref names a directory node together with its path.
type Ref struct {
	Handle Handle
	Path   string
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithLogger sets the logger, by default logs are discarded.
func WithLogger(logger *logrus.Logger) StoreOption {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithReleaseHook registers a function called for every directory that stops
// being loaded, either because it was destroyed or unloaded. It is invoked
// after the writer lock is released and may call back into the store.
func WithReleaseHook(hook func(Ref)) StoreOption {
	return func(s *Store) {
		s.release = hook
	}
}

// Store owns every node of the tree.
type Store struct {
	mu         sync.RWMutex
	nodes      map[Handle]*node
	paths      map[string]Handle
	next       Handle
	root       Handle
	comparator *sorting.Comparator

	events  *Broadcaster
	release func(Ref)
	logger  *logrus.Logger
}

// NewStore creates a store holding only the synthetic root node.
func NewStore(order sorting.Order, opts ...StoreOption) (*Store, error) {
	comparator, err := sorting.NewComparator(order)
	if err != nil {
		return nil, err
	}

	s := &Store{
		nodes:      make(map[Handle]*node),
		paths:      make(map[string]Handle),
		comparator: comparator,
		events:     NewBroadcaster(),
		logger:     common.NewLogger(),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.root = s.allocate(nil, fspath.Root, Entry{Name: fspath.Root, Kind: KindRoot})

	return s, nil
}

// Root returns the handle of the synthetic root node.
func (s *Store) Root() Handle {
	return s.root
}

// Order returns the active sort order.
func (s *Store) Order() sorting.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.comparator.Order()
}

// Subscribe returns an ordered stream of change events.
func (s *Store) Subscribe() *Subscription {
	return s.events.Subscribe()
}

// Close terminates all event subscriptions.
func (s *Store) Close() {
	s.events.Close()
}

// Len returns the number of live nodes, the root included.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes)
}

// HandleFor returns the handle of a path, creating provisional Unloaded nodes
// for the path and any missing ancestors. It never touches the filesystem.
func (s *Store) HandleFor(path string) (Handle, error) {
	normalized, err := fspath.Normalize(path)
	if err != nil {
		return InvalidHandle, err
	}

	s.mu.RLock()
	handle, ok := s.paths[normalized]
	s.mu.RUnlock()
	if ok {
		return handle, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.nodes[s.root]
	for _, name := range fspath.Segments(normalized) {
		if child, ok := current.named[name]; ok {
			current = s.nodes[child]
			continue
		}

		switch current.entry.Kind {
		case KindUnknown:
			// a provisional leaf addressed as an ancestor must be a directory
			current.entry.Kind = KindDirectory
			current.projection = s.comparator.Reproject(current.projection, current.entry.item())
		case KindFile, KindSymlink:
			return InvalidHandle, NewPathError("resolve", current.path, ErrNotFound, nil)
		}

		path := fspath.Join(current.path, name)
		kind := KindUnknown
		if path != normalized {
			kind = KindDirectory
		}

		handle := s.allocate(current, path, Entry{Name: name, Kind: kind})
		current = s.nodes[handle]
	}

	return current.handle, nil
}

// PathFor returns the normalized path of a live node.
func (s *Store) PathFor(handle Handle) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.nodes[handle]
	if !ok {
		return "", NewPathError("path", handle.String(), ErrNotFound, nil)
	}

	return n.path, nil
}

// Lookup returns the handle of an already known path without creating nodes.
func (s *Store) Lookup(path string) (Handle, bool) {
	normalized, err := fspath.Normalize(path)
	if err != nil {
		return InvalidHandle, false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	handle, ok := s.paths[normalized]
	return handle, ok
}

// ChildrenOf returns a copy of the ordered children of a node. The result is
// empty for unloaded directories and non-directories: reads never load.
func (s *Store) ChildrenOf(handle Handle) ([]Handle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.nodes[handle]
	if !ok {
		return nil, NewPathError("children", handle.String(), ErrNotFound, nil)
	}

	if !n.state.HasChildren() {
		return nil, nil
	}

	result := make([]Handle, len(n.children))
	copy(result, n.children)
	return result, nil
}

// MetadataOf returns the cached metadata of a node.
func (s *Store) MetadataOf(handle Handle) (Metadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.nodes[handle]
	if !ok {
		return Metadata{}, NewPathError("metadata", handle.String(), ErrNotFound, nil)
	}

	return n.metadata(), nil
}

// Loaded returns every directory whose children are cached.
func (s *Store) Loaded() []Ref {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var refs []Ref
	for _, n := range s.nodes {
		if n.state.HasChildren() {
			refs = append(refs, Ref{n.handle, n.path})
		}
	}
	return refs
}

// Seed records metadata learned about a single path outside a directory
// listing, e.g. by resolving it. Only provisional nodes are updated; confirmed
// nodes are owned by their parent's listing.
func (s *Store) Seed(handle Handle, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.nodes[handle]
	if !ok {
		return NewPathError("seed", handle.String(), ErrNotFound, nil)
	}

	if !n.provisional {
		return nil
	}

	entry.Name = n.entry.Name
	n.entry = entry
	n.projection = s.comparator.Reproject(n.projection, entry.item())

	return nil
}

// allocate creates a node under parent. A nil parent creates the root. Must
// be called with the writer lock held, except from NewStore.
func (s *Store) allocate(parent *node, path string, entry Entry) Handle {
	s.next++

	n := &node{
		handle:      s.next,
		path:        path,
		entry:       entry,
		provisional: parent != nil,
		projection:  s.comparator.Project(entry.item()),
	}

	if entry.Kind.IsDir() || entry.Kind == KindUnknown {
		n.named = make(map[string]Handle)
	}

	if parent != nil {
		n.parent = parent.handle
		if parent.named == nil {
			parent.named = make(map[string]Handle)
		}
		parent.named[entry.Name] = n.handle
	}

	s.nodes[n.handle] = n
	s.paths[path] = n.handle

	return n.handle
}

// projectionOf is the accessor sorting helpers use to compare handles.
func (s *Store) projectionOf(handle Handle) sorting.Projection {
	return s.nodes[handle].projection
}

// mutation collects the side effects of one writer critical section.
type mutation struct {
	events   []Event
	released []Ref
}

func (m *mutation) emit(event Event) {
	m.events = append(m.events, event)
}

// commit publishes events while the writer lock is still held, then unlocks
// and runs release hooks.
func (s *Store) commit(m *mutation) {
	s.events.Publish(m.events...)
	s.mu.Unlock()

	if s.release != nil {
		for _, ref := range m.released {
			s.release(ref)
		}
	}
}
