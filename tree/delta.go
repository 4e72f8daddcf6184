package tree

import (
	"os"
	"slices"
	"sort"
	"strings"

	"github.com/0glabs/0g-dirview/sorting"
	"github.com/0glabs/0g-dirview/tree/fspath"
)

// Batches of added entries larger than this are merged into the children
// sequence in one pass instead of inserted one at a time.
const mergeThreshold = 16

// Delta is a set of changes to the immediate children of one directory,
// applied atomically.
type Delta struct {
	Added   []Entry
	Removed []string
	Updated []Entry
}

// Empty reports whether the delta changes nothing.
func (d Delta) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Updated) == 0
}

// ApplyDelta applies incremental changes to a directory's children. It is
// idempotent: adding a present entry with identical metadata and removing an
// absent one are no-ops, adding a present entry with different metadata
// updates it and updating an absent entry adds it.
//
// Additions and updates are only applied to directories with cached children;
// an unloaded directory picks them up from its next listing. Removals always
// apply so that provisional handles of vanished paths are destroyed. While a
// load pass is in flight the delta is also journaled and replayed on top of
// the pass's listing.
func (s *Store) ApplyDelta(parent Handle, delta Delta) error {
	s.mu.Lock()
	var m mutation
	defer s.commit(&m)

	n, ok := s.nodes[parent]
	if !ok {
		return NewPathError("delta", parent.String(), ErrNotFound, nil)
	}

	if !n.entry.Kind.IsDir() && !n.journaling {
		return NewPathError("delta", n.path, ErrNotFound, errNotDirectory)
	}

	for _, name := range delta.Removed {
		s.removeChild(n, name, &m)
	}

	if n.journaling {
		for _, name := range delta.Removed {
			n.journal = append(n.journal, journalOp{remove: true, name: name})
		}
		for _, entry := range delta.Updated {
			n.journal = append(n.journal, journalOp{name: entry.Name, entry: entry})
		}
		for _, entry := range delta.Added {
			n.journal = append(n.journal, journalOp{name: entry.Name, entry: entry})
		}
	}

	if !n.state.HasChildren() {
		return nil
	}

	upserts := make([]Entry, 0, len(delta.Added)+len(delta.Updated))
	upserts = append(upserts, delta.Updated...)
	upserts = append(upserts, delta.Added...)
	s.upsert(n, upserts, &m)

	return nil
}

// MarkLoaded reconciles a directory with a complete listing of its children
// and marks it Loaded. Children missing from the listing are destroyed,
// unchanged children keep their handles. Deltas applied since BeginLoad are
// replayed on top of the listing. The listing is dropped with
// ErrDiscarded if the node's generation advanced since BeginLoad.
func (s *Store) MarkLoaded(handle Handle, generation uint64, entries []Entry) error {
	s.mu.Lock()
	var m mutation
	defer s.commit(&m)

	n, ok := s.nodes[handle]
	if !ok {
		return NewPathError("load", handle.String(), ErrNotFound, nil)
	}

	if n.generation != generation {
		return NewPathError("load", n.path, ErrDiscarded, nil)
	}

	if n.provisional && n.entry.Kind == KindUnknown {
		n.entry.Kind = KindDirectory
		n.projection = s.comparator.Reproject(n.projection, n.entry.item())
	}

	if !n.entry.Kind.IsDir() {
		return NewPathError("load", n.path, ErrNotFound, errNotDirectory)
	}

	present := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		present[entry.Name] = struct{}{}
	}

	var vanished []string
	for name := range n.named {
		if _, ok := present[name]; !ok {
			vanished = append(vanished, name)
		}
	}
	sort.Strings(vanished)

	for _, name := range vanished {
		s.removeChild(n, name, &m)
	}

	s.upsert(n, entries, &m)
	s.replay(n, &m)

	if n.state != Loaded || n.loadErr != nil {
		n.state = Loaded
		n.loadErr = nil
		m.emit(Event{Type: LoadStateChanged, Parent: n.parent, Handle: n.handle, Path: n.path, State: n.state})
	}

	return nil
}

// replay applies the deltas journaled during the pass that just completed.
func (s *Store) replay(n *node, m *mutation) {
	for _, op := range n.journal {
		if op.remove {
			s.removeChild(n, op.name, m)
		} else {
			s.upsert(n, []Entry{op.entry}, m)
		}
	}

	n.journal = nil
	n.journaling = false
}

// Remove destroys a node and its whole subtree.
func (s *Store) Remove(handle Handle) error {
	s.mu.Lock()
	var m mutation
	defer s.commit(&m)

	n, ok := s.nodes[handle]
	if !ok {
		return NewPathError("remove", handle.String(), ErrNotFound, nil)
	}

	if handle == s.root {
		return NewPathError("remove", n.path, ErrInvalidPath, errRootRemoval)
	}

	s.removeChild(s.nodes[n.parent], n.entry.Name, &m)

	return nil
}

// removeChild detaches the named child from n and destroys its subtree.
func (s *Store) removeChild(n *node, name string, m *mutation) {
	handle, ok := n.named[name]
	if !ok {
		return
	}

	child := s.nodes[handle]
	if !child.provisional {
		if pos, found := s.indexOf(n, child); found {
			n.children = slices.Delete(n.children, pos, pos+1)
			m.emit(Event{Type: ChildRemoved, Parent: n.handle, Handle: handle, Position: pos, Path: child.path})
		}
	}

	delete(n.named, name)
	s.destroy(child, m)
}

// destroy drops a detached node and all its descendants from the store.
func (s *Store) destroy(n *node, m *mutation) {
	for _, child := range n.named {
		s.destroy(s.nodes[child], m)
	}

	if n.state != Unloaded {
		m.released = append(m.released, Ref{n.handle, n.path})
	}

	n.generation++
	n.children = nil
	n.named = nil
	n.journal = nil

	delete(s.nodes, n.handle)
	delete(s.paths, n.path)
}

// upsert adds or updates entries of a directory with cached children.
func (s *Store) upsert(n *node, entries []Entry, m *mutation) {
	var added []Handle

	for _, entry := range dedupe(entries) {
		if !validName(entry.Name) {
			s.logger.WithField("dir", n.path).WithField("name", entry.Name).Debug("Ignore entry with invalid name")
			continue
		}

		handle, ok := n.named[entry.Name]
		if !ok {
			added = append(added, s.allocateConfirmed(n, entry))
			continue
		}

		child := s.nodes[handle]

		// a provisional node keeps its handle unless it was loaded as a
		// directory and turns out not to be one
		if child.provisional && (child.entry.Kind == KindUnknown || child.entry.Kind.IsDir() == entry.Kind.IsDir()) {
			s.confirm(child, entry, m)
			added = append(added, handle)
			continue
		}

		if child.entry.Kind != entry.Kind && (child.entry.Kind.IsDir() || entry.Kind.IsDir()) {
			// replaced by an entry of a different nature, which is a new identity
			s.removeChild(n, entry.Name, m)
			added = append(added, s.allocateConfirmed(n, entry))
			continue
		}

		if child.entry.sameMetadata(entry) {
			continue
		}

		s.update(n, child, entry, m)
	}

	s.insert(n, added, m)
}

func (s *Store) allocateConfirmed(parent *node, entry Entry) Handle {
	handle := s.allocate(parent, fspath.Join(parent.path, entry.Name), entry)
	s.nodes[handle].provisional = false
	return handle
}

// confirm turns a provisional node into a listed one.
func (s *Store) confirm(n *node, entry Entry, m *mutation) {
	if !entry.Kind.IsDir() {
		// provisional descendants cannot exist below a non-directory
		for name := range n.named {
			handle := n.named[name]
			delete(n.named, name)
			s.destroy(s.nodes[handle], m)
		}
	}

	entry.Name = n.entry.Name
	n.entry = entry
	n.provisional = false
	n.projection = s.comparator.Reproject(n.projection, entry.item())
}

// update changes the metadata of a visible child and moves it to its new
// position if the sort key changed.
func (s *Store) update(n, child *node, entry Entry, m *mutation) {
	from, found := s.indexOf(n, child)

	entry.Name = child.entry.Name
	child.entry = entry
	child.projection = s.comparator.Reproject(child.projection, entry.item())

	if found {
		n.children = slices.Delete(n.children, from, from+1)

		var to int
		n.children, to = sorting.Insert(s.comparator, n.children, child.handle, s.projectionOf)
		if from != to {
			m.emit(Event{Type: ChildMoved, Parent: n.handle, Handle: child.handle, From: from, To: to, Position: to, Path: child.path})
		}
	}

	m.emit(Event{Type: MetadataChanged, Parent: n.handle, Handle: child.handle, Path: child.path, State: child.state})
}

// insert adds newly visible children to n, one binary insertion each for small
// batches and one merge pass for large ones. ChildAdded events are emitted in
// ascending final position so that replaying them yields the same sequence.
func (s *Store) insert(n *node, added []Handle, m *mutation) {
	if len(added) == 0 {
		return
	}

	if len(added) <= mergeThreshold {
		for _, handle := range added {
			var pos int
			n.children, pos = sorting.Insert(s.comparator, n.children, handle, s.projectionOf)
			m.emit(s.addedEvent(n, handle, pos))
		}
		return
	}

	sorting.Sort(s.comparator, added, s.projectionOf)

	merged := make([]Handle, 0, len(n.children)+len(added))
	i, j := 0, 0
	for i < len(n.children) || j < len(added) {
		if j < len(added) && (i >= len(n.children) || s.comparator.Compare(s.projectionOf(added[j]), s.projectionOf(n.children[i])) < 0) {
			m.emit(s.addedEvent(n, added[j], len(merged)))
			merged = append(merged, added[j])
			j++
		} else {
			merged = append(merged, n.children[i])
			i++
		}
	}

	n.children = merged
}

func (s *Store) addedEvent(parent *node, handle Handle, pos int) Event {
	child := s.nodes[handle]
	return Event{Type: ChildAdded, Parent: parent.handle, Handle: handle, Position: pos, Path: child.path, State: child.state}
}

// indexOf locates a visible child by binary search on its current projection.
func (s *Store) indexOf(n *node, child *node) (int, bool) {
	pos, found := slices.BinarySearchFunc(n.children, child.projection, func(elem Handle, target sorting.Projection) int {
		return s.comparator.Compare(s.projectionOf(elem), target)
	})
	if found && n.children[pos] == child.handle {
		return pos, true
	}

	pos = slices.Index(n.children, child.handle)
	return pos, pos >= 0
}

// dedupe keeps the last entry for every name, preserving first-seen order.
func dedupe(entries []Entry) []Entry {
	index := make(map[string]int, len(entries))
	result := make([]Entry, 0, len(entries))

	for _, entry := range entries {
		if i, ok := index[entry.Name]; ok {
			result[i] = entry
			continue
		}
		index[entry.Name] = len(result)
		result = append(result, entry)
	}

	return result
}

func validName(name string) bool {
	return len(name) > 0 && name != "." && name != ".." &&
		!strings.ContainsRune(name, '/') && !strings.ContainsRune(name, os.PathSeparator)
}
