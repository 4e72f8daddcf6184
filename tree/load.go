package tree

import (
	"sort"
)

// BeginLoad starts a load or reconcile pass of a directory. It advances the
// node's generation, so any older pass still in flight will be discarded, and
// returns the generation the new pass must present to MarkLoaded or FailLoad.
// An Unloaded directory moves to Loading; a directory with cached children
// keeps serving them while the pass runs.
func (s *Store) BeginLoad(handle Handle) (uint64, string, error) {
	s.mu.Lock()
	var m mutation
	defer s.commit(&m)

	n, ok := s.nodes[handle]
	if !ok {
		return 0, "", NewPathError("load", handle.String(), ErrNotFound, nil)
	}

	if !n.entry.Kind.IsDir() && n.entry.Kind != KindUnknown {
		return 0, n.path, NewPathError("load", n.path, ErrNotFound, errNotDirectory)
	}

	// only a directory can be listed, and deltas observed during the pass
	// must be accepted for it
	if n.provisional && n.entry.Kind == KindUnknown {
		n.entry.Kind = KindDirectory
		n.projection = s.comparator.Reproject(n.projection, n.entry.item())
	}

	n.generation++
	n.journaling = true
	n.journal = nil

	if n.state == Unloaded {
		n.state = Loading
		m.emit(Event{Type: LoadStateChanged, Parent: n.parent, Handle: n.handle, Path: n.path, State: n.state})
	}

	return n.generation, n.path, nil
}

// FailLoad records a failed load or reconcile pass. A directory that was
// Loading goes back to Unloaded with the error attached so that a retry is
// explicit; a directory with cached children keeps them and becomes Stale.
func (s *Store) FailLoad(handle Handle, generation uint64, cause error) error {
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

	n.loadErr = cause
	n.journaling = false
	n.journal = nil

	switch n.state {
	case Loading:
		n.state = Unloaded
	case Loaded:
		n.state = Stale
	}

	m.emit(Event{Type: LoadStateChanged, Parent: n.parent, Handle: n.handle, Path: n.path, State: n.state})

	return nil
}

// MarkStale flags a Loaded directory whose cached children are suspected to be
// out of date. It returns false if the directory has no cached children.
func (s *Store) MarkStale(handle Handle) (bool, error) {
	s.mu.Lock()
	var m mutation
	defer s.commit(&m)

	n, ok := s.nodes[handle]
	if !ok {
		return false, NewPathError("stale", handle.String(), ErrNotFound, nil)
	}

	switch n.state {
	case Loaded:
		n.state = Stale
		m.emit(Event{Type: LoadStateChanged, Parent: n.parent, Handle: n.handle, Path: n.path, State: n.state})
		return true, nil
	case Stale:
		return true, nil
	default:
		return false, nil
	}
}

// Unload drops the cached children of a directory, destroying their handles,
// and returns it to Unloaded. In-flight passes are discarded.
func (s *Store) Unload(handle Handle) error {
	s.mu.Lock()
	var m mutation
	defer s.commit(&m)

	n, ok := s.nodes[handle]
	if !ok {
		return NewPathError("unload", handle.String(), ErrNotFound, nil)
	}

	names := make([]string, 0, len(n.named))
	for name := range n.named {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		s.removeChild(n, name, &m)
	}

	n.generation++
	n.loadErr = nil
	n.journaling = false
	n.journal = nil

	if n.state != Unloaded {
		m.released = append(m.released, Ref{n.handle, n.path})
		n.state = Unloaded
		m.emit(Event{Type: LoadStateChanged, Parent: n.parent, Handle: n.handle, Path: n.path, State: n.state})
	}

	return nil
}
