package tree

import (
	"slices"

	"github.com/0glabs/0g-dirview/sorting"
)

// SetOrder switches the active comparator and immediately re-sorts the
// children of every loaded directory, emitting ChildMoved events for entries
// whose position changed. Setting the active order again changes nothing and
// returns false.
func (s *Store) SetOrder(order sorting.Order) (bool, error) {
	comparator, err := sorting.NewComparator(order)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	var m mutation
	defer s.commit(&m)

	previous := s.comparator.Order()
	if previous == order {
		return false, nil
	}

	s.comparator = comparator

	if !previous.SameCollation(order) {
		for _, n := range s.nodes {
			n.projection = comparator.Project(n.projection.Item)
		}
	}

	for _, n := range s.nodes {
		if len(n.children) > 1 {
			s.resort(n, &m)
		}
	}

	s.logger.WithField("order", order).Debug("Sort order changed")

	return true, nil
}

// resort orders n's children under the active comparator and emits a
// sequence of single moves that transforms the old order into the new one.
func (s *Store) resort(n *node, m *mutation) {
	sorted := slices.Clone(n.children)
	sorting.Sort(s.comparator, sorted, s.projectionOf)

	current := slices.Clone(n.children)
	for i, handle := range sorted {
		if current[i] == handle {
			continue
		}

		from := i + slices.Index(current[i:], handle)
		current = slices.Delete(current, from, from+1)
		current = slices.Insert(current, i, handle)

		m.emit(Event{Type: ChildMoved, Parent: n.handle, Handle: handle, From: from, To: i, Position: i, Path: s.nodes[handle].path})
	}

	n.children = sorted
}
