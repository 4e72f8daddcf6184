//go:build !windows

package tree_test

import (
	"fmt"
	"slices"
	"testing"
	"time"

	"github.com/0glabs/0g-dirview/sorting"
	"github.com/0glabs/0g-dirview/tree"
	"github.com/0glabs/0g-dirview/tree/fspath"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var mtime = time.Unix(1700000000, 0)

func file(name string, size int64) tree.Entry {
	return tree.Entry{Name: name, Kind: tree.KindFile, Size: size, SizeKnown: true, ModTime: mtime, Type: "text/plain"}
}

func dir(name string) tree.Entry {
	return tree.Entry{Name: name, Kind: tree.KindDirectory, ModTime: mtime, Type: "inode/directory"}
}

func newStore(t *testing.T, opts ...tree.StoreOption) *tree.Store {
	store, err := tree.NewStore(sorting.DefaultOrder(), opts...)
	require.NoError(t, err)
	t.Cleanup(store.Close)
	return store
}

// load resolves path and marks it loaded with the given entries.
func load(t *testing.T, store *tree.Store, path string, entries ...tree.Entry) tree.Handle {
	handle, err := store.HandleFor(path)
	require.NoError(t, err)

	generation, _, err := store.BeginLoad(handle)
	require.NoError(t, err)
	require.NoError(t, store.MarkLoaded(handle, generation, entries))

	return handle
}

func childNames(t *testing.T, store *tree.Store, handle tree.Handle) []string {
	children, err := store.ChildrenOf(handle)
	require.NoError(t, err)

	var names []string
	for _, child := range children {
		md, err := store.MetadataOf(child)
		require.NoError(t, err)
		names = append(names, md.Name)
	}
	return names
}

func scenario(t *testing.T, store *tree.Store) tree.Handle {
	return load(t, store, "/a", file("b.txt", 10), file("a.txt", 5), dir("c"))
}

func TestHandleForRoundTrip(t *testing.T) {
	store := newStore(t)

	for _, input := range []string{"/", "/a", "/a/b/", "//a//b/./c/..", "/x/../y"} {
		handle, err := store.HandleFor(input)
		require.NoError(t, err)

		path, err := store.PathFor(handle)
		require.NoError(t, err)

		normalized, err := fspath.Normalize(input)
		require.NoError(t, err)
		assert.Equal(t, normalized, path, input)

		again, err := store.HandleFor(path)
		require.NoError(t, err)
		assert.Equal(t, handle, again, input)
	}

	path, err := store.PathFor(store.Root())
	require.NoError(t, err)
	assert.Equal(t, "/", path)

	_, err = store.HandleFor("relative")
	assert.True(t, errors.Is(err, tree.ErrInvalidPath))
}

func TestHandleForCreatesUnloadedAncestors(t *testing.T) {
	store := newStore(t)

	handle, err := store.HandleFor("/a/b/c")
	require.NoError(t, err)

	md, err := store.MetadataOf(handle)
	require.NoError(t, err)
	assert.Equal(t, "c", md.Name)
	assert.Equal(t, tree.KindUnknown, md.Kind)
	assert.Equal(t, tree.Unloaded, md.State)
	assert.True(t, md.Provisional)

	parent, ok := store.Lookup("/a/b")
	require.True(t, ok)
	md, err = store.MetadataOf(parent)
	require.NoError(t, err)
	assert.Equal(t, tree.KindDirectory, md.Kind)
	assert.Equal(t, tree.Unloaded, md.State)

	// resolution never loads anything
	children, err := store.ChildrenOf(parent)
	require.NoError(t, err)
	assert.Empty(t, children)
	assert.Equal(t, 4, store.Len())
}

func TestConcreteScenario(t *testing.T) {
	store := newStore(t)
	handle := scenario(t, store)

	assert.Equal(t, []string{"c", "a.txt", "b.txt"}, childNames(t, store, handle))

	changed, err := store.SetOrder(sorting.DefaultOrder().WithKey(sorting.BySize, sorting.Ascending))
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, []string{"c", "a.txt", "b.txt"}, childNames(t, store, handle))
}

func TestSetOrderResortsAndIsNoopWhenRepeated(t *testing.T) {
	store := newStore(t)
	handle := scenario(t, store)

	order := sorting.DefaultOrder().WithKey(sorting.ByName, sorting.Descending)
	changed, err := store.SetOrder(order)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, []string{"c", "b.txt", "a.txt"}, childNames(t, store, handle))

	sub := store.Subscribe()
	defer sub.Close()

	changed, err = store.SetOrder(order)
	require.NoError(t, err)
	assert.False(t, changed)
	assertNoEvents(t, sub)
}

func TestApplyDeltaIdempotent(t *testing.T) {
	store := newStore(t)
	handle := scenario(t, store)

	delta := tree.Delta{
		Added:   []tree.Entry{file("d.txt", 1), dir("e")},
		Removed: []string{"b.txt", "missing"},
		Updated: []tree.Entry{file("a.txt", 50)},
	}

	require.NoError(t, store.ApplyDelta(handle, delta))
	once := childNames(t, store, handle)
	onceHandles, err := store.ChildrenOf(handle)
	require.NoError(t, err)

	sub := store.Subscribe()
	defer sub.Close()

	require.NoError(t, store.ApplyDelta(handle, delta))
	assert.Equal(t, once, childNames(t, store, handle))
	twiceHandles, err := store.ChildrenOf(handle)
	require.NoError(t, err)
	assert.Equal(t, onceHandles, twiceHandles)
	assertNoEvents(t, sub)

	assert.Equal(t, []string{"c", "e", "a.txt", "d.txt"}, once)
}

func TestUpdateOfAbsentEntryAdds(t *testing.T) {
	store := newStore(t)
	handle := scenario(t, store)

	require.NoError(t, store.ApplyDelta(handle, tree.Delta{Updated: []tree.Entry{file("0.txt", 3)}}))
	assert.Equal(t, []string{"c", "0.txt", "a.txt", "b.txt"}, childNames(t, store, handle))
}

func TestDeltaOnUnloadedDirectoryOnlyRemoves(t *testing.T) {
	store := newStore(t)

	child, err := store.HandleFor("/a/gone")
	require.NoError(t, err)
	parent, ok := store.Lookup("/a")
	require.True(t, ok)

	require.NoError(t, store.ApplyDelta(parent, tree.Delta{Added: []tree.Entry{file("x", 1)}, Removed: []string{"gone"}}))

	_, err = store.MetadataOf(child)
	assert.True(t, errors.Is(err, tree.ErrNotFound))
	children, err := store.ChildrenOf(parent)
	require.NoError(t, err)
	assert.Empty(t, children)
}

func TestReloadPreservesUntouchedHandles(t *testing.T) {
	store := newStore(t)
	handle := scenario(t, store)

	before, err := store.ChildrenOf(handle)
	require.NoError(t, err)
	c, a, b := before[0], before[1], before[2]

	load(t, store, "/a", file("b.txt", 10), dir("c"), file("new.txt", 7))

	after, err := store.ChildrenOf(handle)
	require.NoError(t, err)
	require.Len(t, after, 3)
	assert.Equal(t, c, after[0])
	assert.Equal(t, b, after[1])
	assert.Equal(t, []string{"c", "b.txt", "new.txt"}, childNames(t, store, handle))

	// no resurrection
	_, err = store.MetadataOf(a)
	assert.True(t, errors.Is(err, tree.ErrNotFound))
	_, err = store.PathFor(a)
	assert.True(t, errors.Is(err, tree.ErrNotFound))
	_, err = store.ChildrenOf(a)
	assert.True(t, errors.Is(err, tree.ErrNotFound))

	// handles are never reused
	for _, h := range after {
		assert.NotEqual(t, a, h)
	}
}

func TestProvisionalHandleConfirmedByListing(t *testing.T) {
	store := newStore(t)

	deep, err := store.HandleFor("/a/c")
	require.NoError(t, err)
	unrelated, err := store.HandleFor("/a/zzz")
	require.NoError(t, err)

	sub := store.Subscribe()
	defer sub.Close()

	handle := scenario(t, store)

	children, err := store.ChildrenOf(handle)
	require.NoError(t, err)
	assert.Equal(t, deep, children[0])

	md, err := store.MetadataOf(deep)
	require.NoError(t, err)
	assert.False(t, md.Provisional)
	assert.Equal(t, tree.KindDirectory, md.Kind)

	_, err = store.MetadataOf(unrelated)
	assert.True(t, errors.Is(err, tree.ErrNotFound))

	events := collect(t, sub, 5)
	assert.Equal(t, tree.LoadStateChanged, events[0].Type)
	var added []tree.Handle
	for _, event := range events[1:4] {
		assert.Equal(t, tree.ChildAdded, event.Type)
		added = append(added, event.Handle)
	}
	assert.Contains(t, added, deep)
}

func TestGenerationDiscardsStaleResults(t *testing.T) {
	store := newStore(t)

	handle, err := store.HandleFor("/a")
	require.NoError(t, err)

	first, _, err := store.BeginLoad(handle)
	require.NoError(t, err)
	second, _, err := store.BeginLoad(handle)
	require.NoError(t, err)

	err = store.MarkLoaded(handle, first, []tree.Entry{file("old", 1)})
	assert.True(t, errors.Is(err, tree.ErrDiscarded))

	require.NoError(t, store.MarkLoaded(handle, second, []tree.Entry{file("new", 1)}))
	assert.Equal(t, []string{"new"}, childNames(t, store, handle))

	third, _, err := store.BeginLoad(handle)
	require.NoError(t, err)
	require.NoError(t, store.Unload(handle))
	err = store.MarkLoaded(handle, third, []tree.Entry{file("late", 1)})
	assert.True(t, errors.Is(err, tree.ErrDiscarded))

	md, err := store.MetadataOf(handle)
	require.NoError(t, err)
	assert.Equal(t, tree.Unloaded, md.State)
}

func TestFailLoad(t *testing.T) {
	store := newStore(t)

	handle, err := store.HandleFor("/a")
	require.NoError(t, err)

	generation, _, err := store.BeginLoad(handle)
	require.NoError(t, err)
	cause := tree.NewPathError("enumerate", "/a", nil, errors.New("boom"))
	require.NoError(t, store.FailLoad(handle, generation, cause))

	md, err := store.MetadataOf(handle)
	require.NoError(t, err)
	assert.Equal(t, tree.Unloaded, md.State)
	assert.True(t, errors.Is(md.LoadErr, tree.ErrIoFailure))

	// retry succeeds and clears the error
	load(t, store, "/a", file("x", 1))
	md, err = store.MetadataOf(handle)
	require.NoError(t, err)
	assert.Equal(t, tree.Loaded, md.State)
	assert.Nil(t, md.LoadErr)

	// failed reconcile keeps the cached children
	generation, _, err = store.BeginLoad(handle)
	require.NoError(t, err)
	require.NoError(t, store.FailLoad(handle, generation, cause))
	md, err = store.MetadataOf(handle)
	require.NoError(t, err)
	assert.Equal(t, tree.Stale, md.State)
	assert.Equal(t, []string{"x"}, childNames(t, store, handle))
}

func TestRemoveCascadesAndReleases(t *testing.T) {
	var released []string
	store := newStore(t, tree.WithReleaseHook(func(ref tree.Ref) {
		released = append(released, ref.Path)
	}))

	a := scenario(t, store)
	c := load(t, store, "/a/c", dir("d"), file("e", 1))
	d := load(t, store, "/a/c/d", file("f", 1))

	require.NoError(t, store.ApplyDelta(a, tree.Delta{Removed: []string{"c"}}))

	for _, h := range []tree.Handle{c, d} {
		_, err := store.MetadataOf(h)
		assert.True(t, errors.Is(err, tree.ErrNotFound))
	}
	_, ok := store.Lookup("/a/c/d/f")
	assert.False(t, ok)

	slices.Sort(released)
	assert.Equal(t, []string{"/a/c", "/a/c/d"}, released)
	assert.Equal(t, []string{"a.txt", "b.txt"}, childNames(t, store, a))

	err := store.Remove(store.Root())
	assert.True(t, errors.Is(err, tree.ErrInvalidPath))
}

func TestKindChangeIsNewIdentity(t *testing.T) {
	store := newStore(t)
	handle := scenario(t, store)

	before, ok := store.Lookup("/a/c")
	require.True(t, ok)

	require.NoError(t, store.ApplyDelta(handle, tree.Delta{Updated: []tree.Entry{file("c", 1)}}))

	after, ok := store.Lookup("/a/c")
	require.True(t, ok)
	assert.NotEqual(t, before, after)
	assert.Equal(t, []string{"a.txt", "b.txt", "c"}, childNames(t, store, handle))
}

func TestLargeListingMatchesSort(t *testing.T) {
	store := newStore(t)

	var entries []tree.Entry
	var expected []string
	for i := 99; i >= 0; i-- {
		entries = append(entries, file(fmt.Sprintf("f%03d", i), int64(i)))
		expected = append([]string{fmt.Sprintf("f%03d", i)}, expected...)
	}

	handle := load(t, store, "/big", entries...)
	assert.Equal(t, expected, childNames(t, store, handle))

	// merge a second large batch into the existing sequence
	var more []tree.Entry
	for i := 0; i < 50; i++ {
		more = append(more, file(fmt.Sprintf("f%03dx", i), 1))
	}
	require.NoError(t, store.ApplyDelta(handle, tree.Delta{Added: more}))

	// f000, f000x, f001, f001x, ... f049x, f050, ... f099
	expected = nil
	for i := 0; i < 100; i++ {
		expected = append(expected, fmt.Sprintf("f%03d", i))
		if i < 50 {
			expected = append(expected, fmt.Sprintf("f%03dx", i))
		}
	}
	assert.Equal(t, expected, childNames(t, store, handle))

	// same as sorting everything at once
	comparator, err := sorting.NewComparator(store.Order())
	require.NoError(t, err)
	bulk := append(slices.Clone(entries), more...)
	slices.SortFunc(bulk, func(a, b tree.Entry) int {
		return comparator.Compare(
			comparator.Project(sorting.Item{Name: a.Name, Size: a.Size, SizeKnown: true}),
			comparator.Project(sorting.Item{Name: b.Name, Size: b.Size, SizeKnown: true}),
		)
	})
	var bulkNames []string
	for _, entry := range bulk {
		bulkNames = append(bulkNames, entry.Name)
	}
	assert.Equal(t, bulkNames, expected)
}

func TestEventsReplayToSameSequence(t *testing.T) {
	store := newStore(t)
	sub := store.Subscribe()
	defer sub.Close()

	handle := scenario(t, store)
	require.NoError(t, store.ApplyDelta(handle, tree.Delta{
		Added:   []tree.Entry{file("z", 0), file("0", 100)},
		Removed: []string{"a.txt"},
		Updated: []tree.Entry{file("b.txt", 1)},
	}))
	_, err := store.SetOrder(sorting.DefaultOrder().WithKey(sorting.BySize, sorting.Descending))
	require.NoError(t, err)

	var entries []tree.Entry
	for i := 0; i < 40; i++ {
		entries = append(entries, file(fmt.Sprintf("n%02d", i), int64(i)))
	}
	require.NoError(t, store.ApplyDelta(handle, tree.Delta{Added: entries}))

	expected, err := store.ChildrenOf(handle)
	require.NoError(t, err)

	var mirror []tree.Handle
	var last uint64
	deadline := time.After(5 * time.Second)
	for !slices.Equal(mirror, expected) {
		select {
		case event := <-sub.Events():
			assert.Greater(t, event.Seq, last)
			last = event.Seq
			if event.Parent != handle {
				continue
			}
			switch event.Type {
			case tree.ChildAdded:
				mirror = slices.Insert(mirror, event.Position, event.Handle)
			case tree.ChildRemoved:
				require.Equal(t, event.Handle, mirror[event.Position])
				mirror = slices.Delete(mirror, event.Position, event.Position+1)
			case tree.ChildMoved:
				require.Equal(t, event.Handle, mirror[event.From])
				mirror = slices.Delete(mirror, event.From, event.From+1)
				mirror = slices.Insert(mirror, event.To, event.Handle)
			}
		case <-deadline:
			t.Fatalf("mirror %v never converged to %v", mirror, expected)
		}
	}
}

func TestBroadcasterClose(t *testing.T) {
	broadcaster := tree.NewBroadcaster()
	sub := broadcaster.Subscribe()
	assert.Equal(t, 1, broadcaster.Count())

	broadcaster.Close()
	_, ok := <-sub.Events()
	assert.False(t, ok)
	sub.Close()

	late := broadcaster.Subscribe()
	_, ok = <-late.Events()
	assert.False(t, ok)
	late.Close()
}

func collect(t *testing.T, sub *tree.Subscription, n int) []tree.Event {
	var events []tree.Event
	for len(events) < n {
		select {
		case event := <-sub.Events():
			events = append(events, event)
		case <-time.After(5 * time.Second):
			t.Fatalf("received %d of %d events", len(events), n)
		}
	}
	return events
}

func assertNoEvents(t *testing.T, sub *tree.Subscription) {
	select {
	case event := <-sub.Events():
		t.Fatalf("unexpected event %+v", event)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDeltaDuringLoadIsReplayed(t *testing.T) {
	store := newStore(t)

	handle, err := store.HandleFor("/a")
	require.NoError(t, err)
	generation, _, err := store.BeginLoad(handle)
	require.NoError(t, err)

	// observed by the watcher after the listing was read
	require.NoError(t, store.ApplyDelta(handle, tree.Delta{
		Added:   []tree.Entry{file("late.txt", 1)},
		Removed: []string{"b.txt"},
	}))

	children, err := store.ChildrenOf(handle)
	require.NoError(t, err)
	assert.Empty(t, children)

	md, err := store.MetadataOf(handle)
	require.NoError(t, err)
	assert.Equal(t, tree.KindDirectory, md.Kind)
	assert.Equal(t, tree.Loading, md.State)

	require.NoError(t, store.MarkLoaded(handle, generation, []tree.Entry{file("a.txt", 5), file("b.txt", 10)}))
	assert.Equal(t, []string{"a.txt", "late.txt"}, childNames(t, store, handle))

	// the journal ends with the pass
	require.NoError(t, store.ApplyDelta(handle, tree.Delta{Removed: []string{"late.txt"}}))
	load(t, store, "/a", file("a.txt", 5))
	assert.Equal(t, []string{"a.txt"}, childNames(t, store, handle))
}

func TestProvisionalDirectoryListedAsFile(t *testing.T) {
	var released []string
	store := newStore(t, tree.WithReleaseHook(func(ref tree.Ref) {
		released = append(released, ref.Path)
	}))

	// loaded through its path before the parent was ever listed
	b := load(t, store, "/a/b", file("x", 1), file("y", 2))
	children, err := store.ChildrenOf(b)
	require.NoError(t, err)
	require.Len(t, children, 2)

	a := load(t, store, "/a", file("b", 3))
	assert.Equal(t, []string{"b"}, childNames(t, store, a))

	for _, h := range append([]tree.Handle{b}, children...) {
		_, err := store.MetadataOf(h)
		assert.True(t, errors.Is(err, tree.ErrNotFound))
		_, err = store.ChildrenOf(h)
		assert.True(t, errors.Is(err, tree.ErrNotFound))
	}

	handle, ok := store.Lookup("/a/b")
	require.True(t, ok)
	assert.NotEqual(t, b, handle)

	md, err := store.MetadataOf(handle)
	require.NoError(t, err)
	assert.Equal(t, tree.KindFile, md.Kind)
	assert.Equal(t, tree.Unloaded, md.State)
	assert.False(t, md.Provisional)

	for _, ref := range store.Loaded() {
		assert.NotEqual(t, "/a/b", ref.Path)
	}
	assert.Contains(t, released, "/a/b")

	changed, err := store.SetOrder(sorting.DefaultOrder().WithKey(sorting.BySize, sorting.Descending))
	require.NoError(t, err)
	assert.True(t, changed)
}

func TestProvisionalDirectoryConfirmedKeepsChildren(t *testing.T) {
	store := newStore(t)

	b := load(t, store, "/a/b", file("x", 1))
	a := load(t, store, "/a", dir("b"), file("c", 1))

	children, err := store.ChildrenOf(a)
	require.NoError(t, err)
	assert.Equal(t, []tree.Handle{b}, children[:1])
	assert.Equal(t, []string{"x"}, childNames(t, store, b))
}
