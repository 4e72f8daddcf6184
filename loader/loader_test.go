//go:build !windows

package loader

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/0glabs/0g-dirview/tree"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixture(t *testing.T) string {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "b.txt"), make([]byte, 10), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), make([]byte, 5), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(root, "c"), 0o755))
	require.NoError(t, os.Symlink("c", filepath.Join(root, "link")))
	return root
}

func byName(entries []tree.Entry) map[string]tree.Entry {
	result := make(map[string]tree.Entry, len(entries))
	for _, entry := range entries {
		result[entry.Name] = entry
	}
	return result
}

func TestEnumerate(t *testing.T) {
	root := fixture(t)
	loader := New(nil, nil, Option{BatchSize: 2, Routines: 2, Window: 2})

	entries, err := loader.Enumerate(context.Background(), root)
	require.NoError(t, err)
	require.Len(t, entries, 4)

	named := byName(entries)
	assert.Equal(t, tree.KindFile, named["a.txt"].Kind)
	assert.True(t, named["a.txt"].SizeKnown)
	assert.EqualValues(t, 5, named["a.txt"].Size)
	assert.EqualValues(t, 10, named["b.txt"].Size)
	assert.Equal(t, tree.KindDirectory, named["c"].Kind)
	assert.Equal(t, "inode/directory", named["c"].Type)
	assert.False(t, named["c"].SizeKnown)

	// symlinks are leaves, never followed
	assert.Equal(t, tree.KindSymlink, named["link"].Kind)
	assert.False(t, named["link"].ModTime.IsZero())

	assert.EqualValues(t, 1, loader.Enumerations())
}

func TestEnumerateEmptyDirectory(t *testing.T) {
	loader := New(nil, nil)

	entries, err := loader.Enumerate(context.Background(), t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestEnumerateFailures(t *testing.T) {
	root := fixture(t)
	loader := New(nil, nil)

	_, err := loader.Enumerate(context.Background(), filepath.Join(root, "missing"))
	assert.True(t, errors.Is(err, tree.ErrNotFound))

	_, err = loader.Enumerate(context.Background(), filepath.Join(root, "a.txt"))
	assert.True(t, errors.Is(err, tree.ErrNotFound))

	var pathErr *tree.PathError
	require.True(t, errors.As(err, &pathErr))
	assert.Equal(t, "enumerate", pathErr.Op)
}

func TestEnumerateSharesInFlightScan(t *testing.T) {
	root := fixture(t)
	loader := New(nil, nil)

	started := make(chan struct{})
	release := make(chan struct{})
	loader.scanning = func(string) {
		close(started)
		<-release
	}

	var wg sync.WaitGroup
	results := make([][]tree.Entry, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			entries, err := loader.Enumerate(context.Background(), root)
			assert.NoError(t, err)
			results[i] = entries
		}(i)
	}

	<-started
	// give the second caller time to join the flight
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.EqualValues(t, 1, loader.Enumerations())
	assert.Equal(t, results[0], results[1])
	assert.Len(t, results[0], 4)
}

func TestCallerDeadlineDoesNotAbortScan(t *testing.T) {
	root := fixture(t)
	loader := New(nil, nil)

	release := make(chan struct{})
	loader.scanning = func(string) { <-release }

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := loader.Enumerate(ctx, root)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	done := make(chan []tree.Entry)
	go func() {
		entries, err := loader.Enumerate(context.Background(), root)
		assert.NoError(t, err)
		done <- entries
	}()

	close(release)
	assert.Len(t, <-done, 4)
	assert.EqualValues(t, 1, loader.Enumerations())
}

func TestRescanStartsNewScan(t *testing.T) {
	root := fixture(t)
	loader := New(nil, nil)

	_, err := loader.Enumerate(context.Background(), root)
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(root, "a.txt")))

	entries, err := loader.Rescan(context.Background(), root)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
	assert.EqualValues(t, 2, loader.Enumerations())
}

func TestStat(t *testing.T) {
	root := fixture(t)
	loader := New(nil, nil)

	entry, err := loader.Stat(filepath.Join(root, "b.txt"))
	require.NoError(t, err)
	assert.Equal(t, "b.txt", entry.Name)
	assert.EqualValues(t, 10, entry.Size)

	_, err = loader.Stat(filepath.Join(root, "gone"))
	assert.True(t, errors.Is(err, tree.ErrNotFound))
}

func TestVanishedEntriesAreSkipped(t *testing.T) {
	root := fixture(t)
	loader := New(nil, nil)

	listing, err := os.ReadDir(root)
	require.NoError(t, err)
	require.NoError(t, os.Remove(filepath.Join(root, "b.txt")))

	entries, err := loader.statBatch(context.Background(), root, listing)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
	assert.NotContains(t, byName(entries), "b.txt")
}

func TestPermissionDeniedEntriesAreDegraded(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root bypasses permission checks")
	}

	root := fixture(t)
	locked := filepath.Join(root, "c")
	require.NoError(t, os.WriteFile(filepath.Join(locked, "secret"), nil, 0o644))
	require.NoError(t, os.Chmod(locked, 0o444))
	t.Cleanup(func() { os.Chmod(locked, 0o755) })

	loader := New(nil, nil)
	entries, err := loader.Enumerate(context.Background(), locked)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	assert.Equal(t, "secret", entries[0].Name)
	assert.Equal(t, tree.KindUnknown, entries[0].Kind)
	assert.True(t, errors.Is(entries[0].Err, tree.ErrPermissionDenied))
}

func TestCloseAbortsScan(t *testing.T) {
	root := fixture(t)
	loader := New(nil, nil, Option{BatchSize: 1})

	// closed once the scan is running
	loader.scanning = func(string) { loader.Close() }

	_, err := loader.Enumerate(context.Background(), root)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.True(t, errors.Is(err, tree.ErrIoFailure))

	_, err = loader.Rescan(context.Background(), root)
	assert.True(t, errors.Is(err, context.Canceled))
}
