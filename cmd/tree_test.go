package cmd

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/0glabs/0g-dirview/indexer"
	"github.com/0glabs/0g-dirview/tree/fspath"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestIndex(t *testing.T) (*indexer.Index, string) {
	dir, err := fspath.Abs(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "inner"), []byte("abc"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b"), []byte("bb"), 0o644))

	config := indexer.DefaultConfig()
	config.DisableChangeWatching = true
	config.DisableCustomIconClassification = true
	config.StartPath = dir

	index, err := indexer.New(config)
	require.NoError(t, err)
	t.Cleanup(index.Close)

	return index, dir
}

func TestPrintTree(t *testing.T) {
	index, dir := newTestIndex(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var out strings.Builder
	printer := treePrinter{index: index, out: &out}
	require.NoError(t, printer.print(ctx, index.Start()))

	expected := dir + "\n" +
		"├── sub/\n" +
		"│   └── inner  (3 B, application/octet-stream)\n" +
		"├── a  (1 B, application/octet-stream)\n" +
		"└── b  (2 B, application/octet-stream)\n"
	assert.Equal(t, expected, out.String())
}

func TestPrintTreeDepth(t *testing.T) {
	index, dir := newTestIndex(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var out strings.Builder
	printer := treePrinter{index: index, out: &out, depth: 1}
	require.NoError(t, printer.print(ctx, index.Start()))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	assert.Equal(t, []string{
		dir,
		"├── sub/",
		"├── a  (1 B, application/octet-stream)",
		"└── b  (2 B, application/octet-stream)",
	}, lines)
}
