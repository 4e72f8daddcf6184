// Package loader enumerates the immediate children of one directory.
//
// Entries are read from the directory in fixed-size batches and every batch
// is stat'ed in parallel, so memory stays bounded by the directory's own size
// and slow storage is hidden behind a small worker pool. At most one
// enumeration per path runs at a time: concurrent callers share its result.
package loader

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync/atomic"
	"time"

	"github.com/0glabs/0g-dirview/classify"
	"github.com/0glabs/0g-dirview/common"
	"github.com/0glabs/0g-dirview/common/parallel"
	"github.com/0glabs/0g-dirview/common/util"
	"github.com/0glabs/0g-dirview/tree"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

const (
	defaultBatchSize      = 256
	defaultReportInterval = 5 * time.Second
)

// Option configures a Loader.
type Option struct {
	Routines       int           `yaml:"routines"`        // parallel stat workers, GOMAXPROCS by default
	Window         int           `yaml:"window"`          // stat results buffered ahead of collection
	BatchSize      int           `yaml:"batch_size"`      // directory entries read at once
	ReportInterval time.Duration `yaml:"report_interval"` // progress log interval for huge directories
}

// Loader is safe for concurrent use.
type Loader struct {
	ctx    context.Context // lifetime of scans, see Close
	cancel context.CancelFunc

	group        singleflight.Group
	classifier   *classify.Classifier
	option       Option
	enumerations atomic.Int64
	logger       *logrus.Logger

	scanning func(path string) // test hook, called when a scan starts
}

// New creates a loader. A nil classifier uses cheap classification only and
// a nil logger discards logs.
func New(classifier *classify.Classifier, logger *logrus.Logger, option ...Option) *Loader {
	var opt Option
	if len(option) > 0 {
		opt = option[0]
	}

	if opt.BatchSize <= 0 {
		opt.BatchSize = defaultBatchSize
	}

	if opt.ReportInterval <= 0 {
		opt.ReportInterval = defaultReportInterval
	}

	if logger == nil {
		logger = common.NewLogger()
	}

	if classifier == nil {
		option := classify.DefaultOption()
		option.Probing = false
		classifier = classify.New(option, logger)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Loader{
		ctx:        ctx,
		cancel:     cancel,
		classifier: classifier,
		option:     opt,
		logger:     logger,
	}
}

// Close aborts the scans in flight. Later enumerations fail at once.
func (l *Loader) Close() {
	l.cancel()
}

// Classifier returns the classifier entries are tagged with.
func (l *Loader) Classifier() *classify.Classifier {
	return l.classifier
}

// Enumerations returns the number of directory scans actually performed.
func (l *Loader) Enumerations() int64 {
	return l.enumerations.Load()
}

// Enumerate lists the immediate children of the directory at path. If an
// enumeration of the same path is in flight, its result is shared instead of
// scanning again.
//
// ctx bounds only the caller's wait: the enumeration itself keeps running and
// completes for the other callers, until the loader is closed.
func (l *Loader) Enumerate(ctx context.Context, path string) ([]tree.Entry, error) {
	ch := l.group.DoChan(path, func() (interface{}, error) {
		return l.enumerate(l.ctx, path)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case result := <-ch:
		if result.Err != nil {
			return nil, result.Err
		}
		// the slice is shared by every caller of the flight
		return slices.Clone(result.Val.([]tree.Entry)), nil
	}
}

// Rescan is like Enumerate but never joins an enumeration that started
// before the call, whose listing may predate a change the caller knows about.
func (l *Loader) Rescan(ctx context.Context, path string) ([]tree.Entry, error) {
	l.group.Forget(path)
	return l.Enumerate(ctx, path)
}

// Stat returns the entry at path without following symlinks. A missing path
// yields ErrNotFound; other failures produce a degraded entry.
func (l *Loader) Stat(path string) (tree.Entry, error) {
	entry, err := l.stat(filepath.Dir(path), filepath.Base(path))
	if err != nil {
		return tree.Entry{}, err
	}
	return entry, nil
}

func (l *Loader) enumerate(ctx context.Context, path string) ([]tree.Entry, error) {
	l.enumerations.Add(1)
	if l.scanning != nil {
		l.scanning(path)
	}

	start := time.Now()
	logger := l.logger.WithField("dir", path)

	dir, err := os.Open(path)
	if err != nil {
		return nil, tree.NewPathError("enumerate", path, nil, err)
	}
	defer dir.Close()

	reminder := util.NewReminder(l.logger, l.option.ReportInterval)

	var entries []tree.Entry
	for {
		if err := ctx.Err(); err != nil {
			return nil, tree.NewPathError("enumerate", path, nil, err)
		}

		batch, err := dir.ReadDir(l.option.BatchSize)

		if len(batch) > 0 {
			stated, statErr := l.statBatch(ctx, path, batch)
			if statErr != nil {
				return nil, statErr
			}
			entries = append(entries, stated...)

			reminder.Remind("Enumerating directory", logrus.Fields{"dir": path, "entries": len(entries)})
		}

		if err == io.EOF {
			break
		}

		if err != nil {
			return nil, tree.NewPathError("enumerate", path, nil, err)
		}
	}

	logger.WithFields(logrus.Fields{
		"entries": len(entries),
		"elapsed": time.Since(start),
	}).Debug("Directory enumerated")

	return entries, nil
}

func (l *Loader) statBatch(ctx context.Context, dir string, batch []fs.DirEntry) ([]tree.Entry, error) {
	stat := &batchStat{
		loader:  l,
		dir:     dir,
		batch:   batch,
		entries: make([]tree.Entry, 0, len(batch)),
	}

	opt := parallel.SerialOption{
		Routines: l.option.Routines,
		Window:   l.option.Window,
	}

	if err := parallel.Serial(ctx, stat, len(batch), opt); err != nil {
		return nil, tree.NewPathError("enumerate", dir, nil, err)
	}

	return stat.entries, nil
}

// stat builds the entry of name in dir. Only a vanished entry is an error.
func (l *Loader) stat(dir, name string) (tree.Entry, error) {
	path := filepath.Join(dir, name)

	info, err := os.Lstat(path)
	if err != nil {
		kind := tree.KindOf(err)
		if kind == tree.ErrNotFound {
			return tree.Entry{}, tree.NewPathError("stat", path, kind, err)
		}

		return tree.Entry{
			Name: name,
			Kind: tree.KindUnknown,
			Type: classify.TagUnknown,
			Err:  tree.NewPathError("stat", path, kind, err),
		}, nil
	}

	return l.entryOf(path, info), nil
}

func (l *Loader) entryOf(path string, info fs.FileInfo) tree.Entry {
	entry := tree.Entry{
		Name:    info.Name(),
		ModTime: info.ModTime(),
	}

	mode := info.Mode()
	switch {
	case mode.IsDir():
		entry.Kind = tree.KindDirectory
	case mode&fs.ModeSymlink != 0:
		entry.Kind = tree.KindSymlink
	default:
		// devices, sockets and pipes are listed as opaque files
		entry.Kind = tree.KindFile
		if mode.IsRegular() {
			entry.Size = info.Size()
			entry.SizeKnown = true
		}
	}

	entry.Type = l.classifier.Classify(path, entry.Kind, entry.Size, entry.ModTime)

	return entry
}

// batchStat stats one batch of directory entries in parallel and collects
// them in directory order.
type batchStat struct {
	loader  *Loader
	dir     string
	batch   []fs.DirEntry
	entries []tree.Entry
}

func (b *batchStat) ParallelDo(ctx context.Context, routine, task int) (interface{}, error) {
	entry, err := b.loader.stat(b.dir, b.batch[task].Name())
	if err != nil {
		// vanished since it was read
		return nil, nil
	}
	return &entry, nil
}

func (b *batchStat) ParallelCollect(result *parallel.Result) error {
	if entry, ok := result.Value.(*tree.Entry); ok {
		b.entries = append(b.entries, *entry)
	}
	return nil
}
