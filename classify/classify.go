// Package classify produces the type tag attached to every entry, which a
// presentation layer maps to an icon.
//
// Cheap classification only looks at the entry kind and the file extension.
// Content probing sniffs the first bytes of regular files, which is more
// accurate but costs one open and read per file, so results are cached by
// path, size and modification time.
package classify

import (
	"mime"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/0glabs/0g-dirview/common"
	"github.com/0glabs/0g-dirview/tree"
	"github.com/gabriel-vasile/mimetype"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"
)

// Tags of entries that are not classified by content or extension.
const (
	TagDirectory = "inode/directory"
	TagSymlink   = "inode/symlink"
	TagUnknown   = "application/octet-stream"
)

// Option configures a Classifier.
type Option struct {
	Probing   bool          `yaml:"probing"`
	CacheSize int           `yaml:"cache_size"`
	CacheTTL  time.Duration `yaml:"cache_ttl"`
}

// DefaultOption probes content with a bounded cache.
func DefaultOption() Option {
	return Option{
		Probing:   true,
		CacheSize: 4096,
		CacheTTL:  10 * time.Minute,
	}
}

type cacheKey struct {
	path    string
	size    int64
	modTime int64
}

// Classifier is safe for concurrent use.
type Classifier struct {
	probing atomic.Bool
	cache   *expirable.LRU[cacheKey, string]
	probes  atomic.Int64
	logger  *logrus.Logger
}

// New creates a classifier. A nil logger discards logs.
func New(option Option, logger *logrus.Logger) *Classifier {
	if option.CacheSize <= 0 {
		option.CacheSize = DefaultOption().CacheSize
	}

	if logger == nil {
		logger = common.NewLogger()
	}

	c := &Classifier{
		cache:  expirable.NewLRU[cacheKey, string](option.CacheSize, nil, option.CacheTTL),
		logger: logger,
	}
	c.probing.Store(option.Probing)

	return c
}

// SetProbing turns content probing on or off for subsequent classifications.
// Entries already classified keep their tag until they are listed again.
func (c *Classifier) SetProbing(enabled bool) {
	c.probing.Store(enabled)
}

// Probing reports whether content probing is enabled.
func (c *Classifier) Probing() bool {
	return c.probing.Load()
}

// Probes returns the number of files whose content was actually read.
func (c *Classifier) Probes() int64 {
	return c.probes.Load()
}

// Classify returns the type tag of the entry at path.
func (c *Classifier) Classify(path string, kind tree.Kind, size int64, modTime time.Time) string {
	switch kind {
	case tree.KindDirectory, tree.KindRoot:
		return TagDirectory
	case tree.KindSymlink:
		return TagSymlink
	case tree.KindUnknown:
		return TagUnknown
	}

	if !c.probing.Load() || size == 0 {
		return ByExtension(path)
	}

	key := cacheKey{path, size, modTime.UnixNano()}
	if tag, ok := c.cache.Get(key); ok {
		return tag
	}

	c.probes.Add(1)

	detected, err := mimetype.DetectFile(path)
	if err != nil {
		// vanished or unreadable, fall back without caching
		c.logger.WithError(err).WithField("path", path).Debug("Failed to probe file content")
		return ByExtension(path)
	}

	tag := stripParams(detected.String())
	c.cache.Add(key, tag)

	return tag
}

// ByExtension classifies a file by its extension only.
func ByExtension(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == "" {
		return TagUnknown
	}

	if tag := mime.TypeByExtension(ext); tag != "" {
		return stripParams(tag)
	}

	return TagUnknown
}

func stripParams(tag string) string {
	tag, _, _ = strings.Cut(tag, ";")
	return strings.TrimSpace(tag)
}
