// Package fspath normalizes filesystem paths into the canonical form used to
// address nodes of the tree index. Normalization is purely lexical: symbolic
// links are never resolved and the filesystem is never touched.
package fspath

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// ErrInvalidPath is returned for malformed input paths.
var ErrInvalidPath = errors.New("invalid path")

const sep = string(filepath.Separator)

// Root is the normalized path of the synthetic root node.
const Root = sep

// Normalize returns the canonical form of an absolute path: native separators,
// no redundant or trailing separators, and "." / ".." segments resolved
// lexically. A ".." at the root stays at the root.
func Normalize(path string) (string, error) {
	if len(path) == 0 {
		return "", errors.WithMessage(ErrInvalidPath, "empty path")
	}

	if strings.IndexByte(path, 0) >= 0 {
		return "", errors.WithMessagef(ErrInvalidPath, "NUL byte in %q", path)
	}

	native := filepath.FromSlash(path)
	if !filepath.IsAbs(native) {
		return "", errors.WithMessagef(ErrInvalidPath, "path %q is not absolute", path)
	}

	return filepath.Clean(native), nil
}

// Segments splits a normalized path into the names leading from the root to
// the addressed entry. The root itself has no segments. On systems with volume
// names the volume is the first segment.
func Segments(path string) []string {
	volume := filepath.VolumeName(path)
	rest := strings.Trim(path[len(volume):], sep)

	var parts []string
	if len(volume) > 0 {
		parts = append(parts, volume)
	}

	if len(rest) == 0 {
		return parts
	}

	return append(parts, strings.Split(rest, sep)...)
}

// Join appends a single entry name to a normalized parent path.
func Join(parent, name string) string {
	if parent == Root {
		if len(filepath.VolumeName(name)) > 0 {
			return name + sep
		}
		return sep + name
	}

	if strings.HasSuffix(parent, sep) {
		return parent + name
	}

	return parent + sep + name
}

// Abs makes a user supplied path absolute relative to the working directory
// and normalizes it. Only the command line shell uses this; the index itself
// rejects relative paths.
func Abs(path string) (string, error) {
	if len(path) == 0 {
		wd, err := os.Getwd()
		if err != nil {
			return "", errors.WithMessage(err, "failed to get working directory")
		}
		path = wd
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", errors.WithMessagef(ErrInvalidPath, "%v", err)
	}

	return Normalize(abs)
}
