package tree

import (
	"fmt"
	"io/fs"
	"syscall"

	"github.com/0glabs/0g-dirview/tree/fspath"
	"github.com/pkg/errors"
)

// Error kinds reported by the index. Test with errors.Is.
var (
	ErrInvalidPath      = fspath.ErrInvalidPath
	ErrNotFound         = errors.New("not found")
	ErrPermissionDenied = errors.New("permission denied")
	ErrIoFailure        = errors.New("io failure")
	ErrWatchUnavailable = errors.New("watch unavailable")

	// ErrDiscarded is returned when a load or reconcile result arrives for a
	// node whose generation advanced in the meantime. The result is dropped.
	ErrDiscarded = errors.New("stale result discarded")

	errNotDirectory = errors.New("not a directory")
	errRootRemoval  = errors.New("root cannot be removed")
)

// PathError records the operation and path that caused a failure together
// with its error kind and the underlying OS error, if any.
type PathError struct {
	Op   string
	Path string
	Kind error
	Err  error
}

// NewPathError creates a PathError. The kind is derived from err when nil.
func NewPathError(op, path string, kind, err error) *PathError {
	if kind == nil {
		kind = KindOf(err)
	}
	return &PathError{Op: op, Path: path, Kind: kind, Err: err}
}

func (e *PathError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%v %v: %v", e.Op, e.Path, e.Kind)
	}
	return fmt.Sprintf("%v %v: %v: %v", e.Op, e.Path, e.Kind, e.Err)
}

// Is matches the error kind.
func (e *PathError) Is(target error) bool {
	return target == e.Kind
}

func (e *PathError) Unwrap() error {
	return e.Err
}

// KindOf maps an OS level error to one of the index error kinds.
func KindOf(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrInvalidPath):
		return ErrInvalidPath
	case errors.Is(err, ErrNotFound), errors.Is(err, fs.ErrNotExist), errors.Is(err, syscall.ENOTDIR):
		return ErrNotFound
	case errors.Is(err, ErrPermissionDenied), errors.Is(err, fs.ErrPermission):
		return ErrPermissionDenied
	case errors.Is(err, ErrWatchUnavailable):
		return ErrWatchUnavailable
	default:
		return ErrIoFailure
	}
}
