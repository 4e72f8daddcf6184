package gateway

import (
	"github.com/0glabs/0g-dirview/common/api"
	"github.com/0glabs/0g-dirview/tree"
	"github.com/pkg/errors"
)

var (
	ErrInvalidPath      = api.NewBusinessError(101, "Invalid path")
	ErrNotFound         = api.NewBusinessError(102, "Handle or path not found")
	ErrPermissionDenied = api.NewBusinessError(103, "Permission denied")
	ErrIoFailure        = api.NewBusinessError(104, "I/O failure")
	ErrWatchUnavailable = api.NewBusinessError(105, "Change watching unavailable")
	ErrDiscarded        = api.NewBusinessError(106, "Load superseded")
)

var businessErrors = []struct {
	kind error
	err  *api.BusinessError
}{
	{tree.ErrInvalidPath, ErrInvalidPath},
	{tree.ErrNotFound, ErrNotFound},
	{tree.ErrPermissionDenied, ErrPermissionDenied},
	{tree.ErrIoFailure, ErrIoFailure},
	{tree.ErrWatchUnavailable, ErrWatchUnavailable},
	{tree.ErrDiscarded, ErrDiscarded},
}

// toBusinessError maps index error kinds to business errors carrying the
// error message. Other errors are returned as is.
func toBusinessError(err error) error {
	if err == nil {
		return nil
	}

	for _, v := range businessErrors {
		if errors.Is(err, v.kind) {
			return v.err.WithData(err.Error())
		}
	}

	return err
}
