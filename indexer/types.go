package indexer

import (
	"context"

	"github.com/0glabs/0g-dirview/sorting"
	"github.com/0glabs/0g-dirview/tree"
)

// Result of a children query. It never waits for disk I/O: when the
// directory is being loaded, Pending is set and Done is closed once the load
// completed, after which the query can be repeated.
type Result struct {
	Handles []tree.Handle   `json:"handles"`
	State   tree.LoadState  `json:"state"`
	Pending bool            `json:"pending"`
	Done    <-chan struct{} `json:"-"`
	Err     error           `json:"-"` // failure of the last load, if any
}

// Stats of an Index.
type Stats struct {
	Nodes        int   `json:"nodes"`
	Loaded       int   `json:"loaded"`
	Watched      int   `json:"watched"`
	Enumerations int64 `json:"enumerations"`
	Probes       int64 `json:"probes"`
	Watching     bool  `json:"watching"`
}

// Interface is the query and subscription surface a rendering layer consumes.
type Interface interface {
	Root() tree.Handle
	Children(handle tree.Handle, ensureLoaded bool) (Result, error)
	Wait(ctx context.Context, handle tree.Handle) ([]tree.Handle, error)
	Metadata(handle tree.Handle) (tree.Metadata, error)
	Resolve(path string) (tree.Handle, error)
	PathFor(handle tree.Handle) (string, error)
	SetSort(key sorting.Key, direction sorting.Direction) (bool, error)
	Configure(config Config) error
	Reload(handle tree.Handle) (Result, error)
	Unload(handle tree.Handle) error
	Subscribe() *tree.Subscription
	Stats() Stats
}
