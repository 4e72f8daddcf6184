package tree

import (
	"fmt"
	"strings"
	"time"

	"github.com/0glabs/0g-dirview/sorting"
	"github.com/pkg/errors"
)

// Handle is an opaque, stable identifier of a node. Handles are allocated
// monotonically and never reused, so a handle of a destroyed node fails every
// lookup with ErrNotFound instead of resolving to an unrelated node.
type Handle uint64

// InvalidHandle is never allocated.
const InvalidHandle Handle = 0

func (h Handle) String() string {
	return fmt.Sprintf("#%d", uint64(h))
}

// Kind of a filesystem entry.
type Kind int

const (
	KindUnknown Kind = iota
	KindFile
	KindDirectory
	KindSymlink
	KindRoot
)

var kindNames = []string{"unknown", "file", "directory", "symlink", "root"}

func (kind Kind) String() string {
	if int(kind) < len(kindNames) {
		return kindNames[kind]
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler.
func (kind Kind) MarshalText() ([]byte, error) {
	return []byte(kind.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (kind *Kind) UnmarshalText(text []byte) error {
	for i, name := range kindNames {
		if strings.EqualFold(name, string(text)) {
			*kind = Kind(i)
			return nil
		}
	}
	return errors.Errorf("unknown kind %q", text)
}

// IsDir reports whether entries of this kind can have children.
func (kind Kind) IsDir() bool {
	return kind == KindDirectory || kind == KindRoot
}

// LoadState of a directory node.
type LoadState int

const (
	Unloaded LoadState = iota
	Loading
	Loaded
	Stale
)

var stateNames = []string{"unloaded", "loading", "loaded", "stale"}

func (state LoadState) String() string {
	if int(state) < len(stateNames) {
		return stateNames[state]
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler.
func (state LoadState) MarshalText() ([]byte, error) {
	return []byte(state.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (state *LoadState) UnmarshalText(text []byte) error {
	for i, name := range stateNames {
		if strings.EqualFold(name, string(text)) {
			*state = LoadState(i)
			return nil
		}
	}
	return errors.Errorf("unknown load state %q", text)
}

// HasChildren reports whether a cached children sequence exists.
func (state LoadState) HasChildren() bool {
	return state == Loaded || state == Stale
}

// Entry is one raw directory entry as produced by enumeration or a single
// stat. It is also the payload of a Delta.
type Entry struct {
	Name      string
	Kind      Kind
	Size      int64
	SizeKnown bool
	ModTime   time.Time
	Type      string // classification tag
	Err       error  // set for degraded entries, e.g. permission denied on stat
}

func (e Entry) item() sorting.Item {
	return sorting.Item{
		Name:      e.Name,
		Dir:       e.Kind.IsDir(),
		Size:      e.Size,
		SizeKnown: e.SizeKnown,
		Type:      e.Type,
		ModTime:   e.ModTime,
	}
}

// sameMetadata reports whether applying e to a node holding other would change
// nothing observable.
func (e Entry) sameMetadata(other Entry) bool {
	return e.Kind == other.Kind &&
		e.Size == other.Size &&
		e.SizeKnown == other.SizeKnown &&
		e.ModTime.Equal(other.ModTime) &&
		e.Type == other.Type &&
		errorText(e.Err) == errorText(other.Err)
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// Metadata is a snapshot of a node's cached state.
type Metadata struct {
	Handle      Handle     `json:"handle"`
	Parent      Handle     `json:"parent,omitempty"`
	Path        string     `json:"path"`
	Name        string     `json:"name"`
	Kind        Kind       `json:"kind"`
	Size        *int64     `json:"size,omitempty"`
	ModTime     *time.Time `json:"modTime,omitempty"`
	Type        string     `json:"type,omitempty"`
	State       LoadState  `json:"state"`
	Generation  uint64     `json:"generation"`
	Children    int        `json:"children"`
	Provisional bool       `json:"provisional,omitempty"`
	Degraded    error      `json:"-"`
	LoadErr     error      `json:"-"`
}

// node is the store's record of one filesystem entry. All fields are guarded
// by Store.mu.
type node struct {
	handle Handle
	parent Handle
	path   string
	entry  Entry

	state      LoadState
	loadErr    error
	generation uint64

	// provisional nodes were created by path resolution and are not yet part
	// of their parent's visible children.
	provisional bool

	children   []Handle          // visible, ordered by the active comparator
	named      map[string]Handle // every known child by name, provisional included
	projection sorting.Projection

	// deltas applied while a load pass is in flight, replayed on top of its
	// listing because the listing may predate them
	journaling bool
	journal    []journalOp
}

type journalOp struct {
	remove bool
	name   string
	entry  Entry
}

func (n *node) metadata() Metadata {
	md := Metadata{
		Handle:      n.handle,
		Parent:      n.parent,
		Path:        n.path,
		Name:        n.entry.Name,
		Kind:        n.entry.Kind,
		Type:        n.entry.Type,
		State:       n.state,
		Generation:  n.generation,
		Children:    len(n.children),
		Provisional: n.provisional,
		Degraded:    n.entry.Err,
		LoadErr:     n.loadErr,
	}

	if n.entry.SizeKnown && !n.entry.Kind.IsDir() {
		size := n.entry.Size
		md.Size = &size
	}

	if !n.entry.ModTime.IsZero() {
		modTime := n.entry.ModTime
		md.ModTime = &modTime
	}

	return md
}
