// Package sorting orders the children of a directory. A Comparator projects
// every entry once into a Projection holding its collation key, so repeated
// comparisons never touch the collator and are safe for concurrent use.
package sorting

import (
	"bytes"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// Item is the part of an entry's metadata the comparator looks at.
type Item struct {
	Name      string
	Dir       bool
	Size      int64
	SizeKnown bool
	Type      string // classification tag, used by ByKind
	ModTime   time.Time
}

// Projection is an Item together with its cached collation key.
type Projection struct {
	Item      Item
	collation []byte
}

// Comparator implements a strict total order over the projections of entries
// within one directory.
type Comparator struct {
	order Order

	mu       sync.Mutex // guards collator and buf
	collator *collate.Collator
	buf      collate.Buffer
}

// NewComparator creates a comparator for the given order. Fails only if the
// locale is not a valid BCP 47 tag.
func NewComparator(order Order) (*Comparator, error) {
	tag := language.Und
	if len(order.Locale) > 0 {
		var err error
		if tag, err = language.Parse(order.Locale); err != nil {
			return nil, errors.WithMessagef(err, "invalid sort locale %q", order.Locale)
		}
	}

	// collate.Numeric orders zero valued digit runs after every other
	// number, numeric names are rewritten by naturalKey instead
	var options []collate.Option
	if !order.CaseSensitive {
		options = append(options, collate.IgnoreCase)
	}

	return &Comparator{
		order:    order,
		collator: collate.New(tag, options...),
	}, nil
}

// Order returns the order this comparator implements.
func (c *Comparator) Order() Order {
	return c.order
}

// Project computes the cached comparator projection of an item.
func (c *Comparator) Project(item Item) Projection {
	name := norm.NFC.String(item.Name)
	if c.order.Numeric {
		name = naturalKey(name)
	}

	c.mu.Lock()
	key := c.collator.KeyFromString(&c.buf, name)
	collation := bytes.Clone(key)
	c.buf.Reset()
	c.mu.Unlock()

	return Projection{Item: item, collation: collation}
}

// naturalKey rewrites every run of ASCII digits as its length followed by its
// value without leading zeros. The collator compares digits one by one, so
// the rewritten runs order by numeric value: "a2" < "a10" and "0" < "1".
// Runs of equal value, like "01" and "1", tie and fall back to the raw name.
func naturalKey(name string) string {
	if strings.IndexAny(name, "0123456789") < 0 {
		return name
	}

	var sb strings.Builder
	sb.Grow(len(name) + 8)

	for i := 0; i < len(name); {
		if !isDigit(name[i]) {
			sb.WriteByte(name[i])
			i++
			continue
		}

		j := i
		for j < len(name) && isDigit(name[j]) {
			j++
		}

		run := strings.TrimLeft(name[i:j], "0")
		if run == "" {
			run = "0"
		}

		fmt.Fprintf(&sb, "%03d%s", min(len(run), 999), run)
		i = j
	}

	return sb.String()
}

func isDigit(b byte) bool {
	return '0' <= b && b <= '9'
}

// Reproject returns the projection for an item whose metadata changed. The
// collation key is reused when the name did not change.
func (c *Comparator) Reproject(old Projection, item Item) Projection {
	if old.Item.Name == item.Name && old.collation != nil {
		return Projection{Item: item, collation: old.collation}
	}
	return c.Project(item)
}

// Compare returns a negative number when a sorts before b, positive when
// after. It only returns 0 for entries with identical names.
func (c *Comparator) Compare(a, b Projection) int {
	if c.order.DirsFirst && a.Item.Dir != b.Item.Dir {
		if a.Item.Dir {
			return -1
		}
		return 1
	}

	result := c.primary(a, b)
	if result == 0 {
		result = bytes.Compare(a.collation, b.collation)
	}
	if result == 0 {
		result = strings.Compare(a.Item.Name, b.Item.Name)
	}

	if c.order.Direction == Descending {
		return -result
	}
	return result
}

func (c *Comparator) primary(a, b Projection) int {
	switch c.order.Key {
	case BySize:
		return compareInt64(sizeOf(a.Item), sizeOf(b.Item))
	case ByKind:
		return strings.Compare(a.Item.Type, b.Item.Type)
	case ByModTime:
		return a.Item.ModTime.Compare(b.Item.ModTime)
	default:
		return bytes.Compare(a.collation, b.collation)
	}
}

// unknown sizes sort before empty files
func sizeOf(item Item) int64 {
	if item.Dir || !item.SizeKnown {
		return -1
	}
	return item.Size
}

func compareInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Sort orders seq in place using the projection returned by project.
func Sort[T any](c *Comparator, seq []T, project func(T) Projection) {
	slices.SortFunc(seq, func(a, b T) int {
		return c.Compare(project(a), project(b))
	})
}

// Position returns the index at which v belongs in the ordered seq, found by
// binary search.
func Position[T any](c *Comparator, seq []T, v Projection, project func(T) Projection) int {
	pos, _ := slices.BinarySearchFunc(seq, v, func(elem T, target Projection) int {
		return c.Compare(project(elem), target)
	})
	return pos
}

// Insert places v into the ordered seq without a full re-sort and returns the
// grown sequence and the insertion index.
func Insert[T any](c *Comparator, seq []T, v T, project func(T) Projection) ([]T, int) {
	pos := Position(c, seq, project(v), project)
	return slices.Insert(seq, pos, v), pos
}
