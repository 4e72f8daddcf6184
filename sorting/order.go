package sorting

import (
	"strings"

	"github.com/pkg/errors"
)

// Key selects the attribute children are ordered by.
type Key int

const (
	ByName Key = iota
	BySize
	ByKind
	ByModTime
)

var keyNames = map[Key]string{
	ByName:    "name",
	BySize:    "size",
	ByKind:    "kind",
	ByModTime: "mtime",
}

func (key Key) String() string {
	if name, ok := keyNames[key]; ok {
		return name
	}
	return "unknown"
}

// ParseKey parses a sort key from its name, case insensitive.
func ParseKey(s string) (Key, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for key, name := range keyNames {
		if name == s {
			return key, nil
		}
	}

	switch s {
	case "type":
		return ByKind, nil
	case "modified", "time":
		return ByModTime, nil
	}

	return ByName, errors.Errorf("unknown sort key %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (key Key) MarshalText() ([]byte, error) {
	return []byte(key.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (key *Key) UnmarshalText(text []byte) (err error) {
	*key, err = ParseKey(string(text))
	return err
}

// Direction of the ordering.
type Direction int

const (
	Ascending Direction = iota
	Descending
)

func (dir Direction) String() string {
	if dir == Descending {
		return "desc"
	}
	return "asc"
}

// ParseDirection accepts "asc"/"ascending" and "desc"/"descending".
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "asc", "ascending":
		return Ascending, nil
	case "desc", "descending":
		return Descending, nil
	default:
		return Ascending, errors.Errorf("unknown sort direction %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (dir Direction) MarshalText() ([]byte, error) {
	return []byte(dir.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (dir *Direction) UnmarshalText(text []byte) (err error) {
	*dir, err = ParseDirection(string(text))
	return err
}

// Order is the complete description of a comparator. Two equal orders always
// produce identical sequences.
type Order struct {
	Key           Key       `yaml:"key" json:"key"`
	Direction     Direction `yaml:"direction" json:"direction"`
	CaseSensitive bool      `yaml:"case_sensitive" json:"caseSensitive"`
	DirsFirst     bool      `yaml:"dirs_first" json:"dirsFirst"`
	Numeric       bool      `yaml:"numeric" json:"numeric"` // "file2" before "file10"
	Locale        string    `yaml:"locale" json:"locale"`   // BCP 47 tag, empty for root collation
}

// DefaultOrder is name ascending, directories first, case insensitive.
func DefaultOrder() Order {
	return Order{
		Key:       ByName,
		Direction: Ascending,
		DirsFirst: true,
		Numeric:   true,
	}
}

// WithKey returns a copy of the order with key and direction replaced.
func (order Order) WithKey(key Key, dir Direction) Order {
	order.Key = key
	order.Direction = dir
	return order
}

// SameCollation reports whether both orders project names identically, i.e.
// whether cached projections can be reused after switching between them.
func (order Order) SameCollation(other Order) bool {
	return order.CaseSensitive == other.CaseSensitive &&
		order.Numeric == other.Numeric &&
		order.Locale == other.Locale
}
