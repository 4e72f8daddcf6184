package watcher

import (
	"github.com/fsnotify/fsnotify"
)

// Backend delivers OS change notifications for a set of watched paths.
type Backend interface {
	Add(path string) error
	Remove(path string) error
	Events() <-chan fsnotify.Event
	Errors() <-chan error
	Close() error
}

// NewBackend creates a backend on the platform notification facility.
func NewBackend() (Backend, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &fsnotifyBackend{w}, nil
}

type fsnotifyBackend struct {
	w *fsnotify.Watcher
}

func (b *fsnotifyBackend) Add(path string) error         { return b.w.Add(path) }
func (b *fsnotifyBackend) Remove(path string) error      { return b.w.Remove(path) }
func (b *fsnotifyBackend) Events() <-chan fsnotify.Event { return b.w.Events }
func (b *fsnotifyBackend) Errors() <-chan error          { return b.w.Errors }
func (b *fsnotifyBackend) Close() error                  { return b.w.Close() }
