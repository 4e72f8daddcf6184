package tree

import (
	"sync"
)

// EventType enumerates the incremental changes a rendering layer applies.
type EventType int

const (
	ChildAdded EventType = iota
	ChildRemoved
	ChildMoved
	MetadataChanged
	LoadStateChanged
)

var eventTypeNames = []string{"child_added", "child_removed", "child_moved", "metadata_changed", "load_state_changed"}

func (t EventType) String() string {
	if int(t) < len(eventTypeNames) {
		return eventTypeNames[t]
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler.
func (t EventType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// Event describes one change to the tree. Applying events in Seq order to a
// copy of the children sequences reproduces the store's sequences:
//
//   - ChildAdded: Handle inserted into Parent's children at Position.
//   - ChildRemoved: Handle removed from Parent's children at Position. The
//     handle and its whole subtree are destroyed.
//   - ChildMoved: Handle moved within Parent's children from From to To.
//   - MetadataChanged: metadata of Handle changed in place.
//   - LoadStateChanged: load state of Handle changed.
type Event struct {
	Seq      uint64    `json:"seq"`
	Type     EventType `json:"type"`
	Parent   Handle    `json:"parent,omitempty"`
	Handle   Handle    `json:"handle"`
	Position int       `json:"position"`
	From     int       `json:"from,omitempty"`
	To       int       `json:"to,omitempty"`
	Path     string    `json:"path"`
	State    LoadState `json:"state"`
}

// Broadcaster fans events out to subscribers. Publishing never blocks: every
// subscriber owns an unbounded queue drained by its own goroutine, so a slow
// consumer delays only itself and never loses or reorders events.
type Broadcaster struct {
	mu          sync.Mutex
	seq         uint64
	subscribers map[*Subscription]struct{}
	closed      bool
}

// NewBroadcaster creates a new event broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[*Subscription]struct{}),
	}
}

// Subscribe adds a new subscriber. The caller must Close it when done.
func (b *Broadcaster) Subscribe() *Subscription {
	sub := &Subscription{
		broadcaster: b,
		notify:      make(chan struct{}, 1),
		out:         make(chan Event),
		done:        make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		sub.stop()
		close(sub.out)
		return sub
	}
	b.subscribers[sub] = struct{}{}
	b.mu.Unlock()

	go sub.pump()

	return sub
}

// Publish assigns sequence numbers and enqueues events for every subscriber.
func (b *Broadcaster) Publish(events ...Event) {
	if len(events) == 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for i := range events {
		b.seq++
		events[i].Seq = b.seq
	}

	for sub := range b.subscribers {
		sub.enqueue(events)
	}
}

// Count returns the current number of subscribers.
func (b *Broadcaster) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}

// Close terminates every subscription.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	subs := b.subscribers
	b.subscribers = make(map[*Subscription]struct{})
	b.closed = true
	b.mu.Unlock()

	for sub := range subs {
		sub.stop()
	}
}

func (b *Broadcaster) remove(sub *Subscription) {
	b.mu.Lock()
	delete(b.subscribers, sub)
	b.mu.Unlock()
}

// Subscription is an ordered stream of events.
type Subscription struct {
	broadcaster *Broadcaster

	mu     sync.Mutex
	queue  []Event
	notify chan struct{}

	out      chan Event
	done     chan struct{}
	stopOnce sync.Once
}

// Events returns the channel events are delivered on. It is closed after
// Close or when the broadcaster shuts down.
func (sub *Subscription) Events() <-chan Event {
	return sub.out
}

// Close unsubscribes. Pending undelivered events are dropped.
func (sub *Subscription) Close() {
	sub.broadcaster.remove(sub)
	sub.stop()
}

func (sub *Subscription) stop() {
	sub.stopOnce.Do(func() {
		close(sub.done)
	})
}

func (sub *Subscription) enqueue(events []Event) {
	sub.mu.Lock()
	sub.queue = append(sub.queue, events...)
	sub.mu.Unlock()

	select {
	case sub.notify <- struct{}{}:
	default:
	}
}

func (sub *Subscription) pump() {
	defer close(sub.out)

	for {
		select {
		case <-sub.done:
			return
		case <-sub.notify:
		}

		sub.mu.Lock()
		batch := sub.queue
		sub.queue = nil
		sub.mu.Unlock()

		for _, event := range batch {
			select {
			case sub.out <- event:
			case <-sub.done:
				return
			}
		}
	}
}
