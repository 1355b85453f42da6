// Package feed provides an in-process change feed: a publish/subscribe
// bus carrying row-level insert/update/delete events for the store's
// collections.
//
// Delivery is at-least-once from the subscriber's point of view and
// unordered across subscriptions. A slow subscriber whose buffer fills
// up is dropped: its channel is closed and it must re-subscribe and
// re-read truth. Consumers therefore must never apply events as
// incremental deltas; the bus is a cue to re-fetch, not a log.
package feed

import (
	"log/slog"
	"sync"
)

// Tables carried by the bus.
const (
	TablePosts     = "posts"
	TableReactions = "reactions"
)

// Kind tags the mutation an event describes.
type Kind string

const (
	KindInsert Kind = "insert"
	KindUpdate Kind = "update"
	KindDelete Kind = "delete"
)

// Event is one row-level change. New carries the row after an insert
// or update, Old the row before an update or delete. Fields holds the
// scope values subscriptions filter on (e.g. "post_id").
type Event struct {
	Table  string            `json:"table"`
	Kind   Kind              `json:"kind"`
	New    interface{}       `json:"new,omitempty"`
	Old    interface{}       `json:"old,omitempty"`
	Fields map[string]string `json:"-"`
}

// Subscription is a live feed handle. Events arrive on C; a closed C
// means the subscription was dropped (slow consumer) or unsubscribed.
type Subscription struct {
	C <-chan Event

	bus    *Bus
	id     uint64
	ch     chan Event
	table  string
	field  string
	value  string
	closed bool // guarded by bus.mu
}

// Unsubscribe releases the handle and closes C. Safe to call more than
// once and concurrently with Publish.
func (s *Subscription) Unsubscribe() {
	s.bus.remove(s.id)
}

// Bus fans change events out to scoped subscribers.
type Bus struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[uint64]*Subscription
	buffer int
}

// NewBus creates a bus whose subscribers each get a buffer of the given
// size before being dropped.
func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = 1
	}
	return &Bus{
		subs:   make(map[uint64]*Subscription),
		buffer: buffer,
	}
}

// Subscribe registers for events on a table, optionally narrowed to
// rows whose scope field equals value. Empty field subscribes to the
// whole table.
func (b *Bus) Subscribe(table, field, value string) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	ch := make(chan Event, b.buffer)
	sub := &Subscription{
		C:     ch,
		bus:   b,
		id:    b.nextID,
		ch:    ch,
		table: table,
		field: field,
		value: value,
	}
	b.subs[sub.id] = sub
	return sub
}

// Publish delivers the event to every matching subscriber. Never
// blocks: a subscriber with a full buffer is dropped instead.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, sub := range b.subs {
		if !sub.matches(ev) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			// Slow consumer: close so it can observe the drop and
			// re-subscribe rather than silently miss events.
			sub.closed = true
			close(sub.ch)
			delete(b.subs, id)
			slog.Warn("Change feed subscriber dropped",
				"table", sub.table, "field", sub.field, "value", sub.value)
		}
	}
}

func (s *Subscription) matches(ev Event) bool {
	if ev.Table != s.table {
		return false
	}
	if s.field == "" {
		return true
	}
	return ev.Fields[s.field] == s.value
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.subs[id]
	if !ok || sub.closed {
		return
	}
	sub.closed = true
	close(sub.ch)
	delete(b.subs, id)
}
