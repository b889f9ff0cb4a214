// Package bus fans domain events out to in-process subscribers.
package bus

import (
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Bus delivers each event to the subscribers whose namespace prefixes its
// Kind. Delivery never blocks: a subscriber with a full buffer misses the
// event and the miss is counted in Dropped. Components that must see every
// event read from their source instead.
//
// The subscriber list is copied on write so Publish takes no lock.
type Bus struct {
	mu      sync.Mutex // serializes writers of subs
	subs    atomic.Pointer[[]*subscriber]
	dropped atomic.Int64
}

type subscriber struct {
	prefix string
	ch     chan Event
}

func New() *Bus {
	return &Bus{}
}

func (b *Bus) list() []*subscriber {
	if p := b.subs.Load(); p != nil {
		return *p
	}
	return nil
}

// Publish delivers evt, stamping it with the current time if Timestamp is
// zero. A nil Bus discards everything.
func (b *Bus) Publish(evt Event) {
	if b == nil {
		return
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	for _, s := range b.list() {
		if !strings.HasPrefix(evt.Kind, s.prefix) {
			continue
		}
		select {
		case s.ch <- evt:
		default:
			b.dropped.Add(1)
		}
	}
}

// Emit publishes kind with payload.
func (b *Bus) Emit(kind string, payload any) {
	b.Publish(Event{Kind: kind, Payload: payload})
}

// Subscribe registers a buffered channel for every Kind starting with
// prefix; "" matches all events. The returned cancel func is idempotent and
// does not close the channel.
func (b *Bus) Subscribe(prefix string, buffer int) (<-chan Event, func()) {
	s := &subscriber{prefix: prefix, ch: make(chan Event, buffer)}
	b.update(func(subs []*subscriber) []*subscriber { return append(subs, s) })

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			b.update(func(subs []*subscriber) []*subscriber {
				return slices.DeleteFunc(subs, func(x *subscriber) bool { return x == s })
			})
		})
	}
}

func (b *Bus) update(fn func([]*subscriber) []*subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	next := fn(slices.Clone(b.list()))
	b.subs.Store(&next)
}

// Len reports the number of live subscriptions.
func (b *Bus) Len() int {
	return len(b.list())
}

// Dropped is the total number of deliveries skipped on full buffers.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}
