package events

import (
	"log/slog"
	"sync"
)

// Handler consumes published events. Handlers run synchronously on the
// publishing goroutine, in subscription order. A handler that needs to
// block (socket writes, outbound HTTP) must hand off to its own
// goroutine or channel.
type Handler func(Event)

type subscriber struct {
	id      int64
	handler Handler
}

// Bus is the process-local pub/sub fabric. The subscriber list is safe
// under concurrent Subscribe/unsubscribe/Publish; a panic in one
// handler is caught and logged without affecting siblings or the
// publisher.
//
// Ordering: each subscriber observes events from a given session in
// commit order, because the session store publishes while holding that
// session's lock and delivery is synchronous. No ordering is guaranteed
// across sessions.
type Bus struct {
	mu     sync.RWMutex
	subs   []subscriber
	nextID int64
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers a handler and returns its unsubscribe function.
// Unsubscribing is idempotent and safe to call concurrently with
// Publish; deliveries already in flight may still reach the handler.
func (b *Bus) Subscribe(handler Handler) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscriber{id: id, handler: handler})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(id) })
	}
}

// Publish delivers the event to every current subscriber, one at a
// time, in subscription order. The subscriber snapshot is taken under
// the read lock so handlers may subscribe or unsubscribe re-entrantly.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	subs := make([]subscriber, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, s := range subs {
		deliver(s, evt)
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *Bus) remove(id int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

// deliver invokes one handler with panic isolation. A faulty subscriber
// must not take down the publisher or starve its siblings.
func deliver(s subscriber, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Event handler panicked",
				"kind", evt.Kind(), "scope", evt.Scope(), "panic", r)
		}
	}()
	s.handler(evt)
}
