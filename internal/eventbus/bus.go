// Package eventbus provides a typed, synchronous publish/subscribe bus.
//
// Each component that emits events owns a Bus parameterised by its own event
// type, so subscribers receive a closed set of event values rather than
// loosely typed payloads:
//
//	bus := eventbus.New[statemachine.Event]()
//	unsubscribe := bus.Subscribe(func(e statemachine.Event) {
//	    log.Info("state changed", "from", e.From, "to", e.To)
//	})
//	defer unsubscribe()
//
// Delivery is synchronous: Publish invokes every subscriber in subscription
// order on the publisher's goroutine and returns when the last one returns.
// There is no queueing or backpressure; a slow subscriber blocks the emitter.
//
// Thread Safety: Subscribe, Publish and the returned unsubscribe functions are
// safe for concurrent use. Subscribers may subscribe or unsubscribe from
// within a handler; the change applies to the next Publish.
package eventbus

import "sync"

// Handler receives published events.
type Handler[E any] func(E)

type entry[E any] struct {
	id      uint64
	handler Handler[E]
}

// Bus is a typed synchronous event bus. The zero value is ready to use.
type Bus[E any] struct {
	mu     sync.RWMutex
	nextID uint64
	subs   []entry[E]
}

// New creates an empty bus.
func New[E any]() *Bus[E] {
	return &Bus[E]{}
}

// Subscribe registers h and returns a function that removes it.
// The returned function is idempotent.
func (b *Bus[E]) Subscribe(h Handler[E]) func() {
	if h == nil {
		return func() {}
	}

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, entry[E]{id: id, handler: h})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(id) })
	}
}

func (b *Bus[E]) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, s := range b.subs {
		if s.id == id {
			// Copy so an in-flight Publish keeps its snapshot intact.
			subs := make([]entry[E], 0, len(b.subs)-1)
			subs = append(subs, b.subs[:i]...)
			subs = append(subs, b.subs[i+1:]...)
			b.subs = subs
			return
		}
	}
}

// Publish delivers e to every current subscriber, in subscription order.
func (b *Bus[E]) Publish(e E) {
	b.mu.RLock()
	subs := b.subs
	b.mu.RUnlock()

	for _, s := range subs {
		s.handler(e)
	}
}

// Len returns the number of active subscribers.
func (b *Bus[E]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
