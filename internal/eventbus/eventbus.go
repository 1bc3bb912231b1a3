// ABOUTME: Typed event bus with subscriber management for decoupled components
// ABOUTME: Delivers in subscription order; Close turns later publishes into no-ops

package eventbus

import (
	"slices"
	"sync"
)

// Handler is a callback function for events.
type Handler[T any] func(T)

type subscriber[T any] struct {
	id int
	h  Handler[T]
}

// Bus is a typed event bus that delivers events to registered handlers.
type Bus[T any] struct {
	mu     sync.RWMutex
	subs   []subscriber[T]
	nextID int
	closed bool
}

// New creates a new event bus.
func New[T any]() *Bus[T] {
	return &Bus[T]{}
}

// Subscribe registers a handler and returns an unsubscribe function.
// Subscribing to a closed bus returns a no-op unsubscribe.
func (b *Bus[T]) Subscribe(handler Handler[T]) func() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs = append(b.subs, subscriber[T]{id: id, h: handler})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			b.subs = slices.DeleteFunc(b.subs, func(s subscriber[T]) bool { return s.id == id })
			b.mu.Unlock()
		})
	}
}

// Publish sends an event to all registered handlers.
// Handlers are called synchronously in subscription order, outside the lock,
// so a handler may subscribe, unsubscribe, or publish.
func (b *Bus[T]) Publish(event T) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	snapshot := make([]Handler[T], len(b.subs))
	for i, s := range b.subs {
		snapshot[i] = s.h
	}
	b.mu.RUnlock()

	for _, h := range snapshot {
		h(event)
	}
}

// Close drops every handler. Later Publish and Subscribe calls do nothing.
func (b *Bus[T]) Close() {
	b.mu.Lock()
	b.closed = true
	b.subs = nil
	b.mu.Unlock()
}

// Count returns the number of registered handlers.
func (b *Bus[T]) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
