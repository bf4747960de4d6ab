// Package events carries engine notifications to external observers.
//
// The engine announces every script state change and error through a Bus so
// presentation layers (the WebSocket stream, a status bar, tests) can react
// without the scheduler knowing about them. Dispatch is synchronous and
// ordered; handlers must not block.
package events

import (
	"sort"
	"sync"
)

// Engine event names.
const (
	ScriptStateChange = "scriptStateChange"
	ScriptLoadError   = "scriptLoadError"
	ScriptError       = "scriptError"
	FramePresented    = "framePresented"
)

// Handler receives an event name plus its arguments.
type Handler func(event string, args ...interface{})

// Bus is a synchronous in-process event dispatcher.
type Bus struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[int]Handler
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{handlers: make(map[int]Handler)}
}

// Subscribe registers a handler and returns its unsubscribe function.
func (b *Bus) Subscribe(h Handler) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.handlers[id] = h
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.handlers, id)
		b.mu.Unlock()
	}
}

// Emit delivers the event to every subscriber in subscription order.
func (b *Bus) Emit(event string, args ...interface{}) {
	b.mu.RLock()
	ids := make([]int, 0, len(b.handlers))
	for id := range b.handlers {
		ids = append(ids, id)
	}
	// Map iteration order is random; deliver in subscription order.
	sort.Ints(ids)
	handlers := make([]Handler, 0, len(ids))
	for _, id := range ids {
		handlers = append(handlers, b.handlers[id])
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(event, args...)
	}
}
