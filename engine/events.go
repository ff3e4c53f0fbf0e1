package engine

import (
	"sync"

	"github.com/quilldb/quill/document"
)

// EventType identifies a collection mutation.
type EventType uint8

const (
	// EventInsert signals a newly added document.
	EventInsert EventType = iota
	// EventUpdate signals a changed document.
	EventUpdate
	// EventRemove signals a deleted document.
	EventRemove
)

func (t EventType) String() string {
	switch t {
	case EventInsert:
		return "insert"
	case EventUpdate:
		return "update"
	case EventRemove:
		return "remove"
	}
	return "unknown"
}

// Event describes one committed mutation. Doc is the document state after the
// mutation, or the removed document for EventRemove.
type Event struct {
	Type       EventType
	Collection string
	ID         document.ID
	Doc        *document.Document
}

// EventHandler receives committed events. Handlers run synchronously on the
// committing goroutine after the commit is applied; slow handlers delay the
// caller, not the commit itself.
type EventHandler func(Event)

// EventBus fans committed mutation events out to subscribers of one
// collection.
type EventBus struct {
	mu   sync.RWMutex
	next int
	subs map[int]EventHandler
}

func newEventBus() *EventBus {
	return &EventBus{subs: make(map[int]EventHandler)}
}

// Subscribe registers h and returns a function that removes the
// subscription.
func (b *EventBus) Subscribe(h EventHandler) (unsubscribe func()) {
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = h
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

func (b *EventBus) publish(ev Event) {
	b.mu.RLock()
	handlers := make([]EventHandler, 0, len(b.subs))
	for _, h := range b.subs {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()
	for _, h := range handlers {
		h(ev)
	}
}
