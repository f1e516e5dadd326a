package dbx

import (
	"sync"
)

// Event names emitted by drivers.
const (
	EventOpen    = "open"
	EventTrace   = "trace"
	EventProfile = "profile"
	EventError   = "error"
	EventClose   = "close"
)

// Event is a named notification with an opaque payload.
type Event struct {
	Name    string
	Payload []any
}

// NewEvent - create a new Event.
func NewEvent(name string, payload ...any) Event {
	return Event{Name: name, Payload: payload}
}

// Err - return the first error found in the payload, if any.
func (e Event) Err() error {
	for _, p := range e.Payload {
		if err, ok := p.(error); ok {
			return err
		}
	}

	return nil
}

// EventSource is the subscription side of an event stream.
type EventSource interface {
	// Subscribe registers handler for every subsequent event and
	// returns a function that removes it.
	Subscribe(handler func(ev Event)) (unsubscribe func())
}

// EventHub is an EventSource that delivers events synchronously, in emission
// order, to the handlers subscribed at emission time.
// The zero value is ready to use.
type EventHub struct {
	sync.Mutex
	nextId   int
	handlers []subscription
}

type subscription struct {
	id      int
	handler func(ev Event)
}

// Subscribe - register a handler.
func (h *EventHub) Subscribe(handler func(ev Event)) func() {
	h.Lock()
	defer h.Unlock()

	h.nextId++
	id := h.nextId
	h.handlers = append(h.handlers, subscription{id: id, handler: handler})

	return func() {
		h.Lock()
		defer h.Unlock()

		for i, s := range h.handlers {
			if s.id == id {
				h.handlers = append(h.handlers[:i:i], h.handlers[i+1:]...)
				return
			}
		}
	}
}

// Emit - deliver ev to the current handlers. Handlers run without the hub lock held.
func (h *EventHub) Emit(ev Event) {
	h.Lock()
	handlers := make([]subscription, len(h.handlers))
	copy(handlers, h.handlers)
	h.Unlock()

	for _, s := range handlers {
		s.handler(ev)
	}
}

// Len - number of subscribed handlers.
func (h *EventHub) Len() int {
	h.Lock()
	defer h.Unlock()

	return len(h.handlers)
}
