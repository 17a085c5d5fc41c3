// Package event provides a small named-event emitter for decoupled
// observers. Emission is fire-and-forget: a panicking listener is
// recovered and logged, never unwound into the emitting pipeline.
package event

import (
	"log"
	"sync"
)

// Listener receives one emitted event.
type Listener func(name string, payload any)

// Emitter dispatches named events to registered listeners.
type Emitter struct {
	mu        sync.RWMutex
	nextID    int
	listeners map[string]map[int]Listener
}

// NewEmitter creates an emitter with no listeners.
func NewEmitter() *Emitter {
	return &Emitter{
		listeners: make(map[string]map[int]Listener),
	}
}

// On registers a listener for a named event and returns an unsubscribe
// function.
func (e *Emitter) On(name string, listener Listener) func() {
	if name == "" || listener == nil {
		return func() {}
	}

	e.mu.Lock()
	e.nextID++
	id := e.nextID
	if e.listeners[name] == nil {
		e.listeners[name] = make(map[int]Listener)
	}
	e.listeners[name][id] = listener
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		delete(e.listeners[name], id)
		e.mu.Unlock()
	}
}

// Emit delivers an event to every listener registered for its name.
// The emitter does not know or care how many listeners exist.
func (e *Emitter) Emit(name string, payload any) {
	e.mu.RLock()
	registered := e.listeners[name]
	snapshot := make([]Listener, 0, len(registered))
	for _, listener := range registered {
		snapshot = append(snapshot, listener)
	}
	e.mu.RUnlock()

	for _, listener := range snapshot {
		dispatch(name, payload, listener)
	}
}

// ListenerCount reports registered listeners for an event name.
func (e *Emitter) ListenerCount(name string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.listeners[name])
}

func dispatch(name string, payload any, listener Listener) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("event: listener for %q panicked: %v", name, r)
		}
	}()
	listener(name, payload)
}
