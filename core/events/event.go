package events

import (
	"sync"

	"moneymarket/core/types"
)

// Event represents a structured state change emitted by the ledger.
type Event interface {
	EventType() string
}

// Renderable events can be flattened into the generic attribute form consumed
// by indexers.
type Renderable interface {
	Event
	Event() *types.Event
}

// Emitter broadcasts events to downstream subscribers (e.g. RPC, indexers).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// EmitterFunc adapts a function to the Emitter interface.
type EmitterFunc func(Event)

// Emit implements the Emitter interface.
func (f EmitterFunc) Emit(e Event) {
	if f != nil {
		f(e)
	}
}

// Recorder keeps every emitted event in order. It is safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Emit implements the Emitter interface.
func (r *Recorder) Emit(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// OfType filters the recorded events by type.
func (r *Recorder) OfType(eventType string) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.EventType() == eventType {
			out = append(out, e)
		}
	}
	return out
}
