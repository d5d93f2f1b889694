package events

import "poolrewards/core/types"

// Event represents a structured state change emitted by the rewards engine.
type Event interface {
	EventType() string
}

// Payload is implemented by events that can be flattened into the generic
// attribute form used by the journal and the admin API.
type Payload interface {
	Event
	Event() *types.Event
}

// Emitter broadcasts events to downstream subscribers (journal, metrics).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Multi fans an event out to several emitters in order. Nil entries are
// skipped.
type Multi []Emitter

// Emit implements the Emitter interface.
func (m Multi) Emit(e Event) {
	for _, emitter := range m {
		if emitter == nil {
			continue
		}
		emitter.Emit(e)
	}
}

// ToPayload converts an event into its generic form. Events that do not
// implement Payload are reported with their type only.
func ToPayload(e Event) *types.Event {
	if e == nil {
		return nil
	}
	if p, ok := e.(Payload); ok {
		return p.Event()
	}
	return &types.Event{Type: e.EventType(), Attributes: map[string]string{}}
}
