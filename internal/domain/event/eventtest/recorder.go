// Package eventtest provides helpers for tests that assert on dispatched
// domain events.
package eventtest

import (
	"sync"

	"github.com/lmplayground/model-store/internal/domain/event"
)

// Recorder is an EventHandler that keeps every event it sees
type Recorder struct {
	mu     sync.Mutex
	events []event.DomainEvent
}

var _ event.EventHandler = (*Recorder)(nil)

// Handle records the event
func (r *Recorder) Handle(e event.DomainEvent) error {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
	return nil
}

// HandledEvents returns the events this handler handles
func (r *Recorder) HandledEvents() []string {
	return []string{"*"}
}

// Events returns a copy of the recorded events
func (r *Recorder) Events() []event.DomainEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]event.DomainEvent(nil), r.events...)
}

// Named returns the recorded events with the given name
func (r *Recorder) Named(name string) []event.DomainEvent {
	var out []event.DomainEvent
	for _, e := range r.Events() {
		if e.EventName() == name {
			out = append(out, e)
		}
	}
	return out
}
