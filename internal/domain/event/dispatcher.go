package event

import (
	"sync"

	"go.uber.org/zap"
)

// EventHandler handles domain events
type EventHandler interface {
	// Handle processes the event
	Handle(event DomainEvent) error
	// HandledEvents returns the event names this handler handles; "*" matches all
	HandledEvents() []string
}

// EventDispatcher dispatches domain events to registered handlers
type EventDispatcher interface {
	// Dispatch sends an event to all registered handlers
	Dispatch(event DomainEvent)
	// DispatchAll dispatches multiple events
	DispatchAll(events []DomainEvent)
	// Subscribe registers a handler for events
	Subscribe(handler EventHandler)
	// Unsubscribe removes a handler
	Unsubscribe(handler EventHandler)
}

// InMemoryDispatcher is an in-memory implementation of EventDispatcher.
// Synchronous dispatch delivers events in the order Dispatch was called.
// Callers must not hold their own locks while dispatching.
type InMemoryDispatcher struct {
	handlers map[string][]EventHandler
	mu       sync.RWMutex
	async    bool
	logger   *zap.Logger
}

// NewInMemoryDispatcher creates a new InMemoryDispatcher
func NewInMemoryDispatcher(async bool, logger *zap.Logger) *InMemoryDispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InMemoryDispatcher{
		handlers: make(map[string][]EventHandler),
		async:    async,
		logger:   logger,
	}
}

// Dispatch sends an event to all registered handlers
func (d *InMemoryDispatcher) Dispatch(event DomainEvent) {
	d.mu.RLock()
	named := d.handlers[event.EventName()]
	wildcard := d.handlers["*"]
	combined := make([]EventHandler, 0, len(named)+len(wildcard))
	combined = append(combined, named...)
	combined = append(combined, wildcard...)
	d.mu.RUnlock()

	for _, handler := range combined {
		if d.async {
			go d.deliver(handler, event)
		} else {
			d.deliver(handler, event)
		}
	}
}

func (d *InMemoryDispatcher) deliver(h EventHandler, event DomainEvent) {
	if err := h.Handle(event); err != nil {
		d.logger.Warn("event handler failed",
			zap.String("event", event.EventName()),
			zap.Error(err),
		)
	}
}

// DispatchAll dispatches multiple events
func (d *InMemoryDispatcher) DispatchAll(events []DomainEvent) {
	for _, event := range events {
		d.Dispatch(event)
	}
}

// Subscribe registers a handler for events
func (d *InMemoryDispatcher) Subscribe(handler EventHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, eventName := range handler.HandledEvents() {
		d.handlers[eventName] = append(d.handlers[eventName], handler)
	}
}

// Unsubscribe removes a handler
func (d *InMemoryDispatcher) Unsubscribe(handler EventHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, eventName := range handler.HandledEvents() {
		handlers := d.handlers[eventName]
		for i, h := range handlers {
			if h == handler {
				kept := make([]EventHandler, 0, len(handlers)-1)
				kept = append(kept, handlers[:i]...)
				kept = append(kept, handlers[i+1:]...)
				d.handlers[eventName] = kept
				break
			}
		}
	}
}

// NullDispatcher is a no-op dispatcher for when events are not needed
type NullDispatcher struct{}

// NewNullDispatcher creates a new NullDispatcher
func NewNullDispatcher() *NullDispatcher {
	return &NullDispatcher{}
}

// Dispatch does nothing
func (d *NullDispatcher) Dispatch(event DomainEvent) {}

// DispatchAll does nothing
func (d *NullDispatcher) DispatchAll(events []DomainEvent) {}

// Subscribe does nothing
func (d *NullDispatcher) Subscribe(handler EventHandler) {}

// Unsubscribe does nothing
func (d *NullDispatcher) Unsubscribe(handler EventHandler) {}
