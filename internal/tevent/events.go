package tevent

// Event represents a registry lifecycle event.
// Minimal and stable: name + thread id and optional fields via key/values.
type Event struct {
	Name   string
	Thread uint64
	Fields map[string]any
}

// Event names published by Registry and Embedded.
const (
	EventSlotCreated         = "slot_created"
	EventSlotReleased        = "slot_released"
	EventHandlerRegistered   = "handler_registered"
	EventHandlerFired        = "handler_fired"
	EventHandlerDeregistered = "handler_deregistered"
	EventHostNotified        = "host_notified"
	EventTeardownStart       = "teardown_start"
	EventTeardownDone        = "teardown_done"
)

// EventPublisher receives events from the registry. Implementations should be
// lightweight and non-blocking; Publish must not panic and must not call back
// into the registry.
type EventPublisher interface {
	Publish(Event)
}

// noopPublisher is the default; it drops events.
type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}
