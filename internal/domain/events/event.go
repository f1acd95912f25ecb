package events

import "time"

// DomainEvent is implemented by every event a domain package emits.
type DomainEvent interface {
	// EventType identifies the category of this event for routing and handling.
	EventType() EventType
	// OccurredAt reports when the state change happened.
	OccurredAt() time.Time
}

// EventEnvelope wraps a domain event with the transport metadata it is
// carried with on an event bus.
type EventEnvelope struct {
	// Type identifies the category of this event for routing and handling.
	Type EventType

	// Key enables consistent event routing, typically a job id or model id.
	Key string

	// Headers contain metadata key-value pairs attached to the event.
	Headers map[string]string

	// Timestamp records when this event was created.
	Timestamp time.Time

	// Payload is the domain event itself.
	Payload DomainEvent
}

// NewEnvelope builds an envelope for evt applying opts.
func NewEnvelope(evt DomainEvent, opts ...PublishOption) EventEnvelope {
	var p PublishParams
	for _, opt := range opts {
		opt(&p)
	}

	return EventEnvelope{
		Type:      evt.EventType(),
		Key:       p.Key,
		Headers:   p.Headers,
		Timestamp: evt.OccurredAt(),
		Payload:   evt,
	}
}
