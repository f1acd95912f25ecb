// Package events provides domain event handling capabilities for communicating
// job lifecycle changes across process boundaries in a decoupled way.
package events

import "context"

// DomainEventPublisher publishes domain events to notify other parts of the
// system about important domain changes. It decouples event producers from the
// underlying messaging infrastructure.
type DomainEventPublisher interface {
	// PublishDomainEvent sends a domain event to interested subscribers.
	PublishDomainEvent(ctx context.Context, event DomainEvent, opts ...PublishOption) error
}

// HandlerFunc processes a single event delivered by an EventBus.
type HandlerFunc func(ctx context.Context, evt EventEnvelope) error

// EventBus enables publishing and subscribing to domain events across system
// boundaries.
type EventBus interface {
	// Publish broadcasts an event to all interested subscribers.
	Publish(ctx context.Context, event EventEnvelope, opts ...PublishOption) error

	// Subscribe registers a handler for the given event types.
	Subscribe(ctx context.Context, eventTypes []EventType, handler HandlerFunc) error

	// Close gracefully shuts down the event bus and releases associated resources.
	Close() error
}
