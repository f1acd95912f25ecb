package memory

import (
	"context"

	"github.com/jungseoik/abnormal-leaderboard/internal/domain/events"
)

var _ events.DomainEventPublisher = (*Publisher)(nil)

// Publisher adapts a Broker to events.DomainEventPublisher.
type Publisher struct{ broker *Broker }

// NewPublisher creates a publisher over broker.
func NewPublisher(broker *Broker) *Publisher { return &Publisher{broker: broker} }

func (p *Publisher) PublishDomainEvent(ctx context.Context, event events.DomainEvent, opts ...events.PublishOption) error {
	return p.broker.Publish(ctx, events.NewEnvelope(event, opts...))
}
