// Package memory provides an in-process event bus. It delivers events
// synchronously to subscribers and is used when no Kafka brokers are
// configured, and in tests.
package memory

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/jungseoik/abnormal-leaderboard/internal/domain/events"
)

var _ events.EventBus = (*Broker)(nil)

// ErrClosed is returned by operations on a closed broker.
var ErrClosed = errors.New("event bus closed")

type subscription struct {
	types   []events.EventType
	handler events.HandlerFunc
}

func (s subscription) wants(t events.EventType) bool {
	return len(s.types) == 0 || slices.Contains(s.types, t)
}

// Broker is an in-memory events.EventBus.
type Broker struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]subscription
	closed bool
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{subs: make(map[int]subscription)}
}

// Subscribe registers handler for eventTypes until ctx is done. An empty
// eventTypes subscribes to everything.
func (b *Broker) Subscribe(ctx context.Context, eventTypes []events.EventType, handler events.HandlerFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if handler == nil {
		return errors.New("handler cannot be nil")
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = subscription{types: slices.Clone(eventTypes), handler: handler}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}()
	return nil
}

// Publish delivers event to every matching subscriber in subscription
// order, stopping at the first handler error.
func (b *Broker) Publish(ctx context.Context, event events.EventEnvelope, opts ...events.PublishOption) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var params events.PublishParams
	for _, opt := range opts {
		opt(&params)
	}
	if params.Key != "" {
		event.Key = params.Key
	}
	if len(params.Headers) > 0 {
		event.Headers = params.Headers
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrClosed
	}
	ids := make([]int, 0, len(b.subs))
	for id, s := range b.subs {
		if s.wants(event.Type) {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	handlers := make([]events.HandlerFunc, len(ids))
	for i, id := range ids {
		handlers[i] = b.subs[id].handler
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := h(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

// Close drops all subscribers. Further calls fail with ErrClosed.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	clear(b.subs)
	return nil
}
