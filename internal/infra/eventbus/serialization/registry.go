// Package serialization converts domain events to and from the wire format
// carried on the event bus. Payloads are protobuf Struct messages wrapped in
// a universal envelope that names the event type, so consumers in any
// language can decode them without generated code.
package serialization

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/jungseoik/abnormal-leaderboard/internal/domain/events"
)

// ErrUnknownEventType is returned for event types with no registered codec.
var ErrUnknownEventType = errors.New("no codec registered for event type")

// SerializeFunc converts a domain event into its payload message.
type SerializeFunc func(evt events.DomainEvent) (*structpb.Struct, error)

// DeserializeFunc rebuilds a domain event from its payload message.
type DeserializeFunc func(payload *structpb.Struct, occurredAt time.Time) (events.DomainEvent, error)

const (
	fieldEventType  = "event_type"
	fieldOccurredAt = "occurred_at"
	fieldKey        = "key"
	fieldHeaders    = "headers"
	fieldPayload    = "payload"
)

var (
	mu                   sync.RWMutex
	serializerRegistry   = map[events.EventType]SerializeFunc{}
	deserializerRegistry = map[events.EventType]DeserializeFunc{}
)

// RegisterSerializeFunc registers the encoder for eventType.
func RegisterSerializeFunc(eventType events.EventType, fn SerializeFunc) {
	mu.Lock()
	defer mu.Unlock()
	serializerRegistry[eventType] = fn
}

// RegisterDeserializeFunc registers the decoder for eventType.
func RegisterDeserializeFunc(eventType events.EventType, fn DeserializeFunc) {
	mu.Lock()
	defer mu.Unlock()
	deserializerRegistry[eventType] = fn
}

func init() {
	RegisterEventSerializers()
}

// SerializeEventEnvelope encodes env, payload included, into bytes.
func SerializeEventEnvelope(env events.EventEnvelope) ([]byte, error) {
	mu.RLock()
	fn, ok := serializerRegistry[env.Type]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEventType, env.Type)
	}

	payload, err := fn(env.Payload)
	if err != nil {
		return nil, fmt.Errorf("serialize %s payload: %w", env.Type, err)
	}

	headers := make(map[string]*structpb.Value, len(env.Headers))
	for k, v := range env.Headers {
		headers[k] = structpb.NewStringValue(v)
	}

	wire := &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldEventType:  structpb.NewStringValue(string(env.Type)),
		fieldOccurredAt: structpb.NewStringValue(env.Timestamp.UTC().Format(time.RFC3339Nano)),
		fieldKey:        structpb.NewStringValue(env.Key),
		fieldHeaders:    structpb.NewStructValue(&structpb.Struct{Fields: headers}),
		fieldPayload:    structpb.NewStructValue(payload),
	}}
	return proto.Marshal(wire)
}

// UnmarshalUniversalEnvelope decodes bytes produced by SerializeEventEnvelope.
func UnmarshalUniversalEnvelope(data []byte) (events.EventEnvelope, error) {
	var wire structpb.Struct
	if err := proto.Unmarshal(data, &wire); err != nil {
		return events.EventEnvelope{}, fmt.Errorf("unmarshal envelope: %w", err)
	}

	eventType := events.EventType(wire.Fields[fieldEventType].GetStringValue())
	mu.RLock()
	fn, ok := deserializerRegistry[eventType]
	mu.RUnlock()
	if !ok {
		return events.EventEnvelope{}, fmt.Errorf("%w: %q", ErrUnknownEventType, eventType)
	}

	occurredAt, err := time.Parse(time.RFC3339Nano, wire.Fields[fieldOccurredAt].GetStringValue())
	if err != nil {
		return events.EventEnvelope{}, fmt.Errorf("parse occurred_at: %w", err)
	}

	payload, err := fn(wire.Fields[fieldPayload].GetStructValue(), occurredAt)
	if err != nil {
		return events.EventEnvelope{}, fmt.Errorf("deserialize %s payload: %w", eventType, err)
	}

	var headers map[string]string
	if h := wire.Fields[fieldHeaders].GetStructValue(); h != nil && len(h.Fields) > 0 {
		headers = make(map[string]string, len(h.Fields))
		for k, v := range h.Fields {
			headers[k] = v.GetStringValue()
		}
	}

	return events.EventEnvelope{
		Type:      eventType,
		Key:       wire.Fields[fieldKey].GetStringValue(),
		Headers:   headers,
		Timestamp: occurredAt,
		Payload:   payload,
	}, nil
}
