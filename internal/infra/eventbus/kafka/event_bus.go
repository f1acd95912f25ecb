// Package kafka provides a Kafka-based implementation of the event bus used
// to broadcast job lifecycle events to dashboards and other consumers.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jungseoik/abnormal-leaderboard/internal/domain/events"
	"github.com/jungseoik/abnormal-leaderboard/internal/infra/eventbus/kafka/tracing"
	"github.com/jungseoik/abnormal-leaderboard/internal/infra/eventbus/serialization"
	"github.com/jungseoik/abnormal-leaderboard/pkg/common/logger"
)

// ErrNoConsumerGroup is returned by Subscribe on a publish-only bus.
var ErrNoConsumerGroup = errors.New("event bus has no consumer group")

// EventBusMetrics defines metrics operations needed to monitor Kafka message handling.
type EventBusMetrics interface {
	IncMessagePublished(ctx context.Context, topic string)
	IncMessageConsumed(ctx context.Context, topic string)
	IncPublishError(ctx context.Context, topic string)
	IncConsumeError(ctx context.Context, topic string)
}

// Config contains settings for connecting to Kafka brokers.
type Config struct {
	// Brokers is a list of Kafka broker addresses to connect to.
	Brokers []string

	// Topic receives every job lifecycle event.
	Topic string

	// GroupID identifies the consumer group. Empty means publish-only.
	GroupID string
	// ClientID uniquely identifies this client to the Kafka cluster.
	ClientID string
}

var _ events.EventBus = (*EventBus)(nil)

// EventBus implements events.EventBus on a single Kafka topic.
type EventBus struct {
	producer      sarama.SyncProducer
	consumerGroup sarama.ConsumerGroup
	topic         string

	logger  *logger.Logger
	tracer  trace.Tracer
	metrics EventBusMetrics
}

// NewEventBus assembles a bus from an existing producer and optional
// consumer group.
func NewEventBus(
	producer sarama.SyncProducer,
	consumerGroup sarama.ConsumerGroup,
	cfg *Config,
	logger *logger.Logger,
	metrics EventBusMetrics,
	tracer trace.Tracer,
) (*EventBus, error) {
	if producer == nil {
		return nil, errors.New("kafka producer is required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka topic is required")
	}
	if metrics == nil {
		return nil, errors.New("metrics are required for kafka event bus")
	}

	return &EventBus{
		producer:      producer,
		consumerGroup: consumerGroup,
		topic:         cfg.Topic,
		logger: logger.With(
			"component", "kafka_event_bus",
			"client_id", cfg.ClientID,
			"group_id", cfg.GroupID,
			"topic", cfg.Topic,
		),
		tracer:  tracer,
		metrics: metrics,
	}, nil
}

// NewEventBusFromConfig dials the brokers and creates the producer, plus a
// consumer group when cfg.GroupID is set.
func NewEventBusFromConfig(
	cfg *Config,
	logger *logger.Logger,
	metrics EventBusMetrics,
	tracer trace.Tracer,
) (*EventBus, error) {
	producerConfig := sarama.NewConfig()
	producerConfig.ClientID = cfg.ClientID
	producerConfig.Producer.RequiredAcks = sarama.WaitForAll
	producerConfig.Producer.Return.Successes = true
	producerConfig.Producer.Partitioner = sarama.NewHashPartitioner

	producer, err := sarama.NewSyncProducer(cfg.Brokers, producerConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	var consumerGroup sarama.ConsumerGroup
	if cfg.GroupID != "" {
		consumerConfig := sarama.NewConfig()
		consumerConfig.ClientID = cfg.ClientID
		consumerConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
		consumerConfig.Consumer.Offsets.Initial = sarama.OffsetNewest
		consumerConfig.Consumer.Group.Session.Timeout = 20 * time.Second
		consumerConfig.Consumer.Group.Heartbeat.Interval = 6 * time.Second
		consumerConfig.Version = sarama.V2_8_0_0

		consumerGroup, err = sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, consumerConfig)
		if err != nil {
			producer.Close()
			return nil, fmt.Errorf("failed to create consumer group: %w", err)
		}
	}

	bus, err := NewEventBus(producer, consumerGroup, cfg, logger, metrics, tracer)
	if err != nil {
		producer.Close()
		if consumerGroup != nil {
			consumerGroup.Close()
		}
		return nil, err
	}
	return bus, nil
}

// Publish serializes event and sends it to the configured topic, keyed by
// the envelope key or the publish option key.
func (b *EventBus) Publish(ctx context.Context, event events.EventEnvelope, opts ...events.PublishOption) error {
	ctx, span := tracing.StartProducerSpan(ctx, b.topic, b.tracer)
	defer span.End()

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
	span.SetAttributes(
		attribute.String("event.type", string(event.Type)),
		attribute.String("event.key", event.Key),
	)

	msgBytes, err := serialization.SerializeEventEnvelope(event)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "serialize failed")
		b.metrics.IncPublishError(ctx, b.topic)
		return fmt.Errorf("failed to serialize payload for event %s: %w", event.Type, err)
	}

	msg := &sarama.ProducerMessage{
		Topic: b.topic,
		Key:   sarama.StringEncoder(event.Key),
		Value: sarama.ByteEncoder(msgBytes),
	}
	tracing.InjectTraceContext(ctx, msg)

	partition, offset, err := b.producer.SendMessage(msg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "send failed")
		b.metrics.IncPublishError(ctx, b.topic)
		return fmt.Errorf("failed to send message to kafka topic %s: %w", b.topic, err)
	}
	b.metrics.IncMessagePublished(ctx, b.topic)

	b.logger.Debug(ctx, "Published message to Kafka",
		"event_type", event.Type,
		"partition", partition,
		"offset", offset,
		"key", event.Key,
	)
	return nil
}

// Subscribe consumes the topic in a background goroutine until ctx is done,
// passing events of the requested types to handler.
func (b *EventBus) Subscribe(ctx context.Context, eventTypes []events.EventType, handler events.HandlerFunc) error {
	if b.consumerGroup == nil {
		return ErrNoConsumerGroup
	}
	if handler == nil {
		return errors.New("handler cannot be nil")
	}

	go b.consumeLoop(ctx, &consumerGroupHandler{
		eventTypes: slices.Clone(eventTypes),
		handler:    handler,
		logger:     b.logger.With("operation", "consume"),
		tracer:     b.tracer,
		metrics:    b.metrics,
	})
	b.logger.Info(ctx, "Subscribed to events", "event_types", eventTypes)
	return nil
}

func (b *EventBus) consumeLoop(ctx context.Context, h sarama.ConsumerGroupHandler) {
	for {
		if err := b.consumerGroup.Consume(ctx, []string{b.topic}, h); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return
			}
			b.logger.Error(ctx, "Error from consumer group", "error", err)
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// consumerGroupHandler implements sarama.ConsumerGroupHandler.
type consumerGroupHandler struct {
	eventTypes []events.EventType
	handler    events.HandlerFunc

	logger  *logger.Logger
	tracer  trace.Tracer
	metrics EventBusMetrics
}

func (h *consumerGroupHandler) Setup(sess sarama.ConsumerGroupSession) error {
	h.logger.Info(sess.Context(), "Consumer group session setup",
		"generation_id", sess.GenerationID(),
		"member_id", sess.MemberID(),
	)
	return nil
}

func (h *consumerGroupHandler) Cleanup(sess sarama.ConsumerGroupSession) error {
	h.logger.Info(sess.Context(), "Consumer group session cleanup",
		"generation_id", sess.GenerationID(),
		"member_id", sess.MemberID(),
	)
	return nil
}

// ConsumeClaim decodes each message and hands matching events to the
// handler. Messages are marked whether or not the handler succeeds; lifecycle
// events are informational and are not redelivered.
func (h *consumerGroupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		h.handle(sess, msg)
	}
	return nil
}

func (h *consumerGroupHandler) handle(sess sarama.ConsumerGroupSession, msg *sarama.ConsumerMessage) {
	defer sess.MarkMessage(msg, "")

	ctx := tracing.ExtractTraceContext(sess.Context(), msg)
	ctx, span := tracing.StartConsumerSpan(ctx, msg, h.tracer)
	defer span.End()

	env, err := serialization.UnmarshalUniversalEnvelope(msg.Value)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "decode failed")
		h.metrics.IncConsumeError(ctx, msg.Topic)
		h.logger.Warn(ctx, "Skipping undecodable message", "offset", msg.Offset, "error", err)
		return
	}
	if len(h.eventTypes) > 0 && !slices.Contains(h.eventTypes, env.Type) {
		return
	}

	if err := h.handler(ctx, env); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "handler failed")
		h.metrics.IncConsumeError(ctx, msg.Topic)
		h.logger.Error(ctx, "Failed to handle message", "event_type", env.Type, "error", err)
		return
	}
	h.metrics.IncMessageConsumed(ctx, msg.Topic)
}

// Close shuts down the producer and the consumer group.
func (b *EventBus) Close() error {
	ctx, span := b.tracer.Start(context.Background(), "kafka_event_bus.close")
	defer span.End()

	var errs []error
	if err := b.producer.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close producer: %w", err))
	}
	if b.consumerGroup != nil {
		if err := b.consumerGroup.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close consumer group: %w", err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "close failed")
		b.logger.Error(ctx, "Failed to close event bus", "error", err)
		return err
	}
	b.logger.Info(ctx, "Closed event bus")
	return nil
}
