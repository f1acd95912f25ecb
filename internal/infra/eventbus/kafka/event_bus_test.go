package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/jungseoik/abnormal-leaderboard/internal/domain/events"
	"github.com/jungseoik/abnormal-leaderboard/internal/domain/queue"
	"github.com/jungseoik/abnormal-leaderboard/internal/infra/eventbus/serialization"
	"github.com/jungseoik/abnormal-leaderboard/pkg/common/logger"
)

type mockMetrics struct {
	mu            sync.Mutex
	published     int
	consumed      int
	publishErrors int
	consumeErrors int
}

func (m *mockMetrics) IncMessagePublished(context.Context, string) {
	m.mu.Lock()
	m.published++
	m.mu.Unlock()
}

func (m *mockMetrics) IncMessageConsumed(context.Context, string) {
	m.mu.Lock()
	m.consumed++
	m.mu.Unlock()
}

func (m *mockMetrics) IncPublishError(context.Context, string) {
	m.mu.Lock()
	m.publishErrors++
	m.mu.Unlock()
}

func (m *mockMetrics) IncConsumeError(context.Context, string) {
	m.mu.Lock()
	m.consumeErrors++
	m.mu.Unlock()
}

func newTestBus(t *testing.T, producer sarama.SyncProducer, metrics EventBusMetrics) *EventBus {
	t.Helper()
	bus, err := NewEventBus(
		producer,
		nil,
		&Config{Topic: "benchmark-jobs", ClientID: "test"},
		logger.Noop(),
		metrics,
		noop.NewTracerProvider().Tracer("test"),
	)
	require.NoError(t, err)
	return bus
}

func TestEventBus_Publish(t *testing.T) {
	job := queue.Job{ModelID: "org-clip", BenchmarkName: "violence", PromptCfgName: "cfg_a"}

	tests := []struct {
		name          string
		setup         func(p *mocks.SyncProducer)
		wantErr       bool
		wantPublished int
		wantErrors    int
	}{
		{
			name: "sends decodable envelope",
			setup: func(p *mocks.SyncProducer) {
				p.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
					env, err := serialization.UnmarshalUniversalEnvelope(val)
					if err != nil {
						return err
					}
					if env.Type != queue.EventTypeJobDispatched {
						return errors.New("unexpected event type")
					}
					return nil
				})
			},
			wantPublished: 1,
		},
		{
			name: "broker failure",
			setup: func(p *mocks.SyncProducer) {
				p.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
			},
			wantErr:    true,
			wantErrors: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			producer := mocks.NewSyncProducer(t, nil)
			tt.setup(producer)
			metrics := new(mockMetrics)
			bus := newTestBus(t, producer, metrics)

			pub := NewDomainEventPublisher(bus)
			err := pub.PublishDomainEvent(context.Background(), queue.NewJobDispatchedEvent("j-1", job), events.WithKey(job.ModelID))
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.wantPublished, metrics.published)
			assert.Equal(t, tt.wantErrors, metrics.publishErrors)
			require.NoError(t, bus.Close())
		})
	}
}

func TestEventBus_PublishUnknownType(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	metrics := new(mockMetrics)
	bus := newTestBus(t, producer, metrics)

	err := bus.Publish(context.Background(), events.EventEnvelope{Type: "Bogus"})
	assert.ErrorIs(t, err, serialization.ErrUnknownEventType)
	assert.Equal(t, 1, metrics.publishErrors)
	require.NoError(t, bus.Close())
}

func TestEventBus_SubscribeWithoutGroup(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	bus := newTestBus(t, producer, new(mockMetrics))
	defer bus.Close()

	err := bus.Subscribe(context.Background(), nil, func(context.Context, events.EventEnvelope) error { return nil })
	assert.ErrorIs(t, err, ErrNoConsumerGroup)
}

func TestNewEventBus_Validation(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	defer producer.Close()
	tracer := noop.NewTracerProvider().Tracer("test")

	_, err := NewEventBus(nil, nil, &Config{Topic: "t"}, logger.Noop(), new(mockMetrics), tracer)
	assert.Error(t, err)
	_, err = NewEventBus(producer, nil, &Config{}, logger.Noop(), new(mockMetrics), tracer)
	assert.Error(t, err)
	_, err = NewEventBus(producer, nil, &Config{Topic: "t"}, logger.Noop(), nil, tracer)
	assert.Error(t, err)
}

// fakeSession and fakeClaim implement the parts of the sarama consumer group
// interfaces that consumerGroupHandler uses.
type fakeSession struct {
	sarama.ConsumerGroupSession
	ctx    context.Context
	marked []int64
}

func (s *fakeSession) Context() context.Context { return s.ctx }
func (s *fakeSession) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	s.marked = append(s.marked, msg.Offset)
}

type fakeClaim struct {
	sarama.ConsumerGroupClaim
	msgs chan *sarama.ConsumerMessage
}

func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.msgs }

func TestConsumerGroupHandler_FiltersAndMarks(t *testing.T) {
	job := queue.Job{ModelID: "m", BenchmarkName: "b", PromptCfgName: "p"}
	encode := func(evt events.DomainEvent) []byte {
		data, err := serialization.SerializeEventEnvelope(events.NewEnvelope(evt))
		require.NoError(t, err)
		return data
	}

	claim := &fakeClaim{msgs: make(chan *sarama.ConsumerMessage, 3)}
	claim.msgs <- &sarama.ConsumerMessage{Topic: "benchmark-jobs", Offset: 1, Value: encode(queue.NewJobCompletedEvent("j-1", job, 0))}
	claim.msgs <- &sarama.ConsumerMessage{Topic: "benchmark-jobs", Offset: 2, Value: encode(queue.NewJobDispatchedEvent("j-2", job))}
	claim.msgs <- &sarama.ConsumerMessage{Topic: "benchmark-jobs", Offset: 3, Value: []byte{0xff, 0x01}}
	close(claim.msgs)

	var got []events.EventEnvelope
	metrics := new(mockMetrics)
	h := &consumerGroupHandler{
		eventTypes: []events.EventType{queue.EventTypeJobCompleted},
		handler: func(_ context.Context, env events.EventEnvelope) error {
			got = append(got, env)
			return nil
		},
		logger:  logger.Noop(),
		tracer:  noop.NewTracerProvider().Tracer("test"),
		metrics: metrics,
	}

	sess := &fakeSession{ctx: context.Background()}
	require.NoError(t, h.ConsumeClaim(sess, claim))

	require.Len(t, got, 1)
	assert.Equal(t, "j-1", got[0].Payload.(queue.JobCompletedEvent).JobID)
	assert.Equal(t, []int64{1, 2, 3}, sess.marked)
	assert.Equal(t, 1, metrics.consumed)
	assert.Equal(t, 1, metrics.consumeErrors)
}
