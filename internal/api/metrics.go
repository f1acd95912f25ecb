package api

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/jungseoik/abnormal-leaderboard/internal/infra/eventbus/kafka"
)

const namespace = "leaderboard_api"

// APIMetrics defines metrics operations needed by the API server.
type APIMetrics interface {
	// EventBus metrics
	kafka.EventBusMetrics

	// HTTP metrics
	IncRequestsTotal(ctx context.Context, method, route string, status int)
	ObserveRequestDuration(ctx context.Context, method, route string, duration time.Duration)

	// ObserveQueueDepth reports depth() as a gauge on every collection.
	ObserveQueueDepth(depth func(ctx context.Context) (int, error)) error
}

type apiMetrics struct {
	meter metric.Meter

	messagesPublished metric.Int64Counter
	messagesConsumed  metric.Int64Counter
	publishErrors     metric.Int64Counter
	consumeErrors     metric.Int64Counter

	requestsTotal   metric.Int64Counter
	requestDuration metric.Float64Histogram
	queueDepth      metric.Int64ObservableGauge
}

var _ APIMetrics = (*apiMetrics)(nil)

// NewAPIMetrics registers the API instruments with mp.
func NewAPIMetrics(mp metric.MeterProvider) (*apiMetrics, error) {
	meter := mp.Meter(namespace, metric.WithInstrumentationVersion("v0.1.0"))

	m := &apiMetrics{meter: meter}
	var err error

	if m.messagesPublished, err = meter.Int64Counter(
		"job_events_published_total",
		metric.WithDescription("Total number of job events published"),
	); err != nil {
		return nil, err
	}

	if m.messagesConsumed, err = meter.Int64Counter(
		"job_events_consumed_total",
		metric.WithDescription("Total number of job events consumed"),
	); err != nil {
		return nil, err
	}

	if m.publishErrors, err = meter.Int64Counter(
		"job_events_publish_errors_total",
		metric.WithDescription("Total number of publish errors"),
	); err != nil {
		return nil, err
	}

	if m.consumeErrors, err = meter.Int64Counter(
		"job_events_consume_errors_total",
		metric.WithDescription("Total number of consume errors"),
	); err != nil {
		return nil, err
	}

	if m.requestsTotal, err = meter.Int64Counter(
		"requests_total",
		metric.WithDescription("Total number of HTTP requests"),
	); err != nil {
		return nil, err
	}

	if m.requestDuration, err = meter.Float64Histogram(
		"request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	if m.queueDepth, err = meter.Int64ObservableGauge(
		"queue_depth",
		metric.WithDescription("Number of jobs waiting in the queue worksheet"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *apiMetrics) IncMessagePublished(ctx context.Context, topic string) {
	m.messagesPublished.Add(ctx, 1, metric.WithAttributes(attribute.String("topic", topic)))
}

func (m *apiMetrics) IncMessageConsumed(ctx context.Context, topic string) {
	m.messagesConsumed.Add(ctx, 1, metric.WithAttributes(attribute.String("topic", topic)))
}

func (m *apiMetrics) IncPublishError(ctx context.Context, topic string) {
	m.publishErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("topic", topic)))
}

func (m *apiMetrics) IncConsumeError(ctx context.Context, topic string) {
	m.consumeErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("topic", topic)))
}

func (m *apiMetrics) IncRequestsTotal(ctx context.Context, method, route string, status int) {
	m.requestsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("route", route),
		attribute.Int("status", status),
	))
}

func (m *apiMetrics) ObserveRequestDuration(ctx context.Context, method, route string, duration time.Duration) {
	m.requestDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("route", route),
	))
}

// ObserveQueueDepth registers a collection callback. A failing depth probe
// skips the observation instead of reporting zero.
func (m *apiMetrics) ObserveQueueDepth(depth func(ctx context.Context) (int, error)) error {
	_, err := m.meter.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		n, err := depth(ctx)
		if err != nil {
			return nil
		}
		o.ObserveInt64(m.queueDepth, int64(n))
		return nil
	}, m.queueDepth)
	return err
}
