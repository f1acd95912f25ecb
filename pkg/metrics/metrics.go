package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// WorkerMetrics defines metrics operations needed by the dispatch worker.
type WorkerMetrics interface {
	// Job metrics.
	IncJobsDispatched()
	IncJobsFailed()
	IncPartialJobs()
	TrackJob(f func() error) error

	// Monitor metrics.
	IncPollErrors()
	SetQueueHasData(bool)
}

// APIMetrics defines metrics operations needed by the submission API.
type APIMetrics interface {
	IncSubmissions()
	IncCancellations()
	IncRejectedSubmissions()
}

// EventBusMetrics defines metrics operations needed by the Kafka event bus.
type EventBusMetrics interface {
	IncMessagePublished(ctx context.Context, topic string)
	IncMessageConsumed(ctx context.Context, topic string)
	IncPublishError(ctx context.Context, topic string)
	IncConsumeError(ctx context.Context, topic string)
}

// Metrics implements WorkerMetrics, APIMetrics and EventBusMetrics.
type Metrics struct {
	// Worker metrics.
	JobsDispatched prometheus.Counter
	JobsFailed     prometheus.Counter
	PartialJobs    prometheus.Counter
	ActiveJobs     prometheus.Gauge
	JobProcessTime prometheus.Histogram
	PollErrors     prometheus.Counter
	QueueHasData   prometheus.Gauge

	// API metrics.
	Submissions         prometheus.Counter
	Cancellations       prometheus.Counter
	RejectedSubmissions prometheus.Counter

	// Event bus metrics, labelled by topic.
	MessagesPublished *prometheus.CounterVec
	MessagesConsumed  *prometheus.CounterVec
	PublishErrors     *prometheus.CounterVec
	ConsumeErrors     *prometheus.CounterVec
}

var (
	_ WorkerMetrics   = (*Metrics)(nil)
	_ APIMetrics      = (*Metrics)(nil)
	_ EventBusMetrics = (*Metrics)(nil)
)

// Interface implementation methods.
func (m *Metrics) IncJobsDispatched()      { m.JobsDispatched.Inc() }
func (m *Metrics) IncJobsFailed()          { m.JobsFailed.Inc() }
func (m *Metrics) IncPartialJobs()         { m.PartialJobs.Inc() }
func (m *Metrics) IncPollErrors()          { m.PollErrors.Inc() }
func (m *Metrics) IncSubmissions()         { m.Submissions.Inc() }
func (m *Metrics) IncCancellations()       { m.Cancellations.Inc() }
func (m *Metrics) IncRejectedSubmissions() { m.RejectedSubmissions.Inc() }

func (m *Metrics) IncMessagePublished(_ context.Context, topic string) {
	m.MessagesPublished.WithLabelValues(topic).Inc()
}

func (m *Metrics) IncMessageConsumed(_ context.Context, topic string) {
	m.MessagesConsumed.WithLabelValues(topic).Inc()
}

func (m *Metrics) IncPublishError(_ context.Context, topic string) {
	m.PublishErrors.WithLabelValues(topic).Inc()
}

func (m *Metrics) IncConsumeError(_ context.Context, topic string) {
	m.ConsumeErrors.WithLabelValues(topic).Inc()
}

// SetQueueHasData mirrors the monitor flag as a 0/1 gauge.
func (m *Metrics) SetQueueHasData(v bool) {
	if v {
		m.QueueHasData.Set(1)
		return
	}
	m.QueueHasData.Set(0)
}

// TrackJob tracks the duration of a job handler and updates the metrics.
func (m *Metrics) TrackJob(f func() error) error {
	m.ActiveJobs.Inc()
	defer m.ActiveJobs.Dec()

	start := time.Now()
	err := f()
	m.JobProcessTime.Observe(time.Since(start).Seconds())
	return err
}

// New creates a new Metrics instance registered on the default registry.
func New(namespace string) *Metrics {
	return NewWithRegisterer(namespace, prometheus.DefaultRegisterer)
}

// NewWithRegisterer creates a new Metrics instance registered on reg.
func NewWithRegisterer(namespace string, reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		// Worker metrics.
		JobsDispatched: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_dispatched_total",
			Help:      "Total number of complete jobs handed to the job handler",
		}),
		JobsFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_failed_total",
			Help:      "Total number of jobs whose handler returned an error or panicked",
		}),
		PartialJobs: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "partial_jobs_total",
			Help:      "Total number of dequeues where a sibling column yielded no value",
		}),
		ActiveJobs: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_jobs",
			Help:      "Number of jobs currently being processed",
		}),
		JobProcessTime: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_process_duration_seconds",
			Help:      "Time taken to process each job",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 16),
		}),
		PollErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "monitor_poll_errors_total",
			Help:      "Total number of failed queue probes",
		}),
		QueueHasData: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_has_data",
			Help:      "1 when the change monitor last observed a non-empty queue",
		}),

		// API metrics.
		Submissions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Total number of accepted model submissions",
		}),
		Cancellations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cancellations_total",
			Help:      "Total number of cancelled submissions",
		}),
		RejectedSubmissions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejected_submissions_total",
			Help:      "Total number of submissions rejected by validation",
		}),

		// Event bus metrics.
		MessagesPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_messages_published_total",
			Help:      "Total number of job events published",
		}, []string{"topic"}),
		MessagesConsumed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_messages_consumed_total",
			Help:      "Total number of job events consumed",
		}, []string{"topic"}),
		PublishErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Total number of failed event publishes",
		}, []string{"topic"}),
		ConsumeErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_consume_errors_total",
			Help:      "Total number of events that failed to decode or handle",
		}, []string{"topic"}),
	}
}
