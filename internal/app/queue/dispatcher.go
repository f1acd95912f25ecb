package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jungseoik/abnormal-leaderboard/internal/domain/events"
	"github.com/jungseoik/abnormal-leaderboard/internal/domain/queue"
	"github.com/jungseoik/abnormal-leaderboard/pkg/common/logger"
)

var (
	// ErrNilHandler is returned when a Dispatcher is built without a handler.
	ErrNilHandler = errors.New("job handler must not be nil")
	// ErrPartialJob marks a drain where the primary value was popped but a
	// sibling column could not supply its value. The popped value is lost.
	ErrPartialJob = errors.New("partial job")
	// ErrHandlerPanic wraps a value recovered from a panicking handler.
	ErrHandlerPanic = errors.New("job handler panicked")
)

// JobSource is the part of Store the dispatcher drains jobs from.
type JobSource interface {
	Column() string
	ChangeColumn(ctx context.Context, name string) error
	Pop(ctx context.Context) (string, bool, error)
	Values(ctx context.Context) ([]string, error)
}

var _ JobSource = (*Store)(nil)

// JobMetrics records dispatch outcomes.
type JobMetrics interface {
	IncJobsDispatched()
	IncJobsFailed()
	IncPartialJobs()
	TrackJob(f func() error) error
}

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	// BenchmarkColumn and PromptCfgColumn are the sibling columns drained
	// after the primary column. They default to benchmark_name and
	// prompt_cfg_name.
	BenchmarkColumn string
	PromptCfgColumn string

	// WaitTimeout bounds each wait on the monitor's has-data flag.
	// Defaults to one second.
	WaitTimeout time.Duration
	// IdleBackoff is how long the loop waits after a cycle that drained
	// nothing while the flag stayed set. Defaults to WaitTimeout.
	IdleBackoff time.Duration
}

// Dispatcher consumes jobs one at a time. Each cycle pauses the monitor,
// drains one aligned row across the queue columns, runs the handler and
// resumes the monitor, so the monitor never reads the store mid-drain.
type Dispatcher struct {
	source    JobSource
	monitor   *Monitor
	handler   queue.JobHandler
	cfg       DispatcherConfig
	metrics   JobMetrics
	publisher events.DomainEventPublisher

	stopCh   chan struct{}
	stopOnce sync.Once

	logger *logger.Logger
	tracer trace.Tracer
}

// NewDispatcher validates the handler and builds a Dispatcher. metrics and
// publisher may be nil.
func NewDispatcher(
	source JobSource,
	monitor *Monitor,
	handler queue.JobHandler,
	cfg DispatcherConfig,
	metrics JobMetrics,
	publisher events.DomainEventPublisher,
	logger *logger.Logger,
	tracer trace.Tracer,
) (*Dispatcher, error) {
	if handler == nil {
		return nil, ErrNilHandler
	}
	if source == nil || monitor == nil {
		return nil, errors.New("dispatcher requires a job source and a monitor")
	}
	if cfg.BenchmarkColumn == "" {
		cfg.BenchmarkColumn = queue.DefaultBenchmarkColumn
	}
	if cfg.PromptCfgColumn == "" {
		cfg.PromptCfgColumn = queue.DefaultPromptCfgColumn
	}
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = time.Second
	}
	if cfg.IdleBackoff <= 0 {
		cfg.IdleBackoff = cfg.WaitTimeout
	}
	if metrics == nil {
		metrics = noOpJobMetrics{}
	}
	if publisher == nil {
		publisher = noOpPublisher{}
	}

	return &Dispatcher{
		source:    source,
		monitor:   monitor,
		handler:   handler,
		cfg:       cfg,
		metrics:   metrics,
		publisher: publisher,
		stopCh:    make(chan struct{}),
		logger:    logger.With("component", "dispatcher"),
		tracer:    tracer,
	}, nil
}

// Run starts the monitor and processes jobs on the calling goroutine until
// Stop is called or ctx is done. A job already handed to the handler always
// runs to completion. A Dispatcher runs at most once.
func (d *Dispatcher) Run(ctx context.Context) error {
	if d.stopped() {
		return nil
	}
	d.monitor.Start(ctx)
	defer d.monitor.Stop()

	d.logger.Info(ctx, "Dispatcher started",
		"primary_column", d.source.Column(),
		"benchmark_column", d.cfg.BenchmarkColumn,
		"prompt_cfg_column", d.cfg.PromptCfgColumn,
	)

	for !d.stopped() && ctx.Err() == nil {
		if !d.monitor.WaitForData(ctx, d.cfg.WaitTimeout) {
			continue
		}
		if drained := d.cycle(ctx); !drained {
			d.idle(ctx)
		}
	}

	d.logger.Info(ctx, "Dispatcher stopped")
	return nil
}

// Stop ends the loop at the top of its next cycle and stops the monitor.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() { close(d.stopCh) })
	d.monitor.Stop()
}

func (d *Dispatcher) stopped() bool {
	select {
	case <-d.stopCh:
		return true
	default:
		return false
	}
}

// cycle runs one pause, drain, dispatch, resume round and reports whether
// anything was popped from the primary column.
func (d *Dispatcher) cycle(ctx context.Context) bool {
	ctx, span := d.tracer.Start(ctx, "dispatcher.cycle")
	defer span.End()

	if err := d.monitor.Pause(ctx); err != nil {
		span.RecordError(err)
		d.logger.Warn(ctx, "Failed to pause monitor", "error", err)
		return false
	}
	span.AddEvent("monitor_paused")

	job, popped, err := d.drain(ctx)
	switch {
	case err != nil:
		if errors.Is(err, ErrPartialJob) {
			d.metrics.IncPartialJobs()
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "drain failed")
		d.logger.Error(ctx, "Error processing value", "model_id", job.ModelID, "error", err)

	case popped:
		d.dispatch(ctx, job)
	}

	d.refreshFlag(ctx)
	d.monitor.Resume(ctx)
	span.AddEvent("monitor_resumed")

	return popped
}

// drain pops the primary column and then each sibling column, restoring the
// primary binding afterwards even if a sibling fails.
func (d *Dispatcher) drain(ctx context.Context) (queue.Job, bool, error) {
	primary := d.source.Column()

	model, ok, err := d.source.Pop(ctx)
	if err != nil {
		return queue.Job{}, false, fmt.Errorf("pop %q: %w", primary, err)
	}
	if !ok {
		return queue.Job{}, false, nil
	}

	job := queue.Job{ModelID: strings.TrimSpace(model)}

	// The primary value is gone from the sheet; a shutdown must not strand
	// its siblings.
	ctx = context.WithoutCancel(ctx)

	defer func() {
		if err := d.source.ChangeColumn(ctx, primary); err != nil {
			d.logger.Error(ctx, "Failed to restore primary column", "column", primary, "error", err)
		}
	}()

	siblings := []struct {
		column string
		dst    *string
	}{
		{column: d.cfg.BenchmarkColumn, dst: &job.BenchmarkName},
		{column: d.cfg.PromptCfgColumn, dst: &job.PromptCfgName},
	}
	for _, sib := range siblings {
		if err := d.source.ChangeColumn(ctx, sib.column); err != nil {
			return job, true, fmt.Errorf("%w: bind %q: %w", ErrPartialJob, sib.column, err)
		}
		v, ok, err := d.source.Pop(ctx)
		if err != nil {
			return job, true, fmt.Errorf("%w: pop %q: %w", ErrPartialJob, sib.column, err)
		}
		if !ok {
			return job, true, fmt.Errorf("%w: column %q has no value for %q", ErrPartialJob, sib.column, job.ModelID)
		}
		*sib.dst = strings.TrimSpace(v)
	}

	return job, true, nil
}

// dispatch runs the handler detached from ctx cancellation so a job that
// was popped always runs to completion. Handlers bound their own runtime.
func (d *Dispatcher) dispatch(ctx context.Context, job queue.Job) {
	ctx = context.WithoutCancel(ctx)
	jobID := uuid.New().String()

	ctx, span := d.tracer.Start(ctx, "dispatcher.dispatch",
		trace.WithAttributes(
			attribute.String("job_id", jobID),
			attribute.String("model_id", job.ModelID),
			attribute.String("benchmark_name", job.BenchmarkName),
			attribute.String("prompt_cfg_name", job.PromptCfgName),
		))
	defer span.End()

	log := logger.NewLoggerContext(d.logger)
	log.Add("job_id", jobID, "model_id", job.ModelID, "benchmark_name", job.BenchmarkName, "prompt_cfg_name", job.PromptCfgName)

	d.metrics.IncJobsDispatched()
	d.publish(ctx, queue.NewJobDispatchedEvent(jobID, job), job.ModelID)
	log.Info(ctx, "Processed value")

	start := time.Now()
	err := d.metrics.TrackJob(func() error { return d.invoke(ctx, job) })
	elapsed := time.Since(start)

	if err != nil {
		d.metrics.IncJobsFailed()
		span.RecordError(err)
		span.SetStatus(codes.Error, "job handler failed")
		log.Error(ctx, "Job handler failed", "duration", elapsed.String(), "error", err)
		d.publish(ctx, queue.NewJobFailedEvent(jobID, job, err.Error()), job.ModelID)
		return
	}

	span.AddEvent("job_completed")
	log.Info(ctx, "Job completed", "duration", elapsed.String())
	d.publish(ctx, queue.NewJobCompletedEvent(jobID, job, elapsed), job.ModelID)
}

func (d *Dispatcher) invoke(ctx context.Context, job queue.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()
	return d.handler(ctx, job)
}

// refreshFlag clears the monitor's has-data flag if the primary column is
// now empty.
func (d *Dispatcher) refreshFlag(ctx context.Context) {
	values, err := d.source.Values(ctx)
	if err != nil {
		d.logger.Warn(ctx, "Failed to re-probe queue", "error", err)
		return
	}
	if len(values) == 0 {
		d.monitor.ClearData()
	}
}

func (d *Dispatcher) idle(ctx context.Context) {
	select {
	case <-time.After(d.cfg.IdleBackoff):
	case <-ctx.Done():
	}
}

func (d *Dispatcher) publish(ctx context.Context, evt events.DomainEvent, key string) {
	if err := d.publisher.PublishDomainEvent(ctx, evt, events.WithKey(key)); err != nil {
		d.logger.Warn(ctx, "Failed to publish job event", "event_type", string(evt.EventType()), "error", err)
	}
}

type noOpJobMetrics struct{}

func (noOpJobMetrics) IncJobsDispatched()            {}
func (noOpJobMetrics) IncJobsFailed()                {}
func (noOpJobMetrics) IncPartialJobs()               {}
func (noOpJobMetrics) TrackJob(f func() error) error { return f() }

type noOpPublisher struct{}

func (noOpPublisher) PublishDomainEvent(context.Context, events.DomainEvent, ...events.PublishOption) error {
	return nil
}
