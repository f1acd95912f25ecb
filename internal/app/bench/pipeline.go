package bench

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jungseoik/abnormal-leaderboard/internal/app/leaderboard"
	"github.com/jungseoik/abnormal-leaderboard/internal/domain/queue"
	"github.com/jungseoik/abnormal-leaderboard/pkg/common/logger"
)

// Recorder is the part of the leaderboard the pipeline writes to.
type Recorder interface {
	ProcessModelBenchmark(ctx context.Context, job queue.Job, scorer leaderboard.Scorer) (leaderboard.Outcome, error)
	RecordMetrics(ctx context.Context, model string, metrics map[string]any) (int, bool, error)
}

var _ Recorder = (*leaderboard.Recorder)(nil)

// Pipeline turns a dequeued job into a leaderboard entry.
type Pipeline struct {
	runner   Runner
	recorder Recorder

	logger *logger.Logger
	tracer trace.Tracer
}

// NewPipeline creates a Pipeline.
func NewPipeline(runner Runner, recorder Recorder, logger *logger.Logger, tracer trace.Tracer) (*Pipeline, error) {
	if runner == nil || recorder == nil {
		return nil, errors.New("bench pipeline requires a runner and a recorder")
	}
	return &Pipeline{
		runner:   runner,
		recorder: recorder,
		logger:   logger.With("component", "bench_pipeline"),
		tracer:   tracer,
	}, nil
}

// Handle is a queue.JobHandler. It scores the job unless the leaderboard
// already has a result, then stores any detailed metrics.
func (p *Pipeline) Handle(ctx context.Context, job queue.Job) error {
	ctx, span := p.tracer.Start(ctx, "bench_pipeline.handle",
		trace.WithAttributes(attribute.String("job", job.String())))
	defer span.End()

	if err := job.Validate(); err != nil {
		span.RecordError(err)
		return err
	}

	var result Result
	scorer := func(ctx context.Context, job queue.Job) (string, error) {
		var err error
		result, err = p.runner.Run(ctx, job)
		return result.Score, err
	}

	outcome, err := p.recorder.ProcessModelBenchmark(ctx, job, scorer)
	if err != nil {
		span.RecordError(err)
		return err
	}
	span.SetAttributes(attribute.String("outcome", string(outcome)))

	if outcome != leaderboard.OutcomeRecorded || len(result.Metrics) == 0 {
		return nil
	}

	_, found, err := p.recorder.RecordMetrics(ctx, job.ModelID, result.Metrics)
	switch {
	case errors.Is(err, leaderboard.ErrMetricsDisabled):
		return nil
	case err != nil:
		span.RecordError(err)
		return fmt.Errorf("record metrics for %s: %w", job.ModelID, err)
	case !found:
		p.logger.Warn(ctx, "No metrics row for model", "model", job.ModelID)
	}
	return nil
}
