package leaderboard

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jungseoik/abnormal-leaderboard/internal/app/queue"
	domain "github.com/jungseoik/abnormal-leaderboard/internal/domain/queue"
	"github.com/jungseoik/abnormal-leaderboard/internal/domain/sheet"
	"github.com/jungseoik/abnormal-leaderboard/pkg/common/logger"
)

var (
	// ErrModelNotFound is returned when a model has no row on the board.
	ErrModelNotFound = errors.New("model not found on leaderboard")
	// ErrMetricsDisabled is returned by RecordMetrics without a metrics worksheet.
	ErrMetricsDisabled = errors.New("metrics worksheet not configured")
)

// ModelStatus reports whether a model has a leaderboard row.
type ModelStatus string

const (
	ModelNotFound ModelStatus = "model_not_found"
	ModelExists   ModelStatus = "model_exists"
)

// BenchmarkStatus reports the state of a model's cell in a benchmark column.
type BenchmarkStatus string

const (
	BenchmarkUnknown BenchmarkStatus = ""
	BenchmarkEmpty   BenchmarkStatus = "empty"
	BenchmarkFilled  BenchmarkStatus = "filled"
	// BenchmarkInvalid means the benchmark column was missing and could not
	// be added.
	BenchmarkInvalid BenchmarkStatus = "invalid"
)

// Status is the result of CheckModelAndBenchmark.
type Status struct {
	Model     ModelStatus
	Benchmark BenchmarkStatus
}

// Outcome is the result of ProcessModelBenchmark.
type Outcome string

const (
	OutcomeRecorded      Outcome = "recorded"
	OutcomeAlreadyFilled Outcome = "already_filled"
	OutcomeInvalidColumn Outcome = "invalid_benchmark"
)

// Scorer runs a benchmark for job and returns the score to record.
type Scorer func(ctx context.Context, job domain.Job) (string, error)

// Recorder writes models, scores and metrics to the leaderboard. Its methods
// serialize on an internal mutex because they rebind the shared store.
type Recorder struct {
	mu      sync.Mutex
	cfg     Config
	board   *queue.Store
	metrics *queue.Store

	logger *logger.Logger
	tracer trace.Tracer
}

// NewRecorder connects to the model worksheet and, when configured, the
// metrics worksheet.
func NewRecorder(
	ctx    context.Context,
	table  sheet.RemoteTable,
	cfg    Config,
	logger *logger.Logger,
	tracer trace.Tracer,
) (*Recorder, error) {
	cfg = cfg.withDefaults()

	board, err := queue.NewStore(ctx, table, queue.StoreConfig{Worksheet: cfg.Worksheet, Column: cfg.ModelColumn}, logger, tracer)
	if err != nil {
		return nil, fmt.Errorf("connect leaderboard worksheet: %w", err)
	}

	r := &Recorder{
		cfg:    cfg,
		board:  board,
		logger: logger.With("component", "leaderboard_recorder"),
		tracer: tracer,
	}

	if cfg.MetricsWorksheet != "" {
		r.metrics, err = queue.NewStore(ctx, table, queue.StoreConfig{Worksheet: cfg.MetricsWorksheet, Column: cfg.MetricsColumn}, logger, tracer)
		if err != nil {
			return nil, fmt.Errorf("connect metrics worksheet: %w", err)
		}
	}
	return r, nil
}

// ModelLink returns the model page URL for model.
func (r *Recorder) ModelLink(model string) string {
	return r.cfg.ModelLinkPrefix + model
}

// ModelAnchor returns the HTML anchor shown in the leaderboard's model column.
func (r *Recorder) ModelAnchor(model string) string {
	return fmt.Sprintf(
		`<a target="_blank" href="%s" style="color: var(--link-text-color); text-decoration: underline;text-decoration-style: dotted;">%s</a>`,
		html.EscapeString(r.ModelLink(model)), html.EscapeString(model),
	)
}

// CheckModelAndBenchmark reports whether model has a row and, if so, the
// state of its benchmark cell. A missing benchmark column is added; if that
// fails the benchmark is reported invalid.
func (r *Recorder) CheckModelAndBenchmark(ctx context.Context, model, benchmark string) (Status, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.check(ctx, model, benchmark)
}

func (r *Recorder) check(ctx context.Context, model, benchmark string) (Status, error) {
	ctx, span := r.tracer.Start(ctx, "leaderboard_recorder.check",
		trace.WithAttributes(
			attribute.String("model", model),
			attribute.String("benchmark", benchmark),
		))
	defer span.End()

	row, found, err := r.modelRow(ctx, model)
	if err != nil {
		span.RecordError(err)
		return Status{}, err
	}
	if !found {
		return Status{Model: ModelNotFound}, nil
	}

	if _, err := r.board.AddColumn(ctx, benchmark); err != nil {
		span.RecordError(err)
		r.logger.Error(ctx, "Failed to add benchmark column", "benchmark", benchmark, "error", err)
		return Status{Model: ModelExists, Benchmark: BenchmarkInvalid}, nil
	}

	value, err := r.cellIn(ctx, benchmark, row)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "reading benchmark cell")
		return Status{}, err
	}

	status := Status{Model: ModelExists, Benchmark: BenchmarkFilled}
	if strings.TrimSpace(value) == "" {
		status.Benchmark = BenchmarkEmpty
	}
	span.SetAttributes(attribute.String("benchmark_status", string(status.Benchmark)))
	return status, nil
}

// EnsureModel adds a row for model with its link and anchor unless one
// exists. It reports whether a row was added.
func (r *Recorder) EnsureModel(ctx context.Context, model string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ensureModel(ctx, model)
}

func (r *Recorder) ensureModel(ctx context.Context, model string) (bool, error) {
	ctx, span := r.tracer.Start(ctx, "leaderboard_recorder.ensure_model",
		trace.WithAttributes(attribute.String("model", model)))
	defer span.End()

	if _, found, err := r.modelRow(ctx, model); err != nil || found {
		return false, err
	}

	row, err := r.board.Push(ctx, model)
	if err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("push model %s: %w", model, err)
	}

	info := map[string]string{
		r.cfg.LinkColumn:    r.ModelLink(model),
		r.cfg.DisplayColumn: r.ModelAnchor(model),
	}
	for _, col := range []string{r.cfg.LinkColumn, r.cfg.DisplayColumn} {
		if err := r.setCellIn(ctx, col, row, info[col]); err != nil {
			if errors.Is(err, sheet.ErrColumnNotFound) {
				r.logger.Warn(ctx, "Leaderboard column missing, skipping", "column", col)
				continue
			}
			span.RecordError(err)
			return true, err
		}
	}

	r.logger.Info(ctx, "Added model to leaderboard", "model", model, "row", row)
	return true, nil
}

// RecordScore writes score into model's benchmark cell, adding the
// benchmark column if needed.
func (r *Recorder) RecordScore(ctx context.Context, model, benchmark, score string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recordScore(ctx, model, benchmark, score)
}

func (r *Recorder) recordScore(ctx context.Context, model, benchmark, score string) error {
	ctx, span := r.tracer.Start(ctx, "leaderboard_recorder.record_score",
		trace.WithAttributes(
			attribute.String("model", model),
			attribute.String("benchmark", benchmark),
		))
	defer span.End()

	row, found, err := r.modelRow(ctx, model)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrModelNotFound, model)
	}

	if _, err := r.board.AddColumn(ctx, benchmark); err != nil {
		span.RecordError(err)
		return fmt.Errorf("add benchmark column %s: %w", benchmark, err)
	}
	if err := r.setCellIn(ctx, benchmark, row, score); err != nil {
		span.RecordError(err)
		return err
	}

	r.logger.Info(ctx, "Recorded score", "model", model, "benchmark", benchmark, "score", score, "row", row)
	return nil
}

// ProcessModelBenchmark adds the model if needed, skips benchmarks already
// scored, and otherwise runs scorer and records its result.
func (r *Recorder) ProcessModelBenchmark(ctx context.Context, job domain.Job, scorer Scorer) (Outcome, error) {
	if scorer == nil {
		return "", errors.New("scorer is required")
	}

	ctx, span := r.tracer.Start(ctx, "leaderboard_recorder.process_model_benchmark",
		trace.WithAttributes(
			attribute.String("model", job.ModelID),
			attribute.String("benchmark", job.BenchmarkName),
			attribute.String("prompt_cfg", job.PromptCfgName),
		))
	defer span.End()

	r.mu.Lock()
	status, err := r.check(ctx, job.ModelID, job.BenchmarkName)
	if err == nil && status.Model == ModelNotFound {
		if _, err = r.ensureModel(ctx, job.ModelID); err == nil {
			status, err = r.check(ctx, job.ModelID, job.BenchmarkName)
		}
	}
	r.mu.Unlock()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "checking leaderboard")
		return "", fmt.Errorf("check %s: %w", job, err)
	}

	switch status.Benchmark {
	case BenchmarkInvalid:
		r.logger.Warn(ctx, "Invalid benchmark", "model", job.ModelID, "benchmark", job.BenchmarkName)
		return OutcomeInvalidColumn, nil
	case BenchmarkFilled:
		r.logger.Info(ctx, "Benchmark already measured", "model", job.ModelID, "benchmark", job.BenchmarkName)
		return OutcomeAlreadyFilled, nil
	}

	r.logger.Info(ctx, "Running benchmark", "model", job.ModelID, "benchmark", job.BenchmarkName)
	score, err := scorer(ctx, job)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "scorer failed")
		return "", fmt.Errorf("score %s: %w", job, err)
	}

	if err := r.RecordScore(ctx, job.ModelID, job.BenchmarkName, score); err != nil {
		return "", err
	}
	return OutcomeRecorded, nil
}

// RecordMetrics stores metrics as JSON in the metrics worksheet row whose
// model column equals model. It returns the row written, or false when the
// model has no metrics row.
func (r *Recorder) RecordMetrics(ctx context.Context, model string, metrics map[string]any) (int, bool, error) {
	if r.metrics == nil {
		return 0, false, ErrMetricsDisabled
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(metrics); err != nil {
		return 0, false, fmt.Errorf("encode metrics for %s: %w", model, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.metrics.UpdateCellByCondition(ctx,
		r.cfg.ModelColumn, model,
		r.cfg.MetricsColumn, strings.TrimSuffix(buf.String(), "\n"),
	)
}

// modelRow finds model's row in the model column.
func (r *Recorder) modelRow(ctx context.Context, model string) (int, bool, error) {
	if r.board.Column() != r.cfg.ModelColumn {
		if err := r.board.ChangeColumn(ctx, r.cfg.ModelColumn); err != nil {
			return 0, false, err
		}
	}
	return r.board.FindRow(ctx, model)
}

// cellIn reads row of column, leaving the store bound to the model column.
func (r *Recorder) cellIn(ctx context.Context, column string, row int) (string, error) {
	if err := r.board.ChangeColumn(ctx, column); err != nil {
		return "", err
	}
	defer r.restore(ctx)
	return r.board.CellValue(ctx, row)
}

// setCellIn writes row of column, leaving the store bound to the model column.
func (r *Recorder) setCellIn(ctx context.Context, column string, row int, value string) error {
	if err := r.board.ChangeColumn(ctx, column); err != nil {
		return err
	}
	defer r.restore(ctx)
	return r.board.SetCell(ctx, row, value)
}

func (r *Recorder) restore(ctx context.Context) {
	if err := r.board.ChangeColumn(context.WithoutCancel(ctx), r.cfg.ModelColumn); err != nil {
		r.logger.Error(ctx, "Failed to restore model column", "error", err)
	}
}
