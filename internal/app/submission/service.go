// Package submission appends and cancels benchmark jobs on the queue
// worksheet on behalf of users.
package submission

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	regexp "github.com/wasilibs/go-re2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jungseoik/abnormal-leaderboard/internal/app/queue"
	"github.com/jungseoik/abnormal-leaderboard/internal/domain/events"
	domain "github.com/jungseoik/abnormal-leaderboard/internal/domain/queue"
	"github.com/jungseoik/abnormal-leaderboard/pkg/common/logger"
	"github.com/jungseoik/abnormal-leaderboard/pkg/metrics"
)

var (
	// ErrInvalidRequest wraps every validation failure.
	ErrInvalidRequest = errors.New("invalid submission")
	// ErrNotQueued is returned by Cancel when the model is not in the queue.
	ErrNotQueued = errors.New("model not queued")
)

// modelIDPattern matches the repository part of a Hugging Face model id.
var modelIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,95}$`)

// Request is a user submission. ModelID may carry an owner prefix
// ("org/name"), which is dropped before queueing.
type Request struct {
	ModelID       string `json:"model_id" validate:"required,max=128,modelid"`
	BenchmarkName string `json:"benchmark_name" validate:"required,max=128"`
	PromptCfgName string `json:"prompt_cfg_name" validate:"required,max=128"`
}

// Submitted reports where a job landed.
type Submitted struct {
	Job domain.Job `json:"job"`
	Row int        `json:"row"`
}

// Config binds the service to the queue worksheet.
type Config struct {
	Worksheet       string
	ModelColumn     string
	BenchmarkColumn string
	PromptCfgColumn string
}

func (c Config) withDefaults() Config {
	if c.Worksheet == "" {
		c.Worksheet = "flag"
	}
	if c.ModelColumn == "" {
		c.ModelColumn = domain.DefaultModelColumn
	}
	if c.BenchmarkColumn == "" {
		c.BenchmarkColumn = domain.DefaultBenchmarkColumn
	}
	if c.PromptCfgColumn == "" {
		c.PromptCfgColumn = domain.DefaultPromptCfgColumn
	}
	return c
}

// Service serializes submissions over one Store. The Store must not be shared
// with a running dispatcher in the same process.
type Service struct {
	mu        sync.Mutex
	cfg       Config
	store     *queue.Store
	validate  *validator.Validate
	metrics   metrics.APIMetrics
	publisher events.DomainEventPublisher

	logger *logger.Logger
	tracer trace.Tracer
}

// NewService creates a Service over store, which must be bound to the queue
// worksheet.
func NewService(
	store *queue.Store,
	cfg Config,
	publisher events.DomainEventPublisher,
	metrics metrics.APIMetrics,
	logger *logger.Logger,
	tracer trace.Tracer,
) (*Service, error) {
	if store == nil {
		return nil, errors.New("submission service requires a store")
	}

	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.RegisterValidation("modelid", func(fl validator.FieldLevel) bool {
		return modelIDPattern.MatchString(NormalizeModelID(fl.Field().String()))
	}); err != nil {
		return nil, fmt.Errorf("register model id validation: %w", err)
	}

	return &Service{
		cfg:       cfg.withDefaults(),
		store:     store,
		validate:  v,
		metrics:   metrics,
		publisher: publisher,
		logger:    logger.With("component", "submission_service"),
		tracer:    tracer,
	}, nil
}

// NormalizeModelID drops any owner prefix and surrounding whitespace.
func NormalizeModelID(id string) string {
	id = strings.TrimSpace(id)
	if i := strings.LastIndex(id, "/"); i >= 0 {
		id = id[i+1:]
	}
	return id
}

// Submit validates req and appends it to the queue with its fields on the
// same row of each queue column.
func (s *Service) Submit(ctx context.Context, req Request) (Submitted, error) {
	ctx, span := s.tracer.Start(ctx, "submission_service.submit",
		trace.WithAttributes(attribute.String("model_id", req.ModelID)))
	defer span.End()

	if err := s.validate.StructCtx(ctx, req); err != nil {
		s.reject()
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid request")
		return Submitted{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	job := domain.Job{
		ModelID:       NormalizeModelID(req.ModelID),
		BenchmarkName: strings.TrimSpace(req.BenchmarkName),
		PromptCfgName: strings.TrimSpace(req.PromptCfgName),
	}

	s.mu.Lock()
	row, err := s.push(ctx, job)
	s.mu.Unlock()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "push failed")
		return Submitted{}, err
	}

	if s.metrics != nil {
		s.metrics.IncSubmissions()
	}
	s.publish(ctx, domain.NewJobSubmittedEvent(job, row), job.ModelID)
	span.SetAttributes(attribute.Int("row", row))
	s.logger.Info(ctx, "Job submitted", "job", job.String(), "row", row)
	return Submitted{Job: job, Row: row}, nil
}

// push claims the first free model row and fills it sibling-first. The model
// cell is what marks a row as queued, so it is written last and a poller
// never sees a model whose benchmark or prompt config is still blank.
func (s *Service) push(ctx context.Context, job domain.Job) (int, error) {
	if err := s.bind(ctx, s.cfg.ModelColumn); err != nil {
		return 0, err
	}
	row, err := s.store.NextFreeRow(ctx)
	if err != nil {
		return 0, fmt.Errorf("locate free row: %w", err)
	}

	cells := []struct{ column, value string }{
		{s.cfg.PromptCfgColumn, job.PromptCfgName},
		{s.cfg.BenchmarkColumn, job.BenchmarkName},
		{s.cfg.ModelColumn, job.ModelID},
	}
	for _, c := range cells {
		if err := s.bind(ctx, c.column); err != nil {
			return row, err
		}
		if err := s.store.SetCell(ctx, row, c.value); err != nil {
			return row, fmt.Errorf("write %s at row %d: %w", c.column, row, err)
		}
	}
	return row, nil
}

// Queue returns the queued jobs in dispatch order. Rows without a model are
// skipped.
func (s *Service) Queue(ctx context.Context) ([]domain.Job, error) {
	ctx, span := s.tracer.Start(ctx, "submission_service.queue")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.store.Records(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	jobs := make([]domain.Job, 0, len(records))
	for _, rec := range records {
		model := strings.TrimSpace(rec[s.cfg.ModelColumn])
		if model == "" {
			continue
		}
		jobs = append(jobs, domain.Job{
			ModelID:       model,
			BenchmarkName: strings.TrimSpace(rec[s.cfg.BenchmarkColumn]),
			PromptCfgName: strings.TrimSpace(rec[s.cfg.PromptCfgColumn]),
		})
	}
	span.SetAttributes(attribute.Int("count", len(jobs)))
	return jobs, nil
}

// Cancel removes every queued entry for model, keeping the sibling columns
// aligned. It returns the 1-based sheet rows the entries occupied, where the
// first data row is 2.
func (s *Service) Cancel(ctx context.Context, model string) ([]int, error) {
	model = NormalizeModelID(model)
	ctx, span := s.tracer.Start(ctx, "submission_service.cancel",
		trace.WithAttributes(attribute.String("model_id", model)))
	defer span.End()

	s.mu.Lock()
	rows, err := s.cancel(ctx, model)
	s.mu.Unlock()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "cancel failed")
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotQueued, model)
	}

	if s.metrics != nil {
		s.metrics.IncCancellations()
	}
	s.publish(ctx, domain.NewJobCancelledEvent(model, rows), model)
	s.logger.Info(ctx, "Job cancelled", "model_id", model, "rows", rows)
	return rows, nil
}

func (s *Service) cancel(ctx context.Context, model string) ([]int, error) {
	if err := s.bind(ctx, s.cfg.ModelColumn); err != nil {
		return nil, err
	}
	rows, err := s.store.Delete(ctx, model)
	if err != nil {
		return nil, fmt.Errorf("delete %s: %w", model, err)
	}
	if len(rows) == 0 {
		return rows, nil
	}

	for _, col := range []string{s.cfg.BenchmarkColumn, s.cfg.PromptCfgColumn} {
		if err := s.bind(ctx, col); err != nil {
			return rows, err
		}
		if err := s.store.RemoveRows(ctx, rows); err != nil {
			return rows, fmt.Errorf("remove rows from %s: %w", col, err)
		}
	}
	return rows, s.bind(ctx, s.cfg.ModelColumn)
}

func (s *Service) bind(ctx context.Context, column string) error {
	if s.store.Column() == column && s.store.Worksheet() == s.cfg.Worksheet {
		return nil
	}
	if s.store.Worksheet() != s.cfg.Worksheet {
		return s.store.ChangeWorksheet(ctx, s.cfg.Worksheet, column)
	}
	return s.store.ChangeColumn(ctx, column)
}

func (s *Service) reject() {
	if s.metrics != nil {
		s.metrics.IncRejectedSubmissions()
	}
}

func (s *Service) publish(ctx context.Context, evt events.DomainEvent, key string) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishDomainEvent(ctx, evt, events.WithKey(key)); err != nil {
		s.logger.Warn(ctx, "Failed to publish submission event", "event_type", string(evt.EventType()), "error", err)
	}
}

// ValidationErrors flattens a Submit error into field messages, or nil if err
// is not a validation failure.
func ValidationErrors(err error) map[string]string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	out := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		field := fe.Field()
		switch fe.Tag() {
		case "required":
			out[field] = "is required"
		case "modelid":
			out[field] = "is not a valid model id"
		default:
			out[field] = fmt.Sprintf("failed %s=%s", fe.Tag(), fe.Param())
		}
	}
	return out
}
