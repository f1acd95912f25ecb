package bench

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/jungseoik/abnormal-leaderboard/internal/app/leaderboard"
	"github.com/jungseoik/abnormal-leaderboard/internal/domain/queue"
	"github.com/jungseoik/abnormal-leaderboard/internal/infra/sheets/memory"
	"github.com/jungseoik/abnormal-leaderboard/pkg/common/logger"
)

type fakeRecorder struct {
	outcome    leaderboard.Outcome
	err        error
	metricsErr error
	metricsHit bool

	score   string
	metrics map[string]any
}

func (f *fakeRecorder) ProcessModelBenchmark(ctx context.Context, job queue.Job, scorer leaderboard.Scorer) (leaderboard.Outcome, error) {
	if f.err != nil {
		return "", f.err
	}
	if f.outcome != leaderboard.OutcomeRecorded {
		return f.outcome, nil
	}
	score, err := scorer(ctx, job)
	if err != nil {
		return "", err
	}
	f.score = score
	return f.outcome, nil
}

func (f *fakeRecorder) RecordMetrics(_ context.Context, _ string, metrics map[string]any) (int, bool, error) {
	f.metrics = metrics
	return 2, f.metricsHit, f.metricsErr
}

func TestPipeline_Handle(t *testing.T) {
	job := queue.Job{ModelID: "clip-vit", BenchmarkName: "ucf", PromptCfgName: "p1"}
	runner := RunnerFunc(func(context.Context, queue.Job) (Result, error) {
		return Result{Score: "0.7", Metrics: map[string]any{"auc": 0.7}}, nil
	})

	tests := []struct {
		name        string
		recorder    *fakeRecorder
		runner      Runner
		job         queue.Job
		wantErr     bool
		wantScore   string
		wantMetrics bool
	}{
		{
			name:        "recorded with metrics",
			recorder:    &fakeRecorder{outcome: leaderboard.OutcomeRecorded, metricsHit: true},
			job:         job,
			wantScore:   "0.7",
			wantMetrics: true,
		},
		{
			name:     "already filled skips runner",
			recorder: &fakeRecorder{outcome: leaderboard.OutcomeAlreadyFilled},
			job:      job,
		},
		{
			name:        "metrics disabled is not an error",
			recorder:    &fakeRecorder{outcome: leaderboard.OutcomeRecorded, metricsErr: leaderboard.ErrMetricsDisabled},
			job:         job,
			wantScore:   "0.7",
			wantMetrics: true,
		},
		{
			name:     "metrics write failure",
			recorder: &fakeRecorder{outcome: leaderboard.OutcomeRecorded, metricsErr: errors.New("quota")},
			job:      job,
			wantErr:  true,
		},
		{
			name:     "runner failure",
			recorder: &fakeRecorder{outcome: leaderboard.OutcomeRecorded},
			runner: RunnerFunc(func(context.Context, queue.Job) (Result, error) {
				return Result{}, errors.New("oom")
			}),
			job:     job,
			wantErr: true,
		},
		{
			name:     "incomplete job",
			recorder: &fakeRecorder{outcome: leaderboard.OutcomeRecorded},
			job:      queue.Job{ModelID: "clip-vit"},
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := tt.runner
			if r == nil {
				r = runner
			}
			p, err := NewPipeline(r, tt.recorder, logger.Noop(), noop.NewTracerProvider().Tracer("test"))
			require.NoError(t, err)

			err = p.Handle(context.Background(), tt.job)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantScore, tt.recorder.score)
			assert.Equal(t, tt.wantMetrics, tt.recorder.metrics != nil)
		})
	}
}

func TestPipeline_HandleRecordsOnLeaderboard(t *testing.T) {
	tbl := memory.New()
	tbl.AddWorksheet(leaderboard.DefaultWorksheet, leaderboard.DefaultModelColumn, leaderboard.DefaultLinkColumn, leaderboard.DefaultDisplayColumn)
	tracer := noop.NewTracerProvider().Tracer("test")
	ctx := context.Background()

	recorder, err := leaderboard.NewRecorder(ctx, tbl, leaderboard.Config{}, logger.Noop(), tracer)
	require.NoError(t, err)

	runs := 0
	runner := RunnerFunc(func(context.Context, queue.Job) (Result, error) {
		runs++
		return Result{Score: "0.42"}, nil
	})
	p, err := NewPipeline(runner, recorder, logger.Noop(), tracer)
	require.NoError(t, err)

	job := queue.Job{ModelID: "clip-vit", BenchmarkName: "ucf", PromptCfgName: "p1"}
	require.NoError(t, p.Handle(ctx, job))
	require.NoError(t, p.Handle(ctx, job))
	assert.Equal(t, 1, runs, "second run finds the score already filled")

	board, err := leaderboard.NewBoard(ctx, tbl, leaderboard.Config{}, logger.Noop(), tracer)
	require.NoError(t, err)
	entries, err := board.Ranking(ctx, "ucf")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "clip-vit", entries[0].Model)
	assert.Equal(t, 0.42, entries[0].Score)
}
