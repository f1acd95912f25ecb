package submission

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/jungseoik/abnormal-leaderboard/internal/app/queue"
	"github.com/jungseoik/abnormal-leaderboard/internal/domain/events"
	domain "github.com/jungseoik/abnormal-leaderboard/internal/domain/queue"
	"github.com/jungseoik/abnormal-leaderboard/internal/infra/eventbus/memory"
	sheetmem "github.com/jungseoik/abnormal-leaderboard/internal/infra/sheets/memory"
	"github.com/jungseoik/abnormal-leaderboard/pkg/common/logger"
)

type mockAPIMetrics struct {
	submissions, cancellations, rejected atomic.Int32
}

func (m *mockAPIMetrics) IncSubmissions()         { m.submissions.Add(1) }
func (m *mockAPIMetrics) IncCancellations()       { m.cancellations.Add(1) }
func (m *mockAPIMetrics) IncRejectedSubmissions() { m.rejected.Add(1) }

type fixture struct {
	tbl     *sheetmem.Table
	svc     *Service
	metrics *mockAPIMetrics
	events  []events.EventType
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	tracer := noop.NewTracerProvider().Tracer("test")

	tbl := sheetmem.New()
	tbl.AddWorksheet("flag", domain.DefaultModelColumn, domain.DefaultBenchmarkColumn, domain.DefaultPromptCfgColumn)

	store, err := queue.NewStore(ctx, tbl, queue.StoreConfig{Worksheet: "flag", Column: domain.DefaultModelColumn}, logger.Noop(), tracer)
	require.NoError(t, err)

	f := &fixture{tbl: tbl, metrics: new(mockAPIMetrics)}

	broker := memory.NewBroker()
	t.Cleanup(func() { _ = broker.Close() })
	require.NoError(t, broker.Subscribe(ctx, nil, func(_ context.Context, env events.EventEnvelope) error {
		f.events = append(f.events, env.Type)
		return nil
	}))

	f.svc, err = NewService(store, Config{Worksheet: "flag"}, memory.NewPublisher(broker), f.metrics, logger.Noop(), tracer)
	require.NoError(t, err)
	return f
}

func (f *fixture) column(t *testing.T, col int) []string {
	t.Helper()
	values, err := f.tbl.ColumnValues(context.Background(), "flag", col)
	require.NoError(t, err)
	return values[1:]
}

func TestNormalizeModelID(t *testing.T) {
	tests := []struct{ in, want string }{
		{in: "PIA-SPACE-LAB/T2V_CLIP4Clip", want: "T2V_CLIP4Clip"},
		{in: "  clip  ", want: "clip"},
		{in: "a/b/c", want: "c"},
		{in: "", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeModelID(tt.in))
		})
	}
}

func TestService_SubmitAlignsColumns(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	got, err := f.svc.Submit(ctx, Request{ModelID: "PIA-SPACE-LAB/clip", BenchmarkName: "ucf", PromptCfgName: "p1"})
	require.NoError(t, err)
	assert.Equal(t, Submitted{Job: domain.Job{ModelID: "clip", BenchmarkName: "ucf", PromptCfgName: "p1"}, Row: 2}, got)

	_, err = f.svc.Submit(ctx, Request{ModelID: "owl", BenchmarkName: "xd", PromptCfgName: "p2"})
	require.NoError(t, err)

	assert.Equal(t, []string{"clip", "owl"}, f.column(t, 1))
	assert.Equal(t, []string{"ucf", "xd"}, f.column(t, 2))
	assert.Equal(t, []string{"p1", "p2"}, f.column(t, 3))

	jobs, err := f.svc.Queue(ctx)
	require.NoError(t, err)
	assert.Equal(t, []domain.Job{
		{ModelID: "clip", BenchmarkName: "ucf", PromptCfgName: "p1"},
		{ModelID: "owl", BenchmarkName: "xd", PromptCfgName: "p2"},
	}, jobs)

	assert.EqualValues(t, 2, f.metrics.submissions.Load())
	assert.Equal(t, []events.EventType{domain.EventTypeJobSubmitted, domain.EventTypeJobSubmitted}, f.events)
}

func TestService_SubmitRejectsInvalid(t *testing.T) {
	tests := []struct {
		name  string
		req   Request
		field string
	}{
		{name: "missing model", req: Request{BenchmarkName: "ucf", PromptCfgName: "p1"}, field: "ModelID"},
		{name: "bad model id", req: Request{ModelID: "org/bad id!", BenchmarkName: "ucf", PromptCfgName: "p1"}, field: "ModelID"},
		{name: "missing benchmark", req: Request{ModelID: "clip", PromptCfgName: "p1"}, field: "BenchmarkName"},
		{name: "missing prompt cfg", req: Request{ModelID: "clip", BenchmarkName: "ucf"}, field: "PromptCfgName"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)

			_, err := f.svc.Submit(context.Background(), tt.req)
			require.ErrorIs(t, err, ErrInvalidRequest)
			assert.Contains(t, ValidationErrors(err), tt.field)
			assert.EqualValues(t, 1, f.metrics.rejected.Load())
			assert.Empty(t, f.column(t, 1))
		})
	}
}

func TestService_CancelKeepsRowsAligned(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, req := range []Request{
		{ModelID: "a", BenchmarkName: "b1", PromptCfgName: "p1"},
		{ModelID: "x", BenchmarkName: "b2", PromptCfgName: "p2"},
		{ModelID: "c", BenchmarkName: "b3", PromptCfgName: "p3"},
		{ModelID: "x", BenchmarkName: "b4", PromptCfgName: "p4"},
	} {
		_, err := f.svc.Submit(ctx, req)
		require.NoError(t, err)
	}

	rows, err := f.svc.Cancel(ctx, "org/x")
	require.NoError(t, err)
	assert.Equal(t, []int{3, 5}, rows)

	assert.Equal(t, []string{"a", "c", "", ""}, f.column(t, 1))
	assert.Equal(t, []string{"b1", "b3", "", ""}, f.column(t, 2))
	assert.Equal(t, []string{"p1", "p3", "", ""}, f.column(t, 3))

	_, err = f.svc.Cancel(ctx, "x")
	assert.ErrorIs(t, err, ErrNotQueued)
	assert.EqualValues(t, 1, f.metrics.cancellations.Load())
	assert.Contains(t, f.events, domain.EventTypeJobCancelled)

	got, err := f.svc.Submit(ctx, Request{ModelID: "d", BenchmarkName: "b5", PromptCfgName: "p5"})
	require.NoError(t, err)
	assert.Equal(t, 4, got.Row, "freed rows are reused")
}

// pollingTable lets a reader look at the worksheet after every single cell
// write, the way a dispatcher polling the same sheet would.
type pollingTable struct {
	*sheetmem.Table
	afterWrite func()
}

func (p *pollingTable) UpdateCell(ctx context.Context, worksheet string, row, col int, value string) error {
	if err := p.Table.UpdateCell(ctx, worksheet, row, col, value); err != nil {
		return err
	}
	p.afterWrite()
	return nil
}

func TestService_SubmitNeverExposesHalfWrittenRow(t *testing.T) {
	ctx := context.Background()
	tracer := noop.NewTracerProvider().Tracer("test")

	mem := sheetmem.New()
	mem.AddWorksheet("flag", domain.DefaultModelColumn, domain.DefaultBenchmarkColumn, domain.DefaultPromptCfgColumn)

	var writes int
	var exposed []string
	tbl := &pollingTable{Table: mem}
	tbl.afterWrite = func() {
		writes++
		records, err := mem.AllRecords(ctx, "flag")
		require.NoError(t, err)
		for i, rec := range records {
			if rec[domain.DefaultModelColumn] == "" {
				continue
			}
			if rec[domain.DefaultBenchmarkColumn] == "" || rec[domain.DefaultPromptCfgColumn] == "" {
				exposed = append(exposed, fmt.Sprintf("write %d: row %d %v", writes, i+2, rec))
			}
		}
	}

	store, err := queue.NewStore(ctx, tbl, queue.StoreConfig{Worksheet: "flag", Column: domain.DefaultModelColumn}, logger.Noop(), tracer)
	require.NoError(t, err)
	svc, err := NewService(store, Config{Worksheet: "flag"}, nil, nil, logger.Noop(), tracer)
	require.NoError(t, err)

	for _, req := range []Request{
		{ModelID: "clip", BenchmarkName: "ucf", PromptCfgName: "p1"},
		{ModelID: "owl", BenchmarkName: "xd", PromptCfgName: "p2"},
	} {
		_, err := svc.Submit(ctx, req)
		require.NoError(t, err)
	}

	assert.Equal(t, 6, writes)
	assert.Empty(t, exposed, "a model became visible before its sibling cells")

	jobs, err := svc.Queue(ctx)
	require.NoError(t, err)
	assert.Equal(t, []domain.Job{
		{ModelID: "clip", BenchmarkName: "ucf", PromptCfgName: "p1"},
		{ModelID: "owl", BenchmarkName: "xd", PromptCfgName: "p2"},
	}, jobs)
}
