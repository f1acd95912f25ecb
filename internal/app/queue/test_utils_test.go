package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/jungseoik/abnormal-leaderboard/internal/domain/events"
	"github.com/jungseoik/abnormal-leaderboard/internal/infra/sheets/memory"
	"github.com/jungseoik/abnormal-leaderboard/pkg/common/logger"
)

const testWorksheet = "flag"

func testTracer() trace.Tracer { return noop.NewTracerProvider().Tracer("test") }

// newTestTable seeds the job queue worksheet and an unrelated worksheet.
func newTestTable() *memory.Table {
	tbl := memory.New()
	tbl.AddWorksheet(testWorksheet, "huggingface_id", "benchmark_name", "prompt_cfg_name")
	tbl.AddWorksheet("model", "Model name", "Model link")
	return tbl
}

func newTestStore(t *testing.T, tbl *memory.Table) *Store {
	t.Helper()

	s, err := NewStore(context.Background(), tbl, StoreConfig{
		Worksheet:         testWorksheet,
		Column:            "huggingface_id",
		ReconnectAttempts: 2,
		ReconnectInterval: time.Millisecond,
	}, logger.Noop(), testTracer())
	require.NoError(t, err)
	return s
}

// fakeValueSource is a ValueSource whose result is controlled by the test.
type fakeValueSource struct {
	mu     sync.Mutex
	values []string
	err    error
	calls  atomic.Int32
}

func (f *fakeValueSource) Values(context.Context) ([]string, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.values...), f.err
}

func (f *fakeValueSource) set(values []string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values, f.err = values, err
}

type mockMonitorMetrics struct {
	pollErrors atomic.Int32
	hasData    atomic.Bool
}

func (m *mockMonitorMetrics) IncPollErrors()         { m.pollErrors.Add(1) }
func (m *mockMonitorMetrics) SetQueueHasData(v bool) { m.hasData.Store(v) }

type mockJobMetrics struct {
	dispatched atomic.Int32
	failed     atomic.Int32
	partial    atomic.Int32
	tracked    atomic.Int32
}

func (m *mockJobMetrics) IncJobsDispatched() { m.dispatched.Add(1) }
func (m *mockJobMetrics) IncJobsFailed()     { m.failed.Add(1) }
func (m *mockJobMetrics) IncPartialJobs()    { m.partial.Add(1) }
func (m *mockJobMetrics) TrackJob(f func() error) error {
	m.tracked.Add(1)
	return f()
}

type mockPublisher struct {
	mu     sync.Mutex
	events []events.EventType
}

func (p *mockPublisher) PublishDomainEvent(ctx context.Context, evt events.DomainEvent, _ ...events.PublishOption) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt.EventType())
	return nil
}

func (p *mockPublisher) types() []events.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]events.EventType(nil), p.events...)
}
