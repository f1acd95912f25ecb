package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/jungseoik/abnormal-leaderboard/internal/app/leaderboard"
	"github.com/jungseoik/abnormal-leaderboard/internal/app/submission"
	domain "github.com/jungseoik/abnormal-leaderboard/internal/domain/queue"
	"github.com/jungseoik/abnormal-leaderboard/internal/domain/sheet"
	"github.com/jungseoik/abnormal-leaderboard/pkg/common/logger"
)

type fakeQueue struct {
	jobs      []domain.Job
	submitErr error
	cancelled map[string][]int
}

func (f *fakeQueue) Submit(_ context.Context, req submission.Request) (submission.Submitted, error) {
	if f.submitErr != nil {
		return submission.Submitted{}, f.submitErr
	}
	job := domain.Job{ModelID: submission.NormalizeModelID(req.ModelID), BenchmarkName: req.BenchmarkName, PromptCfgName: req.PromptCfgName}
	f.jobs = append(f.jobs, job)
	return submission.Submitted{Job: job, Row: len(f.jobs) + 1}, nil
}

func (f *fakeQueue) Queue(context.Context) ([]domain.Job, error) { return f.jobs, nil }

func (f *fakeQueue) Cancel(_ context.Context, model string) ([]int, error) {
	rows, ok := f.cancelled[model]
	if !ok {
		return nil, fmt.Errorf("%w: %s", submission.ErrNotQueued, model)
	}
	return rows, nil
}

type fakeBoard struct {
	err error
}

func (f *fakeBoard) Records(context.Context) ([]sheet.Record, error) {
	return []sheet.Record{{"Model name": "clip", "ucf": "0.9"}}, f.err
}

func (f *fakeBoard) Benchmarks(context.Context) ([]string, error) { return []string{"ucf"}, f.err }

func (f *fakeBoard) Ranking(_ context.Context, benchmark string) ([]leaderboard.Entry, error) {
	if benchmark != "ucf" {
		return nil, &sheet.ColumnNotFoundError{Column: benchmark}
	}
	return []leaderboard.Entry{{Rank: 1, Model: "clip", Score: 0.9, Raw: "0.9"}}, nil
}

type recordingMetrics struct {
	routes []string
}

func (m *recordingMetrics) IncMessagePublished(context.Context, string) {}
func (m *recordingMetrics) IncMessageConsumed(context.Context, string)  {}
func (m *recordingMetrics) IncPublishError(context.Context, string)     {}
func (m *recordingMetrics) IncConsumeError(context.Context, string)     {}
func (m *recordingMetrics) IncRequestsTotal(_ context.Context, method, route string, status int) {
	m.routes = append(m.routes, fmt.Sprintf("%s %s %d", method, route, status))
}
func (m *recordingMetrics) ObserveRequestDuration(context.Context, string, string, time.Duration) {}
func (m *recordingMetrics) ObserveQueueDepth(func(context.Context) (int, error)) error { return nil }

func newTestServer(t *testing.T, q QueueService, b Leaderboard, m APIMetrics) http.Handler {
	t.Helper()
	s, err := NewServer(Config{Build: "test"}, q, b, m, logger.Noop(), noop.NewTracerProvider().Tracer("test"))
	require.NoError(t, err)
	return s.Handler()
}

func do(t *testing.T, h http.Handler, method, target, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func TestServer_Routes(t *testing.T) {
	q := &fakeQueue{cancelled: map[string][]int{"clip": {2}}}
	h := newTestServer(t, q, &fakeBoard{}, nil)

	tests := []struct {
		name       string
		method     string
		target     string
		body       string
		wantStatus int
		check      func(t *testing.T, body map[string]any)
	}{
		{
			name: "health", method: http.MethodGet, target: "/v1/health", wantStatus: http.StatusOK,
			check: func(t *testing.T, body map[string]any) { assert.Equal(t, "test", body["build"]) },
		},
		{name: "readiness", method: http.MethodGet, target: "/v1/readiness", wantStatus: http.StatusOK},
		{
			name: "submit", method: http.MethodPost, target: "/v1/queue",
			body:       `{"model_id":"org/clip","benchmark_name":"ucf","prompt_cfg_name":"p1"}`,
			wantStatus: http.StatusCreated,
			check: func(t *testing.T, body map[string]any) {
				assert.EqualValues(t, 2, body["row"])
			},
		},
		{name: "submit bad json", method: http.MethodPost, target: "/v1/queue", body: `{`, wantStatus: http.StatusBadRequest},
		{
			name: "list queue", method: http.MethodGet, target: "/v1/queue", wantStatus: http.StatusOK,
			check: func(t *testing.T, body map[string]any) { assert.EqualValues(t, 1, body["count"]) },
		},
		{name: "cancel", method: http.MethodDelete, target: "/v1/queue/clip", wantStatus: http.StatusOK},
		{name: "cancel unknown", method: http.MethodDelete, target: "/v1/queue/ghost", wantStatus: http.StatusNotFound},
		{
			name: "leaderboard records", method: http.MethodGet, target: "/v1/leaderboard", wantStatus: http.StatusOK,
			check: func(t *testing.T, body map[string]any) { assert.Len(t, body["records"], 1) },
		},
		{
			name: "leaderboard ranking", method: http.MethodGet, target: "/v1/leaderboard?benchmark=ucf", wantStatus: http.StatusOK,
			check: func(t *testing.T, body map[string]any) { assert.Len(t, body["entries"], 1) },
		},
		{name: "unknown benchmark", method: http.MethodGet, target: "/v1/leaderboard?benchmark=nope", wantStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, body := do(t, h, tt.method, tt.target, tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			if tt.check != nil {
				tt.check(t, body)
			}
		})
	}
}

func TestServer_SubmitValidationError(t *testing.T) {
	verr := fmt.Errorf("%w: bad", submission.ErrInvalidRequest)
	h := newTestServer(t, &fakeQueue{submitErr: verr}, &fakeBoard{}, nil)

	rec, body := do(t, h, http.MethodPost, "/v1/queue", `{"model_id":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid submission", body["error"])
}

func TestServer_ReadinessFailsWhenBoardUnreachable(t *testing.T) {
	h := newTestServer(t, &fakeQueue{}, &fakeBoard{err: errors.New("quota exceeded")}, nil)

	rec, _ := do(t, h, http.MethodGet, "/v1/readiness", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec, _ = do(t, h, http.MethodGet, "/v1/leaderboard", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestServer_RecordsRoutePatterns(t *testing.T) {
	m := new(recordingMetrics)
	h := newTestServer(t, &fakeQueue{cancelled: map[string][]int{}}, &fakeBoard{}, m)

	do(t, h, http.MethodDelete, "/v1/queue/clip", "")
	require.Len(t, m.routes, 1)
	assert.Equal(t, "DELETE /v1/queue/{model} 404", m.routes[0])
}

func TestNewServer_RequiresDependencies(t *testing.T) {
	_, err := NewServer(Config{}, nil, &fakeBoard{}, nil, logger.Noop(), noop.NewTracerProvider().Tracer("test"))
	assert.Error(t, err)
}
