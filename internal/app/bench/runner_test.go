package bench

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/jungseoik/abnormal-leaderboard/internal/domain/queue"
	"github.com/jungseoik/abnormal-leaderboard/pkg/common/logger"
)

func TestParseResult(t *testing.T) {
	tests := []struct {
		name    string
		out     string
		want    Result
		wantErr bool
	}{
		{
			name: "number score after log lines",
			out:  "loading model\n{\"score\": 0.91, \"metrics\": {\"f1\": 0.88}}\n\n",
			want: Result{Score: "0.91", Metrics: map[string]any{"f1": 0.88}},
		},
		{
			name: "string score",
			out:  `{"score": "87.5%"}`,
			want: Result{Score: "87.5%"},
		},
		{name: "empty output", out: "  \n", wantErr: true},
		{name: "missing score", out: `{"metrics": {}}`, wantErr: true},
		{name: "not json", out: "done", wantErr: true},
		{name: "bad score type", out: `{"score": [1]}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseResult([]byte(tt.out))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCommandRunner_Run(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}

	script := `test "$2" = clip-vit || exit 3; echo "running $4"; echo '{"score": 0.5}'`
	r, err := NewCommandRunner(CommandConfig{
		Command: []string{"sh", "-c", script, "bench"},
		Timeout: 10 * time.Second,
	}, logger.Noop(), noop.NewTracerProvider().Tracer("test"))
	require.NoError(t, err)

	res, err := r.Run(context.Background(), queue.Job{ModelID: "clip-vit", BenchmarkName: "ucf", PromptCfgName: "p1"})
	require.NoError(t, err)
	assert.Equal(t, "0.5", res.Score)

	_, err = r.Run(context.Background(), queue.Job{ModelID: "other", BenchmarkName: "ucf", PromptCfgName: "p1"})
	assert.Error(t, err, "non-zero exit is an error")
}

func TestNewCommandRunner_RequiresCommand(t *testing.T) {
	_, err := NewCommandRunner(CommandConfig{}, logger.Noop(), noop.NewTracerProvider().Tracer("test"))
	assert.Error(t, err)
}
