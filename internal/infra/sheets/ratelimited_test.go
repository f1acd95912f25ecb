package sheets

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/jungseoik/abnormal-leaderboard/internal/infra/sheets/memory"
	"github.com/jungseoik/abnormal-leaderboard/pkg/common"
)

func TestRateLimitedTable_Forwards(t *testing.T) {
	inner := memory.New()
	inner.AddWorksheet("flag", "huggingface_id")
	tbl := NewRateLimitedTable(inner, nil)
	ctx := context.Background()

	require.NoError(t, tbl.UpdateCell(ctx, "flag", 2, 1, "modelA"))
	require.NoError(t, tbl.UpdateColumnRange(ctx, "flag", 1, 3, []string{"modelB"}))

	col, err := tbl.ColumnValues(ctx, "flag", 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"huggingface_id", "modelA", "modelB"}, col)

	require.NoError(t, tbl.Reconnect(ctx))
	assert.Equal(t, 1, inner.Reconnects())
	assert.NoError(t, tbl.Close())
	assert.Same(t, inner, tbl.Unwrap())
}

func TestRateLimitedTable_BlocksWhenExhausted(t *testing.T) {
	inner := memory.New()
	inner.AddWorksheet("flag", "huggingface_id")
	tbl := NewRateLimitedTable(inner, common.NewRateLimiter(0.001, 1))

	_, err := tbl.HeaderRow(context.Background(), "flag")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = tbl.Worksheets(ctx)
	assert.Error(t, err)
}

func TestOpen(t *testing.T) {
	bootstrap := []WorksheetSpec{
		{Name: "flag", Headers: []string{"huggingface_id", "benchmark_name", "prompt_cfg_name"}},
		{Name: "model", Headers: []string{"Model name", "Model link", "Model"}},
	}
	tracer := noop.NewTracerProvider().Tracer("test")

	tests := []struct {
		name    string
		opts    Options
		wantErr bool
	}{
		{name: "memory", opts: Options{Backend: BackendMemory, Bootstrap: bootstrap}},
		{name: "default is memory", opts: Options{Bootstrap: bootstrap}},
		{name: "xlsx created from bootstrap", opts: Options{
			Backend:   BackendXLSX,
			XLSXPath:  filepath.Join(t.TempDir(), "board.xlsx"),
			Bootstrap: bootstrap,
		}},
		{name: "xlsx without path", opts: Options{Backend: BackendXLSX}, wantErr: true},
		{name: "unknown backend", opts: Options{Backend: "csv"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tbl, err := Open(context.Background(), tt.opts, tracer)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			defer tbl.Close()

			names, err := tbl.Worksheets(context.Background())
			require.NoError(t, err)
			assert.Equal(t, []string{"flag", "model"}, names)
		})
	}
}
