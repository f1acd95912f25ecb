package xlsx

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/jungseoik/abnormal-leaderboard/internal/domain/sheet"
)

func newWorkbook(t *testing.T) (*Table, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "leaderboard.xlsx")
	tbl, err := Create(path, []string{"flag", "model"}, map[string][]string{
		"flag":  {"huggingface_id", "benchmark_name", "prompt_cfg_name"},
		"model": {"Model name"},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = tbl.Close() })
	return tbl, path
}

func TestTable_Structure(t *testing.T) {
	tbl, _ := newWorkbook(t)
	ctx := context.Background()

	names, err := tbl.Worksheets(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"flag", "model"}, names)

	headers, err := tbl.HeaderRow(ctx, "flag")
	require.NoError(t, err)
	assert.Equal(t, []string{"huggingface_id", "benchmark_name", "prompt_cfg_name"}, headers)

	_, err = tbl.HeaderRow(ctx, "missing")
	assert.ErrorIs(t, err, sheet.ErrWorksheetNotFound)
}

func TestTable_WritesArePersisted(t *testing.T) {
	tbl, path := newWorkbook(t)
	ctx := context.Background()

	require.NoError(t, tbl.UpdateColumnRange(ctx, "flag", 1, 2, []string{"modelA", "modelB"}))
	require.NoError(t, tbl.UpdateCell(ctx, "flag", 2, 2, "vad_bench"))

	values, err := tbl.ColumnValues(ctx, "flag", 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"huggingface_id", "modelA", "modelB"}, values)

	records, err := tbl.AllRecords(ctx, "flag")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "vad_bench", records[0]["benchmark_name"])
	assert.Equal(t, "", records[1]["benchmark_name"])

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()
	v, err := f.GetCellValue("flag", "A3")
	require.NoError(t, err)
	assert.Equal(t, "modelB", v)
}

func TestTable_ReconnectRereadsFile(t *testing.T) {
	tbl, path := newWorkbook(t)
	ctx := context.Background()

	other, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, other.UpdateCell(ctx, "model", 2, 1, "clip"))
	require.NoError(t, other.Close())

	require.NoError(t, tbl.Reconnect(ctx))

	values, err := tbl.ColumnValues(ctx, "model", 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"Model name", "clip"}, values)
}
