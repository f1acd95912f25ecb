package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jungseoik/abnormal-leaderboard/internal/domain/sheet"
	"github.com/jungseoik/abnormal-leaderboard/internal/infra/storage"
)

func setupTable(t *testing.T) (*Table, func()) {
	t.Helper()

	pool, cleanup := storage.SetupTestContainer(t)
	tbl := NewTable(pool, storage.NoOpTracer())
	require.NoError(t, tbl.CreateWorksheet(context.Background(), "flag", "huggingface_id", "benchmark_name"))
	return tbl, cleanup
}

func TestTable_WorksheetsAndHeaders(t *testing.T) {
	t.Parallel()

	tbl, cleanup := setupTable(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, tbl.CreateWorksheet(ctx, "model", "Model name"))
	// Re-creating is a no-op and keeps the original header row.
	require.NoError(t, tbl.CreateWorksheet(ctx, "flag", "other"))

	names, err := tbl.Worksheets(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"flag", "model"}, names)

	headers, err := tbl.HeaderRow(ctx, "flag")
	require.NoError(t, err)
	assert.Equal(t, []string{"huggingface_id", "benchmark_name"}, headers)

	_, err = tbl.HeaderRow(ctx, "missing")
	assert.ErrorIs(t, err, sheet.ErrWorksheetNotFound)
}

func TestTable_CellsAndRanges(t *testing.T) {
	t.Parallel()

	tbl, cleanup := setupTable(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, tbl.UpdateCell(ctx, "flag", 3, 1, "modelB"))
	require.NoError(t, tbl.UpdateColumnRange(ctx, "flag", 2, 2, []string{"bench", ""}))

	values, err := tbl.ColumnValues(ctx, "flag", 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"huggingface_id", "", "modelB"}, values)

	values, err = tbl.ColumnValues(ctx, "flag", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"benchmark_name", "bench", ""}, values)

	records, err := tbl.AllRecords(ctx, "flag")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, sheet.Record{"huggingface_id": "", "benchmark_name": "bench"}, records[0])
	assert.Equal(t, sheet.Record{"huggingface_id": "modelB", "benchmark_name": ""}, records[1])

	// Overwrites are upserts.
	require.NoError(t, tbl.UpdateCell(ctx, "flag", 3, 1, "modelC"))
	values, err = tbl.ColumnValues(ctx, "flag", 1)
	require.NoError(t, err)
	assert.Equal(t, "modelC", values[2])
}
