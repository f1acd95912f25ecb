package leaderboard

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/jungseoik/abnormal-leaderboard/internal/domain/sheet"
	"github.com/jungseoik/abnormal-leaderboard/pkg/common/logger"
)

func TestBoard_Ranking(t *testing.T) {
	tbl := newTestTable()
	require.NoError(t, tbl.SetColumn(DefaultWorksheet, DefaultModelColumn, "a", "b", "c", "d", ""))
	require.NoError(t, tbl.SetColumn(DefaultWorksheet, "bench-a", "0.5", "0.9", "n/a", "0.9", "1.0"))

	board, err := NewBoard(context.Background(), tbl, Config{}, logger.Noop(), noop.NewTracerProvider().Tracer("test"))
	require.NoError(t, err)
	ctx := context.Background()

	benchmarks, err := board.Benchmarks(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"bench-a"}, benchmarks)

	records, err := board.Records(ctx)
	require.NoError(t, err)
	assert.Len(t, records, 4, "rows without a model are skipped")

	entries, err := board.Ranking(ctx, "bench-a")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, []Entry{
		{Rank: 1, Model: "b", Score: 0.9, Raw: "0.9"},
		{Rank: 1, Model: "d", Score: 0.9, Raw: "0.9"},
		{Rank: 3, Model: "a", Score: 0.5, Raw: "0.5"},
	}, entries)

	_, err = board.Ranking(ctx, DefaultLinkColumn)
	assert.ErrorIs(t, err, sheet.ErrColumnNotFound)
}
