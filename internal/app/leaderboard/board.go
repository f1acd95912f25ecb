package leaderboard

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jungseoik/abnormal-leaderboard/internal/app/queue"
	"github.com/jungseoik/abnormal-leaderboard/internal/domain/sheet"
	"github.com/jungseoik/abnormal-leaderboard/pkg/common/logger"
)

// Entry is one model's score on a benchmark.
type Entry struct {
	Rank  int     `json:"rank"`
	Model string  `json:"model"`
	Link  string  `json:"link,omitempty"`
	Score float64 `json:"score"`
	Raw   string  `json:"raw"`
}

// Board is a read-only view of the leaderboard worksheet.
type Board struct {
	mu    sync.Mutex
	cfg   Config
	store *queue.Store

	tracer trace.Tracer
}

// NewBoard connects a Board to the leaderboard worksheet.
func NewBoard(
	ctx context.Context,
	table sheet.RemoteTable,
	cfg Config,
	logger *logger.Logger,
	tracer trace.Tracer,
) (*Board, error) {
	cfg = cfg.withDefaults()
	store, err := queue.NewStore(ctx, table, queue.StoreConfig{Worksheet: cfg.Worksheet, Column: cfg.ModelColumn}, logger, tracer)
	if err != nil {
		return nil, fmt.Errorf("connect leaderboard worksheet: %w", err)
	}
	return &Board{cfg: cfg, store: store, tracer: tracer}, nil
}

// Records returns every leaderboard row keyed by header.
func (b *Board) Records(ctx context.Context) ([]sheet.Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	records, err := b.store.Records(ctx)
	if err != nil {
		return nil, err
	}

	out := records[:0]
	for _, rec := range records {
		if strings.TrimSpace(rec[b.cfg.ModelColumn]) != "" {
			out = append(out, rec)
		}
	}
	return out, nil
}

// Benchmarks returns the score columns, i.e. every header that does not
// describe the model.
func (b *Board) Benchmarks(ctx context.Context) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	headers, err := b.store.Columns(ctx)
	if err != nil {
		return nil, err
	}

	info := b.cfg.infoColumns()
	benchmarks := make([]string, 0, len(headers))
	for _, h := range headers {
		if h != "" && !slices.Contains(info, h) {
			benchmarks = append(benchmarks, h)
		}
	}
	return benchmarks, nil
}

// Ranking orders the models that have a numeric score on benchmark from
// highest to lowest. Ties keep alphabetical model order and share a rank.
func (b *Board) Ranking(ctx context.Context, benchmark string) ([]Entry, error) {
	ctx, span := b.tracer.Start(ctx, "leaderboard_board.ranking",
		trace.WithAttributes(attribute.String("benchmark", benchmark)))
	defer span.End()

	benchmarks, err := b.Benchmarks(ctx)
	if err != nil {
		return nil, err
	}
	if !slices.Contains(benchmarks, benchmark) {
		return nil, &sheet.ColumnNotFoundError{Worksheet: b.cfg.Worksheet, Column: benchmark, Available: benchmarks}
	}

	records, err := b.Records(ctx)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(records))
	for _, rec := range records {
		raw := strings.TrimSpace(rec[benchmark])
		score, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			continue
		}
		entries = append(entries, Entry{
			Model: strings.TrimSpace(rec[b.cfg.ModelColumn]),
			Link:  rec[b.cfg.LinkColumn],
			Score: score,
			Raw:   raw,
		})
	}

	slices.SortStableFunc(entries, func(a, b Entry) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return strings.Compare(a.Model, b.Model)
	})
	for i := range entries {
		entries[i].Rank = i + 1
		if i > 0 && entries[i].Score == entries[i-1].Score {
			entries[i].Rank = entries[i-1].Rank
		}
	}

	span.SetAttributes(attribute.Int("entries", len(entries)))
	return entries, nil
}
