// Package sheets opens the configured RemoteTable backend and wraps it with
// client-side rate limiting.
package sheets

import (
	"context"

	"github.com/jungseoik/abnormal-leaderboard/internal/domain/sheet"
	"github.com/jungseoik/abnormal-leaderboard/pkg/common"
)

var (
	_ sheet.RemoteTable = (*RateLimitedTable)(nil)
	_ sheet.Reconnector = (*RateLimitedTable)(nil)
	_ sheet.Closer      = (*RateLimitedTable)(nil)
)

// RateLimitedTable delays every call to the wrapped table until the limiter
// admits it. Spreadsheet APIs enforce per-minute quotas, so the worker and
// the API each hold one of these around their backend.
type RateLimitedTable struct {
	next    sheet.RemoteTable
	limiter *common.RateLimiter
}

// NewRateLimitedTable wraps next. A nil limiter leaves calls unthrottled.
func NewRateLimitedTable(next sheet.RemoteTable, limiter *common.RateLimiter) *RateLimitedTable {
	if limiter == nil {
		limiter = common.NewRateLimiter(0, 1)
	}
	return &RateLimitedTable{next: next, limiter: limiter}
}

// Unwrap returns the underlying table.
func (t *RateLimitedTable) Unwrap() sheet.RemoteTable { return t.next }

func (t *RateLimitedTable) Worksheets(ctx context.Context) ([]string, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return t.next.Worksheets(ctx)
}

func (t *RateLimitedTable) HeaderRow(ctx context.Context, worksheet string) ([]string, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return t.next.HeaderRow(ctx, worksheet)
}

func (t *RateLimitedTable) ColumnValues(ctx context.Context, worksheet string, col int) ([]string, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return t.next.ColumnValues(ctx, worksheet, col)
}

func (t *RateLimitedTable) AllRecords(ctx context.Context, worksheet string) ([]sheet.Record, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return t.next.AllRecords(ctx, worksheet)
}

func (t *RateLimitedTable) UpdateCell(ctx context.Context, worksheet string, row, col int, value string) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}
	return t.next.UpdateCell(ctx, worksheet, row, col, value)
}

func (t *RateLimitedTable) UpdateColumnRange(ctx context.Context, worksheet string, col, fromRow int, values []string) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}
	return t.next.UpdateColumnRange(ctx, worksheet, col, fromRow, values)
}

// Reconnect forwards to the wrapped table when it supports reconnection.
func (t *RateLimitedTable) Reconnect(ctx context.Context) error {
	r, ok := t.next.(sheet.Reconnector)
	if !ok {
		return nil
	}
	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}
	return r.Reconnect(ctx)
}

// Close forwards to the wrapped table when it owns resources.
func (t *RateLimitedTable) Close() error {
	if c, ok := t.next.(sheet.Closer); ok {
		return c.Close()
	}
	return nil
}
