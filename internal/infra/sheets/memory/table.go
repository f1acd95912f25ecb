// Package memory provides an in-process RemoteTable used by tests, local
// development and the queuectl dry-run mode.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/jungseoik/abnormal-leaderboard/internal/domain/sheet"
)

// worksheet stores cells column-major so that each column keeps its own
// row extent, the same way a spreadsheet reports trailing cells.
type worksheet struct {
	name string
	cols [][]string
}

// Table is a mutex-guarded, in-memory RemoteTable.
type Table struct {
	mu     sync.RWMutex
	sheets []*worksheet

	failNext   atomic.Int32
	reconnects atomic.Int32
	writes     atomic.Int32
}

var _ sheet.RemoteTable = (*Table)(nil)
var _ sheet.Reconnector = (*Table)(nil)

// ErrInjected is returned by calls made to fail through FailNext.
var ErrInjected = errors.New("memory table: injected failure")

// New creates an empty table.
func New() *Table { return new(Table) }

// AddWorksheet creates a worksheet with the given header row, replacing any
// worksheet with the same name.
func (t *Table) AddWorksheet(name string, headers ...string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ws := &worksheet{name: name, cols: make([][]string, len(headers))}
	for i, h := range headers {
		ws.cols[i] = []string{h}
	}

	for i, existing := range t.sheets {
		if existing.name == name {
			t.sheets[i] = ws
			return
		}
	}
	t.sheets = append(t.sheets, ws)
}

// SetColumn overwrites the data rows (2..N) of the named column.
func (t *Table) SetColumn(worksheetName, column string, values ...string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	ws, err := t.lookup(worksheetName)
	if err != nil {
		return err
	}
	idx := sheet.IndexOf(headersOf(ws), column)
	if idx == 0 {
		return &sheet.ColumnNotFoundError{Worksheet: worksheetName, Column: column, Available: headersOf(ws)}
	}
	ws.cols[idx-1] = append([]string{column}, values...)
	return nil
}

// RowCount returns the extent of a column, header included.
func (t *Table) RowCount(worksheetName string, col int) int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ws, err := t.lookup(worksheetName)
	if err != nil || col < 1 || col > len(ws.cols) {
		return 0
	}
	return len(ws.cols[col-1])
}

// FailNext makes the next n table calls return ErrInjected.
func (t *Table) FailNext(n int) { t.failNext.Store(int32(n)) }

// Reconnects reports how many times Reconnect has been called.
func (t *Table) Reconnects() int { return int(t.reconnects.Load()) }

// Writes reports how many mutating calls have succeeded.
func (t *Table) Writes() int { return int(t.writes.Load()) }

// Reconnect is a no-op that counts invocations.
func (t *Table) Reconnect(ctx context.Context) error {
	t.reconnects.Add(1)
	return nil
}

func (t *Table) injected() error {
	for {
		n := t.failNext.Load()
		if n <= 0 {
			return nil
		}
		if t.failNext.CompareAndSwap(n, n-1) {
			return ErrInjected
		}
	}
}

func (t *Table) Worksheets(ctx context.Context) ([]string, error) {
	if err := t.injected(); err != nil {
		return nil, err
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	names := make([]string, len(t.sheets))
	for i, ws := range t.sheets {
		names[i] = ws.name
	}
	return names, nil
}

func (t *Table) HeaderRow(ctx context.Context, worksheetName string) ([]string, error) {
	if err := t.injected(); err != nil {
		return nil, err
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	ws, err := t.lookup(worksheetName)
	if err != nil {
		return nil, err
	}
	return headersOf(ws), nil
}

func (t *Table) ColumnValues(ctx context.Context, worksheetName string, col int) ([]string, error) {
	if err := t.injected(); err != nil {
		return nil, err
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	ws, err := t.lookup(worksheetName)
	if err != nil {
		return nil, err
	}
	if col < 1 || col > len(ws.cols) {
		return nil, nil
	}
	return append([]string(nil), ws.cols[col-1]...), nil
}

func (t *Table) AllRecords(ctx context.Context, worksheetName string) ([]sheet.Record, error) {
	if err := t.injected(); err != nil {
		return nil, err
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	ws, err := t.lookup(worksheetName)
	if err != nil {
		return nil, err
	}

	headers := headersOf(ws)
	rows := 0
	for _, c := range ws.cols {
		rows = max(rows, len(c)-1)
	}

	records := make([]sheet.Record, rows)
	for r := range records {
		rec := make(sheet.Record, len(headers))
		for c, h := range headers {
			if r+1 < len(ws.cols[c]) {
				rec[h] = ws.cols[c][r+1]
			} else {
				rec[h] = ""
			}
		}
		records[r] = rec
	}
	return records, nil
}

func (t *Table) UpdateCell(ctx context.Context, worksheetName string, row, col int, value string) error {
	if err := t.injected(); err != nil {
		return err
	}
	if row < 1 || col < 1 {
		return fmt.Errorf("invalid cell %d,%d", row, col)
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	ws, err := t.lookup(worksheetName)
	if err != nil {
		return err
	}
	ws.set(row, col, value)
	t.writes.Add(1)
	return nil
}

func (t *Table) UpdateColumnRange(ctx context.Context, worksheetName string, col, fromRow int, values []string) error {
	if err := t.injected(); err != nil {
		return err
	}
	if fromRow < 1 || col < 1 {
		return fmt.Errorf("invalid range start %d,%d", fromRow, col)
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	ws, err := t.lookup(worksheetName)
	if err != nil {
		return err
	}
	for i, v := range values {
		ws.set(fromRow+i, col, v)
	}
	t.writes.Add(1)
	return nil
}

func (t *Table) lookup(name string) (*worksheet, error) {
	for _, ws := range t.sheets {
		if ws.name == name {
			return ws, nil
		}
	}
	names := make([]string, len(t.sheets))
	for i, ws := range t.sheets {
		names[i] = ws.name
	}
	return nil, &sheet.WorksheetNotFoundError{Name: name, Available: names}
}

func headersOf(ws *worksheet) []string {
	headers := make([]string, len(ws.cols))
	for i, c := range ws.cols {
		if len(c) > 0 {
			headers[i] = c[0]
		}
	}
	return headers
}

func (ws *worksheet) set(row, col int, value string) {
	for len(ws.cols) < col {
		ws.cols = append(ws.cols, []string{""})
	}
	c := ws.cols[col-1]
	for len(c) < row {
		c = append(c, "")
	}
	c[row-1] = value
	ws.cols[col-1] = c
}
