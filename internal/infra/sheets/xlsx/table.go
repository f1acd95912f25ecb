// Package xlsx implements RemoteTable over a local Excel workbook, which lets
// the leaderboard run from a spreadsheet file without a hosted backend.
package xlsx

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/xuri/excelize/v2"

	"github.com/jungseoik/abnormal-leaderboard/internal/domain/sheet"
)

var (
	_ sheet.RemoteTable = (*Table)(nil)
	_ sheet.Reconnector = (*Table)(nil)
	_ sheet.Closer      = (*Table)(nil)
)

// Table reads and writes a workbook on disk. Every write is saved
// immediately so other processes see it on their next reconnect.
//
// A column's extent is the worksheet's row count, since the workbook does not
// keep trailing blank cells.
type Table struct {
	path string

	mu sync.Mutex
	f  *excelize.File
}

// Open opens the workbook at path.
func Open(path string) (*Table, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook %s: %w", path, err)
	}
	return &Table{path: path, f: f}, nil
}

// Create writes a new workbook at path with one worksheet per entry of
// headers, in the order given by names.
func Create(path string, names []string, headers map[string][]string) (*Table, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("create workbook %s: no worksheets", path)
	}

	f := excelize.NewFile()
	defaultSheet := f.GetSheetName(0)
	for i, name := range names {
		if i == 0 {
			if err := f.SetSheetName(defaultSheet, name); err != nil {
				return nil, fmt.Errorf("rename worksheet: %w", err)
			}
		} else if _, err := f.NewSheet(name); err != nil {
			return nil, fmt.Errorf("add worksheet %s: %w", name, err)
		}
		for c, h := range headers[name] {
			cell, err := excelize.CoordinatesToCellName(c+1, 1)
			if err != nil {
				return nil, err
			}
			if err := f.SetCellStr(name, cell, h); err != nil {
				return nil, fmt.Errorf("write header %s!%s: %w", name, cell, err)
			}
		}
	}

	if err := f.SaveAs(path); err != nil {
		return nil, fmt.Errorf("save workbook %s: %w", path, err)
	}
	return &Table{path: path, f: f}, nil
}

// Reconnect discards the in-memory workbook and re-reads it from disk.
func (t *Table) Reconnect(ctx context.Context) error {
	f, err := excelize.OpenFile(t.path)
	if err != nil {
		return fmt.Errorf("reopen workbook %s: %w", t.path, err)
	}

	t.mu.Lock()
	old := t.f
	t.f = f
	t.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	return nil
}

// Close releases the workbook.
func (t *Table) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.f.Close()
}

func (t *Table) Worksheets(ctx context.Context) ([]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.f.GetSheetList(), nil
}

func (t *Table) HeaderRow(ctx context.Context, worksheet string) ([]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rows, err := t.rows(worksheet)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return slices.Clone(rows[0]), nil
}

func (t *Table) ColumnValues(ctx context.Context, worksheet string, col int) ([]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rows, err := t.rows(worksheet)
	if err != nil {
		return nil, err
	}

	values := make([]string, len(rows))
	for i, row := range rows {
		if col-1 < len(row) {
			values[i] = row[col-1]
		}
	}
	return values, nil
}

func (t *Table) AllRecords(ctx context.Context, worksheet string) ([]sheet.Record, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rows, err := t.rows(worksheet)
	if err != nil {
		return nil, err
	}
	if len(rows) < 2 {
		return nil, nil
	}

	headers := rows[0]
	records := make([]sheet.Record, 0, len(rows)-1)
	for _, row := range rows[1:] {
		rec := make(sheet.Record, len(headers))
		for c, h := range headers {
			if c < len(row) {
				rec[h] = row[c]
			} else {
				rec[h] = ""
			}
		}
		records = append(records, rec)
	}
	return records, nil
}

func (t *Table) UpdateCell(ctx context.Context, worksheet string, row, col int, value string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.requireWorksheet(worksheet); err != nil {
		return err
	}
	if err := t.set(worksheet, row, col, value); err != nil {
		return err
	}
	return t.save()
}

func (t *Table) UpdateColumnRange(ctx context.Context, worksheet string, col, fromRow int, values []string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.requireWorksheet(worksheet); err != nil {
		return err
	}
	for i, v := range values {
		if err := t.set(worksheet, fromRow+i, col, v); err != nil {
			return err
		}
	}
	return t.save()
}

func (t *Table) rows(worksheet string) ([][]string, error) {
	if err := t.requireWorksheet(worksheet); err != nil {
		return nil, err
	}
	rows, err := t.f.GetRows(worksheet)
	if err != nil {
		return nil, fmt.Errorf("read worksheet %s: %w", worksheet, err)
	}
	return rows, nil
}

func (t *Table) requireWorksheet(worksheet string) error {
	names := t.f.GetSheetList()
	if !slices.Contains(names, worksheet) {
		return &sheet.WorksheetNotFoundError{Name: worksheet, Available: names}
	}
	return nil
}

func (t *Table) set(worksheet string, row, col int, value string) error {
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return fmt.Errorf("invalid cell %d,%d: %w", row, col, err)
	}
	if err := t.f.SetCellStr(worksheet, cell, value); err != nil {
		return fmt.Errorf("write %s!%s: %w", worksheet, cell, err)
	}
	return nil
}

func (t *Table) save() error {
	if err := t.f.SaveAs(t.path); err != nil {
		return fmt.Errorf("save workbook %s: %w", t.path, err)
	}
	return nil
}
