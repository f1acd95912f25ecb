// Package queue implements the sheet-backed job queue: a FIFO store over
// spreadsheet columns, a change monitor that polls it and a dispatcher that
// drains one job at a time while the monitor is paused.
package queue

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jungseoik/abnormal-leaderboard/internal/domain/sheet"
	"github.com/jungseoik/abnormal-leaderboard/pkg/common/logger"
)

// StoreConfig binds a Store to its initial worksheet and column.
type StoreConfig struct {
	Worksheet string
	Column    string

	// ReconnectAttempts bounds the retries EnsureConnected makes after a
	// failed probe. Defaults to 3.
	ReconnectAttempts uint64
	// ReconnectInterval is the initial backoff between reconnect attempts.
	// Defaults to 500ms.
	ReconnectInterval time.Duration
}

// Store exposes FIFO semantics over one column of a RemoteTable worksheet.
//
// A Store is not safe for concurrent use. The worker shares one Store between
// the Monitor and the Dispatcher and relies on the pause/resume handshake to
// keep their calls from overlapping.
type Store struct {
	table sheet.RemoteTable
	cfg   StoreConfig

	worksheet string
	column    string
	colIndex  int
	headers   []string

	logger *logger.Logger
	tracer trace.Tracer
}

// NewStore creates a Store and connects it to cfg.Worksheet and cfg.Column,
// falling back to the first header column if cfg.Column is missing.
func NewStore(
	ctx context.Context,
	table sheet.RemoteTable,
	cfg StoreConfig,
	logger *logger.Logger,
	tracer trace.Tracer,
) (*Store, error) {
	if cfg.ReconnectAttempts == 0 {
		cfg.ReconnectAttempts = 3
	}
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = 500 * time.Millisecond
	}

	s := &Store{
		table:  table,
		cfg:    cfg,
		logger: logger.With("component", "queue_store"),
		tracer: tracer,
	}
	if err := s.Connect(ctx, cfg.Worksheet, cfg.Column, true); err != nil {
		return nil, err
	}
	return s, nil
}

// Worksheet returns the active worksheet name.
func (s *Store) Worksheet() string { return s.worksheet }

// Column returns the bound column name, which may differ from the one
// requested if Connect fell back to the first header column.
func (s *Store) Column() string { return s.column }

// ColumnIndex returns the 1-based index of the bound column.
func (s *Store) ColumnIndex() int { return s.colIndex }

// Connect resolves worksheet and binds column. When validateColumn is set and
// the column is missing, the first header column is bound instead and a
// warning is logged. Without validateColumn a missing column is an error.
func (s *Store) Connect(ctx context.Context, worksheet, column string, validateColumn bool) error {
	ctx, span := s.tracer.Start(ctx, "queue_store.connect",
		trace.WithAttributes(
			attribute.String("worksheet", worksheet),
			attribute.String("column", column),
			attribute.Bool("validate_column", validateColumn),
		))
	defer span.End()

	names, err := s.table.Worksheets(ctx)
	if err != nil {
		return s.fail(ctx, span, "listing worksheets", err)
	}
	if !slices.Contains(names, worksheet) {
		err := &sheet.WorksheetNotFoundError{Name: worksheet, Available: names}
		span.RecordError(err)
		span.SetStatus(codes.Error, "worksheet not found")
		return err
	}

	headers, err := s.table.HeaderRow(ctx, worksheet)
	if err != nil {
		return s.fail(ctx, span, "reading header row", err)
	}
	if len(headers) == 0 {
		err := &sheet.ColumnNotFoundError{Worksheet: worksheet, Column: column}
		span.RecordError(err)
		span.SetStatus(codes.Error, "empty header row")
		return err
	}

	bound, idx := column, sheet.IndexOf(headers, column)
	if idx == 0 {
		if !validateColumn {
			err := &sheet.ColumnNotFoundError{Worksheet: worksheet, Column: column, Available: headers}
			span.RecordError(err)
			span.SetStatus(codes.Error, "column not found")
			return err
		}
		bound, idx = headers[0], 1
		s.logger.Warn(ctx, "Column not found, falling back to first header column",
			"worksheet", worksheet,
			"requested", column,
			"bound", bound,
		)
		span.AddEvent("column_fallback", trace.WithAttributes(attribute.String("bound", bound)))
	}

	s.worksheet, s.column, s.colIndex, s.headers = worksheet, bound, idx, headers
	span.AddEvent("connected", trace.WithAttributes(attribute.Int("column_index", idx)))
	s.logger.Debug(ctx, "Connected to worksheet", "worksheet", worksheet, "column", bound, "column_index", idx)
	return nil
}

// ChangeWorksheet switches to another worksheet, binding column if given or
// keeping the current column name otherwise. On failure the previous binding
// is restored before the error is returned.
func (s *Store) ChangeWorksheet(ctx context.Context, name string, column ...string) error {
	ctx, span := s.tracer.Start(ctx, "queue_store.change_worksheet",
		trace.WithAttributes(
			attribute.String("from", s.worksheet),
			attribute.String("to", name),
		))
	defer span.End()

	prevWorksheet, prevColumn, prevIndex, prevHeaders := s.worksheet, s.column, s.colIndex, s.headers

	target := s.column
	if len(column) > 0 && column[0] != "" {
		target = column[0]
	}

	if err := s.Connect(ctx, name, target, true); err != nil {
		s.worksheet, s.column, s.colIndex, s.headers = prevWorksheet, prevColumn, prevIndex, prevHeaders
		span.AddEvent("rolled_back")
		span.RecordError(err)
		span.SetStatus(codes.Error, "change worksheet failed")
		s.logger.Error(ctx, "Failed to change worksheet, restored previous binding",
			"worksheet", name,
			"restored_worksheet", prevWorksheet,
			"restored_column", prevColumn,
			"error", err,
		)
		return fmt.Errorf("change worksheet to %q: %w", name, err)
	}
	return nil
}

// ChangeColumn rebinds the active column within the current worksheet. A
// missing column is always an error.
func (s *Store) ChangeColumn(ctx context.Context, name string) error {
	ctx, span := s.tracer.Start(ctx, "queue_store.change_column",
		trace.WithAttributes(
			attribute.String("worksheet", s.worksheet),
			attribute.String("from", s.column),
			attribute.String("to", name),
		))
	defer span.End()

	if err := s.EnsureConnected(ctx); err != nil {
		return err
	}

	headers, err := s.table.HeaderRow(ctx, s.worksheet)
	if err != nil {
		return s.fail(ctx, span, "reading header row", err)
	}

	idx := sheet.IndexOf(headers, name)
	if idx == 0 {
		err := &sheet.ColumnNotFoundError{Worksheet: s.worksheet, Column: name, Available: headers}
		span.RecordError(err)
		span.SetStatus(codes.Error, "column not found")
		return err
	}

	s.column, s.colIndex, s.headers = name, idx, headers
	return nil
}

// Push writes value into the first empty cell of the active column's existing
// rows, or appends a row when there is none. It returns the row written.
func (s *Store) Push(ctx context.Context, value string) (int, error) {
	ctx, span := s.tracer.Start(ctx, "queue_store.push", s.spanAttrs())
	defer span.End()

	if err := s.EnsureConnected(ctx); err != nil {
		return 0, err
	}

	cells, err := s.table.ColumnValues(ctx, s.worksheet, s.colIndex)
	if err != nil {
		return 0, s.fail(ctx, span, "reading column", err)
	}

	row := firstFreeRow(cells)
	if err := s.table.UpdateCell(ctx, s.worksheet, row, s.colIndex, value); err != nil {
		return 0, s.fail(ctx, span, "writing cell", err)
	}

	span.SetAttributes(attribute.Int("row", row))
	s.logger.Info(ctx, "Pushed value", "worksheet", s.worksheet, "column", s.column, "row", row, "value", value)
	return row, nil
}

// NextFreeRow returns the sheet row Push would write to next in the active
// column. Nothing is written.
func (s *Store) NextFreeRow(ctx context.Context) (int, error) {
	ctx, span := s.tracer.Start(ctx, "queue_store.next_free_row", s.spanAttrs())
	defer span.End()

	if err := s.EnsureConnected(ctx); err != nil {
		return 0, err
	}

	cells, err := s.table.ColumnValues(ctx, s.worksheet, s.colIndex)
	if err != nil {
		return 0, s.fail(ctx, span, "reading column", err)
	}
	return firstFreeRow(cells), nil
}

// firstFreeRow picks the first blank data cell of a column read with its
// header, or the row after the last one.
func firstFreeRow(cells []string) int {
	for i := 1; i < len(cells); i++ {
		if strings.TrimSpace(cells[i]) == "" {
			return i + 1
		}
	}
	return max(len(cells), 1) + 1
}

// Pop removes and returns the oldest entry by shifting every following entry
// up one row and blanking the last one. If the first data row is empty the
// queue is treated as empty and nothing is written.
func (s *Store) Pop(ctx context.Context) (string, bool, error) {
	ctx, span := s.tracer.Start(ctx, "queue_store.pop", s.spanAttrs())
	defer span.End()

	if err := s.EnsureConnected(ctx); err != nil {
		return "", false, err
	}

	data, err := s.columnData(ctx)
	if err != nil {
		return "", false, s.fail(ctx, span, "reading column", err)
	}

	if len(data) == 0 || strings.TrimSpace(data[0]) == "" {
		span.AddEvent("queue_empty")
		return "", false, nil
	}

	value := data[0]
	rewritten := append(data[1:len(data):len(data)], "")
	if err := s.table.UpdateColumnRange(ctx, s.worksheet, s.colIndex, 2, rewritten); err != nil {
		return "", false, s.fail(ctx, span, "rewriting column", err)
	}

	s.logger.Info(ctx, "Popped value", "worksheet", s.worksheet, "column", s.column, "value", value)
	return value, true, nil
}

// Delete removes every entry whose trimmed value equals the trimmed value,
// compacts the survivors upward and blanks the freed tail. It returns the
// 1-based sheet row numbers the matches occupied before removal; row 1 is the
// header, so the first data entry is row 2. They are not indexes into Values.
func (s *Store) Delete(ctx context.Context, value string) ([]int, error) {
	ctx, span := s.tracer.Start(ctx, "queue_store.delete", s.spanAttrs())
	defer span.End()

	if err := s.EnsureConnected(ctx); err != nil {
		return nil, err
	}

	data, err := s.columnData(ctx)
	if err != nil {
		return nil, s.fail(ctx, span, "reading column", err)
	}

	target := strings.TrimSpace(value)
	var rows []int
	for i, v := range data {
		if strings.TrimSpace(v) == target {
			rows = append(rows, i+2)
		}
	}
	if len(rows) == 0 {
		s.logger.Info(ctx, "Value not found", "worksheet", s.worksheet, "column", s.column, "value", value)
		return []int{}, nil
	}

	if err := s.RemoveRows(ctx, rows); err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.Int("removed", len(rows)))
	s.logger.Info(ctx, "Deleted value", "worksheet", s.worksheet, "column", s.column, "value", value, "rows", rows)
	return rows, nil
}

// RemoveRows drops the given 1-based sheet rows (header is row 1) from the
// active column, compacting the remaining entries upward and blanking the
// freed tail. Submissions use it to remove the same rows from every sibling
// column.
func (s *Store) RemoveRows(ctx context.Context, rows []int) error {
	ctx, span := s.tracer.Start(ctx, "queue_store.remove_rows", s.spanAttrs())
	defer span.End()

	if len(rows) == 0 {
		return nil
	}

	if err := s.EnsureConnected(ctx); err != nil {
		return err
	}

	data, err := s.columnData(ctx)
	if err != nil {
		return s.fail(ctx, span, "reading column", err)
	}

	drop := make(map[int]struct{}, len(rows))
	for _, r := range rows {
		drop[r] = struct{}{}
	}

	kept := make([]string, 0, len(data))
	for i, v := range data {
		if _, ok := drop[i+2]; !ok {
			kept = append(kept, v)
		}
	}
	if len(kept) == len(data) {
		return nil
	}
	for len(kept) < len(data) {
		kept = append(kept, "")
	}

	if err := s.table.UpdateColumnRange(ctx, s.worksheet, s.colIndex, 2, kept); err != nil {
		return s.fail(ctx, span, "rewriting column", err)
	}
	return nil
}

// Values returns the non-empty trimmed entries of the active column in row
// order, header excluded.
func (s *Store) Values(ctx context.Context) ([]string, error) {
	ctx, span := s.tracer.Start(ctx, "queue_store.values", s.spanAttrs())
	defer span.End()

	if err := s.EnsureConnected(ctx); err != nil {
		return nil, err
	}

	data, err := s.columnData(ctx)
	if err != nil {
		return nil, s.fail(ctx, span, "reading column", err)
	}

	values := make([]string, 0, len(data))
	for _, v := range data {
		if v = strings.TrimSpace(v); v != "" {
			values = append(values, v)
		}
	}
	span.SetAttributes(attribute.Int("count", len(values)))
	return values, nil
}

// FindRow returns the first sheet row of the active column whose trimmed
// value equals value.
func (s *Store) FindRow(ctx context.Context, value string) (int, bool, error) {
	ctx, span := s.tracer.Start(ctx, "queue_store.find_row", s.spanAttrs())
	defer span.End()

	if err := s.EnsureConnected(ctx); err != nil {
		return 0, false, err
	}

	data, err := s.columnData(ctx)
	if err != nil {
		return 0, false, s.fail(ctx, span, "reading column", err)
	}

	target := strings.TrimSpace(value)
	for i, v := range data {
		if strings.TrimSpace(v) == target {
			return i + 2, true, nil
		}
	}
	return 0, false, nil
}

// CellValue returns the active column's cell at row.
func (s *Store) CellValue(ctx context.Context, row int) (string, error) {
	ctx, span := s.tracer.Start(ctx, "queue_store.cell_value", s.spanAttrs())
	defer span.End()

	if err := s.EnsureConnected(ctx); err != nil {
		return "", err
	}

	cells, err := s.table.ColumnValues(ctx, s.worksheet, s.colIndex)
	if err != nil {
		return "", s.fail(ctx, span, "reading column", err)
	}
	if row < 1 || row > len(cells) {
		return "", nil
	}
	return cells[row-1], nil
}

// SetCell writes value into the active column at row.
func (s *Store) SetCell(ctx context.Context, row int, value string) error {
	ctx, span := s.tracer.Start(ctx, "queue_store.set_cell", s.spanAttrs())
	defer span.End()

	if row < 2 {
		return fmt.Errorf("row %d is not a data row", row)
	}

	if err := s.EnsureConnected(ctx); err != nil {
		return err
	}

	if err := s.table.UpdateCell(ctx, s.worksheet, row, s.colIndex, value); err != nil {
		return s.fail(ctx, span, "writing cell", err)
	}
	return nil
}

// UpdateCellByCondition writes targetValue into targetColumn of the first row
// whose conditionColumn equals conditionValue exactly. It returns the row
// updated, or false if no row matched.
func (s *Store) UpdateCellByCondition(
	ctx context.Context,
	conditionColumn, conditionValue, targetColumn, targetValue string,
) (int, bool, error) {
	ctx, span := s.tracer.Start(ctx, "queue_store.update_cell_by_condition",
		trace.WithAttributes(
			attribute.String("worksheet", s.worksheet),
			attribute.String("condition_column", conditionColumn),
			attribute.String("target_column", targetColumn),
		))
	defer span.End()

	if err := s.EnsureConnected(ctx); err != nil {
		return 0, false, err
	}

	headers, err := s.table.HeaderRow(ctx, s.worksheet)
	if err != nil {
		return 0, false, s.fail(ctx, span, "reading header row", err)
	}
	for _, col := range []string{conditionColumn, targetColumn} {
		if sheet.IndexOf(headers, col) == 0 {
			err := &sheet.ColumnNotFoundError{Worksheet: s.worksheet, Column: col, Available: headers}
			span.RecordError(err)
			span.SetStatus(codes.Error, "column not found")
			return 0, false, err
		}
	}
	targetIdx := sheet.IndexOf(headers, targetColumn)

	records, err := s.table.AllRecords(ctx, s.worksheet)
	if err != nil {
		return 0, false, s.fail(ctx, span, "reading records", err)
	}

	for i, rec := range records {
		if rec[conditionColumn] != conditionValue {
			continue
		}
		row := i + 2
		if err := s.table.UpdateCell(ctx, s.worksheet, row, targetIdx, targetValue); err != nil {
			return 0, false, s.fail(ctx, span, "writing cell", err)
		}
		span.SetAttributes(attribute.Int("row", row))
		s.logger.Info(ctx, "Updated cell by condition",
			"worksheet", s.worksheet,
			"row", row,
			"condition_column", conditionColumn,
			"target_column", targetColumn,
		)
		return row, true, nil
	}

	span.AddEvent("no_matching_row")
	return 0, false, nil
}

// Columns returns the current header row of the active worksheet.
func (s *Store) Columns(ctx context.Context) ([]string, error) {
	ctx, span := s.tracer.Start(ctx, "queue_store.columns", s.spanAttrs())
	defer span.End()

	if err := s.EnsureConnected(ctx); err != nil {
		return nil, err
	}

	headers, err := s.table.HeaderRow(ctx, s.worksheet)
	if err != nil {
		return nil, s.fail(ctx, span, "reading header row", err)
	}
	s.headers = headers
	return slices.Clone(headers), nil
}

// Records returns every data row of the active worksheet keyed by header.
func (s *Store) Records(ctx context.Context) ([]sheet.Record, error) {
	ctx, span := s.tracer.Start(ctx, "queue_store.records", s.spanAttrs())
	defer span.End()

	if err := s.EnsureConnected(ctx); err != nil {
		return nil, err
	}

	records, err := s.table.AllRecords(ctx, s.worksheet)
	if err != nil {
		return nil, s.fail(ctx, span, "reading records", err)
	}
	return records, nil
}

// AddColumn appends name to the header row unless it already exists and
// reports whether it was added. The current binding is kept.
func (s *Store) AddColumn(ctx context.Context, name string) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "queue_store.add_column",
		trace.WithAttributes(
			attribute.String("worksheet", s.worksheet),
			attribute.String("column", name),
		))
	defer span.End()

	headers, err := s.Columns(ctx)
	if err != nil {
		return false, err
	}
	if slices.Contains(headers, name) {
		return false, nil
	}

	if err := s.table.UpdateCell(ctx, s.worksheet, 1, len(headers)+1, name); err != nil {
		return false, s.fail(ctx, span, "writing header", err)
	}

	if err := s.Connect(ctx, s.worksheet, s.column, false); err != nil {
		return false, err
	}

	s.logger.Info(ctx, "Added column", "worksheet", s.worksheet, "column", name, "column_index", len(headers)+1)
	return true, nil
}

// EnsureConnected probes the header row and, if the probe fails, re-opens the
// table and reconnects to the last known binding with bounded retries.
func (s *Store) EnsureConnected(ctx context.Context) error {
	_, probeErr := s.table.HeaderRow(ctx, s.worksheet)
	if probeErr == nil {
		return nil
	}
	s.logger.Warn(ctx, "Liveness probe failed, reconnecting", "worksheet", s.worksheet, "error", probeErr)

	ctx, span := s.tracer.Start(ctx, "queue_store.reconnect", s.spanAttrs())
	defer span.End()

	worksheet, column := s.worksheet, s.column
	attempt := 0
	operation := func() error {
		attempt++
		if r, ok := s.table.(sheet.Reconnector); ok {
			if err := r.Reconnect(ctx); err != nil {
				return err
			}
		}
		err := s.Connect(ctx, worksheet, column, true)
		if errors.Is(err, sheet.ErrWorksheetNotFound) || errors.Is(err, sheet.ErrColumnNotFound) {
			return backoff.Permanent(err)
		}
		return err
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(s.cfg.ReconnectInterval), s.cfg.ReconnectAttempts),
		ctx,
	)
	if err := backoff.Retry(operation, b); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "reconnect failed")
		s.logger.Error(ctx, "Failed to reconnect", "worksheet", worksheet, "attempts", attempt, "error", err)
		return fmt.Errorf("reconnect to %q after %d attempts: %w", worksheet, attempt, err)
	}

	span.AddEvent("reconnected", trace.WithAttributes(attribute.Int("attempts", attempt)))
	s.logger.Info(ctx, "Reconnected", "worksheet", worksheet, "column", s.column, "attempts", attempt)
	return nil
}

// columnData returns the data rows (2..N) of the active column.
func (s *Store) columnData(ctx context.Context) ([]string, error) {
	cells, err := s.table.ColumnValues(ctx, s.worksheet, s.colIndex)
	if err != nil {
		return nil, err
	}
	if len(cells) <= 1 {
		return nil, nil
	}
	return cells[1:], nil
}

func (s *Store) spanAttrs() trace.SpanStartOption {
	return trace.WithAttributes(
		attribute.String("worksheet", s.worksheet),
		attribute.String("column", s.column),
	)
}

func (s *Store) fail(ctx context.Context, span trace.Span, op string, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, op)
	s.logger.Error(ctx, "Remote table call failed",
		"op", op,
		"worksheet", s.worksheet,
		"column", s.column,
		"error", err,
	)
	return fmt.Errorf("%s: %w", op, err)
}
