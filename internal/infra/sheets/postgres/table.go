// Package postgres stores worksheets as a sparse cell table in PostgreSQL so
// the queue can run against a database instead of a hosted spreadsheet.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jungseoik/abnormal-leaderboard/internal/domain/sheet"
	"github.com/jungseoik/abnormal-leaderboard/internal/infra/storage"
)

var _ sheet.RemoteTable = (*Table)(nil)

var defaultDBAttributes = []attribute.KeyValue{
	attribute.String("db.system", "postgresql"),
}

const (
	upsertCellQuery = `
INSERT INTO sheet_cells (worksheet, row_num, col_num, value, updated_at)
VALUES ($1, $2, $3, $4, NOW())
ON CONFLICT (worksheet, row_num, col_num)
DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`

	worksheetExistsQuery = `SELECT EXISTS (SELECT 1 FROM worksheets WHERE name = $1)`
)

// Table is a PostgreSQL-backed RemoteTable.
type Table struct {
	pool   *pgxpool.Pool
	tracer trace.Tracer
}

// NewTable creates a Table over an already migrated database.
func NewTable(pool *pgxpool.Pool, tracer trace.Tracer) *Table {
	return &Table{pool: pool, tracer: tracer}
}

// CreateWorksheet adds a worksheet with the given header row. Existing
// worksheets are left untouched.
func (t *Table) CreateWorksheet(ctx context.Context, name string, headers ...string) error {
	dbAttrs := append(defaultDBAttributes, attribute.String("worksheet", name))

	return storage.ExecuteAndTrace(ctx, t.tracer, "postgres.sheets.create_worksheet", dbAttrs, func(ctx context.Context) error {
		return pgx.BeginFunc(ctx, t.pool, func(tx pgx.Tx) error {
			tag, err := tx.Exec(ctx, `
INSERT INTO worksheets (name, position)
SELECT $1, COALESCE(MAX(position), 0) + 1 FROM worksheets
ON CONFLICT (name) DO NOTHING`, name)
			if err != nil {
				return fmt.Errorf("failed to insert worksheet %s: %w", name, err)
			}
			if tag.RowsAffected() == 0 {
				return nil
			}

			batch := &pgx.Batch{}
			for i, h := range headers {
				batch.Queue(upsertCellQuery, name, 1, i+1, h)
			}
			if err := tx.SendBatch(ctx, batch).Close(); err != nil {
				return fmt.Errorf("failed to write header row for %s: %w", name, err)
			}
			return nil
		})
	})
}

func (t *Table) Worksheets(ctx context.Context) ([]string, error) {
	var names []string
	err := storage.ExecuteAndTrace(ctx, t.tracer, "postgres.sheets.list_worksheets", defaultDBAttributes, func(ctx context.Context) error {
		rows, err := t.pool.Query(ctx, `SELECT name FROM worksheets ORDER BY position, name`)
		if err != nil {
			return fmt.Errorf("failed to list worksheets: %w", err)
		}
		names, err = pgx.CollectRows(rows, pgx.RowTo[string])
		if err != nil {
			return fmt.Errorf("failed to scan worksheets: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return names, nil
}

func (t *Table) HeaderRow(ctx context.Context, worksheet string) ([]string, error) {
	dbAttrs := append(defaultDBAttributes, attribute.String("worksheet", worksheet))

	var headers []string
	err := storage.ExecuteAndTrace(ctx, t.tracer, "postgres.sheets.header_row", dbAttrs, func(ctx context.Context) error {
		if err := t.requireWorksheet(ctx, worksheet); err != nil {
			return err
		}

		rows, err := t.pool.Query(ctx,
			`SELECT col_num, value FROM sheet_cells WHERE worksheet = $1 AND row_num = 1 ORDER BY col_num`,
			worksheet)
		if err != nil {
			return fmt.Errorf("failed to read header row of %s: %w", worksheet, err)
		}
		headers, err = collectPositional(rows)
		return err
	})
	if err != nil {
		return nil, err
	}
	return headers, nil
}

func (t *Table) ColumnValues(ctx context.Context, worksheet string, col int) ([]string, error) {
	dbAttrs := append(defaultDBAttributes,
		attribute.String("worksheet", worksheet),
		attribute.Int("col", col),
	)

	var values []string
	err := storage.ExecuteAndTrace(ctx, t.tracer, "postgres.sheets.column_values", dbAttrs, func(ctx context.Context) error {
		if err := t.requireWorksheet(ctx, worksheet); err != nil {
			return err
		}

		rows, err := t.pool.Query(ctx,
			`SELECT row_num, value FROM sheet_cells WHERE worksheet = $1 AND col_num = $2 ORDER BY row_num`,
			worksheet, col)
		if err != nil {
			return fmt.Errorf("failed to read column %d of %s: %w", col, worksheet, err)
		}
		values, err = collectPositional(rows)
		return err
	})
	if err != nil {
		return nil, err
	}
	return values, nil
}

func (t *Table) AllRecords(ctx context.Context, worksheet string) ([]sheet.Record, error) {
	dbAttrs := append(defaultDBAttributes, attribute.String("worksheet", worksheet))

	var records []sheet.Record
	err := storage.ExecuteAndTrace(ctx, t.tracer, "postgres.sheets.all_records", dbAttrs, func(ctx context.Context) error {
		if err := t.requireWorksheet(ctx, worksheet); err != nil {
			return err
		}

		rows, err := t.pool.Query(ctx,
			`SELECT row_num, col_num, value FROM sheet_cells WHERE worksheet = $1 ORDER BY row_num, col_num`,
			worksheet)
		if err != nil {
			return fmt.Errorf("failed to read records of %s: %w", worksheet, err)
		}
		defer rows.Close()

		var headers []string
		for rows.Next() {
			var r, c int
			var v string
			if err := rows.Scan(&r, &c, &v); err != nil {
				return fmt.Errorf("failed to scan cell: %w", err)
			}

			if r == 1 {
				for len(headers) < c {
					headers = append(headers, "")
				}
				headers[c-1] = v
				continue
			}

			for len(records) < r-1 {
				records = append(records, nil)
			}
			if c <= len(headers) && headers[c-1] != "" {
				if records[r-2] == nil {
					records[r-2] = make(sheet.Record, len(headers))
				}
				records[r-2][headers[c-1]] = v
			}
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("failed to iterate cells: %w", err)
		}

		for i := range records {
			if records[i] == nil {
				records[i] = make(sheet.Record, len(headers))
			}
			for _, h := range headers {
				if _, ok := records[i][h]; !ok && h != "" {
					records[i][h] = ""
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (t *Table) UpdateCell(ctx context.Context, worksheet string, row, col int, value string) error {
	dbAttrs := append(defaultDBAttributes,
		attribute.String("worksheet", worksheet),
		attribute.Int("row", row),
		attribute.Int("col", col),
	)

	return storage.ExecuteAndTrace(ctx, t.tracer, "postgres.sheets.update_cell", dbAttrs, func(ctx context.Context) error {
		if err := t.requireWorksheet(ctx, worksheet); err != nil {
			return err
		}
		if _, err := t.pool.Exec(ctx, upsertCellQuery, worksheet, row, col, value); err != nil {
			return fmt.Errorf("failed to update cell %s of %s: %w", sheet.CellName(row, col), worksheet, err)
		}
		return nil
	})
}

func (t *Table) UpdateColumnRange(ctx context.Context, worksheet string, col, fromRow int, values []string) error {
	dbAttrs := append(defaultDBAttributes,
		attribute.String("worksheet", worksheet),
		attribute.Int("col", col),
		attribute.Int("from_row", fromRow),
		attribute.Int("count", len(values)),
	)

	return storage.ExecuteAndTrace(ctx, t.tracer, "postgres.sheets.update_column_range", dbAttrs, func(ctx context.Context) error {
		if err := t.requireWorksheet(ctx, worksheet); err != nil {
			return err
		}

		return pgx.BeginFunc(ctx, t.pool, func(tx pgx.Tx) error {
			batch := &pgx.Batch{}
			for i, v := range values {
				batch.Queue(upsertCellQuery, worksheet, fromRow+i, col, v)
			}
			if err := tx.SendBatch(ctx, batch).Close(); err != nil {
				return fmt.Errorf("failed to update range %s: %w",
					sheet.ColumnRange(worksheet, col, fromRow, fromRow+len(values)-1), err)
			}
			return nil
		})
	})
}

func (t *Table) requireWorksheet(ctx context.Context, worksheet string) error {
	var exists bool
	if err := t.pool.QueryRow(ctx, worksheetExistsQuery, worksheet).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check worksheet %s: %w", worksheet, err)
	}
	if exists {
		return nil
	}

	names, _ := t.Worksheets(ctx)
	return &sheet.WorksheetNotFoundError{Name: worksheet, Available: names}
}

// collectPositional turns (position, value) rows into a dense slice where
// missing positions are empty strings.
func collectPositional(rows pgx.Rows) ([]string, error) {
	defer rows.Close()

	var out []string
	for rows.Next() {
		var pos int
		var v string
		if err := rows.Scan(&pos, &v); err != nil {
			return nil, fmt.Errorf("failed to scan cell: %w", err)
		}
		for len(out) < pos {
			out = append(out, "")
		}
		out[pos-1] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate cells: %w", err)
	}
	return out, nil
}
