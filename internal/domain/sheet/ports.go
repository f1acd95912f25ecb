// Package sheet defines the remote table abstraction the queue and the
// leaderboard are built on: a set of named worksheets, each a grid whose
// first row holds the column headers.
package sheet

import "context"

// Record is one data row keyed by header name.
type Record map[string]string

// RemoteTable is a column-oriented remote table addressed by worksheet name
// and 1-based row and column indices. Implementations may be rate limited and
// may fail transiently; callers retry by reconnecting.
type RemoteTable interface {
	// Worksheets lists worksheet names in table order.
	Worksheets(ctx context.Context) ([]string, error)

	// HeaderRow returns row 1 of the worksheet.
	HeaderRow(ctx context.Context, worksheet string) ([]string, error)

	// ColumnValues returns the cells of column col from row 1 through the
	// last row the column has ever held, header included at index 0.
	ColumnValues(ctx context.Context, worksheet string, col int) ([]string, error)

	// AllRecords returns every data row keyed by header. Record i belongs
	// to sheet row i+2.
	AllRecords(ctx context.Context, worksheet string) ([]Record, error)

	// UpdateCell writes a single cell.
	UpdateCell(ctx context.Context, worksheet string, row, col int, value string) error

	// UpdateColumnRange writes values into column col starting at fromRow,
	// one value per row.
	UpdateColumnRange(ctx context.Context, worksheet string, col, fromRow int, values []string) error
}

// Reconnector is implemented by tables that hold a credentialed session
// which can be re-established after a failed probe.
type Reconnector interface {
	Reconnect(ctx context.Context) error
}

// Closer is implemented by tables that own resources such as pools or files.
type Closer interface {
	Close() error
}
