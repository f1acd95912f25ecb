package sheets

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/trace"

	"github.com/jungseoik/abnormal-leaderboard/internal/domain/sheet"
	"github.com/jungseoik/abnormal-leaderboard/internal/infra/sheets/gsheets"
	"github.com/jungseoik/abnormal-leaderboard/internal/infra/sheets/memory"
	"github.com/jungseoik/abnormal-leaderboard/internal/infra/sheets/postgres"
	"github.com/jungseoik/abnormal-leaderboard/internal/infra/sheets/xlsx"
	"github.com/jungseoik/abnormal-leaderboard/internal/infra/storage"
	"github.com/jungseoik/abnormal-leaderboard/pkg/common"
)

// Backend names accepted by Open.
const (
	BackendMemory   = "memory"
	BackendXLSX     = "xlsx"
	BackendGSheets  = "gsheets"
	BackendPostgres = "postgres"
)

// ErrUnknownBackend is returned by Open for an unrecognised backend name.
var ErrUnknownBackend = errors.New("unknown table backend")

// WorksheetSpec describes a worksheet to create when a backend starts empty.
type WorksheetSpec struct {
	Name    string
	Headers []string
}

// Options selects and configures a backend.
type Options struct {
	Backend        string
	SpreadsheetURL string
	CredentialsEnv string
	XLSXPath       string
	PostgresDSN    string
	MigrationsURL  string

	RateLimit float64
	RateBurst int

	// Bootstrap is applied to the memory, xlsx and postgres backends only.
	// A spreadsheet is never restructured by the service.
	Bootstrap []WorksheetSpec
}

// Open builds the backend named by opts.Backend and wraps it in a
// RateLimitedTable. Close the returned table to release pools and files.
func Open(ctx context.Context, opts Options, tracer trace.Tracer) (*RateLimitedTable, error) {
	var (
		table sheet.RemoteTable
		err   error
	)

	switch opts.Backend {
	case BackendMemory, "":
		table = openMemory(opts.Bootstrap)
	case BackendXLSX:
		table, err = openXLSX(opts.XLSXPath, opts.Bootstrap)
	case BackendGSheets:
		table, err = gsheets.Open(ctx, opts.SpreadsheetURL, gsheets.CredentialsFromEnv(opts.CredentialsEnv))
	case BackendPostgres:
		table, err = openPostgres(ctx, opts, tracer)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, opts.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s table: %w", opts.Backend, err)
	}

	return NewRateLimitedTable(table, common.NewRateLimiter(opts.RateLimit, opts.RateBurst)), nil
}

func openMemory(bootstrap []WorksheetSpec) *memory.Table {
	t := memory.New()
	for _, ws := range bootstrap {
		t.AddWorksheet(ws.Name, ws.Headers...)
	}
	return t
}

func openXLSX(path string, bootstrap []WorksheetSpec) (*xlsx.Table, error) {
	if path == "" {
		return nil, errors.New("xlsx path is empty")
	}

	_, err := os.Stat(path)
	switch {
	case err == nil:
		return xlsx.Open(path)
	case errors.Is(err, fs.ErrNotExist) && len(bootstrap) > 0:
		names := make([]string, 0, len(bootstrap))
		headers := make(map[string][]string, len(bootstrap))
		for _, ws := range bootstrap {
			names = append(names, ws.Name)
			headers[ws.Name] = ws.Headers
		}
		return xlsx.Create(path, names, headers)
	default:
		return nil, err
	}
}

// pooledTable ties the pool's lifetime to the table.
type pooledTable struct {
	*postgres.Table
	pool *pgxpool.Pool
}

func (p *pooledTable) Close() error {
	p.pool.Close()
	return nil
}

func openPostgres(ctx context.Context, opts Options, tracer trace.Tracer) (*pooledTable, error) {
	poolCfg, err := pgxpool.ParseConfig(opts.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	poolCfg.ConnConfig.Tracer = otelpgx.NewTracer()

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	migrationsURL := opts.MigrationsURL
	if migrationsURL == "" {
		migrationsURL = storage.MigrationsURL()
	}
	if err := storage.RunMigrations(ctx, pool, migrationsURL); err != nil {
		pool.Close()
		return nil, err
	}

	table := postgres.NewTable(pool, tracer)
	for _, ws := range opts.Bootstrap {
		if err := table.CreateWorksheet(ctx, ws.Name, ws.Headers...); err != nil {
			pool.Close()
			return nil, err
		}
	}
	return &pooledTable{Table: table, pool: pool}, nil
}
