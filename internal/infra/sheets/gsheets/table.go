// Package gsheets implements RemoteTable on the Google Sheets v4 API using a
// service account whose JSON key is read from the environment.
package gsheets

import (
	"context"
	"fmt"
	"os"
	"sync"

	regexp "github.com/wasilibs/go-re2"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/jungseoik/abnormal-leaderboard/internal/domain/sheet"
)

var (
	_ sheet.RemoteTable = (*Table)(nil)
	_ sheet.Reconnector = (*Table)(nil)
)

var (
	spreadsheetIDPattern = regexp.MustCompile(`/spreadsheets/d/([a-zA-Z0-9_-]+)`)
	bareIDPattern        = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

// valueInputOption stores values as typed, without formula parsing.
const valueInputOption = "RAW"

// ServiceFactory builds an authenticated Sheets client.
type ServiceFactory func(ctx context.Context) (*sheets.Service, error)

// Table is a RemoteTable over one Google spreadsheet.
type Table struct {
	spreadsheetID string
	newService    ServiceFactory

	mu  sync.RWMutex
	svc *sheets.Service
}

// SpreadsheetID extracts the document id from a spreadsheet URL. A bare id
// is returned unchanged.
func SpreadsheetID(url string) (string, error) {
	if url == "" {
		return "", fmt.Errorf("spreadsheet url is empty")
	}
	if m := spreadsheetIDPattern.FindStringSubmatch(url); len(m) == 2 {
		return m[1], nil
	}
	if bareIDPattern.MatchString(url) {
		return url, nil
	}
	return "", fmt.Errorf("cannot extract spreadsheet id from %q", url)
}

// CredentialsFromEnv returns a ServiceFactory that authenticates with the
// service account JSON stored in the environment variable envName.
func CredentialsFromEnv(envName string, opts ...option.ClientOption) ServiceFactory {
	return func(ctx context.Context) (*sheets.Service, error) {
		raw := os.Getenv(envName)
		if raw == "" {
			return nil, fmt.Errorf("environment variable %s is not set", envName)
		}
		all := append([]option.ClientOption{
			option.WithCredentialsJSON([]byte(raw)),
			option.WithScopes(sheets.SpreadsheetsScope, "https://www.googleapis.com/auth/drive"),
		}, opts...)
		return sheets.NewService(ctx, all...)
	}
}

// Open authenticates through newService and binds to the spreadsheet at url.
func Open(ctx context.Context, url string, newService ServiceFactory) (*Table, error) {
	id, err := SpreadsheetID(url)
	if err != nil {
		return nil, err
	}

	svc, err := newService(ctx)
	if err != nil {
		return nil, fmt.Errorf("create sheets client: %w", err)
	}
	return &Table{spreadsheetID: id, newService: newService, svc: svc}, nil
}

// Reconnect re-authenticates and replaces the client.
func (t *Table) Reconnect(ctx context.Context) error {
	svc, err := t.newService(ctx)
	if err != nil {
		return fmt.Errorf("re-create sheets client: %w", err)
	}
	t.mu.Lock()
	t.svc = svc
	t.mu.Unlock()
	return nil
}

func (t *Table) service() *sheets.Service {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.svc
}

func (t *Table) Worksheets(ctx context.Context) ([]string, error) {
	doc, err := t.service().Spreadsheets.Get(t.spreadsheetID).
		Fields("sheets.properties.title").
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("get spreadsheet %s: %w", t.spreadsheetID, err)
	}

	names := make([]string, 0, len(doc.Sheets))
	for _, s := range doc.Sheets {
		if s.Properties != nil {
			names = append(names, s.Properties.Title)
		}
	}
	return names, nil
}

func (t *Table) HeaderRow(ctx context.Context, worksheet string) ([]string, error) {
	rng := fmt.Sprintf("%s!1:1", sheet.QuoteWorksheet(worksheet))
	vr, err := t.service().Spreadsheets.Values.Get(t.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", rng, err)
	}
	if len(vr.Values) == 0 {
		return nil, nil
	}
	return toStrings(vr.Values[0]), nil
}

// ColumnValues returns the column through its last non-empty cell; the API
// drops trailing blanks.
func (t *Table) ColumnValues(ctx context.Context, worksheet string, col int) ([]string, error) {
	letter := sheet.ColumnName(col)
	rng := fmt.Sprintf("%s!%s:%s", sheet.QuoteWorksheet(worksheet), letter, letter)
	vr, err := t.service().Spreadsheets.Values.Get(t.spreadsheetID, rng).
		MajorDimension("COLUMNS").
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", rng, err)
	}
	if len(vr.Values) == 0 {
		return nil, nil
	}
	return toStrings(vr.Values[0]), nil
}

func (t *Table) AllRecords(ctx context.Context, worksheet string) ([]sheet.Record, error) {
	rng := sheet.QuoteWorksheet(worksheet)
	vr, err := t.service().Spreadsheets.Values.Get(t.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", rng, err)
	}
	if len(vr.Values) < 2 {
		return nil, nil
	}

	headers := toStrings(vr.Values[0])
	records := make([]sheet.Record, 0, len(vr.Values)-1)
	for _, raw := range vr.Values[1:] {
		row := toStrings(raw)
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
	rng := fmt.Sprintf("%s!%s", sheet.QuoteWorksheet(worksheet), sheet.CellName(row, col))
	body := &sheets.ValueRange{Values: [][]any{{value}}}

	_, err := t.service().Spreadsheets.Values.Update(t.spreadsheetID, rng, body).
		ValueInputOption(valueInputOption).
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("update %s: %w", rng, err)
	}
	return nil
}

func (t *Table) UpdateColumnRange(ctx context.Context, worksheet string, col, fromRow int, values []string) error {
	if len(values) == 0 {
		return nil
	}
	rng := sheet.ColumnRange(worksheet, col, fromRow, fromRow+len(values)-1)

	cells := make([][]any, len(values))
	for i, v := range values {
		cells[i] = []any{v}
	}

	_, err := t.service().Spreadsheets.Values.Update(t.spreadsheetID, rng, &sheets.ValueRange{Values: cells}).
		ValueInputOption(valueInputOption).
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("update %s: %w", rng, err)
	}
	return nil
}

func toStrings(raw []any) []string {
	out := make([]string, len(raw))
	for i, v := range raw {
		if v == nil {
			continue
		}
		if s, ok := v.(string); ok {
			out[i] = s
			continue
		}
		out[i] = fmt.Sprint(v)
	}
	return out
}
