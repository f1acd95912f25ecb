package sheet

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrWorksheetNotFound is matched by every WorksheetNotFoundError.
	ErrWorksheetNotFound = errors.New("worksheet not found")
	// ErrColumnNotFound is matched by every ColumnNotFoundError.
	ErrColumnNotFound = errors.New("column not found")
)

// WorksheetNotFoundError reports a worksheet name missing from the table.
type WorksheetNotFoundError struct {
	Name      string
	Available []string
}

func (e *WorksheetNotFoundError) Error() string {
	return fmt.Sprintf("worksheet %q not found, available: [%s]", e.Name, strings.Join(e.Available, ", "))
}

func (e *WorksheetNotFoundError) Unwrap() error { return ErrWorksheetNotFound }

// ColumnNotFoundError reports a column name missing from a worksheet header.
type ColumnNotFoundError struct {
	Worksheet string
	Column    string
	Available []string
}

func (e *ColumnNotFoundError) Error() string {
	return fmt.Sprintf("column %q not found in worksheet %q, available: [%s]",
		e.Column, e.Worksheet, strings.Join(e.Available, ", "))
}

func (e *ColumnNotFoundError) Unwrap() error { return ErrColumnNotFound }
