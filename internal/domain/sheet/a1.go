package sheet

import (
	"fmt"
	"strings"
)

// ColumnName converts a 1-based column index into its letter form
// (1 -> A, 27 -> AA).
func ColumnName(col int) string {
	if col < 1 {
		return ""
	}
	var b []byte
	for col > 0 {
		col--
		b = append([]byte{byte('A' + col%26)}, b...)
		col /= 26
	}
	return string(b)
}

// CellName returns the A1 reference of a cell.
func CellName(row, col int) string {
	return fmt.Sprintf("%s%d", ColumnName(col), row)
}

// ColumnRange returns an A1 range spanning rows fromRow..toRow of one column,
// qualified with the worksheet name.
func ColumnRange(worksheet string, col, fromRow, toRow int) string {
	return fmt.Sprintf("%s!%s:%s", QuoteWorksheet(worksheet), CellName(fromRow, col), CellName(toRow, col))
}

// QuoteWorksheet wraps a worksheet name in single quotes for A1 notation.
func QuoteWorksheet(name string) string {
	return "'" + strings.ReplaceAll(name, "'", "''") + "'"
}

// IndexOf returns the 1-based position of name in headers, or 0.
func IndexOf(headers []string, name string) int {
	for i, h := range headers {
		if h == name {
			return i + 1
		}
	}
	return 0
}
