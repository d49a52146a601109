package archive

import (
	"fmt"
	"strings"
)

// Cell is a 1-based (row, column) coordinate.
type Cell struct {
	Row int
	Col int
}

// Range is a rectangular block between two 1-based corners, inclusive.
type Range struct {
	From Cell
	To   Cell
}

// ColumnName converts a 1-based column index to letters: 1 -> A, 27 -> AA.
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

// A1 renders the coordinate without a sheet prefix, e.g. "B7".
func (c Cell) A1() string {
	return fmt.Sprintf("%s%d", ColumnName(c.Col), c.Row)
}

// A1 renders the range without a sheet prefix, e.g. "A2:D10".
func (r Range) A1() string {
	return r.From.A1() + ":" + r.To.A1()
}

// Rows is the number of rows the range spans.
func (r Range) Rows() int { return r.To.Row - r.From.Row + 1 }

// Cols is the number of columns the range spans.
func (r Range) Cols() int { return r.To.Col - r.From.Col + 1 }

// Empty reports whether the range covers no cells.
func (r Range) Empty() bool { return r.Rows() <= 0 || r.Cols() <= 0 }

// QuoteSheet quotes a tab name for A1 notation, doubling embedded quotes.
func QuoteSheet(name string) string {
	return "'" + strings.ReplaceAll(name, "'", "''") + "'"
}

// Qualify prefixes an A1 reference with a quoted tab name.
func Qualify(sheet, ref string) string {
	if ref == "" {
		return QuoteSheet(sheet)
	}
	return QuoteSheet(sheet) + "!" + ref
}
