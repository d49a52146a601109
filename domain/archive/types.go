package archive

import (
	"strings"
	"time"
)

// HeaderRow is the 1-based position of the header in every table.
const HeaderRow = 1

// Row is one data row as read from a table. Number is its 1-based position in
// the table at read time; it identifies the row in log lines only.
type Row struct {
	Number int
	Cells  []string
}

// RowsFromValues turns the values of a table (header included) into data rows.
func RowsFromValues(values [][]string) []Row {
	if len(values) <= HeaderRow {
		return nil
	}
	rows := make([]Row, 0, len(values)-HeaderRow)
	for i, cells := range values[HeaderRow:] {
		rows = append(rows, Row{Number: i + HeaderRow + 1, Cells: cells})
	}
	return rows
}

// Cell returns the trimmed value at a 0-based column, or "" past the end of a partial row.
func (r Row) Cell(col int) string {
	if col < 0 || col >= len(r.Cells) {
		return ""
	}
	return strings.TrimSpace(r.Cells[col])
}

// IsBlank reports whether every cell is empty or whitespace.
func (r Row) IsBlank() bool {
	for _, c := range r.Cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// Verdict is the outcome of classifying one row.
type Verdict string

const (
	VerdictKept Verdict = "kept"
	VerdictAged Verdict = "aged"
)

// Reason explains a verdict.
type Reason string

const (
	ReasonBlankRow       Reason = "blank_row"
	ReasonBlankTimestamp Reason = "blank_timestamp"
	ReasonUnparsable     Reason = "unparsable_timestamp"
	ReasonRecent         Reason = "recent"
	ReasonOlderThanCut   Reason = "older_than_cutoff"
)

// Decision records how a row was classified.
type Decision struct {
	Row       Row
	Verdict   Verdict
	Reason    Reason
	Timestamp time.Time
	Parser    string
	Err       error
}

// Partition is the split of a table's data rows. Aged and Kept preserve the
// original relative order. Blank rows are gaps and belong to neither side.
type Partition struct {
	Aged       []Row
	Kept       []Row
	Blank      []Row
	Unparsable []*ParseError
}

// Total is the number of rows the partition was built from.
func (p Partition) Total() int {
	return len(p.Aged) + len(p.Kept) + len(p.Blank)
}

// Cells returns the cell slices of rows, in order.
func Cells(rows []Row) [][]string {
	out := make([][]string, len(rows))
	for i, r := range rows {
		out[i] = r.Cells
	}
	return out
}

// LocateColumn returns the 0-based index of the first header cell equal to name.
// The match is exact and case-sensitive.
func LocateColumn(header []string, name string) (int, bool) {
	for i, h := range header {
		if h == name {
			return i, true
		}
	}
	return -1, false
}
