package ports

import (
	"context"

	"sheetarchiver/domain/archive"
)

// Table is read/write access to one tab of string cells. Row 1 is the header.
type Table interface {
	// Name is the tab title.
	Name() string

	// Header returns row 1.
	Header(ctx context.Context) ([]string, error)

	// Values returns every row, header included. Trailing empty cells and
	// trailing empty rows may be omitted by the backend.
	Values(ctx context.Context) ([][]string, error)

	// AppendRows adds rows after the last non-empty row, values taken literally.
	AppendRows(ctx context.Context, rows [][]string) error

	// ClearRange empties every cell in r.
	ClearRange(ctx context.Context, r archive.Range) error

	// WriteRange writes rows with their top-left cell at topLeft.
	WriteRange(ctx context.Context, topLeft archive.Cell, rows [][]string) error
}

// Workbook opens tabs by name.
type Workbook interface {
	// Table returns the named tab, or an error wrapping core.ErrTableNotFound.
	Table(ctx context.Context, name string) (Table, error)
}
