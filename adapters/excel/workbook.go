package excel

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"

	"sheetarchiver/domain/archive"
	"sheetarchiver/domain/core"
	"sheetarchiver/ports"

	"github.com/xuri/excelize/v2"
)

// Workbook is a local .xlsx file whose worksheets are tables. Every mutation
// is saved to disk before it returns.
type Workbook struct {
	mu       sync.Mutex
	filePath string
	file     *excelize.File
}

// Open opens an existing workbook. The caller must Close it.
func Open(filePath string) (*Workbook, error) {
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: XLSX file not found: %s", core.ErrConfiguration, filePath)
	}
	f, err := excelize.OpenFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open Excel file: %w", err)
	}
	log.Printf("[Workbook] opened %s (%d sheet(s))", filePath, len(f.GetSheetList()))
	return &Workbook{filePath: filePath, file: f}, nil
}

// Close releases the underlying file.
func (w *Workbook) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}

// Table returns the worksheet with the given name.
func (w *Workbook) Table(_ context.Context, name string) (ports.Table, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	idx, err := w.file.GetSheetIndex(name)
	if err != nil {
		return nil, fmt.Errorf("failed to look up sheet %s: %w", name, err)
	}
	if idx < 0 {
		return nil, core.NewTableNotFoundError(name)
	}
	return &Table{wb: w, name: name}, nil
}

// Table is one worksheet of a Workbook.
type Table struct {
	wb   *Workbook
	name string
}

func (t *Table) Name() string { return t.name }

func (t *Table) Header(ctx context.Context) ([]string, error) {
	rows, err := t.Values(ctx)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return rows[0], nil
}

func (t *Table) Values(_ context.Context) ([][]string, error) {
	t.wb.mu.Lock()
	defer t.wb.mu.Unlock()
	return t.rows()
}

// AppendRows writes rows directly below the last non-empty row.
func (t *Table) AppendRows(_ context.Context, rows [][]string) error {
	if len(rows) == 0 {
		return nil
	}
	t.wb.mu.Lock()
	defer t.wb.mu.Unlock()

	existing, err := t.rows()
	if err != nil {
		return err
	}
	if err := t.setRows(archive.Cell{Row: len(existing) + 1, Col: 1}, rows); err != nil {
		return err
	}
	return t.wb.save()
}

func (t *Table) ClearRange(_ context.Context, r archive.Range) error {
	if r.Empty() {
		return nil
	}
	t.wb.mu.Lock()
	defer t.wb.mu.Unlock()

	for row := r.From.Row; row <= r.To.Row; row++ {
		for col := r.From.Col; col <= r.To.Col; col++ {
			cell, err := excelize.CoordinatesToCellName(col, row)
			if err != nil {
				return err
			}
			if err := t.wb.file.SetCellStr(t.name, cell, ""); err != nil {
				return fmt.Errorf("failed to clear %s!%s: %w", t.name, cell, err)
			}
		}
	}
	return t.wb.save()
}

func (t *Table) WriteRange(_ context.Context, topLeft archive.Cell, rows [][]string) error {
	if len(rows) == 0 {
		return nil
	}
	t.wb.mu.Lock()
	defer t.wb.mu.Unlock()

	if err := t.setRows(topLeft, rows); err != nil {
		return err
	}
	return t.wb.save()
}

func (t *Table) rows() ([][]string, error) {
	rows, err := t.wb.file.GetRows(t.name)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", t.name, err)
	}
	return rows, nil
}

// setRows writes every value as a string cell so nothing is reinterpreted.
func (t *Table) setRows(topLeft archive.Cell, rows [][]string) error {
	for i, row := range rows {
		for j, value := range row {
			cell, err := excelize.CoordinatesToCellName(topLeft.Col+j, topLeft.Row+i)
			if err != nil {
				return err
			}
			if err := t.wb.file.SetCellStr(t.name, cell, value); err != nil {
				return fmt.Errorf("failed to write %s!%s: %w", t.name, cell, err)
			}
		}
	}
	return nil
}

func (w *Workbook) save() error {
	if err := w.file.Save(); err != nil {
		return fmt.Errorf("failed to save %s: %w", w.filePath, err)
	}
	return nil
}
