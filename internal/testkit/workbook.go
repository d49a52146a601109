package testkit

import (
	"context"
	"fmt"
	"sync"

	"sheetarchiver/domain/archive"
	"sheetarchiver/domain/core"
	"sheetarchiver/ports"
)

// Call records one table operation, for asserting call order in tests.
type Call struct {
	Table string
	Op    string
	Ref   string
	Rows  int
}

func (c Call) String() string {
	if c.Ref == "" {
		return fmt.Sprintf("%s %s", c.Op, c.Table)
	}
	return fmt.Sprintf("%s %s!%s", c.Op, c.Table, c.Ref)
}

// Workbook is an in-memory ports.Workbook that reads like Google Sheets:
// trailing empty cells and trailing empty rows are not returned.
type Workbook struct {
	mu     sync.Mutex
	tables map[string]*Table
	calls  []Call
}

// NewWorkbook creates an empty workbook
func NewWorkbook() *Workbook {
	return &Workbook{tables: make(map[string]*Table)}
}

// AddTable creates or replaces a tab with the given rows (header first).
func (w *Workbook) AddTable(name string, rows ...[]string) *Table {
	w.mu.Lock()
	defer w.mu.Unlock()

	t := &Table{name: name, book: w, fail: make(map[string]error)}
	for _, r := range rows {
		t.cells = append(t.cells, append([]string(nil), r...))
	}
	w.tables[name] = t
	return t
}

// Table implements ports.Workbook
func (w *Workbook) Table(_ context.Context, name string) (ports.Table, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	t, ok := w.tables[name]
	if !ok {
		return nil, core.NewTableNotFoundError(name)
	}
	return t, nil
}

// Calls returns the operations performed so far, in order.
func (w *Workbook) Calls() []Call {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]Call(nil), w.calls...)
}

// Mutations returns only the write operations.
func (w *Workbook) Mutations() []Call {
	var out []Call
	for _, c := range w.Calls() {
		switch c.Op {
		case "append", "clear", "write":
			out = append(out, c)
		}
	}
	return out
}

// Table is one in-memory tab
type Table struct {
	name  string
	book  *Workbook
	cells [][]string
	fail  map[string]error
}

// FailOn makes every later call of op ("header", "values", "append", "clear", "write") return err.
func (t *Table) FailOn(op string, err error) {
	t.book.mu.Lock()
	defer t.book.mu.Unlock()
	t.fail[op] = err
}

// Rows returns the tab as Values would, without recording a call.
func (t *Table) Rows() [][]string {
	t.book.mu.Lock()
	defer t.book.mu.Unlock()
	return t.snapshot()
}

func (t *Table) Name() string { return t.name }

func (t *Table) record(op, ref string, rows int) error {
	t.book.calls = append(t.book.calls, Call{Table: t.name, Op: op, Ref: ref, Rows: rows})
	return t.fail[op]
}

func (t *Table) Header(_ context.Context) ([]string, error) {
	t.book.mu.Lock()
	defer t.book.mu.Unlock()

	if err := t.record("header", "1:1", 0); err != nil {
		return nil, err
	}
	if len(t.cells) == 0 {
		return nil, nil
	}
	return trimRow(t.cells[0]), nil
}

func (t *Table) Values(_ context.Context) ([][]string, error) {
	t.book.mu.Lock()
	defer t.book.mu.Unlock()

	if err := t.record("values", "", 0); err != nil {
		return nil, err
	}
	return t.snapshot(), nil
}

func (t *Table) AppendRows(_ context.Context, rows [][]string) error {
	t.book.mu.Lock()
	defer t.book.mu.Unlock()

	if err := t.record("append", "", len(rows)); err != nil {
		return err
	}
	t.cells = t.snapshot()
	for _, r := range rows {
		t.cells = append(t.cells, append([]string(nil), r...))
	}
	return nil
}

func (t *Table) ClearRange(_ context.Context, r archive.Range) error {
	t.book.mu.Lock()
	defer t.book.mu.Unlock()

	if err := t.record("clear", r.A1(), r.Rows()); err != nil {
		return err
	}
	for row := r.From.Row; row <= r.To.Row && row <= len(t.cells); row++ {
		cells := t.cells[row-1]
		for col := r.From.Col; col <= r.To.Col && col <= len(cells); col++ {
			cells[col-1] = ""
		}
	}
	return nil
}

func (t *Table) WriteRange(_ context.Context, topLeft archive.Cell, rows [][]string) error {
	t.book.mu.Lock()
	defer t.book.mu.Unlock()

	if err := t.record("write", topLeft.A1(), len(rows)); err != nil {
		return err
	}
	for i, r := range rows {
		row := topLeft.Row - 1 + i
		for len(t.cells) <= row {
			t.cells = append(t.cells, nil)
		}
		for j, v := range r {
			col := topLeft.Col - 1 + j
			for len(t.cells[row]) <= col {
				t.cells[row] = append(t.cells[row], "")
			}
			t.cells[row][col] = v
		}
	}
	return nil
}

func (t *Table) snapshot() [][]string {
	out := make([][]string, 0, len(t.cells))
	last := 0
	for i, r := range t.cells {
		row := trimRow(r)
		out = append(out, row)
		if len(row) > 0 {
			last = i + 1
		}
	}
	return out[:last]
}

func trimRow(r []string) []string {
	n := len(r)
	for n > 0 && r[n-1] == "" {
		n--
	}
	return append([]string{}, r[:n]...)
}
