package archive

// CompactionPlan rewrites a live table's data region: clear Clear, then write
// Rows starting at Start. Rows are kept rows only, in order, with no gaps.
type CompactionPlan struct {
	Clear Range
	Start Cell
	Rows  [][]string
}

// PlanCompaction derives the rewrite from the snapshot read at the start of a
// run, so applying it twice yields the same table. The cleared width covers
// the header and any data row wider than it, so shifted rows leave no stale
// trailing cells behind.
func PlanCompaction(headerWidth int, data []Row, kept [][]string) CompactionPlan {
	width := headerWidth
	for _, r := range data {
		if len(r.Cells) > width {
			width = len(r.Cells)
		}
	}
	if width < 1 {
		width = 1
	}

	lastRow := HeaderRow
	for _, r := range data {
		if r.Number > lastRow {
			lastRow = r.Number
		}
	}

	return CompactionPlan{
		Clear: Range{
			From: Cell{Row: HeaderRow + 1, Col: 1},
			To:   Cell{Row: lastRow, Col: width},
		},
		Start: Cell{Row: HeaderRow + 1, Col: 1},
		Rows:  kept,
	}
}
