package archive

import (
	"sheetarchiver/domain/core"
)

// BlockLanded reports whether recorded appears as a contiguous block of
// table starting at or after row index from (0-based, header included).
// Trailing empty cells are ignored on both sides because table services drop
// them on read.
func BlockLanded(table [][]string, from int, recorded [][]string) bool {
	if len(recorded) == 0 || from < 0 {
		return false
	}
	want := make([]core.Hash, len(recorded))
	for i, r := range recorded {
		want[i] = core.RowHash(trimTrailing(r))
	}
	for start := from; start+len(want) <= len(table); start++ {
		match := true
		for i := range want {
			if core.RowHash(trimTrailing(table[start+i])) != want[i] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

// Missing returns the recorded rows that have no counterpart in rows, in
// recorded order, matching as a multiset.
func Missing(rows []Row, recorded [][]string) [][]string {
	have := make(map[core.Hash]int, len(rows))
	for _, r := range rows {
		have[core.RowHash(trimTrailing(r.Cells))]++
	}
	var out [][]string
	for _, r := range recorded {
		h := core.RowHash(trimTrailing(r))
		if have[h] > 0 {
			have[h]--
			continue
		}
		out = append(out, r)
	}
	return out
}

// ClaimRecorded removes from rows, in order, one occurrence of every recorded
// row (a multiset match on exact cells). It returns the unmatched rows and
// the claimed ones.
func ClaimRecorded(rows []Row, recorded [][]string) (remaining, claimed []Row) {
	if len(recorded) == 0 {
		return rows, nil
	}
	want := make(map[core.Hash]int, len(recorded))
	for _, r := range recorded {
		want[core.RowHash(trimTrailing(r))]++
	}
	for _, row := range rows {
		h := core.RowHash(trimTrailing(row.Cells))
		if want[h] > 0 {
			want[h]--
			claimed = append(claimed, row)
			continue
		}
		remaining = append(remaining, row)
	}
	return remaining, claimed
}

func trimTrailing(cells []string) []string {
	n := len(cells)
	for n > 0 && cells[n-1] == "" {
		n--
	}
	return cells[:n]
}
