package app

import (
	"context"

	"sheetarchiver/domain/archive"
	apperrors "sheetarchiver/internal/errors"
	"sheetarchiver/ports"
)

// reconciliation is what the journal says about runs that never completed.
type reconciliation struct {
	records    []ports.RunRecord
	archiveLen int
	claimed    []archive.Row // already archived, still in the live table
	restored   []archive.Row // cleared by an interrupted compaction, classified again
	remaining  []archive.Row // data rows left to classify
}

// reconcile inspects unfinished runs. A run whose append landed has its aged
// rows removed from the live snapshot so they are not archived twice. When the
// newest run got as far as clearing the live table, the kept rows it had not
// written back are restored ahead of the snapshot and classified with it.
// A run whose append never landed needs nothing: its rows are still live and
// get classified again.
func (s *ArchiverService) reconcile(ctx context.Context, archiveTable ports.Table, data []archive.Row) (*reconciliation, error) {
	rec := &reconciliation{remaining: data}
	if !s.journaled {
		return rec, nil
	}

	records, err := s.journal.Unfinished(ctx, s.cfg.Resource)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to read run journal")
	}
	rec.records = records

	archived, err := archiveTable.Values(ctx)
	if err != nil {
		return nil, tableError("read", archiveTable.Name(), err)
	}
	rec.archiveLen = len(archived)

	for i, r := range records {
		landed := r.State == ports.RunAppended || r.State == ports.RunCleared ||
			archive.BlockLanded(archived, r.ArchiveOffset, r.Aged)
		if !landed {
			s.logger.Warn("run %s stopped before its append to '%s'; its rows are still live", r.ID, r.Archive)
			continue
		}

		var claimed []archive.Row
		rec.remaining, claimed = archive.ClaimRecorded(rec.remaining, r.Aged)
		rec.claimed = append(rec.claimed, claimed...)
		if len(claimed) > 0 {
			s.logger.Warn("run %s already archived %d row(s) still present in '%s'; removing them", r.ID, len(claimed), r.LiveTable)
		}

		if i == len(records)-1 && r.State == ports.RunCleared {
			missing := archive.Missing(rec.remaining, r.Kept)
			for j, cells := range missing {
				rec.restored = append(rec.restored, archive.Row{Number: archive.HeaderRow + 1 + j, Cells: cells})
			}
			if len(rec.restored) > 0 {
				s.logger.Warn("run %s stopped mid-compaction; restoring %d row(s) to '%s'", r.ID, len(rec.restored), r.LiveTable)
			}
		}
	}
	rec.remaining = append(rec.restored, rec.remaining...)
	return rec, nil
}

// clearLanded decides, after ClearRange returned an error, whether the clear
// may still have been applied. The snapshot's rows still being present means
// it was not. An unreadable table counts as cleared, since restoring only
// writes back rows that are missing.
func (s *ArchiverService) clearLanded(ctx context.Context, live ports.Table, data []archive.Row) bool {
	values, err := live.Values(ctx)
	if err != nil {
		s.logger.Warn("could not re-read '%s' after a failed clear: %v", live.Name(), err)
		return true
	}
	var snapshot [][]string
	for _, r := range data {
		if !r.IsBlank() {
			snapshot = append(snapshot, r.Cells)
		}
	}
	return len(archive.Missing(archive.RowsFromValues(values), snapshot)) > 0
}
