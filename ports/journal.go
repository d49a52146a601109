package ports

import (
	"context"
	"time"

	"sheetarchiver/domain/core"
)

// RunState tracks how far an archive run got.
type RunState string

const (
	RunPending   RunState = "pending"   // journaled, archive append not confirmed
	RunAppended  RunState = "appended"  // archive append confirmed, live table not compacted
	RunCleared   RunState = "cleared"   // live data region cleared, kept rows not confirmed written
	RunCompleted RunState = "completed" // both tables written
	RunRecovered RunState = "recovered" // reconciled by a later run
)

// Finished reports whether a run needs no reconciliation.
func (s RunState) Finished() bool {
	return s == RunCompleted || s == RunRecovered
}

// RunRecord is one journaled run.
type RunRecord struct {
	ID          core.RunID
	Spreadsheet string
	LiveTable   string
	Archive     string
	State       RunState
	Cutoff      time.Time
	StartedAt   time.Time
	UpdatedAt   time.Time
	Moved       int
	Error       string

	// ArchiveOffset is the archive table's row count read before the append;
	// the appended block starts right after it.
	ArchiveOffset int
	Aged          [][]string // in append order
	Kept          [][]string // the live table's data rows as compaction writes them
}

// RunJournal durably records each run's aged rows before the archive append,
// so a run interrupted between the append and the compaction can be detected
// and reconciled by the next run.
type RunJournal interface {
	// Unfinished returns the runs for spreadsheet that are neither completed
	// nor recovered, oldest first.
	Unfinished(ctx context.Context, spreadsheet string) ([]RunRecord, error)

	// Begin records a new pending run with its aged rows.
	Begin(ctx context.Context, rec *RunRecord) error

	// Transition moves a run to state, recording errMsg when non-empty. A
	// failed run keeps the state it reached, with its error recorded.
	Transition(ctx context.Context, id core.RunID, state RunState, errMsg string) error

	// Recent lists the latest runs, newest first.
	Recent(ctx context.Context, limit int) ([]RunRecord, error)
}

// RunLock keeps two runs from touching the same tables at once.
type RunLock interface {
	// TryAcquire returns core.ErrRunInProgress when another holder exists.
	TryAcquire(ctx context.Context) (release func(), err error)
}
