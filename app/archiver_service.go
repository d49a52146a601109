package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"sheetarchiver/domain/archive"
	"sheetarchiver/domain/core"
	"sheetarchiver/internal"
	apperrors "sheetarchiver/internal/errors"
	"sheetarchiver/ports"
)

// ArchiverConfig is the archiving policy for one spreadsheet
type ArchiverConfig struct {
	Resource        string // journal and lock scope, e.g. the spreadsheet ID
	LiveTable       string
	ArchiveTable    string
	TimestampColumn string
	MaxAgeDays      int
	Location        *time.Location // zone in which "now" is taken
	DryRun          bool
}

// ArchiverService moves rows whose timestamp has aged past the cutoff from the
// live table to the archive table, then compacts the live table.
type ArchiverService struct {
	cfg       ArchiverConfig
	workbook  ports.Workbook
	journal   ports.RunJournal
	journaled bool
	lock      ports.RunLock
	clock     core.Clock
	parsers   archive.TimestampParsers
	logger    *internal.Logger
}

// RunResult summarizes one run
type RunResult struct {
	RunID      core.RunID
	Cutoff     core.CutoffAt
	Scanned    int // data rows read from the live table
	Moved      int // rows appended to the archive by this run
	Kept       int // data rows written back to the live table
	Unparsable int
	Blank      int
	Reconciled int // rows an interrupted run had already archived, removed from the live table
	Restored   int // rows an interrupted compaction had cleared, classified again by this run
	DryRun     bool
	Ages       *AgeSummary
}

// NewArchiverService creates an archiver. A nil journal disables crash
// recovery; a nil lock disables overlap protection.
func NewArchiverService(cfg ArchiverConfig, workbook ports.Workbook, journal ports.RunJournal, lock ports.RunLock, clock core.Clock, logger *internal.Logger) *ArchiverService {
	s := &ArchiverService{
		cfg:       cfg,
		workbook:  workbook,
		journal:   journal,
		journaled: journal != nil,
		lock:      lock,
		clock:     clock,
		parsers:   archive.DefaultParsers,
		logger:    logger,
	}
	if s.journal == nil {
		s.journal = nopJournal{}
	}
	if s.lock == nil {
		s.lock = nopLock{}
	}
	if s.clock == nil {
		s.clock = core.SystemClock{}
	}
	if s.cfg.Location == nil {
		s.cfg.Location = time.UTC
	}
	if s.logger == nil {
		s.logger = internal.DefaultLogger
	}
	s.logger = s.logger.With("archiver")
	return s
}

// Run performs one archive pass.
func (s *ArchiverService) Run(ctx context.Context) (*RunResult, error) {
	release, err := s.lock.TryAcquire(ctx)
	if err != nil {
		if errors.Is(err, core.ErrRunInProgress) {
			return nil, apperrors.Conflict("archive run refused", err)
		}
		return nil, apperrors.Wrap(err, "failed to acquire run lock")
	}
	defer release()

	live, err := s.openTable(ctx, s.cfg.LiveTable)
	if err != nil {
		return nil, err
	}
	archiveTable, err := s.openTable(ctx, s.cfg.ArchiveTable)
	if err != nil {
		return nil, err
	}

	// Step 1: locate the timestamp column
	header, err := live.Header(ctx)
	if err != nil {
		return nil, tableError("read header of", live.Name(), err)
	}
	col, ok := archive.LocateColumn(header, s.cfg.TimestampColumn)
	if !ok {
		return nil, apperrors.WithCode(apperrors.CodeConfigInvalid, core.NewColumnNotFoundError(live.Name(), s.cfg.TimestampColumn))
	}

	// Step 2: one cutoff for the whole run
	now := s.clock.Now()
	cutoff := core.NewCutoffAt(now, s.cfg.Location, s.cfg.MaxAgeDays)

	// Step 3: snapshot the data rows
	values, err := live.Values(ctx)
	if err != nil {
		return nil, tableError("read", live.Name(), err)
	}
	data := archive.RowsFromValues(values)

	result := &RunResult{
		RunID:   core.NewRunID(),
		Cutoff:  cutoff,
		Scanned: len(data),
		DryRun:  s.cfg.DryRun,
	}
	s.logger.Debug("run %s: %d data row(s) in '%s', cutoff %s", result.RunID, len(data), live.Name(), cutoff)

	rec, err := s.reconcile(ctx, archiveTable, data)
	if err != nil {
		return nil, err
	}

	// Step 4: classify
	classifier := archive.Classifier{Column: col, Cutoff: cutoff, Parsers: s.parsers}
	var agedAt []time.Time
	partition := classifier.Split(rec.remaining, func(d archive.Decision) {
		var pe *archive.ParseError
		switch {
		case errors.As(d.Err, &pe):
			s.logger.Warn("Couldn't parse timestamp %q on row %d", pe.Value, pe.Row)
		case d.Verdict == archive.VerdictAged:
			agedAt = append(agedAt, d.Timestamp)
		}
		s.logger.Trace("row %d: %s (%s)", d.Row.Number, d.Verdict, d.Reason)
	})

	aged := archive.Cells(partition.Aged)
	kept := archive.Cells(partition.Kept)

	result.Moved = len(aged)
	result.Kept = len(kept)
	result.Unparsable = len(partition.Unparsable)
	result.Blank = len(partition.Blank)
	result.Reconciled = len(rec.claimed)
	result.Restored = len(rec.restored)
	if ages, err := summarizeAges(now, agedAt); err != nil {
		s.logger.Debug("age summary unavailable: %v", err)
	} else {
		result.Ages = ages
	}

	// Step 5: nothing to do
	if len(aged) == 0 && len(rec.claimed) == 0 && len(rec.restored) == 0 {
		s.logger.Info("No rows older than %d days; sheet already up-to-date.", s.cfg.MaxAgeDays)
		if !s.cfg.DryRun {
			s.closeRecords(ctx, rec.records, result.RunID)
		}
		return result, nil
	}

	if s.cfg.DryRun {
		s.logger.Info("Dry run: would move %d row(s) to '%s' and keep %d in '%s'.", len(aged), archiveTable.Name(), len(kept), live.Name())
		return result, nil
	}

	record := &ports.RunRecord{
		ID:            result.RunID,
		Spreadsheet:   s.cfg.Resource,
		LiveTable:     live.Name(),
		Archive:       archiveTable.Name(),
		State:         ports.RunPending,
		Cutoff:        cutoff.Time(),
		StartedAt:     now,
		Moved:         len(aged),
		ArchiveOffset: rec.archiveLen,
		Aged:          aged,
		Kept:          kept,
	}
	if err := s.journal.Begin(ctx, record); err != nil {
		return nil, apperrors.Wrap(err, "failed to journal run")
	}

	// Step 6: append aged rows, in order, values as entered
	if len(aged) > 0 {
		if err := archiveTable.AppendRows(ctx, aged); err != nil {
			return nil, s.fail(ctx, record.ID, ports.RunPending, tableError("append to", archiveTable.Name(), err))
		}
	}
	s.transition(ctx, record.ID, ports.RunAppended)

	// Step 7: compact the live table from the snapshot
	plan := archive.PlanCompaction(len(header), data, kept)
	if !plan.Clear.Empty() {
		if err := live.ClearRange(ctx, plan.Clear); err != nil {
			state := ports.RunAppended
			if s.clearLanded(ctx, live, data) {
				state = ports.RunCleared
			}
			return nil, s.fail(ctx, record.ID, state, tableError("clear", live.Name(), err))
		}
	}
	s.transition(ctx, record.ID, ports.RunCleared)
	if len(plan.Rows) > 0 {
		if err := live.WriteRange(ctx, plan.Start, plan.Rows); err != nil {
			return nil, s.fail(ctx, record.ID, ports.RunCleared, tableError("rewrite", live.Name(), err))
		}
	}
	s.transition(ctx, record.ID, ports.RunCompleted)
	s.closeRecords(ctx, rec.records, record.ID)

	// Step 8: report
	s.logger.Info("Moved %d row(s) to '%s'.", len(aged), archiveTable.Name())
	if result.Ages != nil {
		s.logger.Debug("run %s: %s", result.RunID, result.Ages)
	}
	return result, nil
}

func (s *ArchiverService) openTable(ctx context.Context, name string) (ports.Table, error) {
	table, err := s.workbook.Table(ctx, name)
	if err != nil {
		if core.IsConfigurationError(err) {
			return nil, apperrors.WithCode(apperrors.CodeConfigInvalid, err)
		}
		return nil, tableError("open", name, err)
	}
	return table, nil
}

func tableError(action, table string, err error) error {
	return apperrors.ExternalServiceError("table", fmt.Errorf("%s '%s': %w", action, table, err))
}

// fail records err against the run without moving it past the state it reached.
func (s *ArchiverService) fail(ctx context.Context, id core.RunID, state ports.RunState, err error) error {
	if jerr := s.journal.Transition(ctx, id, state, err.Error()); jerr != nil {
		s.logger.Error("run %s: failed to journal error: %v", id, jerr)
	}
	return err
}

// transition failures are logged, not returned: the tables are already
// written and recovery can re-derive a stale state from the archive contents.
func (s *ArchiverService) transition(ctx context.Context, id core.RunID, state ports.RunState) {
	if err := s.journal.Transition(ctx, id, state, ""); err != nil {
		s.logger.Error("run %s: failed to journal state %s: %v", id, state, err)
	}
}

func (s *ArchiverService) closeRecords(ctx context.Context, records []ports.RunRecord, by core.RunID) {
	for _, r := range records {
		if err := s.journal.Transition(ctx, r.ID, ports.RunRecovered, "reconciled by run "+by.String()); err != nil {
			s.logger.Error("run %s: failed to mark recovered: %v", r.ID, err)
		}
	}
}

type nopJournal struct{}

func (nopJournal) Unfinished(context.Context, string) ([]ports.RunRecord, error) { return nil, nil }
func (nopJournal) Begin(context.Context, *ports.RunRecord) error                 { return nil }
func (nopJournal) Transition(context.Context, core.RunID, ports.RunState, string) error {
	return nil
}
func (nopJournal) Recent(context.Context, int) ([]ports.RunRecord, error) {
	return nil, core.ErrNoJournal
}

type nopLock struct{}

func (nopLock) TryAcquire(context.Context) (func(), error) { return func() {}, nil }
