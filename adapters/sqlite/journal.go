package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"sheetarchiver/domain/core"
	"sheetarchiver/ports"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // SQLite driver
)

// Schema is the journal table for single-host deployments.
const Schema = `
CREATE TABLE IF NOT EXISTS archive_runs (
	id TEXT PRIMARY KEY,
	spreadsheet TEXT NOT NULL,
	live_table TEXT NOT NULL,
	archive_table TEXT NOT NULL,
	state TEXT NOT NULL,
	cutoff TEXT NOT NULL,
	started_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	moved INTEGER NOT NULL DEFAULT 0,
	error_message TEXT NOT NULL DEFAULT '',
	archive_offset INTEGER NOT NULL DEFAULT 0,
	aged_rows TEXT NOT NULL DEFAULT '[]',
	kept_rows TEXT NOT NULL DEFAULT '[]'
);
CREATE INDEX IF NOT EXISTS idx_archive_runs_spreadsheet ON archive_runs (spreadsheet, started_at);
`

// Timestamps are stored as fixed-width UTC text so they sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// RunJournal implements ports.RunJournal on a local SQLite file.
type RunJournal struct {
	db *sqlx.DB
}

// Open opens (creating if needed) the journal database at path.
func Open(ctx context.Context, path string) (*RunJournal, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{"PRAGMA journal_mode=WAL;", "PRAGMA busy_timeout=5000;", Schema} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to initialize journal %s: %w", path, err)
		}
	}
	return &RunJournal{db: db}, nil
}

// Close closes the database.
func (j *RunJournal) Close() error {
	return j.db.Close()
}

type runRow struct {
	ID            string `db:"id"`
	Spreadsheet   string `db:"spreadsheet"`
	LiveTable     string `db:"live_table"`
	ArchiveTable  string `db:"archive_table"`
	State         string `db:"state"`
	Cutoff        string `db:"cutoff"`
	StartedAt     string `db:"started_at"`
	UpdatedAt     string `db:"updated_at"`
	Moved         int    `db:"moved"`
	ErrorMessage  string `db:"error_message"`
	ArchiveOffset int    `db:"archive_offset"`
	AgedRows      string `db:"aged_rows"`
	KeptRows      string `db:"kept_rows"`
}

func (r runRow) record() (ports.RunRecord, error) {
	rec := ports.RunRecord{
		ID:            core.RunID(r.ID),
		Spreadsheet:   r.Spreadsheet,
		LiveTable:     r.LiveTable,
		Archive:       r.ArchiveTable,
		State:         ports.RunState(r.State),
		Moved:         r.Moved,
		Error:         r.ErrorMessage,
		ArchiveOffset: r.ArchiveOffset,
	}
	var err error
	if rec.Cutoff, err = time.Parse(timeLayout, r.Cutoff); err != nil {
		return rec, fmt.Errorf("run %s: bad cutoff: %w", r.ID, err)
	}
	if rec.StartedAt, err = time.Parse(timeLayout, r.StartedAt); err != nil {
		return rec, fmt.Errorf("run %s: bad started_at: %w", r.ID, err)
	}
	if rec.UpdatedAt, err = time.Parse(timeLayout, r.UpdatedAt); err != nil {
		return rec, fmt.Errorf("run %s: bad updated_at: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(r.AgedRows), &rec.Aged); err != nil {
		return rec, fmt.Errorf("run %s: bad aged_rows: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(r.KeptRows), &rec.Kept); err != nil {
		return rec, fmt.Errorf("run %s: bad kept_rows: %w", r.ID, err)
	}
	return rec, nil
}

const runColumns = `id, spreadsheet, live_table, archive_table, state, cutoff, started_at, updated_at,
	moved, error_message, archive_offset, aged_rows, kept_rows`

func (j *RunJournal) Unfinished(ctx context.Context, spreadsheet string) ([]ports.RunRecord, error) {
	var rows []runRow
	err := j.db.SelectContext(ctx, &rows, `
		SELECT `+runColumns+`
		FROM archive_runs
		WHERE spreadsheet = ? AND state NOT IN (?, ?)
		ORDER BY started_at ASC, id ASC
	`, spreadsheet, string(ports.RunCompleted), string(ports.RunRecovered))
	if err != nil {
		return nil, fmt.Errorf("failed to load unfinished runs: %w", err)
	}
	return records(rows)
}

func (j *RunJournal) Begin(ctx context.Context, rec *ports.RunRecord) error {
	aged, err := encodeRows(rec.Aged)
	if err != nil {
		return err
	}
	kept, err := encodeRows(rec.Kept)
	if err != nil {
		return err
	}
	_, err = j.db.ExecContext(ctx, `
		INSERT INTO archive_runs (`+runColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID.String(), rec.Spreadsheet, rec.LiveTable, rec.Archive, string(rec.State),
		formatTime(rec.Cutoff), formatTime(rec.StartedAt), formatTime(time.Now()),
		rec.Moved, rec.Error, rec.ArchiveOffset, aged, kept)
	if err != nil {
		return fmt.Errorf("failed to insert run %s: %w", rec.ID, err)
	}
	return nil
}

func (j *RunJournal) Transition(ctx context.Context, id core.RunID, state ports.RunState, errMsg string) error {
	res, err := j.db.ExecContext(ctx, `
		UPDATE archive_runs SET state = ?, error_message = ?, updated_at = ? WHERE id = ?
	`, string(state), errMsg, formatTime(time.Now()), id.String())
	if err != nil {
		return fmt.Errorf("failed to update run %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("run %s not journaled", id)
	}
	return nil
}

func (j *RunJournal) Recent(ctx context.Context, limit int) ([]ports.RunRecord, error) {
	query := `SELECT ` + runColumns + ` FROM archive_runs ORDER BY started_at DESC, id DESC`
	args := []interface{}{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	var rows []runRow
	if err := j.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return records(rows)
}

func records(rows []runRow) ([]ports.RunRecord, error) {
	out := make([]ports.RunRecord, len(rows))
	for i, r := range rows {
		rec, err := r.record()
		if err != nil {
			return nil, err
		}
		out[i] = rec
	}
	return out, nil
}

func encodeRows(rows [][]string) (string, error) {
	if rows == nil {
		return "[]", nil
	}
	data, err := json.Marshal(rows)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}
