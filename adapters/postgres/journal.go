package postgres

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"sheetarchiver/domain/core"
	"sheetarchiver/ports"

	"github.com/jmoiron/sqlx"
)

// JSONBRows stores a block of row cells in a JSONB column
type JSONBRows [][]string

// Value implements driver.Valuer interface
func (r JSONBRows) Value() (driver.Value, error) {
	if r == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(r)
}

// Scan implements sql.Scanner interface
func (r *JSONBRows) Scan(value interface{}) error {
	var bytes []byte
	switch v := value.(type) {
	case nil:
		*r = nil
		return nil
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into JSONBRows", value)
	}
	if len(bytes) == 0 {
		*r = nil
		return nil
	}
	var rows [][]string
	if err := json.Unmarshal(bytes, &rows); err != nil {
		return err
	}
	*r = rows
	return nil
}

type runRow struct {
	ID            string    `db:"id"`
	Spreadsheet   string    `db:"spreadsheet"`
	LiveTable     string    `db:"live_table"`
	ArchiveTable  string    `db:"archive_table"`
	State         string    `db:"state"`
	Cutoff        time.Time `db:"cutoff"`
	StartedAt     time.Time `db:"started_at"`
	UpdatedAt     time.Time `db:"updated_at"`
	Moved         int       `db:"moved"`
	ErrorMessage  string    `db:"error_message"`
	ArchiveOffset int       `db:"archive_offset"`
	AgedRows      JSONBRows `db:"aged_rows"`
	KeptRows      JSONBRows `db:"kept_rows"`
}

func (r runRow) record() ports.RunRecord {
	return ports.RunRecord{
		ID:            core.RunID(r.ID),
		Spreadsheet:   r.Spreadsheet,
		LiveTable:     r.LiveTable,
		Archive:       r.ArchiveTable,
		State:         ports.RunState(r.State),
		Cutoff:        r.Cutoff,
		StartedAt:     r.StartedAt,
		UpdatedAt:     r.UpdatedAt,
		Moved:         r.Moved,
		Error:         r.ErrorMessage,
		ArchiveOffset: r.ArchiveOffset,
		Aged:          r.AgedRows,
		Kept:          r.KeptRows,
	}
}

const runColumns = `id, spreadsheet, live_table, archive_table, state, cutoff, started_at, updated_at,
	moved, error_message, archive_offset, aged_rows, kept_rows`

// RunJournal implements ports.RunJournal for PostgreSQL
type RunJournal struct {
	db *sqlx.DB
}

// NewRunJournal creates a new PostgreSQL run journal
func NewRunJournal(db *sqlx.DB) *RunJournal {
	return &RunJournal{db: db}
}

// Unfinished returns runs that were neither completed nor recovered, oldest first
func (j *RunJournal) Unfinished(ctx context.Context, spreadsheet string) ([]ports.RunRecord, error) {
	var rows []runRow
	err := j.db.SelectContext(ctx, &rows, `
		SELECT `+runColumns+`
		FROM archive_runs
		WHERE spreadsheet = $1 AND state NOT IN ($2, $3)
		ORDER BY started_at ASC, id ASC
	`, spreadsheet, ports.RunCompleted, ports.RunRecovered)
	if err != nil {
		return nil, fmt.Errorf("failed to load unfinished runs: %w", err)
	}
	return records(rows), nil
}

// Begin inserts a new run with its row snapshots
func (j *RunJournal) Begin(ctx context.Context, rec *ports.RunRecord) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO archive_runs (id, spreadsheet, live_table, archive_table, state, cutoff, started_at, updated_at,
			moved, error_message, archive_offset, aged_rows, kept_rows)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), $8, $9, $10, $11, $12)
	`, rec.ID, rec.Spreadsheet, rec.LiveTable, rec.Archive, rec.State, rec.Cutoff, rec.StartedAt,
		rec.Moved, rec.Error, rec.ArchiveOffset, JSONBRows(rec.Aged), JSONBRows(rec.Kept))
	if err != nil {
		return fmt.Errorf("failed to insert run %s: %w", rec.ID, err)
	}
	return nil
}

// Transition updates a run's state and error message
func (j *RunJournal) Transition(ctx context.Context, id core.RunID, state ports.RunState, errMsg string) error {
	res, err := j.db.ExecContext(ctx, `
		UPDATE archive_runs
		SET state = $2, error_message = $3, updated_at = NOW()
		WHERE id = $1
	`, id, state, errMsg)
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

// Recent lists the latest runs across all spreadsheets, newest first
func (j *RunJournal) Recent(ctx context.Context, limit int) ([]ports.RunRecord, error) {
	query := `
		SELECT ` + runColumns + `
		FROM archive_runs
		ORDER BY started_at DESC, id DESC
	`
	args := []interface{}{}
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}

	var rows []runRow
	if err := j.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return records(rows), nil
}

func records(rows []runRow) []ports.RunRecord {
	out := make([]ports.RunRecord, len(rows))
	for i, r := range rows {
		out[i] = r.record()
	}
	return out
}
