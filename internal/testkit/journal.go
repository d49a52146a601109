package testkit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"sheetarchiver/domain/core"
	"sheetarchiver/ports"
)

// Journal is an in-memory ports.RunJournal
type Journal struct {
	mu      sync.Mutex
	records map[core.RunID]*ports.RunRecord
	order   []core.RunID
	fail    map[string]error
}

// NewJournal creates an empty journal
func NewJournal() *Journal {
	return &Journal{records: make(map[core.RunID]*ports.RunRecord), fail: make(map[string]error)}
}

// FailOn makes op ("unfinished", "begin", "transition") return err.
func (j *Journal) FailOn(op string, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.fail[op] = err
}

// Seed stores a record as-is, e.g. a run left unfinished by a crash.
func (j *Journal) Seed(rec ports.RunRecord) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.store(rec)
}

// Get returns a copy of one record
func (j *Journal) Get(id core.RunID) (ports.RunRecord, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	r, ok := j.records[id]
	if !ok {
		return ports.RunRecord{}, false
	}
	return *r, true
}

func (j *Journal) store(rec ports.RunRecord) {
	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now()
	}
	rec.UpdatedAt = rec.StartedAt
	if _, ok := j.records[rec.ID]; !ok {
		j.order = append(j.order, rec.ID)
	}
	j.records[rec.ID] = &rec
}

func (j *Journal) Unfinished(_ context.Context, spreadsheet string) ([]ports.RunRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.fail["unfinished"]; err != nil {
		return nil, err
	}
	var out []ports.RunRecord
	for _, id := range j.order {
		r := j.records[id]
		if r.Spreadsheet == spreadsheet && !r.State.Finished() {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (j *Journal) Begin(_ context.Context, rec *ports.RunRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.fail["begin"]; err != nil {
		return err
	}
	if _, ok := j.records[rec.ID]; ok {
		return fmt.Errorf("run %s already journaled", rec.ID)
	}
	j.store(*rec)
	return nil
}

func (j *Journal) Transition(_ context.Context, id core.RunID, state ports.RunState, errMsg string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.fail["transition"]; err != nil {
		return err
	}
	r, ok := j.records[id]
	if !ok {
		return fmt.Errorf("run %s not journaled", id)
	}
	r.State = state
	r.Error = errMsg
	r.UpdatedAt = time.Now()
	return nil
}

func (j *Journal) Recent(_ context.Context, limit int) ([]ports.RunRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	out := make([]ports.RunRecord, 0, len(j.order))
	for i := len(j.order) - 1; i >= 0; i-- {
		out = append(out, *j.records[j.order[i]])
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Lock is an in-memory ports.RunLock
type Lock struct {
	mu   sync.Mutex
	held bool
}

func (l *Lock) TryAcquire(context.Context) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.held {
		return nil, core.ErrRunInProgress
	}
	l.held = true
	return func() {
		l.mu.Lock()
		l.held = false
		l.mu.Unlock()
	}, nil
}

// Held reports whether the lock is currently taken
func (l *Lock) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held
}
