package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"testing"
	"time"

	"sheetarchiver/domain/archive"
	"sheetarchiver/domain/core"
	"sheetarchiver/internal"
	apperrors "sheetarchiver/internal/errors"
	"sheetarchiver/internal/testkit"
	"sheetarchiver/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	liveTab    = "Recent Changes"
	archiveTab = "Historical"
	resource   = "sheet-under-test"
)

var (
	header   = []string{"Name", "Change Timestamp"}
	plus3    = time.FixedZone("+03:00", 3*3600)
	marchOne = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
)

type fixture struct {
	book    *testkit.Workbook
	live    *testkit.Table
	archive *testkit.Table
	journal *testkit.Journal
	lock    *testkit.Lock
	logs    *bytes.Buffer
	cfg     ArchiverConfig
}

func newFixture(liveRows ...[]string) *fixture {
	book := testkit.NewWorkbook()
	f := &fixture{
		book:    book,
		live:    book.AddTable(liveTab, append([][]string{header}, liveRows...)...),
		archive: book.AddTable(archiveTab, header),
		lock:    &testkit.Lock{},
		logs:    &bytes.Buffer{},
		cfg: ArchiverConfig{
			Resource:        resource,
			LiveTable:       liveTab,
			ArchiveTable:    archiveTab,
			TimestampColumn: "Change Timestamp",
			MaxAgeDays:      14,
			Location:        plus3,
		},
	}
	return f
}

func (f *fixture) withJournal() *fixture {
	f.journal = testkit.NewJournal()
	return f
}

func (f *fixture) service(now time.Time) *ArchiverService {
	logger := internal.NewWriterLogger(internal.LogLevelInfo, f.logs)
	var journal ports.RunJournal
	if f.journal != nil {
		journal = f.journal
	}
	return NewArchiverService(f.cfg, f.book, journal, f.lock, core.FixedClock(now), logger)
}

func (f *fixture) run(t *testing.T, now time.Time) *RunResult {
	t.Helper()
	result, err := f.service(now).Run(context.Background())
	require.NoError(t, err)
	return result
}

func TestRunLiteralScenarios(t *testing.T) {
	f := newFixture(
		[]string{"Alice", "2024-01-01T00:00:00Z"},
		[]string{"Bob", ""},
		[]string{"Cara", "not-a-date"},
		[]string{"Dan", "02/10/2024 10:00:00"},
	)

	result := f.run(t, marchOne)

	assert.Equal(t, 4, result.Scanned)
	assert.Equal(t, 2, result.Moved)
	assert.Equal(t, 2, result.Kept)
	assert.Equal(t, 1, result.Unparsable)
	assert.Equal(t, [][]string{
		header,
		{"Alice", "2024-01-01T00:00:00Z"},
		{"Dan", "02/10/2024 10:00:00"},
	}, f.archive.Rows())
	assert.Equal(t, [][]string{
		header,
		{"Bob"},
		{"Cara", "not-a-date"},
	}, f.live.Rows())

	logs := f.logs.String()
	assert.Contains(t, logs, `[WARN] [archiver] Couldn't parse timestamp "not-a-date" on row 4`)
	assert.Contains(t, logs, "[INFO] [archiver] Moved 2 row(s) to 'Historical'.")
	assert.Equal(t, 1, strings.Count(logs, "[WARN]"))

	require.NotNil(t, result.Ages)
	assert.InDelta(t, 60.0, result.Ages.MaxDays, 0.001)
	assert.InDelta(t, 19.583, result.Ages.MinDays, 0.001)
}

func TestRunCompactsFromTheTop(t *testing.T) {
	f := newFixture(
		[]string{"one", "2024-01-01T00:00:00Z"},
		[]string{"two", "2024-02-28T00:00:00Z"},
		[]string{"three", "2024-01-03T00:00:00Z"},
	)

	f.run(t, marchOne)

	assert.Equal(t, [][]string{header, {"two", "2024-02-28T00:00:00Z"}}, f.live.Rows())
	assert.Equal(t, [][]string{
		header,
		{"one", "2024-01-01T00:00:00Z"},
		{"three", "2024-01-03T00:00:00Z"},
	}, f.archive.Rows())
}

func TestRunCallSequence(t *testing.T) {
	f := newFixture(
		[]string{"one", "2024-01-01T00:00:00Z"},
		[]string{"two", "2024-02-28T00:00:00Z"},
		[]string{"three", "2024-01-03T00:00:00Z", "wide"},
	)

	f.run(t, marchOne)

	var calls []string
	for _, c := range f.book.Calls() {
		calls = append(calls, c.String())
	}
	assert.Equal(t, []string{
		"header Recent Changes!1:1",
		"values Recent Changes",
		"append Historical",
		"clear Recent Changes!A2:C4",
		"write Recent Changes!A2",
	}, calls)
}

func TestRunNothingToDo(t *testing.T) {
	f := newFixture(
		[]string{"recent", "2024-02-29T12:00:00+03:00"},
		[]string{"blank", ""},
		[]string{"bad", "soon"},
	)

	result := f.run(t, marchOne)

	assert.Equal(t, 0, result.Moved)
	assert.Empty(t, f.book.Mutations())
	assert.Contains(t, f.logs.String(), "No rows older than 14 days; sheet already up-to-date.")
}

func TestRunEmptyLiveTable(t *testing.T) {
	f := newFixture()

	result := f.run(t, marchOne)

	assert.Equal(t, 0, result.Scanned)
	assert.Empty(t, f.book.Mutations())
}

func TestRunMissingColumn(t *testing.T) {
	f := newFixture([]string{"Alice", "2024-01-01T00:00:00Z"})
	f.cfg.TimestampColumn = "change timestamp"

	_, err := f.service(marchOne).Run(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrColumnNotFound)
	assert.True(t, core.IsConfigurationError(err))
	assert.Equal(t, apperrors.CodeConfigInvalid, apperrors.GetCode(err))
	assert.Empty(t, f.book.Mutations())
	assert.False(t, f.lock.Held(), "lock is released on failure")
}

func TestRunMissingTable(t *testing.T) {
	f := newFixture()
	f.cfg.ArchiveTable = "Archive 2"

	_, err := f.service(marchOne).Run(context.Background())

	assert.ErrorIs(t, err, core.ErrTableNotFound)
	assert.Equal(t, apperrors.CodeConfigInvalid, apperrors.GetCode(err))
}

// Unparsable and empty timestamps are never archived, wherever they sit.
func TestRunKeepsAmbiguousRows(t *testing.T) {
	ambiguous := []string{"", "   ", "n/a", "2024-13-01", "31/01/2024 10:00:00", "01/31/2024", "1700000000"}
	for pos := 0; pos < 3; pos++ {
		t.Run(fmt.Sprintf("position %d", pos), func(t *testing.T) {
			var rows [][]string
			for i, ts := range ambiguous {
				rows = append(rows, []string{fmt.Sprintf("amb%d", i), ts})
			}
			old := []string{"old", "2023-06-01T00:00:00Z"}
			rows = append(rows[:pos], append([][]string{old}, rows[pos:]...)...)
			f := newFixture(rows...)

			f.run(t, marchOne)

			assert.Equal(t, [][]string{header, old}, f.archive.Rows())
			assert.Len(t, f.live.Rows(), 1+len(ambiguous))
		})
	}
}

// Rows read = rows archived + rows retained, disjoint, each side in original order.
func TestRunNoLossNoDuplication(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	cutoff := core.NewCutoffAt(marchOne, plus3, 14).Time()

	for trial := 0; trial < 25; trial++ {
		var rows [][]string
		var wantAged, wantKept [][]string
		n := 1 + rng.Intn(30)
		for i := 0; i < n; i++ {
			ts := cutoff.Add(time.Duration(rng.Intn(96)-48) * time.Hour)
			var cell string
			switch rng.Intn(4) {
			case 0:
				cell = ts.UTC().Format(time.RFC3339)
			case 1:
				cell = ts.UTC().Format("01/02/2006 15:04:05")
			case 2:
				cell = ts.In(plus3).Format(time.RFC3339)
			default:
				cell = "pending"
			}
			row := []string{fmt.Sprintf("t%d-r%d", trial, i), cell}
			rows = append(rows, row)
			if cell != "pending" && ts.Before(cutoff) {
				wantAged = append(wantAged, row)
			} else {
				wantKept = append(wantKept, row)
			}
		}

		f := newFixture(rows...)
		f.run(t, marchOne)

		gotAged := f.archive.Rows()[1:]
		gotKept := f.live.Rows()[1:]
		assert.Equal(t, nonNil(wantAged), nonNil(gotAged), "trial %d archived rows", trial)
		assert.Equal(t, nonNil(wantKept), nonNil(gotKept), "trial %d kept rows", trial)
		assert.ElementsMatch(t, rows, append(append([][]string{}, gotAged...), gotKept...))
	}
}

func nonNil(rows [][]string) [][]string {
	if rows == nil {
		return [][]string{}
	}
	return rows
}

func TestRunTwiceIsIdempotent(t *testing.T) {
	f := newFixture(
		[]string{"old", "2024-01-01T00:00:00Z"},
		[]string{"new", "2024-02-29T00:00:00Z"},
	)

	first := f.run(t, marchOne)
	mutations := len(f.book.Mutations())
	second := f.run(t, marchOne.Add(time.Second))

	assert.Equal(t, 1, first.Moved)
	assert.Equal(t, 0, second.Moved)
	assert.Len(t, f.book.Mutations(), mutations, "second run writes nothing")
	assert.Len(t, f.archive.Rows(), 2)
}

func TestRunLeavesHeaderUntouched(t *testing.T) {
	f := newFixture(
		[]string{"old", "2024-01-01T00:00:00Z", "x", "y"},
		[]string{"new", "2024-02-29T00:00:00Z"},
	)
	f.live = f.book.AddTable(liveTab,
		[]string{"Name", "Change Timestamp", "Name", " Notes "},
		[]string{"old", "2024-01-01T00:00:00Z", "x", "y"},
		[]string{"new", "2024-02-29T00:00:00Z"},
	)

	f.run(t, marchOne)

	assert.Equal(t, []string{"Name", "Change Timestamp", "Name", " Notes "}, f.live.Rows()[0])
	for _, c := range f.book.Mutations() {
		if c.Table == liveTab {
			assert.True(t, strings.HasPrefix(c.Ref, "A2"), "%s touches the header", c)
		}
	}
}

func TestRunDropsBlankRowsWhenCompacting(t *testing.T) {
	f := newFixture(
		[]string{"old", "2024-01-01T00:00:00Z"},
		[]string{"", ""},
		[]string{"kept", ""},
		[]string{},
		[]string{"new", "2024-02-29T00:00:00Z"},
	)

	result := f.run(t, marchOne)

	assert.Equal(t, 2, result.Blank)
	assert.Equal(t, [][]string{header, {"kept"}, {"new", "2024-02-29T00:00:00Z"}}, f.live.Rows())
}

func TestRunDryRun(t *testing.T) {
	f := newFixture(
		[]string{"old", "2024-01-01T00:00:00Z"},
		[]string{"new", "2024-02-29T00:00:00Z"},
	).withJournal()
	f.cfg.DryRun = true

	result := f.run(t, marchOne)

	assert.True(t, result.DryRun)
	assert.Equal(t, 1, result.Moved)
	assert.Empty(t, f.book.Mutations())
	recent, err := f.journal.Recent(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, recent)
	assert.Contains(t, f.logs.String(), "Dry run: would move 1 row(s) to 'Historical'")
}

func TestRunRefusesOverlap(t *testing.T) {
	f := newFixture([]string{"old", "2024-01-01T00:00:00Z"})
	release, err := f.lock.TryAcquire(context.Background())
	require.NoError(t, err)
	defer release()

	_, err = f.service(marchOne).Run(context.Background())

	assert.ErrorIs(t, err, core.ErrRunInProgress)
	assert.Equal(t, apperrors.CodeConflict, apperrors.GetCode(err))
	assert.Empty(t, f.book.Calls())
}

func TestRunAppendFailureLeavesLiveTableAlone(t *testing.T) {
	f := newFixture(
		[]string{"old", "2024-01-01T00:00:00Z"},
		[]string{"new", "2024-02-29T00:00:00Z"},
	).withJournal()
	boom := errors.New("403 forbidden")
	f.archive.FailOn("append", boom)
	before := f.live.Rows()

	_, err := f.service(marchOne).Run(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, apperrors.CodeExternalService, apperrors.GetCode(err))
	assert.Equal(t, before, f.live.Rows())

	unfinished, err := f.journal.Unfinished(context.Background(), resource)
	require.NoError(t, err)
	require.Len(t, unfinished, 1)
	assert.Equal(t, ports.RunPending, unfinished[0].State)
	assert.Contains(t, unfinished[0].Error, "403 forbidden")
}

func TestRunJournalsCompletedRun(t *testing.T) {
	f := newFixture(
		[]string{"old", "2024-01-01T00:00:00Z"},
		[]string{"new", "2024-02-29T00:00:00Z"},
	).withJournal()

	result := f.run(t, marchOne)

	rec, ok := f.journal.Get(result.RunID)
	require.True(t, ok)
	assert.Equal(t, ports.RunCompleted, rec.State)
	assert.Equal(t, 1, rec.ArchiveOffset)
	assert.Equal(t, [][]string{{"old", "2024-01-01T00:00:00Z"}}, rec.Aged)
	assert.Equal(t, [][]string{{"new", "2024-02-29T00:00:00Z"}}, rec.Kept)
	assert.True(t, rec.Cutoff.Equal(result.Cutoff.Time()))
}

// A crash after the archive append but before compaction must not archive the rows twice.
func TestRunReconcilesLandedAppend(t *testing.T) {
	old := []string{"old", "2024-01-01T00:00:00Z"}
	newer := []string{"newer", "2024-01-05T00:00:00Z"}
	f := newFixture(old, []string{"keep", "2024-02-29T00:00:00Z"}, newer).withJournal()
	f.archive = f.book.AddTable(archiveTab, header, old)

	crashed := ports.RunRecord{
		ID:            core.NewRunID(),
		Spreadsheet:   resource,
		LiveTable:     liveTab,
		Archive:       archiveTab,
		State:         ports.RunPending,
		ArchiveOffset: 1,
		Aged:          [][]string{old},
		Kept:          [][]string{{"keep", "2024-02-29T00:00:00Z"}, newer},
	}
	f.journal.Seed(crashed)

	result := f.run(t, marchOne)

	assert.Equal(t, 1, result.Reconciled)
	assert.Equal(t, 1, result.Moved)
	assert.Equal(t, [][]string{header, old, newer}, f.archive.Rows())
	assert.Equal(t, [][]string{header, {"keep", "2024-02-29T00:00:00Z"}}, f.live.Rows())

	rec, _ := f.journal.Get(crashed.ID)
	assert.Equal(t, ports.RunRecovered, rec.State)
}

// A crash between the clear and the rewrite must not lose the kept rows.
func TestRunRestoresInterruptedCompaction(t *testing.T) {
	old := []string{"old", "2024-01-01T00:00:00Z"}
	keep := []string{"keep", "2024-02-29T00:00:00Z"}
	f := newFixture([]string{"added later", ""}).withJournal()
	f.archive = f.book.AddTable(archiveTab, header, old)

	f.journal.Seed(ports.RunRecord{
		ID:            core.NewRunID(),
		Spreadsheet:   resource,
		State:         ports.RunCleared,
		ArchiveOffset: 1,
		Aged:          [][]string{old},
		Kept:          [][]string{keep},
	})

	result := f.run(t, marchOne)

	assert.Equal(t, 1, result.Restored)
	assert.Equal(t, 0, result.Moved)
	assert.Equal(t, [][]string{header, keep, {"added later"}}, f.live.Rows())
	assert.Equal(t, [][]string{header, old}, f.archive.Rows())
}

// A clear that failed without touching the live table leaves nothing to
// restore: rows removed by hand afterwards stay removed.
func TestRunDoesNotRestoreAfterFailedClear(t *testing.T) {
	keep1 := []string{"keep1", "2024-02-29T00:00:00Z"}
	keep2 := []string{"keep2", "2024-02-28T00:00:00Z"}
	old := []string{"old", "2024-01-01T00:00:00Z"}
	f := newFixture(keep1, old, keep2).withJournal()
	boom := errors.New("503 service unavailable")
	f.live.FailOn("clear", boom)

	first, err := f.service(marchOne).Run(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Nil(t, first)

	unfinished, err := f.journal.Unfinished(context.Background(), resource)
	require.NoError(t, err)
	require.Len(t, unfinished, 1)
	assert.Equal(t, ports.RunAppended, unfinished[0].State)
	assert.Contains(t, unfinished[0].Error, "503 service unavailable")
	assert.Equal(t, [][]string{header, keep1, old, keep2}, f.live.Rows())

	// keep2 is deleted by hand before the next run
	f.live = f.book.AddTable(liveTab, header, keep1, old)

	result := f.run(t, marchOne.Add(time.Hour))

	assert.Equal(t, 0, result.Restored)
	assert.Equal(t, 1, result.Reconciled)
	assert.Equal(t, 0, result.Moved)
	assert.Equal(t, [][]string{header, keep1}, f.live.Rows())
	assert.Equal(t, [][]string{header, old}, f.archive.Rows())

	rec, _ := f.journal.Get(unfinished[0].ID)
	assert.Equal(t, ports.RunRecovered, rec.State)
}

// Rows restored after an interrupted compaction face the new run's cutoff.
func TestRunClassifiesRestoredRows(t *testing.T) {
	old := []string{"old", "2024-01-01T00:00:00Z"}
	keep := []string{"keep", "2024-02-20T00:00:00Z"}
	f := newFixture(old, keep).withJournal()
	boom := errors.New("connection reset")
	f.live.FailOn("write", boom)

	_, err := f.service(marchOne).Run(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Equal(t, [][]string{header}, f.live.Rows())

	unfinished, err := f.journal.Unfinished(context.Background(), resource)
	require.NoError(t, err)
	require.Len(t, unfinished, 1)
	assert.Equal(t, ports.RunCleared, unfinished[0].State)

	t.Run("still recent", func(t *testing.T) {
		g := &fixture{book: testkit.NewWorkbook(), lock: &testkit.Lock{}, logs: &bytes.Buffer{}, cfg: f.cfg, journal: testkit.NewJournal()}
		g.live = g.book.AddTable(liveTab, header)
		g.archive = g.book.AddTable(archiveTab, header, old)
		g.journal.Seed(unfinished[0])

		result := g.run(t, marchOne.Add(time.Hour))

		assert.Equal(t, 1, result.Restored)
		assert.Equal(t, 0, result.Moved)
		assert.Equal(t, [][]string{header, keep}, g.live.Rows())
		assert.Equal(t, [][]string{header, old}, g.archive.Rows())
	})

	t.Run("aged since", func(t *testing.T) {
		f.live.FailOn("write", nil)

		result := f.run(t, time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC))

		assert.Equal(t, 1, result.Restored)
		assert.Equal(t, 1, result.Moved)
		assert.Equal(t, 0, result.Kept)
		assert.Equal(t, [][]string{header}, f.live.Rows())
		assert.Equal(t, [][]string{header, old, keep}, f.archive.Rows())
	})
}

func TestClearLanded(t *testing.T) {
	rows := [][]string{{"a", "2024-01-01T00:00:00Z"}, {}, {"b", "2024-02-29T00:00:00Z"}}
	data := archive.RowsFromValues(append([][]string{header}, rows...))

	untouched := newFixture(rows...)
	table, err := untouched.book.Table(context.Background(), liveTab)
	require.NoError(t, err)
	assert.False(t, untouched.service(marchOne).clearLanded(context.Background(), table, data))

	cleared := newFixture()
	table, err = cleared.book.Table(context.Background(), liveTab)
	require.NoError(t, err)
	assert.True(t, cleared.service(marchOne).clearLanded(context.Background(), table, data))

	unreadable := newFixture(rows...)
	unreadable.live.FailOn("values", errors.New("timeout"))
	assert.True(t, unreadable.service(marchOne).clearLanded(context.Background(), unreadable.live, data))
}

// A crash before the append landed leaves nothing to reconcile: rows are archived once.
func TestRunIgnoresAppendThatNeverLanded(t *testing.T) {
	old := []string{"old", "2024-01-01T00:00:00Z"}
	f := newFixture(old).withJournal()
	crashed := ports.RunRecord{
		ID:            core.NewRunID(),
		Spreadsheet:   resource,
		State:         ports.RunPending,
		ArchiveOffset: 1,
		Aged:          [][]string{old},
	}
	f.journal.Seed(crashed)

	result := f.run(t, marchOne)

	assert.Equal(t, 0, result.Reconciled)
	assert.Equal(t, 1, result.Moved)
	assert.Equal(t, [][]string{header, old}, f.archive.Rows())
	rec, _ := f.journal.Get(crashed.ID)
	assert.Equal(t, ports.RunRecovered, rec.State)
}

func TestRunJournalReadFailureAbortsBeforeWrites(t *testing.T) {
	f := newFixture([]string{"old", "2024-01-01T00:00:00Z"}).withJournal()
	f.journal.FailOn("unfinished", errors.New("connection refused"))

	_, err := f.service(marchOne).Run(context.Background())

	require.Error(t, err)
	assert.Empty(t, f.book.Mutations())
}

type mockWorkbook struct {
	mock.Mock
}

func (m *mockWorkbook) Table(ctx context.Context, name string) (ports.Table, error) {
	args := m.Called(ctx, name)
	table, _ := args.Get(0).(ports.Table)
	return table, args.Error(1)
}

func TestRunTransportErrorOpeningTable(t *testing.T) {
	book := &mockWorkbook{}
	outage := errors.New("googleapi: Error 503: The service is currently unavailable")
	book.On("Table", mock.Anything, liveTab).Return(nil, outage)

	svc := NewArchiverService(ArchiverConfig{LiveTable: liveTab, ArchiveTable: archiveTab, TimestampColumn: "Change Timestamp", MaxAgeDays: 14},
		book, nil, nil, core.FixedClock(marchOne), internal.NewWriterLogger(internal.LogLevelError, &bytes.Buffer{}))
	_, err := svc.Run(context.Background())

	assert.ErrorIs(t, err, outage)
	assert.Equal(t, apperrors.CodeExternalService, apperrors.GetCode(err))
	book.AssertExpectations(t)
	book.AssertNotCalled(t, "Table", mock.Anything, archiveTab)
}

func TestSummarizeAges(t *testing.T) {
	now := marchOne
	stamps := []time.Time{now.AddDate(0, 0, -30), now.AddDate(0, 0, -20), now.AddDate(0, 0, -15)}

	summary, err := summarizeAges(now, stamps)
	require.NoError(t, err)
	assert.InDelta(t, 15, summary.MinDays, 1e-9)
	assert.InDelta(t, 20, summary.MedianDays, 1e-9)
	assert.InDelta(t, 30, summary.MaxDays, 1e-9)
	assert.Equal(t, "age min 15.0d, median 20.0d, max 30.0d", summary.String())

	summary, err = summarizeAges(now, nil)
	assert.NoError(t, err)
	assert.Nil(t, summary)
}

func TestRunResultsSortedRecent(t *testing.T) {
	f := newFixture([]string{"a", "2024-01-01T00:00:00Z"}).withJournal()
	first := f.run(t, marchOne)
	f.live = f.book.AddTable(liveTab, header, []string{"b", "2024-01-02T00:00:00Z"})
	second := f.run(t, marchOne.Add(time.Hour))

	recent, err := f.journal.Recent(context.Background(), 5)
	require.NoError(t, err)
	ids := []string{recent[0].ID.String(), recent[1].ID.String()}
	assert.Equal(t, []string{second.RunID.String(), first.RunID.String()}, ids)
	assert.True(t, sort.StringsAreSorted([]string{first.RunID.String(), second.RunID.String()}), "run IDs are time ordered")
}
