package archive

import (
	"errors"
	"testing"
	"time"

	"sheetarchiver/domain/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultParsers(t *testing.T) {
	plus3 := time.FixedZone("", 3*3600)

	tests := []struct {
		name   string
		input  string
		want   time.Time
		parser string
	}{
		{"zulu", "2024-01-01T00:00:00Z", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), "iso8601"},
		{"fractional zulu", "2024-01-01T00:00:00.250Z", time.Date(2024, 1, 1, 0, 0, 0, 250e6, time.UTC), "iso8601"},
		{"explicit offset", "2024-01-01T03:00:00+03:00", time.Date(2024, 1, 1, 3, 0, 0, 0, plus3), "iso8601"},
		{"compact offset", "2024-01-01T03:00:00+0300", time.Date(2024, 1, 1, 3, 0, 0, 0, plus3), "iso8601"},
		{"naive is utc", "2024-01-01T12:30:00", time.Date(2024, 1, 1, 12, 30, 0, 0, time.UTC), "iso8601"},
		{"space separator", "2024-01-01 12:30:00", time.Date(2024, 1, 1, 12, 30, 0, 0, time.UTC), "iso8601"},
		{"date only", "2024-01-01", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), "iso8601"},
		{"hour offset", "2024-01-01T03:00:00+03", time.Date(2024, 1, 1, 3, 0, 0, 0, plus3), "iso8601"},
		{"space hour offset", "2024-01-01 03:00:00+03", time.Date(2024, 1, 1, 3, 0, 0, 0, plus3), "iso8601"},
		{"space minutes zulu", "2024-01-01 10:00Z", time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC), "iso8601"},
		{"minutes offset", "2024-01-01T13:00+03:00", time.Date(2024, 1, 1, 13, 0, 0, 0, plus3), "iso8601"},
		{"hour only", "2024-01-01T10", time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC), "iso8601"},
		{"basic zulu", "20240101T000000Z", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), "iso8601"},
		{"basic offset", "20240101T030000+0300", time.Date(2024, 1, 1, 3, 0, 0, 0, plus3), "iso8601"},
		{"basic naive", "20240101T123000", time.Date(2024, 1, 1, 12, 30, 0, 0, time.UTC), "iso8601"},
		{"basic date", "20240101", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), "iso8601"},
		{"us fallback", "02/10/2024 10:00:00", time.Date(2024, 2, 10, 10, 0, 0, 0, time.UTC), "us-datetime"},
		{"us unpadded", "2/9/2024 7:05:00", time.Date(2024, 2, 9, 7, 5, 0, 0, time.UTC), "us-datetime"},
		{"us 24h", "12/31/2023 23:59:59", time.Date(2023, 12, 31, 23, 59, 59, 0, time.UTC), "us-datetime"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, parser, err := DefaultParsers.Parse(tt.input)
			require.NoError(t, err)
			assert.True(t, got.Equal(tt.want), "want %s, got %s", tt.want, got)
			assert.Equal(t, tt.parser, parser)
		})
	}
}

func TestDefaultParsersReject(t *testing.T) {
	for _, input := range []string{"not-a-date", "13/40/2024 10:00:00", "2024-02-30", "02/10/2024", "yesterday"} {
		_, _, err := DefaultParsers.Parse(input)
		assert.ErrorIs(t, err, core.ErrUnparsableTimestamp, input)
	}
}

type stubParser struct {
	name  string
	value time.Time
	ok    bool
	calls *[]string
}

func (s stubParser) Name() string { return s.name }

func (s stubParser) Parse(string) (time.Time, bool) {
	*s.calls = append(*s.calls, s.name)
	return s.value, s.ok
}

func TestParsersFirstSuccessWins(t *testing.T) {
	var calls []string
	first := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	ps := TimestampParsers{
		stubParser{name: "a", calls: &calls},
		stubParser{name: "b", value: first, ok: true, calls: &calls},
		stubParser{name: "c", value: time.Now(), ok: true, calls: &calls},
	}

	got, name, err := ps.Parse("x")
	require.NoError(t, err)
	assert.Equal(t, "b", name)
	assert.True(t, got.Equal(first))
	assert.Equal(t, []string{"a", "b"}, calls)
}

func TestParseErrorMessage(t *testing.T) {
	err := error(&ParseError{Value: "not-a-date", Row: 4})
	assert.Equal(t, `couldn't parse timestamp "not-a-date" on row 4`, err.Error())
	assert.True(t, errors.Is(err, core.ErrUnparsableTimestamp))
	assert.True(t, core.IsParseError(err))
}
