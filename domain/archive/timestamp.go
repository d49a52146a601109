package archive

import (
	"fmt"
	"time"

	"sheetarchiver/domain/core"
)

// ParseError reports a timestamp cell that no parser accepted.
type ParseError struct {
	Value string
	Row   int
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("couldn't parse timestamp %q on row %d", e.Value, e.Row)
}

func (e *ParseError) Unwrap() error {
	return core.ErrUnparsableTimestamp
}

// TimestampParser is one parsing strategy.
type TimestampParser interface {
	Name() string
	Parse(value string) (time.Time, bool)
}

// LayoutParser tries a fixed list of layouts. Layouts without a zone are read in Location.
type LayoutParser struct {
	Label    string
	Layouts  []string
	Location *time.Location
}

func (p LayoutParser) Name() string { return p.Label }

func (p LayoutParser) Parse(value string) (time.Time, bool) {
	loc := p.Location
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range p.Layouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// ISO8601Parser accepts the ISO-8601 shapes spreadsheets and scripts produce:
// extended or basic format, "T" or space separators, hour, minute or second
// precision, and an optional "Z" or numeric offset (hours, or hours and
// minutes). Fractional seconds are accepted by every layout with a seconds field.
var ISO8601Parser = LayoutParser{
	Label: "iso8601",
	Layouts: []string{
		time.RFC3339,
		"2006-01-02T15:04:05Z0700",
		"2006-01-02T15:04:05Z07",
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05Z07:00",
		"2006-01-02 15:04:05Z0700",
		"2006-01-02 15:04:05Z07",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04Z07:00",
		"2006-01-02T15:04Z0700",
		"2006-01-02T15:04Z07",
		"2006-01-02T15:04",
		"2006-01-02 15:04Z07:00",
		"2006-01-02 15:04Z0700",
		"2006-01-02 15:04Z07",
		"2006-01-02 15:04",
		"2006-01-02T15",
		"2006-01-02 15",
		"2006-01-02",
		"20060102T150405Z07:00",
		"20060102T150405Z0700",
		"20060102T150405Z07",
		"20060102T150405",
		"20060102T1504Z07:00",
		"20060102T1504",
		"20060102",
	},
	Location: time.UTC,
}

// USDateTimeParser accepts month/day/year hour:minute:second on a 24-hour clock, as UTC.
var USDateTimeParser = LayoutParser{
	Label:    "us-datetime",
	Layouts:  []string{"1/2/2006 15:04:05"},
	Location: time.UTC,
}

// TimestampParsers is an ordered strategy list; the first success wins.
type TimestampParsers []TimestampParser

// DefaultParsers tries ISO-8601 first, then the US date-time fallback.
var DefaultParsers = TimestampParsers{ISO8601Parser, USDateTimeParser}

// Parse returns the parsed instant and the name of the strategy that accepted it.
func (ps TimestampParsers) Parse(value string) (time.Time, string, error) {
	for _, p := range ps {
		if t, ok := p.Parse(value); ok {
			return t, p.Name(), nil
		}
	}
	return time.Time{}, "", core.ErrUnparsableTimestamp
}
