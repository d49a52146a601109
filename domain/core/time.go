package core

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Timestamp represents a point in time with timezone awareness
type Timestamp time.Time

// NewTimestamp creates a new timestamp from time.Time
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp(t)
}

// Time returns the underlying time.Time
func (t Timestamp) Time() time.Time {
	return time.Time(t)
}

// Clock abstracts the wall clock so runs can be pinned to a fixed "now".
type Clock interface {
	Now() time.Time
}

// SystemClock reads time.Now.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// FixedClock always returns the same instant.
type FixedClock time.Time

func (c FixedClock) Now() time.Time { return time.Time(c) }

// CutoffAt is the instant before which a row counts as aged.
type CutoffAt Timestamp

// NewCutoffAt computes the cutoff: now, viewed in the given zone, minus maxAge days.
func NewCutoffAt(now time.Time, zone *time.Location, maxAgeDays int) CutoffAt {
	return CutoffAt(NewTimestamp(now.In(zone).AddDate(0, 0, -maxAgeDays)))
}

func (c CutoffAt) Time() time.Time { return Timestamp(c).Time() }

// Excludes reports whether t is strictly older than the cutoff.
func (c CutoffAt) Excludes(t time.Time) bool {
	return t.Before(c.Time())
}

func (c CutoffAt) String() string { return c.Time().Format(time.RFC3339) }

// ParseOffset parses a fixed UTC offset such as "+03:00", "-0530" or "Z"
// into a location named after the offset.
func ParseOffset(s string) (*time.Location, error) {
	s = strings.TrimSpace(s)
	if s == "Z" || s == "UTC" {
		return time.UTC, nil
	}
	if len(s) < 2 || (s[0] != '+' && s[0] != '-') {
		return nil, fmt.Errorf("invalid UTC offset %q", s)
	}
	sign := 1
	if s[0] == '-' {
		sign = -1
	}
	body := strings.ReplaceAll(s[1:], ":", "")
	var hh, mm int
	var err error
	switch len(body) {
	case 1, 2:
		hh, err = strconv.Atoi(body)
	case 4:
		hh, err = strconv.Atoi(body[:2])
		if err == nil {
			mm, err = strconv.Atoi(body[2:])
		}
	default:
		return nil, fmt.Errorf("invalid UTC offset %q", s)
	}
	if err != nil || hh > 14 || mm > 59 {
		return nil, fmt.Errorf("invalid UTC offset %q", s)
	}
	return time.FixedZone(fmt.Sprintf("%c%02d:%02d", s[0], hh, mm), sign*(hh*3600+mm*60)), nil
}
