package archive

import (
	"sheetarchiver/domain/core"
)

// Classifier decides, row by row, whether a row has aged past the cutoff.
type Classifier struct {
	Column  int
	Cutoff  core.CutoffAt
	Parsers TimestampParsers
}

// Classify never fails: ambiguous timestamps keep the row.
func (c Classifier) Classify(row Row) Decision {
	d := Decision{Row: row, Verdict: VerdictKept}

	if row.IsBlank() {
		d.Reason = ReasonBlankRow
		return d
	}

	raw := row.Cell(c.Column)
	if raw == "" {
		d.Reason = ReasonBlankTimestamp
		return d
	}

	parsers := c.Parsers
	if len(parsers) == 0 {
		parsers = DefaultParsers
	}
	ts, name, err := parsers.Parse(raw)
	if err != nil {
		d.Reason = ReasonUnparsable
		d.Err = &ParseError{Value: raw, Row: row.Number}
		return d
	}

	d.Timestamp = ts
	d.Parser = name
	if c.Cutoff.Excludes(ts) {
		d.Verdict = VerdictAged
		d.Reason = ReasonOlderThanCut
	} else {
		d.Reason = ReasonRecent
	}
	return d
}

// Split classifies rows in order. onDecision, if set, sees every decision.
func (c Classifier) Split(rows []Row, onDecision func(Decision)) Partition {
	var p Partition
	for _, row := range rows {
		d := c.Classify(row)
		if onDecision != nil {
			onDecision(d)
		}
		switch {
		case d.Reason == ReasonBlankRow:
			p.Blank = append(p.Blank, row)
		case d.Verdict == VerdictAged:
			p.Aged = append(p.Aged, row)
		default:
			p.Kept = append(p.Kept, row)
			if pe, ok := d.Err.(*ParseError); ok {
				p.Unparsable = append(p.Unparsable, pe)
			}
		}
	}
	return p
}
