package app

import (
	"fmt"
	"time"

	"github.com/montanaflynn/stats"
)

// AgeSummary describes how old the moved rows were, in days, at run time.
type AgeSummary struct {
	MinDays    float64
	MedianDays float64
	MaxDays    float64
}

func (a AgeSummary) String() string {
	return fmt.Sprintf("age min %.1fd, median %.1fd, max %.1fd", a.MinDays, a.MedianDays, a.MaxDays)
}

// summarizeAges returns nil when there is nothing to summarize.
func summarizeAges(now time.Time, timestamps []time.Time) (*AgeSummary, error) {
	if len(timestamps) == 0 {
		return nil, nil
	}

	ages := make([]float64, len(timestamps))
	for i, ts := range timestamps {
		ages[i] = now.Sub(ts).Hours() / 24
	}

	min, err := stats.Min(ages)
	if err != nil {
		return nil, err
	}
	median, err := stats.Median(ages)
	if err != nil {
		return nil, err
	}
	max, err := stats.Max(ages)
	if err != nil {
		return nil, err
	}

	return &AgeSummary{MinDays: min, MedianDays: median, MaxDays: max}, nil
}
