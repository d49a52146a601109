package metrics

import (
	"errors"
	"net/http"
	"time"

	"sheetarchiver/app"
	"sheetarchiver/domain/core"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Run outcomes, used as the "result" label.
const (
	ResultMoved   = "moved"
	ResultNoop    = "noop"
	ResultDryRun  = "dry_run"
	ResultRefused = "refused"
	ResultError   = "error"
)

// Metrics contains the archiver's Prometheus collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	runs        *prometheus.CounterVec
	rows        *prometheus.CounterVec
	duration    prometheus.Histogram
	lastSuccess prometheus.Gauge
	liveRows    prometheus.Gauge
}

// New creates the collectors and registers them.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sheetarchiver_runs_total",
				Help: "Archive runs by result",
			},
			[]string{"result"},
		),
		rows: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sheetarchiver_rows_total",
				Help: "Rows handled by archive runs, by outcome",
			},
			[]string{"outcome"},
		),
		duration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "sheetarchiver_run_duration_seconds",
				Help:    "Wall time of archive runs",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
			},
		),
		lastSuccess: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "sheetarchiver_last_success_timestamp_seconds",
				Help: "Unix time of the last run that finished without error",
			},
		),
		liveRows: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "sheetarchiver_live_rows",
				Help: "Data rows left in the live table after the last run",
			},
		),
	}
	m.registry.MustRegister(m.runs, m.rows, m.duration, m.lastSuccess, m.liveRows)
	return m
}

// Observe records one run. result is nil when err is not.
func (m *Metrics) Observe(result *app.RunResult, err error, elapsed time.Duration, finished time.Time) {
	m.duration.Observe(elapsed.Seconds())
	if err != nil {
		if errors.Is(err, core.ErrRunInProgress) {
			m.runs.WithLabelValues(ResultRefused).Inc()
		} else {
			m.runs.WithLabelValues(ResultError).Inc()
		}
		return
	}

	m.runs.WithLabelValues(Outcome(result)).Inc()
	m.lastSuccess.Set(float64(finished.Unix()))
	if result.DryRun {
		return
	}
	m.rows.WithLabelValues("moved").Add(float64(result.Moved))
	m.rows.WithLabelValues("unparsable").Add(float64(result.Unparsable))
	m.rows.WithLabelValues("reconciled").Add(float64(result.Reconciled))
	m.rows.WithLabelValues("restored").Add(float64(result.Restored))
	m.liveRows.Set(float64(result.Kept))
}

// Outcome classifies a successful run.
func Outcome(result *app.RunResult) string {
	switch {
	case result.DryRun:
		return ResultDryRun
	case result.Moved == 0 && result.Reconciled == 0 && result.Restored == 0:
		return ResultNoop
	default:
		return ResultMoved
	}
}

// WriteTextfile writes the current values in the node_exporter textfile
// format. The file is replaced atomically.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}

// Handler returns an HTTP handler for the Prometheus metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	})
}

// Gatherer exposes the registry, for tests and custom exporters.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}
