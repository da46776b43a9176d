// Package metrics defines the Prometheus metrics of an upload pass.
//
// hievup usually runs as a short-lived job, so metrics are not served
// over HTTP but written to a file for the node_exporter textfile
// collector.
package metrics

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the collectors of a process.
type Metrics struct {
	Registry       *prometheus.Registry
	FilesMatched   prometheus.Counter
	Uploads        *prometheus.CounterVec
	Moves          *prometheus.CounterVec
	DateFailures   prometheus.Counter
	FilesRemaining prometheus.Gauge
	Passes         prometheus.Counter
}

var ErrWrite = errors.New("failed to write metrics")

// New returns metrics registered with a new registry.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		FilesMatched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hievup_files_matched_total",
			Help: "Number of (file, rule) matches.",
		}),
		Uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hievup_uploads_total",
			Help: "Number of upload attempts by status.",
		}, []string{"status"}),
		Moves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hievup_moves_total",
			Help: "Number of moves to the backup store by status.",
		}, []string{"status"}),
		DateFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hievup_date_extract_failures_total",
			Help: "Number of filenames whose date token could not be parsed.",
		}),
		FilesRemaining: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hievup_files_remaining",
			Help: "Number of files left in the watched directory after the last pass.",
		}),
		Passes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hievup_passes_total",
			Help: "Number of completed passes over the watched directory.",
		}),
	}
	m.Registry.MustRegister(m.FilesMatched, m.Uploads, m.Moves, m.DateFailures, m.FilesRemaining, m.Passes)
	return m
}

// Upload counts an upload attempt.
func (m *Metrics) Upload(ok bool) {
	m.Uploads.WithLabelValues(status(ok)).Inc()
}

// Move counts a move to the backup store.
func (m *Metrics) Move(ok bool) {
	m.Moves.WithLabelValues(status(ok)).Inc()
}

// WriteTextfile writes all metrics to path in the text exposition
// format.  The file is replaced atomically.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.Registry); err != nil {
		return fmt.Errorf("%w: %w", ErrWrite, err)
	}
	return nil
}

func status(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
