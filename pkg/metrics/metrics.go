// Package metrics provides Prometheus metrics for projection batches.
// Batches are short-lived, so metrics are exported as a textfile for the
// node exporter rather than served over HTTP.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/claudiasc89/image-analysis-portfolio/pkg/projection"
)

// File outcomes used as the "outcome" label.
const (
	OutcomeProcessed = "processed"
	OutcomeSkipped   = "skipped"
	OutcomeFailed    = "failed"
)

// Manager holds the metrics of one batch run.
type Manager struct {
	namespace       string
	subsystem       string
	durationBuckets []float64
	registry        *prometheus.Registry

	files             *prometheus.CounterVec
	timepoints        prometheus.Counter
	clampedWindows    prometheus.Counter
	fileDuration      prometheus.Histogram
	timepointDuration prometheus.Histogram
	bestFocusIndex    prometheus.Histogram
	lastRunTimestamp  prometheus.Gauge
}

// NewManager creates a manager registered on its own registry unless
// WithRegistry is given.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:       "imganalysis",
		subsystem:       "projection",
		durationBuckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		registry:        prometheus.NewRegistry(),
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() {
	auto := promauto.With(m.registry)

	m.files = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "files_total",
		Help:      "Acquisition files handled, by outcome",
	}, []string{"outcome"})

	m.timepoints = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "timepoints_total",
		Help:      "Timepoints projected",
	})

	m.clampedWindows = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "clamped_windows_total",
		Help:      "Timepoints whose slice window was shifted or cut at a stack boundary",
	})

	m.fileDuration = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "file_duration_seconds",
		Help:      "Time to read, project and write one acquisition",
		Buckets:   m.durationBuckets,
	})

	m.timepointDuration = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "timepoint_duration_seconds",
		Help:      "Time to score and project one timepoint",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
	})

	m.bestFocusIndex = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "best_focus_index",
		Help:      "Index of the best-focused slice",
		Buckets:   prometheus.LinearBuckets(0, 5, 20),
	})

	m.lastRunTimestamp = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "last_run_timestamp_seconds",
		Help:      "Unix time at which the last batch finished",
	})
}

// Registry returns the registry the metrics are registered on.
func (m *Manager) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveTimepoint records one projected timepoint.
func (m *Manager) ObserveTimepoint(best int, r projection.Range, elapsed time.Duration) {
	m.timepoints.Inc()
	m.bestFocusIndex.Observe(float64(best))
	m.timepointDuration.Observe(elapsed.Seconds())
	if r.Len() != r.WindowSize {
		m.clampedWindows.Inc()
	}
}

// RecordFile records the outcome of one acquisition file.
func (m *Manager) RecordFile(outcome string, elapsed time.Duration) {
	m.files.WithLabelValues(outcome).Inc()
	if outcome == OutcomeProcessed {
		m.fileDuration.Observe(elapsed.Seconds())
	}
}

// MarkRunFinished stamps the end of a batch.
func (m *Manager) MarkRunFinished(at time.Time) {
	m.lastRunTimestamp.Set(float64(at.Unix()))
}

// WriteTextfile writes all metrics in the text exposition format.
func (m *Manager) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("%w: %v", ErrExportFailed, err)
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("%w: %v", ErrExportFailed, err)
	}
	return nil
}
