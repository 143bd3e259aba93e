// Package metrics exposes proctoring counters in Prometheus format.
package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics. Counters are plain atomics
// exported through CounterFuncs so hot paths never touch the registry.
type Metrics struct {
	// Frame pipeline counters
	FramesReceived  atomic.Uint64
	FramesRejected  atomic.Uint64
	FramesProcessed atomic.Uint64
	DetectorErrors  atomic.Uint64
	RemoteErrors    atomic.Uint64
	RemoteCalls     atomic.Uint64

	// Outcomes
	EvidenceSaved        atomic.Uint64
	CandidatesDropped    atomic.Uint64
	DuplicatesSuppressed atomic.Uint64
	SessionsTerminated   atomic.Uint64

	// Client media
	ClipsStored        atomic.Uint64
	RecordingsStored   atomic.Uint64
	MediaStoreFailures atomic.Uint64

	violations   *prometheus.CounterVec
	frameLatency prometheus.Histogram

	registry *prometheus.Registry
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		violations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "argus_violations_recorded_total",
			Help: "Violations persisted, by type",
		}, []string{"type"}),
		frameLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "argus_frame_duration_seconds",
			Help:    "End-to-end frame processing time",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8},
		}),
	}
	m.registerPrometheusMetrics()
	return m
}

func (m *Metrics) registerPrometheusMetrics() {
	counters := []struct {
		name, help string
		v          *atomic.Uint64
	}{
		{"argus_frames_received_total", "Frames uploaded", &m.FramesReceived},
		{"argus_frames_rejected_total", "Frames rejected before analysis", &m.FramesRejected},
		{"argus_frames_processed_total", "Frames that completed the pipeline", &m.FramesProcessed},
		{"argus_detector_errors_total", "Frames where the local detector fell back", &m.DetectorErrors},
		{"argus_remote_calls_total", "Remote vision analyzer calls", &m.RemoteCalls},
		{"argus_remote_errors_total", "Remote vision analyzer failures and timeouts", &m.RemoteErrors},
		{"argus_evidence_saved_total", "Evidence snapshots retained", &m.EvidenceSaved},
		{"argus_candidates_dropped_total", "Violation candidates dropped as unreliable", &m.CandidatesDropped},
		{"argus_duplicates_suppressed_total", "Violation candidates suppressed by the per-type window", &m.DuplicatesSuppressed},
		{"argus_sessions_terminated_total", "Sessions auto-terminated", &m.SessionsTerminated},
		{"argus_clips_stored_total", "Evidence clips recorded", &m.ClipsStored},
		{"argus_recordings_stored_total", "Session recordings uploaded", &m.RecordingsStored},
		{"argus_media_store_failures_total", "Clip or recording uploads no storage backend accepted", &m.MediaStoreFailures},
	}
	for _, c := range counters {
		v := c.v
		m.registry.MustRegister(prometheus.NewCounterFunc(
			prometheus.CounterOpts{Name: c.name, Help: c.help},
			func() float64 { return float64(v.Load()) },
		))
	}

	m.registry.MustRegister(m.violations, m.frameLatency)
	m.registry.MustRegister(collectors.NewGoCollector())
}

// RegisterGauge adds a gauge read from fn at scrape time.
func (m *Metrics) RegisterGauge(name, help string, fn func() float64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{Name: name, Help: help}, fn))
}

func (m *Metrics) ViolationRecorded(violationType string) {
	m.violations.WithLabelValues(violationType).Inc()
}

func (m *Metrics) ObserveFrame(d time.Duration) {
	m.frameLatency.Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
