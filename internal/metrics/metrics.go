// Package metrics holds the controller's Prometheus collectors. All methods
// are safe on a nil *Metrics so components can run without instrumentation.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Sync attempts by result: "ok", "unchanged", "network_unavailable", "error"
	SyncResults *prometheus.CounterVec
	SyncLatency prometheus.Histogram

	Credentials prometheus.Gauge

	// Decisions by outcome: "activated", "deactivated", "denied"
	Decisions *prometheus.CounterVec

	// Telemetry outcomes: "delivered", "requeued", "dropped"
	Telemetry      *prometheus.CounterVec
	TelemetryQueue prometheus.Gauge

	// Link frames by direction and kind, and decode errors by class
	LinkFrames *prometheus.CounterVec
	LinkErrors *prometheus.CounterVec

	ReaderReinits prometheus.Counter
}

// New registers all collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SyncResults: f.NewCounterVec(prometheus.CounterOpts{
			Name: "portunus_sync_total",
			Help: "Credential synchronisation attempts by result",
		}, []string{"result"}),

		SyncLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "portunus_sync_duration_seconds",
			Help:    "Duration of credential synchronisation attempts",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),

		Credentials: f.NewGauge(prometheus.GaugeOpts{
			Name: "portunus_credentials",
			Help: "Number of credentials in the live generation",
		}),

		Decisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "portunus_decisions_total",
			Help: "Access decisions by outcome",
		}, []string{"outcome"}),

		Telemetry: f.NewCounterVec(prometheus.CounterOpts{
			Name: "portunus_telemetry_events_total",
			Help: "Telemetry delivery outcomes",
		}, []string{"outcome"}),

		TelemetryQueue: f.NewGauge(prometheus.GaugeOpts{
			Name: "portunus_telemetry_queue_depth",
			Help: "Log events waiting for delivery",
		}),

		LinkFrames: f.NewCounterVec(prometheus.CounterOpts{
			Name: "portunus_link_frames_total",
			Help: "Remote link frames by direction and message kind",
		}, []string{"direction", "kind"}),

		LinkErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "portunus_link_errors_total",
			Help: "Remote link frame errors by class",
		}, []string{"class"}),

		ReaderReinits: f.NewCounter(prometheus.CounterOpts{
			Name: "portunus_reader_reinit_total",
			Help: "Local reader reinitialisations",
		}),
	}
}

func (m *Metrics) ObserveSync(result string, d time.Duration) {
	if m != nil {
		m.SyncResults.WithLabelValues(result).Inc()
		m.SyncLatency.Observe(d.Seconds())
	}
}

func (m *Metrics) SetCredentials(n int) {
	if m != nil {
		m.Credentials.Set(float64(n))
	}
}

func (m *Metrics) IncDecision(outcome string) {
	if m != nil {
		m.Decisions.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) IncTelemetry(outcome string) {
	if m != nil {
		m.Telemetry.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) SetTelemetryQueue(n int) {
	if m != nil {
		m.TelemetryQueue.Set(float64(n))
	}
}

func (m *Metrics) IncLinkFrame(direction, kind string) {
	if m != nil {
		m.LinkFrames.WithLabelValues(direction, kind).Inc()
	}
}

func (m *Metrics) IncLinkError(class string) {
	if m != nil {
		m.LinkErrors.WithLabelValues(class).Inc()
	}
}

func (m *Metrics) IncReaderReinit() {
	if m != nil {
		m.ReaderReinits.Inc()
	}
}
