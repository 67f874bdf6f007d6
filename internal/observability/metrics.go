package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides a centralized interface for collecting bridge metrics.
//
// The metrics system is built on Prometheus and tracks:
//   - Call lifecycle (started, ended by reason, active gauge, duration)
//   - Audio frames relayed in each direction
//   - Transcript lines recorded per speaker
//   - Realtime API events by type
//   - Errors categorized by component
//
// Usage:
//
//	metrics := observability.NewMetrics()
//	metrics.CallsStarted.Inc()
//	defer metrics.CallDuration.Observe(time.Since(start).Seconds())
type Metrics struct {
	// CallsStarted counts media streams that reached the "start" event.
	CallsStarted prometheus.Counter

	// CallsEnded counts finished calls.
	// Labels: reason (completed|timeout|conclusion|identity-mismatch|transport-error|remote-error)
	CallsEnded *prometheus.CounterVec

	// ActiveCalls is a gauge tracking currently bridged calls.
	ActiveCalls prometheus.Gauge

	// CallDuration measures call lifetime in seconds.
	// Buckets: 5s, 15s, 30s, 60s, 120s, 180s, 300s, 600s
	CallDuration prometheus.Histogram

	// AudioFrames counts relayed audio frames.
	// Labels: direction (inbound|outbound)
	AudioFrames *prometheus.CounterVec

	// TranscriptLines counts lines written to transcript files.
	// Labels: speaker (user|agent)
	TranscriptLines *prometheus.CounterVec

	// RealtimeEvents counts events received from the voice-AI service.
	// Labels: type
	RealtimeEvents *prometheus.CounterVec

	// ErrorCounter tracks errors by component and type.
	// Labels: component (relay|contextstore|transcript|realtime|supervisor), error_type
	ErrorCounter *prometheus.CounterVec

	// ContextLookups counts call-context resolutions by outcome.
	// Labels: outcome (attached|staged|none)
	ContextLookups *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates and registers all bridge metrics on a fresh registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		CallsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "callbridge_calls_started_total",
			Help: "Total number of media streams that started.",
		}),
		CallsEnded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "callbridge_calls_ended_total",
			Help: "Total number of calls ended, by reason.",
		}, []string{"reason"}),
		ActiveCalls: factory.NewGauge(prometheus.GaugeOpts{
			Name: "callbridge_active_calls",
			Help: "Number of currently bridged calls.",
		}),
		CallDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "callbridge_call_duration_seconds",
			Help:    "Call duration from stream start to teardown.",
			Buckets: []float64{5, 15, 30, 60, 120, 180, 300, 600},
		}),
		AudioFrames: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "callbridge_audio_frames_total",
			Help: "Audio frames relayed, by direction.",
		}, []string{"direction"}),
		TranscriptLines: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "callbridge_transcript_lines_total",
			Help: "Transcript lines recorded, by speaker.",
		}, []string{"speaker"}),
		RealtimeEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "callbridge_realtime_events_total",
			Help: "Events received from the realtime voice service, by type.",
		}, []string{"type"}),
		ErrorCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "callbridge_errors_total",
			Help: "Errors encountered, by component and type.",
		}, []string{"component", "error_type"}),
		ContextLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "callbridge_context_lookups_total",
			Help: "Call-context resolutions, by outcome.",
		}, []string{"outcome"}),
		registry: registry,
	}
}

// Handler returns an HTTP handler serving the metrics registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
