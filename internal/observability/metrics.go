package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service. Each
// instance owns its registry so tests can build as many as they like.
type Metrics struct {
	registry *prometheus.Registry
	latency  *stageWindow

	ActiveSessions       prometheus.Gauge
	SessionEvents        *prometheus.CounterVec
	WSMessages           *prometheus.CounterVec
	UpstreamFrames       *prometheus.CounterVec
	Reconnects           *prometheus.CounterVec
	ProviderErrors       *prometheus.CounterVec
	TranscriptionLatency prometheus.Histogram
	Uploads              *prometheus.CounterVec
	Captures             *prometheus.CounterVec
}

func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "ridecheck"
	}
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of live inspection connections.",
		}),
		SessionEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session events by type.",
		}, []string{"event"}),
		WSMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "Browser websocket messages by direction and type.",
		}, []string{"direction", "type"}),
		UpstreamFrames: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_frames_total",
			Help:      "Decoded model stream events by kind.",
		}, []string{"kind"}),
		Reconnects: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_reconnects_total",
			Help:      "Upstream reconnect outcomes.",
		}, []string{"result"}),
		ProviderErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_errors_total",
			Help:      "Provider errors by provider and code.",
		}, []string{"provider", "code"}),
		TranscriptionLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transcription_latency_ms",
			Help:      "Latency of model turn transcription in milliseconds.",
			Buckets:   []float64{250, 500, 1000, 1500, 2500, 4000, 8000},
		}),
		Uploads: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Media uploads by kind and result.",
		}, []string{"kind", "result"}),
		Captures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "captures_total",
			Help:      "Labelled captures by label.",
		}, []string{"label"}),
		registry: registry,
		latency:  newStageWindow(256),
	}
}

// Nil receivers are no-ops so components can run without metrics.

func (m *Metrics) SessionEvent(event string) {
	if m == nil {
		return
	}
	m.SessionEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) WSMessage(direction, msgType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

func (m *Metrics) UpstreamFrame(kind string) {
	if m == nil {
		return
	}
	m.UpstreamFrames.WithLabelValues(kind).Inc()
}

func (m *Metrics) Reconnect(result string) {
	if m == nil {
		return
	}
	m.Reconnects.WithLabelValues(result).Inc()
}

func (m *Metrics) ProviderError(provider, code string) {
	if m == nil {
		return
	}
	m.ProviderErrors.WithLabelValues(provider, code).Inc()
}

func (m *Metrics) Upload(kind string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.Uploads.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) Capture(label string) {
	if m == nil {
		return
	}
	m.Captures.WithLabelValues(label).Inc()
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.ActiveSessions.Inc()
}

func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.ActiveSessions.Dec()
}

func (m *Metrics) ObserveTranscription(d time.Duration) {
	if m == nil {
		return
	}
	m.TranscriptionLatency.Observe(float64(d.Milliseconds()))
	m.latency.Observe(StageTranscription, durationMS(d))
}

// ObserveStage records a latency sample in the rolling window.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.latency.Observe(stage, durationMS(d))
}

func (m *Metrics) ObserveIndicator(name string) {
	if m == nil {
		return
	}
	m.latency.ObserveIndicator(name)
}

func (m *Metrics) SnapshotLatency() LatencySnapshot {
	if m == nil {
		return newStageWindow(0).Snapshot()
	}
	return m.latency.Snapshot()
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func durationMS(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}

func (m *Metrics) ResetLatency() {
	if m == nil {
		return
	}
	m.latency.Reset()
}
