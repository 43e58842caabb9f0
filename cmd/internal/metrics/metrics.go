// Package metrics holds the prometheus instrumentation for the chat core.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private registry so tests can construct instances
// without collector name collisions.
type Metrics struct {
	reg *prometheus.Registry

	// SendTotal counts send attempts by outcome code (ok, throttled,
	// duplicate, error codes).
	SendTotal *prometheus.CounterVec
	// PollTotal counts poll fetches.
	PollTotal prometheus.Counter
	// StreamSessions is the number of open SSE sessions.
	StreamSessions prometheus.Gauge
	// StreamEvents counts emitted SSE events by event type.
	StreamEvents *prometheus.CounterVec
	// PreviewFetches counts preview resolutions by outcome (resolved, none).
	PreviewFetches *prometheus.CounterVec
	// AppendSeconds observes store append latency.
	AppendSeconds prometheus.Histogram
}

// New constructs and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		SendTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "traderoom",
			Subsystem: "chat",
			Name:      "send_total",
			Help:      "Send attempts by outcome.",
		}, []string{"result"}),
		PollTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "traderoom",
			Subsystem: "chat",
			Name:      "poll_total",
			Help:      "Poll fetches served.",
		}),
		StreamSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "traderoom",
			Subsystem: "chat",
			Name:      "stream_sessions",
			Help:      "Open SSE sessions.",
		}),
		StreamEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "traderoom",
			Subsystem: "chat",
			Name:      "stream_events_total",
			Help:      "SSE events emitted by type.",
		}, []string{"event"}),
		PreviewFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "traderoom",
			Subsystem: "chat",
			Name:      "preview_fetch_total",
			Help:      "Link preview resolutions by outcome.",
		}, []string{"outcome"}),
		AppendSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "traderoom",
			Subsystem: "chat",
			Name:      "append_seconds",
			Help:      "Store append latency.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	m.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.SendTotal,
		m.PollTotal,
		m.StreamSessions,
		m.StreamEvents,
		m.PreviewFetches,
		m.AppendSeconds,
	)
	return m
}

// Handler serves the registry in prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
