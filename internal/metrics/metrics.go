// Package metrics holds the bot's prometheus collectors. All methods are safe
// on a nil *Metrics so components can run without instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the collectors registered on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	Frames         *prometheus.CounterVec
	Actions        *prometheus.CounterVec
	Reconnects     prometheus.Counter
	Restarts       *prometheus.CounterVec
	DispatchErrors *prometheus.CounterVec
	QueueLength    prometheus.Gauge
	Connected      prometheus.Gauge
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wirechat_bot_frames_total",
			Help: "Inbound frames by type.",
		}, []string{"type"}),
		Actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wirechat_bot_actions_total",
			Help: "Outbound actions by result (sent, retried, dropped, skipped).",
		}, []string{"result"}),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wirechat_bot_reconnects_total",
			Help: "Connection attempts after the first successful connect.",
		}),
		Restarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wirechat_bot_handler_restarts_total",
			Help: "Handler tasks restarted after terminating unexpectedly.",
		}, []string{"handler"}),
		DispatchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wirechat_bot_dispatch_errors_total",
			Help: "Failed handler dispatches.",
		}, []string{"handler"}),
		QueueLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "wirechat_bot_song_queue_length",
			Help: "Entries waiting in the song queue.",
		}),
		Connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "wirechat_bot_connected",
			Help: "1 while a room connection is established.",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Frames, m.Actions, m.Reconnects, m.Restarts,
		m.DispatchErrors, m.QueueLength, m.Connected,
	)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) FrameReceived(kind string) {
	if m == nil {
		return
	}
	if kind == "" {
		kind = "unknown"
	}
	m.Frames.WithLabelValues(kind).Inc()
}

func (m *Metrics) ActionSent()    { m.action("sent") }
func (m *Metrics) ActionRetried() { m.action("retried") }
func (m *Metrics) ActionDropped() { m.action("dropped") }
func (m *Metrics) ActionSkipped() { m.action("skipped") }

func (m *Metrics) action(result string) {
	if m == nil {
		return
	}
	m.Actions.WithLabelValues(result).Inc()
}

func (m *Metrics) Reconnect() {
	if m == nil {
		return
	}
	m.Reconnects.Inc()
}

func (m *Metrics) HandlerRestarted(name string) {
	if m == nil {
		return
	}
	m.Restarts.WithLabelValues(name).Inc()
}

func (m *Metrics) DispatchFailed(name string) {
	if m == nil {
		return
	}
	m.DispatchErrors.WithLabelValues(name).Inc()
}

func (m *Metrics) SetQueueLength(n int) {
	if m == nil {
		return
	}
	m.QueueLength.Set(float64(n))
}

func (m *Metrics) SetConnected(up bool) {
	if m == nil {
		return
	}
	if up {
		m.Connected.Set(1)
		return
	}
	m.Connected.Set(0)
}
