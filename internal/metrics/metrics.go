// Package metrics exposes engine counters in the Prometheus format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the bridge collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry     *prometheus.Registry
	messages     *prometheus.CounterVec
	decodeErrors *prometheus.CounterVec
	expirations  *prometheus.CounterVec
	publishes    *prometheus.CounterVec
	commands     *prometheus.CounterVec
	exports      *prometheus.CounterVec
	available    prometheus.Gauge
	inboxDepth   prometheus.Gauge
}

// New creates the collectors on a private registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "prism_messages_total",
			Help: "Inbound MQTT messages dispatched to entities, by platform.",
		}, []string{"platform"}),
		decodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "prism_decode_errors_total",
			Help: "Payloads that could not be decoded, by entity kind.",
		}, []string{"kind"}),
		expirations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "prism_expirations_total",
			Help: "Entities that went stale, by platform.",
		}, []string{"platform"}),
		publishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "prism_publishes_total",
			Help: "Outbound MQTT publishes by result.",
		}, []string{"result"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "prism_commands_total",
			Help: "Control writes by platform and result.",
		}, []string{"platform", "result"}),
		exports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "prism_exports_total",
			Help: "State changes exported to Kafka by result.",
		}, []string{"result"}),
		available: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "prism_entities_available",
			Help: "Entities currently available.",
		}),
		inboxDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "prism_inbox_depth",
			Help: "Events waiting for the engine loop.",
		}),
	}

	m.registry.MustRegister(
		m.messages,
		m.decodeErrors,
		m.expirations,
		m.publishes,
		m.commands,
		m.exports,
		m.available,
		m.inboxDepth,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Message(platform string) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(platform).Inc()
}

func (m *Metrics) DecodeError(kind string) {
	if m == nil {
		return
	}
	m.decodeErrors.WithLabelValues(kind).Inc()
}

func (m *Metrics) Expired(platform string) {
	if m == nil {
		return
	}
	m.expirations.WithLabelValues(platform).Inc()
}

func (m *Metrics) Publish(ok bool) {
	if m == nil {
		return
	}
	m.publishes.WithLabelValues(result(ok)).Inc()
}

func (m *Metrics) Command(platform string, ok bool) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(platform, result(ok)).Inc()
}

func (m *Metrics) Export(ok bool) {
	if m == nil {
		return
	}
	m.exports.WithLabelValues(result(ok)).Inc()
}

func (m *Metrics) SetAvailable(n int) {
	if m == nil {
		return
	}
	m.available.Set(float64(n))
}

func (m *Metrics) SetInboxDepth(n int) {
	if m == nil {
		return
	}
	m.inboxDepth.Set(float64(n))
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "fail"
}
