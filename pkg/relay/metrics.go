package relay

import (
	"net/http"

	"github.com/AmoolyaSuneja/ChatMe/pkg/protocol"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the relay's Prometheus collectors on a private registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry       *prometheus.Registry
	rooms          prometheus.Gauge
	connections    prometheus.Gauge
	relayedTotal   *prometheus.CounterVec
	droppedTotal   *prometheus.CounterVec
	protocolErrors prometheus.Counter
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "chatme",
			Subsystem: "relay",
			Name:      "rooms",
			Help:      "Rooms with at least one member.",
		}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "chatme",
			Subsystem: "relay",
			Name:      "connections",
			Help:      "Open signaling connections.",
		}),
		relayedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatme",
			Subsystem: "relay",
			Name:      "messages_relayed_total",
			Help:      "Frames queued for peers, by message type.",
		}, []string{"type"}),
		droppedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatme",
			Subsystem: "relay",
			Name:      "messages_dropped_total",
			Help:      "Frames not delivered to a peer, by reason.",
		}, []string{"reason"}),
		protocolErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatme",
			Subsystem: "relay",
			Name:      "protocol_errors_total",
			Help:      "Inbound messages rejected as malformed or not relayable.",
		}),
	}
	m.registry.MustRegister(
		m.rooms, m.connections, m.relayedTotal, m.droppedTotal, m.protocolErrors,
		collectors.NewGoCollector(),
	)
	return m
}

// Handler serves the exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) setRooms(n int) {
	if m != nil {
		m.rooms.Set(float64(n))
	}
}

func (m *Metrics) connOpened() {
	if m != nil {
		m.connections.Inc()
	}
}

func (m *Metrics) connClosed() {
	if m != nil {
		m.connections.Dec()
	}
}

func (m *Metrics) relayed(t protocol.MessageType, n int) {
	if m != nil && n > 0 {
		m.relayedTotal.WithLabelValues(string(t)).Add(float64(n))
	}
}

func (m *Metrics) dropped(reason string) {
	if m != nil {
		m.droppedTotal.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) protocolError() {
	if m != nil {
		m.protocolErrors.Inc()
	}
}
