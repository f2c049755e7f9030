// Package metrics exposes Prometheus instruments for board synchronization
// and the relay. A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "boardsync"

// Connection states as reported on the connection_state gauge.
var connectionStates = []string{"idle", "connecting", "open", "closing", "disconnected"}

type Metrics struct {
	EventsApplied     *prometheus.CounterVec
	EventsDropped     *prometheus.CounterVec
	ConnectionState   *prometheus.GaugeVec
	ReconnectAttempts prometheus.Counter
	Mutations         *prometheus.CounterVec

	RelayConnections prometheus.Gauge
	RelayMessages    *prometheus.CounterVec
}

// New creates and registers all metrics with the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates and registers all metrics with a custom registry.
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)

	return &Metrics{
		EventsApplied: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_applied_total",
				Help:      "Inbound board events applied to the local snapshot",
			},
			[]string{"type"},
		),
		EventsDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_dropped_total",
				Help:      "Inbound payloads dropped before reaching the reducer",
			},
			[]string{"reason"},
		),
		ConnectionState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "connection_state",
				Help:      "1 for the current push-channel connection state, 0 otherwise",
			},
			[]string{"state"},
		),
		ReconnectAttempts: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reconnect_attempts_total",
				Help:      "Automatic push-channel reconnect attempts",
			},
		),
		Mutations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "mutations_total",
				Help:      "User mutations by action and outcome",
			},
			[]string{"action", "outcome"},
		),
		RelayConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "relay_connections",
				Help:      "Open relay websocket connections",
			},
		),
		RelayMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "relay_messages_total",
				Help:      "Client messages handled by the relay",
			},
			[]string{"outcome"},
		),
	}
}

func (m *Metrics) EventApplied(eventType string) {
	if m == nil {
		return
	}
	m.EventsApplied.WithLabelValues(eventType).Inc()
}

func (m *Metrics) EventDropped(reason string) {
	if m == nil {
		return
	}
	m.EventsDropped.WithLabelValues(reason).Inc()
}

// SetConnectionState marks state as current and clears the others.
func (m *Metrics) SetConnectionState(state string) {
	if m == nil {
		return
	}
	for _, s := range connectionStates {
		v := 0.0
		if s == state {
			v = 1
		}
		m.ConnectionState.WithLabelValues(s).Set(v)
	}
}

func (m *Metrics) ReconnectAttempted() {
	if m == nil {
		return
	}
	m.ReconnectAttempts.Inc()
}

func (m *Metrics) Mutation(action, outcome string) {
	if m == nil {
		return
	}
	m.Mutations.WithLabelValues(action, outcome).Inc()
}

func (m *Metrics) RelayConnected() {
	if m == nil {
		return
	}
	m.RelayConnections.Inc()
}

func (m *Metrics) RelayDisconnected() {
	if m == nil {
		return
	}
	m.RelayConnections.Dec()
}

func (m *Metrics) RelayMessage(outcome string) {
	if m == nil {
		return
	}
	m.RelayMessages.WithLabelValues(outcome).Inc()
}
