// Package metrics exposes Prometheus instrumentation for the monitoring
// core. All methods are nil-receiver safe so instrumentation stays optional.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the collectors for one monitor instance.
type Metrics struct {
	registry *prometheus.Registry

	eventsTotal     *prometheus.CounterVec
	actionsTotal    *prometheus.CounterVec
	reconnectsTotal prometheus.Counter
	callsTotal      *prometheus.CounterVec
	activeCalls     prometheus.Gauge
	connectionState *prometheus.GaugeVec
}

// New creates a Metrics with its own registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "freepbx_popup",
			Subsystem: "ami",
			Name:      "events_total",
			Help:      "Manager events received, by event name.",
		}, []string{"event"}),
		actionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "freepbx_popup",
			Subsystem: "ami",
			Name:      "actions_total",
			Help:      "Actions submitted, by result.",
		}, []string{"result"}),
		reconnectsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "freepbx_popup",
			Subsystem: "ami",
			Name:      "reconnects_total",
			Help:      "Reconnection cycles entered.",
		}),
		callsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "freepbx_popup",
			Subsystem: "calls",
			Name:      "total",
			Help:      "Tracked calls ended, by cause.",
		}, []string{"cause"}),
		activeCalls: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "freepbx_popup",
			Subsystem: "calls",
			Name:      "active",
			Help:      "Calls currently ringing or answered.",
		}),
		connectionState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "freepbx_popup",
			Subsystem: "ami",
			Name:      "connection_state",
			Help:      "Connection state indicator, 1 for the current state.",
		}, []string{"state"}),
	}
	m.registry.MustRegister(
		m.eventsTotal,
		m.actionsTotal,
		m.reconnectsTotal,
		m.callsTotal,
		m.activeCalls,
		m.connectionState,
	)
	return m
}

// Registry returns the underlying registry for HTTP exposition.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// EventReceived counts one inbound manager event.
func (m *Metrics) EventReceived(name string) {
	if m == nil {
		return
	}
	m.eventsTotal.WithLabelValues(name).Inc()
}

// ActionFinished counts one submitted action by result ("ok", "timeout",
// "rejected", "error").
func (m *Metrics) ActionFinished(result string) {
	if m == nil {
		return
	}
	m.actionsTotal.WithLabelValues(result).Inc()
}

// Reconnecting counts one reconnection cycle.
func (m *Metrics) Reconnecting() {
	if m == nil {
		return
	}
	m.reconnectsTotal.Inc()
}

// CallStarted bumps the active-call gauge.
func (m *Metrics) CallStarted() {
	if m == nil {
		return
	}
	m.activeCalls.Inc()
}

// CallEnded counts a finished call by cause and drops the active gauge.
func (m *Metrics) CallEnded(cause string) {
	if m == nil {
		return
	}
	m.callsTotal.WithLabelValues(cause).Inc()
	m.activeCalls.Dec()
}

// ConnectionState marks the given state as current.
func (m *Metrics) ConnectionState(state string) {
	if m == nil {
		return
	}
	m.connectionState.Reset()
	m.connectionState.WithLabelValues(state).Set(1)
}
