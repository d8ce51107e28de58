// Package metrics holds the Prometheus collectors for the message router,
// the event bus and the long-lived connection manager.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "filterbridge"

// Dispatch outcomes recorded by the routers.
const (
	OutcomeOK       = "ok"
	OutcomeError    = "error"
	OutcomeUnknown  = "unknown"
	OutcomeNoReply  = "no_reply"
	OutcomePanicked = "panicked"
)

// Metrics bundles every collector. A nil *Metrics is valid and records
// nothing, so components can be built without a registry in tests.
type Metrics struct {
	dispatchTotal    *prometheus.CounterVec
	dispatchDuration *prometheus.HistogramVec
	busListeners     prometheus.Gauge
	busPublished     *prometheus.CounterVec
	busPanics        prometheus.Counter
	connections      *prometheus.GaugeVec
	notifications    *prometheus.CounterVec
	relayed          *prometheus.CounterVec
}

// New creates the collectors and registers them with reg. Passing nil
// registers with prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		dispatchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "dispatch_total",
			Help:      "One-shot messages dispatched, by router, message type and outcome.",
		}, []string{"router", "type", "outcome"}),
		dispatchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "dispatch_duration_seconds",
			Help:      "Handler execution time per router.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"router"}),
		busListeners: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "listeners",
			Help:      "Listener registrations currently held by the event bus.",
		}),
		busPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "published_total",
			Help:      "Events published on the bus, by event name.",
		}, []string{"event"}),
		busPanics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "callback_panics_total",
			Help:      "Listener callbacks that panicked and were recovered.",
		}),
		connections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "connections",
			Name:      "open",
			Help:      "Open long-lived connections, by page.",
		}, []string{"page"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connections",
			Name:      "notifications_total",
			Help:      "Push notifications handed to connections, by result.",
		}, []string{"result"}),
		relayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pubsub",
			Name:      "relayed_total",
			Help:      "Engine events relayed from the message channel onto the bus.",
		}, []string{"event"}),
	}

	reg.MustRegister(
		m.dispatchTotal,
		m.dispatchDuration,
		m.busListeners,
		m.busPublished,
		m.busPanics,
		m.connections,
		m.notifications,
		m.relayed,
	)
	return m
}

// ObserveDispatch records one routed message.
func (m *Metrics) ObserveDispatch(router, msgType, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.dispatchTotal.WithLabelValues(router, msgType, outcome).Inc()
	m.dispatchDuration.WithLabelValues(router).Observe(elapsed.Seconds())
}

// SetListeners reports the current number of bus registrations.
func (m *Metrics) SetListeners(n int) {
	if m == nil {
		return
	}
	m.busListeners.Set(float64(n))
}

// EventPublished counts one bus publish.
func (m *Metrics) EventPublished(event string) {
	if m == nil {
		return
	}
	m.busPublished.WithLabelValues(event).Inc()
}

// CallbackPanicked counts one recovered listener panic.
func (m *Metrics) CallbackPanicked() {
	if m == nil {
		return
	}
	m.busPanics.Inc()
}

// ConnectionOpened increments the open-connection gauge for page.
func (m *Metrics) ConnectionOpened(page string) {
	if m == nil {
		return
	}
	m.connections.WithLabelValues(page).Inc()
}

// ConnectionClosed decrements the open-connection gauge for page.
func (m *Metrics) ConnectionClosed(page string) {
	if m == nil {
		return
	}
	m.connections.WithLabelValues(page).Dec()
}

// NotificationSent counts a push notification; result is "sent" or "dropped".
func (m *Metrics) NotificationSent(result string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(result).Inc()
}

// EventRelayed counts one engine event moved onto the bus.
func (m *Metrics) EventRelayed(event string) {
	if m == nil {
		return
	}
	m.relayed.WithLabelValues(event).Inc()
}
