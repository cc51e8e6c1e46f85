// Package observability exposes counters about the conversation core.
// Every method is safe on a nil *Metrics so components can run without them.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "atme"

type Metrics struct {
	appended             prometheus.Counter
	writeFailures        prometheus.Counter
	delivered            prometheus.Counter
	malformedDropped     prometheus.Counter
	storeFailures        *prometheus.CounterVec
	notificationsSent    prometheus.Counter
	notificationsFailed  prometheus.Counter
	notificationsDropped prometheus.Counter
	activeSessions       prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		appended: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "log", Name: "appended_total",
			Help: "Messages appended to a conversation log.",
		}),
		writeFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "log", Name: "write_failures_total",
			Help: "Appends rejected by the store.",
		}),
		delivered: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "session", Name: "delivered_total",
			Help: "Messages rendered by open sessions.",
		}),
		malformedDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "log", Name: "malformed_dropped_total",
			Help: "Stored records dropped because mandatory fields were missing.",
		}),
		storeFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "store", Name: "failures_total",
			Help: "Conversation store operations that failed.",
		}, []string{"operation"}),
		notificationsSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "notification", Name: "sent_total",
			Help: "Push notifications accepted by the gateway.",
		}),
		notificationsFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "notification", Name: "failed_total",
			Help: "Push notifications rejected by the gateway.",
		}),
		notificationsDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "notification", Name: "dropped_total",
			Help: "Push notifications dropped because the queue was full.",
		}),
		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "session", Name: "open",
			Help: "Currently open conversation sessions.",
		}),
	}
}

func (m *Metrics) IncAppended() {
	if m != nil {
		m.appended.Inc()
	}
}

func (m *Metrics) IncWriteFailure() {
	if m != nil {
		m.writeFailures.Inc()
	}
}

func (m *Metrics) IncDelivered() {
	if m != nil {
		m.delivered.Inc()
	}
}

func (m *Metrics) IncMalformedDropped() {
	if m != nil {
		m.malformedDropped.Inc()
	}
}

func (m *Metrics) IncStoreFailure(operation string) {
	if m != nil {
		m.storeFailures.WithLabelValues(operation).Inc()
	}
}

func (m *Metrics) IncNotificationSent() {
	if m != nil {
		m.notificationsSent.Inc()
	}
}

func (m *Metrics) IncNotificationFailed() {
	if m != nil {
		m.notificationsFailed.Inc()
	}
}

func (m *Metrics) IncNotificationDropped() {
	if m != nil {
		m.notificationsDropped.Inc()
	}
}

func (m *Metrics) SessionOpened() {
	if m != nil {
		m.activeSessions.Inc()
	}
}

func (m *Metrics) SessionClosed() {
	if m != nil {
		m.activeSessions.Dec()
	}
}

// Collectors is used by tests to read counter values.
func (m *Metrics) Collectors() map[string]prometheus.Collector {
	return map[string]prometheus.Collector{
		"appended":              m.appended,
		"write_failures":        m.writeFailures,
		"delivered":             m.delivered,
		"malformed_dropped":     m.malformedDropped,
		"notifications_sent":    m.notificationsSent,
		"notifications_failed":  m.notificationsFailed,
		"notifications_dropped": m.notificationsDropped,
		"active_sessions":       m.activeSessions,
	}
}
