// Package metrics defines the process-wide Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the collectors the registry and adapters update.
type Metrics struct {
	SessionsActive  prometheus.Gauge
	SessionsCreated prometheus.Counter
	SessionsExpired prometheus.Counter
	TurnsTotal      *prometheus.CounterVec
	EventsPublished *prometheus.CounterVec
}

// New creates the collectors and registers them with reg. Passing
// prometheus.DefaultRegisterer wires them into the default /metrics
// handler; tests pass a private registry.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pipechat_sessions_active",
			Help: "Number of sessions currently open.",
		}),
		SessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipechat_sessions_created_total",
			Help: "Sessions created since process start.",
		}),
		SessionsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipechat_sessions_expired_total",
			Help: "Sessions closed by the idle sweep.",
		}),
		TurnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipechat_turns_total",
			Help: "Conversation turns by outcome.",
		}, []string{"outcome"}),
		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipechat_events_published_total",
			Help: "Stream events published by kind.",
		}, []string{"kind"}),
	}
	if reg != nil {
		reg.MustRegister(m.SessionsActive, m.SessionsCreated, m.SessionsExpired, m.TurnsTotal, m.EventsPublished)
	}
	return m
}

// Nop returns unregistered collectors for callers that do not report.
func Nop() *Metrics {
	return New(nil)
}
