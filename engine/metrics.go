package engine

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the Prometheus collectors of an Engine.
type Metrics struct {
	passes        *prometheus.CounterVec
	passDuration  prometheus.Histogram
	nodeUpdates   *prometheus.CounterVec
	evalErrors    prometheus.Counter
	notifications *prometheus.CounterVec
	cascadeSteps  *prometheus.CounterVec
	emails        *prometheus.CounterVec
}

// NewMetrics creates the engine collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	const namespace = "flow"
	m := &Metrics{
		passes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "integrity_passes_total",
				Help:      "Integrity passes by result (stable, updated, error)",
			},
			[]string{"result"},
		),
		passDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "integrity_pass_duration_seconds",
				Help:      "Duration of integrity passes",
				Buckets:   prometheus.DefBuckets,
			},
		),
		nodeUpdates: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "node_updates_total",
				Help:      "Node status writes by new status",
			},
			[]string{"status"},
		),
		evalErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "node_evaluation_errors_total",
				Help:      "Nodes skipped by an integrity pass after an evaluation error",
			},
		),
		notifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_total",
				Help:      "Shortfall notifications by result (sent, failed)",
			},
			[]string{"result"},
		),
		cascadeSteps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cascade_steps_total",
				Help:      "Cascade steps by action type and resulting status",
			},
			[]string{"action", "status"},
		),
		emails: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "emails_total",
				Help:      "Emails by result (sent, failed)",
			},
			[]string{"result"},
		),
	}
	if reg != nil {
		reg.MustRegister(
			m.passes,
			m.passDuration,
			m.nodeUpdates,
			m.evalErrors,
			m.notifications,
			m.cascadeSteps,
			m.emails,
		)
	}
	return m
}
