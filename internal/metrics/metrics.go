// Package metrics exposes Prometheus counters for the undoable delete flow.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "spese"

// Undo result labels.
const (
	ResultRestored = "restored"
	ResultTooLate  = "too_late"
)

type Metrics struct {
	DeletesRequested prometheus.Counter
	DeletesFinalized prometheus.Counter
	Undos            *prometheus.CounterVec
	Dismissals       prometheus.Counter
	Failures         *prometheus.CounterVec
	ActiveSessions   prometheus.Gauge
	ExpensesPurged   prometheus.Counter
}

// New creates the collectors and registers them on reg when it is non-nil.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		DeletesRequested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deletes_requested_total",
			Help:      "Expense deletions requested by users.",
		}),
		DeletesFinalized: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deletes_finalized_total",
			Help:      "Deletions that became permanent after the undo window.",
		}),
		Undos: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "undos_total",
			Help:      "Undo requests by result.",
		}, []string{"result"}),
		Dismissals: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "undo_dismissals_total",
			Help:      "Undo prompts dismissed without restoring.",
		}),
		Failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "undo_failures_total",
			Help:      "Failed commit or restore operations.",
		}, []string{"op"}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "undo_sessions",
			Help:      "Sessions holding an undo coordinator.",
		}),
		ExpensesPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "expenses_purged_total",
			Help:      "Soft-deleted expenses removed by the worker.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.DeletesRequested,
			m.DeletesFinalized,
			m.Undos,
			m.Dismissals,
			m.Failures,
			m.ActiveSessions,
			m.ExpensesPurged,
		)
	}
	return m
}

// ObserveUndo counts an undo request by whether it restored anything.
func (m *Metrics) ObserveUndo(restored bool) {
	if restored {
		m.Undos.WithLabelValues(ResultRestored).Inc()
		return
	}
	m.Undos.WithLabelValues(ResultTooLate).Inc()
}
