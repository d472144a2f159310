// Package metrics exposes Prometheus collectors for the attendance core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	Marks          *prometheus.CounterVec
	TokenRotations prometheus.Counter
	Reconciles     *prometheus.CounterVec
	Reconciled     prometheus.Counter
	OfflinePending prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Marks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rollcall",
			Name:      "marks_total",
			Help:      "Attendance mark attempts by source and outcome.",
		}, []string{"source", "outcome"}),
		TokenRotations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rollcall",
			Name:      "token_rotations_total",
			Help:      "Check-in tokens issued after session start.",
		}),
		Reconciles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rollcall",
			Name:      "reconciles_total",
			Help:      "Reconciliation attempts by outcome.",
		}, []string{"outcome"}),
		Reconciled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rollcall",
			Name:      "reconciled_entries_total",
			Help:      "Offline entries merged into the record store.",
		}),
		OfflinePending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rollcall",
			Name:      "offline_pending",
			Help:      "Entries waiting in the offline queue.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Marks, m.TokenRotations, m.Reconciles, m.Reconciled, m.OfflinePending)
	}
	return m
}

func (m *Metrics) Mark(source, outcome string) {
	if m == nil {
		return
	}
	m.Marks.WithLabelValues(source, outcome).Inc()
}

func (m *Metrics) Rotated() {
	if m == nil {
		return
	}
	m.TokenRotations.Inc()
}

func (m *Metrics) Reconcile(outcome string, count int) {
	if m == nil {
		return
	}
	m.Reconciles.WithLabelValues(outcome).Inc()
	m.Reconciled.Add(float64(count))
}

func (m *Metrics) Pending(n int) {
	if m == nil {
		return
	}
	m.OfflinePending.Set(float64(n))
}
