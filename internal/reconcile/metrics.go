package reconcile

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts remote writes, rollbacks and restores.
type Metrics struct {
	Writes    *prometheus.CounterVec
	Rollbacks prometheus.Counter
	Refetches *prometheus.CounterVec
	Restores  *prometheus.CounterVec
	InFlight  prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "parts_workflow",
			Subsystem: "reconcile",
			Name:      "writes_total",
			Help:      "Remote writes by mutation and result.",
		}, []string{"mutation", "result"}),
		Rollbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "parts_workflow",
			Subsystem: "reconcile",
			Name:      "rollbacks_total",
			Help:      "Optimistic mutations rolled back after a failed write.",
		}),
		Refetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "parts_workflow",
			Subsystem: "reconcile",
			Name:      "refetches_total",
			Help:      "Stage refetches by outcome.",
		}, []string{"stage", "result"}),
		Restores: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "parts_workflow",
			Subsystem: "reconcile",
			Name:      "restores_total",
			Help:      "Destructive snapshot restores by result.",
		}, []string{"result"}),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "parts_workflow",
			Subsystem: "reconcile",
			Name:      "writes_in_flight",
			Help:      "Remote writes not yet settled.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Writes, m.Rollbacks, m.Refetches, m.Restores, m.InFlight)
	}
	return m
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
