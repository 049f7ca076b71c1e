// Package metrics exposes ledger counters for Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	finalized    *prometheus.CounterVec
	rejected     *prometheus.CounterVec
	refusals     *prometheus.CounterVec
	flowDuration *prometheus.HistogramVec
}

// New registers the ledger metrics on reg. A nil reg yields unregistered
// collectors, which is what tests usually want.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		finalized: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ledger",
			Subsystem: "tx",
			Name:      "finalized_total",
			Help:      "Transactions finalized by the ordering service.",
		}, []string{"command"}),
		rejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ledger",
			Subsystem: "tx",
			Name:      "rejected_total",
			Help:      "Transactions rejected because an input was already consumed.",
		}, []string{"command"}),
		refusals: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ledger",
			Subsystem: "flow",
			Name:      "refusals_total",
			Help:      "Signature requests refused by a counterparty.",
		}, []string{"protocol"}),
		flowDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ledger",
			Subsystem: "flow",
			Name:      "duration_seconds",
			Help:      "Business operation duration in seconds.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		}, []string{"op", "outcome"}),
	}
}

func (m *Metrics) Finalized(command string) { m.finalized.WithLabelValues(command).Inc() }
func (m *Metrics) Rejected(command string)  { m.rejected.WithLabelValues(command).Inc() }
func (m *Metrics) Refused(protocol string)  { m.refusals.WithLabelValues(protocol).Inc() }

// ObserveFlow records how long op took; outcome is "ok" or "error".
func (m *Metrics) ObserveFlow(op string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.flowDuration.WithLabelValues(op, outcome).Observe(time.Since(start).Seconds())
}
