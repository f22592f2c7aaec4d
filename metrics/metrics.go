// Package metrics exposes prometheus instrumentation for the
// transaction engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine's counters and histograms.
type Metrics struct {
	RecordedTransactions prometheus.Counter
	BroadcastFailures    prometheus.Counter
	CallbacksApplied     *prometheus.CounterVec
	BroadcastDuration    prometheus.Histogram
}

// New builds the metric set and registers it with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RecordedTransactions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "spv_engine",
			Name:      "recorded_transactions_total",
			Help:      "Signed transactions accepted into local state.",
		}),
		BroadcastFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "spv_engine",
			Name:      "broadcast_failures_total",
			Help:      "Transaction submissions that failed after retries.",
		}),
		CallbacksApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "spv_engine",
			Name:      "status_callbacks_applied_total",
			Help:      "Inbound status projections applied, by resulting state.",
		}, []string{"state"}),
		BroadcastDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "spv_engine",
			Name:      "broadcast_duration_seconds",
			Help:      "Wall time of transaction submissions.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(m.RecordedTransactions, m.BroadcastFailures, m.CallbacksApplied, m.BroadcastDuration)
	return m
}

// TxRecorded increments the recorded-transaction counter.
func (m *Metrics) TxRecorded() {
	if m == nil {
		return
	}
	m.RecordedTransactions.Inc()
}

// BroadcastFailed increments the broadcast-failure counter.
func (m *Metrics) BroadcastFailed() {
	if m == nil {
		return
	}
	m.BroadcastFailures.Inc()
}

// CallbackApplied counts a status projection that moved a transaction
// into the given state.
func (m *Metrics) CallbackApplied(state string) {
	if m == nil {
		return
	}
	m.CallbacksApplied.WithLabelValues(state).Inc()
}

// ObserveBroadcast records one submission's duration.
func (m *Metrics) ObserveBroadcast(seconds float64) {
	if m == nil {
		return
	}
	m.BroadcastDuration.Observe(seconds)
}
