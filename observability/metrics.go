// Package observability holds the engine's prometheus registries and the
// OpenTelemetry bootstrap. Metric vecs are registered once behind sync.Once
// so tests and daemons can share a process.
package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// EngineMetrics records settlement-engine activity: settlements, withdrawals,
// and bus traffic.
type EngineMetrics struct {
	settlements     *prometheus.CounterVec
	withdrawals     *prometheus.CounterVec
	published       *prometheus.CounterVec
	consumed        *prometheus.CounterVec
	failures        *prometheus.CounterVec
	handlerDuration *prometheus.HistogramVec
}

var (
	engineOnce sync.Once
	engineReg  *EngineMetrics
)

// Engine returns the lazily-initialised settlement engine metrics registry.
func Engine() *EngineMetrics {
	engineOnce.Do(func() {
		engineReg = &EngineMetrics{
			settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "ticketpay",
				Subsystem: "settlement",
				Name:      "settlements_total",
				Help:      "Settled transactions segmented by type and outcome.",
			}, []string{"transaction_type", "outcome"}),
			withdrawals: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "ticketpay",
				Subsystem: "withdrawal",
				Name:      "withdrawals_total",
				Help:      "Withdrawal submissions segmented by mode and outcome.",
			}, []string{"mode", "outcome"}),
			published: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "ticketpay",
				Subsystem: "bus",
				Name:      "events_published_total",
				Help:      "Domain events published segmented by event type.",
			}, []string{"event_type"}),
			consumed: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "ticketpay",
				Subsystem: "bus",
				Name:      "events_consumed_total",
				Help:      "Domain events consumed and committed segmented by event type.",
			}, []string{"event_type"}),
			failures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "ticketpay",
				Subsystem: "bus",
				Name:      "event_failures_total",
				Help:      "Event handler failures segmented by event type.",
			}, []string{"event_type"}),
			handlerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "ticketpay",
				Subsystem: "bus",
				Name:      "handler_duration_seconds",
				Help:      "Latency distribution of event handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"event_type"}),
		}
		prometheus.MustRegister(
			engineReg.settlements,
			engineReg.withdrawals,
			engineReg.published,
			engineReg.consumed,
			engineReg.failures,
			engineReg.handlerDuration,
		)
	})
	return engineReg
}

// SettlementCompleted records one settled transaction.
func (m *EngineMetrics) SettlementCompleted(transactionType, outcome string) {
	if m == nil {
		return
	}
	m.settlements.WithLabelValues(transactionType, outcome).Inc()
}

// WithdrawalSubmitted records one withdrawal submission.
func (m *EngineMetrics) WithdrawalSubmitted(mode, outcome string) {
	if m == nil {
		return
	}
	m.withdrawals.WithLabelValues(mode, outcome).Inc()
}

// EventPublished records one published event.
func (m *EngineMetrics) EventPublished(eventType string) {
	if m == nil {
		return
	}
	m.published.WithLabelValues(eventType).Inc()
}

// EventConsumed records one fully handled and committed event.
func (m *EngineMetrics) EventConsumed(eventType string, duration time.Duration) {
	if m == nil {
		return
	}
	m.consumed.WithLabelValues(eventType).Inc()
	m.handlerDuration.WithLabelValues(eventType).Observe(duration.Seconds())
}

// EventFailed records one handler failure.
func (m *EngineMetrics) EventFailed(eventType string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(eventType).Inc()
}
