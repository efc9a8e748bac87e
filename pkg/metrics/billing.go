package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// BillingMetrics records webhook ingestion and apply outcomes.
type BillingMetrics struct {
	events   *prometheus.CounterVec
	apply    *prometheus.HistogramVec
	lockWait prometheus.Histogram
}

// NewBillingMetrics registers the billing metrics on the provided registerer.
func NewBillingMetrics(reg prometheus.Registerer) *BillingMetrics {
	if reg == nil {
		return &BillingMetrics{}
	}
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "billing_webhook_events_total",
		Help: "Billing events processed, by source and outcome.",
	}, []string{"source", "outcome"})
	apply := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "billing_apply_duration_seconds",
		Help:    "Duration of the ledger-and-apply sequence in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"source"})
	lockWait := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "billing_subscription_lock_wait_seconds",
		Help:    "Time spent waiting for the per-subscription exclusive section.",
		Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5},
	})
	reg.MustRegister(events, apply, lockWait)
	return &BillingMetrics{events: events, apply: apply, lockWait: lockWait}
}

// IncEvent counts one processed event.
func (b *BillingMetrics) IncEvent(source, outcome string) {
	if b == nil || b.events == nil {
		return
	}
	b.events.WithLabelValues(normalizeLabel(source), normalizeLabel(outcome)).Inc()
}

// ObserveApply records how long an apply took.
func (b *BillingMetrics) ObserveApply(source string, duration time.Duration) {
	if b == nil || b.apply == nil {
		return
	}
	b.apply.WithLabelValues(normalizeLabel(source)).Observe(duration.Seconds())
}

// ObserveLockWait records how long an apply waited for its lock.
func (b *BillingMetrics) ObserveLockWait(duration time.Duration) {
	if b == nil || b.lockWait == nil {
		return
	}
	b.lockWait.Observe(duration.Seconds())
}
