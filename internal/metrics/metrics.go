// Package metrics holds the Prometheus collectors for limit checks,
// reservations, settlements and owner notifications. A nil *Metrics is valid
// and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "helpmaton"

type Metrics struct {
	limitChecks    *prometheus.CounterVec
	limitHits      *prometheus.CounterVec
	checkDuration  *prometheus.HistogramVec
	reservations   *prometheus.CounterVec
	settlements    *prometheus.CounterVec
	notifications  *prometheus.CounterVec
	sweepReleased  prometheus.Counter
	pricingReloads *prometheus.CounterVec
}

// New registers the collectors on reg. Pass prometheus.NewRegistry() in
// tests to avoid clashing with the default registry.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		limitChecks: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "spending_limit_checks_total",
				Help:      "Spending limit evaluations by scope, time frame and result",
			},
			[]string{"scope", "time_frame", "result"},
		),
		limitHits: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "spending_limit_hits_total",
				Help:      "Checks that returned at least one failed limit",
			},
			[]string{"scope"},
		),
		checkDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "spending_limit_check_duration_seconds",
				Help:      "Duration of a full CheckLimits call",
				Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
			},
			[]string{"result"},
		),
		reservations: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "credit_reservations_total",
				Help:      "Reserve attempts by outcome",
			},
			[]string{"outcome"},
		),
		settlements: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "credit_settlements_total",
				Help:      "Post-call adjustments and releases by outcome",
			},
			[]string{"operation", "outcome"},
		),
		notifications: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "owner_notifications_total",
				Help:      "Per-recipient notification decisions",
			},
			[]string{"error_type", "outcome"},
		),
		sweepReleased: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reservation_sweep_released_total",
				Help:      "Expired reservations released by the sweep job",
			},
		),
		pricingReloads: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pricing_reloads_total",
				Help:      "Pricing file reload attempts by result",
			},
			[]string{"result"},
		),
	}
}

func (m *Metrics) RecordLimitCheck(scope, timeFrame string, passed bool) {
	if m == nil {
		return
	}
	m.limitChecks.WithLabelValues(scope, timeFrame, result(passed)).Inc()
}

func (m *Metrics) RecordLimitHit(scope string) {
	if m == nil {
		return
	}
	m.limitHits.WithLabelValues(scope).Inc()
}

func (m *Metrics) ObserveCheck(passed bool, d time.Duration) {
	if m == nil {
		return
	}
	m.checkDuration.WithLabelValues(result(passed)).Observe(d.Seconds())
}

func (m *Metrics) RecordReservation(outcome string) {
	if m == nil {
		return
	}
	m.reservations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordSettlement(operation, outcome string) {
	if m == nil {
		return
	}
	m.settlements.WithLabelValues(operation, outcome).Inc()
}

func (m *Metrics) RecordNotification(errorType, outcome string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(errorType, outcome).Inc()
}

func (m *Metrics) AddSweepReleased(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.sweepReleased.Add(float64(n))
}

func (m *Metrics) RecordPricingReload(ok bool) {
	if m == nil {
		return
	}
	r := "ok"
	if !ok {
		r = "error"
	}
	m.pricingReloads.WithLabelValues(r).Inc()
}

func result(passed bool) string {
	if passed {
		return "passed"
	}
	return "failed"
}
