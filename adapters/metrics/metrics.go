// Package metrics provides Prometheus metrics collection for creditgate.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds all Prometheus metrics for creditgate.
type Collector struct {
	// Admission metrics
	AdmissionsTotal *prometheus.CounterVec

	// Settlement metrics
	SettlementsTotal   *prometheus.CounterVec
	SettlementDuration prometheus.Histogram
	ShortfallCredits   prometheus.Counter
	ShortfallTokens    prometheus.Counter
	PlanActivations    prometheus.Counter

	// Proxy metrics
	RequestsTotal    *prometheus.CounterVec
	UpstreamDuration prometheus.Histogram
	UpstreamErrors   prometheus.Counter
}

// New creates a new metrics collector with all metrics registered.
func New() *Collector {
	return &Collector{
		AdmissionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "creditgate",
				Name:      "admissions_total",
				Help:      "Total number of admission decisions",
			},
			[]string{"decision"},
		),

		SettlementsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "creditgate",
				Name:      "settlements_total",
				Help:      "Total number of settlements by outcome",
			},
			[]string{"outcome"},
		),
		SettlementDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "creditgate",
				Name:      "settlement_duration_seconds",
				Help:      "Settlement duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
		),
		ShortfallCredits: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: "creditgate",
				Name:      "shortfall_credits_total",
				Help:      "Credit units consumed but never deducted from any plan",
			},
		),
		ShortfallTokens: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: "creditgate",
				Name:      "shortfall_tokens_total",
				Help:      "Token units consumed but never deducted from any plan",
			},
		),
		PlanActivations: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: "creditgate",
				Name:      "plan_activations_total",
				Help:      "Total number of plan activations, explicit or fallback",
			},
		),

		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "creditgate",
				Name:      "requests_total",
				Help:      "Total number of metered requests processed",
			},
			[]string{"method", "status"},
		),
		UpstreamDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "creditgate",
				Name:      "upstream_duration_seconds",
				Help:      "Upstream request duration in seconds",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
		),
		UpstreamErrors: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: "creditgate",
				Name:      "upstream_errors_total",
				Help:      "Total number of upstream forwarding errors",
			},
		),
	}
}
