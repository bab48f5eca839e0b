// Package observability holds the Prometheus metrics and OpenTelemetry spans
// emitted by the linker, reconciler and research queue.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the engine.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Linking
	LinkAttemptsTotal *prometheus.CounterVec
	LinkSeconds       prometheus.Histogram

	// Bulk reconciliation
	ReconcileRunsTotal     *prometheus.CounterVec
	ReconcileItemsTotal    *prometheus.CounterVec
	ReconcileSeconds       prometheus.Histogram
	StatusCorrectionsTotal prometheus.Counter

	// Research queue
	ResearchTransitionsTotal *prometheus.CounterVec
	ResearchQueueDepth       *prometheus.GaugeVec
	ResearchFanOut           prometheus.Histogram
}

// NewMetrics registers the engine metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		LinkAttemptsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "salelink_link_attempts_total",
				Help: "Property link attempts by outcome",
			},
			[]string{"outcome"},
		),
		LinkSeconds: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "salelink_link_seconds",
				Help:    "Latency of a single property link",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
		),

		ReconcileRunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "salelink_reconcile_runs_total",
				Help: "Bulk reconciliation runs by result",
			},
			[]string{"result"},
		),
		ReconcileItemsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "salelink_reconcile_items_total",
				Help: "Properties processed by bulk reconciliation, by outcome",
			},
			[]string{"outcome"},
		),
		ReconcileSeconds: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "salelink_reconcile_seconds",
				Help:    "Duration of bulk reconciliation runs",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 600, 1800},
			},
		),
		StatusCorrectionsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "salelink_status_corrections_total",
				Help: "Stored statuses corrected by recomputation",
			},
		),

		ResearchTransitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "salelink_research_transitions_total",
				Help: "Research queue transitions",
			},
			[]string{"transition"},
		),
		ResearchQueueDepth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "salelink_research_queue_depth",
				Help: "Research entries by priority tier at last work-queue read",
			},
			[]string{"priority"},
		),
		ResearchFanOut: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "salelink_research_fanout_properties",
				Help:    "Properties linked per research resolution",
				Buckets: []float64{0, 1, 5, 25, 100, 500, 1000, 5000},
			},
		),
	}
}

// RecordLink records one link attempt.
func (m *Metrics) RecordLink(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.LinkAttemptsTotal.WithLabelValues(outcome).Inc()
	m.LinkSeconds.Observe(seconds)
}

// RecordReconcileItem records one property processed by a bulk run.
func (m *Metrics) RecordReconcileItem(outcome string) {
	if m == nil {
		return
	}
	m.ReconcileItemsTotal.WithLabelValues(outcome).Inc()
}

// RecordReconcileRun records a finished bulk run.
func (m *Metrics) RecordReconcileRun(result string, seconds float64) {
	if m == nil {
		return
	}
	m.ReconcileRunsTotal.WithLabelValues(result).Inc()
	m.ReconcileSeconds.Observe(seconds)
}

// RecordStatusCorrections adds corrected statuses.
func (m *Metrics) RecordStatusCorrections(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.StatusCorrectionsTotal.Add(float64(n))
}

// RecordResearchTransition records a queue transition (queued, assigned, resolved, failed).
func (m *Metrics) RecordResearchTransition(transition string) {
	if m == nil {
		return
	}
	m.ResearchTransitionsTotal.WithLabelValues(transition).Inc()
}

// SetResearchQueueDepth sets the pending depth for a priority tier.
func (m *Metrics) SetResearchQueueDepth(priority string, depth int) {
	if m == nil {
		return
	}
	m.ResearchQueueDepth.WithLabelValues(priority).Set(float64(depth))
}

// RecordResearchFanOut records the properties linked by a resolution.
func (m *Metrics) RecordResearchFanOut(linked int) {
	if m == nil {
		return
	}
	m.ResearchFanOut.Observe(float64(linked))
}
