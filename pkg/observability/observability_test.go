package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/trace/noop"
)

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordLink("linked", 0.002)
	m.RecordLink("linked", 0.001)
	m.RecordLink("no_match", 0.001)
	m.RecordReconcileItem("failed")
	m.RecordReconcileRun("complete", 3)
	m.RecordStatusCorrections(4)
	m.RecordStatusCorrections(0)
	m.RecordResearchTransition("resolved")
	m.SetResearchQueueDepth("HIGH", 2)
	m.RecordResearchFanOut(120)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.LinkAttemptsTotal.WithLabelValues("linked")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LinkAttemptsTotal.WithLabelValues("no_match")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ReconcileItemsTotal.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ReconcileRunsTotal.WithLabelValues("complete")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.StatusCorrectionsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ResearchTransitionsTotal.WithLabelValues("resolved")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ResearchQueueDepth.WithLabelValues("HIGH")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordLink("linked", 1)
		m.RecordReconcileItem("linked")
		m.RecordReconcileRun("complete", 1)
		m.RecordStatusCorrections(1)
		m.RecordResearchTransition("queued")
		m.SetResearchQueueDepth("LOW", 1)
		m.RecordResearchFanOut(1)
	})
}

func TestTracer_Spans(t *testing.T) {
	tr := NewTracerFromProvider(noop.NewTracerProvider())
	ctx := context.Background()

	_, span := tr.StartLinkSpan(ctx, 42)
	span.SetOutcome("linked")
	span.SetSale(7)
	span.End(nil)

	_, run := tr.StartRunSpan(ctx, SpanBulkLink, "run-1", "Blair, PA")
	run.SetCounts(10, 8, 1)
	run.End(errors.New("page failed"))

	_, rs := tr.StartResearchSpan(ctx, SpanResearchAssign, 3)
	rs.SetAgent("monitor")
	rs.AddEvent("claimed")
	rs.End(nil)
}

func TestTracer_NilIsNoop(t *testing.T) {
	var tr *Tracer
	assert.NotPanics(t, func() {
		_, span := tr.StartLinkSpan(context.Background(), 1)
		span.End(nil)
	})
}
