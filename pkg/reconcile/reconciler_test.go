package reconcile

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otherjamesbrown/salelink/pkg/auction"
	"github.com/otherjamesbrown/salelink/pkg/auction/memory"
	"github.com/otherjamesbrown/salelink/pkg/events"
	"github.com/otherjamesbrown/salelink/pkg/linker"
	"github.com/otherjamesbrown/salelink/pkg/logging"
	"github.com/otherjamesbrown/salelink/pkg/observability"
)

var now = time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

type fixture struct {
	store     *memory.Store
	recorder  *events.Recorder
	metrics   *observability.Metrics
	clock     time.Time
	reconcile *Reconciler
}

func newFixture(t *testing.T, repo auction.Repository, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{recorder: &events.Recorder{}, metrics: observability.NewMetrics(prometheus.NewRegistry()), clock: now}
	if repo == nil {
		f.store = memory.New()
		repo = f.store
	}
	clock := func() time.Time { return f.clock }
	l := linker.New(repo, logging.NewNopLogger(), linker.WithClock(clock))
	opts = append([]Option{
		WithPublisher(f.recorder),
		WithMetrics(f.metrics),
		WithClock(clock),
	}, opts...)
	f.reconcile = New(repo, l, logging.NewNopLogger(), opts...)
	return f
}

// seedBlair creates one judicial sale and n matching properties, plus n/2
// properties without hints.
func seedBlair(t *testing.T, store *memory.Store, n int) *auction.Sale {
	t.Helper()
	ctx := context.Background()
	sale, err := store.CreateSale(ctx, auction.NewSale{County: "Blair, PA", Type: auction.SaleTypeJudicial, Date: ptr(day(2026, 2, 19))})
	require.NoError(t, err)
	for i := 0; i < n; i++ {
		_, err := store.CreateProperty(ctx, auction.NewProperty{
			County:       "Blair, PA",
			ParcelID:     fmt.Sprintf("B-%04d", i),
			SaleTypeHint: ptr(auction.SaleTypeJudicial),
			SaleDateHint: ptr(day(2026, 2, 19)),
		})
		require.NoError(t, err)
		if i%2 == 0 {
			_, err = store.CreateProperty(ctx, auction.NewProperty{County: "Blair, PA", ParcelID: fmt.Sprintf("N-%04d", i)})
			require.NoError(t, err)
		}
	}
	return sale
}

func TestBulkLink_BlairScenario(t *testing.T) {
	f := newFixture(t, nil, WithPageSize(7), WithProgressInterval(5))
	seedBlair(t, f.store, 20)

	var reports []ProgressSnapshot
	summary, err := f.reconcile.BulkLink(context.Background(), Options{
		County:     "Blair, PA",
		OnProgress: func(s ProgressSnapshot) { reports = append(reports, s) },
	})
	require.NoError(t, err)

	assert.Equal(t, 30, summary.TotalProcessed)
	assert.Equal(t, 20, summary.Linked)
	assert.Equal(t, 10, summary.Unlinked)
	assert.Equal(t, 0, summary.AlreadyLinked)
	assert.Equal(t, 0, summary.Failed)
	assert.True(t, summary.Complete)
	assert.NotEmpty(t, summary.RunID)
	assert.Equal(t, int64(30), summary.NextCursor)

	// 6 interval reports plus the final one.
	assert.Len(t, reports, 7)
	assert.Len(t, f.recorder.OnChannel(events.ChannelReconcileProgress), 6)
	completed := f.recorder.OnChannel(events.ChannelReconcileCompleted)
	require.Len(t, completed, 1)
	assert.Equal(t, summary.RunID, completed[0].(events.ReconcileCompletedEvent).RunID)

	assert.Equal(t, 20.0, testutil.ToFloat64(f.metrics.ReconcileItemsTotal.WithLabelValues(string(linker.OutcomeLinked))))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ReconcileRunsTotal.WithLabelValues(StatusCompleted)))
}

func TestBulkLink_Idempotent(t *testing.T) {
	f := newFixture(t, nil)
	seedBlair(t, f.store, 10)
	ctx := context.Background()

	first, err := f.reconcile.BulkLink(ctx, Options{})
	require.NoError(t, err)
	assert.Equal(t, 10, first.Linked)

	second, err := f.reconcile.BulkLink(ctx, Options{})
	require.NoError(t, err)
	assert.Equal(t, 0, second.Linked)
	assert.Equal(t, 10, second.AlreadyLinked)
	assert.Equal(t, 5, second.TotalProcessed)
	assert.Equal(t, 5, second.Unlinked)
	assert.NotEqual(t, first.RunID, second.RunID)
}

func TestBulkLink_CountyScope(t *testing.T) {
	f := newFixture(t, nil)
	seedBlair(t, f.store, 4)
	_, err := f.store.CreateProperty(context.Background(), auction.NewProperty{County: "Wayne, PA", SaleTypeHint: ptr(auction.SaleTypeJudicial)})
	require.NoError(t, err)

	summary, err := f.reconcile.BulkLink(context.Background(), Options{County: "Wayne, PA"})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.TotalProcessed)
	assert.Equal(t, 0, summary.Linked)
	assert.Equal(t, 1, summary.Unlinked)
}

func TestBulkLink_LimitAndResume(t *testing.T) {
	f := newFixture(t, nil, WithPageSize(4))
	seedBlair(t, f.store, 10)
	ctx := context.Background()

	first, err := f.reconcile.BulkLink(ctx, Options{Limit: 6})
	require.NoError(t, err)
	assert.Equal(t, 6, first.TotalProcessed)
	assert.False(t, first.Complete)

	rest, err := f.reconcile.BulkLink(ctx, Options{AfterID: first.NextCursor})
	require.NoError(t, err)
	assert.True(t, rest.Complete)
	assert.Equal(t, 9, rest.TotalProcessed)
	assert.Equal(t, 10, first.Linked+rest.Linked)
}

func TestBulkLink_LimitCoveringRemainderCompletes(t *testing.T) {
	f := newFixture(t, nil, WithPageSize(4))
	seedBlair(t, f.store, 10)

	var reports []ProgressSnapshot
	summary, err := f.reconcile.BulkLink(context.Background(), Options{
		Limit:      15,
		OnProgress: func(s ProgressSnapshot) { reports = append(reports, s) },
	})
	require.NoError(t, err)
	assert.Equal(t, 15, summary.TotalProcessed)
	assert.True(t, summary.Complete)
	require.NotEmpty(t, reports)
	last := reports[len(reports)-1]
	assert.Equal(t, StatusCompleted, last.Status)
	assert.Equal(t, 15, last.Processed)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ReconcileRunsTotal.WithLabelValues(StatusCompleted)))

	var partial []ProgressSnapshot
	f2 := newFixture(t, nil, WithPageSize(4))
	seedBlair(t, f2.store, 10)
	summary, err = f2.reconcile.BulkLink(context.Background(), Options{
		Limit:      6,
		OnProgress: func(s ProgressSnapshot) { partial = append(partial, s) },
	})
	require.NoError(t, err)
	assert.False(t, summary.Complete)
	require.Len(t, partial, 1)
	assert.Equal(t, StatusPartial, partial[0].Status)
}

func TestBulkLink_CancelledBetweenItems(t *testing.T) {
	f := newFixture(t, nil, WithProgressInterval(3))
	seedBlair(t, f.store, 10)

	ctx, cancel := context.WithCancel(context.Background())
	var reports []ProgressSnapshot
	summary, err := f.reconcile.BulkLink(ctx, Options{
		OnProgress: func(s ProgressSnapshot) {
			reports = append(reports, s)
			cancel()
		},
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 3, summary.TotalProcessed)
	assert.False(t, summary.Complete)
	assert.Equal(t, int64(3), summary.NextCursor)
	assert.Len(t, f.recorder.OnChannel(events.ChannelReconcileCompleted), 1)
	require.Len(t, reports, 2)
	assert.Equal(t, StatusCancelled, reports[1].Status)
}

// flakyRepo fails sale lookups for one county and page reads after a cursor.
type flakyRepo struct {
	auction.Repository
	badCounty   string
	failAfterID int64
}

func (r *flakyRepo) ListSalesByCounty(ctx context.Context, county string) ([]auction.Sale, error) {
	if county == r.badCounty {
		return nil, errors.New("sales lookup timed out")
	}
	return r.Repository.ListSalesByCounty(ctx, county)
}

func (r *flakyRepo) ListUnlinkedProperties(ctx context.Context, f auction.PropertyFilter) ([]auction.Property, error) {
	if r.failAfterID > 0 && f.AfterID >= r.failAfterID {
		return nil, errors.New("connection refused")
	}
	return r.Repository.ListUnlinkedProperties(ctx, f)
}

func TestBulkLink_ItemErrorsDoNotAbort(t *testing.T) {
	store := memory.New()
	seedBlair(t, store, 4)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := store.CreateProperty(ctx, auction.NewProperty{County: "Broken, PA", SaleTypeHint: ptr(auction.SaleTypeUpset)})
		require.NoError(t, err)
	}

	f := newFixture(t, &flakyRepo{Repository: store, badCounty: "Broken, PA"})
	summary, err := f.reconcile.BulkLink(ctx, Options{})
	require.NoError(t, err)

	assert.Equal(t, 9, summary.TotalProcessed)
	assert.Equal(t, 4, summary.Linked)
	assert.Equal(t, 5, summary.Unlinked)
	assert.Equal(t, 3, summary.Failed)
	require.Len(t, summary.Errors, 3)
	assert.Contains(t, summary.Errors[0].Error, "sales lookup timed out")
	assert.True(t, summary.Complete)
}

func TestBulkLink_PageErrorReturnsPartial(t *testing.T) {
	store := memory.New()
	seedBlair(t, store, 10)

	f := newFixture(t, &flakyRepo{Repository: store, failAfterID: 4}, WithPageSize(4))
	summary, err := f.reconcile.BulkLink(context.Background(), Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Equal(t, 4, summary.TotalProcessed)
	assert.False(t, summary.Complete)

	completed := f.recorder.OnChannel(events.ChannelReconcileCompleted)
	require.Len(t, completed, 1)
	assert.NotEmpty(t, completed[0].(events.ReconcileCompletedEvent).Error)
}

func TestAddItemError_Caps(t *testing.T) {
	s := &Summary{}
	for i := 0; i < MaxItemErrors+5; i++ {
		addItemError(s, int64(i), errors.New("boom"))
	}
	assert.Len(t, s.Errors, MaxItemErrors)
	assert.Equal(t, 5, s.ErrorsTruncated)
}

func TestProgress_Record(t *testing.T) {
	p := NewProgress("run", "Blair, PA")
	p.Start(3)
	p.Record(&linker.Result{PropertyID: 4, Outcome: linker.OutcomeLinked})
	p.Record(&linker.Result{PropertyID: 2, Outcome: linker.OutcomeNoMatch})
	p.Record(&linker.Result{PropertyID: 7, Outcome: linker.OutcomeAlreadyLinked, RaceLost: true})
	p.RecordFailed(9)

	snap := p.Snapshot()
	assert.Equal(t, 4, snap.Processed)
	assert.Equal(t, 1, snap.Linked)
	assert.Equal(t, 2, snap.Unlinked)
	assert.Equal(t, 4, snap.AlreadyLinked)
	assert.Equal(t, 1, snap.Failed)
	assert.Equal(t, int64(9), snap.Cursor)
	assert.Equal(t, StatusRunning, snap.Status)
}
