package research

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/otherjamesbrown/salelink/pkg/auction"
	"github.com/otherjamesbrown/salelink/pkg/auction/auctiontest"
	"github.com/otherjamesbrown/salelink/pkg/auction/memory"
	slerrors "github.com/otherjamesbrown/salelink/pkg/errors"
	"github.com/otherjamesbrown/salelink/pkg/events"
	"github.com/otherjamesbrown/salelink/pkg/logging"
	"github.com/otherjamesbrown/salelink/pkg/observability"
)

var now = time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

type fixture struct {
	store    *memory.Store
	recorder *events.Recorder
	metrics  *observability.Metrics
	manager  *Manager
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		store:    memory.New().WithClock(func() time.Time { return now }),
		recorder: &events.Recorder{},
		metrics:  observability.NewMetrics(prometheus.NewRegistry()),
	}
	opts = append([]Option{
		WithPublisher(f.recorder),
		WithMetrics(f.metrics),
		WithClock(func() time.Time { return now }),
	}, opts...)
	f.manager = NewManager(f.store, logging.NewNopLogger(), opts...)
	return f
}

func (f *fixture) properties(t *testing.T, n int, np auction.NewProperty) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := f.store.CreateProperty(context.Background(), np)
		require.NoError(t, err)
	}
}

var blairJudicial = auction.NewProperty{
	County:       "Blair, PA",
	SaleTypeHint: ptr(auction.SaleTypeJudicial),
	SaleDateHint: ptr(day(2026, 2, 19)),
}

func TestQueueUnlinked_Dedup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.properties(t, 3, blairJudicial)
	f.properties(t, 2, auction.NewProperty{County: "Wayne, PA", SaleTypeHint: ptr(auction.SaleTypeUpset)})

	first, err := f.manager.QueueUnlinked(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, first.GroupsFound)
	assert.Equal(t, 2, first.Queued)
	assert.Equal(t, 0, first.AlreadyQueued)

	second, err := f.manager.QueueUnlinked(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Queued)
	assert.Equal(t, 2, second.AlreadyQueued)

	entries, err := f.manager.Entries(ctx, auction.QueueFilter{})
	require.NoError(t, err)
	assert.Len(t, entries, 2)
	assert.Len(t, f.recorder.OnChannel(events.ChannelResearchQueued), 2)
}

func TestQueueUnlinked_ToleratesMissingExistingEntry(t *testing.T) {
	repo := &auctiontest.MockRepository{}
	group := auction.UnresolvedGroup{Key: auction.GroupKey{County: "Blair, PA"}, PropertyCount: 4}
	repo.On("ListUnresolvedGroups", mock.Anything).Return([]auction.UnresolvedGroup{group}, nil)
	repo.On("CreateQueueEntryIfAbsent", mock.Anything, group).Return(nil, false, nil)

	summary, err := NewManager(repo, logging.NewNopLogger()).QueueUnlinked(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.AlreadyQueued)
	assert.Empty(t, summary.Entries)
	repo.AssertExpectations(t)
}

func TestQueueUnlinked_StoreError(t *testing.T) {
	repo := &auctiontest.MockRepository{}
	repo.On("ListUnresolvedGroups", mock.Anything).Return(nil, errors.New("db down"))

	_, err := NewManager(repo, logging.NewNopLogger()).QueueUnlinked(context.Background())
	assert.Error(t, err)
}

func queueOne(t *testing.T, f *fixture) auction.QueueEntry {
	t.Helper()
	summary, err := f.manager.QueueUnlinked(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, summary.Entries)
	return summary.Entries[0]
}

func TestAssign(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.properties(t, 2, blairJudicial)
	entry := queueOne(t, f)

	_, err := f.manager.Assign(ctx, entry.ID, "  ")
	require.Error(t, err)
	assert.True(t, slerrors.IsValidation(err))

	_, err = f.manager.Assign(ctx, 999, "monitor")
	require.Error(t, err)
	assert.True(t, slerrors.IsNotFound(err))

	res, err := f.manager.Assign(ctx, entry.ID, "monitor")
	require.NoError(t, err)
	assert.True(t, res.Assigned)
	assert.Equal(t, auction.QueueStatusResearching, res.Entry.Status)
	assert.Equal(t, "monitor", res.Entry.AssignedAgent)

	again, err := f.manager.Assign(ctx, entry.ID, "other")
	require.NoError(t, err)
	assert.False(t, again.Assigned)
	assert.Contains(t, again.Notice, "researching")
	assert.Contains(t, again.Notice, "monitor")
}

func TestAssign_ConcurrentExactlyOneWins(t *testing.T) {
	f := newFixture(t)
	f.properties(t, 1, blairJudicial)
	entry := queueOne(t, f)

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.manager.Assign(context.Background(), entry.ID, "agent")
			assert.NoError(t, err)
			if res != nil && res.Assigned {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ResearchTransitionsTotal.WithLabelValues("assigned")))
}

func TestResolve_FansOutToGroup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.properties(t, 5, blairJudicial)
	f.properties(t, 2, auction.NewProperty{County: "Blair, PA", SaleTypeHint: ptr(auction.SaleTypeUpset)})
	sale, err := f.store.CreateSale(ctx, auction.NewSale{County: "Blair, PA", Type: auction.SaleTypeJudicial, Date: ptr(day(2026, 2, 19))})
	require.NoError(t, err)

	summary, err := f.manager.QueueUnlinked(ctx)
	require.NoError(t, err)
	var entry auction.QueueEntry
	for _, e := range summary.Entries {
		if e.PropertyCount == 5 {
			entry = e
		}
	}
	require.NotZero(t, entry.ID)

	_, err = f.manager.Assign(ctx, entry.ID, "monitor")
	require.NoError(t, err)

	res, err := f.manager.Resolve(ctx, entry.ID, sale.ID, "county sheriff listing")
	require.NoError(t, err)
	assert.True(t, res.Resolved)
	assert.Equal(t, 5, res.LinkedCount)
	assert.Equal(t, auction.QueueStatusResolved, res.Entry.Status)
	assert.Equal(t, "county sheriff listing", res.Entry.ResolutionNotes)

	breakdown, err := f.store.StatusBreakdown(ctx, "Blair, PA")
	require.NoError(t, err)
	counts := map[auction.Status]int64{}
	for _, c := range breakdown {
		counts[c.Status] += c.Count
	}
	assert.Equal(t, int64(5), counts[auction.StatusActive])
	assert.Equal(t, int64(2), counts[auction.StatusUnknown])

	resolved := f.recorder.OnChannel(events.ChannelResearchResolved)
	require.Len(t, resolved, 1)
	assert.Equal(t, 5, resolved[0].(events.ResearchEntryEvent).LinkedCount)

	// A terminal entry is a notice, not an error.
	again, err := f.manager.Resolve(ctx, entry.ID, sale.ID, "")
	require.NoError(t, err)
	assert.False(t, again.Resolved)
	assert.Contains(t, again.Notice, "already resolved")
}

func TestResolve_CountyWideClosesEmptiedEntries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.properties(t, 1, auction.NewProperty{County: "Blair, PA"})
	f.properties(t, 3, blairJudicial)
	f.properties(t, 1, auction.NewProperty{County: "Wayne, PA"})
	sale, err := f.store.CreateSale(ctx, auction.NewSale{County: "Blair, PA", Type: auction.SaleTypeRepository})
	require.NoError(t, err)

	summary, err := f.manager.QueueUnlinked(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, summary.Queued)
	var countyWide, judicial auction.QueueEntry
	for _, e := range summary.Entries {
		switch {
		case e.Key.County == "Blair, PA" && e.Key.SaleType == nil:
			countyWide = e
		case e.Key.County == "Blair, PA":
			judicial = e
		}
	}
	require.NotZero(t, countyWide.ID)
	require.NotZero(t, judicial.ID)

	res, err := f.manager.Resolve(ctx, countyWide.ID, sale.ID, "repository list")
	require.NoError(t, err)
	assert.True(t, res.Resolved)
	assert.Equal(t, 4, res.LinkedCount)
	assert.Equal(t, []int64{judicial.ID}, res.Absorbed)

	got, err := f.manager.Entry(ctx, judicial.ID)
	require.NoError(t, err)
	assert.Equal(t, auction.QueueStatusResolved, got.Status)
	assert.Equal(t, auction.AbsorbedNote(countyWide.ID), got.ResolutionNotes)

	work, err := f.manager.WorkQueue(ctx, 10)
	require.NoError(t, err)
	require.Len(t, work, 1)
	assert.Equal(t, "Wayne, PA", work[0].Entry.Key.County)

	assert.Len(t, f.recorder.OnChannel(events.ChannelResearchResolved), 2)
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.ResearchTransitionsTotal.WithLabelValues("resolved")))
}

func TestResolve_MissingSale(t *testing.T) {
	f := newFixture(t)
	f.properties(t, 1, blairJudicial)
	entry := queueOne(t, f)

	_, err := f.manager.Resolve(context.Background(), entry.ID, 404, "")
	require.Error(t, err)
	assert.True(t, slerrors.IsNotFound(err))
}

func TestFail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.properties(t, 1, blairJudicial)
	entry := queueOne(t, f)

	res, err := f.manager.Fail(ctx, entry.ID, "no listing published")
	require.NoError(t, err)
	assert.True(t, res.Failed)
	assert.Equal(t, auction.QueueStatusFailed, res.Entry.Status)
	assert.Equal(t, "no listing published", res.Entry.ResolutionNotes)

	again, err := f.manager.Fail(ctx, entry.ID, "again")
	require.NoError(t, err)
	assert.False(t, again.Failed)
	assert.NotEmpty(t, again.Notice)

	kept, err := f.manager.Entry(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, auction.QueueStatusFailed, kept.Status)

	// The group can be queued again once its entry is terminal.
	summary, err := f.manager.QueueUnlinked(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Queued)
}

func TestWorkQueue_PriorityAndOrder(t *testing.T) {
	f := newFixture(t, WithPriorityPolicy(auction.PriorityPolicy{HighThreshold: 4, MediumThreshold: 2}))
	ctx := context.Background()
	f.properties(t, 1, auction.NewProperty{County: "Wayne, PA", SaleTypeHint: ptr(auction.SaleTypeUpset)})
	f.properties(t, 5, blairJudicial)
	f.properties(t, 2, auction.NewProperty{County: "Blair, PA", SaleTypeHint: ptr(auction.SaleTypeUpset)})
	_, err := f.manager.QueueUnlinked(ctx)
	require.NoError(t, err)

	items, err := f.manager.WorkQueue(ctx, 0)
	require.NoError(t, err)
	require.Len(t, items, 3)

	assert.Equal(t, 5, items[0].Entry.PropertyCount)
	assert.Equal(t, auction.PriorityHigh, items[0].Priority)
	assert.Equal(t, "Find Judicial sale on 2026-02-19 in Blair, PA (5 properties)", items[0].Description)
	assert.Equal(t, auction.PriorityMedium, items[1].Priority)
	assert.Equal(t, auction.PriorityLow, items[2].Priority)
	assert.Equal(t, "Find Upset sale in Wayne, PA (1 property)", items[2].Description)

	limited, err := f.manager.WorkQueue(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ResearchQueueDepth.WithLabelValues("HIGH")))
}
