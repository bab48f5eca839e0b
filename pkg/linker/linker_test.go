package linker

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
	"github.com/otherjamesbrown/salelink/pkg/logging"
	"github.com/otherjamesbrown/salelink/pkg/observability"
)

var now = time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func newLinker(repo auction.Repository, opts ...Option) *Linker {
	opts = append([]Option{WithClock(func() time.Time { return now })}, opts...)
	return New(repo, logging.NewNopLogger(), opts...)
}

func seedBlair(t *testing.T, store *memory.Store) (judicial, upset *auction.Sale) {
	t.Helper()
	ctx := context.Background()
	var err error
	judicial, err = store.CreateSale(ctx, auction.NewSale{County: "Blair, PA", Type: auction.SaleTypeJudicial, Date: ptr(day(2026, 2, 19))})
	require.NoError(t, err)
	upset, err = store.CreateSale(ctx, auction.NewSale{County: "Blair, PA", Type: auction.SaleTypeUpset, Date: ptr(day(2026, 2, 19))})
	require.NoError(t, err)
	_, err = store.CreateSale(ctx, auction.NewSale{County: "Wayne, PA", Type: auction.SaleTypeJudicial, Date: ptr(day(2026, 2, 19))})
	require.NoError(t, err)
	return judicial, upset
}

func TestLink_BlairJudicial(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	judicial, _ := seedBlair(t, store)

	prop, err := store.CreateProperty(ctx, auction.NewProperty{
		County:       "Blair, PA",
		SaleTypeHint: ptr(auction.SaleTypeJudicial),
		SaleDateHint: ptr(day(2026, 2, 19)),
	})
	require.NoError(t, err)

	res, err := newLinker(store).Link(ctx, prop.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeLinked, res.Outcome)
	require.NotNil(t, res.SaleID)
	assert.Equal(t, judicial.ID, *res.SaleID)
	assert.Equal(t, auction.StatusActive, res.Status)

	stored, err := store.GetProperty(ctx, prop.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.LinkedSaleID)
	assert.Equal(t, judicial.ID, *stored.LinkedSaleID)
	assert.Equal(t, auction.StatusActive, stored.Status)
}

func TestLink_StatusMatchesStoredAcrossSaleDate(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seedBlair(t, store)
	prop, err := store.CreateProperty(ctx, auction.NewProperty{
		County:       "Blair, PA",
		SaleTypeHint: ptr(auction.SaleTypeJudicial),
		SaleDateHint: ptr(day(2026, 2, 19)),
	})
	require.NoError(t, err)

	// The first reading is before the sale, any later one after it.
	calls := 0
	clock := func() time.Time {
		calls++
		if calls == 1 {
			return day(2026, 2, 18)
		}
		return day(2026, 3, 1)
	}

	res, err := New(store, logging.NewNopLogger(), WithClock(clock)).Link(ctx, prop.ID)
	require.NoError(t, err)
	stored, err := store.GetProperty(ctx, prop.ID)
	require.NoError(t, err)
	assert.Equal(t, auction.StatusActive, stored.Status)
	assert.Equal(t, stored.Status, res.Status)
	assert.Equal(t, 1, calls)
}

func TestLink_TypeOnlyHint(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	_, upset := seedBlair(t, store)

	prop, err := store.CreateProperty(ctx, auction.NewProperty{County: "Blair, PA", SaleTypeHint: ptr(auction.SaleTypeUpset)})
	require.NoError(t, err)

	res, err := newLinker(store).Link(ctx, prop.ID)
	require.NoError(t, err)
	require.True(t, res.Linked())
	assert.Equal(t, upset.ID, *res.SaleID)
}

func TestLink_NoHintsNeverLinks(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seedBlair(t, store)

	prop, err := store.CreateProperty(ctx, auction.NewProperty{County: "Blair, PA"})
	require.NoError(t, err)

	res, err := newLinker(store).Link(ctx, prop.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoMatch, res.Outcome)
	assert.Equal(t, ReasonNoHints, res.Reason)
	assert.Nil(t, res.SaleID)

	stored, err := store.GetProperty(ctx, prop.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.LinkedSaleID)
	assert.Equal(t, auction.StatusUnknown, stored.Status)
}

func TestLink_NoCandidate(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seedBlair(t, store)

	prop, err := store.CreateProperty(ctx, auction.NewProperty{
		County:       "Blair, PA",
		SaleTypeHint: ptr(auction.SaleTypeRepository),
	})
	require.NoError(t, err)

	res, err := newLinker(store).Link(ctx, prop.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoMatch, res.Outcome)
	assert.Equal(t, ReasonNoCandidate, res.Reason)
}

func TestLink_MissingProperty(t *testing.T) {
	_, err := newLinker(memory.New()).Link(context.Background(), 404)
	require.Error(t, err)
	assert.True(t, slerrors.IsNotFound(err))
}

func TestLinkLoaded_NoCountySkipsSales(t *testing.T) {
	repo := &auctiontest.MockRepository{}

	res, err := newLinker(repo).LinkLoaded(context.Background(), auction.Property{ID: 1, SaleTypeHint: ptr(auction.SaleTypeUpset)}, nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoMatch, res.Outcome)
	assert.Equal(t, ReasonNoCounty, res.Reason)
	repo.AssertNotCalled(t, "ListSalesByCounty", mock.Anything, mock.Anything)
}

func TestLink_AlreadyLinkedSkipsEvaluation(t *testing.T) {
	repo := &auctiontest.MockRepository{}
	repo.On("GetProperty", mock.Anything, int64(5)).Return(&auction.Property{
		ID:           5,
		County:       "Blair, PA",
		SaleTypeHint: ptr(auction.SaleTypeJudicial),
		LinkedSaleID: ptr(int64(9)),
		Status:       auction.StatusExpired,
	}, nil)

	res, err := newLinker(repo).Link(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyLinked, res.Outcome)
	assert.Equal(t, int64(9), *res.SaleID)
	assert.Equal(t, auction.StatusExpired, res.Status)
	assert.False(t, res.RaceLost)
	repo.AssertNotCalled(t, "ListSalesByCounty", mock.Anything, mock.Anything)
	repo.AssertNotCalled(t, "LinkProperty", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestLink_RaceLostReturnsWinner(t *testing.T) {
	repo := &auctiontest.MockRepository{}
	unlinked := &auction.Property{ID: 5, County: "Blair, PA", SaleTypeHint: ptr(auction.SaleTypeJudicial)}
	winner := &auction.Property{ID: 5, County: "Blair, PA", LinkedSaleID: ptr(int64(2)), Status: auction.StatusActive}

	repo.On("GetProperty", mock.Anything, int64(5)).Return(unlinked, nil).Once()
	repo.On("GetProperty", mock.Anything, int64(5)).Return(winner, nil).Once()
	repo.On("ListSalesByCounty", mock.Anything, "Blair, PA").Return([]auction.Sale{
		{ID: 1, County: "Blair, PA", Type: auction.SaleTypeJudicial, Date: ptr(day(2026, 3, 1))},
	}, nil)
	repo.On("LinkProperty", mock.Anything, int64(5), int64(1), now).Return(false, nil)

	res, err := newLinker(repo).Link(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyLinked, res.Outcome)
	assert.True(t, res.RaceLost)
	assert.Equal(t, int64(2), *res.SaleID)
	repo.AssertExpectations(t)
}

func TestLink_RepositoryError(t *testing.T) {
	repo := &auctiontest.MockRepository{}
	repo.On("GetProperty", mock.Anything, int64(5)).Return(&auction.Property{ID: 5, County: "Blair, PA", SaleTypeHint: ptr(auction.SaleTypeJudicial)}, nil)
	repo.On("ListSalesByCounty", mock.Anything, "Blair, PA").Return(nil, errors.New("connection reset"))

	_, err := newLinker(repo).Link(context.Background(), 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestLink_ConcurrentSingleWinner(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	judicial, _ := seedBlair(t, store)
	prop, err := store.CreateProperty(ctx, auction.NewProperty{County: "Blair, PA", SaleTypeHint: ptr(auction.SaleTypeJudicial)})
	require.NoError(t, err)

	l := newLinker(store)
	results := make([]*Result, 8)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := l.Link(ctx, prop.ID)
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	linked := 0
	for _, r := range results {
		require.NotNil(t, r)
		require.True(t, r.Linked())
		assert.Equal(t, judicial.ID, *r.SaleID)
		if r.Outcome == OutcomeLinked {
			linked++
		}
	}
	assert.Equal(t, 1, linked)
}

func TestLink_RecordsMetrics(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seedBlair(t, store)
	prop, err := store.CreateProperty(ctx, auction.NewProperty{County: "Blair, PA"})
	require.NoError(t, err)

	m := observability.NewMetrics(prometheus.NewRegistry())
	_, err = newLinker(store, WithMetrics(m), WithTracer(observability.NewTracer())).Link(ctx, prop.ID)
	require.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LinkAttemptsTotal.WithLabelValues(string(OutcomeNoMatch))))
}

func TestSaleCache(t *testing.T) {
	repo := &auctiontest.MockRepository{}
	repo.On("ListSalesByCounty", mock.Anything, "Blair, PA").Return([]auction.Sale{{ID: 1}}, nil).Once()

	cache := NewSaleCache(repo)
	for i := 0; i < 3; i++ {
		sales, err := cache.Sales(context.Background(), "Blair, PA")
		require.NoError(t, err)
		assert.Len(t, sales, 1)
	}
	repo.AssertExpectations(t)

	cache.Reset()
	repo.On("ListSalesByCounty", mock.Anything, "Blair, PA").Return([]auction.Sale{}, nil).Once()
	sales, err := cache.Sales(context.Background(), "Blair, PA")
	require.NoError(t, err)
	assert.Empty(t, sales)
}
