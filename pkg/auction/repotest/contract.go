// Package repotest holds the behavioural contract every auction.Repository
// implementation must satisfy. Store packages call Run from their tests.
package repotest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otherjamesbrown/salelink/pkg/auction"
	slerrors "github.com/otherjamesbrown/salelink/pkg/errors"
)

// Factory returns an empty repository for one subtest.
type Factory func(t *testing.T) auction.Repository

// Now is the fixed clock used by the contract.
var Now = time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

// Day returns a calendar date hint.
func Day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Run executes the contract against repositories produced by newRepo.
func Run(t *testing.T, newRepo Factory) {
	t.Run("PropertyLifecycle", func(t *testing.T) { testPropertyLifecycle(t, newRepo(t)) })
	t.Run("LinkIsConditional", func(t *testing.T) { testLinkIsConditional(t, newRepo(t)) })
	t.Run("ConcurrentLinkSingleWinner", func(t *testing.T) { testConcurrentLink(t, newRepo(t)) })
	t.Run("OverrideRecomputes", func(t *testing.T) { testOverride(t, newRepo(t)) })
	t.Run("SaleUpdatePropagates", func(t *testing.T) { testSaleUpdate(t, newRepo(t)) })
	t.Run("SaleDeleteUnlinks", func(t *testing.T) { testSaleDelete(t, newRepo(t)) })
	t.Run("KeysetPaging", func(t *testing.T) { testKeysetPaging(t, newRepo(t)) })
	t.Run("RecomputeStatuses", func(t *testing.T) { testRecompute(t, newRepo(t)) })
	t.Run("StatusBreakdown", func(t *testing.T) { testBreakdown(t, newRepo(t)) })
	t.Run("QueueDedup", func(t *testing.T) { testQueueDedup(t, newRepo(t)) })
	t.Run("QueueAssign", func(t *testing.T) { testQueueAssign(t, newRepo(t)) })
	t.Run("QueueResolveFansOut", func(t *testing.T) { testQueueResolve(t, newRepo(t)) })
	t.Run("QueueResolveCountyWide", func(t *testing.T) { testQueueResolveCountyWide(t, newRepo(t)) })
	t.Run("QueueFail", func(t *testing.T) { testQueueFail(t, newRepo(t)) })
	t.Run("PendingOrder", func(t *testing.T) { testPendingOrder(t, newRepo(t)) })
}

func mustSale(t *testing.T, repo auction.Repository, ns auction.NewSale) *auction.Sale {
	t.Helper()
	s, err := repo.CreateSale(context.Background(), ns)
	require.NoError(t, err)
	return s
}

func mustProperty(t *testing.T, repo auction.Repository, np auction.NewProperty) *auction.Property {
	t.Helper()
	p, err := repo.CreateProperty(context.Background(), np)
	require.NoError(t, err)
	return p
}

func testPropertyLifecycle(t *testing.T, repo auction.Repository) {
	ctx := context.Background()

	p := mustProperty(t, repo, auction.NewProperty{
		County:       "Blair, PA",
		ParcelID:     "01.02-03",
		SaleTypeHint: ptr(auction.SaleTypeJudicial),
		SaleDateHint: ptr(Day(2026, 2, 19)),
	})
	assert.Equal(t, auction.StatusUnknown, p.Status)
	assert.Nil(t, p.LinkedSaleID)

	got, err := repo.GetProperty(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "01.02-03", got.ParcelID)
	require.NotNil(t, got.SaleTypeHint)
	assert.Equal(t, auction.SaleTypeJudicial, *got.SaleTypeHint)
	require.NotNil(t, got.SaleDateHint)
	assert.Equal(t, "2026-02-19", got.SaleDateHint.UTC().Format(auction.DateLayout))

	_, err = repo.GetProperty(ctx, p.ID+1000)
	assert.True(t, slerrors.IsNotFound(err))

	_, err = repo.GetSale(ctx, 4242)
	assert.True(t, slerrors.IsNotFound(err))
}

func testLinkIsConditional(t *testing.T, repo auction.Repository) {
	ctx := context.Background()
	first := mustSale(t, repo, auction.NewSale{County: "Blair, PA", Type: auction.SaleTypeJudicial, Date: ptr(Day(2026, 2, 19))})
	second := mustSale(t, repo, auction.NewSale{County: "Blair, PA", Type: auction.SaleTypeUpset, Date: ptr(Day(2026, 9, 10))})
	p := mustProperty(t, repo, auction.NewProperty{County: "Blair, PA", SaleTypeHint: ptr(auction.SaleTypeJudicial)})

	ok, err := repo.LinkProperty(ctx, p.ID, first.ID, Now)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.LinkProperty(ctx, p.ID, second.ID, Now)
	require.NoError(t, err)
	assert.False(t, ok, "second link must not overwrite")

	got, err := repo.GetProperty(ctx, p.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LinkedSaleID)
	assert.Equal(t, first.ID, *got.LinkedSaleID)
	assert.Equal(t, auction.StatusActive, got.Status)

	_, err = repo.LinkProperty(ctx, 9999, first.ID, Now)
	assert.True(t, slerrors.IsNotFound(err))

	other := mustProperty(t, repo, auction.NewProperty{County: "Blair, PA"})
	_, err = repo.LinkProperty(ctx, other.ID, 9999, Now)
	assert.True(t, slerrors.IsNotFound(err))
}

func testConcurrentLink(t *testing.T, repo auction.Repository) {
	ctx := context.Background()
	var saleIDs []int64
	for i := 0; i < 4; i++ {
		s := mustSale(t, repo, auction.NewSale{County: "Wayne, PA", Type: auction.SaleTypeUpset})
		saleIDs = append(saleIDs, s.ID)
	}
	p := mustProperty(t, repo, auction.NewProperty{County: "Wayne, PA", SaleTypeHint: ptr(auction.SaleTypeUpset)})

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for _, id := range saleIDs {
		wg.Add(1)
		go func(saleID int64) {
			defer wg.Done()
			ok, err := repo.LinkProperty(ctx, p.ID, saleID, Now)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(id)
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
}

func testOverride(t *testing.T, repo auction.Repository) {
	ctx := context.Background()
	sale := mustSale(t, repo, auction.NewSale{County: "Wayne, PA", Type: auction.SaleTypeRepository})
	p := mustProperty(t, repo, auction.NewProperty{County: "Wayne, PA", SaleTypeHint: ptr(auction.SaleTypeRepository)})
	_, err := repo.LinkProperty(ctx, p.ID, sale.ID, Now)
	require.NoError(t, err)

	got, err := repo.SetOverride(ctx, p.ID, ptr(auction.OverrideSold), Now)
	require.NoError(t, err)
	assert.Equal(t, auction.StatusSold, got.Status)

	got, err = repo.SetOverride(ctx, p.ID, nil, Now)
	require.NoError(t, err)
	assert.Equal(t, auction.StatusActive, got.Status)
	assert.Nil(t, got.Override)

	unlinked := mustProperty(t, repo, auction.NewProperty{County: "Wayne, PA"})
	got, err = repo.SetOverride(ctx, unlinked.ID, ptr(auction.OverrideWithdrawn), Now)
	require.NoError(t, err)
	assert.Equal(t, auction.StatusWithdrawn, got.Status)

	_, err = repo.SetOverride(ctx, 9999, nil, Now)
	assert.True(t, slerrors.IsNotFound(err))
}

func testSaleUpdate(t *testing.T, repo auction.Repository) {
	ctx := context.Background()
	sale := mustSale(t, repo, auction.NewSale{County: "Blair, PA", Type: auction.SaleTypeJudicial, Date: ptr(Now.Add(72 * time.Hour))})
	a := mustProperty(t, repo, auction.NewProperty{County: "Blair, PA", SaleTypeHint: ptr(auction.SaleTypeJudicial)})
	b := mustProperty(t, repo, auction.NewProperty{County: "Blair, PA", SaleTypeHint: ptr(auction.SaleTypeJudicial)})
	for _, p := range []*auction.Property{a, b} {
		_, err := repo.LinkProperty(ctx, p.ID, sale.ID, Now)
		require.NoError(t, err)
	}
	_, err := repo.SetOverride(ctx, b.ID, ptr(auction.OverrideSold), Now)
	require.NoError(t, err)

	updated, n, err := repo.UpdateSale(ctx, sale.ID, auction.SaleUpdate{Status: ptr(auction.SaleStatusCancelled)}, Now)
	require.NoError(t, err)
	assert.Equal(t, auction.SaleStatusCancelled, updated.Status)
	assert.Equal(t, 2, n)

	got, err := repo.GetProperty(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, auction.StatusWithdrawn, got.Status)

	got, err = repo.GetProperty(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, auction.StatusSold, got.Status, "override survives sale changes")

	_, _, err = repo.UpdateSale(ctx, 9999, auction.SaleUpdate{}, Now)
	assert.True(t, slerrors.IsNotFound(err))
}

func testSaleDelete(t *testing.T, repo auction.Repository) {
	ctx := context.Background()
	sale := mustSale(t, repo, auction.NewSale{County: "Blair, PA", Type: auction.SaleTypeUpset, Date: ptr(Now.Add(24 * time.Hour))})
	p := mustProperty(t, repo, auction.NewProperty{County: "Blair, PA", SaleTypeHint: ptr(auction.SaleTypeUpset)})
	_, err := repo.LinkProperty(ctx, p.ID, sale.ID, Now)
	require.NoError(t, err)

	n, err := repo.DeleteSale(ctx, sale.ID, Now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := repo.GetProperty(ctx, p.ID)
	require.NoError(t, err)
	assert.Nil(t, got.LinkedSaleID)
	assert.Equal(t, auction.StatusUnknown, got.Status)

	_, err = repo.GetSale(ctx, sale.ID)
	assert.True(t, slerrors.IsNotFound(err))

	_, err = repo.DeleteSale(ctx, sale.ID, Now)
	assert.True(t, slerrors.IsNotFound(err))
}

func testKeysetPaging(t *testing.T, repo auction.Repository) {
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		mustProperty(t, repo, auction.NewProperty{County: "Blair, PA"})
		mustProperty(t, repo, auction.NewProperty{County: "Wayne, PA"})
	}

	var seen []int64
	cursor := int64(0)
	for {
		page, err := repo.ListUnlinkedProperties(ctx, auction.PropertyFilter{County: "Blair, PA", AfterID: cursor, Limit: 2})
		require.NoError(t, err)
		if len(page) == 0 {
			break
		}
		for _, p := range page {
			assert.Equal(t, "Blair, PA", p.County)
			assert.Greater(t, p.ID, cursor)
			seen = append(seen, p.ID)
		}
		cursor = page[len(page)-1].ID
	}
	assert.Len(t, seen, 5)

	all, err := repo.ListUnlinkedProperties(ctx, auction.PropertyFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 10)

	n, err := repo.CountLinkedProperties(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func testRecompute(t *testing.T, repo auction.Repository) {
	ctx := context.Background()
	saleDate := time.Date(2026, 2, 19, 10, 0, 0, 0, time.UTC)
	judicial := mustSale(t, repo, auction.NewSale{County: "Wayne, PA", Type: auction.SaleTypeJudicial, Date: &saleDate})
	repository := mustSale(t, repo, auction.NewSale{County: "Wayne, PA", Type: auction.SaleTypeRepository, Date: &saleDate})

	a := mustProperty(t, repo, auction.NewProperty{County: "Wayne, PA", SaleTypeHint: ptr(auction.SaleTypeJudicial)})
	b := mustProperty(t, repo, auction.NewProperty{County: "Wayne, PA", SaleTypeHint: ptr(auction.SaleTypeRepository)})
	_, err := repo.LinkProperty(ctx, a.ID, judicial.ID, Now)
	require.NoError(t, err)
	_, err = repo.LinkProperty(ctx, b.ID, repository.ID, Now)
	require.NoError(t, err)

	later := saleDate.Add(24 * time.Hour)
	page, err := repo.RecomputeStatuses(ctx, auction.PropertyFilter{Limit: 100}, later)
	require.NoError(t, err)
	assert.Equal(t, 2, page.Scanned)
	require.Len(t, page.Changes, 1)
	assert.Equal(t, a.ID, page.Changes[0].PropertyID)
	assert.Equal(t, auction.StatusActive, page.Changes[0].From)
	assert.Equal(t, auction.StatusExpired, page.Changes[0].To)
	assert.Equal(t, b.ID, page.LastID)

	got, err := repo.GetProperty(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, auction.StatusActive, got.Status)

	page, err = repo.RecomputeStatuses(ctx, auction.PropertyFilter{Limit: 100}, later)
	require.NoError(t, err)
	assert.Empty(t, page.Changes)
}

func testBreakdown(t *testing.T, repo auction.Repository) {
	ctx := context.Background()
	sale := mustSale(t, repo, auction.NewSale{County: "Blair, PA", Type: auction.SaleTypeRepository})
	p := mustProperty(t, repo, auction.NewProperty{County: "Blair, PA", SaleTypeHint: ptr(auction.SaleTypeRepository)})
	mustProperty(t, repo, auction.NewProperty{County: "Blair, PA"})
	mustProperty(t, repo, auction.NewProperty{County: "Wayne, PA"})
	_, err := repo.LinkProperty(ctx, p.ID, sale.ID, Now)
	require.NoError(t, err)

	rows, err := repo.StatusBreakdown(ctx, "Blair, PA")
	require.NoError(t, err)
	counts := map[auction.Status]int64{}
	for _, r := range rows {
		assert.Equal(t, "Blair, PA", r.County)
		counts[r.Status] = r.Count
	}
	assert.Equal(t, int64(1), counts[auction.StatusActive])
	assert.Equal(t, int64(1), counts[auction.StatusUnknown])

	rows, err = repo.StatusBreakdown(ctx, "")
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}

func testQueueDedup(t *testing.T, repo auction.Repository) {
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		mustProperty(t, repo, auction.NewProperty{County: "Blair, PA", SaleTypeHint: ptr(auction.SaleTypeJudicial), SaleDateHint: ptr(Day(2026, 2, 19))})
	}
	mustProperty(t, repo, auction.NewProperty{County: "Blair, PA"})

	groups, err := repo.ListUnresolvedGroups(ctx)
	require.NoError(t, err)
	require.Len(t, groups, 2)

	created := 0
	for _, g := range groups {
		_, ok, err := repo.CreateQueueEntryIfAbsent(ctx, g)
		require.NoError(t, err)
		if ok {
			created++
		}
	}
	assert.Equal(t, 2, created)

	for _, g := range groups {
		_, ok, err := repo.CreateQueueEntryIfAbsent(ctx, g)
		require.NoError(t, err)
		assert.False(t, ok, "active entry already exists for %s", g.Key)
	}

	entries, err := repo.ListQueueEntries(ctx, auction.QueueFilter{})
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func testQueueAssign(t *testing.T, repo auction.Repository) {
	ctx := context.Background()
	mustProperty(t, repo, auction.NewProperty{County: "Wayne, PA", SaleTypeHint: ptr(auction.SaleTypeUpset)})
	groups, err := repo.ListUnresolvedGroups(ctx)
	require.NoError(t, err)
	entry, _, err := repo.CreateQueueEntryIfAbsent(ctx, groups[0])
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for _, agent := range []string{"agent-a", "agent-b", "agent-c"} {
		wg.Add(1)
		go func(agent string) {
			defer wg.Done()
			ok, err := repo.AssignQueueEntry(ctx, entry.ID, agent, Now)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(agent)
	}
	wg.Wait()
	assert.Equal(t, 1, wins)

	got, err := repo.GetQueueEntry(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, auction.QueueStatusResearching, got.Status)
	assert.NotEmpty(t, got.AssignedAgent)
	assert.NotNil(t, got.AssignedAt)

	_, err = repo.AssignQueueEntry(ctx, 9999, "agent", Now)
	assert.True(t, slerrors.IsNotFound(err))
}

func testQueueResolve(t *testing.T, repo auction.Repository) {
	ctx := context.Background()
	hint := ptr(Day(2026, 2, 19))
	var members []*auction.Property
	for i := 0; i < 3; i++ {
		members = append(members, mustProperty(t, repo, auction.NewProperty{County: "Blair, PA", SaleTypeHint: ptr(auction.SaleTypeJudicial), SaleDateHint: hint}))
	}
	outsider := mustProperty(t, repo, auction.NewProperty{County: "Blair, PA", SaleTypeHint: ptr(auction.SaleTypeUpset), SaleDateHint: hint})

	groups, err := repo.ListUnresolvedGroups(ctx)
	require.NoError(t, err)
	var entry *auction.QueueEntry
	for _, g := range groups {
		e, _, err := repo.CreateQueueEntryIfAbsent(ctx, g)
		require.NoError(t, err)
		if g.Key.SaleType != nil && *g.Key.SaleType == auction.SaleTypeJudicial {
			entry = e
			assert.Equal(t, 3, g.PropertyCount)
		}
	}
	require.NotNil(t, entry)

	saleDate := time.Date(2026, 2, 19, 10, 0, 0, 0, time.UTC)
	sale := mustSale(t, repo, auction.NewSale{County: "Blair, PA", Type: auction.SaleTypeJudicial, Date: &saleDate})

	res, err := repo.ResolveQueueEntry(ctx, entry.ID, sale.ID, "found on county site", Now)
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Equal(t, 3, res.LinkedCount)
	assert.Equal(t, auction.QueueStatusPending, res.PreviousState)
	assert.Equal(t, auction.QueueStatusResolved, res.Entry.Status)
	require.NotNil(t, res.Entry.ResolvedSaleID)
	assert.Equal(t, sale.ID, *res.Entry.ResolvedSaleID)
	assert.Equal(t, "found on county site", res.Entry.ResolutionNotes)
	assert.Empty(t, res.Absorbed, "a fully keyed group contains no other group")

	for _, m := range members {
		got, err := repo.GetProperty(ctx, m.ID)
		require.NoError(t, err)
		require.NotNil(t, got.LinkedSaleID)
		assert.Equal(t, sale.ID, *got.LinkedSaleID)
		assert.Equal(t, auction.StatusActive, got.Status)
	}
	got, err := repo.GetProperty(ctx, outsider.ID)
	require.NoError(t, err)
	assert.Nil(t, got.LinkedSaleID)

	again, err := repo.ResolveQueueEntry(ctx, entry.ID, sale.ID, "", Now)
	require.NoError(t, err)
	assert.False(t, again.Applied)
	assert.Equal(t, 0, again.LinkedCount)
	assert.Equal(t, auction.QueueStatusResolved, again.PreviousState)

	_, err = repo.ResolveQueueEntry(ctx, entry.ID, 9999, "", Now)
	assert.True(t, slerrors.IsNotFound(err))
	_, err = repo.ResolveQueueEntry(ctx, 9999, sale.ID, "", Now)
	assert.True(t, slerrors.IsNotFound(err))

	// A new active entry may be created once the previous one is terminal.
	_, ok, err := repo.CreateQueueEntryIfAbsent(ctx, auction.UnresolvedGroup{Key: entry.Key, PropertyCount: 1})
	require.NoError(t, err)
	assert.True(t, ok)
}

func testQueueResolveCountyWide(t *testing.T, repo auction.Repository) {
	ctx := context.Background()
	noHints := mustProperty(t, repo, auction.NewProperty{County: "Blair, PA"})
	hinted := mustProperty(t, repo, auction.NewProperty{County: "Blair, PA", SaleTypeHint: ptr(auction.SaleTypeJudicial), SaleDateHint: ptr(Day(2026, 2, 19))})
	typed := mustProperty(t, repo, auction.NewProperty{County: "Blair, PA", SaleTypeHint: ptr(auction.SaleTypeUpset)})
	wayne := mustProperty(t, repo, auction.NewProperty{County: "Wayne, PA"})

	groups, err := repo.ListUnresolvedGroups(ctx)
	require.NoError(t, err)
	require.Len(t, groups, 4)
	byKey := map[string]*auction.QueueEntry{}
	for _, g := range groups {
		e, ok, err := repo.CreateQueueEntryIfAbsent(ctx, g)
		require.NoError(t, err)
		require.True(t, ok)
		byKey[g.Key.String()] = e
	}
	countyEntry := byKey[auction.KeyOf(*noHints).String()]
	hintedEntry := byKey[auction.KeyOf(*hinted).String()]
	typedEntry := byKey[auction.KeyOf(*typed).String()]
	wayneEntry := byKey[auction.KeyOf(*wayne).String()]
	require.NotNil(t, countyEntry)

	ok, err := repo.AssignQueueEntry(ctx, typedEntry.ID, "agent-b", Now)
	require.NoError(t, err)
	require.True(t, ok)

	sale := mustSale(t, repo, auction.NewSale{County: "Blair, PA", Type: auction.SaleTypeRepository})
	res, err := repo.ResolveQueueEntry(ctx, countyEntry.ID, sale.ID, "", Now)
	require.NoError(t, err)
	require.True(t, res.Applied)

	// A missing key component matches any hint.
	assert.Equal(t, 3, res.LinkedCount)
	for _, p := range []*auction.Property{noHints, hinted, typed} {
		got, err := repo.GetProperty(ctx, p.ID)
		require.NoError(t, err)
		require.NotNil(t, got.LinkedSaleID)
		assert.Equal(t, sale.ID, *got.LinkedSaleID)
	}
	got, err := repo.GetProperty(ctx, wayne.ID)
	require.NoError(t, err)
	assert.Nil(t, got.LinkedSaleID)

	assert.Equal(t, []int64{min(hintedEntry.ID, typedEntry.ID), max(hintedEntry.ID, typedEntry.ID)}, res.Absorbed)
	for _, id := range []int64{hintedEntry.ID, typedEntry.ID} {
		e, err := repo.GetQueueEntry(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, auction.QueueStatusResolved, e.Status)
		require.NotNil(t, e.ResolvedSaleID)
		assert.Equal(t, sale.ID, *e.ResolvedSaleID)
		assert.Equal(t, auction.AbsorbedNote(countyEntry.ID), e.ResolutionNotes)
	}
	e, err := repo.GetQueueEntry(ctx, wayneEntry.ID)
	require.NoError(t, err)
	assert.Equal(t, auction.QueueStatusPending, e.Status)

	pending, err := repo.ListPendingQueueEntries(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, wayneEntry.ID, pending[0].ID)
}

func testQueueFail(t *testing.T, repo auction.Repository) {
	ctx := context.Background()
	mustProperty(t, repo, auction.NewProperty{County: "Wayne, PA"})
	groups, err := repo.ListUnresolvedGroups(ctx)
	require.NoError(t, err)
	entry, _, err := repo.CreateQueueEntryIfAbsent(ctx, groups[0])
	require.NoError(t, err)

	ok, err := repo.AssignQueueEntry(ctx, entry.ID, "agent-a", Now)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = repo.FailQueueEntry(ctx, entry.ID, "no sale announced", Now)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := repo.GetQueueEntry(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, auction.QueueStatusFailed, got.Status)
	assert.Equal(t, "no sale announced", got.ResolutionNotes)

	ok, err = repo.FailQueueEntry(ctx, entry.ID, "again", Now)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = repo.AssignQueueEntry(ctx, entry.ID, "agent-b", Now)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = repo.FailQueueEntry(ctx, 9999, "", Now)
	assert.True(t, slerrors.IsNotFound(err))
}

func testPendingOrder(t *testing.T, repo auction.Repository) {
	ctx := context.Background()
	small, _, err := repo.CreateQueueEntryIfAbsent(ctx, auction.UnresolvedGroup{Key: auction.GroupKey{County: "A"}, PropertyCount: 5})
	require.NoError(t, err)
	big, _, err := repo.CreateQueueEntryIfAbsent(ctx, auction.UnresolvedGroup{Key: auction.GroupKey{County: "B"}, PropertyCount: 150})
	require.NoError(t, err)
	mid, _, err := repo.CreateQueueEntryIfAbsent(ctx, auction.UnresolvedGroup{Key: auction.GroupKey{County: "C"}, PropertyCount: 30})
	require.NoError(t, err)
	taken, _, err := repo.CreateQueueEntryIfAbsent(ctx, auction.UnresolvedGroup{Key: auction.GroupKey{County: "D"}, PropertyCount: 500})
	require.NoError(t, err)
	_, err = repo.AssignQueueEntry(ctx, taken.ID, "agent", Now)
	require.NoError(t, err)

	pending, err := repo.ListPendingQueueEntries(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	assert.Equal(t, []int64{big.ID, mid.ID, small.ID}, []int64{pending[0].ID, pending[1].ID, pending[2].ID})

	pending, err = repo.ListPendingQueueEntries(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	status := auction.QueueStatusResearching
	researching, err := repo.ListQueueEntries(ctx, auction.QueueFilter{Status: &status})
	require.NoError(t, err)
	require.Len(t, researching, 1)
	assert.Equal(t, taken.ID, researching[0].ID)
}
