package auction

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestSelectSale_BlairJudicial(t *testing.T) {
	saleDate := time.Date(2026, 2, 19, 10, 0, 0, 0, time.UTC)
	sales := []Sale{
		{ID: 1, County: "Blair, PA", Type: SaleTypeUpset, Date: ptr(day(2026, 9, 10))},
		{ID: 2, County: "Blair, PA", Type: SaleTypeJudicial, Date: &saleDate},
		{ID: 3, County: "Wayne, PA", Type: SaleTypeJudicial, Date: &saleDate},
	}
	prop := Property{County: "Blair, PA", SaleTypeHint: ptr(SaleTypeJudicial), SaleDateHint: ptr(day(2026, 2, 19))}

	got := MatchPolicy{}.SelectSale(prop, sales)
	require.NotNil(t, got)
	assert.Equal(t, int64(2), got.ID)
}

func TestSelectSale_NoHintsNeverMatches(t *testing.T) {
	sales := []Sale{{ID: 1, County: "Blair, PA", Type: SaleTypeJudicial, Date: ptr(day(2026, 2, 19))}}
	prop := Property{County: "Blair, PA"}

	assert.Nil(t, MatchPolicy{}.SelectSale(prop, sales))
}

func TestSelectSale_NoCounty(t *testing.T) {
	sales := []Sale{{ID: 1, County: "", Type: SaleTypeJudicial}}
	prop := Property{SaleTypeHint: ptr(SaleTypeJudicial)}

	assert.Nil(t, MatchPolicy{}.SelectSale(prop, sales))
}

func TestSelectSale_TypeOnlyPicksEarliest(t *testing.T) {
	sales := []Sale{
		{ID: 1, County: "Wayne, PA", Type: SaleTypeUpset, Date: ptr(day(2026, 9, 10))},
		{ID: 2, County: "Wayne, PA", Type: SaleTypeUpset},
		{ID: 3, County: "Wayne, PA", Type: SaleTypeUpset, Date: ptr(day(2026, 4, 1))},
		{ID: 4, County: "Wayne, PA", Type: SaleTypeJudicial, Date: ptr(day(2026, 1, 1))},
	}
	prop := Property{County: "Wayne, PA", SaleTypeHint: ptr(SaleTypeUpset)}

	got := MatchPolicy{}.SelectSale(prop, sales)
	require.NotNil(t, got)
	assert.Equal(t, int64(3), got.ID)
}

func TestSelectSale_UndatedCandidatesTieBreakOnID(t *testing.T) {
	sales := []Sale{
		{ID: 9, County: "Wayne, PA", Type: SaleTypeRepository},
		{ID: 5, County: "Wayne, PA", Type: SaleTypeRepository},
	}
	prop := Property{County: "Wayne, PA", SaleTypeHint: ptr(SaleTypeRepository)}

	got := MatchPolicy{}.SelectSale(prop, sales)
	require.NotNil(t, got)
	assert.Equal(t, int64(5), got.ID)
}

func TestSelectSale_DateOnlyIgnoresTime(t *testing.T) {
	sales := []Sale{
		{ID: 1, County: "Blair, PA", Type: SaleTypeJudicial, Date: ptr(time.Date(2026, 2, 19, 23, 30, 0, 0, time.UTC))},
	}
	prop := Property{County: "Blair, PA", SaleDateHint: ptr(day(2026, 2, 19))}

	got := MatchPolicy{}.SelectSale(prop, sales)
	require.NotNil(t, got)
	assert.Equal(t, int64(1), got.ID)
}

func TestSelectSale_DateHintSkipsUndatedSales(t *testing.T) {
	sales := []Sale{{ID: 1, County: "Blair, PA", Type: SaleTypeJudicial}}
	prop := Property{County: "Blair, PA", SaleDateHint: ptr(day(2026, 2, 19))}

	assert.Nil(t, MatchPolicy{}.SelectSale(prop, sales))
}

func TestMatchPolicy_SameDayUsesLocation(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	// 2026-02-20 01:00 UTC is still the 19th in New York.
	saleDate := time.Date(2026, 2, 20, 1, 0, 0, 0, time.UTC)
	hint := day(2026, 2, 19)

	assert.False(t, MatchPolicy{}.SameDay(saleDate, hint))
	assert.True(t, MatchPolicy{Location: ny}.SameDay(saleDate, hint))
}
