package auction

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPriorityPolicy_Tier(t *testing.T) {
	p := DefaultPriorityPolicy()

	tests := []struct {
		count int
		want  Priority
	}{
		{1, PriorityLow},
		{24, PriorityLow},
		{25, PriorityMedium},
		{99, PriorityMedium},
		{100, PriorityHigh},
		{5000, PriorityHigh},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.Tier(tt.count), "count=%d", tt.count)
	}
}

func TestPriorityPolicy_Validate(t *testing.T) {
	assert.NoError(t, DefaultPriorityPolicy().Validate())
	assert.Error(t, PriorityPolicy{HighThreshold: 10, MediumThreshold: 20}.Validate())
	assert.Error(t, PriorityPolicy{HighThreshold: 10, MediumThreshold: 0}.Validate())
}

func TestGroupKey_String(t *testing.T) {
	k := GroupKey{County: "Blair, PA", SaleDate: ptr(day(2026, 2, 19)), SaleType: ptr(SaleTypeJudicial)}
	assert.Equal(t, "Blair, PA|2026-02-19|judicial", k.String())
	assert.Equal(t, "Blair, PA||", GroupKey{County: "Blair, PA"}.String())
}

func TestGroupKey_Covers(t *testing.T) {
	full := GroupKey{County: "Blair, PA", SaleDate: ptr(day(2026, 2, 19)), SaleType: ptr(SaleTypeJudicial)}
	countyOnly := GroupKey{County: "Blair, PA"}

	match := Property{County: "Blair, PA", SaleDateHint: ptr(day(2026, 2, 19)), SaleTypeHint: ptr(SaleTypeJudicial)}
	otherType := Property{County: "Blair, PA", SaleDateHint: ptr(day(2026, 2, 19)), SaleTypeHint: ptr(SaleTypeUpset)}
	noHints := Property{County: "Blair, PA"}
	otherCounty := Property{County: "Wayne, PA"}

	assert.True(t, full.Covers(match))
	assert.False(t, full.Covers(otherType))
	assert.False(t, full.Covers(noHints))
	assert.True(t, countyOnly.Covers(match))
	assert.True(t, countyOnly.Covers(noHints))
	assert.False(t, countyOnly.Covers(otherCounty))
}

func TestGroupKey_Contains(t *testing.T) {
	full := GroupKey{County: "Blair, PA", SaleDate: ptr(day(2026, 2, 19)), SaleType: ptr(SaleTypeJudicial)}
	typeOnly := GroupKey{County: "Blair, PA", SaleType: ptr(SaleTypeJudicial)}
	countyOnly := GroupKey{County: "Blair, PA"}

	assert.True(t, countyOnly.Contains(full))
	assert.True(t, countyOnly.Contains(typeOnly))
	assert.True(t, typeOnly.Contains(full))
	assert.False(t, full.Contains(typeOnly))
	assert.False(t, typeOnly.Contains(countyOnly))
	assert.False(t, countyOnly.Contains(GroupKey{County: "Wayne, PA"}))
	assert.False(t, typeOnly.Contains(GroupKey{County: "Blair, PA", SaleType: ptr(SaleTypeUpset)}))
}

func TestDescribe(t *testing.T) {
	e := QueueEntry{
		Key:           GroupKey{County: "Blair, PA", SaleDate: ptr(day(2026, 2, 19)), SaleType: ptr(SaleTypeJudicial)},
		PropertyCount: 1234,
	}
	assert.Equal(t, "Find Judicial sale on 2026-02-19 in Blair, PA (1,234 properties)", Describe(e))

	e = QueueEntry{Key: GroupKey{County: "Wayne, PA", SaleType: ptr(SaleTypeSealedBid)}, PropertyCount: 1}
	assert.Equal(t, "Find Sealed Bid sale in Wayne, PA (1 property)", Describe(e))

	e = QueueEntry{Key: GroupKey{County: "Wayne, PA"}, PropertyCount: 3}
	assert.Equal(t, "Find any sale in Wayne, PA (3 properties)", Describe(e))
}

func TestParseEnums(t *testing.T) {
	st, err := ParseSaleType(" Sealed_Bid ")
	require.NoError(t, err)
	assert.Equal(t, SaleTypeSealedBid, st)

	_, err = ParseSaleType("tax_lien")
	assert.Error(t, err)

	o, err := ParseOverride("none")
	require.NoError(t, err)
	assert.Nil(t, o)

	o, err = ParseOverride("sold")
	require.NoError(t, err)
	assert.Equal(t, OverrideSold, *o)

	_, err = ParseOverride("expired")
	assert.Error(t, err)

	qs, err := ParseQueueStatus("researching")
	require.NoError(t, err)
	assert.True(t, qs.IsActive())
	assert.False(t, qs.IsTerminal())

	_, err = ParseSaleStatus("postponed")
	assert.Error(t, err)
}

func TestSaleUpdate_Apply(t *testing.T) {
	base := Sale{ID: 1, Type: SaleTypeJudicial, Status: SaleStatusScheduled, Date: ptr(day(2026, 2, 19))}

	got := SaleUpdate{Status: ptr(SaleStatusCancelled)}.Apply(base)
	assert.Equal(t, SaleStatusCancelled, got.Status)
	assert.NotNil(t, got.Date)

	got = SaleUpdate{ClearDate: true}.Apply(base)
	assert.Nil(t, got.Date)

	assert.Error(t, SaleUpdate{Date: ptr(day(2026, 1, 1)), ClearDate: true}.Validate())
}
