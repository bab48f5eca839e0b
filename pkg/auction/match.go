package auction

import (
	"sort"
	"time"
)

// DateLayout is the calendar-date format used for hints and group keys.
const DateLayout = "2006-01-02"

// MatchPolicy controls how sale dates are compared with date hints.
type MatchPolicy struct {
	// Location is the zone sale timestamps are read in before dropping the time part.
	Location *time.Location
}

func (p MatchPolicy) location() *time.Location {
	if p.Location == nil {
		return time.UTC
	}
	return p.Location
}

// SameDay reports whether the sale timestamp falls on the hinted calendar date.
// Hints are calendar dates stored at UTC midnight.
func (p MatchPolicy) SameDay(saleDate, hint time.Time) bool {
	sy, sm, sd := saleDate.In(p.location()).Date()
	hy, hm, hd := hint.UTC().Date()
	return sy == hy && sm == hm && sd == hd
}

// HasHints reports whether the property carries anything to match on.
func (p Property) HasHints() bool {
	return p.SaleTypeHint != nil || p.SaleDateHint != nil
}

// Matches reports whether sale is a candidate for property under the policy.
func (p MatchPolicy) Matches(prop Property, sale Sale) bool {
	if sale.County != prop.County {
		return false
	}
	if prop.SaleTypeHint != nil && sale.Type != *prop.SaleTypeHint {
		return false
	}
	if prop.SaleDateHint != nil {
		if sale.Date == nil || !p.SameDay(*sale.Date, *prop.SaleDateHint) {
			return false
		}
	}
	return true
}

// SelectSale picks the sale a property should link to, or nil. A property with
// no county or no hints never matches. Among several candidates the earliest
// dated sale wins; undated sales sort last and ids break remaining ties.
func (p MatchPolicy) SelectSale(prop Property, sales []Sale) *Sale {
	if prop.County == "" || !prop.HasHints() {
		return nil
	}

	var candidates []Sale
	for _, s := range sales {
		if p.Matches(prop, s) {
			candidates = append(candidates, s)
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return saleBefore(candidates[i], candidates[j])
	})
	best := candidates[0]
	return &best
}

func saleBefore(a, b Sale) bool {
	switch {
	case a.Date != nil && b.Date != nil && !a.Date.Equal(*b.Date):
		return a.Date.Before(*b.Date)
	case a.Date != nil && b.Date == nil:
		return true
	case a.Date == nil && b.Date != nil:
		return false
	}
	return a.ID < b.ID
}
