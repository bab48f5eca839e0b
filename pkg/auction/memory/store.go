// Package memory provides an in-memory auction.Repository used by tests and
// ephemeral runs. A single mutex serialises every operation, which gives the
// conditional writes the same atomicity the SQL stores get from transactions.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/otherjamesbrown/salelink/pkg/auction"
	slerrors "github.com/otherjamesbrown/salelink/pkg/errors"
)

var _ auction.Repository = (*Store)(nil)

// Store is a mutex-guarded, map-backed repository.
type Store struct {
	mu sync.Mutex

	properties map[int64]auction.Property
	sales      map[int64]auction.Sale
	entries    map[int64]auction.QueueEntry

	nextPropertyID int64
	nextSaleID     int64
	nextEntryID    int64

	// clock stamps created_at/updated_at; defaults to time.Now.
	clock func() time.Time
}

// New returns an empty store.
func New() *Store {
	return &Store{
		properties: make(map[int64]auction.Property),
		sales:      make(map[int64]auction.Sale),
		entries:    make(map[int64]auction.QueueEntry),
		clock:      time.Now,
	}
}

// WithClock overrides the clock used for bookkeeping timestamps.
func (s *Store) WithClock(clock func() time.Time) *Store {
	s.clock = clock
	return s
}

// CreateProperty registers an ingested property with unknown status.
func (s *Store) CreateProperty(_ context.Context, np auction.NewProperty) (*auction.Property, error) {
	if strings.TrimSpace(np.County) == "" {
		return nil, fmt.Errorf("property county is required: %w", slerrors.ErrValidation)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextPropertyID++
	now := s.clock()
	p := auction.Property{
		ID:           s.nextPropertyID,
		County:       np.County,
		ParcelID:     np.ParcelID,
		SaleTypeHint: np.SaleTypeHint,
		SaleDateHint: np.SaleDateHint,
		Status:       auction.StatusUnknown,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.properties[p.ID] = p
	return &p, nil
}

// GetProperty returns the property or ErrNotFound.
func (s *Store) GetProperty(_ context.Context, id int64) (*auction.Property, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.properties[id]
	if !ok {
		return nil, fmt.Errorf("property %d: %w", id, slerrors.ErrNotFound)
	}
	return &p, nil
}

// ListUnlinkedProperties returns unlinked properties in id order after the cursor.
func (s *Store) ListUnlinkedProperties(_ context.Context, f auction.PropertyFilter) ([]auction.Property, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.scan(f, func(p auction.Property) bool { return p.LinkedSaleID == nil }), nil
}

// CountLinkedProperties counts linked properties, optionally in one county.
func (s *Store) CountLinkedProperties(_ context.Context, county string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, p := range s.properties {
		if p.LinkedSaleID != nil && (county == "" || p.County == county) {
			n++
		}
	}
	return n, nil
}

// LinkProperty links an unlinked property and stores its recomputed status.
func (s *Store) LinkProperty(_ context.Context, propertyID, saleID int64, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.properties[propertyID]
	if !ok {
		return false, fmt.Errorf("property %d: %w", propertyID, slerrors.ErrNotFound)
	}
	if p.LinkedSaleID != nil {
		return false, nil
	}
	sale, ok := s.sales[saleID]
	if !ok {
		return false, fmt.Errorf("sale %d: %w", saleID, slerrors.ErrNotFound)
	}

	id := saleID
	p.LinkedSaleID = &id
	s.putWithStatus(p, &sale, now)
	return true, nil
}

// SetOverride sets or clears the manual override and recomputes status.
func (s *Store) SetOverride(_ context.Context, propertyID int64, override *auction.Override, now time.Time) (*auction.Property, error) {
	if override != nil && !override.IsValid() {
		return nil, fmt.Errorf("override %q: %w", *override, slerrors.ErrValidation)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.properties[propertyID]
	if !ok {
		return nil, fmt.Errorf("property %d: %w", propertyID, slerrors.ErrNotFound)
	}
	p.Override = override
	p = s.putWithStatus(p, s.linkedSale(p), now)
	return &p, nil
}

// CreateSale registers a sale. Status defaults to scheduled.
func (s *Store) CreateSale(_ context.Context, ns auction.NewSale) (*auction.Sale, error) {
	if err := ns.Validate(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextSaleID++
	now := s.clock()
	sale := auction.Sale{
		ID:        s.nextSaleID,
		County:    ns.County,
		Type:      ns.Type,
		Date:      ns.Date,
		Status:    ns.Status,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if sale.Status == "" {
		sale.Status = auction.SaleStatusScheduled
	}
	s.sales[sale.ID] = sale
	return &sale, nil
}

// GetSale returns the sale or ErrNotFound.
func (s *Store) GetSale(_ context.Context, id int64) (*auction.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, ok := s.sales[id]
	if !ok {
		return nil, fmt.Errorf("sale %d: %w", id, slerrors.ErrNotFound)
	}
	return &sale, nil
}

// ListSalesByCounty returns the county's sales in id order.
func (s *Store) ListSalesByCounty(_ context.Context, county string) ([]auction.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []auction.Sale
	for _, sale := range s.sales {
		if sale.County == county {
			out = append(out, sale)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// UpdateSale applies u and recomputes every linked property.
func (s *Store) UpdateSale(_ context.Context, id int64, u auction.SaleUpdate, now time.Time) (*auction.Sale, int, error) {
	if err := u.Validate(); err != nil {
		return nil, 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, ok := s.sales[id]
	if !ok {
		return nil, 0, fmt.Errorf("sale %d: %w", id, slerrors.ErrNotFound)
	}
	sale = u.Apply(sale)
	sale.UpdatedAt = s.clock()
	s.sales[id] = sale

	n := 0
	for _, p := range s.properties {
		if p.LinkedSaleID != nil && *p.LinkedSaleID == id {
			s.putWithStatus(p, &sale, now)
			n++
		}
	}
	return &sale, n, nil
}

// DeleteSale unlinks dependents, recomputes them and removes the sale.
func (s *Store) DeleteSale(_ context.Context, id int64, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sales[id]; !ok {
		return 0, fmt.Errorf("sale %d: %w", id, slerrors.ErrNotFound)
	}

	n := 0
	for _, p := range s.properties {
		if p.LinkedSaleID != nil && *p.LinkedSaleID == id {
			p.LinkedSaleID = nil
			s.putWithStatus(p, nil, now)
			n++
		}
	}
	for eid, e := range s.entries {
		if e.ResolvedSaleID != nil && *e.ResolvedSaleID == id {
			e.ResolvedSaleID = nil
			s.entries[eid] = e
		}
	}
	delete(s.sales, id)
	return n, nil
}

// RecomputeStatuses corrects stored statuses that no longer match the calculator.
func (s *Store) RecomputeStatuses(_ context.Context, f auction.PropertyFilter, now time.Time) (*auction.RecomputePage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	page := &auction.RecomputePage{LastID: f.AfterID}
	for _, p := range s.scan(f, func(auction.Property) bool { return true }) {
		page.Scanned++
		page.LastID = p.ID
		want := auction.CalculateStatus(p.Override, s.linkedSale(p), now)
		if want != p.Status {
			page.Changes = append(page.Changes, auction.StatusChange{PropertyID: p.ID, From: p.Status, To: want})
			s.putWithStatus(p, s.linkedSale(p), now)
		}
	}
	return page, nil
}

// StatusBreakdown counts properties per county and status.
func (s *Store) StatusBreakdown(_ context.Context, county string) ([]auction.StatusCount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	type key struct {
		county string
		status auction.Status
	}
	counts := make(map[key]int64)
	for _, p := range s.properties {
		if county != "" && p.County != county {
			continue
		}
		counts[key{p.County, p.Status}]++
	}

	out := make([]auction.StatusCount, 0, len(counts))
	for k, n := range counts {
		out = append(out, auction.StatusCount{County: k.county, Status: k.status, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].County != out[j].County {
			return out[i].County < out[j].County
		}
		return out[i].Status < out[j].Status
	})
	return out, nil
}

// ListUnresolvedGroups groups unlinked properties whose status is unknown.
func (s *Store) ListUnresolvedGroups(_ context.Context) ([]auction.UnresolvedGroup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	groups := make(map[string]*auction.UnresolvedGroup)
	for _, p := range s.properties {
		if p.LinkedSaleID != nil || p.Status != auction.StatusUnknown {
			continue
		}
		k := auction.KeyOf(p)
		g, ok := groups[k.String()]
		if !ok {
			g = &auction.UnresolvedGroup{Key: k}
			groups[k.String()] = g
		}
		g.PropertyCount++
	}

	out := make([]auction.UnresolvedGroup, 0, len(groups))
	for _, g := range groups {
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.String() < out[j].Key.String() })
	return out, nil
}

// CreateQueueEntryIfAbsent inserts a pending entry unless the group has an active one.
func (s *Store) CreateQueueEntryIfAbsent(_ context.Context, g auction.UnresolvedGroup) (*auction.QueueEntry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := g.Key.String()
	for _, e := range s.entries {
		if e.Status.IsActive() && e.Key.String() == key {
			return &e, false, nil
		}
	}

	s.nextEntryID++
	now := s.clock()
	e := auction.QueueEntry{
		ID:            s.nextEntryID,
		Key:           g.Key,
		PropertyCount: g.PropertyCount,
		Status:        auction.QueueStatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	s.entries[e.ID] = e
	return &e, true, nil
}

// GetQueueEntry returns the entry or ErrNotFound.
func (s *Store) GetQueueEntry(_ context.Context, id int64) (*auction.QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return nil, fmt.Errorf("research queue entry %d: %w", id, slerrors.ErrNotFound)
	}
	return &e, nil
}

// ListQueueEntries lists entries newest first.
func (s *Store) ListQueueEntries(_ context.Context, f auction.QueueFilter) ([]auction.QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []auction.QueueEntry
	for _, e := range s.entries {
		if f.Status != nil && e.Status != *f.Status {
			continue
		}
		if f.County != "" && e.Key.County != f.County {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return limit(out, f.Limit), nil
}

// ListPendingQueueEntries orders by property count, then age.
func (s *Store) ListPendingQueueEntries(_ context.Context, n int) ([]auction.QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []auction.QueueEntry
	for _, e := range s.entries {
		if e.Status == auction.QueueStatusPending {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.PropertyCount != b.PropertyCount {
			return a.PropertyCount > b.PropertyCount
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return limit(out, n), nil
}

// AssignQueueEntry claims a pending entry for agent.
func (s *Store) AssignQueueEntry(_ context.Context, id int64, agent string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return false, fmt.Errorf("research queue entry %d: %w", id, slerrors.ErrNotFound)
	}
	if e.Status != auction.QueueStatusPending {
		return false, nil
	}
	at := now
	e.Status = auction.QueueStatusResearching
	e.AssignedAgent = agent
	e.AssignedAt = &at
	e.UpdatedAt = now
	s.entries[id] = e
	return true, nil
}

// ResolveQueueEntry resolves an active entry and links its group.
func (s *Store) ResolveQueueEntry(_ context.Context, id, saleID int64, notes string, now time.Time) (*auction.Resolution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return nil, fmt.Errorf("research queue entry %d: %w", id, slerrors.ErrNotFound)
	}
	sale, ok := s.sales[saleID]
	if !ok {
		return nil, fmt.Errorf("sale %d: %w", saleID, slerrors.ErrNotFound)
	}

	res := &auction.Resolution{PreviousState: e.Status}
	if e.Status.IsTerminal() {
		res.Entry = &e
		return res, nil
	}

	sid, at := saleID, now
	e.Status = auction.QueueStatusResolved
	e.ResolvedSaleID = &sid
	e.ResolutionNotes = notes
	e.ResolvedAt = &at
	e.UpdatedAt = now
	s.entries[id] = e

	for _, p := range s.properties {
		if p.LinkedSaleID != nil || !e.Key.Covers(p) {
			continue
		}
		linked := saleID
		p.LinkedSaleID = &linked
		s.putWithStatus(p, &sale, now)
		res.LinkedCount++
	}

	for oid, other := range s.entries {
		if oid == id || !other.Status.IsActive() || !e.Key.Contains(other.Key) {
			continue
		}
		osid, oat := saleID, now
		other.Status = auction.QueueStatusResolved
		other.ResolvedSaleID = &osid
		other.ResolutionNotes = auction.AbsorbedNote(id)
		other.ResolvedAt = &oat
		other.UpdatedAt = now
		s.entries[oid] = other
		res.Absorbed = append(res.Absorbed, oid)
	}
	sort.Slice(res.Absorbed, func(i, j int) bool { return res.Absorbed[i] < res.Absorbed[j] })

	res.Applied = true
	res.Entry = &e
	return res, nil
}

// FailQueueEntry fails an active entry, keeping it for audit.
func (s *Store) FailQueueEntry(_ context.Context, id int64, reason string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return false, fmt.Errorf("research queue entry %d: %w", id, slerrors.ErrNotFound)
	}
	if e.Status.IsTerminal() {
		return false, nil
	}
	e.Status = auction.QueueStatusFailed
	e.ResolutionNotes = reason
	e.UpdatedAt = now
	s.entries[id] = e
	return true, nil
}

// putWithStatus is the single status funnel of the memory store. Callers hold mu.
func (s *Store) putWithStatus(p auction.Property, sale *auction.Sale, now time.Time) auction.Property {
	at := now
	p.Status = auction.CalculateStatus(p.Override, sale, now)
	p.StatusUpdatedAt = &at
	p.UpdatedAt = s.clock()
	s.properties[p.ID] = p
	return p
}

func (s *Store) linkedSale(p auction.Property) *auction.Sale {
	if p.LinkedSaleID == nil {
		return nil
	}
	sale, ok := s.sales[*p.LinkedSaleID]
	if !ok {
		return nil
	}
	return &sale
}

func (s *Store) scan(f auction.PropertyFilter, keep func(auction.Property) bool) []auction.Property {
	var out []auction.Property
	for _, p := range s.properties {
		if p.ID <= f.AfterID || !keep(p) {
			continue
		}
		if f.County != "" && p.County != f.County {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return limit(out, f.Limit)
}

func limit[T any](items []T, n int) []T {
	if n > 0 && len(items) > n {
		return items[:n]
	}
	return items
}
