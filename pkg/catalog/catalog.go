// Package catalog manages sale events and per-property overrides, and renders
// the property and county status views.
package catalog

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/otherjamesbrown/salelink/pkg/auction"
	slerrors "github.com/otherjamesbrown/salelink/pkg/errors"
	"github.com/otherjamesbrown/salelink/pkg/events"
	"github.com/otherjamesbrown/salelink/pkg/logging"
)

// PropertyView is a property with its linked sale.
type PropertyView struct {
	Property auction.Property `json:"property"`
	Sale     *auction.Sale    `json:"linked_sale,omitempty"`
}

// StatusShare is one status row of a county breakdown.
type StatusShare struct {
	Status  auction.Status  `json:"auction_status"`
	Count   int64           `json:"count"`
	Percent decimal.Decimal `json:"percent"`
}

// CountyBreakdown is the status distribution of one county.
type CountyBreakdown struct {
	County   string        `json:"county"`
	Total    int64         `json:"total"`
	Statuses []StatusShare `json:"statuses"`
}

// SaleChange reports a sale write and the properties it recomputed.
type SaleChange struct {
	Sale       *auction.Sale `json:"sale,omitempty"`
	Recomputed int           `json:"recomputed"`
}

// Catalog wraps the repository for sale and override writes.
type Catalog struct {
	repo      auction.Repository
	publisher events.Publisher
	logger    logging.Logger
	now       func() time.Time
}

// New creates a Catalog. A nil publisher drops events.
func New(repo auction.Repository, publisher events.Publisher, logger logging.Logger, now func() time.Time) *Catalog {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	if now == nil {
		now = time.Now
	}
	return &Catalog{repo: repo, publisher: publisher, logger: logger.With(logging.Component("catalog")), now: now}
}

// Property returns a property with its linked sale.
func (c *Catalog) Property(ctx context.Context, id int64) (*PropertyView, error) {
	p, err := c.repo.GetProperty(ctx, id)
	if err != nil {
		return nil, err
	}
	view := &PropertyView{Property: *p}
	if p.LinkedSaleID != nil {
		sale, err := c.repo.GetSale(ctx, *p.LinkedSaleID)
		if err != nil {
			return nil, fmt.Errorf("load linked sale %d: %w", *p.LinkedSaleID, err)
		}
		view.Sale = sale
	}
	return view, nil
}

// SetOverride sets or clears (nil) a property's manual override.
func (c *Catalog) SetOverride(ctx context.Context, id int64, override *auction.Override) (*auction.Property, error) {
	if override != nil && !override.IsValid() {
		return nil, fmt.Errorf("override %q: %w", *override, slerrors.ErrValidation)
	}
	p, err := c.repo.SetOverride(ctx, id, override, c.now())
	if err != nil {
		return nil, fmt.Errorf("set override on property %d: %w", id, err)
	}
	c.logger.Info("Override updated",
		logging.F("property_id", id),
		logging.F("override", overrideLabel(override)),
		logging.F("auction_status", p.Status))
	return p, nil
}

// CreateSale registers a sale event.
func (c *Catalog) CreateSale(ctx context.Context, ns auction.NewSale) (*auction.Sale, error) {
	if err := ns.Validate(); err != nil {
		return nil, err
	}
	s, err := c.repo.CreateSale(ctx, ns)
	if err != nil {
		return nil, fmt.Errorf("create sale: %w", err)
	}
	c.logger.Info("Sale created", logging.F("sale_id", s.ID), logging.F("county", s.County), logging.F("sale_type", s.Type))
	c.publishSale(ctx, s.ID, s.County, "created", 0)
	return s, nil
}

// UpdateSale changes a sale and recomputes every linked property.
func (c *Catalog) UpdateSale(ctx context.Context, id int64, u auction.SaleUpdate) (*SaleChange, error) {
	if err := u.Validate(); err != nil {
		return nil, err
	}
	s, n, err := c.repo.UpdateSale(ctx, id, u, c.now())
	if err != nil {
		return nil, fmt.Errorf("update sale %d: %w", id, err)
	}
	c.logger.Info("Sale updated", logging.F("sale_id", id), logging.F("recomputed", n))
	c.publishSale(ctx, id, s.County, "updated", n)
	return &SaleChange{Sale: s, Recomputed: n}, nil
}

// DeleteSale unlinks and recomputes every linked property, then deletes the sale.
func (c *Catalog) DeleteSale(ctx context.Context, id int64) (*SaleChange, error) {
	s, err := c.repo.GetSale(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("delete sale %d: %w", id, err)
	}
	n, err := c.repo.DeleteSale(ctx, id, c.now())
	if err != nil {
		return nil, fmt.Errorf("delete sale %d: %w", id, err)
	}
	c.logger.Info("Sale deleted", logging.F("sale_id", id), logging.F("unlinked", n))
	c.publishSale(ctx, id, s.County, "deleted", n)
	return &SaleChange{Sale: s, Recomputed: n}, nil
}

// Sales lists a county's sales.
func (c *Catalog) Sales(ctx context.Context, county string) ([]auction.Sale, error) {
	return c.repo.ListSalesByCounty(ctx, county)
}

// Breakdown returns per-county status counts with percentages rounded to one
// decimal place. An empty county returns every county.
func (c *Catalog) Breakdown(ctx context.Context, county string) ([]CountyBreakdown, error) {
	rows, err := c.repo.StatusBreakdown(ctx, county)
	if err != nil {
		return nil, fmt.Errorf("status breakdown: %w", err)
	}
	return Summarize(rows), nil
}

// Summarize groups status counts by county and computes shares.
func Summarize(rows []auction.StatusCount) []CountyBreakdown {
	byCounty := make(map[string]*CountyBreakdown)
	var order []string
	for _, r := range rows {
		b, ok := byCounty[r.County]
		if !ok {
			b = &CountyBreakdown{County: r.County}
			byCounty[r.County] = b
			order = append(order, r.County)
		}
		b.Total += r.Count
		b.Statuses = append(b.Statuses, StatusShare{Status: r.Status, Count: r.Count})
	}
	sort.Strings(order)

	hundred := decimal.NewFromInt(100)
	out := make([]CountyBreakdown, 0, len(order))
	for _, county := range order {
		b := byCounty[county]
		for i := range b.Statuses {
			if b.Total > 0 {
				b.Statuses[i].Percent = decimal.NewFromInt(b.Statuses[i].Count).
					Mul(hundred).
					DivRound(decimal.NewFromInt(b.Total), 1)
			}
		}
		sort.Slice(b.Statuses, func(i, j int) bool {
			if b.Statuses[i].Count != b.Statuses[j].Count {
				return b.Statuses[i].Count > b.Statuses[j].Count
			}
			return b.Statuses[i].Status < b.Statuses[j].Status
		})
		out = append(out, *b)
	}
	return out
}

func (c *Catalog) publishSale(ctx context.Context, id int64, county, change string, n int) {
	event := events.SaleChangedEvent{
		BaseEvent:  events.NewBaseEvent("sale." + change),
		SaleID:     id,
		County:     county,
		Change:     change,
		Recomputed: n,
	}
	if err := c.publisher.Publish(ctx, events.ChannelSaleChanged, event); err != nil {
		c.logger.Warn("Failed to publish sale event", logging.Err(err), logging.F("sale_id", id))
	}
}

func overrideLabel(o *auction.Override) string {
	if o == nil {
		return "none"
	}
	return string(*o)
}
