// Package linker attaches a single property to the canonical sale event that
// matches its extracted hints.
package linker

import (
	"context"
	"fmt"
	"time"

	"github.com/otherjamesbrown/salelink/pkg/auction"
	slerrors "github.com/otherjamesbrown/salelink/pkg/errors"
	"github.com/otherjamesbrown/salelink/pkg/logging"
	"github.com/otherjamesbrown/salelink/pkg/observability"
)

// Outcome classifies a link attempt.
type Outcome string

const (
	OutcomeLinked        Outcome = "linked"
	OutcomeAlreadyLinked Outcome = "already_linked"
	OutcomeNoMatch       Outcome = "no_match"
)

// No-match reasons.
const (
	ReasonNoCounty    = "property has no county"
	ReasonNoHints     = "property has no sale type or date hint"
	ReasonNoCandidate = "no sale in county matches the hints"
)

// Result is the outcome of linking one property.
type Result struct {
	PropertyID int64          `json:"property_id"`
	Outcome    Outcome        `json:"outcome"`
	SaleID     *int64         `json:"sale_id,omitempty"`
	Status     auction.Status `json:"auction_status"`
	Reason     string         `json:"reason,omitempty"`
	// RaceLost is set when a concurrent writer linked the property first.
	RaceLost bool `json:"race_lost,omitempty"`
}

// Linked reports whether the property ends up with a link.
func (r *Result) Linked() bool {
	return r.SaleID != nil
}

// Linker links properties to sales.
type Linker struct {
	repo    auction.Repository
	policy  auction.MatchPolicy
	now     func() time.Time
	logger  logging.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer
}

// Option configures a Linker.
type Option func(*Linker)

// WithPolicy sets the match policy.
func WithPolicy(p auction.MatchPolicy) Option {
	return func(l *Linker) { l.policy = p }
}

// WithClock sets the clock used for status computation.
func WithClock(now func() time.Time) Option {
	return func(l *Linker) { l.now = now }
}

// WithMetrics records link attempts.
func WithMetrics(m *observability.Metrics) Option {
	return func(l *Linker) { l.metrics = m }
}

// WithTracer wraps each link in a span.
func WithTracer(t *observability.Tracer) Option {
	return func(l *Linker) { l.tracer = t }
}

// New creates a Linker.
func New(repo auction.Repository, logger logging.Logger, opts ...Option) *Linker {
	l := &Linker{
		repo:   repo,
		now:    time.Now,
		logger: logger.With(logging.Component("linker")),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Policy returns the match policy in use.
func (l *Linker) Policy() auction.MatchPolicy {
	return l.policy
}

// Link loads a property and links it. A missing property is ErrNotFound; a
// property without a matching sale is a NoMatch result, not an error.
func (l *Linker) Link(ctx context.Context, propertyID int64) (*Result, error) {
	prop, err := l.repo.GetProperty(ctx, propertyID)
	if err != nil {
		return nil, fmt.Errorf("load property %d: %w", propertyID, err)
	}
	return l.LinkLoaded(ctx, *prop, nil)
}

// LinkLoaded links an already loaded property. Sales are read through cache
// when given, otherwise from the repository.
func (l *Linker) LinkLoaded(ctx context.Context, prop auction.Property, cache *SaleCache) (result *Result, err error) {
	start := time.Now()
	ctx, span := l.tracer.StartLinkSpan(ctx, prop.ID)
	defer func() {
		if result != nil {
			span.SetOutcome(string(result.Outcome))
			l.metrics.RecordLink(string(result.Outcome), time.Since(start).Seconds())
		}
		span.End(err)
	}()

	if prop.LinkedSaleID != nil {
		return &Result{PropertyID: prop.ID, Outcome: OutcomeAlreadyLinked, SaleID: prop.LinkedSaleID, Status: prop.Status}, nil
	}
	if prop.County == "" {
		return l.noMatch(prop, ReasonNoCounty), nil
	}
	if !prop.HasHints() {
		return l.noMatch(prop, ReasonNoHints), nil
	}

	var sales []auction.Sale
	if cache != nil {
		sales, err = cache.Sales(ctx, prop.County)
	} else {
		sales, err = l.repo.ListSalesByCounty(ctx, prop.County)
	}
	if err != nil {
		return nil, fmt.Errorf("list sales for %q: %w", prop.County, err)
	}

	sale := l.policy.SelectSale(prop, sales)
	if sale == nil {
		return l.noMatch(prop, ReasonNoCandidate), nil
	}

	now := l.now()
	ok, err := l.repo.LinkProperty(ctx, prop.ID, sale.ID, now)
	if err != nil {
		return nil, fmt.Errorf("link property %d to sale %d: %w", prop.ID, sale.ID, err)
	}
	if !ok {
		return l.raceLost(ctx, prop.ID)
	}

	span.SetSale(sale.ID)
	l.logger.Debug("Property linked",
		logging.F("property_id", prop.ID),
		logging.F("sale_id", sale.ID),
		logging.F("county", prop.County))

	saleID := sale.ID
	return &Result{
		PropertyID: prop.ID,
		Outcome:    OutcomeLinked,
		SaleID:     &saleID,
		Status:     auction.CalculateStatus(prop.Override, sale, now),
	}, nil
}

func (l *Linker) raceLost(ctx context.Context, propertyID int64) (*Result, error) {
	current, err := l.repo.GetProperty(ctx, propertyID)
	if err != nil {
		return nil, fmt.Errorf("reload property %d: %w", propertyID, err)
	}
	if current.LinkedSaleID == nil {
		return nil, fmt.Errorf("link of property %d rejected without a winner: %w", propertyID, slerrors.ErrConflict)
	}
	l.logger.Info("Property linked concurrently",
		logging.F("property_id", propertyID),
		logging.F("sale_id", *current.LinkedSaleID))
	return &Result{
		PropertyID: propertyID,
		Outcome:    OutcomeAlreadyLinked,
		SaleID:     current.LinkedSaleID,
		Status:     current.Status,
		RaceLost:   true,
	}, nil
}

func (l *Linker) noMatch(prop auction.Property, reason string) *Result {
	l.logger.Debug("No sale matched",
		logging.F("property_id", prop.ID),
		logging.F("county", prop.County),
		logging.F("reason", reason))
	return &Result{PropertyID: prop.ID, Outcome: OutcomeNoMatch, Status: prop.Status, Reason: reason}
}
