package auction

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	slerrors "github.com/otherjamesbrown/salelink/pkg/errors"
)

// QueueStatus is the state of a research queue entry.
type QueueStatus string

const (
	QueueStatusPending     QueueStatus = "pending"
	QueueStatusResearching QueueStatus = "researching"
	QueueStatusResolved    QueueStatus = "resolved"
	QueueStatusFailed      QueueStatus = "failed"
)

// IsValid reports whether s is a known queue status.
func (s QueueStatus) IsValid() bool {
	switch s {
	case QueueStatusPending, QueueStatusResearching, QueueStatusResolved, QueueStatusFailed:
		return true
	}
	return false
}

// IsActive reports whether the entry still awaits an outcome.
func (s QueueStatus) IsActive() bool {
	return s == QueueStatusPending || s == QueueStatusResearching
}

// IsTerminal reports whether the entry can no longer change.
func (s QueueStatus) IsTerminal() bool {
	return s == QueueStatusResolved || s == QueueStatusFailed
}

// ParseQueueStatus validates s as a QueueStatus.
func ParseQueueStatus(s string) (QueueStatus, error) {
	st := QueueStatus(strings.ToLower(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("unknown queue status %q: %w", s, slerrors.ErrValidation)
	}
	return st, nil
}

// GroupKey identifies unlinked properties that share county and hints.
type GroupKey struct {
	County   string     `json:"county"`
	SaleDate *time.Time `json:"extracted_sale_date,omitempty"`
	SaleType *SaleType  `json:"extracted_sale_type,omitempty"`
}

// String renders the key deterministically. Stores index it to keep one
// active entry per group.
func (k GroupKey) String() string {
	date, typ := "", ""
	if k.SaleDate != nil {
		date = k.SaleDate.UTC().Format(DateLayout)
	}
	if k.SaleType != nil {
		typ = string(*k.SaleType)
	}
	return k.County + "|" + date + "|" + typ
}

// Covers reports whether a property belongs to the group for resolution
// fan-out: same county, and equal hints wherever the key has a component.
// A missing component matches any hint, so a county-only key covers every
// unlinked property of the county.
func (k GroupKey) Covers(p Property) bool {
	if p.County != k.County {
		return false
	}
	if k.SaleDate != nil {
		if p.SaleDateHint == nil || p.SaleDateHint.UTC().Format(DateLayout) != k.SaleDate.UTC().Format(DateLayout) {
			return false
		}
	}
	if k.SaleType != nil {
		if p.SaleTypeHint == nil || *p.SaleTypeHint != *k.SaleType {
			return false
		}
	}
	return true
}

// Contains reports whether every property of group other is covered by k.
// Resolving k links all of other's unlinked members, leaving other with
// nothing to research.
func (k GroupKey) Contains(other GroupKey) bool {
	if other.County != k.County {
		return false
	}
	if k.SaleDate != nil {
		if other.SaleDate == nil || other.SaleDate.UTC().Format(DateLayout) != k.SaleDate.UTC().Format(DateLayout) {
			return false
		}
	}
	if k.SaleType != nil {
		if other.SaleType == nil || *other.SaleType != *k.SaleType {
			return false
		}
	}
	return true
}

// AbsorbedNote is the resolution note written on an active entry closed by
// the fan-out of entry id.
func AbsorbedNote(id int64) string {
	return fmt.Sprintf("absorbed by research entry %d", id)
}

// KeyOf returns the group key of a property.
func KeyOf(p Property) GroupKey {
	return GroupKey{County: p.County, SaleDate: p.SaleDateHint, SaleType: p.SaleTypeHint}
}

// UnresolvedGroup is a set of unlinked properties with unknown status.
type UnresolvedGroup struct {
	Key           GroupKey `json:"key"`
	PropertyCount int      `json:"property_count"`
}

// QueueEntry is a research task for one unresolved group.
type QueueEntry struct {
	ID            int64       `json:"id"`
	Key           GroupKey    `json:"key"`
	PropertyCount int         `json:"property_count"`
	Status        QueueStatus `json:"status"`

	AssignedAgent string     `json:"assigned_agent,omitempty"`
	AssignedAt    *time.Time `json:"assigned_at,omitempty"`

	ResolvedSaleID  *int64     `json:"resolved_sale_id,omitempty"`
	ResolutionNotes string     `json:"resolution_notes,omitempty"`
	ResolvedAt      *time.Time `json:"resolved_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// QueueFilter selects entries for listing.
type QueueFilter struct {
	Status *QueueStatus
	County string
	Limit  int
}

// Resolution is the store-level outcome of resolving an entry.
type Resolution struct {
	Applied       bool
	Entry         *QueueEntry
	LinkedCount   int
	PreviousState QueueStatus
	// Absorbed lists other active entries of the county that the fan-out
	// emptied. They are resolved to the same sale.
	Absorbed []int64
}

// Priority is the work-queue tier of an entry.
type Priority string

const (
	PriorityHigh   Priority = "HIGH"
	PriorityMedium Priority = "MEDIUM"
	PriorityLow    Priority = "LOW"
)

// PriorityPolicy maps property counts onto tiers.
type PriorityPolicy struct {
	HighThreshold   int `yaml:"high_threshold" json:"high_threshold"`
	MediumThreshold int `yaml:"medium_threshold" json:"medium_threshold"`
}

// DefaultPriorityPolicy returns the HIGH >= 100, MEDIUM >= 25 tiers.
func DefaultPriorityPolicy() PriorityPolicy {
	return PriorityPolicy{HighThreshold: 100, MediumThreshold: 25}
}

// Validate checks the thresholds are ordered.
func (p PriorityPolicy) Validate() error {
	if p.MediumThreshold < 1 {
		return fmt.Errorf("medium threshold must be positive: %w", slerrors.ErrValidation)
	}
	if p.HighThreshold < p.MediumThreshold {
		return fmt.Errorf("high threshold %d below medium threshold %d: %w", p.HighThreshold, p.MediumThreshold, slerrors.ErrValidation)
	}
	return nil
}

// Tier returns the priority for a group of count properties.
func (p PriorityPolicy) Tier(count int) Priority {
	switch {
	case count >= p.HighThreshold:
		return PriorityHigh
	case count >= p.MediumThreshold:
		return PriorityMedium
	default:
		return PriorityLow
	}
}

var printer = message.NewPrinter(language.English)

// Describe renders a research task for the agent, e.g.
// "Find Judicial sale on 2026-02-19 in Blair, PA (1,234 properties)".
func Describe(e QueueEntry) string {
	kind := "any"
	if e.Key.SaleType != nil {
		kind = e.Key.SaleType.Label()
	}
	when := ""
	if e.Key.SaleDate != nil {
		when = " on " + e.Key.SaleDate.UTC().Format(DateLayout)
	}
	noun := "properties"
	if e.PropertyCount == 1 {
		noun = "property"
	}
	return printer.Sprintf("Find %s sale%s in %s (%d %s)", kind, when, e.Key.County, e.PropertyCount, noun)
}
