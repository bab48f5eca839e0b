// Package auction holds the linkage engine's domain model: sales, properties,
// research queue entries, the status calculator and the sale matching policy.
// Storage backends implement Repository; services in pkg/linker, pkg/reconcile
// and pkg/research drive it.
package auction

import (
	"fmt"
	"strings"
	"time"

	slerrors "github.com/otherjamesbrown/salelink/pkg/errors"
)

// SaleType is the legal auction mechanism.
type SaleType string

const (
	SaleTypeUpset       SaleType = "upset"
	SaleTypeJudicial    SaleType = "judicial"
	SaleTypeRepository  SaleType = "repository"
	SaleTypeSealedBid   SaleType = "sealed_bid"
	SaleTypePrivateSale SaleType = "private_sale"
)

// SaleTypes lists every sale type.
var SaleTypes = []SaleType{SaleTypeUpset, SaleTypeJudicial, SaleTypeRepository, SaleTypeSealedBid, SaleTypePrivateSale}

// IsValid reports whether t is a known sale type.
func (t SaleType) IsValid() bool {
	switch t {
	case SaleTypeUpset, SaleTypeJudicial, SaleTypeRepository, SaleTypeSealedBid, SaleTypePrivateSale:
		return true
	}
	return false
}

// IsOngoing reports whether the sale has no single deadline. Properties linked
// to an ongoing sale stay available until sold or withdrawn.
func (t SaleType) IsOngoing() bool {
	switch t {
	case SaleTypeRepository, SaleTypeSealedBid, SaleTypePrivateSale:
		return true
	}
	return false
}

// Label renders the type for people, e.g. "Sealed Bid".
func (t SaleType) Label() string {
	words := strings.Split(string(t), "_")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}

// ParseSaleType validates s as a SaleType.
func ParseSaleType(s string) (SaleType, error) {
	t := SaleType(strings.ToLower(strings.TrimSpace(s)))
	if !t.IsValid() {
		return "", fmt.Errorf("unknown sale type %q: %w", s, slerrors.ErrValidation)
	}
	return t, nil
}

// SaleStatus is the lifecycle state of a sale event.
type SaleStatus string

const (
	SaleStatusScheduled SaleStatus = "scheduled"
	SaleStatusCancelled SaleStatus = "cancelled"
	SaleStatusCompleted SaleStatus = "completed"
)

// IsValid reports whether s is a known sale status.
func (s SaleStatus) IsValid() bool {
	switch s {
	case SaleStatusScheduled, SaleStatusCancelled, SaleStatusCompleted:
		return true
	}
	return false
}

// ParseSaleStatus validates s as a SaleStatus.
func ParseSaleStatus(s string) (SaleStatus, error) {
	st := SaleStatus(strings.ToLower(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("unknown sale status %q: %w", s, slerrors.ErrValidation)
	}
	return st, nil
}

// Override is a manual property status that beats anything derived from the sale.
type Override string

const (
	OverrideSold      Override = "sold"
	OverrideWithdrawn Override = "withdrawn"
)

// IsValid reports whether o is a known override.
func (o Override) IsValid() bool {
	return o == OverrideSold || o == OverrideWithdrawn
}

// ParseOverride validates s as an Override. "none" and "" clear the override.
func ParseOverride(s string) (*Override, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	if v == "" || v == "none" {
		return nil, nil
	}
	o := Override(v)
	if !o.IsValid() {
		return nil, fmt.Errorf("unknown override %q: %w", s, slerrors.ErrValidation)
	}
	return &o, nil
}

// Status is a property's derived auction eligibility.
type Status string

const (
	StatusActive    Status = "active"
	StatusExpired   Status = "expired"
	StatusSold      Status = "sold"
	StatusWithdrawn Status = "withdrawn"
	StatusUnknown   Status = "unknown"
)

// Statuses lists every auction status in display order.
var Statuses = []Status{StatusActive, StatusExpired, StatusSold, StatusWithdrawn, StatusUnknown}

// IsValid reports whether s is a known auction status.
func (s Status) IsValid() bool {
	switch s {
	case StatusActive, StatusExpired, StatusSold, StatusWithdrawn, StatusUnknown:
		return true
	}
	return false
}

// Sale is a canonical auction event.
type Sale struct {
	ID        int64      `json:"id"`
	County    string     `json:"county"`
	Type      SaleType   `json:"sale_type"`
	Date      *time.Time `json:"sale_date,omitempty"`
	Status    SaleStatus `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Property carries the linkage fields of an ingested parcel.
type Property struct {
	ID       int64  `json:"id"`
	County   string `json:"county"`
	ParcelID string `json:"parcel_id,omitempty"`

	// Hints extracted from the source document, possibly absent.
	SaleTypeHint *SaleType  `json:"sale_type_hint,omitempty"`
	SaleDateHint *time.Time `json:"sale_date_hint,omitempty"`

	Override     *Override `json:"sale_status_override,omitempty"`
	LinkedSaleID *int64    `json:"linked_sale_id,omitempty"`

	// Status is always CalculateStatus(Override, linked sale, now) as of StatusUpdatedAt.
	Status          Status     `json:"auction_status"`
	StatusUpdatedAt *time.Time `json:"status_updated_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewProperty is the input for registering an ingested property.
type NewProperty struct {
	County       string
	ParcelID     string
	SaleTypeHint *SaleType
	SaleDateHint *time.Time
}

// NewSale is the input for registering a sale event.
type NewSale struct {
	County string
	Type   SaleType
	Date   *time.Time
	Status SaleStatus
}

// Validate checks the required fields.
func (s NewSale) Validate() error {
	if strings.TrimSpace(s.County) == "" {
		return fmt.Errorf("sale county is required: %w", slerrors.ErrValidation)
	}
	if !s.Type.IsValid() {
		return fmt.Errorf("sale type %q: %w", s.Type, slerrors.ErrValidation)
	}
	if s.Status != "" && !s.Status.IsValid() {
		return fmt.Errorf("sale status %q: %w", s.Status, slerrors.ErrValidation)
	}
	return nil
}

// SaleUpdate changes a sale. Nil fields are left alone; ClearDate removes the date.
type SaleUpdate struct {
	Status    *SaleStatus
	Type      *SaleType
	Date      *time.Time
	ClearDate bool
}

// Validate checks the provided fields.
func (u SaleUpdate) Validate() error {
	if u.Status != nil && !u.Status.IsValid() {
		return fmt.Errorf("sale status %q: %w", *u.Status, slerrors.ErrValidation)
	}
	if u.Type != nil && !u.Type.IsValid() {
		return fmt.Errorf("sale type %q: %w", *u.Type, slerrors.ErrValidation)
	}
	if u.Date != nil && u.ClearDate {
		return fmt.Errorf("cannot set and clear sale date together: %w", slerrors.ErrValidation)
	}
	return nil
}

// Apply returns s with the update applied.
func (u SaleUpdate) Apply(s Sale) Sale {
	if u.Status != nil {
		s.Status = *u.Status
	}
	if u.Type != nil {
		s.Type = *u.Type
	}
	if u.Date != nil {
		d := *u.Date
		s.Date = &d
	}
	if u.ClearDate {
		s.Date = nil
	}
	return s
}

// PropertyFilter selects properties for keyset-paged scans.
type PropertyFilter struct {
	County  string // empty means every county
	AfterID int64  // keyset cursor, exclusive
	Limit   int
}

// StatusCount is one row of the aggregate status view.
type StatusCount struct {
	County string `json:"county"`
	Status Status `json:"auction_status"`
	Count  int64  `json:"count"`
}

// StatusChange records a stored status corrected by the status audit.
type StatusChange struct {
	PropertyID int64  `json:"property_id"`
	From       Status `json:"from"`
	To         Status `json:"to"`
}

// RecomputePage is the outcome of one status audit page.
type RecomputePage struct {
	Scanned int            `json:"scanned"`
	Changes []StatusChange `json:"changes,omitempty"`
	LastID  int64          `json:"last_id"`
}
