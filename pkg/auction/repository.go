package auction

import (
	"context"
	"time"
)

// Repository is the storage contract of the engine. Implementations must
// recompute auction_status with CalculateStatus inside the same transaction as
// any write to a link, an override or a linked sale, and must make the
// conditional writes (link, assign, resolve, fail) atomic.
type Repository interface {
	// Properties
	CreateProperty(ctx context.Context, p NewProperty) (*Property, error)
	GetProperty(ctx context.Context, id int64) (*Property, error)
	ListUnlinkedProperties(ctx context.Context, f PropertyFilter) ([]Property, error)
	CountLinkedProperties(ctx context.Context, county string) (int64, error)
	// LinkProperty sets linked_sale_id only if it is still null and stores the
	// recomputed status. It reports false when another writer got there first.
	LinkProperty(ctx context.Context, propertyID, saleID int64, now time.Time) (bool, error)
	SetOverride(ctx context.Context, propertyID int64, override *Override, now time.Time) (*Property, error)

	// Sales
	CreateSale(ctx context.Context, s NewSale) (*Sale, error)
	GetSale(ctx context.Context, id int64) (*Sale, error)
	ListSalesByCounty(ctx context.Context, county string) ([]Sale, error)
	// UpdateSale applies u and recomputes every linked property. It returns the
	// updated sale and the number of properties recomputed.
	UpdateSale(ctx context.Context, id int64, u SaleUpdate, now time.Time) (*Sale, int, error)
	// DeleteSale unlinks every linked property, recomputes them and deletes the sale.
	DeleteSale(ctx context.Context, id int64, now time.Time) (int, error)

	// Status views
	RecomputeStatuses(ctx context.Context, f PropertyFilter, now time.Time) (*RecomputePage, error)
	StatusBreakdown(ctx context.Context, county string) ([]StatusCount, error)

	// Research queue
	ListUnresolvedGroups(ctx context.Context) ([]UnresolvedGroup, error)
	// CreateQueueEntryIfAbsent inserts a pending entry unless the group already
	// has an active one. It reports whether an entry was created.
	CreateQueueEntryIfAbsent(ctx context.Context, g UnresolvedGroup) (*QueueEntry, bool, error)
	GetQueueEntry(ctx context.Context, id int64) (*QueueEntry, error)
	ListQueueEntries(ctx context.Context, f QueueFilter) ([]QueueEntry, error)
	// ListPendingQueueEntries orders by property_count DESC, created_at ASC.
	ListPendingQueueEntries(ctx context.Context, limit int) ([]QueueEntry, error)
	// AssignQueueEntry moves a pending entry to researching. False means the
	// entry was not pending.
	AssignQueueEntry(ctx context.Context, id int64, agent string, now time.Time) (bool, error)
	// ResolveQueueEntry resolves an active entry and links the group's unlinked
	// properties to the sale in one transaction. Other active entries of the
	// county whose groups the fan-out emptied are resolved to the same sale.
	ResolveQueueEntry(ctx context.Context, id, saleID int64, notes string, now time.Time) (*Resolution, error)
	// FailQueueEntry moves an active entry to failed. False means it was terminal.
	FailQueueEntry(ctx context.Context, id int64, reason string, now time.Time) (bool, error)
}
