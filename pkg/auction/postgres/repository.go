// Package postgres implements auction.Repository on PostgreSQL with pgx.
// The schema lives in the top-level migrations package.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/otherjamesbrown/salelink/pkg/auction"
	slerrors "github.com/otherjamesbrown/salelink/pkg/errors"
)

var _ auction.Repository = (*Repository)(nil)

// Repository implements auction.Repository using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const propertyColumns = `id, county, parcel_id, sale_type_hint, sale_date_hint, sale_status_override,
	linked_sale_id, auction_status, status_updated_at, created_at, updated_at`

const saleColumns = `id, county, sale_type, sale_date, status, created_at, updated_at`

const entryColumns = `id, county, extracted_sale_date, extracted_sale_type, property_count, status,
	assigned_agent, assigned_at, resolved_sale_id, resolution_notes, resolved_at, created_at, updated_at`

// CreateProperty registers an ingested property with unknown status.
func (r *Repository) CreateProperty(ctx context.Context, np auction.NewProperty) (*auction.Property, error) {
	if strings.TrimSpace(np.County) == "" {
		return nil, fmt.Errorf("property county is required: %w", slerrors.ErrValidation)
	}
	query := `
		INSERT INTO properties (county, parcel_id, sale_type_hint, sale_date_hint, auction_status)
		VALUES ($1, $2, $3, $4, 'unknown')
		RETURNING ` + propertyColumns

	p, err := scanProperty(r.db.QueryRow(ctx, query,
		np.County, nullableString(np.ParcelID), saleTypeArg(np.SaleTypeHint), np.SaleDateHint))
	if err != nil {
		return nil, fmt.Errorf("creating property: %w", err)
	}
	return p, nil
}

// GetProperty retrieves a property by ID.
func (r *Repository) GetProperty(ctx context.Context, id int64) (*auction.Property, error) {
	return getProperty(ctx, r.db, id, "")
}

func getProperty(ctx context.Context, q querier, id int64, lock string) (*auction.Property, error) {
	p, err := scanProperty(q.QueryRow(ctx, `SELECT `+propertyColumns+` FROM properties WHERE id = $1 `+lock, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("property %d: %w", id, slerrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting property %d: %w", id, err)
	}
	return p, nil
}

// ListUnlinkedProperties pages unlinked properties by id.
func (r *Repository) ListUnlinkedProperties(ctx context.Context, f auction.PropertyFilter) ([]auction.Property, error) {
	query := `SELECT ` + propertyColumns + ` FROM properties WHERE linked_sale_id IS NULL AND id > $1`
	args := []interface{}{f.AfterID}
	argNum := 2

	if f.County != "" {
		query += fmt.Sprintf(" AND county = $%d", argNum)
		args = append(args, f.County)
		argNum++
	}
	query += " ORDER BY id"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argNum)
		args = append(args, f.Limit)
	}
	return queryProperties(ctx, r.db, query, args...)
}

// CountLinkedProperties counts linked properties, optionally in one county.
func (r *Repository) CountLinkedProperties(ctx context.Context, county string) (int64, error) {
	var n int64
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM properties
		WHERE linked_sale_id IS NOT NULL AND ($1 = '' OR county = $1)`, county).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting linked properties: %w", err)
	}
	return n, nil
}

// LinkProperty links an unlinked property and stores its recomputed status.
func (r *Repository) LinkProperty(ctx context.Context, propertyID, saleID int64, now time.Time) (bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("beginning link transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	p, err := getProperty(ctx, tx, propertyID, "FOR UPDATE")
	if err != nil {
		return false, err
	}
	if p.LinkedSaleID != nil {
		return false, nil
	}
	sale, err := getSale(ctx, tx, saleID, "FOR SHARE")
	if err != nil {
		return false, err
	}

	status := auction.CalculateStatus(p.Override, sale, now)
	tag, err := tx.Exec(ctx, `
		UPDATE properties
		SET linked_sale_id = $2, auction_status = $3, status_updated_at = $4, updated_at = NOW()
		WHERE id = $1 AND linked_sale_id IS NULL`,
		propertyID, saleID, string(status), now)
	if err != nil {
		return false, fmt.Errorf("linking property %d: %w", propertyID, err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("committing link: %w", err)
	}
	return true, nil
}

// SetOverride sets or clears the manual override and recomputes status.
func (r *Repository) SetOverride(ctx context.Context, propertyID int64, override *auction.Override, now time.Time) (*auction.Property, error) {
	if override != nil && !override.IsValid() {
		return nil, fmt.Errorf("override %q: %w", *override, slerrors.ErrValidation)
	}
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning override transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	p, err := getProperty(ctx, tx, propertyID, "FOR UPDATE")
	if err != nil {
		return nil, err
	}
	sale, err := linkedSale(ctx, tx, p)
	if err != nil {
		return nil, err
	}

	p.Override = override
	p.Status = auction.CalculateStatus(override, sale, now)
	p.StatusUpdatedAt = &now
	if _, err := tx.Exec(ctx, `
		UPDATE properties
		SET sale_status_override = $2, auction_status = $3, status_updated_at = $4, updated_at = NOW()
		WHERE id = $1`,
		propertyID, overrideArg(override), string(p.Status), now); err != nil {
		return nil, fmt.Errorf("setting override on property %d: %w", propertyID, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing override: %w", err)
	}
	return p, nil
}

// CreateSale registers a sale. Status defaults to scheduled.
func (r *Repository) CreateSale(ctx context.Context, ns auction.NewSale) (*auction.Sale, error) {
	if err := ns.Validate(); err != nil {
		return nil, err
	}
	status := ns.Status
	if status == "" {
		status = auction.SaleStatusScheduled
	}
	sale, err := scanSale(r.db.QueryRow(ctx, `
		INSERT INTO sales (county, sale_type, sale_date, status)
		VALUES ($1, $2, $3, $4)
		RETURNING `+saleColumns,
		ns.County, string(ns.Type), ns.Date, string(status)))
	if err != nil {
		return nil, fmt.Errorf("creating sale: %w", err)
	}
	return sale, nil
}

// GetSale retrieves a sale by ID.
func (r *Repository) GetSale(ctx context.Context, id int64) (*auction.Sale, error) {
	return getSale(ctx, r.db, id, "")
}

func getSale(ctx context.Context, q querier, id int64, lock string) (*auction.Sale, error) {
	sale, err := scanSale(q.QueryRow(ctx, `SELECT `+saleColumns+` FROM sales WHERE id = $1 `+lock, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("sale %d: %w", id, slerrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting sale %d: %w", id, err)
	}
	return sale, nil
}

func linkedSale(ctx context.Context, q querier, p *auction.Property) (*auction.Sale, error) {
	if p.LinkedSaleID == nil {
		return nil, nil
	}
	sale, err := getSale(ctx, q, *p.LinkedSaleID, "")
	if slerrors.IsNotFound(err) {
		return nil, nil
	}
	return sale, err
}

// ListSalesByCounty returns the county's sales in id order.
func (r *Repository) ListSalesByCounty(ctx context.Context, county string) ([]auction.Sale, error) {
	rows, err := r.db.Query(ctx, `SELECT `+saleColumns+` FROM sales WHERE county = $1 ORDER BY id`, county)
	if err != nil {
		return nil, fmt.Errorf("listing sales: %w", err)
	}
	defer rows.Close()

	var sales []auction.Sale
	for rows.Next() {
		s, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		sales = append(sales, *s)
	}
	return sales, rows.Err()
}

// UpdateSale applies u and recomputes every linked property in one transaction.
func (r *Repository) UpdateSale(ctx context.Context, id int64, u auction.SaleUpdate, now time.Time) (*auction.Sale, int, error) {
	if err := u.Validate(); err != nil {
		return nil, 0, err
	}
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("beginning sale update: %w", err)
	}
	defer tx.Rollback(ctx)

	current, err := getSale(ctx, tx, id, "FOR UPDATE")
	if err != nil {
		return nil, 0, err
	}
	next := u.Apply(*current)
	sale, err := scanSale(tx.QueryRow(ctx, `
		UPDATE sales SET sale_type = $2, sale_date = $3, status = $4, updated_at = NOW()
		WHERE id = $1
		RETURNING `+saleColumns,
		id, string(next.Type), next.Date, string(next.Status)))
	if err != nil {
		return nil, 0, fmt.Errorf("updating sale %d: %w", id, err)
	}

	linked, err := queryProperties(ctx, tx,
		`SELECT `+propertyColumns+` FROM properties WHERE linked_sale_id = $1 ORDER BY id FOR UPDATE`, id)
	if err != nil {
		return nil, 0, err
	}
	writes := make([]statusWrite, len(linked))
	for i, p := range linked {
		writes[i] = statusWrite{id: p.ID, status: auction.CalculateStatus(p.Override, sale, now)}
	}
	if _, err := writeStatuses(ctx, tx, writes, now); err != nil {
		return nil, 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, 0, fmt.Errorf("committing sale update: %w", err)
	}
	return sale, len(linked), nil
}

// DeleteSale unlinks dependents, recomputes them and removes the sale.
func (r *Repository) DeleteSale(ctx context.Context, id int64, now time.Time) (int, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("beginning sale delete: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := getSale(ctx, tx, id, "FOR UPDATE"); err != nil {
		return 0, err
	}
	linked, err := queryProperties(ctx, tx,
		`SELECT `+propertyColumns+` FROM properties WHERE linked_sale_id = $1 ORDER BY id FOR UPDATE`, id)
	if err != nil {
		return 0, err
	}
	if _, err := tx.Exec(ctx, `UPDATE properties SET linked_sale_id = NULL WHERE linked_sale_id = $1`, id); err != nil {
		return 0, fmt.Errorf("unlinking sale %d: %w", id, err)
	}
	writes := make([]statusWrite, len(linked))
	for i, p := range linked {
		writes[i] = statusWrite{id: p.ID, status: auction.CalculateStatus(p.Override, nil, now)}
	}
	if _, err := writeStatuses(ctx, tx, writes, now); err != nil {
		return 0, err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM sales WHERE id = $1`, id); err != nil {
		return 0, fmt.Errorf("deleting sale %d: %w", id, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("committing sale delete: %w", err)
	}
	return len(linked), nil
}

// RecomputeStatuses corrects stored statuses that drifted from the calculator.
func (r *Repository) RecomputeStatuses(ctx context.Context, f auction.PropertyFilter, now time.Time) (*auction.RecomputePage, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning recompute: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		SELECT p.id, p.sale_status_override, p.auction_status,
			s.id, s.county, s.sale_type, s.sale_date, s.status, s.created_at, s.updated_at
		FROM properties p
		LEFT JOIN sales s ON s.id = p.linked_sale_id
		WHERE p.id > $1`
	args := []interface{}{f.AfterID}
	argNum := 2
	if f.County != "" {
		query += fmt.Sprintf(" AND p.county = $%d", argNum)
		args = append(args, f.County)
		argNum++
	}
	query += " ORDER BY p.id"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argNum)
		args = append(args, f.Limit)
	}
	query += " FOR UPDATE OF p"

	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("scanning statuses: %w", err)
	}

	page := &auction.RecomputePage{LastID: f.AfterID}
	var writes []statusWrite
	for rows.Next() {
		var (
			id       int64
			override *string
			stored   string
			saleID   *int64
			county   *string
			typ      *string
			date     *time.Time
			status   *string
			created  *time.Time
			updated  *time.Time
		)
		if err := rows.Scan(&id, &override, &stored, &saleID, &county, &typ, &date, &status, &created, &updated); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning status row: %w", err)
		}
		page.Scanned++
		page.LastID = id

		var sale *auction.Sale
		if saleID != nil {
			sale = &auction.Sale{ID: *saleID, County: deref(county), Type: auction.SaleType(deref(typ)),
				Date: date, Status: auction.SaleStatus(deref(status))}
		}
		want := auction.CalculateStatus(overridePtr(override), sale, now)
		if want != auction.Status(stored) {
			page.Changes = append(page.Changes, auction.StatusChange{PropertyID: id, From: auction.Status(stored), To: want})
			writes = append(writes, statusWrite{id: id, status: want})
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating statuses: %w", err)
	}

	if _, err := writeStatuses(ctx, tx, writes, now); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing recompute: %w", err)
	}
	return page, nil
}

// StatusBreakdown counts properties per county and status.
func (r *Repository) StatusBreakdown(ctx context.Context, county string) ([]auction.StatusCount, error) {
	rows, err := r.db.Query(ctx, `
		SELECT county, auction_status, COUNT(*)
		FROM properties
		WHERE ($1 = '' OR county = $1)
		GROUP BY county, auction_status
		ORDER BY county, auction_status`, county)
	if err != nil {
		return nil, fmt.Errorf("querying status breakdown: %w", err)
	}
	defer rows.Close()

	var out []auction.StatusCount
	for rows.Next() {
		var c auction.StatusCount
		var status string
		if err := rows.Scan(&c.County, &status, &c.Count); err != nil {
			return nil, err
		}
		c.Status = auction.Status(status)
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListUnresolvedGroups groups unlinked properties whose status is unknown.
func (r *Repository) ListUnresolvedGroups(ctx context.Context) ([]auction.UnresolvedGroup, error) {
	rows, err := r.db.Query(ctx, `
		SELECT county, sale_date_hint, sale_type_hint, COUNT(*)
		FROM properties
		WHERE linked_sale_id IS NULL AND auction_status = 'unknown'
		GROUP BY county, sale_date_hint, sale_type_hint
		ORDER BY county, sale_date_hint NULLS FIRST, sale_type_hint NULLS FIRST`)
	if err != nil {
		return nil, fmt.Errorf("listing unresolved groups: %w", err)
	}
	defer rows.Close()

	var groups []auction.UnresolvedGroup
	for rows.Next() {
		var g auction.UnresolvedGroup
		var typ *string
		if err := rows.Scan(&g.Key.County, &g.Key.SaleDate, &typ, &g.PropertyCount); err != nil {
			return nil, err
		}
		g.Key.SaleType = saleTypePtr(typ)
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// CreateQueueEntryIfAbsent inserts a pending entry unless the group already has
// an active one. The partial unique index arbitrates concurrent callers. The
// entry is nil when the competing active entry finished before it could be read.
func (r *Repository) CreateQueueEntryIfAbsent(ctx context.Context, g auction.UnresolvedGroup) (*auction.QueueEntry, bool, error) {
	key := g.Key.String()
	e, err := scanEntry(r.db.QueryRow(ctx, `
		INSERT INTO research_queue
			(county, extracted_sale_date, extracted_sale_type, group_key, property_count, status)
		VALUES ($1, $2, $3, $4, $5, 'pending')
		ON CONFLICT DO NOTHING
		RETURNING `+entryColumns,
		g.Key.County, g.Key.SaleDate, saleTypeArg(g.Key.SaleType), key, g.PropertyCount))
	if err == nil {
		return e, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("creating research entry: %w", err)
	}

	existing, err := scanEntry(r.db.QueryRow(ctx, `
		SELECT `+entryColumns+` FROM research_queue
		WHERE group_key = $1 AND status IN ('pending', 'researching')`, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("loading active research entry: %w", err)
	}
	return existing, false, nil
}

// GetQueueEntry retrieves a research entry by ID.
func (r *Repository) GetQueueEntry(ctx context.Context, id int64) (*auction.QueueEntry, error) {
	return getEntry(ctx, r.db, id, "")
}

func getEntry(ctx context.Context, q querier, id int64, lock string) (*auction.QueueEntry, error) {
	e, err := scanEntry(q.QueryRow(ctx, `SELECT `+entryColumns+` FROM research_queue WHERE id = $1 `+lock, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("research queue entry %d: %w", id, slerrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting research entry %d: %w", id, err)
	}
	return e, nil
}

// ListQueueEntries lists entries newest first.
func (r *Repository) ListQueueEntries(ctx context.Context, f auction.QueueFilter) ([]auction.QueueEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM research_queue WHERE TRUE`
	var args []interface{}
	argNum := 1

	if f.Status != nil {
		query += fmt.Sprintf(" AND status = $%d", argNum)
		args = append(args, string(*f.Status))
		argNum++
	}
	if f.County != "" {
		query += fmt.Sprintf(" AND county = $%d", argNum)
		args = append(args, f.County)
		argNum++
	}
	query += " ORDER BY id DESC"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argNum)
		args = append(args, f.Limit)
	}
	return r.queryEntries(ctx, query, args...)
}

// ListPendingQueueEntries orders by property count, then age.
func (r *Repository) ListPendingQueueEntries(ctx context.Context, limit int) ([]auction.QueueEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM research_queue WHERE status = 'pending'
		ORDER BY property_count DESC, created_at ASC, id ASC`
	var args []interface{}
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}
	return r.queryEntries(ctx, query, args...)
}

// AssignQueueEntry claims a pending entry for agent.
func (r *Repository) AssignQueueEntry(ctx context.Context, id int64, agent string, now time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE research_queue
		SET status = 'researching', assigned_agent = $2, assigned_at = $3, updated_at = $3
		WHERE id = $1 AND status = 'pending'`, id, agent, now)
	if err != nil {
		return false, fmt.Errorf("assigning research entry %d: %w", id, err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	if _, err := getEntry(ctx, r.db, id, ""); err != nil {
		return false, err
	}
	return false, nil
}

// ResolveQueueEntry resolves an active entry and links its group in one transaction.
func (r *Repository) ResolveQueueEntry(ctx context.Context, id, saleID int64, notes string, now time.Time) (*auction.Resolution, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning resolve: %w", err)
	}
	defer tx.Rollback(ctx)

	entry, err := getEntry(ctx, tx, id, "FOR UPDATE")
	if err != nil {
		return nil, err
	}
	sale, err := getSale(ctx, tx, saleID, "FOR SHARE")
	if err != nil {
		return nil, err
	}
	res := &auction.Resolution{PreviousState: entry.Status, Entry: entry}
	if entry.Status.IsTerminal() {
		return res, nil
	}

	resolved, err := scanEntry(tx.QueryRow(ctx, `
		UPDATE research_queue
		SET status = 'resolved', resolved_sale_id = $2, resolution_notes = $3, resolved_at = $4, updated_at = $4
		WHERE id = $1 AND status IN ('pending', 'researching')
		RETURNING `+entryColumns,
		id, saleID, nullableString(notes), now))
	if errors.Is(err, pgx.ErrNoRows) {
		return res, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolving research entry %d: %w", id, err)
	}

	query := `SELECT ` + propertyColumns + ` FROM properties WHERE linked_sale_id IS NULL AND county = $1`
	args := []interface{}{entry.Key.County}
	argNum := 2
	if entry.Key.SaleDate != nil {
		query += fmt.Sprintf(" AND sale_date_hint = $%d", argNum)
		args = append(args, *entry.Key.SaleDate)
		argNum++
	}
	if entry.Key.SaleType != nil {
		query += fmt.Sprintf(" AND sale_type_hint = $%d", argNum)
		args = append(args, string(*entry.Key.SaleType))
	}
	members, err := queryProperties(ctx, tx, query+" ORDER BY id FOR UPDATE", args...)
	if err != nil {
		return nil, err
	}

	batch := &pgx.Batch{}
	for _, p := range members {
		batch.Queue(`
			UPDATE properties
			SET linked_sale_id = $2, auction_status = $3, status_updated_at = $4, updated_at = NOW()
			WHERE id = $1 AND linked_sale_id IS NULL`,
			p.ID, saleID, string(auction.CalculateStatus(p.Override, sale, now)), now)
	}
	linked, err := execBatch(ctx, tx, batch)
	if err != nil {
		return nil, fmt.Errorf("linking research group: %w", err)
	}

	absorb := `
		UPDATE research_queue
		SET status = 'resolved', resolved_sale_id = $1, resolution_notes = $2, resolved_at = $3, updated_at = $3
		WHERE county = $4 AND id <> $5 AND status IN ('pending', 'researching')`
	absorbArgs := []interface{}{saleID, auction.AbsorbedNote(id), now, entry.Key.County, id}
	argNum = 6
	if entry.Key.SaleDate != nil {
		absorb += fmt.Sprintf(" AND extracted_sale_date = $%d", argNum)
		absorbArgs = append(absorbArgs, *entry.Key.SaleDate)
		argNum++
	}
	if entry.Key.SaleType != nil {
		absorb += fmt.Sprintf(" AND extracted_sale_type = $%d", argNum)
		absorbArgs = append(absorbArgs, string(*entry.Key.SaleType))
	}
	rows, err := tx.Query(ctx, absorb+" RETURNING id", absorbArgs...)
	if err != nil {
		return nil, fmt.Errorf("closing absorbed research entries: %w", err)
	}
	absorbed, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("closing absorbed research entries: %w", err)
	}
	sort.Slice(absorbed, func(i, j int) bool { return absorbed[i] < absorbed[j] })

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing resolve: %w", err)
	}
	res.Applied = true
	res.Entry = resolved
	res.LinkedCount = linked
	res.Absorbed = absorbed
	return res, nil
}

// FailQueueEntry fails an active entry, keeping it for audit.
func (r *Repository) FailQueueEntry(ctx context.Context, id int64, reason string, now time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE research_queue
		SET status = 'failed', resolution_notes = $2, updated_at = $3
		WHERE id = $1 AND status IN ('pending', 'researching')`, id, nullableString(reason), now)
	if err != nil {
		return false, fmt.Errorf("failing research entry %d: %w", id, err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	if _, err := getEntry(ctx, r.db, id, ""); err != nil {
		return false, err
	}
	return false, nil
}

type statusWrite struct {
	id     int64
	status auction.Status
}

// writeStatuses is the bulk status funnel; statuses come from CalculateStatus.
func writeStatuses(ctx context.Context, tx pgx.Tx, writes []statusWrite, now time.Time) (int, error) {
	if len(writes) == 0 {
		return 0, nil
	}
	batch := &pgx.Batch{}
	for _, w := range writes {
		batch.Queue(`
			UPDATE properties SET auction_status = $2, status_updated_at = $3, updated_at = NOW()
			WHERE id = $1`, w.id, string(w.status), now)
	}
	n, err := execBatch(ctx, tx, batch)
	if err != nil {
		return 0, fmt.Errorf("storing statuses: %w", err)
	}
	return n, nil
}

func execBatch(ctx context.Context, tx pgx.Tx, batch *pgx.Batch) (int, error) {
	if batch.Len() == 0 {
		return 0, nil
	}
	results := tx.SendBatch(ctx, batch)
	affected := 0
	for i := 0; i < batch.Len(); i++ {
		tag, err := results.Exec()
		if err != nil {
			results.Close()
			return 0, err
		}
		affected += int(tag.RowsAffected())
	}
	return affected, results.Close()
}

func (r *Repository) queryEntries(ctx context.Context, query string, args ...interface{}) ([]auction.QueueEntry, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing research entries: %w", err)
	}
	defer rows.Close()

	var entries []auction.QueueEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

func queryProperties(ctx context.Context, q querier, query string, args ...interface{}) ([]auction.Property, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying properties: %w", err)
	}
	defer rows.Close()

	var props []auction.Property
	for rows.Next() {
		p, err := scanProperty(rows)
		if err != nil {
			return nil, err
		}
		props = append(props, *p)
	}
	return props, rows.Err()
}
