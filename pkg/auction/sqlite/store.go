// Package sqlite implements auction.Repository on an embedded SQLite database
// (modernc.org/sqlite, no cgo). It suits single-host deployments and tests.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/otherjamesbrown/salelink/pkg/auction"
	slerrors "github.com/otherjamesbrown/salelink/pkg/errors"
)

var _ auction.Repository = (*Store)(nil)

// Store is a SQLite-backed repository.
type Store struct {
	db    *sql.DB
	clock func() time.Time
}

// Open opens (or creates) the database at path and applies the schema.
// Use ":memory:" for a private in-memory database.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// One connection serialises writers and keeps :memory: databases alive.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA busy_timeout=5000;`,
		`PRAGMA foreign_keys=ON;`,
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite %s: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	return &Store{db: db, clock: time.Now}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the handle for health checks.
func (s *Store) DB() *sql.DB {
	return s.db
}

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const propertyColumns = `id, county, parcel_id, sale_type_hint, sale_date_hint, sale_status_override,
	linked_sale_id, auction_status, status_updated_at, created_at, updated_at`

const saleColumns = `id, county, sale_type, sale_date, status, created_at, updated_at`

const entryColumns = `id, county, extracted_sale_date, extracted_sale_type, property_count, status,
	assigned_agent, assigned_at, resolved_sale_id, resolution_notes, resolved_at, created_at, updated_at`

// CreateProperty registers an ingested property with unknown status.
func (s *Store) CreateProperty(ctx context.Context, np auction.NewProperty) (*auction.Property, error) {
	if strings.TrimSpace(np.County) == "" {
		return nil, fmt.Errorf("property county is required: %w", slerrors.ErrValidation)
	}
	now := s.clock().UnixNano()
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO properties (county, parcel_id, sale_type_hint, sale_date_hint, auction_status, created_at, updated_at)
		VALUES (?, ?, ?, ?, 'unknown', ?, ?)
		RETURNING `+propertyColumns,
		np.County, nullString(np.ParcelID), saleTypeArg(np.SaleTypeHint), dateArg(np.SaleDateHint), now, now)
	p, err := scanProperty(row)
	if err != nil {
		return nil, fmt.Errorf("insert property: %w", err)
	}
	return p, nil
}

// GetProperty returns the property or ErrNotFound.
func (s *Store) GetProperty(ctx context.Context, id int64) (*auction.Property, error) {
	return getProperty(ctx, s.db, id)
}

func getProperty(ctx context.Context, q queryer, id int64) (*auction.Property, error) {
	p, err := scanProperty(q.QueryRowContext(ctx, `SELECT `+propertyColumns+` FROM properties WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("property %d: %w", id, slerrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get property %d: %w", id, err)
	}
	return p, nil
}

// ListUnlinkedProperties pages unlinked properties by id.
func (s *Store) ListUnlinkedProperties(ctx context.Context, f auction.PropertyFilter) ([]auction.Property, error) {
	query := `SELECT ` + propertyColumns + ` FROM properties WHERE linked_sale_id IS NULL AND id > ?`
	args := []any{f.AfterID}
	if f.County != "" {
		query += ` AND county = ?`
		args = append(args, f.County)
	}
	query += ` ORDER BY id`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	return queryProperties(ctx, s.db, query, args...)
}

// CountLinkedProperties counts linked properties, optionally in one county.
func (s *Store) CountLinkedProperties(ctx context.Context, county string) (int64, error) {
	query := `SELECT COUNT(*) FROM properties WHERE linked_sale_id IS NOT NULL`
	var args []any
	if county != "" {
		query += ` AND county = ?`
		args = append(args, county)
	}
	var n int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count linked properties: %w", err)
	}
	return n, nil
}

// LinkProperty links an unlinked property and stores its recomputed status.
func (s *Store) LinkProperty(ctx context.Context, propertyID, saleID int64, now time.Time) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin link: %w", err)
	}
	defer tx.Rollback()

	p, err := getProperty(ctx, tx, propertyID)
	if err != nil {
		return false, err
	}
	if p.LinkedSaleID != nil {
		return false, nil
	}
	sale, err := getSale(ctx, tx, saleID)
	if err != nil {
		return false, err
	}

	status := auction.CalculateStatus(p.Override, sale, now)
	res, err := tx.ExecContext(ctx, `
		UPDATE properties
		SET linked_sale_id = ?, auction_status = ?, status_updated_at = ?, updated_at = ?
		WHERE id = ? AND linked_sale_id IS NULL`,
		saleID, string(status), now.UnixNano(), s.clock().UnixNano(), propertyID)
	if err != nil {
		return false, fmt.Errorf("link property %d: %w", propertyID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit link: %w", err)
	}
	return true, nil
}

// SetOverride sets or clears the manual override and recomputes status.
func (s *Store) SetOverride(ctx context.Context, propertyID int64, override *auction.Override, now time.Time) (*auction.Property, error) {
	if override != nil && !override.IsValid() {
		return nil, fmt.Errorf("override %q: %w", *override, slerrors.ErrValidation)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin override: %w", err)
	}
	defer tx.Rollback()

	p, err := getProperty(ctx, tx, propertyID)
	if err != nil {
		return nil, err
	}
	sale, err := linkedSale(ctx, tx, p)
	if err != nil {
		return nil, err
	}
	p.Override = override
	var ov any
	if override != nil {
		ov = string(*override)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE properties SET sale_status_override = ? WHERE id = ?`, ov, propertyID); err != nil {
		return nil, fmt.Errorf("set override: %w", err)
	}
	if err := s.writeStatus(ctx, tx, p, sale, now); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit override: %w", err)
	}
	return p, nil
}

// CreateSale registers a sale. Status defaults to scheduled.
func (s *Store) CreateSale(ctx context.Context, ns auction.NewSale) (*auction.Sale, error) {
	if err := ns.Validate(); err != nil {
		return nil, err
	}
	status := ns.Status
	if status == "" {
		status = auction.SaleStatusScheduled
	}
	now := s.clock().UnixNano()
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO sales (county, sale_type, sale_date, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING `+saleColumns,
		ns.County, string(ns.Type), timeArg(ns.Date), string(status), now, now)
	sale, err := scanSale(row)
	if err != nil {
		return nil, fmt.Errorf("insert sale: %w", err)
	}
	return sale, nil
}

// GetSale returns the sale or ErrNotFound.
func (s *Store) GetSale(ctx context.Context, id int64) (*auction.Sale, error) {
	return getSale(ctx, s.db, id)
}

func getSale(ctx context.Context, q queryer, id int64) (*auction.Sale, error) {
	sale, err := scanSale(q.QueryRowContext(ctx, `SELECT `+saleColumns+` FROM sales WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("sale %d: %w", id, slerrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get sale %d: %w", id, err)
	}
	return sale, nil
}

func linkedSale(ctx context.Context, q queryer, p *auction.Property) (*auction.Sale, error) {
	if p.LinkedSaleID == nil {
		return nil, nil
	}
	sale, err := getSale(ctx, q, *p.LinkedSaleID)
	if slerrors.IsNotFound(err) {
		return nil, nil
	}
	return sale, err
}

// ListSalesByCounty returns the county's sales in id order.
func (s *Store) ListSalesByCounty(ctx context.Context, county string) ([]auction.Sale, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+saleColumns+` FROM sales WHERE county = ? ORDER BY id`, county)
	if err != nil {
		return nil, fmt.Errorf("list sales: %w", err)
	}
	defer rows.Close()

	var out []auction.Sale
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sale)
	}
	return out, rows.Err()
}

// UpdateSale applies u and recomputes every linked property.
func (s *Store) UpdateSale(ctx context.Context, id int64, u auction.SaleUpdate, now time.Time) (*auction.Sale, int, error) {
	if err := u.Validate(); err != nil {
		return nil, 0, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("begin sale update: %w", err)
	}
	defer tx.Rollback()

	current, err := getSale(ctx, tx, id)
	if err != nil {
		return nil, 0, err
	}
	sale := u.Apply(*current)
	sale.UpdatedAt = s.clock()
	if _, err := tx.ExecContext(ctx, `
		UPDATE sales SET sale_type = ?, sale_date = ?, status = ?, updated_at = ? WHERE id = ?`,
		string(sale.Type), timeArg(sale.Date), string(sale.Status), sale.UpdatedAt.UnixNano(), id); err != nil {
		return nil, 0, fmt.Errorf("update sale %d: %w", id, err)
	}

	linked, err := queryProperties(ctx, tx, `SELECT `+propertyColumns+` FROM properties WHERE linked_sale_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, 0, err
	}
	for i := range linked {
		if err := s.writeStatus(ctx, tx, &linked[i], &sale, now); err != nil {
			return nil, 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, 0, fmt.Errorf("commit sale update: %w", err)
	}
	return &sale, len(linked), nil
}

// DeleteSale unlinks dependents, recomputes them and removes the sale.
func (s *Store) DeleteSale(ctx context.Context, id int64, now time.Time) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin sale delete: %w", err)
	}
	defer tx.Rollback()

	if _, err := getSale(ctx, tx, id); err != nil {
		return 0, err
	}
	linked, err := queryProperties(ctx, tx, `SELECT `+propertyColumns+` FROM properties WHERE linked_sale_id = ? ORDER BY id`, id)
	if err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE properties SET linked_sale_id = NULL WHERE linked_sale_id = ?`, id); err != nil {
		return 0, fmt.Errorf("unlink sale %d: %w", id, err)
	}
	for i := range linked {
		linked[i].LinkedSaleID = nil
		if err := s.writeStatus(ctx, tx, &linked[i], nil, now); err != nil {
			return 0, err
		}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sales WHERE id = ?`, id); err != nil {
		return 0, fmt.Errorf("delete sale %d: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit sale delete: %w", err)
	}
	return len(linked), nil
}

// RecomputeStatuses corrects stored statuses that drifted from the calculator.
func (s *Store) RecomputeStatuses(ctx context.Context, f auction.PropertyFilter, now time.Time) (*auction.RecomputePage, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin recompute: %w", err)
	}
	defer tx.Rollback()

	query := `SELECT ` + propertyColumns + ` FROM properties WHERE id > ?`
	args := []any{f.AfterID}
	if f.County != "" {
		query += ` AND county = ?`
		args = append(args, f.County)
	}
	query += ` ORDER BY id`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	props, err := queryProperties(ctx, tx, query, args...)
	if err != nil {
		return nil, err
	}

	page := &auction.RecomputePage{LastID: f.AfterID}
	for i := range props {
		p := &props[i]
		page.Scanned++
		page.LastID = p.ID
		sale, err := linkedSale(ctx, tx, p)
		if err != nil {
			return nil, err
		}
		want := auction.CalculateStatus(p.Override, sale, now)
		if want == p.Status {
			continue
		}
		page.Changes = append(page.Changes, auction.StatusChange{PropertyID: p.ID, From: p.Status, To: want})
		if err := s.writeStatus(ctx, tx, p, sale, now); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit recompute: %w", err)
	}
	return page, nil
}

// StatusBreakdown counts properties per county and status.
func (s *Store) StatusBreakdown(ctx context.Context, county string) ([]auction.StatusCount, error) {
	query := `SELECT county, auction_status, COUNT(*) FROM properties`
	var args []any
	if county != "" {
		query += ` WHERE county = ?`
		args = append(args, county)
	}
	query += ` GROUP BY county, auction_status ORDER BY county, auction_status`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("status breakdown: %w", err)
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
func (s *Store) ListUnresolvedGroups(ctx context.Context) ([]auction.UnresolvedGroup, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT county, sale_date_hint, sale_type_hint, COUNT(*)
		FROM properties
		WHERE linked_sale_id IS NULL AND auction_status = 'unknown'
		GROUP BY county, sale_date_hint, sale_type_hint
		ORDER BY county, sale_date_hint, sale_type_hint`)
	if err != nil {
		return nil, fmt.Errorf("list unresolved groups: %w", err)
	}
	defer rows.Close()

	var out []auction.UnresolvedGroup
	for rows.Next() {
		var g auction.UnresolvedGroup
		var date, typ sql.NullString
		if err := rows.Scan(&g.Key.County, &date, &typ, &g.PropertyCount); err != nil {
			return nil, err
		}
		if g.Key.SaleDate, err = parseDate(date); err != nil {
			return nil, err
		}
		g.Key.SaleType = saleTypePtr(typ)
		out = append(out, g)
	}
	return out, rows.Err()
}

// CreateQueueEntryIfAbsent inserts a pending entry unless the group has an
// active one; the partial unique index arbitrates concurrent callers.
func (s *Store) CreateQueueEntryIfAbsent(ctx context.Context, g auction.UnresolvedGroup) (*auction.QueueEntry, bool, error) {
	key := g.Key.String()
	now := s.clock().UnixNano()
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO research_queue
			(county, extracted_sale_date, extracted_sale_type, group_key, property_count, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 'pending', ?, ?)
		ON CONFLICT DO NOTHING
		RETURNING `+entryColumns,
		g.Key.County, dateArg(g.Key.SaleDate), saleTypeArg(g.Key.SaleType), key, g.PropertyCount, now, now)
	e, err := scanEntry(row)
	if err == nil {
		return e, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("insert research entry: %w", err)
	}

	existing, err := scanEntry(s.db.QueryRowContext(ctx, `
		SELECT `+entryColumns+` FROM research_queue
		WHERE group_key = ? AND status IN ('pending','researching')`, key))
	if errors.Is(err, sql.ErrNoRows) {
		// The conflicting entry became terminal after the insert.
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load active research entry: %w", err)
	}
	return existing, false, nil
}

// GetQueueEntry returns the entry or ErrNotFound.
func (s *Store) GetQueueEntry(ctx context.Context, id int64) (*auction.QueueEntry, error) {
	return getEntry(ctx, s.db, id)
}

func getEntry(ctx context.Context, q queryer, id int64) (*auction.QueueEntry, error) {
	e, err := scanEntry(q.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM research_queue WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("research queue entry %d: %w", id, slerrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get research entry %d: %w", id, err)
	}
	return e, nil
}

// ListQueueEntries lists entries newest first.
func (s *Store) ListQueueEntries(ctx context.Context, f auction.QueueFilter) ([]auction.QueueEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM research_queue WHERE 1=1`
	var args []any
	if f.Status != nil {
		query += ` AND status = ?`
		args = append(args, string(*f.Status))
	}
	if f.County != "" {
		query += ` AND county = ?`
		args = append(args, f.County)
	}
	query += ` ORDER BY id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	return s.queryEntries(ctx, query, args...)
}

// ListPendingQueueEntries orders by property count, then age.
func (s *Store) ListPendingQueueEntries(ctx context.Context, limit int) ([]auction.QueueEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM research_queue WHERE status = 'pending'
		ORDER BY property_count DESC, created_at ASC, id ASC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.queryEntries(ctx, query, args...)
}

// AssignQueueEntry claims a pending entry for agent.
func (s *Store) AssignQueueEntry(ctx context.Context, id int64, agent string, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE research_queue
		SET status = 'researching', assigned_agent = ?, assigned_at = ?, updated_at = ?
		WHERE id = ? AND status = 'pending'`,
		agent, now.UnixNano(), now.UnixNano(), id)
	if err != nil {
		return false, fmt.Errorf("assign research entry %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 1 {
		return true, nil
	}
	if _, err := getEntry(ctx, s.db, id); err != nil {
		return false, err
	}
	return false, nil
}

// ResolveQueueEntry resolves an active entry and links its group.
func (s *Store) ResolveQueueEntry(ctx context.Context, id, saleID int64, notes string, now time.Time) (*auction.Resolution, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin resolve: %w", err)
	}
	defer tx.Rollback()

	entry, err := getEntry(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	sale, err := getSale(ctx, tx, saleID)
	if err != nil {
		return nil, err
	}
	res := &auction.Resolution{PreviousState: entry.Status, Entry: entry}

	upd, err := tx.ExecContext(ctx, `
		UPDATE research_queue
		SET status = 'resolved', resolved_sale_id = ?, resolution_notes = ?, resolved_at = ?, updated_at = ?
		WHERE id = ? AND status IN ('pending','researching')`,
		saleID, nullString(notes), now.UnixNano(), now.UnixNano(), id)
	if err != nil {
		return nil, fmt.Errorf("resolve research entry %d: %w", id, err)
	}
	if n, err := upd.RowsAffected(); err != nil {
		return nil, err
	} else if n == 0 {
		return res, nil
	}

	query := `SELECT ` + propertyColumns + ` FROM properties WHERE linked_sale_id IS NULL AND county = ?`
	args := []any{entry.Key.County}
	if entry.Key.SaleDate != nil {
		query += ` AND sale_date_hint = ?`
		args = append(args, dateArg(entry.Key.SaleDate))
	}
	if entry.Key.SaleType != nil {
		query += ` AND sale_type_hint = ?`
		args = append(args, string(*entry.Key.SaleType))
	}
	members, err := queryProperties(ctx, tx, query+` ORDER BY id`, args...)
	if err != nil {
		return nil, err
	}
	for i := range members {
		p := &members[i]
		status := auction.CalculateStatus(p.Override, sale, now)
		r, err := tx.ExecContext(ctx, `
			UPDATE properties
			SET linked_sale_id = ?, auction_status = ?, status_updated_at = ?, updated_at = ?
			WHERE id = ? AND linked_sale_id IS NULL`,
			saleID, string(status), now.UnixNano(), s.clock().UnixNano(), p.ID)
		if err != nil {
			return nil, fmt.Errorf("link property %d: %w", p.ID, err)
		}
		if n, _ := r.RowsAffected(); n == 1 {
			res.LinkedCount++
		}
	}

	absorb := `
		UPDATE research_queue
		SET status = 'resolved', resolved_sale_id = ?, resolution_notes = ?, resolved_at = ?, updated_at = ?
		WHERE county = ? AND id <> ? AND status IN ('pending','researching')`
	absorbArgs := []any{saleID, auction.AbsorbedNote(id), now.UnixNano(), now.UnixNano(), entry.Key.County, id}
	if entry.Key.SaleDate != nil {
		absorb += ` AND extracted_sale_date = ?`
		absorbArgs = append(absorbArgs, dateArg(entry.Key.SaleDate))
	}
	if entry.Key.SaleType != nil {
		absorb += ` AND extracted_sale_type = ?`
		absorbArgs = append(absorbArgs, string(*entry.Key.SaleType))
	}
	rows, err := tx.QueryContext(ctx, absorb+` RETURNING id`, absorbArgs...)
	if err != nil {
		return nil, fmt.Errorf("close absorbed research entries: %w", err)
	}
	for rows.Next() {
		var oid int64
		if err := rows.Scan(&oid); err != nil {
			rows.Close()
			return nil, err
		}
		res.Absorbed = append(res.Absorbed, oid)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	sort.Slice(res.Absorbed, func(i, j int) bool { return res.Absorbed[i] < res.Absorbed[j] })

	if res.Entry, err = getEntry(ctx, tx, id); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit resolve: %w", err)
	}
	res.Applied = true
	return res, nil
}

// FailQueueEntry fails an active entry, keeping it for audit.
func (s *Store) FailQueueEntry(ctx context.Context, id int64, reason string, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE research_queue
		SET status = 'failed', resolution_notes = ?, updated_at = ?
		WHERE id = ? AND status IN ('pending','researching')`,
		nullString(reason), now.UnixNano(), id)
	if err != nil {
		return false, fmt.Errorf("fail research entry %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 1 {
		return true, nil
	}
	if _, err := getEntry(ctx, s.db, id); err != nil {
		return false, err
	}
	return false, nil
}

// writeStatus is the status funnel: every stored status goes through it.
func (s *Store) writeStatus(ctx context.Context, tx *sql.Tx, p *auction.Property, sale *auction.Sale, now time.Time) error {
	p.Status = auction.CalculateStatus(p.Override, sale, now)
	at := now
	p.StatusUpdatedAt = &at
	if _, err := tx.ExecContext(ctx, `
		UPDATE properties SET auction_status = ?, status_updated_at = ?, updated_at = ? WHERE id = ?`,
		string(p.Status), now.UnixNano(), s.clock().UnixNano(), p.ID); err != nil {
		return fmt.Errorf("store status of property %d: %w", p.ID, err)
	}
	return nil
}

func (s *Store) queryEntries(ctx context.Context, query string, args ...any) ([]auction.QueueEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list research entries: %w", err)
	}
	defer rows.Close()

	var out []auction.QueueEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func queryProperties(ctx context.Context, q queryer, query string, args ...any) ([]auction.Property, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query properties: %w", err)
	}
	defer rows.Close()

	var out []auction.Property
	for rows.Next() {
		p, err := scanProperty(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}
