package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/otherjamesbrown/salelink/pkg/auction"
)

type scanner interface {
	Scan(dest ...any) error
}

func scanProperty(row scanner) (*auction.Property, error) {
	var (
		p                          auction.Property
		parcel, typeHint, dateHint sql.NullString
		override                   sql.NullString
		linked                     sql.NullInt64
		status                     string
		statusAt                   sql.NullInt64
		created, updated           int64
	)
	if err := row.Scan(&p.ID, &p.County, &parcel, &typeHint, &dateHint, &override,
		&linked, &status, &statusAt, &created, &updated); err != nil {
		return nil, err
	}

	hint, err := parseDate(dateHint)
	if err != nil {
		return nil, err
	}
	p.ParcelID = parcel.String
	p.SaleTypeHint = saleTypePtr(typeHint)
	p.SaleDateHint = hint
	if override.Valid {
		o := auction.Override(override.String)
		p.Override = &o
	}
	if linked.Valid {
		id := linked.Int64
		p.LinkedSaleID = &id
	}
	p.Status = auction.Status(status)
	p.StatusUpdatedAt = timePtr(statusAt)
	p.CreatedAt = time.Unix(0, created).UTC()
	p.UpdatedAt = time.Unix(0, updated).UTC()
	return &p, nil
}

func scanSale(row scanner) (*auction.Sale, error) {
	var (
		s                auction.Sale
		typ, status      string
		date             sql.NullInt64
		created, updated int64
	)
	if err := row.Scan(&s.ID, &s.County, &typ, &date, &status, &created, &updated); err != nil {
		return nil, err
	}
	s.Type = auction.SaleType(typ)
	s.Status = auction.SaleStatus(status)
	s.Date = timePtr(date)
	s.CreatedAt = time.Unix(0, created).UTC()
	s.UpdatedAt = time.Unix(0, updated).UTC()
	return &s, nil
}

func scanEntry(row scanner) (*auction.QueueEntry, error) {
	var (
		e                     auction.QueueEntry
		date, typ             sql.NullString
		status                string
		agent, notes          sql.NullString
		assignedAt, resolveAt sql.NullInt64
		saleID                sql.NullInt64
		created, updated      int64
	)
	if err := row.Scan(&e.ID, &e.Key.County, &date, &typ, &e.PropertyCount, &status,
		&agent, &assignedAt, &saleID, &notes, &resolveAt, &created, &updated); err != nil {
		return nil, err
	}

	d, err := parseDate(date)
	if err != nil {
		return nil, err
	}
	e.Key.SaleDate = d
	e.Key.SaleType = saleTypePtr(typ)
	e.Status = auction.QueueStatus(status)
	e.AssignedAgent = agent.String
	e.AssignedAt = timePtr(assignedAt)
	if saleID.Valid {
		id := saleID.Int64
		e.ResolvedSaleID = &id
	}
	e.ResolutionNotes = notes.String
	e.ResolvedAt = timePtr(resolveAt)
	e.CreatedAt = time.Unix(0, created).UTC()
	e.UpdatedAt = time.Unix(0, updated).UTC()
	return &e, nil
}

func parseDate(v sql.NullString) (*time.Time, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	t, err := time.Parse(auction.DateLayout, v.String)
	if err != nil {
		return nil, fmt.Errorf("parse date %q: %w", v.String, err)
	}
	return &t, nil
}

func timePtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(0, v.Int64).UTC()
	return &t
}

func saleTypePtr(v sql.NullString) *auction.SaleType {
	if !v.Valid || v.String == "" {
		return nil
	}
	t := auction.SaleType(v.String)
	return &t
}

func dateArg(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(auction.DateLayout)
}

func timeArg(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}

func saleTypeArg(t *auction.SaleType) any {
	if t == nil {
		return nil
	}
	return string(*t)
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
