package postgres

import (
	"github.com/jackc/pgx/v5"

	"github.com/otherjamesbrown/salelink/pkg/auction"
)

func scanProperty(row pgx.Row) (*auction.Property, error) {
	var (
		p        auction.Property
		parcel   *string
		typeHint *string
		override *string
		status   string
	)
	if err := row.Scan(&p.ID, &p.County, &parcel, &typeHint, &p.SaleDateHint, &override,
		&p.LinkedSaleID, &status, &p.StatusUpdatedAt, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.ParcelID = deref(parcel)
	p.SaleTypeHint = saleTypePtr(typeHint)
	p.Override = overridePtr(override)
	p.Status = auction.Status(status)
	return &p, nil
}

func scanSale(row pgx.Row) (*auction.Sale, error) {
	var (
		s           auction.Sale
		typ, status string
	)
	if err := row.Scan(&s.ID, &s.County, &typ, &s.Date, &status, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	s.Type = auction.SaleType(typ)
	s.Status = auction.SaleStatus(status)
	return &s, nil
}

func scanEntry(row pgx.Row) (*auction.QueueEntry, error) {
	var (
		e      auction.QueueEntry
		typ    *string
		status string
		agent  *string
		notes  *string
	)
	if err := row.Scan(&e.ID, &e.Key.County, &e.Key.SaleDate, &typ, &e.PropertyCount, &status,
		&agent, &e.AssignedAt, &e.ResolvedSaleID, &notes, &e.ResolvedAt, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	e.Key.SaleType = saleTypePtr(typ)
	e.Status = auction.QueueStatus(status)
	e.AssignedAgent = deref(agent)
	e.ResolutionNotes = deref(notes)
	return &e, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func saleTypePtr(s *string) *auction.SaleType {
	if s == nil || *s == "" {
		return nil
	}
	t := auction.SaleType(*s)
	return &t
}

func overridePtr(s *string) *auction.Override {
	if s == nil || *s == "" {
		return nil
	}
	o := auction.Override(*s)
	return &o
}

func saleTypeArg(t *auction.SaleType) *string {
	if t == nil {
		return nil
	}
	s := string(*t)
	return &s
}

func overrideArg(o *auction.Override) *string {
	if o == nil {
		return nil
	}
	s := string(*o)
	return &s
}
