// Package auctiontest provides a testify mock of auction.Repository.
package auctiontest

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/otherjamesbrown/salelink/pkg/auction"
)

// MockRepository implements auction.Repository for testing.
type MockRepository struct {
	mock.Mock
}

var _ auction.Repository = (*MockRepository)(nil)

func (m *MockRepository) CreateProperty(ctx context.Context, p auction.NewProperty) (*auction.Property, error) {
	args := m.Called(ctx, p)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*auction.Property), args.Error(1)
}

func (m *MockRepository) GetProperty(ctx context.Context, id int64) (*auction.Property, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*auction.Property), args.Error(1)
}

func (m *MockRepository) ListUnlinkedProperties(ctx context.Context, f auction.PropertyFilter) ([]auction.Property, error) {
	args := m.Called(ctx, f)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]auction.Property), args.Error(1)
}

func (m *MockRepository) CountLinkedProperties(ctx context.Context, county string) (int64, error) {
	args := m.Called(ctx, county)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockRepository) LinkProperty(ctx context.Context, propertyID, saleID int64, now time.Time) (bool, error) {
	args := m.Called(ctx, propertyID, saleID, now)
	return args.Bool(0), args.Error(1)
}

func (m *MockRepository) SetOverride(ctx context.Context, propertyID int64, override *auction.Override, now time.Time) (*auction.Property, error) {
	args := m.Called(ctx, propertyID, override, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*auction.Property), args.Error(1)
}

func (m *MockRepository) CreateSale(ctx context.Context, s auction.NewSale) (*auction.Sale, error) {
	args := m.Called(ctx, s)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*auction.Sale), args.Error(1)
}

func (m *MockRepository) GetSale(ctx context.Context, id int64) (*auction.Sale, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*auction.Sale), args.Error(1)
}

func (m *MockRepository) ListSalesByCounty(ctx context.Context, county string) ([]auction.Sale, error) {
	args := m.Called(ctx, county)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]auction.Sale), args.Error(1)
}

func (m *MockRepository) UpdateSale(ctx context.Context, id int64, u auction.SaleUpdate, now time.Time) (*auction.Sale, int, error) {
	args := m.Called(ctx, id, u, now)
	if args.Get(0) == nil {
		return nil, args.Int(1), args.Error(2)
	}
	return args.Get(0).(*auction.Sale), args.Int(1), args.Error(2)
}

func (m *MockRepository) DeleteSale(ctx context.Context, id int64, now time.Time) (int, error) {
	args := m.Called(ctx, id, now)
	return args.Int(0), args.Error(1)
}

func (m *MockRepository) RecomputeStatuses(ctx context.Context, f auction.PropertyFilter, now time.Time) (*auction.RecomputePage, error) {
	args := m.Called(ctx, f, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*auction.RecomputePage), args.Error(1)
}

func (m *MockRepository) StatusBreakdown(ctx context.Context, county string) ([]auction.StatusCount, error) {
	args := m.Called(ctx, county)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]auction.StatusCount), args.Error(1)
}

func (m *MockRepository) ListUnresolvedGroups(ctx context.Context) ([]auction.UnresolvedGroup, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]auction.UnresolvedGroup), args.Error(1)
}

func (m *MockRepository) CreateQueueEntryIfAbsent(ctx context.Context, g auction.UnresolvedGroup) (*auction.QueueEntry, bool, error) {
	args := m.Called(ctx, g)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*auction.QueueEntry), args.Bool(1), args.Error(2)
}

func (m *MockRepository) GetQueueEntry(ctx context.Context, id int64) (*auction.QueueEntry, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*auction.QueueEntry), args.Error(1)
}

func (m *MockRepository) ListQueueEntries(ctx context.Context, f auction.QueueFilter) ([]auction.QueueEntry, error) {
	args := m.Called(ctx, f)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]auction.QueueEntry), args.Error(1)
}

func (m *MockRepository) ListPendingQueueEntries(ctx context.Context, limit int) ([]auction.QueueEntry, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]auction.QueueEntry), args.Error(1)
}

func (m *MockRepository) AssignQueueEntry(ctx context.Context, id int64, agent string, now time.Time) (bool, error) {
	args := m.Called(ctx, id, agent, now)
	return args.Bool(0), args.Error(1)
}

func (m *MockRepository) ResolveQueueEntry(ctx context.Context, id, saleID int64, notes string, now time.Time) (*auction.Resolution, error) {
	args := m.Called(ctx, id, saleID, notes, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*auction.Resolution), args.Error(1)
}

func (m *MockRepository) FailQueueEntry(ctx context.Context, id int64, reason string, now time.Time) (bool, error) {
	args := m.Called(ctx, id, reason, now)
	return args.Bool(0), args.Error(1)
}
