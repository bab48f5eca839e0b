package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otherjamesbrown/salelink/pkg/auction"
	"github.com/otherjamesbrown/salelink/pkg/auction/repotest"
)

func TestStoreContract(t *testing.T) {
	repotest.Run(t, func(t *testing.T) auction.Repository {
		s, err := Open(context.Background(), filepath.Join(t.TempDir(), "salelink.db"))
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestOpen_Reopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "salelink.db")

	s, err := Open(ctx, path)
	require.NoError(t, err)
	sale, err := s.CreateSale(ctx, auction.NewSale{County: "Blair, PA", Type: auction.SaleTypeJudicial})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(ctx, path)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.GetSale(ctx, sale.ID)
	require.NoError(t, err)
	assert.Equal(t, auction.SaleStatusScheduled, got.Status)
	assert.Nil(t, got.Date)
}

func TestOpen_Memory(t *testing.T) {
	s, err := Open(context.Background(), ":memory:")
	require.NoError(t, err)
	defer s.Close()

	rows, err := s.StatusBreakdown(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, rows)
}

// An insert that is skipped while no active entry exists for the group, as
// when the conflicting entry turns terminal in between, is not an error.
func TestCreateQueueEntryIfAbsent_ConflictGoneTerminal(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, filepath.Join(t.TempDir(), "salelink.db"))
	require.NoError(t, err)
	defer s.Close()

	_, err = s.DB().ExecContext(ctx, `
		CREATE TRIGGER skip_queue_insert BEFORE INSERT ON research_queue
		BEGIN SELECT RAISE(IGNORE); END`)
	require.NoError(t, err)

	entry, created, err := s.CreateQueueEntryIfAbsent(ctx, auction.UnresolvedGroup{
		Key:           auction.GroupKey{County: "Blair, PA"},
		PropertyCount: 2,
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Nil(t, entry)
}
