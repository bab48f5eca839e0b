package linker

import (
	"context"

	"github.com/otherjamesbrown/salelink/pkg/auction"
)

// SaleCache memoises ListSalesByCounty for the lifetime of one bulk page.
// It is not safe for concurrent use.
type SaleCache struct {
	repo     auction.Repository
	byCounty map[string][]auction.Sale
}

// NewSaleCache creates an empty cache over repo.
func NewSaleCache(repo auction.Repository) *SaleCache {
	return &SaleCache{repo: repo, byCounty: make(map[string][]auction.Sale)}
}

// Sales returns the county's sales, loading them on first use.
func (c *SaleCache) Sales(ctx context.Context, county string) ([]auction.Sale, error) {
	if sales, ok := c.byCounty[county]; ok {
		return sales, nil
	}
	sales, err := c.repo.ListSalesByCounty(ctx, county)
	if err != nil {
		return nil, err
	}
	c.byCounty[county] = sales
	return sales, nil
}

// Reset drops every cached county.
func (c *SaleCache) Reset() {
	clear(c.byCounty)
}
