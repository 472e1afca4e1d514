package cart

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcmexdev/campus-market/internal/core/domain"
	"github.com/jcmexdev/campus-market/internal/core/ports"
	"github.com/jcmexdev/campus-market/internal/storage/memory"
)

type fakeCatalog struct {
	products map[string]*ports.Product
}

func (c *fakeCatalog) Product(_ context.Context, id string) (*ports.Product, error) {
	p, ok := c.products[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return p, nil
}

func newService() (*Service, *fakeCatalog) {
	catalog := &fakeCatalog{products: map[string]*ports.Product{
		"textbook": {ID: "textbook", SellerID: "seller-a", Title: "Calculus II", PriceCents: 4500, Available: true},
		"lamp":     {ID: "lamp", SellerID: "seller-b", Title: "Desk lamp", PriceCents: 1200, Available: true},
		"sold-out": {ID: "sold-out", SellerID: "seller-a", Title: "Mini fridge", PriceCents: 8000, Available: false},
	}}
	return NewService(memory.NewLedger(), catalog), catalog
}

func TestAddSnapshotsSellerAndPrice(t *testing.T) {
	s, catalog := newService()

	item, err := s.Add(context.Background(), "buyer-1", "textbook", 2)
	require.NoError(t, err)
	assert.Equal(t, "seller-a", item.SellerID)
	assert.Equal(t, int64(4500), item.UnitPriceCents)
	assert.Equal(t, 2, item.Quantity)

	// A later catalog price change must not affect the stored snapshot.
	catalog.products["textbook"].PriceCents = 9900
	items, err := s.List(context.Background(), "buyer-1")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, int64(4500), items[0].UnitPriceCents)
}

func TestAddSameProductBumpsQuantity(t *testing.T) {
	s, _ := newService()

	first, err := s.Add(context.Background(), "buyer-1", "lamp", 1)
	require.NoError(t, err)
	second, err := s.Add(context.Background(), "buyer-1", "lamp", 3)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID, "no duplicate row")
	assert.Equal(t, 4, second.Quantity)

	items, err := s.List(context.Background(), "buyer-1")
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestAddRejectsBadInput(t *testing.T) {
	s, _ := newService()

	_, err := s.Add(context.Background(), "buyer-1", "textbook", 0)
	assert.ErrorIs(t, err, domain.ErrInvalidQuantity)

	_, err = s.Add(context.Background(), "buyer-1", "sold-out", 1)
	assert.ErrorIs(t, err, domain.ErrInvalidCartItem)

	_, err = s.Add(context.Background(), "buyer-1", "no-such-product", 1)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestUpdateQuantityScopedToOwner(t *testing.T) {
	s, _ := newService()
	item, err := s.Add(context.Background(), "buyer-1", "textbook", 1)
	require.NoError(t, err)

	_, err = s.UpdateQuantity(context.Background(), "buyer-2", item.ID, 5)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	updated, err := s.UpdateQuantity(context.Background(), "buyer-1", item.ID, 5)
	require.NoError(t, err)
	assert.Equal(t, 5, updated.Quantity)

	_, err = s.UpdateQuantity(context.Background(), "buyer-1", item.ID, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidQuantity)
}

func TestRemoveScopedToOwner(t *testing.T) {
	s, _ := newService()
	item, err := s.Add(context.Background(), "buyer-1", "textbook", 1)
	require.NoError(t, err)

	assert.ErrorIs(t, s.Remove(context.Background(), "buyer-2", item.ID), domain.ErrNotFound)
	require.NoError(t, s.Remove(context.Background(), "buyer-1", item.ID))

	items, err := s.List(context.Background(), "buyer-1")
	require.NoError(t, err)
	assert.Empty(t, items)
}
