// Package cart implements the buyer-owned cart the checkout splitter
// consumes. Prices are snapshotted from the catalog at add time; checkout
// bills the snapshot, never the current catalog price.
package cart

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jcmexdev/campus-market/internal/core/domain"
	"github.com/jcmexdev/campus-market/internal/core/ports"
)

type Service struct {
	ledger  ports.Ledger
	catalog ports.Catalog
}

func NewService(ledger ports.Ledger, catalog ports.Catalog) *Service {
	return &Service{ledger: ledger, catalog: catalog}
}

// Add snapshots the product's seller and price into a cart row. Adding a
// product already in the cart bumps its quantity instead of duplicating
// the row; the original price snapshot is kept.
func (s *Service) Add(ctx context.Context, buyerID, productID string, quantity int) (*domain.CartItem, error) {
	if quantity < 1 {
		return nil, domain.ErrInvalidQuantity
	}
	if existing, err := s.ledger.GetCartItemByProduct(ctx, buyerID, productID); err == nil {
		return s.ledger.UpdateCartItemQuantity(ctx, existing.ID, buyerID, existing.Quantity+quantity, time.Now().UTC())
	}
	p, err := s.catalog.Product(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("cart: catalog lookup %s: %w", productID, err)
	}
	if !p.Available {
		return nil, fmt.Errorf("cart: product %s: %w", productID, domain.ErrInvalidCartItem)
	}
	now := time.Now().UTC()
	item := &domain.CartItem{
		ID:             uuid.NewString(),
		BuyerID:        buyerID,
		ProductID:      productID,
		SellerID:       p.SellerID,
		Quantity:       quantity,
		UnitPriceCents: p.PriceCents,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.ledger.InsertCartItem(ctx, item); err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "cart item added", "buyer_id", buyerID, "product_id", productID, "quantity", quantity)
	return item, nil
}

func (s *Service) UpdateQuantity(ctx context.Context, buyerID, itemID string, quantity int) (*domain.CartItem, error) {
	if quantity < 1 {
		return nil, domain.ErrInvalidQuantity
	}
	return s.ledger.UpdateCartItemQuantity(ctx, itemID, buyerID, quantity, time.Now().UTC())
}

func (s *Service) Remove(ctx context.Context, buyerID, itemID string) error {
	return s.ledger.RemoveCartItem(ctx, itemID, buyerID)
}

func (s *Service) List(ctx context.Context, buyerID string) ([]domain.CartItem, error) {
	return s.ledger.ListCartItems(ctx, buyerID)
}
