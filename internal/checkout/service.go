// Package checkout converts a buyer's multi-seller cart into one order per
// seller. The whole call is atomic: either every targeted seller group
// becomes an order and its cart rows are deleted, or nothing changes.
package checkout

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	"github.com/jcmexdev/campus-market/internal/core/domain"
	"github.com/jcmexdev/campus-market/internal/core/ports"
)

type Service struct {
	ledger           ports.Ledger
	bus              ports.Publisher
	deliveryFeeCents int64
}

func NewService(ledger ports.Ledger, bus ports.Publisher, deliveryFeeCents int64) *Service {
	return &Service{ledger: ledger, bus: bus, deliveryFeeCents: deliveryFeeCents}
}

// Checkout bills the buyer's cart. sellerFilter, when non-empty, restricts
// the call to that seller's group; rows for other sellers stay in the cart
// untouched. Every order born from one call shares a checkout group id so
// payment can later cover them as a batch.
func (s *Service) Checkout(ctx context.Context, buyerID, sellerFilter string, option domain.DeliveryOption) ([]domain.Order, error) {
	ctx, span := otel.Tracer("checkout").Start(ctx, "checkout.split")
	defer span.End()

	items, err := s.ledger.ListCartItems(ctx, buyerID)
	if err != nil {
		return nil, fmt.Errorf("checkout: read cart: %w", err)
	}

	groups := make(map[string][]domain.CartItem)
	for _, it := range items {
		if sellerFilter != "" && it.SellerID != sellerFilter {
			continue
		}
		groups[it.SellerID] = append(groups[it.SellerID], it)
	}
	if len(groups) == 0 {
		return nil, domain.ErrEmptyCart
	}

	// Deterministic order creation regardless of map iteration.
	sellers := make([]string, 0, len(groups))
	for seller := range groups {
		sellers = append(sellers, seller)
	}
	sort.Strings(sellers)

	now := time.Now().UTC()
	groupID := uuid.NewString()
	fee := int64(0)
	if option == domain.OptionDelivery {
		fee = s.deliveryFeeCents
	}

	var orders []domain.Order
	var billed []string
	for _, seller := range sellers {
		group := groups[seller]
		var subtotal int64
		for _, it := range group {
			subtotal += it.SubtotalCents()
			billed = append(billed, it.ID)
		}
		if subtotal <= 0 {
			return nil, fmt.Errorf("checkout: seller %s subtotal %d: %w", seller, subtotal, domain.ErrInvalidCartItem)
		}
		// An order records one product line. A seller group with several
		// distinct products keeps the first line's product id with the
		// combined quantity and a zero unit price; unit_price x quantity
		// reconciles with total - fee only for single-line groups.
		first := group[0]
		unitPrice := first.UnitPriceCents
		if len(group) > 1 {
			unitPrice = 0
		}
		orders = append(orders, domain.Order{
			ID:              uuid.NewString(),
			OrderNumber:     domain.NewOrderNumber(now),
			CheckoutGroupID: groupID,
			BuyerID:         buyerID,
			SellerID:        seller,
			ProductID:       first.ProductID,
			Quantity:        totalQuantity(group),
			UnitPriceCents:  unitPrice,
			TotalCents:      subtotal + fee,
			DeliveryOption:  option,
			DeliveryFee:     fee,
			Status:          domain.OrderPendingPayment,
			CreatedAt:       now,
			UpdatedAt:       now,
		})
	}

	if err := s.ledger.CreateOrders(ctx, orders, billed); err != nil {
		return nil, fmt.Errorf("checkout: create orders: %w", err)
	}
	slog.InfoContext(ctx, "checkout split",
		"buyer_id", buyerID, "checkout_group_id", groupID, "orders", len(orders))

	for _, o := range orders {
		s.bus.Publish(ctx, domain.Event{Name: domain.EventOrderCreated, At: now, Payload: o})
	}
	return orders, nil
}

func totalQuantity(items []domain.CartItem) int {
	n := 0
	for _, it := range items {
		n += it.Quantity
	}
	return n
}
