package domain

import "time"

// CartItem is a buyer-owned line with the price snapshotted at add time.
// The snapshot is the price used at checkout; the catalog is never
// re-consulted, so sellers cannot silently reprice a cart.
type CartItem struct {
	ID             string
	BuyerID        string
	ProductID      string
	SellerID       string
	Quantity       int
	UnitPriceCents int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (i CartItem) SubtotalCents() int64 {
	return int64(i.Quantity) * i.UnitPriceCents
}
