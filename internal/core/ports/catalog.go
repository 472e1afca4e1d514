package ports

import "context"

// Catalog is the external product/service catalog collaborator. The core
// reads price, seller and availability by id when a cart line is added and
// never writes back.
type Catalog interface {
	Product(ctx context.Context, id string) (*Product, error)
}

type Product struct {
	ID         string
	SellerID   string
	Title      string
	PriceCents int64
	Available  bool
}
