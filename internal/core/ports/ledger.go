// Package ports holds the interfaces the fulfillment core depends on.
// Services are written against these abstractions so the relational store,
// the payment gateway and the catalog collaborator can be swapped for
// in-memory fakes in tests.
package ports

import (
	"context"
	"time"

	"github.com/jcmexdev/campus-market/internal/core/domain"
)

// Ledger is the single system of record for carts, orders, payments and
// deliveries. Every method that mutates state is atomic: multi-row work
// runs inside one database transaction, and guarded transitions are
// conditional updates keyed on the expected prior state. No method asks
// the caller to read current state, decide, and write a new state.
type Ledger interface {
	// Cart rows.
	InsertCartItem(ctx context.Context, item *domain.CartItem) error
	GetCartItemByProduct(ctx context.Context, buyerID, productID string) (*domain.CartItem, error)
	UpdateCartItemQuantity(ctx context.Context, id, buyerID string, quantity int, now time.Time) (*domain.CartItem, error)
	RemoveCartItem(ctx context.Context, id, buyerID string) error
	ListCartItems(ctx context.Context, buyerID string) ([]domain.CartItem, error)

	// CreateOrders inserts every order and deletes the billed cart rows in
	// one transaction. Either all orders exist and the rows are gone, or
	// nothing changed. A billed row that vanished since the caller read it
	// aborts the whole call with domain.ErrNotFound.
	CreateOrders(ctx context.Context, orders []domain.Order, billedCartItemIDs []string) error

	GetOrder(ctx context.Context, id string) (*domain.Order, error)
	ListOrdersByBuyer(ctx context.Context, buyerID string) ([]domain.Order, error)
	ListOrdersByIDs(ctx context.Context, ids []string) ([]domain.Order, error)

	// CreateTransaction records the initiated gateway attempt and stamps
	// its reference on the given orders, provided they are still awaiting
	// payment.
	CreateTransaction(ctx context.Context, tx *domain.PaymentTransaction, orderIDs []string) error
	GetTransaction(ctx context.Context, reference string) (*domain.PaymentTransaction, error)
	// MarkTransactionFailed moves initiated → failed. The row is retained
	// for audit; already-verified transactions are left untouched.
	MarkTransactionFailed(ctx context.Context, reference string) error
	// ConfirmPayment applies the authoritative initiated → verified
	// transition and, in the same transaction, confirms the referenced
	// orders and creates pending deliveries for those that need one.
	// A transaction already verified returns domain.ErrAlreadyVerified
	// with no state touched.
	ConfirmPayment(ctx context.Context, reference string, now time.Time) (*PaymentConfirmation, error)

	GetDelivery(ctx context.Context, id string) (*domain.Delivery, error)
	ListPendingDeliveries(ctx context.Context) ([]domain.Delivery, error)
	// AcceptDelivery is the race-critical single conditional update: it
	// succeeds only if the row was still pending and unassigned, so at
	// most one agent ever wins. Zero rows → domain.ErrAlreadyAssigned
	// (domain.ErrNotFound when no such delivery exists).
	AcceptDelivery(ctx context.Context, id, agentID string, now time.Time) (*domain.Delivery, error)
	// CompleteDelivery requires in_progress + the accepting agent, and in
	// the same transaction flips the owning order awaiting_delivery →
	// delivered. The pair can never be observed disagreeing.
	CompleteDelivery(ctx context.Context, id, agentID string, now time.Time) (*domain.Delivery, *domain.Order, error)
	CancelDelivery(ctx context.Context, id string, now time.Time) (*domain.Delivery, error)
}

// PaymentConfirmation is the post-transition snapshot returned by
// ConfirmPayment, used for responses and event publication.
type PaymentConfirmation struct {
	Transaction domain.PaymentTransaction
	Orders      []domain.Order
	Deliveries  []domain.Delivery
}
