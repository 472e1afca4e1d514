// Package memory provides a mutex-guarded, in-process implementation of
// ports.Ledger. It mirrors the conditional-transition semantics of the
// Postgres ledger exactly: every guarded write checks the expected prior
// state under the lock, so the concurrency-sensitive tests exercise the
// same contract the production store enforces with row locks.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jcmexdev/campus-market/internal/core/domain"
	"github.com/jcmexdev/campus-market/internal/core/ports"
)

type Ledger struct {
	mu           sync.Mutex
	cartItems    map[string]*domain.CartItem
	orders       map[string]*domain.Order
	transactions map[string]*domain.PaymentTransaction
	deliveries   map[string]*domain.Delivery
}

func NewLedger() *Ledger {
	return &Ledger{
		cartItems:    make(map[string]*domain.CartItem),
		orders:       make(map[string]*domain.Order),
		transactions: make(map[string]*domain.PaymentTransaction),
		deliveries:   make(map[string]*domain.Delivery),
	}
}

func (l *Ledger) InsertCartItem(_ context.Context, item *domain.CartItem) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	cp := *item
	l.cartItems[item.ID] = &cp
	return nil
}

func (l *Ledger) GetCartItemByProduct(_ context.Context, buyerID, productID string) (*domain.CartItem, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, it := range l.cartItems {
		if it.BuyerID == buyerID && it.ProductID == productID {
			cp := *it
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (l *Ledger) UpdateCartItemQuantity(_ context.Context, id, buyerID string, quantity int, now time.Time) (*domain.CartItem, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	it, ok := l.cartItems[id]
	if !ok || it.BuyerID != buyerID {
		return nil, domain.ErrNotFound
	}
	it.Quantity = quantity
	it.UpdatedAt = now
	cp := *it
	return &cp, nil
}

func (l *Ledger) RemoveCartItem(_ context.Context, id, buyerID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	it, ok := l.cartItems[id]
	if !ok || it.BuyerID != buyerID {
		return domain.ErrNotFound
	}
	delete(l.cartItems, id)
	return nil
}

func (l *Ledger) ListCartItems(_ context.Context, buyerID string) ([]domain.CartItem, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []domain.CartItem
	for _, it := range l.cartItems {
		if it.BuyerID == buyerID {
			out = append(out, *it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (l *Ledger) CreateOrders(_ context.Context, orders []domain.Order, billedCartItemIDs []string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	// Every billed row must still exist, or nothing is written.
	for _, id := range billedCartItemIDs {
		if _, ok := l.cartItems[id]; !ok {
			return domain.ErrNotFound
		}
	}
	for i := range orders {
		cp := orders[i]
		l.orders[cp.ID] = &cp
	}
	for _, id := range billedCartItemIDs {
		delete(l.cartItems, id)
	}
	return nil
}

func (l *Ledger) GetOrder(_ context.Context, id string) (*domain.Order, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	o, ok := l.orders[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (l *Ledger) ListOrdersByBuyer(_ context.Context, buyerID string) ([]domain.Order, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []domain.Order
	for _, o := range l.orders {
		if o.BuyerID == buyerID {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (l *Ledger) ListOrdersByIDs(_ context.Context, ids []string) ([]domain.Order, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.Order, 0, len(ids))
	for _, id := range ids {
		if o, ok := l.orders[id]; ok {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (l *Ledger) CreateTransaction(_ context.Context, tx *domain.PaymentTransaction, orderIDs []string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	cp := *tx
	l.transactions[tx.Reference] = &cp
	for _, id := range orderIDs {
		if o, ok := l.orders[id]; ok && o.Status == domain.OrderPendingPayment {
			o.PaymentRef = tx.Reference
		}
	}
	return nil
}

func (l *Ledger) GetTransaction(_ context.Context, reference string) (*domain.PaymentTransaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	tx, ok := l.transactions[reference]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *tx
	return &cp, nil
}

func (l *Ledger) MarkTransactionFailed(_ context.Context, reference string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	tx, ok := l.transactions[reference]
	if !ok {
		return domain.ErrNotFound
	}
	// Guarded: a verified transaction is never demoted.
	if tx.Status == domain.PaymentInitiated {
		tx.Status = domain.PaymentFailed
	}
	return nil
}

func (l *Ledger) ConfirmPayment(_ context.Context, reference string, now time.Time) (*ports.PaymentConfirmation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	tx, ok := l.transactions[reference]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if tx.Status == domain.PaymentVerified {
		return nil, domain.ErrAlreadyVerified
	}
	if tx.Status != domain.PaymentInitiated {
		return nil, domain.ErrPaymentMismatch
	}
	tx.Status = domain.PaymentVerified
	verifiedAt := now
	tx.VerifiedAt = &verifiedAt

	conf := &ports.PaymentConfirmation{Transaction: *tx}
	for _, o := range l.orders {
		if o.PaymentRef != reference || o.Status != domain.OrderPendingPayment {
			continue
		}
		o.Status = domain.OrderConfirmed
		o.UpdatedAt = now
		if o.DeliveryOption == domain.OptionDelivery {
			d := &domain.Delivery{
				ID:         uuid.NewString(),
				OrderID:    o.ID,
				CustomerID: o.BuyerID,
				SellerID:   o.SellerID,
				FeeCents:   o.DeliveryFee,
				Status:     domain.DeliveryPending,
				CreatedAt:  now,
			}
			l.deliveries[d.ID] = d
			o.Status = domain.OrderAwaitingDelivery
			conf.Deliveries = append(conf.Deliveries, *d)
		}
		conf.Orders = append(conf.Orders, *o)
	}
	sort.Slice(conf.Orders, func(i, j int) bool { return conf.Orders[i].CreatedAt.Before(conf.Orders[j].CreatedAt) })
	return conf, nil
}

func (l *Ledger) GetDelivery(_ context.Context, id string) (*domain.Delivery, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	d, ok := l.deliveries[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (l *Ledger) ListPendingDeliveries(_ context.Context) ([]domain.Delivery, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []domain.Delivery
	for _, d := range l.deliveries {
		if d.Status == domain.DeliveryPending && d.AgentID == "" {
			out = append(out, *d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (l *Ledger) AcceptDelivery(_ context.Context, id, agentID string, now time.Time) (*domain.Delivery, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	d, ok := l.deliveries[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	// Same guard as the SQL conditional update: pending AND unassigned.
	if d.Status != domain.DeliveryPending || d.AgentID != "" {
		return nil, domain.ErrAlreadyAssigned
	}
	d.Status = domain.DeliveryInProgress
	d.AgentID = agentID
	assigned := now
	d.AssignedAt = &assigned
	d.StartedAt = &assigned
	cp := *d
	return &cp, nil
}

func (l *Ledger) CompleteDelivery(_ context.Context, id, agentID string, now time.Time) (*domain.Delivery, *domain.Order, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	d, ok := l.deliveries[id]
	if !ok {
		return nil, nil, domain.ErrNotFound
	}
	if d.Status != domain.DeliveryInProgress || d.AgentID != agentID {
		return nil, nil, domain.ErrNotAssignedAgent
	}
	d.Status = domain.DeliveryCompleted
	completed := now
	d.CompletedAt = &completed

	o, ok := l.orders[d.OrderID]
	if ok && o.Status == domain.OrderAwaitingDelivery {
		o.Status = domain.OrderDelivered
		o.UpdatedAt = now
	}
	dc := *d
	var oc *domain.Order
	if ok {
		cp := *o
		oc = &cp
	}
	return &dc, oc, nil
}

func (l *Ledger) CancelDelivery(_ context.Context, id string, now time.Time) (*domain.Delivery, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	d, ok := l.deliveries[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if d.Status != domain.DeliveryPending {
		return nil, domain.ErrAlreadyAssigned
	}
	d.Status = domain.DeliveryCancelled
	cp := *d
	return &cp, nil
}
