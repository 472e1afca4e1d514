package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jcmexdev/campus-market/internal/core/domain"
)

const selectOrder = `
	SELECT id, order_number, checkout_group_id, buyer_id, seller_id, product_id,
	       quantity, unit_price_cents, total_cents, delivery_option, delivery_fee_cents,
	       COALESCE(payment_ref, ''), status, created_at, updated_at
	FROM orders`

const selectDelivery = `
	SELECT id, order_id, customer_id, seller_id, COALESCE(agent_id, ''), fee_cents,
	       status, created_at, assigned_at, started_at, completed_at
	FROM deliveries`

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrderFrom(s rowScanner) (*domain.Order, error) {
	var o domain.Order
	var option, status string
	err := s.Scan(&o.ID, &o.OrderNumber, &o.CheckoutGroupID, &o.BuyerID, &o.SellerID, &o.ProductID,
		&o.Quantity, &o.UnitPriceCents, &o.TotalCents, &option, &o.DeliveryFee,
		&o.PaymentRef, &status, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: scan order: %w", err)
	}
	o.DeliveryOption = domain.DeliveryOption(option)
	o.Status = domain.OrderStatus(status)
	return &o, nil
}

func scanOrder(row *sql.Row) (*domain.Order, error) { return scanOrderFrom(row) }

func (l *Ledger) queryOrders(ctx context.Context, q string, args ...any) ([]domain.Order, error) {
	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query orders: %w", err)
	}
	defer rows.Close()
	return collectOrders(rows)
}

func queryOrdersTx(ctx context.Context, tx *sql.Tx, q string, args ...any) ([]domain.Order, error) {
	rows, err := tx.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query orders: %w", err)
	}
	defer rows.Close()
	return collectOrders(rows)
}

func collectOrders(rows *sql.Rows) ([]domain.Order, error) {
	var out []domain.Order
	for rows.Next() {
		o, err := scanOrderFrom(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

func scanCartItem(row *sql.Row) (*domain.CartItem, error) {
	var it domain.CartItem
	err := row.Scan(&it.ID, &it.BuyerID, &it.ProductID, &it.SellerID,
		&it.Quantity, &it.UnitPriceCents, &it.CreatedAt, &it.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: scan cart item: %w", err)
	}
	return &it, nil
}

func scanDeliveryFrom(s rowScanner) (*domain.Delivery, error) {
	var d domain.Delivery
	var status string
	var assigned, started, completed sql.NullTime
	err := s.Scan(&d.ID, &d.OrderID, &d.CustomerID, &d.SellerID, &d.AgentID, &d.FeeCents,
		&status, &d.CreatedAt, &assigned, &started, &completed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: scan delivery: %w", err)
	}
	d.Status = domain.DeliveryStatus(status)
	if assigned.Valid {
		d.AssignedAt = &assigned.Time
	}
	if started.Valid {
		d.StartedAt = &started.Time
	}
	if completed.Valid {
		d.CompletedAt = &completed.Time
	}
	return &d, nil
}

func scanDelivery(row *sql.Row) (*domain.Delivery, error)       { return scanDeliveryFrom(row) }
func scanDeliveryRows(rows *sql.Rows) (*domain.Delivery, error) { return scanDeliveryFrom(rows) }
