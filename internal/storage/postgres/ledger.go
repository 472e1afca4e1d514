// Package postgres provides the production implementation of ports.Ledger
// on top of a single Postgres database.
//
// Every guarded state transition is a conditional update, an
// `UPDATE ... WHERE status = <expected>` whose RowsAffected count decides
// the outcome. Concurrent callers racing for the same row block on its row
// lock; exactly one sees 1 affected row and wins, the others see 0 and get
// a typed refusal. This is what makes the design safe across processes,
// not just goroutines.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/jcmexdev/campus-market/internal/core/domain"
	"github.com/jcmexdev/campus-market/internal/core/ports"
)

// schema is the DDL executed once on Open. Idempotent via IF NOT EXISTS.
const schema = `
CREATE TABLE IF NOT EXISTS cart_items (
    id               UUID PRIMARY KEY,
    buyer_id         TEXT NOT NULL,
    product_id       TEXT NOT NULL,
    seller_id        TEXT NOT NULL,
    quantity         INT  NOT NULL CHECK (quantity >= 1),
    unit_price_cents BIGINT NOT NULL,
    created_at       TIMESTAMPTZ NOT NULL,
    updated_at       TIMESTAMPTZ NOT NULL,
    UNIQUE (buyer_id, product_id)
);

CREATE TABLE IF NOT EXISTS orders (
    id                UUID PRIMARY KEY,
    order_number      TEXT NOT NULL UNIQUE,
    checkout_group_id UUID NOT NULL,
    buyer_id          TEXT NOT NULL,
    seller_id         TEXT NOT NULL,
    product_id        TEXT NOT NULL,
    quantity          INT  NOT NULL,
    unit_price_cents  BIGINT NOT NULL,
    total_cents       BIGINT NOT NULL,
    delivery_option   TEXT NOT NULL,
    delivery_fee_cents BIGINT NOT NULL DEFAULT 0,
    payment_ref       TEXT,
    status            TEXT NOT NULL,
    created_at        TIMESTAMPTZ NOT NULL,
    updated_at        TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_orders_buyer   ON orders(buyer_id, created_at);
CREATE INDEX IF NOT EXISTS idx_orders_payment ON orders(payment_ref);

CREATE TABLE IF NOT EXISTS payment_transactions (
    reference         TEXT PRIMARY KEY,
    checkout_group_id UUID NOT NULL,
    buyer_id          TEXT NOT NULL,
    amount_cents      BIGINT NOT NULL,
    status            TEXT NOT NULL,
    created_at        TIMESTAMPTZ NOT NULL,
    verified_at       TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS deliveries (
    id           UUID PRIMARY KEY,
    order_id     UUID NOT NULL UNIQUE REFERENCES orders(id),
    customer_id  TEXT NOT NULL,
    seller_id    TEXT NOT NULL,
    agent_id     TEXT,
    fee_cents    BIGINT NOT NULL DEFAULT 0,
    status       TEXT NOT NULL,
    created_at   TIMESTAMPTZ NOT NULL,
    assigned_at  TIMESTAMPTZ,
    started_at   TIMESTAMPTZ,
    completed_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_deliveries_pending ON deliveries(status) WHERE status = 'pending';
`

type Ledger struct {
	db *sql.DB
}

// Open connects to Postgres with the given DSN and applies the schema.
func Open(dsn string) (*Ledger, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: apply schema: %w", err)
	}
	return &Ledger{db: db}, nil
}

// Close releases the connection pool. Call it with defer in main().
func (l *Ledger) Close() error {
	return l.db.Close()
}

// withTx runs fn inside a transaction, rolling back on error or panic.
func (l *Ledger) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

func (l *Ledger) InsertCartItem(ctx context.Context, item *domain.CartItem) error {
	const q = `
		INSERT INTO cart_items (id, buyer_id, product_id, seller_id, quantity, unit_price_cents, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := l.db.ExecContext(ctx, q,
		item.ID, item.BuyerID, item.ProductID, item.SellerID,
		item.Quantity, item.UnitPriceCents, item.CreatedAt, item.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: insert cart item: %w", err)
	}
	return nil
}

func (l *Ledger) GetCartItemByProduct(ctx context.Context, buyerID, productID string) (*domain.CartItem, error) {
	const q = `
		SELECT id, buyer_id, product_id, seller_id, quantity, unit_price_cents, created_at, updated_at
		FROM cart_items WHERE buyer_id = $1 AND product_id = $2`
	return scanCartItem(l.db.QueryRowContext(ctx, q, buyerID, productID))
}

func (l *Ledger) UpdateCartItemQuantity(ctx context.Context, id, buyerID string, quantity int, now time.Time) (*domain.CartItem, error) {
	const q = `
		UPDATE cart_items SET quantity = $3, updated_at = $4
		WHERE id = $1 AND buyer_id = $2
		RETURNING id, buyer_id, product_id, seller_id, quantity, unit_price_cents, created_at, updated_at`
	return scanCartItem(l.db.QueryRowContext(ctx, q, id, buyerID, quantity, now))
}

func (l *Ledger) RemoveCartItem(ctx context.Context, id, buyerID string) error {
	res, err := l.db.ExecContext(ctx, `DELETE FROM cart_items WHERE id = $1 AND buyer_id = $2`, id, buyerID)
	if err != nil {
		return fmt.Errorf("postgres: remove cart item: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (l *Ledger) ListCartItems(ctx context.Context, buyerID string) ([]domain.CartItem, error) {
	const q = `
		SELECT id, buyer_id, product_id, seller_id, quantity, unit_price_cents, created_at, updated_at
		FROM cart_items WHERE buyer_id = $1 ORDER BY created_at`
	rows, err := l.db.QueryContext(ctx, q, buyerID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list cart items: %w", err)
	}
	defer rows.Close()
	var out []domain.CartItem
	for rows.Next() {
		var it domain.CartItem
		if err := rows.Scan(&it.ID, &it.BuyerID, &it.ProductID, &it.SellerID,
			&it.Quantity, &it.UnitPriceCents, &it.CreatedAt, &it.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan cart item: %w", err)
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (l *Ledger) CreateOrders(ctx context.Context, orders []domain.Order, billedCartItemIDs []string) error {
	return l.withTx(ctx, func(tx *sql.Tx) error {
		const q = `
			INSERT INTO orders (id, order_number, checkout_group_id, buyer_id, seller_id, product_id,
				quantity, unit_price_cents, total_cents, delivery_option, delivery_fee_cents, status,
				created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`
		for _, o := range orders {
			if _, err := tx.ExecContext(ctx, q,
				o.ID, o.OrderNumber, o.CheckoutGroupID, o.BuyerID, o.SellerID, o.ProductID,
				o.Quantity, o.UnitPriceCents, o.TotalCents, string(o.DeliveryOption), o.DeliveryFee,
				string(o.Status), o.CreatedAt, o.UpdatedAt); err != nil {
				return fmt.Errorf("postgres: insert order %s: %w", o.OrderNumber, err)
			}
		}
		if len(billedCartItemIDs) > 0 {
			res, err := tx.ExecContext(ctx,
				`DELETE FROM cart_items WHERE id = ANY($1)`, pq.Array(billedCartItemIDs))
			if err != nil {
				return fmt.Errorf("postgres: clear billed cart rows: %w", err)
			}
			// A row the buyer removed after the checkout read must not be
			// billed; abort the whole transaction.
			if n, _ := res.RowsAffected(); n != int64(len(billedCartItemIDs)) {
				return domain.ErrNotFound
			}
		}
		return nil
	})
}

func (l *Ledger) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	return scanOrder(l.db.QueryRowContext(ctx, selectOrder+` WHERE id = $1`, id))
}

func (l *Ledger) ListOrdersByBuyer(ctx context.Context, buyerID string) ([]domain.Order, error) {
	return l.queryOrders(ctx, selectOrder+` WHERE buyer_id = $1 ORDER BY created_at`, buyerID)
}

func (l *Ledger) ListOrdersByIDs(ctx context.Context, ids []string) ([]domain.Order, error) {
	return l.queryOrders(ctx, selectOrder+` WHERE id = ANY($1) ORDER BY created_at`, pq.Array(ids))
}

func (l *Ledger) CreateTransaction(ctx context.Context, ptx *domain.PaymentTransaction, orderIDs []string) error {
	return l.withTx(ctx, func(tx *sql.Tx) error {
		const q = `
			INSERT INTO payment_transactions (reference, checkout_group_id, buyer_id, amount_cents, status, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)`
		if _, err := tx.ExecContext(ctx, q,
			ptx.Reference, ptx.CheckoutGroupID, ptx.BuyerID, ptx.AmountCents,
			string(ptx.Status), ptx.CreatedAt); err != nil {
			return fmt.Errorf("postgres: insert transaction %s: %w", ptx.Reference, err)
		}
		// Stamp only rows still awaiting payment; anything else is stale input.
		res, err := tx.ExecContext(ctx,
			`UPDATE orders SET payment_ref = $1 WHERE id = ANY($2) AND status = $3`,
			ptx.Reference, pq.Array(orderIDs), string(domain.OrderPendingPayment))
		if err != nil {
			return fmt.Errorf("postgres: stamp payment ref: %w", err)
		}
		if n, _ := res.RowsAffected(); n != int64(len(orderIDs)) {
			return domain.ErrNotFound
		}
		return nil
	})
}

func (l *Ledger) GetTransaction(ctx context.Context, reference string) (*domain.PaymentTransaction, error) {
	const q = `
		SELECT reference, checkout_group_id, buyer_id, amount_cents, status, created_at, verified_at
		FROM payment_transactions WHERE reference = $1`
	var t domain.PaymentTransaction
	var status string
	var verifiedAt sql.NullTime
	err := l.db.QueryRowContext(ctx, q, reference).Scan(
		&t.Reference, &t.CheckoutGroupID, &t.BuyerID, &t.AmountCents, &status, &t.CreatedAt, &verifiedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get transaction %s: %w", reference, err)
	}
	t.Status = domain.PaymentStatus(status)
	if verifiedAt.Valid {
		t.VerifiedAt = &verifiedAt.Time
	}
	return &t, nil
}

func (l *Ledger) MarkTransactionFailed(ctx context.Context, reference string) error {
	// Conditional: only an initiated transaction can fail. A verified row
	// is money already reconciled and stays verified.
	res, err := l.db.ExecContext(ctx,
		`UPDATE payment_transactions SET status = $2 WHERE reference = $1 AND status = $3`,
		reference, string(domain.PaymentFailed), string(domain.PaymentInitiated))
	if err != nil {
		return fmt.Errorf("postgres: mark transaction failed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := l.GetTransaction(ctx, reference); err != nil {
			return err
		}
	}
	return nil
}

func (l *Ledger) ConfirmPayment(ctx context.Context, reference string, now time.Time) (*ports.PaymentConfirmation, error) {
	var conf *ports.PaymentConfirmation
	err := l.withTx(ctx, func(tx *sql.Tx) error {
		// The authoritative transition. Either the webhook or the client
		// verify call gets here first; both block on this row lock, the
		// winner flips the status and the loser sees zero rows below.
		res, err := tx.ExecContext(ctx,
			`UPDATE payment_transactions SET status = $2, verified_at = $3
			 WHERE reference = $1 AND status = $4`,
			reference, string(domain.PaymentVerified), now, string(domain.PaymentInitiated))
		if err != nil {
			return fmt.Errorf("postgres: verify transaction: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			var status string
			err := tx.QueryRowContext(ctx,
				`SELECT status FROM payment_transactions WHERE reference = $1`, reference).Scan(&status)
			if errors.Is(err, sql.ErrNoRows) {
				return domain.ErrNotFound
			}
			if err != nil {
				return fmt.Errorf("postgres: re-read transaction: %w", err)
			}
			if domain.PaymentStatus(status) == domain.PaymentVerified {
				return domain.ErrAlreadyVerified
			}
			return domain.ErrPaymentMismatch
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE orders SET status = $2, updated_at = $3
			 WHERE payment_ref = $1 AND status = $4`,
			reference, string(domain.OrderConfirmed), now, string(domain.OrderPendingPayment)); err != nil {
			return fmt.Errorf("postgres: confirm orders: %w", err)
		}

		orders, err := queryOrdersTx(ctx, tx, selectOrder+` WHERE payment_ref = $1 ORDER BY created_at`, reference)
		if err != nil {
			return err
		}

		conf = &ports.PaymentConfirmation{}
		for i := range orders {
			o := &orders[i]
			if o.Status == domain.OrderConfirmed && o.DeliveryOption == domain.OptionDelivery {
				d := domain.Delivery{
					ID:         uuid.NewString(),
					OrderID:    o.ID,
					CustomerID: o.BuyerID,
					SellerID:   o.SellerID,
					FeeCents:   o.DeliveryFee,
					Status:     domain.DeliveryPending,
					CreatedAt:  now,
				}
				if _, err := tx.ExecContext(ctx,
					`INSERT INTO deliveries (id, order_id, customer_id, seller_id, fee_cents, status, created_at)
					 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
					d.ID, d.OrderID, d.CustomerID, d.SellerID, d.FeeCents, string(d.Status), d.CreatedAt); err != nil {
					return fmt.Errorf("postgres: create delivery for order %s: %w", o.OrderNumber, err)
				}
				if _, err := tx.ExecContext(ctx,
					`UPDATE orders SET status = $2, updated_at = $3 WHERE id = $1 AND status = $4`,
					o.ID, string(domain.OrderAwaitingDelivery), now, string(domain.OrderConfirmed)); err != nil {
					return fmt.Errorf("postgres: move order %s to awaiting delivery: %w", o.OrderNumber, err)
				}
				o.Status = domain.OrderAwaitingDelivery
				conf.Deliveries = append(conf.Deliveries, d)
			}
			conf.Orders = append(conf.Orders, *o)
		}

		var status string
		var verifiedAt sql.NullTime
		if err := tx.QueryRowContext(ctx,
			`SELECT reference, checkout_group_id, buyer_id, amount_cents, status, created_at, verified_at
			 FROM payment_transactions WHERE reference = $1`, reference).Scan(
			&conf.Transaction.Reference, &conf.Transaction.CheckoutGroupID, &conf.Transaction.BuyerID,
			&conf.Transaction.AmountCents, &status, &conf.Transaction.CreatedAt, &verifiedAt); err != nil {
			return fmt.Errorf("postgres: read verified transaction: %w", err)
		}
		conf.Transaction.Status = domain.PaymentStatus(status)
		if verifiedAt.Valid {
			conf.Transaction.VerifiedAt = &verifiedAt.Time
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return conf, nil
}

func (l *Ledger) GetDelivery(ctx context.Context, id string) (*domain.Delivery, error) {
	return scanDelivery(l.db.QueryRowContext(ctx, selectDelivery+` WHERE id = $1`, id))
}

func (l *Ledger) ListPendingDeliveries(ctx context.Context) ([]domain.Delivery, error) {
	const q = selectDelivery + ` WHERE status = 'pending' AND agent_id IS NULL ORDER BY created_at`
	rows, err := l.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("postgres: list pending deliveries: %w", err)
	}
	defer rows.Close()
	var out []domain.Delivery
	for rows.Next() {
		d, err := scanDeliveryRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func (l *Ledger) AcceptDelivery(ctx context.Context, id, agentID string, now time.Time) (*domain.Delivery, error) {
	// The race-critical write. No prior read: two agents hitting this
	// concurrently serialize on the row lock and exactly one affects a row.
	res, err := l.db.ExecContext(ctx,
		`UPDATE deliveries SET status = $3, agent_id = $2, assigned_at = $4, started_at = $4
		 WHERE id = $1 AND status = $5 AND agent_id IS NULL`,
		id, agentID, string(domain.DeliveryInProgress), now, string(domain.DeliveryPending))
	if err != nil {
		return nil, fmt.Errorf("postgres: accept delivery: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Classify the refusal; this read never feeds a write.
		if _, err := l.GetDelivery(ctx, id); errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrAlreadyAssigned
	}
	return l.GetDelivery(ctx, id)
}

func (l *Ledger) CompleteDelivery(ctx context.Context, id, agentID string, now time.Time) (*domain.Delivery, *domain.Order, error) {
	var d *domain.Delivery
	var o *domain.Order
	err := l.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE deliveries SET status = $3, completed_at = $4
			 WHERE id = $1 AND agent_id = $2 AND status = $5`,
			id, agentID, string(domain.DeliveryCompleted), now, string(domain.DeliveryInProgress))
		if err != nil {
			return fmt.Errorf("postgres: complete delivery: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			var exists bool
			if err := tx.QueryRowContext(ctx,
				`SELECT EXISTS (SELECT 1 FROM deliveries WHERE id = $1)`, id).Scan(&exists); err != nil {
				return fmt.Errorf("postgres: classify complete refusal: %w", err)
			}
			if !exists {
				return domain.ErrNotFound
			}
			return domain.ErrNotAssignedAgent
		}
		var dErr error
		d, dErr = scanDelivery(tx.QueryRowContext(ctx, selectDelivery+` WHERE id = $1`, id))
		if dErr != nil {
			return dErr
		}
		// Same transaction: the order can never be observed lagging its
		// completed delivery.
		if _, err := tx.ExecContext(ctx,
			`UPDATE orders SET status = $2, updated_at = $3 WHERE id = $1 AND status = $4`,
			d.OrderID, string(domain.OrderDelivered), now, string(domain.OrderAwaitingDelivery)); err != nil {
			return fmt.Errorf("postgres: deliver order: %w", err)
		}
		var oErr error
		o, oErr = scanOrder(tx.QueryRowContext(ctx, selectOrder+` WHERE id = $1`, d.OrderID))
		return oErr
	})
	if err != nil {
		return nil, nil, err
	}
	return d, o, nil
}

func (l *Ledger) CancelDelivery(ctx context.Context, id string, now time.Time) (*domain.Delivery, error) {
	res, err := l.db.ExecContext(ctx,
		`UPDATE deliveries SET status = $2 WHERE id = $1 AND status = $3`,
		id, string(domain.DeliveryCancelled), string(domain.DeliveryPending))
	if err != nil {
		return nil, fmt.Errorf("postgres: cancel delivery: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := l.GetDelivery(ctx, id); errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrAlreadyAssigned
	}
	return l.GetDelivery(ctx, id)
}
