// Package payment reconciles gateway payments against the ledger.
//
// Two independent paths converge on the single authoritative transition to
// verified: the client-triggered Verify call and the gateway-pushed signed
// webhook. Both funnel into the same confirm function; whichever arrives
// first wins and the other becomes an idempotent no-op, decided by the
// conditional update inside the ledger transaction. Duplicate delivery is
// expected gateway behavior, not an error.
package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	"github.com/jcmexdev/campus-market/internal/core/domain"
	"github.com/jcmexdev/campus-market/internal/core/ports"
)

type Reconciler struct {
	ledger        ports.Ledger
	gateway       ports.Gateway
	bus           ports.Publisher
	webhookSecret string
}

func NewReconciler(ledger ports.Ledger, gateway ports.Gateway, bus ports.Publisher, webhookSecret string) *Reconciler {
	return &Reconciler{ledger: ledger, gateway: gateway, bus: bus, webhookSecret: webhookSecret}
}

// Initiate opens a gateway session for a batch of the buyer's
// pending-payment orders from one checkout call and records the
// transaction in initiated state. Gateway failure surfaces to the caller
// and writes no transaction row.
//
// Re-initiating for orders already stamped with a live session supersedes
// the old session: its transaction is marked failed before the new
// reference is stamped, so a late payment on the abandoned reference fails
// the amount-and-status match instead of verifying against orders that no
// longer point at it.
func (r *Reconciler) Initiate(ctx context.Context, buyerID, buyerEmail string, orderIDs []string) (*ports.GatewaySession, error) {
	ctx, span := otel.Tracer("payment").Start(ctx, "payment.initiate")
	defer span.End()

	if len(orderIDs) == 0 {
		return nil, fmt.Errorf("payment: no orders: %w", domain.ErrNotFound)
	}
	orders, err := r.ledger.ListOrdersByIDs(ctx, orderIDs)
	if err != nil {
		return nil, fmt.Errorf("payment: load orders: %w", err)
	}
	if len(orders) != len(orderIDs) {
		return nil, fmt.Errorf("payment: unknown order in batch: %w", domain.ErrNotFound)
	}
	groupID := orders[0].CheckoutGroupID
	var amount int64
	priorRefs := make(map[string]struct{})
	for _, o := range orders {
		if o.BuyerID != buyerID || o.Status != domain.OrderPendingPayment || o.CheckoutGroupID != groupID {
			return nil, fmt.Errorf("payment: order %s not payable by %s: %w", o.OrderNumber, buyerID, domain.ErrPaymentMismatch)
		}
		amount += o.TotalCents
		if o.PaymentRef != "" {
			priorRefs[o.PaymentRef] = struct{}{}
		}
	}
	reference := uuid.NewString()
	session, err := r.gateway.InitiateSession(ctx, ports.InitiateRequest{
		Reference:   reference,
		BuyerID:     buyerID,
		Email:       buyerEmail,
		AmountCents: amount,
	})
	if err != nil {
		return nil, fmt.Errorf("payment: initiate session: %w", err)
	}

	// Supersede only once the replacement session exists; a gateway
	// failure above leaves the prior session live and payable.
	for ref := range priorRefs {
		prior, err := r.ledger.GetTransaction(ctx, ref)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("payment: load prior session %s: %w", ref, err)
		}
		if prior.Status != domain.PaymentInitiated {
			continue
		}
		if err := r.ledger.MarkTransactionFailed(ctx, ref); err != nil {
			return nil, fmt.Errorf("payment: supersede session %s: %w", ref, err)
		}
		slog.InfoContext(ctx, "payment session superseded", "reference", ref, "buyer_id", buyerID)
	}

	tx := &domain.PaymentTransaction{
		Reference:       session.Reference,
		CheckoutGroupID: groupID,
		BuyerID:         buyerID,
		AmountCents:     amount,
		Status:          domain.PaymentInitiated,
		CreatedAt:       time.Now().UTC(),
	}
	if err := r.ledger.CreateTransaction(ctx, tx, orderIDs); err != nil {
		return nil, fmt.Errorf("payment: record transaction: %w", err)
	}
	slog.InfoContext(ctx, "payment initiated",
		"reference", session.Reference, "buyer_id", buyerID, "amount_cents", amount)
	return session, nil
}

// Verify is the synchronous client-triggered path: ask the gateway for the
// session outcome, match amount and buyer against the transaction on file,
// then run the shared transition. The buyer id echoed back in the session
// metadata must agree with the caller; a disagreement is refused before
// any state is read.
func (r *Reconciler) Verify(ctx context.Context, reference, buyerID string) (*ports.PaymentConfirmation, error) {
	ctx, span := otel.Tracer("payment").Start(ctx, "payment.verify")
	defer span.End()

	v, err := r.gateway.VerifySession(ctx, reference)
	if err != nil {
		return nil, fmt.Errorf("payment: gateway verify %s: %w", reference, err)
	}
	if v.BuyerID != "" && v.BuyerID != buyerID {
		return nil, fmt.Errorf("payment: session %s metadata names another buyer: %w", reference, domain.ErrPaymentMismatch)
	}
	return r.confirm(ctx, reference, buyerID, v.AmountCents, v.Succeeded)
}

// webhookEvent is the gateway's push payload shape.
type webhookEvent struct {
	Event string `json:"event"`
	Data  struct {
		Reference   string `json:"reference"`
		Status      string `json:"status"`
		AmountCents int64  `json:"amount"`
		Metadata    struct {
			BuyerID string `json:"buyer_id"`
		} `json:"metadata"`
	} `json:"data"`
}

// HandleWebhook is the asynchronous gateway-pushed path. The payload
// signature is verified against the shared secret before any field is
// trusted; a bad signature touches no state.
func (r *Reconciler) HandleWebhook(ctx context.Context, rawBody []byte, signature string) (*ports.PaymentConfirmation, error) {
	ctx, span := otel.Tracer("payment").Start(ctx, "payment.webhook")
	defer span.End()

	if !r.validSignature(rawBody, signature) {
		return nil, domain.ErrInvalidSignature
	}
	var ev webhookEvent
	if err := json.Unmarshal(rawBody, &ev); err != nil {
		return nil, fmt.Errorf("payment: decode webhook: %w", err)
	}
	if ev.Data.Reference == "" {
		return nil, fmt.Errorf("payment: webhook without reference: %w", domain.ErrNotFound)
	}
	succeeded := ev.Event == "charge.success" && ev.Data.Status == "success"
	return r.confirm(ctx, ev.Data.Reference, ev.Data.Metadata.BuyerID, ev.Data.AmountCents, succeeded)
}

// confirm is the one transition both paths share. Match failures mark the
// transaction failed (kept for audit) and leave the orders pending for a
// retry; a duplicate of an already-verified reference returns
// domain.ErrAlreadyVerified, which callers treat as success.
func (r *Reconciler) confirm(ctx context.Context, reference, buyerID string, amountCents int64, succeeded bool) (*ports.PaymentConfirmation, error) {
	tx, err := r.ledger.GetTransaction(ctx, reference)
	if err != nil {
		return nil, err
	}
	if !succeeded || tx.AmountCents != amountCents || tx.BuyerID != buyerID {
		if err := r.ledger.MarkTransactionFailed(ctx, reference); err != nil {
			return nil, err
		}
		slog.WarnContext(ctx, "payment mismatch",
			"reference", reference, "expected_cents", tx.AmountCents, "got_cents", amountCents)
		r.bus.Publish(ctx, domain.Event{Name: domain.EventPaymentFailed, At: time.Now().UTC(), Payload: *tx})
		return nil, domain.ErrPaymentMismatch
	}

	now := time.Now().UTC()
	conf, err := r.ledger.ConfirmPayment(ctx, reference, now)
	if errors.Is(err, domain.ErrAlreadyVerified) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("payment: confirm %s: %w", reference, err)
	}

	slog.InfoContext(ctx, "payment verified",
		"reference", reference, "orders", len(conf.Orders), "deliveries", len(conf.Deliveries))
	r.bus.Publish(ctx, domain.Event{Name: domain.EventPaymentVerified, At: now, Payload: conf.Transaction})
	for _, o := range conf.Orders {
		r.bus.Publish(ctx, domain.Event{Name: domain.EventOrderConfirmed, At: now, Payload: o})
	}
	for _, d := range conf.Deliveries {
		r.bus.Publish(ctx, domain.Event{Name: domain.EventDeliveryCreated, At: now, Payload: d})
	}
	return conf, nil
}

// validSignature checks the HMAC-SHA512 of the raw body against the
// signature header using a constant-time compare.
func (r *Reconciler) validSignature(body []byte, signature string) bool {
	mac := hmac.New(sha512.New, []byte(r.webhookSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
