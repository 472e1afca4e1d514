package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcmexdev/campus-market/internal/core/domain"
	"github.com/jcmexdev/campus-market/internal/core/ports"
	"github.com/jcmexdev/campus-market/internal/events"
	"github.com/jcmexdev/campus-market/internal/storage/memory"
)

const testSecret = "whsec_test"

// fakeGateway echoes back whatever the test scripts for it.
type fakeGateway struct {
	initiateErr  error
	verification *ports.GatewayVerification
	verifyErr    error
}

func (g *fakeGateway) InitiateSession(_ context.Context, req ports.InitiateRequest) (*ports.GatewaySession, error) {
	if g.initiateErr != nil {
		return nil, g.initiateErr
	}
	return &ports.GatewaySession{
		Reference:        req.Reference,
		AccessCode:       "ac_" + req.Reference[:8],
		AuthorizationURL: "https://checkout.example/" + req.Reference,
	}, nil
}

func (g *fakeGateway) VerifySession(_ context.Context, reference string) (*ports.GatewayVerification, error) {
	if g.verifyErr != nil {
		return nil, g.verifyErr
	}
	v := *g.verification
	v.Reference = reference
	return &v, nil
}

func seedOrders(t *testing.T, ledger *memory.Ledger, buyerID string, opts ...domain.DeliveryOption) []domain.Order {
	t.Helper()
	now := time.Now().UTC()
	group := uuid.NewString()
	var orders []domain.Order
	for i, opt := range opts {
		orders = append(orders, domain.Order{
			ID:              uuid.NewString(),
			OrderNumber:     domain.NewOrderNumber(now),
			CheckoutGroupID: group,
			BuyerID:         buyerID,
			SellerID:        fmt.Sprintf("seller-%d", i),
			ProductID:       uuid.NewString(),
			Quantity:        1,
			UnitPriceCents:  1000,
			TotalCents:      1000,
			DeliveryOption:  opt,
			Status:          domain.OrderPendingPayment,
			CreatedAt:       now.Add(time.Duration(i) * time.Millisecond),
			UpdatedAt:       now,
		})
	}
	require.NoError(t, ledger.CreateOrders(context.Background(), orders, nil))
	return orders
}

func initiated(t *testing.T, r *Reconciler, orders []domain.Order) string {
	t.Helper()
	ids := make([]string, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
	}
	session, err := r.Initiate(context.Background(), orders[0].BuyerID, "buyer@campus.edu", ids)
	require.NoError(t, err)
	return session.Reference
}

func signedWebhook(t *testing.T, reference, buyerID string, amount int64) ([]byte, string) {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"event": "charge.success",
		"data": map[string]any{
			"reference": reference,
			"status":    "success",
			"amount":    amount,
			"metadata":  map[string]string{"buyer_id": buyerID},
		},
	})
	require.NoError(t, err)
	mac := hmac.New(sha512.New, []byte(testSecret))
	mac.Write(body)
	return body, hex.EncodeToString(mac.Sum(nil))
}

func newReconciler(gw *fakeGateway) (*Reconciler, *memory.Ledger) {
	ledger := memory.NewLedger()
	return NewReconciler(ledger, gw, events.NewBus(), testSecret), ledger
}

func TestInitiateRecordsTransactionAndStampsOrders(t *testing.T) {
	gw := &fakeGateway{}
	r, ledger := newReconciler(gw)
	orders := seedOrders(t, ledger, "buyer-1", domain.OptionPickup, domain.OptionPickup)

	ref := initiated(t, r, orders)

	tx, err := ledger.GetTransaction(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentInitiated, tx.Status)
	assert.Equal(t, int64(2000), tx.AmountCents)
	assert.Equal(t, "buyer-1", tx.BuyerID)

	got, err := ledger.GetOrder(context.Background(), orders[0].ID)
	require.NoError(t, err)
	assert.Equal(t, ref, got.PaymentRef)
}

func TestInitiateGatewayFailureWritesNothing(t *testing.T) {
	gw := &fakeGateway{initiateErr: domain.ErrGatewayTimeout}
	r, ledger := newReconciler(gw)
	orders := seedOrders(t, ledger, "buyer-1", domain.OptionPickup)

	_, err := r.Initiate(context.Background(), "buyer-1", "buyer@campus.edu", []string{orders[0].ID})
	assert.ErrorIs(t, err, domain.ErrGatewayTimeout)

	got, err := ledger.GetOrder(context.Background(), orders[0].ID)
	require.NoError(t, err)
	assert.Empty(t, got.PaymentRef)
}

func TestInitiateRejectsForeignOrder(t *testing.T) {
	gw := &fakeGateway{}
	r, ledger := newReconciler(gw)
	orders := seedOrders(t, ledger, "buyer-2", domain.OptionPickup)

	_, err := r.Initiate(context.Background(), "buyer-1", "buyer@campus.edu", []string{orders[0].ID})
	assert.ErrorIs(t, err, domain.ErrPaymentMismatch)
}

func TestReinitiateSupersedesAbandonedSession(t *testing.T) {
	gw := &fakeGateway{}
	r, ledger := newReconciler(gw)
	orders := seedOrders(t, ledger, "buyer-1", domain.OptionPickup)

	// Buyer abandons the first hosted page and starts over.
	first := initiated(t, r, orders)
	second := initiated(t, r, orders)
	require.NotEqual(t, first, second)

	stale, err := ledger.GetTransaction(context.Background(), first)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentFailed, stale.Status, "superseded session is closed")

	// Paying on the abandoned session must not verify money against
	// orders that no longer carry its reference.
	gw.verification = &ports.GatewayVerification{Succeeded: true, AmountCents: 1000, BuyerID: "buyer-1"}
	_, err = r.Verify(context.Background(), first, "buyer-1")
	assert.ErrorIs(t, err, domain.ErrPaymentMismatch)

	got, err := ledger.GetOrder(context.Background(), orders[0].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderPendingPayment, got.Status)
	assert.Equal(t, second, got.PaymentRef)

	// The live session still completes the batch.
	conf, err := r.Verify(context.Background(), second, "buyer-1")
	require.NoError(t, err)
	require.Len(t, conf.Orders, 1)
	assert.Equal(t, domain.OrderConfirmed, conf.Orders[0].Status)
}

func TestVerifyConfirmsOrdersAndCreatesDeliveries(t *testing.T) {
	gw := &fakeGateway{}
	r, ledger := newReconciler(gw)
	orders := seedOrders(t, ledger, "buyer-1", domain.OptionPickup, domain.OptionDelivery)
	ref := initiated(t, r, orders)
	gw.verification = &ports.GatewayVerification{Succeeded: true, AmountCents: 2000, BuyerID: "buyer-1"}

	conf, err := r.Verify(context.Background(), ref, "buyer-1")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentVerified, conf.Transaction.Status)
	require.Len(t, conf.Orders, 2)
	require.Len(t, conf.Deliveries, 1)

	pickup, err := ledger.GetOrder(context.Background(), orders[0].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderConfirmed, pickup.Status)

	delivered, err := ledger.GetOrder(context.Background(), orders[1].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderAwaitingDelivery, delivered.Status)

	d, err := ledger.GetDelivery(context.Background(), conf.Deliveries[0].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DeliveryPending, d.Status)
	assert.Equal(t, orders[1].ID, d.OrderID)
	assert.Empty(t, d.AgentID)
}

func TestVerifyThenWebhookIsIdempotent(t *testing.T) {
	gw := &fakeGateway{}
	r, ledger := newReconciler(gw)
	orders := seedOrders(t, ledger, "buyer-1", domain.OptionPickup)
	ref := initiated(t, r, orders)
	gw.verification = &ports.GatewayVerification{Succeeded: true, AmountCents: 1000, BuyerID: "buyer-1"}

	_, err := r.Verify(context.Background(), ref, "buyer-1")
	require.NoError(t, err)

	body, sig := signedWebhook(t, ref, "buyer-1", 1000)
	for i := 0; i < 3; i++ {
		_, err = r.HandleWebhook(context.Background(), body, sig)
		assert.ErrorIs(t, err, domain.ErrAlreadyVerified, "replay %d", i)
	}

	got, err := ledger.GetOrder(context.Background(), orders[0].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderConfirmed, got.Status)
}

func TestWebhookThenVerifyIsIdempotent(t *testing.T) {
	gw := &fakeGateway{}
	r, ledger := newReconciler(gw)
	orders := seedOrders(t, ledger, "buyer-1", domain.OptionPickup)
	ref := initiated(t, r, orders)
	gw.verification = &ports.GatewayVerification{Succeeded: true, AmountCents: 1000, BuyerID: "buyer-1"}

	body, sig := signedWebhook(t, ref, "buyer-1", 1000)
	conf, err := r.HandleWebhook(context.Background(), body, sig)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentVerified, conf.Transaction.Status)

	_, err = r.Verify(context.Background(), ref, "buyer-1")
	assert.ErrorIs(t, err, domain.ErrAlreadyVerified)
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	gw := &fakeGateway{}
	r, ledger := newReconciler(gw)
	orders := seedOrders(t, ledger, "buyer-1", domain.OptionPickup)
	ref := initiated(t, r, orders)

	body, _ := signedWebhook(t, ref, "buyer-1", 1000)
	_, err := r.HandleWebhook(context.Background(), body, "deadbeef")
	assert.ErrorIs(t, err, domain.ErrInvalidSignature)

	tx, err := ledger.GetTransaction(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentInitiated, tx.Status, "bad signature must not touch state")
}

func TestAmountMismatchMarksTransactionFailed(t *testing.T) {
	gw := &fakeGateway{}
	r, ledger := newReconciler(gw)
	orders := seedOrders(t, ledger, "buyer-1", domain.OptionPickup)
	ref := initiated(t, r, orders)
	gw.verification = &ports.GatewayVerification{Succeeded: true, AmountCents: 999, BuyerID: "buyer-1"}

	_, err := r.Verify(context.Background(), ref, "buyer-1")
	assert.ErrorIs(t, err, domain.ErrPaymentMismatch)

	tx, err := ledger.GetTransaction(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentFailed, tx.Status, "mismatch is retained for audit")

	got, err := ledger.GetOrder(context.Background(), orders[0].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderPendingPayment, got.Status, "order stays pending for retry")
}

func TestBuyerMismatchIsRejected(t *testing.T) {
	gw := &fakeGateway{}
	r, ledger := newReconciler(gw)
	orders := seedOrders(t, ledger, "buyer-1", domain.OptionPickup)
	ref := initiated(t, r, orders)
	gw.verification = &ports.GatewayVerification{Succeeded: true, AmountCents: 1000, BuyerID: "buyer-1"}

	_, err := r.Verify(context.Background(), ref, "someone-else")
	assert.ErrorIs(t, err, domain.ErrPaymentMismatch)
}

func TestVerifyRejectsForeignSessionMetadata(t *testing.T) {
	gw := &fakeGateway{}
	r, ledger := newReconciler(gw)
	orders := seedOrders(t, ledger, "buyer-1", domain.OptionPickup)
	ref := initiated(t, r, orders)
	// Gateway echoes a session opened for somebody else.
	gw.verification = &ports.GatewayVerification{Succeeded: true, AmountCents: 1000, BuyerID: "buyer-2"}

	_, err := r.Verify(context.Background(), ref, "buyer-1")
	assert.ErrorIs(t, err, domain.ErrPaymentMismatch)

	tx, err := ledger.GetTransaction(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentInitiated, tx.Status, "metadata disagreement touches no state")
}

func TestConcurrentVerifyAndWebhookConvergeOnce(t *testing.T) {
	gw := &fakeGateway{}
	r, ledger := newReconciler(gw)
	orders := seedOrders(t, ledger, "buyer-1", domain.OptionPickup)
	ref := initiated(t, r, orders)
	gw.verification = &ports.GatewayVerification{Succeeded: true, AmountCents: 1000, BuyerID: "buyer-1"}
	body, sig := signedWebhook(t, ref, "buyer-1", 1000)

	results := make(chan error, 2)
	go func() {
		_, err := r.Verify(context.Background(), ref, "buyer-1")
		results <- err
	}()
	go func() {
		_, err := r.HandleWebhook(context.Background(), body, sig)
		results <- err
	}()

	var wins, noops int
	for i := 0; i < 2; i++ {
		err := <-results
		switch {
		case err == nil:
			wins++
		case errors.Is(err, domain.ErrAlreadyVerified):
			noops++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, wins, "exactly one path applies the transition")
	assert.Equal(t, 1, noops)
}

func TestVerifyUnknownReference(t *testing.T) {
	gw := &fakeGateway{verification: &ports.GatewayVerification{Succeeded: true}}
	r, _ := newReconciler(gw)

	_, err := r.Verify(context.Background(), "no-such-ref", "buyer-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
