package delivery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcmexdev/campus-market/internal/core/domain"
	"github.com/jcmexdev/campus-market/internal/events"
	"github.com/jcmexdev/campus-market/internal/storage/memory"
)

var (
	agentX = domain.Actor{ID: "agent-x", Role: domain.RoleAgent, Approved: true}
	agentY = domain.Actor{ID: "agent-y", Role: domain.RoleAgent, Approved: true}
	admin  = domain.Actor{ID: "admin-1", Role: domain.RoleAdmin, Approved: true}
)

// seedPendingDelivery drives the full paid-order flow so the job shows up
// on the board the same way it does in production: order → transaction →
// confirmed payment → pending delivery.
func seedPendingDelivery(t *testing.T, ledger *memory.Ledger) domain.Delivery {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	order := domain.Order{
		ID:              uuid.NewString(),
		OrderNumber:     domain.NewOrderNumber(now),
		CheckoutGroupID: uuid.NewString(),
		BuyerID:         "buyer-1",
		SellerID:        "seller-1",
		ProductID:       uuid.NewString(),
		Quantity:        1,
		UnitPriceCents:  1500,
		TotalCents:      1700,
		DeliveryOption:  domain.OptionDelivery,
		DeliveryFee:     200,
		Status:          domain.OrderPendingPayment,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	require.NoError(t, ledger.CreateOrders(ctx, []domain.Order{order}, nil))

	ref := uuid.NewString()
	require.NoError(t, ledger.CreateTransaction(ctx, &domain.PaymentTransaction{
		Reference:       ref,
		CheckoutGroupID: order.CheckoutGroupID,
		BuyerID:         order.BuyerID,
		AmountCents:     order.TotalCents,
		Status:          domain.PaymentInitiated,
		CreatedAt:       now,
	}, []string{order.ID}))

	conf, err := ledger.ConfirmPayment(ctx, ref, now)
	require.NoError(t, err)
	require.Len(t, conf.Deliveries, 1)
	return conf.Deliveries[0]
}

func TestAcceptRaceHasExactlyOneWinner(t *testing.T) {
	ledger := memory.NewLedger()
	d := NewDispatcher(ledger, events.NewBus(), nil)
	job := seedPendingDelivery(t, ledger)

	type outcome struct {
		actor domain.Actor
		err   error
	}
	results := make(chan outcome, 2)
	start := make(chan struct{})
	for _, a := range []domain.Actor{agentX, agentY} {
		go func(a domain.Actor) {
			<-start
			_, err := d.Accept(context.Background(), a, job.ID)
			results <- outcome{actor: a, err: err}
		}(a)
	}
	close(start)

	var winner domain.Actor
	var losses int
	for i := 0; i < 2; i++ {
		o := <-results
		switch {
		case o.err == nil:
			winner = o.actor
		case errors.Is(o.err, domain.ErrAlreadyAssigned):
			losses++
		default:
			t.Fatalf("unexpected error: %v", o.err)
		}
	}
	require.NotEmpty(t, winner.ID, "someone must win")
	assert.Equal(t, 1, losses, "the other agent loses cleanly")

	got, err := ledger.GetDelivery(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, winner.ID, got.AgentID)
	assert.Equal(t, domain.DeliveryInProgress, got.Status)

	loser := agentX
	if winner.ID == agentX.ID {
		loser = agentY
	}
	_, err = d.Complete(context.Background(), loser, job.ID)
	assert.ErrorIs(t, err, domain.ErrNotAssignedAgent)
}

func TestAcceptTwiceBySameAgentFails(t *testing.T) {
	ledger := memory.NewLedger()
	d := NewDispatcher(ledger, events.NewBus(), nil)
	job := seedPendingDelivery(t, ledger)

	_, err := d.Accept(context.Background(), agentX, job.ID)
	require.NoError(t, err)
	_, err = d.Accept(context.Background(), agentX, job.ID)
	assert.ErrorIs(t, err, domain.ErrAlreadyAssigned)
}

func TestCompleteMarksOrderDelivered(t *testing.T) {
	ledger := memory.NewLedger()
	bus := events.NewBus()
	d := NewDispatcher(ledger, bus, nil)
	job := seedPendingDelivery(t, ledger)

	var mu sync.Mutex
	var published []string
	bus.Subscribe("*", func(_ context.Context, ev domain.Event) {
		mu.Lock()
		published = append(published, ev.Name)
		mu.Unlock()
	})

	_, err := d.Accept(context.Background(), agentX, job.ID)
	require.NoError(t, err)

	done, err := d.Complete(context.Background(), agentX, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DeliveryCompleted, done.Status)
	require.NotNil(t, done.CompletedAt)

	order, err := ledger.GetOrder(context.Background(), job.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderDelivered, order.Status, "order flips in the same transition")

	bus.Wait()
	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, published, domain.EventDeliveryCompleted)
	assert.Contains(t, published, domain.EventOrderDelivered)
}

func TestCompleteWithoutAcceptFails(t *testing.T) {
	ledger := memory.NewLedger()
	d := NewDispatcher(ledger, events.NewBus(), nil)
	job := seedPendingDelivery(t, ledger)

	_, err := d.Complete(context.Background(), agentX, job.ID)
	assert.ErrorIs(t, err, domain.ErrNotAssignedAgent)
}

func TestUnapprovedAgentIsRejected(t *testing.T) {
	ledger := memory.NewLedger()
	d := NewDispatcher(ledger, events.NewBus(), nil)
	job := seedPendingDelivery(t, ledger)

	pending := domain.Actor{ID: "agent-z", Role: domain.RoleAgent, Approved: false}
	_, err := d.Accept(context.Background(), pending, job.ID)
	assert.ErrorIs(t, err, domain.ErrRoleNotApproved)

	student := domain.Actor{ID: "student-1", Role: domain.RoleStudent, Approved: true}
	_, err = d.Accept(context.Background(), student, job.ID)
	assert.ErrorIs(t, err, domain.ErrRoleNotApproved)

	got, err := ledger.GetDelivery(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DeliveryPending, got.Status)
}

func TestListAvailableHidesAssignedJobs(t *testing.T) {
	ledger := memory.NewLedger()
	d := NewDispatcher(ledger, events.NewBus(), nil)
	first := seedPendingDelivery(t, ledger)
	second := seedPendingDelivery(t, ledger)

	jobs, err := d.ListAvailable(context.Background(), agentX)
	require.NoError(t, err)
	assert.Len(t, jobs, 2)

	_, err = d.Accept(context.Background(), agentX, first.ID)
	require.NoError(t, err)

	jobs, err = d.ListAvailable(context.Background(), agentY)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, second.ID, jobs[0].ID)
}

func TestCancelPendingJob(t *testing.T) {
	ledger := memory.NewLedger()
	d := NewDispatcher(ledger, events.NewBus(), nil)
	job := seedPendingDelivery(t, ledger)

	_, err := d.Cancel(context.Background(), agentX, job.ID)
	assert.ErrorIs(t, err, domain.ErrRoleNotApproved, "only admins cancel")

	done, err := d.Cancel(context.Background(), admin, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DeliveryCancelled, done.Status)

	_, err = d.Accept(context.Background(), agentX, job.ID)
	assert.ErrorIs(t, err, domain.ErrAlreadyAssigned, "cancelled job is off the board")
}
