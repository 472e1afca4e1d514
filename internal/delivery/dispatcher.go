// Package delivery manages the lifecycle of agent-carried fulfillment
// jobs: pending → in_progress → completed, or pending → cancelled.
//
// Accept is the race-critical operation. It is a single conditional update
// in the ledger; losers of the race get domain.ErrAlreadyAssigned as a
// normal negative response, never a crash or a stuck request.
package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/jcmexdev/campus-market/internal/core/domain"
	"github.com/jcmexdev/campus-market/internal/core/ports"
	"github.com/jcmexdev/campus-market/internal/pkg/cache"
)

// availableTTL bounds the staleness of the cached job board. A stale list
// is harmless: accept is still conditional, so a vanished job just loses
// the race.
const availableTTL = 5 * time.Second

type Dispatcher struct {
	ledger ports.Ledger
	bus    ports.Publisher
	cache  cache.Cache // nil-safe: caching skipped if nil
}

func NewDispatcher(ledger ports.Ledger, bus ports.Publisher, c cache.Cache) *Dispatcher {
	return &Dispatcher{ledger: ledger, bus: bus, cache: c}
}

// guard rejects actors without delivery capability before any state is
// read or touched. Approval is an externally managed flag on the actor.
func guard(actor domain.Actor) error {
	if !actor.CanDeliver() || !actor.Approved {
		return domain.ErrRoleNotApproved
	}
	return nil
}

// ListAvailable returns pending, unassigned jobs. Read-only; served from
// the short-TTL cache when one is configured.
func (d *Dispatcher) ListAvailable(ctx context.Context, actor domain.Actor) ([]domain.Delivery, error) {
	if !actor.CanDeliver() {
		return nil, domain.ErrRoleNotApproved
	}
	key := ""
	if d.cache != nil {
		key = d.cache.GenerateKey("deliveries", "available")
		if raw, err := d.cache.Get(ctx, key); err == nil && raw != "" {
			var cached []domain.Delivery
			if err := json.Unmarshal([]byte(raw), &cached); err == nil {
				return cached, nil
			}
		}
	}
	out, err := d.ledger.ListPendingDeliveries(ctx)
	if err != nil {
		return nil, fmt.Errorf("delivery: list available: %w", err)
	}
	if d.cache != nil {
		if raw, err := json.Marshal(out); err == nil {
			// Best effort; a cold cache just means one more DB read.
			_ = d.cache.Set(ctx, key, string(raw), availableTTL)
		}
	}
	return out, nil
}

// Accept moves a pending job to in_progress for this agent. At most one
// agent ever wins a given job.
func (d *Dispatcher) Accept(ctx context.Context, actor domain.Actor, deliveryID string) (*domain.Delivery, error) {
	ctx, span := otel.Tracer("delivery").Start(ctx, "delivery.accept")
	defer span.End()

	if err := guard(actor); err != nil {
		return nil, err
	}
	dl, err := d.ledger.AcceptDelivery(ctx, deliveryID, actor.ID, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "delivery accepted", "delivery_id", deliveryID, "agent_id", actor.ID)
	return dl, nil
}

// Complete closes the job and, in the same ledger transaction, moves the
// owning order awaiting_delivery → delivered. Only the agent recorded by
// Accept may complete.
func (d *Dispatcher) Complete(ctx context.Context, actor domain.Actor, deliveryID string) (*domain.Delivery, error) {
	ctx, span := otel.Tracer("delivery").Start(ctx, "delivery.complete")
	defer span.End()

	if err := guard(actor); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	dl, order, err := d.ledger.CompleteDelivery(ctx, deliveryID, actor.ID, now)
	if err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "delivery completed", "delivery_id", deliveryID, "agent_id", actor.ID)
	d.bus.Publish(ctx, domain.Event{Name: domain.EventDeliveryCompleted, At: now, Payload: *dl})
	if order != nil {
		d.bus.Publish(ctx, domain.Event{Name: domain.EventOrderDelivered, At: now, Payload: *order})
	}
	return dl, nil
}

// Cancel pulls a still-pending job from the board. An accept racing with
// the cancel loses by the same zero-row rule as a lost agent race.
func (d *Dispatcher) Cancel(ctx context.Context, actor domain.Actor, deliveryID string) (*domain.Delivery, error) {
	if actor.Role != domain.RoleAdmin {
		return nil, domain.ErrRoleNotApproved
	}
	now := time.Now().UTC()
	dl, err := d.ledger.CancelDelivery(ctx, deliveryID, now)
	if err != nil {
		return nil, err
	}
	d.bus.Publish(ctx, domain.Event{Name: domain.EventDeliveryCancelled, At: now, Payload: *dl})
	return dl, nil
}
