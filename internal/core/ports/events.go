package ports

import (
	"context"

	"github.com/jcmexdev/campus-market/internal/core/domain"
)

// Publisher is the fulfillment event hook. Publish must never block the
// caller on subscriber behavior and never returns an error: a slow or
// failing subscriber cannot roll back the state transition that produced
// the event.
type Publisher interface {
	Publish(ctx context.Context, event domain.Event)
}
