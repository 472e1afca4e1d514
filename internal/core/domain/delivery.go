package domain

import "time"

// Delivery is the fulfillment job tied 1:1 to an order whose buyer chose
// agent-carried handoff. AgentID is set exactly once, by the agent who
// wins the acceptance race, at the transition into in_progress.
type Delivery struct {
	ID          string
	OrderID     string
	CustomerID  string
	SellerID    string
	AgentID     string
	FeeCents    int64
	Status      DeliveryStatus
	CreatedAt   time.Time
	AssignedAt  *time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

type DeliveryStatus string

const (
	DeliveryPending    DeliveryStatus = "pending"
	DeliveryInProgress DeliveryStatus = "in_progress"
	DeliveryCompleted  DeliveryStatus = "completed"
	DeliveryCancelled  DeliveryStatus = "cancelled"
)
