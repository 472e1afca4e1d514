package domain

import "time"

// Event is the payload handed to fulfillment bus subscribers: the event
// name plus a post-transition snapshot of the entity that moved. Delivery
// is best-effort; subscribers are advisory, never transactional
// participants.
type Event struct {
	Name    string
	At      time.Time
	Payload any
}

// Event names published by the core.
const (
	EventOrderCreated      = "order.created"
	EventOrderConfirmed    = "order.confirmed"
	EventOrderDelivered    = "order.delivered"
	EventPaymentVerified   = "payment.verified"
	EventPaymentFailed     = "payment.failed"
	EventDeliveryCreated   = "delivery.created"
	EventDeliveryCompleted = "delivery.completed"
	EventDeliveryCancelled = "delivery.cancelled"
)
