package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Order struct {
	ID              string
	OrderNumber     string
	CheckoutGroupID string
	BuyerID         string
	SellerID        string
	ProductID       string
	Quantity        int
	UnitPriceCents  int64
	TotalCents      int64
	DeliveryOption  DeliveryOption
	DeliveryFee     int64
	PaymentRef      string
	Status          OrderStatus
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type OrderStatus string

const (
	OrderPendingPayment   OrderStatus = "pending_payment"
	OrderConfirmed        OrderStatus = "confirmed"
	OrderAwaitingDelivery OrderStatus = "awaiting_delivery"
	OrderDelivered        OrderStatus = "delivered"
	OrderCancelled        OrderStatus = "cancelled"
)

type DeliveryOption string

const (
	OptionPickup   DeliveryOption = "pickup"
	OptionDelivery DeliveryOption = "delivery"
)

// NewOrderNumber builds the human-readable order number shown to buyers
// and sellers, e.g. "CM-20250829-1a2b3c4d". Uniqueness comes from the
// uuid fragment; the date prefix is for support staff grepping.
func NewOrderNumber(now time.Time) string {
	return fmt.Sprintf("CM-%s-%s", now.UTC().Format("20060102"), uuid.NewString()[:8])
}
