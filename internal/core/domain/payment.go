package domain

import "time"

// PaymentTransaction records one gateway payment attempt for a batch of
// orders born from the same checkout call.
//
// The reference is the gateway's unique identifier for the attempt. A
// transaction moves initiated → verified at most once; whichever of the
// client verify call or the gateway webhook arrives second observes the
// already-verified row and becomes a no-op. A failed transaction is kept
// for audit, never deleted.
type PaymentTransaction struct {
	Reference       string
	CheckoutGroupID string
	BuyerID         string
	AmountCents     int64
	Status          PaymentStatus
	CreatedAt       time.Time
	VerifiedAt      *time.Time
}

type PaymentStatus string

const (
	PaymentInitiated PaymentStatus = "initiated"
	PaymentVerified  PaymentStatus = "verified"
	PaymentFailed    PaymentStatus = "failed"
)
