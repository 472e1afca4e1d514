package domain

import "errors"

// Sentinel errors for every outcome the caller is expected to branch on.
// Race-lost outcomes (ErrAlreadyAssigned, ErrNotAssignedAgent) are normal
// negative responses under contention, not failures.
var (
	ErrEmptyCart       = errors.New("cart is empty")
	ErrInvalidCartItem = errors.New("invalid cart item")
	ErrInvalidQuantity = errors.New("quantity must be at least 1")

	ErrAlreadyAssigned  = errors.New("delivery already assigned")
	ErrNotAssignedAgent = errors.New("agent is not assigned to this delivery")
	ErrRoleNotApproved  = errors.New("role not approved for delivery operations")

	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrPaymentMismatch  = errors.New("payment amount or buyer mismatch")

	// ErrAlreadyVerified marks the idempotent duplicate of a payment
	// confirmation. Callers treat it as success.
	ErrAlreadyVerified = errors.New("payment already verified")

	ErrGatewayTimeout = errors.New("payment gateway timed out")

	ErrNotFound = errors.New("not found")
)
