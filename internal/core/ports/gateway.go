package ports

import "context"

// Gateway is the payment provider the reconciler exchanges signed REST
// messages with. The hosted checkout UI is the provider's problem; the
// core only opens sessions and verifies their outcome.
type Gateway interface {
	InitiateSession(ctx context.Context, req InitiateRequest) (*GatewaySession, error)
	VerifySession(ctx context.Context, reference string) (*GatewayVerification, error)
}

type InitiateRequest struct {
	Reference   string
	BuyerID     string
	Email       string
	AmountCents int64
	CallbackURL string
}

// GatewaySession is the redirect handle returned by InitiateSession; the
// client sends the buyer to AuthorizationURL to pay.
type GatewaySession struct {
	Reference        string
	AccessCode       string
	AuthorizationURL string
}

// GatewayVerification is the provider's view of one payment attempt.
// BuyerID is the correlation id echoed back from the session metadata.
type GatewayVerification struct {
	Reference   string
	Succeeded   bool
	AmountCents int64
	BuyerID     string
}
