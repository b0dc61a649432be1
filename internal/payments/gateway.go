package payments

import (
	"context"
	"errors"
	"time"
)

// Status enumerates the normalised payment states reported by the gateway.
type Status string

const (
	// StatusPending indicates the payment is awaiting customer action or gateway confirmation.
	StatusPending Status = "pending"
	// StatusSucceeded indicates the gateway reports the payment as captured.
	StatusSucceeded Status = "succeeded"
	// StatusFailed indicates the gateway reports a failure and no further action is possible.
	StatusFailed Status = "failed"
)

var (
	// ErrPaymentNotFound is returned when the gateway has no record of the reference.
	ErrPaymentNotFound = errors.New("payments: payment not found")
	// ErrGatewayUnavailable marks transport or 5xx failures talking to the gateway.
	ErrGatewayUnavailable = errors.New("payments: gateway unavailable")
)

// SessionRequest asks the gateway to open a payment for an internal order.
type SessionRequest struct {
	OrderID  string
	Amount   int64
	Currency string
	Email    string
}

// Session is the gateway-side payment handle returned to the client.
type Session struct {
	GatewayOrderRef string
	ClientKey       string
}

// PaymentDetails normalises gateway specific fields for reconciliation.
type PaymentDetails struct {
	GatewayOrderRef string
	PaymentRef      string
	OrderID         string
	Status          Status
	Amount          int64
	Currency        string
	CapturedAt      *time.Time
}

// Captured reports whether funds were captured.
func (d PaymentDetails) Captured() bool {
	return d.Status == StatusSucceeded
}

// Gateway opens payment sessions and looks up their outcome.
type Gateway interface {
	OpenSession(ctx context.Context, req SessionRequest) (Session, error)
	LookupPayment(ctx context.Context, gatewayOrderRef string) (PaymentDetails, error)
}

// SessionIdempotencyKey is the gateway idempotency key for an order's session.
func SessionIdempotencyKey(orderID string) string {
	return "gateway-session:" + orderID
}
