package services

import (
	"context"
	"time"

	domain "github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/payments"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Order               = domain.Order
	OrderStatus         = domain.OrderStatus
	OrderLineItem       = domain.OrderLineItem
	Address             = domain.Address
	Payment             = domain.Payment
	Tracking            = domain.Tracking
	CancellationRequest = domain.CancellationRequest
	NotificationEvent   = domain.NotificationEvent
	SystemHealthReport  = domain.SystemHealthReport
)

// OrderStateMachine owns the legal order status graph. All status mutations pass through it.
type OrderStateMachine interface {
	CanTransition(from, to OrderStatus) bool
	Get(ctx context.Context, orderID string) (Order, error)
	Transition(ctx context.Context, cmd TransitionCommand) (Order, error)
	// Apply performs the conditional write without emitting notifications. Callers running
	// it inside a unit of work pass the result to Notify once the unit commits.
	Apply(ctx context.Context, cmd TransitionCommand) (TransitionResult, error)
	Notify(ctx context.Context, result TransitionResult)
}

// PaymentReconciler advances an order's payment to paid exactly once, whichever channel
// reports the payment first.
type PaymentReconciler interface {
	ClientConfirm(ctx context.Context, cmd ClientConfirmCommand) (ReconcileResult, error)
	WebhookConfirm(ctx context.Context, cmd WebhookConfirmCommand) (ReconcileResult, error)
	SweepConfirm(ctx context.Context, orderID string, details payments.PaymentDetails) (ReconcileResult, error)
}

// CancellationWorkflow manages customer cancellation and exchange requests.
type CancellationWorkflow interface {
	Submit(ctx context.Context, cmd SubmitCancellationCommand) (CancellationRequest, error)
	Respond(ctx context.Context, cmd RespondCancellationCommand) (CancellationRequest, error)
	// ListForOrder returns the order's requests, newest first. A non-empty userID restricts
	// the listing to that owner.
	ListForOrder(ctx context.Context, orderID, userID string) ([]CancellationRequest, error)
	Get(ctx context.Context, requestID string) (CancellationRequest, error)
}

// OrderService covers order placement and gateway session setup.
type OrderService interface {
	Create(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	Get(ctx context.Context, orderID string) (Order, error)
	OpenGatewaySession(ctx context.Context, cmd OpenGatewaySessionCommand) (payments.Session, error)
}

// NotificationDispatcher delivers user-facing events best effort. Emit never blocks.
type NotificationDispatcher interface {
	Emit(ctx context.Context, event NotificationEvent)
	Close(ctx context.Context) error
}

// NotificationSink delivers a single event to a transport.
type NotificationSink interface {
	Deliver(ctx context.Context, event NotificationEvent) error
}

// PaymentSweeper reconciles gateway payments whose webhook never arrived.
type PaymentSweeper interface {
	Sweep(ctx context.Context) (SweepReport, error)
}

// SystemService reports service health for readiness endpoints.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// TransitionCommand requests a status change. ExpectedStatus, when set, must match the
// freshly read status.
type TransitionCommand struct {
	OrderID        string
	Target         OrderStatus
	ActorID        string
	Tracking       *Tracking
	ExpectedStatus *OrderStatus
}

// TransitionResult is the outcome of an applied transition.
type TransitionResult struct {
	Order    Order
	Previous OrderStatus
	ActorID  string
	At       time.Time
}

// ReconcileOutcome describes how a confirmation was resolved.
type ReconcileOutcome string

const (
	// ReconcileApplied means this call wrote the paid state.
	ReconcileApplied ReconcileOutcome = "applied"
	// ReconcileAlreadyPaid means the order was already paid when read.
	ReconcileAlreadyPaid ReconcileOutcome = "already_paid"
	// ReconcileLostRace means a concurrent caller wrote the paid state first.
	ReconcileLostRace ReconcileOutcome = "lost_race"
	// ReconcileReplayed means the webhook delivery was recognised as a duplicate.
	ReconcileReplayed ReconcileOutcome = "replayed"
	// ReconcileIgnored means the webhook event does not settle a payment.
	ReconcileIgnored ReconcileOutcome = "ignored"
)

// ReconcileResult carries the outcome and, except for ignored or replayed webhooks, the order.
type ReconcileResult struct {
	Outcome ReconcileOutcome
	Channel domain.ConfirmationChannel
	Order   Order
}

// ClientConfirmCommand is the customer's report of a completed payment.
type ClientConfirmCommand struct {
	OrderID           string
	UserID            string
	GatewayPaymentRef string
}

// WebhookConfirmCommand carries a raw gateway delivery.
type WebhookConfirmCommand struct {
	Payload    []byte
	Signature  string
	RemoteAddr string
}

// SubmitCancellationCommand opens a cancellation or exchange request.
type SubmitCancellationCommand struct {
	OrderID string
	UserID  string
	Type    domain.CancellationType
	Reason  string
}

// CancellationDecision is the administrator's verdict.
type CancellationDecision string

const (
	DecisionApproved CancellationDecision = "approved"
	DecisionRejected CancellationDecision = "rejected"
)

// RespondCancellationCommand records an administrator decision.
type RespondCancellationCommand struct {
	RequestID     string
	Decision      CancellationDecision
	AdminResponse string
	ActorID       string
}

// CreateOrderCommand places a new order.
type CreateOrderCommand struct {
	UserID          string
	Email           string
	Currency        string
	PaymentMethod   domain.PaymentMethod
	ShippingAddress Address
	Items           []CreateOrderItem
}

// CreateOrderItem is a requested line.
type CreateOrderItem struct {
	ProductID string
	Name      string
	Quantity  int
	UnitPrice int64
}

// OpenGatewaySessionCommand opens the gateway payment for an order. Amount must equal the
// order total.
type OpenGatewaySessionCommand struct {
	OrderID string
	UserID  string
	Amount  int64
}

// SweepReport summarises one sweeper run.
type SweepReport struct {
	Scanned   int
	Confirmed int
	Skipped   int
	Failed    int
}
