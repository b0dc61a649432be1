package domain

import (
	"time"
)

// OrderStatus enumerates the persisted lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusPending indicates the order was placed and awaits payment or fulfilment start.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusProcessing indicates payment settled (or COD accepted) and fulfilment is underway.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusShipped indicates the order left the warehouse with tracking details.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered indicates the carrier confirmed delivery. Terminal.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled indicates the order was cancelled before shipment. Terminal.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// PaymentMethod identifies how the customer settles the order.
type PaymentMethod string

const (
	// PaymentMethodGateway settles through the online payment gateway.
	PaymentMethodGateway PaymentMethod = "gateway"
	// PaymentMethodPayOnDelivery is paid in cash on handover and recorded as paid when the order ships.
	PaymentMethodPayOnDelivery PaymentMethod = "pay_on_delivery"
)

// PaymentStatus tracks settlement of the order payment.
type PaymentStatus string

const (
	// PaymentStatusPending indicates no confirmed payment yet.
	PaymentStatusPending PaymentStatus = "pending"
	// PaymentStatusPaid indicates the payment was confirmed exactly once.
	PaymentStatusPaid PaymentStatus = "paid"
	// PaymentStatusCancelled indicates the order was cancelled before payment settled.
	PaymentStatusCancelled PaymentStatus = "cancelled"
)

// ConfirmationChannel records which path confirmed a payment.
type ConfirmationChannel string

const (
	ConfirmedViaClient  ConfirmationChannel = "client"
	ConfirmedViaWebhook ConfirmationChannel = "webhook"
	ConfirmedViaSweeper ConfirmationChannel = "sweeper"
	ConfirmedViaAdmin   ConfirmationChannel = "admin"
)

// Order captures the authoritative order record owned by the lifecycle engine.
type Order struct {
	ID              string
	UserID          string
	Status          OrderStatus
	Currency        string
	Total           int64
	Items           []OrderLineItem
	ShippingAddress Address
	Email           string
	Payment         Payment
	Tracking        *Tracking
	Version         int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ShippedAt       *time.Time
	DeliveredAt     *time.Time
	CancelledAt     *time.Time
}

// OrderLineItem mirrors the checkout line at the time the order was placed.
// Amounts are in the smallest currency unit.
type OrderLineItem struct {
	ProductID string
	Name      string
	Quantity  int
	UnitPrice int64
	Total     int64
}

// Address is the shipping destination value object.
type Address struct {
	Recipient  string
	Line1      string
	Line2      string
	City       string
	State      string
	PostalCode string
	Country    string
	Phone      string
}

// Payment is the payment sub-record embedded in an order.
type Payment struct {
	Method            PaymentMethod
	Status            PaymentStatus
	GatewayOrderRef   string
	GatewayPaymentRef string
	ConfirmedVia      ConfirmationChannel
	PaidAt            *time.Time
}

// Tracking carries carrier details; present only once the order has shipped.
type Tracking struct {
	Carrier    string
	TrackingID string
	URL        string
}

// CancellationType distinguishes cancellation from replacement requests.
type CancellationType string

const (
	CancellationTypeCancel   CancellationType = "cancel"
	CancellationTypeExchange CancellationType = "exchange"
)

// CancellationStatus is the decision state of a cancellation request.
type CancellationStatus string

const (
	CancellationStatusPending  CancellationStatus = "pending"
	CancellationStatusApproved CancellationStatus = "approved"
	CancellationStatusRejected CancellationStatus = "rejected"
)

// CancellationRequest is a customer request to cancel or exchange an order.
type CancellationRequest struct {
	ID            string
	OrderID       string
	UserID        string
	Type          CancellationType
	Reason        string
	Status        CancellationStatus
	AdminResponse string
	DecidedBy     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	DecidedAt     *time.Time
}

// NotificationType names user-facing notification events.
type NotificationType string

const (
	NotificationOrderCreated          NotificationType = "order.created"
	NotificationOrderStatusChanged    NotificationType = "order.status_changed"
	NotificationPaymentConfirmed      NotificationType = "order.payment_confirmed"
	NotificationCancellationSubmitted NotificationType = "cancellation.submitted"
	NotificationCancellationDecided   NotificationType = "cancellation.decided"
)

// NotificationEvent is an informational message derived from a transition.
// It is never authoritative state.
type NotificationEvent struct {
	ID         string
	UserID     string
	Type       NotificationType
	Title      string
	Message    string
	Payload    map[string]any
	OccurredAt time.Time
}
