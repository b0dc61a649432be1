package firestore

import (
	"time"

	domain "github.com/hanko-field/orders/internal/domain"
)

type orderDocument struct {
	ID              string             `firestore:"id"`
	UserID          string             `firestore:"userId"`
	Status          string             `firestore:"status"`
	Currency        string             `firestore:"currency"`
	Total           int64              `firestore:"total"`
	Items           []lineItemDocument `firestore:"items"`
	ShippingAddress addressDocument    `firestore:"shippingAddress"`
	Email           string             `firestore:"email"`
	Payment         paymentDocument    `firestore:"payment"`
	Tracking        *trackingDocument  `firestore:"tracking,omitempty"`
	Version         int64              `firestore:"version"`
	CreatedAt       time.Time          `firestore:"createdAt"`
	UpdatedAt       time.Time          `firestore:"updatedAt"`
	ShippedAt       *time.Time         `firestore:"shippedAt,omitempty"`
	DeliveredAt     *time.Time         `firestore:"deliveredAt,omitempty"`
	CancelledAt     *time.Time         `firestore:"cancelledAt,omitempty"`
}

type lineItemDocument struct {
	ProductID string `firestore:"productId"`
	Name      string `firestore:"name"`
	Quantity  int    `firestore:"quantity"`
	UnitPrice int64  `firestore:"unitPrice"`
	Total     int64  `firestore:"total"`
}

type addressDocument struct {
	Recipient  string `firestore:"recipient"`
	Line1      string `firestore:"line1"`
	Line2      string `firestore:"line2,omitempty"`
	City       string `firestore:"city"`
	State      string `firestore:"state,omitempty"`
	PostalCode string `firestore:"postalCode"`
	Country    string `firestore:"country"`
	Phone      string `firestore:"phone,omitempty"`
}

type paymentDocument struct {
	Method            string     `firestore:"method"`
	Status            string     `firestore:"status"`
	GatewayOrderRef   string     `firestore:"gatewayOrderRef,omitempty"`
	GatewayPaymentRef string     `firestore:"gatewayPaymentRef,omitempty"`
	ConfirmedVia      string     `firestore:"confirmedVia,omitempty"`
	PaidAt            *time.Time `firestore:"paidAt,omitempty"`
}

type trackingDocument struct {
	Carrier    string `firestore:"carrier"`
	TrackingID string `firestore:"trackingId"`
	URL        string `firestore:"url,omitempty"`
}

type cancellationDocument struct {
	ID            string     `firestore:"id"`
	OrderID       string     `firestore:"orderId"`
	UserID        string     `firestore:"userId"`
	Type          string     `firestore:"type"`
	Reason        string     `firestore:"reason"`
	Status        string     `firestore:"status"`
	AdminResponse string     `firestore:"adminResponse,omitempty"`
	DecidedBy     string     `firestore:"decidedBy,omitempty"`
	CreatedAt     time.Time  `firestore:"createdAt"`
	UpdatedAt     time.Time  `firestore:"updatedAt"`
	DecidedAt     *time.Time `firestore:"decidedAt,omitempty"`
}

// pendingLockDocument marks the single pending request an order may have. Its document ID is the
// order ID, so two concurrent creates collide on commit.
type pendingLockDocument struct {
	RequestID string    `firestore:"requestId"`
	CreatedAt time.Time `firestore:"createdAt"`
}

func encodeOrder(order domain.Order) orderDocument {
	doc := orderDocument{
		ID:       order.ID,
		UserID:   order.UserID,
		Status:   string(order.Status),
		Currency: order.Currency,
		Total:    order.Total,
		Items:    make([]lineItemDocument, 0, len(order.Items)),
		ShippingAddress: addressDocument{
			Recipient:  order.ShippingAddress.Recipient,
			Line1:      order.ShippingAddress.Line1,
			Line2:      order.ShippingAddress.Line2,
			City:       order.ShippingAddress.City,
			State:      order.ShippingAddress.State,
			PostalCode: order.ShippingAddress.PostalCode,
			Country:    order.ShippingAddress.Country,
			Phone:      order.ShippingAddress.Phone,
		},
		Email: order.Email,
		Payment: paymentDocument{
			Method:            string(order.Payment.Method),
			Status:            string(order.Payment.Status),
			GatewayOrderRef:   order.Payment.GatewayOrderRef,
			GatewayPaymentRef: order.Payment.GatewayPaymentRef,
			ConfirmedVia:      string(order.Payment.ConfirmedVia),
			PaidAt:            utcPtr(order.Payment.PaidAt),
		},
		Version:     order.Version,
		CreatedAt:   order.CreatedAt.UTC(),
		UpdatedAt:   order.UpdatedAt.UTC(),
		ShippedAt:   utcPtr(order.ShippedAt),
		DeliveredAt: utcPtr(order.DeliveredAt),
		CancelledAt: utcPtr(order.CancelledAt),
	}
	for _, item := range order.Items {
		doc.Items = append(doc.Items, lineItemDocument(item))
	}
	if order.Tracking != nil {
		tracking := trackingDocument(*order.Tracking)
		doc.Tracking = &tracking
	}
	return doc
}

func decodeOrder(doc orderDocument) domain.Order {
	order := domain.Order{
		ID:       doc.ID,
		UserID:   doc.UserID,
		Status:   domain.OrderStatus(doc.Status),
		Currency: doc.Currency,
		Total:    doc.Total,
		ShippingAddress: domain.Address{
			Recipient:  doc.ShippingAddress.Recipient,
			Line1:      doc.ShippingAddress.Line1,
			Line2:      doc.ShippingAddress.Line2,
			City:       doc.ShippingAddress.City,
			State:      doc.ShippingAddress.State,
			PostalCode: doc.ShippingAddress.PostalCode,
			Country:    doc.ShippingAddress.Country,
			Phone:      doc.ShippingAddress.Phone,
		},
		Email: doc.Email,
		Payment: domain.Payment{
			Method:            domain.PaymentMethod(doc.Payment.Method),
			Status:            domain.PaymentStatus(doc.Payment.Status),
			GatewayOrderRef:   doc.Payment.GatewayOrderRef,
			GatewayPaymentRef: doc.Payment.GatewayPaymentRef,
			ConfirmedVia:      domain.ConfirmationChannel(doc.Payment.ConfirmedVia),
			PaidAt:            utcPtr(doc.Payment.PaidAt),
		},
		Version:     doc.Version,
		CreatedAt:   doc.CreatedAt.UTC(),
		UpdatedAt:   doc.UpdatedAt.UTC(),
		ShippedAt:   utcPtr(doc.ShippedAt),
		DeliveredAt: utcPtr(doc.DeliveredAt),
		CancelledAt: utcPtr(doc.CancelledAt),
	}
	for _, item := range doc.Items {
		order.Items = append(order.Items, domain.OrderLineItem(item))
	}
	if doc.Tracking != nil {
		tracking := domain.Tracking(*doc.Tracking)
		order.Tracking = &tracking
	}
	return order
}

func encodeCancellation(request domain.CancellationRequest) cancellationDocument {
	return cancellationDocument{
		ID:            request.ID,
		OrderID:       request.OrderID,
		UserID:        request.UserID,
		Type:          string(request.Type),
		Reason:        request.Reason,
		Status:        string(request.Status),
		AdminResponse: request.AdminResponse,
		DecidedBy:     request.DecidedBy,
		CreatedAt:     request.CreatedAt.UTC(),
		UpdatedAt:     request.UpdatedAt.UTC(),
		DecidedAt:     utcPtr(request.DecidedAt),
	}
}

func decodeCancellation(doc cancellationDocument) domain.CancellationRequest {
	return domain.CancellationRequest{
		ID:            doc.ID,
		OrderID:       doc.OrderID,
		UserID:        doc.UserID,
		Type:          domain.CancellationType(doc.Type),
		Reason:        doc.Reason,
		Status:        domain.CancellationStatus(doc.Status),
		AdminResponse: doc.AdminResponse,
		DecidedBy:     doc.DecidedBy,
		CreatedAt:     doc.CreatedAt.UTC(),
		UpdatedAt:     doc.UpdatedAt.UTC(),
		DecidedAt:     utcPtr(doc.DecidedAt),
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	value := t.UTC()
	return &value
}
