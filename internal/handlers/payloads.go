package handlers

import (
	"time"

	"github.com/hanko-field/orders/internal/services"
)

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderPayload struct {
	ID              string             `json:"id"`
	UserID          string             `json:"user_id"`
	Status          string             `json:"status"`
	Currency        string             `json:"currency"`
	Total           int64              `json:"total"`
	Email           string             `json:"email,omitempty"`
	Items           []orderItemPayload `json:"items"`
	ShippingAddress addressPayload     `json:"shipping_address"`
	Payment         paymentPayload     `json:"payment"`
	Tracking        *trackingPayload   `json:"tracking,omitempty"`
	Version         int64              `json:"version"`
	CreatedAt       string             `json:"created_at"`
	UpdatedAt       string             `json:"updated_at,omitempty"`
	ShippedAt       string             `json:"shipped_at,omitempty"`
	DeliveredAt     string             `json:"delivered_at,omitempty"`
	CancelledAt     string             `json:"cancelled_at,omitempty"`
}

type orderItemPayload struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
	Total     int64  `json:"total"`
}

type addressPayload struct {
	Recipient  string `json:"recipient"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
	Phone      string `json:"phone,omitempty"`
}

type paymentPayload struct {
	Method            string `json:"method"`
	Status            string `json:"payment_status"`
	GatewayOrderRef   string `json:"gateway_order_ref,omitempty"`
	GatewayPaymentRef string `json:"gateway_payment_ref,omitempty"`
	ConfirmedVia      string `json:"confirmed_via,omitempty"`
	PaidAt            string `json:"paid_at,omitempty"`
}

type trackingPayload struct {
	Carrier    string `json:"carrier"`
	TrackingID string `json:"tracking_id"`
	URL        string `json:"url,omitempty"`
}

type cancellationPayload struct {
	ID            string `json:"id"`
	OrderID       string `json:"order_id"`
	UserID        string `json:"user_id"`
	Type          string `json:"type"`
	Reason        string `json:"reason"`
	Status        string `json:"status"`
	AdminResponse string `json:"admin_response,omitempty"`
	DecidedBy     string `json:"decided_by,omitempty"`
	CreatedAt     string `json:"created_at"`
	UpdatedAt     string `json:"updated_at,omitempty"`
	DecidedAt     string `json:"decided_at,omitempty"`
}

func buildOrderPayload(order services.Order) orderPayload {
	items := make([]orderItemPayload, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemPayload{
			ProductID: item.ProductID,
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Total:     item.Total,
		})
	}
	payload := orderPayload{
		ID:       order.ID,
		UserID:   order.UserID,
		Status:   string(order.Status),
		Currency: order.Currency,
		Total:    order.Total,
		Email:    order.Email,
		Items:    items,
		ShippingAddress: addressPayload{
			Recipient:  order.ShippingAddress.Recipient,
			Line1:      order.ShippingAddress.Line1,
			Line2:      order.ShippingAddress.Line2,
			City:       order.ShippingAddress.City,
			State:      order.ShippingAddress.State,
			PostalCode: order.ShippingAddress.PostalCode,
			Country:    order.ShippingAddress.Country,
			Phone:      order.ShippingAddress.Phone,
		},
		Payment: paymentPayload{
			Method:            string(order.Payment.Method),
			Status:            string(order.Payment.Status),
			GatewayOrderRef:   order.Payment.GatewayOrderRef,
			GatewayPaymentRef: order.Payment.GatewayPaymentRef,
			ConfirmedVia:      string(order.Payment.ConfirmedVia),
			PaidAt:            formatTimePtr(order.Payment.PaidAt),
		},
		Version:     order.Version,
		CreatedAt:   formatTime(order.CreatedAt),
		UpdatedAt:   formatTime(order.UpdatedAt),
		ShippedAt:   formatTimePtr(order.ShippedAt),
		DeliveredAt: formatTimePtr(order.DeliveredAt),
		CancelledAt: formatTimePtr(order.CancelledAt),
	}
	if order.Tracking != nil {
		payload.Tracking = &trackingPayload{
			Carrier:    order.Tracking.Carrier,
			TrackingID: order.Tracking.TrackingID,
			URL:        order.Tracking.URL,
		}
	}
	return payload
}

func buildCancellationPayload(req services.CancellationRequest) cancellationPayload {
	return cancellationPayload{
		ID:            req.ID,
		OrderID:       req.OrderID,
		UserID:        req.UserID,
		Type:          string(req.Type),
		Reason:        req.Reason,
		Status:        string(req.Status),
		AdminResponse: req.AdminResponse,
		DecidedBy:     req.DecidedBy,
		CreatedAt:     formatTime(req.CreatedAt),
		UpdatedAt:     formatTime(req.UpdatedAt),
		DecidedAt:     formatTimePtr(req.DecidedAt),
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}
