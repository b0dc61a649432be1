package payments

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Webhook events that settle a payment.
const (
	EventPaymentCaptured = "payment.captured"
	EventOrderPaid       = "order.paid"
)

// ErrMalformedWebhook is returned when a webhook body cannot be interpreted.
var ErrMalformedWebhook = errors.New("payments: malformed webhook")

// WebhookEvent is the normalised view of a gateway webhook envelope.
type WebhookEvent struct {
	Name            string
	PaymentRef      string
	GatewayOrderRef string
	OrderID         string
	Amount          int64
	Currency        string
}

// Settles reports whether the event confirms a captured payment.
func (e WebhookEvent) Settles() bool {
	return e.Name == EventPaymentCaptured || e.Name == EventOrderPaid
}

// ReplayKey identifies the (event, payment) pair for duplicate delivery detection.
func (e WebhookEvent) ReplayKey() string {
	return "webhook:" + e.Name + ":" + e.PaymentRef
}

type webhookEnvelope struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity *paymentEntity `json:"entity"`
		} `json:"payment"`
	} `json:"payload"`
}

type paymentEntity struct {
	ID       string            `json:"id"`
	Amount   *int64            `json:"amount"`
	Currency string            `json:"currency"`
	OrderID  string            `json:"order_id"`
	Notes    map[string]string `json:"notes"`
}

// ParseWebhook decodes a gateway envelope. Only the event name is required for events
// that do not settle a payment; settling events must carry the payment entity with an
// internal order id in notes.order_id.
func ParseWebhook(body []byte) (WebhookEvent, error) {
	var env webhookEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: %v", ErrMalformedWebhook, err)
	}
	name := strings.TrimSpace(env.Event)
	if name == "" {
		return WebhookEvent{}, fmt.Errorf("%w: event is required", ErrMalformedWebhook)
	}
	event := WebhookEvent{Name: name}
	if !event.Settles() {
		return event, nil
	}

	entity := env.Payload.Payment.Entity
	if entity == nil {
		return WebhookEvent{}, fmt.Errorf("%w: payment entity is required", ErrMalformedWebhook)
	}
	event.PaymentRef = strings.TrimSpace(entity.ID)
	event.GatewayOrderRef = strings.TrimSpace(entity.OrderID)
	event.OrderID = strings.TrimSpace(entity.Notes[MetadataOrderID])
	event.Currency = strings.ToUpper(strings.TrimSpace(entity.Currency))

	switch {
	case event.PaymentRef == "":
		return WebhookEvent{}, fmt.Errorf("%w: payment id is required", ErrMalformedWebhook)
	case event.OrderID == "":
		return WebhookEvent{}, fmt.Errorf("%w: notes.order_id is required", ErrMalformedWebhook)
	case entity.Amount == nil || *entity.Amount < 0:
		return WebhookEvent{}, fmt.Errorf("%w: amount is required", ErrMalformedWebhook)
	}
	event.Amount = *entity.Amount
	return event, nil
}
