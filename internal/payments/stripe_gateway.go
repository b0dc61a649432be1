package payments

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
)

// MetadataOrderID is the PaymentIntent metadata key holding the internal order id.
const MetadataOrderID = "order_id"

// StripeLogger defines the logging contract for Stripe gateway operations.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripePaymentIntentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

// StripeGatewayConfig configures the StripeGateway.
type StripeGatewayConfig struct {
	APIKey    string
	AccountID string
	Backends  *stripe.Backends
	Logger    StripeLogger
	Intents   stripePaymentIntentAPI
}

// StripeGateway implements Gateway with Stripe PaymentIntents.
type StripeGateway struct {
	intents stripePaymentIntentAPI
	account string
	logger  StripeLogger
}

var _ Gateway = (*StripeGateway)(nil)

// NewStripeGateway constructs a Stripe backed Gateway.
func NewStripeGateway(cfg StripeGatewayConfig) (*StripeGateway, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	intents := cfg.Intents
	if intents == nil {
		if apiKey == "" {
			return nil, errors.New("stripe: api key is required")
		}
		sc := client.New(apiKey, cfg.Backends)
		intents = sc.PaymentIntents
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &StripeGateway{
		intents: intents,
		account: strings.TrimSpace(cfg.AccountID),
		logger:  logger,
	}, nil
}

// OpenSession creates a PaymentIntent for the order. Repeated calls for the same order reuse
// the same idempotency key, so Stripe returns the original intent.
func (g *StripeGateway) OpenSession(ctx context.Context, req SessionRequest) (Session, error) {
	if g == nil {
		return Session{}, errors.New("stripe: gateway is nil")
	}
	orderID := strings.TrimSpace(req.OrderID)
	if orderID == "" {
		return Session{}, errors.New("stripe: order id is required")
	}
	if req.Amount <= 0 {
		return Session{}, errors.New("stripe: amount must be positive")
	}

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.Amount),
		Currency: stripe.String(strings.ToLower(strings.TrimSpace(req.Currency))),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	params.SetIdempotencyKey(SessionIdempotencyKey(orderID))
	if g.account != "" {
		params.SetStripeAccount(g.account)
	}
	if email := strings.TrimSpace(req.Email); email != "" {
		params.ReceiptEmail = stripe.String(email)
	}
	params.AddMetadata(MetadataOrderID, orderID)

	intent, err := g.intents.New(params)
	if err != nil {
		return Session{}, classifyStripeError("create payment intent", err)
	}

	g.logger(ctx, "payments.stripe.intent.created", map[string]any{
		"orderId":       orderID,
		"paymentIntent": intent.ID,
		"currency":      string(intent.Currency),
	})

	return Session{
		GatewayOrderRef: intent.ID,
		ClientKey:       intent.ClientSecret,
	}, nil
}

// LookupPayment retrieves a PaymentIntent with its latest charge.
func (g *StripeGateway) LookupPayment(ctx context.Context, gatewayOrderRef string) (PaymentDetails, error) {
	if g == nil {
		return PaymentDetails{}, errors.New("stripe: gateway is nil")
	}
	ref := strings.TrimSpace(gatewayOrderRef)
	if ref == "" {
		return PaymentDetails{}, fmt.Errorf("%w: empty reference", ErrPaymentNotFound)
	}
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	params.AddExpand("latest_charge")
	if g.account != "" {
		params.SetStripeAccount(g.account)
	}
	intent, err := g.intents.Get(ref, params)
	if err != nil {
		return PaymentDetails{}, classifyStripeError("lookup payment intent", err)
	}
	return stripePaymentDetails(intent), nil
}

func stripePaymentDetails(intent *stripe.PaymentIntent) PaymentDetails {
	if intent == nil {
		return PaymentDetails{}
	}

	status := StatusPending
	switch intent.Status {
	case stripe.PaymentIntentStatusSucceeded:
		status = StatusSucceeded
	case stripe.PaymentIntentStatusCanceled:
		status = StatusFailed
	}

	paymentRef := intent.ID
	var capturedAt *time.Time
	if charge := intent.LatestCharge; charge != nil {
		if charge.ID != "" {
			paymentRef = charge.ID
		}
		if charge.Captured && status == StatusSucceeded {
			t := time.Unix(charge.Created, 0).UTC()
			capturedAt = &t
		}
	}

	currency := strings.ToUpper(string(intent.Currency))
	if currency == "" && intent.LatestCharge != nil {
		currency = strings.ToUpper(string(intent.LatestCharge.Currency))
	}

	return PaymentDetails{
		GatewayOrderRef: intent.ID,
		PaymentRef:      paymentRef,
		OrderID:         intent.Metadata[MetadataOrderID],
		Status:          status,
		Amount:          intent.Amount,
		Currency:        currency,
		CapturedAt:      capturedAt,
	}
}

func classifyStripeError(op string, err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		switch {
		case stripeErr.HTTPStatusCode == http.StatusNotFound || stripeErr.Code == stripe.ErrorCodeResourceMissing:
			return fmt.Errorf("stripe: %s: %w: %v", op, ErrPaymentNotFound, err)
		case stripeErr.HTTPStatusCode == http.StatusTooManyRequests || stripeErr.HTTPStatusCode >= http.StatusInternalServerError:
			return fmt.Errorf("stripe: %s: %w: %v", op, ErrGatewayUnavailable, err)
		}
		return fmt.Errorf("stripe: %s: %w", op, err)
	}
	return fmt.Errorf("stripe: %s: %w: %v", op, ErrGatewayUnavailable, err)
}
