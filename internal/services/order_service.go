package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/mail"
	"strings"
	"time"

	domain "github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/payments"
	"github.com/hanko-field/orders/internal/platform/textutil"
	"github.com/hanko-field/orders/internal/repositories"
)

const (
	maxOrderItems    = 100
	maxItemQuantity  = 999
	maxItemNameRunes = 200
	maxAddressRunes  = 200
)

// OrderServiceDeps bundles collaborators for order placement.
type OrderServiceDeps struct {
	Orders repositories.OrderRepository
	// Gateway is optional; without it OpenGatewaySession reports the gateway as unavailable.
	Gateway     payments.Gateway
	Dispatcher  NotificationDispatcher
	Clock       func() time.Time
	IDGenerator func() string
	EventID     func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders     repositories.OrderRepository
	gateway    payments.Gateway
	dispatcher NotificationDispatcher
	clock      func() time.Time
	newID      func() string
	eventID    func() string
	logger     func(context.Context, string, map[string]any)
}

var _ OrderService = (*orderService)(nil)

// NewOrderService constructs the order placement service.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	dispatcher := deps.Dispatcher
	if dispatcher == nil {
		dispatcher = noopDispatcher{}
	}
	newID := deps.IDGenerator
	if newID == nil {
		newID = defaultIDGenerator
	}
	eventID := deps.EventID
	if eventID == nil {
		eventID = defaultEventID
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	return &orderService{
		orders:     deps.Orders,
		gateway:    deps.Gateway,
		dispatcher: dispatcher,
		clock:      utcClock(deps.Clock),
		newID:      newID,
		eventID:    eventID,
		logger:     logger,
	}, nil
}

func (s *orderService) Create(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return Order{}, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	email, err := normalizeEmail(cmd.Email)
	if err != nil {
		return Order{}, err
	}
	currency, err := textutil.NormalizeCurrency(cmd.Currency)
	if err != nil {
		return Order{}, fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
	}
	method, ok := domain.ParsePaymentMethod(string(cmd.PaymentMethod))
	if !ok {
		return Order{}, fmt.Errorf("%w: unknown payment method %q", ErrOrderInvalidInput, cmd.PaymentMethod)
	}
	address, err := normalizeAddress(cmd.ShippingAddress)
	if err != nil {
		return Order{}, err
	}
	items, total, err := normalizeItems(cmd.Items)
	if err != nil {
		return Order{}, err
	}

	now := s.clock()
	order := Order{
		ID:              orderIDPrefix + s.newID(),
		UserID:          userID,
		Status:          domain.OrderStatusPending,
		Currency:        currency,
		Total:           total,
		Items:           items,
		ShippingAddress: address,
		Email:           email,
		Payment: Payment{
			Method: method,
			Status: domain.PaymentStatusPending,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.orders.Insert(ctx, order); err != nil {
		return Order{}, mapRepositoryError(err, ErrOrderNotFound, ErrRepositoryUnavailable)
	}

	s.logger(ctx, "orders.created", map[string]any{
		"orderId":  order.ID,
		"userId":   userID,
		"total":    total,
		"currency": currency,
		"method":   string(method),
		"items":    len(items),
	})
	s.dispatcher.Emit(ctx, newNotification(s.eventID(), domain.NotificationOrderCreated, userID,
		"Order placed", "Thank you for your order.",
		map[string]any{
			"orderId":  order.ID,
			"total":    total,
			"currency": currency,
			"method":   string(method),
		}, now))
	return order, nil
}

func (s *orderService) Get(ctx context.Context, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, mapRepositoryError(err, ErrOrderNotFound, ErrRepositoryUnavailable)
	}
	return order, nil
}

func (s *orderService) OpenGatewaySession(ctx context.Context, cmd OpenGatewaySessionCommand) (payments.Session, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	userID := strings.TrimSpace(cmd.UserID)
	if orderID == "" || userID == "" {
		return payments.Session{}, fmt.Errorf("%w: order id and user id are required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return payments.Session{}, mapRepositoryError(err, ErrOrderNotFound, ErrRepositoryUnavailable)
	}
	if order.UserID != userID {
		return payments.Session{}, fmt.Errorf("%w: order %s", ErrOrderNotFound, orderID)
	}
	switch {
	case order.Payment.Method != domain.PaymentMethodGateway:
		return payments.Session{}, fmt.Errorf("%w: payment method %q", ErrOrderNotPayable, order.Payment.Method)
	case order.Status != domain.OrderStatusPending || order.Payment.Status != domain.PaymentStatusPending:
		return payments.Session{}, fmt.Errorf("%w: order is %s/%s", ErrOrderNotPayable, order.Status, order.Payment.Status)
	}
	if cmd.Amount != order.Total {
		return payments.Session{}, fmt.Errorf("%w: amount %d does not match order total %d", ErrOrderInvalidInput, cmd.Amount, order.Total)
	}
	if s.gateway == nil {
		return payments.Session{}, fmt.Errorf("%w: no gateway configured", ErrGatewayUnavailable)
	}

	session, err := s.gateway.OpenSession(ctx, payments.SessionRequest{
		OrderID:  order.ID,
		Amount:   order.Total,
		Currency: order.Currency,
		Email:    order.Email,
	})
	if err != nil {
		s.logger(ctx, "orders.gateway_session.failed", map[string]any{"orderId": order.ID, "error": err})
		if errors.Is(err, payments.ErrGatewayUnavailable) {
			return payments.Session{}, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
		}
		return payments.Session{}, err
	}

	if order.Payment.GatewayOrderRef != session.GatewayOrderRef {
		next := order
		next.Payment.GatewayOrderRef = session.GatewayOrderRef
		next.UpdatedAt = s.clock()
		if _, err := s.orders.CompareAndSwap(ctx, next, repositories.PreconditionOf(order)); err != nil {
			return payments.Session{}, mapRepositoryError(err, ErrOrderNotFound, ErrRepositoryUnavailable)
		}
	}
	s.logger(ctx, "orders.gateway_session.opened", map[string]any{
		"orderId":         order.ID,
		"gatewayOrderRef": session.GatewayOrderRef,
	})
	return session, nil
}

func normalizeEmail(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("%w: email is required", ErrOrderInvalidInput)
	}
	addr, err := mail.ParseAddress(trimmed)
	if err != nil || addr.Address != trimmed {
		return "", fmt.Errorf("%w: invalid email", ErrOrderInvalidInput)
	}
	return strings.ToLower(addr.Address), nil
}

func normalizeAddress(addr Address) (Address, error) {
	clean := Address{
		Recipient:  textutil.CleanText(addr.Recipient),
		Line1:      textutil.CleanText(addr.Line1),
		Line2:      textutil.CleanText(addr.Line2),
		City:       textutil.CleanText(addr.City),
		State:      textutil.CleanText(addr.State),
		PostalCode: strings.TrimSpace(addr.PostalCode),
		Country:    strings.ToUpper(strings.TrimSpace(addr.Country)),
		Phone:      strings.TrimSpace(addr.Phone),
	}
	required := []struct {
		name  string
		value string
	}{
		{"recipient", clean.Recipient},
		{"line1", clean.Line1},
		{"city", clean.City},
		{"postalCode", clean.PostalCode},
		{"country", clean.Country},
	}
	for _, field := range required {
		if field.value == "" {
			return Address{}, fmt.Errorf("%w: shipping address %s is required", ErrOrderInvalidInput, field.name)
		}
	}
	for _, value := range []string{clean.Recipient, clean.Line1, clean.Line2, clean.City, clean.State} {
		if len([]rune(value)) > maxAddressRunes {
			return Address{}, fmt.Errorf("%w: shipping address field too long", ErrOrderInvalidInput)
		}
	}
	return clean, nil
}

func normalizeItems(items []CreateOrderItem) ([]OrderLineItem, int64, error) {
	if len(items) == 0 || len(items) > maxOrderItems {
		return nil, 0, fmt.Errorf("%w: order must contain between 1 and %d items", ErrOrderInvalidInput, maxOrderItems)
	}
	lines := make([]OrderLineItem, 0, len(items))
	var total int64
	for i, item := range items {
		productID := strings.TrimSpace(item.ProductID)
		if productID == "" {
			return nil, 0, fmt.Errorf("%w: item %d product id is required", ErrOrderInvalidInput, i)
		}
		name, err := textutil.CleanBoundedText(item.Name, maxItemNameRunes)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: item %d name: %v", ErrOrderInvalidInput, i, err)
		}
		if item.Quantity < 1 || item.Quantity > maxItemQuantity {
			return nil, 0, fmt.Errorf("%w: item %d quantity must be between 1 and %d", ErrOrderInvalidInput, i, maxItemQuantity)
		}
		if item.UnitPrice < 0 {
			return nil, 0, fmt.Errorf("%w: item %d unit price must not be negative", ErrOrderInvalidInput, i)
		}
		qty := int64(item.Quantity)
		if item.UnitPrice > (math.MaxInt64-total)/qty {
			return nil, 0, fmt.Errorf("%w: order total overflows", ErrOrderInvalidInput)
		}
		lineTotal := item.UnitPrice * qty
		total += lineTotal
		lines = append(lines, OrderLineItem{
			ProductID: productID,
			Name:      name,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Total:     lineTotal,
		})
	}
	return lines, total, nil
}
