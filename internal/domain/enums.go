package domain

import "strings"

// ParseOrderStatus converts user or storage input into a known OrderStatus.
// Unknown values are reported through ok=false so callers can log and continue.
func ParseOrderStatus(raw string) (OrderStatus, bool) {
	switch status := OrderStatus(normalizeEnum(raw)); status {
	case OrderStatusPending, OrderStatusProcessing, OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled:
		return status, true
	default:
		return status, false
	}
}

// IsTerminal reports whether no transition leaves the status.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

// ParsePaymentMethod converts input into a known PaymentMethod.
func ParsePaymentMethod(raw string) (PaymentMethod, bool) {
	switch method := PaymentMethod(normalizeEnum(raw)); method {
	case PaymentMethodGateway, PaymentMethodPayOnDelivery:
		return method, true
	default:
		return method, false
	}
}

// ParsePaymentStatus converts input into a known PaymentStatus.
func ParsePaymentStatus(raw string) (PaymentStatus, bool) {
	switch status := PaymentStatus(normalizeEnum(raw)); status {
	case PaymentStatusPending, PaymentStatusPaid, PaymentStatusCancelled:
		return status, true
	default:
		return status, false
	}
}

// ParseCancellationType converts input into a known CancellationType.
func ParseCancellationType(raw string) (CancellationType, bool) {
	switch kind := CancellationType(normalizeEnum(raw)); kind {
	case CancellationTypeCancel, CancellationTypeExchange:
		return kind, true
	default:
		return kind, false
	}
}

// ParseCancellationStatus converts input into a known CancellationStatus.
func ParseCancellationStatus(raw string) (CancellationStatus, bool) {
	switch status := CancellationStatus(normalizeEnum(raw)); status {
	case CancellationStatusPending, CancellationStatusApproved, CancellationStatusRejected:
		return status, true
	default:
		return status, false
	}
}

func normalizeEnum(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}
