// Package lifecycle holds the order and payment state rules used by the
// operator console.
package lifecycle

import (
	"checkout-svc/apperrors"
	"checkout-svc/models"
)

var orderSequence = []models.OrderStatus{
	models.OrderStatusPending,
	models.OrderStatusConfirmed,
	models.OrderStatusPacked,
	models.OrderStatusOutForDelivery,
	models.OrderStatusDelivered,
}

var paymentTransitions = map[models.PaymentStatus][]models.PaymentStatus{
	models.PaymentStatusPending:  {models.PaymentStatusPaid, models.PaymentStatusFailed},
	models.PaymentStatusFailed:   {models.PaymentStatusPaid},
	models.PaymentStatusPaid:     {models.PaymentStatusRefunded},
	models.PaymentStatusRefunded: nil,
}

func ValidOrderStatus(s models.OrderStatus) bool {
	if s == models.OrderStatusCancelled {
		return true
	}
	return position(s) >= 0
}

func ValidPaymentStatus(s models.PaymentStatus) bool {
	_, ok := paymentTransitions[s]
	return ok
}

// IsTerminal reports whether no further order status change is allowed.
func IsTerminal(s models.OrderStatus) bool {
	return s == models.OrderStatusDelivered || s == models.OrderStatusCancelled
}

func position(s models.OrderStatus) int {
	for i, st := range orderSequence {
		if st == s {
			return i
		}
	}
	return -1
}

// CheckOrderTransition returns nil when from -> to is allowed. Moving to the
// current status is allowed and means nothing to do.
func CheckOrderTransition(from, to models.OrderStatus) error {
	if !ValidOrderStatus(to) {
		return apperrors.Validation("invalid_status", "unknown order status: "+string(to))
	}
	if from == to {
		return nil
	}
	if IsTerminal(from) {
		return invalidOrder(from, to)
	}
	if to == models.OrderStatusCancelled {
		return nil
	}
	if position(to) != position(from)+1 {
		return invalidOrder(from, to)
	}
	return nil
}

func CheckPaymentTransition(from, to models.PaymentStatus) error {
	if !ValidPaymentStatus(to) {
		return apperrors.Validation("invalid_payment_status", "unknown payment status: "+string(to))
	}
	if from == to {
		return nil
	}
	for _, next := range paymentTransitions[from] {
		if next == to {
			return nil
		}
	}
	return &apperrors.InvalidTransitionError{Field: "payment_status", From: string(from), To: string(to)}
}

func invalidOrder(from, to models.OrderStatus) error {
	return &apperrors.InvalidTransitionError{Field: "status", From: string(from), To: string(to)}
}

// DeliveryPayment returns the payment status an order should carry once it
// is marked delivered. Cash collected at the door settles a pending COD
// order; online payments keep whatever the gateway reported.
func DeliveryPayment(method models.PaymentMethod, current models.PaymentStatus) models.PaymentStatus {
	if method == models.PaymentMethodCOD && current == models.PaymentStatusPending {
		return models.PaymentStatusPaid
	}
	return current
}
