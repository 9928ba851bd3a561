package orders

import "canteenhub/models"

// Forward edges of the order lifecycle. Terminal states have none.
var transitions = map[models.OrderStatus][]models.OrderStatus{
	models.OrderPending:   {models.OrderConfirmed, models.OrderCancelled},
	models.OrderConfirmed: {models.OrderPreparing, models.OrderCancelled},
	models.OrderPreparing: {models.OrderReady, models.OrderCancelled},
	models.OrderReady:     {models.OrderCompleted},
}

var paymentTransitions = map[models.PaymentStatus][]models.PaymentStatus{
	models.PaymentPending: {models.PaymentCompleted, models.PaymentFailed},
}

func CanTransition(from, to models.OrderStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func CanTransitionPayment(from, to models.PaymentStatus) bool {
	for _, s := range paymentTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Cancellable reports whether an order in status s may still be cancelled.
func Cancellable(s models.OrderStatus) bool {
	return CanTransition(s, models.OrderCancelled)
}

// Terminal reports whether no further status change is possible.
func Terminal(s models.OrderStatus) bool {
	return len(transitions[s]) == 0
}
