package domain

import "time"

// statusRank orders the forward delivery pipeline. Cancelled sits outside the
// rank: it is a side exit from any non-terminal state.
var statusRank = map[string]int{
	OrderStatusPending:        0,
	OrderStatusConfirmed:      1,
	OrderStatusPacked:         2,
	OrderStatusOutForDelivery: 3,
	OrderStatusDelivered:      4,
}

func ValidOrderStatus(status string) bool {
	if status == OrderStatusCancelled {
		return true
	}
	_, ok := statusRank[status]
	return ok
}

func TerminalOrderStatus(status string) bool {
	return status == OrderStatusDelivered || status == OrderStatusCancelled
}

// CanTransition reports whether an order may move from one status to another.
// Forward jumps are allowed (an admin may mark a pending order delivered
// directly), backward moves are not, and terminal states admit no exit.
func CanTransition(from, to string) bool {
	if !ValidOrderStatus(from) || !ValidOrderStatus(to) {
		return false
	}
	if TerminalOrderStatus(from) {
		return false
	}
	if to == OrderStatusCancelled {
		return true
	}
	return statusRank[to] > statusRank[from]
}

// ApplyStatus sets the order's status and stamps the matching timestamp field
// the first time that status is reached. Stamps are never overwritten.
func ApplyStatus(order *Order, status string, at time.Time) {
	order.Status = status
	switch status {
	case OrderStatusConfirmed:
		if order.ConfirmedAt == nil {
			order.ConfirmedAt = &at
		}
	case OrderStatusPacked:
		if order.PackedAt == nil {
			order.PackedAt = &at
		}
	case OrderStatusOutForDelivery:
		if order.OutForDeliveryAt == nil {
			order.OutForDeliveryAt = &at
		}
	case OrderStatusDelivered:
		if order.DeliveredAt == nil {
			order.DeliveredAt = &at
		}
	case OrderStatusCancelled:
		if order.CancelledAt == nil {
			order.CancelledAt = &at
		}
	}
}
