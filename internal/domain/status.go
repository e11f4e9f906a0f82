package domain

import "strings"

// OrderStatus is the closed set of order lifecycle states.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusConfirmed OrderStatus = "confirmed"
	OrderStatusPreparing OrderStatus = "preparing"
	OrderStatusReady     OrderStatus = "ready"
	OrderStatusDelivered OrderStatus = "delivered"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// orderStatusTransitions is the exhaustive transition table. Delivered and
// cancelled are terminal: they have no outgoing edges.
var orderStatusTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:   {OrderStatusConfirmed, OrderStatusCancelled},
	OrderStatusConfirmed: {OrderStatusPreparing, OrderStatusCancelled},
	OrderStatusPreparing: {OrderStatusReady, OrderStatusCancelled},
	OrderStatusReady:     {OrderStatusDelivered, OrderStatusCancelled},
	OrderStatusDelivered: {},
	OrderStatusCancelled: {},
}

// ParseOrderStatus normalises raw input into a known status.
func ParseOrderStatus(raw string) (OrderStatus, bool) {
	status := OrderStatus(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := orderStatusTransitions[status]; !ok {
		return "", false
	}
	return status, true
}

// CanTransitionTo reports whether the state machine permits moving from s to
// target. Self transitions are not permitted; every write must advance.
func (s OrderStatus) CanTransitionTo(target OrderStatus) bool {
	next, ok := orderStatusTransitions[s]
	if !ok {
		return false
	}
	for _, candidate := range next {
		if candidate == target {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions are permitted from s.
func (s OrderStatus) Terminal() bool {
	next, ok := orderStatusTransitions[s]
	return ok && len(next) == 0
}

// Cancellable reports whether the order may still be cancelled.
func (s OrderStatus) Cancellable() bool {
	return s.CanTransitionTo(OrderStatusCancelled)
}
