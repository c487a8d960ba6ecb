package enums

import (
	"fmt"
	"strconv"
)

// OrderStatus is the integer status code recorded on order status events.
type OrderStatus int

const (
	OrderStatusNew            OrderStatus = 0
	OrderStatusAccepted       OrderStatus = 1
	OrderStatusReady          OrderStatus = 2
	OrderStatusOutForDelivery OrderStatus = 3
	OrderStatusDelivered      OrderStatus = 4
	OrderStatusCanceled       OrderStatus = 5
	OrderStatusPaymentFailed  OrderStatus = 6
	OrderStatusUnpaid         OrderStatus = 66
)

var orderStatusNames = map[OrderStatus]string{
	OrderStatusNew:            "new",
	OrderStatusAccepted:       "accepted",
	OrderStatusReady:          "ready",
	OrderStatusOutForDelivery: "out_for_delivery",
	OrderStatusDelivered:      "delivered",
	OrderStatusCanceled:       "canceled",
	OrderStatusPaymentFailed:  "payment_failed",
	OrderStatusUnpaid:         "unpaid",
}

// String implements fmt.Stringer.
func (s OrderStatus) String() string {
	if name, ok := orderStatusNames[s]; ok {
		return name
	}
	return strconv.Itoa(int(s))
}

// IsValid reports whether the value is a known OrderStatus.
func (s OrderStatus) IsValid() bool {
	_, ok := orderStatusNames[s]
	return ok
}

// CancelsOrder reports whether an event with this status carries the
// cancellation flag. Only PAYMENT_FAILED does.
func (s OrderStatus) CancelsOrder() bool {
	return s == OrderStatusPaymentFailed
}

// ParseOrderStatus converts a raw code into an OrderStatus.
func ParseOrderStatus(value int) (OrderStatus, error) {
	status := OrderStatus(value)
	if !status.IsValid() {
		return 0, fmt.Errorf("invalid order status %d", value)
	}
	return status, nil
}
