package store

type OrderStatus string

const (
	OrderNew               OrderStatus = "NEW"
	OrderAllocated         OrderStatus = "ALLOCATED"
	OrderPaymentPending    OrderStatus = "PAYMENT_PENDING"
	OrderPaid              OrderStatus = "PAID"
	OrderDeliveryConfirmed OrderStatus = "DELIVERY_CONFIRMED"
	OrderOutForDelivery    OrderStatus = "OUT_FOR_DELIVERY"
	OrderInTransit         OrderStatus = "IN_TRANSIT"
	OrderDelivered         OrderStatus = "DELIVERED"
	OrderPaymentFailed     OrderStatus = "PAYMENT_FAILED"
	OrderCancelled         OrderStatus = "CANCELLED"
)

var validNext = map[OrderStatus]map[OrderStatus]bool{
	OrderNew:               {OrderAllocated: true, OrderCancelled: true},
	OrderAllocated:         {OrderPaymentPending: true, OrderCancelled: true},
	OrderPaymentPending:    {OrderPaid: true, OrderPaymentFailed: true, OrderCancelled: true},
	OrderPaid:              {OrderDeliveryConfirmed: true, OrderCancelled: true},
	OrderDeliveryConfirmed: {OrderOutForDelivery: true, OrderCancelled: true},
	OrderOutForDelivery:    {OrderInTransit: true},
	OrderInTransit:         {OrderDelivered: true},
	OrderDelivered:         {},
	OrderPaymentFailed:     {OrderCancelled: true},
	OrderCancelled:         {},
}

func CanTransition(from, to OrderStatus) bool {
	return validNext[from][to]
}

// DeliveryInProgress reports whether the order has progressed past the point
// where the carrier already holds the goods. Cancellation is rejected from here on.
func DeliveryInProgress(s OrderStatus) bool {
	switch s {
	case OrderDeliveryConfirmed, OrderOutForDelivery, OrderInTransit, OrderDelivered:
		return true
	}
	return false
}

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentConfirmed PaymentStatus = "CONFIRMED"
	PaymentFailed    PaymentStatus = "FAILED"
)

type RefundStatus string

const (
	RefundPending   RefundStatus = "PENDING"
	RefundCompleted RefundStatus = "COMPLETED"
	RefundFailed    RefundStatus = "FAILED"
)

type DeliveryStatus string

const (
	DeliveryAcknowledged DeliveryStatus = "ACKNOWLEDGED"
	DeliveryPickedUp     DeliveryStatus = "PICKED_UP"
	DeliveryInTransit    DeliveryStatus = "IN_TRANSIT"
	DeliveryDelivered    DeliveryStatus = "DELIVERED"
)
