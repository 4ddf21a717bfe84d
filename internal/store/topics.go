package store

const (
	TopicOrderPlaced         = "order.placed"
	TopicOrderAllocated      = "order.allocated"
	TopicPaymentRequested    = "payment.requested"
	TopicPaymentResult       = "payment.result"
	TopicPaymentRefund       = "payment.refund.requested"
	TopicPaymentRefundResult = "payment.refund.result"
	TopicDeliveryReady       = "delivery.ready"
	TopicDeliveryAck         = "delivery.ack"
	TopicDeliveryPicked      = "delivery.picked"
	TopicDeliveryInTransit   = "delivery.intransit"
	TopicDeliveryDelivered   = "delivery.delivered"
	TopicDeliveryLost        = "delivery.lost"
	TopicNotificationEmail   = "notification.email"
)

// Partition key = correlation id, so all events of one order keep their order.
func PartitionKey(correlationID string) []byte { return []byte(correlationID) }
