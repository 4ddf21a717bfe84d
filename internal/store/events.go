package store

import (
	"encoding/json"
	"fmt"
)

type AggregateType string

const (
	AggregateOrder   AggregateType = "ORDER"
	AggregatePayment AggregateType = "PAYMENT"
	AggregateEmail   AggregateType = "EMAIL"
)

// EventType is a closed set. RouteEvent matches it exhaustively, so wiring a
// new event kind to a destination is a compile-visible change in one place.
type EventType string

const (
	EventOrderPlaced                   EventType = "OrderPlaced"
	EventOrderAllocated                EventType = "OrderAllocated"
	EventPaymentRequested              EventType = "PaymentRequested"
	EventOrderReadyForPickup           EventType = "OrderReadyForPickup"
	EventRefundRequested               EventType = "RefundRequested"
	EventPaymentResultNotification     EventType = "PaymentResultNotification"
	EventRefundStatusNotification      EventType = "RefundStatusNotification"
	EventDeliveryPickupNotification    EventType = "DeliveryPickupNotification"
	EventDeliveryInTransitNotification EventType = "DeliveryInTransitNotification"
	EventDeliveryDeliveredNotification EventType = "DeliveryDeliveredNotification"
	EventDeliveryLostNotification      EventType = "DeliveryLostNotification"
)

// Route describes where and how an outbox event is published.
type Route struct {
	Topic string
	// Message is the decoded, typed payload. Decoding before publish catches
	// corrupt rows inside the relay instead of inside a collaborator.
	Message any
}

// RouteEvent resolves an outbox event to its destination topic and typed payload.
func RouteEvent(e *OutboxEvent) (Route, error) {
	switch e.EventType {
	case EventOrderPlaced:
		return decodeRoute[OrderPlacedMessage](e, TopicOrderPlaced)
	case EventOrderAllocated:
		return decodeRoute[OrderAllocatedMessage](e, TopicOrderAllocated)
	case EventPaymentRequested:
		return decodeRoute[PaymentRequestedMessage](e, TopicPaymentRequested)
	case EventOrderReadyForPickup:
		return decodeRoute[OrderReadyForPickupMessage](e, TopicDeliveryReady)
	case EventRefundRequested:
		return decodeRoute[PaymentRefundMessage](e, TopicPaymentRefund)
	case EventPaymentResultNotification:
		return decodeRoute[PaymentResultEmailMessage](e, TopicNotificationEmail)
	case EventRefundStatusNotification:
		return decodeRoute[RefundStatusEmailMessage](e, TopicNotificationEmail)
	case EventDeliveryPickupNotification:
		return decodeRoute[DeliveryPickupEmailMessage](e, TopicNotificationEmail)
	case EventDeliveryInTransitNotification:
		return decodeRoute[DeliveryInTransitEmailMessage](e, TopicNotificationEmail)
	case EventDeliveryDeliveredNotification:
		return decodeRoute[DeliveryDeliveredEmailMessage](e, TopicNotificationEmail)
	case EventDeliveryLostNotification:
		return decodeRoute[DeliveryLostEmailMessage](e, TopicNotificationEmail)
	}
	return Route{}, fmt.Errorf("outbox event %s: unknown event type %q", e.ID, e.EventType)
}

func decodeRoute[T any](e *OutboxEvent, topic string) (Route, error) {
	var msg T
	if err := json.Unmarshal(e.Payload, &msg); err != nil {
		return Route{}, fmt.Errorf("decode %s payload for event %s: %w", e.EventType, e.ID, err)
	}
	return Route{Topic: topic, Message: msg}, nil
}
