package store

import "testing"

func TestCanTransition(t *testing.T) {
	allowed := []struct{ from, to OrderStatus }{
		{OrderNew, OrderAllocated},
		{OrderNew, OrderCancelled},
		{OrderAllocated, OrderPaymentPending},
		{OrderPaymentPending, OrderPaid},
		{OrderPaymentPending, OrderPaymentFailed},
		{OrderPaid, OrderDeliveryConfirmed},
		{OrderPaid, OrderCancelled},
		{OrderDeliveryConfirmed, OrderOutForDelivery},
		{OrderOutForDelivery, OrderInTransit},
		{OrderInTransit, OrderDelivered},
		{OrderPaymentFailed, OrderCancelled},
	}
	for _, tc := range allowed {
		if !CanTransition(tc.from, tc.to) {
			t.Errorf("%s -> %s should be allowed", tc.from, tc.to)
		}
	}

	forbidden := []struct{ from, to OrderStatus }{
		{OrderNew, OrderPaid},
		{OrderDelivered, OrderCancelled},
		{OrderCancelled, OrderNew},
		{OrderOutForDelivery, OrderCancelled},
		{OrderInTransit, OrderCancelled},
		{OrderPaid, OrderNew},
	}
	for _, tc := range forbidden {
		if CanTransition(tc.from, tc.to) {
			t.Errorf("%s -> %s should be rejected", tc.from, tc.to)
		}
	}
}

func TestDeliveryInProgress(t *testing.T) {
	inProgress := []OrderStatus{OrderDeliveryConfirmed, OrderOutForDelivery, OrderInTransit, OrderDelivered}
	for _, s := range inProgress {
		if !DeliveryInProgress(s) {
			t.Errorf("%s should count as delivery in progress", s)
		}
	}
	notYet := []OrderStatus{OrderNew, OrderAllocated, OrderPaymentPending, OrderPaid, OrderPaymentFailed, OrderCancelled}
	for _, s := range notYet {
		if DeliveryInProgress(s) {
			t.Errorf("%s should not count as delivery in progress", s)
		}
	}
}

func TestRouteEventUnknownType(t *testing.T) {
	_, err := RouteEvent(&OutboxEvent{ID: "e1", EventType: "Bogus", Payload: []byte(`{}`)})
	if err == nil {
		t.Fatal("expected error for unknown event type")
	}
}

func TestRouteEventTopics(t *testing.T) {
	cases := []struct {
		et    EventType
		topic string
	}{
		{EventOrderPlaced, TopicOrderPlaced},
		{EventOrderAllocated, TopicOrderAllocated},
		{EventPaymentRequested, TopicPaymentRequested},
		{EventOrderReadyForPickup, TopicDeliveryReady},
		{EventRefundRequested, TopicPaymentRefund},
		{EventPaymentResultNotification, TopicNotificationEmail},
		{EventRefundStatusNotification, TopicNotificationEmail},
		{EventDeliveryLostNotification, TopicNotificationEmail},
	}
	for _, tc := range cases {
		route, err := RouteEvent(&OutboxEvent{ID: "e", EventType: tc.et, Payload: []byte(`{}`)})
		if err != nil {
			t.Fatalf("%s: %v", tc.et, err)
		}
		if route.Topic != tc.topic {
			t.Errorf("%s routed to %s, want %s", tc.et, route.Topic, tc.topic)
		}
	}
}
