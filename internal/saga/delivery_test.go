package saga

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/storeops/order-saga/internal/memstore"
	"github.com/storeops/order-saga/internal/store"
)

func deliveredAt(offset time.Duration) *time.Time {
	t := base.Add(offset)
	return &t
}

func inDelivery(t *testing.T) (*Saga, *memstore.Store) {
	t.Helper()
	sg, st := fixture(t)
	paidOrder(t, sg)
	err := sg.HandleDeliveryAcknowledgement(context.Background(), store.DeliveryAcknowledgementMessage{
		OrderID: "o-1", Carrier: "fastship", TrackingCode: "TRACK-1", AcknowledgedAt: deliveredAt(5 * time.Minute),
	})
	if err != nil {
		t.Fatal(err)
	}
	return sg, st
}

func TestDeliveryAcknowledgement(t *testing.T) {
	_, st := inDelivery(t)
	if got := orderStatus(t, st, "o-1"); got != store.OrderDeliveryConfirmed {
		t.Fatalf("status = %s, want DELIVERY_CONFIRMED", got)
	}
}

func TestDeliveryAcknowledgementIdempotent(t *testing.T) {
	sg, st := inDelivery(t)
	before := len(st.OutboxEvents())

	err := sg.HandleDeliveryAcknowledgement(context.Background(), store.DeliveryAcknowledgementMessage{
		OrderID: "o-1", Carrier: "fastship",
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := len(st.OutboxEvents()); got != before {
		t.Errorf("outbox grew on duplicate acknowledgement")
	}
}

func TestDeliveryPickup(t *testing.T) {
	sg, st := inDelivery(t)
	err := sg.HandleDeliveryPickup(context.Background(), store.DeliveryPickupMessage{
		OrderID: "o-1", PickedUpAt: deliveredAt(10 * time.Minute),
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := orderStatus(t, st, "o-1"); got != store.OrderOutForDelivery {
		t.Fatalf("status = %s, want OUT_FOR_DELIVERY", got)
	}

	emails := eventsOfType(st, store.EventDeliveryPickupNotification)
	if len(emails) != 1 {
		t.Fatalf("got %d pickup emails, want 1", len(emails))
	}
	var msg store.DeliveryPickupEmailMessage
	if err := json.Unmarshal(emails[0].Payload, &msg); err != nil {
		t.Fatal(err)
	}
	// Carrier carried over from the acknowledgement.
	if msg.Carrier != "fastship" || msg.CustomerEmail != "ana@example.com" {
		t.Errorf("unexpected email: %+v", msg)
	}
}

func TestDeliveryProgressionToDelivered(t *testing.T) {
	sg, st := inDelivery(t)
	ctx := context.Background()

	if err := sg.HandleDeliveryPickup(ctx, store.DeliveryPickupMessage{OrderID: "o-1"}); err != nil {
		t.Fatal(err)
	}
	if err := sg.HandleDeliveryInTransit(ctx, store.DeliveryInTransitMessage{OrderID: "o-1", ETA: "2025-06-02"}); err != nil {
		t.Fatal(err)
	}
	if got := orderStatus(t, st, "o-1"); got != store.OrderInTransit {
		t.Fatalf("status = %s, want IN_TRANSIT", got)
	}
	if err := sg.HandleDeliveryDelivered(ctx, store.DeliveryDeliveredMessage{OrderID: "o-1"}); err != nil {
		t.Fatal(err)
	}
	if got := orderStatus(t, st, "o-1"); got != store.OrderDelivered {
		t.Fatalf("status = %s, want DELIVERED", got)
	}

	// A repeated delivered report changes nothing.
	before := len(st.OutboxEvents())
	if err := sg.HandleDeliveryDelivered(ctx, store.DeliveryDeliveredMessage{OrderID: "o-1"}); err != nil {
		t.Fatal(err)
	}
	if got := len(st.OutboxEvents()); got != before {
		t.Errorf("outbox grew on duplicate delivered report")
	}
}

func TestDeliveryUpdateForCancelledOrderConflicts(t *testing.T) {
	sg, _ := fixture(t)
	if _, err := sg.CancelOrder(context.Background(), "o-1"); err != nil {
		t.Fatal(err)
	}
	err := sg.HandleDeliveryPickup(context.Background(), store.DeliveryPickupMessage{OrderID: "o-1"})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("got %v, want ErrConflict", err)
	}
}

func TestDeliveryItemLostRefundsUnitPriceTimesQuantity(t *testing.T) {
	sg, st := inDelivery(t)

	err := sg.HandleDeliveryItemLost(context.Background(), store.DeliveryItemLostMessage{
		OrderID: "o-1", ProductID: "p-1", QuantityLost: 1, CorrelationID: "CARRIER-7",
	})
	if err != nil {
		t.Fatal(err)
	}

	refunds := eventsOfType(st, store.EventRefundRequested)
	if len(refunds) != 1 {
		t.Fatalf("got %d RefundRequested events, want 1", len(refunds))
	}
	var msg store.PaymentRefundMessage
	if err := json.Unmarshal(refunds[0].Payload, &msg); err != nil {
		t.Fatal(err)
	}
	if !msg.Amount.Equal(decimal.RequireFromString("10.00")) {
		t.Errorf("refund amount = %s, want 10.00", msg.Amount)
	}
	if msg.CorrelationID != "CARRIER-7" {
		t.Errorf("correlation = %s, want CARRIER-7", msg.CorrelationID)
	}

	lost := eventsOfType(st, store.EventDeliveryLostNotification)
	if len(lost) != 1 {
		t.Fatalf("got %d lost-item emails, want 1", len(lost))
	}
	var email store.DeliveryLostEmailMessage
	if err := json.Unmarshal(lost[0].Payload, &email); err != nil {
		t.Fatal(err)
	}
	// Carrier details fall back to the delivery record.
	if email.Carrier != "fastship" || email.TrackingCode != "TRACK-1" {
		t.Errorf("unexpected email: %+v", email)
	}
}

func TestDeliveryItemLostWithoutPaymentConflicts(t *testing.T) {
	sg, _ := fixture(t)
	err := sg.HandleDeliveryItemLost(context.Background(), store.DeliveryItemLostMessage{
		OrderID: "o-1", ProductID: "p-1", QuantityLost: 1,
	})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("got %v, want ErrConflict", err)
	}
}

func TestDeliveryItemLostValidatesQuantity(t *testing.T) {
	sg, _ := inDelivery(t)
	err := sg.HandleDeliveryItemLost(context.Background(), store.DeliveryItemLostMessage{
		OrderID: "o-1", ProductID: "p-1", QuantityLost: 0,
	})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("got %v, want ErrValidation", err)
	}
}
