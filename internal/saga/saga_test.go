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
	"go.uber.org/zap"
)

var base = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

const readyDelay = 3 * time.Minute

func fixture(t *testing.T) (*Saga, *memstore.Store) {
	t.Helper()
	st := memstore.New()
	st.SeedCustomer(store.Customer{ID: "c-1", Name: "Ana", Email: "ana@example.com"})
	st.SeedProduct(store.Product{ID: "p-1", SKU: "SKU-1", Name: "Widget", UnitPrice: decimal.RequireFromString("10.00")})
	st.SeedStock(store.WarehouseStock{WarehouseID: "wh-1", ProductID: "p-1", QtyOnHand: 10})

	err := st.WithinTx(context.Background(), func(tx store.Tx) error {
		if err := tx.CreateOrder(context.Background(), &store.Order{
			ID:         "o-1",
			CustomerID: "c-1",
			Status:     store.OrderNew,
			Total:      decimal.RequireFromString("20.00"),
			CreatedAt:  base,
			UpdatedAt:  base,
		}); err != nil {
			return err
		}
		return tx.UpsertOrderItem(context.Background(), &store.OrderItem{
			OrderID: "o-1", ProductID: "p-1", Quantity: 2,
			UnitPrice: decimal.RequireFromString("10.00"),
		})
	})
	if err != nil {
		t.Fatal(err)
	}

	sg := New(st, zap.NewNop(), readyDelay)
	sg.Now = func() time.Time { return base }
	return sg, st
}

func orderStatus(t *testing.T, st *memstore.Store, orderID string) store.OrderStatus {
	t.Helper()
	var status store.OrderStatus
	err := st.WithinTx(context.Background(), func(tx store.Tx) error {
		o, err := tx.GetOrder(context.Background(), orderID)
		if err != nil {
			return err
		}
		status = o.Status
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	return status
}

func eventsOfType(st *memstore.Store, et store.EventType) []store.OutboxEvent {
	var out []store.OutboxEvent
	for _, e := range st.OutboxEvents() {
		if e.EventType == et {
			out = append(out, e)
		}
	}
	return out
}

func TestReserveStockAllocatesOrder(t *testing.T) {
	sg, st := fixture(t)

	status, err := sg.ReserveStock(context.Background(), "o-1")
	if err != nil {
		t.Fatal(err)
	}
	if status != store.OrderAllocated {
		t.Fatalf("status = %s, want ALLOCATED", status)
	}
	if got := st.StockAt("wh-1", "p-1").QtyReserved; got != 2 {
		t.Errorf("reserved = %d, want 2", got)
	}

	events := eventsOfType(st, store.EventOrderAllocated)
	if len(events) != 1 {
		t.Fatalf("got %d OrderAllocated events, want 1", len(events))
	}
	var msg store.OrderAllocatedMessage
	if err := json.Unmarshal(events[0].Payload, &msg); err != nil {
		t.Fatal(err)
	}
	if msg.CorrelationID != "ORDER-o-1" || msg.Status != store.OrderAllocated {
		t.Errorf("unexpected message: %+v", msg)
	}
}

func TestReserveStockIdempotent(t *testing.T) {
	sg, st := fixture(t)

	if _, err := sg.ReserveStock(context.Background(), "o-1"); err != nil {
		t.Fatal(err)
	}
	status, err := sg.ReserveStock(context.Background(), "o-1")
	if err != nil {
		t.Fatal(err)
	}
	if status != store.OrderAllocated {
		t.Fatalf("status = %s, want ALLOCATED", status)
	}
	if got := st.StockAt("wh-1", "p-1").QtyReserved; got != 2 {
		t.Errorf("reserved = %d after duplicate reserve, want 2", got)
	}
	if events := eventsOfType(st, store.EventOrderAllocated); len(events) != 1 {
		t.Errorf("got %d OrderAllocated events after duplicate reserve, want 1", len(events))
	}
}

func TestReserveStockInsufficientLeavesOrderUntouched(t *testing.T) {
	sg, st := fixture(t)
	err := st.WithinTx(context.Background(), func(tx store.Tx) error {
		return tx.UpsertOrderItem(context.Background(), &store.OrderItem{
			OrderID: "o-1", ProductID: "p-1", Quantity: 99,
			UnitPrice: decimal.RequireFromString("10.00"),
		})
	})
	if err != nil {
		t.Fatal(err)
	}

	_, err = sg.ReserveStock(context.Background(), "o-1")
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("got %v, want ErrInsufficientStock", err)
	}
	if got := orderStatus(t, st, "o-1"); got != store.OrderNew {
		t.Errorf("status = %s, want NEW", got)
	}
	if got := st.StockAt("wh-1", "p-1").QtyReserved; got != 0 {
		t.Errorf("reserved = %d, want 0", got)
	}
}

func TestReserveStockCancelledOrderConflicts(t *testing.T) {
	sg, st := fixture(t)
	if _, err := sg.CancelOrder(context.Background(), "o-1"); err != nil {
		t.Fatal(err)
	}
	_, err := sg.ReserveStock(context.Background(), "o-1")
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("got %v, want ErrConflict", err)
	}
	if got := st.StockAt("wh-1", "p-1").QtyReserved; got != 0 {
		t.Errorf("reserved = %d, want 0", got)
	}
}

func TestRequestPayment(t *testing.T) {
	sg, st := fixture(t)
	if _, err := sg.ReserveStock(context.Background(), "o-1"); err != nil {
		t.Fatal(err)
	}

	payment, err := sg.RequestPayment(context.Background(), "o-1")
	if err != nil {
		t.Fatal(err)
	}
	if payment.Status != store.PaymentPending {
		t.Errorf("payment status = %s, want PENDING", payment.Status)
	}
	if !payment.Amount.Equal(decimal.RequireFromString("20.00")) {
		t.Errorf("payment amount = %s, want 20.00", payment.Amount)
	}
	if got := orderStatus(t, st, "o-1"); got != store.OrderPaymentPending {
		t.Errorf("order status = %s, want PAYMENT_PENDING", got)
	}

	events := eventsOfType(st, store.EventPaymentRequested)
	if len(events) != 1 {
		t.Fatalf("got %d PaymentRequested events, want 1", len(events))
	}
	var msg store.PaymentRequestedMessage
	if err := json.Unmarshal(events[0].Payload, &msg); err != nil {
		t.Fatal(err)
	}
	if msg.CustomerID != "c-1" || msg.IdempotencyKey != "o-1" {
		t.Errorf("unexpected message: %+v", msg)
	}
}

func TestRequestPaymentTwiceConflicts(t *testing.T) {
	sg, _ := fixture(t)
	if _, err := sg.ReserveStock(context.Background(), "o-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := sg.RequestPayment(context.Background(), "o-1"); err != nil {
		t.Fatal(err)
	}
	_, err := sg.RequestPayment(context.Background(), "o-1")
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("got %v, want ErrConflict", err)
	}
}

func paidOrder(t *testing.T, sg *Saga) *store.Payment {
	t.Helper()
	if _, err := sg.ReserveStock(context.Background(), "o-1"); err != nil {
		t.Fatal(err)
	}
	payment, err := sg.RequestPayment(context.Background(), "o-1")
	if err != nil {
		t.Fatal(err)
	}
	err = sg.HandlePaymentResult(context.Background(), store.PaymentResultMessage{
		OrderID: "o-1", PaymentID: payment.ID, Status: "SUCCESS", BankTransactionReference: "bank-123",
	})
	if err != nil {
		t.Fatal(err)
	}
	return payment
}

func TestHandlePaymentResultSuccess(t *testing.T) {
	sg, st := fixture(t)
	paidOrder(t, sg)

	if got := orderStatus(t, st, "o-1"); got != store.OrderPaid {
		t.Fatalf("order status = %s, want PAID", got)
	}

	ready := eventsOfType(st, store.EventOrderReadyForPickup)
	if len(ready) != 1 {
		t.Fatalf("got %d OrderReadyForPickup events, want 1", len(ready))
	}
	if want := base.Add(readyDelay); !ready[0].PublishAt.Equal(want) {
		t.Errorf("ready event publish_at = %s, want %s", ready[0].PublishAt, want)
	}
	var msg store.OrderReadyForPickupMessage
	if err := json.Unmarshal(ready[0].Payload, &msg); err != nil {
		t.Fatal(err)
	}
	if len(msg.Warehouses) != 1 || msg.Warehouses[0].WarehouseID != "wh-1" {
		t.Errorf("unexpected warehouse assignments: %+v", msg.Warehouses)
	}

	if emails := eventsOfType(st, store.EventPaymentResultNotification); len(emails) != 1 {
		t.Errorf("got %d payment result emails, want 1", len(emails))
	}
}

func TestHandlePaymentResultDuplicateSuccessIsNoOp(t *testing.T) {
	sg, st := fixture(t)
	payment := paidOrder(t, sg)
	before := len(st.OutboxEvents())

	err := sg.HandlePaymentResult(context.Background(), store.PaymentResultMessage{
		OrderID: "o-1", PaymentID: payment.ID, Status: "SUCCESS",
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := len(st.OutboxEvents()); got != before {
		t.Errorf("outbox grew from %d to %d on duplicate result", before, got)
	}
}

func TestHandlePaymentResultFailedReleasesStock(t *testing.T) {
	sg, st := fixture(t)
	if _, err := sg.ReserveStock(context.Background(), "o-1"); err != nil {
		t.Fatal(err)
	}
	payment, err := sg.RequestPayment(context.Background(), "o-1")
	if err != nil {
		t.Fatal(err)
	}

	msg := store.PaymentResultMessage{
		OrderID: "o-1", PaymentID: payment.ID, Status: "FAILED", FailureReason: "card declined",
	}
	if err := sg.HandlePaymentResult(context.Background(), msg); err != nil {
		t.Fatal(err)
	}
	if got := orderStatus(t, st, "o-1"); got != store.OrderPaymentFailed {
		t.Fatalf("order status = %s, want PAYMENT_FAILED", got)
	}
	if got := st.StockAt("wh-1", "p-1").QtyReserved; got != 0 {
		t.Errorf("reserved = %d after failed payment, want 0", got)
	}

	before := len(st.OutboxEvents())
	if err := sg.HandlePaymentResult(context.Background(), msg); err != nil {
		t.Fatal(err)
	}
	if got := len(st.OutboxEvents()); got != before {
		t.Errorf("outbox grew from %d to %d on duplicate FAILED result", before, got)
	}
}

func TestHandlePaymentResultUnknownStatus(t *testing.T) {
	sg, _ := fixture(t)
	if _, err := sg.ReserveStock(context.Background(), "o-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := sg.RequestPayment(context.Background(), "o-1"); err != nil {
		t.Fatal(err)
	}
	err := sg.HandlePaymentResult(context.Background(), store.PaymentResultMessage{
		OrderID: "o-1", Status: "MAYBE",
	})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("got %v, want ErrValidation", err)
	}
}

func TestCancelOrderInsideHoldBackWindow(t *testing.T) {
	sg, st := fixture(t)
	paidOrder(t, sg)

	result, err := sg.CancelOrder(context.Background(), "o-1")
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != store.OrderCancelled {
		t.Fatalf("status = %s, want CANCELLED", result.Status)
	}
	if got := st.StockAt("wh-1", "p-1").QtyReserved; got != 0 {
		t.Errorf("reserved = %d after cancel, want 0", got)
	}
	// Staged carrier hand-off was retracted.
	if ready := eventsOfType(st, store.EventOrderReadyForPickup); len(ready) != 0 {
		t.Errorf("got %d OrderReadyForPickup events after cancel, want 0", len(ready))
	}
	if result.RefundID == "" || result.RefundStatus != store.RefundPending {
		t.Errorf("unexpected refund: %+v", result)
	}
	if refunds := eventsOfType(st, store.EventRefundRequested); len(refunds) != 1 {
		t.Errorf("got %d RefundRequested events, want 1", len(refunds))
	}
}

func TestCancelOrderAfterReadyEventDue(t *testing.T) {
	sg, _ := fixture(t)
	paidOrder(t, sg)

	// Past the hold-back window the relay may publish at any moment.
	sg.Now = func() time.Time { return base.Add(readyDelay + time.Minute) }
	_, err := sg.CancelOrder(context.Background(), "o-1")
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("got %v, want ErrConflict", err)
	}
}

func TestCancelOrderTwiceConflicts(t *testing.T) {
	sg, _ := fixture(t)
	if _, err := sg.CancelOrder(context.Background(), "o-1"); err != nil {
		t.Fatal(err)
	}
	_, err := sg.CancelOrder(context.Background(), "o-1")
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("got %v, want ErrConflict", err)
	}
}

func TestCancelOrderWithoutPaymentSkipsRefund(t *testing.T) {
	sg, st := fixture(t)

	result, err := sg.CancelOrder(context.Background(), "o-1")
	if err != nil {
		t.Fatal(err)
	}
	if result.RefundID != "" {
		t.Errorf("unexpected refund %s for unpaid order", result.RefundID)
	}
	if got := orderStatus(t, st, "o-1"); got != store.OrderCancelled {
		t.Errorf("status = %s, want CANCELLED", got)
	}
}

func TestHandleRefundResult(t *testing.T) {
	sg, st := fixture(t)
	paidOrder(t, sg)
	result, err := sg.CancelOrder(context.Background(), "o-1")
	if err != nil {
		t.Fatal(err)
	}

	err = sg.HandleRefundResult(context.Background(), store.PaymentRefundResultMessage{
		OrderID: "o-1", RefundID: result.RefundID, Status: "COMPLETED", BankRefundReference: "ref-9",
	})
	if err != nil {
		t.Fatal(err)
	}

	errTx := st.WithinTx(context.Background(), func(tx store.Tx) error {
		refund, err := tx.GetRefund(context.Background(), result.RefundID)
		if err != nil {
			return err
		}
		if refund.Status != store.RefundCompleted || refund.BankRefundReference != "ref-9" {
			t.Errorf("unexpected refund record: %+v", refund)
		}
		return nil
	})
	if errTx != nil {
		t.Fatal(errTx)
	}

	// One notification at request time, one for the result.
	if emails := eventsOfType(st, store.EventRefundStatusNotification); len(emails) != 2 {
		t.Errorf("got %d refund status emails, want 2", len(emails))
	}
}

func TestHandleRefundResultMissingFields(t *testing.T) {
	sg, _ := fixture(t)
	err := sg.HandleRefundResult(context.Background(), store.PaymentRefundResultMessage{OrderID: "o-1"})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("got %v, want ErrValidation", err)
	}
}
