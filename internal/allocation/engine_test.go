package allocation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/storeops/order-saga/internal/memstore"
	"github.com/storeops/order-saga/internal/store"
)

var fixedNow = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }

func seed(t *testing.T) *memstore.Store {
	t.Helper()
	st := memstore.New()
	st.SeedStock(store.WarehouseStock{WarehouseID: "wh-1", ProductID: "p-1", QtyOnHand: 10})
	st.SeedStock(store.WarehouseStock{WarehouseID: "wh-1", ProductID: "p-2", QtyOnHand: 2})
	st.SeedStock(store.WarehouseStock{WarehouseID: "wh-2", ProductID: "p-2", QtyOnHand: 20})
	return st
}

func TestPlanAllocationPicksFirstWarehouseWithStock(t *testing.T) {
	st := seed(t)
	e := NewEngine(fixedNow)

	items := []store.OrderItem{
		{OrderID: "o-1", ProductID: "p-1", Quantity: 5},
		{OrderID: "o-1", ProductID: "p-2", Quantity: 5}, // wh-1 has only 2
	}
	var plan Plan
	err := st.WithinTx(context.Background(), func(tx store.Tx) error {
		var err error
		plan, err = e.PlanAllocation(context.Background(), tx, items)
		return err
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(plan.Lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(plan.Lines))
	}
	if plan.Lines[0].WarehouseID != "wh-1" || plan.Lines[1].WarehouseID != "wh-2" {
		t.Errorf("unexpected warehouses: %+v", plan.Lines)
	}
}

func TestPlanAllocationInsufficientStock(t *testing.T) {
	st := seed(t)
	e := NewEngine(fixedNow)

	err := st.WithinTx(context.Background(), func(tx store.Tx) error {
		_, err := e.PlanAllocation(context.Background(), tx, []store.OrderItem{
			{OrderID: "o-1", ProductID: "p-1", Quantity: 11},
		})
		return err
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("got %v, want ErrInsufficientStock", err)
	}
}

func TestPlanAllocationEmptyOrder(t *testing.T) {
	st := seed(t)
	e := NewEngine(fixedNow)

	err := st.WithinTx(context.Background(), func(tx store.Tx) error {
		_, err := e.PlanAllocation(context.Background(), tx, nil)
		return err
	})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("got %v, want ErrValidation", err)
	}
}

func TestReserveStockCreatesFulfillmentPerWarehouse(t *testing.T) {
	st := seed(t)
	e := NewEngine(fixedNow)
	order := &store.Order{ID: "o-1"}

	err := st.WithinTx(context.Background(), func(tx store.Tx) error {
		plan := Plan{Lines: []Line{
			{WarehouseID: "wh-1", ProductID: "p-1", Quantity: 5},
			{WarehouseID: "wh-2", ProductID: "p-2", Quantity: 5},
		}}
		return e.ReserveStock(context.Background(), tx, order, plan)
	})
	if err != nil {
		t.Fatal(err)
	}

	if got := st.StockAt("wh-1", "p-1").QtyReserved; got != 5 {
		t.Errorf("wh-1/p-1 reserved = %d, want 5", got)
	}
	if got := st.StockAt("wh-2", "p-2").QtyReserved; got != 5 {
		t.Errorf("wh-2/p-2 reserved = %d, want 5", got)
	}

	var fulfillments []store.Fulfillment
	_ = st.WithinTx(context.Background(), func(tx store.Tx) error {
		var err error
		fulfillments, err = tx.FulfillmentsByOrder(context.Background(), "o-1")
		return err
	})
	if len(fulfillments) != 2 {
		t.Fatalf("got %d fulfillments, want 2", len(fulfillments))
	}

	ledger := st.Ledger()
	if len(ledger) != 2 {
		t.Fatalf("got %d ledger entries, want 2", len(ledger))
	}
	for _, entry := range ledger {
		if entry.Reason != store.LedgerReasonAllocate || entry.QuantityDelta != -5 {
			t.Errorf("unexpected ledger entry: %+v", entry)
		}
	}
}

func TestReserveStockRollsBackOnShortfall(t *testing.T) {
	st := seed(t)
	e := NewEngine(fixedNow)
	order := &store.Order{ID: "o-1"}

	err := st.WithinTx(context.Background(), func(tx store.Tx) error {
		plan := Plan{Lines: []Line{
			{WarehouseID: "wh-1", ProductID: "p-1", Quantity: 5},
			{WarehouseID: "wh-1", ProductID: "p-2", Quantity: 5}, // only 2 available
		}}
		return e.ReserveStock(context.Background(), tx, order, plan)
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("got %v, want ErrInsufficientStock", err)
	}

	// The whole unit of work rolled back, including the line that would fit.
	if got := st.StockAt("wh-1", "p-1").QtyReserved; got != 0 {
		t.Errorf("wh-1/p-1 reserved = %d, want 0 after rollback", got)
	}
	if entries := st.Ledger(); len(entries) != 0 {
		t.Errorf("ledger has %d entries after rollback, want 0", len(entries))
	}
}

func TestReleaseStockReturnsReservationsOnce(t *testing.T) {
	st := seed(t)
	e := NewEngine(fixedNow)
	order := &store.Order{ID: "o-1"}

	err := st.WithinTx(context.Background(), func(tx store.Tx) error {
		plan := Plan{Lines: []Line{{WarehouseID: "wh-1", ProductID: "p-1", Quantity: 4}}}
		return e.ReserveStock(context.Background(), tx, order, plan)
	})
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 2; i++ {
		err = st.WithinTx(context.Background(), func(tx store.Tx) error {
			return e.ReleaseStock(context.Background(), tx, order)
		})
		if err != nil {
			t.Fatalf("release %d: %v", i+1, err)
		}
	}

	// Second release found no fulfillments and did nothing.
	if got := st.StockAt("wh-1", "p-1").QtyReserved; got != 0 {
		t.Errorf("reserved = %d, want 0", got)
	}
	ledger := st.Ledger()
	if len(ledger) != 2 { // one ALLOCATE, one CANCEL
		t.Fatalf("got %d ledger entries, want 2", len(ledger))
	}
	if ledger[1].Reason != store.LedgerReasonCancel || ledger[1].QuantityDelta != 4 {
		t.Errorf("unexpected cancel entry: %+v", ledger[1])
	}
}
