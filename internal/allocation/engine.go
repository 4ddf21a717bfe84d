package allocation

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/storeops/order-saga/internal/store"
)

// Line is one planned reservation: quantity of a product at a warehouse.
type Line struct {
	WarehouseID string
	ProductID   string
	Quantity    int
}

// Plan is advisory. The authoritative availability check happens again under
// the row lock in ReserveStock.
type Plan struct {
	Lines []Line
}

type Engine struct {
	Now store.Clock
}

func NewEngine(now store.Clock) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{Now: now}
}

// PlanAllocation picks, for every order item, the first warehouse with enough
// available stock. All items must be satisfiable or the whole call fails; no
// locks are taken.
func (e *Engine) PlanAllocation(ctx context.Context, tx store.Tx, items []store.OrderItem) (Plan, error) {
	if len(items) == 0 {
		return Plan{}, fmt.Errorf("order has no items to allocate: %w", store.ErrValidation)
	}

	var plan Plan
	for _, item := range items {
		stocks, err := tx.StocksForProduct(ctx, item.ProductID)
		if err != nil {
			return Plan{}, err
		}

		chosen := ""
		for _, s := range stocks {
			if s.Available() >= item.Quantity {
				chosen = s.WarehouseID
				break
			}
		}
		if chosen == "" {
			return Plan{}, fmt.Errorf("product %s qty %d: %w", item.ProductID, item.Quantity, store.ErrInsufficientStock)
		}
		plan.Lines = append(plan.Lines, Line{WarehouseID: chosen, ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return plan, nil
}

// ReserveStock must run inside the caller's transaction. For every plan line it
// locks the stock row, re-validates availability, bumps the reserved counter,
// and appends an ALLOCATE ledger entry; one Fulfillment is created per
// warehouse touched. Any shortfall fails the whole call and the caller's
// rollback undoes every mutation.
func (e *Engine) ReserveStock(ctx context.Context, tx store.Tx, order *store.Order, plan Plan) error {
	now := e.Now()

	// Stable lock order across concurrent orders: warehouse id, then product id.
	lines := make([]Line, len(plan.Lines))
	copy(lines, plan.Lines)
	sort.Slice(lines, func(i, j int) bool {
		if lines[i].WarehouseID != lines[j].WarehouseID {
			return lines[i].WarehouseID < lines[j].WarehouseID
		}
		return lines[i].ProductID < lines[j].ProductID
	})

	byWarehouse := map[string]*store.Fulfillment{}
	var warehouseOrder []string

	for _, line := range lines {
		stock, err := tx.LockStock(ctx, line.WarehouseID, line.ProductID)
		if err != nil {
			return err
		}
		if stock.Available() < line.Quantity {
			return fmt.Errorf("product %s at warehouse %s qty %d: %w",
				line.ProductID, line.WarehouseID, line.Quantity, store.ErrInsufficientStock)
		}

		stock.QtyReserved += line.Quantity
		if err := tx.SaveStock(ctx, stock); err != nil {
			return err
		}

		f, ok := byWarehouse[line.WarehouseID]
		if !ok {
			f = &store.Fulfillment{
				ID:          uuid.NewString(),
				OrderID:     order.ID,
				WarehouseID: line.WarehouseID,
				Status:      "ALLOCATED",
				AllocatedAt: now,
			}
			byWarehouse[line.WarehouseID] = f
			warehouseOrder = append(warehouseOrder, line.WarehouseID)
		}
		f.Items = append(f.Items, store.FulfillmentItem{
			ProductID:      line.ProductID,
			QuantityPicked: line.Quantity,
		})

		if err := tx.AppendLedger(ctx, &store.StockLedger{
			ID:            uuid.NewString(),
			WarehouseID:   line.WarehouseID,
			ProductID:     line.ProductID,
			OrderID:       order.ID,
			Reason:        store.LedgerReasonAllocate,
			QuantityDelta: -line.Quantity,
			CreatedAt:     now,
		}); err != nil {
			return err
		}
	}

	for _, warehouseID := range warehouseOrder {
		if err := tx.CreateFulfillment(ctx, byWarehouse[warehouseID]); err != nil {
			return err
		}
	}
	return nil
}

// ReleaseStock undoes an order's reservations: lock each stock row, hand the
// reserved quantity back (floored at zero), append a CANCEL ledger entry, then
// drop the fulfillments. No-op for orders that were never allocated.
func (e *Engine) ReleaseStock(ctx context.Context, tx store.Tx, order *store.Order) error {
	fulfillments, err := tx.FulfillmentsByOrder(ctx, order.ID)
	if err != nil {
		return err
	}
	if len(fulfillments) == 0 {
		return nil
	}

	now := e.Now()

	var lines []Line
	for _, f := range fulfillments {
		for _, item := range f.Items {
			if item.QuantityPicked <= 0 {
				continue
			}
			lines = append(lines, Line{WarehouseID: f.WarehouseID, ProductID: item.ProductID, Quantity: item.QuantityPicked})
		}
	}
	sort.Slice(lines, func(i, j int) bool {
		if lines[i].WarehouseID != lines[j].WarehouseID {
			return lines[i].WarehouseID < lines[j].WarehouseID
		}
		return lines[i].ProductID < lines[j].ProductID
	})

	for _, line := range lines {
		stock, err := tx.LockStock(ctx, line.WarehouseID, line.ProductID)
		if err != nil {
			return err
		}
		stock.QtyReserved -= line.Quantity
		if stock.QtyReserved < 0 {
			stock.QtyReserved = 0
		}
		if err := tx.SaveStock(ctx, stock); err != nil {
			return err
		}

		if err := tx.AppendLedger(ctx, &store.StockLedger{
			ID:            uuid.NewString(),
			WarehouseID:   line.WarehouseID,
			ProductID:     line.ProductID,
			OrderID:       order.ID,
			Reason:        store.LedgerReasonCancel,
			QuantityDelta: line.Quantity,
			CreatedAt:     now,
		}); err != nil {
			return err
		}
	}

	return tx.DeleteFulfillmentsByOrder(ctx, order.ID)
}
