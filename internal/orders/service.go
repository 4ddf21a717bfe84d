// Package orders holds the plain order operations that feed the saga:
// creating an order, editing its line items, and reads for the API layer.
package orders

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/storeops/order-saga/internal/outbox"
	"github.com/storeops/order-saga/internal/store"
	"go.uber.org/zap"
)

type Service struct {
	Store store.Store
	Log   *zap.Logger
	Now   store.Clock
}

func NewService(st store.Store, log *zap.Logger) *Service {
	return &Service{Store: st, Log: log, Now: time.Now}
}

type CreateItem struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

// CreateOrder builds a NEW order with frozen unit prices and queues the
// OrderPlaced event in the same transaction, which kicks off the saga.
func (s *Service) CreateOrder(ctx context.Context, customerID string, items []CreateItem) (*store.Order, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("order must contain at least one item: %w", store.ErrValidation)
	}
	seen := map[string]bool{}
	for _, it := range items {
		if it.Quantity <= 0 {
			return nil, fmt.Errorf("invalid quantity for product %s: %w", it.ProductID, store.ErrValidation)
		}
		if seen[it.ProductID] {
			return nil, fmt.Errorf("duplicate product %s: %w", it.ProductID, store.ErrValidation)
		}
		seen[it.ProductID] = true
	}

	var order *store.Order
	err := s.Store.WithinTx(ctx, func(tx store.Tx) error {
		if _, err := tx.GetCustomer(ctx, customerID); err != nil {
			return err
		}

		now := s.Now()
		total := decimal.Zero
		orderItems := make([]store.OrderItem, 0, len(items))
		orderID := uuid.NewString()
		for _, it := range items {
			product, err := tx.GetProduct(ctx, it.ProductID)
			if err != nil {
				return err
			}
			total = total.Add(product.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity))))
			orderItems = append(orderItems, store.OrderItem{
				OrderID:   orderID,
				ProductID: product.ID,
				Quantity:  it.Quantity,
				UnitPrice: product.UnitPrice,
			})
		}

		order = &store.Order{
			ID:         orderID,
			CustomerID: customerID,
			Status:     store.OrderNew,
			Total:      total,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := tx.CreateOrder(ctx, order); err != nil {
			return err
		}
		for i := range orderItems {
			if err := tx.UpsertOrderItem(ctx, &orderItems[i]); err != nil {
				return err
			}
		}

		corr := "ORDER-" + order.ID
		return outbox.Append(ctx, tx, store.AggregateOrder, order.ID, store.EventOrderPlaced,
			corr, store.OrderPlacedMessage{
				OrderID:       order.ID,
				Status:        order.Status,
				CorrelationID: corr,
			}, now, now)
	})
	if err != nil {
		return nil, err
	}
	s.Log.Info("created order",
		zap.String("order_id", order.ID),
		zap.String("customer_id", customerID),
		zap.Int("items", len(items)))
	return order, nil
}

// AddOrderItem merges quantity into an existing line or opens a new one with
// the current catalog price. Only NEW orders can still be edited.
func (s *Service) AddOrderItem(ctx context.Context, orderID, productID string, quantity int) (*store.Order, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("quantity must be positive: %w", store.ErrValidation)
	}

	var order *store.Order
	err := s.Store.WithinTx(ctx, func(tx store.Tx) error {
		var err error
		order, err = s.editableOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		product, err := tx.GetProduct(ctx, productID)
		if err != nil {
			return err
		}

		item := store.OrderItem{
			OrderID:   orderID,
			ProductID: productID,
			Quantity:  quantity,
			UnitPrice: product.UnitPrice,
		}
		items, err := tx.OrderItems(ctx, orderID)
		if err != nil {
			return err
		}
		for _, existing := range items {
			if existing.ProductID == productID {
				item.Quantity += existing.Quantity
				item.UnitPrice = existing.UnitPrice // price stays frozen at first add
				break
			}
		}
		if err := tx.UpsertOrderItem(ctx, &item); err != nil {
			return err
		}

		order.Total = order.Total.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(quantity))))
		order.UpdatedAt = s.Now()
		return tx.SaveOrder(ctx, order)
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// ReduceOrderItem takes quantity off a line; reaching zero removes the line.
// Reducing below zero is rejected.
func (s *Service) ReduceOrderItem(ctx context.Context, orderID, productID string, quantity int) (*store.Order, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("quantity must be positive: %w", store.ErrValidation)
	}

	var order *store.Order
	err := s.Store.WithinTx(ctx, func(tx store.Tx) error {
		var err error
		order, err = s.editableOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}

		items, err := tx.OrderItems(ctx, orderID)
		if err != nil {
			return err
		}
		var item *store.OrderItem
		for i := range items {
			if items[i].ProductID == productID {
				item = &items[i]
				break
			}
		}
		if item == nil {
			return fmt.Errorf("order item %s/%s: %w", orderID, productID, store.ErrNotFound)
		}
		if quantity > item.Quantity {
			return fmt.Errorf("cannot reduce quantity below zero: %w", store.ErrValidation)
		}

		remaining := item.Quantity - quantity
		if remaining == 0 {
			if err := tx.DeleteOrderItem(ctx, orderID, productID); err != nil {
				return err
			}
		} else {
			item.Quantity = remaining
			if err := tx.UpsertOrderItem(ctx, item); err != nil {
				return err
			}
		}

		order.Total = order.Total.Sub(item.UnitPrice.Mul(decimal.NewFromInt(int64(quantity))))
		if order.Total.IsNegative() {
			order.Total = decimal.Zero
		}
		order.UpdatedAt = s.Now()
		return tx.SaveOrder(ctx, order)
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

type OrderView struct {
	Order store.Order
	Items []store.OrderItem
}

func (s *Service) GetOrder(ctx context.Context, orderID string) (*OrderView, error) {
	var view OrderView
	err := s.Store.WithinTx(ctx, func(tx store.Tx) error {
		order, err := tx.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		items, err := tx.OrderItems(ctx, orderID)
		if err != nil {
			return err
		}
		view = OrderView{Order: *order, Items: items}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &view, nil
}

func (s *Service) OrdersForCustomer(ctx context.Context, customerID string) ([]store.Order, error) {
	var out []store.Order
	err := s.Store.WithinTx(ctx, func(tx store.Tx) error {
		if _, err := tx.GetCustomer(ctx, customerID); err != nil {
			return err
		}
		var err error
		out, err = tx.OrdersByCustomer(ctx, customerID)
		return err
	})
	return out, err
}

func (s *Service) ListProducts(ctx context.Context) ([]store.Product, error) {
	var out []store.Product
	err := s.Store.WithinTx(ctx, func(tx store.Tx) error {
		var err error
		out, err = tx.ListProducts(ctx)
		return err
	})
	return out, err
}

func (s *Service) editableOrder(ctx context.Context, tx store.Tx, orderID string) (*store.Order, error) {
	order, err := tx.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != store.OrderNew {
		return nil, fmt.Errorf("order %s in status %s can no longer be edited: %w", orderID, order.Status, store.ErrConflict)
	}
	return order, nil
}
