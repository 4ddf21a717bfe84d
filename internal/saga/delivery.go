package saga

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/storeops/order-saga/internal/outbox"
	"github.com/storeops/order-saga/internal/store"
)

// Carrier progress reports. Each handler validates current order state rather
// than assuming a strict predecessor, so reordered or duplicated messages
// converge on the same end state.

func (s *Saga) HandleDeliveryAcknowledgement(ctx context.Context, msg store.DeliveryAcknowledgementMessage) error {
	return s.Store.WithinTx(ctx, func(tx store.Tx) error {
		order, err := s.deliverableOrder(ctx, tx, msg.OrderID)
		if err != nil {
			return err
		}
		if order.Status == store.OrderDeliveryConfirmed {
			return nil
		}

		at := timeOr(msg.AcknowledgedAt, s.Now())
		status := store.DeliveryAcknowledged
		if msg.Status != "" {
			status = store.DeliveryStatus(msg.Status)
		}
		if err := s.upsertDelivery(ctx, tx, order.ID, status, msg.Carrier, msg.TrackingCode, at); err != nil {
			return err
		}

		order.Status = store.OrderDeliveryConfirmed
		order.UpdatedAt = at
		return tx.SaveOrder(ctx, order)
	})
}

func (s *Saga) HandleDeliveryPickup(ctx context.Context, msg store.DeliveryPickupMessage) error {
	return s.Store.WithinTx(ctx, func(tx store.Tx) error {
		order, err := s.deliverableOrder(ctx, tx, msg.OrderID)
		if err != nil {
			return err
		}

		at := timeOr(msg.PickedUpAt, s.Now())
		if err := s.upsertDelivery(ctx, tx, order.ID, store.DeliveryPickedUp, msg.Carrier, msg.TrackingCode, at); err != nil {
			return err
		}
		order.Status = store.OrderOutForDelivery
		order.UpdatedAt = at
		if err := tx.SaveOrder(ctx, order); err != nil {
			return err
		}

		email, err := s.customerEmail(ctx, tx, order)
		if err != nil {
			return err
		}
		delivery, err := tx.DeliveryByOrder(ctx, order.ID)
		if err != nil {
			return err
		}
		corr := correlation(order.ID)
		return outbox.Append(ctx, tx, store.AggregateEmail, order.ID, store.EventDeliveryPickupNotification,
			corr, store.DeliveryPickupEmailMessage{
				OrderID:       order.ID,
				CustomerEmail: email,
				Carrier:       delivery.Carrier,
				TrackingCode:  delivery.TrackingCode,
				PickedUpAt:    at,
				Status:        order.Status,
				CorrelationID: corr,
			}, at, at)
	})
}

func (s *Saga) HandleDeliveryInTransit(ctx context.Context, msg store.DeliveryInTransitMessage) error {
	return s.Store.WithinTx(ctx, func(tx store.Tx) error {
		order, err := s.deliverableOrder(ctx, tx, msg.OrderID)
		if err != nil {
			return err
		}

		at := timeOr(msg.UpdatedAt, s.Now())
		if err := s.upsertDelivery(ctx, tx, order.ID, store.DeliveryInTransit, msg.Carrier, msg.TrackingCode, at); err != nil {
			return err
		}
		order.Status = store.OrderInTransit
		order.UpdatedAt = at
		if err := tx.SaveOrder(ctx, order); err != nil {
			return err
		}

		email, err := s.customerEmail(ctx, tx, order)
		if err != nil {
			return err
		}
		delivery, err := tx.DeliveryByOrder(ctx, order.ID)
		if err != nil {
			return err
		}
		corr := correlation(order.ID)
		return outbox.Append(ctx, tx, store.AggregateEmail, order.ID, store.EventDeliveryInTransitNotification,
			corr, store.DeliveryInTransitEmailMessage{
				OrderID:       order.ID,
				CustomerEmail: email,
				Carrier:       delivery.Carrier,
				TrackingCode:  delivery.TrackingCode,
				ETA:           msg.ETA,
				Status:        order.Status,
				UpdatedAt:     at,
				CorrelationID: corr,
			}, at, at)
	})
}

func (s *Saga) HandleDeliveryDelivered(ctx context.Context, msg store.DeliveryDeliveredMessage) error {
	return s.Store.WithinTx(ctx, func(tx store.Tx) error {
		order, err := s.deliverableOrder(ctx, tx, msg.OrderID)
		if err != nil {
			return err
		}
		if order.Status == store.OrderDelivered {
			return nil
		}

		at := timeOr(msg.DeliveredAt, s.Now())
		if err := s.upsertDelivery(ctx, tx, order.ID, store.DeliveryDelivered, msg.Carrier, msg.TrackingCode, at); err != nil {
			return err
		}
		order.Status = store.OrderDelivered
		order.UpdatedAt = at
		if err := tx.SaveOrder(ctx, order); err != nil {
			return err
		}

		email, err := s.customerEmail(ctx, tx, order)
		if err != nil {
			return err
		}
		delivery, err := tx.DeliveryByOrder(ctx, order.ID)
		if err != nil {
			return err
		}
		corr := correlation(order.ID)
		return outbox.Append(ctx, tx, store.AggregateEmail, order.ID, store.EventDeliveryDeliveredNotification,
			corr, store.DeliveryDeliveredEmailMessage{
				OrderID:       order.ID,
				CustomerEmail: email,
				Carrier:       delivery.Carrier,
				TrackingCode:  delivery.TrackingCode,
				DeliveredAt:   at,
				Status:        order.Status,
				CorrelationID: corr,
			}, at, at)
	})
}

// HandleDeliveryItemLost issues a partial refund of unitPrice × quantityLost
// for a lost item and tells the customer.
func (s *Saga) HandleDeliveryItemLost(ctx context.Context, msg store.DeliveryItemLostMessage) error {
	return s.Store.WithinTx(ctx, func(tx store.Tx) error {
		if msg.OrderID == "" {
			return fmt.Errorf("lost-item report missing order id: %w", store.ErrValidation)
		}
		order, err := tx.GetOrder(ctx, msg.OrderID)
		if err != nil {
			return err
		}
		payment, err := tx.PaymentByOrder(ctx, order.ID)
		if isNotFound(err) {
			return fmt.Errorf("order %s has no payment to refund for delivery loss: %w", order.ID, store.ErrConflict)
		}
		if err != nil {
			return err
		}

		if msg.ProductID == "" {
			return fmt.Errorf("lost-item report missing product id: %w", store.ErrValidation)
		}
		product, err := tx.GetProduct(ctx, msg.ProductID)
		if err != nil {
			return err
		}
		if msg.QuantityLost <= 0 {
			return fmt.Errorf("lost quantity must be greater than zero: %w", store.ErrValidation)
		}
		if product.UnitPrice.LessThanOrEqual(decimal.Zero) {
			return fmt.Errorf("product %s has no unit price for refund calculation: %w", product.ID, store.ErrValidation)
		}

		now := s.Now()
		at := timeOr(msg.ReportedAt, now)
		refundAmount := product.UnitPrice.Mul(decimal.NewFromInt(int64(msg.QuantityLost)))
		if _, err := s.requestRefund(ctx, tx, order, payment, refundAmount, msg.CorrelationID, now); err != nil {
			return err
		}

		carrier, trackingCode := msg.Carrier, msg.TrackingCode
		if delivery, err := tx.DeliveryByOrder(ctx, order.ID); err == nil {
			if carrier == "" {
				carrier = delivery.Carrier
			}
			if trackingCode == "" {
				trackingCode = delivery.TrackingCode
			}
		} else if !isNotFound(err) {
			return err
		}

		email, err := s.customerEmail(ctx, tx, order)
		if err != nil {
			return err
		}
		corr := msg.CorrelationID
		if corr == "" {
			corr = correlation(order.ID)
		}
		return outbox.Append(ctx, tx, store.AggregateEmail, order.ID, store.EventDeliveryLostNotification,
			corr, store.DeliveryLostEmailMessage{
				OrderID:       order.ID,
				CustomerEmail: email,
				Carrier:       carrier,
				TrackingCode:  trackingCode,
				ProductID:     msg.ProductID,
				QuantityLost:  msg.QuantityLost,
				ReportedAt:    at,
				CorrelationID: corr,
			}, now, now)
	})
}

func (s *Saga) deliverableOrder(ctx context.Context, tx store.Tx, orderID string) (*store.Order, error) {
	if orderID == "" {
		return nil, fmt.Errorf("delivery update missing order id: %w", store.ErrValidation)
	}
	order, err := tx.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status == store.OrderCancelled {
		return nil, fmt.Errorf("order %s is cancelled: %w", orderID, store.ErrConflict)
	}
	return order, nil
}

func (s *Saga) upsertDelivery(ctx context.Context, tx store.Tx, orderID string, status store.DeliveryStatus,
	carrier, trackingCode string, at time.Time) error {

	d := &store.Delivery{
		OrderID:      orderID,
		Status:       status,
		Carrier:      carrier,
		TrackingCode: trackingCode,
		CreatedAt:    at,
		UpdatedAt:    at,
	}
	if existing, err := tx.DeliveryByOrder(ctx, orderID); err == nil {
		d.CreatedAt = existing.CreatedAt
		if d.Carrier == "" {
			d.Carrier = existing.Carrier
		}
		if d.TrackingCode == "" {
			d.TrackingCode = existing.TrackingCode
		}
	} else if !isNotFound(err) {
		return err
	}
	return tx.SaveDelivery(ctx, d)
}

func timeOr(t *time.Time, fallback time.Time) time.Time {
	if t != nil {
		return *t
	}
	return fallback
}
