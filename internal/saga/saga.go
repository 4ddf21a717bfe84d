// Package saga coordinates the order lifecycle across the store, bank,
// carrier, and notifier. Every operation is one atomic unit of work: validate
// current state, mutate, append outbox events, commit. No operation talks to
// the network directly; the relay does that later.
package saga

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/storeops/order-saga/internal/allocation"
	"github.com/storeops/order-saga/internal/outbox"
	"github.com/storeops/order-saga/internal/store"
	"go.uber.org/zap"
)

type Saga struct {
	Store store.Store
	Alloc *allocation.Engine
	Log   *zap.Logger
	Now   store.Clock

	// DeliveryReadyDelay staggers the hand-off to the carrier: the
	// OrderReadyForPickup outbox row only becomes due after this window,
	// which is also the window in which cancellation can still retract it.
	DeliveryReadyDelay time.Duration
}

func New(st store.Store, log *zap.Logger, deliveryReadyDelay time.Duration) *Saga {
	return &Saga{
		Store:              st,
		Alloc:              allocation.NewEngine(time.Now),
		Log:                log,
		Now:                time.Now,
		DeliveryReadyDelay: deliveryReadyDelay,
	}
}

func correlation(orderID string) string { return "ORDER-" + orderID }

// ReserveStock allocates inventory for a NEW order and advances it to
// ALLOCATED. Calling it again on an already-allocated (or further progressed)
// order reports the current status without re-reserving anything.
func (s *Saga) ReserveStock(ctx context.Context, orderID string) (store.OrderStatus, error) {
	var status store.OrderStatus
	err := s.Store.WithinTx(ctx, func(tx store.Tx) error {
		order, err := tx.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}

		switch order.Status {
		case store.OrderAllocated, store.OrderPaymentPending, store.OrderPaid:
			s.Log.Info("order already allocated, skipping",
				zap.String("order_id", orderID), zap.String("status", string(order.Status)))
			status = order.Status
			return nil
		case store.OrderNew:
		default:
			return fmt.Errorf("order %s in status %s cannot be allocated: %w", orderID, order.Status, store.ErrConflict)
		}

		items, err := tx.OrderItems(ctx, orderID)
		if err != nil {
			return err
		}
		plan, err := s.Alloc.PlanAllocation(ctx, tx, items)
		if err != nil {
			return err
		}
		if err := s.Alloc.ReserveStock(ctx, tx, order, plan); err != nil {
			return err
		}

		now := s.Now()
		order.Status = store.OrderAllocated
		order.UpdatedAt = now
		if err := tx.SaveOrder(ctx, order); err != nil {
			return err
		}

		status = order.Status
		return outbox.Append(ctx, tx, store.AggregateOrder, order.ID, store.EventOrderAllocated,
			correlation(order.ID), store.OrderAllocatedMessage{
				OrderID:       order.ID,
				Status:        order.Status,
				CorrelationID: correlation(order.ID),
			}, now, now)
	})
	return status, err
}

// RequestPayment creates the PENDING payment for an ALLOCATED order and queues
// the bank request. A second call while a payment exists is a conflict.
func (s *Saga) RequestPayment(ctx context.Context, orderID string) (*store.Payment, error) {
	var payment *store.Payment
	err := s.Store.WithinTx(ctx, func(tx store.Tx) error {
		order, err := tx.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if order.Status != store.OrderAllocated {
			return fmt.Errorf("order %s in status %s cannot request payment: %w", orderID, order.Status, store.ErrConflict)
		}
		if _, err := tx.PaymentByOrder(ctx, orderID); err == nil {
			return fmt.Errorf("payment already requested for order %s: %w", orderID, store.ErrConflict)
		} else if !isNotFound(err) {
			return err
		}

		now := s.Now()
		payment = &store.Payment{
			ID:          uuid.NewString(),
			OrderID:     order.ID,
			Amount:      order.Total,
			Status:      store.PaymentPending,
			RequestedAt: now,
		}
		if err := tx.CreatePayment(ctx, payment); err != nil {
			return err
		}

		if err := outbox.Append(ctx, tx, store.AggregatePayment, payment.ID, store.EventPaymentRequested,
			correlation(order.ID), store.PaymentRequestedMessage{
				OrderID:        order.ID,
				PaymentID:      payment.ID,
				CustomerID:     order.CustomerID,
				Amount:         payment.Amount,
				PaymentStatus:  payment.Status,
				CorrelationID:  correlation(order.ID),
				IdempotencyKey: order.ID,
			}, now, now); err != nil {
			return err
		}

		order.Status = store.OrderPaymentPending
		order.UpdatedAt = now
		return tx.SaveOrder(ctx, order)
	})
	return payment, err
}

// HandlePaymentResult applies the bank's verdict. A re-delivered result that
// matches the payment's already-recorded terminal status is a silent no-op.
func (s *Saga) HandlePaymentResult(ctx context.Context, msg store.PaymentResultMessage) error {
	return s.Store.WithinTx(ctx, func(tx store.Tx) error {
		order, err := tx.GetOrder(ctx, msg.OrderID)
		if err != nil {
			return err
		}
		payment, err := tx.PaymentByOrder(ctx, msg.OrderID)
		if err != nil {
			return err
		}
		if msg.PaymentID != "" && msg.PaymentID != payment.ID {
			return fmt.Errorf("payment %s does not match order %s: %w", msg.PaymentID, msg.OrderID, store.ErrNotFound)
		}

		now := s.Now()
		switch strings.ToUpper(msg.Status) {
		case "SUCCESS":
			if payment.Status == store.PaymentConfirmed {
				return nil
			}
			payment.Status = store.PaymentConfirmed
			if msg.BankTransactionReference != "" {
				payment.BankTransactionReference = msg.BankTransactionReference
			}
			payment.ConfirmedAt = &now
			if err := tx.SavePayment(ctx, payment); err != nil {
				return err
			}
			order.Status = store.OrderPaid
			order.UpdatedAt = now
			if err := tx.SaveOrder(ctx, order); err != nil {
				return err
			}
			if err := s.appendReadyForPickup(ctx, tx, order, payment, now); err != nil {
				return err
			}
			return s.appendPaymentResultEmail(ctx, tx, order, payment, msg.FailureReason, now)

		case "FAILED":
			if payment.Status == store.PaymentFailed {
				return nil
			}
			payment.Status = store.PaymentFailed
			if msg.BankTransactionReference != "" {
				payment.BankTransactionReference = msg.BankTransactionReference
			}
			payment.ConfirmedAt = nil
			if err := tx.SavePayment(ctx, payment); err != nil {
				return err
			}
			if err := s.Alloc.ReleaseStock(ctx, tx, order); err != nil {
				return err
			}
			order.Status = store.OrderPaymentFailed
			order.UpdatedAt = now
			if err := tx.SaveOrder(ctx, order); err != nil {
				return err
			}
			return s.appendPaymentResultEmail(ctx, tx, order, payment, msg.FailureReason, now)
		}
		return fmt.Errorf("unsupported payment status %q: %w", msg.Status, store.ErrValidation)
	})
}

type CancelResult struct {
	OrderID      string
	Status       store.OrderStatus
	RefundID     string
	RefundStatus store.RefundStatus
}

// CancelOrder is rejected once the order is past the point of no return: the
// carrier already has it, or the ready-for-pickup event has already come due.
// Otherwise it releases stock, retracts the staged delivery event, and refunds
// any non-failed payment in full.
func (s *Saga) CancelOrder(ctx context.Context, orderID string) (*CancelResult, error) {
	var result CancelResult
	err := s.Store.WithinTx(ctx, func(tx store.Tx) error {
		order, err := tx.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if order.Status == store.OrderCancelled {
			return fmt.Errorf("order %s already cancelled: %w", orderID, store.ErrConflict)
		}

		now := s.Now()
		sent, err := s.deliveryRequestSent(ctx, tx, order, now)
		if err != nil {
			return err
		}
		if sent {
			return fmt.Errorf("order %s already handed to delivery: %w", orderID, store.ErrConflict)
		}

		if err := s.Alloc.ReleaseStock(ctx, tx, order); err != nil {
			return err
		}

		// Retract the staged delivery request while it is still unpublished.
		if ev, err := tx.LatestOutbox(ctx, store.AggregateOrder, order.ID, store.EventOrderReadyForPickup); err == nil {
			if ev.PublishAt.After(now) {
				if err := tx.DeleteOutbox(ctx, ev.ID); err != nil {
					return err
				}
				s.Log.Info("retracted staged delivery event for cancelled order",
					zap.String("order_id", order.ID), zap.String("event_id", ev.ID))
			}
		} else if !isNotFound(err) {
			return err
		}

		order.Status = store.OrderCancelled
		order.UpdatedAt = now
		if err := tx.SaveOrder(ctx, order); err != nil {
			return err
		}
		if err := tx.DeleteDelivery(ctx, order.ID); err != nil {
			return err
		}

		result = CancelResult{OrderID: order.ID, Status: order.Status}

		payment, err := tx.PaymentByOrder(ctx, orderID)
		if isNotFound(err) {
			return nil
		}
		if err != nil {
			return err
		}
		if payment.Status == store.PaymentFailed {
			return nil
		}
		refund, err := s.requestRefund(ctx, tx, order, payment, payment.Amount, "", now)
		if err != nil {
			return err
		}
		result.RefundID = refund.ID
		result.RefundStatus = refund.Status
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (s *Saga) deliveryRequestSent(ctx context.Context, tx store.Tx, order *store.Order, now time.Time) (bool, error) {
	if store.DeliveryInProgress(order.Status) {
		return true, nil
	}
	ev, err := tx.LatestOutbox(ctx, store.AggregateOrder, order.ID, store.EventOrderReadyForPickup)
	if isNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	// Due but not yet relayed counts as sent: the relay may publish it at any
	// moment and we can no longer retract it safely.
	return !ev.PublishAt.After(now), nil
}

// HandleRefundResult records the bank's refund outcome and notifies the customer.
func (s *Saga) HandleRefundResult(ctx context.Context, msg store.PaymentRefundResultMessage) error {
	return s.Store.WithinTx(ctx, func(tx store.Tx) error {
		if msg.RefundID == "" {
			return fmt.Errorf("refund result missing refund id: %w", store.ErrValidation)
		}
		if msg.Status == "" {
			return fmt.Errorf("refund result missing status: %w", store.ErrValidation)
		}
		refund, err := tx.GetRefund(ctx, msg.RefundID)
		if err != nil {
			return err
		}

		refund.Status = store.RefundStatus(strings.ToUpper(msg.Status))
		if msg.BankRefundReference != "" {
			refund.BankRefundReference = msg.BankRefundReference
		}
		if err := tx.SaveRefund(ctx, refund); err != nil {
			return err
		}

		order, err := tx.GetOrder(ctx, refund.OrderID)
		if err != nil {
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
		now := s.Now()
		return outbox.Append(ctx, tx, store.AggregateEmail, order.ID, store.EventRefundStatusNotification,
			corr, store.RefundStatusEmailMessage{
				OrderID:       order.ID,
				RefundID:      refund.ID,
				CustomerEmail: email,
				Amount:        refund.Amount,
				Status:        string(refund.Status),
				FailureReason: msg.FailureReason,
				CorrelationID: corr,
			}, now, now)
	})
}

// requestRefund creates the PENDING refund and queues both the bank request
// and the customer notification. Caller-managed transaction.
func (s *Saga) requestRefund(ctx context.Context, tx store.Tx, order *store.Order, payment *store.Payment,
	amount decimal.Decimal, correlationOverride string, now time.Time) (*store.Refund, error) {

	if payment == nil {
		return nil, fmt.Errorf("no payment to refund for order %s: %w", order.ID, store.ErrValidation)
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("refund amount must be positive: %w", store.ErrValidation)
	}

	refund := &store.Refund{
		ID:        uuid.NewString(),
		OrderID:   order.ID,
		Amount:    amount,
		Status:    store.RefundPending,
		CreatedAt: now,
	}
	if err := tx.CreateRefund(ctx, refund); err != nil {
		return nil, err
	}

	corr := correlationOverride
	if corr == "" {
		corr = correlation(order.ID)
	}

	if err := outbox.Append(ctx, tx, store.AggregatePayment, payment.ID, store.EventRefundRequested,
		corr, store.PaymentRefundMessage{
			OrderID:       order.ID,
			PaymentID:     payment.ID,
			RefundID:      refund.ID,
			CustomerID:    order.CustomerID,
			Amount:        refund.Amount,
			Status:        "REQUESTED",
			CorrelationID: corr,
		}, now, now); err != nil {
		return nil, err
	}

	email, err := s.customerEmail(ctx, tx, order)
	if err != nil {
		return nil, err
	}
	if err := outbox.Append(ctx, tx, store.AggregateEmail, order.ID, store.EventRefundStatusNotification,
		corr, store.RefundStatusEmailMessage{
			OrderID:       order.ID,
			RefundID:      refund.ID,
			CustomerEmail: email,
			Amount:        refund.Amount,
			Status:        "REQUESTED",
			CorrelationID: corr,
		}, now, now); err != nil {
		return nil, err
	}
	return refund, nil
}

func (s *Saga) appendReadyForPickup(ctx context.Context, tx store.Tx, order *store.Order, payment *store.Payment, now time.Time) error {
	fulfillments, err := tx.FulfillmentsByOrder(ctx, order.ID)
	if err != nil {
		return err
	}
	assignments := make([]store.WarehouseAssignment, 0, len(fulfillments))
	for _, f := range fulfillments {
		a := store.WarehouseAssignment{WarehouseID: f.WarehouseID}
		for _, item := range f.Items {
			a.Items = append(a.Items, store.AssignmentItem{ProductID: item.ProductID, Quantity: item.QuantityPicked})
		}
		assignments = append(assignments, a)
	}

	return outbox.Append(ctx, tx, store.AggregateOrder, order.ID, store.EventOrderReadyForPickup,
		correlation(order.ID), store.OrderReadyForPickupMessage{
			OrderID:       order.ID,
			OrderStatus:   order.Status,
			PaymentID:     payment.ID,
			PaymentStatus: payment.Status,
			CorrelationID: correlation(order.ID),
			Warehouses:    assignments,
		}, now, now.Add(s.DeliveryReadyDelay))
}

func (s *Saga) appendPaymentResultEmail(ctx context.Context, tx store.Tx, order *store.Order, payment *store.Payment, failureReason string, now time.Time) error {
	email, err := s.customerEmail(ctx, tx, order)
	if err != nil {
		return err
	}
	corr := correlation(order.ID)
	return outbox.Append(ctx, tx, store.AggregateEmail, order.ID, store.EventPaymentResultNotification,
		corr, store.PaymentResultEmailMessage{
			OrderID:                  order.ID,
			PaymentID:                payment.ID,
			CustomerEmail:            email,
			Status:                   payment.Status,
			BankTransactionReference: payment.BankTransactionReference,
			FailureReason:            failureReason,
			CorrelationID:            corr,
		}, now, now)
}

func (s *Saga) customerEmail(ctx context.Context, tx store.Tx, order *store.Order) (string, error) {
	customer, err := tx.GetCustomer(ctx, order.CustomerID)
	if err != nil {
		return "", err
	}
	if customer.Email == "" {
		return "", fmt.Errorf("customer %s has no email for notification: %w", customer.ID, store.ErrValidation)
	}
	return customer.Email, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
