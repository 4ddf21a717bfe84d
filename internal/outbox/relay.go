package outbox

import (
	"context"
	"encoding/json"
	"time"

	"github.com/storeops/order-saga/internal/store"
	"go.uber.org/zap"
)

// Source is the relay's view of the outbox table plus the one lookup it needs
// for payload repair.
type Source interface {
	DueOutbox(ctx context.Context, now time.Time, maxRetry, limit int) ([]store.OutboxEvent, error)
	DeleteOutboxEvent(ctx context.Context, eventID string) error
	BumpOutboxRetry(ctx context.Context, eventID string) error
	CustomerIDForOrder(ctx context.Context, orderID string) (string, error)
}

// Publisher must confirm the broker accepted the message before returning nil;
// the relay deletes the outbox row only on nil.
type Publisher interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

type Relay struct {
	Source    Source
	Publisher Publisher
	Log       *zap.Logger
	Interval  time.Duration
	MaxRetry  int
	BatchSize int
	Now       store.Clock
}

func NewRelay(src Source, pub Publisher, log *zap.Logger, interval time.Duration, maxRetry, batchSize int) *Relay {
	return &Relay{
		Source:    src,
		Publisher: pub,
		Log:       log,
		Interval:  interval,
		MaxRetry:  maxRetry,
		BatchSize: batchSize,
		Now:       time.Now,
	}
}

// Run polls the outbox until ctx is cancelled. Ticks never overlap: the next
// tick is not considered before the previous one finished.
func (r *Relay) Run(ctx context.Context) {
	t := time.NewTicker(r.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := r.Tick(ctx); err != nil {
				r.Log.Error("outbox tick failed", zap.Error(err))
			}
		}
	}
}

// Tick publishes every due event, oldest first, so events sharing an aggregate
// leave in creation order. A failing event is skipped (retried next tick);
// it never blocks the rest of the batch.
func (r *Relay) Tick(ctx context.Context) error {
	events, err := r.Source.DueOutbox(ctx, r.Now(), r.MaxRetry, r.BatchSize)
	if err != nil {
		return err
	}
	for i := range events {
		r.publish(ctx, &events[i])
	}
	return nil
}

func (r *Relay) publish(ctx context.Context, e *store.OutboxEvent) {
	route, err := store.RouteEvent(e)
	if err != nil {
		// Poison row: cannot be decoded. Count the attempt; once RetryCount
		// reaches MaxRetry the due query stops returning it and an operator
		// has to look at it.
		r.Log.Error("outbox event not publishable",
			zap.String("event_id", e.ID),
			zap.String("event_type", string(e.EventType)),
			zap.Error(err))
		r.bump(ctx, e)
		return
	}

	msg := route.Message
	if req, ok := msg.(store.PaymentRequestedMessage); ok {
		repaired, err := r.repairPaymentRequested(ctx, req)
		if err != nil {
			r.Log.Error("payment request missing customer id and not recoverable",
				zap.String("event_id", e.ID),
				zap.String("order_id", req.OrderID),
				zap.Error(err))
			r.bump(ctx, e)
			return
		}
		msg = repaired
	}

	value, err := json.Marshal(msg)
	if err != nil {
		r.Log.Error("re-serialise outbox payload", zap.String("event_id", e.ID), zap.Error(err))
		r.bump(ctx, e)
		return
	}

	if err := r.Publisher.Publish(ctx, route.Topic, store.PartitionKey(e.CorrelationID), value); err != nil {
		r.Log.Warn("publish failed, will retry",
			zap.String("event_id", e.ID),
			zap.String("topic", route.Topic),
			zap.Error(err))
		r.bump(ctx, e)
		return
	}

	if err := r.Source.DeleteOutboxEvent(ctx, e.ID); err != nil {
		// Row survives and gets republished next tick; at-least-once by design.
		r.Log.Warn("delete published outbox row failed", zap.String("event_id", e.ID), zap.Error(err))
		return
	}
	r.Log.Info("published outbox event",
		zap.String("event_id", e.ID),
		zap.String("event_type", string(e.EventType)),
		zap.String("topic", route.Topic))
}

// repairPaymentRequested fills in a missing customer id from the order record.
// Bank requests without a customer id are undeliverable, so an unrecoverable
// row is left in the outbox for manual intervention.
func (r *Relay) repairPaymentRequested(ctx context.Context, msg store.PaymentRequestedMessage) (store.PaymentRequestedMessage, error) {
	if msg.CustomerID != "" {
		return msg, nil
	}
	customerID, err := r.Source.CustomerIDForOrder(ctx, msg.OrderID)
	if err != nil {
		return msg, err
	}
	r.Log.Warn("recovered missing customer id for payment request",
		zap.String("order_id", msg.OrderID),
		zap.String("customer_id", customerID))
	msg.CustomerID = customerID
	return msg, nil
}

func (r *Relay) bump(ctx context.Context, e *store.OutboxEvent) {
	if err := r.Source.BumpOutboxRetry(ctx, e.ID); err != nil {
		r.Log.Error("bump outbox retry count", zap.String("event_id", e.ID), zap.Error(err))
	}
}
