// Package worker binds Kafka topics to saga operations. One consumer group
// per process; each inbound topic gets its own reader and worker pool.
package worker

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	kafkax "github.com/storeops/order-saga/internal/kafka"
	"github.com/storeops/order-saga/internal/redisx"
	"github.com/storeops/order-saga/internal/saga"
	"github.com/storeops/order-saga/internal/store"
	"go.uber.org/zap"
)

type Worker struct {
	Saga    *saga.Saga
	Redis   *redis.Client
	Log     *zap.Logger
	Service string
}

func New(sg *saga.Saga, rdb *redis.Client, log *zap.Logger, service string) *Worker {
	return &Worker{Saga: sg, Redis: rdb, Log: log, Service: service}
}

// Routes maps every topic this process consumes to its handler.
func (w *Worker) Routes() map[string]kafkax.Handler {
	return map[string]kafkax.Handler{
		store.TopicOrderPlaced:         w.handleOrderPlaced,
		store.TopicOrderAllocated:      w.handleOrderAllocated,
		store.TopicPaymentResult:       w.handlePaymentResult,
		store.TopicPaymentRefundResult: w.handleRefundResult,
		store.TopicDeliveryAck:         w.handleDeliveryAck,
		store.TopicDeliveryPicked:      w.handleDeliveryPicked,
		store.TopicDeliveryInTransit:   w.handleDeliveryInTransit,
		store.TopicDeliveryDelivered:   w.handleDeliveryDelivered,
		store.TopicDeliveryLost:        w.handleDeliveryLost,
	}
}

// handleOrderPlaced drives the first saga step: reserve stock for the new order.
func (w *Worker) handleOrderPlaced(ctx context.Context, m kafkago.Message) error {
	msg, err := kafkax.Decode[store.OrderPlacedMessage](m)
	if err != nil {
		return w.reject(m.Topic, err)
	}
	done, err := w.alreadyDone(ctx, msg.OrderID, "allocate")
	if err != nil || done {
		return err
	}
	if _, err := w.Saga.ReserveStock(ctx, msg.OrderID); err != nil {
		return w.settle(m.Topic, msg.OrderID, err)
	}
	w.markDone(ctx, msg.OrderID, "allocate")
	return nil
}

// handleOrderAllocated drives the second step: ask the bank for payment.
func (w *Worker) handleOrderAllocated(ctx context.Context, m kafkago.Message) error {
	msg, err := kafkax.Decode[store.OrderAllocatedMessage](m)
	if err != nil {
		return w.reject(m.Topic, err)
	}
	done, err := w.alreadyDone(ctx, msg.OrderID, "payment")
	if err != nil || done {
		return err
	}
	if _, err := w.Saga.RequestPayment(ctx, msg.OrderID); err != nil {
		return w.settle(m.Topic, msg.OrderID, err)
	}
	w.markDone(ctx, msg.OrderID, "payment")
	return nil
}

func (w *Worker) handlePaymentResult(ctx context.Context, m kafkago.Message) error {
	msg, err := kafkax.Decode[store.PaymentResultMessage](m)
	if err != nil {
		return w.reject(m.Topic, err)
	}
	return w.settle(m.Topic, msg.OrderID, w.Saga.HandlePaymentResult(ctx, msg))
}

func (w *Worker) handleRefundResult(ctx context.Context, m kafkago.Message) error {
	msg, err := kafkax.Decode[store.PaymentRefundResultMessage](m)
	if err != nil {
		return w.reject(m.Topic, err)
	}
	return w.settle(m.Topic, msg.OrderID, w.Saga.HandleRefundResult(ctx, msg))
}

func (w *Worker) handleDeliveryAck(ctx context.Context, m kafkago.Message) error {
	msg, err := kafkax.Decode[store.DeliveryAcknowledgementMessage](m)
	if err != nil {
		return w.reject(m.Topic, err)
	}
	return w.settle(m.Topic, msg.OrderID, w.Saga.HandleDeliveryAcknowledgement(ctx, msg))
}

func (w *Worker) handleDeliveryPicked(ctx context.Context, m kafkago.Message) error {
	msg, err := kafkax.Decode[store.DeliveryPickupMessage](m)
	if err != nil {
		return w.reject(m.Topic, err)
	}
	return w.settle(m.Topic, msg.OrderID, w.Saga.HandleDeliveryPickup(ctx, msg))
}

func (w *Worker) handleDeliveryInTransit(ctx context.Context, m kafkago.Message) error {
	msg, err := kafkax.Decode[store.DeliveryInTransitMessage](m)
	if err != nil {
		return w.reject(m.Topic, err)
	}
	return w.settle(m.Topic, msg.OrderID, w.Saga.HandleDeliveryInTransit(ctx, msg))
}

func (w *Worker) handleDeliveryDelivered(ctx context.Context, m kafkago.Message) error {
	msg, err := kafkax.Decode[store.DeliveryDeliveredMessage](m)
	if err != nil {
		return w.reject(m.Topic, err)
	}
	return w.settle(m.Topic, msg.OrderID, w.Saga.HandleDeliveryDelivered(ctx, msg))
}

func (w *Worker) handleDeliveryLost(ctx context.Context, m kafkago.Message) error {
	msg, err := kafkax.Decode[store.DeliveryItemLostMessage](m)
	if err != nil {
		return w.reject(m.Topic, err)
	}
	return w.settle(m.Topic, msg.OrderID, w.Saga.HandleDeliveryItemLost(ctx, msg))
}

// settle decides the commit fate of a processed message. Business rejections
// (conflict, validation, unknown order) are final: retrying cannot fix them,
// so log and commit. Infrastructure errors propagate for redelivery.
func (w *Worker) settle(topic, orderID string, err error) error {
	if err == nil {
		return nil
	}
	if store.IsBusiness(err) {
		w.Log.Warn("message rejected",
			zap.String("topic", topic),
			zap.String("order_id", orderID),
			zap.Error(err))
		return nil
	}
	return err
}

// reject handles undecodable payloads: commit, or the partition wedges.
func (w *Worker) reject(topic string, err error) error {
	w.Log.Error("unreadable message dropped", zap.String("topic", topic), zap.Error(err))
	return nil
}

// alreadyDone is a Redis fast path for the self-loop phases where the same
// message genuinely arrives more than once. The saga stays the authority; a
// Redis miss only costs a no-op transaction.
func (w *Worker) alreadyDone(ctx context.Context, orderID, phase string) (bool, error) {
	key := fmt.Sprintf(redisx.KeyDedup, w.Service, orderID+":"+phase)
	ok, err := redisx.Exists(ctx, w.Redis, key)
	if err != nil {
		w.Log.Warn("dedup lookup failed, processing anyway", zap.String("key", key), zap.Error(err))
		return false, nil
	}
	return ok, nil
}

func (w *Worker) markDone(ctx context.Context, orderID, phase string) {
	key := fmt.Sprintf(redisx.KeyDedup, w.Service, orderID+":"+phase)
	if err := redisx.MarkDone(ctx, w.Redis, key, redisx.TTLDedup); err != nil {
		w.Log.Warn("dedup mark failed", zap.String("key", key), zap.Error(err))
	}
}
