// Package outbox implements the transactional outbox: events are appended in
// the same unit of work as the state change that produced them, and a relay
// publishes them afterwards. Delivery is at-least-once; consumers dedup.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/storeops/order-saga/internal/store"
)

// Append serialises payload and inserts the event through the caller's
// transaction. publishAt in the future stages the event (used for the
// delivery-ready hold-back window).
func Append(ctx context.Context, tx store.Tx, at store.AggregateType, aggregateID string,
	et store.EventType, correlationID string, payload any, createdAt, publishAt time.Time) error {

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("serialise %s payload: %w", et, err)
	}
	return tx.InsertOutbox(ctx, &store.OutboxEvent{
		ID:            uuid.NewString(),
		AggregateType: at,
		AggregateID:   aggregateID,
		EventType:     et,
		Payload:       raw,
		CorrelationID: correlationID,
		CreatedAt:     createdAt,
		PublishAt:     publishAt,
	})
}
