package kafka

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
)

// Publisher writes synchronously with full acks. The outbox relay deletes a
// row only after Publish returns nil, so fire-and-forget is not an option here.
type Publisher struct {
	w *kafka.Writer
}

func NewPublisher(brokers []string) *Publisher {
	return &Publisher{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			Async:        false,
		},
	}
}

func (p *Publisher) Publish(ctx context.Context, topic string, key, value []byte) error {
	return p.w.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   key,
		Value: value,
		Time:  time.Now(),
	})
}

func (p *Publisher) Close() error { return p.w.Close() }
