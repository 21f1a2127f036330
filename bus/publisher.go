// Package bus moves domain events over a partitioned Kafka log. The topic is
// the event type, the partition key is the envelope's aggregate id, and the
// consumer commits offsets manually after every handler succeeds, giving
// at-least-once delivery with per-aggregate ordering.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"ticketpay/core/events"
	"ticketpay/observability"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes domain events to the log. Publish is fire-and-ack: it
// returns once every replica acknowledged the write.
type Publisher struct {
	writer messageWriter
	logger *slog.Logger
}

// NewPublisher connects a publisher to the given brokers.
func NewPublisher(brokers []string, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		logger: logger,
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
		},
	}
}

// Publish writes one event to its topic, keyed by aggregate id.
func (p *Publisher) Publish(ctx context.Context, evt events.Event) error {
	value, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("bus: encode %s: %w", evt.EventType, err)
	}
	msg := kafka.Message{
		Topic: evt.EventType,
		Key:   []byte(evt.AggregateID),
		Value: value,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("bus: publish %s: %w", evt.EventType, err)
	}
	observability.Engine().EventPublished(evt.EventType)
	p.logger.Debug("event published",
		slog.String("event_type", evt.EventType),
		slog.String("aggregate_id", evt.AggregateID),
	)
	return nil
}

// PublishAll publishes events in order, stopping at the first failure.
func (p *Publisher) PublishAll(ctx context.Context, evts []events.Event) error {
	for _, evt := range evts {
		if err := p.Publish(ctx, evt); err != nil {
			return err
		}
	}
	return nil
}

// Close flushes and closes the underlying writer.
func (p *Publisher) Close() error { return p.writer.Close() }
