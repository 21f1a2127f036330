package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/segmentio/kafka-go"

	"ticketpay/core/events"
	"ticketpay/observability"
)

// Handler processes one decoded domain event. A non-nil error keeps the
// message uncommitted so it is redelivered after a restart; handlers must
// therefore be safe to replay.
type Handler func(ctx context.Context, evt *events.Event) error

// ConsumerConfig configures the consumer group.
type ConsumerConfig struct {
	Brokers []string
	GroupID string
	// StartOffset is "earliest" (default) or "latest" and only applies to a
	// group with no committed offsets.
	StartOffset string
}

// Consumer runs a consumer-group loop over every subscribed topic. Offsets
// are committed only after all handlers for a message return nil.
type Consumer struct {
	cfg      ConsumerConfig
	logger   *slog.Logger
	handlers map[string][]Handler

	newReader func(topics []string) reader
}

type reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewConsumer builds an unstarted consumer.
func NewConsumer(cfg ConsumerConfig, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Consumer{
		cfg:      cfg,
		logger:   logger,
		handlers: make(map[string][]Handler),
	}
	c.newReader = func(topics []string) reader {
		startOffset := kafka.FirstOffset
		if cfg.StartOffset == "latest" {
			startOffset = kafka.LastOffset
		}
		return kafka.NewReader(kafka.ReaderConfig{
			Brokers:     cfg.Brokers,
			GroupID:     cfg.GroupID,
			GroupTopics: topics,
			StartOffset: startOffset,
		})
	}
	return c
}

// Subscribe registers a handler for an event type. All subscriptions must
// happen before Run.
func (c *Consumer) Subscribe(eventType string, handler Handler) {
	c.handlers[eventType] = append(c.handlers[eventType], handler)
}

// Run consumes until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	if len(c.handlers) == 0 {
		return fmt.Errorf("bus: no subscriptions")
	}
	topics := make([]string, 0, len(c.handlers))
	for topic := range c.handlers {
		topics = append(topics, topic)
	}
	sort.Strings(topics)

	r := c.newReader(topics)
	defer r.Close()

	c.logger.Info("consumer started",
		slog.String("group_id", c.cfg.GroupID),
		slog.Any("topics", topics),
	)
	for {
		msg, err := r.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return ctx.Err()
			}
			return fmt.Errorf("bus: fetch: %w", err)
		}
		if err := c.dispatch(ctx, msg); err != nil {
			// Leave the offset uncommitted; the message replays on restart.
			c.logger.Error("event handling failed",
				slog.String("topic", msg.Topic),
				slog.String("key", string(msg.Key)),
				slog.String("error", err.Error()),
			)
			continue
		}
		if err := r.CommitMessages(ctx, msg); err != nil {
			return fmt.Errorf("bus: commit: %w", err)
		}
	}
}

func (c *Consumer) dispatch(ctx context.Context, msg kafka.Message) error {
	evt, err := events.Decode(msg.Value)
	if err != nil {
		observability.Engine().EventFailed(msg.Topic)
		return err
	}
	start := time.Now()
	for _, handler := range c.handlers[evt.EventType] {
		if err := handler(ctx, &evt); err != nil {
			observability.Engine().EventFailed(evt.EventType)
			return fmt.Errorf("handle %s: %w", evt.EventType, err)
		}
	}
	observability.Engine().EventConsumed(evt.EventType, time.Since(start))
	return nil
}
