package bus

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"ticketpay/core/events"
)

type fakeWriter struct {
	messages []kafka.Message
	err      error
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func TestPublisherTopicAndKey(t *testing.T) {
	writer := &fakeWriter{}
	p := &Publisher{writer: writer, logger: testLogger()}

	evt := events.New("agg-1", events.WalletFunded{
		Amount: decimal.RequireFromString("500"), UserID: "u-1", TransactionType: "sale",
	})
	require.NoError(t, p.Publish(context.Background(), evt))
	require.Len(t, writer.messages, 1)
	require.Equal(t, events.TypeWalletFunded, writer.messages[0].Topic)
	require.Equal(t, "agg-1", string(writer.messages[0].Key))

	decoded, err := events.Decode(writer.messages[0].Value)
	require.NoError(t, err)
	require.Equal(t, evt.EventID, decoded.EventID)
}

func TestPublishAllStopsOnError(t *testing.T) {
	writer := &fakeWriter{err: errors.New("broker down")}
	p := &Publisher{writer: writer, logger: testLogger()}

	batch := []events.Event{
		events.New("a", events.WalletFunded{Amount: decimal.New(1, 0), UserID: "u"}),
		events.New("b", events.WalletFunded{Amount: decimal.New(2, 0), UserID: "u"}),
	}
	err := p.PublishAll(context.Background(), batch)
	require.Error(t, err)
	require.Empty(t, writer.messages)
}

func TestDispatchRoutesAndCommitsOnlyOnSuccess(t *testing.T) {
	c := NewConsumer(ConsumerConfig{GroupID: "g"}, testLogger())

	var handled []string
	c.Subscribe(events.TypeWalletFunded, func(_ context.Context, evt *events.Event) error {
		handled = append(handled, evt.AggregateID)
		return nil
	})
	failing := errors.New("handler blew up")
	c.Subscribe(events.TypeTransactionCreated, func(_ context.Context, _ *events.Event) error {
		return failing
	})

	ok := message(t, events.New("agg-ok", events.WalletFunded{Amount: decimal.New(5, 0), UserID: "u"}))
	require.NoError(t, c.dispatch(context.Background(), ok))
	require.Equal(t, []string{"agg-ok"}, handled)

	bad := message(t, events.New("agg-bad", events.TransactionCreated{Amount: decimal.New(5, 0), UserID: "u"}))
	err := c.dispatch(context.Background(), bad)
	require.ErrorIs(t, err, failing)
}

func TestDispatchRejectsUnknownEventType(t *testing.T) {
	c := NewConsumer(ConsumerConfig{GroupID: "g"}, testLogger())
	c.Subscribe(events.TypeWalletFunded, func(context.Context, *events.Event) error { return nil })

	msg := kafka.Message{
		Topic: "transaction.unknown",
		Value: []byte(`{"event_type":"transaction.unknown","payload":{}}`),
	}
	require.Error(t, c.dispatch(context.Background(), msg))
}

func TestRunRequiresSubscriptions(t *testing.T) {
	c := NewConsumer(ConsumerConfig{GroupID: "g"}, testLogger())
	require.Error(t, c.Run(context.Background()))
}

func message(t *testing.T, evt events.Event) kafka.Message {
	t.Helper()
	value, err := json.Marshal(evt)
	require.NoError(t, err)
	return kafka.Message{Topic: evt.EventType, Key: []byte(evt.AggregateID), Value: value}
}
