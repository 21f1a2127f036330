// Package events defines the domain event envelope published on the bus and
// the typed payloads it carries. Payloads are plain data (ids, decimals,
// strings) so that aggregates and handlers can both depend on this package
// without importing each other.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event types, named "<group>.<name>". The group doubles as the topic prefix
// and the registry key.
const (
	TypeTransactionCreated    = "transaction.created"
	TypeTransactionPurchased  = "transaction.purchased"
	TypeWithdrawSuccessful    = "transaction.withdraw_successful"
	TypeWalletFunded          = "wallet.funded"
	TypeNotificationRequested = "notification.requested"
)

// Payload is implemented by every typed event body.
type Payload interface {
	EventType() string
}

// Event is the immutable envelope every domain event travels in. AggregateID
// is the bus partition key: all events keyed by the same aggregate are
// consumed in order by a single consumer.
type Event struct {
	EventType   string    `json:"event_type"`
	EventID     uuid.UUID `json:"event_id"`
	AggregateID string    `json:"aggregate_id"`
	OccurredOn  time.Time `json:"occurred_on"`
	Version     int       `json:"version"`
	Payload     Payload   `json:"payload"`
}

// New wraps a payload in a fresh envelope keyed by aggregateID.
func New(aggregateID string, payload Payload) Event {
	return Event{
		EventType:   payload.EventType(),
		EventID:     uuid.New(),
		AggregateID: aggregateID,
		OccurredOn:  time.Now().UTC(),
		Version:     1,
		Payload:     payload,
	}
}

type rawEnvelope struct {
	EventType   string          `json:"event_type"`
	EventID     uuid.UUID       `json:"event_id"`
	AggregateID string          `json:"aggregate_id"`
	OccurredOn  time.Time       `json:"occurred_on"`
	Version     int             `json:"version"`
	Payload     json.RawMessage `json:"payload"`
}

// Decode parses an envelope and constructs its typed payload through the
// registry. Unknown event types are an error so that a consumer never
// silently commits a message it does not understand.
func Decode(raw []byte) (Event, error) {
	var envelope rawEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return Event{}, fmt.Errorf("events: decode envelope: %w", err)
	}
	decode, ok := registry[envelope.EventType]
	if !ok {
		return Event{}, fmt.Errorf("events: unknown event type %q", envelope.EventType)
	}
	payload, err := decode(envelope.Payload)
	if err != nil {
		return Event{}, fmt.Errorf("events: decode %s payload: %w", envelope.EventType, err)
	}
	return Event{
		EventType:   envelope.EventType,
		EventID:     envelope.EventID,
		AggregateID: envelope.AggregateID,
		OccurredOn:  envelope.OccurredOn,
		Version:     envelope.Version,
		Payload:     payload,
	}, nil
}

var registry = map[string]func(json.RawMessage) (Payload, error){}

// Register binds an event type to a payload decoder. Registering the same
// type twice is an error.
func Register(eventType string, decode func(json.RawMessage) (Payload, error)) error {
	if _, exists := registry[eventType]; exists {
		return fmt.Errorf("events: %s already registered", eventType)
	}
	registry[eventType] = decode
	return nil
}

func mustRegister[P Payload](eventType string) {
	err := Register(eventType, func(raw json.RawMessage) (Payload, error) {
		var payload P
		if err := json.Unmarshal(raw, &payload); err != nil {
			return nil, err
		}
		return payload, nil
	})
	if err != nil {
		panic(err)
	}
}

func init() {
	mustRegister[TransactionCreated](TypeTransactionCreated)
	mustRegister[TransactionPurchased](TypeTransactionPurchased)
	mustRegister[WithdrawSuccessful](TypeWithdrawSuccessful)
	mustRegister[WalletFunded](TypeWalletFunded)
	mustRegister[NotificationRequested](TypeNotificationRequested)
}
