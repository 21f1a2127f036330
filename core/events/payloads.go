package events

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionCreated announces a newly persisted ledger entry. It is the
// trigger for the whole settlement pipeline.
type TransactionCreated struct {
	TransactionID   uuid.UUID       `json:"transaction_id"`
	Amount          decimal.Decimal `json:"amount"`
	UserID          string          `json:"user_id"`
	Resource        string          `json:"resource"`
	Reference       string          `json:"reference"`
	ResourceID      string          `json:"resource_id"`
	TransactionType string          `json:"transaction_type"`
	OccurredOn      time.Time       `json:"occurred_on"`
}

func (TransactionCreated) EventType() string { return TypeTransactionCreated }

// TransactionPurchased marks a ticket purchase as fully settled.
type TransactionPurchased struct {
	Amount     decimal.Decimal `json:"amount"`
	UserID     string          `json:"user_id"`
	Resource   string          `json:"resource"`
	Reference  string          `json:"reference"`
	ResourceID string          `json:"resource_id"`
}

func (TransactionPurchased) EventType() string { return TypeTransactionPurchased }

// WithdrawSuccessful is the domain translation of a provider transfer.success
// webhook.
type WithdrawSuccessful struct {
	Amount decimal.Decimal `json:"amount"`
	Ref    string          `json:"ref"`
	Date   string          `json:"date"`
	Dest   string          `json:"dest"`
}

func (WithdrawSuccessful) EventType() string { return TypeWithdrawSuccessful }

// WalletFunded records a credit landing in a user wallet.
type WalletFunded struct {
	Amount          decimal.Decimal `json:"amount"`
	UserID          string          `json:"user_id"`
	TransactionType string          `json:"transaction_type"`
	TransactionID   uuid.UUID       `json:"transaction_id"`
}

func (WalletFunded) EventType() string { return TypeWalletFunded }

// NotificationRequested asks the notification service to deliver a templated
// message on a channel.
type NotificationRequested struct {
	Channel  string            `json:"channel"`
	UserID   string            `json:"user_id"`
	Subject  string            `json:"subject"`
	Message  string            `json:"message"`
	HTML     string            `json:"html"`
	Data     map[string]string `json:"data"`
	Template string            `json:"template"`
	Type     string            `json:"type"`
}

func (NotificationRequested) EventType() string { return TypeNotificationRequested }
