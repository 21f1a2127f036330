// Package transaction holds the ledger aggregate at the centre of the
// settlement engine: immutable identity, a guarded settlement state machine,
// planned recipient splits, and a transient outbox of domain events drained
// by the caller after persistence.
package transaction

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"ticketpay/core/events"
	"ticketpay/notify"
)

// Status is the settlement state of a ledger entry.
type Status string

// Settlement states. pending is initial; completed, failed and
// not_applicable are terminal.
const (
	StatusPending       Status = "pending"
	StatusScheduled     Status = "scheduled"
	StatusProcessing    Status = "processing"
	StatusCompleted     Status = "completed"
	StatusFailed        Status = "failed"
	StatusNotApplicable Status = "not_applicable"
)

// Valid reports whether s is a known settlement status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusScheduled, StatusProcessing, StatusCompleted, StatusFailed, StatusNotApplicable:
		return true
	}
	return false
}

// Type classifies what a ledger entry records.
type Type string

// Transaction types.
const (
	TypePurchase      Type = "purchase"
	TypeWalletFunding Type = "wallet_funding"
	TypeSale          Type = "sale"
	TypeCommission    Type = "commission"
	TypeWithdrawal    Type = "withdrawal"
)

// Valid reports whether t is a known transaction type.
func (t Type) Valid() bool {
	switch t {
	case TypePurchase, TypeWalletFunding, TypeSale, TypeCommission, TypeWithdrawal:
		return true
	}
	return false
}

// Direction is the ledger direction of an entry from the owner's view.
type Direction string

// Directions.
const (
	DirectionCredit Direction = "credit"
	DirectionDebit  Direction = "debit"
)

// DefaultDirection derives the ledger direction from the transaction type.
func (t Type) DefaultDirection() Direction {
	switch t {
	case TypePurchase, TypeWithdrawal:
		return DirectionDebit
	default:
		return DirectionCredit
	}
}

// Resources ledger entries refer to.
const (
	ResourceTicket        = "ticket"
	ResourceWalletFunding = "wallet_funding"
	ResourceWithdrawal    = "withdrawal"
)

// Source identifies where the money moved through.
type Source string

// Sources.
const (
	SourceWallet          Source = "wallet"
	SourcePaymentProvider Source = "payment_provider"
)

// Valid reports whether s is a known source.
func (s Source) Valid() bool {
	return s == SourceWallet || s == SourcePaymentProvider
}

// Role names the recipient's part in a settlement split.
type Role string

// Split roles.
const (
	RoleOrganizer   Role = "organizer"
	RoleReferrer    Role = "referrer"
	RoleSystemAdmin Role = "system_admin"
)

// Metadata keys written by the engine.
const (
	MetaSlug        = "slug"
	MetaUser        = "user"
	MetaMode        = "mode"
	MetaDest        = "dest"
	MetaRecipientID = "recipient_id"
	MetaCompletedAt = "completed_at"
	MetaFailedOn    = "failed_on"
	MetaSignature   = "signature"

	// ModeManual marks a withdrawal the platform does not dispatch itself.
	ModeManual = "manual"
)

var (
	// ErrIllegalState is returned by every guarded transition that is not
	// allowed from the current status.
	ErrIllegalState = errors.New("transaction: illegal state transition")
	// ErrInvalidAmount rejects non-positive amounts.
	ErrInvalidAmount = errors.New("transaction: amount must be positive")
	// ErrNotManualWithdrawal restricts MarkFailed to manual-mode withdrawals.
	ErrNotManualWithdrawal = errors.New("transaction: only manual withdrawals may be failed")
	// ErrScheduleInPast rejects delay windows that are not strictly future.
	ErrScheduleInPast = errors.New("transaction: settlement delay must be in the future")
	// ErrNotDue is returned when resuming a scheduled settlement before its
	// delay window has elapsed.
	ErrNotDue = errors.New("transaction: scheduled settlement not yet due")
)

// ChargeData is the fee breakdown a signed charge token carried into the
// transaction.
type ChargeData struct {
	ChargeSettingID uuid.UUID       `json:"charge_setting_id"`
	VersionID       uuid.UUID       `json:"version_id"`
	VersionNumber   int             `json:"version_number"`
	ChargeAmount    decimal.Decimal `json:"charge_amount"`
	Sponsored       bool            `json:"sponsored"`
}

// SettlementData is one planned recipient split of a parent transaction.
type SettlementData struct {
	Amount          decimal.Decimal `json:"amount"`
	RecipientUser   string          `json:"recipient_user"`
	TransactionType Type            `json:"transaction_type"`
	Role            Role            `json:"role"`
}

func (d SettlementData) validate() error {
	if !d.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	if d.RecipientUser == "" {
		return fmt.Errorf("transaction: settlement recipient required")
	}
	if d.TransactionType != TypeSale && d.TransactionType != TypeCommission {
		return fmt.Errorf("transaction: settlement type %q not allowed", d.TransactionType)
	}
	switch d.Role {
	case RoleOrganizer, RoleReferrer, RoleSystemAdmin:
		return nil
	}
	return fmt.Errorf("transaction: settlement role %q not allowed", d.Role)
}

// Transaction is a ledger entry. Identity fields are immutable after
// creation; only the settlement state, splits, and metadata mutate, and only
// through the guarded operations below.
type Transaction struct {
	ID                     uuid.UUID         `json:"id"`
	Reference              string            `json:"reference"`
	Amount                 decimal.Decimal   `json:"amount"`
	UserID                 string            `json:"user_id"`
	Resource               string            `json:"resource"`
	ResourceID             string            `json:"resource_id"`
	Source                 Source            `json:"source"`
	Type                   Type              `json:"transaction_type"`
	Direction              Direction         `json:"transaction_direction"`
	Status                 Status            `json:"settlement_status"`
	ChargeData             *ChargeData       `json:"charge_data,omitempty"`
	SettlementData         []SettlementData  `json:"settlement_data,omitempty"`
	Metadata               map[string]string `json:"metadata,omitempty"`
	ParentID               *uuid.UUID        `json:"parent_id,omitempty"`
	OccurredOn             time.Time         `json:"occurred_on"`
	CreatedAt              time.Time         `json:"created_at"`
	DelayedSettlementUntil *time.Time        `json:"delayed_settlement_until,omitempty"`

	events []events.Event
}

// NewParams describes a transaction to create. Reference is minted when
// empty; Direction defaults from Type; OccurredOn defaults to now.
type NewParams struct {
	Reference  string
	Amount     decimal.Decimal
	UserID     string
	Resource   string
	ResourceID string
	Source     Source
	Type       Type
	Direction  Direction
	ChargeData *ChargeData
	Metadata   map[string]string
	ParentID   *uuid.UUID
	OccurredOn time.Time

	// EventKey overrides the partition key of the emitted created event.
	// Settlement children use the parent id so a purchase's whole fan-out
	// shares one partition.
	EventKey string
}

// New constructs a pending transaction and queues its TransactionCreated
// event.
func New(p NewParams) (*Transaction, error) {
	if !p.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if !p.Type.Valid() {
		return nil, fmt.Errorf("transaction: unknown type %q", p.Type)
	}
	if !p.Source.Valid() {
		return nil, fmt.Errorf("transaction: unknown source %q", p.Source)
	}
	if p.UserID == "" {
		return nil, fmt.Errorf("transaction: user id required")
	}
	if p.ChargeData != nil && !p.ChargeData.ChargeAmount.IsPositive() {
		return nil, fmt.Errorf("transaction: charge amount must be positive")
	}
	reference := strings.TrimSpace(p.Reference)
	if reference == "" {
		reference = NewReference()
	}
	direction := p.Direction
	if direction == "" {
		direction = p.Type.DefaultDirection()
	}
	occurredOn := p.OccurredOn
	if occurredOn.IsZero() {
		occurredOn = time.Now().UTC()
	}
	txn := &Transaction{
		ID:         uuid.New(),
		Reference:  reference,
		Amount:     p.Amount,
		UserID:     p.UserID,
		Resource:   p.Resource,
		ResourceID: p.ResourceID,
		Source:     p.Source,
		Type:       p.Type,
		Direction:  direction,
		Status:     StatusPending,
		ChargeData: p.ChargeData,
		Metadata:   p.Metadata,
		ParentID:   p.ParentID,
		OccurredOn: occurredOn,
		CreatedAt:  time.Now().UTC(),
	}
	key := p.EventKey
	if key == "" {
		key = txn.ID.String()
	}
	txn.emit(key, events.TransactionCreated{
		TransactionID:   txn.ID,
		Amount:          txn.Amount,
		UserID:          txn.UserID,
		Resource:        txn.Resource,
		Reference:       txn.Reference,
		ResourceID:      txn.ResourceID,
		TransactionType: string(txn.Type),
		OccurredOn:      txn.OccurredOn,
	})
	return txn, nil
}

// NewReference mints a provider-safe unique reference.
func NewReference() string {
	return "tp_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// ChargeAmount returns the fee recorded on the transaction, zero when none.
func (t *Transaction) ChargeAmount() decimal.Decimal {
	if t.ChargeData == nil {
		return decimal.Zero
	}
	return t.ChargeData.ChargeAmount
}

// AddSettlement appends a planned split. Splits may only be added while the
// parent is pending.
func (t *Transaction) AddSettlement(data SettlementData) error {
	if t.Status != StatusPending {
		return fmt.Errorf("%w: add settlement in %s", ErrIllegalState, t.Status)
	}
	if err := data.validate(); err != nil {
		return err
	}
	t.SettlementData = append(t.SettlementData, data)
	return nil
}

// CreateSettlementChildren mints one pending child transaction per planned
// split. Child created events are keyed by this parent's id.
func (t *Transaction) CreateSettlementChildren(now time.Time) ([]*Transaction, error) {
	if t.Status != StatusPending {
		return nil, fmt.Errorf("%w: create children in %s", ErrIllegalState, t.Status)
	}
	children := make([]*Transaction, 0, len(t.SettlementData))
	for _, data := range t.SettlementData {
		parentID := t.ID
		child, err := New(NewParams{
			Amount:     data.Amount,
			UserID:     data.RecipientUser,
			Resource:   t.Resource,
			ResourceID: t.ResourceID,
			Source:     t.Source,
			Type:       data.TransactionType,
			ParentID:   &parentID,
			OccurredOn: now,
			EventKey:   t.ID.String(),
		})
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}
	return children, nil
}

// Schedule defers settlement until a strictly future instant.
func (t *Transaction) Schedule(until, now time.Time) error {
	if t.Status != StatusPending {
		return fmt.Errorf("%w: schedule from %s", ErrIllegalState, t.Status)
	}
	if !until.After(now) {
		return ErrScheduleInPast
	}
	t.Status = StatusScheduled
	t.DelayedSettlementUntil = &until
	return nil
}

// ResumeScheduled returns a due scheduled transaction to pending so the
// normal settlement flow can run.
func (t *Transaction) ResumeScheduled(now time.Time) error {
	if t.Status != StatusScheduled {
		return fmt.Errorf("%w: resume from %s", ErrIllegalState, t.Status)
	}
	if t.DelayedSettlementUntil != nil && now.Before(*t.DelayedSettlementUntil) {
		return ErrNotDue
	}
	t.Status = StatusPending
	t.DelayedSettlementUntil = nil
	return nil
}

// BeginProcessing marks a withdrawal whose external transfer was dispatched.
func (t *Transaction) BeginProcessing() error {
	if t.Status != StatusPending {
		return fmt.Errorf("%w: begin processing from %s", ErrIllegalState, t.Status)
	}
	if t.Type != TypeWithdrawal {
		return fmt.Errorf("transaction: only withdrawals enter processing")
	}
	t.Status = StatusProcessing
	return nil
}

// CompleteSettlement moves the transaction to its terminal success state and
// queues the matching terminal event: purchased for ticket purchases, a
// withdrawal-complete notification for withdrawals.
func (t *Transaction) CompleteSettlement() error {
	if t.Status != StatusPending && t.Status != StatusProcessing {
		return fmt.Errorf("%w: complete from %s", ErrIllegalState, t.Status)
	}
	t.Status = StatusCompleted
	switch t.Type {
	case TypePurchase:
		t.emit(t.ID.String(), events.TransactionPurchased{
			Amount:     t.Amount,
			UserID:     t.UserID,
			Resource:   t.Resource,
			Reference:  t.Reference,
			ResourceID: t.ResourceID,
		})
	case TypeWithdrawal:
		completedAt := time.Now().UTC()
		if raw, ok := t.Metadata[MetaCompletedAt]; ok {
			if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
				completedAt = parsed
			}
		}
		t.emit(t.Reference, notify.WithdrawalComplete(
			t.UserID, t.Amount, t.Reference, t.Metadata[MetaDest], completedAt,
		))
	}
	return nil
}

// MarkFailed fails a manual-mode withdrawal, records the failure time, and
// returns the amount (principal plus charge) the caller must credit back to
// the wallet. It queues the withdrawal-failed notification.
func (t *Transaction) MarkFailed(reason string, now time.Time) (decimal.Decimal, error) {
	if t.Status != StatusPending && t.Status != StatusProcessing {
		return decimal.Zero, fmt.Errorf("%w: fail from %s", ErrIllegalState, t.Status)
	}
	if t.Type != TypeWithdrawal || t.Metadata[MetaMode] != ModeManual {
		return decimal.Zero, ErrNotManualWithdrawal
	}
	t.Status = StatusFailed
	t.SetMetadata(MetaFailedOn, now.UTC().Format(time.RFC3339))
	refundable := t.Amount.Add(t.ChargeAmount())
	t.emit(t.Reference, notify.ManualWithdrawalFailed(
		t.UserID, t.Amount, t.ChargeAmount(), t.Reference, t.Metadata[MetaDest], reason, now,
	))
	return refundable, nil
}

// SetMetadata writes one metadata entry, allocating the map on first use.
func (t *Transaction) SetMetadata(key, value string) {
	if t.Metadata == nil {
		t.Metadata = make(map[string]string)
	}
	t.Metadata[key] = value
}

// Emit queues an arbitrary payload on the transaction's outbox under key.
func (t *Transaction) Emit(key string, payload events.Payload) {
	t.emit(key, payload)
}

func (t *Transaction) emit(key string, payload events.Payload) {
	t.events = append(t.events, events.New(key, payload))
}

// DrainEvents returns and clears the pending event outbox. Callers drain
// after the aggregate is persisted and publish what they get.
func (t *Transaction) DrainEvents() []events.Event {
	drained := t.events
	t.events = nil
	return drained
}

// PendingEvents reports how many events are queued without draining them.
func (t *Transaction) PendingEvents() int { return len(t.events) }

// Description renders the human-readable ledger line for the DTO.
func (t *Transaction) Description() string {
	switch t.Type {
	case TypePurchase:
		return "Ticket purchase"
	case TypeWalletFunding:
		return "Wallet funding"
	case TypeSale:
		return "Ticket sales"
	case TypeCommission:
		return "Commission"
	case TypeWithdrawal:
		return "Withdrawal to bank"
	}
	return string(t.Type)
}
