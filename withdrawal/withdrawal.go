// Package withdrawal covers the money-out side of the engine: wallet-backed
// withdrawal submission, external bank transfer dispatch (automatic or
// manual), webhook-driven completion, and the operator path for resolving
// manual withdrawals.
package withdrawal

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"ticketpay/apperr"
	"ticketpay/core/events"
	"ticketpay/core/signing"
	"ticketpay/core/transaction"
	"ticketpay/storage"
)

// Provider is the payment adapter surface withdrawals use.
type Provider interface {
	CreateRecipient(ctx context.Context, name, accountNumber, bankCode string) (string, error)
	Transfer(ctx context.Context, amount decimal.Decimal, recipientCode, reference, reason string) (string, error)
}

// Publisher pushes drained domain events onto the bus.
type Publisher interface {
	PublishAll(ctx context.Context, evts []events.Event) error
}

// Config carries the withdrawal-relevant settings.
type Config struct {
	ChargeReqKey string
	// AutoWithdrawalEnabled dispatches transfers through the provider; when
	// off, withdrawals wait in manual mode for an operator.
	AutoWithdrawalEnabled bool
}

// Service implements the withdrawal use cases.
type Service struct {
	db        *gorm.DB
	provider  Provider
	publisher Publisher
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time
}

// NewService wires a withdrawal service.
func NewService(db *gorm.DB, provider Provider, publisher Publisher, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		db:        db,
		provider:  provider,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SubmitRequest carries an instant-withdrawal quote back with the amount to
// move.
type SubmitRequest struct {
	Amount           decimal.Decimal `json:"amount"`
	ChargeSettingID  uuid.UUID       `json:"charge_setting_id"`
	VersionID        uuid.UUID       `json:"version_id"`
	VersionNumber    int             `json:"version_number"`
	CalculatedCharge decimal.Decimal `json:"calculated_charge"`
	Signature        string          `json:"signature"`
}

// SubmitWithdrawal debits the wallet by amount plus charge and mints the
// pending withdrawal ledger entry; the bank transfer itself is dispatched by
// the event handler.
func (s *Service) SubmitWithdrawal(ctx context.Context, userID string, req SubmitRequest) (*transaction.Transaction, error) {
	var (
		txn     *transaction.Transaction
		drained []events.Event
	)
	err := s.db.Transaction(func(tx *gorm.DB) error {
		w, err := storage.WalletByUserOrCreate(tx, userID, true)
		if err != nil {
			return err
		}
		total := req.Amount.Add(req.CalculatedCharge)
		if !w.CanWithdraw(total) {
			return apperr.BadRequest("Insufficient balance")
		}

		payload := map[string]any{
			"base_amount":       req.Amount.StringFixed(2),
			"charge_setting_id": req.ChargeSettingID.String(),
			"version_id":        req.VersionID.String(),
			"version_number":    req.VersionNumber,
			"calculated_charge": req.CalculatedCharge.StringFixed(2),
			"user":              userID,
		}
		ok, err := signing.Verify(payload, s.cfg.ChargeReqKey, req.Signature)
		if err != nil || !ok {
			return apperr.BadRequest("Invalid or malformed request")
		}

		txn, err = transaction.New(transaction.NewParams{
			Amount:   req.Amount,
			UserID:   userID,
			Resource: transaction.ResourceWithdrawal,
			Source:   transaction.SourceWallet,
			Type:     transaction.TypeWithdrawal,
			ChargeData: &transaction.ChargeData{
				ChargeSettingID: req.ChargeSettingID,
				VersionID:       req.VersionID,
				VersionNumber:   req.VersionNumber,
				ChargeAmount:    req.CalculatedCharge,
			},
			OccurredOn: s.now(),
		})
		if err != nil {
			return err
		}
		if err := w.Withdraw(total); err != nil {
			return apperr.BadRequest("Insufficient balance").WithCause(err)
		}
		if err := storage.SaveTransaction(tx, txn); err != nil {
			return err
		}
		if err := storage.SaveWallet(tx, w); err != nil {
			return err
		}
		drained = txn.DrainEvents()
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := s.publisher.PublishAll(ctx, drained); err != nil {
		s.logger.Error("publish after withdrawal submission failed",
			"reference", txn.Reference, "error", err)
	}
	return txn, nil
}
