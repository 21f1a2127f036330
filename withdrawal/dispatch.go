package withdrawal

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"ticketpay/apperr"
	"ticketpay/core/events"
	"ticketpay/core/transaction"
	"ticketpay/notify"
	"ticketpay/observability"
	"ticketpay/storage"
)

// DispatchWithdrawal moves a pending withdrawal towards the user's bank. In
// manual mode the row is annotated and the operator notified; in automatic
// mode the provider transfer is created and the row enters processing.
// Already-dispatched or non-pending rows are replay no-ops.
func (s *Service) DispatchWithdrawal(ctx context.Context, reference string) error {
	var (
		drained []events.Event
		mode    string
	)
	err := s.db.Transaction(func(tx *gorm.DB) error {
		txn, err := storage.TransactionByReference(tx, reference, true)
		if err != nil {
			return err
		}
		if txn.Type != transaction.TypeWithdrawal {
			return fmt.Errorf("withdrawal: cannot dispatch %s transaction %s", txn.Type, reference)
		}
		if txn.Status != transaction.StatusPending {
			return nil
		}
		if txn.Metadata[transaction.MetaMode] != "" || txn.Metadata[transaction.MetaRecipientID] != "" {
			return nil
		}

		w, err := storage.WalletByUserOrCreate(tx, txn.UserID, false)
		if err != nil {
			return err
		}
		if w.BankDetails == nil {
			return apperr.BadRequest("No bank details on file for withdrawal")
		}
		bank := *w.BankDetails

		if !s.cfg.AutoWithdrawalEnabled {
			mode = transaction.ModeManual
			txn.SetMetadata(transaction.MetaMode, transaction.ModeManual)
			txn.SetMetadata(transaction.MetaDest, bank.Dest())
			admin, user := notify.ManualWithdrawalInitiated(
				txn.UserID, txn.Amount, txn.ChargeAmount(), txn.Reference, bank.Dest(), s.now())
			txn.Emit(txn.Reference, admin)
			txn.Emit(txn.Reference, user)
			if err := storage.SaveTransaction(tx, txn); err != nil {
				return err
			}
			drained = txn.DrainEvents()
			return nil
		}

		mode = "auto"
		recipientCode, err := s.provider.CreateRecipient(ctx, bank.AccountName, bank.AccountNumber, bank.BankCode)
		if err != nil {
			return apperr.Unavailable("Could not reach the payment provider, try again later").WithCause(err)
		}
		if _, err := s.provider.Transfer(ctx, txn.Amount, recipientCode, txn.Reference, "Wallet withdrawal"); err != nil {
			return apperr.Unavailable("Could not reach the payment provider, try again later").WithCause(err)
		}
		if err := txn.BeginProcessing(); err != nil {
			return err
		}
		txn.SetMetadata(transaction.MetaRecipientID, recipientCode)
		txn.SetMetadata(transaction.MetaDest, bank.Dest())
		if err := storage.SaveTransaction(tx, txn); err != nil {
			return err
		}
		drained = txn.DrainEvents()
		return nil
	})
	if err != nil {
		if mode != "" {
			observability.Engine().WithdrawalSubmitted(mode, "error")
		}
		return err
	}
	if mode != "" {
		observability.Engine().WithdrawalSubmitted(mode, "ok")
	}
	if err := s.publisher.PublishAll(ctx, drained); err != nil {
		s.logger.Error("publish after withdrawal dispatch failed",
			"reference", reference, "error", err)
	}
	return nil
}

// CompleteWithdraw finalises a withdrawal once the provider confirms the
// transfer. Replays of an already-completed withdrawal are no-ops; an amount
// mismatch is rejected so a partial transfer can never settle the row.
func (s *Service) CompleteWithdraw(ctx context.Context, payload events.WithdrawSuccessful) error {
	var drained []events.Event
	err := s.db.Transaction(func(tx *gorm.DB) error {
		txn, err := storage.TransactionByReference(tx, payload.Ref, true)
		if err != nil {
			return err
		}
		if txn.Type != transaction.TypeWithdrawal {
			return apperr.BadRequest("Failed to update transaction. Invalid status or type.")
		}
		if txn.Status == transaction.StatusCompleted {
			return nil
		}
		if txn.Status != transaction.StatusPending && txn.Status != transaction.StatusProcessing {
			return apperr.BadRequest("Failed to update transaction. Invalid status or type.")
		}
		if !txn.Amount.Equal(payload.Amount) {
			return apperr.BadRequest("Transfer amount does not match the withdrawal").
				WithCause(fmt.Errorf("transaction %s, transfer %s", txn.Amount, payload.Amount))
		}

		if payload.Dest != "" {
			txn.SetMetadata(transaction.MetaDest, payload.Dest)
		}
		if payload.Date != "" {
			txn.SetMetadata(transaction.MetaCompletedAt, payload.Date)
		}
		if err := txn.CompleteSettlement(); err != nil {
			return err
		}
		if err := storage.SaveTransaction(tx, txn); err != nil {
			return err
		}
		drained = txn.DrainEvents()
		return nil
	})
	if err != nil {
		return err
	}
	if err := s.publisher.PublishAll(ctx, drained); err != nil {
		s.logger.Error("publish after withdrawal completion failed",
			"reference", payload.Ref, "error", err)
	}
	return nil
}
