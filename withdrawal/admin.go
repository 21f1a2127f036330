package withdrawal

import (
	"context"
	"time"

	"gorm.io/gorm"

	"ticketpay/apperr"
	"ticketpay/core/events"
	"ticketpay/core/transaction"
	"ticketpay/storage"
)

func errInvalidStatusUpdate() error {
	return apperr.BadRequest("Failed to update transaction. Invalid status or type.")
}

// UpdateTransactionStatus is the operator path for resolving manual-mode
// withdrawals: mark one failed (refunding the wallet) or completed. Any other
// combination of status, type and current state is rejected.
func (s *Service) UpdateTransactionStatus(ctx context.Context, reference string, status transaction.Status, reason string) error {
	if status != transaction.StatusFailed && status != transaction.StatusCompleted {
		return errInvalidStatusUpdate()
	}
	var drained []events.Event
	err := s.db.Transaction(func(tx *gorm.DB) error {
		txn, err := storage.TransactionByReference(tx, reference, true)
		if err != nil {
			return err
		}
		if txn.Type != transaction.TypeWithdrawal ||
			txn.Status != transaction.StatusPending ||
			txn.Metadata[transaction.MetaMode] != transaction.ModeManual {
			return errInvalidStatusUpdate()
		}

		switch status {
		case transaction.StatusFailed:
			refund, err := txn.MarkFailed(reason, s.now())
			if err != nil {
				return err
			}
			w, err := storage.WalletByUserOrCreate(tx, txn.UserID, true)
			if err != nil {
				return err
			}
			if err := w.Deposit(refund); err != nil {
				return err
			}
			if err := storage.SaveWallet(tx, w); err != nil {
				return err
			}
		case transaction.StatusCompleted:
			txn.SetMetadata(transaction.MetaCompletedAt, s.now().Format(time.RFC3339))
			if err := txn.CompleteSettlement(); err != nil {
				return err
			}
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
		s.logger.Error("publish after status update failed",
			"reference", reference, "error", err)
	}
	return nil
}
