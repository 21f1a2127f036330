package settlement

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"ticketpay/core/events"
	"ticketpay/core/transaction"
	"ticketpay/observability"
	"ticketpay/storage"
)

// fundableTypes are the child (and deposit) transaction types that land in a
// wallet.
func fundable(t transaction.Type) bool {
	switch t {
	case transaction.TypeSale, transaction.TypeCommission, transaction.TypeWalletFunding:
		return true
	}
	return false
}

// FundAccountFromTxn credits the recipient wallet of a settlement child or a
// verified deposit and completes it. Pending rows are funded; scheduled rows
// are resumed when due; anything else is a replay no-op.
func (p *Processor) FundAccountFromTxn(ctx context.Context, reference string) error {
	var (
		drained []events.Event
		funded  bool
	)
	err := p.db.Transaction(func(tx *gorm.DB) error {
		txn, err := storage.TransactionByReference(tx, reference, true)
		if err != nil {
			return err
		}
		if !fundable(txn.Type) {
			return fmt.Errorf("settlement: cannot fund %s transaction %s", txn.Type, reference)
		}
		now := p.now()

		switch txn.Status {
		case transaction.StatusPending:
		case transaction.StatusScheduled:
			if txn.DelayedSettlementUntil != nil && now.Before(*txn.DelayedSettlementUntil) {
				return nil
			}
			if err := txn.ResumeScheduled(now); err != nil {
				return err
			}
		default:
			return nil
		}

		w, err := storage.WalletByUserOrCreate(tx, txn.UserID, true)
		if err != nil {
			return err
		}
		if err := w.Deposit(txn.Amount); err != nil {
			return err
		}
		if err := txn.CompleteSettlement(); err != nil {
			return err
		}
		key := txn.ID.String()
		if txn.ParentID != nil {
			key = txn.ParentID.String()
		}
		txn.Emit(key, events.WalletFunded{
			Amount:          txn.Amount,
			UserID:          txn.UserID,
			TransactionType: string(txn.Type),
			TransactionID:   txn.ID,
		})
		if err := storage.SaveWallet(tx, w); err != nil {
			return err
		}
		if err := storage.SaveTransaction(tx, txn); err != nil {
			return err
		}
		drained = txn.DrainEvents()
		funded = true
		return nil
	})
	if err != nil {
		observability.Engine().SettlementCompleted("fund", "error")
		return err
	}
	if funded {
		observability.Engine().SettlementCompleted("fund", "ok")
	}
	return p.publish(ctx, reference, drained)
}
