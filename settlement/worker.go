package settlement

import (
	"context"
	"time"

	"ticketpay/core/transaction"
	"ticketpay/storage"
)

// ProcessDueSettlements runs one worker pass: it picks up to BatchSize due
// scheduled transactions and routes each through its settlement flow. Errors
// are logged per row and do not abort the batch. Returns the number of rows
// settled without error.
func (p *Processor) ProcessDueSettlements(ctx context.Context) int {
	due, err := storage.FindDueScheduled(p.db, p.now(), p.cfg.BatchSize)
	if err != nil {
		p.logger.Error("scheduled settlement scan failed", "error", err)
		return 0
	}
	processed := 0
	for _, txn := range due {
		var err error
		switch txn.Type {
		case transaction.TypePurchase:
			err = p.SettleTicketPurchase(ctx, txn.Reference)
		case transaction.TypeSale, transaction.TypeCommission, transaction.TypeWalletFunding:
			err = p.FundAccountFromTxn(ctx, txn.Reference)
		default:
			p.logger.Warn("scheduled transaction of unexpected type",
				"reference", txn.Reference, "type", txn.Type)
			continue
		}
		if err != nil {
			p.logger.Error("scheduled settlement failed",
				"reference", txn.Reference, "type", txn.Type, "error", err)
			continue
		}
		processed++
	}
	return processed
}

// Run drives the scheduled-settlement worker until ctx is cancelled.
func (p *Processor) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()
	p.logger.Info("scheduled settlement worker started",
		"interval", p.cfg.PollInterval, "batch_size", p.cfg.BatchSize)
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("scheduled settlement worker stopped")
			return ctx.Err()
		case <-ticker.C:
			if n := p.ProcessDueSettlements(ctx); n > 0 {
				p.logger.Info("scheduled settlements processed", "count", n)
			}
		}
	}
}
