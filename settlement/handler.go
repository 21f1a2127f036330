package settlement

import (
	"context"
	"fmt"

	"ticketpay/bus"
	"ticketpay/core/events"
	"ticketpay/core/transaction"
)

// Subscribe registers the settlement pipeline on the consumer.
func (p *Processor) Subscribe(consumer *bus.Consumer) {
	consumer.Subscribe(events.TypeTransactionCreated, p.HandleTransactionCreated)
	consumer.Subscribe(events.TypeWithdrawSuccessful, p.HandleWithdrawSuccessful)
}

// HandleTransactionCreated routes a freshly created ledger entry to its
// settlement flow by transaction type. Unroutable entries are an error so the
// message is never committed silently.
func (p *Processor) HandleTransactionCreated(ctx context.Context, evt *events.Event) error {
	payload, ok := evt.Payload.(events.TransactionCreated)
	if !ok {
		return fmt.Errorf("settlement: unexpected payload %T on %s", evt.Payload, evt.EventType)
	}
	switch transaction.Type(payload.TransactionType) {
	case transaction.TypePurchase:
		if payload.Resource != transaction.ResourceTicket {
			return fmt.Errorf("settlement: purchase of unsupported resource %q", payload.Resource)
		}
		return p.SettleTicketPurchase(ctx, payload.Reference)
	case transaction.TypeSale, transaction.TypeCommission, transaction.TypeWalletFunding:
		return p.FundAccountFromTxn(ctx, payload.Reference)
	case transaction.TypeWithdrawal:
		return p.withdrawals.DispatchWithdrawal(ctx, payload.Reference)
	}
	return fmt.Errorf("settlement: no route for transaction type %q", payload.TransactionType)
}

// HandleWithdrawSuccessful finalises a withdrawal after the provider confirms
// the transfer.
func (p *Processor) HandleWithdrawSuccessful(ctx context.Context, evt *events.Event) error {
	payload, ok := evt.Payload.(events.WithdrawSuccessful)
	if !ok {
		return fmt.Errorf("settlement: unexpected payload %T on %s", evt.Payload, evt.EventType)
	}
	return p.withdrawals.CompleteWithdraw(ctx, payload)
}
