// Package settlement fans a settled ticket purchase out into its recipient
// splits, credits wallets from settlement children, and drives the scheduled
// (delayed) settlement worker. All flows are event-triggered and replay-safe:
// every handler re-reads its row under lock and no-ops when the state has
// already moved on.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"ticketpay/apperr"
	"ticketpay/core/events"
	"ticketpay/core/money"
	"ticketpay/core/transaction"
	"ticketpay/observability"
	"ticketpay/storage"
)

// referralRatePercent is the share of the platform fee routed to referrers.
const referralRatePercent = 12

// TicketService is the slice of the ticketing authority settlement needs.
type TicketService interface {
	MarkReservationAsPaid(ctx context.Context, reference string, amount decimal.Decimal) error
}

// UserService resolves the recipients of a settlement fan-out.
type UserService interface {
	GetEventOrganizer(ctx context.Context, slug string) (string, error)
	GetSystemUser(ctx context.Context) (string, error)
	GetReferralInfo(ctx context.Context, userID string) (string, error)
}

// Publisher pushes drained domain events onto the bus.
type Publisher interface {
	PublishAll(ctx context.Context, evts []events.Event) error
}

// WithdrawalFlow is the money-out side the event handler routes to.
type WithdrawalFlow interface {
	DispatchWithdrawal(ctx context.Context, reference string) error
	CompleteWithdraw(ctx context.Context, payload events.WithdrawSuccessful) error
}

// Config carries the settlement-relevant settings.
type Config struct {
	// Delay defers purchase settlement; zero settles immediately.
	Delay time.Duration
	// BatchSize caps one worker pass over due scheduled rows.
	BatchSize int
	// PollInterval is the worker cadence.
	PollInterval time.Duration
}

// Processor implements the settlement use cases.
type Processor struct {
	db          *gorm.DB
	tickets     TicketService
	users       UserService
	publisher   Publisher
	withdrawals WithdrawalFlow
	cfg         Config
	logger      *slog.Logger
	now         func() time.Time
}

// NewProcessor wires a settlement processor.
func NewProcessor(db *gorm.DB, tickets TicketService, users UserService, publisher Publisher, withdrawals WithdrawalFlow, cfg Config, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Minute
	}
	return &Processor{
		db:          db,
		tickets:     tickets,
		users:       users,
		publisher:   publisher,
		withdrawals: withdrawals,
		cfg:         cfg,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// SettleTicketPurchase runs the fan-out for one purchase reference. Pending
// purchases under a configured delay are scheduled instead; due scheduled
// purchases resume into the full flow; anything already past pending is a
// no-op.
func (p *Processor) SettleTicketPurchase(ctx context.Context, reference string) error {
	var drained []events.Event
	err := p.db.Transaction(func(tx *gorm.DB) error {
		txn, err := storage.TransactionByReference(tx, reference, true)
		if err != nil {
			return err
		}
		now := p.now()

		switch txn.Status {
		case transaction.StatusPending:
			if p.cfg.Delay > 0 {
				if err := txn.Schedule(now.Add(p.cfg.Delay), now); err != nil {
					return err
				}
				if err := storage.SaveTransaction(tx, txn); err != nil {
					return err
				}
				drained = txn.DrainEvents()
				return nil
			}
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

		children, err := p.fanOut(ctx, tx, txn, now)
		if err != nil {
			return err
		}
		if err := storage.SaveTransaction(tx, txn); err != nil {
			return err
		}
		drained = txn.DrainEvents()
		for _, child := range children {
			if err := storage.SaveTransaction(tx, child); err != nil {
				return err
			}
			drained = append(drained, child.DrainEvents()...)
		}
		return nil
	})
	if err != nil {
		observability.Engine().SettlementCompleted(string(transaction.TypePurchase), "error")
		return err
	}
	observability.Engine().SettlementCompleted(string(transaction.TypePurchase), "ok")
	return p.publish(ctx, reference, drained)
}

// fanOut computes and applies the recipient splits of a pending purchase.
func (p *Processor) fanOut(ctx context.Context, tx *gorm.DB, txn *transaction.Transaction, now time.Time) ([]*transaction.Transaction, error) {
	if txn.ChargeData == nil {
		return nil, apperr.BadRequest("Transaction has no charge data")
	}
	if err := p.tickets.MarkReservationAsPaid(ctx, txn.Reference, txn.Amount); err != nil {
		return nil, err
	}
	slug := txn.Metadata[transaction.MetaSlug]
	if slug == "" {
		return nil, apperr.BadRequest("Transaction has no event slug")
	}
	if txn.ChargeData.Sponsored {
		return nil, apperr.NotImplemented("Sponsored charges are not supported")
	}

	organizer, err := p.users.GetEventOrganizer(ctx, slug)
	if err != nil {
		return nil, err
	}
	recipients, err := p.resolveRecipients(ctx, organizer, txn.UserID)
	if err != nil {
		return nil, err
	}

	fee := txn.ChargeData.ChargeAmount
	organizerShare := txn.Amount.Sub(fee)
	if !organizerShare.IsPositive() {
		return nil, apperr.Malformed("Charge exceeds transaction amount").
			WithCause(fmt.Errorf("amount %s, fee %s", txn.Amount, fee))
	}
	if err := txn.AddSettlement(transaction.SettlementData{
		Amount:          organizerShare,
		RecipientUser:   organizer,
		TransactionType: transaction.TypeSale,
		Role:            transaction.RoleOrganizer,
	}); err != nil {
		return nil, err
	}

	platformShare := fee
	referrers := recipients.referrers()
	if len(referrers) > 0 {
		referralShare := money.Round2(fee.Mul(decimal.NewFromInt(referralRatePercent)).Div(decimal.NewFromInt(100)))
		if referralShare.IsPositive() {
			platformShare = fee.Sub(referralShare)
			perReferrer := referralShare
			if len(referrers) == 2 {
				perReferrer = money.Round2(referralShare.Div(decimal.NewFromInt(2)))
			}
			for _, referrer := range referrers {
				if err := txn.AddSettlement(transaction.SettlementData{
					Amount:          perReferrer,
					RecipientUser:   referrer,
					TransactionType: transaction.TypeCommission,
					Role:            transaction.RoleReferrer,
				}); err != nil {
					return nil, err
				}
			}
		}
	}
	if platformShare.IsPositive() {
		if err := txn.AddSettlement(transaction.SettlementData{
			Amount:          platformShare,
			RecipientUser:   recipients.system,
			TransactionType: transaction.TypeCommission,
			Role:            transaction.RoleSystemAdmin,
		}); err != nil {
			return nil, err
		}
	}

	children, err := txn.CreateSettlementChildren(now)
	if err != nil {
		return nil, err
	}
	if err := txn.CompleteSettlement(); err != nil {
		return nil, err
	}
	return children, nil
}

type settlementRecipients struct {
	system            string
	organizerReferrer string
	buyerReferrer     string
}

// referrers lists the distinct non-empty referrer ids, organizer's first.
func (r settlementRecipients) referrers() []string {
	var out []string
	if r.organizerReferrer != "" {
		out = append(out, r.organizerReferrer)
	}
	if r.buyerReferrer != "" && r.buyerReferrer != r.organizerReferrer {
		out = append(out, r.buyerReferrer)
	}
	return out
}

// resolveRecipients fetches the system user and both referral chains in
// parallel; all three must succeed.
func (p *Processor) resolveRecipients(ctx context.Context, organizer, buyer string) (settlementRecipients, error) {
	var (
		wg                       sync.WaitGroup
		recipients               settlementRecipients
		sysErr, orgErr, buyerErr error
	)
	wg.Add(3)
	go func() {
		defer wg.Done()
		recipients.system, sysErr = p.users.GetSystemUser(ctx)
	}()
	go func() {
		defer wg.Done()
		recipients.organizerReferrer, orgErr = p.users.GetReferralInfo(ctx, organizer)
	}()
	go func() {
		defer wg.Done()
		recipients.buyerReferrer, buyerErr = p.users.GetReferralInfo(ctx, buyer)
	}()
	wg.Wait()
	if err := errors.Join(sysErr, orgErr, buyerErr); err != nil {
		return settlementRecipients{}, err
	}
	if recipients.system == "" {
		return settlementRecipients{}, apperr.Internal("Something went wrong, try again later").
			WithCause(errors.New("settlement: empty system user"))
	}
	return recipients, nil
}

func (p *Processor) publish(ctx context.Context, reference string, drained []events.Event) error {
	if len(drained) == 0 {
		return nil
	}
	if err := p.publisher.PublishAll(ctx, drained); err != nil {
		// State is committed; replay of the triggering event re-runs the
		// (idempotent) flow and republishes.
		p.logger.Error("publish after settlement failed", "reference", reference, "error", err)
	}
	return nil
}
