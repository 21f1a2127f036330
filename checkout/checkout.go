// Package checkout covers the money-in side of the engine: fee quoting with
// signed charge tokens, provider checkout link creation for ticket purchases
// and wallet deposits, and the post-payment verification that mints the
// ledger entry.
package checkout

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"ticketpay/apperr"
	"ticketpay/core/charge"
	"ticketpay/core/events"
	"ticketpay/core/signing"
	"ticketpay/paystack"
	"ticketpay/storage"
)

// TicketService is the slice of the ticketing authority checkout needs.
type TicketService interface {
	GetTicketPrice(ctx context.Context, ticketTypeID string) (decimal.Decimal, error)
	CheckReservation(ctx context.Context, reservationID string) (bool, string, error)
}

// UserService resolves contact emails for deposit checkouts.
type UserService interface {
	GetEmail(ctx context.Context, userID string) (string, error)
}

// Provider is the payment adapter surface checkout uses.
type Provider interface {
	Initialize(ctx context.Context, req paystack.InitializeRequest) (string, error)
	ValidTransaction(ctx context.Context, reference string) (*paystack.ProviderTransaction, error)
}

// Publisher pushes drained domain events onto the bus.
type Publisher interface {
	PublishAll(ctx context.Context, evts []events.Event) error
}

// Config carries the checkout-relevant settings.
type Config struct {
	ChargeReqKey       string
	MaxWalletBalance   decimal.Decimal
	TicketCallbackURL  string
	DepositCallbackURL string
}

// Service implements the checkout use cases.
type Service struct {
	db        *gorm.DB
	tickets   TicketService
	users     UserService
	provider  Provider
	publisher Publisher
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time
}

// NewService wires a checkout service.
func NewService(db *gorm.DB, tickets TicketService, users UserService, provider Provider, publisher Publisher, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		db:        db,
		tickets:   tickets,
		users:     users,
		provider:  provider,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Quote is a signed fee quote handed to a client. The signature binds the
// quote to the user so the fee cannot be downgraded on the way back.
type Quote struct {
	BaseAmount       decimal.Decimal `json:"base_amount"`
	ChargeSettingID  uuid.UUID       `json:"charge_setting_id"`
	VersionID        uuid.UUID       `json:"version_id"`
	VersionNumber    int             `json:"version_number"`
	CalculatedCharge decimal.Decimal `json:"calculated_charge"`
	Signature        string          `json:"signature"`
}

func errCouldNotGenerateCharge(cause error) error {
	return apperr.New(http.StatusInternalServerError, "could_not_generate_charge",
		"Could not generate charge, try again later").WithCause(cause)
}

// errInvalidRequest is the uniform rejection for a quote that fails its
// signature check.
func errInvalidRequest() error {
	return apperr.BadRequest("Invalid or malformed request")
}

func errMalformedTransaction(cause error) error {
	return apperr.Malformed("Malformed transaction. Please contact support").WithCause(cause)
}

func (s *Service) quoteFor(chargeType string, base decimal.Decimal) (charge.Breakdown, error) {
	setting, err := storage.SettingByType(s.db, chargeType)
	if err != nil {
		return charge.Breakdown{}, errCouldNotGenerateCharge(err)
	}
	version, err := storage.CurrentVersion(s.db, setting.ChargeSettingID, s.now())
	if err != nil {
		return charge.Breakdown{}, errCouldNotGenerateCharge(err)
	}
	breakdown, err := charge.Quote(*version, base)
	if err != nil {
		return charge.Breakdown{}, errCouldNotGenerateCharge(err)
	}
	return breakdown, nil
}

// corePayload is the signed shape every charge token shares. Amounts travel
// as fixed two-decimal strings so the digest survives a JSON round trip
// through the provider's metadata echo.
func corePayload(settingID, versionID uuid.UUID, versionNumber int, base, fee decimal.Decimal) map[string]any {
	return map[string]any{
		"base_amount":       base.StringFixed(2),
		"charge_setting_id": settingID.String(),
		"version_id":        versionID.String(),
		"version_number":    versionNumber,
		"calculated_charge": fee.StringFixed(2),
	}
}

func (s *Service) signedQuote(b charge.Breakdown, extra map[string]any) (*Quote, error) {
	payload := corePayload(b.ChargeSettingID, b.VersionID, b.VersionNumber, b.BaseAmount, b.CalculatedCharge)
	for k, v := range extra {
		payload[k] = v
	}
	signature, err := signing.Sign(payload, s.cfg.ChargeReqKey)
	if err != nil {
		return nil, errCouldNotGenerateCharge(err)
	}
	return &Quote{
		BaseAmount:       b.BaseAmount,
		ChargeSettingID:  b.ChargeSettingID,
		VersionID:        b.VersionID,
		VersionNumber:    b.VersionNumber,
		CalculatedCharge: b.CalculatedCharge,
		Signature:        signature,
	}, nil
}

// TicketPurchaseCharge quotes the fee for one ticket of the given type. The
// token binds user, ticket type and event so the checkout step can recompute
// and compare.
func (s *Service) TicketPurchaseCharge(ctx context.Context, userID, ticketTypeID, slug string) (*Quote, error) {
	price, err := s.tickets.GetTicketPrice(ctx, ticketTypeID)
	if err != nil {
		return nil, err
	}
	breakdown, err := s.quoteFor(charge.TypeTicketPurchase, price)
	if err != nil {
		return nil, err
	}
	return s.signedQuote(breakdown, map[string]any{
		"user":        userID,
		"ticket_type": ticketTypeID,
		"event":       slug,
	})
}

// InstantWithdrawalCharge quotes the fee for moving amount out of a wallet.
// The same token shape backs deposits, which share the user-bound core.
func (s *Service) InstantWithdrawalCharge(ctx context.Context, userID string, amount decimal.Decimal) (*Quote, error) {
	if !amount.IsPositive() {
		return nil, apperr.BadRequest("Amount must be greater than zero")
	}
	breakdown, err := s.quoteFor(charge.TypeInstantWithdrawal, amount)
	if err != nil {
		return nil, err
	}
	return s.signedQuote(breakdown, map[string]any{"user": userID})
}
