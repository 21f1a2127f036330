package checkout

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"ticketpay/apperr"
	"ticketpay/core/signing"
	"ticketpay/core/transaction"
	"ticketpay/core/wallet"
	"ticketpay/paystack"
	"ticketpay/storage"
)

// TicketCheckoutRequest carries a previously issued ticket-purchase quote
// back together with the reservation it pays for.
type TicketCheckoutRequest struct {
	TicketTypeID     string          `json:"ticket_type_id"`
	ReservationID    string          `json:"reservation_id"`
	Slug             string          `json:"slug"`
	Quantity         int             `json:"quantity"`
	Email            string          `json:"email"`
	ChargeSettingID  uuid.UUID       `json:"charge_setting_id"`
	VersionID        uuid.UUID       `json:"version_id"`
	VersionNumber    int             `json:"version_number"`
	CalculatedCharge decimal.Decimal `json:"calculated_charge"`
	Signature        string          `json:"signature"`
}

// CreateTicketCheckout validates the quote and reservation, then creates a
// provider checkout link whose metadata carries the signed charge context the
// verification step will need.
func (s *Service) CreateTicketCheckout(ctx context.Context, userID string, req TicketCheckoutRequest) (string, error) {
	if req.Quantity < 1 {
		return "", apperr.BadRequest("Quantity must be at least 1")
	}
	if req.Email == "" {
		return "", apperr.BadRequest("Email is required")
	}

	// The price is never trusted from the client; it is recomputed and must
	// hash to the signature issued with the quote.
	price, err := s.tickets.GetTicketPrice(ctx, req.TicketTypeID)
	if err != nil {
		return "", err
	}
	payload := corePayload(req.ChargeSettingID, req.VersionID, req.VersionNumber, price, req.CalculatedCharge)
	payload["user"] = userID
	payload["ticket_type"] = req.TicketTypeID
	payload["event"] = req.Slug
	ok, err := signing.Verify(payload, s.cfg.ChargeReqKey, req.Signature)
	if err != nil || !ok {
		return "", errInvalidRequest()
	}

	valid, reason, err := s.tickets.CheckReservation(ctx, req.ReservationID)
	if err != nil {
		return "", err
	}
	if !valid {
		return "", apperr.BadRequest(reason)
	}

	metadata := map[string]any{
		"charge_setting_id": req.ChargeSettingID.String(),
		"version_id":        req.VersionID.String(),
		"version_number":    req.VersionNumber,
		"calculated_charge": req.CalculatedCharge.StringFixed(2),
		"ticket_type_id":    req.TicketTypeID,
		"slug":              req.Slug,
		"sponsored":         false,
		"user":              userID,
		"quantity":          req.Quantity,
	}
	signature, err := signing.Sign(metadata, s.cfg.ChargeReqKey)
	if err != nil {
		return "", apperr.Internal("Something went wrong, try again later").WithCause(err)
	}
	metadata[signing.SignatureField] = signature

	total := price.Mul(decimal.NewFromInt(int64(req.Quantity))).Add(req.CalculatedCharge)
	link, err := s.provider.Initialize(ctx, paystack.InitializeRequest{
		Email:       req.Email,
		Amount:      total,
		Reference:   transaction.NewReference(),
		CallbackURL: s.cfg.TicketCallbackURL,
		Metadata:    metadata,
	})
	if err != nil {
		return "", apperr.Unavailable("Could not reach the payment provider, try again later").WithCause(err)
	}
	return link, nil
}

// DepositCheckoutRequest carries a user-bound quote back together with the
// amount to credit.
type DepositCheckoutRequest struct {
	Amount           decimal.Decimal `json:"amount"`
	ChargeSettingID  uuid.UUID       `json:"charge_setting_id"`
	VersionID        uuid.UUID       `json:"version_id"`
	VersionNumber    int             `json:"version_number"`
	CalculatedCharge decimal.Decimal `json:"calculated_charge"`
	Signature        string          `json:"signature"`
}

// CreateDepositCheckout creates a provider checkout link that tops up the
// caller's wallet.
func (s *Service) CreateDepositCheckout(ctx context.Context, userID string, req DepositCheckoutRequest) (string, error) {
	w, err := storage.WalletByUserOrCreate(s.db, userID, false)
	if err != nil {
		return "", err
	}
	if err := w.ConfirmCanDeposit(req.Amount, s.cfg.MaxWalletBalance); err != nil {
		switch {
		case errors.Is(err, wallet.ErrInvalidAmount):
			return "", apperr.BadRequest("Amount must be greater than zero")
		case errors.Is(err, wallet.ErrBalanceLimit):
			return "", apperr.BadRequest("Deposit would exceed the maximum wallet balance")
		}
		return "", err
	}

	payload := corePayload(req.ChargeSettingID, req.VersionID, req.VersionNumber, req.Amount, req.CalculatedCharge)
	payload["user"] = userID
	ok, err := signing.Verify(payload, s.cfg.ChargeReqKey, req.Signature)
	if err != nil || !ok {
		return "", errInvalidRequest()
	}

	email, err := s.users.GetEmail(ctx, userID)
	if err != nil {
		return "", err
	}

	metadata := map[string]any{
		"charge_setting_id": req.ChargeSettingID.String(),
		"version_id":        req.VersionID.String(),
		"version_number":    req.VersionNumber,
		"calculated_charge": req.CalculatedCharge.StringFixed(2),
		"sponsored":         false,
		"user":              userID,
	}
	signature, err := signing.Sign(metadata, s.cfg.ChargeReqKey)
	if err != nil {
		return "", apperr.Internal("Something went wrong, try again later").WithCause(err)
	}
	metadata[signing.SignatureField] = signature

	link, err := s.provider.Initialize(ctx, paystack.InitializeRequest{
		Email:       email,
		Amount:      req.Amount.Add(req.CalculatedCharge),
		Reference:   transaction.NewReference(),
		CallbackURL: s.cfg.DepositCallbackURL,
		Metadata:    metadata,
	})
	if err != nil {
		return "", apperr.Unavailable("Could not reach the payment provider, try again later").WithCause(err)
	}
	return link, nil
}
