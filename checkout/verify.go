package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"ticketpay/apperr"
	"ticketpay/core/signing"
	"ticketpay/core/transaction"
	"ticketpay/paystack"
	"ticketpay/storage"
)

// VerifyTicketPurchase confirms a provider payment for a ticket and mints the
// purchase ledger entry. Safe to replay: a known reference short-circuits to
// the already-persisted transaction.
func (s *Service) VerifyTicketPurchase(ctx context.Context, userID, reference string) (*transaction.Transaction, error) {
	existing, err := storage.TransactionByReferenceOrNil(s.db, reference, false)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	provider, residual, err := s.verifiedProviderTransaction(ctx, reference)
	if err != nil {
		return nil, err
	}
	if asString(residual["slug"]) == "" {
		return nil, errMalformedTransaction(errors.New("metadata missing slug"))
	}
	if asString(residual["user"]) != userID {
		return nil, apperr.Forbidden("Cannot validate transaction initiated by another user")
	}
	chargeData, err := chargeDataFromMetadata(residual)
	if err != nil {
		return nil, errMalformedTransaction(err)
	}

	txn, err := transaction.New(transaction.NewParams{
		Reference:  reference,
		Amount:     provider.Amount,
		UserID:     userID,
		Resource:   transaction.ResourceTicket,
		ResourceID: asString(residual["ticket_type_id"]),
		Source:     transaction.SourcePaymentProvider,
		Type:       transaction.TypePurchase,
		ChargeData: chargeData,
		Metadata:   stringifyMetadata(residual),
		OccurredOn: s.now(),
	})
	if err != nil {
		return nil, errMalformedTransaction(err)
	}
	return txn, s.persistAndPublish(ctx, txn)
}

// VerifyDeposit confirms a provider payment for a wallet top-up. The credited
// amount is the provider amount net of the platform charge; the actual wallet
// credit happens when the settlement handler funds the account.
func (s *Service) VerifyDeposit(ctx context.Context, userID, reference string) (*transaction.Transaction, error) {
	existing, err := storage.TransactionByReferenceOrNil(s.db, reference, false)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	provider, residual, err := s.verifiedProviderTransaction(ctx, reference)
	if err != nil {
		return nil, err
	}
	if asString(residual["user"]) != userID {
		return nil, apperr.Forbidden("Cannot validate transaction initiated by another user")
	}
	chargeData, err := chargeDataFromMetadata(residual)
	if err != nil {
		return nil, errMalformedTransaction(err)
	}
	credit := provider.Amount.Sub(chargeData.ChargeAmount)
	if !credit.IsPositive() {
		return nil, errMalformedTransaction(fmt.Errorf("provider amount %s does not cover charge %s",
			provider.Amount, chargeData.ChargeAmount))
	}

	w, err := storage.WalletByUserOrCreate(s.db, userID, false)
	if err != nil {
		return nil, err
	}
	txn, err := transaction.New(transaction.NewParams{
		Reference:  reference,
		Amount:     credit,
		UserID:     userID,
		Resource:   transaction.ResourceWalletFunding,
		ResourceID: w.ID.String(),
		Source:     transaction.SourcePaymentProvider,
		Type:       transaction.TypeWalletFunding,
		ChargeData: chargeData,
		Metadata:   stringifyMetadata(residual),
		OccurredOn: s.now(),
	})
	if err != nil {
		return nil, errMalformedTransaction(err)
	}
	return txn, s.persistAndPublish(ctx, txn)
}

// verifiedProviderTransaction fetches the provider transaction, requires
// success, and authenticates the metadata: the signature is popped, the
// provider-injected referrer dropped, and the remainder must hash back to the
// signature. The returned residual keeps the signature for the ledger row.
func (s *Service) verifiedProviderTransaction(ctx context.Context, reference string) (*paystack.ProviderTransaction, map[string]any, error) {
	provider, err := s.provider.ValidTransaction(ctx, reference)
	if err != nil {
		if errors.Is(err, paystack.ErrTransactionNotSuccessful) {
			return nil, nil, apperr.BadRequest("Transaction was not successful").WithCause(err)
		}
		return nil, nil, apperr.Unavailable("Could not reach the payment provider, try again later").WithCause(err)
	}
	if len(provider.Metadata) == 0 {
		return nil, nil, errMalformedTransaction(errors.New("provider transaction has no metadata"))
	}

	residual := make(map[string]any, len(provider.Metadata))
	for k, v := range provider.Metadata {
		if k == "referrer" {
			continue
		}
		residual[k] = v
	}
	signature := asString(residual[signing.SignatureField])
	if signature == "" {
		return nil, nil, errMalformedTransaction(errors.New("metadata missing signature"))
	}
	unsigned := make(map[string]any, len(residual))
	for k, v := range residual {
		if k == signing.SignatureField {
			continue
		}
		unsigned[k] = v
	}
	ok, err := signing.Verify(unsigned, s.cfg.ChargeReqKey, signature)
	if err != nil {
		return nil, nil, errMalformedTransaction(err)
	}
	if !ok {
		return nil, nil, errMalformedTransaction(errors.New("metadata signature mismatch"))
	}
	return provider, residual, nil
}

func (s *Service) persistAndPublish(ctx context.Context, txn *transaction.Transaction) error {
	err := s.db.Transaction(func(tx *gorm.DB) error {
		return storage.SaveTransaction(tx, txn)
	})
	if err != nil {
		return err
	}
	if err := s.publisher.PublishAll(ctx, txn.DrainEvents()); err != nil {
		// The row is committed; settlement catches up when the event is
		// replayed or the row is picked up operationally.
		s.logger.Error("publish after checkout verification failed",
			"reference", txn.Reference, "error", err)
	}
	return nil
}

func asString(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func chargeDataFromMetadata(metadata map[string]any) (*transaction.ChargeData, error) {
	settingID, err := uuid.Parse(asString(metadata["charge_setting_id"]))
	if err != nil {
		return nil, fmt.Errorf("metadata charge_setting_id: %w", err)
	}
	versionID, err := uuid.Parse(asString(metadata["version_id"]))
	if err != nil {
		return nil, fmt.Errorf("metadata version_id: %w", err)
	}
	versionNumber, err := asInt(metadata["version_number"])
	if err != nil {
		return nil, fmt.Errorf("metadata version_number: %w", err)
	}
	fee, err := decimal.NewFromString(asString(metadata["calculated_charge"]))
	if err != nil {
		return nil, fmt.Errorf("metadata calculated_charge: %w", err)
	}
	sponsored, _ := metadata["sponsored"].(bool)
	return &transaction.ChargeData{
		ChargeSettingID: settingID,
		VersionID:       versionID,
		VersionNumber:   versionNumber,
		ChargeAmount:    fee,
		Sponsored:       sponsored,
	}, nil
}

func asInt(value any) (int, error) {
	switch v := value.(type) {
	case json.Number:
		parsed, err := v.Int64()
		return int(parsed), err
	case int:
		return v, nil
	case float64:
		return int(v), nil
	}
	return 0, fmt.Errorf("cannot read %T as int", value)
}

func stringifyMetadata(metadata map[string]any) map[string]string {
	out := make(map[string]string, len(metadata))
	for k, v := range metadata {
		switch value := v.(type) {
		case bool:
			if value {
				out[k] = "true"
			} else {
				out[k] = "false"
			}
		default:
			out[k] = asString(v)
		}
	}
	return out
}
