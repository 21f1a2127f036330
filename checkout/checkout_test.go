package checkout

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"ticketpay/apperr"
	"ticketpay/core/charge"
	"ticketpay/core/events"
	"ticketpay/core/signing"
	"ticketpay/core/transaction"
	"ticketpay/paystack"
	"ticketpay/storage"
)

const testChargeKey = "charge-req-key"

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fakeTickets struct {
	price       decimal.Decimal
	priceErr    error
	reservation bool
	reason      string
}

func (f *fakeTickets) GetTicketPrice(context.Context, string) (decimal.Decimal, error) {
	return f.price, f.priceErr
}

func (f *fakeTickets) CheckReservation(context.Context, string) (bool, string, error) {
	return f.reservation, f.reason, nil
}

type fakeUsers struct{ email string }

func (f *fakeUsers) GetEmail(context.Context, string) (string, error) { return f.email, nil }

type fakeProvider struct {
	lastInit paystack.InitializeRequest
	link     string
	txn      *paystack.ProviderTransaction
	err      error
}

func (f *fakeProvider) Initialize(_ context.Context, req paystack.InitializeRequest) (string, error) {
	f.lastInit = req
	return f.link, nil
}

func (f *fakeProvider) ValidTransaction(context.Context, string) (*paystack.ProviderTransaction, error) {
	return f.txn, f.err
}

type fakePublisher struct{ published []events.Event }

func (f *fakePublisher) PublishAll(_ context.Context, evts []events.Event) error {
	f.published = append(f.published, evts...)
	return nil
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, storage.AutoMigrate(db))
	return db
}

func seedSchedule(t *testing.T, db *gorm.DB, chargeType string) *charge.Version {
	t.Helper()
	setting := &charge.Setting{
		ChargeSettingID: uuid.New(),
		Name:            chargeType,
		ChargeType:      chargeType,
		IsActive:        true,
	}
	require.NoError(t, storage.SaveSetting(db, setting))
	version := &charge.Version{
		ChargeSettingID: setting.ChargeSettingID,
		Tiers: []charge.Tier{
			{MinPrice: dec("0"), PercentageRate: dec("5")},
		},
		EffectiveFrom: time.Now().UTC().Add(-time.Hour),
		CreatedBy:     "test",
	}
	require.NoError(t, storage.AddVersion(db, version))
	return version
}

func newTestService(t *testing.T, db *gorm.DB, tickets *fakeTickets, users *fakeUsers, provider *fakeProvider, publisher *fakePublisher) *Service {
	t.Helper()
	return NewService(db, tickets, users, provider, publisher, Config{
		ChargeReqKey:       testChargeKey,
		MaxWalletBalance:   dec("1000000"),
		TicketCallbackURL:  "https://app.example/tickets/callback",
		DepositCallbackURL: "https://app.example/wallet/callback",
	}, nil)
}

func TestTicketPurchaseCharge(t *testing.T) {
	db := setupTestDB(t)
	version := seedSchedule(t, db, charge.TypeTicketPurchase)
	svc := newTestService(t, db, &fakeTickets{price: dec("10000")}, &fakeUsers{}, &fakeProvider{}, &fakePublisher{})

	quote, err := svc.TicketPurchaseCharge(context.Background(), "user-1", "tt-1", "summer-fest")
	require.NoError(t, err)
	require.True(t, quote.BaseAmount.Equal(dec("10000.00")))
	require.True(t, quote.CalculatedCharge.Equal(dec("500.00")))
	require.Equal(t, version.VersionID, quote.VersionID)
	require.Equal(t, 1, quote.VersionNumber)

	payload := map[string]any{
		"base_amount":       "10000.00",
		"charge_setting_id": quote.ChargeSettingID.String(),
		"version_id":        quote.VersionID.String(),
		"version_number":    1,
		"calculated_charge": "500.00",
		"user":              "user-1",
		"ticket_type":       "tt-1",
		"event":             "summer-fest",
	}
	ok, err := signing.Verify(payload, testChargeKey, quote.Signature)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestChargeWithoutScheduleFails(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(t, db, &fakeTickets{price: dec("10000")}, &fakeUsers{}, &fakeProvider{}, &fakePublisher{})

	_, err := svc.TicketPurchaseCharge(context.Background(), "user-1", "tt-1", "summer-fest")
	appErr := apperr.From(err)
	require.Equal(t, 500, appErr.Status)
	require.Equal(t, "could_not_generate_charge", appErr.Code)
}

func TestInstantWithdrawalChargeRejectsNonPositive(t *testing.T) {
	db := setupTestDB(t)
	seedSchedule(t, db, charge.TypeInstantWithdrawal)
	svc := newTestService(t, db, &fakeTickets{}, &fakeUsers{}, &fakeProvider{}, &fakePublisher{})

	_, err := svc.InstantWithdrawalCharge(context.Background(), "user-1", dec("0"))
	require.Equal(t, 400, apperr.From(err).Status)
}

func TestCreateTicketCheckout(t *testing.T) {
	db := setupTestDB(t)
	seedSchedule(t, db, charge.TypeTicketPurchase)
	tickets := &fakeTickets{price: dec("10000"), reservation: true}
	provider := &fakeProvider{link: "https://pay.example/abc"}
	svc := newTestService(t, db, tickets, &fakeUsers{}, provider, &fakePublisher{})

	quote, err := svc.TicketPurchaseCharge(context.Background(), "user-1", "tt-1", "summer-fest")
	require.NoError(t, err)

	link, err := svc.CreateTicketCheckout(context.Background(), "user-1", TicketCheckoutRequest{
		TicketTypeID:     "tt-1",
		ReservationID:    "res-1",
		Slug:             "summer-fest",
		Quantity:         2,
		Email:            "buyer@example.com",
		ChargeSettingID:  quote.ChargeSettingID,
		VersionID:        quote.VersionID,
		VersionNumber:    quote.VersionNumber,
		CalculatedCharge: quote.CalculatedCharge,
		Signature:        quote.Signature,
	})
	require.NoError(t, err)
	require.Equal(t, "https://pay.example/abc", link)

	require.True(t, provider.lastInit.Amount.Equal(dec("20500.00")), "got %s", provider.lastInit.Amount)
	require.Equal(t, "buyer@example.com", provider.lastInit.Email)
	require.NotEmpty(t, provider.lastInit.Reference)

	metadata, ok := provider.lastInit.Metadata.(map[string]any)
	require.True(t, ok)
	require.Equal(t, "summer-fest", metadata["slug"])
	require.Equal(t, false, metadata["sponsored"])
	verified, err := signing.VerifyTagged(metadata, testChargeKey)
	require.NoError(t, err)
	require.True(t, verified)
}

func TestCreateTicketCheckoutRejectsTamperedQuote(t *testing.T) {
	db := setupTestDB(t)
	seedSchedule(t, db, charge.TypeTicketPurchase)
	svc := newTestService(t, db, &fakeTickets{price: dec("10000"), reservation: true}, &fakeUsers{}, &fakeProvider{}, &fakePublisher{})

	quote, err := svc.TicketPurchaseCharge(context.Background(), "user-1", "tt-1", "summer-fest")
	require.NoError(t, err)

	_, err = svc.CreateTicketCheckout(context.Background(), "user-1", TicketCheckoutRequest{
		TicketTypeID:     "tt-1",
		ReservationID:    "res-1",
		Slug:             "summer-fest",
		Quantity:         1,
		Email:            "buyer@example.com",
		ChargeSettingID:  quote.ChargeSettingID,
		VersionID:        quote.VersionID,
		VersionNumber:    quote.VersionNumber,
		CalculatedCharge: dec("1.00"),
		Signature:        quote.Signature,
	})
	appErr := apperr.From(err)
	require.Equal(t, 400, appErr.Status)
	require.Equal(t, "Invalid or malformed request", appErr.Message)
}

func TestCreateTicketCheckoutRejectsDeadReservation(t *testing.T) {
	db := setupTestDB(t)
	seedSchedule(t, db, charge.TypeTicketPurchase)
	svc := newTestService(t, db, &fakeTickets{price: dec("10000"), reservation: false, reason: "Reservation expired"}, &fakeUsers{}, &fakeProvider{}, &fakePublisher{})

	quote, err := svc.TicketPurchaseCharge(context.Background(), "user-1", "tt-1", "summer-fest")
	require.NoError(t, err)

	_, err = svc.CreateTicketCheckout(context.Background(), "user-1", TicketCheckoutRequest{
		TicketTypeID:     "tt-1",
		ReservationID:    "res-1",
		Slug:             "summer-fest",
		Quantity:         1,
		Email:            "buyer@example.com",
		ChargeSettingID:  quote.ChargeSettingID,
		VersionID:        quote.VersionID,
		VersionNumber:    quote.VersionNumber,
		CalculatedCharge: quote.CalculatedCharge,
		Signature:        quote.Signature,
	})
	appErr := apperr.From(err)
	require.Equal(t, 400, appErr.Status)
	require.Equal(t, "Reservation expired", appErr.Message)
}

func TestCreateDepositCheckout(t *testing.T) {
	db := setupTestDB(t)
	seedSchedule(t, db, charge.TypeInstantWithdrawal)
	provider := &fakeProvider{link: "https://pay.example/dep"}
	svc := newTestService(t, db, &fakeTickets{}, &fakeUsers{email: "owner@example.com"}, provider, &fakePublisher{})

	quote, err := svc.InstantWithdrawalCharge(context.Background(), "user-1", dec("2000"))
	require.NoError(t, err)

	link, err := svc.CreateDepositCheckout(context.Background(), "user-1", DepositCheckoutRequest{
		Amount:           dec("2000"),
		ChargeSettingID:  quote.ChargeSettingID,
		VersionID:        quote.VersionID,
		VersionNumber:    quote.VersionNumber,
		CalculatedCharge: quote.CalculatedCharge,
		Signature:        quote.Signature,
	})
	require.NoError(t, err)
	require.Equal(t, "https://pay.example/dep", link)
	require.Equal(t, "owner@example.com", provider.lastInit.Email)
	require.True(t, provider.lastInit.Amount.Equal(dec("2100.00")), "got %s", provider.lastInit.Amount)
}

// providerMetadata simulates the provider echoing checkout metadata back on
// verification: marshalled out, decoded with numbers preserved.
func providerMetadata(t *testing.T, metadata map[string]any) map[string]any {
	t.Helper()
	encoded, err := json.Marshal(metadata)
	require.NoError(t, err)
	decoder := json.NewDecoder(bytes.NewReader(encoded))
	decoder.UseNumber()
	var out map[string]any
	require.NoError(t, decoder.Decode(&out))
	return out
}

func signedPurchaseMetadata(t *testing.T, settingID, versionID uuid.UUID) map[string]any {
	t.Helper()
	metadata := map[string]any{
		"charge_setting_id": settingID.String(),
		"version_id":        versionID.String(),
		"version_number":    1,
		"calculated_charge": "500.00",
		"ticket_type_id":    "tt-1",
		"slug":              "summer-fest",
		"sponsored":         false,
		"user":              "user-1",
		"quantity":          2,
	}
	signature, err := signing.Sign(metadata, testChargeKey)
	require.NoError(t, err)
	metadata[signing.SignatureField] = signature
	metadata["referrer"] = "https://checkout.example.com"
	return providerMetadata(t, metadata)
}

func TestVerifyTicketPurchase(t *testing.T) {
	db := setupTestDB(t)
	version := seedSchedule(t, db, charge.TypeTicketPurchase)
	provider := &fakeProvider{txn: &paystack.ProviderTransaction{
		Reference: "tp_ref1",
		Amount:    dec("20500.00"),
		Status:    "success",
		Metadata:  signedPurchaseMetadata(t, version.ChargeSettingID, version.VersionID),
	}}
	publisher := &fakePublisher{}
	svc := newTestService(t, db, &fakeTickets{}, &fakeUsers{}, provider, publisher)

	txn, err := svc.VerifyTicketPurchase(context.Background(), "user-1", "tp_ref1")
	require.NoError(t, err)
	require.Equal(t, transaction.TypePurchase, txn.Type)
	require.Equal(t, transaction.StatusPending, txn.Status)
	require.True(t, txn.Amount.Equal(dec("20500.00")))
	require.Equal(t, "tt-1", txn.ResourceID)
	require.NotNil(t, txn.ChargeData)
	require.True(t, txn.ChargeData.ChargeAmount.Equal(dec("500.00")))
	require.Equal(t, "summer-fest", txn.Metadata["slug"])
	require.NotEmpty(t, txn.Metadata["signature"])
	require.NotContains(t, txn.Metadata, "referrer")

	require.Len(t, publisher.published, 1)
	require.Equal(t, events.TypeTransactionCreated, publisher.published[0].EventType)

	stored, err := storage.TransactionByReference(db, "tp_ref1", false)
	require.NoError(t, err)
	require.Equal(t, txn.ID, stored.ID)

	// Replays land on the stored row and publish nothing new.
	again, err := svc.VerifyTicketPurchase(context.Background(), "user-1", "tp_ref1")
	require.NoError(t, err)
	require.Equal(t, txn.ID, again.ID)
	require.Len(t, publisher.published, 1)
}

func TestVerifyTicketPurchaseWrongUser(t *testing.T) {
	db := setupTestDB(t)
	version := seedSchedule(t, db, charge.TypeTicketPurchase)
	provider := &fakeProvider{txn: &paystack.ProviderTransaction{
		Reference: "tp_ref2",
		Amount:    dec("20500.00"),
		Status:    "success",
		Metadata:  signedPurchaseMetadata(t, version.ChargeSettingID, version.VersionID),
	}}
	svc := newTestService(t, db, &fakeTickets{}, &fakeUsers{}, provider, &fakePublisher{})

	_, err := svc.VerifyTicketPurchase(context.Background(), "someone-else", "tp_ref2")
	appErr := apperr.From(err)
	require.Equal(t, 403, appErr.Status)
	require.Equal(t, "Cannot validate transaction initiated by another user", appErr.Message)
}

func TestVerifyTicketPurchaseTamperedMetadata(t *testing.T) {
	db := setupTestDB(t)
	version := seedSchedule(t, db, charge.TypeTicketPurchase)
	metadata := signedPurchaseMetadata(t, version.ChargeSettingID, version.VersionID)
	metadata["calculated_charge"] = "1.00"
	provider := &fakeProvider{txn: &paystack.ProviderTransaction{
		Reference: "tp_ref3",
		Amount:    dec("20500.00"),
		Status:    "success",
		Metadata:  metadata,
	}}
	svc := newTestService(t, db, &fakeTickets{}, &fakeUsers{}, provider, &fakePublisher{})

	_, err := svc.VerifyTicketPurchase(context.Background(), "user-1", "tp_ref3")
	appErr := apperr.From(err)
	require.Equal(t, 500, appErr.Status)
	require.Equal(t, "Malformed transaction. Please contact support", appErr.Message)
}

func TestVerifyDeposit(t *testing.T) {
	db := setupTestDB(t)
	version := seedSchedule(t, db, charge.TypeInstantWithdrawal)
	metadata := map[string]any{
		"charge_setting_id": version.ChargeSettingID.String(),
		"version_id":        version.VersionID.String(),
		"version_number":    1,
		"calculated_charge": "100.00",
		"sponsored":         false,
		"user":              "user-1",
	}
	signature, err := signing.Sign(metadata, testChargeKey)
	require.NoError(t, err)
	metadata[signing.SignatureField] = signature
	provider := &fakeProvider{txn: &paystack.ProviderTransaction{
		Reference: "tp_dep1",
		Amount:    dec("2100.00"),
		Status:    "success",
		Metadata:  providerMetadata(t, metadata),
	}}
	publisher := &fakePublisher{}
	svc := newTestService(t, db, &fakeTickets{}, &fakeUsers{}, provider, publisher)

	txn, err := svc.VerifyDeposit(context.Background(), "user-1", "tp_dep1")
	require.NoError(t, err)
	require.Equal(t, transaction.TypeWalletFunding, txn.Type)
	require.True(t, txn.Amount.Equal(dec("2000.00")), "got %s", txn.Amount)

	w, err := storage.WalletByUserOrCreate(db, "user-1", false)
	require.NoError(t, err)
	require.Equal(t, w.ID.String(), txn.ResourceID)
	require.Len(t, publisher.published, 1)
}

func TestVerifyNotSuccessful(t *testing.T) {
	db := setupTestDB(t)
	provider := &fakeProvider{err: paystack.ErrTransactionNotSuccessful}
	svc := newTestService(t, db, &fakeTickets{}, &fakeUsers{}, provider, &fakePublisher{})

	_, err := svc.VerifyTicketPurchase(context.Background(), "user-1", "tp_missing")
	require.Equal(t, 400, apperr.From(err).Status)
}
