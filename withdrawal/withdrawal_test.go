package withdrawal

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"ticketpay/apperr"
	"ticketpay/core/events"
	"ticketpay/core/signing"
	"ticketpay/core/transaction"
	"ticketpay/core/wallet"
	"ticketpay/storage"
)

const testChargeKey = "charge-req-key"

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fakeProvider struct {
	recipientCode string
	recipientErr  error
	transferErr   error
	transfers     int
}

func (f *fakeProvider) CreateRecipient(context.Context, string, string, string) (string, error) {
	return f.recipientCode, f.recipientErr
}

func (f *fakeProvider) Transfer(context.Context, decimal.Decimal, string, string, string) (string, error) {
	f.transfers++
	return "pending", f.transferErr
}

type fakePublisher struct{ published []events.Event }

func (f *fakePublisher) PublishAll(_ context.Context, evts []events.Event) error {
	f.published = append(f.published, evts...)
	return nil
}

func (f *fakePublisher) ofType(eventType string) []events.Event {
	var out []events.Event
	for _, evt := range f.published {
		if evt.EventType == eventType {
			out = append(out, evt)
		}
	}
	return out
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

func seedWallet(t *testing.T, db *gorm.DB, userID string, balance decimal.Decimal, withBank bool) *wallet.Wallet {
	t.Helper()
	w, err := storage.WalletByUserOrCreate(db, userID, false)
	require.NoError(t, err)
	if balance.IsPositive() {
		require.NoError(t, w.Deposit(balance))
	}
	if withBank {
		require.NoError(t, w.SetBankDetails(wallet.BankDetails{
			AccountName:   "Jane Doe",
			AccountNumber: "0123456789",
			BankName:      "GTBank",
			BankCode:      "058",
		}, time.Now().UTC()))
	}
	require.NoError(t, storage.SaveWallet(db, w))
	return w
}

func signedSubmitRequest(t *testing.T, userID string, amount, fee decimal.Decimal) SubmitRequest {
	t.Helper()
	req := SubmitRequest{
		Amount:           amount,
		ChargeSettingID:  uuid.New(),
		VersionID:        uuid.New(),
		VersionNumber:    1,
		CalculatedCharge: fee,
	}
	payload := map[string]any{
		"base_amount":       amount.StringFixed(2),
		"charge_setting_id": req.ChargeSettingID.String(),
		"version_id":        req.VersionID.String(),
		"version_number":    req.VersionNumber,
		"calculated_charge": fee.StringFixed(2),
		"user":              userID,
	}
	signature, err := signing.Sign(payload, testChargeKey)
	require.NoError(t, err)
	req.Signature = signature
	return req
}

func newTestService(db *gorm.DB, provider *fakeProvider, publisher *fakePublisher, auto bool) *Service {
	return NewService(db, provider, publisher, Config{
		ChargeReqKey:          testChargeKey,
		AutoWithdrawalEnabled: auto,
	}, nil)
}

func TestSubmitWithdrawal(t *testing.T) {
	db := setupTestDB(t)
	seedWallet(t, db, "user-1", dec("10000"), false)
	publisher := &fakePublisher{}
	svc := newTestService(db, &fakeProvider{}, publisher, false)

	txn, err := svc.SubmitWithdrawal(context.Background(), "user-1",
		signedSubmitRequest(t, "user-1", dec("2000"), dec("100")))
	require.NoError(t, err)
	require.Equal(t, transaction.TypeWithdrawal, txn.Type)
	require.Equal(t, transaction.StatusPending, txn.Status)
	require.Equal(t, transaction.DirectionDebit, txn.Direction)
	require.True(t, txn.Amount.Equal(dec("2000")))

	w, err := storage.WalletByUserOrCreate(db, "user-1", false)
	require.NoError(t, err)
	require.True(t, w.Balance.Equal(dec("7900")), "got %s", w.Balance)

	require.Len(t, publisher.ofType(events.TypeTransactionCreated), 1)
}

func TestSubmitWithdrawalInsufficientBalance(t *testing.T) {
	db := setupTestDB(t)
	seedWallet(t, db, "user-1", dec("2000"), false)
	svc := newTestService(db, &fakeProvider{}, &fakePublisher{}, false)

	_, err := svc.SubmitWithdrawal(context.Background(), "user-1",
		signedSubmitRequest(t, "user-1", dec("2000"), dec("100")))
	appErr := apperr.From(err)
	require.Equal(t, 400, appErr.Status)
	require.Equal(t, "Insufficient balance", appErr.Message)
}

func TestSubmitWithdrawalTamperedQuote(t *testing.T) {
	db := setupTestDB(t)
	seedWallet(t, db, "user-1", dec("10000"), false)
	svc := newTestService(db, &fakeProvider{}, &fakePublisher{}, false)

	req := signedSubmitRequest(t, "user-1", dec("2000"), dec("100"))
	req.CalculatedCharge = dec("1")
	_, err := svc.SubmitWithdrawal(context.Background(), "user-1", req)
	appErr := apperr.From(err)
	require.Equal(t, 400, appErr.Status)
	require.Equal(t, "Invalid or malformed request", appErr.Message)
}

func TestDispatchManualWithdrawal(t *testing.T) {
	db := setupTestDB(t)
	seedWallet(t, db, "user-1", dec("10000"), true)
	publisher := &fakePublisher{}
	svc := newTestService(db, &fakeProvider{}, publisher, false)

	txn, err := svc.SubmitWithdrawal(context.Background(), "user-1",
		signedSubmitRequest(t, "user-1", dec("2000"), dec("100")))
	require.NoError(t, err)

	require.NoError(t, svc.DispatchWithdrawal(context.Background(), txn.Reference))

	stored, err := storage.TransactionByReference(db, txn.Reference, false)
	require.NoError(t, err)
	require.Equal(t, transaction.StatusPending, stored.Status)
	require.Equal(t, transaction.ModeManual, stored.Metadata[transaction.MetaMode])
	require.Contains(t, stored.Metadata[transaction.MetaDest], "0123456789")

	// Admin plus user notification.
	require.Len(t, publisher.ofType(events.TypeNotificationRequested), 2)

	// Replays change nothing.
	require.NoError(t, svc.DispatchWithdrawal(context.Background(), txn.Reference))
	require.Len(t, publisher.ofType(events.TypeNotificationRequested), 2)
}

func TestDispatchAutoWithdrawal(t *testing.T) {
	db := setupTestDB(t)
	seedWallet(t, db, "user-1", dec("10000"), true)
	provider := &fakeProvider{recipientCode: "RCP_1"}
	svc := newTestService(db, provider, &fakePublisher{}, true)

	txn, err := svc.SubmitWithdrawal(context.Background(), "user-1",
		signedSubmitRequest(t, "user-1", dec("2000"), dec("100")))
	require.NoError(t, err)

	require.NoError(t, svc.DispatchWithdrawal(context.Background(), txn.Reference))

	stored, err := storage.TransactionByReference(db, txn.Reference, false)
	require.NoError(t, err)
	require.Equal(t, transaction.StatusProcessing, stored.Status)
	require.Equal(t, "RCP_1", stored.Metadata[transaction.MetaRecipientID])
	require.Equal(t, 1, provider.transfers)

	// Replays do not re-transfer.
	require.NoError(t, svc.DispatchWithdrawal(context.Background(), txn.Reference))
	require.Equal(t, 1, provider.transfers)
}

func TestDispatchWithoutBankDetails(t *testing.T) {
	db := setupTestDB(t)
	seedWallet(t, db, "user-1", dec("10000"), false)
	svc := newTestService(db, &fakeProvider{}, &fakePublisher{}, false)

	txn, err := svc.SubmitWithdrawal(context.Background(), "user-1",
		signedSubmitRequest(t, "user-1", dec("2000"), dec("100")))
	require.NoError(t, err)

	err = svc.DispatchWithdrawal(context.Background(), txn.Reference)
	require.Equal(t, 400, apperr.From(err).Status)
}

func TestCompleteWithdraw(t *testing.T) {
	db := setupTestDB(t)
	seedWallet(t, db, "user-1", dec("10000"), true)
	publisher := &fakePublisher{}
	svc := newTestService(db, &fakeProvider{recipientCode: "RCP_1"}, publisher, true)

	txn, err := svc.SubmitWithdrawal(context.Background(), "user-1",
		signedSubmitRequest(t, "user-1", dec("2000"), dec("100")))
	require.NoError(t, err)
	require.NoError(t, svc.DispatchWithdrawal(context.Background(), txn.Reference))

	payload := events.WithdrawSuccessful{
		Amount: dec("2000"),
		Ref:    txn.Reference,
		Date:   "2026-08-20T10:15:00Z",
		Dest:   "0123456789 • Jane Doe • GTBank",
	}
	require.NoError(t, svc.CompleteWithdraw(context.Background(), payload))

	stored, err := storage.TransactionByReference(db, txn.Reference, false)
	require.NoError(t, err)
	require.Equal(t, transaction.StatusCompleted, stored.Status)
	require.Equal(t, "2026-08-20T10:15:00Z", stored.Metadata[transaction.MetaCompletedAt])
	require.Len(t, publisher.ofType(events.TypeNotificationRequested), 1)

	// Replays of the webhook are no-ops.
	require.NoError(t, svc.CompleteWithdraw(context.Background(), payload))
	require.Len(t, publisher.ofType(events.TypeNotificationRequested), 1)
}

func TestCompleteWithdrawAmountMismatch(t *testing.T) {
	db := setupTestDB(t)
	seedWallet(t, db, "user-1", dec("10000"), true)
	svc := newTestService(db, &fakeProvider{recipientCode: "RCP_1"}, &fakePublisher{}, true)

	txn, err := svc.SubmitWithdrawal(context.Background(), "user-1",
		signedSubmitRequest(t, "user-1", dec("2000"), dec("100")))
	require.NoError(t, err)
	require.NoError(t, svc.DispatchWithdrawal(context.Background(), txn.Reference))

	err = svc.CompleteWithdraw(context.Background(), events.WithdrawSuccessful{
		Amount: dec("1999"),
		Ref:    txn.Reference,
	})
	require.Equal(t, 400, apperr.From(err).Status)
}

func TestUpdateTransactionStatusFailedRefunds(t *testing.T) {
	db := setupTestDB(t)
	seedWallet(t, db, "user-1", dec("10000"), true)
	publisher := &fakePublisher{}
	svc := newTestService(db, &fakeProvider{}, publisher, false)

	txn, err := svc.SubmitWithdrawal(context.Background(), "user-1",
		signedSubmitRequest(t, "user-1", dec("2000"), dec("100")))
	require.NoError(t, err)
	require.NoError(t, svc.DispatchWithdrawal(context.Background(), txn.Reference))

	require.NoError(t, svc.UpdateTransactionStatus(context.Background(), txn.Reference,
		transaction.StatusFailed, "bank rejected the transfer"))

	stored, err := storage.TransactionByReference(db, txn.Reference, false)
	require.NoError(t, err)
	require.Equal(t, transaction.StatusFailed, stored.Status)
	require.NotEmpty(t, stored.Metadata[transaction.MetaFailedOn])

	w, err := storage.WalletByUserOrCreate(db, "user-1", false)
	require.NoError(t, err)
	require.True(t, w.Balance.Equal(dec("10000")), "got %s", w.Balance)
}

func TestUpdateTransactionStatusCompleted(t *testing.T) {
	db := setupTestDB(t)
	seedWallet(t, db, "user-1", dec("10000"), true)
	publisher := &fakePublisher{}
	svc := newTestService(db, &fakeProvider{}, publisher, false)

	txn, err := svc.SubmitWithdrawal(context.Background(), "user-1",
		signedSubmitRequest(t, "user-1", dec("2000"), dec("100")))
	require.NoError(t, err)
	require.NoError(t, svc.DispatchWithdrawal(context.Background(), txn.Reference))

	require.NoError(t, svc.UpdateTransactionStatus(context.Background(), txn.Reference,
		transaction.StatusCompleted, ""))

	stored, err := storage.TransactionByReference(db, txn.Reference, false)
	require.NoError(t, err)
	require.Equal(t, transaction.StatusCompleted, stored.Status)
	require.NotEmpty(t, stored.Metadata[transaction.MetaCompletedAt])
}

func TestUpdateTransactionStatusRejectsNonManual(t *testing.T) {
	db := setupTestDB(t)
	seedWallet(t, db, "user-1", dec("10000"), true)
	svc := newTestService(db, &fakeProvider{recipientCode: "RCP_1"}, &fakePublisher{}, true)

	txn, err := svc.SubmitWithdrawal(context.Background(), "user-1",
		signedSubmitRequest(t, "user-1", dec("2000"), dec("100")))
	require.NoError(t, err)
	require.NoError(t, svc.DispatchWithdrawal(context.Background(), txn.Reference))

	err = svc.UpdateTransactionStatus(context.Background(), txn.Reference,
		transaction.StatusFailed, "nope")
	appErr := apperr.From(err)
	require.Equal(t, 400, appErr.Status)
	require.Equal(t, "Failed to update transaction. Invalid status or type.", appErr.Message)

	err = svc.UpdateTransactionStatus(context.Background(), txn.Reference,
		transaction.StatusScheduled, "")
	require.Equal(t, 400, apperr.From(err).Status)
}
