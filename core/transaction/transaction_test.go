package transaction

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"ticketpay/core/events"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newPurchase(t *testing.T) *Transaction {
	t.Helper()
	txn, err := New(NewParams{
		Amount:     dec("10000"),
		UserID:     "buyer-1",
		Resource:   "ticket",
		ResourceID: "tt-1",
		Source:     SourcePaymentProvider,
		Type:       TypePurchase,
		ChargeData: &ChargeData{ChargeAmount: dec("500"), VersionNumber: 1},
		Metadata:   map[string]string{MetaSlug: "summer-fest"},
	})
	require.NoError(t, err)
	return txn
}

func TestNewValidation(t *testing.T) {
	_, err := New(NewParams{Amount: decimal.Zero, UserID: "u", Source: SourceWallet, Type: TypePurchase})
	require.ErrorIs(t, err, ErrInvalidAmount)

	_, err = New(NewParams{Amount: dec("-10"), UserID: "u", Source: SourceWallet, Type: TypePurchase})
	require.ErrorIs(t, err, ErrInvalidAmount)

	_, err = New(NewParams{Amount: dec("10"), UserID: "u", Source: Source("cash"), Type: TypePurchase})
	require.Error(t, err)

	_, err = New(NewParams{Amount: dec("10"), UserID: "u", Source: SourceWallet, Type: Type("loan")})
	require.Error(t, err)

	_, err = New(NewParams{
		Amount: dec("10"), UserID: "u", Source: SourceWallet, Type: TypeWithdrawal,
		ChargeData: &ChargeData{ChargeAmount: decimal.Zero},
	})
	require.Error(t, err)
}

func TestDirectionDefaults(t *testing.T) {
	require.Equal(t, DirectionDebit, TypePurchase.DefaultDirection())
	require.Equal(t, DirectionCredit, TypeWalletFunding.DefaultDirection())
	require.Equal(t, DirectionCredit, TypeSale.DefaultDirection())
	require.Equal(t, DirectionCredit, TypeCommission.DefaultDirection())
	require.Equal(t, DirectionDebit, TypeWithdrawal.DefaultDirection())

	txn := newPurchase(t)
	require.Equal(t, DirectionDebit, txn.Direction)
}

func TestNewEmitsCreatedEvent(t *testing.T) {
	txn := newPurchase(t)
	drained := txn.DrainEvents()
	require.Len(t, drained, 1)
	require.Equal(t, events.TypeTransactionCreated, drained[0].EventType)
	require.Equal(t, txn.ID.String(), drained[0].AggregateID)

	payload := drained[0].Payload.(events.TransactionCreated)
	require.Equal(t, txn.Reference, payload.Reference)
	require.Equal(t, "purchase", payload.TransactionType)

	// Draining clears the buffer.
	require.Empty(t, txn.DrainEvents())
}

func TestAddSettlementGuards(t *testing.T) {
	txn := newPurchase(t)
	split := SettlementData{Amount: dec("9500"), RecipientUser: "org-1", TransactionType: TypeSale, Role: RoleOrganizer}
	require.NoError(t, txn.AddSettlement(split))

	require.Error(t, txn.AddSettlement(SettlementData{Amount: dec("1"), RecipientUser: "x", TransactionType: TypePurchase, Role: RoleOrganizer}))
	require.Error(t, txn.AddSettlement(SettlementData{Amount: dec("1"), RecipientUser: "x", TransactionType: TypeSale, Role: Role("buyer")}))
	require.ErrorIs(t, txn.AddSettlement(SettlementData{Amount: decimal.Zero, RecipientUser: "x", TransactionType: TypeSale, Role: RoleOrganizer}), ErrInvalidAmount)

	require.NoError(t, txn.CompleteSettlement())
	err := txn.AddSettlement(split)
	require.ErrorIs(t, err, ErrIllegalState)
}

func TestCreateSettlementChildren(t *testing.T) {
	txn := newPurchase(t)
	txn.DrainEvents()
	require.NoError(t, txn.AddSettlement(SettlementData{Amount: dec("9500"), RecipientUser: "org-1", TransactionType: TypeSale, Role: RoleOrganizer}))
	require.NoError(t, txn.AddSettlement(SettlementData{Amount: dec("500"), RecipientUser: "sys-1", TransactionType: TypeCommission, Role: RoleSystemAdmin}))

	now := time.Now().UTC()
	children, err := txn.CreateSettlementChildren(now)
	require.NoError(t, err)
	require.Len(t, children, 2)

	total := decimal.Zero
	for _, child := range children {
		require.Equal(t, StatusPending, child.Status)
		require.NotNil(t, child.ParentID)
		require.Equal(t, txn.ID, *child.ParentID)
		require.NotEqual(t, txn.Reference, child.Reference)
		total = total.Add(child.Amount)

		drained := child.DrainEvents()
		require.Len(t, drained, 1)
		// Children share the parent's partition.
		require.Equal(t, txn.ID.String(), drained[0].AggregateID)
	}
	require.True(t, total.Equal(txn.Amount), "children must sum to parent amount")

	require.Equal(t, "org-1", children[0].UserID)
	require.Equal(t, TypeSale, children[0].Type)
	require.Equal(t, DirectionCredit, children[0].Direction)
}

func TestScheduleAndResume(t *testing.T) {
	txn := newPurchase(t)
	now := time.Now().UTC()

	require.ErrorIs(t, txn.Schedule(now, now), ErrScheduleInPast)

	until := now.Add(24 * time.Hour)
	require.NoError(t, txn.Schedule(until, now))
	require.Equal(t, StatusScheduled, txn.Status)
	require.NotNil(t, txn.DelayedSettlementUntil)

	require.ErrorIs(t, txn.ResumeScheduled(now), ErrNotDue)
	require.NoError(t, txn.ResumeScheduled(until))
	require.Equal(t, StatusPending, txn.Status)
	require.Nil(t, txn.DelayedSettlementUntil)

	require.ErrorIs(t, txn.ResumeScheduled(until), ErrIllegalState)
}

func TestScheduleOnlyFromPending(t *testing.T) {
	txn := newPurchase(t)
	require.NoError(t, txn.CompleteSettlement())
	require.ErrorIs(t, txn.Schedule(time.Now().Add(time.Hour), time.Now()), ErrIllegalState)
}

func TestCompleteSettlementEmitsTerminalEvent(t *testing.T) {
	txn := newPurchase(t)
	txn.DrainEvents()
	require.NoError(t, txn.CompleteSettlement())
	require.Equal(t, StatusCompleted, txn.Status)

	drained := txn.DrainEvents()
	require.Len(t, drained, 1)
	require.Equal(t, events.TypeTransactionPurchased, drained[0].EventType)

	// Terminal states refuse further completion.
	require.ErrorIs(t, txn.CompleteSettlement(), ErrIllegalState)
}

func newManualWithdrawal(t *testing.T) *Transaction {
	t.Helper()
	txn, err := New(NewParams{
		Amount:     dec("1000"),
		UserID:     "user-4",
		Resource:   "withdrawal",
		Source:     SourceWallet,
		Type:       TypeWithdrawal,
		ChargeData: &ChargeData{ChargeAmount: dec("50")},
	})
	require.NoError(t, err)
	txn.DrainEvents()
	txn.SetMetadata(MetaMode, ModeManual)
	txn.SetMetadata(MetaDest, "0123456789 • Ada Obi • First Bank")
	return txn
}

func TestWithdrawalCompleteEmitsNotification(t *testing.T) {
	txn := newManualWithdrawal(t)
	txn.SetMetadata(MetaCompletedAt, "2026-03-02T09:00:00Z")
	require.NoError(t, txn.CompleteSettlement())

	drained := txn.DrainEvents()
	require.Len(t, drained, 1)
	require.Equal(t, events.TypeNotificationRequested, drained[0].EventType)
	payload := drained[0].Payload.(events.NotificationRequested)
	require.Equal(t, "withdrawal_complete", payload.Type)
	require.Equal(t, "user-4", payload.UserID)
}

func TestMarkFailed(t *testing.T) {
	txn := newManualWithdrawal(t)
	now := time.Now().UTC()

	refundable, err := txn.MarkFailed("bank rejected transfer", now)
	require.NoError(t, err)
	require.Equal(t, "1050.00", refundable.StringFixed(2))
	require.Equal(t, StatusFailed, txn.Status)
	require.NotEmpty(t, txn.Metadata[MetaFailedOn])

	drained := txn.DrainEvents()
	require.Len(t, drained, 1)
	payload := drained[0].Payload.(events.NotificationRequested)
	require.Equal(t, "withdrawal_failed", payload.Type)
	require.Equal(t, "bank rejected transfer", payload.Data["reason"])

	_, err = txn.MarkFailed("again", now)
	require.ErrorIs(t, err, ErrIllegalState)
}

func TestMarkFailedRequiresManualWithdrawal(t *testing.T) {
	purchase := newPurchase(t)
	_, err := purchase.MarkFailed("nope", time.Now())
	require.ErrorIs(t, err, ErrNotManualWithdrawal)

	auto, err := New(NewParams{
		Amount: dec("1000"), UserID: "u", Resource: "withdrawal",
		Source: SourceWallet, Type: TypeWithdrawal,
	})
	require.NoError(t, err)
	_, err = auto.MarkFailed("nope", time.Now())
	require.ErrorIs(t, err, ErrNotManualWithdrawal)
}

func TestBeginProcessing(t *testing.T) {
	txn := newManualWithdrawal(t)
	require.NoError(t, txn.BeginProcessing())
	require.Equal(t, StatusProcessing, txn.Status)
	require.ErrorIs(t, txn.BeginProcessing(), ErrIllegalState)

	// processing → completed is the webhook path.
	require.NoError(t, txn.CompleteSettlement())

	purchase := newPurchase(t)
	require.Error(t, purchase.BeginProcessing())
}

func TestJSONRoundTripIgnoresEventBuffer(t *testing.T) {
	txn := newPurchase(t)
	require.NoError(t, txn.AddSettlement(SettlementData{Amount: dec("9500"), RecipientUser: "org-1", TransactionType: TypeSale, Role: RoleOrganizer}))

	raw, err := json.Marshal(txn)
	require.NoError(t, err)

	var decoded Transaction
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.Equal(t, txn.ID, decoded.ID)
	require.Equal(t, txn.Reference, decoded.Reference)
	require.True(t, decoded.Amount.Equal(txn.Amount))
	require.Equal(t, txn.Status, decoded.Status)
	require.Len(t, decoded.SettlementData, 1)
	require.Zero(t, decoded.PendingEvents())
}
