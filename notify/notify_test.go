package notify

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestWithdrawalComplete(t *testing.T) {
	// 09:00 UTC is 10:00 in Lagos (WAT, UTC+1).
	completedAt := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	evt := WithdrawalComplete("user-1", dec("1000"), "ref-1", "0123456789 • Ada Obi • First Bank", completedAt)

	require.Equal(t, ChannelEmail, evt.Channel)
	require.Equal(t, "user-1", evt.UserID)
	require.Equal(t, "withdrawal-complete", evt.Template)
	require.Equal(t, "withdrawal_complete", evt.Type)
	require.Equal(t, "₦1,000.00", evt.Data["amount"])
	require.Equal(t, "ref-1", evt.Data["reference_id"])
	require.Equal(t, "Monday, March 02 • 10:00 AM", evt.Data["date"])
}

func TestManualWithdrawalInitiatedPair(t *testing.T) {
	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	admin, user := ManualWithdrawalInitiated("user-7", dec("1000"), dec("50"), "ref-7", "dest", at)

	require.Equal(t, AdminUserID, admin.UserID)
	require.Equal(t, "withdrawal-initiated-admin", admin.Template)
	require.Equal(t, "₦1,000.00 + Fees (₦50.00)", admin.Data["amount"])
	require.Equal(t, "user-7", admin.Data["user_id"])

	require.Equal(t, "user-7", user.UserID)
	require.Equal(t, "withdrawal-initiated", user.Template)
	require.Equal(t, "Manual", user.Data["mode"])
	require.Equal(t, admin.Data["amount"], user.Data["amount"])
	require.Equal(t, "withdrawal_initiated", user.Type)
}

func TestManualWithdrawalFailed(t *testing.T) {
	failedOn := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	evt := ManualWithdrawalFailed("user-9", dec("1000"), dec("50"), "ref-9", "dest", "bank rejected transfer", failedOn)

	require.Equal(t, "withdrawal-failed", evt.Template)
	require.Equal(t, "withdrawal_failed", evt.Type)
	require.Equal(t, "bank rejected transfer", evt.Data["reason"])
	require.Equal(t, "₦1,000.00 + Fees (₦50.00)", evt.Data["amount"])
}
