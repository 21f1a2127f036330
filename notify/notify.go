// Package notify builds notification.requested event payloads for the
// withdrawal flows. Templates and data keys match what the notification
// service renders; amounts are formatted as naira and times in the
// Africa/Lagos zone.
package notify

import (
	"fmt"
	"time"
	_ "time/tzdata"

	"github.com/shopspring/decimal"

	"ticketpay/core/events"
	"ticketpay/core/money"
)

// ChannelEmail is the only delivery channel the engine requests today.
const ChannelEmail = "EMAIL"

// AdminUserID is the synthetic recipient for operator alerts.
const AdminUserID = "admin"

const dateLayout = "Monday, January 02 • 3:04 PM"

var lagos = func() *time.Location {
	loc, err := time.LoadLocation("Africa/Lagos")
	if err != nil {
		return time.FixedZone("WAT", 60*60)
	}
	return loc
}()

func formatDate(t time.Time) string {
	return t.In(lagos).Format(dateLayout)
}

func amountWithFees(amount, fee decimal.Decimal) string {
	return fmt.Sprintf("%s + Fees (%s)", money.FormatNaira(amount), money.FormatNaira(fee))
}

// WithdrawalComplete notifies a user that their transfer reached the bank.
func WithdrawalComplete(userID string, amount decimal.Decimal, reference, dest string, completedAt time.Time) events.NotificationRequested {
	return events.NotificationRequested{
		Channel:  ChannelEmail,
		UserID:   userID,
		Subject:  "Withdrawal Successful",
		Message:  fmt.Sprintf("Your withdrawal of %s has been completed.", money.FormatNaira(amount)),
		Template: "withdrawal-complete",
		Type:     "withdrawal_complete",
		Data: map[string]string{
			"amount":       money.FormatNaira(amount),
			"reference_id": reference,
			"destination":  dest,
			"date":         formatDate(completedAt),
		},
	}
}

// ManualWithdrawalInitiated produces the operator alert and the user receipt
// emitted when a withdrawal lands in manual mode.
func ManualWithdrawalInitiated(userID string, amount, fee decimal.Decimal, reference, dest string, at time.Time) (admin, user events.NotificationRequested) {
	date := formatDate(at)
	admin = events.NotificationRequested{
		Channel:  ChannelEmail,
		UserID:   AdminUserID,
		Subject:  "Manual Withdrawal Requires Action",
		Message:  fmt.Sprintf("A manual withdrawal of %s is awaiting dispatch.", money.FormatNaira(amount)),
		Template: "withdrawal-initiated-admin",
		Type:     "withdrawal_initiated",
		Data: map[string]string{
			"amount":       amountWithFees(amount, fee),
			"reference_id": reference,
			"destination":  dest,
			"date":         date,
			"user_id":      userID,
		},
	}
	user = events.NotificationRequested{
		Channel:  ChannelEmail,
		UserID:   userID,
		Subject:  "Withdrawal Initiated",
		Message:  fmt.Sprintf("Your withdrawal of %s has been initiated.", money.FormatNaira(amount)),
		Template: "withdrawal-initiated",
		Type:     "withdrawal_initiated",
		Data: map[string]string{
			"amount":       amountWithFees(amount, fee),
			"reference_id": reference,
			"destination":  dest,
			"date":         date,
			"mode":         "Manual",
		},
	}
	return admin, user
}

// ManualWithdrawalFailed notifies a user that an operator marked their manual
// withdrawal failed and the funds were returned.
func ManualWithdrawalFailed(userID string, amount, fee decimal.Decimal, reference, dest, reason string, failedOn time.Time) events.NotificationRequested {
	return events.NotificationRequested{
		Channel:  ChannelEmail,
		UserID:   userID,
		Subject:  "Withdrawal Failed",
		Message:  fmt.Sprintf("Your withdrawal of %s could not be completed and has been refunded.", money.FormatNaira(amount)),
		Template: "withdrawal-failed",
		Type:     "withdrawal_failed",
		Data: map[string]string{
			"amount":       amountWithFees(amount, fee),
			"reference_id": reference,
			"destination":  dest,
			"date":         formatDate(failedOn),
			"reason":       reason,
		},
	}
}
