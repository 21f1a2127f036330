package paystack

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
)

// SignatureHeader carries the provider's HMAC over the raw webhook body.
const SignatureHeader = "x-paystack-signature"

// EventTransferSuccess is the webhook event for a completed transfer.
const EventTransferSuccess = "transfer.success"

// Event is the outer webhook payload.
type Event struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// TransferData is the payload of transfer.* webhook events. Amount is in
// minor units.
type TransferData struct {
	Amount        int64             `json:"amount"`
	Reference     string            `json:"reference"`
	Status        string            `json:"status"`
	TransferredAt string            `json:"transferred_at"`
	UpdatedAt     string            `json:"updated_at"`
	Recipient     TransferRecipient `json:"recipient"`
}

// TransferRecipient nests the destination account details.
type TransferRecipient struct {
	Details RecipientDetails `json:"details"`
}

// RecipientDetails is the bank account a transfer paid out to.
type RecipientDetails struct {
	AccountNumber string `json:"account_number"`
	AccountName   string `json:"account_name"`
	BankName      string `json:"bank_name"`
}

// VerifySignature checks the webhook header against the HMAC-SHA512 hex
// digest of the raw body under the provider secret, in constant time.
func VerifySignature(secret string, body []byte, header string) bool {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(header))
}

// ComputeSignature returns the hex digest VerifySignature expects; tests and
// local tooling use it to forge valid webhook calls.
func ComputeSignature(secret string, body []byte) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
