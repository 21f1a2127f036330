package gateway

import (
	"encoding/json"
	"io"
	"net/http"

	"ticketpay/apperr"
	"ticketpay/core/events"
	"ticketpay/core/money"
	"ticketpay/core/wallet"
	"ticketpay/paystack"
)

// handlePaystackWebhook authenticates the provider callback by its body
// signature and translates transfer.success into the domain event the
// settlement consumer completes withdrawals from. A non-2xx answer makes the
// provider retry, so only failures we want redelivered return one.
func (s *Server) handlePaystackWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, apperr.BadRequest("Could not read webhook body"))
		return
	}
	if !paystack.VerifySignature(s.cfg.PaystackSecretKey, body, r.Header.Get(paystack.SignatureHeader)) {
		writeError(w, apperr.New(http.StatusUnauthorized, "invalid_signature", "Invalid webhook signature"))
		return
	}

	var event paystack.Event
	if err := json.Unmarshal(body, &event); err != nil || event.Event == "" {
		writeError(w, apperr.BadRequest("Invalid or malformed request"))
		return
	}
	if event.Event != paystack.EventTransferSuccess {
		writeError(w, apperr.BadRequest("Unsupported webhook event"))
		return
	}

	var data paystack.TransferData
	if err := json.Unmarshal(event.Data, &data); err != nil {
		writeError(w, apperr.BadRequest("Invalid or malformed request"))
		return
	}
	if data.Status != "success" {
		// transfer.success with a non-success status is a provider quirk we
		// acknowledge without acting on.
		s.logger.Warn("ignoring transfer.success with status",
			"reference", data.Reference, "status", data.Status)
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	date := data.TransferredAt
	if date == "" {
		date = data.UpdatedAt
	}
	dest := wallet.BankDetails{
		AccountName:   data.Recipient.Details.AccountName,
		AccountNumber: data.Recipient.Details.AccountNumber,
		BankName:      data.Recipient.Details.BankName,
	}.Dest()

	evt := events.New(data.Reference, events.WithdrawSuccessful{
		Amount: money.FromMinorUnits(data.Amount),
		Ref:    data.Reference,
		Date:   date,
		Dest:   dest,
	})
	if err := s.publisher.PublishAll(r.Context(), []events.Event{evt}); err != nil {
		s.logger.Error("publish withdraw_successful failed", "reference", data.Reference, "error", err)
		writeError(w, apperr.Internal("Could not process webhook, retry"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
