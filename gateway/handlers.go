package gateway

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"ticketpay/apperr"
	"ticketpay/checkout"
	"ticketpay/core/signing"
	"ticketpay/core/transaction"
	"ticketpay/core/wallet"
	"ticketpay/storage"
	"ticketpay/withdrawal"
)

func (s *Server) handleTicketPurchaseCharge(w http.ResponseWriter, r *http.Request) {
	ticketTypeID := r.URL.Query().Get("ticket_type_id")
	slug := r.URL.Query().Get("slug")
	if ticketTypeID == "" || slug == "" {
		writeError(w, apperr.BadRequest("ticket_type_id and slug are required"))
		return
	}
	quote, err := s.checkout.TicketPurchaseCharge(r.Context(), UserID(r.Context()), ticketTypeID, slug)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

func (s *Server) handleInstantWithdrawalCharge(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("amount")
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		writeError(w, apperr.BadRequest("Amount must be a valid number"))
		return
	}
	quote, err := s.checkout.InstantWithdrawalCharge(r.Context(), UserID(r.Context()), amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

func (s *Server) handleCreateTicketCheckout(w http.ResponseWriter, r *http.Request) {
	var req checkout.TicketCheckoutRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	link, err := s.checkout.CreateTicketCheckout(r.Context(), UserID(r.Context()), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"link": link})
}

func (s *Server) handleCreateDepositCheckout(w http.ResponseWriter, r *http.Request) {
	var req checkout.DepositCheckoutRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	link, err := s.checkout.CreateDepositCheckout(r.Context(), UserID(r.Context()), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"link": link})
}

type verifyRequest struct {
	Reference string `json:"reference"`
}

func (s *Server) handleVerifyTicketPurchase(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Reference == "" {
		writeError(w, apperr.BadRequest("Reference is required"))
		return
	}
	txn, err := s.checkout.VerifyTicketPurchase(r.Context(), UserID(r.Context()), req.Reference)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, transactionDTO(txn))
}

func (s *Server) handleVerifyDeposit(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Reference == "" {
		writeError(w, apperr.BadRequest("Reference is required"))
		return
	}
	txn, err := s.checkout.VerifyDeposit(r.Context(), UserID(r.Context()), req.Reference)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, transactionDTO(txn))
}

type bankDetailsDTO struct {
	AccountName   string `json:"account_name"`
	AccountNumber string `json:"account_number"`
	BankName      string `json:"bank_name"`
	BankCode      string `json:"bank_code"`
}

type balanceDTO struct {
	Available   decimal.Decimal `json:"available"`
	Pending     decimal.Decimal `json:"pending"`
	HasPin      bool            `json:"has_pin"`
	BankDetails *bankDetailsDTO `json:"bank_details,omitempty"`
}

func (s *Server) handleWalletBalance(w http.ResponseWriter, r *http.Request) {
	wlt, err := storage.WalletByUserOrCreate(s.db, UserID(r.Context()), false)
	if err != nil {
		writeError(w, err)
		return
	}
	body := balanceDTO{
		Available: wlt.Balance,
		Pending:   wlt.PendingBalance,
		HasPin:    wlt.HasPin(),
	}
	if wlt.BankDetails != nil {
		body.BankDetails = &bankDetailsDTO{
			AccountName:   wlt.BankDetails.AccountName,
			AccountNumber: wlt.BankDetails.AccountNumber,
			BankName:      wlt.BankDetails.BankName,
			BankCode:      wlt.BankDetails.BankCode,
		}
	}
	writeJSON(w, http.StatusOK, body)
}

type ledgerEntryDTO struct {
	ID               uuid.UUID       `json:"id"`
	Amount           decimal.Decimal `json:"amount"`
	Date             time.Time       `json:"date"`
	Description      string          `json:"description"`
	Reference        string          `json:"reference"`
	Source           string          `json:"source"`
	SettlementStatus string          `json:"settlement_status"`
	Direction        string          `json:"direction"`
}

func transactionDTO(txn *transaction.Transaction) ledgerEntryDTO {
	return ledgerEntryDTO{
		ID:               txn.ID,
		Amount:           txn.Amount,
		Date:             txn.OccurredOn,
		Description:      txn.Description(),
		Reference:        txn.Reference,
		Source:           string(txn.Source),
		SettlementStatus: string(txn.Status),
		Direction:        string(txn.Direction),
	}
}

type ledgerPageDTO struct {
	Data       []ledgerEntryDTO `json:"data"`
	Page       int              `json:"page"`
	PageSize   int              `json:"page_size"`
	TotalItems int64            `json:"total_items"`
	TotalPages int              `json:"total_pages"`
}

func (s *Server) handleWalletTransactions(w http.ResponseWriter, r *http.Request) {
	page := queryInt(r, "page", 1)
	pageSize := queryInt(r, "page_size", 20)
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	txns, total, err := storage.TransactionsByUser(s.db, UserID(r.Context()), (page-1)*pageSize, pageSize)
	if err != nil {
		writeError(w, err)
		return
	}
	data := make([]ledgerEntryDTO, 0, len(txns))
	for _, txn := range txns {
		data = append(data, transactionDTO(txn))
	}
	writeJSON(w, http.StatusOK, ledgerPageDTO{
		Data:       data,
		Page:       page,
		PageSize:   pageSize,
		TotalItems: total,
		TotalPages: int(math.Ceil(float64(total) / float64(pageSize))),
	})
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func (s *Server) handleListBanks(w http.ResponseWriter, r *http.Request) {
	banks, err := s.provider.ListBanks(r.Context())
	if err != nil {
		writeError(w, apperr.Unavailable("Could not reach the payment provider, try again later").WithCause(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"banks": banks})
}

// handleResolveAccount looks up an account name and signs the result so
// update-bank can later prove the pair was provider-verified.
func (s *Server) handleResolveAccount(w http.ResponseWriter, r *http.Request) {
	accountNumber := r.URL.Query().Get("account_number")
	bankCode := r.URL.Query().Get("bank_code")
	if accountNumber == "" || bankCode == "" {
		writeError(w, apperr.BadRequest("account_number and bank_code are required"))
		return
	}
	account, err := s.provider.ResolveAccount(r.Context(), accountNumber, bankCode)
	if err != nil {
		writeError(w, apperr.BadRequest("Could not resolve account details").WithCause(err))
		return
	}
	payload := map[string]any{
		"account_number": account.AccountNumber,
		"account_name":   account.AccountName,
	}
	signature, err := signing.Sign(payload, s.cfg.AccountValidationKey)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"account_number": account.AccountNumber,
		"account_name":   account.AccountName,
		"signature":      signature,
	})
}

type updatePinRequest struct {
	Pin        string `json:"pin"`
	CurrentPin string `json:"current_pin"`
}

func (s *Server) handleUpdatePin(w http.ResponseWriter, r *http.Request) {
	var req updatePinRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	err := s.db.Transaction(func(tx *gorm.DB) error {
		wlt, err := storage.WalletByUserOrCreate(tx, UserID(r.Context()), true)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		if wlt.HasPin() {
			err = wlt.ChangePin(req.CurrentPin, req.Pin, now)
		} else {
			err = wlt.SetPin(req.Pin, now)
		}
		if err != nil {
			return mapPinError(err)
		}
		return storage.SaveWallet(tx, wlt)
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

type updateBankRequest struct {
	AccountNumber string `json:"account_number"`
	AccountName   string `json:"account_name"`
	BankName      string `json:"bank_name"`
	BankCode      string `json:"bank_code"`
	Signature     string `json:"signature"`
	Pin           string `json:"pin"`
}

// handleUpdateBank binds a withdrawal destination to the caller's wallet. The
// account pair must carry the signature minted by resolve-personal-account,
// and the change is PIN-gated.
func (s *Server) handleUpdateBank(w http.ResponseWriter, r *http.Request) {
	var req updateBankRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	payload := map[string]any{
		"account_number": req.AccountNumber,
		"account_name":   req.AccountName,
	}
	ok, err := signing.Verify(payload, s.cfg.AccountValidationKey, req.Signature)
	if err != nil || !ok {
		writeError(w, apperr.BadRequest("Invalid or malformed request"))
		return
	}
	err = s.db.Transaction(func(tx *gorm.DB) error {
		wlt, err := storage.WalletByUserOrCreate(tx, UserID(r.Context()), true)
		if err != nil {
			return err
		}
		if err := wlt.VerifyPin(req.Pin); err != nil {
			return mapPinError(err)
		}
		err = wlt.SetBankDetails(wallet.BankDetails{
			AccountName:   req.AccountName,
			AccountNumber: req.AccountNumber,
			BankName:      req.BankName,
			BankCode:      req.BankCode,
		}, time.Now().UTC())
		if err != nil {
			return apperr.BadRequest("Invalid bank details").WithCause(err)
		}
		return storage.SaveWallet(tx, wlt)
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func mapPinError(err error) error {
	switch {
	case errors.Is(err, wallet.ErrNoPin):
		return apperr.BadRequest("Set a transaction pin first")
	case errors.Is(err, wallet.ErrPinMismatch):
		return apperr.Forbidden("Invalid transaction pin")
	case errors.Is(err, wallet.ErrInvalidPin):
		return apperr.BadRequest("Pin must be at least 4 digits")
	}
	return err
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req withdrawal.SubmitRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	txn, err := s.withdrawal.SubmitWithdrawal(r.Context(), UserID(r.Context()), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"reference":         txn.Reference,
		"settlement_status": string(txn.Status),
	})
}
