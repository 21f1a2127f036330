// Package wallet holds the per-user balance aggregate. All invariants —
// non-negative balances, sufficient funds on withdrawal, PIN policy — are
// enforced inside the aggregate; callers serialise mutation with a row lock.
package wallet

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrInsufficientBalance indicates the available balance cannot cover the
	// requested amount.
	ErrInsufficientBalance = errors.New("wallet: insufficient balance")
	// ErrInsufficientPending indicates a release larger than the held amount.
	ErrInsufficientPending = errors.New("wallet: insufficient pending balance")
	// ErrBalanceLimit indicates a deposit would exceed the configured cap.
	ErrBalanceLimit = errors.New("wallet: balance limit exceeded")
	// ErrInvalidPin indicates a PIN that fails the 4-digit policy.
	ErrInvalidPin = errors.New("wallet: pin must be at least 4 digits")
	// ErrPinMismatch indicates the supplied PIN does not match the stored hash.
	ErrPinMismatch = errors.New("wallet: pin mismatch")
	// ErrNoPin indicates a PIN operation on a wallet without one.
	ErrNoPin = errors.New("wallet: no pin set")
	// ErrInvalidAmount indicates a non-positive amount.
	ErrInvalidAmount = errors.New("wallet: amount must be positive")
)

// BankDetails is the withdrawal destination bound to a wallet.
type BankDetails struct {
	AccountName   string    `json:"account_name"`
	AccountNumber string    `json:"account_number"`
	BankName      string    `json:"bank_name"`
	BankCode      string    `json:"bank_code"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Dest renders the destination as shown in notifications and ledger rows.
func (b BankDetails) Dest() string {
	return strings.Join([]string{b.AccountNumber, b.AccountName, b.BankName}, " • ")
}

// Wallet is the per-user balance holder. Created on first access and never
// destroyed.
type Wallet struct {
	ID             uuid.UUID
	UserID         string
	Balance        decimal.Decimal
	PendingBalance decimal.Decimal
	TxnPin         string
	PinUpdatedAt   *time.Time
	BankDetails    *BankDetails
}

// New returns an empty wallet for userID.
func New(userID string) *Wallet {
	return &Wallet{ID: uuid.New(), UserID: userID, Balance: decimal.Zero, PendingBalance: decimal.Zero}
}

// CanWithdraw reports whether the available balance covers amount. Pending
// funds do not count.
func (w *Wallet) CanWithdraw(amount decimal.Decimal) bool {
	return amount.IsPositive() && w.Balance.GreaterThanOrEqual(amount)
}

// ConfirmCanDeposit fails when crediting amount would push the balance past
// max. A non-positive max disables the cap.
func (w *Wallet) ConfirmCanDeposit(amount, max decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	if max.IsPositive() && w.Balance.Add(amount).GreaterThan(max) {
		return fmt.Errorf("%w: balance %s + %s exceeds %s", ErrBalanceLimit, w.Balance, amount, max)
	}
	return nil
}

// Deposit credits amount to the available balance.
func (w *Wallet) Deposit(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	w.Balance = w.Balance.Add(amount)
	return nil
}

// Withdraw debits amount from the available balance.
func (w *Wallet) Withdraw(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	if !w.CanWithdraw(amount) {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, w.Balance, amount)
	}
	w.Balance = w.Balance.Sub(amount)
	return nil
}

// HoldFunds moves amount from the available balance into pending.
func (w *Wallet) HoldFunds(amount decimal.Decimal) error {
	if err := w.Withdraw(amount); err != nil {
		return err
	}
	w.PendingBalance = w.PendingBalance.Add(amount)
	return nil
}

// ReleaseHold moves amount from pending back into the available balance.
func (w *Wallet) ReleaseHold(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	if w.PendingBalance.LessThan(amount) {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientPending, w.PendingBalance, amount)
	}
	w.PendingBalance = w.PendingBalance.Sub(amount)
	w.Balance = w.Balance.Add(amount)
	return nil
}

// HasPin reports whether a transaction PIN has been set.
func (w *Wallet) HasPin() bool { return w.TxnPin != "" }

// SetPin hashes and stores a new transaction PIN. PINs are at least four
// digits; the plaintext is never retained.
func (w *Wallet) SetPin(pin string, now time.Time) error {
	if err := validatePin(pin); err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("wallet: hash pin: %w", err)
	}
	w.TxnPin = string(hash)
	w.PinUpdatedAt = &now
	return nil
}

// ChangePin verifies the current PIN before storing the replacement.
func (w *Wallet) ChangePin(current, next string, now time.Time) error {
	if err := w.VerifyPin(current); err != nil {
		return err
	}
	return w.SetPin(next, now)
}

// VerifyPin compares pin against the stored hash.
func (w *Wallet) VerifyPin(pin string) error {
	if !w.HasPin() {
		return ErrNoPin
	}
	if err := bcrypt.CompareHashAndPassword([]byte(w.TxnPin), []byte(pin)); err != nil {
		return ErrPinMismatch
	}
	return nil
}

// SetBankDetails binds a withdrawal destination to the wallet.
func (w *Wallet) SetBankDetails(details BankDetails, now time.Time) error {
	if strings.TrimSpace(details.AccountNumber) == "" || strings.TrimSpace(details.AccountName) == "" {
		return fmt.Errorf("wallet: account name and number required")
	}
	if strings.TrimSpace(details.BankCode) == "" {
		return fmt.Errorf("wallet: bank code required")
	}
	details.UpdatedAt = now
	w.BankDetails = &details
	return nil
}

func validatePin(pin string) error {
	if len(pin) < 4 {
		return ErrInvalidPin
	}
	for _, c := range pin {
		if c < '0' || c > '9' {
			return ErrInvalidPin
		}
	}
	return nil
}
