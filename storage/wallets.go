package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"ticketpay/core/wallet"
)

func walletToRow(w *wallet.Wallet) (*WalletRow, error) {
	row := &WalletRow{
		ID:             w.ID,
		UserID:         w.UserID,
		Balance:        w.Balance,
		PendingBalance: w.PendingBalance,
		TxnPin:         w.TxnPin,
		PinUpdatedAt:   w.PinUpdatedAt,
	}
	if w.BankDetails != nil {
		encoded, err := json.Marshal(w.BankDetails)
		if err != nil {
			return nil, fmt.Errorf("storage: encode bank_details: %w", err)
		}
		row.BankDetails = encoded
	}
	return row, nil
}

func rowToWallet(row *WalletRow) (*wallet.Wallet, error) {
	w := &wallet.Wallet{
		ID:             row.ID,
		UserID:         row.UserID,
		Balance:        row.Balance,
		PendingBalance: row.PendingBalance,
		TxnPin:         row.TxnPin,
		PinUpdatedAt:   row.PinUpdatedAt,
	}
	if len(row.BankDetails) > 0 {
		w.BankDetails = &wallet.BankDetails{}
		if err := json.Unmarshal(row.BankDetails, w.BankDetails); err != nil {
			return nil, fmt.Errorf("storage: decode bank_details: %w", err)
		}
	}
	return w, nil
}

// WalletByUserOrCreate loads a user's wallet, creating an empty one on first
// access. With lock the returned row is held FOR UPDATE for the remainder of
// the ambient transaction.
func WalletByUserOrCreate(db *gorm.DB, userID string, lock bool) (*wallet.Wallet, error) {
	query := db
	if lock {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var row WalletRow
	err := query.First(&row, "user_id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		fresh := wallet.New(userID)
		freshRow, convErr := walletToRow(fresh)
		if convErr != nil {
			return nil, convErr
		}
		now := time.Now().UTC()
		freshRow.CreatedAt = now
		freshRow.UpdatedAt = now
		// A concurrent first access can win the insert; fall back to the row
		// it created.
		if createErr := db.Create(freshRow).Error; createErr != nil {
			err = query.First(&row, "user_id = ?", userID).Error
			if err != nil {
				return nil, fmt.Errorf("storage: get-or-create wallet for %s: %w", userID, createErr)
			}
			return rowToWallet(&row)
		}
		if lock {
			if err := query.First(&row, "user_id = ?", userID).Error; err != nil {
				return nil, fmt.Errorf("storage: relock wallet for %s: %w", userID, err)
			}
			return rowToWallet(&row)
		}
		return fresh, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: load wallet for %s: %w", userID, err)
	}
	return rowToWallet(&row)
}

// SaveWallet persists a wallet aggregate.
func SaveWallet(db *gorm.DB, w *wallet.Wallet) error {
	row, err := walletToRow(w)
	if err != nil {
		return err
	}
	row.UpdatedAt = time.Now().UTC()
	if err := db.Save(row).Error; err != nil {
		return fmt.Errorf("storage: save wallet for %s: %w", w.UserID, err)
	}
	return nil
}
