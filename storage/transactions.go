package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"ticketpay/core/transaction"
)

// ErrTransactionNotFound indicates an unknown id or reference.
var ErrTransactionNotFound = errors.New("storage: transaction not found")

func transactionToRow(txn *transaction.Transaction) (*TransactionRow, error) {
	row := &TransactionRow{
		ID:                     txn.ID,
		Reference:              txn.Reference,
		Amount:                 txn.Amount,
		UserID:                 txn.UserID,
		Resource:               txn.Resource,
		ResourceID:             txn.ResourceID,
		Source:                 string(txn.Source),
		TransactionType:        string(txn.Type),
		TransactionDirection:   string(txn.Direction),
		SettlementStatus:       string(txn.Status),
		ParentID:               txn.ParentID,
		OccurredOn:             txn.OccurredOn,
		CreatedAt:              txn.CreatedAt,
		DelayedSettlementUntil: txn.DelayedSettlementUntil,
	}
	var err error
	if txn.ChargeData != nil {
		if row.ChargeData, err = json.Marshal(txn.ChargeData); err != nil {
			return nil, fmt.Errorf("storage: encode charge_data: %w", err)
		}
	}
	if len(txn.SettlementData) > 0 {
		if row.SettlementData, err = json.Marshal(txn.SettlementData); err != nil {
			return nil, fmt.Errorf("storage: encode settlement_data: %w", err)
		}
	}
	if len(txn.Metadata) > 0 {
		if row.Metadata, err = json.Marshal(txn.Metadata); err != nil {
			return nil, fmt.Errorf("storage: encode metadata: %w", err)
		}
	}
	return row, nil
}

func rowToTransaction(row *TransactionRow) (*transaction.Transaction, error) {
	txn := &transaction.Transaction{
		ID:                     row.ID,
		Reference:              row.Reference,
		Amount:                 row.Amount,
		UserID:                 row.UserID,
		Resource:               row.Resource,
		ResourceID:             row.ResourceID,
		Source:                 transaction.Source(row.Source),
		Type:                   transaction.Type(row.TransactionType),
		Direction:              transaction.Direction(row.TransactionDirection),
		Status:                 transaction.Status(row.SettlementStatus),
		ParentID:               row.ParentID,
		OccurredOn:             row.OccurredOn,
		CreatedAt:              row.CreatedAt,
		DelayedSettlementUntil: row.DelayedSettlementUntil,
	}
	if len(row.ChargeData) > 0 {
		txn.ChargeData = &transaction.ChargeData{}
		if err := json.Unmarshal(row.ChargeData, txn.ChargeData); err != nil {
			return nil, fmt.Errorf("storage: decode charge_data: %w", err)
		}
	}
	if len(row.SettlementData) > 0 {
		if err := json.Unmarshal(row.SettlementData, &txn.SettlementData); err != nil {
			return nil, fmt.Errorf("storage: decode settlement_data: %w", err)
		}
	}
	if len(row.Metadata) > 0 {
		if err := json.Unmarshal(row.Metadata, &txn.Metadata); err != nil {
			return nil, fmt.Errorf("storage: decode metadata: %w", err)
		}
	}
	return txn, nil
}

// SaveTransaction inserts or updates a ledger entry.
func SaveTransaction(db *gorm.DB, txn *transaction.Transaction) error {
	row, err := transactionToRow(txn)
	if err != nil {
		return err
	}
	if err := db.Save(row).Error; err != nil {
		return fmt.Errorf("storage: save transaction %s: %w", txn.Reference, err)
	}
	return nil
}

func firstTransaction(db *gorm.DB, lock bool, query string, args ...any) (*transaction.Transaction, error) {
	if lock {
		db = db.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var row TransactionRow
	if err := db.First(&row, append([]any{query}, args...)...).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, fmt.Errorf("storage: load transaction: %w", err)
	}
	return rowToTransaction(&row)
}

// TransactionByID loads a ledger entry by id, optionally under a row lock.
func TransactionByID(db *gorm.DB, id uuid.UUID, lock bool) (*transaction.Transaction, error) {
	return firstTransaction(db, lock, "id = ?", id)
}

// TransactionByReference loads a ledger entry by its unique reference,
// optionally under a row lock.
func TransactionByReference(db *gorm.DB, reference string, lock bool) (*transaction.Transaction, error) {
	return firstTransaction(db, lock, "reference = ?", reference)
}

// TransactionByReferenceOrNil is TransactionByReference with not-found mapped
// to (nil, nil) for idempotency checks.
func TransactionByReferenceOrNil(db *gorm.DB, reference string, lock bool) (*transaction.Transaction, error) {
	txn, err := TransactionByReference(db, reference, lock)
	if errors.Is(err, ErrTransactionNotFound) {
		return nil, nil
	}
	return txn, err
}

// FindDueScheduled returns up to limit scheduled transactions whose delay
// window has elapsed, oldest first, under row locks so concurrent worker
// passes do not double-settle.
func FindDueScheduled(db *gorm.DB, now time.Time, limit int) ([]*transaction.Transaction, error) {
	var rows []TransactionRow
	err := db.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("settlement_status = ? AND delayed_settlement_until <= ?", string(transaction.StatusScheduled), now).
		Order("delayed_settlement_until asc").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("storage: scan due settlements: %w", err)
	}
	due := make([]*transaction.Transaction, 0, len(rows))
	for i := range rows {
		txn, err := rowToTransaction(&rows[i])
		if err != nil {
			return nil, err
		}
		due = append(due, txn)
	}
	return due, nil
}

// TransactionsByParent lists the settlement children of a parent transaction
// in creation order.
func TransactionsByParent(db *gorm.DB, parentID uuid.UUID) ([]*transaction.Transaction, error) {
	var rows []TransactionRow
	err := db.Where("parent_id = ?", parentID).
		Order("created_at asc").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("storage: list settlement children: %w", err)
	}
	children := make([]*transaction.Transaction, 0, len(rows))
	for i := range rows {
		txn, err := rowToTransaction(&rows[i])
		if err != nil {
			return nil, err
		}
		children = append(children, txn)
	}
	return children, nil
}

// TransactionsByUser returns one page of a user's ledger, newest first, with
// the total row count for pagination.
func TransactionsByUser(db *gorm.DB, userID string, offset, limit int) ([]*transaction.Transaction, int64, error) {
	var total int64
	if err := db.Model(&TransactionRow{}).Where("user_id = ?", userID).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("storage: count transactions: %w", err)
	}
	var rows []TransactionRow
	err := db.Where("user_id = ?", userID).
		Order("occurred_on desc").
		Offset(offset).
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, 0, fmt.Errorf("storage: list transactions: %w", err)
	}
	page := make([]*transaction.Transaction, 0, len(rows))
	for i := range rows {
		txn, err := rowToTransaction(&rows[i])
		if err != nil {
			return nil, 0, err
		}
		page = append(page, txn)
	}
	return page, total, nil
}
