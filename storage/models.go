// Package storage persists the settlement engine's aggregates with gorm.
// Functions take the ambient *gorm.DB so callers can compose several of them
// inside a single db.Transaction closure; aggregate row locks use
// SELECT ... FOR UPDATE.
package storage

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// jsonColumn persists an arbitrary document as JSON text (jsonb on postgres).
type jsonColumn []byte

func (j jsonColumn) Value() (driver.Value, error) {
	if len(j) == 0 {
		return nil, nil
	}
	return string(j), nil
}

func (j *jsonColumn) Scan(src any) error {
	switch s := src.(type) {
	case nil:
		*j = nil
	case string:
		*j = []byte(s)
	case []byte:
		*j = append((*j)[:0], s...)
	default:
		return fmt.Errorf("storage: cannot scan %T into jsonColumn", src)
	}
	return nil
}

// GormDataType tells the migrator which column type to create.
func (jsonColumn) GormDataType() string { return "jsonb" }

// TransactionRow is the persisted shape of a ledger entry.
type TransactionRow struct {
	ID                     uuid.UUID       `gorm:"type:uuid;primaryKey"`
	Reference              string          `gorm:"size:64;uniqueIndex;not null"`
	Amount                 decimal.Decimal `gorm:"type:numeric(18,2);not null"`
	UserID                 string          `gorm:"size:64;index;not null"`
	Resource               string          `gorm:"size:32"`
	ResourceID             string          `gorm:"size:64"`
	Source                 string          `gorm:"size:32"`
	TransactionType        string          `gorm:"size:32"`
	TransactionDirection   string          `gorm:"size:16"`
	SettlementStatus       string          `gorm:"size:32;index:idx_transactions_due,priority:1"`
	ChargeData             jsonColumn
	SettlementData         jsonColumn
	Metadata               jsonColumn
	ParentID               *uuid.UUID `gorm:"type:uuid;index"`
	OccurredOn             time.Time  `gorm:"index:idx_transactions_occurred_on,sort:desc"`
	CreatedAt              time.Time
	DelayedSettlementUntil *time.Time `gorm:"index:idx_transactions_due,priority:2"`
}

// TableName pins the table name independent of gorm pluralisation rules.
func (TransactionRow) TableName() string { return "transactions" }

// WalletRow is the persisted shape of a user wallet.
type WalletRow struct {
	ID             uuid.UUID       `gorm:"type:uuid;primaryKey"`
	UserID         string          `gorm:"size:64;uniqueIndex;not null"`
	Balance        decimal.Decimal `gorm:"type:numeric(18,2);not null"`
	PendingBalance decimal.Decimal `gorm:"type:numeric(18,2);not null"`
	TxnPin         string          `gorm:"size:128"`
	PinUpdatedAt   *time.Time
	BankDetails    jsonColumn
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// TableName pins the table name.
func (WalletRow) TableName() string { return "wallets" }

// ChargeSettingRow is a named fee schedule.
type ChargeSettingRow struct {
	ChargeSettingID uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name            string    `gorm:"size:128"`
	Description     string
	ChargeType      string `gorm:"size:64;uniqueIndex"`
	IsActive        bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// TableName pins the table name.
func (ChargeSettingRow) TableName() string { return "charge_settings" }

// ChargeSettingVersionRow is one revision of a schedule's tiers.
type ChargeSettingVersionRow struct {
	VersionID       uuid.UUID `gorm:"type:uuid;primaryKey"`
	ChargeSettingID uuid.UUID `gorm:"type:uuid;uniqueIndex:uq_setting_version,priority:1;index:idx_versions_window,priority:1"`
	VersionNumber   int       `gorm:"uniqueIndex:uq_setting_version,priority:2"`
	Tiers           jsonColumn
	EffectiveFrom   time.Time  `gorm:"index:idx_versions_window,priority:2"`
	EffectiveUntil  *time.Time `gorm:"index:idx_versions_window,priority:3"`
	CreatedAt       time.Time
	CreatedBy       string `gorm:"size:64"`
	ChangeReason    string
}

// TableName pins the table name.
func (ChargeSettingVersionRow) TableName() string { return "charge_setting_versions" }

// AutoMigrate creates or updates the engine's tables.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&TransactionRow{},
		&WalletRow{},
		&ChargeSettingRow{},
		&ChargeSettingVersionRow{},
	)
}
