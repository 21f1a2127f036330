package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"ticketpay/core/charge"
)

var (
	// ErrSettingNotFound indicates an unknown charge type or setting id.
	ErrSettingNotFound = errors.New("storage: charge setting not found")
	// ErrVersionNotFound indicates no version matches the query.
	ErrVersionNotFound = errors.New("storage: charge setting version not found")
)

func settingToRow(s *charge.Setting) *ChargeSettingRow {
	return &ChargeSettingRow{
		ChargeSettingID: s.ChargeSettingID,
		Name:            s.Name,
		Description:     s.Description,
		ChargeType:      s.ChargeType,
		IsActive:        s.IsActive,
		CreatedAt:       s.CreatedAt,
		UpdatedAt:       s.UpdatedAt,
	}
}

func rowToSetting(row *ChargeSettingRow) *charge.Setting {
	return &charge.Setting{
		ChargeSettingID: row.ChargeSettingID,
		Name:            row.Name,
		Description:     row.Description,
		ChargeType:      row.ChargeType,
		IsActive:        row.IsActive,
		CreatedAt:       row.CreatedAt,
		UpdatedAt:       row.UpdatedAt,
	}
}

func versionToRow(v *charge.Version) (*ChargeSettingVersionRow, error) {
	tiers, err := json.Marshal(v.Tiers)
	if err != nil {
		return nil, fmt.Errorf("storage: encode tiers: %w", err)
	}
	return &ChargeSettingVersionRow{
		VersionID:       v.VersionID,
		ChargeSettingID: v.ChargeSettingID,
		VersionNumber:   v.VersionNumber,
		Tiers:           tiers,
		EffectiveFrom:   v.EffectiveFrom,
		EffectiveUntil:  v.EffectiveUntil,
		CreatedAt:       v.CreatedAt,
		CreatedBy:       v.CreatedBy,
		ChangeReason:    v.ChangeReason,
	}, nil
}

func rowToVersion(row *ChargeSettingVersionRow) (*charge.Version, error) {
	version := &charge.Version{
		VersionID:       row.VersionID,
		ChargeSettingID: row.ChargeSettingID,
		VersionNumber:   row.VersionNumber,
		EffectiveFrom:   row.EffectiveFrom,
		EffectiveUntil:  row.EffectiveUntil,
		CreatedAt:       row.CreatedAt,
		CreatedBy:       row.CreatedBy,
		ChangeReason:    row.ChangeReason,
	}
	if len(row.Tiers) > 0 {
		if err := json.Unmarshal(row.Tiers, &version.Tiers); err != nil {
			return nil, fmt.Errorf("storage: decode tiers: %w", err)
		}
	}
	return version, nil
}

// SettingByType loads the charge setting for a charge type.
func SettingByType(db *gorm.DB, chargeType string) (*charge.Setting, error) {
	var row ChargeSettingRow
	if err := db.First(&row, "charge_type = ?", chargeType).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: type %s", ErrSettingNotFound, chargeType)
		}
		return nil, fmt.Errorf("storage: load charge setting: %w", err)
	}
	return rowToSetting(&row), nil
}

// SettingsAll lists every charge setting.
func SettingsAll(db *gorm.DB) ([]*charge.Setting, error) {
	var rows []ChargeSettingRow
	if err := db.Order("charge_type asc").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("storage: list charge settings: %w", err)
	}
	settings := make([]*charge.Setting, 0, len(rows))
	for i := range rows {
		settings = append(settings, rowToSetting(&rows[i]))
	}
	return settings, nil
}

// SaveSetting persists a charge setting.
func SaveSetting(db *gorm.DB, s *charge.Setting) error {
	if err := db.Save(settingToRow(s)).Error; err != nil {
		return fmt.Errorf("storage: save charge setting %s: %w", s.ChargeType, err)
	}
	return nil
}

// VersionByID loads one schedule version.
func VersionByID(db *gorm.DB, versionID uuid.UUID) (*charge.Version, error) {
	var row ChargeSettingVersionRow
	if err := db.First(&row, "version_id = ?", versionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrVersionNotFound
		}
		return nil, fmt.Errorf("storage: load version: %w", err)
	}
	return rowToVersion(&row)
}

// CurrentVersion returns the version of settingID active at the supplied
// instant, preferring the highest version number when windows overlap.
func CurrentVersion(db *gorm.DB, settingID uuid.UUID, at time.Time) (*charge.Version, error) {
	var row ChargeSettingVersionRow
	err := db.
		Where("charge_setting_id = ? AND effective_from <= ? AND (effective_until IS NULL OR effective_until > ?)", settingID, at, at).
		Order("version_number desc").
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrVersionNotFound
		}
		return nil, fmt.Errorf("storage: load current version: %w", err)
	}
	return rowToVersion(&row)
}

// VersionHistory lists a setting's versions, newest first.
func VersionHistory(db *gorm.DB, settingID uuid.UUID) ([]*charge.Version, error) {
	var rows []ChargeSettingVersionRow
	err := db.Where("charge_setting_id = ?", settingID).
		Order("version_number desc").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("storage: list versions: %w", err)
	}
	versions := make([]*charge.Version, 0, len(rows))
	for i := range rows {
		version, err := rowToVersion(&rows[i])
		if err != nil {
			return nil, err
		}
		versions = append(versions, version)
	}
	return versions, nil
}

// AddVersion validates the tiers and appends a new version for settingID:
// the latest row is read FOR UPDATE so version numbers cannot race, any open
// window is closed at the new version's effective_from, then the version is
// inserted. The assigned version number is written back to v.
func AddVersion(db *gorm.DB, v *charge.Version) error {
	if err := charge.ValidateTiers(v.Tiers); err != nil {
		return err
	}
	return db.Transaction(func(tx *gorm.DB) error {
		var latest ChargeSettingVersionRow
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("charge_setting_id = ?", v.ChargeSettingID).
			Order("version_number desc").
			First(&latest).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			v.VersionNumber = 1
		case err != nil:
			return fmt.Errorf("storage: lock latest version: %w", err)
		default:
			v.VersionNumber = latest.VersionNumber + 1
		}

		err = tx.Model(&ChargeSettingVersionRow{}).
			Where("charge_setting_id = ? AND effective_until IS NULL", v.ChargeSettingID).
			Update("effective_until", v.EffectiveFrom).Error
		if err != nil {
			return fmt.Errorf("storage: close open versions: %w", err)
		}

		if v.VersionID == uuid.Nil {
			v.VersionID = uuid.New()
		}
		if v.CreatedAt.IsZero() {
			v.CreatedAt = time.Now().UTC()
		}
		row, err := versionToRow(v)
		if err != nil {
			return err
		}
		if err := tx.Create(row).Error; err != nil {
			return fmt.Errorf("storage: insert version: %w", err)
		}
		return nil
	})
}
