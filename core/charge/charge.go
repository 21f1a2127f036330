// Package charge models the time-sliced fee schedules used to quote purchase
// and withdrawal fees. Schedules are read-mostly here: versions are seeded by
// the operator CLI and only evaluated by the money paths.
package charge

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"ticketpay/core/money"
)

// Charge types recognised by the quoting endpoints.
const (
	TypeTicketPurchase    = "ticket_purchase_ng"
	TypeInstantWithdrawal = "instant_withdrawal_ng"
)

var (
	// ErrNoTier indicates no tier of the active version covers the amount.
	ErrNoTier = errors.New("charge: no tier covers amount")
	// ErrNoActiveVersion indicates the schedule has no version active at the
	// evaluation time.
	ErrNoActiveVersion = errors.New("charge: no active version")
)

// Tier is one band of a fee schedule. MaxPrice is nil only on the last tier,
// which is open-ended. Bounds are inclusive on both ends.
type Tier struct {
	TierName       string           `json:"tier_name,omitempty"`
	MinPrice       decimal.Decimal  `json:"min_price"`
	MaxPrice       *decimal.Decimal `json:"max_price,omitempty"`
	PercentageRate decimal.Decimal  `json:"percentage_rate"`
	MinCharge      *decimal.Decimal `json:"min_charge,omitempty"`
	MaxCharge      *decimal.Decimal `json:"max_charge,omitempty"`
}

// AppliesTo reports whether amount falls inside the tier band.
func (t Tier) AppliesTo(amount decimal.Decimal) bool {
	if amount.LessThan(t.MinPrice) {
		return false
	}
	if t.MaxPrice != nil && amount.GreaterThan(*t.MaxPrice) {
		return false
	}
	return true
}

// Charge computes the fee for base under this tier: percentage of base,
// rounded half-up to the kobo, clamped into [min_charge, max_charge].
func (t Tier) Charge(base decimal.Decimal) decimal.Decimal {
	fee := money.Round2(base.Mul(t.PercentageRate).Div(decimal.NewFromInt(100)))
	if t.MinCharge != nil && fee.LessThan(*t.MinCharge) {
		fee = *t.MinCharge
	}
	if t.MaxCharge != nil && fee.GreaterThan(*t.MaxCharge) {
		fee = *t.MaxCharge
	}
	return fee
}

// Setting is a named fee schedule; its versions carry the actual tiers.
type Setting struct {
	ChargeSettingID uuid.UUID
	Name            string
	Description     string
	ChargeType      string
	IsActive        bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Version is one immutable revision of a schedule's tiers, active for the
// half-open interval [EffectiveFrom, EffectiveUntil).
type Version struct {
	VersionID       uuid.UUID
	ChargeSettingID uuid.UUID
	VersionNumber   int
	Tiers           []Tier
	EffectiveFrom   time.Time
	EffectiveUntil  *time.Time
	CreatedAt       time.Time
	CreatedBy       string
	ChangeReason    string
}

// IsActive reports whether the version covers t.
func (v Version) IsActive(t time.Time) bool {
	if t.Before(v.EffectiveFrom) {
		return false
	}
	return v.EffectiveUntil == nil || t.Before(*v.EffectiveUntil)
}

// FindTier returns the tier covering amount.
func (v Version) FindTier(amount decimal.Decimal) (Tier, error) {
	for _, tier := range v.Tiers {
		if tier.AppliesTo(amount) {
			return tier, nil
		}
	}
	return Tier{}, fmt.Errorf("%w: %s", ErrNoTier, amount.StringFixed(2))
}

// Charge evaluates the version fee for base.
func (v Version) Charge(base decimal.Decimal) (decimal.Decimal, error) {
	tier, err := v.FindTier(base)
	if err != nil {
		return decimal.Zero, err
	}
	return tier.Charge(base), nil
}

// Breakdown is the full quote the signed-charge endpoints hand to clients.
type Breakdown struct {
	BaseAmount       decimal.Decimal
	ChargeSettingID  uuid.UUID
	VersionID        uuid.UUID
	VersionNumber    int
	TierName         string
	TierRange        string
	PercentageRate   decimal.Decimal
	CalculatedCharge decimal.Decimal
	MinCapApplied    bool
	MaxCapApplied    bool
}

// Quote evaluates version for base and returns the complete breakdown used
// for signed token issuance.
func Quote(v Version, base decimal.Decimal) (Breakdown, error) {
	tier, err := v.FindTier(base)
	if err != nil {
		return Breakdown{}, err
	}
	raw := money.Round2(base.Mul(tier.PercentageRate).Div(decimal.NewFromInt(100)))
	fee := tier.Charge(base)
	upper := "∞"
	if tier.MaxPrice != nil {
		upper = tier.MaxPrice.StringFixed(2)
	}
	return Breakdown{
		BaseAmount:       money.Round2(base),
		ChargeSettingID:  v.ChargeSettingID,
		VersionID:        v.VersionID,
		VersionNumber:    v.VersionNumber,
		TierName:         tier.TierName,
		TierRange:        fmt.Sprintf("%s-%s", tier.MinPrice.StringFixed(2), upper),
		PercentageRate:   tier.PercentageRate,
		CalculatedCharge: fee,
		MinCapApplied:    tier.MinCharge != nil && raw.LessThan(*tier.MinCharge),
		MaxCapApplied:    tier.MaxCharge != nil && raw.GreaterThan(*tier.MaxCharge),
	}, nil
}
