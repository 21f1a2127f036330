package charge

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

var kobo = decimal.RequireFromString("0.01")

// ValidateTiers checks a proposed tier list for a new version: two-decimal
// monetary fields, min ≤ max within each tier, ascending contiguous bands
// stepping by exactly one kobo, and an open-ended final tier. The slice is
// sorted by MinPrice in place.
func ValidateTiers(tiers []Tier) error {
	if len(tiers) == 0 {
		return fmt.Errorf("charge: at least one tier required")
	}
	for i, tier := range tiers {
		if err := validateTier(tier); err != nil {
			return fmt.Errorf("charge: tier %d: %w", i, err)
		}
	}
	sort.Slice(tiers, func(i, j int) bool {
		return tiers[i].MinPrice.LessThan(tiers[j].MinPrice)
	})
	for i, tier := range tiers {
		last := i == len(tiers)-1
		if last {
			if tier.MaxPrice != nil {
				return fmt.Errorf("charge: last tier must be open-ended")
			}
			continue
		}
		if tier.MaxPrice == nil {
			return fmt.Errorf("charge: tier %d: only the last tier may omit max_price", i)
		}
		next := tiers[i+1]
		if tier.MaxPrice.GreaterThanOrEqual(next.MinPrice) {
			return fmt.Errorf("charge: tiers %d and %d overlap", i, i+1)
		}
		if tier.MaxPrice.Add(kobo).LessThan(next.MinPrice) {
			return fmt.Errorf("charge: gap between tiers %d and %d", i, i+1)
		}
	}
	return nil
}

func validateTier(t Tier) error {
	for name, value := range map[string]*decimal.Decimal{
		"min_price":  &t.MinPrice,
		"max_price":  t.MaxPrice,
		"min_charge": t.MinCharge,
		"max_charge": t.MaxCharge,
	} {
		if value == nil {
			continue
		}
		if value.Exponent() < -2 {
			return fmt.Errorf("%s has more than two decimal places", name)
		}
		if value.IsNegative() {
			return fmt.Errorf("%s is negative", name)
		}
	}
	if t.MaxPrice != nil && t.MinPrice.GreaterThan(*t.MaxPrice) {
		return fmt.Errorf("min_price exceeds max_price")
	}
	if t.MinCharge != nil && t.MaxCharge != nil && t.MinCharge.GreaterThan(*t.MaxCharge) {
		return fmt.Errorf("min_charge exceeds max_charge")
	}
	if !t.PercentageRate.IsPositive() {
		return fmt.Errorf("percentage_rate must be positive")
	}
	return nil
}
