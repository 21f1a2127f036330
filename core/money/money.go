package money

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Amounts are fixed-point naira values with two decimal places. Rounding is
// half-up, which for the non-negative amounts that flow through the ledger is
// the same as decimal's round-half-away-from-zero.

var (
	minorFactor = decimal.NewFromInt(100)

	// Zero is the canonical zero amount.
	Zero = decimal.Zero
)

// Round2 quantizes amount to two decimal places, half-up.
func Round2(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(2)
}

// FromMinorUnits converts a provider amount in kobo to a major-unit decimal.
func FromMinorUnits(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}

// ToMinorUnits converts a major-unit amount to kobo, rounding half-up first.
func ToMinorUnits(amount decimal.Decimal) int64 {
	return Round2(amount).Mul(minorFactor).IntPart()
}

// ParseAmount parses a decimal string and quantizes it to two places.
func ParseAmount(raw string) (decimal.Decimal, error) {
	parsed, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, fmt.Errorf("money: parse amount %q: %w", raw, err)
	}
	return Round2(parsed), nil
}

// FormatNaira renders an amount as a naira string with thousands separators,
// e.g. "₦12,345.67".
func FormatNaira(amount decimal.Decimal) string {
	fixed := Round2(amount).StringFixed(2)
	negative := strings.HasPrefix(fixed, "-")
	if negative {
		fixed = strings.TrimPrefix(fixed, "-")
	}
	whole, frac, _ := strings.Cut(fixed, ".")

	var b strings.Builder
	if negative {
		b.WriteByte('-')
	}
	b.WriteString("₦")
	for i, digit := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(digit)
	}
	b.WriteByte('.')
	b.WriteString(frac)
	return b.String()
}
