package lending

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - decimal amounts and currency rounding
// =============================================================================

// Currency carries the minor-unit precision used for every rounding step.
type Currency struct {
	Code       string
	MinorUnits int32
}

// DefaultCurrency rounds to cents.
var DefaultCurrency = Currency{Code: "USD", MinorUnits: 2}

var hundred = decimal.NewFromInt(100)

// Round rounds half-up (towards +inf on a tie) to the currency minor unit.
func (c Currency) Round(d decimal.Decimal) decimal.Decimal {
	return RoundHalfUp(d, c.MinorUnits)
}

// RoundHalfUp rounds d to places decimals, ties going towards positive infinity.
func RoundHalfUp(d decimal.Decimal, places int32) decimal.Decimal {
	half := decimal.New(5, -1)
	return d.Shift(places).Add(half).Floor().Shift(-places)
}

// Money parses a decimal literal and panics on malformed input.
// Intended for constants and tests.
func Money(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func minDec(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

func floorZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

func percentToRate(p decimal.Decimal) decimal.Decimal {
	return p.Div(hundred)
}
