package mapper

import "github.com/shopspring/decimal"

// minorPerMajor is fixed for every supported currency (INR, USD, EUR).
var minorPerMajor = decimal.NewFromInt(100)

// ToMinorUnits converts a major-unit amount (2999.00) into gateway minor
// units (299900). Half-way values round away from zero.
func ToMinorUnits(major decimal.Decimal) int64 {
	return major.Mul(minorPerMajor).Round(0).IntPart()
}

// ToMajorUnits converts gateway minor units into an exact major-unit decimal.
func ToMajorUnits(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}

// FitsMinorUnits reports whether major converts to minor units without rounding.
func FitsMinorUnits(major decimal.Decimal) bool {
	return major.Equal(major.Round(2))
}
