// Package money is the single rounding authority for the calculation
// engines. Every currency amount, probability and ratio that leaves an
// engine passes through Round so that the API, reports and any downstream
// consumer see identical values for identical inputs.
package money

import "github.com/shopspring/decimal"

// Precision is the number of decimal places amounts are rounded to.
// The regulatory reference implementation carries 0.001 KZT.
const Precision int32 = 3

// Round rounds half away from zero to the configured precision.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(Precision)
}

// Clamp01 bounds a rate or probability to [0, 1].
func Clamp01(d decimal.Decimal) decimal.Decimal {
	if d.LessThan(decimal.Zero) {
		return decimal.Zero
	}
	one := decimal.NewFromInt(1)
	if d.GreaterThan(one) {
		return one
	}
	return d
}

// Min returns the smaller of a and b.
func Min(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

// Max returns the larger of a and b.
func Max(a, b decimal.Decimal) decimal.Decimal {
	if a.GreaterThan(b) {
		return a
	}
	return b
}
