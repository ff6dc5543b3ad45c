// Package tax computes exclusive percentage tax in minor currency units.
package tax

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// ComputeExclusive returns subtotal * ratePercent / 100 rounded half-up to
// the minor unit. Rounding happens only here so stored values stay integral.
func ComputeExclusive(subtotal int64, ratePercent int) int64 {
	if subtotal <= 0 || ratePercent <= 0 {
		return 0
	}
	amount := decimal.NewFromInt(subtotal).
		Mul(decimal.NewFromInt(int64(ratePercent))).
		Div(hundred).
		Round(0)
	return amount.IntPart()
}
