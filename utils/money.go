package utils

import "math"

// amountTolerance is the maximum difference, in dollars, tolerated between a
// client-computed total and the server-computed total.
const amountTolerance = 0.01

// DollarsToCents converts a dollar amount to integer cents, rounding to the
// nearest cent. Cents are the authoritative unit for the payment ledger.
func DollarsToCents(dollars float64) int64 {
	return int64(math.Round(dollars * 100))
}

// CentsToDollars converts integer cents back to a dollar amount
func CentsToDollars(cents int64) float64 {
	return float64(cents) / 100
}

// AmountsMatch reports whether two dollar amounts are equal within one cent
func AmountsMatch(a, b float64) bool {
	return math.Abs(a-b) <= amountTolerance+1e-9
}
