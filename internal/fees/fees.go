// Package fees implements the platform fee policy shared by every pricing
// mechanism: fees are taken from realized profit only, never from principal.
package fees

// FeeFraction is the share of profit retained by the platform on a winning
// payout. Both CPMM and DPM settle with this one value.
const FeeFraction = 0.02

// Deduct applies the platform fee to a payout of winnings on a position
// that cost principal. See DeductAt.
func Deduct(principal, winnings float64) float64 {
	return DeductAt(principal, winnings, FeeFraction)
}

// DeductAt returns winnings with fraction of the profit slice removed:
//
//	winnings > principal:  principal + (1 - fraction) * (winnings - principal)
//	otherwise:             winnings
//
// A loss or breakeven is returned unchanged.
func DeductAt(principal, winnings, fraction float64) float64 {
	if winnings > principal {
		return principal + (1-fraction)*(winnings-principal)
	}
	return winnings
}
