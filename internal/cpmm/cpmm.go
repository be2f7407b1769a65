// Package cpmm implements the constant-product market maker for binary
// YES/NO contracts.
//
// The pool holds a YES and a NO reserve whose product k is fixed when the
// market is created. Buying an outcome for amount a mints a YES and a NO
// share per unit, adds a to the opposite reserve and withdraws shares from
// the bought reserve so that YES × NO stays equal to k.
//
// Probability is the chance of YES and is read off the NO reserve:
//
//	p = NO / (YES + NO)
//
// Every function is pure: contracts and bets are read, never mutated, and
// new pools are returned as fresh maps. Callers must supply positive
// reserves; a YES+NO sum of zero is undefined.
package cpmm

import (
	"errors"
	"math"

	"github.com/mantic/market-engine/internal/fees"
	"github.com/mantic/market-engine/internal/model"
)

// ErrNegativeRadicand is returned when a sale quote would need the square
// root of a negative number or NaN, which only happens on a malformed pool
// such as a negative k.
var ErrNegativeRadicand = errors.New("cpmm: negative radicand in share value")

// Probability returns the implied probability of YES.
func Probability(pool model.Pool) float64 {
	y, n := pool[model.OutcomeYes], pool[model.OutcomeNo]
	return n / (y + n)
}

// ProbabilityAfterBet returns the YES probability once amount is bought on
// outcome.
func ProbabilityAfterBet(c *model.Contract, outcome string, amount float64) float64 {
	p := CalculatePurchase(c, amount, outcome)
	return Probability(p.NewPool)
}

// Shares returns the number of outcome shares amount buys from pool:
//
//	shares = (a² + a(y+n) - k + y·n) / (a + opposite)
//
// where opposite is n when buying YES and y when buying NO.
func Shares(pool model.Pool, k, amount float64, outcome string) float64 {
	y, n := pool[model.OutcomeYes], pool[model.OutcomeNo]
	numerator := amount*amount + amount*(y+n) - k + y*n
	denominator := amount + y
	if outcome == model.OutcomeYes {
		denominator = amount + n
	}
	return numerator / denominator
}

// Purchase is the quote for buying into a contract.
type Purchase struct {
	Shares  float64    `json:"shares"`
	NewPool model.Pool `json:"new_pool"`
}

// CalculatePurchase quotes a purchase of amount on outcome.
func CalculatePurchase(c *model.Contract, amount float64, outcome string) Purchase {
	shares := Shares(c.Pool, c.K, amount, outcome)
	y, n := c.Pool[model.OutcomeYes], c.Pool[model.OutcomeNo]

	newY, newN := y+amount, n-shares+amount
	if outcome == model.OutcomeYes {
		newY, newN = y-shares+amount, n+amount
	}

	return Purchase{
		Shares:  shares,
		NewPool: model.Pool{model.OutcomeYes: newY, model.OutcomeNo: newN},
	}
}

// ShareValue returns the cash obtained by selling shares of outcome back to
// the pool. It is the closed-form inverse of Shares:
//
//	poolChange = shares + y - n          (YES)
//	           = shares + n - y          (NO)
//	value      = ½ (shares + y + n - √(4k + poolChange²))
func ShareValue(c *model.Contract, shares float64, outcome string) (float64, error) {
	y, n := c.Pool[model.OutcomeYes], c.Pool[model.OutcomeNo]

	poolChange := shares + n - y
	if outcome == model.OutcomeYes {
		poolChange = shares + y - n
	}

	radicand := 4*c.K + poolChange*poolChange
	if !(radicand >= 0) { // also rejects NaN
		return 0, ErrNegativeRadicand
	}
	return 0.5 * (shares + y + n - math.Sqrt(radicand)), nil
}

// Sale is the quote for unwinding a bet.
type Sale struct {
	SaleValue float64    `json:"sale_value"`
	NewPool   model.Pool `json:"new_pool"`
}

// CalculateSale quotes the sale of a previously recorded bet.
func CalculateSale(c *model.Contract, bet *model.Bet) (Sale, error) {
	value, err := ShareValue(c, bet.Shares, bet.Outcome)
	if err != nil {
		return Sale{}, err
	}

	y, n := c.Pool[model.OutcomeYes], c.Pool[model.OutcomeNo]
	newY, newN := y-value, n+bet.Shares-value
	if bet.Outcome == model.OutcomeYes {
		newY, newN = y+bet.Shares-value, n-value
	}

	return Sale{
		SaleValue: value,
		NewPool:   model.Pool{model.OutcomeYes: newY, model.OutcomeNo: newN},
	}, nil
}

// ProbabilityAfterSale returns the YES probability once bet is sold.
func ProbabilityAfterSale(c *model.Contract, bet *model.Bet) (float64, error) {
	sale, err := CalculateSale(c, bet)
	if err != nil {
		return 0, err
	}
	return Probability(sale.NewPool), nil
}

// Payout returns what bet receives when c resolves to resolution.
func Payout(c *model.Contract, bet *model.Bet, resolution string) float64 {
	switch resolution {
	case model.ResolutionCancel:
		return CancelPayout(bet)
	case model.ResolutionMkt:
		return MktPayout(c, bet)
	default:
		return StandardPayout(bet, resolution)
	}
}

// CancelPayout refunds the bet's principal.
func CancelPayout(bet *model.Bet) float64 {
	return bet.Amount
}

// StandardPayout pays a winning bet one unit per share, fee-adjusted on the
// profit above principal. Losing bets receive nothing.
func StandardPayout(bet *model.Bet, resolution string) float64 {
	if bet.Outcome != resolution {
		return 0
	}
	return fees.Deduct(bet.Amount, bet.Shares)
}

// MktPayout pays every bet its shares weighted by the resolution
// probability (ResolutionProbability when set, otherwise the live pool).
func MktPayout(c *model.Contract, bet *model.Bet) float64 {
	p := Probability(c.Pool)
	if c.ResolutionProbability != nil {
		p = *c.ResolutionProbability
	}

	betP := 1 - p
	if bet.Outcome == model.OutcomeYes {
		betP = p
	}
	return fees.Deduct(bet.Amount, betP*bet.Shares)
}
