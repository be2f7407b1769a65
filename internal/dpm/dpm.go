// Package dpm implements the dynamic parimutuel mechanism.
//
// Unlike the constant-product maker there is no pool invariant. The price
// of an outcome is the squared share of its quantity:
//
//	p(o) = q(o)² / Σ q(x)²
//
// where q is the pool for binary contracts and the cumulative shares plus
// the seed (phantom) shares for multi-outcome (free response and numeric)
// contracts. At resolution the
// losing stakes are redistributed to winners in proportion to their shares.
//
// The true pool is the pool volume minus the seed liquidity (StartPool); it
// is the money actually available to pay winners. All functions are pure.
package dpm

import (
	"errors"
	"math"

	"github.com/mantic/market-engine/internal/fees"
	"github.com/mantic/market-engine/internal/model"
)

var (
	// ErrNegativeRadicand is returned when a share-value root has a
	// negative or NaN argument.
	ErrNegativeRadicand = errors.New("dpm: negative radicand in share value")

	// ErrNotBinary is returned by sale quoting on multi-outcome contracts.
	ErrNotBinary = errors.New("dpm: sale quoting requires a binary contract")
)

// Probability returns the implied probability of YES for a binary pool.
func Probability(pool model.Pool) float64 {
	return OutcomeProbability(pool, model.OutcomeYes)
}

// OutcomeProbability returns q(outcome)² / Σ q(x)². The quantities must not
// all be zero.
func OutcomeProbability(q model.Pool, outcome string) float64 {
	var squareSum float64
	for _, v := range q {
		squareSum += v * v
	}
	own := q[outcome]
	return own * own / squareSum
}

// ContractProbability returns the probability of outcome using the
// quantity that prices c: the pool when binary, pricing shares otherwise.
func ContractProbability(c *model.Contract, outcome string) float64 {
	if c.OutcomeType == model.OutcomeTypeBinary {
		return OutcomeProbability(c.Pool, outcome)
	}
	return OutcomeProbability(PricingShares(c), outcome)
}

// PricingShares returns the shares that price a multi-outcome contract:
// real shares plus the phantom seed shares.
func PricingShares(c *model.Contract) model.Pool {
	if len(c.PhantomShares) == 0 {
		return c.TotalShares
	}
	return c.TotalShares.Plus(c.PhantomShares)
}

// ProbabilityAfterBet returns the probability of outcome once amount is
// bought on it.
func ProbabilityAfterBet(c *model.Contract, outcome string, amount float64) float64 {
	p := CalculatePurchase(c, amount, outcome)
	if c.OutcomeType == model.OutcomeTypeBinary {
		return OutcomeProbability(p.NewPool, outcome)
	}
	return OutcomeProbability(p.NewTotalShares.Plus(c.PhantomShares), outcome)
}

// Shares returns the shares a binary bet buys:
//
//	shares = bet + bet·opp² / (own² + bet·own)
//
// where own and opp are the pre-trade reserves of the bought and the other
// outcome.
func Shares(pool model.Pool, bet float64, outcome string) float64 {
	own, opp := pool[model.OutcomeYes], pool[model.OutcomeNo]
	if outcome == model.OutcomeNo {
		own, opp = opp, own
	}
	return bet + bet*opp*opp/(own*own+bet*own)
}

// MultiShares returns the shares a bet buys on a multi-outcome contract,
// priced over the cumulative shares of every outcome:
//
//	shares = √(bet² + s² + 2·bet·√Σ s(x)²) - s
func MultiShares(totalShares model.Pool, bet float64, outcome string) float64 {
	var squareSum float64
	for _, v := range totalShares {
		squareSum += v * v
	}
	s := totalShares[outcome]
	c := 2 * bet * math.Sqrt(squareSum)
	return math.Sqrt(bet*bet+s*s+c) - s
}

// Purchase is the quote for buying into a DPM contract.
type Purchase struct {
	Shares         float64    `json:"shares"`
	NewPool        model.Pool `json:"new_pool"`
	NewTotalShares model.Pool `json:"new_total_shares"`
	NewTotalBets   model.Pool `json:"new_total_bets"`
}

// CalculatePurchase quotes a purchase of amount on outcome. The amount
// joins the outcome's pool and its cumulative bets; the issued shares join
// its cumulative shares.
func CalculatePurchase(c *model.Contract, amount float64, outcome string) Purchase {
	var shares float64
	if c.OutcomeType == model.OutcomeTypeBinary {
		shares = Shares(c.Pool, amount, outcome)
	} else {
		shares = MultiShares(PricingShares(c), amount, outcome)
	}

	// Totals may be nil before the first bet; Clone yields an empty pool.
	newPool := c.Pool.Clone()
	newPool[outcome] += amount
	newTotalShares := c.TotalShares.Clone()
	newTotalShares[outcome] += shares
	newTotalBets := c.TotalBets.Clone()
	newTotalBets[outcome] += amount

	return Purchase{
		Shares:         shares,
		NewPool:        newPool,
		NewTotalShares: newTotalShares,
		NewTotalBets:   newTotalBets,
	}
}

// TruePool returns the pool volume net of seed liquidity.
func TruePool(c *model.Contract) float64 {
	return c.Pool.Sum() - c.StartPool.Sum()
}

// ShareValue returns the raw cash value of shares of outcome on a binary
// pool: the amount b that would have bought exactly those shares against
// the pool with b removed. For YES (NO is symmetric):
//
//	b = (n² + s·y + y² - √(n⁴ + (s-y)²·y² + 2n²·y·(s+y))) / 2y
func ShareValue(c *model.Contract, shares float64, outcome string) (float64, error) {
	own, opp := c.Pool[model.OutcomeYes], c.Pool[model.OutcomeNo]
	if outcome == model.OutcomeNo {
		own, opp = opp, own
	}
	s := shares

	radicand := opp*opp*opp*opp + (s-own)*(s-own)*own*own + 2*opp*opp*own*(s+own)
	if !(radicand >= 0) { // also rejects NaN
		return 0, ErrNegativeRadicand
	}
	return (opp*opp + s*own + own*own - math.Sqrt(radicand)) / (2 * own), nil
}

// Sale is the quote for unwinding a binary DPM bet.
type Sale struct {
	// ShareValue is the pool-backed value removed from the pool.
	ShareValue float64 `json:"share_value"`
	// SaleAmount is what the seller receives after fees.
	SaleAmount     float64    `json:"sale_amount"`
	NewPool        model.Pool `json:"new_pool"`
	NewTotalShares model.Pool `json:"new_total_shares"`
	NewTotalBets   model.Pool `json:"new_total_bets"`
}

// CalculateSale quotes the sale of bet. The raw share value is scaled down
// by the liquidity factor
//
//	f = truePool / (p·totalShares[YES] + (1-p)·totalShares[NO])
//
// when f < 1, and capped by the seller's side of the true pool, so a sale
// never pays more than the pool can back.
func CalculateSale(c *model.Contract, bet *model.Bet) (Sale, error) {
	if c.OutcomeType != model.OutcomeTypeBinary {
		return Sale{}, ErrNotBinary
	}

	shareValue, err := ShareValue(c, bet.Shares, bet.Outcome)
	if err != nil {
		return Sale{}, err
	}

	probBefore := Probability(c.Pool)
	f := TruePool(c) / (probBefore*c.TotalShares[model.OutcomeYes] +
		(1-probBefore)*c.TotalShares[model.OutcomeNo])
	ownPool := c.Pool[bet.Outcome] - c.StartPool[bet.Outcome]

	adjusted := math.Min(math.Min(1, f)*shareValue, ownPool)

	newPool := c.Pool.Clone()
	newPool[bet.Outcome] -= adjusted
	newTotalShares := c.TotalShares.Clone()
	newTotalShares[bet.Outcome] -= bet.Shares
	newTotalBets := c.TotalBets.Clone()
	newTotalBets[bet.Outcome] -= bet.Amount

	return Sale{
		ShareValue:     adjusted,
		SaleAmount:     fees.Deduct(bet.Amount, adjusted),
		NewPool:        newPool,
		NewTotalShares: newTotalShares,
		NewTotalBets:   newTotalBets,
	}, nil
}

// SaleAmount returns what the seller of bet receives after fees.
func SaleAmount(c *model.Contract, bet *model.Bet) (float64, error) {
	sale, err := CalculateSale(c, bet)
	if err != nil {
		return 0, err
	}
	return sale.SaleAmount, nil
}

// Payout returns what bet receives when c resolves to resolution.
func Payout(c *model.Contract, bet *model.Bet, resolution string) float64 {
	switch resolution {
	case model.ResolutionCancel:
		return CancelPayout(bet)
	case model.ResolutionMkt:
		return MktPayout(c, bet)
	default:
		return StandardPayout(c, bet, resolution)
	}
}

// CancelPayout refunds the bet's principal.
func CancelPayout(bet *model.Bet) float64 {
	return bet.Amount
}

// StandardPayout pays bet when outcome is the sole winner.
//
// If the winners staked at least the whole true pool, they split it pro
// rata to their stakes with no fee. Otherwise each winner gets their stake
// back plus a share of the losers' money proportional to shares - amount,
// and only that profit is taxed.
func StandardPayout(c *model.Contract, bet *model.Bet, outcome string) float64 {
	if bet.Outcome != outcome {
		return 0
	}
	totalShares := c.TotalShares[outcome]
	if totalShares == 0 {
		return 0
	}

	truePool := TruePool(c)
	totalBets := c.TotalBets[outcome]

	if totalBets >= truePool {
		return bet.Amount / totalBets * truePool
	}

	total := totalShares - totalBets
	winningsPool := truePool - totalBets

	var profit float64
	if total > 0 {
		profit = (bet.Shares - bet.Amount) / total * winningsPool
	}
	return fees.Deduct(bet.Amount, bet.Amount+profit)
}

// MktPayout pays bet under a probability-weighted resolution: every outcome
// o wins a fraction w(o) of its position. The two regimes of StandardPayout
// apply to the weighted totals.
func MktPayout(c *model.Contract, bet *model.Bet) float64 {
	weights := MktWeights(c)
	truePool := TruePool(c)

	var weightedTotal, weightedShareTotal float64
	for outcome, w := range weights {
		weightedTotal += w * c.TotalBets[outcome]
		weightedShareTotal += w * (c.TotalShares[outcome] - c.TotalBets[outcome])
	}

	betP := weights[bet.Outcome]
	if betP == 0 {
		return 0
	}

	if weightedTotal >= truePool {
		return betP * bet.Amount / weightedTotal * truePool
	}

	winningsPool := truePool - weightedTotal

	var profit float64
	if weightedShareTotal > 0 {
		profit = betP * (bet.Shares - bet.Amount) / weightedShareTotal * winningsPool
	}
	return fees.Deduct(bet.Amount, betP*bet.Amount+profit)
}

// MktWeights returns the per-outcome weights of a MKT resolution, summing
// to one. Explicit Resolutions win; a binary contract then falls back to
// ResolutionProbability and finally to the live pool probability; a
// multi-outcome contract falls back to its live outcome probabilities.
func MktWeights(c *model.Contract) map[string]float64 {
	if len(c.Resolutions) > 0 {
		var sum float64
		for _, w := range c.Resolutions {
			sum += w
		}
		weights := make(map[string]float64, len(c.Resolutions))
		for outcome, w := range c.Resolutions {
			weights[outcome] = w / sum
		}
		return weights
	}

	if c.OutcomeType == model.OutcomeTypeBinary {
		p := Probability(c.Pool)
		if c.ResolutionProbability != nil {
			p = *c.ResolutionProbability
		}
		return map[string]float64{model.OutcomeYes: p, model.OutcomeNo: 1 - p}
	}

	q := PricingShares(c)
	weights := make(map[string]float64, len(q))
	for outcome := range q {
		weights[outcome] = OutcomeProbability(q, outcome)
	}
	return weights
}

// CurrentValue marks bet to market: its standard payout under each outcome
// weighted by that outcome's live probability.
func CurrentValue(c *model.Contract, bet *model.Bet) float64 {
	q := c.Pool
	if c.OutcomeType != model.OutcomeTypeBinary {
		q = PricingShares(c)
	}
	var value float64
	for outcome := range q {
		value += OutcomeProbability(q, outcome) * StandardPayout(c, bet, outcome)
	}
	return value
}

// PayoutAfterCorrectBet returns what bet would pay if its outcome won,
// with the bet itself folded into the contract totals.
func PayoutAfterCorrectBet(c *model.Contract, bet *model.Bet) float64 {
	next := *c
	next.Pool = c.Pool.Clone()
	next.Pool[bet.Outcome] += bet.Amount
	next.TotalShares = c.TotalShares.Clone()
	next.TotalShares[bet.Outcome] += bet.Shares
	next.TotalBets = c.TotalBets.Clone()
	next.TotalBets[bet.Outcome] += bet.Amount
	return StandardPayout(&next, bet, bet.Outcome)
}
