// Package engine dispatches pricing and settlement to the mechanism a
// contract was created with. The CPMM and DPM implementations stay fully
// separate; the only thing they share is the fee policy.
//
// Like the mechanisms themselves, every function here is pure. The caller
// owns persistence and must write the returned state back atomically.
package engine

import (
	"errors"
	"fmt"

	"github.com/mantic/market-engine/internal/cpmm"
	"github.com/mantic/market-engine/internal/dpm"
	"github.com/mantic/market-engine/internal/model"
)

var (
	// ErrUnresolved is returned when a resolved payout is requested for a
	// contract that has no resolution yet.
	ErrUnresolved = errors.New("engine: contract is not resolved")

	// ErrUnknownMechanism is returned for a contract whose mechanism has no engine.
	ErrUnknownMechanism = errors.New("engine: unknown mechanism")

	// ErrInvalidAmount is returned when a bet amount is not strictly positive.
	ErrInvalidAmount = errors.New("engine: amount must be positive")

	// ErrInvalidOutcome is returned when an outcome is not tradable on the contract.
	ErrInvalidOutcome = errors.New("engine: invalid outcome for contract")
)

// PurchaseQuote is the mechanism-independent result of buying into a contract.
type PurchaseQuote struct {
	Shares     float64             `json:"shares"`
	ProbBefore float64             `json:"prob_before"`
	ProbAfter  float64             `json:"prob_after"`
	State      model.ContractState `json:"state"`
}

// SaleQuote is the mechanism-independent result of selling a bet.
type SaleQuote struct {
	// SaleAmount is the cash credited to the seller.
	SaleAmount float64             `json:"sale_amount"`
	ProbBefore float64             `json:"prob_before"`
	ProbAfter  float64             `json:"prob_after"`
	State      model.ContractState `json:"state"`
}

// Probability returns the headline probability of c: YES for binary
// contracts. Multi-outcome contracts have no headline; use
// OutcomeProbability.
func Probability(c *model.Contract) (float64, error) {
	return OutcomeProbability(c, model.OutcomeYes)
}

// OutcomeProbability returns the live probability of one outcome.
func OutcomeProbability(c *model.Contract, outcome string) (float64, error) {
	switch c.Mechanism {
	case model.MechanismCPMM:
		p := cpmm.Probability(c.Pool)
		if outcome == model.OutcomeNo {
			return 1 - p, nil
		}
		return p, nil
	case model.MechanismDPM:
		return dpm.ContractProbability(c, outcome), nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownMechanism, c.Mechanism)
	}
}

// Probabilities returns the live probability of every tradable outcome.
func Probabilities(c *model.Contract) (map[string]float64, error) {
	outcomes := Outcomes(c)
	out := make(map[string]float64, len(outcomes))
	for _, o := range outcomes {
		p, err := OutcomeProbability(c, o)
		if err != nil {
			return nil, err
		}
		out[o] = p
	}
	return out, nil
}

// Outcomes lists the outcomes a bet can be placed on.
func Outcomes(c *model.Contract) []string {
	if c.OutcomeType == model.OutcomeTypeBinary || c.Mechanism == model.MechanismCPMM {
		return []string{model.OutcomeYes, model.OutcomeNo}
	}
	return c.TotalShares.Outcomes()
}

func validOutcome(c *model.Contract, outcome string) bool {
	for _, o := range Outcomes(c) {
		if o == outcome {
			return true
		}
	}
	return false
}

// Purchase quotes buying amount of outcome on c and returns the state the
// caller must persist if the bet is accepted.
func Purchase(c *model.Contract, amount float64, outcome string) (*PurchaseQuote, error) {
	if !(amount > 0) {
		return nil, ErrInvalidAmount
	}
	if !validOutcome(c, outcome) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidOutcome, outcome)
	}

	probBefore, err := OutcomeProbability(c, outcome)
	if err != nil {
		return nil, err
	}

	var res PurchaseQuote
	switch c.Mechanism {
	case model.MechanismCPMM:
		p := cpmm.CalculatePurchase(c, amount, outcome)
		res.Shares = p.Shares
		res.State = model.ContractState{Pool: p.NewPool}
	case model.MechanismDPM:
		p := dpm.CalculatePurchase(c, amount, outcome)
		res.Shares = p.Shares
		res.State = model.ContractState{
			Pool:        p.NewPool,
			TotalShares: p.NewTotalShares,
			TotalBets:   p.NewTotalBets,
		}
	}

	res.ProbBefore = probBefore
	res.ProbAfter, err = OutcomeProbability(c.WithState(res.State), outcome)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// Sale quotes unwinding bet against c.
func Sale(c *model.Contract, bet *model.Bet) (*SaleQuote, error) {
	probBefore, err := OutcomeProbability(c, bet.Outcome)
	if err != nil {
		return nil, err
	}

	var res SaleQuote
	switch c.Mechanism {
	case model.MechanismCPMM:
		s, err := cpmm.CalculateSale(c, bet)
		if err != nil {
			return nil, err
		}
		res.SaleAmount = s.SaleValue
		res.State = model.ContractState{Pool: s.NewPool}
	case model.MechanismDPM:
		s, err := dpm.CalculateSale(c, bet)
		if err != nil {
			return nil, err
		}
		res.SaleAmount = s.SaleAmount
		res.State = model.ContractState{
			Pool:        s.NewPool,
			TotalShares: s.NewTotalShares,
			TotalBets:   s.NewTotalBets,
		}
	}

	res.ProbBefore = probBefore
	res.ProbAfter, err = OutcomeProbability(c.WithState(res.State), bet.Outcome)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// Payout returns what bet receives if c resolves to resolution. It does
// not look at c.Resolution.
func Payout(c *model.Contract, bet *model.Bet, resolution string) (float64, error) {
	switch c.Mechanism {
	case model.MechanismCPMM:
		return cpmm.Payout(c, bet, resolution), nil
	case model.MechanismDPM:
		return dpm.Payout(c, bet, resolution), nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownMechanism, c.Mechanism)
	}
}

// ResolvedPayout returns what bet receives under c's resolution. Calling it
// on an open contract is a programming error and returns ErrUnresolved.
func ResolvedPayout(c *model.Contract, bet *model.Bet) (float64, error) {
	if !c.IsResolved() {
		return 0, fmt.Errorf("%w: contract %s", ErrUnresolved, c.ID)
	}
	return Payout(c, bet, c.Resolution)
}

// CurrentValue marks bet to market at the contract's live probability.
func CurrentValue(c *model.Contract, bet *model.Bet) (float64, error) {
	switch c.Mechanism {
	case model.MechanismCPMM:
		return cpmm.MktPayout(c, bet), nil
	case model.MechanismDPM:
		return dpm.CurrentValue(c, bet), nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownMechanism, c.Mechanism)
	}
}
