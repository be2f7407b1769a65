// Package model defines the core domain types shared across the market engine.
//
// Engine math runs on float64 throughout so that stored shares, pools and
// payouts stay bit-compatible between the CPMM and DPM mechanisms.
package model

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Mechanism selects the pricing engine a contract trades against.
type Mechanism string

const (
	MechanismCPMM Mechanism = "cpmm-1"
	MechanismDPM  Mechanism = "dpm-2"
)

// OutcomeType describes the shape of a contract's outcome space.
type OutcomeType string

const (
	OutcomeTypeBinary       OutcomeType = "BINARY"
	OutcomeTypeFreeResponse OutcomeType = "FREE_RESPONSE"
	OutcomeTypeNumeric      OutcomeType = "NUMERIC"
)

// Binary outcomes and the two special resolutions.
const (
	OutcomeYes = "YES"
	OutcomeNo  = "NO"

	ResolutionMkt    = "MKT"
	ResolutionCancel = "CANCEL"
)

// Pool maps an outcome id to a non-negative quantity. It backs reserves,
// cumulative shares and cumulative bets alike.
type Pool map[string]float64

// Clone returns an independent copy of the pool. A nil pool clones to an
// empty, non-nil pool, so callers may add to the clone of a missing total.
func (p Pool) Clone() Pool {
	out := make(Pool, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Plus returns the outcome-wise sum of p and q.
func (p Pool) Plus(q Pool) Pool {
	out := p.Clone()
	for k, v := range q {
		out[k] += v
	}
	return out
}

// Sum returns the total across all outcomes.
func (p Pool) Sum() float64 {
	var total float64
	for _, v := range p {
		total += v
	}
	return total
}

// Outcomes returns the pool's keys in sorted order.
func (p Pool) Outcomes() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Contract is a snapshot of one market. Engine functions treat it as
// read-only and return new pools rather than mutating it.
type Contract struct {
	ID          string      `json:"id"`
	CreatorID   string      `json:"creator_id"`
	Question    string      `json:"question"`
	Mechanism   Mechanism   `json:"mechanism"`
	OutcomeType OutcomeType `json:"outcome_type"`
	Categories  []string    `json:"categories,omitempty"`

	Pool Pool `json:"pool"`

	// K is the CPMM invariant, fixed at creation.
	K float64 `json:"k,omitempty"`

	// DPM only. TotalShares and TotalBets count real bets and start at
	// zero; the creator's ante lives in StartPool and, for multi-outcome
	// contracts, in PhantomShares.
	TotalShares Pool `json:"total_shares,omitempty"`
	TotalBets   Pool `json:"total_bets,omitempty"`
	StartPool   Pool `json:"start_pool,omitempty"`

	// PhantomShares seeds the prices of a multi-outcome contract. They are
	// fixed at creation and never paid out.
	PhantomShares Pool `json:"phantom_shares,omitempty"`

	// Answers labels the outcomes "0".."n-1" of a free-response contract.
	Answers []string `json:"answers,omitempty"`

	// Numeric contracts map values into BucketCount buckets over [Min, Max].
	Min         float64 `json:"min,omitempty"`
	Max         float64 `json:"max,omitempty"`
	BucketCount int     `json:"bucket_count,omitempty"`

	Resolution            string   `json:"resolution,omitempty"`
	ResolutionProbability *float64 `json:"resolution_probability,omitempty"`
	// Resolutions holds per-outcome weights for a multi-outcome MKT resolution.
	Resolutions map[string]float64 `json:"resolutions,omitempty"`

	CreatedTime    time.Time  `json:"created_time"`
	ResolutionTime *time.Time `json:"resolution_time,omitempty"`
}

// IsResolved reports whether the contract has a terminal resolution.
func (c *Contract) IsResolved() bool {
	return c.Resolution != ""
}

// State returns the mutable pricing state of the contract.
func (c *Contract) State() ContractState {
	return ContractState{
		Pool:        c.Pool.Clone(),
		TotalShares: c.TotalShares.Clone(),
		TotalBets:   c.TotalBets.Clone(),
	}
}

// WithState returns a shallow copy of c carrying the given pricing state.
func (c *Contract) WithState(st ContractState) *Contract {
	next := *c
	next.Pool = st.Pool
	next.TotalShares = st.TotalShares
	next.TotalBets = st.TotalBets
	return &next
}

// ContractState is the part of a contract that moves on every accepted
// purchase or sale.
type ContractState struct {
	Pool        Pool `json:"pool"`
	TotalShares Pool `json:"total_shares,omitempty"`
	TotalBets   Pool `json:"total_bets,omitempty"`
}

// Bet is an immutable record of one executed purchase. Shares is the
// authoritative quantity for every later payout computation.
type Bet struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	ContractID  string     `json:"contract_id"`
	Outcome     string     `json:"outcome"`
	Amount      float64    `json:"amount"`
	Shares      float64    `json:"shares"`
	ProbBefore  float64    `json:"prob_before"`
	ProbAfter   float64    `json:"prob_after"`
	IsSold      bool       `json:"is_sold,omitempty"`
	SaleAmount  float64    `json:"sale_amount,omitempty"`
	SoldTime    *time.Time `json:"sold_time,omitempty"`
	CreatedTime time.Time  `json:"created_time"`
}

// Payout is the settlement credited to one bet when its contract resolves.
type Payout struct {
	ID          string    `json:"id"`
	BetID       string    `json:"bet_id"`
	ContractID  string    `json:"contract_id"`
	UserID      string    `json:"user_id"`
	Amount      float64   `json:"amount"`
	CreatedTime time.Time `json:"created_time"`
}

// Exposure is a user's open principal in one contract, used by position
// limits. Money at rest is exact decimal.
type Exposure struct {
	ContractID string          `json:"contract_id"`
	Categories []string        `json:"categories,omitempty"`
	Amount     decimal.Decimal `json:"amount"`
}
