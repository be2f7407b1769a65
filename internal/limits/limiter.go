// Package limits implements per-user position limits that account for
// correlation between markets.
//
// A user staking on every market tagged "politics" carries correlated risk
// even when each single position is small. Markets that share a category
// are treated as one correlated group and their open principal is summed
// against an aggregate cap.
package limits

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/mantic/market-engine/internal/model"
)

var (
	// ErrContractLimitExceeded is returned when a bet would push the user's
	// open principal in a single contract beyond the per-contract maximum.
	ErrContractLimitExceeded = errors.New("limits: per-contract position limit exceeded")

	// ErrCategoryLimitExceeded is returned when a bet would push the
	// aggregate open principal across contracts sharing a category beyond
	// the per-category maximum.
	ErrCategoryLimitExceeded = errors.New("limits: correlated category exposure limit exceeded")
)

// PositionLimiter enforces position limits with category awareness. A zero
// limit disables that check.
type PositionLimiter struct {
	// MaxPerContract is the maximum open principal in any single contract.
	MaxPerContract decimal.Decimal

	// MaxPerCategory is the maximum aggregate open principal across all
	// contracts that share a category with the traded one.
	MaxPerCategory decimal.Decimal
}

// NewPositionLimiter creates a limiter with the given limits.
func NewPositionLimiter(maxPerContract, maxPerCategory decimal.Decimal) *PositionLimiter {
	return &PositionLimiter{
		MaxPerContract: maxPerContract,
		MaxPerCategory: maxPerCategory,
	}
}

// CheckLimit reports whether adding delta of principal to target respects
// the limits, given the user's existing exposures. target.Amount is
// ignored; the current position is read from existing.
func (l *PositionLimiter) CheckLimit(target model.Exposure, delta decimal.Decimal, existing []model.Exposure) error {
	current := decimal.Zero
	for _, e := range existing {
		if e.ContractID == target.ContractID {
			current = current.Add(e.Amount)
		}
	}
	newPosition := current.Add(delta)

	if l.MaxPerContract.IsPositive() && newPosition.Abs().GreaterThan(l.MaxPerContract) {
		return ErrContractLimitExceeded
	}

	if !l.MaxPerCategory.IsPositive() || len(target.Categories) == 0 {
		return nil
	}

	for _, cat := range target.Categories {
		total := newPosition.Abs()
		for _, e := range existing {
			if e.ContractID == target.ContractID {
				continue
			}
			if hasCategory(e.Categories, cat) {
				total = total.Add(e.Amount.Abs())
			}
		}
		if total.GreaterThan(l.MaxPerCategory) {
			return ErrCategoryLimitExceeded
		}
	}
	return nil
}

func hasCategory(cats []string, cat string) bool {
	for _, c := range cats {
		if c == cat {
			return true
		}
	}
	return false
}
