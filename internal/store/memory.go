package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mantic/market-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu        sync.RWMutex
	contracts map[string]*model.Contract
	bets      []model.Bet
	payouts   []model.Payout
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		contracts: make(map[string]*model.Contract),
	}
}

func (s *MemoryStore) CreateContract(_ context.Context, c *model.Contract) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.contracts[c.ID]; ok {
		return fmt.Errorf("%w: contract %s already exists", ErrConflict, c.ID)
	}
	s.contracts[c.ID] = cloneContract(c)
	return nil
}

func (s *MemoryStore) GetContract(_ context.Context, id string) (*model.Contract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.contracts[id]
	if !ok {
		return nil, fmt.Errorf("%w: contract %s", ErrNotFound, id)
	}
	return cloneContract(c), nil
}

func (s *MemoryStore) GetContractForUpdate(ctx context.Context, id string) (*model.Contract, error) {
	return s.GetContract(ctx, id)
}

func (s *MemoryStore) ListContracts(_ context.Context) ([]model.Contract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	contracts := make([]model.Contract, 0, len(s.contracts))
	for _, c := range s.contracts {
		contracts = append(contracts, *cloneContract(c))
	}
	sort.Slice(contracts, func(i, j int) bool {
		return contracts[i].CreatedTime.After(contracts[j].CreatedTime)
	})
	return contracts, nil
}

func (s *MemoryStore) ApplyBet(_ context.Context, bet *model.Bet, st model.ContractState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.contracts[bet.ContractID]
	if !ok {
		return fmt.Errorf("%w: contract %s", ErrNotFound, bet.ContractID)
	}
	if c.IsResolved() {
		return fmt.Errorf("%w: contract %s is resolved", ErrConflict, c.ID)
	}

	setState(c, st)
	s.bets = append(s.bets, *bet)
	return nil
}

func (s *MemoryStore) ApplySale(_ context.Context, betID string, amount float64, soldAt time.Time, st model.ContractState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.betIndex(betID)
	if i < 0 {
		return fmt.Errorf("%w: bet %s", ErrNotFound, betID)
	}
	bet := &s.bets[i]
	if bet.IsSold {
		return fmt.Errorf("%w: bet %s already sold", ErrConflict, betID)
	}
	c, ok := s.contracts[bet.ContractID]
	if !ok {
		return fmt.Errorf("%w: contract %s", ErrNotFound, bet.ContractID)
	}
	if c.IsResolved() {
		return fmt.Errorf("%w: contract %s is resolved", ErrConflict, c.ID)
	}

	setState(c, st)
	bet.IsSold = true
	bet.SaleAmount = amount
	t := soldAt
	bet.SoldTime = &t
	return nil
}

func (s *MemoryStore) GetBet(_ context.Context, id string) (*model.Bet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i := s.betIndex(id)
	if i < 0 {
		return nil, fmt.Errorf("%w: bet %s", ErrNotFound, id)
	}
	bet := s.bets[i]
	return &bet, nil
}

func (s *MemoryStore) ListBetsByContract(_ context.Context, contractID string) ([]model.Bet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Bet
	for _, b := range s.bets {
		if b.ContractID == contractID {
			result = append(result, b)
		}
	}
	return result, nil
}

func (s *MemoryStore) ListBetsByUser(_ context.Context, userID string) ([]model.Bet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Bet
	for _, b := range s.bets {
		if b.UserID == userID {
			result = append(result, b)
		}
	}
	return result, nil
}

func (s *MemoryStore) ResolveContract(_ context.Context, c *model.Contract, payouts []model.Payout) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.contracts[c.ID]
	if !ok {
		return fmt.Errorf("%w: contract %s", ErrNotFound, c.ID)
	}
	if existing.IsResolved() {
		return fmt.Errorf("%w: contract %s already resolved", ErrConflict, c.ID)
	}

	s.contracts[c.ID] = cloneContract(c)
	s.payouts = append(s.payouts, payouts...)
	return nil
}

func (s *MemoryStore) ListPayoutsByContract(_ context.Context, contractID string) ([]model.Payout, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Payout
	for _, p := range s.payouts {
		if p.ContractID == contractID {
			result = append(result, p)
		}
	}
	return result, nil
}

// GetUserExposures aggregates the user's unsold bets per open contract.
func (s *MemoryStore) GetUserExposures(_ context.Context, userID string) ([]model.Exposure, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	agg := make(map[string]decimal.Decimal)
	var order []string
	for _, b := range s.bets {
		if b.UserID != userID || b.IsSold {
			continue
		}
		c := s.contracts[b.ContractID] // direct access, already under RLock
		if c == nil || c.IsResolved() {
			continue
		}
		if _, ok := agg[b.ContractID]; !ok {
			order = append(order, b.ContractID)
		}
		agg[b.ContractID] = agg[b.ContractID].Add(decimal.NewFromFloat(b.Amount))
	}

	exposures := make([]model.Exposure, 0, len(order))
	for _, id := range order {
		exposures = append(exposures, model.Exposure{
			ContractID: id,
			Categories: append([]string(nil), s.contracts[id].Categories...),
			Amount:     agg[id],
		})
	}
	return exposures, nil
}

func (s *MemoryStore) betIndex(id string) int {
	for i := range s.bets {
		if s.bets[i].ID == id {
			return i
		}
	}
	return -1
}

func setState(c *model.Contract, st model.ContractState) {
	c.Pool = st.Pool.Clone()
	if st.TotalShares != nil {
		c.TotalShares = st.TotalShares.Clone()
	}
	if st.TotalBets != nil {
		c.TotalBets = st.TotalBets.Clone()
	}
}

// cloneContract deep-copies the maps so callers cannot mutate stored state.
func cloneContract(c *model.Contract) *model.Contract {
	cp := *c
	cp.Pool = c.Pool.Clone()
	if c.TotalShares != nil {
		cp.TotalShares = c.TotalShares.Clone()
	}
	if c.TotalBets != nil {
		cp.TotalBets = c.TotalBets.Clone()
	}
	if c.StartPool != nil {
		cp.StartPool = c.StartPool.Clone()
	}
	if c.PhantomShares != nil {
		cp.PhantomShares = c.PhantomShares.Clone()
	}
	if c.Resolutions != nil {
		cp.Resolutions = make(map[string]float64, len(c.Resolutions))
		for k, v := range c.Resolutions {
			cp.Resolutions[k] = v
		}
	}
	cp.Categories = append([]string(nil), c.Categories...)
	cp.Answers = append([]string(nil), c.Answers...)
	return &cp
}
