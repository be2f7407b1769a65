package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mantic/market-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary.
//
// Contracts and per-user exposures are cached. Bets and payouts are read
// straight from the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreateContract(ctx context.Context, c *model.Contract) error {
	if err := s.primary.CreateContract(ctx, c); err != nil {
		return err
	}
	s.cacheContract(ctx, c)
	return nil
}

func (s *CachedStore) ApplyBet(ctx context.Context, bet *model.Bet, st model.ContractState) error {
	if err := s.primary.ApplyBet(ctx, bet, st); err != nil {
		return err
	}
	s.rdb.Del(ctx, contractKey(bet.ContractID), exposuresKey(bet.UserID))
	return nil
}

func (s *CachedStore) ApplySale(ctx context.Context, betID string, amount float64, soldAt time.Time, st model.ContractState) error {
	bet, err := s.primary.GetBet(ctx, betID)
	if err != nil {
		return err
	}
	if err := s.primary.ApplySale(ctx, betID, amount, soldAt, st); err != nil {
		return err
	}
	s.rdb.Del(ctx, contractKey(bet.ContractID), exposuresKey(bet.UserID))
	return nil
}

func (s *CachedStore) ResolveContract(ctx context.Context, c *model.Contract, payouts []model.Payout) error {
	if err := s.primary.ResolveContract(ctx, c, payouts); err != nil {
		return err
	}

	// Every bettor's open exposure changes on resolution.
	keys := []string{contractKey(c.ID)}
	seen := make(map[string]bool)
	for _, p := range payouts {
		if !seen[p.UserID] {
			seen[p.UserID] = true
			keys = append(keys, exposuresKey(p.UserID))
		}
	}
	s.rdb.Del(ctx, keys...)
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetContract(ctx context.Context, id string) (*model.Contract, error) {
	data, err := s.rdb.Get(ctx, contractKey(id)).Bytes()
	if err == nil {
		var c model.Contract
		if json.Unmarshal(data, &c) == nil {
			return &c, nil
		}
	}

	c, err := s.primary.GetContract(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cacheContract(ctx, c)
	return c, nil
}

// GetContractForUpdate reads the primary and drops the cached copy, which an
// unlocked reader may have filled with a state older than the last write.
func (s *CachedStore) GetContractForUpdate(ctx context.Context, id string) (*model.Contract, error) {
	c, err := s.primary.GetContractForUpdate(ctx, id)
	if err != nil {
		return nil, err
	}
	s.rdb.Del(ctx, contractKey(id))
	return c, nil
}

func (s *CachedStore) GetUserExposures(ctx context.Context, userID string) ([]model.Exposure, error) {
	data, err := s.rdb.Get(ctx, exposuresKey(userID)).Bytes()
	if err == nil {
		var exposures []model.Exposure
		if json.Unmarshal(data, &exposures) == nil {
			return exposures, nil
		}
	}

	exposures, err := s.primary.GetUserExposures(ctx, userID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(exposures); err == nil {
		s.rdb.Set(ctx, exposuresKey(userID), data, s.ttl)
	}
	return exposures, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListContracts(ctx context.Context) ([]model.Contract, error) {
	return s.primary.ListContracts(ctx)
}

func (s *CachedStore) GetBet(ctx context.Context, id string) (*model.Bet, error) {
	return s.primary.GetBet(ctx, id)
}

func (s *CachedStore) ListBetsByContract(ctx context.Context, contractID string) ([]model.Bet, error) {
	return s.primary.ListBetsByContract(ctx, contractID)
}

func (s *CachedStore) ListBetsByUser(ctx context.Context, userID string) ([]model.Bet, error) {
	return s.primary.ListBetsByUser(ctx, userID)
}

func (s *CachedStore) ListPayoutsByContract(ctx context.Context, contractID string) ([]model.Payout, error) {
	return s.primary.ListPayoutsByContract(ctx, contractID)
}

// --- Cache helpers ---

func (s *CachedStore) cacheContract(ctx context.Context, c *model.Contract) {
	if data, err := json.Marshal(c); err == nil {
		s.rdb.Set(ctx, contractKey(c.ID), data, s.ttl)
	}
}

func contractKey(id string) string   { return fmt.Sprintf("contract:%s", id) }
func exposuresKey(uid string) string { return fmt.Sprintf("exposures:%s", uid) }
