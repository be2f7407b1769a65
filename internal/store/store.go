// Package store defines the persistence interface for the market engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/mantic/market-engine/internal/model"
)

var (
	// ErrNotFound is returned when a contract or bet does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrConflict is returned when a write loses to the current state: a
	// duplicate ID, a bet on a resolved contract, or a bet sold twice.
	ErrConflict = errors.New("store: conflicting state")
)

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
//
// The Apply and Resolve methods are atomic: the engine's pure results are
// written together with the contract state they were computed from.
type Store interface {
	// --- Contract operations ---

	// CreateContract persists a new contract with its opening state.
	CreateContract(ctx context.Context, c *model.Contract) error

	// GetContract retrieves a contract by its ID.
	GetContract(ctx context.Context, id string) (*model.Contract, error)

	// GetContractForUpdate reads a contract from the source of truth,
	// skipping any cache. Callers holding the contract lock use it so the
	// state they price against is the last committed one.
	GetContractForUpdate(ctx context.Context, id string) (*model.Contract, error)

	// ListContracts returns all contracts, newest first.
	ListContracts(ctx context.Context) ([]model.Contract, error)

	// --- Trades ---

	// ApplyBet records bet and moves its contract to st. It fails with
	// ErrConflict when the contract is already resolved.
	ApplyBet(ctx context.Context, bet *model.Bet, st model.ContractState) error

	// ApplySale marks bet sold for amount and moves its contract to st. It
	// fails with ErrConflict when the bet is already sold or the contract
	// is resolved.
	ApplySale(ctx context.Context, betID string, amount float64, soldAt time.Time, st model.ContractState) error

	// GetBet retrieves a bet by its ID.
	GetBet(ctx context.Context, id string) (*model.Bet, error)

	// ListBetsByContract returns all bets on a contract in creation order.
	ListBetsByContract(ctx context.Context, contractID string) ([]model.Bet, error)

	// ListBetsByUser returns all bets of a user in creation order.
	ListBetsByUser(ctx context.Context, userID string) ([]model.Bet, error)

	// --- Settlement ---

	// ResolveContract records c's resolution and its payouts. It fails with
	// ErrConflict when the stored contract is already resolved.
	ResolveContract(ctx context.Context, c *model.Contract, payouts []model.Payout) error

	// ListPayoutsByContract returns the payouts of a resolved contract.
	ListPayoutsByContract(ctx context.Context, contractID string) ([]model.Payout, error)

	// --- Position queries ---

	// GetUserExposures returns the user's open principal per unresolved
	// contract, tagged with the contract's categories.
	GetUserExposures(ctx context.Context, userID string) ([]model.Exposure, error)
}

// Compile-time interface checks.
var (
	_ Store  = (*MemoryStore)(nil)
	_ Store  = (*PostgresStore)(nil)
	_ Store  = (*CachedStore)(nil)
	_ Locker = (*MemoryLocker)(nil)
	_ Locker = (*RedisLocker)(nil)
)
