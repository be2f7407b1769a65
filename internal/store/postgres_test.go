package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mantic/market-engine/internal/model"
)

// These tests run against real services and are skipped unless
// TEST_DATABASE_URL (and TEST_REDIS_ADDR for the cache) are set.

func postgresStore(t *testing.T) *PostgresStore {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	require.NoError(t, Migrate(url))

	pool, err := pgxpool.New(context.Background(), url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return NewPostgresStore(pool)
}

func dpmTestContract() *model.Contract {
	seed := model.Pool{model.OutcomeYes: 10, model.OutcomeNo: 10}
	p := 0.4
	c := &model.Contract{
		ID:                    uuid.NewString(),
		Question:              "integration",
		Mechanism:             model.MechanismDPM,
		OutcomeType:           model.OutcomeTypeBinary,
		Categories:            []string{"science"},
		Pool:                  seed.Clone(),
		StartPool:             seed.Clone(),
		PhantomShares:         seed.Clone(),
		TotalShares:           model.Pool{model.OutcomeYes: 0, model.OutcomeNo: 0},
		TotalBets:             model.Pool{model.OutcomeYes: 0, model.OutcomeNo: 0},
		ResolutionProbability: &p,
		CreatedTime:           time.Now().UTC().Truncate(time.Microsecond),
	}
	return c
}

func TestPostgresStore_RoundTrip(t *testing.T) {
	s := postgresStore(t)
	ctx := context.Background()

	c := dpmTestContract()
	c.ResolutionProbability = nil
	require.NoError(t, s.CreateContract(ctx, c))
	assert.ErrorIs(t, s.CreateContract(ctx, c), ErrConflict)

	got, err := s.GetContract(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, c.Pool, got.Pool)
	assert.Equal(t, c.StartPool, got.StartPool)
	assert.Equal(t, c.PhantomShares, got.PhantomShares)
	assert.Equal(t, c.TotalBets, got.TotalBets)
	assert.Equal(t, []string{"science"}, got.Categories)
	assert.False(t, got.IsResolved())

	bet := &model.Bet{
		ID: uuid.NewString(), UserID: "u1", ContractID: c.ID, Outcome: model.OutcomeYes,
		Amount: 12.5, Shares: 20, ProbBefore: 0.5, ProbAfter: 0.7, CreatedTime: c.CreatedTime,
	}
	st := model.ContractState{
		Pool:        model.Pool{model.OutcomeYes: 22.5, model.OutcomeNo: 10},
		TotalShares: model.Pool{model.OutcomeYes: 20, model.OutcomeNo: 0},
		TotalBets:   model.Pool{model.OutcomeYes: 12.5, model.OutcomeNo: 0},
	}
	require.NoError(t, s.ApplyBet(ctx, bet, st))

	got, err = s.GetContract(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, st.TotalShares, got.TotalShares)

	exposures, err := s.GetUserExposures(ctx, "u1")
	require.NoError(t, err)
	var found bool
	for _, e := range exposures {
		if e.ContractID == c.ID {
			found = true
			assert.Equal(t, "12.5", e.Amount.String())
		}
	}
	assert.True(t, found)

	resolved := *got
	resolved.Resolution = model.OutcomeYes
	now := time.Now().UTC()
	resolved.ResolutionTime = &now
	payouts := []model.Payout{{
		ID: uuid.NewString(), BetID: bet.ID, ContractID: c.ID, UserID: "u1", Amount: 12.5, CreatedTime: now,
	}}
	require.NoError(t, s.ResolveContract(ctx, &resolved, payouts))
	assert.ErrorIs(t, s.ResolveContract(ctx, &resolved, nil), ErrConflict)
	assert.ErrorIs(t, s.ApplySale(ctx, bet.ID, 1, now, st), ErrConflict)

	stored, err := s.ListPayoutsByContract(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, 12.5, stored[0].Amount)
}

func TestCachedStore_InvalidatesOnBet(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer rdb.Close()

	ctx := context.Background()
	s := NewCachedStore(NewMemoryStore(), rdb, time.Minute)

	c := dpmTestContract()
	require.NoError(t, s.CreateContract(ctx, c))

	cached, err := s.GetContract(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, c.Pool, cached.Pool)
	require.NotNil(t, cached.ResolutionProbability)

	bet := &model.Bet{ID: uuid.NewString(), UserID: "u1", ContractID: c.ID, Outcome: model.OutcomeNo, Amount: 5, Shares: 8}
	next := c.State()
	next.Pool[model.OutcomeNo] += 5
	require.NoError(t, s.ApplyBet(ctx, bet, next))

	fresh, err := s.GetContract(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 15.0, fresh.Pool[model.OutcomeNo])
}
