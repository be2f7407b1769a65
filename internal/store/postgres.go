package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/mantic/market-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Money (bet amounts, sale amounts, payouts) is stored as NUMERIC; pools
// are JSONB maps keyed by outcome.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const contractColumns = `id, creator_id, question, mechanism, outcome_type, categories, answers,
	pool::TEXT, k, total_shares::TEXT, total_bets::TEXT, start_pool::TEXT, phantom_shares::TEXT,
	min_value, max_value, bucket_count,
	resolution, resolution_probability, resolutions::TEXT,
	created_at, resolved_at`

const betColumns = `id, user_id, contract_id, outcome, amount::TEXT, shares,
	prob_before, prob_after, is_sold, sale_amount::TEXT, sold_at, created_at`

func (s *PostgresStore) CreateContract(ctx context.Context, c *model.Contract) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO contracts (id, creator_id, question, mechanism, outcome_type, categories, answers,
		                        pool, k, total_shares, total_bets, start_pool, phantom_shares,
		                        min_value, max_value, bucket_count, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7,
		         $8::JSONB, $9, $10::JSONB, $11::JSONB, $12::JSONB, $13::JSONB,
		         $14, $15, $16, $17)`,
		c.ID, c.CreatorID, c.Question, string(c.Mechanism), string(c.OutcomeType),
		nonNil(c.Categories), nonNil(c.Answers),
		jsonText(c.Pool), c.K, jsonNullable(c.TotalShares), jsonNullable(c.TotalBets), jsonNullable(c.StartPool),
		jsonNullable(c.PhantomShares),
		c.Min, c.Max, c.BucketCount, c.CreatedTime,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: contract %s already exists", ErrConflict, c.ID)
	}
	return err
}

func (s *PostgresStore) GetContract(ctx context.Context, id string) (*model.Contract, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+contractColumns+` FROM contracts WHERE id = $1`, id)
	c, err := scanContract(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: contract %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get contract %s: %w", id, err)
	}
	return c, nil
}

func (s *PostgresStore) GetContractForUpdate(ctx context.Context, id string) (*model.Contract, error) {
	return s.GetContract(ctx, id)
}

func (s *PostgresStore) ListContracts(ctx context.Context) ([]model.Contract, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+contractColumns+` FROM contracts ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var contracts []model.Contract
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			return nil, err
		}
		contracts = append(contracts, *c)
	}
	return contracts, rows.Err()
}

func (s *PostgresStore) ApplyBet(ctx context.Context, bet *model.Bet, st model.ContractState) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if err := updateState(ctx, tx, bet.ContractID, st); err != nil {
			return err
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO bets (id, user_id, contract_id, outcome, amount, shares, prob_before, prob_after, created_at)
			 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6, $7, $8, $9)`,
			bet.ID, bet.UserID, bet.ContractID, bet.Outcome,
			decimal.NewFromFloat(bet.Amount).String(), bet.Shares,
			bet.ProbBefore, bet.ProbAfter, bet.CreatedTime,
		)
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: bet %s already exists", ErrConflict, bet.ID)
		}
		return err
	})
}

func (s *PostgresStore) ApplySale(ctx context.Context, betID string, amount float64, soldAt time.Time, st model.ContractState) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var contractID string
		err := tx.QueryRow(ctx,
			`UPDATE bets SET is_sold = TRUE, sale_amount = $2::NUMERIC, sold_at = $3
			 WHERE id = $1 AND NOT is_sold
			 RETURNING contract_id`,
			betID, decimal.NewFromFloat(amount).String(), soldAt,
		).Scan(&contractID)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: bet %s is missing or already sold", ErrConflict, betID)
		}
		if err != nil {
			return err
		}
		return updateState(ctx, tx, contractID, st)
	})
}

// updateState moves an open contract to st, failing with ErrConflict when
// the contract is resolved.
func updateState(ctx context.Context, tx pgx.Tx, contractID string, st model.ContractState) error {
	tag, err := tx.Exec(ctx,
		`UPDATE contracts
		 SET pool = $2::JSONB,
		     total_shares = COALESCE($3::JSONB, total_shares),
		     total_bets = COALESCE($4::JSONB, total_bets)
		 WHERE id = $1 AND resolution = ''`,
		contractID, jsonText(st.Pool), jsonNullable(st.TotalShares), jsonNullable(st.TotalBets),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: contract %s is missing or resolved", ErrConflict, contractID)
	}
	return nil
}

func (s *PostgresStore) GetBet(ctx context.Context, id string) (*model.Bet, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+betColumns+` FROM bets WHERE id = $1`, id)
	b, err := scanBet(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: bet %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get bet %s: %w", id, err)
	}
	return b, nil
}

func (s *PostgresStore) ListBetsByContract(ctx context.Context, contractID string) ([]model.Bet, error) {
	return s.queryBets(ctx,
		`SELECT `+betColumns+` FROM bets WHERE contract_id = $1 ORDER BY created_at`, contractID)
}

func (s *PostgresStore) ListBetsByUser(ctx context.Context, userID string) ([]model.Bet, error) {
	return s.queryBets(ctx,
		`SELECT `+betColumns+` FROM bets WHERE user_id = $1 ORDER BY created_at`, userID)
}

func (s *PostgresStore) queryBets(ctx context.Context, sql string, arg string) ([]model.Bet, error) {
	rows, err := s.pool.Query(ctx, sql, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bets []model.Bet
	for rows.Next() {
		b, err := scanBet(rows)
		if err != nil {
			return nil, err
		}
		bets = append(bets, *b)
	}
	return bets, rows.Err()
}

func (s *PostgresStore) ResolveContract(ctx context.Context, c *model.Contract, payouts []model.Payout) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE contracts
			 SET resolution = $2, resolution_probability = $3, resolutions = $4::JSONB, resolved_at = $5
			 WHERE id = $1 AND resolution = ''`,
			c.ID, c.Resolution, c.ResolutionProbability, jsonNullable(c.Resolutions), c.ResolutionTime,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: contract %s is missing or already resolved", ErrConflict, c.ID)
		}

		batch := &pgx.Batch{}
		for _, p := range payouts {
			batch.Queue(
				`INSERT INTO payouts (id, bet_id, contract_id, user_id, amount, created_at)
				 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6)`,
				p.ID, p.BetID, p.ContractID, p.UserID,
				decimal.NewFromFloat(p.Amount).String(), p.CreatedTime,
			)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
}

func (s *PostgresStore) ListPayoutsByContract(ctx context.Context, contractID string) ([]model.Payout, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, bet_id, contract_id, user_id, amount::TEXT, created_at
		 FROM payouts WHERE contract_id = $1 ORDER BY created_at, id`, contractID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payouts []model.Payout
	for rows.Next() {
		var p model.Payout
		var amountS string
		if err := rows.Scan(&p.ID, &p.BetID, &p.ContractID, &p.UserID, &amountS, &p.CreatedTime); err != nil {
			return nil, err
		}
		p.Amount = parseMoney(amountS)
		payouts = append(payouts, p)
	}
	return payouts, rows.Err()
}

func (s *PostgresStore) GetUserExposures(ctx context.Context, userID string) ([]model.Exposure, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT b.contract_id, c.categories, COALESCE(SUM(b.amount), 0)::TEXT
		 FROM bets b
		 JOIN contracts c ON c.id = b.contract_id
		 WHERE b.user_id = $1 AND NOT b.is_sold AND c.resolution = ''
		 GROUP BY b.contract_id, c.categories`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var exposures []model.Exposure
	for rows.Next() {
		var e model.Exposure
		var amountS string
		if err := rows.Scan(&e.ContractID, &e.Categories, &amountS); err != nil {
			return nil, err
		}
		e.Amount, _ = decimal.NewFromString(amountS)
		exposures = append(exposures, e)
	}
	return exposures, rows.Err()
}

// --- Scanning ---

func scanContract(row pgx.Row) (*model.Contract, error) {
	var c model.Contract
	var mechanism, outcomeType, poolS string
	var totalSharesS, totalBetsS, startPoolS, phantomS, resolutionsS *string

	if err := row.Scan(&c.ID, &c.CreatorID, &c.Question, &mechanism, &outcomeType,
		&c.Categories, &c.Answers,
		&poolS, &c.K, &totalSharesS, &totalBetsS, &startPoolS, &phantomS,
		&c.Min, &c.Max, &c.BucketCount,
		&c.Resolution, &c.ResolutionProbability, &resolutionsS,
		&c.CreatedTime, &c.ResolutionTime); err != nil {
		return nil, err
	}

	c.Mechanism = model.Mechanism(mechanism)
	c.OutcomeType = model.OutcomeType(outcomeType)

	if err := json.Unmarshal([]byte(poolS), &c.Pool); err != nil {
		return nil, fmt.Errorf("decode pool of %s: %w", c.ID, err)
	}
	for _, f := range []struct {
		src *string
		dst *model.Pool
	}{
		{totalSharesS, &c.TotalShares},
		{totalBetsS, &c.TotalBets},
		{startPoolS, &c.StartPool},
		{phantomS, &c.PhantomShares},
	} {
		if f.src == nil {
			continue
		}
		if err := json.Unmarshal([]byte(*f.src), f.dst); err != nil {
			return nil, fmt.Errorf("decode pool of %s: %w", c.ID, err)
		}
	}
	if resolutionsS != nil {
		if err := json.Unmarshal([]byte(*resolutionsS), &c.Resolutions); err != nil {
			return nil, fmt.Errorf("decode resolutions of %s: %w", c.ID, err)
		}
	}
	return &c, nil
}

func scanBet(row pgx.Row) (*model.Bet, error) {
	var b model.Bet
	var amountS, saleS string
	if err := row.Scan(&b.ID, &b.UserID, &b.ContractID, &b.Outcome, &amountS, &b.Shares,
		&b.ProbBefore, &b.ProbAfter, &b.IsSold, &saleS, &b.SoldTime, &b.CreatedTime); err != nil {
		return nil, err
	}
	b.Amount = parseMoney(amountS)
	b.SaleAmount = parseMoney(saleS)
	return &b, nil
}

// --- Encoding helpers ---

func parseMoney(s string) float64 {
	d, _ := decimal.NewFromString(s)
	return d.InexactFloat64()
}

func jsonText(v any) string {
	data, _ := json.Marshal(v)
	return string(data)
}

// jsonNullable encodes v as JSON text, or SQL NULL when v is nil.
func jsonNullable[M ~map[string]float64](v M) *string {
	if v == nil {
		return nil
	}
	s := jsonText(v)
	return &s
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
