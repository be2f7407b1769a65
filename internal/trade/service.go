// Package trade provides the HTTP handlers and orchestration for creating
// contracts, placing and selling bets, resolving contracts and querying
// positions.
//
// Handlers read a contract snapshot, call the pure pricing engine and
// write the result back atomically while holding the contract's lock.
package trade

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/mantic/market-engine/internal/contract"
	"github.com/mantic/market-engine/internal/cpmm"
	"github.com/mantic/market-engine/internal/dpm"
	"github.com/mantic/market-engine/internal/engine"
	"github.com/mantic/market-engine/internal/limits"
	"github.com/mantic/market-engine/internal/metrics"
	"github.com/mantic/market-engine/internal/model"
	"github.com/mantic/market-engine/internal/store"
)

var (
	// ErrForbidden is returned when a user acts on a bet or contract they
	// do not own.
	ErrForbidden = errors.New("trade: not allowed")

	// ErrBetSold is returned when selling a bet that was already sold.
	ErrBetSold = errors.New("trade: bet already sold")
)

// Options tunes a Service. Zero values select the defaults.
type Options struct {
	// LockTimeout bounds how long a request waits for a contract lock.
	LockTimeout time.Duration
	// PayoutWorkers bounds concurrent payout computations at resolution.
	PayoutWorkers int
}

// Service handles contract operations. Trades on one contract are
// serialized through the Locker; the store applies each trade atomically.
type Service struct {
	store    store.Store
	locker   store.Locker
	limiter  *limits.PositionLimiter
	hub      *WSHub // optional WebSocket hub for real-time broadcasts
	validate *validator.Validate
	opts     Options
	now      func() time.Time
}

// NewService creates a new trade service.
// Pass nil for hub if WebSocket broadcasting is not needed, and nil for
// limiter to disable position limits.
func NewService(st store.Store, locker store.Locker, limiter *limits.PositionLimiter, hub *WSHub, opts Options) *Service {
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = 5 * time.Second
	}
	if opts.PayoutWorkers <= 0 {
		opts.PayoutWorkers = 8
	}
	return &Service{
		store:    st,
		locker:   locker,
		limiter:  limiter,
		hub:      hub,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		opts:     opts,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Routes mounts the service's handlers on r.
func (s *Service) Routes(r chi.Router) {
	r.Get("/contracts", s.ListContracts)
	r.Post("/contracts", s.CreateContract)
	r.Get("/contracts/{contractID}", s.GetContract)
	r.Get("/contracts/{contractID}/probability", s.GetProbability)
	r.Get("/contracts/{contractID}/quote", s.GetQuote)
	r.Post("/contracts/{contractID}/resolve", s.ResolveContract)
	r.Get("/contracts/{contractID}/bets", s.ListContractBets)
	r.Get("/contracts/{contractID}/payouts", s.ListPayouts)

	r.Post("/bets", s.PlaceBet)
	r.Post("/bets/{betID}/sell", s.SellBet)

	r.Get("/users/{userID}/bets", s.ListUserBets)
}

// SyncMetrics initializes gauges from the store. Called once at startup.
func (s *Service) SyncMetrics(ctx context.Context) error {
	contracts, err := s.store.ListContracts(ctx)
	if err != nil {
		return err
	}
	var open int
	for _, c := range contracts {
		if !c.IsResolved() {
			open++
		}
	}
	metrics.OpenContracts.Set(float64(open))
	return nil
}

// --- Request/Response types ---

// CreateContractRequest is the JSON body for contract creation.
type CreateContractRequest struct {
	CreatorID          string            `json:"creator_id" validate:"required"`
	Question           string            `json:"question" validate:"required,max=480"`
	Mechanism          model.Mechanism   `json:"mechanism" validate:"required,oneof=cpmm-1 dpm-2"`
	OutcomeType        model.OutcomeType `json:"outcome_type" validate:"required,oneof=BINARY FREE_RESPONSE NUMERIC"`
	InitialProbability float64           `json:"initial_probability" validate:"omitempty,gt=0,lt=1"`
	Ante               decimal.Decimal   `json:"ante"`
	Answers            []string          `json:"answers" validate:"omitempty,dive,required"`
	Min                float64           `json:"min"`
	Max                float64           `json:"max"`
	BucketCount        int               `json:"bucket_count" validate:"omitempty,min=2"`
	Categories         []string          `json:"categories"`
}

// PlaceBetRequest is the JSON body for POST /bets.
type PlaceBetRequest struct {
	UserID     string          `json:"user_id" validate:"required"`
	ContractID string          `json:"contract_id" validate:"required"`
	Outcome    string          `json:"outcome" validate:"required"`
	Amount     decimal.Decimal `json:"amount"`
}

// SellBetRequest is the JSON body for POST /bets/{betID}/sell.
type SellBetRequest struct {
	UserID string `json:"user_id" validate:"required"`
}

// ResolveRequest is the JSON body for POST /contracts/{contractID}/resolve.
type ResolveRequest struct {
	CreatorID   string             `json:"creator_id" validate:"required"`
	Outcome     string             `json:"outcome" validate:"required_without=Value"`
	Value       *float64           `json:"value"`
	Probability *float64           `json:"probability" validate:"omitempty,gte=0,lte=1"`
	Weights     map[string]float64 `json:"weights" validate:"omitempty,dive,gte=0"`
}

// BetResponse is returned from POST /bets and POST /bets/{betID}/sell.
type BetResponse struct {
	Bet           model.Bet          `json:"bet"`
	Probabilities map[string]float64 `json:"probabilities"`
}

// QuoteResponse is returned from GET /contracts/{contractID}/quote.
type QuoteResponse struct {
	ContractID string  `json:"contract_id"`
	Outcome    string  `json:"outcome"`
	Amount     float64 `json:"amount"`
	Shares     float64 `json:"shares"`
	ProbBefore float64 `json:"prob_before"`
	ProbAfter  float64 `json:"prob_after"`
	// MaxPayout is what the bet would pay if its outcome won.
	MaxPayout float64 `json:"max_payout"`
}

// ResolveResponse is returned from POST /contracts/{contractID}/resolve.
type ResolveResponse struct {
	Contract    model.Contract `json:"contract"`
	Payouts     []model.Payout `json:"payouts"`
	TotalPayout float64        `json:"total_payout"`
}

// UserBet is one entry of GET /users/{userID}/bets.
type UserBet struct {
	model.Bet
	// CurrentValue marks an open bet to market.
	CurrentValue float64 `json:"current_value"`
	// Payout is set once the contract is resolved.
	Payout *float64 `json:"payout,omitempty"`
}

// --- HTTP Handlers ---

// CreateContract handles POST /api/v1/contracts
func (s *Service) CreateContract(w http.ResponseWriter, r *http.Request) {
	var req CreateContractRequest
	if !s.decode(w, r, &req) {
		return
	}

	c, err := contract.New(contract.CreateParams{
		CreatorID:          req.CreatorID,
		Question:           req.Question,
		Mechanism:          req.Mechanism,
		OutcomeType:        req.OutcomeType,
		InitialProbability: req.InitialProbability,
		Ante:               req.Ante,
		Answers:            req.Answers,
		Min:                req.Min,
		Max:                req.Max,
		BucketCount:        req.BucketCount,
		Categories:         req.Categories,
	}, s.now())
	if err != nil {
		writeErr(w, err)
		return
	}

	if err := s.store.CreateContract(r.Context(), c); err != nil {
		writeErr(w, err)
		return
	}
	metrics.OpenContracts.Inc()

	slog.Info("contract created",
		"id", c.ID,
		"creator", c.CreatorID,
		"mechanism", c.Mechanism,
		"outcome_type", c.OutcomeType,
		"ante", req.Ante.String(),
	)

	writeJSON(w, http.StatusCreated, c)
}

// GetContract handles GET /api/v1/contracts/{contractID}
func (s *Service) GetContract(w http.ResponseWriter, r *http.Request) {
	c, err := s.store.GetContract(r.Context(), chi.URLParam(r, "contractID"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// ListContracts handles GET /api/v1/contracts
// Optional filters: ?category=<tag> and ?open=true.
func (s *Service) ListContracts(w http.ResponseWriter, r *http.Request) {
	contracts, err := s.store.ListContracts(r.Context())
	if err != nil {
		writeError(w, "failed to list contracts", http.StatusInternalServerError)
		return
	}

	category := r.URL.Query().Get("category")
	openOnly := r.URL.Query().Get("open") == "true"

	filtered := make([]model.Contract, 0, len(contracts))
	for _, c := range contracts {
		if openOnly && c.IsResolved() {
			continue
		}
		if category != "" && !hasCategory(c.Categories, category) {
			continue
		}
		filtered = append(filtered, c)
	}
	writeJSON(w, http.StatusOK, filtered)
}

// GetProbability handles GET /api/v1/contracts/{contractID}/probability
func (s *Service) GetProbability(w http.ResponseWriter, r *http.Request) {
	c, err := s.store.GetContract(r.Context(), chi.URLParam(r, "contractID"))
	if err != nil {
		writeErr(w, err)
		return
	}
	probs, err := engine.Probabilities(c)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, probs)
}

// GetQuote handles GET /api/v1/contracts/{contractID}/quote?amount=&outcome=
// The quote is computed on the current snapshot and changes nothing.
func (s *Service) GetQuote(w http.ResponseWriter, r *http.Request) {
	amount, err := strconv.ParseFloat(r.URL.Query().Get("amount"), 64)
	if err != nil {
		writeError(w, "amount must be a number", http.StatusBadRequest)
		return
	}
	outcome := r.URL.Query().Get("outcome")

	c, err := s.store.GetContract(r.Context(), chi.URLParam(r, "contractID"))
	if err != nil {
		writeErr(w, err)
		return
	}
	if c.IsResolved() {
		writeError(w, "contract is resolved", http.StatusConflict)
		return
	}

	res, err := engine.Purchase(c, amount, outcome)
	if err != nil {
		writeErr(w, err)
		return
	}

	bet := &model.Bet{Outcome: outcome, Amount: amount, Shares: res.Shares}
	maxPayout, err := engine.Payout(c.WithState(res.State), bet, outcome)
	if err != nil {
		writeErr(w, err)
		return
	}

	writeJSON(w, http.StatusOK, QuoteResponse{
		ContractID: c.ID,
		Outcome:    outcome,
		Amount:     amount,
		Shares:     res.Shares,
		ProbBefore: res.ProbBefore,
		ProbAfter:  res.ProbAfter,
		MaxPayout:  maxPayout,
	})
}

// PlaceBet handles POST /api/v1/bets
func (s *Service) PlaceBet(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req PlaceBetRequest
	if !s.decode(w, r, &req) {
		return
	}
	if !req.Amount.IsPositive() {
		writeError(w, "amount must be positive", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	unlock, err := s.lock(ctx, req.ContractID)
	if err != nil {
		writeErr(w, err)
		return
	}
	defer unlock()

	c, err := s.store.GetContractForUpdate(ctx, req.ContractID)
	if err != nil {
		writeErr(w, err)
		return
	}
	if c.IsResolved() {
		writeError(w, "contract is resolved", http.StatusConflict)
		return
	}

	// --- Position limit check ---
	if s.limiter != nil {
		exposures, err := s.store.GetUserExposures(ctx, req.UserID)
		if err != nil {
			writeError(w, "failed to check position limits", http.StatusInternalServerError)
			return
		}
		target := model.Exposure{ContractID: c.ID, Categories: c.Categories}
		if err := s.limiter.CheckLimit(target, req.Amount, exposures); err != nil {
			metrics.PositionLimitRejections.Inc()
			writeErr(w, err)
			return
		}
	}

	amount := req.Amount.InexactFloat64()
	res, err := engine.Purchase(c, amount, req.Outcome)
	if err != nil {
		writeErr(w, err)
		return
	}

	bet := &model.Bet{
		ID:          uuid.NewString(),
		UserID:      req.UserID,
		ContractID:  c.ID,
		Outcome:     req.Outcome,
		Amount:      amount,
		Shares:      res.Shares,
		ProbBefore:  res.ProbBefore,
		ProbAfter:   res.ProbAfter,
		CreatedTime: s.now(),
	}
	if err := s.store.ApplyBet(ctx, bet, res.State); err != nil {
		writeErr(w, err)
		return
	}

	after := c.WithState(res.State)
	probs, _ := engine.Probabilities(after)

	mech := string(c.Mechanism)
	metrics.BetsTotal.WithLabelValues(mech, outcomeLabel(c, req.Outcome)).Inc()
	metrics.BetVolume.WithLabelValues(mech).Add(amount)
	metrics.BetLatency.WithLabelValues(mech).Observe(time.Since(start).Seconds())

	slog.Info("bet placed",
		"bet_id", bet.ID,
		"user", bet.UserID,
		"contract", c.ID,
		"outcome", bet.Outcome,
		"amount", req.Amount.String(),
		"shares", bet.Shares,
		"prob_before", bet.ProbBefore,
		"prob_after", bet.ProbAfter,
	)

	s.broadcast(WSMessage{
		Type:          "bet_placed",
		ContractID:    c.ID,
		Outcome:       bet.Outcome,
		Amount:        bet.Amount,
		Probabilities: probs,
	})

	writeJSON(w, http.StatusOK, BetResponse{Bet: *bet, Probabilities: probs})
}

// SellBet handles POST /api/v1/bets/{betID}/sell
func (s *Service) SellBet(w http.ResponseWriter, r *http.Request) {
	var req SellBetRequest
	if !s.decode(w, r, &req) {
		return
	}

	ctx := r.Context()
	bet, err := s.store.GetBet(ctx, chi.URLParam(r, "betID"))
	if err != nil {
		writeErr(w, err)
		return
	}
	if bet.UserID != req.UserID {
		writeErr(w, ErrForbidden)
		return
	}

	unlock, err := s.lock(ctx, bet.ContractID)
	if err != nil {
		writeErr(w, err)
		return
	}
	defer unlock()

	// Re-read under the lock: a concurrent sale may have won.
	bet, err = s.store.GetBet(ctx, bet.ID)
	if err != nil {
		writeErr(w, err)
		return
	}
	if bet.IsSold {
		writeErr(w, ErrBetSold)
		return
	}

	c, err := s.store.GetContractForUpdate(ctx, bet.ContractID)
	if err != nil {
		writeErr(w, err)
		return
	}
	if c.IsResolved() {
		writeError(w, "contract is resolved", http.StatusConflict)
		return
	}

	sale, err := engine.Sale(c, bet)
	if err != nil {
		writeErr(w, err)
		return
	}

	soldAt := s.now()
	if err := s.store.ApplySale(ctx, bet.ID, sale.SaleAmount, soldAt, sale.State); err != nil {
		writeErr(w, err)
		return
	}
	bet.IsSold = true
	bet.SaleAmount = sale.SaleAmount
	bet.SoldTime = &soldAt

	probs, _ := engine.Probabilities(c.WithState(sale.State))
	metrics.SalesTotal.WithLabelValues(string(c.Mechanism)).Inc()

	slog.Info("bet sold",
		"bet_id", bet.ID,
		"user", bet.UserID,
		"contract", c.ID,
		"sale_amount", sale.SaleAmount,
		"prob_after", sale.ProbAfter,
	)

	s.broadcast(WSMessage{
		Type:          "bet_sold",
		ContractID:    c.ID,
		Outcome:       bet.Outcome,
		Amount:        sale.SaleAmount,
		Probabilities: probs,
	})

	writeJSON(w, http.StatusOK, BetResponse{Bet: *bet, Probabilities: probs})
}

// ResolveContract handles POST /api/v1/contracts/{contractID}/resolve
// Records the resolution and pays every unsold bet.
func (s *Service) ResolveContract(w http.ResponseWriter, r *http.Request) {
	var req ResolveRequest
	if !s.decode(w, r, &req) {
		return
	}

	ctx := r.Context()
	contractID := chi.URLParam(r, "contractID")

	unlock, err := s.lock(ctx, contractID)
	if err != nil {
		writeErr(w, err)
		return
	}
	defer unlock()

	c, err := s.store.GetContractForUpdate(ctx, contractID)
	if err != nil {
		writeErr(w, err)
		return
	}
	if c.CreatorID != req.CreatorID {
		writeErr(w, ErrForbidden)
		return
	}

	res := contract.Resolution{
		Outcome:     req.Outcome,
		Value:       req.Value,
		Probability: req.Probability,
		Weights:     req.Weights,
	}
	outcome, err := contract.ValidateResolution(c, res)
	if err != nil {
		writeErr(w, err)
		return
	}
	now := s.now()
	resolved := contract.Resolve(c, outcome, res, now)

	bets, err := s.store.ListBetsByContract(ctx, contractID)
	if err != nil {
		writeError(w, "failed to load bets", http.StatusInternalServerError)
		return
	}

	payouts, err := s.computePayouts(ctx, resolved, bets, now)
	if err != nil {
		writeErr(w, err)
		return
	}

	if err := s.store.ResolveContract(ctx, resolved, payouts); err != nil {
		writeErr(w, err)
		return
	}

	var total float64
	for _, p := range payouts {
		total += p.Amount
	}

	mech := string(c.Mechanism)
	metrics.OpenContracts.Dec()
	metrics.ResolutionsTotal.WithLabelValues(mech, metrics.ResolutionKind(outcomeLabel(c, outcome))).Inc()
	metrics.PayoutVolume.WithLabelValues(mech).Add(total)

	slog.Info("contract resolved",
		"contract", c.ID,
		"resolution", outcome,
		"bets", len(bets),
		"payouts", len(payouts),
		"total_payout", total,
	)

	s.broadcast(WSMessage{
		Type:       "contract_resolved",
		ContractID: c.ID,
		Resolution: outcome,
		Amount:     total,
	})

	if payouts == nil {
		payouts = []model.Payout{}
	}
	writeJSON(w, http.StatusOK, ResolveResponse{Contract: *resolved, Payouts: payouts, TotalPayout: total})
}

// computePayouts settles every unsold bet against the resolved contract.
// Sold bets were already cashed out and zero payouts are not recorded.
func (s *Service) computePayouts(ctx context.Context, c *model.Contract, bets []model.Bet, now time.Time) ([]model.Payout, error) {
	amounts := make([]float64, len(bets))

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.PayoutWorkers)
	for i := range bets {
		if bets[i].IsSold {
			continue
		}
		i := i
		g.Go(func() error {
			amount, err := engine.ResolvedPayout(c, &bets[i])
			if err != nil {
				return err
			}
			amounts[i] = amount
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var payouts []model.Payout
	for i, b := range bets {
		if amounts[i] <= 0 {
			continue
		}
		payouts = append(payouts, model.Payout{
			ID:          uuid.NewString(),
			BetID:       b.ID,
			ContractID:  c.ID,
			UserID:      b.UserID,
			Amount:      amounts[i],
			CreatedTime: now,
		})
	}
	return payouts, nil
}

// ListContractBets handles GET /api/v1/contracts/{contractID}/bets
func (s *Service) ListContractBets(w http.ResponseWriter, r *http.Request) {
	bets, err := s.store.ListBetsByContract(r.Context(), chi.URLParam(r, "contractID"))
	if err != nil {
		writeError(w, "failed to list bets", http.StatusInternalServerError)
		return
	}
	if bets == nil {
		bets = []model.Bet{}
	}
	writeJSON(w, http.StatusOK, bets)
}

// ListPayouts handles GET /api/v1/contracts/{contractID}/payouts
func (s *Service) ListPayouts(w http.ResponseWriter, r *http.Request) {
	payouts, err := s.store.ListPayoutsByContract(r.Context(), chi.URLParam(r, "contractID"))
	if err != nil {
		writeError(w, "failed to list payouts", http.StatusInternalServerError)
		return
	}
	if payouts == nil {
		payouts = []model.Payout{}
	}
	writeJSON(w, http.StatusOK, payouts)
}

// ListUserBets handles GET /api/v1/users/{userID}/bets
// Open bets are marked to market; resolved bets carry their payout.
func (s *Service) ListUserBets(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	bets, err := s.store.ListBetsByUser(ctx, chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, "failed to list bets", http.StatusInternalServerError)
		return
	}

	contracts := make(map[string]*model.Contract)
	out := make([]UserBet, 0, len(bets))
	for i := range bets {
		b := &bets[i]
		c, ok := contracts[b.ContractID]
		if !ok {
			c, err = s.store.GetContract(ctx, b.ContractID)
			if err != nil {
				writeErr(w, err)
				return
			}
			contracts[b.ContractID] = c
		}

		ub := UserBet{Bet: *b}
		switch {
		case b.IsSold:
		case c.IsResolved():
			payout, err := engine.ResolvedPayout(c, b)
			if err != nil {
				writeErr(w, err)
				return
			}
			ub.Payout = &payout
		default:
			ub.CurrentValue, err = engine.CurrentValue(c, b)
			if err != nil {
				writeErr(w, err)
				return
			}
		}
		out = append(out, ub)
	}
	writeJSON(w, http.StatusOK, out)
}

// --- Helpers ---

func (s *Service) lock(ctx context.Context, contractID string) (func(), error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.LockTimeout)
	defer cancel()
	return s.locker.Acquire(ctx, contractID)
}

func (s *Service) broadcast(msg WSMessage) {
	if s.hub != nil {
		s.hub.Broadcast(msg)
	}
}

// decode reads a JSON body into dst and validates it, writing a 400 on
// failure.
func (s *Service) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

// outcomeLabel keeps metric labels bounded on multi-outcome contracts.
func outcomeLabel(c *model.Contract, outcome string) string {
	if c.OutcomeType == model.OutcomeTypeBinary {
		return outcome
	}
	switch outcome {
	case model.ResolutionMkt, model.ResolutionCancel:
		return outcome
	}
	return "ANSWER"
}

func hasCategory(cats []string, cat string) bool {
	for _, c := range cats {
		if c == cat {
			return true
		}
	}
	return false
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, store.ErrConflict),
		errors.Is(err, ErrBetSold),
		errors.Is(err, contract.ErrAlreadyResolved),
		errors.Is(err, limits.ErrContractLimitExceeded),
		errors.Is(err, limits.ErrCategoryLimitExceeded):
		return http.StatusConflict
	case errors.Is(err, store.ErrLockTimeout):
		return http.StatusServiceUnavailable
	case errors.Is(err, engine.ErrInvalidAmount),
		errors.Is(err, engine.ErrInvalidOutcome),
		errors.Is(err, contract.ErrInvalidQuestion),
		errors.Is(err, contract.ErrInvalidMechanism),
		errors.Is(err, contract.ErrInvalidOutcomeType),
		errors.Is(err, contract.ErrInvalidProbability),
		errors.Is(err, contract.ErrInvalidAnte),
		errors.Is(err, contract.ErrInvalidAnswers),
		errors.Is(err, contract.ErrInvalidRange),
		errors.Is(err, contract.ErrInvalidCategory),
		errors.Is(err, contract.ErrInvalidResolution):
		return http.StatusBadRequest
	case errors.Is(err, cpmm.ErrNegativeRadicand),
		errors.Is(err, dpm.ErrNegativeRadicand),
		errors.Is(err, dpm.ErrNotBinary):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// writeErr writes err with its mapped status. Internal errors are logged
// and not echoed to the client.
func writeErr(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "err", err)
		writeError(w, "internal error", status)
		return
	}
	writeError(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
