package dpm

import (
	"errors"
	"math"
	"testing"

	"github.com/mantic/market-engine/internal/fees"
	"github.com/mantic/market-engine/internal/model"
)

func approx(a, b float64) bool {
	return math.Abs(a-b) <= 1e-9*math.Max(1, math.Abs(b))
}

// binary is a test helper for a binary DPM contract.
func binary(pool, start, shares, bets model.Pool) *model.Contract {
	return &model.Contract{
		Mechanism:   model.MechanismDPM,
		OutcomeType: model.OutcomeTypeBinary,
		Pool:        pool,
		StartPool:   start,
		TotalShares: shares,
		TotalBets:   bets,
	}
}

func yn(yes, no float64) model.Pool {
	return model.Pool{model.OutcomeYes: yes, model.OutcomeNo: no}
}

// --- Probability ---

func TestProbability_SquaredRatio(t *testing.T) {
	p := Probability(yn(3, 4))
	if !approx(p, 9.0/25.0) {
		t.Errorf("expected 0.36, got %v", p)
	}
}

func TestProbability_DiffersFromLinear(t *testing.T) {
	// Squared reserves push probability further from 0.5 than the linear ratio.
	p := Probability(yn(60, 40))
	if p <= 0.6 {
		t.Errorf("expected squared ratio above linear 0.6, got %v", p)
	}
}

func TestOutcomeProbability_MultiSumsToOne(t *testing.T) {
	shares := model.Pool{"a": 10, "b": 20, "c": 5}
	var sum float64
	for _, o := range shares.Outcomes() {
		sum += OutcomeProbability(shares, o)
	}
	if !approx(sum, 1) {
		t.Errorf("probabilities should sum to 1, got %v", sum)
	}
}

// --- Purchase ---

func TestShares_AtLeastBet(t *testing.T) {
	pool := yn(70, 130)
	for _, bet := range []float64{0.5, 1, 10, 100, 5000} {
		for _, o := range []string{model.OutcomeYes, model.OutcomeNo} {
			if s := Shares(pool, bet, o); s < bet {
				t.Errorf("%s bet=%v: shares %v < bet", o, bet, s)
			}
		}
	}
}

func TestShares_Monotonic(t *testing.T) {
	pool := yn(100, 100)
	prev := 0.0
	for _, bet := range []float64{1, 3, 10, 40, 250} {
		s := Shares(pool, bet, model.OutcomeNo)
		if s <= prev {
			t.Errorf("shares should strictly increase: %v then %v", prev, s)
		}
		prev = s
	}
}

func TestCalculatePurchase_UpdatesTotals(t *testing.T) {
	c := binary(yn(100, 100), yn(100, 100), yn(100, 100), yn(0, 0))
	p := CalculatePurchase(c, 10, model.OutcomeYes)

	wantShares := 10 + 10*100*100/(100*100+10*100.0)
	if !approx(p.Shares, wantShares) {
		t.Errorf("shares: want %v, got %v", wantShares, p.Shares)
	}
	if p.NewPool[model.OutcomeYes] != 110 || p.NewPool[model.OutcomeNo] != 100 {
		t.Errorf("unexpected pool %v", p.NewPool)
	}
	if !approx(p.NewTotalShares[model.OutcomeYes], 100+wantShares) {
		t.Errorf("unexpected total shares %v", p.NewTotalShares)
	}
	if p.NewTotalBets[model.OutcomeYes] != 10 {
		t.Errorf("unexpected total bets %v", p.NewTotalBets)
	}
	if c.Pool[model.OutcomeYes] != 100 || c.TotalBets[model.OutcomeYes] != 0 {
		t.Error("contract mutated by purchase quote")
	}
}

func TestMultiShares_AtLeastBetAndMonotonic(t *testing.T) {
	shares := model.Pool{"1": 10, "2": 30, "3": 0}
	prev := 0.0
	for _, bet := range []float64{1, 5, 20, 100} {
		s := MultiShares(shares, bet, "3")
		if s < bet {
			t.Errorf("bet=%v: shares %v < bet", bet, s)
		}
		if s <= prev {
			t.Errorf("shares should strictly increase: %v then %v", prev, s)
		}
		prev = s
	}
}

func TestProbabilityAfterBet_Multi(t *testing.T) {
	c := &model.Contract{
		Mechanism:   model.MechanismDPM,
		OutcomeType: model.OutcomeTypeFreeResponse,
		Pool:        model.Pool{"1": 10, "2": 10},
		TotalShares: model.Pool{"1": 10, "2": 10},
		TotalBets:   model.Pool{},
	}
	before := ContractProbability(c, "2")
	after := ProbabilityAfterBet(c, "2", 25)
	if after <= before {
		t.Errorf("buying an answer should raise its probability: %v -> %v", before, after)
	}
}

// --- Sale ---

func TestShareValue_InvertsShares(t *testing.T) {
	for _, o := range []string{model.OutcomeYes, model.OutcomeNo} {
		c := binary(yn(120, 80), yn(0, 0), yn(120, 80), yn(0, 0))
		p := CalculatePurchase(c, 15, o)

		after := *c
		after.Pool = p.NewPool
		v, err := ShareValue(&after, p.Shares, o)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !approx(v, 15) {
			t.Errorf("%s: share value %v, want 15", o, v)
		}
	}
}

func TestCalculateSale_RoundTrip(t *testing.T) {
	c := binary(yn(100, 100), yn(0, 0), yn(100, 100), yn(0, 0))
	p := CalculatePurchase(c, 10, model.OutcomeYes)

	after := binary(p.NewPool, c.StartPool, p.NewTotalShares, p.NewTotalBets)
	bet := &model.Bet{Amount: 10, Shares: p.Shares, Outcome: model.OutcomeYes}

	sale, err := CalculateSale(after, bet)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !approx(sale.ShareValue, 10) {
		t.Errorf("share value: want 10, got %v", sale.ShareValue)
	}
	if !approx(sale.SaleAmount, 10) {
		t.Errorf("sale amount at breakeven carries no fee: want 10, got %v", sale.SaleAmount)
	}
	if !approx(sale.NewPool[model.OutcomeYes], 100) || !approx(sale.NewTotalShares[model.OutcomeYes], 100) {
		t.Errorf("state not restored: pool=%v shares=%v", sale.NewPool, sale.NewTotalShares)
	}
	if !approx(sale.NewTotalBets[model.OutcomeYes], 0) {
		t.Errorf("total bets not restored: %v", sale.NewTotalBets)
	}
}

func TestCalculateSale_CappedByOwnPool(t *testing.T) {
	// Only 2 units of YES money sit above the seed; the sale cannot exceed it.
	c := binary(yn(102, 100), yn(100, 100), yn(1, 1), yn(2, 0))
	bet := &model.Bet{Amount: 2, Shares: 50, Outcome: model.OutcomeYes}

	sale, err := CalculateSale(c, bet)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !approx(sale.ShareValue, 2) {
		t.Errorf("sale %v should be capped at own pool 2", sale.ShareValue)
	}
}

func TestCalculateSale_ScaledByLiquidity(t *testing.T) {
	c := binary(yn(100, 100), yn(90, 90), yn(1000, 1000), yn(10, 10))
	bet := &model.Bet{Amount: 5, Shares: 8, Outcome: model.OutcomeNo}

	raw, err := ShareValue(c, bet.Shares, bet.Outcome)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sale, err := CalculateSale(c, bet)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// f = 20 / 1000 scales the raw value down.
	if !approx(sale.ShareValue, math.Min(0.02*raw, 10)) {
		t.Errorf("want %v, got %v", 0.02*raw, sale.ShareValue)
	}
}

func TestCalculateSale_RejectsMultiOutcome(t *testing.T) {
	c := &model.Contract{OutcomeType: model.OutcomeTypeFreeResponse}
	_, err := CalculateSale(c, &model.Bet{Amount: 1, Shares: 1, Outcome: "1"})
	if !errors.Is(err, ErrNotBinary) {
		t.Errorf("expected ErrNotBinary, got %v", err)
	}
}

func TestShareValue_InvalidRadicand(t *testing.T) {
	c := binary(yn(10, 10), yn(0, 0), yn(10, 10), yn(0, 0))
	_, err := ShareValue(c, math.NaN(), model.OutcomeYes)
	if !errors.Is(err, ErrNegativeRadicand) {
		t.Errorf("expected ErrNegativeRadicand, got %v", err)
	}
}

// --- Payout ---

func TestPayout_Cancel(t *testing.T) {
	c := binary(yn(50, 50), yn(10, 10), yn(150, 40), yn(100, 20))
	bet := &model.Bet{Amount: 25, Shares: 3, Outcome: model.OutcomeNo}
	if got := Payout(c, bet, model.ResolutionCancel); got != 25 {
		t.Errorf("cancel should refund 25, got %v", got)
	}
}

func TestStandardPayout_Underfunded(t *testing.T) {
	// truePool = 100 - 20 = 80 <= totalBets[YES] = 100.
	c := binary(yn(50, 50), yn(10, 10), yn(150, 40), yn(100, 20))
	bet := &model.Bet{Amount: 10, Shares: 15, Outcome: model.OutcomeYes}

	if got := StandardPayout(c, bet, model.OutcomeYes); !approx(got, 8) {
		t.Errorf("want 10/100*80 = 8, got %v", got)
	}
}

func TestStandardPayout_Winnings(t *testing.T) {
	// truePool = 80, totalBets[YES] = 30 -> winningsPool = 50 over 30 profit shares.
	c := binary(yn(50, 50), yn(10, 10), yn(60, 70), yn(30, 50))
	bet := &model.Bet{Amount: 10, Shares: 25, Outcome: model.OutcomeYes}

	want := 10 + (1-fees.FeeFraction)*25
	if got := StandardPayout(c, bet, model.OutcomeYes); !approx(got, want) {
		t.Errorf("want %v, got %v", want, got)
	}
}

func TestStandardPayout_LoserAndEmptySide(t *testing.T) {
	c := binary(yn(50, 50), yn(10, 10), yn(60, 0), yn(30, 0))
	bet := &model.Bet{Amount: 10, Shares: 25, Outcome: model.OutcomeYes}
	if got := StandardPayout(c, bet, model.OutcomeNo); got != 0 {
		t.Errorf("loser should get 0, got %v", got)
	}

	noBet := &model.Bet{Amount: 10, Shares: 25, Outcome: model.OutcomeNo}
	if got := StandardPayout(c, noBet, model.OutcomeNo); got != 0 {
		t.Errorf("side with no shares should pay 0, got %v", got)
	}
}

func TestStandardPayout_RegimeBoundaryContinuous(t *testing.T) {
	bet := &model.Bet{Amount: 10, Shares: 14, Outcome: model.OutcomeYes}

	// totalBets[YES] == truePool == 80 exactly.
	at := binary(yn(50, 50), yn(10, 10), yn(120, 30), yn(80, 20))
	atBoundary := StandardPayout(at, bet, model.OutcomeYes)
	if !approx(atBoundary, 10) {
		t.Errorf("boundary payout should return principal, got %v", atBoundary)
	}

	// Just inside the winnings regime.
	above := binary(yn(50, 50+1e-9), yn(10, 10), yn(120, 30), yn(80, 20))
	if got := StandardPayout(above, bet, model.OutcomeYes); math.Abs(got-atBoundary) > 1e-6 {
		t.Errorf("discontinuity at regime boundary: %v vs %v", got, atBoundary)
	}
}

func TestMktPayout_BlendsBothSides(t *testing.T) {
	c := binary(yn(60, 80), yn(10, 10), yn(90, 100), yn(40, 60))
	p := Probability(c.Pool)

	yes := &model.Bet{Amount: 10, Shares: 20, Outcome: model.OutcomeYes}
	no := &model.Bet{Amount: 10, Shares: 20, Outcome: model.OutcomeNo}

	truePool := 120.0
	weightedTotal := p*40 + (1-p)*60
	weightedShareTotal := p*50 + (1-p)*40
	winningsPool := truePool - weightedTotal

	wantYes := fees.Deduct(10, p*10+p*10/weightedShareTotal*winningsPool)
	wantNo := fees.Deduct(10, (1-p)*10+(1-p)*10/weightedShareTotal*winningsPool)

	if got := MktPayout(c, yes); !approx(got, wantYes) {
		t.Errorf("YES: want %v, got %v", wantYes, got)
	}
	if got := MktPayout(c, no); !approx(got, wantNo) {
		t.Errorf("NO: want %v, got %v", wantNo, got)
	}
}

func TestMktPayout_UnderfundedWeighted(t *testing.T) {
	c := binary(yn(50, 50), yn(40, 40), yn(120, 120), yn(60, 60))
	p := 0.5
	c.ResolutionProbability = &p

	bet := &model.Bet{Amount: 12, Shares: 20, Outcome: model.OutcomeNo}
	// weightedTotal 60 >= truePool 20: 0.5*12/60*20 = 2.
	if got := MktPayout(c, bet); !approx(got, 2) {
		t.Errorf("want 2, got %v", got)
	}
}

func TestMktPayout_ExplicitResolutions(t *testing.T) {
	c := &model.Contract{
		Mechanism:   model.MechanismDPM,
		OutcomeType: model.OutcomeTypeFreeResponse,
		Pool:        model.Pool{"1": 30, "2": 30, "3": 40},
		StartPool:   model.Pool{},
		TotalShares: model.Pool{"1": 60, "2": 60, "3": 80},
		TotalBets:   model.Pool{"1": 30, "2": 30, "3": 40},
		Resolutions: map[string]float64{"1": 30, "2": 70},
	}
	w := MktWeights(c)
	if !approx(w["1"], 0.3) || !approx(w["2"], 0.7) || w["3"] != 0 {
		t.Fatalf("unexpected weights %v", w)
	}

	loser := &model.Bet{Amount: 5, Shares: 9, Outcome: "3"}
	if got := MktPayout(c, loser); got != 0 {
		t.Errorf("unweighted answer should pay 0, got %v", got)
	}
	winner := &model.Bet{Amount: 5, Shares: 9, Outcome: "2"}
	if got := MktPayout(c, winner); got <= 0 {
		t.Errorf("weighted answer should pay, got %v", got)
	}
}

func TestCurrentValue_Bounds(t *testing.T) {
	c := binary(yn(60, 70), yn(10, 10), yn(60, 70), yn(30, 50))
	bet := &model.Bet{Amount: 10, Shares: 25, Outcome: model.OutcomeYes}

	value := CurrentValue(c, bet)
	win := StandardPayout(c, bet, model.OutcomeYes)
	if value <= 0 || value >= win {
		t.Errorf("current value %v should lie in (0, %v)", value, win)
	}
	if !approx(value, Probability(c.Pool)*win) {
		t.Errorf("current value should be p * payout(YES), got %v", value)
	}
}

func TestPayoutAfterCorrectBet_IncludesBet(t *testing.T) {
	c := binary(yn(60, 70), yn(10, 10), yn(60, 70), yn(30, 50))
	bet := &model.Bet{Amount: 10, Outcome: model.OutcomeYes}
	bet.Shares = Shares(c.Pool, bet.Amount, bet.Outcome)

	got := PayoutAfterCorrectBet(c, bet)
	if got <= bet.Amount {
		t.Errorf("correct bet should profit, got %v", got)
	}
	if c.TotalBets[model.OutcomeYes] != 30 {
		t.Error("contract mutated")
	}
}
