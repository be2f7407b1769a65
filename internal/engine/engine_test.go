package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mantic/market-engine/internal/fees"
	"github.com/mantic/market-engine/internal/model"
)

func cpmmContract() *model.Contract {
	return &model.Contract{
		ID:          "c-cpmm",
		Mechanism:   model.MechanismCPMM,
		OutcomeType: model.OutcomeTypeBinary,
		Pool:        model.Pool{model.OutcomeYes: 100, model.OutcomeNo: 100},
		K:           10000,
	}
}

func dpmContract() *model.Contract {
	return &model.Contract{
		ID:          "c-dpm",
		Mechanism:   model.MechanismDPM,
		OutcomeType: model.OutcomeTypeBinary,
		Pool:        model.Pool{model.OutcomeYes: 10, model.OutcomeNo: 10},
		StartPool:   model.Pool{model.OutcomeYes: 10, model.OutcomeNo: 10},
		TotalShares: model.Pool{model.OutcomeYes: 0, model.OutcomeNo: 0},
		TotalBets:   model.Pool{model.OutcomeYes: 0, model.OutcomeNo: 0},
	}
}

func freeResponseContract() *model.Contract {
	seed := model.Pool{"0": 10, "1": 10, "2": 10}
	empty := model.Pool{"0": 0, "1": 0, "2": 0}
	return &model.Contract{
		ID:            "c-fr",
		Mechanism:     model.MechanismDPM,
		OutcomeType:   model.OutcomeTypeFreeResponse,
		Pool:          seed.Clone(),
		StartPool:     seed.Clone(),
		PhantomShares: seed.Clone(),
		TotalShares:   empty.Clone(),
		TotalBets:     empty.Clone(),
	}
}

// --- Probability ---

func TestProbability_Dispatch(t *testing.T) {
	for _, c := range []*model.Contract{cpmmContract(), dpmContract()} {
		p, err := Probability(c)
		require.NoError(t, err)
		assert.InDelta(t, 0.5, p, 1e-12, c.Mechanism)
	}
}

func TestProbability_UnknownMechanism(t *testing.T) {
	c := cpmmContract()
	c.Mechanism = "lmsr"
	_, err := Probability(c)
	assert.ErrorIs(t, err, ErrUnknownMechanism)
}

func TestProbabilities_SumToOne(t *testing.T) {
	for _, c := range []*model.Contract{cpmmContract(), dpmContract(), freeResponseContract()} {
		probs, err := Probabilities(c)
		require.NoError(t, err)
		sum := 0.0
		for _, p := range probs {
			sum += p
		}
		assert.InDelta(t, 1, sum, 1e-9, c.ID)
	}
}

func TestOutcomes(t *testing.T) {
	assert.Equal(t, []string{"YES", "NO"}, Outcomes(cpmmContract()))
	assert.Equal(t, []string{"0", "1", "2"}, Outcomes(freeResponseContract()))
}

// --- Purchase ---

func TestPurchase_CPMM(t *testing.T) {
	c := cpmmContract()
	res, err := Purchase(c, 10, model.OutcomeYes)
	require.NoError(t, err)

	assert.InDelta(t, 2100.0/110.0, res.Shares, 1e-9)
	assert.InDelta(t, 0.5, res.ProbBefore, 1e-12)
	assert.Greater(t, res.ProbAfter, 0.5)
	assert.InDelta(t, c.K, res.State.Pool[model.OutcomeYes]*res.State.Pool[model.OutcomeNo], 1e-6)
	assert.Nil(t, res.State.TotalShares)

	// contract untouched
	assert.Equal(t, 100.0, c.Pool[model.OutcomeYes])
}

func TestPurchase_NoOutcomeReportsNoProbability(t *testing.T) {
	res, err := Purchase(cpmmContract(), 10, model.OutcomeNo)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, res.ProbBefore, 1e-12)
	assert.Greater(t, res.ProbAfter, 0.5)
}

func TestPurchase_DPMUpdatesTotals(t *testing.T) {
	res, err := Purchase(dpmContract(), 10, model.OutcomeYes)
	require.NoError(t, err)

	assert.Equal(t, 20.0, res.State.Pool[model.OutcomeYes])
	assert.Equal(t, 10.0, res.State.TotalBets[model.OutcomeYes])
	assert.Equal(t, res.Shares, res.State.TotalShares[model.OutcomeYes])
	assert.Zero(t, res.State.TotalShares[model.OutcomeNo])
	assert.InDelta(t, 0.8, res.ProbAfter, 1e-12)
}

func TestPurchase_DPMSoleWinnerGetsStakeBack(t *testing.T) {
	c := dpmContract()
	res, err := Purchase(c, 10, model.OutcomeYes)
	require.NoError(t, err)

	resolved := c.WithState(res.State)
	resolved.Resolution = model.OutcomeYes
	bet := &model.Bet{Amount: 10, Shares: res.Shares, Outcome: model.OutcomeYes}

	got, err := ResolvedPayout(resolved, bet)
	require.NoError(t, err)
	assert.InDelta(t, 10, got, 1e-12)
}

func TestPurchase_MultiOutcome(t *testing.T) {
	res, err := Purchase(freeResponseContract(), 5, "1")
	require.NoError(t, err)
	assert.InDelta(t, 1.0/3.0, res.ProbBefore, 1e-12)
	assert.Greater(t, res.ProbAfter, res.ProbBefore)
	assert.Equal(t, res.Shares, res.State.TotalShares["1"])
	assert.Equal(t, 5.0, res.State.TotalBets["1"])
}

func TestPurchase_Validation(t *testing.T) {
	tests := []struct {
		name    string
		c       *model.Contract
		amount  float64
		outcome string
		want    error
	}{
		{"zero amount", cpmmContract(), 0, model.OutcomeYes, ErrInvalidAmount},
		{"negative amount", dpmContract(), -5, model.OutcomeNo, ErrInvalidAmount},
		{"unknown binary outcome", cpmmContract(), 10, "MAYBE", ErrInvalidOutcome},
		{"unknown answer", freeResponseContract(), 10, "7", ErrInvalidOutcome},
		{"resolution token is not tradable", cpmmContract(), 10, model.ResolutionMkt, ErrInvalidOutcome},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Purchase(tt.c, tt.amount, tt.outcome)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

// --- Sale ---

func TestSale_CPMMRoundTrip(t *testing.T) {
	c := cpmmContract()
	buy, err := Purchase(c, 10, model.OutcomeNo)
	require.NoError(t, err)

	after := c.WithState(buy.State)
	bet := &model.Bet{Amount: 10, Shares: buy.Shares, Outcome: model.OutcomeNo}

	sale, err := Sale(after, bet)
	require.NoError(t, err)
	assert.InDelta(t, 10, sale.SaleAmount, 1e-9)
	assert.InDelta(t, 0.5, sale.ProbAfter, 1e-9)
	assert.InDelta(t, 100, sale.State.Pool[model.OutcomeYes], 1e-9)
}

func TestSale_DPMChargesOnlyProfit(t *testing.T) {
	c := dpmContract()
	buy, err := Purchase(c, 10, model.OutcomeYes)
	require.NoError(t, err)

	after := c.WithState(buy.State)
	bet := &model.Bet{Amount: 10, Shares: buy.Shares, Outcome: model.OutcomeYes}

	sale, err := Sale(after, bet)
	require.NoError(t, err)
	assert.LessOrEqual(t, sale.SaleAmount, buy.State.Pool[model.OutcomeYes]-c.StartPool[model.OutcomeYes]+1e-9)
	assert.Less(t, sale.ProbAfter, sale.ProbBefore)
}

// --- Payout ---

func TestPayout_CancelRefundsBothMechanisms(t *testing.T) {
	bet := &model.Bet{Amount: 25, Shares: 70, Outcome: model.OutcomeYes}
	for _, c := range []*model.Contract{cpmmContract(), dpmContract()} {
		got, err := Payout(c, bet, model.ResolutionCancel)
		require.NoError(t, err)
		assert.Equal(t, 25.0, got, c.Mechanism)
	}
}

func TestPayout_CPMMWinner(t *testing.T) {
	bet := &model.Bet{Amount: 10, Shares: 20, Outcome: model.OutcomeYes}
	got, err := Payout(cpmmContract(), bet, model.OutcomeYes)
	require.NoError(t, err)
	assert.InDelta(t, 10+(1-fees.FeeFraction)*10, got, 1e-12)
}

func TestResolvedPayout_Unresolved(t *testing.T) {
	bet := &model.Bet{Amount: 10, Shares: 20, Outcome: model.OutcomeYes}
	_, err := ResolvedPayout(cpmmContract(), bet)
	assert.ErrorIs(t, err, ErrUnresolved)
}

func TestResolvedPayout_UsesContractResolution(t *testing.T) {
	c := cpmmContract()
	c.Resolution = model.OutcomeNo
	bet := &model.Bet{Amount: 10, Shares: 20, Outcome: model.OutcomeYes}

	got, err := ResolvedPayout(c, bet)
	require.NoError(t, err)
	assert.Zero(t, got)
}

func TestCurrentValue(t *testing.T) {
	bet := &model.Bet{Amount: 10, Shares: 20, Outcome: model.OutcomeYes}

	got, err := CurrentValue(cpmmContract(), bet)
	require.NoError(t, err)
	assert.InDelta(t, 10, got, 1e-12) // 0.5 × 20

	c := dpmContract()
	c.Mechanism = "unknown"
	_, err = CurrentValue(c, bet)
	assert.ErrorIs(t, err, ErrUnknownMechanism)
}
