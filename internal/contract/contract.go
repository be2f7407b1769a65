// Package contract handles market creation: parameter validation, the
// initial liquidity of each mechanism, numeric bucketing and the set of
// resolutions a contract accepts.
package contract

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mantic/market-engine/internal/model"
)

// Categories is the platform's category list, keyed by tag.
var Categories = map[string]string{
	"politics":   "Politics",
	"technology": "Technology",
	"sports":     "Sports",
	"gaming":     "Gaming",
	"manifold":   "Manifold",
	"science":    "Science",
	"world":      "World",
	"fun":        "Fun",
	"personal":   "Personal",
	"economics":  "Economics",
	"crypto":     "Crypto",
	"health":     "Health",
}

// MaxBuckets bounds the bucket count of a numeric contract.
const MaxBuckets = 200

var (
	ErrInvalidQuestion    = errors.New("contract: question must not be empty")
	ErrInvalidMechanism   = errors.New("contract: unsupported mechanism")
	ErrInvalidOutcomeType = errors.New("contract: unsupported outcome type")
	ErrInvalidProbability = errors.New("contract: initial probability must be in (0, 1)")
	ErrInvalidAnte        = errors.New("contract: ante must be positive")
	ErrInvalidAnswers     = errors.New("contract: free response needs at least two answers")
	ErrInvalidRange       = errors.New("contract: numeric range is invalid")
	ErrInvalidCategory    = errors.New("contract: unknown category")
	ErrInvalidResolution  = errors.New("contract: resolution not valid for contract")
	ErrAlreadyResolved    = errors.New("contract: already resolved")
)

// CreateParams describes a new market.
type CreateParams struct {
	CreatorID   string
	Question    string
	Mechanism   model.Mechanism
	OutcomeType model.OutcomeType
	// InitialProbability is the YES probability a binary market opens at.
	InitialProbability float64
	// Ante is the creator's liquidity, seeded into the pool.
	Ante        decimal.Decimal
	Answers     []string
	Min, Max    float64
	BucketCount int
	Categories  []string
}

// New validates p and returns the contract with its opening state.
func New(p CreateParams, now time.Time) (*model.Contract, error) {
	if err := validate(p); err != nil {
		return nil, err
	}

	c := &model.Contract{
		ID:          uuid.NewString(),
		CreatorID:   p.CreatorID,
		Question:    strings.TrimSpace(p.Question),
		Mechanism:   p.Mechanism,
		OutcomeType: p.OutcomeType,
		Categories:  normalizeCategories(p.Categories),
		CreatedTime: now.UTC(),
	}

	ante := p.Ante.InexactFloat64()
	switch {
	case p.Mechanism == model.MechanismCPMM:
		c.Pool, c.K = CPMMPool(p.InitialProbability, ante)
	case p.OutcomeType == model.OutcomeTypeBinary:
		pool := DPMPool(p.InitialProbability, ante)
		c.Pool, c.StartPool = pool, pool.Clone()
		c.TotalShares, c.TotalBets = zeroPool(pool), zeroPool(pool)
	case p.OutcomeType == model.OutcomeTypeFreeResponse:
		c.Answers = append([]string(nil), p.Answers...)
		seedOutcomes(c, indexOutcomes(len(p.Answers)), ante)
	case p.OutcomeType == model.OutcomeTypeNumeric:
		c.Min, c.Max, c.BucketCount = p.Min, p.Max, p.BucketCount
		seedOutcomes(c, indexOutcomes(p.BucketCount), ante)
	}
	return c, nil
}

func validate(p CreateParams) error {
	if strings.TrimSpace(p.Question) == "" {
		return ErrInvalidQuestion
	}
	if !p.Ante.IsPositive() {
		return fmt.Errorf("%w: %s", ErrInvalidAnte, p.Ante)
	}
	for _, cat := range p.Categories {
		if _, ok := Categories[strings.ToLower(cat)]; !ok {
			return fmt.Errorf("%w: %s", ErrInvalidCategory, cat)
		}
	}

	switch p.Mechanism {
	case model.MechanismCPMM:
		if p.OutcomeType != model.OutcomeTypeBinary {
			return fmt.Errorf("%w: %s is binary only", ErrInvalidOutcomeType, p.Mechanism)
		}
	case model.MechanismDPM:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidMechanism, p.Mechanism)
	}

	switch p.OutcomeType {
	case model.OutcomeTypeBinary:
		if !(p.InitialProbability > 0 && p.InitialProbability < 1) {
			return fmt.Errorf("%w: %v", ErrInvalidProbability, p.InitialProbability)
		}
	case model.OutcomeTypeFreeResponse:
		if len(p.Answers) < 2 {
			return ErrInvalidAnswers
		}
	case model.OutcomeTypeNumeric:
		if !(p.Max > p.Min) || p.BucketCount < 2 || p.BucketCount > MaxBuckets {
			return fmt.Errorf("%w: [%v, %v) in %d buckets", ErrInvalidRange, p.Min, p.Max, p.BucketCount)
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidOutcomeType, p.OutcomeType)
	}
	return nil
}

// CPMMPool returns the opening reserves of a constant-product market with
// YES probability p and their invariant product. Since probability is
// NO/(YES+NO), the NO reserve carries p of the ante.
func CPMMPool(p, ante float64) (model.Pool, float64) {
	pool := model.Pool{
		model.OutcomeYes: (1 - p) * ante,
		model.OutcomeNo:  p * ante,
	}
	return pool, pool[model.OutcomeYes] * pool[model.OutcomeNo]
}

// DPMPool returns the opening pool of a binary parimutuel market with YES
// probability p. Probability is YES²/(YES²+NO²), so the reserves split the
// ante in the ratio √p : √(1-p).
func DPMPool(p, ante float64) model.Pool {
	sy, sn := math.Sqrt(p), math.Sqrt(1-p)
	yes := ante * sy / (sy + sn)
	return model.Pool{
		model.OutcomeYes: yes,
		model.OutcomeNo:  ante - yes,
	}
}

func seedOutcomes(c *model.Contract, outcomes []string, ante float64) {
	seed := ante / float64(len(outcomes))
	pool := make(model.Pool, len(outcomes))
	for _, o := range outcomes {
		pool[o] = seed
	}
	c.Pool = pool
	c.StartPool = pool.Clone()
	c.PhantomShares = pool.Clone()
	c.TotalShares = zeroPool(pool)
	c.TotalBets = zeroPool(pool)
}

// zeroPool returns a pool with the outcomes of p and nothing bet on them.
// The ante is seed liquidity, not a bet, so it never enters the totals
// that payouts split the true pool over.
func zeroPool(p model.Pool) model.Pool {
	out := make(model.Pool, len(p))
	for o := range p {
		out[o] = 0
	}
	return out
}

func indexOutcomes(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = strconv.Itoa(i)
	}
	return out
}

func normalizeCategories(cats []string) []string {
	if len(cats) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(cats))
	out := make([]string, 0, len(cats))
	for _, cat := range cats {
		cat = strings.ToLower(cat)
		if !seen[cat] {
			seen[cat] = true
			out = append(out, cat)
		}
	}
	sort.Strings(out)
	return out
}

// MappedBucket returns the bucket outcome that value falls into on a
// numeric contract. Values outside [Min, Max) map to the edge buckets.
func MappedBucket(value float64, c *model.Contract) string {
	n := c.BucketCount
	index := int(math.Floor((value - c.Min) / (c.Max - c.Min) * float64(n)))
	if index < 0 {
		index = 0
	}
	if index > n-1 {
		index = n - 1
	}
	return strconv.Itoa(index)
}

// Resolution is a request to settle a contract.
type Resolution struct {
	Outcome string
	// Value resolves a numeric contract to the bucket containing it.
	Value *float64
	// Probability sets the YES weight of a binary MKT resolution.
	Probability *float64
	// Weights sets the per-answer weights of a multi-outcome MKT resolution.
	Weights map[string]float64
}

// ValidateResolution checks r against c and returns the terminal outcome
// to record: numeric values are mapped to their bucket.
func ValidateResolution(c *model.Contract, r Resolution) (string, error) {
	if c.IsResolved() {
		return "", fmt.Errorf("%w: %s", ErrAlreadyResolved, c.Resolution)
	}

	if c.OutcomeType == model.OutcomeTypeNumeric && r.Value != nil && r.Outcome == "" {
		return MappedBucket(*r.Value, c), nil
	}

	switch r.Outcome {
	case model.ResolutionCancel:
		return r.Outcome, nil
	case model.ResolutionMkt:
		if r.Probability != nil && !(*r.Probability >= 0 && *r.Probability <= 1) {
			return "", fmt.Errorf("%w: probability %v", ErrInvalidResolution, *r.Probability)
		}
		if r.Probability != nil && c.OutcomeType != model.OutcomeTypeBinary {
			return "", fmt.Errorf("%w: probability on multi-outcome contract", ErrInvalidResolution)
		}
		if len(r.Weights) > 0 {
			if c.OutcomeType == model.OutcomeTypeBinary {
				return "", fmt.Errorf("%w: weights on binary contract", ErrInvalidResolution)
			}
			if err := validateWeights(c, r.Weights); err != nil {
				return "", err
			}
		}
		return r.Outcome, nil
	}

	if c.OutcomeType == model.OutcomeTypeBinary {
		if r.Outcome == model.OutcomeYes || r.Outcome == model.OutcomeNo {
			return r.Outcome, nil
		}
		return "", fmt.Errorf("%w: %q", ErrInvalidResolution, r.Outcome)
	}

	if _, ok := c.TotalShares[r.Outcome]; !ok {
		return "", fmt.Errorf("%w: unknown outcome %q", ErrInvalidResolution, r.Outcome)
	}
	return r.Outcome, nil
}

func validateWeights(c *model.Contract, weights map[string]float64) error {
	var sum float64
	for o, w := range weights {
		if _, ok := c.TotalShares[o]; !ok {
			return fmt.Errorf("%w: unknown outcome %q", ErrInvalidResolution, o)
		}
		if w < 0 {
			return fmt.Errorf("%w: negative weight for %q", ErrInvalidResolution, o)
		}
		sum += w
	}
	if sum <= 0 {
		return fmt.Errorf("%w: weights sum to zero", ErrInvalidResolution)
	}
	return nil
}

// Resolve returns a copy of c settled to outcome at now. r's MKT parameters
// are carried onto the contract.
func Resolve(c *model.Contract, outcome string, r Resolution, now time.Time) *model.Contract {
	next := *c
	next.Resolution = outcome
	t := now.UTC()
	next.ResolutionTime = &t
	if outcome == model.ResolutionMkt {
		next.ResolutionProbability = r.Probability
		if len(r.Weights) > 0 {
			next.Resolutions = make(map[string]float64, len(r.Weights))
			for o, w := range r.Weights {
				next.Resolutions[o] = w
			}
		}
	}
	return &next
}
