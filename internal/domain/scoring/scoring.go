// Package scoring turns raw submission metrics into a point score.
//
// Everything in this package is pure: no I/O, no clocks, no randomness. The
// same Metrics always yield the same score, which the reward flow relies on
// for idempotent replays.
package scoring

import (
	"math"
	"math/big"
)

// Difficulty is the difficulty tier of an exercise.
type Difficulty string

// Supported difficulty tiers.
const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// Valid reports whether d is one of the known tiers.
func (d Difficulty) Valid() bool {
	switch d {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
		return true
	default:
		return false
	}
}

// Metrics are the raw performance numbers of one submission.
type Metrics struct {
	BaseScore      int64      `json:"base_score"`
	Difficulty     Difficulty `json:"difficulty"`
	TimeSpent      float64    `json:"time_spent"`         // seconds
	MaxTime        float64    `json:"max_time,omitempty"` // seconds, 0 when not supplied
	HintsUsed      int        `json:"hints_used"`
	Accuracy       float64    `json:"accuracy"` // [0,1]
	IsPerfect      bool       `json:"is_perfect"`
	IsFirstAttempt bool       `json:"is_first_attempt"`
}

// Breakdown lists every component that contributed to a score.
type Breakdown struct {
	Base              float64
	DifficultyBonus   float64
	TimeBonus         float64
	AccuracyBonus     float64
	HintsPenalty      float64
	PerfectBonus      float64
	FirstAttemptBonus float64
	Total             int64
}

// Calculator computes scores using a bonus Table.
type Calculator struct {
	table Table
}

// NewCalculator creates a calculator with the default table, adjusted by opts.
func NewCalculator(opts ...Option) *Calculator {
	c := &Calculator{table: DefaultTable()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compute returns the score for m using the default table.
func Compute(m Metrics) int64 {
	return defaultCalculator.Compute(m)
}

var defaultCalculator = NewCalculator()

// Compute returns the rounded, non-negative score for m.
func (c *Calculator) Compute(m Metrics) int64 {
	return c.Breakdown(m).Total
}

// Breakdown computes every score component for m.
// Inputs are not clamped; only the final total is. The float components are
// informational, Total is summed exactly in ten-thousandths of a point.
func (c *Calculator) Breakdown(m Metrics) Breakdown {
	base := float64(m.BaseScore)
	t := c.table

	mult := t.multiplier(m.Difficulty)
	timeFrac := t.timeFraction(m.TimeSpent, m.MaxTime)
	accFrac := t.accuracyFraction(m.Accuracy)

	b := Breakdown{
		Base:            base,
		DifficultyBonus: base * (mult - 1),
		TimeBonus:       base * timeFrac,
		AccuracyBonus:   base * accFrac,
		HintsPenalty:    float64(m.HintsUsed) * base * t.HintPenalty,
	}
	// bonus fractions in ten-thousandths, the base itself counted as mult
	gain := toUnits(mult) + toUnits(timeFrac) + toUnits(accFrac)
	if m.IsPerfect {
		b.PerfectBonus = base * t.PerfectBonus
		gain += toUnits(t.PerfectBonus)
	}
	if m.IsFirstAttempt {
		b.FirstAttemptBonus = base * t.FirstAttemptBonus
		gain += toUnits(t.FirstAttemptBonus)
	}

	units := big.NewInt(gain)
	penalty := new(big.Int).Mul(big.NewInt(int64(m.HintsUsed)), big.NewInt(toUnits(t.HintPenalty)))
	units.Sub(units, penalty)

	b.Total = roundHalfUp(new(big.Int).Mul(big.NewInt(m.BaseScore), units))
	return b
}

// unitsPerPoint is the fixed-point scale of table fractions. Fractions are
// honored to four decimal places.
const unitsPerPoint = 10000

// maxUnits keeps the int64 sum of a handful of fractions from overflowing.
const maxUnits = math.MaxInt64 / 16

// toUnits converts a table fraction to ten-thousandths.
func toUnits(f float64) int64 {
	v := math.Round(f * unitsPerPoint)
	switch {
	case math.IsNaN(v):
		return 0
	case v > maxUnits:
		return maxUnits
	case v < -maxUnits:
		return -maxUnits
	}
	return int64(v)
}

// roundHalfUp turns a total in ten-thousandths into whole points, halves
// up. Negative totals clamp to zero.
func roundHalfUp(units *big.Int) int64 {
	if units.Sign() <= 0 {
		return 0
	}
	half := big.NewInt(unitsPerPoint / 2)
	q := new(big.Int).Add(units, half)
	q.Quo(q, big.NewInt(unitsPerPoint))
	if !q.IsInt64() {
		return math.MaxInt64
	}
	return q.Int64()
}
