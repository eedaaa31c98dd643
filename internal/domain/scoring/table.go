package scoring

// Step pairs a threshold with the bonus fraction it unlocks.
type Step struct {
	Threshold float64
	Fraction  float64
}

// Table holds the tunable multipliers and bonus fractions.
type Table struct {
	Multipliers map[Difficulty]float64

	// TimeSteps are checked in order; the first step whose Threshold is
	// strictly greater than timeSpent/maxTime wins.
	TimeSteps []Step

	// AccuracySteps are checked in order; the first step whose Threshold is
	// less than or equal to accuracy wins.
	AccuracySteps []Step

	HintPenalty       float64
	PerfectBonus      float64
	FirstAttemptBonus float64
}

// DefaultTable returns the reference scoring table.
func DefaultTable() Table {
	return Table{
		Multipliers: map[Difficulty]float64{
			DifficultyEasy:   1.0,
			DifficultyMedium: 1.5,
			DifficultyHard:   2.0,
		},
		TimeSteps: []Step{
			{Threshold: 0.25, Fraction: 0.50},
			{Threshold: 0.50, Fraction: 0.25},
			{Threshold: 0.75, Fraction: 0.10},
		},
		AccuracySteps: []Step{
			{Threshold: 1.0, Fraction: 0.30},
			{Threshold: 0.9, Fraction: 0.20},
			{Threshold: 0.8, Fraction: 0.10},
		},
		HintPenalty:       0.10,
		PerfectBonus:      0.50,
		FirstAttemptBonus: 0.25,
	}
}

func (t Table) multiplier(d Difficulty) float64 {
	if m, ok := t.Multipliers[d]; ok {
		return m
	}
	return 1.0
}

func (t Table) timeFraction(spent, maxTime float64) float64 {
	if maxTime <= 0 || spent >= maxTime {
		return 0
	}
	p := spent / maxTime
	for _, s := range t.TimeSteps {
		if p < s.Threshold {
			return s.Fraction
		}
	}
	return 0
}

func (t Table) accuracyFraction(accuracy float64) float64 {
	for _, s := range t.AccuracySteps {
		if accuracy >= s.Threshold {
			return s.Fraction
		}
	}
	return 0
}

// Option applies a configuration option to the Calculator.
type Option func(*Calculator)

// WithTable replaces the whole scoring table.
func WithTable(t Table) Option {
	return func(c *Calculator) {
		if len(t.Multipliers) > 0 {
			c.table = t
		}
	}
}

// WithDifficultyMultipliers overrides the multipliers of the given tiers.
func WithDifficultyMultipliers(m map[Difficulty]float64) Option {
	return func(c *Calculator) {
		// Copy so later edits to the caller's map don't leak in.
		merged := make(map[Difficulty]float64, len(c.table.Multipliers))
		for d, v := range c.table.Multipliers {
			merged[d] = v
		}
		for d, v := range m {
			if v > 0 {
				merged[d] = v
			}
		}
		c.table.Multipliers = merged
	}
}
