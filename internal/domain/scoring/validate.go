package scoring

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidMetrics marks metrics that must not reach the calculator.
var ErrInvalidMetrics = errors.New("invalid submission metrics")

// Validate rejects malformed metrics. The calculator never validates on its
// own, so callers run this first.
func (m Metrics) Validate() error {
	switch {
	case m.BaseScore < 0:
		return fmt.Errorf("%w: base_score must be non-negative", ErrInvalidMetrics)
	case !m.Difficulty.Valid():
		return fmt.Errorf("%w: unknown difficulty %q", ErrInvalidMetrics, m.Difficulty)
	case m.HintsUsed < 0:
		return fmt.Errorf("%w: hints_used must be non-negative", ErrInvalidMetrics)
	case !finite(m.TimeSpent) || m.TimeSpent < 0:
		return fmt.Errorf("%w: time_spent must be a non-negative number", ErrInvalidMetrics)
	case !finite(m.MaxTime) || m.MaxTime < 0:
		return fmt.Errorf("%w: max_time must be a non-negative number", ErrInvalidMetrics)
	case !finite(m.Accuracy) || m.Accuracy < 0 || m.Accuracy > 1:
		return fmt.Errorf("%w: accuracy must be within [0,1]", ErrInvalidMetrics)
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
