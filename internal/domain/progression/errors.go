package progression

import "errors"

var (
	// ErrInvalidCurve is returned when an XP curve cannot produce strictly
	// increasing level thresholds.
	ErrInvalidCurve = errors.New("invalid xp curve")

	// ErrInvalidTiers is returned for an empty or malformed tier table.
	ErrInvalidTiers = errors.New("invalid tier table")
)
