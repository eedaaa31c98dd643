// Package progression holds the pure progression rules: the XP ledger that
// cascades level-ups and the rank resolver that maps levels to tiers.
package progression

import "time"

// State is a user's progression record.
//
// Version increases by one on every successful write and is the only
// concurrency token the stores compare against.
type State struct {
	UserID       string    `json:"user_id"`
	Level        int       `json:"level"`
	TotalXP      int64     `json:"total_xp"` // XP accumulated inside the current level
	TierIndex    int       `json:"tier_index"`
	TierProgress float64   `json:"tier_progress"` // percent, 0..100
	Coins        int64     `json:"coins"`
	Version      uint64    `json:"version"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// NewState returns the record of a freshly onboarded user.
func NewState(userID string, now time.Time) State {
	return State{
		UserID:    userID,
		Level:     1,
		Version:   1,
		UpdatedAt: now.UTC(),
	}
}

// TierChange describes a tier transition. Corrected marks a demotion that
// realigned a tier which had drifted ahead of the level.
type TierChange struct {
	From      int  `json:"from"`
	To        int  `json:"to"`
	Corrected bool `json:"corrected,omitempty"`
}

// Outcome is the result of applying one submission. A replayed submission
// returns the stored Outcome unchanged.
type Outcome struct {
	SubmissionID string      `json:"submission_id"`
	Score        int64       `json:"score"`
	XPGranted    int64       `json:"xp_granted"`
	CoinsGranted int64       `json:"coins_granted"`
	LevelsGained int         `json:"levels_gained"`
	TierChange   *TierChange `json:"tier_change,omitempty"`
	State        State       `json:"state"`
	AppliedAt    time.Time   `json:"applied_at"`
}

// addSat adds b to a, saturating at the int64 bounds.
func addSat(a, b int64) int64 {
	const maxInt64 = int64(^uint64(0) >> 1)
	if b > 0 && a > maxInt64-b {
		return maxInt64
	}
	if b < 0 && a < -maxInt64-1-b {
		return -maxInt64 - 1
	}
	return a + b
}
