package progression

import "time"

// TierRecord is one entry of a user's tier history. Promotions and
// corrections both leave a record.
type TierRecord struct {
	UserID       string    `json:"user_id"`
	From         int       `json:"from"`
	To           int       `json:"to"`
	Corrected    bool      `json:"corrected,omitempty"`
	Level        int       `json:"level"`
	LifetimeXP   int64     `json:"lifetime_xp"`             // XP earned since onboarding at the time of the change
	SubmissionID string    `json:"submission_id,omitempty"` // empty for realignments
	ChangedAt    time.Time `json:"changed_at"`
}

// Record returns the history entry for the change that produced s, or nil
// when the tier did not move.
func (r Rules) Record(s State, change *TierChange, submissionID string) *TierRecord {
	if change == nil {
		return nil
	}
	return &TierRecord{
		UserID:       s.UserID,
		From:         change.From,
		To:           change.To,
		Corrected:    change.Corrected,
		Level:        s.Level,
		LifetimeXP:   r.Ledger.LifetimeXP(s),
		SubmissionID: submissionID,
		ChangedAt:    s.UpdatedAt,
	}
}
