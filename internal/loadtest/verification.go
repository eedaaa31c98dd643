package loadtest

import (
	"context"
	"fmt"
	"time"

	"github.com/okian/ascend/internal/domain/progression"
	"github.com/okian/ascend/pkg/logger"
)

// Mismatch describes a user whose final state disagrees with the replay.
type Mismatch struct {
	UserID string
	Reason string
}

// ledgerEntry is the accepted outcome of one submission id.
type ledgerEntry struct {
	outcome progression.Outcome
	replies int
}

// collect groups successful results per user and submission id. Replies
// for the same id must carry the same outcome.
func collect(results []Result) (map[string]map[string]*ledgerEntry, []Mismatch) {
	byUser := make(map[string]map[string]*ledgerEntry)
	var bad []Mismatch
	for _, r := range results {
		if r.Err != nil {
			continue
		}
		subs := byUser[r.Submission.UserID]
		if subs == nil {
			subs = make(map[string]*ledgerEntry)
			byUser[r.Submission.UserID] = subs
		}
		e, ok := subs[r.Submission.SubmissionID]
		if !ok {
			subs[r.Submission.SubmissionID] = &ledgerEntry{outcome: r.Outcome, replies: 1}
			continue
		}
		e.replies++
		if !sameOutcome(e.outcome, r.Outcome) {
			bad = append(bad, Mismatch{
				UserID: r.Submission.UserID,
				Reason: fmt.Sprintf("submission %s replayed with a different outcome", r.Submission.SubmissionID),
			})
		}
	}
	return byUser, bad
}

func sameOutcome(a, b progression.Outcome) bool {
	return a.SubmissionID == b.SubmissionID &&
		a.Score == b.Score &&
		a.XPGranted == b.XPGranted &&
		a.CoinsGranted == b.CoinsGranted &&
		a.LevelsGained == b.LevelsGained &&
		a.State.Version == b.State.Version
}

// expected replays the accepted outcomes of one user on a fresh record.
// Level and XP depend only on the XP total, so order does not matter.
func expected(ledger *progression.Ledger, ranks *progression.Ranks, userID string, subs map[string]*ledgerEntry) progression.State {
	st := progression.NewState(userID, time.Time{})
	var xp, coins int64
	for _, e := range subs {
		xp += e.outcome.XPGranted
		coins += e.outcome.CoinsGranted
	}
	st = ledger.ApplyXP(st, xp).State
	st.TierIndex = ranks.TierFor(st.Level)
	st.Coins = coins
	st.Version += uint64(len(subs))
	return st
}

// verifyUsers reads every user's final state and compares it with the
// replay of the outcomes the service acknowledged.
func verifyUsers(ctx context.Context, cfg *Config, client *HTTPClient, users []string,
	byUser map[string]map[string]*ledgerEntry) ([]Mismatch, error) {
	ledger, err := progression.NewLedger(cfg.Curve)
	if err != nil {
		return nil, fmt.Errorf("invalid curve: %w", err)
	}
	ranks, err := fetchRanks(ctx, client)
	if err != nil {
		return nil, fmt.Errorf("fetch tiers: %w", err)
	}

	var bad []Mismatch
	for _, u := range users {
		snap, err := fetch(ctx, client, u)
		if err != nil {
			return bad, fmt.Errorf("fetch %s: %w", u, err)
		}
		want := expected(ledger, ranks, u, byUser[u])
		got := snap.State
		if reason := compare(want, got); reason != "" {
			bad = append(bad, Mismatch{UserID: u, Reason: reason})
			if cfg.Verbose {
				logger.Get().Warn(ctx, "state mismatch",
					logger.String("userID", u),
					logger.String("reason", reason))
			}
		}
	}
	return bad, nil
}

func compare(want, got progression.State) string {
	switch {
	case got.Version != want.Version:
		return fmt.Sprintf("version %d, want %d", got.Version, want.Version)
	case got.Coins != want.Coins:
		return fmt.Sprintf("coins %d, want %d", got.Coins, want.Coins)
	case got.Level != want.Level || got.TotalXP != want.TotalXP:
		return fmt.Sprintf("level %d xp %d, want level %d xp %d", got.Level, got.TotalXP, want.Level, want.TotalXP)
	case got.TierIndex != want.TierIndex:
		return fmt.Sprintf("tier %d, want %d", got.TierIndex, want.TierIndex)
	}
	return ""
}
