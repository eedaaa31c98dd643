package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/okian/ascend/internal/adapters/mq/queue"
	"github.com/okian/ascend/internal/adapters/repository"
	"github.com/okian/ascend/internal/domain/dedupe"
	"github.com/okian/ascend/internal/domain/progression"
	"github.com/okian/ascend/internal/domain/scoring"
	"github.com/okian/ascend/pkg/logger"
	"github.com/okian/ascend/pkg/metrics"
)

const maxIDLength = 128

// Snapshot is a progression record plus the values derived from it.
type Snapshot struct {
	State         progression.State `json:"state"`
	TierName      string            `json:"tier_name"`
	NextTierName  string            `json:"next_tier_name,omitempty"`
	IsMaxTier     bool              `json:"is_max_tier"`
	XPToNextLevel int64             `json:"xp_to_next_level"`
	XPRemaining   int64             `json:"xp_remaining"`
}

// ApplyReward scores a submission and applies its XP and coins to the user.
// Re-applying a submission id returns the stored outcome without touching
// the state. A write that keeps losing the version race ends in ErrConflict.
func (s *Service) ApplyReward(ctx context.Context, userID, submissionID string, m scoring.Metrics) (progression.Outcome, error) {
	start := time.Now()
	defer func() {
		metrics.RecordApplyLatency(float64(time.Since(start).Microseconds()) / 1000)
	}()

	if err := validateID("user_id", userID); err != nil {
		metrics.RecordRewardError("invalid_input")
		return progression.Outcome{}, err
	}
	if err := validateID("submission_id", submissionID); err != nil {
		metrics.RecordRewardError("invalid_input")
		return progression.Outcome{}, err
	}
	if err := m.Validate(); err != nil {
		metrics.RecordRewardError("invalid_input")
		return progression.Outcome{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	store, _, err := s.components()
	if err != nil {
		return progression.Outcome{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	score := s.calculator.Compute(m)
	xp := scale(score, s.xpMultiplier)
	coins := scale(score, s.coinRate)

	var (
		out       progression.Outcome
		duplicate bool
		attempts  int
	)
	apply := func() error {
		attempts++
		cur, err := store.Load(ctx, userID)
		if err != nil {
			return backoff.Permanent(err)
		}

		prev, ok, err := store.AppliedOutcome(ctx, userID, submissionID)
		if err != nil {
			return backoff.Permanent(err)
		}
		if ok {
			out, duplicate = prev, true
			return nil
		}

		next, grant := s.rules.Award(cur, xp, coins)
		now := s.now().UTC()
		next.Version = cur.Version + 1
		next.UpdatedAt = now

		o := progression.Outcome{
			SubmissionID: submissionID,
			Score:        score,
			XPGranted:    grant.XP,
			CoinsGranted: grant.Coins,
			LevelsGained: grant.LevelsGained,
			TierChange:   grant.TierChange,
			State:        next,
			AppliedAt:    now,
		}

		entry := &dedupe.Entry{SubmissionID: submissionID, Outcome: o}
		err = store.Save(ctx, next, cur.Version, entry, s.rules.Record(next, grant.TierChange, submissionID))
		switch {
		case err == nil:
			out = o
			return nil
		case errors.Is(err, repository.ErrVersionConflict):
			metrics.RecordVersionConflict()
			return err
		case errors.Is(err, repository.ErrAlreadyApplied):
			// a concurrent caller won with the same submission id
			prev, ok, lerr := store.AppliedOutcome(ctx, userID, submissionID)
			if lerr != nil {
				return backoff.Permanent(lerr)
			}
			if ok {
				out, duplicate = prev, true
				return nil
			}
			return err
		default:
			return backoff.Permanent(err)
		}
	}

	err = backoff.RetryNotify(apply, s.retryPolicy(ctx), func(err error, wait time.Duration) {
		s.log().Debug(ctx, "retrying reward after conflict",
			logger.String("user_id", userID),
			logger.String("submission_id", submissionID),
			logger.Int("attempt", attempts),
			logger.Duration("wait", wait),
			logger.Error(err),
		)
	})
	if err != nil {
		return progression.Outcome{}, s.rewardError(ctx, userID, submissionID, attempts, err)
	}

	if duplicate {
		metrics.RecordRewardDuplicate()
		s.log().Debug(ctx, "submission already applied",
			logger.String("user_id", userID),
			logger.String("submission_id", submissionID),
		)
		return out, nil
	}

	s.recordOutcome(out)
	s.log().Debug(ctx, "reward applied",
		logger.String("user_id", userID),
		logger.String("submission_id", submissionID),
		logger.Int64("score", out.Score),
		logger.Int64("xp", out.XPGranted),
		logger.Int64("coins", out.CoinsGranted),
		logger.Int("levels_gained", out.LevelsGained),
		logger.Int("attempts", attempts),
	)
	return out, nil
}

// Onboard creates the progression record of a new user.
func (s *Service) Onboard(ctx context.Context, userID string) (progression.State, error) {
	if err := validateID("user_id", userID); err != nil {
		return progression.State{}, err
	}
	store, _, err := s.components()
	if err != nil {
		return progression.State{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	st, _ := s.rules.Realign(progression.NewState(userID, s.now()))
	if err := store.Create(ctx, st); err != nil {
		if errors.Is(err, repository.ErrAlreadyExists) {
			return progression.State{}, fmt.Errorf("%w: %s", ErrAlreadyExists, userID)
		}
		return progression.State{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	s.log().Info(ctx, "user onboarded", logger.String("user_id", userID))
	return st, nil
}

// Progression returns the user's record and the values derived from it.
func (s *Service) Progression(ctx context.Context, userID string) (Snapshot, error) {
	if err := validateID("user_id", userID); err != nil {
		return Snapshot{}, err
	}
	store, _, err := s.components()
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	st, err := store.Load(ctx, userID)
	if err != nil {
		return Snapshot{}, mapStoreError(userID, err)
	}
	return s.snapshot(st), nil
}

func (s *Service) snapshot(st progression.State) Snapshot {
	ranks := s.rules.Ranks
	snap := Snapshot{
		State:         st,
		TierName:      ranks.Tier(st.TierIndex).Name,
		IsMaxTier:     ranks.IsMax(st.TierIndex),
		XPToNextLevel: s.rules.Ledger.XPToNextLevel(st),
		XPRemaining:   s.rules.Ledger.XPRemaining(st),
	}
	if !snap.IsMaxTier {
		snap.NextTierName = ranks.Tier(st.TierIndex + 1).Name
	}
	return snap
}

// Tiers returns the configured tier table.
func (s *Service) Tiers() []progression.Tier {
	return s.rules.Ranks.Tiers()
}

// BandWidth returns how many levels each tier spans.
func (s *Service) BandWidth() int {
	return s.rules.Ranks.BandWidth()
}

// Realign recomputes the user's tier from their level and persists it when
// it changed. No bonuses are paid.
func (s *Service) Realign(ctx context.Context, userID string) (progression.State, *progression.TierChange, error) {
	if err := validateID("user_id", userID); err != nil {
		return progression.State{}, nil, err
	}
	store, _, err := s.components()
	if err != nil {
		return progression.State{}, nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	var (
		out    progression.State
		change *progression.TierChange
	)
	realign := func() error {
		cur, err := store.Load(ctx, userID)
		if err != nil {
			return backoff.Permanent(err)
		}
		next, ch := s.rules.Realign(cur)
		if next.TierIndex == cur.TierIndex && next.TierProgress == cur.TierProgress && next.Level == cur.Level {
			out, change = cur, nil
			return nil
		}
		next.Version = cur.Version + 1
		next.UpdatedAt = s.now().UTC()
		if err := store.Save(ctx, next, cur.Version, nil, s.rules.Record(next, ch, "")); err != nil {
			if errors.Is(err, repository.ErrVersionConflict) {
				metrics.RecordVersionConflict()
				return err
			}
			return backoff.Permanent(err)
		}
		out, change = next, ch
		return nil
	}

	if err := backoff.Retry(realign, s.retryPolicy(ctx)); err != nil {
		if errors.Is(err, repository.ErrVersionConflict) {
			metrics.RecordRetriesExhausted()
			return progression.State{}, nil, fmt.Errorf("%w: realign %s", ErrConflict, userID)
		}
		return progression.State{}, nil, mapStoreError(userID, err)
	}

	if change != nil {
		if change.Corrected {
			metrics.RecordTierCorrection()
		}
		s.log().Info(ctx, "tier realigned",
			logger.String("user_id", userID),
			logger.Int("from", change.From),
			logger.Int("to", change.To),
			logger.Bool("corrected", change.Corrected),
			logger.Uint64("version", out.Version),
		)
	}
	return out, change, nil
}

// TierHistory returns the user's tier changes, oldest first.
func (s *Service) TierHistory(ctx context.Context, userID string) ([]progression.TierRecord, error) {
	if err := validateID("user_id", userID); err != nil {
		return nil, err
	}
	store, _, err := s.components()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	history, err := store.TierHistory(ctx, userID)
	if err != nil {
		return nil, mapStoreError(userID, err)
	}
	if history == nil {
		history = []progression.TierRecord{}
	}
	return history, nil
}

// Enqueue validates a request and hands it to the worker pool. The outcome
// is read back by applying the same submission id again.
func (s *Service) Enqueue(ctx context.Context, r queue.Request) error { //nolint:gocritic // hugeParam: Request is queued by value
	if err := validateID("user_id", r.UserID); err != nil {
		return err
	}
	if err := validateID("submission_id", r.SubmissionID); err != nil {
		return err
	}
	if err := r.Metrics.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	_, rewards, err := s.components()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	if err := rewards.Enqueue(ctx, r); err != nil {
		if errors.Is(err, queue.ErrFull) || errors.Is(err, queue.ErrClosed) {
			return fmt.Errorf("%w: %w", ErrBackpressure, err)
		}
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return nil
}

// retryPolicy bounds the attempts of one call to maxAttempts.
func (s *Service) retryPolicy(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = s.retryInitial
	exp.MaxInterval = s.retryMax
	exp.MaxElapsedTime = 0
	exp.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(s.maxAttempts-1)), ctx)
}

func (s *Service) rewardError(ctx context.Context, userID, submissionID string, attempts int, err error) error {
	switch {
	case errors.Is(err, repository.ErrVersionConflict), errors.Is(err, repository.ErrAlreadyApplied):
		metrics.RecordRetriesExhausted()
		metrics.RecordRewardError("conflict")
		s.log().Warn(ctx, "reward retries exhausted",
			logger.String("user_id", userID),
			logger.String("submission_id", submissionID),
			logger.Int("attempts", attempts),
		)
		return fmt.Errorf("%w: %s after %d attempts", ErrConflict, submissionID, attempts)
	case errors.Is(err, repository.ErrNotFound):
		metrics.RecordRewardError("not_found")
		return fmt.Errorf("%w: %s", ErrNotFound, userID)
	default:
		metrics.RecordRewardError("unavailable")
		s.log().Error(ctx, "reward failed",
			logger.String("user_id", userID),
			logger.String("submission_id", submissionID),
			logger.Error(err),
		)
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
}

func (s *Service) recordOutcome(o progression.Outcome) { //nolint:gocritic // hugeParam: read-only
	metrics.RecordRewardApplied()
	metrics.RecordScore(float64(o.Score))
	metrics.RecordCoinsGranted(o.CoinsGranted)
	if o.LevelsGained > 0 {
		metrics.RecordLevelsGained(o.LevelsGained)
	}
	if tc := o.TierChange; tc != nil {
		if tc.Corrected {
			metrics.RecordTierCorrection()
		} else {
			metrics.RecordTierPromotion(s.rules.Ranks.Tier(tc.To).Name)
		}
	}
}

func (s *Service) log() logger.Logger {
	s.mu.RLock()
	l := s.logger
	s.mu.RUnlock()
	if l == nil {
		return logger.Get()
	}
	return l
}

func mapStoreError(userID string, err error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return fmt.Errorf("%w: %s", ErrNotFound, userID)
	default:
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
}

func validateID(field, id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: %s is required", ErrInvalidInput, field)
	}
	if len(id) > maxIDLength {
		return fmt.Errorf("%w: %s longer than %d bytes", ErrInvalidInput, field, maxIDLength)
	}
	return nil
}

// scale converts a score with a rate, flooring and saturating.
func scale(score int64, rate float64) int64 {
	v := math.Floor(float64(score) * rate)
	if v >= math.MaxInt64 {
		return math.MaxInt64
	}
	if v <= 0 {
		return 0
	}
	return int64(v)
}
