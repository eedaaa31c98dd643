// Package repository persists progression records together with the
// per-user record of applied submissions.
package repository

import (
	"context"
	"time"

	"github.com/okian/ascend/internal/domain/dedupe"
	"github.com/okian/ascend/internal/domain/progression"
	"github.com/okian/ascend/pkg/metrics"
)

// Store provides compare-and-swap access to progression state.
type Store interface {
	// Create inserts a new record. Returns ErrAlreadyExists if the user
	// already has one.
	Create(ctx context.Context, state progression.State) error

	// Load returns the current state and its version.
	// Returns ErrNotFound if the user is unknown.
	Load(ctx context.Context, userID string) (progression.State, error)

	// AppliedOutcome returns the stored outcome of a submission and whether
	// the submission was applied.
	AppliedOutcome(ctx context.Context, userID, submissionID string) (progression.Outcome, bool, error)

	// Save replaces the state if its stored version still equals
	// expectedVersion, writing next with version expectedVersion+1. When
	// applied is non-nil the submission marker is written atomically with
	// the state. A non-nil tier record is appended to the user's tier
	// history in the same unit. Returns ErrVersionConflict on a stale
	// version and ErrAlreadyApplied when the marker exists.
	Save(ctx context.Context, next progression.State, expectedVersion uint64, applied *dedupe.Entry, tier *progression.TierRecord) error

	// TierHistory returns the user's tier changes, oldest first.
	// Returns ErrNotFound if the user is unknown.
	TierHistory(ctx context.Context, userID string) ([]progression.TierRecord, error)

	// Count returns the number of onboarded users.
	Count(ctx context.Context) (int, error)

	Close() error
}

// observe records the latency of a store operation started at start.
func observe(backend, op string, start time.Time) {
	metrics.RecordStoreLatency(backend, op, float64(time.Since(start).Microseconds())/1000)
}
