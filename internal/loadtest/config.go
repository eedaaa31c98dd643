// Package loadtest drives the progression API concurrently and checks that
// duplicate and concurrent submissions left every user in the state a
// sequential replay would produce.
package loadtest

import (
	"time"

	"github.com/okian/ascend/internal/domain/progression"
	"github.com/okian/ascend/internal/domain/scoring"
)

// Config holds configuration for a load run.
type Config struct {
	BaseURL     string        // Base URL of the service
	Users       int           // Users to onboard
	Submissions int           // Distinct submissions per user
	Duplicates  int           // Extra re-sends of existing submission ids per user
	Workers     int           // Concurrent HTTP workers
	Timeout     time.Duration // HTTP request timeout
	Async       bool          // Submit through /submissions/async first
	Verbose     bool          // Log every failure

	// Curve must match the server's to check levels. Tiers are read from
	// the server.
	Curve progression.Curve
}

// Submission is one request sent to the service.
type Submission struct {
	UserID       string          `json:"user_id"`
	SubmissionID string          `json:"submission_id"`
	Metrics      scoring.Metrics `json:"metrics"`
}

// Result is the answer to one submission.
type Result struct {
	Submission Submission
	Status     int
	Outcome    progression.Outcome
	Err        error
}

// Stats holds run statistics.
type Stats struct {
	UsersOnboarded   int
	Sent             int
	Applied          int
	DuplicateReplies int
	Failed           int
	Reconciled       int
	UsersVerified    int
	Mismatches       int
	StartTime        time.Time
	EndTime          time.Time
	Duration         time.Duration
}
