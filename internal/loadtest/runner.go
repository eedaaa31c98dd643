package loadtest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/okian/ascend/pkg/logger"
)

// ErrVerificationFailed is returned when at least one user ended in a state
// that the acknowledged outcomes cannot explain.
var ErrVerificationFailed = errors.New("progression verification failed")

// Reconciliation limits for submissions whose first attempt failed.
const (
	reconcileAttempts = 5
	reconcileInitial  = 50 * time.Millisecond
	reconcileMax      = time.Second
)

// Run executes the complete load test.
func Run(ctx context.Context, cfg *Config) (*Stats, error) {
	log := logger.Get().Named("loadtest")
	stats := &Stats{StartTime: time.Now()}

	log.Info(ctx, "starting progression load test",
		logger.String("baseURL", cfg.BaseURL),
		logger.Int("users", cfg.Users),
		logger.Int("submissions", cfg.Submissions),
		logger.Int("duplicates", cfg.Duplicates),
		logger.Int("workers", cfg.Workers),
		logger.Duration("timeout", cfg.Timeout),
		logger.Bool("async", cfg.Async))

	client := newHTTPClient(cfg.BaseURL, cfg.Timeout)

	// Step 1: Check service health
	if _, err := client.Get(ctx, "/healthz", nil); err != nil {
		return stats, fmt.Errorf("service health check failed: %w", err)
	}

	// Step 2: Onboard users
	users := generateUsers(cfg.Users)
	n, err := onboard(ctx, client, users)
	stats.UsersOnboarded = n
	if err != nil {
		return stats, fmt.Errorf("onboarding failed: %w", err)
	}

	// Step 3: Generate submissions
	distinct, all := generateSubmissions(users, cfg.Submissions, cfg.Duplicates)
	log.Info(ctx, "generated submissions",
		logger.Int("distinct", len(distinct)),
		logger.Int("total", len(all)))

	// Step 4: Submit concurrently
	var results []Result
	if cfg.Async {
		accepted := sendAll(ctx, cfg, client, all, enqueue)
		stats.Sent = len(accepted)
		for _, r := range accepted {
			if r.Err != nil {
				stats.Failed++
			}
		}
		// replaying through the synchronous endpoint returns each stored
		// outcome, or applies it if the worker has not got there yet
		results = sendAll(ctx, cfg, client, distinct, submit)
	} else {
		results = sendAll(ctx, cfg, client, all, submit)
		stats.Sent = len(results)
		for _, r := range results {
			if r.Err != nil {
				stats.Failed++
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return stats, err
	}

	// Step 5: Re-issue what never got an answer
	fixed, err := reconcile(ctx, client, distinct, results)
	stats.Reconciled = len(fixed)
	results = append(results, fixed...)
	if err != nil {
		return stats, fmt.Errorf("reconciliation failed: %w", err)
	}

	// Step 6: Verify final states
	byUser, bad := collect(results)
	for _, subs := range byUser {
		for _, e := range subs {
			stats.Applied++
			stats.DuplicateReplies += e.replies - 1
		}
	}
	more, err := verifyUsers(ctx, cfg, client, users, byUser)
	bad = append(bad, more...)
	stats.UsersVerified = len(users)
	stats.Mismatches = len(bad)
	if err != nil {
		return stats, fmt.Errorf("verification failed: %w", err)
	}

	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)
	displayFinalStats(ctx, log, stats)

	if len(bad) > 0 {
		for _, m := range bad {
			log.Error(ctx, "mismatch", logger.String("userID", m.UserID), logger.String("reason", m.Reason))
		}
		return stats, fmt.Errorf("%w: %d mismatches", ErrVerificationFailed, len(bad))
	}
	return stats, nil
}

// reconcile re-sends every distinct submission that has no successful
// reply. Re-sending is safe because the service deduplicates by id.
func reconcile(ctx context.Context, client *HTTPClient, distinct []Submission, results []Result) ([]Result, error) {
	answered := make(map[string]struct{}, len(results))
	for _, r := range results {
		if r.Err == nil {
			answered[r.Submission.SubmissionID] = struct{}{}
		}
	}

	var fixed []Result
	for _, s := range distinct {
		if _, ok := answered[s.SubmissionID]; ok {
			continue
		}
		var r Result
		exp := backoff.NewExponentialBackOff()
		exp.InitialInterval = reconcileInitial
		exp.MaxInterval = reconcileMax
		policy := backoff.WithContext(backoff.WithMaxRetries(exp, reconcileAttempts-1), ctx)
		err := backoff.Retry(func() error {
			r = submit(ctx, client, s)
			return r.Err
		}, policy)
		if err != nil {
			return fixed, fmt.Errorf("submission %s: %w", s.SubmissionID, err)
		}
		fixed = append(fixed, r)
	}
	return fixed, nil
}

// displayFinalStats logs the run summary.
func displayFinalStats(ctx context.Context, log logger.Logger, stats *Stats) {
	throughput := 0.0
	if secs := stats.Duration.Seconds(); secs > 0 {
		throughput = float64(stats.Sent) / secs
	}
	log.Info(ctx, "load test completed",
		logger.Int("usersOnboarded", stats.UsersOnboarded),
		logger.Int("sent", stats.Sent),
		logger.Int("applied", stats.Applied),
		logger.Int("duplicateReplies", stats.DuplicateReplies),
		logger.Int("failed", stats.Failed),
		logger.Int("reconciled", stats.Reconciled),
		logger.Int("usersVerified", stats.UsersVerified),
		logger.Int("mismatches", stats.Mismatches),
		logger.Duration("duration", stats.Duration),
		logger.Float64("requestsPerSecond", throughput))
}
