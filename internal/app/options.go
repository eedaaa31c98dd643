package service

import (
	"time"

	"github.com/okian/ascend/internal/adapters/repository"
	"github.com/okian/ascend/internal/domain/progression"
	"github.com/okian/ascend/internal/domain/scoring"
	"github.com/okian/ascend/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithStore sets the progression store. Without it Start opens an in-memory
// store.
func WithStore(store repository.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.store = store
		}
	}
}

// WithRules sets the ledger and tier table.
func WithRules(rules progression.Rules) Option {
	return func(s *Service) {
		if rules.Ledger != nil && rules.Ranks != nil {
			s.rules = rules
		}
	}
}

// WithCalculator sets the score calculator.
func WithCalculator(c *scoring.Calculator) Option {
	return func(s *Service) {
		if c != nil {
			s.calculator = c
		}
	}
}

// WithRewardRates sets how a score converts to XP and coins.
func WithRewardRates(xpMultiplier, coinRate float64) Option {
	return func(s *Service) {
		if xpMultiplier >= 0 {
			s.xpMultiplier = xpMultiplier
		}
		if coinRate >= 0 {
			s.coinRate = coinRate
		}
	}
}

// WithMaxAttempts bounds how many times a conflicting write is tried.
func WithMaxAttempts(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithRetryBackoff sets the initial and maximum delay between attempts.
func WithRetryBackoff(initial, maxDelay time.Duration) Option {
	return func(s *Service) {
		if initial > 0 && maxDelay >= initial {
			s.retryInitial = initial
			s.retryMax = maxDelay
		}
	}
}

// WithWorkerCount sets the number of worker goroutines.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the maximum size of the reward queue.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithWindowSize sets how many applied submissions the in-memory store
// remembers per user.
func WithWindowSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.windowSize = size
		}
	}
}

// WithWorkerTimeout bounds each queued apply.
func WithWorkerTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.workerTimeout = d
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}
