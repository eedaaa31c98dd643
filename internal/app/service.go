// Package service provides the progression service that the HTTP API and
// the queue workers call into.
package service

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/okian/ascend/internal/adapters/mq/queue"
	"github.com/okian/ascend/internal/adapters/mq/worker"
	"github.com/okian/ascend/internal/adapters/repository"
	"github.com/okian/ascend/internal/domain/dedupe"
	"github.com/okian/ascend/internal/domain/progression"
	"github.com/okian/ascend/internal/domain/scoring"
	"github.com/okian/ascend/pkg/logger"
	"github.com/okian/ascend/pkg/metrics"
)

// Default service configuration.
const (
	DefaultXPMultiplier = 1.0
	DefaultCoinRate     = 0.1
	DefaultMaxAttempts  = 3
	DefaultQueueSize    = 100000

	defaultRetryInitial = 5 * time.Millisecond
	defaultRetryMax     = 50 * time.Millisecond
	stopTimeout         = 30 * time.Second
)

// Service applies rewards to progression records.
type Service struct {
	mu sync.RWMutex

	// Core components
	store      repository.Store
	rewards    *queue.InMemoryQueue
	workerPool *worker.Pool
	calculator *scoring.Calculator
	rules      progression.Rules

	// Configuration
	xpMultiplier  float64
	coinRate      float64
	maxAttempts   int
	retryInitial  time.Duration
	retryMax      time.Duration
	workerCount   int
	queueSize     int
	windowSize    int
	workerTimeout time.Duration
	now           func() time.Time

	// State
	started   bool
	stopping  bool
	ownsStore bool
	stopCh    chan struct{}

	logger logger.Logger
}

// New constructs a new Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		calculator:   scoring.NewCalculator(),
		rules:        progression.DefaultRules(),
		xpMultiplier: DefaultXPMultiplier,
		coinRate:     DefaultCoinRate,
		maxAttempts:  DefaultMaxAttempts,
		retryInitial: defaultRetryInitial,
		retryMax:     defaultRetryMax,
		workerCount:  runtime.NumCPU() * 2,
		queueSize:    DefaultQueueSize,
		windowSize:   dedupe.DefaultMaxSize,
		now:          time.Now,
		stopCh:       make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start initializes the store when none was given, the reward queue and the
// worker pool.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}

	s.logger.Info(ctx, "starting progression service...")

	if s.store == nil {
		s.store = repository.NewMemoryStore(context.WithoutCancel(ctx), repository.WithWindowSize(s.windowSize))
		s.ownsStore = true
		s.logger.Info(ctx, "using memory store")
	}

	s.rewards = queue.NewInMemoryQueue(
		queue.WithCapacity(s.queueSize),
		queue.WithBufferSize(s.queueSize),
	)

	wopts := []worker.Option{worker.WithLogger(s.logger.Named("worker"))}
	if s.workerTimeout > 0 {
		wopts = append(wopts, worker.WithTimeout(s.workerTimeout))
	}
	s.workerPool = worker.NewPool(s.workerCount, s.rewards, s, wopts...)
	// workers outlive the request that started the service
	s.workerPool.Start(context.WithoutCancel(ctx))

	s.stopCh = make(chan struct{})
	s.started = true
	s.logger.Info(ctx, "progression service started",
		logger.Int("workers", s.workerPool.Size()),
		logger.Int("queueSize", s.queueSize),
		logger.Int("maxAttempts", s.maxAttempts),
	)

	return nil
}

// Stop drains the reward queue and stops the workers. Queued requests are
// still applied while the pool drains. The store is closed only when the
// service created it; a store passed via WithStore belongs to the caller.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.started || s.stopping {
		s.mu.Unlock()
		return
	}
	s.stopping = true
	pool, store, owned := s.workerPool, s.store, s.ownsStore
	s.mu.Unlock()

	ctx := context.Background()
	s.logger.Info(ctx, "stopping progression service...")

	if pool != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, stopTimeout)
		if err := pool.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn(ctx, "worker pool did not drain", logger.Error(err))
			pool.Stop()
		}
		cancel()
	}

	if owned && store != nil {
		if err := store.Close(); err != nil {
			s.logger.Error(ctx, "error closing store", logger.Error(err))
		}
	}

	s.mu.Lock()
	if s.ownsStore {
		s.store = nil
	}
	close(s.stopCh)
	s.started = false
	s.stopping = false
	s.mu.Unlock()

	s.logger.Info(ctx, "progression service stopped")
}

// Done is closed when the service stops.
func (s *Service) Done() <-chan struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stopCh
}

// components returns the store and queue, or ErrNotStarted.
func (s *Service) components() (repository.Store, *queue.InMemoryQueue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return nil, nil, ErrNotStarted
	}
	return s.store, s.rewards, nil
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx := context.Background()
	stats := map[string]interface{}{
		"started":     s.started,
		"workerCount": s.workerCount,
		"queueSize":   s.queueSize,
		"maxAttempts": s.maxAttempts,
		"tiers":       s.rules.Ranks.Len(),
	}

	if s.started {
		queueLen := s.rewards.Len(ctx)
		stats["queueLength"] = queueLen
		stats["queueCapacity"] = s.rewards.Capacity()
		stats["busyWorkers"] = s.workerPool.Busy()

		if total, err := s.store.Count(ctx); err == nil {
			stats["totalProgressions"] = total
			metrics.UpdateTotalProgressions(total)
		} else {
			s.logger.Warn(ctx, "count progressions failed", logger.Error(err))
		}

		metrics.UpdateQueueSize(queueLen)
		metrics.UpdateWorkerCount(s.workerPool.Size())
	}
	if s.rewards != nil {
		// still reported after Stop, when the drained queue is closed
		stats["queueClosed"] = s.rewards.IsClosed()
	}

	return stats
}
