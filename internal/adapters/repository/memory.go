package repository

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/okian/ascend/internal/domain/dedupe"
	"github.com/okian/ascend/internal/domain/progression"
	"github.com/okian/ascend/pkg/metrics"
)

const memoryBackend = "memory"

// record is one user's state plus the submissions applied to it.
type record struct {
	state   progression.State
	applied *dedupe.Window
	history []progression.TierRecord
}

type shard struct {
	mu    sync.RWMutex
	users map[string]*record
}

// MemoryStore is a sharded in-memory Store. Each shard has its own lock and
// the version check happens under that lock, so two writers of one user
// serialize while different users rarely contend.
type MemoryStore struct {
	shards                []*shard
	shardCount            int
	windowSize            int
	metricsUpdateInterval time.Duration

	closed   atomic.Bool
	wg       sync.WaitGroup
	stopChan chan struct{}
}

// NewMemoryStore constructs a memory store with configuration options.
func NewMemoryStore(ctx context.Context, opts ...Option) *MemoryStore {
	s := &MemoryStore{
		shardCount:            32,
		windowSize:            dedupe.DefaultMaxSize,
		metricsUpdateInterval: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.shards = make([]*shard, s.shardCount)
	for i := range s.shards {
		s.shards[i] = &shard{users: make(map[string]*record)}
	}

	s.stopChan = make(chan struct{})
	metrics.UpdateStoreShardCount(s.shardCount)
	s.startMetricsUpdater(ctx)

	return s
}

func (s *MemoryStore) shardFor(userID string) *shard {
	return s.shards[xxhash.Sum64String(userID)%uint64(len(s.shards))]
}

// Create implements Store.Create.
func (s *MemoryStore) Create(ctx context.Context, state progression.State) error {
	defer observe(memoryBackend, "create", time.Now())
	if s.closed.Load() {
		return ErrClosed
	}

	sh := s.shardFor(state.UserID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if _, ok := sh.users[state.UserID]; ok {
		return fmt.Errorf("create %s: %w", state.UserID, ErrAlreadyExists)
	}
	sh.users[state.UserID] = &record{
		state:   state,
		applied: dedupe.NewWindow(dedupe.WithMaxSize(s.windowSize)),
	}
	return nil
}

// Load implements Store.Load.
func (s *MemoryStore) Load(ctx context.Context, userID string) (progression.State, error) {
	defer observe(memoryBackend, "load", time.Now())
	if s.closed.Load() {
		return progression.State{}, ErrClosed
	}

	sh := s.shardFor(userID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	rec, ok := sh.users[userID]
	if !ok {
		return progression.State{}, fmt.Errorf("load %s: %w", userID, ErrNotFound)
	}
	return rec.state, nil
}

// AppliedOutcome implements Store.AppliedOutcome.
func (s *MemoryStore) AppliedOutcome(ctx context.Context, userID, submissionID string) (progression.Outcome, bool, error) {
	defer observe(memoryBackend, "applied", time.Now())
	if s.closed.Load() {
		return progression.Outcome{}, false, ErrClosed
	}

	sh := s.shardFor(userID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	rec, ok := sh.users[userID]
	if !ok {
		return progression.Outcome{}, false, nil
	}
	o, found := rec.applied.Lookup(submissionID)
	return o, found, nil
}

// Save implements Store.Save.
func (s *MemoryStore) Save(ctx context.Context, next progression.State, expectedVersion uint64, applied *dedupe.Entry, tier *progression.TierRecord) error {
	defer observe(memoryBackend, "save", time.Now())
	if s.closed.Load() {
		return ErrClosed
	}

	sh := s.shardFor(next.UserID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	rec, ok := sh.users[next.UserID]
	if !ok {
		return fmt.Errorf("save %s: %w", next.UserID, ErrNotFound)
	}
	if rec.state.Version != expectedVersion {
		return fmt.Errorf("save %s at version %d (stored %d): %w",
			next.UserID, expectedVersion, rec.state.Version, ErrVersionConflict)
	}
	if applied != nil {
		if !rec.applied.Record(applied.SubmissionID, applied.Outcome) {
			return fmt.Errorf("save %s submission %s: %w", next.UserID, applied.SubmissionID, ErrAlreadyApplied)
		}
	}
	if tier != nil {
		rec.history = append(rec.history, *tier)
	}

	next.Version = expectedVersion + 1
	rec.state = next
	return nil
}

// TierHistory implements Store.TierHistory.
func (s *MemoryStore) TierHistory(ctx context.Context, userID string) ([]progression.TierRecord, error) {
	defer observe(memoryBackend, "history", time.Now())
	if s.closed.Load() {
		return nil, ErrClosed
	}

	sh := s.shardFor(userID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	rec, ok := sh.users[userID]
	if !ok {
		return nil, fmt.Errorf("history %s: %w", userID, ErrNotFound)
	}
	out := make([]progression.TierRecord, len(rec.history))
	copy(out, rec.history)
	return out, nil
}

// Count implements Store.Count.
func (s *MemoryStore) Count(ctx context.Context) (int, error) {
	total := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		total += len(sh.users)
		sh.mu.RUnlock()
	}
	return total, nil
}

// Close stops the background metrics updater. Later calls fail with ErrClosed.
func (s *MemoryStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(s.stopChan)
	s.wg.Wait()
	return nil
}

// startMetricsUpdater starts a background goroutine that updates store metrics.
func (s *MemoryStore) startMetricsUpdater(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.metricsUpdateInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopChan:
				return
			case <-ticker.C:
				s.updateMetrics()
			}
		}
	}()
}

// updateMetrics publishes per-shard and total record counts along with
// the number of applied-submission markers held in memory.
func (s *MemoryStore) updateMetrics() {
	total := 0
	for i, sh := range s.shards {
		sh.mu.RLock()
		n := len(sh.users)
		sh.mu.RUnlock()
		metrics.UpdateStoreRecordsPerShard(fmt.Sprintf("shard_%d", i), n)
		total += n
	}
	metrics.UpdateStoreRecordsTotal(total)
	metrics.UpdateStoreAppliedMarkers(s.appliedMarkers())
}

func (s *MemoryStore) appliedMarkers() int64 {
	var n int64
	for _, sh := range s.shards {
		sh.mu.RLock()
		for _, rec := range sh.users {
			n += rec.applied.Size()
		}
		sh.mu.RUnlock()
	}
	return n
}
