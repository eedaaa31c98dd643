package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/okian/ascend/internal/domain/dedupe"
	"github.com/okian/ascend/internal/domain/progression"
)

const redisBackend = "redis"

// RedisConfig holds connection and layout settings for the Redis store.
type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// KeyPrefix namespaces every key.
	KeyPrefix string
	// WindowSize bounds the applied submissions kept per user; <= 0 keeps all.
	WindowSize int
}

// DefaultRedisConfig returns defaults for addr.
func DefaultRedisConfig(addr string) RedisConfig {
	return RedisConfig{
		Addr:         addr,
		PoolSize:     10,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		KeyPrefix:    "ascend",
		WindowSize:   dedupe.DefaultMaxSize,
	}
}

// redisKeys lays out one user's keys. The braces keep them in one cluster
// slot so WATCH/MULTI cover all of them.
type redisKeys struct {
	prefix string
}

func (k redisKeys) state(userID string) string   { return fmt.Sprintf("%s:{%s}:state", k.prefix, userID) }
func (k redisKeys) applied(userID string) string { return fmt.Sprintf("%s:{%s}:applied", k.prefix, userID) }
func (k redisKeys) order(userID string) string   { return fmt.Sprintf("%s:{%s}:order", k.prefix, userID) }
func (k redisKeys) history(userID string) string { return fmt.Sprintf("%s:{%s}:history", k.prefix, userID) }
func (k redisKeys) users() string                { return k.prefix + ":users" }

// RedisStore is a Store on Redis. Save watches the user's keys, checks the
// version and commits state plus marker in a single MULTI/EXEC.
type RedisStore struct {
	client     redis.UniversalClient
	keys       redisKeys
	windowSize int
}

// NewRedisStore connects and pings.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: failed to ping %s: %w", cfg.Addr, err)
	}
	return NewRedisStoreFromClient(client, cfg), nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client redis.UniversalClient, cfg RedisConfig) *RedisStore {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "ascend"
	}
	return &RedisStore{client: client, keys: redisKeys{prefix: prefix}, windowSize: cfg.WindowSize}
}

// Create implements Store.Create.
func (s *RedisStore) Create(ctx context.Context, state progression.State) error {
	defer observe(redisBackend, "create", time.Now())

	payload, err := encodeState(state)
	if err != nil {
		return err
	}
	ok, err := s.client.SetNX(ctx, s.keys.state(state.UserID), payload, 0).Result()
	if err != nil {
		return fmt.Errorf("redis: create %s: %w", state.UserID, err)
	}
	if !ok {
		return fmt.Errorf("create %s: %w", state.UserID, ErrAlreadyExists)
	}
	if err := s.client.SAdd(ctx, s.keys.users(), state.UserID).Err(); err != nil {
		return fmt.Errorf("redis: index %s: %w", state.UserID, err)
	}
	return nil
}

// Load implements Store.Load.
func (s *RedisStore) Load(ctx context.Context, userID string) (progression.State, error) {
	defer observe(redisBackend, "load", time.Now())
	return s.load(ctx, s.client, userID)
}

// stringGetter is satisfied by both the client and a watched *redis.Tx.
type stringGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *RedisStore) load(ctx context.Context, c stringGetter, userID string) (progression.State, error) {
	raw, err := c.Get(ctx, s.keys.state(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return progression.State{}, fmt.Errorf("load %s: %w", userID, ErrNotFound)
	}
	if err != nil {
		return progression.State{}, fmt.Errorf("redis: load %s: %w", userID, err)
	}
	return decodeState(raw)
}

// AppliedOutcome implements Store.AppliedOutcome.
func (s *RedisStore) AppliedOutcome(ctx context.Context, userID, submissionID string) (progression.Outcome, bool, error) {
	defer observe(redisBackend, "applied", time.Now())

	raw, err := s.client.HGet(ctx, s.keys.applied(userID), submissionID).Bytes()
	if errors.Is(err, redis.Nil) {
		return progression.Outcome{}, false, nil
	}
	if err != nil {
		return progression.Outcome{}, false, fmt.Errorf("redis: applied %s/%s: %w", userID, submissionID, err)
	}
	o, err := decodeOutcome(raw)
	if err != nil {
		return progression.Outcome{}, false, err
	}
	return o, true, nil
}

// Save implements Store.Save.
func (s *RedisStore) Save(ctx context.Context, next progression.State, expectedVersion uint64, applied *dedupe.Entry, tier *progression.TierRecord) error {
	defer observe(redisBackend, "save", time.Now())

	next.Version = expectedVersion + 1
	statePayload, err := encodeState(next)
	if err != nil {
		return err
	}
	var outcomePayload []byte
	if applied != nil {
		if outcomePayload, err = encodeOutcome(applied.Outcome); err != nil {
			return err
		}
	}
	var tierPayload []byte
	if tier != nil {
		if tierPayload, err = encodeTierRecord(*tier); err != nil {
			return err
		}
	}

	userID := next.UserID
	stateKey, appliedKey, orderKey := s.keys.state(userID), s.keys.applied(userID), s.keys.order(userID)

	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := s.load(ctx, tx, userID)
		if err != nil {
			return err
		}
		if cur.Version != expectedVersion {
			return fmt.Errorf("save %s at version %d (stored %d): %w", userID, expectedVersion, cur.Version, ErrVersionConflict)
		}

		var evict []string
		if applied != nil {
			seen, err := tx.HExists(ctx, appliedKey, applied.SubmissionID).Result()
			if err != nil {
				return fmt.Errorf("redis: applied %s/%s: %w", userID, applied.SubmissionID, err)
			}
			if seen {
				return fmt.Errorf("save %s submission %s: %w", userID, applied.SubmissionID, ErrAlreadyApplied)
			}
			if s.windowSize > 0 {
				n, err := tx.LLen(ctx, orderKey).Result()
				if err != nil {
					return fmt.Errorf("redis: window %s: %w", userID, err)
				}
				if excess := n + 1 - int64(s.windowSize); excess > 0 {
					if evict, err = tx.LRange(ctx, orderKey, 0, excess-1).Result(); err != nil {
						return fmt.Errorf("redis: window %s: %w", userID, err)
					}
				}
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, stateKey, statePayload, 0)
			if applied != nil {
				pipe.HSet(ctx, appliedKey, applied.SubmissionID, outcomePayload)
				pipe.RPush(ctx, orderKey, applied.SubmissionID)
				if len(evict) > 0 {
					pipe.LTrim(ctx, orderKey, int64(len(evict)), -1)
					pipe.HDel(ctx, appliedKey, evict...)
				}
			}
			if tier != nil {
				pipe.RPush(ctx, s.keys.history(userID), tierPayload)
			}
			return nil
		})
		return err
	}, stateKey, appliedKey, orderKey)

	if errors.Is(err, redis.TxFailedErr) {
		return fmt.Errorf("save %s: watched keys changed: %w", userID, ErrVersionConflict)
	}
	return err
}

// TierHistory implements Store.TierHistory.
func (s *RedisStore) TierHistory(ctx context.Context, userID string) ([]progression.TierRecord, error) {
	defer observe(redisBackend, "history", time.Now())

	n, err := s.client.Exists(ctx, s.keys.state(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: history %s: %w", userID, err)
	}
	if n == 0 {
		return nil, fmt.Errorf("history %s: %w", userID, ErrNotFound)
	}

	raw, err := s.client.LRange(ctx, s.keys.history(userID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: history %s: %w", userID, err)
	}
	out := make([]progression.TierRecord, 0, len(raw))
	for _, item := range raw {
		r, err := decodeTierRecord([]byte(item))
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// Count implements Store.Count.
func (s *RedisStore) Count(ctx context.Context) (int, error) {
	n, err := s.client.SCard(ctx, s.keys.users()).Result()
	if err != nil {
		return 0, fmt.Errorf("redis: count: %w", err)
	}
	return int(n), nil
}

// Close closes the client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
