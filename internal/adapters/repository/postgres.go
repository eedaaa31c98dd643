package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/okian/ascend/internal/domain/dedupe"
	"github.com/okian/ascend/internal/domain/progression"
)

const postgresBackend = "postgres"

// postgresSchema creates the tables the store needs. The composite
// primary key on applied_submissions makes a duplicate marker fail the
// whole transaction.
const postgresSchema = `
CREATE TABLE IF NOT EXISTS progressions (
    user_id       TEXT PRIMARY KEY,
    level         INTEGER NOT NULL DEFAULT 1,
    total_xp      BIGINT NOT NULL DEFAULT 0,
    tier_index    INTEGER NOT NULL DEFAULT 0,
    tier_progress DOUBLE PRECISION NOT NULL DEFAULT 0,
    coins         BIGINT NOT NULL DEFAULT 0,
    version       BIGINT NOT NULL DEFAULT 1,
    updated_at    TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_level CHECK (level >= 1),
    CONSTRAINT valid_total_xp CHECK (total_xp >= 0),
    CONSTRAINT valid_tier_progress CHECK (tier_progress >= 0 AND tier_progress <= 100)
);

CREATE TABLE IF NOT EXISTS applied_submissions (
    user_id       TEXT NOT NULL REFERENCES progressions(user_id) ON DELETE CASCADE,
    submission_id TEXT NOT NULL,
    outcome       JSONB NOT NULL,
    applied_at    TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    PRIMARY KEY (user_id, submission_id)
);

CREATE TABLE IF NOT EXISTS tier_history (
    id            BIGSERIAL PRIMARY KEY,
    user_id       TEXT NOT NULL REFERENCES progressions(user_id) ON DELETE CASCADE,
    from_tier     INTEGER NOT NULL,
    to_tier       INTEGER NOT NULL,
    corrected     BOOLEAN NOT NULL DEFAULT FALSE,
    level         INTEGER NOT NULL,
    lifetime_xp   BIGINT NOT NULL,
    submission_id TEXT,
    changed_at    TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_tier_history_user ON tier_history (user_id, id);
`

// PostgresConfig holds pool settings for the PostgreSQL store.
type PostgresConfig struct {
	DSN               string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
	// Migrate creates the tables on startup.
	Migrate bool
}

// DefaultPostgresConfig returns pool defaults for dsn.
func DefaultPostgresConfig(dsn string) PostgresConfig {
	return PostgresConfig{
		DSN:               dsn,
		MaxConns:          10,
		MinConns:          2,
		MaxConnLifetime:   time.Hour,
		MaxConnIdleTime:   30 * time.Minute,
		HealthCheckPeriod: time.Minute,
		Migrate:           true,
	}
}

// PoolConfig returns the pgxpool configuration.
func (c PostgresConfig) PoolConfig() (*pgxpool.Config, error) {
	config, err := pgxpool.ParseConfig(c.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to parse connection string: %w", err)
	}
	if c.MaxConns > 0 {
		config.MaxConns = c.MaxConns
	}
	if c.MinConns > 0 {
		config.MinConns = c.MinConns
	}
	if c.MaxConnLifetime > 0 {
		config.MaxConnLifetime = c.MaxConnLifetime
	}
	if c.MaxConnIdleTime > 0 {
		config.MaxConnIdleTime = c.MaxConnIdleTime
	}
	if c.HealthCheckPeriod > 0 {
		config.HealthCheckPeriod = c.HealthCheckPeriod
	}
	return config, nil
}

// PostgresStore is a Store backed by PostgreSQL. Every applied submission is
// kept; there is no window.
type PostgresStore struct {
	pool      *pgxpool.Pool
	closeOnce sync.Once
}

// NewPostgresStore connects, pings and optionally migrates.
func NewPostgresStore(ctx context.Context, cfg PostgresConfig) (*PostgresStore, error) {
	poolConfig, err := cfg.PoolConfig()
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: failed to ping database: %w", err)
	}

	s := &PostgresStore{pool: pool}
	if cfg.Migrate {
		if err := s.Migrate(ctx); err != nil {
			pool.Close()
			return nil, err
		}
	}
	return s, nil
}

// Migrate creates the schema if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("postgres: migration failed: %w", err)
	}
	return nil
}

// Create implements Store.Create.
func (s *PostgresStore) Create(ctx context.Context, state progression.State) error {
	defer observe(postgresBackend, "create", time.Now())

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO progressions (user_id, level, total_xp, tier_index, tier_progress, coins, version, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id) DO NOTHING`,
		state.UserID, state.Level, state.TotalXP, state.TierIndex, state.TierProgress,
		state.Coins, int64(state.Version), state.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: create %s: %w", state.UserID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("create %s: %w", state.UserID, ErrAlreadyExists)
	}
	return nil
}

// Load implements Store.Load.
func (s *PostgresStore) Load(ctx context.Context, userID string) (progression.State, error) {
	defer observe(postgresBackend, "load", time.Now())

	var (
		st      progression.State
		version int64
	)
	err := s.pool.QueryRow(ctx, `
		SELECT user_id, level, total_xp, tier_index, tier_progress, coins, version, updated_at
		FROM progressions WHERE user_id = $1`, userID).
		Scan(&st.UserID, &st.Level, &st.TotalXP, &st.TierIndex, &st.TierProgress, &st.Coins, &version, &st.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return progression.State{}, fmt.Errorf("load %s: %w", userID, ErrNotFound)
	}
	if err != nil {
		return progression.State{}, fmt.Errorf("postgres: load %s: %w", userID, err)
	}
	st.Version = uint64(version)
	st.UpdatedAt = st.UpdatedAt.UTC()
	return st, nil
}

// AppliedOutcome implements Store.AppliedOutcome.
func (s *PostgresStore) AppliedOutcome(ctx context.Context, userID, submissionID string) (progression.Outcome, bool, error) {
	defer observe(postgresBackend, "applied", time.Now())

	var raw []byte
	err := s.pool.QueryRow(ctx, `
		SELECT outcome FROM applied_submissions
		WHERE user_id = $1 AND submission_id = $2`, userID, submissionID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return progression.Outcome{}, false, nil
	}
	if err != nil {
		return progression.Outcome{}, false, fmt.Errorf("postgres: applied %s/%s: %w", userID, submissionID, err)
	}
	o, err := decodeOutcome(raw)
	if err != nil {
		return progression.Outcome{}, false, err
	}
	return o, true, nil
}

// Save implements Store.Save. The version-guarded update, the marker insert
// and the tier history row share one transaction.
func (s *PostgresStore) Save(ctx context.Context, next progression.State, expectedVersion uint64, applied *dedupe.Entry, tier *progression.TierRecord) error {
	defer observe(postgresBackend, "save", time.Now())

	var payload []byte
	if applied != nil {
		var err error
		if payload, err = encodeOutcome(applied.Outcome); err != nil {
			return err
		}
	}

	return s.withTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE progressions
			SET level = $3, total_xp = $4, tier_index = $5, tier_progress = $6,
			    coins = $7, version = $8, updated_at = $9
			WHERE user_id = $1 AND version = $2`,
			next.UserID, int64(expectedVersion), next.Level, next.TotalXP, next.TierIndex,
			next.TierProgress, next.Coins, int64(expectedVersion+1), next.UpdatedAt)
		if err != nil {
			return fmt.Errorf("postgres: save %s: %w", next.UserID, err)
		}
		if tag.RowsAffected() == 0 {
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM progressions WHERE user_id = $1)`,
				next.UserID).Scan(&exists); err != nil {
				return fmt.Errorf("postgres: save %s: %w", next.UserID, err)
			}
			if !exists {
				return fmt.Errorf("save %s: %w", next.UserID, ErrNotFound)
			}
			return fmt.Errorf("save %s at version %d: %w", next.UserID, expectedVersion, ErrVersionConflict)
		}

		if applied != nil {
			_, err = tx.Exec(ctx, `
				INSERT INTO applied_submissions (user_id, submission_id, outcome, applied_at)
				VALUES ($1, $2, $3, $4)`,
				next.UserID, applied.SubmissionID, payload, applied.Outcome.AppliedAt)
			if isUniqueViolation(err) {
				return fmt.Errorf("save %s submission %s: %w", next.UserID, applied.SubmissionID, ErrAlreadyApplied)
			}
			if err != nil {
				return fmt.Errorf("postgres: record %s/%s: %w", next.UserID, applied.SubmissionID, err)
			}
		}

		if tier == nil {
			return nil
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO tier_history (user_id, from_tier, to_tier, corrected, level, lifetime_xp, submission_id, changed_at)
			VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8)`,
			next.UserID, tier.From, tier.To, tier.Corrected, tier.Level, tier.LifetimeXP, tier.SubmissionID, tier.ChangedAt)
		if err != nil {
			return fmt.Errorf("postgres: tier history %s: %w", next.UserID, err)
		}
		return nil
	})
}

// TierHistory implements Store.TierHistory.
func (s *PostgresStore) TierHistory(ctx context.Context, userID string) ([]progression.TierRecord, error) {
	defer observe(postgresBackend, "history", time.Now())

	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM progressions WHERE user_id = $1)`,
		userID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("postgres: history %s: %w", userID, err)
	}
	if !exists {
		return nil, fmt.Errorf("history %s: %w", userID, ErrNotFound)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT user_id, from_tier, to_tier, corrected, level, lifetime_xp, COALESCE(submission_id, ''), changed_at
		FROM tier_history WHERE user_id = $1 ORDER BY id`, userID)
	if err != nil {
		return nil, fmt.Errorf("postgres: history %s: %w", userID, err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (progression.TierRecord, error) {
		var r progression.TierRecord
		err := row.Scan(&r.UserID, &r.From, &r.To, &r.Corrected, &r.Level, &r.LifetimeXP, &r.SubmissionID, &r.ChangedAt)
		r.ChangedAt = r.ChangedAt.UTC()
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: history %s: %w", userID, err)
	}
	return out, nil
}

// Count implements Store.Count.
func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM progressions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count: %w", err)
	}
	return n, nil
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	s.closeOnce.Do(s.pool.Close)
	return nil
}

func (s *PostgresStore) withTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite})
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

// isUniqueViolation reports a 23505 unique_violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
