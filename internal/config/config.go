// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Keys are flat and snake_case so env vars map onto them directly.
// - New builds a Config with defaults; Load layers file and env on top.
// - Validation errors wrap ErrInvalidConfig.
package config

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/okian/ascend/internal/domain/progression"
)

// Store backends.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// LogFormat is text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr              string `koanf:"addr"`
	ReadTimeoutMS     int    `koanf:"read_timeout_ms"`
	WriteTimeoutMS    int    `koanf:"write_timeout_ms"`
	ShutdownTimeoutMS int    `koanf:"shutdown_timeout_ms"`

	// Store selects the persistence backend: memory, postgres or redis.
	Store            string `koanf:"store"`
	PostgresDSN      string `koanf:"postgres_dsn"`
	PostgresMaxConns int    `koanf:"postgres_max_conns"`
	PostgresMigrate  bool   `koanf:"postgres_migrate"`
	RedisAddr        string `koanf:"redis_addr"`
	RedisPassword    string `koanf:"redis_password"`
	RedisDB          int    `koanf:"redis_db"`
	RedisKeyPrefix   string `koanf:"redis_key_prefix"`
	ShardCount       int    `koanf:"shard_count"`

	// WindowSize bounds the applied submissions remembered per user.
	WindowSize int `koanf:"window_size"`

	// XP curve: XPRequiredForLevel(L) = floor(BaseXP * XPGrowth^(L-1)).
	BaseXP       int64   `koanf:"base_xp"`
	XPGrowth     float64 `koanf:"xp_growth"`
	LevelUpCoins int64   `koanf:"level_up_coins"`

	// Tiers. Empty names use the built-in table.
	TierBandWidth      int      `koanf:"tier_band_width"`
	TierNames          []string `koanf:"tier_names"`
	TierPromotionCoins []int64  `koanf:"tier_promotion_coins"`

	// Reward conversion: xp = floor(score*XPMultiplier), coins = floor(score*CoinRate).
	XPMultiplier float64 `koanf:"xp_multiplier"`
	CoinRate     float64 `koanf:"coin_rate"`

	// Optimistic concurrency retry.
	MaxAttempts    int `koanf:"max_attempts"`
	RetryInitialMS int `koanf:"retry_initial_ms"`
	RetryMaxMS     int `koanf:"retry_max_ms"`

	// QueueSize bounds the async reward queue.
	QueueSize       int `koanf:"queue_size"`
	WorkerCount     int `koanf:"worker_count"`
	WorkerTimeoutMS int `koanf:"worker_timeout_ms"`

	// Per-client limit on the submission endpoints; 0 disables it.
	RateLimitRPS   float64 `koanf:"rate_limit_rps"`
	RateLimitBurst int     `koanf:"rate_limit_burst"`
}

// New creates a Config with defaults.
func New() *Config {
	return &Config{
		LogLevel:          "info",
		LogFormat:         "text",
		Addr:              ":9080",
		ReadTimeoutMS:     5_000,
		WriteTimeoutMS:    10_000,
		ShutdownTimeoutMS: 30_000,

		Store:            StoreMemory,
		PostgresMaxConns: 10,
		PostgresMigrate:  true,
		RedisKeyPrefix:   "ascend",
		ShardCount:       32,
		WindowSize:       256,

		BaseXP:        progression.DefaultBaseXP,
		XPGrowth:      progression.DefaultGrowth,
		TierBandWidth: progression.DefaultBandWidth,

		XPMultiplier: 1.0,
		CoinRate:     0.1,

		MaxAttempts:    3,
		RetryInitialMS: 5,
		RetryMaxMS:     50,

		QueueSize:       100_000,
		WorkerCount:     runtime.NumCPU() * 2,
		WorkerTimeoutMS: 5_000,

		RateLimitRPS:   1_000,
		RateLimitBurst: 2_000,
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Addr) == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.Store != StoreMemory && c.Store != StorePostgres && c.Store != StoreRedis:
		return fmt.Errorf("%w: unknown store %q", ErrInvalidConfig, c.Store)
	case c.Store == StorePostgres && c.PostgresDSN == "":
		return fmt.Errorf("%w: postgres_dsn is required for the postgres store", ErrInvalidConfig)
	case c.Store == StoreRedis && c.RedisAddr == "":
		return fmt.Errorf("%w: redis_addr is required for the redis store", ErrInvalidConfig)
	case c.QueueSize <= 0:
		return fmt.Errorf("%w: queue_size must be positive", ErrInvalidConfig)
	case c.WorkerCount <= 0:
		return fmt.Errorf("%w: worker_count must be positive", ErrInvalidConfig)
	case c.MaxAttempts <= 0:
		return fmt.Errorf("%w: max_attempts must be positive", ErrInvalidConfig)
	case c.RetryInitialMS <= 0 || c.RetryMaxMS < c.RetryInitialMS:
		return fmt.Errorf("%w: retry_initial_ms must be positive and at most retry_max_ms", ErrInvalidConfig)
	case c.XPMultiplier < 0 || c.CoinRate < 0:
		return fmt.Errorf("%w: reward rates must be non-negative", ErrInvalidConfig)
	case c.LevelUpCoins < 0:
		return fmt.Errorf("%w: level_up_coins must be non-negative", ErrInvalidConfig)
	case c.RateLimitRPS < 0:
		return fmt.Errorf("%w: rate_limit_rps must be non-negative", ErrInvalidConfig)
	}
	if _, err := c.Rules(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// Curve returns the configured XP curve.
func (c *Config) Curve() progression.Curve {
	return progression.Curve{BaseXP: c.BaseXP, Growth: c.XPGrowth}
}

// Tiers returns the configured tier table.
func (c *Config) Tiers() ([]progression.Tier, error) {
	if len(c.TierNames) == 0 {
		if len(c.TierPromotionCoins) > 0 {
			return nil, errors.New("tier_promotion_coins set without tier_names")
		}
		return progression.DefaultTiers(), nil
	}
	if len(c.TierPromotionCoins) > 0 && len(c.TierPromotionCoins) != len(c.TierNames) {
		return nil, fmt.Errorf("%d tier names but %d promotion bonuses", len(c.TierNames), len(c.TierPromotionCoins))
	}
	tiers := make([]progression.Tier, len(c.TierNames))
	for i, name := range c.TierNames {
		tiers[i] = progression.Tier{Name: strings.TrimSpace(name)}
		if len(c.TierPromotionCoins) > 0 {
			tiers[i].PromotionCoins = c.TierPromotionCoins[i]
		}
	}
	return tiers, nil
}

// Rules builds the ledger and tier table.
func (c *Config) Rules() (progression.Rules, error) {
	ledger, err := progression.NewLedger(c.Curve(), progression.WithLevelUpCoins(c.LevelUpCoins))
	if err != nil {
		return progression.Rules{}, err //nolint:wrapcheck // already carries ErrInvalidCurve
	}
	tiers, err := c.Tiers()
	if err != nil {
		return progression.Rules{}, err
	}
	ranks, err := progression.NewRanks(tiers, c.TierBandWidth)
	if err != nil {
		return progression.Rules{}, err //nolint:wrapcheck // already carries ErrInvalidTiers
	}
	return progression.Rules{Ledger: ledger, Ranks: ranks}, nil
}

// Duration converts a millisecond setting.
func Duration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
