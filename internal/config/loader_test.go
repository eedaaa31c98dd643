package config_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/okian/ascend/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		ctx := context.Background()

		convey.Convey("When loading config with defaults only", func() {
			clearConfigEnvVars(t)

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load successfully with defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg, convey.ShouldResemble, config.New())
			})
		})

		convey.Convey("When loading config with environment variables", func() {
			clearConfigEnvVars(t)
			t.Setenv("ASCEND_ADDR", ":8080")
			t.Setenv("ASCEND_QUEUE_SIZE", "5000")
			t.Setenv("ASCEND_WORKER_COUNT", "16")
			t.Setenv("ASCEND_XP_GROWTH", "1.25")
			t.Setenv("ASCEND_POSTGRES_MIGRATE", "false")
			t.Setenv("ASCEND_TIER_NAMES", "bronze, silver,gold")
			t.Setenv("ASCEND_TIER_PROMOTION_COINS", "0,10,20")

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should override defaults with env vars", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.QueueSize, convey.ShouldEqual, 5000)
				convey.So(cfg.WorkerCount, convey.ShouldEqual, 16)
				convey.So(cfg.XPGrowth, convey.ShouldEqual, 1.25)
				convey.So(cfg.PostgresMigrate, convey.ShouldBeFalse)
				convey.So(cfg.TierNames, convey.ShouldResemble, []string{"bronze", "silver", "gold"})
				convey.So(cfg.TierPromotionCoins, convey.ShouldResemble, []int64{0, 10, 20})
			})
		})

		convey.Convey("When loading config with YAML file", func() {
			clearConfigEnvVars(t)
			path := writeConfigFile(t, `
addr: ":9090"
store: redis
redis_addr: "localhost:6379"
queue_size: 300
base_xp: 200
tier_band_width: 10
tier_names: [a, b, c]
tier_promotion_coins: [0, 5, 50]
`)
			t.Setenv("ASCEND_CONFIG", path)

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load from YAML file", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9090")
				convey.So(cfg.Store, convey.ShouldEqual, config.StoreRedis)
				convey.So(cfg.RedisAddr, convey.ShouldEqual, "localhost:6379")
				convey.So(cfg.QueueSize, convey.ShouldEqual, 300)
				convey.So(cfg.BaseXP, convey.ShouldEqual, 200)
				convey.So(cfg.TierBandWidth, convey.ShouldEqual, 10)
				convey.So(cfg.TierNames, convey.ShouldResemble, []string{"a", "b", "c"})
				convey.So(cfg.TierPromotionCoins, convey.ShouldResemble, []int64{0, 5, 50})
			})
		})

		convey.Convey("When loading config with both file and environment variables", func() {
			clearConfigEnvVars(t)
			path := writeConfigFile(t, `
addr: ":9090"
queue_size: 300
worker_count: 24
`)
			t.Setenv("ASCEND_CONFIG", path)
			t.Setenv("ASCEND_ADDR", ":8080")
			t.Setenv("ASCEND_WORKER_COUNT", "32")

			cfg, err := config.Load(ctx)

			convey.Convey("Then environment variables should override file values", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.QueueSize, convey.ShouldEqual, 300)
				convey.So(cfg.WorkerCount, convey.ShouldEqual, 32)
			})
		})

		convey.Convey("When the config file does not exist", func() {
			clearConfigEnvVars(t)
			t.Setenv("ASCEND_CONFIG", "/non/existent/file.yaml")

			_, err := config.Load(ctx)

			convey.Convey("Then loading fails", func() {
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When a value has the wrong type", func() {
			clearConfigEnvVars(t)
			t.Setenv("ASCEND_QUEUE_SIZE", "not_a_number")

			_, err := config.Load(ctx)

			convey.Convey("Then it is invalid config", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When a value fails validation", func() {
			clearConfigEnvVars(t)
			t.Setenv("ASCEND_STORE", "postgres")

			_, err := config.Load(ctx)

			convey.Convey("Then it is invalid config", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
				convey.So(err.Error(), convey.ShouldContainSubstring, "postgres_dsn")
			})
		})
	})
}

// clearConfigEnvVars unsets every ASCEND_ variable for the rest of the test.
func clearConfigEnvVars(t *testing.T) {
	t.Helper()
	for _, kv := range os.Environ() {
		for i := 0; i < len(kv); i++ {
			if kv[i] != '=' {
				continue
			}
			name := kv[:i]
			if len(name) > len(config.EnvPrefix) && name[:len(config.EnvPrefix)] == config.EnvPrefix {
				t.Setenv(name, "")
				_ = os.Unsetenv(name)
			}
			break
		}
	}
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}
