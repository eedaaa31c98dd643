package config_test

import (
	"errors"
	"runtime"
	"testing"

	"github.com/okian/ascend/internal/config"
	"github.com/okian/ascend/internal/domain/progression"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfig_New(t *testing.T) {
	convey.Convey("Given a new config with default options", t, func() {
		cfg := config.New()

		convey.Convey("Then it should have sensible defaults", func() {
			convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
			convey.So(cfg.Store, convey.ShouldEqual, config.StoreMemory)
			convey.So(cfg.QueueSize, convey.ShouldEqual, 100_000)
			convey.So(cfg.WorkerCount, convey.ShouldEqual, runtime.NumCPU()*2)
			convey.So(cfg.WindowSize, convey.ShouldEqual, 256)
			convey.So(cfg.BaseXP, convey.ShouldEqual, 100)
			convey.So(cfg.XPGrowth, convey.ShouldEqual, 1.1)
			convey.So(cfg.TierBandWidth, convey.ShouldEqual, 5)
			convey.So(cfg.MaxAttempts, convey.ShouldEqual, 3)
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})

		convey.Convey("And the default rules match the built-in tables", func() {
			rules, err := cfg.Rules()
			convey.So(err, convey.ShouldBeNil)
			convey.So(rules.Ranks.Tiers(), convey.ShouldResemble, progression.DefaultTiers())
			convey.So(rules.Ledger.Curve(), convey.ShouldResemble, progression.DefaultCurve())
		})
	})
}

func TestConfig_Validate(t *testing.T) {
	convey.Convey("Given invalid settings", t, func() {
		cases := map[string]func(*config.Config){
			"empty addr":           func(c *config.Config) { c.Addr = "" },
			"unknown store":        func(c *config.Config) { c.Store = "mongo" },
			"postgres without dsn": func(c *config.Config) { c.Store = config.StorePostgres },
			"redis without addr":   func(c *config.Config) { c.Store = config.StoreRedis },
			"zero queue":           func(c *config.Config) { c.QueueSize = 0 },
			"zero workers":         func(c *config.Config) { c.WorkerCount = 0 },
			"zero attempts":        func(c *config.Config) { c.MaxAttempts = 0 },
			"inverted retry":       func(c *config.Config) { c.RetryInitialMS, c.RetryMaxMS = 10, 5 },
			"negative coin rate":   func(c *config.Config) { c.CoinRate = -1 },
			"flat curve":           func(c *config.Config) { c.XPGrowth = 1 },
			"zero band width":      func(c *config.Config) { c.TierBandWidth = 0 },
			"coins without names":  func(c *config.Config) { c.TierPromotionCoins = []int64{0, 10} },
			"mismatched tiers": func(c *config.Config) {
				c.TierNames = []string{"a", "b"}
				c.TierPromotionCoins = []int64{0}
			},
		}

		convey.Convey("Then each is rejected as invalid config", func() {
			for name, mutate := range cases {
				cfg := config.New()
				mutate(cfg)
				err := cfg.Validate()
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
				_ = name
			}
		})
	})

	convey.Convey("Given custom tiers", t, func() {
		cfg := config.New()
		cfg.TierNames = []string{"bronze", " silver "}
		cfg.TierPromotionCoins = []int64{0, 50}

		convey.Convey("Then the table uses them", func() {
			tiers, err := cfg.Tiers()
			convey.So(err, convey.ShouldBeNil)
			convey.So(tiers, convey.ShouldResemble, []progression.Tier{
				{Name: "bronze", PromotionCoins: 0},
				{Name: "silver", PromotionCoins: 50},
			})
		})

		convey.Convey("And names alone pay no promotion bonus", func() {
			cfg.TierPromotionCoins = nil
			tiers, err := cfg.Tiers()
			convey.So(err, convey.ShouldBeNil)
			convey.So(tiers[1].PromotionCoins, convey.ShouldEqual, 0)
		})
	})
}
