package progression_test

import (
	"errors"
	"math"
	"testing"

	"github.com/okian/ascend/internal/domain/progression"
	. "github.com/smartystreets/goconvey/convey"
)

func TestCurve(t *testing.T) {
	Convey("Given the default curve", t, func() {
		c := progression.DefaultCurve()

		Convey("Then thresholds follow floor(100 * 1.1^(L-1))", func() {
			So(c.XPRequiredForLevel(1), ShouldEqual, 100)
			So(c.XPRequiredForLevel(2), ShouldEqual, 110)
			So(c.XPRequiredForLevel(3), ShouldEqual, 121)
			So(c.XPRequiredForLevel(4), ShouldEqual, 133)
			So(c.XPRequiredForLevel(0), ShouldEqual, 100)
		})

		Convey("Then thresholds strictly increase", func() {
			prev := c.XPRequiredForLevel(1)
			for l := 2; l <= 300; l++ {
				cur := c.XPRequiredForLevel(l)
				So(cur, ShouldBeGreaterThan, prev)
				prev = cur
			}
		})

		Convey("Then far levels are clamped instead of overflowing", func() {
			So(c.XPRequiredForLevel(1_000_000), ShouldBeGreaterThan, 0)
		})
	})

	Convey("Given curves with bad parameters", t, func() {
		bad := []progression.Curve{
			{BaseXP: 0, Growth: 1.1},
			{BaseXP: 100, Growth: 1},
			{BaseXP: 100, Growth: 0.5},
			{BaseXP: 100, Growth: math.NaN()},
			{BaseXP: 5, Growth: 1.1},
		}

		Convey("Then validation rejects each one", func() {
			for _, c := range bad {
				err := c.Validate()
				So(errors.Is(err, progression.ErrInvalidCurve), ShouldBeTrue)
				_, err = progression.NewLedger(c)
				So(errors.Is(err, progression.ErrInvalidCurve), ShouldBeTrue)
			}
		})
	})
}

func TestLedgerApplyXP(t *testing.T) {
	Convey("Given a ledger on the default curve", t, func() {
		l, err := progression.NewLedger(progression.DefaultCurve())
		So(err, ShouldBeNil)
		start := progression.State{UserID: "u1", Level: 1}

		Convey("When 250 XP is granted at level 1", func() {
			up := l.ApplyXP(start, 250)

			Convey("Then two levels cascade and the surplus carries over", func() {
				So(up.State.Level, ShouldEqual, 3)
				So(up.State.TotalXP, ShouldEqual, 40)
				So(up.LevelsGained, ShouldEqual, 2)
				So(up.BonusCoins, ShouldEqual, 0)
				So(l.XPToNextLevel(up.State), ShouldEqual, 121)
				So(l.XPRemaining(up.State), ShouldEqual, 81)
			})
		})

		Convey("When the grant lands exactly on the threshold", func() {
			up := l.ApplyXP(start, 100)

			Convey("Then the level advances with zero XP left", func() {
				So(up.State.Level, ShouldEqual, 2)
				So(up.State.TotalXP, ShouldEqual, 0)
			})
		})

		Convey("When the grant is zero or negative", func() {
			zero := l.ApplyXP(start, 0)
			neg := l.ApplyXP(start, -50)

			Convey("Then nothing changes", func() {
				So(zero.State, ShouldResemble, start)
				So(neg.State, ShouldResemble, start)
				So(neg.LevelsGained, ShouldEqual, 0)
			})
		})

		Convey("When the state has drifted below its floor", func() {
			up := l.ApplyXP(progression.State{Level: 0, TotalXP: -5}, 10)

			Convey("Then it is clamped before the grant", func() {
				So(up.State.Level, ShouldEqual, 1)
				So(up.State.TotalXP, ShouldEqual, 10)
			})
		})

		Convey("When a huge grant is applied", func() {
			up := l.ApplyXP(start, math.MaxInt64)

			Convey("Then the XP stays under the current threshold", func() {
				So(up.State.TotalXP, ShouldBeGreaterThanOrEqualTo, 0)
				So(up.State.TotalXP, ShouldBeLessThan, l.XPToNextLevel(up.State))
				So(up.LevelsGained, ShouldBeGreaterThan, 100)
			})
		})

		Convey("When grants are split into pieces", func() {
			pieces := []int64{17, 230, 5, 99, 400, 1}
			s := start
			var total int64
			for _, p := range pieces {
				s = l.ApplyXP(s, p).State
				total += p
			}
			once := l.ApplyXP(start, total).State

			Convey("Then the result equals a single grant of the sum", func() {
				So(s.Level, ShouldEqual, once.Level)
				So(s.TotalXP, ShouldEqual, once.TotalXP)
			})

			Convey("And no XP is lost across the thresholds", func() {
				So(l.LifetimeXP(s), ShouldEqual, total)
			})
		})
	})

	Convey("Given a ledger paying coins per level", t, func() {
		l, err := progression.NewLedger(progression.DefaultCurve(), progression.WithLevelUpCoins(10))
		So(err, ShouldBeNil)

		Convey("When two levels are crossed", func() {
			up := l.ApplyXP(progression.State{Level: 1, Coins: 5}, 250)

			Convey("Then the bonus is paid once per level", func() {
				So(up.BonusCoins, ShouldEqual, 20)
				So(up.State.Coins, ShouldEqual, 25)
			})
		})
	})
}
