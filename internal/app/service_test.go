package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	service "github.com/okian/ascend/internal/app"
	"github.com/okian/ascend/internal/adapters/mq/queue"
	"github.com/okian/ascend/internal/adapters/repository"
	"github.com/okian/ascend/internal/domain/progression"
	"github.com/okian/ascend/internal/domain/scoring"
	"github.com/okian/ascend/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	// Initialize logging for tests
	err := logger.Init()
	if err != nil {
		panic(err)
	}
}

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }

func easy(base int64) scoring.Metrics {
	return scoring.Metrics{BaseScore: base, Difficulty: scoring.DifficultyEasy}
}

func startService(opts ...service.Option) *service.Service {
	opts = append([]service.Option{
		service.WithWorkerCount(2),
		service.WithQueueSize(100),
		service.WithClock(clock),
	}, opts...)
	svc := service.New(opts...)
	So(svc.Start(context.Background()), ShouldBeNil)
	return svc
}

func TestService_New(t *testing.T) {
	Convey("Given a new service with default options", t, func() {
		svc := service.New()

		Convey("Then it should have sensible defaults", func() {
			So(svc, ShouldNotBeNil)
			stats := svc.GetStats()
			So(stats["started"], ShouldBeFalse)
			So(stats["maxAttempts"], ShouldEqual, service.DefaultMaxAttempts)
			So(stats["tiers"], ShouldEqual, 5)
		})
	})

	Convey("Given a new service with custom options", t, func() {
		svc := service.New(
			service.WithWorkerCount(8),
			service.WithQueueSize(50_000),
			service.WithMaxAttempts(7),
			service.WithRewardRates(2, 0.5),
		)

		Convey("Then it should be created successfully", func() {
			So(svc, ShouldNotBeNil)
			stats := svc.GetStats()
			So(stats["workerCount"], ShouldEqual, 8)
			So(stats["queueSize"], ShouldEqual, 50_000)
			So(stats["maxAttempts"], ShouldEqual, 7)
		})
	})
}

func TestService_Lifecycle(t *testing.T) {
	Convey("Given a service that was never started", t, func() {
		svc := service.New()

		Convey("Then operations report it unavailable", func() {
			_, err := svc.ApplyReward(context.Background(), "u", "s", easy(10))
			So(errors.Is(err, service.ErrUnavailable), ShouldBeTrue)
			So(errors.Is(err, service.ErrNotStarted), ShouldBeTrue)

			_, err = svc.Onboard(context.Background(), "u")
			So(errors.Is(err, service.ErrUnavailable), ShouldBeTrue)
		})

		Convey("And stopping it is a no-op", func() {
			So(func() { svc.Stop() }, ShouldNotPanic)
		})
	})

	Convey("Given a started service", t, func() {
		svc := startService()

		Convey("Then stats report it started", func() {
			stats := svc.GetStats()
			So(stats["started"], ShouldBeTrue)
			So(stats["queueLength"], ShouldEqual, 0)
			So(stats["queueCapacity"], ShouldEqual, 100)
			So(stats["queueClosed"], ShouldBeFalse)
			So(stats["totalProgressions"], ShouldEqual, 0)
		})

		Convey("When starting it twice", func() {
			So(svc.Start(context.Background()), ShouldBeNil)

			Convey("Then it stays started", func() {
				So(svc.GetStats()["started"], ShouldBeTrue)
			})
		})

		Convey("When stopping it", func() {
			svc.Stop()

			Convey("Then Done is closed and stats report stopped", func() {
				select {
				case <-svc.Done():
				default:
					So("done not closed", ShouldBeEmpty)
				}
				So(svc.GetStats()["started"], ShouldBeFalse)
				So(svc.GetStats()["queueClosed"], ShouldBeTrue)
			})

			Convey("And a second stop is harmless", func() {
				So(func() { svc.Stop() }, ShouldNotPanic)
			})
		})

		Reset(func() { svc.Stop() })
	})

	Convey("Given a service over a caller-owned store", t, func() {
		ctx := context.Background()
		store := repository.NewMemoryStore(ctx)
		defer store.Close()
		svc := startService(service.WithStore(store))
		_, err := svc.Onboard(ctx, "kim")
		So(err, ShouldBeNil)

		Convey("When the service stops", func() {
			svc.Stop()

			Convey("Then the store stays open for its owner", func() {
				st, err := store.Load(ctx, "kim")
				So(err, ShouldBeNil)
				So(st.UserID, ShouldEqual, "kim")
			})

			Convey("And a restarted service keeps using it", func() {
				So(svc.Start(ctx), ShouldBeNil)
				defer svc.Stop()
				snap, err := svc.Progression(ctx, "kim")
				So(err, ShouldBeNil)
				So(snap.State.Level, ShouldEqual, 1)
			})
		})

		Reset(func() { svc.Stop() })
	})
}

func TestService_Onboard(t *testing.T) {
	Convey("Given a started service", t, func() {
		svc := startService()
		defer svc.Stop()
		ctx := context.Background()

		Convey("When onboarding a new user", func() {
			st, err := svc.Onboard(ctx, "alice")

			Convey("Then the record starts at level one in the first tier", func() {
				So(err, ShouldBeNil)
				So(st.UserID, ShouldEqual, "alice")
				So(st.Level, ShouldEqual, 1)
				So(st.TotalXP, ShouldEqual, 0)
				So(st.TierIndex, ShouldEqual, 0)
				So(st.TierProgress, ShouldEqual, 20)
				So(st.Version, ShouldEqual, 1)
				So(st.UpdatedAt, ShouldEqual, fixedNow)
			})

			Convey("And onboarding again fails", func() {
				_, err := svc.Onboard(ctx, "alice")
				So(errors.Is(err, service.ErrAlreadyExists), ShouldBeTrue)
			})

			Convey("And the count includes the user", func() {
				So(svc.GetStats()["totalProgressions"], ShouldEqual, 1)
			})
		})

		Convey("When onboarding without an id", func() {
			_, err := svc.Onboard(ctx, "  ")

			Convey("Then the input is rejected", func() {
				So(errors.Is(err, service.ErrInvalidInput), ShouldBeTrue)
			})
		})
	})
}

func TestService_Progression(t *testing.T) {
	Convey("Given a user who earned 250 XP from level one", t, func() {
		svc := startService()
		defer svc.Stop()
		ctx := context.Background()

		_, err := svc.Onboard(ctx, "bob")
		So(err, ShouldBeNil)
		_, err = svc.ApplyReward(ctx, "bob", "s1", easy(250))
		So(err, ShouldBeNil)

		Convey("When reading the progression", func() {
			snap, err := svc.Progression(ctx, "bob")

			Convey("Then derived values follow the curve", func() {
				So(err, ShouldBeNil)
				So(snap.State.Level, ShouldEqual, 3)
				So(snap.State.TotalXP, ShouldEqual, 40)
				So(snap.XPToNextLevel, ShouldEqual, 121)
				So(snap.XPRemaining, ShouldEqual, 81)
				So(snap.TierName, ShouldEqual, "Ajaw")
				So(snap.NextTierName, ShouldEqual, "Nacom")
				So(snap.IsMaxTier, ShouldBeFalse)
			})
		})

		Convey("When reading an unknown user", func() {
			_, err := svc.Progression(ctx, "nobody")

			Convey("Then it is not found", func() {
				So(errors.Is(err, service.ErrNotFound), ShouldBeTrue)
			})
		})

		Convey("When listing tiers", func() {
			tiers := svc.Tiers()

			Convey("Then the default table is returned", func() {
				So(len(tiers), ShouldEqual, 5)
				So(tiers[0].Name, ShouldEqual, "Ajaw")
				So(tiers[4].Name, ShouldEqual, "K'uk'ulkan")
				So(svc.BandWidth(), ShouldEqual, progression.DefaultBandWidth)
			})
		})
	})
}

func TestService_Realign(t *testing.T) {
	Convey("Given a stored record whose tier drifted ahead of its level", t, func() {
		ctx := context.Background()
		store := repository.NewMemoryStore(ctx)
		drifted := progression.NewState("carol", fixedNow)
		drifted.Level = 2
		drifted.TierIndex = 3
		So(store.Create(ctx, drifted), ShouldBeNil)
		defer store.Close()

		svc := startService(service.WithStore(store))
		defer svc.Stop()

		Convey("When realigning", func() {
			st, change, err := svc.Realign(ctx, "carol")

			Convey("Then the tier is corrected without bonuses", func() {
				So(err, ShouldBeNil)
				So(change, ShouldNotBeNil)
				So(change.From, ShouldEqual, 3)
				So(change.To, ShouldEqual, 0)
				So(change.Corrected, ShouldBeTrue)
				So(st.TierIndex, ShouldEqual, 0)
				So(st.TierProgress, ShouldEqual, 40)
				So(st.Coins, ShouldEqual, 0)
				So(st.Version, ShouldEqual, 2)
			})

			Convey("And realigning again changes nothing", func() {
				st, change, err := svc.Realign(ctx, "carol")
				So(err, ShouldBeNil)
				So(change, ShouldBeNil)
				So(st.Version, ShouldEqual, 2)
			})

			Convey("And the correction is recorded once", func() {
				_, _, err := svc.Realign(ctx, "carol")
				So(err, ShouldBeNil)

				history, err := svc.TierHistory(ctx, "carol")
				So(err, ShouldBeNil)
				So(history, ShouldHaveLength, 1)
				So(history[0].From, ShouldEqual, 3)
				So(history[0].To, ShouldEqual, 0)
				So(history[0].Corrected, ShouldBeTrue)
				So(history[0].Level, ShouldEqual, 2)
				So(history[0].LifetimeXP, ShouldEqual, 100)
				So(history[0].SubmissionID, ShouldBeEmpty)
			})
		})

		Convey("When realigning an unknown user", func() {
			_, _, err := svc.Realign(ctx, "nobody")

			Convey("Then it is not found", func() {
				So(errors.Is(err, service.ErrNotFound), ShouldBeTrue)
			})
		})
	})
}

func TestService_Enqueue(t *testing.T) {
	Convey("Given a started service with an onboarded user", t, func() {
		svc := startService()
		defer svc.Stop()
		ctx := context.Background()
		_, err := svc.Onboard(ctx, "dave")
		So(err, ShouldBeNil)

		Convey("When a submission is queued", func() {
			err := svc.Enqueue(ctx, queue.Request{UserID: "dave", SubmissionID: "q1", Metrics: easy(50)})
			So(err, ShouldBeNil)

			Convey("Then a worker applies it", func() {
				deadline := time.Now().Add(2 * time.Second)
				var snap service.Snapshot
				for time.Now().Before(deadline) {
					snap, err = svc.Progression(ctx, "dave")
					if err == nil && snap.State.Version == 2 {
						break
					}
					time.Sleep(5 * time.Millisecond)
				}
				So(snap.State.Version, ShouldEqual, 2)
				So(snap.State.TotalXP, ShouldEqual, 50)

				Convey("And replaying it synchronously returns the same outcome", func() {
					o, err := svc.ApplyReward(ctx, "dave", "q1", easy(50))
					So(err, ShouldBeNil)
					So(o.XPGranted, ShouldEqual, 50)
					So(o.State.Version, ShouldEqual, 2)
				})
			})
		})

		Convey("When the request is invalid", func() {
			err := svc.Enqueue(ctx, queue.Request{UserID: "dave", Metrics: easy(50)})

			Convey("Then it is rejected before queueing", func() {
				So(errors.Is(err, service.ErrInvalidInput), ShouldBeTrue)
				So(svc.GetStats()["queueLength"], ShouldEqual, 0)
			})
		})

		Convey("When the service has stopped", func() {
			svc.Stop()
			err := svc.Enqueue(ctx, queue.Request{UserID: "dave", SubmissionID: "q2", Metrics: easy(50)})

			Convey("Then the request is refused", func() {
				So(errors.Is(err, service.ErrUnavailable), ShouldBeTrue)
			})
		})
	})
}
