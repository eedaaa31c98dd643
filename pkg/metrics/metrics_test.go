package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMetricsManagerCreation(t *testing.T) {
	Convey("Given metrics manager creation", t, func() {
		Convey("When creating with default options on a fresh registry", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(WithPrometheusRegistry(registry))

			Convey("Then it should register its collectors", func() {
				So(manager, ShouldNotBeNil)
				manager.rewardsApplied.Inc()
				families, err := registry.Gather()
				So(err, ShouldBeNil)
				So(len(families), ShouldBeGreaterThan, 0)
			})
		})

		Convey("When creating with custom options", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(
				WithNamespace("test_namespace"),
				WithSubsystem("test_subsystem"),
				WithMetricPrefix("test_prefix"),
				WithHistogramBuckets([]float64{0.1, 0.5, 1.0}),
				WithMetricsEnabled(true),
				WithRefreshInterval(10*time.Second),
				WithCustomLabels(map[string]string{"env": "test"}),
				WithPrometheusRegistry(registry),
			)

			Convey("Then names carry the namespace, subsystem and prefix", func() {
				So(manager.namespace, ShouldEqual, "test_namespace")
				So(manager.subsystem, ShouldEqual, "test_subsystem")
				So(manager.histogramBuckets, ShouldResemble, []float64{0.1, 0.5, 1.0})
				So(manager.refreshInterval, ShouldEqual, 10*time.Second)

				manager.rewardsApplied.Inc()
				families, err := registry.Gather()
				So(err, ShouldBeNil)
				found := false
				for _, f := range families {
					if f.GetName() == "test_namespace_test_subsystem_test_prefix_rewards_applied_total" {
						found = true
					}
				}
				So(found, ShouldBeTrue)
			})
		})

		Convey("When options receive empty values", func() {
			manager := NewManager(
				WithNamespace(""),
				WithSubsystem(""),
				WithHistogramBuckets(nil),
				WithRefreshInterval(0),
				WithPrometheusRegistry(prometheus.NewRegistry()),
			)

			Convey("Then the defaults are kept", func() {
				So(manager.namespace, ShouldEqual, "ascend")
				So(manager.subsystem, ShouldEqual, "progression")
				So(manager.histogramBuckets, ShouldResemble, prometheus.DefBuckets)
				So(manager.refreshInterval, ShouldEqual, defaultRefreshInterval)
			})
		})
	})
}

func TestMetricsRecording(t *testing.T) {
	Convey("Given the global metrics manager", t, func() {
		Convey("When recording reward flow metrics", func() {
			before := testutil.ToFloat64(globalManager.rewardsApplied)
			dupBefore := testutil.ToFloat64(globalManager.rewardsDuplicate)
			RecordRewardApplied()
			RecordRewardApplied()
			RecordRewardDuplicate()

			Convey("Then the counters advance", func() {
				So(testutil.ToFloat64(globalManager.rewardsApplied), ShouldEqual, before+2)
				So(testutil.ToFloat64(globalManager.rewardsDuplicate), ShouldEqual, dupBefore+1)
			})
		})

		Convey("When recording levels and coins", func() {
			levels := testutil.ToFloat64(globalManager.levelsGained)
			coins := testutil.ToFloat64(globalManager.coinsGranted)
			RecordLevelsGained(3)
			RecordLevelsGained(0)
			RecordLevelsGained(-2)
			RecordCoinsGranted(25)
			RecordCoinsGranted(-1)

			Convey("Then only positive amounts are added", func() {
				So(testutil.ToFloat64(globalManager.levelsGained), ShouldEqual, levels+3)
				So(testutil.ToFloat64(globalManager.coinsGranted), ShouldEqual, coins+25)
			})
		})

		Convey("When recording labelled metrics", func() {
			RecordTierPromotion("Nacom")
			RecordRewardError("conflict")

			Convey("Then the label values are tracked", func() {
				So(testutil.ToFloat64(globalManager.tierPromotions.WithLabelValues("Nacom")), ShouldBeGreaterThanOrEqualTo, 1)
				So(testutil.ToFloat64(globalManager.rewardErrors.WithLabelValues("conflict")), ShouldBeGreaterThanOrEqualTo, 1)
			})
		})

		Convey("When setting gauges", func() {
			UpdateTotalProgressions(42)
			UpdateQueueSize(7)
			UpdateWorkerCount(4)
			UpdateStoreRecordsTotal(42)
			UpdateStoreAppliedMarkers(9)

			Convey("Then they hold the latest value", func() {
				So(testutil.ToFloat64(globalManager.progressionsTotal), ShouldEqual, 42)
				So(testutil.ToFloat64(globalManager.queueSize), ShouldEqual, 7)
				So(testutil.ToFloat64(globalManager.workerCount), ShouldEqual, 4)
				So(testutil.ToFloat64(globalManager.storeRecordsTotal), ShouldEqual, 42)
				So(testutil.ToFloat64(globalManager.storeAppliedMarkers), ShouldEqual, 9)
			})
		})

		Convey("When recording the remaining metrics", func() {
			Convey("Then nothing panics", func() {
				So(func() {
					RecordVersionConflict()
					RecordRetriesExhausted()
					RecordApplyLatency(1.5)
					RecordScore(140)
					RecordTierCorrection()
					RecordStoreLatency("memory", "save", 0.2)
					UpdateStoreShardCount(16)
					UpdateStoreRecordsPerShard("shard_0", 3)
					UpdateQueueCapacity(100)
					UpdateQueueUtilization(0.5)
					RecordQueueEnqueue()
					RecordQueueDequeue()
					RecordQueueEnqueueError()
					RecordQueueProcessingLatency(3)
					UpdateWorkerActiveCount(1)
					UpdateWorkerIdleCount(3)
					RecordWorkerProcessingLatency(2)
					RecordWorkerError()
					RecordHTTPRequest("/submissions", "POST", "200")
					RecordHTTPRequestDuration("/submissions", "POST", "200", 4)
					RecordRateLimited("/submissions")
					RecordErrorByComponent("app", "conflict")
					RecordErrorByEndpoint("/submissions", "POST", "conflict")
					UpdateSystemMemoryUsage(1 << 20)
					UpdateSystemGoroutineCount(10)
					RecordSystemGCPauseTime(0.3)
				}, ShouldNotPanic)
			})
		})

		Convey("When reading the registry", func() {
			Convey("Then the custom registry is returned", func() {
				So(GetRegistry(), ShouldEqual, customRegistry)
			})
		})
	})
}
