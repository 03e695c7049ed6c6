package metrics

import (
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMetricsManagerCreation(t *testing.T) {
	Convey("Given metrics manager creation", t, func() {
		Convey("When creating with default options on a private registry", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(WithPrometheusRegistry(registry))

			Convey("Then it should be created with the v2x namespace", func() {
				So(manager, ShouldNotBeNil)
				So(manager.namespace, ShouldEqual, "v2x")
				So(manager.subsystem, ShouldEqual, "correlation")
			})
		})

		Convey("When creating with custom options", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(
				WithNamespace("test"),
				WithSubsystem("engine"),
				WithHistogramBuckets([]float64{1, 5, 10}),
				WithLatencyBuckets([]float64{100, 1000}),
				WithConstLabels(map[string]string{"env": "test"}),
				WithPrometheusRegistry(registry),
			)
			manager.matches.Inc()

			Convey("Then metrics should be registered under the custom names", func() {
				families, err := registry.Gather()
				So(err, ShouldBeNil)
				found := false
				for _, mf := range families {
					if mf.GetName() == "test_engine_matches_total" {
						found = true
						So(mf.GetMetric()[0].GetLabel()[0].GetName(), ShouldEqual, "env")
					}
				}
				So(found, ShouldBeTrue)
			})
		})

		Convey("When passing empty values to options", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(
				WithNamespace(""),
				WithSubsystem(""),
				WithHistogramBuckets(nil),
				WithLatencyBuckets([]float64{}),
				WithConstLabels(nil),
				WithPrometheusRegistry(registry),
			)

			Convey("Then defaults should be kept", func() {
				So(manager.namespace, ShouldEqual, "v2x")
				So(manager.subsystem, ShouldEqual, "correlation")
				So(manager.histogramBuckets, ShouldResemble, prometheus.DefBuckets)
				So(len(manager.latencyBuckets), ShouldEqual, 15)
				So(manager.constLabels, ShouldNotBeNil)
			})
		})
	})
}

func TestMetricsRecording(t *testing.T) {
	Convey("Given the global metrics manager", t, func() {
		Convey("When recording engine metrics", func() {
			before, _ := CounterValue("v2x_correlation_anomalies_total", "duplicate_tx")
			RecordAnomaly("duplicate_tx")
			RecordAnomaly("duplicate_tx")
			RecordRecordProcessed("tx")
			RecordMatch(1500)
			UpdatePending(3, 2)

			Convey("Then counters and gauges should reflect the calls", func() {
				after, err := CounterValue("v2x_correlation_anomalies_total", "duplicate_tx")
				So(err, ShouldBeNil)
				So(after-before, ShouldEqual, 2.0)

				tx, err := CounterValue("v2x_correlation_pending_tx")
				So(err, ShouldBeNil)
				So(tx, ShouldEqual, 3.0)

				rx, err := CounterValue("v2x_correlation_pending_rx")
				So(err, ShouldBeNil)
				So(rx, ShouldEqual, 2.0)
			})
		})

		Convey("When recording decoder, queue and sink metrics", func() {
			So(func() {
				RecordDecodeAccepted("ndjson")
				RecordDecodeRejected("csv", "validation")
				UpdateQueueSize(4)
				UpdateQueueCapacity(16)
				UpdateQueueUtilization(0.25)
				RecordQueueEnqueue()
				RecordQueueDequeue()
				RecordQueueEnqueueError()
				RecordQueueProcessingLatency(2.5)
				RecordBatchDuplicate()
				RecordWorkerProcessingLatency(1.0)
				RecordWorkerError()
				RecordHTTPRequest("/events", "POST", "202")
				RecordHTTPRequestDuration("/events", "POST", "202", 3.0)
				RecordExport("csv", "ok")
				RecordNATSMessage("ok")
				RecordErrorByComponent("decode", "io")
			}, ShouldNotPanic)

			Convey("Then labelled counters should be readable", func() {
				v, err := CounterValue("v2x_correlation_decode_rejected_total", "csv", "validation")
				So(err, ShouldBeNil)
				So(v, ShouldBeGreaterThanOrEqualTo, 1.0)

				size, err := CounterValue("v2x_correlation_queue_size")
				So(err, ShouldBeNil)
				So(size, ShouldEqual, 4.0)
			})
		})

		Convey("When asking for an unknown metric", func() {
			_, err := CounterValue("v2x_correlation_nope_total")

			Convey("Then it should return ErrMetricNotFound", func() {
				So(errors.Is(err, ErrMetricNotFound), ShouldBeTrue)
			})
		})
	})
}

func TestMetricsConcurrency(t *testing.T) {
	Convey("Given metrics concurrency", t, func() {
		Convey("When recording metrics concurrently", func() {
			before, _ := CounterValue("v2x_correlation_records_processed_total", "rx")

			var wg sync.WaitGroup
			for i := 0; i < 10; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for j := 0; j < 100; j++ {
						RecordRecordProcessed("rx")
						UpdateQueueSize(j)
						RecordMatch(int64(j))
					}
				}()
			}
			wg.Wait()

			Convey("Then every increment should be counted", func() {
				after, err := CounterValue("v2x_correlation_records_processed_total", "rx")
				So(err, ShouldBeNil)
				So(after-before, ShouldEqual, 1000.0)
			})
		})
	})
}
