package correlation_test

import (
	"context"
	"testing"

	"github.com/okian/v2xmetrics/internal/domain/aggregation"
	"github.com/okian/v2xmetrics/internal/domain/correlation"
	"github.com/okian/v2xmetrics/internal/domain/model"
	"github.com/okian/v2xmetrics/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	_ = logger.Init()
	_ = logger.SetLevelString("error")
}

func rec(kind model.Kind, ts int64, src, dst, pkt string) model.EventRecord {
	return model.EventRecord{
		TimestampUS: ts,
		Kind:        kind,
		Src:         src,
		Dst:         dst,
		PacketID:    pkt,
		App:         "CAM",
		SizeBytes:   200,
	}
}

func TestScenarios(t *testing.T) {
	ctx := context.Background()

	Convey("Scenario A: tx then rx in the right direction", t, func() {
		e := correlation.NewEngine()
		_, matchedTx := e.Process(ctx, rec(model.KindTX, 1000, "A", "B", "p1"))
		rx := rec(model.KindRX, 1500, "B", "A", "p1")
		rx.SINRDB = model.Some(15.0)
		pair, matched := e.Process(ctx, rx)

		Convey("Then the rx should produce a 500us match", func() {
			So(matchedTx, ShouldBeFalse)
			So(matched, ShouldBeTrue)
			So(pair.LatencyUS, ShouldEqual, int64(500))
			So(pair.Src, ShouldEqual, "A")
			So(pair.Dst, ShouldEqual, "B")
			So(pair.WindowStart, ShouldEqual, int64(0))
			So(pair.SINRDB.OrElse(0), ShouldEqual, 15.0)
		})

		Convey("Then the result should report full delivery", func() {
			res := e.Result()
			So(res.Overall.PDR.TxCount, ShouldEqual, int64(1))
			So(res.Overall.PDR.RxCount, ShouldEqual, int64(1))
			So(res.Overall.PDR.PDR, ShouldEqual, 1.0)
			So(res.Overall.Latency.Mean, ShouldEqual, 500.0)
			So(res.ProcessedCnt, ShouldEqual, int64(2))
			So(res.SuccessCnt, ShouldEqual, int64(1))
		})
	})

	Convey("Scenario B: orphan rx followed by its tx", t, func() {
		e := correlation.NewEngine()
		_, first := e.Process(ctx, rec(model.KindRX, 800, "B", "A", "p2"))
		pair, matched := e.Process(ctx, rec(model.KindTX, 500, "A", "B", "p2"))

		Convey("Then the orphan should be counted and later reconciled", func() {
			So(first, ShouldBeFalse)
			So(matched, ShouldBeTrue)
			So(pair.LatencyUS, ShouldEqual, int64(300))
			So(e.Anomalies().RxWithoutTx, ShouldEqual, int64(1))
		})

		Convey("Then both pending tables should be cleared for the id", func() {
			st := e.Stats()
			So(st.PendingTx, ShouldEqual, 0)
			So(st.PendingRx, ShouldEqual, 0)
		})
	})

	Convey("Scenario C: rx before tx with negative latency", t, func() {
		e := correlation.NewEngine()
		e.Process(ctx, rec(model.KindRX, 0, "B", "A", "p3"))
		_, matched := e.Process(ctx, rec(model.KindTX, 50, "A", "B", "p3"))

		Convey("Then no match and both anomalies should be counted", func() {
			So(matched, ShouldBeFalse)
			a := e.Anomalies()
			So(a.RxWithoutTx, ShouldEqual, int64(1))
			So(a.NegativeLatency, ShouldEqual, int64(1))
		})

		Convey("Then rx should not be aggregated but tx should", func() {
			res := e.Result()
			So(res.Overall.PDR.TxCount, ShouldEqual, int64(1))
			So(res.Overall.PDR.RxCount, ShouldEqual, int64(0))
			So(res.Overall.PDR.PDR, ShouldEqual, 0.0)
		})

		Convey("Then the orphan should be discarded while the tx stays pending", func() {
			st := e.Stats()
			So(st.PendingRx, ShouldEqual, 0)
			So(st.PendingTx, ShouldEqual, 1)
		})
	})

	Convey("Scenario D: the same tx twice", t, func() {
		e := correlation.NewEngine()
		e.Process(ctx, rec(model.KindTX, 100, "A", "B", "p4"))
		dup := rec(model.KindTX, 900, "X", "Y", "p4")
		_, matched := e.Process(ctx, dup)

		Convey("Then the duplicate should be counted and dropped", func() {
			So(matched, ShouldBeFalse)
			So(e.Anomalies().DuplicateTx, ShouldEqual, int64(1))
			res := e.Result()
			So(res.Overall.PDR.TxCount, ShouldEqual, int64(1))
			_, ok := res.ByPair[aggregation.PairKey{Src: "X", Dst: "Y"}]
			So(ok, ShouldBeFalse)
		})

		Convey("Then the first tx should still be the one matched", func() {
			pair, ok := e.Process(ctx, rec(model.KindRX, 300, "B", "A", "p4"))
			So(ok, ShouldBeTrue)
			So(pair.TxTimestampUS, ShouldEqual, int64(100))
		})
	})
}

func TestMatchRules(t *testing.T) {
	ctx := context.Background()

	Convey("Given an engine with a pending tx", t, func() {
		e := correlation.NewEngine(correlation.WithWindowSize(1000))
		e.Process(ctx, rec(model.KindTX, 2500, "A", "B", "p"))

		Convey("When an rx arrives with the same direction as the tx", func() {
			_, ok := e.Process(ctx, rec(model.KindRX, 2600, "A", "B", "p"))

			Convey("Then it is a direction mismatch", func() {
				So(ok, ShouldBeFalse)
				So(e.Anomalies().DirectionMismatch, ShouldEqual, int64(1))
				So(e.Result().Overall.PDR.RxCount, ShouldEqual, int64(0))
			})
		})

		Convey("When an rx arrives at the same instant", func() {
			pair, ok := e.Process(ctx, rec(model.KindRX, 2500, "B", "A", "p"))

			Convey("Then zero latency is a valid match", func() {
				So(ok, ShouldBeTrue)
				So(pair.LatencyUS, ShouldEqual, int64(0))
			})
		})

		Convey("When an rx arrives after the window boundary", func() {
			pair, ok := e.Process(ctx, rec(model.KindRX, 3200, "B", "A", "p"))

			Convey("Then the window comes from the tx timestamp", func() {
				So(ok, ShouldBeTrue)
				So(pair.WindowStart, ShouldEqual, int64(2000))
				_, found := e.Result().ByWindow[aggregation.WindowKey{Start: 3000, Src: "A", Dst: "B"}]
				So(found, ShouldBeFalse)
			})
		})

		Convey("When the same rx arrives twice", func() {
			e.Process(ctx, rec(model.KindRX, 2600, "B", "A", "p"))
			_, again := e.Process(ctx, rec(model.KindRX, 2700, "B", "A", "p"))

			Convey("Then it is matched and aggregated again", func() {
				So(again, ShouldBeTrue)
				res := e.Result()
				So(res.Overall.PDR.RxCount, ShouldEqual, int64(2))
				So(res.Overall.PDR.PDR, ShouldEqual, 2.0)
				So(res.SuccessCnt, ShouldEqual, int64(2))
				So(res.Anomalies[correlation.AnomalyDuplicateRx], ShouldEqual, int64(0))
			})
		})
	})

	Convey("Given several orphans for one id", t, func() {
		e := correlation.NewEngine()
		e.Process(ctx, rec(model.KindRX, 100, "C", "A", "q"))
		e.Process(ctx, rec(model.KindRX, 200, "B", "A", "q"))

		Convey("When the tx arrives", func() {
			_, ok := e.Process(ctx, rec(model.KindTX, 50, "A", "B", "q"))

			Convey("Then only the first orphan is tried and all orphans are dropped", func() {
				So(ok, ShouldBeFalse)
				So(e.Anomalies().DirectionMismatch, ShouldEqual, int64(1))
				So(e.Stats().PendingRx, ShouldEqual, 0)
				So(e.Result().SuccessCnt, ShouldEqual, int64(0))
			})
		})
	})

	Convey("Given a record with an unknown kind", t, func() {
		e := correlation.NewEngine()
		_, ok := e.Process(ctx, rec(model.Kind("ack"), 10, "A", "B", "z"))

		Convey("Then it is counted as processed and otherwise ignored", func() {
			So(ok, ShouldBeFalse)
			st := e.Stats()
			So(st.ProcessedCnt, ShouldEqual, int64(1))
			So(st.PendingTx, ShouldEqual, 0)
			So(st.PendingRx, ShouldEqual, 0)
			So(e.Result().Overall.PDR.TxCount, ShouldEqual, int64(0))
		})
	})
}

func TestProperties(t *testing.T) {
	ctx := context.Background()

	Convey("Given a mixed stream", t, func() {
		e := correlation.NewEngine(correlation.WithWindowSize(500))
		stream := []model.EventRecord{
			rec(model.KindTX, 0, "A", "B", "1"),
			rec(model.KindRX, 120, "B", "A", "1"),
			rec(model.KindRX, 130, "C", "A", "2"),
			rec(model.KindTX, 140, "A", "C", "2"),
			rec(model.KindTX, 600, "A", "B", "3"),
			rec(model.KindTX, 610, "A", "B", "3"),
			rec(model.KindRX, 650, "B", "A", "3"),
			rec(model.KindRX, 900, "A", "B", "3"),
			rec(model.KindTX, 1000, "B", "A", "4"),
			rec(model.KindRX, 1400, "A", "B", "4"),
			rec(model.KindRX, 1500, "D", "A", "5"),
		}

		var pairs []model.MatchedPair
		for _, r := range stream {
			if p, ok := e.Process(ctx, r); ok {
				pairs = append(pairs, p)
			}
		}
		res := e.Result()

		Convey("Then every emitted pair has non-negative latency", func() {
			for _, p := range pairs {
				So(p.LatencyUS, ShouldBeGreaterThanOrEqualTo, int64(0))
			}
		})

		Convey("Then processed count equals the number of records", func() {
			So(res.ProcessedCnt, ShouldEqual, int64(len(stream)))
		})

		Convey("Then success count equals overall rx count and emitted pairs", func() {
			So(res.SuccessCnt, ShouldEqual, res.Overall.PDR.RxCount)
			So(res.SuccessCnt, ShouldEqual, int64(len(pairs)))
		})

		Convey("Then anomalies reflect the stream", func() {
			So(res.Anomalies[correlation.AnomalyDuplicateTx], ShouldEqual, int64(1))
			So(res.Anomalies[correlation.AnomalyRxWithoutTx], ShouldEqual, int64(2))
			So(res.Anomalies[correlation.AnomalyNegativeLatency], ShouldEqual, int64(1))
			So(res.Anomalies[correlation.AnomalyDirectionMismatch], ShouldEqual, int64(1))
		})

		Convey("Then finalization is repeatable", func() {
			So(e.Result(), ShouldResemble, res)
		})

		Convey("Then stats expose the match ratio", func() {
			st := e.Stats()
			So(st.MatchRatio, ShouldAlmostEqual, float64(len(pairs))/float64(len(stream)), 1e-12)
		})
	})
}
