package aggregation_test

import (
	"testing"

	"github.com/okian/v2xmetrics/internal/domain/aggregation"
	"github.com/okian/v2xmetrics/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func tx(ts int64, src, dst, app string) model.EventRecord {
	return model.EventRecord{TimestampUS: ts, Kind: model.KindTX, Src: src, Dst: dst, PacketID: "p", App: app}
}

func TestWindowStart(t *testing.T) {
	Convey("Given a store with the default window", t, func() {
		s := aggregation.NewStore(0)

		Convey("Then timestamps should floor to the window start", func() {
			So(s.WindowSize(), ShouldEqual, aggregation.DefaultWindowSize)
			So(s.WindowStart(0), ShouldEqual, int64(0))
			So(s.WindowStart(999_999), ShouldEqual, int64(0))
			So(s.WindowStart(1_000_000), ShouldEqual, int64(1_000_000))
			So(s.WindowStart(2_500_000), ShouldEqual, int64(2_000_000))
		})

		Convey("Then negative timestamps should floor downwards", func() {
			So(s.WindowStart(-1), ShouldEqual, int64(-1_000_000))
			So(s.WindowStart(-1_000_000), ShouldEqual, int64(-1_000_000))
		})
	})
}

func TestRecordTx(t *testing.T) {
	Convey("Given an empty store", t, func() {
		s := aggregation.NewStore(1000)

		Convey("When a transmission is recorded", func() {
			s.RecordTx(tx(1500, "A", "B", "CAM"))

			Convey("Then all four families should count it", func() {
				So(s.Overall().TxCount, ShouldEqual, int64(1))

				pair, ok := s.Pair(aggregation.PairKey{Src: "A", Dst: "B"})
				So(ok, ShouldBeTrue)
				So(pair.TxCount, ShouldEqual, int64(1))

				app, ok := s.App("CAM")
				So(ok, ShouldBeTrue)
				So(app.TxCount, ShouldEqual, int64(1))

				win, ok := s.Window(aggregation.WindowKey{Start: 1000, Src: "A", Dst: "B"})
				So(ok, ShouldBeTrue)
				So(win.TxCount, ShouldEqual, int64(1))
				So(win.RxCount, ShouldEqual, int64(0))
			})

			Convey("Then lookups of unknown keys should not create buckets", func() {
				_, ok := s.Pair(aggregation.PairKey{Src: "B", Dst: "A"})
				So(ok, ShouldBeFalse)
				_, ok = s.App("DENM")
				So(ok, ShouldBeFalse)

				pairs, apps, windows := s.Sizes()
				So(pairs, ShouldEqual, 1)
				So(apps, ShouldEqual, 1)
				So(windows, ShouldEqual, 1)
			})
		})
	})
}

func TestRecordMatched(t *testing.T) {
	Convey("Given a store with one transmission", t, func() {
		s := aggregation.NewStore(1000)
		s.RecordTx(tx(1500, "A", "B", "CAM"))

		Convey("When two matches are recorded, one without SINR", func() {
			s.RecordMatched(model.MatchedPair{
				PacketID: "p", Src: "A", Dst: "B", App: "CAM",
				TxTimestampUS: 1500, RxTimestampUS: 1600, LatencyUS: 100, WindowStart: 1000,
				SINRDB: model.Some(12.0),
			})
			s.RecordMatched(model.MatchedPair{
				PacketID: "p", Src: "A", Dst: "B", App: "CAM",
				TxTimestampUS: 1500, RxTimestampUS: 1800, LatencyUS: 300, WindowStart: 1000,
			})

			Convey("Then rx, latencies and SINR should land in the transmission's buckets", func() {
				for _, b := range []*aggregation.Bucket{
					s.Overall(),
					mustPair(s, "A", "B"),
					mustApp(s, "CAM"),
					mustWindow(s, 1000, "A", "B"),
				} {
					So(b.RxCount, ShouldEqual, int64(2))
					So(b.Latencies, ShouldResemble, []int64{100, 300})
					So(b.SINRSum, ShouldEqual, 12.0)
					So(b.SINRCount, ShouldEqual, int64(1))
				}
			})

			Convey("Then iteration should visit every bucket once", func() {
				seen := 0
				s.RangePairs(func(aggregation.PairKey, *aggregation.Bucket) bool { seen++; return true })
				s.RangeApps(func(string, *aggregation.Bucket) bool { seen++; return true })
				s.RangeWindows(func(aggregation.WindowKey, *aggregation.Bucket) bool { seen++; return true })
				So(seen, ShouldEqual, 3)
			})
		})
	})
}

func TestBucketEmpty(t *testing.T) {
	Convey("Given buckets", t, func() {
		So((&aggregation.Bucket{}).Empty(), ShouldBeTrue)
		So((&aggregation.Bucket{TxCount: 1}).Empty(), ShouldBeFalse)
		So((&aggregation.Bucket{RxCount: 1}).Empty(), ShouldBeFalse)
	})
}

func mustPair(s *aggregation.Store, src, dst string) *aggregation.Bucket {
	b, ok := s.Pair(aggregation.PairKey{Src: src, Dst: dst})
	if !ok {
		panic("missing pair bucket")
	}
	return b
}

func mustApp(s *aggregation.Store, app string) *aggregation.Bucket {
	b, ok := s.App(app)
	if !ok {
		panic("missing app bucket")
	}
	return b
}

func mustWindow(s *aggregation.Store, start int64, src, dst string) *aggregation.Bucket {
	b, ok := s.Window(aggregation.WindowKey{Start: start, Src: src, Dst: dst})
	if !ok {
		panic("missing window bucket")
	}
	return b
}
