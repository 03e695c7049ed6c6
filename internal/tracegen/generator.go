// Package tracegen builds synthetic V2X traces with known anomalies and
// replays them against a running service.
package tracegen

import (
	"cmp"
	"fmt"
	"math"
	"math/rand/v2"
	"slices"

	"github.com/google/uuid"

	"github.com/okian/v2xmetrics/internal/domain/model"
)

// Trace is a generated record stream sorted by timestamp.
type Trace struct {
	Records []model.EventRecord
	Expect  Expectation
}

type generator struct {
	cfg  Config
	rng  *rand.Rand
	src  *rand.ChaCha8
	recs []model.EventRecord
	exp  Expectation
}

// Generate builds a trace. The same Config always yields the same trace,
// packet ids included.
func Generate(cfg Config) Trace {
	def := DefaultConfig()
	if cfg.Packets < 0 {
		cfg.Packets = 0
	}
	if cfg.IntervalUS <= 0 {
		cfg.IntervalUS = def.IntervalUS
	}
	if cfg.MaxLatencyUS < cfg.MinLatencyUS || cfg.MinLatencyUS < 0 {
		cfg.MinLatencyUS, cfg.MaxLatencyUS = def.MinLatencyUS, def.MaxLatencyUS
	}
	if len(cfg.Routes) == 0 {
		cfg.Routes = DefaultRoutes
	}
	cfg.DeliveryRatio = math.Max(0, math.Min(1, cfg.DeliveryRatio))

	var seed [32]byte
	for i := range 8 {
		seed[i] = byte(cfg.Seed >> (8 * i))
	}
	src := rand.NewChaCha8(seed)
	g := &generator{cfg: cfg, src: src, rng: rand.New(src)}

	g.normal()
	if cfg.Anomalies {
		start := cfg.BaseTimeUS + int64(cfg.Packets)*cfg.IntervalUS + cfg.MaxLatencyUS + scenarioGapUS
		g.duplicates(start)
		g.orphans(start + scenarioGapUS)
		g.negative(start + 2*scenarioGapUS)
		g.highLatency(start + 3*scenarioGapUS)
		g.noSignal(start + 4*scenarioGapUS)
		g.appMismatch(start + 5*scenarioGapUS)
	}

	slices.SortStableFunc(g.recs, func(a, b model.EventRecord) int {
		return cmp.Compare(a.TimestampUS, b.TimestampUS)
	})
	g.exp.Records = len(g.recs)
	return Trace{Records: g.recs, Expect: g.exp}
}

func (g *generator) normal() {
	for i := range g.cfg.Packets {
		route := g.cfg.Routes[g.rng.IntN(len(g.cfg.Routes))]
		id := uuid.Must(uuid.NewRandomFromReader(g.src)).String()
		txTS := g.cfg.BaseTimeUS + int64(i)*g.cfg.IntervalUS

		g.tx(txTS, route, id, g.size(), model.Some(g.signal(-85, -65)), model.Some(g.signal(10, 25)))
		if g.rng.Float64() < g.cfg.DeliveryRatio {
			latency := g.cfg.MinLatencyUS + g.rng.Int64N(g.cfg.MaxLatencyUS-g.cfg.MinLatencyUS+1)
			g.rx(txTS+latency, route, id, g.size(), model.Some(g.signal(-90, -70)), model.Some(g.signal(8, 22)))
			g.exp.Matched++
		}
	}
}

// duplicates emits the same packet id several times; only the first copy counts.
func (g *generator) duplicates(start int64) {
	r := Route{Src: "car_12", Dst: "car_33", App: "BSM"}
	for i := range duplicateCopies {
		g.tx(start+int64(i)*scenarioStepUS, r, "duplicate_1", 250, model.Some(-75.0), model.Some(15.0))
	}
	g.exp.DuplicateTx += duplicateCopies - 1
}

func (g *generator) orphans(start int64) {
	// Received by car_12 from a vehicle that never transmitted.
	r := Route{Src: "car_12", Dst: "car_99", App: "BSM"}
	for i := range orphanCount {
		g.rx(start+int64(i)*scenarioStepUS, r, fmt.Sprintf("orphan_%d", i), 250, model.Some(-80.0), model.Some(12.0))
	}
	g.exp.RxWithoutTx += orphanCount
}

// negative places the reception before its transmission. Sorted by time the
// rx arrives first as an orphan and the tx then reconciles to a negative latency.
func (g *generator) negative(start int64) {
	r := Route{Src: "car_12", Dst: "car_33", App: "BSM"}
	for i := range negativeCount {
		id := fmt.Sprintf("negative_latency_%d", i)
		rxTS := start + int64(i)*scenarioStepUS
		g.tx(rxTS+negativeOffsetUS, r, id, 250, model.Some(-70.0), model.Some(18.0))
		g.rx(rxTS, r, id, 250, model.Some(-72.0), model.Some(16.0))
	}
	g.exp.RxWithoutTx += negativeCount
	g.exp.NegativeLatency += negativeCount
}

func (g *generator) highLatency(start int64) {
	r := Route{Src: "car_15", Dst: "car_28", App: "CAM"}
	for i := range highLatencyCnt {
		id := fmt.Sprintf("high_latency_%d", i)
		txTS := start + int64(i)*scenarioStepUS
		g.tx(txTS, r, id, 250, model.Some(-85.0), model.Some(8.0))
		g.rx(txTS+highLatencyUS, r, id, 250, model.Some(-88.0), model.Some(6.0))
	}
	g.exp.Matched += highLatencyCnt
}

func (g *generator) noSignal(start int64) {
	r := Route{Src: "car_45", Dst: "car_12", App: "DENM"}
	for i := range noSignalCount {
		g.tx(start+int64(i)*scenarioStepUS, r, fmt.Sprintf("no_signal_%d", i), 250, model.None[float64](), model.None[float64]())
	}
}

// appMismatch labels the reception with another application. Matching is by
// id and direction only, so these still pair up.
func (g *generator) appMismatch(start int64) {
	r := Route{Src: "car_12", Dst: "car_33", App: "BSM"}
	for i := range mismatchCount {
		id := fmt.Sprintf("app_mismatch_%d", i)
		txTS := start + int64(i)*scenarioStepUS
		g.tx(txTS, r, id, 250, model.Some(-75.0), model.Some(15.0))
		g.rx(txTS+mismatchDelayUS, Route{Src: r.Src, Dst: r.Dst, App: "CAM"}, id, 250, model.Some(-77.0), model.Some(13.0))
	}
	g.exp.Matched += mismatchCount
}

func (g *generator) tx(ts int64, r Route, id string, size int64, rssi, sinr model.Optional[float64]) {
	g.recs = append(g.recs, model.EventRecord{
		TimestampUS: ts, Kind: model.KindTX,
		Src: r.Src, Dst: r.Dst, PacketID: id, App: r.App, SizeBytes: size,
		RSSIDBm: rssi, SINRDB: sinr,
	})
	g.exp.Tx++
}

// rx records a reception on route r, reported from the receiver's side.
func (g *generator) rx(ts int64, r Route, id string, size int64, rssi, sinr model.Optional[float64]) {
	g.recs = append(g.recs, model.EventRecord{
		TimestampUS: ts, Kind: model.KindRX,
		Src: r.Dst, Dst: r.Src, PacketID: id, App: r.App, SizeBytes: size,
		RSSIDBm: rssi, SINRDB: sinr,
	})
	g.exp.Rx++
}

func (g *generator) size() int64 { return 200 + g.rng.Int64N(101) }

// signal draws a value in [lo, hi] rounded to one decimal.
func (g *generator) signal(lo, hi float64) float64 {
	return math.Round((lo+g.rng.Float64()*(hi-lo))*10) / 10
}
