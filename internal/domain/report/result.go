// Package report turns aggregation buckets into the final metrics snapshot.
package report

import (
	"cmp"
	"encoding/json"
	"slices"

	"github.com/okian/v2xmetrics/internal/domain/aggregation"
	"github.com/okian/v2xmetrics/internal/domain/model"
)

// Labels used for the src/dst of the overall and per-app rows.
const (
	OverallLabel = "OVERALL"
	AppLabel     = "APP"
)

// Metrics is the finalized view of one bucket.
type Metrics struct {
	Src         string                  `json:"src"`
	Dst         string                  `json:"dst"`
	App         model.Optional[string]  `json:"app"`
	WindowStart model.Optional[int64]   `json:"window_start"`
	PDR         PDRMetrics              `json:"pdr_metrics"`
	Latency     LatencyStats            `json:"latency_stats"`
	SINRAvg     model.Optional[float64] `json:"sinr_avg"`
	SINRCount   int64                   `json:"sinr_count"`
}

func newMetrics(src, dst string, b *aggregation.Bucket) Metrics {
	m := Metrics{
		Src:       src,
		Dst:       dst,
		PDR:       NewPDRMetrics(b.TxCount, b.RxCount),
		Latency:   NewLatencyStats(b.Latencies),
		SINRCount: b.SINRCount,
	}
	if b.SINRCount > 0 {
		m.SINRAvg = model.Some(b.SINRSum / float64(b.SINRCount))
	}
	return m
}

// Result is an immutable snapshot of every metric family.
type Result struct {
	Overall      Metrics
	ByPair       map[aggregation.PairKey]Metrics
	ByApp        map[string]Metrics
	ByWindow     map[aggregation.WindowKey]Metrics
	Anomalies    map[string]int64
	ProcessedCnt int64
	SuccessCnt   int64
}

// Calculate finalizes the store into a Result. It only reads the store, so
// repeated calls without new input return equal results. Buckets that saw
// neither tx nor rx are left out of the keyed families.
func Calculate(store *aggregation.Store, anomalies map[string]int64, processed, success int64) Result {
	pairs, apps, windows := store.Sizes()
	res := Result{
		Overall:      newMetrics(OverallLabel, OverallLabel, store.Overall()),
		ByPair:       make(map[aggregation.PairKey]Metrics, pairs),
		ByApp:        make(map[string]Metrics, apps),
		ByWindow:     make(map[aggregation.WindowKey]Metrics, windows),
		Anomalies:    make(map[string]int64, len(anomalies)),
		ProcessedCnt: processed,
		SuccessCnt:   success,
	}

	store.RangePairs(func(k aggregation.PairKey, b *aggregation.Bucket) bool {
		if !b.Empty() {
			res.ByPair[k] = newMetrics(k.Src, k.Dst, b)
		}
		return true
	})
	store.RangeApps(func(app string, b *aggregation.Bucket) bool {
		if !b.Empty() {
			m := newMetrics(AppLabel, app, b)
			m.App = model.Some(app)
			res.ByApp[app] = m
		}
		return true
	})
	store.RangeWindows(func(k aggregation.WindowKey, b *aggregation.Bucket) bool {
		if !b.Empty() {
			m := newMetrics(k.Src, k.Dst, b)
			m.WindowStart = model.Some(k.Start)
			res.ByWindow[k] = m
		}
		return true
	})
	for name, n := range anomalies {
		res.Anomalies[name] = n
	}
	return res
}

// Pairs returns the per-pair metrics ordered by src, then dst.
func (r Result) Pairs() []Metrics {
	keys := make([]aggregation.PairKey, 0, len(r.ByPair))
	for k := range r.ByPair {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b aggregation.PairKey) int {
		return cmp.Or(cmp.Compare(a.Src, b.Src), cmp.Compare(a.Dst, b.Dst))
	})
	out := make([]Metrics, 0, len(keys))
	for _, k := range keys {
		out = append(out, r.ByPair[k])
	}
	return out
}

// Apps returns the per-application metrics ordered by application name.
func (r Result) Apps() []Metrics {
	keys := make([]string, 0, len(r.ByApp))
	for k := range r.ByApp {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	out := make([]Metrics, 0, len(keys))
	for _, k := range keys {
		out = append(out, r.ByApp[k])
	}
	return out
}

// Windows returns the per-window metrics ordered by window start, src, dst.
func (r Result) Windows() []Metrics {
	keys := make([]aggregation.WindowKey, 0, len(r.ByWindow))
	for k := range r.ByWindow {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b aggregation.WindowKey) int {
		return cmp.Or(cmp.Compare(a.Start, b.Start), cmp.Compare(a.Src, b.Src), cmp.Compare(a.Dst, b.Dst))
	})
	out := make([]Metrics, 0, len(keys))
	for _, k := range keys {
		out = append(out, r.ByWindow[k])
	}
	return out
}

// AnomalyCount is one named anomaly counter.
type AnomalyCount struct {
	Type  string `json:"anomaly_type"`
	Count int64  `json:"count"`
}

// AnomalyList returns the anomaly counters ordered by name.
func (r Result) AnomalyList() []AnomalyCount {
	out := make([]AnomalyCount, 0, len(r.Anomalies))
	for name, n := range r.Anomalies {
		out = append(out, AnomalyCount{Type: name, Count: n})
	}
	slices.SortFunc(out, func(a, b AnomalyCount) int { return cmp.Compare(a.Type, b.Type) })
	return out
}

// Summary is the headline view of a result.
type Summary struct {
	TotalProcessed      int64                   `json:"total_processed"`
	SuccessfullyMatched int64                   `json:"successfully_matched"`
	SuccessRate         float64                 `json:"success_rate"`
	OverallPDR          float64                 `json:"overall_pdr"`
	OverallTxCount      int64                   `json:"overall_tx_count"`
	OverallRxCount      int64                   `json:"overall_rx_count"`
	OverallLatencyMean  float64                 `json:"overall_latency_mean"`
	OverallSINRAvg      model.Optional[float64] `json:"overall_sinr_avg"`
	OverallSINRCount    int64                   `json:"overall_sinr_count"`
	UniquePairs         int                     `json:"unique_pairs"`
	UniqueApps          int                     `json:"unique_apps"`
	TimeWindows         int                     `json:"time_windows"`
}

// Summary condenses the result.
func (r Result) Summary() Summary {
	s := Summary{
		TotalProcessed:      r.ProcessedCnt,
		SuccessfullyMatched: r.SuccessCnt,
		OverallPDR:          r.Overall.PDR.PDR,
		OverallTxCount:      r.Overall.PDR.TxCount,
		OverallRxCount:      r.Overall.PDR.RxCount,
		OverallLatencyMean:  r.Overall.Latency.Mean,
		OverallSINRAvg:      r.Overall.SINRAvg,
		OverallSINRCount:    r.Overall.SINRCount,
		UniquePairs:         len(r.ByPair),
		UniqueApps:          len(r.ByApp),
		TimeWindows:         len(r.ByWindow),
	}
	if r.ProcessedCnt > 0 {
		s.SuccessRate = float64(r.SuccessCnt) / float64(r.ProcessedCnt)
	}
	return s
}

// Document is the serializable form of a Result with every family as an
// ordered list.
type Document struct {
	Overall      Metrics          `json:"overall"`
	ByPair       []Metrics        `json:"by_pair"`
	ByApp        []Metrics        `json:"by_app"`
	ByWindow     []Metrics        `json:"by_window"`
	Anomalies    map[string]int64 `json:"anomalies"`
	ProcessedCnt int64            `json:"processed_cnt"`
	SuccessCnt   int64            `json:"success_cnt"`
	Summary      Summary          `json:"summary"`
}

// Document converts the result into its ordered, serializable form.
func (r Result) Document() Document {
	return Document{
		Overall:      r.Overall,
		ByPair:       r.Pairs(),
		ByApp:        r.Apps(),
		ByWindow:     r.Windows(),
		Anomalies:    r.Anomalies,
		ProcessedCnt: r.ProcessedCnt,
		SuccessCnt:   r.SuccessCnt,
		Summary:      r.Summary(),
	}
}

// MarshalJSON encodes the result as its Document; output is byte-stable.
func (r Result) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Document())
}
