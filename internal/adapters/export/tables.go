// Package export writes finalized results as flat tables to CSV files, a
// JSON document or ClickHouse.
package export

import (
	"context"
	"strconv"
	"time"

	"github.com/okian/v2xmetrics/internal/domain/model"
	"github.com/okian/v2xmetrics/internal/domain/report"
)

// NotAvailable fills the app column of rows that are not per-application.
const NotAvailable = "N/A"

// Table names, also used as file name suffixes.
const (
	TableOverall   = "overall"
	TablePairs     = "pairs"
	TableApps      = "apps"
	TableWindows   = "windows"
	TableSummary   = "summary"
	TableAnomalies = "anomalies"
)

// Exporter persists a finalized result.
type Exporter interface {
	Name() string
	Export(ctx context.Context, run Run, res report.Result) error
}

// Run identifies one export of a result.
type Run struct {
	ID     string
	Source string
	At     time.Time
}

// Table is a header plus rows of already formatted cells.
type Table struct {
	Name   string
	Header []string
	Rows   [][]string
}

var metricColumns = []string{
	"tx_count", "rx_count", "pdr",
	"latency_mean", "latency_p50", "latency_p95", "latency_std", "latency_count",
	"sinr_avg", "sinr_count",
}

// Tables flattens a result. Overall and summary are always present; the
// keyed families and anomalies only when they have rows. Row order is
// deterministic.
func Tables(res report.Result) []Table {
	tables := []Table{{
		Name:   TableOverall,
		Header: metricColumns,
		Rows:   [][]string{metricCells(res.Overall)},
	}}

	if pairs := res.Pairs(); len(pairs) > 0 {
		t := Table{Name: TablePairs, Header: append([]string{"src", "dst", "app"}, metricColumns...)}
		for _, m := range pairs {
			t.Rows = append(t.Rows, append([]string{m.Src, m.Dst, m.App.OrElse(NotAvailable)}, metricCells(m)...))
		}
		tables = append(tables, t)
	}

	if apps := res.Apps(); len(apps) > 0 {
		t := Table{Name: TableApps, Header: append([]string{"app"}, metricColumns...)}
		for _, m := range apps {
			t.Rows = append(t.Rows, append([]string{m.Dst}, metricCells(m)...))
		}
		tables = append(tables, t)
	}

	if windows := res.Windows(); len(windows) > 0 {
		t := Table{Name: TableWindows, Header: append([]string{"window_start", "src", "dst", "app"}, metricColumns...)}
		for _, m := range windows {
			t.Rows = append(t.Rows, append([]string{
				formatInt(m.WindowStart.OrElse(0)), m.Src, m.Dst, m.App.OrElse(NotAvailable),
			}, metricCells(m)...))
		}
		tables = append(tables, t)
	}

	s := res.Summary()
	tables = append(tables, Table{
		Name: TableSummary,
		Header: []string{
			"total_processed", "successfully_matched", "success_rate",
			"overall_pdr", "overall_tx_count", "overall_rx_count",
			"overall_sinr_avg", "overall_sinr_count",
			"unique_src_dst_pairs", "unique_apps", "time_windows",
		},
		Rows: [][]string{{
			formatInt(s.TotalProcessed), formatInt(s.SuccessfullyMatched), formatFloat(s.SuccessRate),
			formatFloat(s.OverallPDR), formatInt(s.OverallTxCount), formatInt(s.OverallRxCount),
			formatOptional(s.OverallSINRAvg), formatInt(s.OverallSINRCount),
			strconv.Itoa(s.UniquePairs), strconv.Itoa(s.UniqueApps), strconv.Itoa(s.TimeWindows),
		}},
	})

	if list := res.AnomalyList(); len(list) > 0 {
		t := Table{Name: TableAnomalies, Header: []string{"anomaly_type", "count"}}
		for _, a := range list {
			t.Rows = append(t.Rows, []string{a.Type, formatInt(a.Count)})
		}
		tables = append(tables, t)
	}
	return tables
}

func metricCells(m report.Metrics) []string {
	return []string{
		formatInt(m.PDR.TxCount), formatInt(m.PDR.RxCount), formatFloat(m.PDR.PDR),
		formatFloat(m.Latency.Mean), formatFloat(m.Latency.P50), formatFloat(m.Latency.P95),
		formatFloat(m.Latency.Std), formatInt(m.Latency.Count),
		formatOptional(m.SINRAvg), formatInt(m.SINRCount),
	}
}

func formatInt(n int64) string { return strconv.FormatInt(n, 10) }

func formatFloat(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }

// formatOptional leaves absent values as an empty cell.
func formatOptional(o model.Optional[float64]) string {
	if v, ok := o.Get(); ok {
		return formatFloat(v)
	}
	return ""
}
