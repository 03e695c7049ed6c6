package export_test

import (
	"bytes"
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/v2xmetrics/internal/adapters/export"
	"github.com/okian/v2xmetrics/internal/domain/correlation"
	"github.com/okian/v2xmetrics/internal/domain/model"
	"github.com/okian/v2xmetrics/internal/domain/report"
	"github.com/okian/v2xmetrics/pkg/logger"
)

func init() {
	_ = logger.Init()
	_ = logger.SetLevelString("error")
}

func sampleResult() report.Result {
	ctx := context.Background()
	e := correlation.NewEngine()
	for _, r := range []model.EventRecord{
		{TimestampUS: 100, Kind: model.KindTX, Src: "A", Dst: "B", PacketID: "1", App: "CAM", SizeBytes: 10},
		{TimestampUS: 300, Kind: model.KindRX, Src: "B", Dst: "A", PacketID: "1", App: "CAM", SizeBytes: 10, SINRDB: model.Some(10.0)},
		{TimestampUS: 1_500_000, Kind: model.KindTX, Src: "C", Dst: "D", PacketID: "2", App: "DENM", SizeBytes: 10},
	} {
		e.Process(ctx, r)
	}
	return e.Result()
}

func readCSV(path string) [][]string {
	data, err := os.ReadFile(path)
	if err != nil {
		panic(err)
	}
	rows, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	if err != nil {
		panic(err)
	}
	return rows
}

func TestTables(t *testing.T) {
	Convey("Given a result with two pairs", t, func() {
		tables := export.Tables(sampleResult())

		byName := make(map[string]export.Table)
		var order []string
		for _, tb := range tables {
			byName[tb.Name] = tb
			order = append(order, tb.Name)
		}

		Convey("Then every table should be present in a fixed order", func() {
			So(order, ShouldResemble, []string{
				export.TableOverall, export.TablePairs, export.TableApps,
				export.TableWindows, export.TableSummary, export.TableAnomalies,
			})
		})

		Convey("Then pair rows should be ordered and marked N/A for app", func() {
			pairs := byName[export.TablePairs]
			So(pairs.Header[:3], ShouldResemble, []string{"src", "dst", "app"})
			So(pairs.Rows[0][:3], ShouldResemble, []string{"A", "B", export.NotAvailable})
			So(pairs.Rows[1][:3], ShouldResemble, []string{"C", "D", export.NotAvailable})
		})

		Convey("Then missing SINR should be an empty cell", func() {
			pairs := byName[export.TablePairs]
			sinrCol := len(pairs.Header) - 2
			So(pairs.Header[sinrCol], ShouldEqual, "sinr_avg")
			So(pairs.Rows[0][sinrCol], ShouldEqual, "10")
			So(pairs.Rows[1][sinrCol], ShouldEqual, "")
		})

		Convey("Then the window table should lead with the window start", func() {
			windows := byName[export.TableWindows]
			So(windows.Rows[0][0], ShouldEqual, "0")
			So(windows.Rows[1][0], ShouldEqual, "1000000")
		})

		Convey("Then the summary should count distinct keys", func() {
			s := byName[export.TableSummary]
			So(s.Rows[0][0], ShouldEqual, "3")
			So(s.Rows[0][1], ShouldEqual, "1")
			So(s.Rows[0][8], ShouldEqual, "2")
		})
	})

	Convey("Given an empty result", t, func() {
		tables := export.Tables(correlation.NewEngine().Result())

		Convey("Then only overall, summary and anomalies are produced", func() {
			var names []string
			for _, tb := range tables {
				names = append(names, tb.Name)
			}
			So(names, ShouldResemble, []string{export.TableOverall, export.TableSummary, export.TableAnomalies})
		})
	})
}

func TestCSVExporter(t *testing.T) {
	ctx := context.Background()

	Convey("Given a CSV exporter writing to a temp dir", t, func() {
		dir := filepath.Join(t.TempDir(), "out")
		e := export.NewCSVExporter(dir, export.WithBaseName("trace"))

		files, err := e.Write(ctx, sampleResult())

		Convey("Then one file per table should be written", func() {
			So(err, ShouldBeNil)
			So(len(files), ShouldEqual, 6)
			So(files[export.TableOverall], ShouldEqual, filepath.Join(dir, "trace_overall.csv"))
		})

		Convey("Then the overall file should hold a header and one row", func() {
			rows := readCSV(files[export.TableOverall])
			So(len(rows), ShouldEqual, 2)
			So(rows[0][0], ShouldEqual, "tx_count")
			So(rows[1][0], ShouldEqual, "2")
			So(rows[1][1], ShouldEqual, "1")
			So(rows[1][2], ShouldEqual, "0.5")
		})
	})

	Convey("Given a compressing CSV exporter", t, func() {
		dir := t.TempDir()
		e := export.NewCSVExporter(dir, export.WithCompression(true))

		So(e.Export(ctx, export.Run{ID: "r1"}, sampleResult()), ShouldBeNil)

		Convey("Then files should be zstd streams of CSV", func() {
			f, err := os.Open(filepath.Join(dir, "metrics_summary.csv.zst"))
			So(err, ShouldBeNil)
			defer f.Close()
			zr, err := zstd.NewReader(f)
			So(err, ShouldBeNil)
			defer zr.Close()

			rows, err := csv.NewReader(zr).ReadAll()
			So(err, ShouldBeNil)
			So(rows[0][0], ShouldEqual, "total_processed")
		})
	})
}

func TestJSONExporter(t *testing.T) {
	Convey("Given a result", t, func() {
		res := sampleResult()

		Convey("When it is written twice", func() {
			var a, b bytes.Buffer
			So(export.WriteJSON(&a, res), ShouldBeNil)
			So(export.WriteJSON(&b, res), ShouldBeNil)

			Convey("Then the output should be identical", func() {
				So(a.String(), ShouldEqual, b.String())
				So(a.String(), ShouldContainSubstring, `"by_pair"`)
			})
		})

		Convey("When exported to a directory", func() {
			dir := t.TempDir()
			e := export.NewJSONExporter(dir, "run")
			So(e.Export(context.Background(), export.Run{ID: "x"}, res), ShouldBeNil)

			Convey("Then the file should exist", func() {
				_, err := os.Stat(filepath.Join(dir, "run.json"))
				So(err, ShouldBeNil)
				So(e.Path(), ShouldEqual, filepath.Join(dir, "run.json"))
			})
		})
	})
}
