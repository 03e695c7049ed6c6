package decode_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/v2xmetrics/internal/adapters/decode"
	"github.com/okian/v2xmetrics/internal/domain/model"
	"github.com/okian/v2xmetrics/pkg/metrics"
)

func collect(d decode.Decoder, input string) ([]model.EventRecord, error) {
	var out []model.EventRecord
	for rec, err := range d.Decode(context.Background(), strings.NewReader(input)) {
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func writeFile(dir, name, content string) string {
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		panic(err)
	}
	return path
}

const validLine = `{"ts_us":1000,"event":"tx","src":"A","dst":"B","pkt_id":"p1","app":"CAM","bytes":200}`

func TestNDJSONDecoder(t *testing.T) {
	Convey("Given an NDJSON decoder", t, func() {
		d := decode.NewNDJSONDecoder()

		Convey("When decoding a mix of good, blank and bad lines", func() {
			input := strings.Join([]string{
				validLine,
				"",
				`{"ts_us":"1500","event":"rx","src":"B","dst":"A","pkt_id":"p1","app":"CAM","bytes":200.0,"rssi_dbm":-70.5,"sinr_db":null}`,
				`not json`,
				`[1,2,3]`,
				`{"ts_us":1,"event":"ack","src":"A","dst":"B","pkt_id":"p","app":"CAM","bytes":1}`,
				`{"ts_us":1,"event":"tx","src":"A","dst":"B","pkt_id":"p","app":"CAM","bytes":1,"extra":true}`,
				`{"ts_us":1,"event":"tx","src":"A","dst":"B","pkt_id":"p","app":"CAM"}`,
				`{"ts_us":1,"event":"tx","src":"A","dst":"B","pkt_id":"p","app":"CAM","bytes":1,"rssi_dbm":5}`,
				`{"ts_us":-1,"event":"tx","src":"A","dst":"B","pkt_id":"p","app":"CAM","bytes":1}`,
				`{"ts_us":1,"event":"tx","src":"A","dst":"B","pkt_id":7,"app":"CAM","bytes":1}`,
				`{"ts_us":1.5,"event":"tx","src":"A","dst":"B","pkt_id":"p","app":"CAM","bytes":1}`,
			}, "\n")
			recs, err := collect(d, input)

			Convey("Then only valid records should be yielded", func() {
				So(err, ShouldBeNil)
				So(len(recs), ShouldEqual, 2)
				So(recs[0].Kind, ShouldEqual, model.KindTX)
				So(recs[0].SizeBytes, ShouldEqual, int64(200))
				So(recs[1].TimestampUS, ShouldEqual, int64(1500))
				So(recs[1].RSSIDBm.OrElse(0), ShouldEqual, -70.5)
				So(recs[1].SINRDB.Valid(), ShouldBeFalse)
			})

			Convey("Then stats should classify every line", func() {
				st := d.Stats()
				So(st.Processed, ShouldEqual, int64(12))
				So(st.Errors, ShouldEqual, int64(2))
				So(st.ValidationErrors, ShouldEqual, int64(7))
				So(st.Succeeded, ShouldEqual, int64(3))
			})
		})

		Convey("When the last line has no newline", func() {
			recs, err := collect(d, validLine+"\n"+validLine)

			Convey("Then it should still be decoded", func() {
				So(err, ShouldBeNil)
				So(len(recs), ShouldEqual, 2)
			})
		})

		Convey("When a single line is decoded directly", func() {
			_, err := d.DecodeLine([]byte(`{"ts_us":true}`))

			Convey("Then schema errors wrap ErrValidation and stats are untouched", func() {
				So(errors.Is(err, model.ErrValidation), ShouldBeTrue)
				So(err.Error(), ShouldContainSubstring, "ts_us must be an integer")
				So(d.Stats().Processed, ShouldEqual, int64(0))
			})
		})

		Convey("When the consumer stops early", func() {
			count := 0
			for range d.Decode(context.Background(), strings.NewReader(validLine+"\n"+validLine+"\n"+validLine)) {
				count++
				break
			}

			Convey("Then decoding should stop", func() {
				So(count, ShouldEqual, 1)
				So(d.Stats().Processed, ShouldEqual, int64(1))
			})
		})
	})
}

func TestCSVDecoder(t *testing.T) {
	Convey("Given a CSV decoder", t, func() {
		d := decode.NewCSVDecoder()

		Convey("When decoding rows with empty cells, blank rows and bad rows", func() {
			input := "ts_us,event,src,dst,pkt_id,app,bytes,rssi_dbm,sinr_db,drop_reason\n" +
				"1000,tx,A,B,p1,CAM,200,,,\n" +
				",,,,,,,,,\n" +
				" 1500 ,rx,B,A,p1,CAM,200,-80,12.5,\n" +
				"1,tx,A,B,p2,CAM,abc,,,\n" +
				"1,tx,A,B,p3,CAM,1,,,,extra\n"
			recs, err := collect(d, input)

			Convey("Then valid rows should be decoded with absent optionals", func() {
				So(err, ShouldBeNil)
				So(len(recs), ShouldEqual, 2)
				So(recs[0].RSSIDBm.Valid(), ShouldBeFalse)
				So(recs[0].DropReason.Valid(), ShouldBeFalse)
				So(recs[1].TimestampUS, ShouldEqual, int64(1500))
				So(recs[1].SINRDB.OrElse(0), ShouldEqual, 12.5)
			})

			Convey("Then stats should count the header-less rows", func() {
				st := d.Stats()
				So(st.Processed, ShouldEqual, int64(5))
				So(st.Errors, ShouldEqual, int64(1))
				So(st.ValidationErrors, ShouldEqual, int64(1))
				So(st.Succeeded, ShouldEqual, int64(3))
			})
		})

		Convey("When the delimiter is a semicolon", func() {
			d := decode.NewCSVDecoder(decode.WithDelimiter(';'))
			recs, err := collect(d, "ts_us;event;src;dst;pkt_id;app;bytes\n5;tx;A;B;p;DENM;10\n")

			Convey("Then rows should be split on it", func() {
				So(err, ShouldBeNil)
				So(len(recs), ShouldEqual, 1)
				So(recs[0].App, ShouldEqual, "DENM")
			})
		})

		Convey("When the header names an unknown column", func() {
			recs, err := collect(d, "ts_us,event,src,dst,pkt_id,app,bytes,speed\n1,tx,A,B,p,CAM,1,30\n")

			Convey("Then every row should fail validation", func() {
				So(err, ShouldBeNil)
				So(recs, ShouldBeEmpty)
				So(d.Stats().ValidationErrors, ShouldEqual, int64(1))
			})
		})
	})
}

func TestRegistry(t *testing.T) {
	Convey("Given a registry and a temp directory", t, func() {
		dir := t.TempDir()
		r := decode.NewRegistry()

		Convey("Then extensions should be listed sorted", func() {
			So(r.Extensions(), ShouldResemble, []string{".csv", ".json", ".ndjson"})
		})

		Convey("When the file is NDJSON", func() {
			d, err := r.ForPath(writeFile(dir, "trace.ndjson", validLine+"\n"))
			So(err, ShouldBeNil)
			So(d.Name(), ShouldEqual, decode.NDJSONName)
		})

		Convey("When the file is CSV", func() {
			d, err := r.ForPath(writeFile(dir, "trace.csv", "ts_us,event,src,dst,pkt_id,app,bytes\n1,tx,A,B,p,CAM,1\n"))
			So(err, ShouldBeNil)
			So(d.Name(), ShouldEqual, decode.CSVName)
		})

		Convey("When the CSV first row is invalid", func() {
			_, err := r.ForPath(writeFile(dir, "bad.csv", "ts_us,event\n1,ack\n"))
			So(errors.Is(err, decode.ErrUnsupportedFormat), ShouldBeTrue)
		})

		Convey("When the JSON first line is not JSON", func() {
			_, err := r.ForPath(writeFile(dir, "bad.json", "{oops\n"))
			So(errors.Is(err, decode.ErrUnsupportedFormat), ShouldBeTrue)
		})

		Convey("When the extension is unknown", func() {
			_, err := r.ForPath(writeFile(dir, "trace.txt", validLine))
			So(errors.Is(err, decode.ErrUnsupportedFormat), ShouldBeTrue)
			So(err.Error(), ShouldContainSubstring, ".csv, .json, .ndjson")
		})

		Convey("When the file does not exist", func() {
			_, err := r.ForPath(filepath.Join(dir, "missing.ndjson"))
			So(errors.Is(err, decode.ErrFileNotFound), ShouldBeTrue)
		})

		Convey("When the path is a directory", func() {
			_, err := r.ForPath(dir)
			So(errors.Is(err, decode.ErrFileNotFound), ShouldBeTrue)
		})

		Convey("When the file is gzip compressed", func() {
			path := filepath.Join(dir, "trace.ndjson.gz")
			f, err := os.Create(path)
			So(err, ShouldBeNil)
			zw := gzip.NewWriter(f)
			_, err = zw.Write([]byte(validLine + "\n" + validLine + "\n"))
			So(err, ShouldBeNil)
			So(zw.Close(), ShouldBeNil)
			So(f.Close(), ShouldBeNil)

			d, err := r.ForPath(path)
			So(err, ShouldBeNil)
			recs, err := decode.DecodeFile(context.Background(), d, path)

			Convey("Then it should be decompressed transparently", func() {
				So(err, ShouldBeNil)
				So(len(recs), ShouldEqual, 2)
			})
		})

		Convey("When the file is zstd compressed", func() {
			path := filepath.Join(dir, "trace.csv.zst")
			f, err := os.Create(path)
			So(err, ShouldBeNil)
			zw, err := zstd.NewWriter(f)
			So(err, ShouldBeNil)
			_, err = zw.Write([]byte("ts_us,event,src,dst,pkt_id,app,bytes\n1,tx,A,B,p,CAM,1\n"))
			So(err, ShouldBeNil)
			So(zw.Close(), ShouldBeNil)
			So(f.Close(), ShouldBeNil)

			d, err := r.ForPath(path)
			So(err, ShouldBeNil)
			So(d.Name(), ShouldEqual, decode.CSVName)
			recs, err := decode.DecodeFile(context.Background(), d, path)
			So(err, ShouldBeNil)
			So(len(recs), ShouldEqual, 1)
		})
	})
}

func TestExtension(t *testing.T) {
	Convey("Extension strips compression suffixes and lower-cases", t, func() {
		So(decode.Extension("a/b/Trace.NDJSON"), ShouldEqual, ".ndjson")
		So(decode.Extension("trace.csv.gz"), ShouldEqual, ".csv")
		So(decode.Extension("trace.json.zst"), ShouldEqual, ".json")
		So(decode.Extension("dir.v1/trace"), ShouldEqual, "")
	})
}

func TestDecodeMetrics(t *testing.T) {
	Convey("Given the decode counters", t, func() {
		before, _ := metrics.CounterValue("v2x_correlation_decode_accepted_total", decode.NDJSONName)

		_, err := collect(decode.NewNDJSONDecoder(), validLine+"\n"+validLine+"\n")
		So(err, ShouldBeNil)

		Convey("Then every accepted record should be counted", func() {
			after, err := metrics.CounterValue("v2x_correlation_decode_accepted_total", decode.NDJSONName)
			So(err, ShouldBeNil)
			So(after-before, ShouldEqual, 2.0)
		})
	})
}
