package model_test

import (
	"encoding/json"
	"errors"
	"testing"

	model "github.com/okian/v2xmetrics/internal/domain/model"
	"github.com/smartystreets/goconvey/convey"
)

func validRecord() model.EventRecord {
	return model.EventRecord{
		TimestampUS: 1000,
		Kind:        model.KindTX,
		Src:         "A",
		Dst:         "B",
		PacketID:    "p1",
		App:         "CAM",
		SizeBytes:   300,
		RSSIDBm:     model.Some(-70.5),
	}
}

func TestKind(t *testing.T) {
	convey.Convey("Given event kinds", t, func() {
		convey.Convey("When parsing known values", func() {
			tx, errTX := model.ParseKind("tx")
			rx, errRX := model.ParseKind("rx")

			convey.Convey("Then both should be accepted", func() {
				convey.So(errTX, convey.ShouldBeNil)
				convey.So(errRX, convey.ShouldBeNil)
				convey.So(tx, convey.ShouldEqual, model.KindTX)
				convey.So(rx, convey.ShouldEqual, model.KindRX)
				convey.So(tx.Valid(), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When parsing an unknown or differently cased value", func() {
			_, errUpper := model.ParseKind("TX")
			_, errOther := model.ParseKind("ack")

			convey.Convey("Then both should be rejected as validation errors", func() {
				convey.So(errors.Is(errUpper, model.ErrValidation), convey.ShouldBeTrue)
				convey.So(errors.Is(errOther, model.ErrValidation), convey.ShouldBeTrue)
				convey.So(model.Kind("ack").Valid(), convey.ShouldBeFalse)
			})
		})
	})
}

func TestOptional(t *testing.T) {
	convey.Convey("Given optional values", t, func() {
		convey.Convey("When a value is present", func() {
			o := model.Some(12.5)
			v, ok := o.Get()

			convey.Convey("Then it should be returned", func() {
				convey.So(ok, convey.ShouldBeTrue)
				convey.So(v, convey.ShouldEqual, 12.5)
				convey.So(o.OrElse(0), convey.ShouldEqual, 12.5)
			})
		})

		convey.Convey("When a present value is zero", func() {
			o := model.Some(0.0)

			convey.Convey("Then it should still be present", func() {
				convey.So(o.Valid(), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When the value is absent", func() {
			var zero model.Optional[float64]
			none := model.None[string]()

			convey.Convey("Then the zero value and None should both be absent", func() {
				convey.So(zero.Valid(), convey.ShouldBeFalse)
				convey.So(none.Valid(), convey.ShouldBeFalse)
				convey.So(none.OrElse("n/a"), convey.ShouldEqual, "n/a")
			})
		})

		convey.Convey("When decoded from JSON", func() {
			var present, absent model.Optional[float64]
			convey.So(json.Unmarshal([]byte("-71.5"), &present), convey.ShouldBeNil)
			convey.So(json.Unmarshal([]byte("null"), &absent), convey.ShouldBeNil)

			convey.Convey("Then null should be absent and numbers present", func() {
				convey.So(present.OrElse(0), convey.ShouldEqual, -71.5)
				convey.So(absent.Valid(), convey.ShouldBeFalse)
			})
		})
	})
}

func TestEventRecordValidate(t *testing.T) {
	convey.Convey("Given an event record", t, func() {
		convey.Convey("When all fields are valid", func() {
			convey.So(validRecord().Validate(), convey.ShouldBeNil)
		})

		convey.Convey("When rssi sits on the range bounds", func() {
			low, high := validRecord(), validRecord()
			low.RSSIDBm = model.Some(-120.0)
			high.RSSIDBm = model.Some(0.0)

			convey.Convey("Then both bounds should be accepted", func() {
				convey.So(low.Validate(), convey.ShouldBeNil)
				convey.So(high.Validate(), convey.ShouldBeNil)
			})
		})

		convey.Convey("When fields violate constraints", func() {
			cases := []struct {
				name   string
				mutate func(*model.EventRecord)
				want   string
			}{
				{"negative timestamp", func(r *model.EventRecord) { r.TimestampUS = -1 }, "ts_us"},
				{"unknown kind", func(r *model.EventRecord) { r.Kind = "ack" }, "event"},
				{"empty src", func(r *model.EventRecord) { r.Src = "" }, "src"},
				{"empty packet id", func(r *model.EventRecord) { r.PacketID = "" }, "pkt_id"},
				{"rssi above zero", func(r *model.EventRecord) { r.RSSIDBm = model.Some(1.0) }, "rssi_dbm"},
				{"rssi below floor", func(r *model.EventRecord) { r.RSSIDBm = model.Some(-120.5) }, "rssi_dbm"},
			}

			for _, tc := range cases {
				r := validRecord()
				tc.mutate(&r)

				convey.Convey("Then "+tc.name+" should fail", func() {
					err := r.Validate()
					convey.So(errors.Is(err, model.ErrValidation), convey.ShouldBeTrue)
					convey.So(err.Error(), convey.ShouldContainSubstring, tc.want)
				})
			}
		})
	})
}

func TestEventRecordJSON(t *testing.T) {
	convey.Convey("Given a record with absent optionals", t, func() {
		r := validRecord()
		r.Kind = model.KindRX

		data, err := json.Marshal(r)

		convey.Convey("Then it should use wire names and null for absent values", func() {
			convey.So(err, convey.ShouldBeNil)

			var got map[string]any
			convey.So(json.Unmarshal(data, &got), convey.ShouldBeNil)
			convey.So(got["ts_us"], convey.ShouldEqual, 1000.0)
			convey.So(got["event"], convey.ShouldEqual, "rx")
			convey.So(got["pkt_id"], convey.ShouldEqual, "p1")
			convey.So(got["bytes"], convey.ShouldEqual, 300.0)
			convey.So(got["rssi_dbm"], convey.ShouldEqual, -70.5)
			convey.So(got["sinr_db"], convey.ShouldBeNil)
			convey.So(got["drop_reason"], convey.ShouldBeNil)
			convey.So(got, convey.ShouldContainKey, "sinr_db")
		})
	})
}
