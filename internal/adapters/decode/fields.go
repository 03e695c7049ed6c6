package decode

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/okian/v2xmetrics/internal/domain/model"
)

// Wire field names of a record.
const (
	fieldTimestamp  = "ts_us"
	fieldEvent      = "event"
	fieldSrc        = "src"
	fieldDst        = "dst"
	fieldPacketID   = "pkt_id"
	fieldApp        = "app"
	fieldBytes      = "bytes"
	fieldRSSI       = "rssi_dbm"
	fieldSINR       = "sinr_db"
	fieldDropReason = "drop_reason"
)

// Fields lists the wire field names in their canonical column order.
var Fields = []string{
	fieldTimestamp, fieldEvent, fieldSrc, fieldDst, fieldPacketID,
	fieldApp, fieldBytes, fieldRSSI, fieldSINR, fieldDropReason,
}

var requiredFields = []string{
	fieldTimestamp, fieldEvent, fieldSrc, fieldDst, fieldPacketID, fieldApp, fieldBytes,
}

// scalar is a source-neutral field value. Exactly one of null, text or
// number describes it; other carries the JSON type name of anything else.
type scalar struct {
	null   bool
	isText bool
	text   string
	number string
	other  string
}

func textValue(s string) scalar   { return scalar{isText: true, text: s} }
func numberValue(s string) scalar { return scalar{number: s} }

func (s scalar) describe() string {
	switch {
	case s.null:
		return "null"
	case s.isText:
		return "string"
	case s.number != "":
		return "number"
	default:
		return s.other
	}
}

// numeric returns the textual number of s when it is a number or a string.
func (s scalar) numeric() (string, bool) {
	switch {
	case s.number != "":
		return s.number, true
	case s.isText:
		return strings.TrimSpace(s.text), true
	default:
		return "", false
	}
}

func (s scalar) asInt(name string) (int64, error) {
	raw, ok := s.numeric()
	if !ok {
		return 0, fmt.Errorf("%s must be an integer, got %s", name, s.describe())
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || f != math.Trunc(f) || math.IsInf(f, 0) || math.Abs(f) > math.MaxInt64 {
		return 0, fmt.Errorf("%s must be an integer, got %q", name, raw)
	}
	return int64(f), nil
}

func (s scalar) asFloat(name string) (float64, error) {
	raw, ok := s.numeric()
	if !ok {
		return 0, fmt.Errorf("%s must be a number, got %s", name, s.describe())
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%s must be a finite number, got %q", name, raw)
	}
	return f, nil
}

func (s scalar) asString(name string) (string, error) {
	if !s.isText {
		return "", fmt.Errorf("%s must be a string, got %s", name, s.describe())
	}
	return s.text, nil
}

// recordBuilder assembles a record field by field and checks the schema
// once every field has been offered.
type recordBuilder struct {
	rec     model.EventRecord
	present map[string]bool
	errs    []string
}

func newRecordBuilder() *recordBuilder {
	return &recordBuilder{present: make(map[string]bool, len(Fields))}
}

// set applies one field. Null values leave the field absent.
func (b *recordBuilder) set(name string, v scalar) {
	if v.null {
		return
	}
	var err error
	switch name {
	case fieldTimestamp:
		b.rec.TimestampUS, err = v.asInt(name)
	case fieldEvent:
		// Checked against the known kinds by Validate.
		var s string
		if s, err = v.asString(name); err == nil {
			b.rec.Kind = model.Kind(s)
		}
	case fieldSrc:
		b.rec.Src, err = v.asString(name)
	case fieldDst:
		b.rec.Dst, err = v.asString(name)
	case fieldPacketID:
		b.rec.PacketID, err = v.asString(name)
	case fieldApp:
		b.rec.App, err = v.asString(name)
	case fieldBytes:
		b.rec.SizeBytes, err = v.asInt(name)
	case fieldRSSI:
		var f float64
		if f, err = v.asFloat(name); err == nil {
			b.rec.RSSIDBm = model.Some(f)
		}
	case fieldSINR:
		var f float64
		if f, err = v.asFloat(name); err == nil {
			b.rec.SINRDB = model.Some(f)
		}
	case fieldDropReason:
		var s string
		if s, err = v.asString(name); err == nil {
			b.rec.DropReason = model.Some(s)
		}
	default:
		b.errs = append(b.errs, fmt.Sprintf("unknown field %q", name))
		return
	}
	if err != nil {
		b.errs = append(b.errs, err.Error())
		return
	}
	b.present[name] = true
}

func (b *recordBuilder) build() (model.EventRecord, error) {
	for _, name := range requiredFields {
		if !b.present[name] {
			b.errs = append(b.errs, name+" is required")
		}
	}
	if len(b.errs) > 0 {
		return model.EventRecord{}, fmt.Errorf("%w: %s", model.ErrValidation, strings.Join(b.errs, "; "))
	}
	if err := b.rec.Validate(); err != nil {
		return model.EventRecord{}, err
	}
	return b.rec, nil
}
