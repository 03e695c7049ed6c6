package decode

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"

	"github.com/valyala/fastjson"

	"github.com/okian/v2xmetrics/internal/domain/model"
)

// NDJSONName is the decoder name used in logs and metrics.
const NDJSONName = "ndjson"

// ctxCheckEvery is how many lines are read between context checks.
const ctxCheckEvery = 1024

// NDJSONDecoder reads one JSON object per line. Blank lines are skipped.
type NDJSONDecoder struct {
	counters
	parsers fastjson.ParserPool
}

// NewNDJSONDecoder creates an NDJSON decoder with zeroed stats.
func NewNDJSONDecoder() *NDJSONDecoder {
	return &NDJSONDecoder{counters: counters{name: NDJSONName}}
}

func (d *NDJSONDecoder) Name() string { return NDJSONName }

func (d *NDJSONDecoder) Extensions() []string { return []string{".json", ".ndjson"} }

// Validate accepts an empty first line; otherwise the first line must be JSON.
func (d *NDJSONDecoder) Validate(path string) bool {
	if !checkFile(path, d.Extensions()) {
		return false
	}
	rc, err := Open(path)
	if err != nil {
		return false
	}
	defer rc.Close()

	line, err := bufio.NewReader(rc).ReadBytes('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false
	}
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return true
	}
	return fastjson.ValidateBytes(line) == nil
}

func (d *NDJSONDecoder) Decode(ctx context.Context, r io.Reader) iter.Seq2[model.EventRecord, error] {
	return func(yield func(model.EventRecord, error) bool) {
		br := bufio.NewReaderSize(r, 64*1024)
		for n := 1; ; n++ {
			if n%ctxCheckEvery == 0 {
				if err := ctx.Err(); err != nil {
					yield(model.EventRecord{}, err)
					return
				}
			}

			line, err := br.ReadBytes('\n')
			if len(line) > 0 {
				d.processed.Add(1)
				if trimmed := bytes.TrimSpace(line); len(trimmed) > 0 {
					rec, lerr := d.DecodeLine(trimmed)
					if lerr != nil {
						d.reject(lerr)
					} else {
						d.accept()
						if !yield(rec, nil) {
							return
						}
					}
				}
			}
			if err != nil {
				if !errors.Is(err, io.EOF) {
					yield(model.EventRecord{}, fmt.Errorf("%w: line %d: %w", ErrRead, n, err))
				}
				return
			}
		}
	}
}

// DecodeLine decodes a single JSON object without touching the stats.
func (d *NDJSONDecoder) DecodeLine(line []byte) (model.EventRecord, error) {
	p := d.parsers.Get()
	defer d.parsers.Put(p)

	v, err := p.ParseBytes(line)
	if err != nil {
		return model.EventRecord{}, fmt.Errorf("%w: %v", ErrMalformedLine, err)
	}
	obj, err := v.Object()
	if err != nil {
		return model.EventRecord{}, fmt.Errorf("%w: expected an object, got %s", ErrMalformedLine, v.Type())
	}

	b := newRecordBuilder()
	obj.Visit(func(key []byte, val *fastjson.Value) {
		b.set(string(key), jsonScalar(val))
	})
	return b.build()
}

func jsonScalar(v *fastjson.Value) scalar {
	switch v.Type() {
	case fastjson.TypeNull:
		return scalar{null: true}
	case fastjson.TypeString:
		return textValue(string(v.GetStringBytes()))
	case fastjson.TypeNumber:
		return numberValue(v.String())
	default:
		return scalar{other: v.Type().String()}
	}
}

// DecodeFile is a convenience for tests and tools: it opens path and
// collects every valid record.
func DecodeFile(ctx context.Context, d Decoder, path string) ([]model.EventRecord, error) {
	rc, err := Open(path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var out []model.EventRecord
	for rec, err := range d.Decode(ctx, rc) {
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
	return out, nil
}

var _ Decoder = (*NDJSONDecoder)(nil)
