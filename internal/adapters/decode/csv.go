package decode

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"iter"
	"slices"
	"strings"

	"github.com/okian/v2xmetrics/internal/domain/model"
)

// CSVName is the decoder name used in logs and metrics.
const CSVName = "csv"

// CSVDecoder reads a header row followed by one record per row. Empty cells
// mean the field is absent; rows whose cells are all empty are skipped.
type CSVDecoder struct {
	counters
	delimiter rune
}

// CSVOption configures a CSVDecoder.
type CSVOption func(*CSVDecoder)

// WithDelimiter sets the field separator. Invalid separators are ignored.
func WithDelimiter(r rune) CSVOption {
	return func(d *CSVDecoder) {
		if r != 0 && r != '"' && r != '\r' && r != '\n' {
			d.delimiter = r
		}
	}
}

// NewCSVDecoder creates a comma-separated decoder unless configured otherwise.
func NewCSVDecoder(opts ...CSVOption) *CSVDecoder {
	d := &CSVDecoder{counters: counters{name: CSVName}, delimiter: ','}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *CSVDecoder) Name() string { return CSVName }

func (d *CSVDecoder) Extensions() []string { return []string{".csv"} }

// Validate reads up to the first non-blank row and requires it to be a valid record.
// A file with only a header is accepted.
func (d *CSVDecoder) Validate(path string) bool {
	if !checkFile(path, d.Extensions()) {
		return false
	}
	rc, err := Open(path)
	if err != nil {
		return false
	}
	defer rc.Close()

	cr := d.reader(rc)
	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return true
	}
	if err != nil {
		return false
	}
	header = slices.Clone(header)
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return true
		}
		if err != nil {
			return false
		}
		if blankRow(row) {
			continue
		}
		_, err = buildRow(header, row)
		return err == nil
	}
}

func (d *CSVDecoder) Decode(ctx context.Context, r io.Reader) iter.Seq2[model.EventRecord, error] {
	return func(yield func(model.EventRecord, error) bool) {
		cr := d.reader(r)
		header, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			d.errors.Add(1)
			yield(model.EventRecord{}, fmt.Errorf("%w: header: %w", ErrRead, err))
			return
		}
		// ReuseRecord recycles the slice on the next Read.
		header = slices.Clone(header)

		for n := 1; ; n++ {
			if n%ctxCheckEvery == 0 {
				if err := ctx.Err(); err != nil {
					yield(model.EventRecord{}, err)
					return
				}
			}

			row, err := cr.Read()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				var perr *csv.ParseError
				if !errors.As(err, &perr) {
					yield(model.EventRecord{}, fmt.Errorf("%w: row %d: %w", ErrRead, n+1, err))
					return
				}
				d.processed.Add(1)
				d.reject(fmt.Errorf("%w: %v", ErrMalformedLine, err))
				continue
			}

			d.processed.Add(1)
			if blankRow(row) {
				continue
			}
			rec, err := buildRow(header, row)
			if err != nil {
				d.reject(err)
				continue
			}
			d.accept()
			if !yield(rec, nil) {
				return
			}
		}
	}
}

func (d *CSVDecoder) reader(r io.Reader) *csv.Reader {
	cr := csv.NewReader(r)
	cr.Comma = d.delimiter
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true
	return cr
}

func blankRow(row []string) bool {
	for _, cell := range row {
		if cell != "" {
			return false
		}
	}
	return true
}

// buildRow maps cells onto header names. Cells beyond the header make the
// row malformed; missing trailing cells are absent fields.
func buildRow(header, row []string) (model.EventRecord, error) {
	if len(row) > len(header) {
		return model.EventRecord{}, fmt.Errorf("%w: %d cells for %d columns", ErrMalformedLine, len(row), len(header))
	}
	b := newRecordBuilder()
	for i, cell := range row {
		cell = strings.TrimSpace(cell)
		if cell == "" {
			continue
		}
		b.set(strings.TrimSpace(header[i]), textValue(cell))
	}
	return b.build()
}

var _ Decoder = (*CSVDecoder)(nil)
