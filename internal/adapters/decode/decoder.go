// Package decode turns NDJSON and CSV trace files into validated event
// records. Lines that cannot be read or violate the record schema are
// counted and skipped; only I/O failures stop a stream.
package decode

import (
	"context"
	"errors"
	"io"
	"iter"
	"os"
	"slices"
	"strings"
	"sync/atomic"

	"github.com/okian/v2xmetrics/internal/domain/model"
	"github.com/okian/v2xmetrics/pkg/metrics"
)

// Decoder reads one input format.
type Decoder interface {
	// Name identifies the decoder in logs and metrics.
	Name() string

	// Extensions lists the lower-case file extensions the decoder handles.
	Extensions() []string

	// Validate reports whether the file at path looks decodable: it must
	// exist, carry a supported extension and have a readable first record.
	Validate(path string) bool

	// Decode streams records from r. The sequence yields a non-nil error
	// only for a fatal read failure, after which it stops.
	Decode(ctx context.Context, r io.Reader) iter.Seq2[model.EventRecord, error]

	// Stats returns the counters accumulated over every Decode call.
	Stats() Stats
}

// Stats summarizes a decoding run.
type Stats struct {
	Processed        int64 `json:"processed_cnt"`
	Errors           int64 `json:"error_cnt"`
	ValidationErrors int64 `json:"validation_error_cnt"`
	Succeeded        int64 `json:"success_cnt"`
}

// counters is embedded by decoders. Blank lines count as processed and
// as succeeded, since they are neither errors nor validation errors.
type counters struct {
	name             string
	processed        atomic.Int64
	errors           atomic.Int64
	validationErrors atomic.Int64
}

func (c *counters) Stats() Stats {
	s := Stats{
		Processed:        c.processed.Load(),
		Errors:           c.errors.Load(),
		ValidationErrors: c.validationErrors.Load(),
	}
	s.Succeeded = s.Processed - s.Errors - s.ValidationErrors
	return s
}

// reject classifies a per-record error.
func (c *counters) reject(err error) {
	if errors.Is(err, model.ErrValidation) {
		c.validationErrors.Add(1)
		metrics.RecordDecodeRejected(c.name, "validation")
		return
	}
	c.errors.Add(1)
	metrics.RecordDecodeRejected(c.name, "malformed")
}

func (c *counters) accept() {
	metrics.RecordDecodeAccepted(c.name)
}

// checkFile is the common part of Validate: the path must be a regular file
// whose extension, after any compression suffix, is one of exts.
func checkFile(path string, exts []string) bool {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return false
	}
	return slices.Contains(exts, Extension(path))
}

// Extension returns the lower-case format extension of path with any
// compression suffix removed, e.g. "trace.ndjson.gz" gives ".ndjson".
func Extension(path string) string {
	base, _ := stripCompression(strings.ToLower(path))
	if i := strings.LastIndexByte(base, '.'); i >= 0 && !strings.ContainsAny(base[i:], `/\`) {
		return base[i:]
	}
	return ""
}
