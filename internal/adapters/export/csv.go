package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"github.com/okian/v2xmetrics/internal/domain/report"
	"github.com/okian/v2xmetrics/pkg/logger"
	"github.com/okian/v2xmetrics/pkg/metrics"
)

// CSVName identifies the CSV exporter in logs and metrics.
const CSVName = "csv"

// CSVExporter writes one file per table: <dir>/<base>_<table>.csv, or
// .csv.zst when compression is enabled.
type CSVExporter struct {
	dir      string
	base     string
	compress bool
	logger   logger.Logger
}

// CSVOption configures a CSVExporter.
type CSVOption func(*CSVExporter)

// WithBaseName sets the file name prefix. Empty names are ignored.
func WithBaseName(base string) CSVOption {
	return func(e *CSVExporter) {
		if base != "" {
			e.base = base
		}
	}
}

// WithCompression toggles zstd compression of the files.
func WithCompression(enabled bool) CSVOption {
	return func(e *CSVExporter) {
		e.compress = enabled
	}
}

// WithCSVLogger sets a custom logger.
func WithCSVLogger(l logger.Logger) CSVOption {
	return func(e *CSVExporter) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewCSVExporter creates an exporter writing into dir.
func NewCSVExporter(dir string, opts ...CSVOption) *CSVExporter {
	e := &CSVExporter{dir: dir, base: "metrics"}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = logger.Get().Named("export.csv")
	}
	return e
}

func (e *CSVExporter) Name() string { return CSVName }

// Export writes every table of res.
func (e *CSVExporter) Export(ctx context.Context, _ Run, res report.Result) error {
	_, err := e.Write(ctx, res)
	return err
}

// Write writes every table and returns the written paths keyed by table name.
func (e *CSVExporter) Write(ctx context.Context, res report.Result) (map[string]string, error) {
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		metrics.RecordExport(CSVName, "error")
		return nil, fmt.Errorf("%w: create %s: %v", ErrExport, e.dir, err)
	}

	files := make(map[string]string)
	for _, t := range Tables(res) {
		if err := ctx.Err(); err != nil {
			return files, err
		}
		path := e.path(t.Name)
		if err := e.writeTable(path, t); err != nil {
			metrics.RecordExport(CSVName, "error")
			e.logger.Error(ctx, "failed to export table", logger.String("table", t.Name), logger.Error(err))
			return files, fmt.Errorf("%w: %s: %v", ErrExport, path, err)
		}
		files[t.Name] = path
		e.logger.Debug(ctx, "exported table", logger.String("table", t.Name), logger.Int("rows", len(t.Rows)))
	}

	metrics.RecordExport(CSVName, "ok")
	e.logger.Info(ctx, "export finished", logger.String("dir", e.dir), logger.Int("files", len(files)))
	return files, nil
}

func (e *CSVExporter) path(table string) string {
	name := e.base + "_" + table + ".csv"
	if e.compress {
		name += ".zst"
	}
	return filepath.Join(e.dir, name)
}

func (e *CSVExporter) writeTable(path string, t Table) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	var w io.Writer = f
	if e.compress {
		enc, zerr := zstd.NewWriter(f)
		if zerr != nil {
			return zerr
		}
		defer func() {
			if cerr := enc.Close(); err == nil {
				err = cerr
			}
		}()
		w = enc
	}
	return WriteTable(w, t)
}

// WriteTable writes t as CSV to w.
func WriteTable(w io.Writer, t Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Header); err != nil {
		return err
	}
	if err := cw.WriteAll(t.Rows); err != nil {
		return err
	}
	return cw.Error()
}
