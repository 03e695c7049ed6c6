package export

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/okian/v2xmetrics/internal/domain/report"
	"github.com/okian/v2xmetrics/pkg/logger"
	"github.com/okian/v2xmetrics/pkg/metrics"
)

// JSONName identifies the JSON exporter in logs and metrics.
const JSONName = "json"

// JSONExporter writes the whole result as <dir>/<base>.json.
type JSONExporter struct {
	path   string
	logger logger.Logger
}

// NewJSONExporter creates an exporter for <dir>/<base>.json.
func NewJSONExporter(dir, base string) *JSONExporter {
	if base == "" {
		base = "metrics"
	}
	return &JSONExporter{
		path:   filepath.Join(dir, base+".json"),
		logger: logger.Get().Named("export.json"),
	}
}

func (e *JSONExporter) Name() string { return JSONName }

// Path returns the file the exporter writes.
func (e *JSONExporter) Path() string { return e.path }

func (e *JSONExporter) Export(ctx context.Context, run Run, res report.Result) (err error) {
	defer func() {
		if err != nil {
			metrics.RecordExport(JSONName, "error")
			err = fmt.Errorf("%w: %s: %v", ErrExport, e.path, err)
			return
		}
		metrics.RecordExport(JSONName, "ok")
	}()

	if err := os.MkdirAll(filepath.Dir(e.path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(e.path)
	if err != nil {
		return err
	}
	if err := WriteJSON(f, res); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	e.logger.Info(ctx, "result written", logger.String("path", e.path), logger.String("run_id", run.ID))
	return nil
}

// WriteJSON writes the result document, indented. Output is byte-stable for
// equal results.
func WriteJSON(w io.Writer, res report.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}
