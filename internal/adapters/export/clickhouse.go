package export

import (
	"context"
	"fmt"
	"regexp"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/okian/v2xmetrics/internal/domain/report"
	"github.com/okian/v2xmetrics/pkg/logger"
	"github.com/okian/v2xmetrics/pkg/metrics"
)

// ClickHouseName identifies the ClickHouse exporter in logs and metrics.
const ClickHouseName = "clickhouse"

const createMetricsTableStatement = `
CREATE TABLE IF NOT EXISTS %s (
    RunID        String,
    Source       String,
    ExportedAt   DateTime64(3),
    Scope        LowCardinality(String),
    WindowStart  Nullable(Int64),
    Src          String,
    Dst          String,
    App          Nullable(String),
    TxCount      Int64,
    RxCount      Int64,
    PDR          Float64,
    LatencyMean  Float64,
    LatencyP50   Float64,
    LatencyP95   Float64,
    LatencyStd   Float64,
    LatencyCount Int64,
    SINRAvg      Nullable(Float64),
    SINRCount    Int64
) ENGINE = MergeTree()
ORDER BY (RunID, Scope, Src, Dst);
`

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Scopes stored in the Scope column.
const (
	ScopeOverall = "overall"
	ScopePair    = "pair"
	ScopeApp     = "app"
	ScopeWindow  = "window"
)

// ClickHouseConfig holds connection settings.
type ClickHouseConfig struct {
	Addr     string
	Database string
	Username string
	Password string
	Table    string
}

// rowBatch is the part of driver.Batch the exporter uses.
type rowBatch interface {
	Append(v ...any) error
	Send() error
}

// inserter is the part of a ClickHouse connection the exporter uses.
type inserter interface {
	Exec(ctx context.Context, query string, args ...any) error
	Batch(ctx context.Context, query string) (rowBatch, error)
	Close() error
}

type driverInserter struct {
	conn driver.Conn
}

func (d driverInserter) Exec(ctx context.Context, query string, args ...any) error {
	return d.conn.Exec(ctx, query, args...)
}

func (d driverInserter) Batch(ctx context.Context, query string) (rowBatch, error) {
	return d.conn.PrepareBatch(ctx, query)
}

func (d driverInserter) Close() error { return d.conn.Close() }

// ClickHouseExporter appends one row per metrics bucket, tagged with the run id.
type ClickHouseExporter struct {
	conn   inserter
	table  string
	logger logger.Logger
}

// NewClickHouseExporter connects, pings and ensures the metrics table exists.
func NewClickHouseExporter(ctx context.Context, cfg ClickHouseConfig) (*ClickHouseExporter, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("%w: clickhouse address is empty", ErrNotConfigured)
	}
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Compression: &clickhouse.Compression{Method: clickhouse.CompressionLZ4},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: open clickhouse: %v", ErrExport, err)
	}
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: ping clickhouse: %v", ErrExport, err)
	}
	e, err := newClickHouseExporter(ctx, driverInserter{conn: conn}, cfg.Table)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return e, nil
}

func newClickHouseExporter(ctx context.Context, conn inserter, table string) (*ClickHouseExporter, error) {
	if table == "" {
		table = "v2x_metrics"
	}
	if !tableNamePattern.MatchString(table) {
		return nil, fmt.Errorf("%w: invalid clickhouse table name %q", ErrNotConfigured, table)
	}
	if err := conn.Exec(ctx, fmt.Sprintf(createMetricsTableStatement, table)); err != nil {
		return nil, fmt.Errorf("%w: create table %s: %v", ErrExport, table, err)
	}
	e := &ClickHouseExporter{conn: conn, table: table, logger: logger.Get().Named("export.clickhouse")}
	e.logger.Info(ctx, "connected to clickhouse", logger.String("table", table))
	return e, nil
}

func (e *ClickHouseExporter) Name() string { return ClickHouseName }

// Export inserts every bucket of res in a single batch.
func (e *ClickHouseExporter) Export(ctx context.Context, run Run, res report.Result) error {
	batch, err := e.conn.Batch(ctx, "INSERT INTO "+e.table)
	if err != nil {
		metrics.RecordExport(ClickHouseName, "error")
		return fmt.Errorf("%w: prepare batch: %v", ErrExport, err)
	}

	rows := 0
	appendRow := func(scope string, m report.Metrics) error {
		var window *int64
		if v, ok := m.WindowStart.Get(); ok {
			window = &v
		}
		var app *string
		if v, ok := m.App.Get(); ok {
			app = &v
		}
		var sinr *float64
		if v, ok := m.SINRAvg.Get(); ok {
			sinr = &v
		}
		rows++
		return batch.Append(
			run.ID, run.Source, run.At, scope, window, m.Src, m.Dst, app,
			m.PDR.TxCount, m.PDR.RxCount, m.PDR.PDR,
			m.Latency.Mean, m.Latency.P50, m.Latency.P95, m.Latency.Std, m.Latency.Count,
			sinr, m.SINRCount,
		)
	}

	if err := appendRow(ScopeOverall, res.Overall); err != nil {
		return e.fail(err)
	}
	for _, group := range []struct {
		scope string
		rows  []report.Metrics
	}{
		{ScopePair, res.Pairs()},
		{ScopeApp, res.Apps()},
		{ScopeWindow, res.Windows()},
	} {
		for _, m := range group.rows {
			if err := appendRow(group.scope, m); err != nil {
				return e.fail(err)
			}
		}
	}

	if err := batch.Send(); err != nil {
		return e.fail(err)
	}
	metrics.RecordExport(ClickHouseName, "ok")
	e.logger.Info(ctx, "wrote metrics to clickhouse",
		logger.String("run_id", run.ID), logger.Int("rows", rows))
	return nil
}

func (e *ClickHouseExporter) fail(err error) error {
	metrics.RecordExport(ClickHouseName, "error")
	return fmt.Errorf("%w: clickhouse batch: %v", ErrExport, err)
}

// Close closes the connection.
func (e *ClickHouseExporter) Close() error {
	return e.conn.Close()
}

var (
	_ Exporter = (*ClickHouseExporter)(nil)
	_ Exporter = (*CSVExporter)(nil)
	_ Exporter = (*JSONExporter)(nil)
)
