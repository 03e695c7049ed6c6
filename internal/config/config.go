// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New() to build a Config with defaults.
// - Load layers defaults, an optional YAML file and V2X_ env vars.
// - Validation errors wrap ErrInvalidConfig.
package config

import (
	"fmt"
	"unicode/utf8"
)

// DefaultWindowSize is the time window width in microseconds (one second).
const DefaultWindowSize int64 = 1_000_000

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects the log handler: text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// WindowSize is the width of aggregation windows in microseconds.
	WindowSize int64 `koanf:"window_size"`

	// QueueSize bounds the in-memory batch queue of the ingest service.
	QueueSize int `koanf:"queue_size"`

	// DedupeSize bounds how many ingest batch ids are remembered for idempotency.
	DedupeSize int `koanf:"dedupe_size"`

	// OutputDir and OutputBase name the exported files: <dir>/<base>_overall.csv, ...
	OutputDir  string `koanf:"output_dir"`
	OutputBase string `koanf:"output_base"`

	// CompressExports writes .csv.zst instead of .csv.
	CompressExports bool `koanf:"compress_exports"`

	// CSVDelimiter is the single-character field separator of CSV input.
	CSVDelimiter string `koanf:"csv_delimiter"`

	// NATSURL enables the NATS event source when non-empty.
	NATSURL     string `koanf:"nats_url"`
	NATSSubject string `koanf:"nats_subject"`

	// ClickHouseAddr enables the ClickHouse sink when non-empty.
	ClickHouseAddr     string `koanf:"clickhouse_addr"`
	ClickHouseDatabase string `koanf:"clickhouse_database"`
	ClickHouseUsername string `koanf:"clickhouse_username"`
	ClickHousePassword string `koanf:"clickhouse_password"`
	ClickHouseTable    string `koanf:"clickhouse_table"`
}

// New creates a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:           "info",
		LogFormat:          "text",
		Addr:               ":9080",
		WindowSize:         DefaultWindowSize,
		QueueSize:          1024,
		DedupeSize:         100_000,
		OutputDir:          "artifacts",
		OutputBase:         "metrics",
		CSVDelimiter:       ",",
		NATSSubject:        "v2x.events",
		ClickHouseDatabase: "default",
		ClickHouseUsername: "default",
		ClickHouseTable:    "v2x_metrics",
	}
}

// Validate checks the invariants the rest of the process relies on.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	}
	if c.WindowSize <= 0 {
		return fmt.Errorf("%w: window_size must be positive, got %d", ErrInvalidConfig, c.WindowSize)
	}
	if c.QueueSize <= 0 {
		return fmt.Errorf("%w: queue_size must be positive, got %d", ErrInvalidConfig, c.QueueSize)
	}
	if utf8.RuneCountInString(c.CSVDelimiter) != 1 {
		return fmt.Errorf("%w: csv_delimiter must be a single character, got %q", ErrInvalidConfig, c.CSVDelimiter)
	}
	return nil
}

// Delimiter returns the CSV delimiter as a rune.
func (c *Config) Delimiter() rune {
	r, _ := utf8.DecodeRuneInString(c.CSVDelimiter)
	return r
}
