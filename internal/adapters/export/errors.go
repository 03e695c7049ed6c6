package export

import "errors"

var (
	// ErrExport wraps any failure to persist a result.
	ErrExport = errors.New("export failed")

	// ErrNotConfigured is returned when a sink is used without its settings.
	ErrNotConfigured = errors.New("exporter not configured")
)
