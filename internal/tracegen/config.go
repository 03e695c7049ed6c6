package tracegen

import "time"

// Route is a directed vehicle pair and the application it carries.
type Route struct {
	Src string
	Dst string
	App string
}

// DefaultRoutes mirrors a small platoon exchanging BSM, CAM and DENM traffic.
var DefaultRoutes = []Route{
	{Src: "car_12", Dst: "car_33", App: "BSM"},
	{Src: "car_33", Dst: "car_12", App: "BSM"},
	{Src: "car_15", Dst: "car_28", App: "CAM"},
	{Src: "car_28", Dst: "car_15", App: "CAM"},
	{Src: "car_12", Dst: "car_45", App: "DENM"},
	{Src: "car_45", Dst: "car_12", App: "DENM"},
}

// Config holds generator settings. Times are in microseconds.
type Config struct {
	Seed          uint64  // Seed of the random source; equal seeds give equal traces
	Packets       int     // Number of normal packets
	DeliveryRatio float64 // Share of normal packets that get a reception
	BaseTimeUS    int64   // Timestamp of the first packet
	IntervalUS    int64   // Gap between consecutive normal packets
	MinLatencyUS  int64   // Lower bound of normal latency
	MaxLatencyUS  int64   // Upper bound of normal latency
	Routes        []Route // Routes normal traffic is drawn from
	Anomalies     bool    // Append the anomaly scenarios
}

// DefaultConfig returns the settings of the reference dataset.
func DefaultConfig() Config {
	return Config{
		Seed:          1,
		Packets:       105,
		DeliveryRatio: 0.8,
		BaseTimeUS:    1_000_000,
		IntervalUS:    50_000,
		MinLatencyUS:  50_000,
		MaxLatencyUS:  300_000,
		Routes:        DefaultRoutes,
		Anomalies:     true,
	}
}

// Anomaly scenario sizes.
const (
	duplicateCopies = 5
	orphanCount     = 5
	negativeCount   = 3
	highLatencyCnt  = 5
	noSignalCount   = 7
	mismatchCount   = 3

	scenarioGapUS    = 1_000_000
	scenarioStepUS   = 100_000
	highLatencyUS    = 1_000_000
	negativeOffsetUS = 100_000
	mismatchDelayUS  = 150_000
)

// Expectation is what a correlation run over the trace should report.
type Expectation struct {
	Records         int
	Tx              int
	Rx              int
	Matched         int
	DuplicateTx     int
	RxWithoutTx     int
	NegativeLatency int
}

// ReplayConfig controls how a trace is pushed to a running service.
type ReplayConfig struct {
	BaseURL    string
	BatchSize  int
	RunID      string
	Timeout    time.Duration
	MaxRetries int
	RetryWait  time.Duration
}

// DefaultReplayConfig returns replay defaults for a local service.
func DefaultReplayConfig() ReplayConfig {
	return ReplayConfig{
		BaseURL:    "http://localhost:9080",
		BatchSize:  500,
		Timeout:    30 * time.Second,
		MaxRetries: 5,
		RetryWait:  200 * time.Millisecond,
	}
}

// ReplayStats counts replay outcomes per batch.
type ReplayStats struct {
	Batches    int   `json:"batches"`
	Accepted   int64 `json:"accepted"`
	Rejected   int64 `json:"rejected"`
	Duplicates int   `json:"duplicates"`
	Retries    int   `json:"retries"`
}
