package correlation

// Anomaly counter names as they appear in results and exports.
const (
	AnomalyDuplicateTx       = "duplicate_tx"
	AnomalyRxWithoutTx       = "rx_without_tx"
	AnomalyDirectionMismatch = "direction_mismatch"
	AnomalyNegativeLatency   = "negative_latency"
	AnomalyDuplicateRx       = "duplicate_rx"
)

// Anomalies counts structurally suspicious events. Counters only grow.
//
// DuplicateRx is part of the reported set but nothing increments it: a
// reception repeated after a match is matched and aggregated again.
type Anomalies struct {
	DuplicateTx       int64
	RxWithoutTx       int64
	DirectionMismatch int64
	NegativeLatency   int64
	DuplicateRx       int64
}

// Map returns the counters keyed by their exported names.
func (a Anomalies) Map() map[string]int64 {
	return map[string]int64{
		AnomalyDuplicateTx:       a.DuplicateTx,
		AnomalyRxWithoutTx:       a.RxWithoutTx,
		AnomalyDirectionMismatch: a.DirectionMismatch,
		AnomalyNegativeLatency:   a.NegativeLatency,
		AnomalyDuplicateRx:       a.DuplicateRx,
	}
}
