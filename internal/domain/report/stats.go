package report

import (
	"math"
	"slices"
)

// LatencyStats summarises a latency sample in microseconds.
type LatencyStats struct {
	Mean  float64 `json:"mean"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	Std   float64 `json:"std"`
	Count int64   `json:"count"`
}

// NewLatencyStats computes mean, median, 95th percentile and sample standard
// deviation. The input is not modified. An empty sample yields all zeros.
func NewLatencyStats(latencies []int64) LatencyStats {
	n := len(latencies)
	if n == 0 {
		return LatencyStats{}
	}

	sorted := make([]float64, n)
	var sum float64
	for i, v := range latencies {
		sorted[i] = float64(v)
		sum += sorted[i]
	}
	slices.Sort(sorted)
	mean := sum / float64(n)

	var std float64
	if n > 1 {
		var sq float64
		for _, v := range sorted {
			d := v - mean
			sq += d * d
		}
		std = math.Sqrt(sq / float64(n-1))
	}

	return LatencyStats{
		Mean:  mean,
		P50:   percentile(sorted, 0.50),
		P95:   percentile(sorted, 0.95),
		Std:   std,
		Count: int64(n),
	}
}

// percentile interpolates linearly between order statistics at the 1-based
// position h = (n+1)p, clamped to the smallest and largest sample.
func percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	h := float64(n+1) * p
	if h <= 1 {
		return sorted[0]
	}
	if h >= float64(n) {
		return sorted[n-1]
	}
	lo := int(math.Floor(h))
	frac := h - float64(lo)
	return sorted[lo-1] + frac*(sorted[lo]-sorted[lo-1])
}

// PDRMetrics is the packet delivery ratio of one bucket.
type PDRMetrics struct {
	TxCount int64   `json:"tx_count"`
	RxCount int64   `json:"rx_count"`
	PDR     float64 `json:"pdr"`
}

// NewPDRMetrics computes rx/tx, or 0 when nothing was transmitted.
func NewPDRMetrics(tx, rx int64) PDRMetrics {
	m := PDRMetrics{TxCount: tx, RxCount: rx}
	if tx > 0 {
		m.PDR = float64(rx) / float64(tx)
	}
	return m
}
