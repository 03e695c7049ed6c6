// Package correlation pairs transmissions with receptions by packet id,
// classifies anomalies and feeds the aggregation store.
package correlation

import (
	"context"

	"github.com/okian/v2xmetrics/internal/domain/aggregation"
	"github.com/okian/v2xmetrics/internal/domain/model"
	"github.com/okian/v2xmetrics/internal/domain/report"
	"github.com/okian/v2xmetrics/pkg/logger"
	"github.com/okian/v2xmetrics/pkg/metrics"
)

// Engine consumes records one at a time. It is not safe for concurrent use;
// callers serialize access and feed records in stream order.
type Engine struct {
	windowSize int64
	logger     logger.Logger

	pendingTx      map[string]model.EventRecord
	pendingRx      map[string][]model.EventRecord
	pendingRxCount int

	store     *aggregation.Store
	anomalies Anomalies

	processed int64
	success   int64
}

// Option configures an Engine.
type Option func(*Engine)

// WithWindowSize sets the aggregation window width in microseconds.
func WithWindowSize(size int64) Option {
	return func(e *Engine) {
		if size > 0 {
			e.windowSize = size
		}
	}
}

// WithLogger sets a custom logger for the engine.
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEngine creates an engine with empty pending tables and store.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		windowSize: aggregation.DefaultWindowSize,
		pendingTx:  make(map[string]model.EventRecord),
		pendingRx:  make(map[string][]model.EventRecord),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = logger.Get().Named("correlation")
	}
	e.store = aggregation.NewStore(e.windowSize)
	return e
}

// Process applies one record. It returns the matched pair and true when the
// record completed a successful match.
func (e *Engine) Process(ctx context.Context, r model.EventRecord) (model.MatchedPair, bool) {
	e.processed++
	kind := string(r.Kind)
	if !r.Kind.Valid() {
		kind = "unknown"
	}
	metrics.RecordRecordProcessed(kind)

	var (
		pair    model.MatchedPair
		matched bool
	)
	switch r.Kind {
	case model.KindTX:
		pair, matched = e.processTx(ctx, r)
	case model.KindRX:
		pair, matched = e.processRx(ctx, r)
	default:
		e.logger.Error(ctx, "record with unknown event kind ignored",
			logger.String("kind", string(r.Kind)),
			logger.String("pkt_id", r.PacketID))
		metrics.RecordErrorByComponent("correlation", "unknown_kind")
	}

	metrics.UpdatePending(len(e.pendingTx), e.pendingRxCount)
	return pair, matched
}

func (e *Engine) processTx(ctx context.Context, tx model.EventRecord) (model.MatchedPair, bool) {
	if _, seen := e.pendingTx[tx.PacketID]; seen {
		e.anomalies.DuplicateTx++
		metrics.RecordAnomaly(AnomalyDuplicateTx)
		e.logger.Warn(ctx, "duplicate tx dropped", logger.String("pkt_id", tx.PacketID))
		return model.MatchedPair{}, false
	}

	e.pendingTx[tx.PacketID] = tx
	e.store.RecordTx(tx)

	orphans, ok := e.pendingRx[tx.PacketID]
	if !ok {
		return model.MatchedPair{}, false
	}

	// Only the first orphan is reconciled; the rest are dropped with it.
	delete(e.pendingRx, tx.PacketID)
	e.pendingRxCount -= len(orphans)

	pair, matched := e.match(ctx, tx, orphans[0])
	if matched {
		delete(e.pendingTx, tx.PacketID)
	}
	return pair, matched
}

func (e *Engine) processRx(ctx context.Context, rx model.EventRecord) (model.MatchedPair, bool) {
	tx, ok := e.pendingTx[rx.PacketID]
	if !ok {
		e.pendingRx[rx.PacketID] = append(e.pendingRx[rx.PacketID], rx)
		e.pendingRxCount++
		e.anomalies.RxWithoutTx++
		metrics.RecordAnomaly(AnomalyRxWithoutTx)
		e.logger.Debug(ctx, "rx without tx", logger.String("pkt_id", rx.PacketID))
		return model.MatchedPair{}, false
	}
	// The tx stays pending after a match, so a repeated rx matches again.
	return e.match(ctx, tx, rx)
}

func (e *Engine) match(ctx context.Context, tx, rx model.EventRecord) (model.MatchedPair, bool) {
	if tx.Src != rx.Dst || tx.Dst != rx.Src {
		e.anomalies.DirectionMismatch++
		metrics.RecordAnomaly(AnomalyDirectionMismatch)
		e.logger.Warn(ctx, "direction mismatch",
			logger.String("pkt_id", tx.PacketID),
			logger.String("tx", tx.Src+"->"+tx.Dst),
			logger.String("rx", rx.Src+"->"+rx.Dst))
		return model.MatchedPair{}, false
	}

	latency := rx.TimestampUS - tx.TimestampUS
	if latency < 0 {
		e.anomalies.NegativeLatency++
		metrics.RecordAnomaly(AnomalyNegativeLatency)
		e.logger.Warn(ctx, "negative latency",
			logger.String("pkt_id", tx.PacketID),
			logger.Int64("latency_us", latency),
			logger.Int64("tx_ts_us", tx.TimestampUS),
			logger.Int64("rx_ts_us", rx.TimestampUS))
		return model.MatchedPair{}, false
	}

	pair := model.MatchedPair{
		PacketID:      tx.PacketID,
		Src:           tx.Src,
		Dst:           tx.Dst,
		App:           tx.App,
		SizeBytes:     tx.SizeBytes,
		TxTimestampUS: tx.TimestampUS,
		RxTimestampUS: rx.TimestampUS,
		LatencyUS:     latency,
		WindowStart:   e.store.WindowStart(tx.TimestampUS),
		SINRDB:        rx.SINRDB,
	}
	e.store.RecordMatched(pair)
	e.success++
	metrics.RecordMatch(latency)
	e.logger.Debug(ctx, "matched", logger.String("pkt_id", pair.PacketID), logger.Int64("latency_us", latency))
	return pair, true
}

// Result finalizes the current state. It does not mutate the engine.
func (e *Engine) Result() report.Result {
	return report.Calculate(e.store, e.anomalies.Map(), e.processed, e.success)
}

// Anomalies returns a copy of the anomaly counters.
func (e *Engine) Anomalies() Anomalies { return e.anomalies }

// Stats is a progress snapshot of the engine.
type Stats struct {
	ProcessedCnt int64            `json:"processed_cnt"`
	SuccessCnt   int64            `json:"success_cnt"`
	PendingTx    int              `json:"pending_tx"`
	PendingRx    int              `json:"pending_rx"`
	Anomalies    map[string]int64 `json:"anomalies"`
	MatchRatio   float64          `json:"matched"`
}

// Stats returns counters and pending table sizes.
func (e *Engine) Stats() Stats {
	s := Stats{
		ProcessedCnt: e.processed,
		SuccessCnt:   e.success,
		PendingTx:    len(e.pendingTx),
		PendingRx:    e.pendingRxCount,
		Anomalies:    e.anomalies.Map(),
	}
	if e.processed > 0 {
		s.MatchRatio = float64(e.success) / float64(e.processed)
	}
	return s
}
