package api

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/okian/v2xmetrics/internal/adapters/decode"
	"github.com/okian/v2xmetrics/internal/adapters/mq/queue"
	service "github.com/okian/v2xmetrics/internal/app"
	"github.com/okian/v2xmetrics/internal/domain/model"
	"github.com/okian/v2xmetrics/pkg/logger"
)

// HeaderBatchID carries an optional idempotency key for a batch.
const HeaderBatchID = "X-Batch-ID"

// EventsHandler accepts NDJSON event batches.
type EventsHandler struct {
	deps         Dependencies
	maxBodyBytes int64
	logger       logger.Logger
}

// NewEventsHandler creates a new events handler.
func NewEventsHandler(deps Dependencies, maxBodyBytes int64, l logger.Logger) *EventsHandler {
	return &EventsHandler{deps: deps, maxBodyBytes: maxBodyBytes, logger: l}
}

type ingestResponse struct {
	Status    string `json:"status"`
	BatchID   string `json:"batch_id,omitempty"`
	Accepted  int64  `json:"accepted"`
	Rejected  int64  `json:"rejected"`
	Duplicate bool   `json:"duplicate"`
}

// HandlePostEvents handles POST /events. The body is NDJSON, one record per
// line, optionally gzip encoded. Invalid lines are counted and skipped; the
// valid records are applied in body order as one batch.
func (h *EventsHandler) HandlePostEvents(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_events"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	ctx := r.Context()

	var body io.Reader = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	if strings.EqualFold(r.Header.Get("Content-Encoding"), "gzip") {
		zr, err := gzip.NewReader(body)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", wrapKind(op, ErrBadRequest, err))
			return
		}
		defer zr.Close()
		body = zr
	}

	dec := decode.NewNDJSONDecoder()
	var records []model.EventRecord
	for rec, err := range dec.Decode(ctx, body) {
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeError(w, http.StatusRequestEntityTooLarge, "too_large", wrapKind(op, ErrBadRequest, err))
				return
			}
			writeError(w, http.StatusBadRequest, "bad_request", wrapKind(op, ErrBadRequest, err))
			return
		}
		records = append(records, rec)
	}
	stats := dec.Stats()
	rejected := stats.Errors + stats.ValidationErrors

	if len(records) == 0 {
		writeError(w, http.StatusBadRequest, "bad_request", wrapKind(op, ErrBadRequest, errors.New("no valid records")))
		return
	}

	batch := queue.Batch{
		ID:         strings.TrimSpace(r.Header.Get(HeaderBatchID)),
		Source:     "http",
		Records:    records,
		EnqueuedAt: time.Now(),
	}
	fresh, err := h.deps.Submit(ctx, batch)
	switch {
	case errors.Is(err, queue.ErrQueueFull):
		writeError(w, http.StatusTooManyRequests, "backpressure", wrapKind(op, ErrBackpressure, err))
		return
	case errors.Is(err, queue.ErrQueueClosed), errors.Is(err, service.ErrNotStarted):
		writeError(w, http.StatusServiceUnavailable, "unavailable", wrapKind(op, ErrUnavailable, err))
		return
	case err != nil:
		h.logger.Error(ctx, "submit failed", logger.String("batch_id", batch.ID), logger.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", err)
		return
	}

	if !fresh {
		writeJSON(w, http.StatusOK, ingestResponse{Status: "duplicate", BatchID: batch.ID, Duplicate: true})
		return
	}
	if rejected > 0 {
		h.logger.Debug(ctx, "batch accepted with rejected lines",
			logger.String("batch_id", batch.ID),
			logger.Int64("rejected", rejected))
	}
	writeJSON(w, http.StatusAccepted, ingestResponse{
		Status:   "accepted",
		BatchID:  batch.ID,
		Accepted: stats.Succeeded,
		Rejected: rejected,
	})
}
