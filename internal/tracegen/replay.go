package tracegen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/okian/v2xmetrics/internal/domain/model"
	"github.com/okian/v2xmetrics/pkg/logger"
)

// ErrReplay is returned when a batch cannot be delivered.
var ErrReplay = errors.New("replay failed")

type ackResponse struct {
	Status    string `json:"status"`
	Accepted  int64  `json:"accepted"`
	Rejected  int64  `json:"rejected"`
	Duplicate bool   `json:"duplicate"`
}

// Replay posts recs to cfg.BaseURL/events in batches of cfg.BatchSize, in
// order. Each batch carries an X-Batch-ID derived from the run id, so a
// repeated replay with the same RunID is ignored by the service. A 429 is
// retried after cfg.RetryWait up to cfg.MaxRetries times.
func Replay(ctx context.Context, cfg ReplayConfig, recs []model.EventRecord) (ReplayStats, error) {
	def := DefaultReplayConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.RunID == "" {
		cfg.RunID = uuid.NewString()
	}
	log := logger.Get().Named("replay")
	client := &http.Client{Timeout: cfg.Timeout}
	url := strings.TrimRight(cfg.BaseURL, "/") + "/events"

	var stats ReplayStats
	log.Info(ctx, "replaying trace",
		logger.String("url", url),
		logger.String("run_id", cfg.RunID),
		logger.Int("records", len(recs)),
		logger.Int("batch_size", cfg.BatchSize))

	for start, n := 0, 0; start < len(recs); start, n = start+cfg.BatchSize, n+1 {
		end := min(start+cfg.BatchSize, len(recs))
		var body bytes.Buffer
		if err := WriteNDJSON(&body, recs[start:end]); err != nil {
			return stats, err
		}
		id := fmt.Sprintf("%s-%06d", cfg.RunID, n)

		ack, retries, err := postBatch(ctx, client, url, id, body.Bytes(), cfg)
		stats.Retries += retries
		if err != nil {
			return stats, err
		}
		stats.Batches++
		stats.Accepted += ack.Accepted
		stats.Rejected += ack.Rejected
		if ack.Duplicate {
			stats.Duplicates++
		}
	}

	log.Info(ctx, "replay finished",
		logger.Int("batches", stats.Batches),
		logger.Int64("accepted", stats.Accepted),
		logger.Int64("rejected", stats.Rejected),
		logger.Int("duplicates", stats.Duplicates))
	return stats, nil
}

func postBatch(ctx context.Context, client *http.Client, url, id string, body []byte, cfg ReplayConfig) (ackResponse, int, error) {
	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return ackResponse{}, attempt, fmt.Errorf("%w: %w", ErrReplay, err)
		}
		req.Header.Set("Content-Type", "application/x-ndjson")
		req.Header.Set("X-Batch-ID", id)

		resp, err := client.Do(req)
		if err != nil {
			return ackResponse{}, attempt, fmt.Errorf("%w: batch %s: %w", ErrReplay, id, err)
		}
		data, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return ackResponse{}, attempt, fmt.Errorf("%w: batch %s: %w", ErrReplay, id, err)
		}

		switch resp.StatusCode {
		case http.StatusOK, http.StatusAccepted:
			var ack ackResponse
			if err := json.Unmarshal(data, &ack); err != nil {
				return ackResponse{}, attempt, fmt.Errorf("%w: batch %s: decode ack: %w", ErrReplay, id, err)
			}
			return ack, attempt, nil
		case http.StatusTooManyRequests:
			if attempt >= cfg.MaxRetries {
				return ackResponse{}, attempt, fmt.Errorf("%w: batch %s: still throttled after %d retries", ErrReplay, id, attempt)
			}
			select {
			case <-ctx.Done():
				return ackResponse{}, attempt, ctx.Err()
			case <-time.After(cfg.RetryWait):
			}
		default:
			return ackResponse{}, attempt, fmt.Errorf("%w: batch %s: status %d: %s", ErrReplay, id, resp.StatusCode, bytes.TrimSpace(data))
		}
	}
}
