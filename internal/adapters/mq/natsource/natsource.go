// Package natsource feeds NDJSON event batches published on a NATS subject
// into the ingest pipeline.
package natsource

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/okian/v2xmetrics/internal/adapters/decode"
	"github.com/okian/v2xmetrics/internal/adapters/mq/queue"
	"github.com/okian/v2xmetrics/internal/domain/model"
	"github.com/okian/v2xmetrics/pkg/logger"
	"github.com/okian/v2xmetrics/pkg/metrics"
)

// HeaderBatchID carries an optional idempotency key, like X-Batch-ID over HTTP.
const HeaderBatchID = "Batch-ID"

// ErrNotConfigured is returned when no NATS URL is set.
var ErrNotConfigured = errors.New("nats source not configured")

// Sink accepts decoded batches. It reports false for a replayed batch id.
type Sink interface {
	Submit(ctx context.Context, b queue.Batch) (bool, error)
}

// Config holds connection settings.
type Config struct {
	URL           string
	Subject       string
	Name          string
	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// DefaultConfig returns a Config with reconnect defaults.
func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		Subject:       "v2x.events",
		Name:          "v2xmetrics",
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
	}
}

// Source subscribes to one subject. Each message is one batch.
type Source struct {
	nc      *nats.Conn
	sub     *nats.Subscription
	subject string
	sink    Sink
	logger  logger.Logger

	mu  sync.Mutex
	ctx context.Context
}

// Connect dials NATS. The subscription starts with Start.
func Connect(cfg Config, sink Sink) (*Source, error) {
	if cfg.URL == "" {
		return nil, ErrNotConfigured
	}
	log := logger.Get().Named("natsource")
	ctx := context.Background()

	nc, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn(ctx, "nats disconnected", logger.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info(ctx, "nats reconnected", logger.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats %s: %w", cfg.URL, err)
	}
	log.Info(ctx, "connected to nats", logger.String("url", cfg.URL))

	s := newSource(sink, cfg.Subject, log)
	s.nc = nc
	return s, nil
}

func newSource(sink Sink, subject string, log logger.Logger) *Source {
	return &Source{subject: subject, sink: sink, logger: log, ctx: context.Background()}
}

// Start subscribes. Messages are submitted with ctx until Close.
func (s *Source) Start(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	sub, err := s.nc.Subscribe(s.subject, s.handle)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", s.subject, err)
	}
	s.sub = sub
	s.logger.Info(ctx, "subscribed", logger.String("subject", s.subject))
	return nil
}

func (s *Source) handle(msg *nats.Msg) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	dec := decode.NewNDJSONDecoder()
	var recs []model.EventRecord
	for rec, err := range dec.Decode(ctx, bytes.NewReader(msg.Data)) {
		if err != nil {
			metrics.RecordNATSMessage("error")
			s.logger.Error(ctx, "failed to read nats message", logger.Error(err))
			return
		}
		recs = append(recs, rec)
	}
	st := dec.Stats()
	if st.Errors+st.ValidationErrors > 0 {
		s.logger.Warn(ctx, "nats message had rejected lines",
			logger.Int64("errors", st.Errors),
			logger.Int64("validation_errors", st.ValidationErrors))
	}
	if len(recs) == 0 {
		metrics.RecordNATSMessage("rejected")
		return
	}

	b := queue.Batch{Source: "nats:" + msg.Subject, Records: recs}
	if msg.Header != nil {
		b.ID = msg.Header.Get(HeaderBatchID)
	}
	fresh, err := s.sink.Submit(ctx, b)
	switch {
	case err != nil:
		metrics.RecordNATSMessage("error")
		s.logger.Error(ctx, "failed to submit nats batch",
			logger.String("batch_id", b.ID), logger.Error(err))
	case !fresh:
		metrics.RecordNATSMessage("rejected")
		s.logger.Debug(ctx, "replayed nats batch ignored", logger.String("batch_id", b.ID))
	default:
		metrics.RecordNATSMessage("ok")
	}
}

// Close unsubscribes and closes the NATS connection.
func (s *Source) Close() {
	if s.sub != nil {
		if err := s.sub.Unsubscribe(); err != nil {
			s.logger.Warn(context.Background(), "unsubscribe failed", logger.Error(err))
		}
	}
	if s.nc != nil {
		s.nc.Close()
		s.logger.Info(context.Background(), "nats connection closed")
	}
}
