// Package service wires the ingest queue, the worker and the correlation
// engine into the long-running service behind the HTTP API and the NATS
// source, and hosts the batch pipeline used by the CLI.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/okian/v2xmetrics/internal/adapters/mq/queue"
	"github.com/okian/v2xmetrics/internal/adapters/mq/worker"
	"github.com/okian/v2xmetrics/internal/domain/aggregation"
	"github.com/okian/v2xmetrics/internal/domain/correlation"
	"github.com/okian/v2xmetrics/internal/domain/dedupe"
	"github.com/okian/v2xmetrics/internal/domain/report"
	"github.com/okian/v2xmetrics/pkg/logger"
	"github.com/okian/v2xmetrics/pkg/metrics"
)

const defaultStopTimeout = 30 * time.Second

// ErrNotStarted is returned by Submit before Start or after Stop.
var ErrNotStarted = errors.New("service not started")

// Service owns one correlation engine fed by a single ordered worker.
type Service struct {
	mu sync.RWMutex

	engineMu sync.Mutex
	engine   *correlation.Engine

	deduper dedupe.Deduper
	queue   *queue.InMemoryQueue
	worker  *worker.InMemoryWorker

	windowSize  int64
	queueSize   int
	dedupeSize  int
	stopTimeout time.Duration

	started   bool
	startedAt time.Time
	batches   int64

	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithWindowSize sets the aggregation window width in microseconds.
func WithWindowSize(size int64) Option {
	return func(s *Service) {
		if size > 0 {
			s.windowSize = size
		}
	}
}

// WithQueueSize sets the maximum number of queued batches.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithDedupeSize sets how many batch ids are remembered.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.dedupeSize = size
		}
	}
}

// WithStopTimeout bounds how long Stop waits for the queue to drain.
func WithStopTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.stopTimeout = d
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New constructs a Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		windowSize:  aggregation.DefaultWindowSize,
		queueSize:   1024,
		dedupeSize:  dedupe.DefaultMaxSize,
		stopTimeout: defaultStopTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start creates the engine, queue and worker. Calling it twice is a no-op.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}

	s.engine = correlation.NewEngine(correlation.WithWindowSize(s.windowSize))
	s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.dedupeSize))
	s.queue = queue.NewInMemoryQueue(queue.WithCapacity(s.queueSize))
	s.worker = worker.NewInMemoryWorker(s.queue, s, worker.WithName("correlation-worker"))
	go s.worker.Run(context.WithoutCancel(ctx))

	s.started = true
	s.startedAt = time.Now()
	s.logger.Info(ctx, "correlation service started",
		logger.Int64("window_size_us", s.windowSize),
		logger.Int("queue_size", s.queueSize),
		logger.Int("dedupe_size", s.dedupeSize))
	return nil
}

// Stop closes the queue and waits for queued batches to be applied.
// The engine state stays readable after Stop.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}
	s.logger.Info(ctx, "stopping correlation service", logger.Int("queued", s.queue.Len(ctx)))

	_ = s.queue.Close()
	waitCtx, cancel := context.WithTimeout(ctx, s.stopTimeout)
	defer cancel()
	err := s.worker.Shutdown(waitCtx)

	s.started = false
	s.logger.Info(ctx, "correlation service stopped")
	return err
}

// Submit deduplicates by batch id and enqueues the batch. It returns false,
// nil for a replayed id. When the queue refuses the batch its id is
// forgotten so the client can retry.
func (s *Service) Submit(ctx context.Context, b queue.Batch) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.started {
		return false, ErrNotStarted
	}
	if b.ID != "" && s.deduper.SeenAndRecord(ctx, b.ID) {
		metrics.RecordBatchDuplicate()
		s.logger.Debug(ctx, "replayed batch ignored", logger.String("batch_id", b.ID))
		return false, nil
	}
	if err := s.queue.Enqueue(ctx, b); err != nil {
		if b.ID != "" {
			s.deduper.Unrecord(ctx, b.ID)
		}
		return false, fmt.Errorf("submit batch: %w", err)
	}
	return true, nil
}

// ProcessBatch applies a batch to the engine in record order.
func (s *Service) ProcessBatch(ctx context.Context, b queue.Batch) error {
	s.engineMu.Lock()
	defer s.engineMu.Unlock()

	for _, r := range b.Records {
		s.engine.Process(ctx, r)
	}
	s.batches++
	return nil
}

// Result finalizes the current engine state.
func (s *Service) Result() report.Result {
	s.engineMu.Lock()
	defer s.engineMu.Unlock()

	if s.engine == nil {
		return correlation.NewEngine(correlation.WithWindowSize(s.windowSize)).Result()
	}
	return s.engine.Result()
}

// Stats is a monitoring snapshot.
type Stats struct {
	Started       bool              `json:"started"`
	Uptime        string            `json:"uptime,omitempty"`
	WindowSizeUS  int64             `json:"window_size_us"`
	QueueLength   int               `json:"queue_length"`
	QueueCapacity int               `json:"queue_capacity"`
	DedupeSize    int64             `json:"dedupe_size"`
	Batches       int64             `json:"batches_applied"`
	Engine        correlation.Stats `json:"engine"`
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats(ctx context.Context) Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{
		Started:       s.started,
		WindowSizeUS:  s.windowSize,
		QueueCapacity: s.queueSize,
	}
	if s.queue != nil {
		st.QueueLength = s.queue.Len(ctx)
		st.DedupeSize = s.deduper.Size()
	}
	if s.started {
		st.Uptime = time.Since(s.startedAt).Round(time.Second).String()
	}

	s.engineMu.Lock()
	if s.engine != nil {
		st.Engine = s.engine.Stats()
	}
	st.Batches = s.batches
	s.engineMu.Unlock()
	return st
}
