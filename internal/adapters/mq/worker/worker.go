// Package worker applies queued batches to the correlation engine. A single
// worker is used so records reach the engine in the order they were accepted.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/okian/v2xmetrics/internal/adapters/mq/queue"
	"github.com/okian/v2xmetrics/pkg/logger"
	"github.com/okian/v2xmetrics/pkg/metrics"
)

// Processor consumes one batch.
type Processor interface {
	ProcessBatch(ctx context.Context, b queue.Batch) error
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, b queue.Batch) error

func (f ProcessorFunc) ProcessBatch(ctx context.Context, b queue.Batch) error { return f(ctx, b) }

// Queue defines how the worker receives batches.
type Queue interface {
	Dequeue(ctx context.Context) <-chan queue.Batch
}

// Worker drains a queue into a Processor.
type Worker interface {
	// Run consumes batches until the queue is drained, ctx is cancelled or
	// Stop is called.
	Run(ctx context.Context)

	// Shutdown waits for Run to drain the (already closed) queue. When ctx
	// expires first the worker is stopped and the remaining batches are lost.
	Shutdown(ctx context.Context) error

	// Stop makes Run return after the batch in progress.
	Stop()
}

// InMemoryWorker implements Worker.
type InMemoryWorker struct {
	queue     Queue
	processor Processor
	name      string

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}

	logger logger.Logger
}

// NewInMemoryWorker creates a new worker with configuration options.
func NewInMemoryWorker(q Queue, p Processor, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:     q,
		processor: p,
		name:      "worker",
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = logger.Get().Named(w.name)
	}
	return w
}

// Run starts the worker loop.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	batches := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case b, ok := <-batches:
			if !ok {
				w.logger.Debug(ctx, "queue drained")
				return
			}
			if err := w.process(ctx, b); err != nil {
				w.logger.Error(ctx, "error processing batch", logger.Error(err))
			}
		}
	}
}

func (w *InMemoryWorker) process(ctx context.Context, b queue.Batch) error {
	start := time.Now()
	defer func() {
		metrics.RecordWorkerProcessingLatency(float64(time.Since(start).Milliseconds()))
	}()

	if err := w.processor.ProcessBatch(ctx, b); err != nil {
		metrics.RecordWorkerError()
		metrics.RecordErrorByComponent("worker", "process_error")
		return fmt.Errorf("process batch %s: %w", b.ID, err)
	}
	w.logger.Debug(ctx, "batch applied",
		logger.String("batch_id", b.ID),
		logger.String("source", b.Source),
		logger.Int("records", len(b.Records)))
	return nil
}

// Stop signals Run to return.
func (w *InMemoryWorker) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
}

// Shutdown waits for Run to finish draining.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.Stop()
		w.logger.Warn(ctx, "shutdown timed out, pending batches dropped")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// Done is closed when Run returns.
func (w *InMemoryWorker) Done() <-chan struct{} { return w.done }
