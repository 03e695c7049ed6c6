package service

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/okian/v2xmetrics/internal/adapters/decode"
	"github.com/okian/v2xmetrics/internal/adapters/export"
	"github.com/okian/v2xmetrics/internal/domain/aggregation"
	"github.com/okian/v2xmetrics/internal/domain/correlation"
	"github.com/okian/v2xmetrics/internal/domain/report"
	"github.com/okian/v2xmetrics/pkg/logger"
)

// Pipeline runs a whole trace file through a fresh engine.
type Pipeline struct {
	registry   *decode.Registry
	windowSize int64
	logger     logger.Logger
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithRegistry sets the decoder registry.
func WithRegistry(r *decode.Registry) PipelineOption {
	return func(p *Pipeline) {
		if r != nil {
			p.registry = r
		}
	}
}

// WithPipelineWindowSize sets the aggregation window width in microseconds.
func WithPipelineWindowSize(size int64) PipelineOption {
	return func(p *Pipeline) {
		if size > 0 {
			p.windowSize = size
		}
	}
}

// NewPipeline creates a pipeline with the default registry.
func NewPipeline(opts ...PipelineOption) *Pipeline {
	p := &Pipeline{windowSize: aggregation.DefaultWindowSize}
	for _, opt := range opts {
		opt(p)
	}
	if p.registry == nil {
		p.registry = decode.NewRegistry()
	}
	p.logger = logger.Get().Named("pipeline")
	return p
}

// Analysis is the outcome of one Analyze call.
type Analysis struct {
	Run         export.Run
	Decoder     string
	Result      report.Result
	DecodeStats decode.Stats
	EngineStats correlation.Stats
	Elapsed     time.Duration
}

// Analyze picks a decoder for path, streams its records into a new engine
// and finalizes the result.
func (p *Pipeline) Analyze(ctx context.Context, path string) (Analysis, error) {
	start := time.Now()
	run := export.Run{ID: uuid.NewString(), Source: filepath.Base(path), At: start.UTC()}

	dec, err := p.registry.ForPath(path)
	if err != nil {
		return Analysis{}, err
	}
	rc, err := decode.Open(path)
	if err != nil {
		return Analysis{}, err
	}
	defer rc.Close()

	p.logger.Info(ctx, "analyzing trace",
		logger.String("run_id", run.ID),
		logger.String("path", path),
		logger.String("decoder", dec.Name()),
		logger.Int64("window_size_us", p.windowSize))

	engine := correlation.NewEngine(correlation.WithWindowSize(p.windowSize))
	for rec, err := range dec.Decode(ctx, rc) {
		if err != nil {
			return Analysis{}, fmt.Errorf("analyze %s: %w", path, err)
		}
		engine.Process(ctx, rec)
	}

	a := Analysis{
		Run:         run,
		Decoder:     dec.Name(),
		Result:      engine.Result(),
		DecodeStats: dec.Stats(),
		EngineStats: engine.Stats(),
		Elapsed:     time.Since(start),
	}
	p.logger.Info(ctx, "trace analyzed",
		logger.String("run_id", run.ID),
		logger.Int64("processed", a.EngineStats.ProcessedCnt),
		logger.Int64("matched", a.EngineStats.SuccessCnt),
		logger.Int64("rejected", a.DecodeStats.Errors+a.DecodeStats.ValidationErrors),
		logger.Duration("elapsed", a.Elapsed))
	return a, nil
}

// Normalize decodes in and writes every valid record to out as NDJSON in
// the canonical field layout.
func (p *Pipeline) Normalize(ctx context.Context, in, out string) (stats decode.Stats, err error) {
	dec, err := p.registry.ForPath(in)
	if err != nil {
		return decode.Stats{}, err
	}
	rc, err := decode.Open(in)
	if err != nil {
		return decode.Stats{}, err
	}
	defer rc.Close()

	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return decode.Stats{}, fmt.Errorf("create output dir: %w", err)
	}
	f, err := os.Create(out)
	if err != nil {
		return decode.Stats{}, fmt.Errorf("create %s: %w", out, err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("close %s: %w", out, cerr)
		}
	}()

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for rec, derr := range dec.Decode(ctx, rc) {
		if derr != nil {
			return dec.Stats(), fmt.Errorf("normalize %s: %w", in, derr)
		}
		if err := enc.Encode(rec); err != nil {
			return dec.Stats(), fmt.Errorf("write %s: %w", out, err)
		}
	}
	if err := w.Flush(); err != nil {
		return dec.Stats(), fmt.Errorf("write %s: %w", out, err)
	}

	stats = dec.Stats()
	p.logger.Info(ctx, "trace normalized",
		logger.String("decoder", dec.Name()),
		logger.String("output", out),
		logger.Int64("records", stats.Succeeded))
	return stats, nil
}
