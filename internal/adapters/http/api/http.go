// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/okian/v2xmetrics/internal/adapters/mq/queue"
	"github.com/okian/v2xmetrics/internal/domain/report"
	"github.com/okian/v2xmetrics/pkg/logger"
	"github.com/okian/v2xmetrics/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultMaxBodyBytes caps the size of one POST /events body.
const DefaultMaxBodyBytes int64 = 32 << 20

// Dependencies required by HTTP handlers.
type Dependencies interface {
	// Submit enqueues a batch; it reports false for a replayed batch id.
	Submit(ctx context.Context, b queue.Batch) (bool, error)

	// Result finalizes the live engine state.
	Result() report.Result
}

// StatsProvider returns a JSON-encodable monitoring snapshot.
type StatsProvider interface {
	Stats(ctx context.Context) any
}

// StatsFunc adapts a function to StatsProvider.
type StatsFunc func(ctx context.Context) any

func (f StatsFunc) Stats(ctx context.Context) any { return f(ctx) }

// Server wires HTTP routes for the ingest API.
type Server struct {
	healthHandler  *HealthHandler
	statsHandler   *StatsHandler
	eventsHandler  *EventsHandler
	resultsHandler *ResultsHandler
}

// Option configures a Server.
type Option func(*serverOptions)

type serverOptions struct {
	maxBodyBytes int64
	logger       logger.Logger
}

// WithMaxBodyBytes limits the accepted size of an event batch.
func WithMaxBodyBytes(n int64) Option {
	return func(o *serverOptions) {
		if n > 0 {
			o.maxBodyBytes = n
		}
	}
}

// WithLogger sets a custom logger for the handlers.
func WithLogger(l logger.Logger) Option {
	return func(o *serverOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, stats StatsProvider, opts ...Option) *Server {
	o := serverOptions{maxBodyBytes: DefaultMaxBodyBytes}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logger.Get().Named("api")
	}
	return &Server{
		healthHandler:  NewHealthHandler(),
		statsHandler:   NewStatsHandler(stats),
		eventsHandler:  NewEventsHandler(deps, o.maxBodyBytes, o.logger),
		resultsHandler: NewResultsHandler(deps),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{}))
	mux.HandleFunc("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("/events", MetricsMiddleware(s.eventsHandler.HandlePostEvents, "events"))
	mux.HandleFunc("/result", MetricsMiddleware(s.resultsHandler.HandleResult, "result"))
	mux.HandleFunc("/summary", MetricsMiddleware(s.resultsHandler.HandleSummary, "summary"))
	mux.HandleFunc("/anomalies", MetricsMiddleware(s.resultsHandler.HandleAnomalies, "anomalies"))
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}
