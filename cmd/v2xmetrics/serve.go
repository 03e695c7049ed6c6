package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/okian/v2xmetrics/internal/adapters/export"
	"github.com/okian/v2xmetrics/internal/adapters/http/api"
	"github.com/okian/v2xmetrics/internal/adapters/http/swagger"
	"github.com/okian/v2xmetrics/internal/adapters/mq/natsource"
	service "github.com/okian/v2xmetrics/internal/app"
	"github.com/okian/v2xmetrics/pkg/logger"
)

// HTTP server timeout constants.
const (
	readTimeout       = 30 * time.Second
	writeTimeout      = 30 * time.Second
	idleTimeout       = 60 * time.Second
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 30 * time.Second
)

type serveFlags struct {
	addr   string
	export bool
}

func newServeCmd(c *cli) *cobra.Command {
	var f serveFlags
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the ingest service",
		Long: `serve accepts NDJSON event batches on POST /events (and from NATS when
nats_url is set), correlates them in arrival order and serves the live result
on GET /result, /summary and /anomalies.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.runServe(cmd.Context(), f)
		},
	}
	cmd.Flags().StringVar(&f.addr, "addr", "", "listen address (default: config addr)")
	cmd.Flags().BoolVar(&f.export, "export", false, "write the final result to output_dir on shutdown")
	return cmd
}

func (c *cli) runServe(ctx context.Context, f serveFlags) error {
	log := logger.Get().Named("serve")
	addr := f.addr
	if addr == "" {
		addr = c.cfg.Addr
	}

	svc := service.New(
		service.WithWindowSize(c.cfg.WindowSize),
		service.WithQueueSize(c.cfg.QueueSize),
		service.WithDedupeSize(c.cfg.DedupeSize),
		service.WithStopTimeout(shutdownTimeout),
	)
	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("start service: %w", err)
	}

	var src *natsource.Source
	if c.cfg.NATSURL != "" {
		nc := natsource.DefaultConfig()
		nc.URL = c.cfg.NATSURL
		nc.Subject = c.cfg.NATSSubject
		var err error
		if src, err = natsource.Connect(nc, svc); err != nil {
			_ = svc.Stop(context.WithoutCancel(ctx))
			return err
		}
		if err := src.Start(context.WithoutCancel(ctx)); err != nil {
			src.Close()
			_ = svc.Stop(context.WithoutCancel(ctx))
			return err
		}
	}

	mux := http.NewServeMux()
	swagger.Register(mux)
	stats := api.StatsFunc(func(ctx context.Context) any { return svc.GetStats(ctx) })
	api.NewServer(svc, stats).Register(mux)

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info(ctx, "starting HTTP server", logger.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}
	log.Info(ctx, "shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(shutdownCtx, "server shutdown failed", logger.Error(err))
	}
	if src != nil {
		src.Close()
	}
	if err := svc.Stop(shutdownCtx); err != nil {
		log.Error(shutdownCtx, "service drain incomplete", logger.Error(err))
	}

	if f.export {
		if err := c.exportFinal(shutdownCtx, svc); err != nil {
			log.Error(shutdownCtx, "final export failed", logger.Error(err))
			serveErr = errors.Join(serveErr, err)
		}
	}
	log.Info(shutdownCtx, "server stopped")
	return serveErr
}

// exportFinal writes the result accumulated by the service as one run.
func (c *cli) exportFinal(ctx context.Context, svc *service.Service) error {
	run := export.Run{ID: uuid.NewString(), Source: "serve", At: time.Now().UTC()}
	dir := filepath.Join(c.cfg.OutputDir, "serve_"+run.At.Format("20060102_150405"))
	res := svc.Result()
	for _, e := range []export.Exporter{
		export.NewCSVExporter(dir, export.WithBaseName(c.cfg.OutputBase), export.WithCompression(c.cfg.CompressExports)),
		export.NewJSONExporter(dir, c.cfg.OutputBase),
	} {
		if err := e.Export(ctx, run, res); err != nil {
			return err
		}
	}
	logger.Get().Info(ctx, "final result exported", logger.String("dir", dir), logger.String("run_id", run.ID))
	return nil
}
