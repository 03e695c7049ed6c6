package main

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/okian/v2xmetrics/internal/adapters/decode"
	"github.com/okian/v2xmetrics/internal/adapters/export"
	service "github.com/okian/v2xmetrics/internal/app"
	"github.com/okian/v2xmetrics/pkg/logger"
)

type metricsFlags struct {
	outputDir  string
	windowSize int64
	json       bool
	clickhouse bool
}

func newMetricsCmd(c *cli) *cobra.Command {
	var f metricsFlags
	cmd := &cobra.Command{
		Use:   "metrics <input>",
		Short: "Compute delivery, latency and SINR metrics for a trace",
		Long: `metrics streams a trace through a fresh correlation engine and writes the
result tables to <output-dir>/<stem>/. A summary is printed on completion.`,
		Example: `  v2xmetrics metrics parsed_files/run1_parsed_20250101.json
  v2xmetrics metrics run1.csv.zst -o artifacts -w 500000 --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runMetrics(cmd, args[0], f)
		},
	}
	cmd.Flags().StringVarP(&f.outputDir, "output-dir", "o", "", "directory for metric tables (default: config output_dir)")
	cmd.Flags().Int64VarP(&f.windowSize, "window-size", "w", 0, "aggregation window in microseconds (default: config window_size)")
	cmd.Flags().BoolVar(&f.json, "json", false, "also write the full result as JSON")
	cmd.Flags().BoolVar(&f.clickhouse, "clickhouse", false, "also insert the result into ClickHouse (needs clickhouse_addr)")
	return cmd
}

func (c *cli) runMetrics(cmd *cobra.Command, input string, f metricsFlags) error {
	ctx := cmd.Context()
	log := logger.Get().Named("metrics")

	outDir := f.outputDir
	if outDir == "" {
		outDir = c.cfg.OutputDir
	}
	window := f.windowSize
	if window <= 0 {
		window = c.cfg.WindowSize
	}
	finalDir := filepath.Join(outDir, stem(input))

	p := service.NewPipeline(
		service.WithRegistry(decode.NewRegistry(decode.WithCSVDelimiter(c.cfg.Delimiter()))),
		service.WithPipelineWindowSize(window),
	)
	a, err := p.Analyze(ctx, input)
	if err != nil {
		return err
	}

	exporters := []export.Exporter{
		export.NewCSVExporter(finalDir,
			export.WithBaseName(c.cfg.OutputBase),
			export.WithCompression(c.cfg.CompressExports)),
	}
	if f.json {
		exporters = append(exporters, export.NewJSONExporter(finalDir, c.cfg.OutputBase))
	}
	if f.clickhouse {
		if c.cfg.ClickHouseAddr == "" {
			return fmt.Errorf("%w: set clickhouse_addr or V2X_CLICKHOUSE_ADDR", export.ErrNotConfigured)
		}
		ch, err := export.NewClickHouseExporter(ctx, export.ClickHouseConfig{
			Addr:     c.cfg.ClickHouseAddr,
			Database: c.cfg.ClickHouseDatabase,
			Username: c.cfg.ClickHouseUsername,
			Password: c.cfg.ClickHousePassword,
			Table:    c.cfg.ClickHouseTable,
		})
		if err != nil {
			return err
		}
		defer ch.Close()
		exporters = append(exporters, ch)
	}

	for _, e := range exporters {
		if err := e.Export(ctx, a.Run, a.Result); err != nil {
			return err
		}
	}
	log.Info(ctx, "metrics saved",
		logger.String("run_id", a.Run.ID),
		logger.String("dir", finalDir),
		logger.Duration("elapsed", a.Elapsed))

	printSummary(cmd.OutOrStdout(), a)
	return nil
}

func printSummary(w io.Writer, a service.Analysis) {
	s := a.Result.Summary()
	line := strings.Repeat("=", 40)
	fmt.Fprintln(w, line)
	fmt.Fprintln(w, "PROCESSING SUMMARY")
	fmt.Fprintln(w, line)
	fmt.Fprintf(w, "Run:                  %s\n", a.Run.ID)
	fmt.Fprintf(w, "Decoder:              %s\n", a.Decoder)
	fmt.Fprintf(w, "Records processed:    %d\n", s.TotalProcessed)
	fmt.Fprintf(w, "Lines rejected:       %d\n", a.DecodeStats.Errors+a.DecodeStats.ValidationErrors)
	fmt.Fprintf(w, "Matched tx/rx pairs:  %d\n", s.SuccessfullyMatched)
	fmt.Fprintf(w, "Match ratio:          %.4f\n", s.SuccessRate)
	fmt.Fprintf(w, "Overall PDR:          %.4f\n", s.OverallPDR)
	fmt.Fprintf(w, "Mean latency (us):    %.2f\n", s.OverallLatencyMean)
	if avg, ok := s.OverallSINRAvg.Get(); ok {
		fmt.Fprintf(w, "Mean SINR (dB):       %.2f\n", avg)
	} else {
		fmt.Fprintf(w, "Mean SINR (dB):       %s\n", export.NotAvailable)
	}
	fmt.Fprintf(w, "Unique pairs:         %d\n", s.UniquePairs)
	for _, an := range a.Result.AnomalyList() {
		fmt.Fprintf(w, "Anomaly %-20s%d\n", an.Type+":", an.Count)
	}
	fmt.Fprintln(w, line)
}
