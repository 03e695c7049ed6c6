package main

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/okian/v2xmetrics/internal/adapters/decode"
	service "github.com/okian/v2xmetrics/internal/app"
	"github.com/okian/v2xmetrics/pkg/logger"
)

const parsedDir = "parsed_files"

func newParseCmd(c *cli) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "parse <input>",
		Short: "Normalize a trace into canonical NDJSON",
		Example: `  v2xmetrics parse logs/run1.csv
  v2xmetrics parse logs/run1.ndjson.gz -o parsed/run1.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := args[0]
			out := output
			if out == "" {
				out = defaultParsedPath(in, time.Now())
			}
			p := service.NewPipeline(service.WithRegistry(decode.NewRegistry(decode.WithCSVDelimiter(c.cfg.Delimiter()))))
			stats, err := p.Normalize(cmd.Context(), in, out)
			if err != nil {
				return err
			}
			logger.Get().Info(cmd.Context(), "parse finished",
				logger.String("input", in),
				logger.String("output", out),
				logger.Int64("processed", stats.Processed),
				logger.Int64("errors", stats.Errors),
				logger.Int64("validation_errors", stats.ValidationErrors))
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default: parsed_files/<stem>_parsed_<YYYYMMDD>.json)")
	return cmd
}

// stem returns the file name without directory, compression suffix and extension.
func stem(path string) string {
	base := filepath.Base(path)
	for _, suffix := range []string{".gz", ".zst"} {
		base = strings.TrimSuffix(base, suffix)
	}
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func defaultParsedPath(in string, now time.Time) string {
	return filepath.Join(parsedDir, fmt.Sprintf("%s_parsed_%s.json", stem(in), now.Format("20060102")))
}
