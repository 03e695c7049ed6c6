package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/okian/v2xmetrics/internal/config"
	"github.com/okian/v2xmetrics/pkg/logger"
)

const version = "0.1.0"

// cli carries state shared by subcommands after the root pre-run.
type cli struct {
	cfgFile  string
	logLevel string
	cfg      *config.Config
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:   "v2xmetrics",
		Short: "V2X tx/rx correlation and link metrics",
		Long: `v2xmetrics pairs transmissions with receptions by packet id and reports
packet delivery ratio, latency and SINR per link, per application and per time
window, together with anomaly counters.`,
		Version:       version,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.init(cmd)
		},
	}
	root.PersistentFlags().StringVar(&c.cfgFile, "config", "", "YAML config file (default: $V2X_CONFIG)")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "log level: debug, info, warn, error (overrides config)")

	root.AddCommand(
		newParseCmd(c),
		newMetricsCmd(c),
		newServeCmd(c),
		newGenerateCmd(c),
	)
	return root
}

// init loads configuration and sets up logging on stderr so stdout stays
// free for command output.
func (c *cli) init(cmd *cobra.Command) error {
	ctx := cmd.Context()
	var err error
	if c.cfgFile != "" {
		c.cfg, err = config.LoadFile(ctx, c.cfgFile)
	} else {
		c.cfg, err = config.Load(ctx)
	}
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := logger.Init(logger.WithFormat(c.cfg.LogFormat), logger.WithWriter(cmd.ErrOrStderr())); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	level := c.cfg.LogLevel
	if c.logLevel != "" {
		level = c.logLevel
	}
	if err := logger.SetLevelString(level); err != nil {
		logger.Get().Warn(ctx, "invalid log level; falling back to info", logger.String("log_level", level), logger.Error(err))
		_ = logger.SetLevelString("info")
	}
	return nil
}
