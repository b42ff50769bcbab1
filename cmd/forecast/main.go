// Package main provides the forecast command line tool, which runs
// backtests and walk-forward analyses over local price files.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/atlas-desktop/forecasting-studio/internal/backtester"
	"github.com/atlas-desktop/forecasting-studio/internal/config"
	"github.com/atlas-desktop/forecasting-studio/internal/data"
	"github.com/atlas-desktop/forecasting-studio/internal/strategy"
	"github.com/atlas-desktop/forecasting-studio/internal/telemetry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// app holds the components shared by every subcommand. It is built in the
// root command's PersistentPreRunE, after flags are parsed.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *data.Store
	engine *backtester.Engine
}

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "forecast",
		Short: "Backtest and walk-forward evaluation of trading strategies",
		Long: `forecast evaluates trading strategies against historical close prices
stored as CSV (timestamp, close columns) or Parquet files.

Examples:
  forecast backtest --file prices.csv --strategy sma_cross --param fast=10 --param slow=30
  forecast walkforward --file prices.csv --grid fast=5,10,20 --grid slow=30,50
  forecast strategies
  forecast convert --file prices.csv --out prices.parquet`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				a.logger.Sync()
			}
		},
	}
	root.SetOut(out)
	config.RegisterFlags(root.PersistentFlags())

	root.AddCommand(
		newBacktestCmd(a),
		newWalkForwardCmd(a),
		newStrategiesCmd(a),
		newConvertCmd(a),
	)
	return root
}

func (a *app) init(cmd *cobra.Command) error {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := telemetry.NewLogger(cfg.LogLevel, "stderr")
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}

	store, err := data.NewStore(logger, cfg.Data.DataDir)
	if err != nil {
		return err
	}

	a.cfg = cfg
	a.logger = logger
	a.store = store
	a.engine = backtester.NewEngine(logger, strategy.NewStrategyRegistry(logger), nil)
	return nil
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
