package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/atlas-desktop/forecasting-studio/internal/backtester"
	"github.com/atlas-desktop/forecasting-studio/internal/data"
	"github.com/atlas-desktop/forecasting-studio/internal/strategy"
	"github.com/atlas-desktop/forecasting-studio/internal/workers"
	"github.com/atlas-desktop/forecasting-studio/pkg/types"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newBacktestCmd(a *app) *cobra.Command {
	var (
		file         string
		strategyName string
		params       []string
	)

	cmd := &cobra.Command{
		Use:   "backtest",
		Short: "Run a single backtest over a price file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := parseParams(params)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			series, err := a.store.LoadSeries(ctx, file)
			if err != nil {
				return err
			}

			result, err := a.engine.Run(ctx, series, strategyName, p)
			if err != nil {
				return err
			}
			result.ID = uuid.New().String()

			return printJSON(cmd, result)
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "CSV or Parquet price file")
	cmd.Flags().StringVar(&strategyName, "strategy", string(strategy.KindSMACross), "Strategy name")
	cmd.Flags().StringArrayVar(&params, "param", nil, "Strategy parameter as key=value (repeatable)")
	cmd.MarkFlagRequired("file")
	return cmd
}

func newWalkForwardCmd(a *app) *cobra.Command {
	var (
		file          string
		strategyName  string
		grid          []string
		insampleDays  int
		outsampleDays int
	)

	cmd := &cobra.Command{
		Use:   "walkforward",
		Short: "Run a rolling walk-forward optimization over a price file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			space, err := parseGrid(grid)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("insample") {
				insampleDays = a.cfg.WalkForward.InSampleDays
			}
			if !cmd.Flags().Changed("outsample") {
				outsampleDays = a.cfg.WalkForward.OutSampleDays
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			series, err := a.store.LoadSeries(ctx, file)
			if err != nil {
				return err
			}

			pool := workers.NewPool(a.logger, &workers.PoolConfig{
				Name:            "grid-search",
				NumWorkers:      a.cfg.Workers.Count,
				QueueSize:       a.cfg.Workers.QueueSize,
				ShutdownTimeout: 10 * time.Second,
				PanicRecovery:   true,
			})
			pool.Start()
			defer pool.Stop()

			analyzer := backtester.NewWalkForwardAnalyzer(a.logger, a.engine, pool, nil)
			result, err := analyzer.Run(ctx, backtester.WalkForwardRequest{
				RunID:         uuid.New().String(),
				Series:        series,
				StrategyName:  strategyName,
				ParamSpace:    space,
				InSampleDays:  insampleDays,
				OutSampleDays: outsampleDays,
				OnProgress: func(p types.WalkForwardProgress) {
					a.logger.Info("Window completed",
						zap.Int("window", p.Window),
						zap.Int("total", p.Total),
						zap.Any("bestParams", p.Segment.BestParams))
				},
			})
			if result != nil {
				if perr := printJSON(cmd, result); perr != nil && err == nil {
					err = perr
				}
			}
			return err
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "CSV or Parquet price file")
	cmd.Flags().StringVar(&strategyName, "strategy", string(strategy.KindSMACross), "Strategy name")
	cmd.Flags().StringArrayVar(&grid, "grid", nil, "Candidate values as key=v1,v2,... (repeatable)")
	cmd.Flags().IntVar(&insampleDays, "insample", 252, "In-sample window length in periods")
	cmd.Flags().IntVar(&outsampleDays, "outsample", 63, "Out-of-sample window length in periods")
	cmd.MarkFlagRequired("file")
	return cmd
}

func newStrategiesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "strategies",
		Short: "List the available strategies and their parameters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return printJSON(cmd, a.engine.Registry().Describe())
		},
	}
}

func newConvertCmd(a *app) *cobra.Command {
	var file, out string

	cmd := &cobra.Command{
		Use:   "convert",
		Short: "Convert a price file to Parquet",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !strings.EqualFold(filepath.Ext(out), ".parquet") {
				return fmt.Errorf("%w: output must be .parquet, got %q", data.ErrUnsupportedFormat, out)
			}

			series, err := a.store.LoadSeries(context.Background(), file)
			if err != nil {
				return err
			}
			if err := backtester.ValidateSeries(series); err != nil {
				return err
			}
			if err := a.store.SaveParquet(out, series); err != nil {
				return err
			}

			return printJSON(cmd, map[string]interface{}{
				"rows":  len(series),
				"out":   out,
				"first": series[0].Timestamp.Format(types.TimestampLayout),
				"last":  series[len(series)-1].Timestamp.Format(types.TimestampLayout),
			})
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "Source CSV or Parquet price file")
	cmd.Flags().StringVar(&out, "out", "", "Destination .parquet file")
	cmd.MarkFlagRequired("file")
	cmd.MarkFlagRequired("out")
	return cmd
}
