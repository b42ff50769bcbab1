package backtester

import (
	"context"
	"errors"
	"time"

	"github.com/atlas-desktop/forecasting-studio/internal/strategy"
	"github.com/atlas-desktop/forecasting-studio/internal/telemetry"
	"github.com/atlas-desktop/forecasting-studio/pkg/types"
	"go.uber.org/zap"
)

// Engine runs single-pass backtests. It holds no per-run state and is safe
// for concurrent use.
type Engine struct {
	logger   *zap.Logger
	registry *strategy.StrategyRegistry
	calc     *MetricsCalculator
	metrics  *telemetry.Metrics
}

// NewEngine creates a new backtest engine. metrics may be nil.
func NewEngine(logger *zap.Logger, registry *strategy.StrategyRegistry, metrics *telemetry.Metrics) *Engine {
	return &Engine{
		logger:   logger,
		registry: registry,
		calc:     NewMetricsCalculator(),
		metrics:  metrics,
	}
}

// Registry returns the strategy registry the engine resolves names against.
func (e *Engine) Registry() *strategy.StrategyRegistry {
	return e.registry
}

// Run resolves the named strategy and evaluates it over the whole series.
// The result carries no ID; callers that track runs assign one.
func (e *Engine) Run(ctx context.Context, series types.PriceSeries, name string, params types.Params) (*types.BacktestResult, error) {
	start := time.Now()

	result, err := e.run(ctx, series, name, params)

	label := name
	if !e.registry.Has(name) {
		label = "unknown"
	}
	e.metrics.ObserveBacktest(label, runStatus(err), time.Since(start))
	if err != nil {
		return nil, err
	}

	e.logger.Info("Backtest completed",
		zap.String("strategy", name),
		zap.Int("periods", len(series)),
		zap.Float64("totalReturn", result.Report.TotalReturn),
		zap.Float64("sharpe", result.Report.Sharpe),
		zap.Int("trades", result.Report.Trades),
		zap.Duration("elapsed", time.Since(start)),
	)
	return result, nil
}

func (e *Engine) run(ctx context.Context, series types.PriceSeries, name string, params types.Params) (*types.BacktestResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := ValidateSeries(series); err != nil {
		return nil, err
	}

	strat, err := e.registry.Create(name, params)
	if err != nil {
		return nil, err
	}

	curve, report := e.Evaluate(strat, series)
	return &types.BacktestResult{
		Report:     report,
		Equity:     curve.Equity,
		Timestamps: series.Timestamps(),
	}, nil
}

// Evaluate runs strat over series and computes the curve and its report.
// series is assumed valid.
func (e *Engine) Evaluate(strat strategy.Strategy, series types.PriceSeries) (*Curve, types.BacktestReport) {
	curve := BuildCurve(series, strat.GenerateSignals(series))
	return curve, e.calc.Calculate(curve.Equity, curve.TradeReturns)
}

func runStatus(err error) string {
	switch {
	case err == nil:
		return telemetry.StatusOK
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return telemetry.StatusCancelled
	}
	return telemetry.StatusError
}
