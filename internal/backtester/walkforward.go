// Package backtester provides walk-forward analysis for strategy validation.
package backtester

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/atlas-desktop/forecasting-studio/internal/strategy"
	"github.com/atlas-desktop/forecasting-studio/internal/telemetry"
	"github.com/atlas-desktop/forecasting-studio/internal/workers"
	"github.com/atlas-desktop/forecasting-studio/pkg/types"
	"github.com/atlas-desktop/forecasting-studio/pkg/utils"
	"go.uber.org/zap"
)

// overfitEpsilon keeps the overfit ratio finite when the median in-sample
// Sharpe is zero.
const overfitEpsilon = 1e-9

// WalkForwardRequest describes one walk-forward run.
type WalkForwardRequest struct {
	RunID         string
	Series        types.PriceSeries
	StrategyName  string
	ParamSpace    types.ParamSpace
	InSampleDays  int
	OutSampleDays int
	// OnProgress, if set, is called synchronously after each completed window.
	OnProgress func(types.WalkForwardProgress)
}

// WalkForwardAnalyzer performs walk-forward optimization analysis
type WalkForwardAnalyzer struct {
	logger  *zap.Logger
	engine  *Engine
	pool    *workers.Pool
	metrics *telemetry.Metrics
}

// NewWalkForwardAnalyzer creates a new walk-forward analyzer. The in-sample
// grid runs on pool when it is running and sequentially otherwise.
func NewWalkForwardAnalyzer(
	logger *zap.Logger,
	engine *Engine,
	pool *workers.Pool,
	metrics *telemetry.Metrics,
) *WalkForwardAnalyzer {
	return &WalkForwardAnalyzer{
		logger:  logger,
		engine:  engine,
		pool:    pool,
		metrics: metrics,
	}
}

// candidate is one grid combination with its constructed strategy.
type candidate struct {
	params types.Params
	strat  strategy.Strategy
}

// Run performs walk-forward analysis.
//
// If ctx is cancelled between windows, Run returns the aggregate of the
// windows completed so far with Partial set, together with ctx.Err().
func (wf *WalkForwardAnalyzer) Run(ctx context.Context, req WalkForwardRequest) (*types.WalkForwardResult, error) {
	start := time.Now()

	result, err := wf.run(ctx, req)
	wf.metrics.ObserveWalkForward(runStatus(err), time.Since(start))
	return result, err
}

func (wf *WalkForwardAnalyzer) run(ctx context.Context, req WalkForwardRequest) (*types.WalkForwardResult, error) {
	if req.InSampleDays < 1 || req.OutSampleDays < 1 {
		return nil, fmt.Errorf("%w: insample=%d outsample=%d", ErrInvalidWindow, req.InSampleDays, req.OutSampleDays)
	}
	if err := ValidateSeries(req.Series); err != nil {
		return nil, err
	}

	candidates, err := wf.buildCandidates(req.StrategyName, req.ParamSpace)
	if err != nil {
		return nil, err
	}

	series := req.Series
	n := len(series)
	total := windowCount(n, req.InSampleDays, req.OutSampleDays)

	wf.logger.Info("Starting walk-forward analysis",
		zap.String("runId", req.RunID),
		zap.String("strategy", req.StrategyName),
		zap.Int("windowCount", total),
		zap.Int("candidates", len(candidates)),
		zap.Int("insampleDays", req.InSampleDays),
		zap.Int("outsampleDays", req.OutSampleDays),
	)

	acc := &oosAccumulator{
		segments: make([]types.WalkForwardSegment, 0, total),
	}
	sharpes := make([]float64, len(candidates))

	for i := 0; i+req.InSampleDays+req.OutSampleDays <= n; i += req.OutSampleDays {
		if err := ctx.Err(); err != nil {
			return wf.abort(req, acc, err)
		}

		isEnd := i + req.InSampleDays
		inSample := series[i:isEnd]
		outSample := series[isEnd : isEnd+req.OutSampleDays]

		if err := wf.evaluateGrid(ctx, candidates, inSample, sharpes); err != nil {
			if ctx.Err() != nil {
				return wf.abort(req, acc, ctx.Err())
			}
			return nil, err
		}
		wf.metrics.AddGridEvaluations(len(candidates))

		best := 0
		for k := 1; k < len(sharpes); k++ {
			if sharpes[k] > sharpes[best] {
				best = k
			}
		}

		oosCurve, _ := wf.engine.Evaluate(candidates[best].strat, outSample)

		seg := types.WalkForwardSegment{
			InSampleRange:  rangeOf(inSample),
			OutSampleRange: rangeOf(outSample),
			BestParams:     candidates[best].params,
			BestSharpe:     sharpes[best],
		}
		acc.add(seg, oosCurve.StrategyReturns, outSample.Timestamps())
		wf.metrics.AddWindow()

		wf.logger.Debug("Window completed",
			zap.String("runId", req.RunID),
			zap.Int("window", len(acc.segments)),
			zap.Int("total", total),
			zap.Any("bestParams", seg.BestParams),
			zap.Float64("bestSharpe", seg.BestSharpe),
		)

		if req.OnProgress != nil {
			req.OnProgress(types.WalkForwardProgress{
				RunID:   req.RunID,
				Window:  len(acc.segments),
				Total:   total,
				Segment: seg,
			})
		}
	}

	result := acc.result(wf.engine.calc)
	result.ID = req.RunID

	attrs := []zap.Field{
		zap.String("runId", req.RunID),
		zap.Int("segments", len(result.Segments)),
	}
	if result.OverfitRisk != nil {
		attrs = append(attrs,
			zap.Float64("oosSharpe", result.OOS.Report.Sharpe),
			zap.Float64("overfitRisk", *result.OverfitRisk),
		)
	}
	wf.logger.Info("Walk-forward analysis complete", attrs...)

	return result, nil
}

// buildCandidates expands the grid and constructs one strategy per
// combination, so invalid parameters fail before any window is evaluated.
func (wf *WalkForwardAnalyzer) buildCandidates(name string, space types.ParamSpace) ([]candidate, error) {
	combos, err := ExpandParamSpace(space)
	if err != nil {
		return nil, err
	}

	out := make([]candidate, len(combos))
	for i, params := range combos {
		strat, err := wf.engine.registry.Create(name, params)
		if err != nil {
			return nil, err
		}
		out[i] = candidate{params: params, strat: strat}
	}
	return out, nil
}

// evaluateGrid writes the in-sample Sharpe of every candidate into sharpes,
// indexed like candidates.
func (wf *WalkForwardAnalyzer) evaluateGrid(ctx context.Context, candidates []candidate, inSample types.PriceSeries, sharpes []float64) error {
	eval := func(k int) error {
		_, report := wf.engine.Evaluate(candidates[k].strat, inSample)
		sharpes[k] = report.Sharpe
		return nil
	}

	if wf.pool == nil || !wf.pool.IsRunning() || len(candidates) == 1 {
		for k := range candidates {
			if err := eval(k); err != nil {
				return err
			}
		}
		return nil
	}
	return wf.pool.Map(ctx, len(candidates), eval)
}

func (wf *WalkForwardAnalyzer) abort(req WalkForwardRequest, acc *oosAccumulator, cause error) (*types.WalkForwardResult, error) {
	result := acc.result(wf.engine.calc)
	result.ID = req.RunID
	result.Partial = true

	wf.logger.Info("Walk-forward analysis cancelled",
		zap.String("runId", req.RunID),
		zap.Int("segments", len(result.Segments)),
		zap.Error(cause),
	)
	return result, cause
}

// oosAccumulator collects segments and the concatenated out-of-sample
// returns across windows.
type oosAccumulator struct {
	segments   []types.WalkForwardSegment
	returns    []float64
	timestamps []string
}

func (a *oosAccumulator) add(seg types.WalkForwardSegment, returns []float64, timestamps []string) {
	a.segments = append(a.segments, seg)
	a.returns = append(a.returns, returns...)
	a.timestamps = append(a.timestamps, timestamps...)
}

// result aggregates the accumulated windows. The combined out-of-sample
// report counts every out-of-sample period as a trade return.
func (a *oosAccumulator) result(calc *MetricsCalculator) *types.WalkForwardResult {
	result := &types.WalkForwardResult{Segments: a.segments}
	if len(a.returns) == 0 {
		return result
	}

	equity := make([]float64, len(a.returns))
	level := 1.0
	for t, r := range a.returns {
		level *= 1 + r
		equity[t] = level
	}

	report := calc.Calculate(equity, a.returns)

	isSharpes := make([]float64, len(a.segments))
	for i, seg := range a.segments {
		isSharpes[i] = seg.BestSharpe
	}
	risk := math.Max(0, 1-report.Sharpe/(math.Abs(utils.Median(isSharpes))+overfitEpsilon))

	result.OOS = &types.OutOfSample{
		Report:     report,
		Timestamps: a.timestamps,
	}
	result.OverfitRisk = &risk
	return result
}

// windowCount returns how many full in-sample/out-of-sample windows fit in n
// observations.
func windowCount(n, insample, outsample int) int {
	if n < insample+outsample {
		return 0
	}
	return (n-insample-outsample)/outsample + 1
}

func rangeOf(s types.PriceSeries) [2]string {
	return [2]string{
		s[0].Timestamp.Format(types.TimestampLayout),
		s[len(s)-1].Timestamp.Format(types.TimestampLayout),
	}
}
