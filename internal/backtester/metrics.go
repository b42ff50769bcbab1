// Package backtester provides performance metrics calculation.
package backtester

import (
	"math"

	"github.com/atlas-desktop/forecasting-studio/pkg/types"
	"github.com/atlas-desktop/forecasting-studio/pkg/utils"
)

// TradingDaysPerYear annualizes the Sharpe ratio. Every series is treated as
// daily regardless of its actual sampling interval.
const TradingDaysPerYear = 252

// MetricsCalculator calculates performance metrics
type MetricsCalculator struct{}

// NewMetricsCalculator creates a new metrics calculator
func NewMetricsCalculator() *MetricsCalculator {
	return &MetricsCalculator{}
}

// Calculate computes the report for an equity curve and its trade returns.
// It is total: every field is finite for any input.
func (mc *MetricsCalculator) Calculate(equity []float64, tradeReturns []float64) types.BacktestReport {
	report := types.BacktestReport{
		Trades: len(tradeReturns),
	}

	if len(equity) > 0 && equity[0] != 0 {
		report.TotalReturn = equity[len(equity)-1]/equity[0] - 1
	}

	report.Sharpe = mc.sharpe(mc.periodReturns(equity))
	report.MaxDrawdown = mc.maxDrawdown(equity)

	if report.Trades > 0 {
		wins := 0
		for _, r := range tradeReturns {
			if r > 0 {
				wins++
			}
		}
		report.WinRate = float64(wins) / float64(report.Trades)
	}

	return report
}

// periodReturns returns equity[t]/equity[t-1]-1, with 0 at t=0 and after a
// zero equity value.
func (mc *MetricsCalculator) periodReturns(equity []float64) []float64 {
	returns := make([]float64, len(equity))
	for t := 1; t < len(equity); t++ {
		returns[t] = utils.PercentChange(equity[t-1], equity[t])
	}
	return returns
}

// sharpe is the annualized mean/stddev ratio, or 0 when the deviation is zero
// or undefined.
func (mc *MetricsCalculator) sharpe(returns []float64) float64 {
	vol := utils.StdDev(returns)
	if vol == 0 || !utils.IsFinite(vol) {
		return 0
	}

	s := utils.Mean(returns) / vol * math.Sqrt(TradingDaysPerYear)
	if !utils.IsFinite(s) {
		return 0
	}
	return s
}

// maxDrawdown returns the most negative equity/running-peak - 1.
func (mc *MetricsCalculator) maxDrawdown(equity []float64) float64 {
	if len(equity) == 0 {
		return 0
	}

	var maxDD float64
	peak := equity[0]
	for _, e := range equity {
		if e > peak {
			peak = e
		}
		if peak <= 0 {
			continue
		}
		if dd := e/peak - 1; dd < maxDD {
			maxDD = dd
		}
	}
	return maxDD
}
