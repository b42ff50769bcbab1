package backtester

import (
	"time"

	"github.com/atlas-desktop/forecasting-studio/pkg/types"
	"github.com/atlas-desktop/forecasting-studio/pkg/utils"
)

// Curve holds every per-period series derived from one price series and the
// signals a strategy produced for it. All slices share the series length.
type Curve struct {
	Timestamps      []time.Time
	Signals         []types.Signal
	Positions       []float64
	Returns         []float64
	StrategyReturns []float64
	Equity          []float64
	// TradeReturns are the strategy returns of periods whose position differs
	// from the previous period's position.
	TradeReturns []float64
}

// BuildCurve converts signals into positions, returns and an equity curve.
//
// Default substitutions, in order:
//   - a price timestamp with no matching signal gets signal 0
//   - the position at the first period is 0 (no prior signal)
//   - the period return at the first period is 0 (no prior close), and a
//     period following a zero close also returns 0
//
// Signals outside {-1, 0, 1} are reduced to their sign.
func BuildCurve(series types.PriceSeries, signals types.SignalSeries) *Curve {
	n := len(series)
	c := &Curve{
		Timestamps:      make([]time.Time, n),
		Signals:         alignSignals(series, signals),
		Positions:       make([]float64, n),
		Returns:         make([]float64, n),
		StrategyReturns: make([]float64, n),
		Equity:          make([]float64, n),
	}

	equity := 1.0
	for t := 0; t < n; t++ {
		c.Timestamps[t] = series[t].Timestamp

		if t > 0 {
			c.Positions[t] = float64(c.Signals[t-1])
			c.Returns[t] = utils.PercentChange(series[t-1].Close, series[t].Close)
		}

		c.StrategyReturns[t] = c.Positions[t] * c.Returns[t]
		equity *= 1 + c.StrategyReturns[t]
		c.Equity[t] = equity

		if t > 0 && c.Positions[t] != c.Positions[t-1] {
			c.TradeReturns = append(c.TradeReturns, c.StrategyReturns[t])
		}
	}

	return c
}

// alignSignals left-joins signals onto the series by timestamp.
func alignSignals(series types.PriceSeries, signals types.SignalSeries) []types.Signal {
	byTime := make(map[int64]types.Signal, len(signals))
	for _, s := range signals {
		byTime[s.Timestamp.UnixNano()] = normalizeSignal(s.Signal)
	}

	out := make([]types.Signal, len(series))
	for i, p := range series {
		out[i] = byTime[p.Timestamp.UnixNano()]
	}
	return out
}

func normalizeSignal(s types.Signal) types.Signal {
	switch {
	case s > 0:
		return types.SignalLong
	case s < 0:
		return types.SignalShort
	}
	return types.SignalFlat
}
