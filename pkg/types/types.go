// Package types provides shared type definitions for the forecasting backend.
package types

import (
	"time"
)

// TimestampLayout is the ISO-8601 layout used for every timestamp that
// crosses the service boundary.
const TimestampLayout = time.RFC3339

// Signal is a strategy's directional recommendation for one period.
type Signal int

const (
	SignalShort Signal = -1
	SignalFlat  Signal = 0
	SignalLong  Signal = 1
)

// PricePoint is a single close observation.
type PricePoint struct {
	Timestamp time.Time `json:"timestamp"`
	Close     float64   `json:"close"`
}

// PriceSeries is an ascending, time-ordered sequence of closes.
type PriceSeries []PricePoint

// Closes returns the close prices in series order.
func (s PriceSeries) Closes() []float64 {
	out := make([]float64, len(s))
	for i, p := range s {
		out[i] = p.Close
	}
	return out
}

// Timestamps returns the series timestamps formatted with TimestampLayout.
func (s PriceSeries) Timestamps() []string {
	out := make([]string, len(s))
	for i, p := range s {
		out[i] = p.Timestamp.Format(TimestampLayout)
	}
	return out
}

// SignalPoint is one strategy output row.
type SignalPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Signal    Signal    `json:"signal"`
}

// SignalSeries is the output of a strategy, one row per input timestamp.
type SignalSeries []SignalPoint

// BacktestReport summarises an equity curve and its trade returns.
type BacktestReport struct {
	TotalReturn float64 `json:"total_return"`
	Sharpe      float64 `json:"sharpe"`
	MaxDrawdown float64 `json:"max_drawdown"`
	WinRate     float64 `json:"win_rate"`
	Trades      int     `json:"trades"`
}

// BacktestResult is returned by a single backtest run.
type BacktestResult struct {
	ID         string         `json:"id,omitempty"`
	Report     BacktestReport `json:"report"`
	Equity     []float64      `json:"equity"`
	Timestamps []string       `json:"timestamps"`
}

// Params is an untyped parameter set as received from callers. Strategies
// decode it into their own typed parameter structs.
type Params map[string]any

// ParamSpace maps a parameter name to its candidate values.
type ParamSpace map[string][]any

// WalkForwardSegment describes one rolling window.
type WalkForwardSegment struct {
	InSampleRange  [2]string `json:"is_range"`
	OutSampleRange [2]string `json:"oos_range"`
	BestParams     Params    `json:"best_params"`
	BestSharpe     float64   `json:"best_is_sharpe"`
}

// OutOfSample aggregates every out-of-sample period of a walk-forward run.
type OutOfSample struct {
	Report     BacktestReport `json:"report"`
	Timestamps []string       `json:"timestamps"`
}

// WalkForwardResult is returned by a walk-forward run. OOS and OverfitRisk
// are nil when no window fit inside the series.
type WalkForwardResult struct {
	ID          string               `json:"id,omitempty"`
	Segments    []WalkForwardSegment `json:"segments"`
	OOS         *OutOfSample         `json:"oos"`
	OverfitRisk *float64             `json:"overfit_risk"`
	Partial     bool                 `json:"partial,omitempty"`
}

// WalkForwardProgress is emitted after each completed window.
type WalkForwardProgress struct {
	RunID   string             `json:"run_id"`
	Window  int                `json:"window"`
	Total   int                `json:"total"`
	Segment WalkForwardSegment `json:"segment"`
}
