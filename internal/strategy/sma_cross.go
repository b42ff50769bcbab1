package strategy

import (
	"fmt"

	"github.com/atlas-desktop/forecasting-studio/pkg/types"
)

// Compile-time interface check.
var _ Strategy = (*SMACross)(nil)

// SMACrossParams are the typed parameters of the crossover strategy.
type SMACrossParams struct {
	Fast int `mapstructure:"fast"`
	Slow int `mapstructure:"slow"`
}

// DefaultSMACrossParams returns the parameters used when none are supplied.
func DefaultSMACrossParams() SMACrossParams {
	return SMACrossParams{Fast: 10, Slow: 30}
}

// Validate checks that both windows are at least one period long.
func (p SMACrossParams) Validate() error {
	if p.Fast < 1 || p.Slow < 1 {
		return fmt.Errorf("%w: %s: fast and slow must be >= 1, got fast=%d slow=%d",
			ErrInvalidParameters, KindSMACross, p.Fast, p.Slow)
	}
	return nil
}

var smaCrossDescriptor = Descriptor{
	Name:        string(KindSMACross),
	Description: "Long when the fast moving average is above the slow one, short when below",
	Parameters: []StrategyParameter{
		{Name: "fast", Description: "Fast moving-average window", Type: "int", Default: 10, Min: 1},
		{Name: "slow", Description: "Slow moving-average window", Type: "int", Default: 30, Min: 1},
	},
}

// SMACross implements a moving-average crossover. Means use whatever history
// exists while fewer than window observations are available.
type SMACross struct {
	fast int
	slow int
}

// NewSMACross creates a crossover strategy from typed parameters.
func NewSMACross(p SMACrossParams) (*SMACross, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &SMACross{fast: p.Fast, slow: p.Slow}, nil
}

func newSMACrossFromParams(params types.Params) (Strategy, error) {
	p := DefaultSMACrossParams()
	if err := decodeParams(KindSMACross, params, &p); err != nil {
		return nil, err
	}
	return NewSMACross(p)
}

func (s *SMACross) Kind() Kind { return KindSMACross }

func (s *SMACross) Params() types.Params {
	return types.Params{"fast": s.fast, "slow": s.slow}
}

// GenerateSignals emits +1 when the fast mean is above the slow mean, -1 when
// below and 0 on equality.
func (s *SMACross) GenerateSignals(series types.PriceSeries) types.SignalSeries {
	closes := series.Closes()
	out := make(types.SignalSeries, len(series))

	for t := range series {
		fast := anchoredMean(closes, t, s.fast)
		slow := anchoredMean(closes, t, s.slow)

		sig := types.SignalFlat
		switch {
		case fast > slow:
			sig = types.SignalLong
		case fast < slow:
			sig = types.SignalShort
		}
		out[t] = types.SignalPoint{Timestamp: series[t].Timestamp, Signal: sig}
	}
	return out
}

// anchoredMean returns the mean of the trailing window ending at t, computed
// as deviations from closes[t] so that equal prices yield bit-identical means
// for every window length.
func anchoredMean(closes []float64, t, window int) float64 {
	start := t - window + 1
	if start < 0 {
		start = 0
	}

	ref := closes[t]
	var dev float64
	for i := start; i <= t; i++ {
		dev += closes[i] - ref
	}
	return ref + dev/float64(t-start+1)
}
