package strategy_test

import (
	"errors"
	"testing"
	"time"

	"github.com/atlas-desktop/forecasting-studio/internal/strategy"
	"github.com/atlas-desktop/forecasting-studio/pkg/types"
	"go.uber.org/zap"
)

func makeSeries(closes ...float64) types.PriceSeries {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	series := make(types.PriceSeries, len(closes))
	for i, c := range closes {
		series[i] = types.PricePoint{Timestamp: start.AddDate(0, 0, i), Close: c}
	}
	return series
}

func signalsOf(sig types.SignalSeries) []types.Signal {
	out := make([]types.Signal, len(sig))
	for i, s := range sig {
		out[i] = s.Signal
	}
	return out
}

func TestRegistryCreate(t *testing.T) {
	r := strategy.NewStrategyRegistry(zap.NewNop())

	s, err := r.Create("sma_cross", types.Params{"fast": 2, "slow": 5})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if s.Kind() != strategy.KindSMACross {
		t.Errorf("Kind() = %q, want %q", s.Kind(), strategy.KindSMACross)
	}
	p := s.Params()
	if p["fast"] != 2 || p["slow"] != 5 {
		t.Errorf("Params() = %v, want fast=2 slow=5", p)
	}
}

func TestRegistryCreate_Defaults(t *testing.T) {
	r := strategy.NewStrategyRegistry(zap.NewNop())

	s, err := r.Create("sma_cross", nil)
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	p := s.Params()
	if p["fast"] != 10 || p["slow"] != 30 {
		t.Errorf("Params() = %v, want defaults fast=10 slow=30", p)
	}
}

func TestRegistryCreate_UnknownStrategy(t *testing.T) {
	r := strategy.NewStrategyRegistry(zap.NewNop())

	s, err := r.Create("does_not_exist", nil)
	if !errors.Is(err, strategy.ErrUnknownStrategy) {
		t.Fatalf("err = %v, want ErrUnknownStrategy", err)
	}
	if s != nil {
		t.Errorf("Create returned a strategy alongside an error")
	}
	if r.Has("does_not_exist") {
		t.Errorf("failed lookup registered a name")
	}
	if got := r.List(); len(got) != 1 || got[0] != "sma_cross" {
		t.Errorf("List() = %v after failed lookup, want [sma_cross]", got)
	}
}

func TestRegistryCreate_InvalidParameters(t *testing.T) {
	r := strategy.NewStrategyRegistry(zap.NewNop())

	tests := []struct {
		name   string
		params types.Params
	}{
		{"zero fast", types.Params{"fast": 0, "slow": 5}},
		{"negative slow", types.Params{"fast": 2, "slow": -1}},
		{"fractional float", types.Params{"fast": 2.5, "slow": 5}},
		{"string value", types.Params{"fast": "3", "slow": 5}},
		{"bool value", types.Params{"fast": true, "slow": 5}},
		{"unknown key", types.Params{"fast": 2, "slow": 5, "window": 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Create("sma_cross", tt.params)
			if !errors.Is(err, strategy.ErrInvalidParameters) {
				t.Errorf("err = %v, want ErrInvalidParameters", err)
			}
		})
	}
}

func TestRegistryCreate_IntegralFloatAccepted(t *testing.T) {
	r := strategy.NewStrategyRegistry(zap.NewNop())

	// JSON numbers decode as float64.
	s, err := r.Create("sma_cross", types.Params{"fast": 3.0, "slow": 7.0})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if p := s.Params(); p["fast"] != 3 || p["slow"] != 7 {
		t.Errorf("Params() = %v, want fast=3 slow=7", p)
	}
}

func TestRegistryDescribe(t *testing.T) {
	r := strategy.NewStrategyRegistry(zap.NewNop())

	desc := r.Describe()
	if len(desc) != 1 {
		t.Fatalf("Describe returned %d entries, want 1", len(desc))
	}
	if desc[0].Name != "sma_cross" || len(desc[0].Parameters) != 2 {
		t.Errorf("unexpected descriptor: %+v", desc[0])
	}
}

func TestSMACrossSignals(t *testing.T) {
	s, err := strategy.NewSMACross(strategy.SMACrossParams{Fast: 1, Slow: 2})
	if err != nil {
		t.Fatalf("NewSMACross: %v", err)
	}

	series := makeSeries(100, 101, 99, 105)
	got := signalsOf(s.GenerateSignals(series))
	want := []types.Signal{0, 1, -1, 1}

	if len(got) != len(want) {
		t.Fatalf("got %d signals, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("signal[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestSMACrossSignals_TimestampsAligned(t *testing.T) {
	s, _ := strategy.NewSMACross(strategy.SMACrossParams{Fast: 2, Slow: 3})
	series := makeSeries(1, 2, 3, 4, 5)

	sig := s.GenerateSignals(series)
	for i := range series {
		if !sig[i].Timestamp.Equal(series[i].Timestamp) {
			t.Errorf("signal[%d] timestamp %v, want %v", i, sig[i].Timestamp, series[i].Timestamp)
		}
	}
}

func TestSMACrossSignals_FlatSeriesIsFlat(t *testing.T) {
	for _, p := range []strategy.SMACrossParams{{Fast: 1, Slow: 2}, {Fast: 3, Slow: 7}, {Fast: 5, Slow: 5}} {
		s, _ := strategy.NewSMACross(p)
		for i, sig := range s.GenerateSignals(makeSeries(100.1, 100.1, 100.1, 100.1, 100.1, 100.1, 100.1, 100.1)) {
			if sig.Signal != types.SignalFlat {
				t.Errorf("params %+v: signal[%d] = %d on a flat series", p, i, sig.Signal)
			}
		}
	}
}

func TestSMACrossSignals_FirstObservationFlat(t *testing.T) {
	s, _ := strategy.NewSMACross(strategy.SMACrossParams{Fast: 2, Slow: 10})
	sig := s.GenerateSignals(makeSeries(50, 60, 70))
	if sig[0].Signal != types.SignalFlat {
		t.Errorf("first signal = %d, want 0", sig[0].Signal)
	}
	if sig[2].Signal != types.SignalLong {
		t.Errorf("rising series signal = %d, want 1", sig[2].Signal)
	}
}
