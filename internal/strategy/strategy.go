// Package strategy provides signal-generating strategy implementations and
// the registry that builds them from a name and a parameter set.
package strategy

import (
	"errors"
	"fmt"
	"sort"

	"github.com/atlas-desktop/forecasting-studio/pkg/types"
	"go.uber.org/zap"
)

var (
	// ErrUnknownStrategy is returned when no strategy is registered under a name.
	ErrUnknownStrategy = errors.New("unknown strategy")
	// ErrInvalidParameters is returned when a strategy rejects its parameters.
	ErrInvalidParameters = errors.New("invalid strategy parameters")
)

// Kind identifies a built-in strategy.
type Kind string

const (
	KindSMACross Kind = "sma_cross"
)

// Strategy turns a price series into a signal series. Implementations are
// immutable once constructed and safe for concurrent use.
type Strategy interface {
	Kind() Kind
	Params() types.Params
	GenerateSignals(series types.PriceSeries) types.SignalSeries
}

// Factory builds a configured strategy from an untyped parameter set.
type Factory func(params types.Params) (Strategy, error)

// StrategyParameter describes one tunable parameter.
type StrategyParameter struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Type        string `json:"type"`
	Default     any    `json:"default"`
	Min         any    `json:"min,omitempty"`
}

// Descriptor documents a registered strategy.
type Descriptor struct {
	Name        string              `json:"name"`
	Description string              `json:"description"`
	Parameters  []StrategyParameter `json:"parameters"`
}

type registration struct {
	factory    Factory
	descriptor Descriptor
}

// builtins is the complete, static set of strategies known to the service.
var builtins = map[Kind]registration{
	KindSMACross: {
		factory:    newSMACrossFromParams,
		descriptor: smaCrossDescriptor,
	},
}

// StrategyRegistry resolves strategy names to factories. It is populated once
// at construction and read-only afterwards.
type StrategyRegistry struct {
	logger  *zap.Logger
	entries map[Kind]registration
}

// NewStrategyRegistry creates a registry holding every built-in strategy.
func NewStrategyRegistry(logger *zap.Logger) *StrategyRegistry {
	entries := make(map[Kind]registration, len(builtins))
	for kind, reg := range builtins {
		entries[kind] = reg
	}

	return &StrategyRegistry{
		logger:  logger,
		entries: entries,
	}
}

// Create builds a strategy instance by name.
func (r *StrategyRegistry) Create(name string, params types.Params) (Strategy, error) {
	reg, ok := r.entries[Kind(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, name)
	}

	s, err := reg.factory(params)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Has reports whether a strategy is registered under name.
func (r *StrategyRegistry) Has(name string) bool {
	_, ok := r.entries[Kind(name)]
	return ok
}

// List returns all available strategy names, sorted.
func (r *StrategyRegistry) List() []string {
	names := make([]string, 0, len(r.entries))
	for kind := range r.entries {
		names = append(names, string(kind))
	}
	sort.Strings(names)
	return names
}

// Describe returns descriptors for every registered strategy, sorted by name.
func (r *StrategyRegistry) Describe() []Descriptor {
	out := make([]Descriptor, 0, len(r.entries))
	for _, name := range r.List() {
		out = append(out, r.entries[Kind(name)].descriptor)
	}
	return out
}
