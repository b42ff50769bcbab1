package main

import (
	"fmt"
	"math"
	"strings"

	"github.com/atlas-desktop/forecasting-studio/pkg/types"
	"github.com/spf13/cast"
)

// parseParams turns repeated key=value flags into a parameter set.
func parseParams(pairs []string) (types.Params, error) {
	params := make(types.Params, len(pairs))
	for _, pair := range pairs {
		key, raw, err := splitPair(pair)
		if err != nil {
			return nil, err
		}
		params[key] = parseValue(raw)
	}
	return params, nil
}

// parseGrid turns repeated key=v1,v2,... flags into a parameter space.
func parseGrid(pairs []string) (types.ParamSpace, error) {
	space := make(types.ParamSpace, len(pairs))
	for _, pair := range pairs {
		key, raw, err := splitPair(pair)
		if err != nil {
			return nil, err
		}

		var values []any
		for _, item := range strings.Split(raw, ",") {
			if item = strings.TrimSpace(item); item != "" {
				values = append(values, parseValue(item))
			}
		}
		space[key] = values
	}
	return space, nil
}

func splitPair(pair string) (string, string, error) {
	key, value, ok := strings.Cut(pair, "=")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return "", "", fmt.Errorf("expected key=value, got %q", pair)
	}
	return key, strings.TrimSpace(value), nil
}

// parseValue reads integers as int, other numbers as float64 and anything
// else as a string.
func parseValue(raw string) any {
	f, err := cast.ToFloat64E(raw)
	if err != nil {
		return raw
	}
	if f == math.Trunc(f) && !strings.ContainsAny(raw, ".eE") && math.Abs(f) < 1<<53 {
		return int(f)
	}
	return f
}
