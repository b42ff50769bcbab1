package backtester

import (
	"fmt"

	"github.com/atlas-desktop/forecasting-studio/pkg/types"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// Expand returns the cartesian product of space. Keys are enumerated in
// sorted order and the last key varies fastest, so the ordering does not
// depend on map iteration. A space with no keys, or with any key holding no
// candidates, yields no combinations.
func Expand[V any](space map[string][]V) []map[string]V {
	keys := maps.Keys(space)
	slices.Sort(keys)

	if len(keys) == 0 {
		return nil
	}

	total := 1
	for _, k := range keys {
		total *= len(space[k])
	}
	if total == 0 {
		return nil
	}

	combos := make([]map[string]V, 0, total)
	idx := make([]int, len(keys))
	for {
		combo := make(map[string]V, len(keys))
		for i, k := range keys {
			combo[k] = space[k][idx[i]]
		}
		combos = append(combos, combo)

		// Odometer increment from the last key.
		pos := len(keys) - 1
		for pos >= 0 {
			idx[pos]++
			if idx[pos] < len(space[keys[pos]]) {
				break
			}
			idx[pos] = 0
			pos--
		}
		if pos < 0 {
			return combos
		}
	}
}

// ExpandParamSpace expands a walk-forward grid into parameter sets.
func ExpandParamSpace(space types.ParamSpace) ([]types.Params, error) {
	combos := Expand(map[string][]any(space))
	if len(combos) == 0 {
		return nil, fmt.Errorf("%w: %d keys", ErrEmptyParameterSpace, len(space))
	}

	out := make([]types.Params, len(combos))
	for i, c := range combos {
		out[i] = types.Params(c)
	}
	return out, nil
}
