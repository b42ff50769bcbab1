package strategy

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"

	"github.com/atlas-desktop/forecasting-studio/pkg/types"
	"github.com/mitchellh/mapstructure"
)

// decodeParams decodes an untyped parameter set into a typed struct. Unknown
// keys and non-integral numbers for integer fields are rejected.
func decodeParams(kind Kind, params types.Params, out interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:  strictIntHook,
		ErrorUnused: true,
		Result:      out,
	})
	if err != nil {
		return err
	}

	if err := decoder.Decode(map[string]interface{}(params)); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidParameters, kind, err)
	}
	return nil
}

// strictIntHook accepts float and json.Number inputs for int fields only when
// they hold an integral value. JSON decoding yields float64 for every number.
func strictIntHook(_ reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
	if to.Kind() != reflect.Int {
		return data, nil
	}

	switch v := data.(type) {
	case float64:
		return integral(v)
	case float32:
		return integral(float64(v))
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return nil, fmt.Errorf("expected an integer, got %s", v.String())
		}
		return int(n), nil
	}
	return data, nil
}

func integral(v float64) (interface{}, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) || math.Trunc(v) != v {
		return nil, fmt.Errorf("expected an integer, got %v", v)
	}
	return int(v), nil
}
