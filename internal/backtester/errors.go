package backtester

import (
	"errors"
	"fmt"
	"math"

	"github.com/atlas-desktop/forecasting-studio/pkg/types"
)

var (
	// ErrMalformedSeries is returned for an empty or unusable price series.
	ErrMalformedSeries = errors.New("malformed price series")
	// ErrEmptyParameterSpace is returned when a grid has no combinations.
	ErrEmptyParameterSpace = errors.New("empty parameter space")
	// ErrInvalidWindow is returned for non-positive walk-forward window sizes.
	ErrInvalidWindow = errors.New("invalid walk-forward window")
)

// ValidateSeries rejects series that are empty, carry non-finite or missing
// data, or are not sorted ascending by timestamp.
func ValidateSeries(series types.PriceSeries) error {
	if len(series) == 0 {
		return fmt.Errorf("%w: no observations", ErrMalformedSeries)
	}

	for i, p := range series {
		if p.Timestamp.IsZero() {
			return fmt.Errorf("%w: row %d has no timestamp", ErrMalformedSeries, i)
		}
		if math.IsNaN(p.Close) || math.IsInf(p.Close, 0) {
			return fmt.Errorf("%w: row %d has non-finite close %v", ErrMalformedSeries, i, p.Close)
		}
		if i > 0 && p.Timestamp.Before(series[i-1].Timestamp) {
			return fmt.Errorf("%w: row %d is out of timestamp order", ErrMalformedSeries, i)
		}
	}
	return nil
}
