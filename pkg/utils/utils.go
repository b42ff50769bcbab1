// Package utils provides numeric helpers shared by the evaluation engine.
package utils

import (
	"math"
	"sort"
)

// Mean calculates the arithmetic mean. It returns 0 for an empty slice.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}

	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// StdDev calculates the sample standard deviation (n-1 denominator).
// It returns NaN when fewer than two values are given, mirroring an
// undefined estimate rather than a zero one.
func StdDev(values []float64) float64 {
	if len(values) < 2 {
		return math.NaN()
	}

	mean := Mean(values)
	var sumSquares float64
	for _, v := range values {
		diff := v - mean
		sumSquares += diff * diff
	}

	return math.Sqrt(sumSquares / float64(len(values)-1))
}

// Median returns the middle value, averaging the two central values for an
// even count. It returns 0 for an empty slice.
func Median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

// PercentChange returns cur/prev - 1, or 0 when prev is zero.
func PercentChange(prev, cur float64) float64 {
	if prev == 0 {
		return 0
	}
	return cur/prev - 1
}

// IsFinite reports whether v is neither NaN nor infinite.
func IsFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
