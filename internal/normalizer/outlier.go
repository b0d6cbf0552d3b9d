package normalizer

import (
	"sort"

	"github.com/shopspring/decimal"
)

// DefaultMultiplier is the outlier threshold multiple of the rolling median.
const DefaultMultiplier = 3.0

// Median returns the statistical median of values. ok is false for an empty
// slice. The input is not modified.
func Median(values []float64) (median float64, ok bool) {
	n := len(values)
	if n == 0 {
		return 0, false
	}

	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)

	mid := n / 2
	if n%2 == 1 {
		return sorted[mid], true
	}
	return (sorted[mid-1] + sorted[mid]) / 2, true
}

// Threshold returns multiplier × median(history). ok is false when there is
// no usable baseline: empty history or a zero median.
func Threshold(history []float64, multiplier float64) (threshold decimal.Decimal, median float64, ok bool) {
	median, ok = Median(history)
	if !ok || median == 0 {
		return decimal.Zero, median, false
	}
	threshold = decimal.NewFromFloat(median).Mul(decimal.NewFromFloat(multiplier))
	return threshold, median, true
}

// IsOutlier reports whether value is strictly above multiplier × median of
// history. Without a baseline nothing is an outlier, and values below the
// median are never flagged.
func IsOutlier(value decimal.Decimal, history []float64, multiplier float64) bool {
	threshold, _, ok := Threshold(history, multiplier)
	if !ok {
		return false
	}
	return value.GreaterThan(threshold)
}
