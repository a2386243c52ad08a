package runner

import (
	"math"
	"slices"
)

// Mean returns the arithmetic mean of values, or 0 for none.
func Mean(values []int64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += float64(v)
	}
	return sum / float64(len(values))
}

// Percentile returns the nearest-rank percentile p (0-100) of values: the
// element at index floor(p/100*n) of the sorted values, clamped to the last
// element. values is not modified.
func Percentile(values []int64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := slices.Clone(values)
	slices.Sort(sorted)

	idx := int(math.Floor(p / 100 * float64(len(sorted))))
	idx = min(max(idx, 0), len(sorted)-1)
	return float64(sorted[idx])
}
