// Package stats holds the numeric kernels of the structured-data analysis:
// quantiles, outlier methods, correlation and seasonal decomposition.
package stats

import (
	"math"
	"slices"
)

// Sorted returns a sorted copy of values.
func Sorted(values []float64) []float64 {
	s := slices.Clone(values)
	slices.Sort(s)
	return s
}

// Percentile returns the p-th percentile (0-100) of sorted values, linearly
// interpolating between the closest ranks. It returns NaN for empty input.
func Percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return math.NaN()
	}
	if n == 1 || p <= 0 {
		return sorted[0]
	}
	if p >= 100 {
		return sorted[n-1]
	}

	rank := p / 100 * float64(n-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}

// Median returns the 50th percentile of sorted values.
func Median(sorted []float64) float64 {
	return Percentile(sorted, 50)
}

// Quartiles returns Q1 and Q3 of sorted values.
func Quartiles(sorted []float64) (q1, q3 float64) {
	return Percentile(sorted, 25), Percentile(sorted, 75)
}
