package stats

import (
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/ekaya-inc/edp-engine/pkg/models"
)

// Distribution labels.
const (
	LabelConstant     = "constant"
	LabelNormal       = "normal"
	LabelUniform      = "uniform"
	LabelRightSkewed  = "right-skewed"
	LabelLeftSkewed   = "left-skewed"
	LabelHeavyTailed  = "heavy-tailed"
	LabelUndetermined = "undetermined"
)

// Summary holds the descriptive statistics of a numeric sample.
type Summary struct {
	Min, Max, Mean, Median, StdDev float64
	Integer                        bool
}

// Describe computes min, max, mean, median and the sample standard deviation.
func Describe(values []float64) Summary {
	if len(values) == 0 {
		return Summary{}
	}
	sorted := Sorted(values)
	s := Summary{
		Min:     sorted[0],
		Max:     sorted[len(sorted)-1],
		Median:  Median(sorted),
		Integer: true,
	}
	if len(values) > 1 {
		s.Mean, s.StdDev = stat.MeanStdDev(values, nil)
	} else {
		s.Mean = values[0]
	}
	for _, v := range values {
		if v != math.Trunc(v) {
			s.Integer = false
			break
		}
	}
	return s
}

// Histogram bins values into Sturges' number of equal-width buckets,
// capped at maxBins. A constant sample yields one bucket.
func Histogram(values []float64, maxBins int) []models.HistogramBucket {
	if len(values) == 0 {
		return nil
	}
	sorted := Sorted(values)
	lo, hi := sorted[0], sorted[len(sorted)-1]
	if lo == hi {
		return []models.HistogramBucket{{Lower: lo, Upper: hi, Count: len(values)}}
	}

	bins := int(math.Ceil(math.Log2(float64(len(values))))) + 1
	if maxBins > 0 && bins > maxBins {
		bins = maxBins
	}
	width := (hi - lo) / float64(bins)

	buckets := make([]models.HistogramBucket, bins)
	for i := range buckets {
		buckets[i].Lower = lo + float64(i)*width
		buckets[i].Upper = lo + float64(i+1)*width
	}
	buckets[bins-1].Upper = hi

	for _, v := range values {
		i := int((v - lo) / width)
		if i >= bins {
			i = bins - 1
		}
		buckets[i].Count++
	}
	return buckets
}

// DistributionLabel names the shape of a sample from its skewness and excess kurtosis.
func DistributionLabel(values []float64) string {
	if len(values) < 4 {
		return LabelUndetermined
	}
	_, std := stat.PopMeanStdDev(values, nil)
	if std == 0 {
		return LabelConstant
	}

	skew := stat.Skew(values, nil)
	kurt := stat.ExKurtosis(values, nil)
	switch {
	case math.IsNaN(skew) || math.IsNaN(kurt) || math.IsInf(kurt, 0):
		return LabelUndetermined
	case skew > 1:
		return LabelRightSkewed
	case skew < -1:
		return LabelLeftSkewed
	case kurt > 3:
		return LabelHeavyTailed
	case kurt < -1 && math.Abs(skew) < 0.5:
		return LabelUniform
	case math.Abs(skew) <= 0.5 && math.Abs(kurt) <= 1:
		return LabelNormal
	default:
		return LabelUndetermined
	}
}

// Granularity names the smallest calendar unit a sampling step resolves.
func Granularity(step time.Duration) string {
	switch {
	case step <= 0:
		return ""
	case step < time.Minute:
		return "seconds"
	case step < time.Hour:
		return "minutes"
	case step < 24*time.Hour:
		return "hours"
	case step < 7*24*time.Hour:
		return "days"
	case step < 28*24*time.Hour:
		return "weeks"
	case step < 365*24*time.Hour:
		return "months"
	default:
		return "years"
	}
}

// MedianStep returns the median positive gap between consecutive sorted times.
func MedianStep(sorted []time.Time) time.Duration {
	gaps := make([]float64, 0, len(sorted))
	for i := 1; i < len(sorted); i++ {
		if d := sorted[i].Sub(sorted[i-1]); d > 0 {
			gaps = append(gaps, float64(d))
		}
	}
	if len(gaps) == 0 {
		return 0
	}
	return time.Duration(Median(Sorted(gaps)))
}
