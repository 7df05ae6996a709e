package stats

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/ekaya-inc/edp-engine/pkg/config"
	"github.com/ekaya-inc/edp-engine/pkg/models"
)

// DetectOutliers runs all three methods on the interpretable values of one
// column. Each result keeps its own bounds and count.
func DetectOutliers(values []float64, cfg config.OutliersConfig) []models.OutlierResult {
	return []models.OutlierResult{
		PercentileOutliers(values, cfg.PercentileLow, cfg.PercentileHigh, cfg.MinSamples),
		ZScoreOutliers(values, cfg.ZScoreThreshold, cfg.MinSamples),
		IQROutliers(values, cfg.IQRMultiplier, cfg.MinSamples),
	}
}

// PercentileOutliers counts values below the low or above the high percentile.
func PercentileOutliers(values []float64, low, high float64, minSamples int) models.OutlierResult {
	res := models.OutlierResult{Method: models.OutlierPercentile}
	if len(values) < minSamples || len(values) == 0 {
		return res
	}

	sorted := Sorted(values)
	lower := Percentile(sorted, low)
	upper := Percentile(sorted, high)
	res.Lower, res.Upper = &lower, &upper
	res.Count = countOutside(values, lower, upper)
	return res
}

// ZScoreOutliers flags values more than threshold standard deviations away
// from the mean.
//
// Each value is scored against the mean and population standard deviation of
// the remaining values, so one extreme value in a small sample cannot hide by
// inflating the deviation it is measured with. The reported bounds are
// mean ± threshold·std of the values that were not flagged, and the count is
// the number of values outside those bounds. A column whose values are all
// equal has no z-score and reports zero outliers.
func ZScoreOutliers(values []float64, threshold float64, minSamples int) models.OutlierResult {
	res := models.OutlierResult{Method: models.OutlierZScore}
	n := len(values)
	if n < minSamples || n < 3 {
		return res
	}

	mean, std := stat.PopMeanStdDev(values, nil)
	if std == 0 || math.IsNaN(std) {
		return res
	}

	nf := float64(n)
	sumSq := std * std * nf
	inliers := make([]float64, 0, n)
	for _, x := range values {
		d := x - mean
		looMean := mean - d/(nf-1)
		looSumSq := sumSq - d*d*nf/(nf-1)
		if looSumSq < 0 {
			looSumSq = 0
		}
		looStd := math.Sqrt(looSumSq / (nf - 1))

		dist := math.Abs(x - looMean)
		var flagged bool
		if looStd <= 1e-12*math.Max(1, math.Abs(looMean)) {
			flagged = dist > 1e-9*math.Max(1, math.Abs(looMean))
		} else {
			flagged = dist/looStd > threshold
		}
		if !flagged {
			inliers = append(inliers, x)
		}
	}
	if len(inliers) == 0 {
		return res
	}

	inMean, inStd := stat.PopMeanStdDev(inliers, nil)
	lower := inMean - threshold*inStd
	upper := inMean + threshold*inStd
	res.Lower, res.Upper = &lower, &upper
	res.Count = countOutside(values, lower, upper)
	return res
}

// IQROutliers counts values outside [Q1 - k·IQR, Q3 + k·IQR].
func IQROutliers(values []float64, k float64, minSamples int) models.OutlierResult {
	res := models.OutlierResult{Method: models.OutlierIQR}
	if len(values) < minSamples || len(values) == 0 {
		return res
	}

	q1, q3 := Quartiles(Sorted(values))
	iqr := q3 - q1
	lower := q1 - k*iqr
	upper := q3 + k*iqr
	res.Lower, res.Upper = &lower, &upper
	res.Count = countOutside(values, lower, upper)
	return res
}

// RelativeOutlierCount is the largest method count divided by the number of values.
func RelativeOutlierCount(results []models.OutlierResult, interpretable int) float64 {
	if interpretable == 0 {
		return 0
	}
	most := 0
	for _, r := range results {
		most = max(most, r.Count)
	}
	return float64(most) / float64(interpretable)
}

func countOutside(values []float64, lower, upper float64) int {
	count := 0
	for _, x := range values {
		if x < lower || x > upper {
			count++
		}
	}
	return count
}
