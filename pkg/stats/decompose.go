package stats

import (
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/ekaya-inc/edp-engine/pkg/config"
)

// Period is a candidate seasonal period.
type Period struct {
	Name     string
	Duration time.Duration
}

// Candidate periods, probed shortest first.
var Periods = []Period{
	{Name: "hourly", Duration: time.Hour},
	{Name: "daily", Duration: 24 * time.Hour},
	{Name: "weekly", Duration: 7 * 24 * time.Hour},
	{Name: "monthly", Duration: 30 * 24 * time.Hour},
	{Name: "yearly", Duration: 365 * 24 * time.Hour},
}

// periodTolerance is the allowed relative gap between a candidate period and
// a whole number of samples.
const periodTolerance = 0.05

// Point is one observation of a time-indexed numeric column.
type Point struct {
	Time  time.Time
	Value float64
}

// Component is one accepted seasonal component with its series on the
// regular grid. Trend is NaN at the edges the moving average cannot reach.
type Component struct {
	Period          Period
	Samples         int
	Mode            string
	Autocorrelation float64
	ResidualRatio   float64

	Times    []time.Time
	Trend    []float64
	Seasonal []float64
}

// Grid is a regularly resampled series.
type Grid struct {
	Start  time.Time
	Step   time.Duration
	Values []float64
}

// Times returns the timestamp of every grid slot.
func (g *Grid) Times() []time.Time {
	out := make([]time.Time, len(g.Values))
	for i := range out {
		out[i] = g.Start.Add(time.Duration(i) * g.Step)
	}
	return out
}

// Resample places points on a regular grid whose step is the median sampling
// interval, averaging points that share a slot and linearly interpolating
// empty slots. The grid is widened when it would exceed maxLen slots.
func Resample(points []Point, maxLen int) *Grid {
	pts := make([]Point, 0, len(points))
	for _, p := range points {
		if !math.IsNaN(p.Value) && !math.IsInf(p.Value, 0) {
			pts = append(pts, p)
		}
	}
	if len(pts) < 2 {
		return nil
	}
	sort.SliceStable(pts, func(i, j int) bool { return pts[i].Time.Before(pts[j].Time) })

	times := make([]time.Time, len(pts))
	for i, p := range pts {
		times[i] = p.Time
	}
	step := MedianStep(times)
	if step <= 0 {
		return nil
	}

	start := pts[0].Time
	span := pts[len(pts)-1].Time.Sub(start)
	n := int(span/step) + 1
	if maxLen > 1 && n > maxLen {
		step = time.Duration(math.Ceil(float64(span) / float64(maxLen-1)))
		n = int(span/step) + 1
	}

	sums := make([]float64, n)
	counts := make([]int, n)
	for _, p := range pts {
		i := int(math.Round(float64(p.Time.Sub(start)) / float64(step)))
		i = max(0, min(n-1, i))
		sums[i] += p.Value
		counts[i]++
	}

	values := make([]float64, n)
	last := -1
	for i := range values {
		if counts[i] == 0 {
			continue
		}
		values[i] = sums[i] / float64(counts[i])
		if last >= 0 && i-last > 1 {
			for k := last + 1; k < i; k++ {
				frac := float64(k-last) / float64(i-last)
				values[k] = values[last] + frac*(values[i]-values[last])
			}
		}
		last = i
	}
	// The last point always lands in the last slot unless the grid was widened.
	for k := last + 1; k < n; k++ {
		values[k] = values[last]
	}

	return &Grid{Start: start, Step: step, Values: values}
}

// Decompose probes the candidate periods shortest first and returns every
// component whose seasonal pattern explains enough of the variance. Each
// accepted component is removed from the series before the next candidate
// is probed. Multiplicative mode falls back to additive when the series has
// non-positive values.
func Decompose(points []Point, cfg config.SeasonalityConfig) []Component {
	if len(points) < cfg.MinSamples {
		return nil
	}
	grid := Resample(points, cfg.MaxSeriesLength)
	if grid == nil || len(grid.Values) < cfg.MinSamples {
		return nil
	}

	x := grid.Values
	mode := cfg.Mode
	if mode == config.DecompositionMultiplicative && !allPositive(x) {
		mode = config.DecompositionAdditive
	}

	_, totalStd := stat.PopMeanStdDev(x, nil)
	totalVar := totalStd * totalStd
	if totalVar == 0 {
		return nil
	}

	work := append([]float64(nil), x...)
	times := grid.Times()
	var out []Component

	for _, period := range Periods {
		ratio := float64(period.Duration) / float64(grid.Step)
		p := int(math.Round(ratio))
		if p < 2 || math.Abs(ratio-float64(p)) > periodTolerance*ratio {
			continue
		}
		if len(work) < 2*p {
			continue
		}

		c, ok := probe(work, p, mode, cfg, totalVar)
		if !ok {
			continue
		}
		c.Period = period
		c.Times = times
		out = append(out, c)

		for i := range work {
			if mode == config.DecompositionMultiplicative {
				work[i] /= c.Seasonal[i]
			} else {
				work[i] -= c.Seasonal[i]
			}
		}
	}
	return out
}

func probe(w []float64, p int, mode string, cfg config.SeasonalityConfig, totalVar float64) (Component, bool) {
	n := len(w)
	trend := centredMovingAverage(w, p)
	mult := mode == config.DecompositionMultiplicative

	detrended := make([]float64, n)
	var valid []int
	for i := range w {
		detrended[i] = math.NaN()
		if math.IsNaN(trend[i]) {
			continue
		}
		if mult {
			if trend[i] == 0 {
				continue
			}
			detrended[i] = w[i] / trend[i]
		} else {
			detrended[i] = w[i] - trend[i]
		}
		valid = append(valid, i)
	}
	if len(valid) < p+2 {
		return Component{}, false
	}

	seg := make([]float64, len(valid))
	for k, i := range valid {
		seg[k] = detrended[i]
	}
	_, segStd := stat.PopMeanStdDev(seg, nil)
	segVar := segStd * segStd
	if mult {
		// Ratios are unitless; compare against the squared relative spread.
		if segVar <= 1e-12 {
			return Component{}, false
		}
	} else if segVar <= 1e-12*totalVar {
		return Component{}, false
	}

	acf := autocorrelation(seg, p)
	if math.IsNaN(acf) || acf < cfg.MinAutocorrelation {
		return Component{}, false
	}

	pattern := make([]float64, p)
	counts := make([]int, p)
	for _, i := range valid {
		pattern[i%p] += detrended[i]
		counts[i%p]++
	}
	var patternMean float64
	for k := range pattern {
		if counts[k] > 0 {
			pattern[k] /= float64(counts[k])
		} else if mult {
			pattern[k] = 1
		}
		patternMean += pattern[k]
	}
	patternMean /= float64(p)
	for k := range pattern {
		if mult {
			if patternMean != 0 {
				pattern[k] /= patternMean
			}
		} else {
			pattern[k] -= patternMean
		}
	}

	seasonal := make([]float64, n)
	for i := range seasonal {
		seasonal[i] = pattern[i%p]
	}

	// Residual variance is measured against the detrended series, i.e. the
	// share of seasonal-plus-residual variability the pattern leaves unexplained.
	resid := make([]float64, 0, len(valid))
	for _, i := range valid {
		resid = append(resid, detrended[i]-seasonal[i])
	}
	_, residStd := stat.PopMeanStdDev(resid, nil)
	residRatio := (residStd * residStd) / segVar
	if residRatio >= cfg.ResidualVarianceFraction {
		return Component{}, false
	}

	return Component{
		Samples:         p,
		Mode:            mode,
		Autocorrelation: acf,
		ResidualRatio:   residRatio,
		Trend:           trend,
		Seasonal:        seasonal,
	}, true
}

// centredMovingAverage returns the centred moving average of window p, using
// the 2×p average for even p. Edge slots without a full window are NaN.
func centredMovingAverage(x []float64, p int) []float64 {
	n := len(x)
	out := make([]float64, n)
	half := p / 2
	for i := range out {
		if i-half < 0 || i+half >= n {
			out[i] = math.NaN()
			continue
		}
		if p%2 == 1 {
			var s float64
			for k := i - half; k <= i+half; k++ {
				s += x[k]
			}
			out[i] = s / float64(p)
			continue
		}
		s := 0.5*x[i-half] + 0.5*x[i+half]
		for k := i - half + 1; k < i+half; k++ {
			s += x[k]
		}
		out[i] = s / float64(p)
	}
	return out
}

// autocorrelation is the sample autocorrelation of x at the given lag.
func autocorrelation(x []float64, lag int) float64 {
	n := len(x)
	if lag <= 0 || lag >= n {
		return math.NaN()
	}
	mean := stat.Mean(x, nil)
	var num, den float64
	for i := 0; i < n; i++ {
		d := x[i] - mean
		den += d * d
		if i+lag < n {
			num += d * (x[i+lag] - mean)
		}
	}
	if den == 0 {
		return math.NaN()
	}
	return num / den
}

func allPositive(x []float64) bool {
	for _, v := range x {
		if v <= 0 {
			return false
		}
	}
	return true
}
