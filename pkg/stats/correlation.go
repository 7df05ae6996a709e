package stats

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/ekaya-inc/edp-engine/pkg/models"
)

// Series is a numeric column aligned by row. Valid[i] is false where the
// cell was missing or could not be parsed.
type Series struct {
	Name   string
	Values []float64
	Valid  []bool
}

func (s Series) validValues() []float64 {
	out := make([]float64, 0, len(s.Values))
	for i, v := range s.Values {
		if s.Valid[i] {
			out = append(out, v)
		}
	}
	return out
}

// CorrelationMatrix computes pairwise Pearson coefficients over the columns
// with at least minRows valid values and non-zero variance. Pairs sharing
// fewer than minRows rows are left nil. It returns nil when fewer than two
// columns qualify.
func CorrelationMatrix(series []Series, minRows int) *models.CorrelationMatrix {
	eligible := make([]Series, 0, len(series))
	for _, s := range series {
		vals := s.validValues()
		if len(vals) < minRows || len(vals) < 2 {
			continue
		}
		if _, std := stat.PopMeanStdDev(vals, nil); std == 0 {
			continue
		}
		eligible = append(eligible, s)
	}
	if len(eligible) < 2 {
		return nil
	}

	m := &models.CorrelationMatrix{
		Columns: make([]string, len(eligible)),
		Values:  make([][]*float64, len(eligible)),
	}
	for i, s := range eligible {
		m.Columns[i] = s.Name
		m.Values[i] = make([]*float64, len(eligible))
	}

	for i := range eligible {
		one := 1.0
		m.Values[i][i] = &one
		for j := i + 1; j < len(eligible); j++ {
			r, ok := pearson(eligible[i], eligible[j], minRows)
			if !ok {
				continue
			}
			a, b := r, r
			m.Values[i][j] = &a
			m.Values[j][i] = &b
		}
	}
	return m
}

func pearson(a, b Series, minRows int) (float64, bool) {
	n := min(len(a.Values), len(b.Values))
	x := make([]float64, 0, n)
	y := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		if a.Valid[i] && b.Valid[i] {
			x = append(x, a.Values[i])
			y = append(y, b.Values[i])
		}
	}
	if len(x) < minRows || len(x) < 2 {
		return 0, false
	}

	r := stat.Correlation(x, y, nil)
	if math.IsNaN(r) || math.IsInf(r, 0) {
		return 0, false
	}
	return math.Max(-1, math.Min(1, r)), true
}
