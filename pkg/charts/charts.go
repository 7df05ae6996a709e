// Package charts renders profile graphs as PNG images.
package charts

import (
	"bytes"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/ekaya-inc/edp-engine/pkg/models"
)

// ContentType of every rendered chart.
const ContentType = "image/png"

// Histogram renders the distribution of values with the given number of bins.
func Histogram(title string, values []float64, bins int) ([]byte, error) {
	if len(values) == 0 {
		return nil, errors.New("no values to plot")
	}
	if bins < 1 {
		bins = 1
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "value"
	p.Y.Label.Text = "count"

	h, err := plotter.NewHist(plotter.Values(values), bins)
	if err != nil {
		return nil, fmt.Errorf("build histogram: %w", err)
	}
	p.Add(h)

	return render(p, 6*vg.Inch, 4*vg.Inch)
}

// CorrelationHeatmap renders a correlation matrix; omitted pairs stay blank.
func CorrelationHeatmap(title string, m *models.CorrelationMatrix) ([]byte, error) {
	if m == nil || len(m.Columns) == 0 {
		return nil, errors.New("empty correlation matrix")
	}

	p := plot.New()
	p.Title.Text = title

	hm := plotter.NewHeatMap(matrixGrid{m}, palette.Heat(12, 1))
	hm.Min, hm.Max = -1, 1
	p.Add(hm)

	ticks := make([]plot.Tick, len(m.Columns))
	for i, name := range m.Columns {
		ticks[i] = plot.Tick{Value: float64(i), Label: name}
	}
	p.X.Tick.Marker = plot.ConstantTicks(ticks)
	p.Y.Tick.Marker = plot.ConstantTicks(ticks)

	side := vg.Length(math.Max(4, float64(len(m.Columns))*0.6)) * vg.Inch
	return render(p, side, side)
}

func render(p *plot.Plot, w, h vg.Length) ([]byte, error) {
	wt, err := p.WriterTo(w, h, "png")
	if err != nil {
		return nil, fmt.Errorf("render chart: %w", err)
	}
	var buf bytes.Buffer
	if _, err := wt.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("encode chart: %w", err)
	}
	return buf.Bytes(), nil
}

// matrixGrid adapts a correlation matrix to plotter.GridXYZ. Row 0 is drawn
// at the top so the layout matches the column order of the matrix.
type matrixGrid struct {
	m *models.CorrelationMatrix
}

func (g matrixGrid) Dims() (c, r int) {
	return len(g.m.Columns), len(g.m.Columns)
}

func (g matrixGrid) Z(c, r int) float64 {
	v := g.m.Values[r][c]
	if v == nil {
		return math.NaN()
	}
	return *v
}

func (g matrixGrid) X(c int) float64 { return float64(c) }

func (g matrixGrid) Y(r int) float64 { return float64(r) }
