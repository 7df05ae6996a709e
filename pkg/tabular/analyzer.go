package tabular

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/edp-engine/pkg/artifacts"
	"github.com/ekaya-inc/edp-engine/pkg/charts"
	"github.com/ekaya-inc/edp-engine/pkg/config"
	"github.com/ekaya-inc/edp-engine/pkg/models"
	"github.com/ekaya-inc/edp-engine/pkg/stats"
	"github.com/ekaya-inc/edp-engine/pkg/workerpool"
)

// Analyzer computes the structured summary of a table.
type Analyzer struct {
	logger *zap.Logger
}

// NewAnalyzer creates an Analyzer.
func NewAnalyzer(logger *zap.Logger) *Analyzer {
	return &Analyzer{logger: logger.Named("tabular")}
}

// columnResult is the output of one column's analysis, plus the parsed
// values the dataset-level stages need.
type columnResult struct {
	column   models.Column
	inferred *Inferred
	values   []float64 // interpretable numeric values
}

// seriesResult is the decomposition of one numeric column.
type seriesResult struct {
	column     string
	components []stats.Component
}

// Analyze runs the column analyses in parallel, then correlation and
// seasonality once every column is done. Graphs and series are written to
// sink and returned as artifacts; the summary itself never holds artifact
// references.
func (a *Analyzer) Analyze(ctx context.Context, t *Table, cfg config.AnalysisConfig, sink artifacts.Sink) (*models.StructuredSummary, []models.Artifact, error) {
	logger := a.logger.With(zap.String("table", t.Name))
	pool := workerpool.New(workerpool.Config{MaxConcurrent: cfg.Workers()}, a.logger)

	items := make([]workerpool.WorkItem[*columnResult], len(t.Columns))
	for i := range t.Columns {
		col := t.Columns[i]
		items[i] = workerpool.WorkItem[*columnResult]{
			ID: col.Name,
			Execute: func(ctx context.Context) (*columnResult, error) {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
				return analyzeColumn(col, cfg), nil
			},
		}
	}
	results := workerpool.Process(ctx, pool, items, nil)
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	columns := make([]*columnResult, len(results))
	for i, r := range results {
		if r.Err != nil {
			return nil, nil, fmt.Errorf("analyze column %s: %w", r.ID, r.Err)
		}
		columns[i] = r.Result
	}

	summary := &models.StructuredSummary{
		RowCount:    t.RowCount(),
		ColumnCount: len(t.Columns),
		Columns:     make([]models.Column, len(columns)),
	}
	for i, c := range columns {
		summary.Columns[i] = c.column
		if c.column.Datetime != nil {
			summary.TemporalCover = summary.TemporalCover.Extend(&models.TemporalCover{
				Earliest: c.column.Datetime.Earliest,
				Latest:   c.column.Datetime.Latest,
			})
		}
	}

	summary.Correlation = stats.CorrelationMatrix(numericSeries(columns), cfg.Correlation.MinRows)

	index := datetimeIndex(columns, cfg.Seasonality.MinSamples)
	var decomposed []seriesResult
	if index != nil {
		summary.DatetimeIndex = index.column.Name
		summary.Periodicity = index.column.Datetime.Granularity

		var err error
		decomposed, err = a.decompose(ctx, pool, index, columns, cfg.Seasonality)
		if err != nil {
			return nil, nil, err
		}
		for _, d := range decomposed {
			col := summary.Column(d.column)
			for _, c := range d.components {
				col.Seasonality = append(col.Seasonality, models.SeasonalComponent{
					Period:          c.Period.Name,
					PeriodSeconds:   int64(c.Period.Duration / time.Second),
					PeriodSamples:   c.Samples,
					Mode:            c.Mode,
					Autocorrelation: round(c.Autocorrelation),
					ResidualRatio:   round(c.ResidualRatio),
				})
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	arts, err := a.writeArtifacts(ctx, t.Name, columns, summary.Correlation, decomposed, sink)
	if err != nil {
		return nil, nil, err
	}

	logger.Debug("Table analyzed",
		zap.Int("rows", summary.RowCount),
		zap.Int("columns", summary.ColumnCount),
		zap.Bool("correlation", summary.Correlation != nil),
		zap.Int("seasonal_columns", len(decomposed)))
	return summary, arts, nil
}

func analyzeColumn(raw RawColumn, cfg config.AnalysisConfig) *columnResult {
	in := Infer(raw.Values, cfg.Columns)
	col := models.Column{
		Name:               raw.Name,
		Type:               in.Type,
		NullCount:          in.NullCount,
		InconsistentCount:  in.InconsistentCount,
		InterpretableCount: in.InterpretableCount(),
	}
	res := &columnResult{inferred: in}

	switch in.Type {
	case models.SemanticNumeric:
		values := make([]float64, 0, col.InterpretableCount)
		distinct := make(map[float64]struct{})
		for i, ok := range in.Valid {
			if ok {
				values = append(values, in.Numbers[i])
				distinct[in.Numbers[i]] = struct{}{}
			}
		}
		res.values = values
		col.NumberUnique = len(distinct)

		s := stats.Describe(values)
		kind := "float"
		if s.Integer {
			kind = "integer"
		}
		col.Outliers = stats.DetectOutliers(values, cfg.Outliers)
		col.Numeric = &models.NumericStats{
			Kind:                 kind,
			Min:                  s.Min,
			Max:                  s.Max,
			Mean:                 round(s.Mean),
			Median:               s.Median,
			StdDev:               round(s.StdDev),
			RelativeOutlierCount: round(stats.RelativeOutlierCount(col.Outliers, len(values))),
		}
		if len(values) >= cfg.Distribution.MinNumericValues {
			col.Distribution = &models.DistributionSummary{
				Buckets: stats.Histogram(values, cfg.Distribution.MaxBins),
				Label:   stats.DistributionLabel(values),
			}
		}

	case models.SemanticDatetime:
		var times []time.Time
		distinct := make(map[int64]struct{})
		for i, ok := range in.Valid {
			if ok {
				times = append(times, in.Times[i])
				distinct[in.Times[i].UnixNano()] = struct{}{}
			}
		}
		col.NumberUnique = len(distinct)
		sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })
		col.Datetime = &models.DatetimeStats{
			Format:      in.Layout,
			Earliest:    times[0],
			Latest:      times[len(times)-1],
			Granularity: stats.Granularity(stats.MedianStep(times)),
		}

	default:
		counts := make(map[string]int)
		for i, ok := range in.Valid {
			if ok {
				counts[raw.Values[i]]++
			}
		}
		col.NumberUnique = len(counts)
		col.String = &models.StringStats{}
		if len(counts) >= cfg.Distribution.MinUniqueStrings {
			col.String.MostFrequent = topValues(counts, cfg.Distribution.TopValues)
		}
	}

	res.column = col
	return res
}

// topValues orders by count, then value, so the result is deterministic.
func topValues(counts map[string]int, n int) []models.ValueCount {
	out := make([]models.ValueCount, 0, len(counts))
	for v, c := range counts {
		out = append(out, models.ValueCount{Value: v, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Value < out[j].Value
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

func numericSeries(columns []*columnResult) []stats.Series {
	var series []stats.Series
	for _, c := range columns {
		if c.column.Type == models.SemanticNumeric {
			series = append(series, stats.Series{
				Name:   c.column.Name,
				Values: c.inferred.Numbers,
				Valid:  c.inferred.Valid,
			})
		}
	}
	return series
}

// datetimeIndex picks the first datetime column with enough values to index a series.
func datetimeIndex(columns []*columnResult, minSamples int) *columnResult {
	for _, c := range columns {
		if c.column.Type == models.SemanticDatetime && c.column.InterpretableCount >= minSamples {
			return c
		}
	}
	return nil
}

func (a *Analyzer) decompose(ctx context.Context, pool *workerpool.Pool, index *columnResult, columns []*columnResult, cfg config.SeasonalityConfig) ([]seriesResult, error) {
	var items []workerpool.WorkItem[seriesResult]
	for _, c := range columns {
		if c.column.Type != models.SemanticNumeric {
			continue
		}
		items = append(items, workerpool.WorkItem[seriesResult]{
			ID: c.column.Name,
			Execute: func(ctx context.Context) (seriesResult, error) {
				if err := ctx.Err(); err != nil {
					return seriesResult{}, err
				}
				var points []stats.Point
				for i, ok := range c.inferred.Valid {
					if ok && index.inferred.Valid[i] {
						points = append(points, stats.Point{Time: index.inferred.Times[i], Value: c.inferred.Numbers[i]})
					}
				}
				return seriesResult{column: c.column.Name, components: stats.Decompose(points, cfg)}, nil
			},
		})
	}

	var out []seriesResult
	for _, r := range workerpool.Process(ctx, pool, items, nil) {
		if r.Err != nil {
			return nil, r.Err
		}
		if len(r.Result.components) > 0 {
			out = append(out, r.Result)
		}
	}
	return out, nil
}

// writeArtifacts renders and stores graphs and series one at a time, in
// column order, so artifact keys are stable between runs.
func (a *Analyzer) writeArtifacts(ctx context.Context, table string, columns []*columnResult, corr *models.CorrelationMatrix, decomposed []seriesResult, sink artifacts.Sink) ([]models.Artifact, error) {
	if sink == nil {
		return nil, nil
	}
	var arts []models.Artifact

	for _, c := range columns {
		if c.column.Distribution == nil {
			continue
		}
		png, err := charts.Histogram(c.column.Name, c.values, len(c.column.Distribution.Buckets))
		if err != nil {
			a.logger.Warn("Failed to render distribution graph", zap.String("column", c.column.Name), zap.Error(err))
			continue
		}
		ref, err := sink.Save(ctx, fmt.Sprintf("%s-%s-distribution.png", table, c.column.Name), charts.ContentType, png)
		if err != nil {
			return nil, err
		}
		arts = append(arts, models.Artifact{Ref: ref, Kind: models.ArtifactDistributionGraph, Subject: c.column.Name})
	}

	if corr != nil {
		png, err := charts.CorrelationHeatmap(table, corr)
		if err != nil {
			a.logger.Warn("Failed to render correlation graph", zap.Error(err))
		} else {
			ref, err := sink.Save(ctx, table+"-correlation.png", charts.ContentType, png)
			if err != nil {
				return nil, err
			}
			arts = append(arts, models.Artifact{Ref: ref, Kind: models.ArtifactCorrelationGraph})
		}
	}

	for _, d := range decomposed {
		for _, c := range d.components {
			for _, s := range []struct {
				kind   models.ArtifactKind
				suffix string
				values []float64
			}{
				{models.ArtifactTrendSeries, "trend", c.Trend},
				{models.ArtifactSeasonalSeries, "seasonal", c.Seasonal},
			} {
				data, err := seriesJSON(c.Times, s.values)
				if err != nil {
					return nil, err
				}
				name := fmt.Sprintf("%s-%s-%s-%s.json", table, d.column, c.Period.Name, s.suffix)
				ref, err := sink.Save(ctx, name, "application/json", data)
				if err != nil {
					return nil, err
				}
				arts = append(arts, models.Artifact{Ref: ref, Kind: s.kind, Subject: d.column, Period: c.Period.Name})
			}
		}
	}
	return arts, nil
}

type seriesPoint struct {
	Time  time.Time `json:"time"`
	Value *float64  `json:"value"`
}

// seriesJSON encodes a series; slots without a value (trend edges) are null.
func seriesJSON(times []time.Time, values []float64) ([]byte, error) {
	points := make([]seriesPoint, len(values))
	for i, v := range values {
		points[i].Time = times[i]
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			v := v
			points[i].Value = &v
		}
	}
	return json.Marshal(points)
}

// round trims float noise beyond twelve significant digits.
func round(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	f, _ := strconv.ParseFloat(strconv.FormatFloat(v, 'g', 12, 64), 64)
	return f
}
