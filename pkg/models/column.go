package models

import "time"

// SemanticType is the inferred type of a tabular column.
type SemanticType string

const (
	SemanticNumeric  SemanticType = "numeric"
	SemanticDatetime SemanticType = "datetime"
	SemanticString   SemanticType = "string"
)

// Column holds the statistics of one tabular column. The raw values are not
// part of the profile; they live only in the table being analyzed.
type Column struct {
	Name               string       `json:"name"`
	Type               SemanticType `json:"type"`
	NullCount          int          `json:"nullCount"`
	InconsistentCount  int          `json:"inconsistentCount"`
	InterpretableCount int          `json:"interpretableCount"`
	NumberUnique       int          `json:"numberUnique"`

	Numeric  *NumericStats  `json:"numeric,omitempty"`
	Datetime *DatetimeStats `json:"datetime,omitempty"`
	String   *StringStats   `json:"string,omitempty"`

	Outliers     []OutlierResult      `json:"outliers,omitempty"`
	Distribution *DistributionSummary `json:"distribution,omitempty"`
	Seasonality  []SeasonalComponent  `json:"seasonality,omitempty"`
}

// RowCount is the total number of cells the counts cover.
func (c *Column) RowCount() int {
	return c.NullCount + c.InconsistentCount + c.InterpretableCount
}

// NumericStats summarizes interpretable numeric values.
type NumericStats struct {
	// Kind is "integer" when every value is whole, else "float".
	Kind                 string  `json:"kind"`
	Min                  float64 `json:"min"`
	Max                  float64 `json:"max"`
	Mean                 float64 `json:"mean"`
	Median               float64 `json:"median"`
	StdDev               float64 `json:"stdDev"`
	RelativeOutlierCount float64 `json:"relativeOutlierCount"`
}

// DatetimeStats summarizes interpretable datetime values.
type DatetimeStats struct {
	Format      string    `json:"format"`
	Earliest    time.Time `json:"earliest"`
	Latest      time.Time `json:"latest"`
	Granularity string    `json:"granularity,omitempty"`
}

// StringStats summarizes interpretable string values.
type StringStats struct {
	MostFrequent []ValueCount `json:"mostFrequent,omitempty"`
}

// ValueCount is one entry of a frequency table.
type ValueCount struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

// OutlierMethod tags an outlier detection method.
type OutlierMethod string

const (
	OutlierPercentile OutlierMethod = "percentile"
	OutlierZScore     OutlierMethod = "z-score"
	OutlierIQR        OutlierMethod = "iqr"
)

// OutlierResult is the outcome of one method on one column. Results of
// different methods are never merged.
type OutlierResult struct {
	Method OutlierMethod `json:"method"`
	Lower  *float64      `json:"lower,omitempty"`
	Upper  *float64      `json:"upper,omitempty"`
	Count  int           `json:"count"`
}

// HistogramBucket is one bin of a numeric histogram; Upper is exclusive except for the last bin.
type HistogramBucket struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
	Count int     `json:"count"`
}

// DistributionSummary describes the shape of a column's values.
type DistributionSummary struct {
	Buckets []HistogramBucket `json:"buckets,omitempty"`
	Label   string            `json:"label,omitempty"`
	// Graph is the artifact reference of the rendered histogram.
	Graph string `json:"graph,omitempty"`
}

// CorrelationMatrix holds Pearson coefficients between numeric columns.
// A nil entry means the pair had too few joint rows to be computed.
type CorrelationMatrix struct {
	Columns []string     `json:"columns"`
	Values  [][]*float64 `json:"values"`
}

// Get returns the coefficient for two columns, if present.
func (m *CorrelationMatrix) Get(a, b string) (float64, bool) {
	i, j := -1, -1
	for k, name := range m.Columns {
		if name == a {
			i = k
		}
		if name == b {
			j = k
		}
	}
	if i < 0 || j < 0 || m.Values[i][j] == nil {
		return 0, false
	}
	return *m.Values[i][j], true
}

// SeasonalComponent is one detected periodicity of a numeric column.
type SeasonalComponent struct {
	Period          string  `json:"period"`
	PeriodSeconds   int64   `json:"periodSeconds"`
	PeriodSamples   int     `json:"periodSamples"`
	Mode            string  `json:"mode"`
	Autocorrelation float64 `json:"autocorrelation"`
	ResidualRatio   float64 `json:"residualVarianceRatio"`
	TrendRef        string  `json:"trend,omitempty"`
	SeasonalRef     string  `json:"seasonal,omitempty"`
}

// TemporalCover is the time span covered by datetime values.
type TemporalCover struct {
	Earliest time.Time `json:"earliest"`
	Latest   time.Time `json:"latest"`
}

// Extend widens the cover to include other.
func (t *TemporalCover) Extend(other *TemporalCover) *TemporalCover {
	if other == nil {
		return t
	}
	if t == nil {
		c := *other
		return &c
	}
	c := *t
	if other.Earliest.Before(c.Earliest) {
		c.Earliest = other.Earliest
	}
	if other.Latest.After(c.Latest) {
		c.Latest = other.Latest
	}
	return &c
}
