package config

import (
	"errors"
	"fmt"
	"runtime"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/ekaya-inc/edp-engine/pkg/apperrors"
)

// Decomposition modes.
const (
	DecompositionAdditive       = "additive"
	DecompositionMultiplicative = "multiplicative"
)

// ValidDecompositionModes lists the accepted decomposition modes.
var ValidDecompositionModes = []string{DecompositionAdditive, DecompositionMultiplicative}

// AnalysisConfig holds the defaults every profiling run starts from.
type AnalysisConfig struct {
	Columns      ColumnsConfig      `yaml:"columns" json:"columns"`
	Outliers     OutliersConfig     `yaml:"outliers" json:"outliers"`
	Distribution DistributionConfig `yaml:"distribution" json:"distribution"`
	Correlation  CorrelationConfig  `yaml:"correlation" json:"correlation"`
	Seasonality  SeasonalityConfig  `yaml:"seasonality" json:"seasonality"`
	Text         TextConfig         `yaml:"text" json:"text"`
	Image        ImageConfig        `yaml:"image" json:"image"`
	Archive      ArchiveConfig      `yaml:"archive" json:"archive"`

	// ColumnWorkers bounds per-column parallelism inside one job. 0 means one per CPU.
	ColumnWorkers int `yaml:"column_workers" json:"columnWorkers" env:"ANALYSIS_COLUMN_WORKERS" env-default:"0"`
}

// ColumnsConfig controls semantic type inference.
type ColumnsConfig struct {
	// MaxInconsistentFraction is the share of non-missing values allowed to fail the parser
	// of the inferred type.
	MaxInconsistentFraction float64  `yaml:"max_inconsistent_fraction" json:"maxInconsistentFraction" env:"ANALYSIS_MAX_INCONSISTENT_FRACTION" env-default:"0.1"`
	DatetimeFormats         []string `yaml:"datetime_formats" json:"datetimeFormats" env:"ANALYSIS_DATETIME_FORMATS" env-separator:"," env-default:"2006-01-02T15:04:05Z07:00,2006-01-02T15:04:05,2006-01-02 15:04:05,2006-01-02,02.01.2006 15:04:05,02.01.2006 15:04,02.01.2006,01/02/2006 15:04:05,01-02-2006"`
}

// OutliersConfig holds the thresholds of the three outlier methods.
type OutliersConfig struct {
	PercentileLow   float64 `yaml:"percentile_low" json:"percentileLow" env:"ANALYSIS_PERCENTILE_LOW" env-default:"1"`
	PercentileHigh  float64 `yaml:"percentile_high" json:"percentileHigh" env:"ANALYSIS_PERCENTILE_HIGH" env-default:"99"`
	ZScoreThreshold float64 `yaml:"zscore_threshold" json:"zScoreThreshold" env:"ANALYSIS_ZSCORE_THRESHOLD" env-default:"3"`
	IQRMultiplier   float64 `yaml:"iqr_multiplier" json:"iqrMultiplier" env:"ANALYSIS_IQR_MULTIPLIER" env-default:"1.5"`
	MinSamples      int     `yaml:"min_samples" json:"minSamples" env:"ANALYSIS_OUTLIER_MIN_SAMPLES" env-default:"5"`
}

// DistributionConfig controls histograms and value-frequency summaries.
type DistributionConfig struct {
	MinNumericValues int `yaml:"min_numeric_values" json:"minNumericValues" env:"ANALYSIS_DISTRIBUTION_MIN_NUMERIC" env-default:"16"`
	MinUniqueStrings int `yaml:"min_unique_strings" json:"minUniqueStrings" env:"ANALYSIS_DISTRIBUTION_MIN_UNIQUE_STRINGS" env-default:"4"`
	MaxBins          int `yaml:"max_bins" json:"maxBins" env:"ANALYSIS_DISTRIBUTION_MAX_BINS" env-default:"50"`
	TopValues        int `yaml:"top_values" json:"topValues" env:"ANALYSIS_DISTRIBUTION_TOP_VALUES" env-default:"10"`
}

// CorrelationConfig controls the correlation matrix.
type CorrelationConfig struct {
	MinRows int `yaml:"min_rows" json:"minRows" env:"ANALYSIS_CORRELATION_MIN_ROWS" env-default:"16"`
}

// SeasonalityConfig controls trend/seasonal decomposition.
type SeasonalityConfig struct {
	Mode                     string  `yaml:"mode" json:"mode" env:"ANALYSIS_DECOMPOSITION_MODE" env-default:"additive"`
	MinSamples               int     `yaml:"min_samples" json:"minSamples" env:"ANALYSIS_SEASONALITY_MIN_SAMPLES" env-default:"14"`
	ResidualVarianceFraction float64 `yaml:"residual_variance_fraction" json:"residualVarianceFraction" env:"ANALYSIS_RESIDUAL_VARIANCE_FRACTION" env-default:"0.5"`
	MinAutocorrelation       float64 `yaml:"min_autocorrelation" json:"minAutocorrelation" env:"ANALYSIS_MIN_AUTOCORRELATION" env-default:"0.3"`
	MaxSeriesLength          int     `yaml:"max_series_length" json:"maxSeriesLength" env:"ANALYSIS_MAX_SERIES_LENGTH" env-default:"20000"`
}

// TextConfig controls language identification.
type TextConfig struct {
	MinSentenceLength  int     `yaml:"min_sentence_length" json:"minSentenceLength" env:"ANALYSIS_TEXT_MIN_SENTENCE_LENGTH" env-default:"14"`
	LanguageConfidence float64 `yaml:"language_confidence" json:"languageConfidence" env:"ANALYSIS_TEXT_LANGUAGE_CONFIDENCE" env-default:"0.5"`
}

// ImageConfig controls image quality metrics.
type ImageConfig struct {
	LowContrastThreshold float64 `yaml:"low_contrast_threshold" json:"lowContrastThreshold" env:"ANALYSIS_IMAGE_LOW_CONTRAST" env-default:"0.05"`
	MaxSamplePixels      int     `yaml:"max_sample_pixels" json:"maxSamplePixels" env:"ANALYSIS_IMAGE_MAX_SAMPLE_PIXELS" env-default:"1048576"`
}

// ArchiveConfig bounds archive expansion.
type ArchiveConfig struct {
	MaxEntries           int   `yaml:"max_entries" json:"maxEntries" env:"ANALYSIS_ARCHIVE_MAX_ENTRIES" env-default:"1000"`
	MaxDepth             int   `yaml:"max_depth" json:"maxDepth" env:"ANALYSIS_ARCHIVE_MAX_DEPTH" env-default:"3"`
	MaxUncompressedBytes int64 `yaml:"max_uncompressed_bytes" json:"maxUncompressedBytes" env:"ANALYSIS_ARCHIVE_MAX_BYTES" env-default:"1073741824"`
}

// DefaultAnalysisConfig returns the same defaults the env-default tags declare.
func DefaultAnalysisConfig() AnalysisConfig {
	return AnalysisConfig{
		Columns: ColumnsConfig{
			MaxInconsistentFraction: 0.1,
			DatetimeFormats: []string{
				"2006-01-02T15:04:05Z07:00",
				"2006-01-02T15:04:05",
				"2006-01-02 15:04:05",
				"2006-01-02",
				"02.01.2006 15:04:05",
				"02.01.2006 15:04",
				"02.01.2006",
				"01/02/2006 15:04:05",
				"01-02-2006",
			},
		},
		Outliers: OutliersConfig{
			PercentileLow:   1,
			PercentileHigh:  99,
			ZScoreThreshold: 3,
			IQRMultiplier:   1.5,
			MinSamples:      5,
		},
		Distribution: DistributionConfig{
			MinNumericValues: 16,
			MinUniqueStrings: 4,
			MaxBins:          50,
			TopValues:        10,
		},
		Correlation: CorrelationConfig{MinRows: 16},
		Seasonality: SeasonalityConfig{
			Mode:                     DecompositionAdditive,
			MinSamples:               14,
			ResidualVarianceFraction: 0.5,
			MinAutocorrelation:       0.3,
			MaxSeriesLength:          20000,
		},
		Text: TextConfig{
			MinSentenceLength:  14,
			LanguageConfidence: 0.5,
		},
		Image: ImageConfig{
			LowContrastThreshold: 0.05,
			MaxSamplePixels:      1 << 20,
		},
		Archive: ArchiveConfig{
			MaxEntries:           1000,
			MaxDepth:             3,
			MaxUncompressedBytes: 1 << 30,
		},
	}
}

// Workers resolves the per-column worker count.
func (c *AnalysisConfig) Workers() int {
	if c.ColumnWorkers > 0 {
		return c.ColumnWorkers
	}
	return runtime.NumCPU()
}

// Validate rejects values no analyzer can work with.
func (c *AnalysisConfig) Validate() error {
	var errs []error

	o := c.Outliers
	if o.PercentileLow < 0 || o.PercentileHigh > 100 || o.PercentileLow >= o.PercentileHigh {
		errs = append(errs, fmt.Errorf("percentile bounds must satisfy 0 <= low < high <= 100, got %g/%g", o.PercentileLow, o.PercentileHigh))
	}
	if o.ZScoreThreshold <= 0 {
		errs = append(errs, fmt.Errorf("zscore threshold must be positive, got %g", o.ZScoreThreshold))
	}
	if o.IQRMultiplier <= 0 {
		errs = append(errs, fmt.Errorf("iqr multiplier must be positive, got %g", o.IQRMultiplier))
	}
	if o.MinSamples < 1 {
		errs = append(errs, errors.New("outlier min_samples must be at least 1"))
	}
	if c.Columns.MaxInconsistentFraction < 0 || c.Columns.MaxInconsistentFraction >= 1 {
		errs = append(errs, fmt.Errorf("max_inconsistent_fraction must be in [0, 1), got %g", c.Columns.MaxInconsistentFraction))
	}
	if c.Correlation.MinRows < 2 {
		errs = append(errs, errors.New("correlation min_rows must be at least 2"))
	}
	if !slices.Contains(ValidDecompositionModes, c.Seasonality.Mode) {
		errs = append(errs, fmt.Errorf("unknown decomposition mode %q", c.Seasonality.Mode))
	}
	if f := c.Seasonality.ResidualVarianceFraction; f <= 0 || f > 1 {
		errs = append(errs, fmt.Errorf("residual_variance_fraction must be in (0, 1], got %g", f))
	}

	// Two cycles of the shortest period (2) are needed to estimate a seasonal component.
	s := c.Seasonality
	if s.MinSamples < 4 {
		errs = append(errs, fmt.Errorf("seasonality min_samples must be at least 4, got %d", s.MinSamples))
	}
	if s.MaxSeriesLength < s.MinSamples {
		errs = append(errs, fmt.Errorf("max_series_length must be at least min_samples (%d), got %d", s.MinSamples, s.MaxSeriesLength))
	}
	if s.MinAutocorrelation < 0 || s.MinAutocorrelation > 1 {
		errs = append(errs, fmt.Errorf("min_autocorrelation must be in [0, 1], got %g", s.MinAutocorrelation))
	}

	d := c.Distribution
	if d.MinNumericValues < 1 || d.MinUniqueStrings < 1 {
		errs = append(errs, errors.New("distribution min_numeric_values and min_unique_strings must be at least 1"))
	}
	if d.MaxBins < 1 {
		errs = append(errs, fmt.Errorf("distribution max_bins must be at least 1, got %d", d.MaxBins))
	}
	if d.TopValues < 1 {
		errs = append(errs, fmt.Errorf("distribution top_values must be at least 1, got %d", d.TopValues))
	}

	return errors.Join(errs...)
}

// AnalysisOverrides are per-job adjustments supplied with a submission.
// Nil fields keep the configured default.
type AnalysisOverrides struct {
	PercentileLow           *float64 `yaml:"percentile_low" json:"percentileLow,omitempty"`
	PercentileHigh          *float64 `yaml:"percentile_high" json:"percentileHigh,omitempty"`
	ZScoreThreshold         *float64 `yaml:"zscore_threshold" json:"zScoreThreshold,omitempty"`
	IQRMultiplier           *float64 `yaml:"iqr_multiplier" json:"iqrMultiplier,omitempty"`
	MinOutlierSamples       *int     `yaml:"min_outlier_samples" json:"minOutlierSamples,omitempty"`
	MinCorrelationRows      *int     `yaml:"min_correlation_rows" json:"minCorrelationRows,omitempty"`
	MinSeasonalitySamples   *int     `yaml:"min_seasonality_samples" json:"minSeasonalitySamples,omitempty"`
	DecompositionMode       *string  `yaml:"decomposition_mode" json:"decompositionMode,omitempty"`
	MaxInconsistentFraction *float64 `yaml:"max_inconsistent_fraction" json:"maxInconsistentFraction,omitempty"`
}

// ParseOverrides decodes a YAML (or JSON) overrides document.
func ParseOverrides(data []byte) (*AnalysisOverrides, error) {
	var o AnalysisOverrides
	if len(data) == 0 {
		return &o, nil
	}
	if err := yaml.Unmarshal(data, &o); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrInvalidOverrides, err)
	}
	return &o, nil
}

// WithOverrides returns a copy of c with o applied, or an error wrapping
// apperrors.ErrInvalidOverrides when the result is not valid.
func (c AnalysisConfig) WithOverrides(o *AnalysisOverrides) (AnalysisConfig, error) {
	out := c
	out.Columns.DatetimeFormats = slices.Clone(c.Columns.DatetimeFormats)
	if o == nil {
		return out, nil
	}

	setFloat(&out.Outliers.PercentileLow, o.PercentileLow)
	setFloat(&out.Outliers.PercentileHigh, o.PercentileHigh)
	setFloat(&out.Outliers.ZScoreThreshold, o.ZScoreThreshold)
	setFloat(&out.Outliers.IQRMultiplier, o.IQRMultiplier)
	setFloat(&out.Columns.MaxInconsistentFraction, o.MaxInconsistentFraction)
	setInt(&out.Outliers.MinSamples, o.MinOutlierSamples)
	setInt(&out.Correlation.MinRows, o.MinCorrelationRows)
	setInt(&out.Seasonality.MinSamples, o.MinSeasonalitySamples)
	if o.DecompositionMode != nil {
		out.Seasonality.Mode = *o.DecompositionMode
	}

	if err := out.Validate(); err != nil {
		return c, fmt.Errorf("%w: %v", apperrors.ErrInvalidOverrides, err)
	}
	return out, nil
}

func setFloat(dst *float64, v *float64) {
	if v != nil {
		*dst = *v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}
