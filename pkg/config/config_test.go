package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/edp-engine/pkg/apperrors"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	tmpDir := t.TempDir()
	originalDir, err := os.Getwd()
	if err != nil {
		t.Fatalf("failed to get working directory: %v", err)
	}
	if err := os.Chdir(tmpDir); err != nil {
		t.Fatalf("failed to change directory: %v", err)
	}
	t.Cleanup(func() {
		os.Chdir(originalDir)
	})
	return tmpDir
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	tmpDir := chdirTemp(t)

	yamlContent := `
port: "3443"
env: "test"
jobs:
  queue_capacity: 8
  timeout: 5m
database:
  host: "db.example.com"
analysis:
  outliers:
    zscore_threshold: 2.5
`
	if err := os.WriteFile(filepath.Join(tmpDir, "config.yaml"), []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	os.Unsetenv("PGHOST")
	os.Unsetenv("BASE_URL")
	t.Setenv("PORT", "4443")
	t.Setenv("ENVIRONMENT", "production")

	cfg, err := Load("test-version")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Port != "4443" {
		t.Errorf("expected Port=4443 (from env), got %s", cfg.Port)
	}
	if cfg.Env != "production" {
		t.Errorf("expected Env=production (from env), got %s", cfg.Env)
	}
	if cfg.Version != "test-version" {
		t.Errorf("expected Version=test-version, got %s", cfg.Version)
	}
	if cfg.BaseURL != "http://localhost:4443" {
		t.Errorf("expected BaseURL=http://localhost:4443 (auto-derived from PORT), got %s", cfg.BaseURL)
	}
	if cfg.Database.Host != "db.example.com" {
		t.Errorf("expected Database.Host=db.example.com (from yaml), got %s", cfg.Database.Host)
	}
	if cfg.Jobs.QueueCapacity != 8 {
		t.Errorf("expected Jobs.QueueCapacity=8, got %d", cfg.Jobs.QueueCapacity)
	}
	if cfg.Jobs.Timeout != 5*time.Minute {
		t.Errorf("expected Jobs.Timeout=5m, got %s", cfg.Jobs.Timeout)
	}
	if cfg.Analysis.Outliers.ZScoreThreshold != 2.5 {
		t.Errorf("expected zscore threshold 2.5 (from yaml), got %g", cfg.Analysis.Outliers.ZScoreThreshold)
	}
	// Untouched analysis fields keep their defaults.
	if cfg.Analysis.Outliers.IQRMultiplier != 1.5 {
		t.Errorf("expected default iqr multiplier 1.5, got %g", cfg.Analysis.Outliers.IQRMultiplier)
	}
}

func TestLoad_WithoutConfigFile(t *testing.T) {
	chdirTemp(t)
	os.Unsetenv("JOBS_STORE")

	cfg, err := Load("dev")
	require.NoError(t, err)

	assert.Equal(t, StoreMemory, cfg.Jobs.Store)
	assert.Equal(t, ArtifactsLocal, cfg.Artifacts.Backend)
	assert.Equal(t, 64, cfg.Jobs.QueueCapacity)
	assert.Equal(t, DefaultAnalysisConfig().Columns.DatetimeFormats, cfg.Analysis.Columns.DatetimeFormats)
	assert.Equal(t, DecompositionAdditive, cfg.Analysis.Seasonality.Mode)
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	chdirTemp(t)
	t.Setenv("JOBS_QUEUE_CAPACITY", "0")
	t.Setenv("JOBS_STORE", "cassandra")

	_, err := Load("dev")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "queue_capacity")
	assert.Contains(t, err.Error(), "cassandra")
}

func TestJobsConfig_WorkerCount(t *testing.T) {
	assert.Equal(t, 3, JobsConfig{Workers: 3}.WorkerCount())
	assert.Greater(t, JobsConfig{}.WorkerCount(), 0)
}

func TestDatabaseConfig_URL(t *testing.T) {
	c := DatabaseConfig{Host: "db", Port: 5433, User: "edp", Password: "p@ss", Database: "jobs", SSLMode: "disable"}
	assert.Equal(t, "postgres://edp:p%40ss@db:5433/jobs?sslmode=disable", c.URL())
}

func TestAnalysisConfig_WithOverrides(t *testing.T) {
	base := DefaultAnalysisConfig()
	z := 2.0
	mode := DecompositionMultiplicative

	got, err := base.WithOverrides(&AnalysisOverrides{ZScoreThreshold: &z, DecompositionMode: &mode})
	require.NoError(t, err)

	assert.Equal(t, 2.0, got.Outliers.ZScoreThreshold)
	assert.Equal(t, DecompositionMultiplicative, got.Seasonality.Mode)
	assert.Equal(t, 3.0, base.Outliers.ZScoreThreshold, "base config must not change")
}

func TestAnalysisConfig_WithOverrides_Invalid(t *testing.T) {
	base := DefaultAnalysisConfig()
	low, high := 60.0, 40.0

	_, err := base.WithOverrides(&AnalysisOverrides{PercentileLow: &low, PercentileHigh: &high})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidOverrides))

	mode := "exotic"
	_, err = base.WithOverrides(&AnalysisOverrides{DecompositionMode: &mode})
	assert.True(t, errors.Is(err, apperrors.ErrInvalidOverrides))

	for _, n := range []int{0, -3, 3} {
		_, err = base.WithOverrides(&AnalysisOverrides{MinSeasonalitySamples: &n})
		assert.True(t, errors.Is(err, apperrors.ErrInvalidOverrides), "min_seasonality_samples=%d", n)
	}
	n := 4
	_, err = base.WithOverrides(&AnalysisOverrides{MinSeasonalitySamples: &n})
	assert.NoError(t, err)
}

func TestAnalysisConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*AnalysisConfig)
	}{
		{"max series shorter than min samples", func(c *AnalysisConfig) { c.Seasonality.MaxSeriesLength = 10 }},
		{"negative autocorrelation", func(c *AnalysisConfig) { c.Seasonality.MinAutocorrelation = -0.1 }},
		{"zero max bins", func(c *AnalysisConfig) { c.Distribution.MaxBins = 0 }},
		{"zero top values", func(c *AnalysisConfig) { c.Distribution.TopValues = 0 }},
		{"zero min numeric values", func(c *AnalysisConfig) { c.Distribution.MinNumericValues = 0 }},
		{"zero min unique strings", func(c *AnalysisConfig) { c.Distribution.MinUniqueStrings = 0 }},
	}

	base := DefaultAnalysisConfig()
	require.NoError(t, base.Validate())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultAnalysisConfig()
			tt.modify(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestParseOverrides(t *testing.T) {
	o, err := ParseOverrides([]byte("iqr_multiplier: 3\ndecomposition_mode: multiplicative\n"))
	require.NoError(t, err)
	require.NotNil(t, o.IQRMultiplier)
	assert.Equal(t, 3.0, *o.IQRMultiplier)
	require.NotNil(t, o.DecompositionMode)
	assert.Equal(t, "multiplicative", *o.DecompositionMode)
	assert.Nil(t, o.ZScoreThreshold)

	// JSON is valid YAML.
	o, err = ParseOverrides([]byte(`{"zscore_threshold": 4}`))
	require.NoError(t, err)
	require.NotNil(t, o.ZScoreThreshold)
	assert.Equal(t, 4.0, *o.ZScoreThreshold)

	_, err = ParseOverrides([]byte("iqr_multiplier: [oops"))
	assert.True(t, errors.Is(err, apperrors.ErrInvalidOverrides))
}
