package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/edp-engine/pkg/apperrors"
	"github.com/ekaya-inc/edp-engine/pkg/artifacts"
	"github.com/ekaya-inc/edp-engine/pkg/config"
	"github.com/ekaya-inc/edp-engine/pkg/detect"
	"github.com/ekaya-inc/edp-engine/pkg/logging"
	"github.com/ekaya-inc/edp-engine/pkg/modality"
	"github.com/ekaya-inc/edp-engine/pkg/models"
	"github.com/ekaya-inc/edp-engine/pkg/profile"
)

// Pipeline profiles one asset: fetch, detect, analyze, assemble, store.
// Cancellation is checked between stages; a stage in progress is not
// interrupted except where it honours ctx itself.
type Pipeline struct {
	fetcher   *artifacts.Fetcher
	detector  *detect.Detector
	registry  *modality.Registry
	assembler *profile.Assembler
	store     artifacts.Store
	analysis  config.AnalysisConfig
	now       func() time.Time
}

// NewPipeline wires the stages of a profiling run.
func NewPipeline(
	fetcher *artifacts.Fetcher,
	detector *detect.Detector,
	registry *modality.Registry,
	assembler *profile.Assembler,
	store artifacts.Store,
	analysis config.AnalysisConfig,
) *Pipeline {
	return &Pipeline{
		fetcher:   fetcher,
		detector:  detector,
		registry:  registry,
		assembler: assembler,
		store:     store,
		analysis:  analysis,
		now:       time.Now,
	}
}

// Run executes one attempt for job and returns the location of the stored
// profile. logger is the job's own logger.
func (p *Pipeline) Run(ctx context.Context, job *models.Job, logger *zap.Logger) (string, error) {
	jobID := job.ID.String()
	started := p.now()

	cfg, err := p.analysis.WithOverrides(job.Overrides)
	if err != nil {
		return "", fmt.Errorf("failed to apply overrides: %w", err)
	}

	logger.Info("Fetching asset",
		zap.String("location", logging.SanitizeLocation(job.Asset.Location)),
		zap.Int("attempt", job.Attempts))
	if err := checkpoint(ctx, "fetch"); err != nil {
		return "", err
	}
	data, err := p.fetcher.Fetch(ctx, job.Asset.Location)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)

	if err := checkpoint(ctx, "detect"); err != nil {
		return "", err
	}
	det, err := p.detector.Detect(data, job.Asset.FileName(), job.Asset.DeclaredType)
	if err != nil {
		logger.Warn("Asset not recognized", zap.String("error", logging.SanitizeError(err)))
		return "", err
	}
	logger.Info("Asset detected",
		zap.String("modality", string(det.Modality)),
		zap.String("mime", det.MIMEType),
		zap.String("source", string(det.Source)),
		zap.Int("bytes", len(data)))

	if err := checkpoint(ctx, "analyze"); err != nil {
		return "", err
	}
	root, err := p.registry.Analyze(ctx, &modality.Input{
		Name:      job.Asset.DisplayName(),
		Data:      data,
		Detection: det,
		Config:    cfg,
		Sink:      artifacts.NewJobSink(p.store, jobID),
	})
	if err != nil {
		return "", err
	}

	if err := checkpoint(ctx, "assemble"); err != nil {
		return "", err
	}
	prof, err := p.assembler.Assemble(profile.Metadata{
		AssetID:   jobID,
		Name:      job.Asset.DisplayName(),
		SHA256:    hex.EncodeToString(sum[:]),
		Volume:    int64(len(data)),
		Detection: det,
		Now:       p.now(),
	}, root)
	if err != nil {
		return "", err
	}
	for _, s := range prof.UnavailableSections {
		logger.Warn("Section unavailable",
			zap.String("section", s.Name),
			zap.String("kind", s.Kind),
			zap.String("message", s.Message))
	}

	doc, err := json.MarshalIndent(prof, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode profile: %w", err)
	}
	key := artifacts.ProfileKey(jobID)
	if err := p.store.Put(ctx, key, doc, "application/json"); err != nil {
		return "", apperrors.TransientIO(err, "failed to store profile")
	}

	logger.Info("Profile stored",
		zap.String("key", key),
		zap.Int("datasets", len(prof.DatasetTree)),
		zap.Int("unavailable_sections", len(prof.UnavailableSections)),
		zap.Duration("elapsed", p.now().Sub(started)))
	return artifacts.Location(key), nil
}

// checkpoint is the cooperative cancellation point between stages.
func checkpoint(ctx context.Context, stage string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("stopped before %s: %w", stage, err)
	}
	return nil
}
