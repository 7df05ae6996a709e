// Package modality holds the per-modality analyzers and the registry that
// dispatches an asset, or a nested part of one, to the matching analyzer.
package modality

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ekaya-inc/edp-engine/pkg/apperrors"
	"github.com/ekaya-inc/edp-engine/pkg/artifacts"
	"github.com/ekaya-inc/edp-engine/pkg/config"
	"github.com/ekaya-inc/edp-engine/pkg/detect"
	"github.com/ekaya-inc/edp-engine/pkg/models"
	"github.com/ekaya-inc/edp-engine/pkg/tabular"
)

// Input is one dataset handed to an analyzer.
type Input struct {
	Name      string
	Data      []byte
	Detection models.Detection
	Config    config.AnalysisConfig
	// Sink stores rendered artifacts; nil disables artifact output.
	Sink artifacts.Sink
	// Depth is 0 for the submitted asset and grows with each delegation.
	Depth int
}

// Analyzer produces the summary of one modality.
type Analyzer interface {
	Analyze(ctx context.Context, in *Input) (*models.AnalysisResult, error)
}

// TextExtractor turns an image into text. The OCR client implements it.
type TextExtractor interface {
	ExtractText(ctx context.Context, image []byte, mimeType string) (string, error)
}

// Registry maps each modality to its analyzer.
type Registry struct {
	analyzers map[models.Modality]Analyzer
	detector  *detect.Detector
	logger    *zap.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(detector *detect.Detector, logger *zap.Logger) *Registry {
	return &Registry{
		analyzers: make(map[models.Modality]Analyzer),
		detector:  detector,
		logger:    logger.Named("modality"),
	}
}

// NewDefaultRegistry registers an analyzer for every analyzable modality.
// extractor may be nil, in which case images are analyzed without OCR.
func NewDefaultRegistry(detector *detect.Detector, extractor TextExtractor, logger *zap.Logger) *Registry {
	r := NewRegistry(detector, logger)
	tab := tabular.NewAnalyzer(logger)

	r.Register(models.ModalityStructured, NewStructuredAnalyzer(tab, logger))
	r.Register(models.ModalitySemiStructured, NewSemiStructuredAnalyzer(tab, logger))
	r.Register(models.ModalityText, NewTextAnalyzer(logger))
	r.Register(models.ModalityImage, NewImageAnalyzer(extractor, r, logger))
	r.Register(models.ModalityAudio, NewAudioAnalyzer(logger))
	r.Register(models.ModalityVideo, NewVideoAnalyzer(logger))
	r.Register(models.ModalityArchive, NewArchiveAnalyzer(r, logger))
	return r
}

// Register sets the analyzer for a modality, replacing any previous one.
func (r *Registry) Register(m models.Modality, a Analyzer) {
	r.analyzers[m] = a
}

// Analyze runs the analyzer of in.Detection.Modality. Errors are returned as
// they are: for the submitted asset any error is terminal. Errors outside the
// taxonomy are wrapped as AnalyzerError.
func (r *Registry) Analyze(ctx context.Context, in *Input) (*models.AnalysisResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a, ok := r.analyzers[in.Detection.Modality]
	if !ok {
		return nil, apperrors.UnrecognizedAsset("no analyzer for modality %q", in.Detection.Modality)
	}

	res, err := a.Analyze(ctx, in)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if apperrors.KindOf(err) == apperrors.KindInternal {
			err = apperrors.Analyzer(err, "%s analyzer failed on %s", in.Detection.Modality, in.Name)
		}
		return nil, err
	}
	if res.Name == "" {
		res.Name = in.Name
	}
	if res.Modality == "" {
		res.Modality = in.Detection.Modality
	}
	return res, nil
}

// Delegate analyzes a nested part of parent as a secondary dataset. The part
// is detected first unless det is given. A failure of the part degrades to a
// result carrying a Failure; only cancellation of ctx is returned as an error.
func (r *Registry) Delegate(ctx context.Context, parent *Input, name string, data []byte, det *models.Detection) (*models.AnalysisResult, error) {
	child := &Input{
		Name:   name,
		Data:   data,
		Config: parent.Config,
		Sink:   parent.Sink,
		Depth:  parent.Depth + 1,
	}

	if det != nil {
		child.Detection = *det
	} else {
		d, err := r.detector.Detect(data, name, "")
		if err != nil {
			return r.degraded(name, d.Modality, err), nil
		}
		child.Detection = d
	}

	res, err := r.Analyze(ctx, child)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return r.degraded(name, child.Detection.Modality, err), nil
	}
	return res, nil
}

func (r *Registry) degraded(name string, m models.Modality, err error) *models.AnalysisResult {
	r.logger.Warn("Secondary dataset unavailable",
		zap.String("dataset", name),
		zap.String("modality", string(m)),
		zap.Error(err))
	return Failed(name, m, err)
}

// Failed builds the result of a degraded secondary analysis.
func Failed(name string, m models.Modality, err error) *models.AnalysisResult {
	if m == "" {
		m = models.ModalityUnknown
	}
	return &models.AnalysisResult{
		Name:     name,
		Modality: m,
		Failure: &models.Failure{
			Kind:    string(apperrors.KindOf(err)),
			Message: apperrors.Message(err),
		},
	}
}

// childName names a nested dataset after its parent.
func childName(parent, part string) string {
	if parent == "" {
		return part
	}
	return fmt.Sprintf("%s/%s", parent, part)
}
