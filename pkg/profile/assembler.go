// Package profile assembles analyzer output into the Extended Dataset Profile.
package profile

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/edp-engine/pkg/apperrors"
	"github.com/ekaya-inc/edp-engine/pkg/models"
)

// Metadata is the asset-level provenance the pipeline knows before analysis.
type Metadata struct {
	AssetID   string
	Name      string
	SHA256    string
	Volume    int64
	Detection models.Detection
	Now       time.Time
}

// Assembler merges an analysis tree into a Profile. It never computes
// statistics; it only places summaries and cross-references artifacts.
type Assembler struct {
	generatedBy string
	logger      *zap.Logger
}

// NewAssembler creates an Assembler stamping profiles with the engine version.
func NewAssembler(version string, logger *zap.Logger) *Assembler {
	return &Assembler{
		generatedBy: "EDP Engine @ " + version,
		logger:      logger.Named("assembler"),
	}
}

// Assemble builds the profile. The root result is the primary modality; a
// missing or failed root yields IncompleteProfileError. Failed descendants
// become unavailable sections.
func (a *Assembler) Assemble(meta Metadata, root *models.AnalysisResult) (*models.Profile, error) {
	if root == nil {
		return nil, apperrors.IncompleteProfile("no primary analysis result for %s", meta.Name)
	}
	if root.Failure != nil {
		return nil, apperrors.IncompleteProfile("primary %s section unavailable: %s", root.Modality, root.Failure.Message)
	}
	if root.Summary == nil {
		return nil, apperrors.IncompleteProfile("primary %s section missing", root.Modality)
	}
	if root.Summary.Modality() != root.Modality {
		return nil, apperrors.IncompleteProfile("primary section is %s, expected %s", root.Summary.Modality(), root.Modality)
	}

	now := meta.Now
	if now.IsZero() {
		now = time.Now()
	}
	now = now.UTC()

	p := &models.Profile{
		SchemaVersion:          models.SchemaVersion,
		GeneratedBy:            a.generatedBy,
		AssetID:                meta.AssetID,
		Name:                   meta.Name,
		AssetSHA256:            meta.SHA256,
		Volume:                 meta.Volume,
		Detection:              meta.Detection,
		DataTypes:              []models.Modality{},
		Created:                now,
		Updated:                now,
		StructuredDatasets:     []*models.StructuredSummary{},
		SemiStructuredDatasets: []*models.SemiStructuredSummary{},
		TextDatasets:           []*models.TextSummary{},
		ImageDatasets:          []*models.ImageSummary{},
		AudioDatasets:          []*models.AudioSummary{},
		VideoDatasets:          []*models.VideoSummary{},
		ArchiveDatasets:        []*models.ArchiveSummary{},
		DatasetTree:            []models.DatasetTreeNode{},
	}

	b := &builder{profile: p, logger: a.logger, seen: map[models.Modality]bool{}}
	b.walk(root, "")

	a.logger.Debug("Profile assembled",
		zap.String("asset_id", meta.AssetID),
		zap.Int("datasets", len(p.DatasetTree)),
		zap.Int("unavailable", len(p.UnavailableSections)))
	return p, nil
}

type builder struct {
	profile *models.Profile
	logger  *zap.Logger
	seen    map[models.Modality]bool
}

// walk places node and its descendants depth-first. parent is the JSON
// reference of the enclosing tree node, empty for the root.
func (b *builder) walk(node *models.AnalysisResult, parent string) {
	if node == nil {
		return
	}
	if node.Failure != nil || node.Summary == nil {
		section := models.UnavailableSection{
			Name:     node.Name,
			Modality: node.Modality,
			Parent:   parent,
			Kind:     string(apperrors.KindIncompleteProfile),
			Message:  "analyzer returned no summary",
		}
		if node.Failure != nil {
			section.Kind = node.Failure.Kind
			section.Message = node.Failure.Message
		}
		b.profile.UnavailableSections = append(b.profile.UnavailableSections, section)
		return
	}

	dataset, ok := b.place(node)
	if !ok {
		b.logger.Warn("Unsupported summary type", zap.String("dataset", node.Name))
		b.profile.UnavailableSections = append(b.profile.UnavailableSections, models.UnavailableSection{
			Name:     node.Name,
			Modality: node.Modality,
			Parent:   parent,
			Kind:     string(apperrors.KindInternal),
			Message:  fmt.Sprintf("unsupported summary type %T", node.Summary),
		})
		return
	}
	idx := len(b.profile.DatasetTree)
	b.profile.DatasetTree = append(b.profile.DatasetTree, models.DatasetTreeNode{
		Name:     node.Name,
		Modality: node.Summary.Modality(),
		Dataset:  dataset,
		Parent:   parent,
	})
	if m := node.Summary.Modality(); !b.seen[m] {
		b.seen[m] = true
		b.profile.DataTypes = append(b.profile.DataTypes, m)
	}

	self := fmt.Sprintf("#/datasetTree/%d", idx)
	for _, child := range node.Children {
		b.walk(child, self)
	}
}

// place appends the summary to its typed list and returns its reference.
func (b *builder) place(node *models.AnalysisResult) (string, bool) {
	p := b.profile
	switch s := node.Summary.(type) {
	case *models.StructuredSummary:
		b.attach(node.Name, s, node.Artifacts)
		p.TemporalCover = p.TemporalCover.Extend(s.TemporalCover)
		if p.Periodicity == "" {
			p.Periodicity = s.Periodicity
		}
		p.StructuredDatasets = append(p.StructuredDatasets, s)
		return ref("structuredDatasets", len(p.StructuredDatasets)-1), true
	case *models.SemiStructuredSummary:
		p.SemiStructuredDatasets = append(p.SemiStructuredDatasets, s)
		b.unattached(node)
		return ref("semiStructuredDatasets", len(p.SemiStructuredDatasets)-1), true
	case *models.TextSummary:
		p.TextDatasets = append(p.TextDatasets, s)
		b.unattached(node)
		return ref("unstructuredTextDatasets", len(p.TextDatasets)-1), true
	case *models.ImageSummary:
		p.ImageDatasets = append(p.ImageDatasets, s)
		b.unattached(node)
		return ref("imageDatasets", len(p.ImageDatasets)-1), true
	case *models.AudioSummary:
		p.AudioDatasets = append(p.AudioDatasets, s)
		b.unattached(node)
		return ref("audioDatasets", len(p.AudioDatasets)-1), true
	case *models.VideoSummary:
		p.VideoDatasets = append(p.VideoDatasets, s)
		b.unattached(node)
		return ref("videoDatasets", len(p.VideoDatasets)-1), true
	case *models.ArchiveSummary:
		p.ArchiveDatasets = append(p.ArchiveDatasets, s)
		b.unattached(node)
		return ref("archiveDatasets", len(p.ArchiveDatasets)-1), true
	}
	return "", false
}

// attach links artifact references to the column, dataset or seasonal
// component they describe.
func (b *builder) attach(dataset string, s *models.StructuredSummary, arts []models.Artifact) {
	for _, art := range arts {
		ok := false
		switch art.Kind {
		case models.ArtifactCorrelationGraph:
			if s.Correlation != nil {
				s.CorrelationGraph = art.Ref
				ok = true
			}
		case models.ArtifactDistributionGraph:
			if col := s.Column(art.Subject); col != nil {
				if col.Distribution == nil {
					col.Distribution = &models.DistributionSummary{}
				}
				col.Distribution.Graph = art.Ref
				ok = true
			}
		case models.ArtifactTrendSeries, models.ArtifactSeasonalSeries:
			if col := s.Column(art.Subject); col != nil {
				for i := range col.Seasonality {
					comp := &col.Seasonality[i]
					if comp.Period != art.Period {
						continue
					}
					if art.Kind == models.ArtifactTrendSeries {
						comp.TrendRef = art.Ref
					} else {
						comp.SeasonalRef = art.Ref
					}
					ok = true
				}
			}
		}
		if !ok {
			b.logger.Warn("Artifact has no matching section",
				zap.String("dataset", dataset),
				zap.String("kind", string(art.Kind)),
				zap.String("subject", art.Subject),
				zap.String("ref", art.Ref))
		}
	}
}

func (b *builder) unattached(node *models.AnalysisResult) {
	if len(node.Artifacts) > 0 {
		b.logger.Warn("Artifacts ignored for non-tabular dataset",
			zap.String("dataset", node.Name),
			zap.Int("count", len(node.Artifacts)))
	}
}

func ref(list string, i int) string {
	return fmt.Sprintf("#/%s/%d", list, i)
}
