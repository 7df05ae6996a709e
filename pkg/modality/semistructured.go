package modality

import (
	"context"

	"go.uber.org/zap"

	"github.com/ekaya-inc/edp-engine/pkg/apperrors"
	"github.com/ekaya-inc/edp-engine/pkg/models"
	"github.com/ekaya-inc/edp-engine/pkg/tabular"
)

// SemiStructuredAnalyzer profiles JSON documents. Every array of records in
// the document becomes a child structured dataset.
type SemiStructuredAnalyzer struct {
	tabular *tabular.Analyzer
	logger  *zap.Logger
}

// NewSemiStructuredAnalyzer creates a SemiStructuredAnalyzer.
func NewSemiStructuredAnalyzer(tab *tabular.Analyzer, logger *zap.Logger) *SemiStructuredAnalyzer {
	return &SemiStructuredAnalyzer{
		tabular: tab,
		logger:  logger.Named("semi_structured"),
	}
}

// Analyze parses the document and profiles each record table.
func (a *SemiStructuredAnalyzer) Analyze(ctx context.Context, in *Input) (*models.AnalysisResult, error) {
	doc, err := tabular.ReadJSON(in.Name, in.Data, 0)
	if err != nil {
		return nil, apperrors.Analyzer(err, "read JSON document %s", in.Name)
	}

	res := &models.AnalysisResult{
		Name:     in.Name,
		Modality: models.ModalitySemiStructured,
		Summary: &models.SemiStructuredSummary{
			Format:     "json",
			TableCount: len(doc.Tables),
			MaxDepth:   doc.MaxDepth,
		},
	}

	structured := &StructuredAnalyzer{tabular: a.tabular, logger: a.logger}
	for _, t := range doc.Tables {
		name := childName(in.Name, t.Name)
		child, err := structured.analyzeTable(ctx, in, t, name)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			a.logger.Warn("Record table unavailable", zap.String("table", name), zap.Error(err))
			child = Failed(name, models.ModalityStructured, err)
		}
		res.Children = append(res.Children, child)
	}
	return res, nil
}
