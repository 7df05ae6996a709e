package modality

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/ekaya-inc/edp-engine/pkg/apperrors"
	"github.com/ekaya-inc/edp-engine/pkg/models"
	"github.com/ekaya-inc/edp-engine/pkg/tabular"
)

const xlsxMIME = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// StructuredAnalyzer profiles delimited text and spreadsheets.
type StructuredAnalyzer struct {
	tabular *tabular.Analyzer
	logger  *zap.Logger
}

// NewStructuredAnalyzer creates a StructuredAnalyzer.
func NewStructuredAnalyzer(tab *tabular.Analyzer, logger *zap.Logger) *StructuredAnalyzer {
	return &StructuredAnalyzer{
		tabular: tab,
		logger:  logger.Named("structured"),
	}
}

// Analyze reads the table(s) and runs the column analyses. A workbook's first
// non-empty sheet is the dataset itself; further sheets become child datasets.
func (a *StructuredAnalyzer) Analyze(ctx context.Context, in *Input) (*models.AnalysisResult, error) {
	var tables []*tabular.Table
	if in.Detection.MIMEType == xlsxMIME {
		sheets, err := tabular.ReadXLSX(in.Data)
		if err != nil {
			return nil, apperrors.Analyzer(err, "read workbook %s", in.Name)
		}
		tables = sheets
	} else {
		delim := in.Detection.Delimiter
		if delim == "" {
			delim = ","
		}
		t, err := tabular.ReadDelimited(in.Name, in.Data, delim)
		if err != nil {
			return nil, apperrors.Analyzer(err, "read delimited text %s", in.Name)
		}
		tables = []*tabular.Table{t}
	}
	if len(tables) == 0 || len(tables[0].Columns) == 0 {
		return nil, apperrors.Analyzer(nil, "%s contains no table", in.Name)
	}

	res, err := a.analyzeTable(ctx, in, tables[0], in.Name)
	if err != nil {
		return nil, err
	}

	for _, t := range tables[1:] {
		name := childName(in.Name, t.Name)
		child, err := a.analyzeTable(ctx, in, t, name)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			a.logger.Warn("Sheet unavailable", zap.String("sheet", name), zap.Error(err))
			child = Failed(name, models.ModalityStructured, err)
		}
		res.Children = append(res.Children, child)
	}
	return res, nil
}

func (a *StructuredAnalyzer) analyzeTable(ctx context.Context, in *Input, t *tabular.Table, name string) (*models.AnalysisResult, error) {
	summary, arts, err := a.tabular.Analyze(ctx, t, in.Config, in.Sink)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, apperrors.Analyzer(err, "analyze table %s", name)
	}
	return &models.AnalysisResult{
		Name:      name,
		Modality:  models.ModalityStructured,
		Summary:   summary,
		Artifacts: arts,
	}, nil
}
