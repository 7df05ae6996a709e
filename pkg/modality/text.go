package modality

import (
	"context"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/abadojack/whatlanggo"
	"go.uber.org/zap"

	"github.com/ekaya-inc/edp-engine/pkg/models"
	"github.com/ekaya-inc/edp-engine/pkg/tabular"
)

// TextAnalyzer computes lexical statistics and identifies languages.
type TextAnalyzer struct {
	logger *zap.Logger
}

// NewTextAnalyzer creates a TextAnalyzer.
func NewTextAnalyzer(logger *zap.Logger) *TextAnalyzer {
	return &TextAnalyzer{logger: logger.Named("text")}
}

// Analyze decodes the text (UTF-8, else Windows-1252) and identifies the
// language of every sentence long enough to be judged. When no sentence can
// be identified the whole text is tried instead.
func (a *TextAnalyzer) Analyze(ctx context.Context, in *Input) (*models.AnalysisResult, error) {
	text, encoding := tabular.DecodeText(in.Data)

	summary := &models.TextSummary{
		Encoding:  encoding,
		LineCount: lineCount(text),
		WordCount: len(strings.Fields(text)),
	}

	cfg := in.Config.Text
	counts := make(map[string]int)
	sentences := Sentences(text)
	for _, s := range sentences {
		if utf8.RuneCountInString(s) < cfg.MinSentenceLength {
			continue
		}
		if code, ok := identify(s, cfg.LanguageConfidence); ok {
			counts[code]++
		}
	}
	if len(counts) == 0 && len(sentences) > 0 {
		if code, ok := identify(text, cfg.LanguageConfidence); ok {
			counts[code] = len(sentences)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	summary.Languages = make([]models.LanguageShare, 0, len(counts))
	for code, n := range counts {
		summary.Languages = append(summary.Languages, models.LanguageShare{Code: code, Sentences: n})
	}
	sort.Slice(summary.Languages, func(i, j int) bool {
		li, lj := summary.Languages[i], summary.Languages[j]
		if li.Sentences != lj.Sentences {
			return li.Sentences > lj.Sentences
		}
		return li.Code < lj.Code
	})

	a.logger.Debug("Text analyzed",
		zap.String("dataset", in.Name),
		zap.Int("words", summary.WordCount),
		zap.Int("languages", len(summary.Languages)))

	return &models.AnalysisResult{
		Name:     in.Name,
		Modality: models.ModalityText,
		Summary:  summary,
	}, nil
}

// identify returns the ISO 639-3 code of the text's language.
func identify(text string, minConfidence float64) (string, bool) {
	info := whatlanggo.Detect(text)
	if info.Confidence < minConfidence {
		return "", false
	}
	code := info.Lang.Iso6393()
	return code, code != ""
}

// Sentences splits text at sentence-ending punctuation followed by
// whitespace and at line breaks. Empty sentences are dropped.
func Sentences(text string) []string {
	var out []string
	var b strings.Builder
	flush := func() {
		if s := strings.TrimSpace(b.String()); s != "" {
			out = append(out, s)
		}
		b.Reset()
	}

	runes := []rune(text)
	for i, r := range runes {
		if r == '\n' {
			flush()
			continue
		}
		b.WriteRune(r)
		if isTerminal(r) && (i+1 == len(runes) || unicode.IsSpace(runes[i+1])) {
			flush()
		}
	}
	flush()
	return out
}

func isTerminal(r rune) bool {
	switch r {
	case '.', '!', '?', '。', '！', '？':
		return true
	}
	return false
}

func lineCount(text string) int {
	if text == "" {
		return 0
	}
	n := strings.Count(text, "\n")
	if !strings.HasSuffix(text, "\n") {
		n++
	}
	return n
}
