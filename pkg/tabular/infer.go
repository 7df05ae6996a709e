package tabular

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/ekaya-inc/edp-engine/pkg/config"
	"github.com/ekaya-inc/edp-engine/pkg/models"
)

// missingTokens are treated as absent values (compared case-insensitively).
var missingTokens = map[string]struct{}{
	"":     {},
	"na":   {},
	"n/a":  {},
	"null": {},
	"none": {},
	"nan":  {},
}

// IsMissing reports whether a raw cell counts as absent.
func IsMissing(s string) bool {
	_, ok := missingTokens[strings.ToLower(strings.TrimSpace(s))]
	return ok
}

// ParseNumber parses a numeric cell. A decimal comma is accepted when the
// value has no dot; true/false read as 1/0.
func ParseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "true":
		return 1, true
	case "false":
		return 0, true
	}
	if strings.Count(s, ",") == 1 && !strings.Contains(s, ".") {
		s = strings.Replace(s, ",", ".", 1)
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, false
	}
	return f, true
}

// Inferred is the parsed form of one column. Numbers and Times are aligned
// with the raw rows; Valid marks the interpretable cells.
type Inferred struct {
	Type   models.SemanticType
	Layout string

	Numbers []float64
	Times   []time.Time
	Valid   []bool

	NullCount         int
	InconsistentCount int
}

// InterpretableCount is the number of cells that parsed as the inferred type.
func (in *Inferred) InterpretableCount() int {
	n := 0
	for _, ok := range in.Valid {
		if ok {
			n++
		}
	}
	return n
}

// Infer decides the semantic type of a column. Types are tried in the order
// numeric, datetime, string; a type is accepted when at most
// MaxInconsistentFraction of the present values fail its parser.
func Infer(values []string, cfg config.ColumnsConfig) *Inferred {
	n := len(values)
	present := make([]bool, n)
	presentCount := 0
	for i, v := range values {
		if !IsMissing(v) {
			present[i] = true
			presentCount++
		}
	}
	in := &Inferred{
		Type:      models.SemanticString,
		Valid:     make([]bool, n),
		NullCount: n - presentCount,
	}
	if presentCount == 0 {
		return in
	}
	allowed := cfg.MaxInconsistentFraction * float64(presentCount)

	numbers := make([]float64, n)
	numValid := make([]bool, n)
	failures := 0
	for i, v := range values {
		if !present[i] {
			continue
		}
		if f, ok := ParseNumber(v); ok {
			numbers[i], numValid[i] = f, true
		} else {
			failures++
		}
	}
	if failures < presentCount && float64(failures) <= allowed {
		in.Type = models.SemanticNumeric
		in.Numbers = numbers
		in.Valid = numValid
		in.InconsistentCount = failures
		return in
	}

	if layout, times, valid, failed, ok := inferDatetime(values, present, presentCount, allowed, cfg.DatetimeFormats); ok {
		in.Type = models.SemanticDatetime
		in.Layout = layout
		in.Times = times
		in.Valid = valid
		in.InconsistentCount = failed
		return in
	}

	copy(in.Valid, present)
	return in
}

func inferDatetime(values []string, present []bool, presentCount int, allowed float64, layouts []string) (string, []time.Time, []bool, int, bool) {
	bestLayout, bestMatches := "", 0
	for _, layout := range layouts {
		if !hasDate(layout) {
			continue
		}
		matches := 0
		for i, v := range values {
			if !present[i] {
				continue
			}
			if _, err := time.Parse(layout, strings.TrimSpace(v)); err == nil {
				matches++
			}
		}
		if matches > bestMatches {
			bestLayout, bestMatches = layout, matches
		}
	}
	failed := presentCount - bestMatches
	if bestMatches == 0 || float64(failed) > allowed {
		return "", nil, nil, 0, false
	}

	times := make([]time.Time, len(values))
	valid := make([]bool, len(values))
	for i, v := range values {
		if !present[i] {
			continue
		}
		if t, err := time.Parse(bestLayout, strings.TrimSpace(v)); err == nil {
			times[i], valid[i] = t, true
		}
	}
	return bestLayout, times, valid, failed, true
}

// hasDate rejects time-of-day layouts, which would match clock values
// without a calendar date.
func hasDate(layout string) bool {
	return strings.Contains(layout, "2006") || strings.Contains(layout, "06")
}
