// Package priority computes the review confidence score from a set of
// findings, weighting each by severity and rule confidence.
package priority

import (
	"math"

	"github.com/1homsi/secreview/internal/finding"
	"github.com/1homsi/secreview/internal/rule"
)

// Per-finding penalty before the confidence factor is applied.
var severityWeights = map[rule.Severity]float64{
	rule.SeverityCritical: 20,
	rule.SeverityHigh:     10,
	rule.SeverityMedium:   5,
	rule.SeverityLow:      2,
	rule.SeverityInfo:     1,
}

var confidenceFactors = map[rule.Confidence]float64{
	rule.ConfidenceHigh:   1.0,
	rule.ConfidenceMedium: 0.75,
	rule.ConfidenceLow:    0.5,
}

// ConfidenceScore is the breakdown behind a report's confidence score.
type ConfidenceScore struct {
	Penalty float64 // Σ severity weight × confidence factor
	Score   int     // 100 - ceil(Penalty), clamped to [0, 100]
	Level   string  // Derived from Score (HIGH, MEDIUM, LOW)
}

// Weight returns the penalty a single finding contributes.
func Weight(s rule.Severity, c rule.Confidence) float64 {
	w, ok := severityWeights[s]
	if !ok {
		w = severityWeights[rule.SeverityInfo]
	}
	f, ok := confidenceFactors[c]
	if !ok {
		f = confidenceFactors[rule.ConfidenceLow]
	}
	return w * f
}

// Compute scores a set of findings. An empty set scores 100; every additional
// finding can only lower the score.
func Compute(findings []finding.Finding) ConfidenceScore {
	var score ConfidenceScore
	for _, f := range findings {
		score.Penalty += Weight(f.Severity, f.Confidence)
	}

	s := 100 - int(math.Ceil(score.Penalty))
	if s < 0 {
		s = 0
	}
	score.Score = s
	score.Level = deriveLevel(s)
	return score
}

// deriveLevel maps a confidence score to a coarse level using standard thresholds.
func deriveLevel(score int) string {
	switch {
	case score >= 80:
		return "HIGH"
	case score >= 50:
		return "MEDIUM"
	default:
		return "LOW"
	}
}
