// Package finding turns raw rule matches into enriched vulnerability records.
package finding

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode/utf8"

	"github.com/1homsi/secreview/internal/matcher"
	"github.com/1homsi/secreview/internal/rule"
)

// Finding is one rule match in one file. Findings are values; nothing
// mutates them after Build.
type Finding struct {
	ID             string          `json:"id"`
	Title          string          `json:"title"`
	Description    string          `json:"description"`
	Severity       rule.Severity   `json:"severity"`
	Category       rule.Category   `json:"category"`
	OWASPCategory  string          `json:"owaspCategory,omitempty"`
	CWEID          int             `json:"cweId,omitempty"`
	File           string          `json:"file"`
	Line           int             `json:"line"`
	Column         int             `json:"column"`
	Code           string          `json:"code"`
	Match          string          `json:"match"`
	Recommendation string          `json:"recommendation"`
	References     []string        `json:"references"`
	Confidence     rule.Confidence `json:"confidence"`
	Impact         string          `json:"impact"`
	Exploitability string          `json:"exploitability"`
}

var impacts = map[rule.Severity]string{
	rule.SeverityCritical: "Direct compromise of the application or its data is likely: attackers may execute code, read or modify protected data, or take over accounts.",
	rule.SeverityHigh:     "Significant security impact: sensitive data exposure or unauthorized actions are possible under realistic conditions.",
	rule.SeverityMedium:   "Moderate impact: the weakness weakens defenses and may be chained with other issues into a compromise.",
	rule.SeverityLow:      "Limited impact: the issue is hard to exploit on its own but erodes defense in depth.",
	rule.SeverityInfo:     "No direct security impact; the code deviates from recommended practice.",
}

// Impact returns the fixed impact description for a severity level.
func Impact(s rule.Severity) string {
	if text, ok := impacts[s]; ok {
		return text
	}
	return impacts[rule.SeverityInfo]
}

// Exploitability grades how easily a finding could be abused.
func Exploitability(s rule.Severity, c rule.Confidence) string {
	switch {
	case s == rule.SeverityCritical && c == rule.ConfidenceHigh:
		return "Very High"
	case s == rule.SeverityHigh || c == rule.ConfidenceHigh:
		return "High"
	case s == rule.SeverityMedium:
		return "Medium"
	default:
		return "Low"
	}
}

// Build creates the Finding for loc. It never panics: offsets outside
// [0, len(content)] are clamped and produce an empty code snippet.
func Build(r *rule.Rule, loc matcher.Location, content, path string) Finding {
	offset := loc.Offset
	inRange := offset >= 0 && offset <= len(content)
	if offset < 0 {
		offset = 0
	}
	if offset > len(content) {
		offset = len(content)
	}

	lineStart := strings.LastIndexByte(content[:offset], '\n') + 1
	f := Finding{
		ID:             r.ID,
		Title:          r.Name,
		Description:    r.Description,
		Severity:       r.Severity,
		Category:       r.Category,
		OWASPCategory:  r.OWASPCategory,
		CWEID:          r.CWEID,
		File:           path,
		Line:           1 + strings.Count(content[:offset], "\n"),
		Column:         1 + utf8.RuneCountInString(content[lineStart:offset]),
		Recommendation: r.Recommendation,
		References:     append([]string(nil), r.References...),
		Confidence:     r.Confidence,
		Impact:         Impact(r.Severity),
		Exploitability: Exploitability(r.Severity, r.Confidence),
	}
	if inRange {
		f.Code = strings.TrimSpace(rule.LineAt(content, offset))
	}
	f.Match = loc.Text
	if r.Category == rule.CategorySecrets {
		f.Match = Redact(loc.Text)
	}
	return f
}

// Redact keeps the first half of a secret and masks the rest. Lengths are
// counted in runes so a multi-byte character is never split.
func Redact(s string) string {
	if s == "" {
		return s
	}
	n := utf8.RuneCountInString(s)
	keep := 1 + n/2
	if n < 8 {
		keep = 1
	}
	if keep > n {
		keep = n
	}
	cut := 0
	for i := 0; i < keep; i++ {
		_, size := utf8.DecodeRuneInString(s[cut:])
		cut += size
	}
	return s[:cut] + strings.Repeat("*", n-keep)
}

// Snippet is the text safe to show for f: the redacted match for secrets,
// the source line otherwise.
func (f Finding) Snippet() string {
	if f.Category == rule.CategorySecrets {
		return f.Match
	}
	return f.Code
}

// Fingerprint identifies a finding independently of its line number, so
// moving code up or down does not produce a new finding in diffs.
func (f Finding) Fingerprint() string {
	sum := sha256.Sum256([]byte(f.ID + "|" + f.File + "|" + strings.TrimSpace(f.Code)))
	return hex.EncodeToString(sum[:16])
}
