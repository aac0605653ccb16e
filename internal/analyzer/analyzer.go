// Package analyzer runs the rule catalog over files.
package analyzer

import (
	"log/slog"
	"os"

	"github.com/1homsi/secreview/internal/finding"
	"github.com/1homsi/secreview/internal/matcher"
	"github.com/1homsi/secreview/internal/rule"
)

// Analyzer applies a fixed catalog to files. It holds no mutable state and is
// safe for concurrent use.
type Analyzer struct {
	catalog *rule.Catalog
}

// New returns an Analyzer over c.
func New(c *rule.Catalog) *Analyzer {
	return &Analyzer{catalog: c}
}

// Default returns an Analyzer over the embedded catalog.
func Default() *Analyzer {
	return New(rule.Default())
}

func (a *Analyzer) Catalog() *rule.Catalog { return a.catalog }

// AnalyzeFile reads path and returns its findings. A file that cannot be read
// yields an empty, non-nil slice: the analyzer is often pointed at files that
// are mid-write or already gone.
func (a *Analyzer) AnalyzeFile(path string, threshold rule.Severity) []finding.Finding {
	data, err := os.ReadFile(path)
	if err != nil {
		slog.Debug("skipping unreadable file", "path", path, "err", err)
		return []finding.Finding{}
	}
	return a.AnalyzeContent(path, string(data), threshold)
}

// AnalyzeContent runs the same pipeline as AnalyzeFile over an in-memory
// buffer. Findings are ordered by catalog position, then by match offset.
func (a *Analyzer) AnalyzeContent(path, content string, threshold rule.Severity) []finding.Finding {
	findings := []finding.Finding{}
	for _, r := range a.Rules(path, threshold) {
		for _, loc := range matcher.Match(content, r, path) {
			findings = append(findings, finding.Build(r, loc, content, path))
		}
	}
	return findings
}

// Rules returns the catalog rules that apply to path at threshold, in
// catalog order. An empty threshold means info.
func (a *Analyzer) Rules(path string, threshold rule.Severity) []*rule.Rule {
	if threshold == "" {
		threshold = rule.SeverityInfo
	}
	var out []*rule.Rule
	for _, r := range a.catalog.Rules() {
		if !r.Severity.AtLeast(threshold) || !r.AppliesTo(path) {
			continue
		}
		out = append(out, r)
	}
	return out
}
