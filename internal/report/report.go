package report

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/1homsi/secreview/internal/finding"
	"github.com/1homsi/secreview/internal/priority"
	"github.com/1homsi/secreview/internal/rule"
)

// maxExamples caps the examples kept per recommendation.
const maxExamples = 3

// Report is the aggregated review of a set of findings.
type Report struct {
	Summary           string                          `json:"summary"`
	TotalIssues       int                             `json:"totalIssues"`
	CriticalCount     int                             `json:"criticalCount"`
	HighCount         int                             `json:"highCount"`
	MediumCount       int                             `json:"mediumCount"`
	LowCount          int                             `json:"lowCount"`
	InfoCount         int                             `json:"infoCount"`
	SeverityBreakdown map[rule.Severity]SeverityGroup `json:"severityBreakdown"`
	Recommendations   []Recommendation                `json:"recommendations"`
	PositiveFindings  []string                        `json:"positiveFindings"`
	ActionableFiles   []ActionableFile                `json:"actionableFiles"`
	ConfidenceScore   int                             `json:"confidenceScore"`
	ConfidenceLevel   string                          `json:"confidenceLevel"`
	RiskPenalty       float64                         `json:"riskPenalty"`
	Findings          []finding.Finding               `json:"findings"`
	Scan              *ScanInfo                       `json:"scan,omitempty"`
}

type SeverityGroup struct {
	Level  rule.Severity     `json:"level"`
	Count  int               `json:"count"`
	Issues []finding.Finding `json:"issues"`
}

// Recommendation groups every finding of one rule.
type Recommendation struct {
	RuleID         string        `json:"ruleId"`
	Category       rule.Category `json:"category"`
	Severity       rule.Severity `json:"severity"`
	Title          string        `json:"title"`
	Recommendation string        `json:"recommendation"`
	References     []string      `json:"references"`
	Occurrences    int           `json:"occurrences"`
	Files          []string      `json:"files"`
	Examples       []Example     `json:"examples"`
}

type Example struct {
	File string `json:"file"`
	Line int    `json:"line"`
	Code string `json:"code"`
}

// ActionableFile ranks a file for remediation. Priority is the severity rank
// of the worst finding in the file (0 = critical).
type ActionableFile struct {
	File            string        `json:"file"`
	IssueCount      int           `json:"issueCount"`
	Priority        int           `json:"priority"`
	HighestSeverity rule.Severity `json:"highestSeverity"`
}

// ScanInfo describes the run that produced a report. It is filled in by the
// CLI and left nil by Build.
type ScanInfo struct {
	Tool         string    `json:"tool"`
	Version      string    `json:"version"`
	RulesVersion string    `json:"rulesVersion"`
	Roots        []string  `json:"roots"`
	FilesScanned int       `json:"filesScanned"`
	FilesSkipped int       `json:"filesSkipped"`
	Suppressed   int       `json:"suppressed"`
	Threshold    string    `json:"threshold"`
	StartedAt    time.Time `json:"startedAt"`
	DurationMS   int64     `json:"durationMs"`
}

// securityCategories get a positive statement when nothing in them fired.
var securityCategories = []rule.Category{
	rule.CategoryInjection,
	rule.CategoryXSS,
	rule.CategorySecrets,
	rule.CategoryAuth,
	rule.CategoryCrypto,
	rule.CategoryAccessControl,
	rule.CategorySSRF,
	rule.CategoryDataIntegrity,
}

var positiveStatements = map[rule.Category]string{
	rule.CategoryInjection:     "No injection vulnerabilities detected",
	rule.CategoryXSS:           "No cross-site scripting (XSS) vulnerabilities detected",
	rule.CategorySecrets:       "No hardcoded secrets detected",
	rule.CategoryAuth:          "No authentication weaknesses detected",
	rule.CategoryCrypto:        "No weak cryptography detected",
	rule.CategoryAccessControl: "No access control issues detected",
	rule.CategorySSRF:          "No server-side request forgery (SSRF) risks detected",
	rule.CategoryDataIntegrity: "No data integrity issues detected",
}

// Build aggregates findings into a Report. All counts come from a single
// pass, so the severity counts always sum to TotalIssues.
func Build(findings []finding.Finding) Report {
	r := Report{
		SeverityBreakdown: make(map[rule.Severity]SeverityGroup, len(rule.Severities)),
		Recommendations:   []Recommendation{},
		PositiveFindings:  []string{},
		ActionableFiles:   []ActionableFile{},
		Findings:          append([]finding.Finding{}, findings...),
	}

	groups := make(map[rule.Severity][]finding.Finding, len(rule.Severities))
	categories := make(map[rule.Category]int)
	for _, f := range findings {
		level := f.Severity
		if !level.Valid() {
			level = rule.SeverityInfo
		}
		groups[level] = append(groups[level], f)
		categories[f.Category]++
	}
	for _, level := range rule.Severities {
		issues := groups[level]
		if issues == nil {
			issues = []finding.Finding{}
		}
		r.SeverityBreakdown[level] = SeverityGroup{Level: level, Count: len(issues), Issues: issues}
	}

	r.CriticalCount = len(groups[rule.SeverityCritical])
	r.HighCount = len(groups[rule.SeverityHigh])
	r.MediumCount = len(groups[rule.SeverityMedium])
	r.LowCount = len(groups[rule.SeverityLow])
	r.InfoCount = len(groups[rule.SeverityInfo])
	r.TotalIssues = r.CriticalCount + r.HighCount + r.MediumCount + r.LowCount + r.InfoCount

	r.Recommendations = buildRecommendations(findings)
	r.ActionableFiles = buildActionableFiles(findings)
	for _, c := range securityCategories {
		if categories[c] == 0 {
			r.PositiveFindings = append(r.PositiveFindings, positiveStatements[c])
		}
	}
	score := priority.Compute(findings)
	r.ConfidenceScore = score.Score
	r.ConfidenceLevel = score.Level
	r.RiskPenalty = score.Penalty
	r.Summary = summarize(r)
	return r
}

func summarize(r Report) string {
	if r.TotalIssues == 0 {
		return "No security issues found: no rule matched, and the scanned code follows the security best practices covered by the rule set."
	}
	var parts []string
	for _, level := range rule.Severities {
		if n := r.SeverityBreakdown[level].Count; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, level))
		}
	}
	return fmt.Sprintf("Found %d %s (%s) in %d %s.",
		r.TotalIssues, plural(r.TotalIssues, "issue", "issues"),
		strings.Join(parts, ", "),
		len(r.ActionableFiles), plural(len(r.ActionableFiles), "file", "files"))
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

func buildRecommendations(findings []finding.Finding) []Recommendation {
	var recs []Recommendation
	index := make(map[string]int)
	seenFile := make(map[string]map[string]bool)
	for _, f := range findings {
		i, ok := index[f.ID]
		if !ok {
			i = len(recs)
			index[f.ID] = i
			seenFile[f.ID] = make(map[string]bool)
			recs = append(recs, Recommendation{
				RuleID:         f.ID,
				Category:       f.Category,
				Severity:       f.Severity,
				Title:          f.Title,
				Recommendation: f.Recommendation,
				References:     f.References,
				Files:          []string{},
				Examples:       []Example{},
			})
		}
		rec := &recs[i]
		rec.Occurrences++
		if !seenFile[f.ID][f.File] {
			seenFile[f.ID][f.File] = true
			rec.Files = append(rec.Files, f.File)
		}
		if len(rec.Examples) < maxExamples {
			rec.Examples = append(rec.Examples, Example{File: f.File, Line: f.Line, Code: f.Snippet()})
		}
	}
	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].Severity.Rank() < recs[j].Severity.Rank()
	})
	if recs == nil {
		return []Recommendation{}
	}
	return recs
}

func buildActionableFiles(findings []finding.Finding) []ActionableFile {
	byFile := make(map[string]*ActionableFile)
	for _, f := range findings {
		af, ok := byFile[f.File]
		if !ok {
			af = &ActionableFile{File: f.File, Priority: f.Severity.Rank(), HighestSeverity: f.Severity}
			byFile[f.File] = af
		}
		af.IssueCount++
		if rank := f.Severity.Rank(); rank < af.Priority {
			af.Priority = rank
			af.HighestSeverity = f.Severity
		}
	}
	files := make([]ActionableFile, 0, len(byFile))
	for _, af := range byFile {
		files = append(files, *af)
	}
	sort.Slice(files, func(i, j int) bool {
		a, b := files[i], files[j]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		if a.IssueCount != b.IssueCount {
			return a.IssueCount > b.IssueCount
		}
		return a.File < b.File
	})
	return files
}

// FailsGate reports whether any finding is at or above threshold.
func (r Report) FailsGate(threshold rule.Severity) bool {
	if threshold == "" {
		return false
	}
	for _, level := range rule.Severities {
		if level.AtLeast(threshold) && r.SeverityBreakdown[level].Count > 0 {
			return true
		}
	}
	return false
}
