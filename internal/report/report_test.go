package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1homsi/secreview/internal/finding"
	"github.com/1homsi/secreview/internal/history"
	"github.com/1homsi/secreview/internal/rule"
)

func mk(id string, s rule.Severity, c rule.Confidence, cat rule.Category, file string, line int) finding.Finding {
	return finding.Finding{
		ID:             id,
		Title:          strings.ReplaceAll(id, "_", " "),
		Description:    "description of " + id,
		Severity:       s,
		Category:       cat,
		CWEID:          89,
		File:           file,
		Line:           line,
		Column:         1,
		Code:           "code line " + id,
		Match:          "match",
		Recommendation: "fix " + id,
		References:     []string{"https://cwe.mitre.org/data/definitions/89.html"},
		Confidence:     c,
	}
}

func mixedFindings() []finding.Finding {
	return []finding.Finding{
		mk("weak_hash_algorithm", rule.SeverityMedium, rule.ConfidenceMedium, rule.CategoryCrypto, "a.js", 3),
		mk("todo_comment", rule.SeverityInfo, rule.ConfidenceHigh, rule.CategoryCodeQuality, "a.js", 1),
		mk("sql_injection", rule.SeverityCritical, rule.ConfidenceHigh, rule.CategoryInjection, "b.js", 7),
		mk("weak_hash_algorithm", rule.SeverityMedium, rule.ConfidenceMedium, rule.CategoryCrypto, "b.js", 9),
		mk("weak_hash_algorithm", rule.SeverityMedium, rule.ConfidenceMedium, rule.CategoryCrypto, "c.js", 2),
		mk("weak_hash_algorithm", rule.SeverityMedium, rule.ConfidenceMedium, rule.CategoryCrypto, "c.js", 5),
	}
}

func TestBuildCountsSumToTotal(t *testing.T) {
	r := Build(mixedFindings())

	assert.Equal(t, 6, r.TotalIssues)
	assert.Equal(t, r.TotalIssues, r.CriticalCount+r.HighCount+r.MediumCount+r.LowCount+r.InfoCount)
	assert.Equal(t, 1, r.CriticalCount)
	assert.Equal(t, 4, r.MediumCount)
	assert.Equal(t, 1, r.InfoCount)

	require.Len(t, r.SeverityBreakdown, len(rule.Severities))
	for level, group := range r.SeverityBreakdown {
		assert.Equal(t, level, group.Level)
		assert.Len(t, group.Issues, group.Count, "level %s", level)
	}
	assert.Contains(t, r.Summary, "Found 6 issues")
	assert.Contains(t, r.Summary, "in 3 files")
}

func TestBuildRecommendations(t *testing.T) {
	r := Build(mixedFindings())

	require.Len(t, r.Recommendations, 3)
	for i := 1; i < len(r.Recommendations); i++ {
		assert.LessOrEqual(t, r.Recommendations[i-1].Severity.Rank(), r.Recommendations[i].Severity.Rank())
	}
	assert.Equal(t, rule.SeverityCritical, r.Recommendations[0].Severity)

	hash := r.Recommendations[1]
	assert.Equal(t, "weak_hash_algorithm", hash.RuleID)
	assert.Equal(t, 4, hash.Occurrences)
	assert.Equal(t, []string{"a.js", "b.js", "c.js"}, hash.Files)
	assert.Len(t, hash.Examples, maxExamples)
	assert.Equal(t, Example{File: "a.js", Line: 3, Code: "code line weak_hash_algorithm"}, hash.Examples[0])
}

func TestBuildActionableFiles(t *testing.T) {
	r := Build(mixedFindings())

	require.Len(t, r.ActionableFiles, 3)
	first := r.ActionableFiles[0]
	assert.Equal(t, "b.js", first.File)
	assert.Equal(t, 0, first.Priority)
	assert.Equal(t, rule.SeverityCritical, first.HighestSeverity)

	// a.js and c.js tie on priority and count; path decides.
	assert.Equal(t, "a.js", r.ActionableFiles[1].File)
	assert.Equal(t, "c.js", r.ActionableFiles[2].File)
	for i := 1; i < len(r.ActionableFiles); i++ {
		assert.LessOrEqual(t, r.ActionableFiles[i-1].Priority, r.ActionableFiles[i].Priority)
	}
}

func TestBuildCriticalAndMedium(t *testing.T) {
	r := Build([]finding.Finding{
		mk("weak_hash_algorithm", rule.SeverityMedium, rule.ConfidenceMedium, rule.CategoryCrypto, "x.js", 2),
		mk("sql_injection", rule.SeverityCritical, rule.ConfidenceHigh, rule.CategoryInjection, "x.js", 1),
	})

	assert.Equal(t, 76, r.ConfidenceScore)
	assert.Equal(t, "MEDIUM", r.ConfidenceLevel)
	assert.InDelta(t, 23.75, r.RiskPenalty, 1e-9)
	require.Len(t, r.ActionableFiles, 1)
	assert.Equal(t, 0, r.ActionableFiles[0].Priority)
	assert.Equal(t, 2, r.ActionableFiles[0].IssueCount)
	assert.Equal(t, rule.SeverityCritical, r.Recommendations[0].Severity)
	assert.NotContains(t, r.PositiveFindings, "No injection vulnerabilities detected")
	assert.NotContains(t, r.PositiveFindings, "No weak cryptography detected")
	assert.Contains(t, r.PositiveFindings, "No hardcoded secrets detected")
}

func TestBuildClean(t *testing.T) {
	r := Build(nil)

	assert.Zero(t, r.TotalIssues)
	assert.Equal(t, 100, r.ConfidenceScore)
	assert.Equal(t, "HIGH", r.ConfidenceLevel)
	assert.Zero(t, r.RiskPenalty)
	assert.Len(t, r.PositiveFindings, len(securityCategories))
	assert.Empty(t, r.Recommendations)
	assert.Empty(t, r.ActionableFiles)
	assert.NotNil(t, r.Findings)
	lower := strings.ToLower(r.Summary)
	assert.Contains(t, lower, "no ")
	assert.Contains(t, lower, "best practices")
	for _, level := range rule.Severities {
		assert.Zero(t, r.SeverityBreakdown[level].Count)
		assert.NotNil(t, r.SeverityBreakdown[level].Issues)
	}
}

func TestFailsGate(t *testing.T) {
	r := Build([]finding.Finding{
		mk("weak_hash_algorithm", rule.SeverityMedium, rule.ConfidenceMedium, rule.CategoryCrypto, "x.js", 2),
	})
	assert.True(t, r.FailsGate(rule.SeverityLow))
	assert.True(t, r.FailsGate(rule.SeverityMedium))
	assert.False(t, r.FailsGate(rule.SeverityHigh))
	assert.False(t, r.FailsGate(""))
	assert.False(t, Build(nil).FailsGate(rule.SeverityInfo))
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, Build(mixedFindings())))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.EqualValues(t, 6, decoded["totalIssues"])
	assert.Contains(t, decoded, "severityBreakdown")
	assert.Contains(t, decoded, "confidenceScore")
	assert.NotContains(t, decoded, "scan")
}

func secretFinding() finding.Finding {
	f := mk("hardcoded_secret", rule.SeverityCritical, rule.ConfidenceHigh, rule.CategorySecrets, "cfg.js", 4)
	f.Code = `const apiKey = "abcdefghijklmnopqrstu"`
	f.Match = finding.Redact("abcdefghijklmnopqrstu")
	return f
}

func TestWriteJSONMasksSecrets(t *testing.T) {
	r := Build(append(mixedFindings(), secretFinding()))

	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, r))
	assert.NotContains(t, buf.String(), "abcdefghijklmnopqrstu")

	var decoded Report
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	for _, f := range decoded.Findings {
		if f.ID == "hardcoded_secret" {
			assert.Equal(t, "abcdefghijk**********", f.Code)
		}
	}
	issues := decoded.SeverityBreakdown[rule.SeverityCritical].Issues
	require.NotEmpty(t, issues)
	assert.Equal(t, "abcdefghijk**********", issues[len(issues)-1].Code)
	for _, rec := range decoded.Recommendations {
		if rec.RuleID == "hardcoded_secret" {
			assert.Equal(t, "abcdefghijk**********", rec.Examples[0].Code)
		}
	}

	// The in-memory report keeps the source line for fingerprints.
	assert.Equal(t, `const apiKey = "abcdefghijklmnopqrstu"`, r.Findings[len(r.Findings)-1].Code)
}

func TestWriteMarkdownMasksAndTrims(t *testing.T) {
	long := mk("weak_hash", rule.SeverityMedium, rule.ConfidenceHigh, rule.CategoryCrypto, "x.py", 1)
	long.Code = "h = md5(\"" + strings.Repeat("é", 120) + "\")"

	var buf bytes.Buffer
	require.NoError(t, WriteMarkdown(&buf, Build([]finding.Finding{long, secretFinding()})))
	out := buf.String()
	assert.NotContains(t, out, "abcdefghijklmnopqrstu")
	assert.Contains(t, out, "abcdefghijk**********")
	assert.Contains(t, out, "...")
	assert.True(t, utf8.ValidString(out))
}

func TestWriteSARIF(t *testing.T) {
	findings := mixedFindings()
	findings = append(findings, secretFinding())

	r := Build(findings)
	r.Scan = &ScanInfo{Version: "1.2.3"}

	var buf bytes.Buffer
	require.NoError(t, WriteSARIF(&buf, r))

	var out sarifOutput
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	assert.Equal(t, "2.1.0", out.Version)
	require.Len(t, out.Runs, 1)
	run := out.Runs[0]
	assert.Equal(t, "1.2.3", run.Tool.Driver.Version)
	assert.Len(t, run.Tool.Driver.Rules, 4, "one driver rule per distinct id")
	require.Len(t, run.Results, len(findings))

	for i, res := range run.Results {
		assert.Equal(t, res.RuleID, run.Tool.Driver.Rules[res.RuleIndex].ID)
		require.Len(t, res.Locations, 1)
		region := res.Locations[0].PhysicalLocation.Region
		assert.Equal(t, findings[i].Line, region.StartLine)
		assert.NotEmpty(t, res.PartialFingerprints["secreviewFingerprint/v1"])
	}

	last := run.Results[len(run.Results)-1]
	assert.Equal(t, "error", last.Level)
	snippet := last.Locations[0].PhysicalLocation.Region.Snippet
	require.NotNil(t, snippet)
	assert.Equal(t, "abcdefghijk**********", snippet.Text)
	assert.NotContains(t, buf.String(), "abcdefghijklmnopqrstu")
}

func TestSarifLevel(t *testing.T) {
	assert.Equal(t, "error", sarifLevel(rule.SeverityHigh))
	assert.Equal(t, "warning", sarifLevel(rule.SeverityMedium))
	assert.Equal(t, "note", sarifLevel(rule.SeverityLow))
	assert.Equal(t, "note", sarifLevel(rule.SeverityInfo))
}

func TestWriteText(t *testing.T) {
	var buf bytes.Buffer
	WriteText(&buf, Build(mixedFindings()))
	out := buf.String()

	assert.NotContains(t, out, "\x1b[", "no colour when not a terminal")
	assert.Contains(t, out, "Security Review")
	assert.Contains(t, out, "CRITICAL")
	assert.Contains(t, out, "sql_injection, CWE-89")
	assert.Contains(t, out, "Files to fix first")
	assert.Contains(t, out, "fix weak_hash_algorithm")
	assert.Less(t, strings.Index(out, "b.js"), strings.Index(out, "Recommendations"))
}

func TestWriteTextClean(t *testing.T) {
	var buf bytes.Buffer
	WriteText(&buf, Build(nil))
	out := buf.String()

	assert.Contains(t, out, "No security issues found")
	assert.Contains(t, out, "Positive findings")
	assert.Contains(t, out, "Confidence score: 100/100 (HIGH, penalty 0.00)")
	assert.NotContains(t, out, "Findings\n")
}

func TestWriteMarkdown(t *testing.T) {
	r := Build(mixedFindings())
	var buf bytes.Buffer
	require.NoError(t, WriteMarkdown(&buf, r))
	out := buf.String()

	assert.True(t, strings.HasPrefix(out, "# Security Review\n"))
	assert.Contains(t, out, fmt.Sprintf("**Confidence score:** %d/100 (%s)", r.ConfidenceScore, r.ConfidenceLevel))
	assert.Contains(t, out, "| Critical | 1 |")
	assert.Contains(t, out, "[b.js](#file-b-js)")
	assert.Contains(t, out, `<a id="file-b-js"></a>`)
	assert.Contains(t, out, "[sql_injection](https://cwe.mitre.org/data/definitions/89.html)")
	assert.Contains(t, out, "## Recommendations")
}

func TestCategoryTitle(t *testing.T) {
	assert.Equal(t, "Access Control", CategoryTitle(rule.CategoryAccessControl))
	assert.Equal(t, "XSS", CategoryTitle(rule.CategoryXSS))
	assert.Equal(t, "SSRF", CategoryTitle(rule.CategorySSRF))
	assert.Equal(t, "Code Quality", CategoryTitle(rule.CategoryCodeQuality))
}

func TestFileAnchor(t *testing.T) {
	assert.Equal(t, "file-src-app-db-js", fileAnchor("src/app/db.js"))
}

func TestMdEscape(t *testing.T) {
	assert.Equal(t, `a \| b c`, mdEscape("a | b\nc"))
}

func TestWriteHistoryDiff(t *testing.T) {
	old := history.NewSnapshot(mixedFindings()[:2], 90, "abc")
	cur := history.NewSnapshot(mixedFindings()[1:3], 70, "")
	d := history.Diff(old, cur)

	var buf bytes.Buffer
	WriteHistoryDiff(&buf, old, cur, d)
	out := buf.String()
	assert.Contains(t, out, "+ CRITICAL")
	assert.Contains(t, out, "sql_injection  b.js:7")
	assert.Contains(t, out, "weak_hash_algorithm  a.js:3")
	assert.Contains(t, out, "introduced=1  resolved=1  persisting=1")
	assert.Contains(t, out, "(-20)")

	buf.Reset()
	require.NoError(t, WriteHistoryDiffJSON(&buf, d))
	var decoded history.DiffResult
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, -20, decoded.ScoreDelta)
}
