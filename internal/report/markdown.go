package report

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/gosimple/slug"
	"github.com/jedib0t/go-pretty/v6/text"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/1homsi/secreview/internal/finding"
	"github.com/1homsi/secreview/internal/rule"
)

// maxSnippet caps code snippets in runes.
const maxSnippet = 100

// title upper-cases the first letter of each word. Casers are stateful, so
// each call gets its own.
func title(s string) string {
	return cases.Title(language.English).String(s)
}

// CategoryTitle turns "access_control" into "Access Control".
func CategoryTitle(c rule.Category) string {
	switch c {
	case rule.CategoryXSS:
		return "XSS"
	case rule.CategorySSRF:
		return "SSRF"
	}
	return title(strings.ReplaceAll(string(c), "_", " "))
}

// fileAnchor is the heading id used for a file's section.
func fileAnchor(file string) string {
	return "file-" + slug.Make(filepath.ToSlash(file))
}

func mdEscape(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.ReplaceAll(s, "\n", " ")
}

// WriteMarkdown renders r as GitHub-flavoured Markdown, suitable for a pull
// request comment or a job summary.
func WriteMarkdown(w io.Writer, r Report) error {
	var b strings.Builder

	b.WriteString("# Security Review\n\n")
	fmt.Fprintf(&b, "%s\n\n", r.Summary)
	fmt.Fprintf(&b, "**Confidence score:** %d/100 (%s)\n\n", r.ConfidenceScore, r.ConfidenceLevel)

	b.WriteString("| Severity | Issues |\n|---|---:|\n")
	for _, level := range rule.Severities {
		fmt.Fprintf(&b, "| %s | %d |\n", title(string(level)), r.SeverityBreakdown[level].Count)
	}
	fmt.Fprintf(&b, "| **Total** | **%d** |\n\n", r.TotalIssues)

	if len(r.ActionableFiles) > 0 {
		b.WriteString("## Files to fix first\n\n| File | Issues | Worst |\n|---|---:|---|\n")
		for _, af := range r.ActionableFiles {
			fmt.Fprintf(&b, "| [%s](#%s) | %d | %s |\n",
				mdEscape(filepath.ToSlash(af.File)), fileAnchor(af.File), af.IssueCount, af.HighestSeverity)
		}
		b.WriteString("\n")
	}

	if len(r.Findings) > 0 {
		b.WriteString("## Findings\n")
		current := ""
		for _, f := range r.Findings {
			if f.File != current {
				current = f.File
				fmt.Fprintf(&b, "\n### <a id=\"%s\"></a>`%s`\n\n", fileAnchor(f.File), filepath.ToSlash(f.File))
				b.WriteString("| Line | Severity | Rule | Category | Code |\n|---:|---|---|---|---|\n")
			}
			fmt.Fprintf(&b, "| %d | %s | %s | %s | `%s` |\n",
				f.Line, f.Severity, ruleLink(f), CategoryTitle(f.Category), mdEscape(snippet(f)))
		}
		b.WriteString("\n")
	}

	if len(r.Recommendations) > 0 {
		b.WriteString("## Recommendations\n\n")
		for _, rec := range r.Recommendations {
			fmt.Fprintf(&b, "- **%s** (%s, %d %s): %s\n", rec.Title, rec.Severity,
				rec.Occurrences, plural(rec.Occurrences, "occurrence", "occurrences"), rec.Recommendation)
		}
		b.WriteString("\n")
	}

	if len(r.PositiveFindings) > 0 {
		b.WriteString("## Positive findings\n\n")
		for _, p := range r.PositiveFindings {
			fmt.Fprintf(&b, "- %s\n", p)
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func ruleLink(f finding.Finding) string {
	if len(f.References) == 0 {
		return f.ID
	}
	return fmt.Sprintf("[%s](%s)", f.ID, f.References[0])
}

func snippet(f finding.Finding) string {
	s := strings.ReplaceAll(f.Snippet(), "`", "'")
	if utf8.RuneCountInString(s) > maxSnippet {
		s = text.Trim(s, maxSnippet) + "..."
	}
	return s
}
