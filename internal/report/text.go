package report

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"

	"github.com/1homsi/secreview/internal/finding"
	"github.com/1homsi/secreview/internal/rule"
)

// styles are bound to one output. Colour only survives when the output is a
// terminal; files and pipes get plain text.
type styles struct {
	tty         bool
	title       lipgloss.Style
	critical    lipgloss.Style
	high        lipgloss.Style
	medium      lipgloss.Style
	low         lipgloss.Style
	fileRef     lipgloss.Style
	remediation lipgloss.Style
	ok          lipgloss.Style
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()))
}

func newStyles(w io.Writer) styles {
	re := lipgloss.NewRenderer(w)
	return styles{
		tty:         isTerminal(w),
		title:       re.NewStyle().Bold(true).Foreground(lipgloss.Color("39")),
		critical:    re.NewStyle().Bold(true).Foreground(lipgloss.Color("15")).Background(lipgloss.Color("9")),
		high:        re.NewStyle().Bold(true).Foreground(lipgloss.Color("9")),
		medium:      re.NewStyle().Bold(true).Foreground(lipgloss.Color("11")),
		low:         re.NewStyle().Faint(true),
		fileRef:     re.NewStyle().Foreground(lipgloss.Color("6")),
		remediation: re.NewStyle().Faint(true),
		ok:          re.NewStyle().Foreground(lipgloss.Color("42")),
	}
}

func (s styles) severity(sev rule.Severity) string {
	label := fmt.Sprintf("%-8s", strings.ToUpper(string(sev)))
	switch sev {
	case rule.SeverityCritical:
		return s.critical.Render(label)
	case rule.SeverityHigh:
		return s.high.Render(label)
	case rule.SeverityMedium:
		return s.medium.Render(label)
	default:
		return s.low.Render(label)
	}
}

func (s styles) table(w io.Writer) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	if s.tty {
		tw.SetStyle(table.StyleRounded)
	} else {
		tw.SetStyle(table.StyleLight)
	}
	return tw
}

// WriteText renders r for humans: summary, severity table, findings grouped
// by file, top actionable files and recommendations.
func WriteText(w io.Writer, r Report) {
	s := newStyles(w)

	fmt.Fprintln(w, s.title.Render("=== Security Review ==="))
	fmt.Fprintln(w)
	fmt.Fprintln(w, r.Summary)
	if r.Scan != nil {
		fmt.Fprintf(w, "Scanned %d files (%d skipped, %d suppressed) in %dms with rules %s\n",
			r.Scan.FilesScanned, r.Scan.FilesSkipped, r.Scan.Suppressed, r.Scan.DurationMS, r.Scan.RulesVersion)
	}
	fmt.Fprintf(w, "Confidence score: %d/100 (%s, penalty %.2f)\n\n", r.ConfidenceScore, r.ConfidenceLevel, r.RiskPenalty)

	if r.TotalIssues > 0 {
		tw := s.table(w)
		tw.AppendHeader(table.Row{"Severity", "Issues"})
		for _, level := range rule.Severities {
			tw.AppendRow(table.Row{strings.ToUpper(string(level)), r.SeverityBreakdown[level].Count})
		}
		tw.AppendFooter(table.Row{"Total", r.TotalIssues})
		tw.Render()
		fmt.Fprintln(w)

		writeFindings(w, s, r.Findings)
		writeActionableFiles(w, s, r.ActionableFiles)
		writeRecommendations(w, s, r.Recommendations)
	}

	if len(r.PositiveFindings) > 0 {
		fmt.Fprintln(w, s.title.Render("Positive findings"))
		for _, p := range r.PositiveFindings {
			fmt.Fprintf(w, "  %s %s\n", s.ok.Render("✓"), p)
		}
	}
}

func writeFindings(w io.Writer, s styles, findings []finding.Finding) {
	fmt.Fprintln(w, s.title.Render("Findings"))
	current := ""
	for _, f := range findings {
		if f.File != current {
			current = f.File
			fmt.Fprintf(w, "\n%s\n", s.fileRef.Render(filepath.ToSlash(f.File)))
		}
		ref := f.ID
		if f.CWEID > 0 {
			ref = fmt.Sprintf("%s, CWE-%d", f.ID, f.CWEID)
		}
		fmt.Fprintf(w, "  %s %s (%s) %d:%d\n", s.severity(f.Severity), f.Title, ref, f.Line, f.Column)

		if snippet := f.Snippet(); snippet != "" {
			fmt.Fprintf(w, "           %s\n", text.Trim(snippet, 120))
		}
	}
	fmt.Fprintln(w)
}

func writeActionableFiles(w io.Writer, s styles, files []ActionableFile) {
	const limit = 10
	fmt.Fprintln(w, s.title.Render("Files to fix first"))
	tw := s.table(w)
	tw.AppendHeader(table.Row{"#", "File", "Issues", "Worst"})
	for i, af := range files {
		if i == limit {
			tw.AppendRow(table.Row{"", fmt.Sprintf("… %d more", len(files)-limit), "", ""})
			break
		}
		tw.AppendRow(table.Row{i + 1, filepath.ToSlash(af.File), af.IssueCount, strings.ToUpper(string(af.HighestSeverity))})
	}
	tw.Render()
	fmt.Fprintln(w)
}

func writeRecommendations(w io.Writer, s styles, recs []Recommendation) {
	fmt.Fprintln(w, s.title.Render("Recommendations"))
	for _, rec := range recs {
		fmt.Fprintf(w, "  %s %s (%d in %d %s)\n", s.severity(rec.Severity), rec.Title,
			rec.Occurrences, len(rec.Files), plural(len(rec.Files), "file", "files"))
		fmt.Fprintf(w, "           %s\n", s.remediation.Render("→ "+text.WrapSoft(rec.Recommendation, 100)))
		if len(rec.References) > 0 {
			fmt.Fprintf(w, "           %s\n", rec.References[0])
		}
	}
	fmt.Fprintln(w)
}
