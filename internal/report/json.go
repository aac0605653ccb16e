package report

import (
	"encoding/json"
	"io"

	"github.com/1homsi/secreview/internal/finding"
	"github.com/1homsi/secreview/internal/rule"
)

// WriteJSON writes r as indented JSON. Secret findings carry their redacted
// match in place of the source line.
func WriteJSON(w io.Writer, r Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r.masked())
}

// masked returns a copy of r safe to write out. r itself is not modified.
func (r Report) masked() Report {
	out := r
	out.Findings = maskFindings(r.Findings)
	out.SeverityBreakdown = make(map[rule.Severity]SeverityGroup, len(r.SeverityBreakdown))
	for level, g := range r.SeverityBreakdown {
		g.Issues = maskFindings(g.Issues)
		out.SeverityBreakdown[level] = g
	}
	return out
}

func maskFindings(in []finding.Finding) []finding.Finding {
	if in == nil {
		return nil
	}
	out := make([]finding.Finding, len(in))
	for i, f := range in {
		if f.Category == rule.CategorySecrets {
			f.Code = f.Snippet()
		}
		out[i] = f
	}
	return out
}
