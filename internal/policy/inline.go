package policy

import (
	"regexp"
	"strings"

	"github.com/1homsi/secreview/internal/finding"
)

// InlineMarker introduces an inline suppression comment:
//
//	eval(code) // secreview:ignore code_injection_eval -- sandboxed input
//	# secreview:ignore * -- generated fixture
const InlineMarker = "secreview:ignore"

// markerRe finds the marker in any case. It works on the raw bytes so
// offsets stay valid for lines that are not UTF-8.
var markerRe = regexp.MustCompile(`(?i)` + regexp.QuoteMeta(InlineMarker))

// commentPrefixes are the language-agnostic comment markers we recognize.
var commentPrefixes = []string{"<!--", "//", "/*", "#", "--", "*"}

// Inline is one parsed suppression comment.
type Inline struct {
	Rules  []string
	Reason string
	Line   int
	// Standalone is true when the comment is the only thing on its line, in
	// which case it also covers the following line.
	Standalone bool
}

// covers reports whether the suppression applies to rule id at line.
func (in Inline) covers(id string, line int) bool {
	if line != in.Line && !(in.Standalone && line == in.Line+1) {
		return false
	}
	for _, r := range in.Rules {
		if r == "*" || r == id {
			return true
		}
	}
	return false
}

// ParseInline extracts every suppression comment from content.
func ParseInline(content string) []Inline {
	if !markerRe.MatchString(content) {
		return nil
	}
	var out []Inline
	for i, line := range strings.Split(content, "\n") {
		in, ok := parseSuppressionComment(line)
		if !ok {
			continue
		}
		in.Line = i + 1
		out = append(out, in)
	}
	return out
}

// FilterInline drops findings covered by an inline suppression in content
// and returns the kept findings plus the number removed.
func FilterInline(content string, findings []finding.Finding) ([]finding.Finding, int) {
	inlines := ParseInline(content)
	if len(inlines) == 0 {
		return findings, 0
	}
	out := make([]finding.Finding, 0, len(findings))
	for _, f := range findings {
		if suppressed(inlines, f) {
			continue
		}
		out = append(out, f)
	}
	return out, len(findings) - len(out)
}

func suppressed(inlines []Inline, f finding.Finding) bool {
	for _, in := range inlines {
		if in.covers(f.ID, f.Line) {
			return true
		}
	}
	return false
}

// parseSuppressionComment accepts "secreview:ignore <id>[,<id>...] [-- reason]"
// inside a comment, either on its own line or trailing code.
func parseSuppressionComment(line string) (Inline, bool) {
	loc := markerRe.FindStringIndex(line)
	if loc == nil {
		return Inline{}, false
	}
	idx := loc[0]
	before := strings.TrimSpace(line[:idx])
	prefix := ""
	for _, p := range commentPrefixes {
		if strings.HasSuffix(before, p) {
			prefix = p
			break
		}
	}
	if prefix == "" {
		return Inline{}, false
	}

	body := line[loc[1]:]
	body = strings.TrimSpace(body)
	body = strings.TrimSuffix(body, "*/")
	body = strings.TrimSuffix(body, "-->")
	body = strings.TrimSpace(body)

	var in Inline
	if dash := strings.Index(body, "--"); dash >= 0 {
		in.Reason = strings.TrimSpace(body[dash+2:])
		body = body[:dash]
	}
	in.Rules = strings.FieldsFunc(body, func(r rune) bool { return r == ',' || r == ' ' || r == '\t' })
	if len(in.Rules) == 0 {
		return Inline{}, false
	}
	in.Standalone = before == prefix
	return in, true
}
