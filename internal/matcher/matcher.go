// Package matcher applies one rule's pattern to one file's text.
package matcher

import (
	"log/slog"

	"github.com/1homsi/secreview/internal/rule"
)

// Location is a single accepted match. Offset and End are byte offsets into
// the scanned content.
type Location struct {
	Offset int
	End    int
	Text   string
}

// Match rescans the whole content with r.Pattern and returns every match the
// rule's validator accepts, in ascending offset order. A nil rule or pattern
// yields nil.
func Match(content string, r *rule.Rule, path string) []Location {
	if r == nil || r.Pattern == nil {
		return nil
	}
	raw := r.Pattern.FindAllStringIndex(content, -1)
	if len(raw) == 0 {
		return nil
	}
	out := make([]Location, 0, len(raw))
	for _, pair := range raw {
		loc := Location{Offset: pair[0], End: pair[1], Text: content[pair[0]:pair[1]]}
		if r.Validator != nil && !accept(r, loc, content, path) {
			continue
		}
		out = append(out, loc)
	}
	return out
}

// accept runs the validator; a panic rejects only this match.
func accept(r *rule.Rule, loc Location, content, path string) (ok bool) {
	defer func() {
		if p := recover(); p != nil {
			slog.Debug("validator panicked, match rejected",
				"rule", r.ID, "validator", r.ValidatorName, "path", path, "offset", loc.Offset, "panic", p)
			ok = false
		}
	}()
	return r.Validator(rule.Match{Text: loc.Text, Start: loc.Offset, End: loc.End}, content, path)
}
