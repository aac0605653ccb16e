package report

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/1homsi/secreview/internal/history"
)

// WriteHistoryDiff renders the drift between two recorded snapshots.
func WriteHistoryDiff(w io.Writer, old, cur history.Snapshot, d history.DiffResult) {
	s := newStyles(w)

	fmt.Fprintln(w, s.title.Render("=== Finding Drift ==="))
	fmt.Fprintf(w, "%s (%s) → %s (%s)\n\n", old.Timestamp, commitOrDash(old.Commit), cur.Timestamp, commitOrDash(cur.Commit))

	if len(d.Introduced) == 0 && len(d.Resolved) == 0 {
		fmt.Fprintln(w, s.ok.Render("No finding changes."))
	}
	for _, f := range d.Introduced {
		fmt.Fprintf(w, "  %s %s %s  %s:%d\n", s.high.Render("+"), s.severity(f.Severity), f.Rule, f.File, f.Line)
	}
	for _, f := range d.Resolved {
		fmt.Fprintf(w, "  %s %s %s  %s:%d\n", s.ok.Render("-"), s.severity(f.Severity), f.Rule, f.File, f.Line)
	}

	fmt.Fprintf(w, "\n  introduced=%d  resolved=%d  persisting=%d  score %d → %d (%+d)\n",
		len(d.Introduced), len(d.Resolved), len(d.Persisting),
		old.ConfidenceScore, cur.ConfidenceScore, d.ScoreDelta)
}

func WriteHistoryDiffJSON(w io.Writer, d history.DiffResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(d)
}

func commitOrDash(c string) string {
	if c == "" {
		return "—"
	}
	return c
}
