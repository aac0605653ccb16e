package rules

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/1homsi/secreview/internal/rule"
)

// ruleJSON is the listing form of a rule; the compiled pattern is shown as
// its source.
type ruleJSON struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Description    string          `json:"description"`
	Severity       rule.Severity   `json:"severity"`
	Category       rule.Category   `json:"category"`
	OWASPCategory  string          `json:"owaspCategory,omitempty"`
	CWEID          int             `json:"cweId,omitempty"`
	Pattern        string          `json:"pattern"`
	FilePatterns   []string        `json:"filePatterns"`
	Confidence     rule.Confidence `json:"confidence"`
	Validator      string          `json:"validator,omitempty"`
	Recommendation string          `json:"recommendation"`
	References     []string        `json:"references"`
}

func toJSON(r *rule.Rule) ruleJSON {
	return ruleJSON{
		ID:             r.ID,
		Name:           r.Name,
		Description:    r.Description,
		Severity:       r.Severity,
		Category:       r.Category,
		OWASPCategory:  r.OWASPCategory,
		CWEID:          r.CWEID,
		Pattern:        r.Pattern.String(),
		FilePatterns:   r.FilePatterns,
		Confidence:     r.Confidence,
		Validator:      r.ValidatorName,
		Recommendation: r.Recommendation,
		References:     r.References,
	}
}

func NewCommand() *cobra.Command {
	var (
		jsonOut  bool
		category string
		severity string
	)
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "List the built-in detection rules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			selected, err := Filter(rule.Default(), category, severity)
			if err != nil {
				return err
			}
			if jsonOut {
				return WriteJSON(cmd.OutOrStdout(), selected)
			}
			WriteTable(cmd.OutOrStdout(), rule.Default().Version(), selected)
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "JSON output")
	cmd.Flags().StringVar(&category, "category", "", "only rules in this category")
	cmd.Flags().StringVar(&severity, "severity", "", "only rules at or above this severity")
	return cmd
}

// Filter selects rules by category and minimum severity, keeping catalog
// order. Empty arguments select everything.
func Filter(c *rule.Catalog, category, severity string) ([]*rule.Rule, error) {
	var minSeverity rule.Severity
	if severity != "" {
		s, ok := rule.ParseSeverity(severity)
		if !ok {
			return nil, errors.Errorf("unknown severity %q", severity)
		}
		minSeverity = s
	}
	if category != "" && !rule.Category(category).Valid() {
		return nil, errors.Errorf("unknown category %q", category)
	}

	var out []*rule.Rule
	for _, r := range c.Rules() {
		if category != "" && r.Category != rule.Category(category) {
			continue
		}
		if minSeverity != "" && !r.Severity.AtLeast(minSeverity) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func WriteJSON(w io.Writer, rules []*rule.Rule) error {
	out := make([]ruleJSON, 0, len(rules))
	for _, r := range rules {
		out = append(out, toJSON(r))
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func WriteTable(w io.Writer, version string, rules []*rule.Rule) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleLight)
	tw.SetTitle("Rule catalog %s", version)
	tw.AppendHeader(table.Row{"ID", "Severity", "Category", "CWE", "Confidence", "Files"})
	for _, r := range rules {
		cwe := "-"
		if r.CWEID > 0 {
			cwe = fmt.Sprintf("CWE-%d", r.CWEID)
		}
		tw.AppendRow(table.Row{r.ID, r.Severity, r.Category, cwe, r.Confidence, len(r.FilePatterns)})
	}
	tw.AppendFooter(table.Row{"", "", "", "", "Total", len(rules)})
	tw.Render()
}
