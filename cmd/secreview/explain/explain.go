package explain

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/1homsi/secreview/internal/finding"
	"github.com/1homsi/secreview/internal/rule"
)

type explanation struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Description    string          `json:"description"`
	Severity       rule.Severity   `json:"severity"`
	Category       rule.Category   `json:"category"`
	OWASPCategory  string          `json:"owaspCategory,omitempty"`
	CWEID          int             `json:"cweId,omitempty"`
	Confidence     rule.Confidence `json:"confidence"`
	Impact         string          `json:"impact"`
	Exploitability string          `json:"exploitability"`
	Pattern        string          `json:"pattern"`
	FilePatterns   []string        `json:"filePatterns"`
	Validator      string          `json:"validator,omitempty"`
	Recommendation string          `json:"recommendation"`
	References     []string        `json:"references"`
}

func NewCommand() *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "explain <rule-id>",
		Short: "Show what a rule detects and how to fix it",
		Args:  cobra.ExactArgs(1),
		ValidArgsFunction: func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
			var ids []string
			for _, r := range rule.Default().Rules() {
				if strings.HasPrefix(r.ID, toComplete) {
					ids = append(ids, r.ID)
				}
			}
			return ids, cobra.ShellCompDirectiveNoFileComp
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return Run(cmd.OutOrStdout(), rule.Default(), args[0], jsonOut)
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "JSON output")
	return cmd
}

// Run writes the explanation of rule id. Unknown ids get a suggestion list.
func Run(w io.Writer, c *rule.Catalog, id string, jsonOut bool) error {
	r, ok := c.Get(id)
	if !ok {
		if near := suggest(c, id); len(near) > 0 {
			return errors.Errorf("unknown rule %q; did you mean %s?", id, strings.Join(near, ", "))
		}
		return errors.Errorf("unknown rule %q; run 'secreview rules' for the list", id)
	}

	e := explanation{
		ID:             r.ID,
		Name:           r.Name,
		Description:    r.Description,
		Severity:       r.Severity,
		Category:       r.Category,
		OWASPCategory:  r.OWASPCategory,
		CWEID:          r.CWEID,
		Confidence:     r.Confidence,
		Impact:         finding.Impact(r.Severity),
		Exploitability: finding.Exploitability(r.Severity, r.Confidence),
		Pattern:        r.Pattern.String(),
		FilePatterns:   r.FilePatterns,
		Validator:      r.ValidatorName,
		Recommendation: r.Recommendation,
		References:     r.References,
	}
	if jsonOut {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(e)
	}
	printText(w, e)
	return nil
}

func printText(w io.Writer, e explanation) {
	fmt.Fprintf(w, "%s  (%s)\n", e.Name, e.ID)
	fmt.Fprintln(w, strings.Repeat("─", 60))
	fmt.Fprintf(w, "%-15s %s\n", "Severity:", e.Severity)
	fmt.Fprintf(w, "%-15s %s\n", "Category:", e.Category)
	fmt.Fprintf(w, "%-15s %s\n", "Confidence:", e.Confidence)
	if e.OWASPCategory != "" {
		fmt.Fprintf(w, "%-15s %s\n", "OWASP:", e.OWASPCategory)
	}
	if e.CWEID > 0 {
		fmt.Fprintf(w, "%-15s CWE-%d\n", "CWE:", e.CWEID)
	}
	fmt.Fprintf(w, "%-15s %s\n", "Exploitability:", e.Exploitability)
	fmt.Fprintf(w, "%-15s %s\n", "Files:", strings.Join(e.FilePatterns, " "))
	if e.Validator != "" {
		fmt.Fprintf(w, "%-15s %s\n", "Validator:", e.Validator)
	}

	fmt.Fprintf(w, "\n%s\n", text.WrapSoft(e.Description, 80))
	fmt.Fprintf(w, "\nImpact\n  %s\n", text.WrapSoft(e.Impact, 78))
	fmt.Fprintf(w, "\nRecommendation\n  %s\n", text.WrapSoft(e.Recommendation, 78))
	fmt.Fprintf(w, "\nPattern\n  %s\n", e.Pattern)
	if len(e.References) > 0 {
		fmt.Fprintln(w, "\nReferences")
		for _, ref := range e.References {
			fmt.Fprintf(w, "  %s\n", ref)
		}
	}
}

// suggest returns up to three rule ids sharing a word with id.
func suggest(c *rule.Catalog, id string) []string {
	words := strings.FieldsFunc(strings.ToLower(id), func(r rune) bool { return r == '_' || r == '-' || r == ' ' })
	type scored struct {
		id    string
		score int
	}
	var hits []scored
	for _, r := range c.Rules() {
		score := 0
		for _, w := range words {
			if len(w) > 2 && strings.Contains(r.ID, w) {
				score++
			}
		}
		if score > 0 {
			hits = append(hits, scored{r.ID, score})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	var out []string
	for i := 0; i < len(hits) && i < 3; i++ {
		out = append(out, hits[i].id)
	}
	return out
}
