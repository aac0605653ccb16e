package history

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/1homsi/secreview/cmd/secreview/scan"
	"github.com/1homsi/secreview/internal/config"
	"github.com/1homsi/secreview/internal/history"
	"github.com/1homsi/secreview/internal/report"
	"github.com/1homsi/secreview/internal/rule"
)

// trendWindow is how many snapshots trend looks back over.
const trendWindow = 10

func NewCommand(v *viper.Viper, version string) *cobra.Command {
	var (
		dir     string
		jsonOut bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Record and compare scan snapshots over time",
		Long: `History keeps the last 100 scan snapshots in .secreview-history.json. Findings
are compared by fingerprint (rule, file and trimmed code line), so code that
only moved is not reported as new.`,
	}
	cmd.PersistentFlags().StringVar(&dir, "dir", ".", "directory holding the history file")
	cmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "JSON output")

	record := &cobra.Command{
		Use:   "record [paths...]",
		Short: "Scan and store a snapshot",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return scan.InitConfig(v, cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Parse(v)
			if err != nil {
				return err
			}
			out, err := scan.Collect(cmd.Context(), cfg, args, version, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			snap, err := scan.Record(dir, out.Report)
			if err != nil {
				return err
			}
			slog.Debug("snapshot saved", "dir", dir, "id", snap.ID)
			fmt.Fprintf(cmd.OutOrStdout(), "recorded snapshot %s at %s  findings=%d  score=%d  commit=%s\n",
				shortID(snap.ID), snap.Timestamp, snap.Totals.Total, snap.ConfidenceScore, orDash(snap.Commit))
			return nil
		},
	}
	config.RegisterFlags(record.Flags())

	show := &cobra.Command{
		Use:   "show",
		Short: "List recorded snapshots",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := history.Load(dir)
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), h.Snapshots)
			}
			Show(cmd.OutOrStdout(), h)
			return nil
		},
	}

	var failOnNew string
	diff := &cobra.Command{
		Use:   "diff [old [new]]",
		Short: "Compare two snapshots (default: the last two)",
		Long: `Diff compares two snapshots given as 1-based indexes or id prefixes. With one
argument the newest snapshot is compared against it.`,
		Args: cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := history.Load(dir)
			if err != nil {
				return err
			}
			oldIdx, curIdx, err := Select(h, args)
			if err != nil {
				return err
			}
			old, cur := h.Snapshots[oldIdx], h.Snapshots[curIdx]
			d := history.Diff(old, cur)
			if jsonOut {
				if err := report.WriteHistoryDiffJSON(cmd.OutOrStdout(), d); err != nil {
					return err
				}
			} else {
				report.WriteHistoryDiff(cmd.OutOrStdout(), old, cur, d)
			}
			if failOnNew != "" {
				level, ok := rule.ParseSeverity(failOnNew)
				if !ok {
					return errors.Errorf("unknown severity %q", failOnNew)
				}
				if d.Escalated(level) {
					return errors.Wrapf(scan.ErrGateFailed, "new findings at or above %s", level)
				}
			}
			return nil
		},
	}
	diff.Flags().StringVar(&failOnNew, "fail-on-new", "", "exit 1 when a newly introduced finding is at or above this severity")

	trend := &cobra.Command{
		Use:   "trend",
		Short: "Show the confidence score and totals over recent snapshots",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := history.Load(dir)
			if err != nil {
				return err
			}
			rows := Trend(h, trendWindow)
			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), rows)
			}
			WriteTrend(cmd.OutOrStdout(), rows)
			return nil
		},
	}

	cmd.AddCommand(record, show, diff, trend)
	return cmd
}

// Select resolves diff arguments to snapshot indexes.
func Select(h *history.History, args []string) (int, int, error) {
	n := len(h.Snapshots)
	if n < 2 {
		return 0, 0, errors.New("need at least 2 snapshots; run: secreview history record")
	}
	oldIdx, curIdx := n-2, n-1
	var err error
	switch len(args) {
	case 1:
		if oldIdx, err = h.Lookup(args[0]); err != nil {
			return 0, 0, err
		}
	case 2:
		if oldIdx, err = h.Lookup(args[0]); err != nil {
			return 0, 0, err
		}
		if curIdx, err = h.Lookup(args[1]); err != nil {
			return 0, 0, err
		}
	}
	return oldIdx, curIdx, nil
}

func Show(w io.Writer, h *history.History) {
	if len(h.Snapshots) == 0 {
		fmt.Fprintln(w, "no history recorded; run: secreview history record")
		return
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleLight)
	tw.AppendHeader(table.Row{"#", "ID", "Timestamp", "Commit", "Total", "Crit", "High", "Med", "Low", "Info", "Score", "Trend"})
	for i, s := range h.Snapshots {
		trend := "—"
		if i > 0 {
			trend = arrow(s.Totals.Total - h.Snapshots[i-1].Totals.Total)
		}
		t := s.Totals
		tw.AppendRow(table.Row{i + 1, shortID(s.ID), s.Timestamp, orDash(s.Commit),
			t.Total, t.Critical, t.High, t.Medium, t.Low, t.Info, s.ConfidenceScore, trend})
	}
	tw.Render()
}

type TrendRow struct {
	Index           int            `json:"index"`
	ID              string         `json:"id"`
	Timestamp       string         `json:"timestamp"`
	ConfidenceScore int            `json:"confidence_score"`
	Totals          history.Totals `json:"totals"`
}

// Trend returns the newest window snapshots, oldest first.
func Trend(h *history.History, window int) []TrendRow {
	snaps := h.Snapshots
	start := 0
	if len(snaps) > window {
		start = len(snaps) - window
	}
	rows := make([]TrendRow, 0, len(snaps)-start)
	for i := start; i < len(snaps); i++ {
		s := snaps[i]
		rows = append(rows, TrendRow{
			Index:           i + 1,
			ID:              s.ID,
			Timestamp:       s.Timestamp,
			ConfidenceScore: s.ConfidenceScore,
			Totals:          s.Totals,
		})
	}
	return rows
}

func WriteTrend(w io.Writer, rows []TrendRow) {
	if len(rows) == 0 {
		fmt.Fprintln(w, "no history recorded; run: secreview history record")
		return
	}
	scores := make([]int, len(rows))
	for i, r := range rows {
		scores[i] = r.ConfidenceScore
	}
	first, last := rows[0], rows[len(rows)-1]
	fmt.Fprintf(w, "confidence  %s  %d → %d (%+d)\n",
		history.Sparkline(scores), first.ConfidenceScore, last.ConfidenceScore, last.ConfidenceScore-first.ConfidenceScore)
	fmt.Fprintf(w, "findings    %d → %d  %s\n", first.Totals.Total, last.Totals.Total, arrow(last.Totals.Total-first.Totals.Total))
	fmt.Fprintf(w, "critical    %d → %d  %s\n", first.Totals.Critical, last.Totals.Critical, arrow(last.Totals.Critical-first.Totals.Critical))
	fmt.Fprintf(w, "high        %d → %d  %s\n", first.Totals.High, last.Totals.High, arrow(last.Totals.High-first.Totals.High))
}

func arrow(delta int) string {
	switch {
	case delta > 0:
		return fmt.Sprintf("↑ +%d", delta)
	case delta < 0:
		return fmt.Sprintf("↓ %d", delta)
	}
	return "→"
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func orDash(s string) string {
	if s == "" {
		return "—"
	}
	return s
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
