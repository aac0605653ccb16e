package scan

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/1homsi/secreview/internal/analyzer"
	"github.com/1homsi/secreview/internal/config"
	"github.com/1homsi/secreview/internal/finding"
	"github.com/1homsi/secreview/internal/history"
	"github.com/1homsi/secreview/internal/policy"
	"github.com/1homsi/secreview/internal/prdiff"
	"github.com/1homsi/secreview/internal/report"
	"github.com/1homsi/secreview/internal/rule"
)

// ErrGateFailed is returned after the report has been written when a
// finding reaches the fail-on level.
var ErrGateFailed = errors.New("severity gate failed")

// Outcome is a finished scan after policy filtering.
type Outcome struct {
	Report      report.Report
	PolicyStats policy.Stats
	Gate        rule.Severity
	Gated       bool
	Timings     Timings
}

type Timings struct {
	Scan    time.Duration
	Policy  time.Duration
	Report  time.Duration
	Output  time.Duration
	Files   int
	Workers int
}

func NewCommand(v *viper.Viper, version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan [paths...]",
		Short: "Scan files and directories for security issues",
		Long: `Scan walks the given paths (default: the current directory), matches every
file against the built-in rule catalog and writes a security review report.

Settings come from flags, SECREVIEW_* environment variables or a .secreview
config file. A policy file can disable rules, exclude paths and grant
expiring exceptions.`,
		Example: `  secreview scan ./src
  secreview scan --severity medium --fail-on high --format sarif -o results.sarif
  secreview scan --policy .secreview-policy.yaml --record
  secreview scan --since origin/main --fail-on medium`,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return InitConfig(v, cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Parse(v)
			if err != nil {
				return err
			}
			return Run(cmd.Context(), cfg, args, version, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	config.RegisterFlags(cmd.Flags())
	return cmd
}

// InitConfig loads the config file named by --config, if any, into v and
// applies it to cmd's unset flags.
func InitConfig(v *viper.Viper, cmd *cobra.Command) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	return config.Initialize(v, cmd.Flags(), cfgFile)
}

// Run scans roots, writes the report in the configured format and returns
// ErrGateFailed when the gate trips.
func Run(ctx context.Context, cfg config.Config, roots []string, version string, stdout, stderr io.Writer) error {
	out, err := Collect(ctx, cfg, roots, version, stderr)
	if err != nil {
		return err
	}

	t0 := time.Now()
	if err := writeOutput(cfg, out.Report, stdout); err != nil {
		return err
	}
	out.Timings.Output = time.Since(t0)
	if cfg.Output != "" {
		slog.Info("report written", "file", cfg.Output, "format", cfg.Format)
	}

	if s := out.PolicyStats; s.Suppressed() > 0 || s.Expired > 0 || s.Invalid > 0 {
		slog.Info("policy applied",
			"disabled", s.Disabled, "excluded", s.Excluded, "exceptions", s.Applied,
			"expired", s.Expired, "invalid", s.Invalid)
	}
	if cfg.Timings {
		writeTimings(stderr, out.Timings)
	}

	if cfg.Record {
		dir := HistoryDir(roots)
		snap, err := Record(dir, out.Report)
		if err != nil {
			return err
		}
		slog.Info("recorded snapshot", "id", snap.ID, "findings", snap.Totals.Total, "dir", dir)
	}

	if out.Gated && out.Report.FailsGate(out.Gate) {
		return errors.Wrapf(ErrGateFailed, "findings at or above %s", out.Gate)
	}
	return nil
}

// Collect runs the scan and policy without writing anything but progress.
func Collect(ctx context.Context, cfg config.Config, roots []string, version string, progress io.Writer) (*Outcome, error) {
	p := policy.Default()
	if cfg.Policy != "" {
		var err error
		if p, err = policy.Load(cfg.Policy); err != nil {
			return nil, err
		}
	}

	opts := cfg.ScanOptions(p)
	opts.Exclude = append(opts.Exclude, history.FileName)
	var bar *progressbar.ProgressBar
	if cfg.Progress && progress != nil {
		opts.OnStart = func(total int) {
			bar = progressbar.NewOptions(total,
				progressbar.OptionSetWriter(progress),
				progressbar.OptionSetDescription("scanning"),
				progressbar.OptionShowCount(),
				progressbar.OptionClearOnFinish(),
				progressbar.OptionThrottle(65*time.Millisecond),
			)
		}
		opts.OnFile = func(string, int) { _ = bar.Add(1) }
	}

	targets := roots
	if cfg.Since != "" {
		var err error
		if targets, err = ChangedTargets(roots, cfg.Since); err != nil {
			return nil, err
		}
		slog.Debug("limited scan to changed files", "since", cfg.Since, "files", len(targets))
	}

	started := time.Now()
	res := &analyzer.ScanResult{Findings: []finding.Finding{}}
	if cfg.Since == "" || len(targets) > 0 {
		var err error
		res, err = analyzer.ScanWorkspace(ctx, targets, opts)
		if bar != nil {
			_ = bar.Finish()
		}
		if err != nil {
			return nil, errors.Wrap(err, "scan")
		}
	}
	slog.Debug("scan finished", "files", res.FilesScanned, "skipped", res.FilesSkipped, "findings", len(res.Findings))

	t1 := time.Now()
	kept, stats := p.Apply(res.Findings)
	policyDur := time.Since(t1)

	t2 := time.Now()
	r := report.Build(kept)
	reportDur := time.Since(t2)

	if len(roots) == 0 {
		roots = []string{"."}
	}
	r.Scan = &report.ScanInfo{
		Tool:         "secreview",
		Version:      version,
		RulesVersion: rule.Default().Version(),
		Roots:        roots,
		FilesScanned: res.FilesScanned,
		FilesSkipped: res.FilesSkipped,
		Suppressed:   res.Suppressed + stats.Suppressed(),
		Threshold:    string(opts.Threshold),
		StartedAt:    started.UTC(),
		DurationMS:   res.Elapsed.Milliseconds(),
	}

	gate, gated := cfg.Gate(p)
	return &Outcome{
		Report:      r,
		PolicyStats: stats,
		Gate:        gate,
		Gated:       gated,
		Timings: Timings{
			Scan:    res.Elapsed,
			Policy:  policyDur,
			Report:  reportDur,
			Files:   res.FilesScanned,
			Workers: opts.Workers,
		},
	}, nil
}

// ChangedTargets replaces each directory root with the files changed in it
// since ref. File roots pass through unchanged.
func ChangedTargets(roots []string, ref string) ([]string, error) {
	if len(roots) == 0 {
		roots = []string{"."}
	}
	var out []string
	for _, root := range roots {
		info, err := os.Stat(root)
		if err != nil {
			return nil, errors.Wrapf(err, "stat %s", root)
		}
		if !info.IsDir() {
			out = append(out, root)
			continue
		}
		files, err := prdiff.ChangedFiles(root, ref, "")
		if err != nil {
			return nil, err
		}
		out = append(out, files...)
	}
	return out, nil
}

// writeOutput writes r to cfg.Output, or to stdout when no file is set.
// Flush and close errors on the output file are returned.
func writeOutput(cfg config.Config, r report.Report, stdout io.Writer) error {
	if cfg.Output == "" {
		return errors.Wrap(Write(stdout, cfg.Format, r), "write report")
	}
	f, err := os.Create(cfg.Output)
	if err != nil {
		return errors.Wrap(err, "create output")
	}
	bw := bufio.NewWriter(f)
	if err := Write(bw, cfg.Format, r); err != nil {
		f.Close()
		return errors.Wrap(err, "write report")
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return errors.Wrap(err, "flush output")
	}
	return errors.Wrap(f.Close(), "close output")
}

// Write renders r in one of config.Formats.
func Write(w io.Writer, format string, r report.Report) error {
	switch format {
	case "", "text":
		report.WriteText(w, r)
		return nil
	case "json":
		return report.WriteJSON(w, r)
	case "sarif":
		return report.WriteSARIF(w, r)
	case "markdown":
		return report.WriteMarkdown(w, r)
	}
	return errors.Errorf("unknown format %q (want %s)", format, strings.Join(config.Formats, "|"))
}

func writeTimings(w io.Writer, t Timings) {
	workers := fmt.Sprint(t.Workers)
	if t.Workers <= 0 {
		workers = "auto"
	}
	total := t.Scan + t.Policy + t.Report + t.Output
	fmt.Fprintln(w)
	fmt.Fprintln(w, "=== Timings ===")
	fmt.Fprintf(w, "%-25s  %s  (%d files, %s workers)\n", "scan", fmtDur(t.Scan), t.Files, workers)
	fmt.Fprintf(w, "%-25s  %s\n", "policy", fmtDur(t.Policy))
	fmt.Fprintf(w, "%-25s  %s\n", "report build", fmtDur(t.Report))
	fmt.Fprintf(w, "%-25s  %s\n", "output formatting", fmtDur(t.Output))
	fmt.Fprintln(w, strings.Repeat("─", 40))
	fmt.Fprintf(w, "%-25s  %s\n", "total", fmtDur(total))
}

func fmtDur(d time.Duration) string {
	if d < time.Millisecond {
		return fmt.Sprintf("%.2fms", float64(d.Microseconds())/1000)
	}
	return fmt.Sprintf("%.2fs", d.Seconds())
}

// HistoryDir is where snapshots for roots are kept: the first root when it is
// a directory, else the working directory.
func HistoryDir(roots []string) string {
	if len(roots) > 0 {
		if info, err := os.Stat(roots[0]); err == nil && info.IsDir() {
			return roots[0]
		}
	}
	return "."
}

// Record appends a snapshot of r to the history in dir.
func Record(dir string, r report.Report) (history.Snapshot, error) {
	h, err := history.Load(dir)
	if err != nil {
		return history.Snapshot{}, err
	}
	snap := h.Record(history.NewSnapshot(r.Findings, r.ConfidenceScore, CurrentCommit(dir)))
	if err := h.Save(dir); err != nil {
		return history.Snapshot{}, err
	}
	return snap, nil
}

// CurrentCommit returns the short HEAD hash of the repository containing dir,
// or "" outside git.
func CurrentCommit(dir string) string {
	cmd := exec.Command("git", "rev-parse", "--short", "HEAD")
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}
