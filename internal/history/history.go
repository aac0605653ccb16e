// Package history persists scan snapshots next to the scanned code and diffs
// them by finding fingerprint.
package history

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/1homsi/secreview/internal/finding"
	"github.com/1homsi/secreview/internal/rule"
)

const (
	FileName     = ".secreview-history.json"
	MaxSnapshots = 100
)

type FindingSnapshot struct {
	Fingerprint string        `json:"fingerprint"`
	Rule        string        `json:"rule"`
	File        string        `json:"file"`
	Line        int           `json:"line"`
	Severity    rule.Severity `json:"severity"`
}

type Totals struct {
	Total    int `json:"total"`
	Critical int `json:"critical"`
	High     int `json:"high"`
	Medium   int `json:"medium"`
	Low      int `json:"low"`
	Info     int `json:"info"`
}

type Snapshot struct {
	ID              string            `json:"id"`
	Timestamp       string            `json:"timestamp"`
	Commit          string            `json:"commit,omitempty"`
	Totals          Totals            `json:"totals"`
	ConfidenceScore int               `json:"confidence_score"`
	Findings        []FindingSnapshot `json:"findings"`
}

type History struct {
	Snapshots []Snapshot `json:"snapshots"`
}

// NewSnapshot captures findings. ID and Timestamp are filled by Record.
func NewSnapshot(findings []finding.Finding, confidenceScore int, commit string) Snapshot {
	snap := Snapshot{
		Commit:          commit,
		ConfidenceScore: confidenceScore,
		Findings:        make([]FindingSnapshot, 0, len(findings)),
	}
	for _, f := range findings {
		snap.Findings = append(snap.Findings, FindingSnapshot{
			Fingerprint: f.Fingerprint(),
			Rule:        f.ID,
			File:        filepath.ToSlash(f.File),
			Line:        f.Line,
			Severity:    f.Severity,
		})
		snap.Totals.add(f.Severity)
	}
	return snap
}

func (t *Totals) add(s rule.Severity) {
	t.Total++
	switch s {
	case rule.SeverityCritical:
		t.Critical++
	case rule.SeverityHigh:
		t.High++
	case rule.SeverityMedium:
		t.Medium++
	case rule.SeverityLow:
		t.Low++
	default:
		t.Info++
	}
}

func Load(dir string) (*History, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &History{}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "read history")
	}
	var h History
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, errors.Wrapf(err, "parse %s", path)
	}
	return &h, nil
}

func (h *History) Save(dir string) error {
	path := filepath.Join(dir, FileName)
	data, err := json.MarshalIndent(h, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode history")
	}
	return errors.Wrap(os.WriteFile(path, data, 0o600), "write history")
}

// Record appends snap, assigning an id and timestamp when missing, and keeps
// only the newest MaxSnapshots entries.
func (h *History) Record(snap Snapshot) Snapshot {
	if snap.ID == "" {
		snap.ID = uuid.NewString()
	}
	if snap.Timestamp == "" {
		snap.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	h.Snapshots = append(h.Snapshots, snap)
	if len(h.Snapshots) > MaxSnapshots {
		h.Snapshots = h.Snapshots[len(h.Snapshots)-MaxSnapshots:]
	}
	return snap
}

// Lookup resolves a 1-based index or an id prefix to a snapshot index.
func (h *History) Lookup(ref string) (int, error) {
	if n, err := strconv.Atoi(ref); err == nil {
		if n < 1 || n > len(h.Snapshots) {
			return 0, errors.Errorf("snapshot index %d out of range 1..%d", n, len(h.Snapshots))
		}
		return n - 1, nil
	}
	match := -1
	for i, s := range h.Snapshots {
		if strings.HasPrefix(s.ID, ref) {
			if match >= 0 {
				return 0, errors.Errorf("snapshot id prefix %q is ambiguous", ref)
			}
			match = i
		}
	}
	if match < 0 {
		return 0, errors.Errorf("no snapshot matches %q", ref)
	}
	return match, nil
}

// DiffResult compares two snapshots. Findings are matched by fingerprint, so
// code that only moved lines stays in Persisting.
type DiffResult struct {
	Introduced []FindingSnapshot `json:"introduced"`
	Resolved   []FindingSnapshot `json:"resolved"`
	Persisting []FindingSnapshot `json:"persisting"`
	ScoreDelta int               `json:"score_delta"`
}

// Escalated reports whether cur introduced anything at or above threshold.
func (d DiffResult) Escalated(threshold rule.Severity) bool {
	for _, f := range d.Introduced {
		if f.Severity.AtLeast(threshold) {
			return true
		}
	}
	return false
}

// Diff matches fingerprints as multisets: two identical lines in one file
// are two findings on both sides.
func Diff(old, cur Snapshot) DiffResult {
	remaining := make(map[string]int, len(old.Findings))
	for _, f := range old.Findings {
		remaining[f.Fingerprint]++
	}
	res := DiffResult{
		Introduced: []FindingSnapshot{},
		Resolved:   []FindingSnapshot{},
		Persisting: []FindingSnapshot{},
		ScoreDelta: cur.ConfidenceScore - old.ConfidenceScore,
	}
	for _, f := range cur.Findings {
		if remaining[f.Fingerprint] > 0 {
			remaining[f.Fingerprint]--
			res.Persisting = append(res.Persisting, f)
			continue
		}
		res.Introduced = append(res.Introduced, f)
	}
	for _, f := range old.Findings {
		if remaining[f.Fingerprint] > 0 {
			remaining[f.Fingerprint]--
			res.Resolved = append(res.Resolved, f)
		}
	}
	sortBySeverity(res.Introduced)
	sortBySeverity(res.Resolved)
	return res
}

func sortBySeverity(fs []FindingSnapshot) {
	sort.SliceStable(fs, func(i, j int) bool {
		if fs[i].Severity.Rank() != fs[j].Severity.Rank() {
			return fs[i].Severity.Rank() < fs[j].Severity.Rank()
		}
		if fs[i].File != fs[j].File {
			return fs[i].File < fs[j].File
		}
		return fs[i].Line < fs[j].Line
	})
}

// Sparkline converts scores (0-100) into unicode block characters.
func Sparkline(scores []int) string {
	blocks := []rune{'▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}
	var sb strings.Builder
	for _, s := range scores {
		if s < 0 {
			s = 0
		}
		if s > 100 {
			s = 100
		}
		sb.WriteRune(blocks[s*(len(blocks)-1)/100])
	}
	return sb.String()
}
