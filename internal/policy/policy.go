// Package policy loads scan policies and filters findings through them.
package policy

import (
	"bytes"
	"log/slog"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/1homsi/secreview/internal/finding"
	"github.com/1homsi/secreview/internal/rule"
)

// FailOnNone disables the severity gate.
const FailOnNone = "none"

// Exception allows one rule in the files matching Path until Expires.
type Exception struct {
	Rule    string `yaml:"rule" json:"rule" validate:"required"`
	Path    string `yaml:"path" json:"path"`
	Reason  string `yaml:"reason" json:"reason"`
	Expires string `yaml:"expires" json:"expires"` // ISO 8601 date "2026-06-01"
}

// Expired reports whether the exception's expiry date has passed.
// Unparseable dates are reported by InvalidExpiry, not here.
func (e Exception) Expired(now time.Time) bool {
	if e.Expires == "" {
		return false
	}
	t, err := time.Parse(time.DateOnly, e.Expires)
	if err != nil {
		return false
	}
	return now.After(t)
}

func (e Exception) InvalidExpiry() bool {
	if e.Expires == "" {
		return false
	}
	_, err := time.Parse(time.DateOnly, e.Expires)
	return err != nil
}

// Policy is the parsed form of a policy file. YAML and JSON are both
// accepted.
type Policy struct {
	Version           int         `yaml:"version" json:"version" validate:"gte=0,lte=1"`
	FailOn            string      `yaml:"fail_on" json:"fail_on" validate:"omitempty,oneof=critical high medium low info none"`
	SeverityThreshold string      `yaml:"severity_threshold" json:"severity_threshold" validate:"omitempty,oneof=critical high medium low info"`
	ExcludePaths      []string    `yaml:"exclude_paths" json:"exclude_paths"`
	DisabledRules     []string    `yaml:"disabled_rules" json:"disabled_rules"`
	AllowExceptions   []Exception `yaml:"allow_exceptions" json:"allow_exceptions" validate:"dive"`
}

// Stats summarizes what Apply removed.
type Stats struct {
	Disabled int // findings of disabled rules
	Excluded int // findings in excluded paths
	Applied  int // findings covered by an active exception
	Expired  int // exceptions skipped because they expired
	Invalid  int // exceptions skipped because of a malformed expiry
}

// Suppressed is the number of findings Apply dropped.
func (s Stats) Suppressed() int { return s.Disabled + s.Excluded + s.Applied }

var validate = validator.New()

// Default is the policy used when no file is given.
func Default() *Policy {
	return &Policy{Version: 1, FailOn: string(rule.SeverityHigh)}
}

// Load reads and validates a policy file.
func Load(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "load policy")
	}
	return Parse(data)
}

// Parse decodes policy bytes. Unknown keys are rejected.
func Parse(data []byte) (*Policy, error) {
	p := Default()
	if len(bytes.TrimSpace(data)) == 0 {
		return p, nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(p); err != nil {
		return nil, errors.Wrap(err, "parse policy")
	}
	if err := validate.Struct(p); err != nil {
		return nil, errors.Wrap(err, "validate policy")
	}
	for _, ex := range p.AllowExceptions {
		if _, known := rule.Default().Get(ex.Rule); !known && ex.Rule != "*" {
			slog.Warn("policy exception names an unknown rule", "rule", ex.Rule)
		}
	}
	return p, nil
}

// Threshold returns the configured severity threshold, or "" for all.
func (p *Policy) Threshold() rule.Severity {
	return rule.Severity(p.SeverityThreshold)
}

// Gate returns the fail-on severity and whether gating is enabled.
func (p *Policy) Gate() (rule.Severity, bool) {
	if p.FailOn == FailOnNone {
		return "", false
	}
	if p.FailOn == "" {
		return rule.SeverityHigh, true
	}
	return rule.Severity(p.FailOn), true
}

// Excluded reports whether path matches one of the exclude_paths globs.
func (p *Policy) Excluded(path string) bool {
	for _, glob := range p.ExcludePaths {
		if MatchPath(glob, path) {
			return true
		}
	}
	return false
}

// Apply removes findings of disabled rules, findings in excluded paths and
// findings covered by an unexpired exception. Order is preserved.
func (p *Policy) Apply(findings []finding.Finding) ([]finding.Finding, Stats) {
	return p.applyAt(findings, time.Now())
}

func (p *Policy) applyAt(findings []finding.Finding, now time.Time) ([]finding.Finding, Stats) {
	var stats Stats

	disabled := make(map[string]bool, len(p.DisabledRules))
	for _, id := range p.DisabledRules {
		disabled[id] = true
	}

	active := make([]Exception, 0, len(p.AllowExceptions))
	for _, ex := range p.AllowExceptions {
		switch {
		case ex.InvalidExpiry():
			slog.Warn("policy exception has invalid expiry date", "rule", ex.Rule, "expires", ex.Expires)
			stats.Invalid++
		case ex.Expired(now):
			slog.Warn("policy exception expired", "rule", ex.Rule, "path", ex.Path, "expires", ex.Expires)
			stats.Expired++
		default:
			active = append(active, ex)
		}
	}

	out := make([]finding.Finding, 0, len(findings))
	for _, f := range findings {
		switch {
		case disabled[f.ID]:
			stats.Disabled++
		case p.Excluded(f.File):
			stats.Excluded++
		case covered(active, f):
			stats.Applied++
		default:
			out = append(out, f)
		}
	}
	return out, stats
}

func covered(exceptions []Exception, f finding.Finding) bool {
	for _, ex := range exceptions {
		if ex.Rule != f.ID && ex.Rule != "*" {
			continue
		}
		if ex.Path == "" || MatchPath(ex.Path, f.File) {
			return true
		}
	}
	return false
}
