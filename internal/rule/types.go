package rule

import (
	"regexp"
	"strings"
)

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// Severities lists every level from most to least severe.
var Severities = []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo}

var severityRanks = map[Severity]int{
	SeverityCritical: 0,
	SeverityHigh:     1,
	SeverityMedium:   2,
	SeverityLow:      3,
	SeverityInfo:     4,
}

// Rank orders severities for sorting: critical=0 … info=4. Unknown values sort last.
func (s Severity) Rank() int {
	if r, ok := severityRanks[s]; ok {
		return r
	}
	return len(severityRanks)
}

// AtLeast reports whether s is as severe as threshold or more.
// An empty threshold admits everything.
func (s Severity) AtLeast(threshold Severity) bool {
	if threshold == "" {
		return true
	}
	return s.Rank() <= threshold.Rank()
}

func (s Severity) Valid() bool {
	_, ok := severityRanks[s]
	return ok
}

func (s Severity) String() string { return string(s) }

// ParseSeverity accepts any casing and the usual scanner aliases.
func ParseSeverity(raw string) (Severity, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "critical":
		return SeverityCritical, true
	case "high", "error":
		return SeverityHigh, true
	case "medium", "moderate", "warning":
		return SeverityMedium, true
	case "low":
		return SeverityLow, true
	case "info", "note", "":
		return SeverityInfo, true
	default:
		return "", false
	}
}

type Category string

const (
	CategoryInjection     Category = "injection"
	CategoryXSS           Category = "xss"
	CategoryAuth          Category = "authentication"
	CategoryCrypto        Category = "cryptography"
	CategorySecrets       Category = "secrets"
	CategoryConfig        Category = "configuration"
	CategoryDependencies  Category = "dependencies"
	CategoryAccessControl Category = "access_control"
	CategoryDataIntegrity Category = "data_integrity"
	CategoryLogging       Category = "logging"
	CategorySSRF          Category = "ssrf"
	CategoryCodeQuality   Category = "code_quality"
	CategoryArchitecture  Category = "architecture"
)

// Categories is the closed category set in display order.
var Categories = []Category{
	CategoryInjection,
	CategoryXSS,
	CategoryAuth,
	CategoryCrypto,
	CategorySecrets,
	CategoryConfig,
	CategoryDependencies,
	CategoryAccessControl,
	CategoryDataIntegrity,
	CategoryLogging,
	CategorySSRF,
	CategoryCodeQuality,
	CategoryArchitecture,
}

func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

func (c Confidence) Valid() bool {
	switch c {
	case ConfidenceHigh, ConfidenceMedium, ConfidenceLow:
		return true
	}
	return false
}

// Rule is one detection rule. Rules are built by the catalog loader and
// must not be modified afterwards.
type Rule struct {
	ID             string
	Name           string
	Description    string
	Severity       Severity
	Category       Category
	OWASPCategory  string
	CWEID          int
	Pattern        *regexp.Regexp
	FilePatterns   []string
	Confidence     Confidence
	Recommendation string
	References     []string

	// Validator, when set, rejects matches that sit in a safe context.
	Validator Validator
	// ValidatorName is the registry key Validator was resolved from.
	ValidatorName string

	extensions map[string]bool
	universal  bool
}

// AppliesTo reports whether the rule's file patterns cover path.
func (r *Rule) AppliesTo(path string) bool {
	if r.universal {
		return true
	}
	return r.extensions[Extension(path)]
}

// Extension returns the lower-cased extension of path including the dot,
// or "" when there is none.
func Extension(path string) string {
	base := path
	if i := strings.LastIndexAny(base, `/\`); i >= 0 {
		base = base[i+1:]
	}
	i := strings.LastIndexByte(base, '.')
	if i <= 0 {
		return ""
	}
	return strings.ToLower(base[i:])
}

// compileFilePatterns turns `**/*.js` style globs into a bare extension set.
// `**/*` and `.*` are universal.
func (r *Rule) compileFilePatterns() error {
	r.extensions = make(map[string]bool, len(r.FilePatterns))
	for _, p := range r.FilePatterns {
		p = strings.TrimSpace(p)
		switch p {
		case "**/*", ".*", "*":
			r.universal = true
			continue
		}
		ext := strings.TrimPrefix(p, "**/")
		ext = strings.TrimPrefix(ext, "*")
		if !strings.HasPrefix(ext, ".") || len(ext) < 2 || strings.ContainsAny(ext, "*/?[") {
			return &patternError{pattern: p}
		}
		r.extensions[strings.ToLower(ext)] = true
	}
	return nil
}

type patternError struct{ pattern string }

func (e *patternError) Error() string {
	return "unsupported file pattern " + `"` + e.pattern + `"` + " (want **/*.<ext>, **/* or .*)"
}
