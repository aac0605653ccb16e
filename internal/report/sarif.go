package report

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"

	"github.com/1homsi/secreview/internal/rule"
)

const (
	sarifVersion = "2.1.0"
	sarifSchema  = "https://raw.githubusercontent.com/oasis-tcs/sarif-spec/master/Schemata/sarif-schema-2.1.0.json"
	toolName     = "secreview"
	toolURI      = "https://github.com/1homsi/secreview"
)

type sarifOutput struct {
	Version string     `json:"version"`
	Schema  string     `json:"$schema"`
	Runs    []sarifRun `json:"runs"`
}

type sarifRun struct {
	Tool    sarifTool     `json:"tool"`
	Results []sarifResult `json:"results"`
}

type sarifTool struct {
	Driver sarifDriver `json:"driver"`
}

type sarifDriver struct {
	Name           string      `json:"name"`
	Version        string      `json:"version"`
	InformationURI string      `json:"informationUri"`
	Rules          []sarifRule `json:"rules"`
}

type sarifRule struct {
	ID               string         `json:"id"`
	Name             string         `json:"name"`
	ShortDescription sarifMessage   `json:"shortDescription"`
	FullDescription  sarifMessage   `json:"fullDescription"`
	Help             sarifMessage   `json:"help"`
	HelpURI          string         `json:"helpUri,omitempty"`
	Properties       map[string]any `json:"properties,omitempty"`
}

type sarifResult struct {
	RuleID              string            `json:"ruleId"`
	RuleIndex           int               `json:"ruleIndex"`
	Level               string            `json:"level"`
	Message             sarifMessage      `json:"message"`
	Locations           []sarifLocation   `json:"locations,omitempty"`
	PartialFingerprints map[string]string `json:"partialFingerprints,omitempty"`
}

type sarifLocation struct {
	PhysicalLocation sarifPhysicalLocation `json:"physicalLocation"`
}

type sarifPhysicalLocation struct {
	ArtifactLocation sarifArtifactLocation `json:"artifactLocation"`
	Region           sarifRegion           `json:"region"`
}

type sarifArtifactLocation struct {
	URI string `json:"uri"`
}

type sarifRegion struct {
	StartLine   int           `json:"startLine"`
	StartColumn int           `json:"startColumn,omitempty"`
	Snippet     *sarifMessage `json:"snippet,omitempty"`
}

type sarifMessage struct {
	Text string `json:"text"`
}

// securitySeverity follows the CVSS-like scale code scanning UIs expect.
var securitySeverity = map[rule.Severity]string{
	rule.SeverityCritical: "9.5",
	rule.SeverityHigh:     "8.0",
	rule.SeverityMedium:   "5.5",
	rule.SeverityLow:      "3.0",
	rule.SeverityInfo:     "0.0",
}

func sarifLevel(s rule.Severity) string {
	switch s {
	case rule.SeverityCritical, rule.SeverityHigh:
		return "error"
	case rule.SeverityMedium:
		return "warning"
	default:
		return "note"
	}
}

// WriteSARIF writes r as a SARIF 2.1.0 log with one driver rule per distinct
// rule id and one result per finding, in report order.
func WriteSARIF(w io.Writer, r Report) error {
	version := "dev"
	if r.Scan != nil && r.Scan.Version != "" {
		version = r.Scan.Version
	}

	rules := []sarifRule{}
	ruleIndex := make(map[string]int)
	results := []sarifResult{}

	for _, f := range r.Findings {
		idx, ok := ruleIndex[f.ID]
		if !ok {
			idx = len(rules)
			ruleIndex[f.ID] = idx
			tags := []string{"security", string(f.Category)}
			if f.CWEID > 0 {
				tags = append(tags, fmt.Sprintf("external/cwe/cwe-%d", f.CWEID))
			}
			if f.OWASPCategory != "" {
				tags = append(tags, f.OWASPCategory)
			}
			sr := sarifRule{
				ID:               f.ID,
				Name:             f.Title,
				ShortDescription: sarifMessage{Text: f.Title},
				FullDescription:  sarifMessage{Text: f.Description},
				Help:             sarifMessage{Text: f.Recommendation},
				Properties: map[string]any{
					"tags":              tags,
					"precision":         precision(f.Confidence),
					"security-severity": securitySeverity[f.Severity],
				},
			}
			if len(f.References) > 0 {
				sr.HelpURI = f.References[0]
			}
			rules = append(rules, sr)
		}

		region := sarifRegion{StartLine: f.Line, StartColumn: f.Column}
		if snippet := f.Snippet(); snippet != "" {
			region.Snippet = &sarifMessage{Text: snippet}
		}
		results = append(results, sarifResult{
			RuleID:    f.ID,
			RuleIndex: idx,
			Level:     sarifLevel(f.Severity),
			Message:   sarifMessage{Text: fmt.Sprintf("%s: %s", f.Title, f.Description)},
			Locations: []sarifLocation{{
				PhysicalLocation: sarifPhysicalLocation{
					ArtifactLocation: sarifArtifactLocation{URI: filepath.ToSlash(f.File)},
					Region:           region,
				},
			}},
			PartialFingerprints: map[string]string{"secreviewFingerprint/v1": f.Fingerprint()},
		})
	}

	out := sarifOutput{
		Version: sarifVersion,
		Schema:  sarifSchema,
		Runs: []sarifRun{
			{
				Tool: sarifTool{
					Driver: sarifDriver{
						Name:           toolName,
						Version:        version,
						InformationURI: toolURI,
						Rules:          rules,
					},
				},
				Results: results,
			},
		},
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func precision(c rule.Confidence) string {
	switch c {
	case rule.ConfidenceHigh:
		return "high"
	case rule.ConfidenceMedium:
		return "medium"
	default:
		return "low"
	}
}
