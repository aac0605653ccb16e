package rule

import (
	"fmt"
	"io/fs"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/1homsi/secreview/rules"
)

// Catalog is the loaded, immutable rule set. It is safe for concurrent use.
type Catalog struct {
	version string
	rules   []*Rule
	byID    map[string]*Rule
}

// Version returns the catalog version declared in index.yaml.
func (c *Catalog) Version() string { return c.version }

// Rules returns the rules in catalog order. The slice is a copy; the rules
// themselves are shared and must be treated as read-only.
func (c *Catalog) Rules() []*Rule {
	out := make([]*Rule, len(c.rules))
	copy(out, c.rules)
	return out
}

// Get looks a rule up by id.
func (c *Catalog) Get(id string) (*Rule, bool) {
	r, ok := c.byID[id]
	return r, ok
}

func (c *Catalog) Len() int { return len(c.rules) }

// rawIndex mirrors index.yaml.
type rawIndex struct {
	Version string   `yaml:"version" validate:"required"`
	Files   []string `yaml:"files" validate:"required,min=1,dive,required"`
}

// rawFile mirrors one category file before patterns and enums are resolved.
type rawFile struct {
	Category string    `yaml:"category"`
	Rules    []rawRule `yaml:"rules" validate:"dive"`
}

type rawRule struct {
	ID             string   `yaml:"id" validate:"required"`
	Name           string   `yaml:"name" validate:"required"`
	Description    string   `yaml:"description" validate:"required"`
	Severity       string   `yaml:"severity" validate:"required,oneof=critical high medium low info"`
	Category       string   `yaml:"category"`
	OWASP          string   `yaml:"owasp"`
	CWE            int      `yaml:"cwe" validate:"gte=0"`
	Confidence     string   `yaml:"confidence" validate:"required,oneof=high medium low"`
	Files          []string `yaml:"files" validate:"required,min=1,dive,required"`
	Pattern        string   `yaml:"pattern" validate:"required"`
	Validator      string   `yaml:"validator"`
	Recommendation string   `yaml:"recommendation" validate:"required"`
	References     []string `yaml:"references" validate:"dive,url"`
}

var validate = validator.New()

// Load reads index.yaml from fsys and every category file it lists, in
// order. Any invalid rule fails the whole load.
func Load(fsys fs.FS) (*Catalog, error) {
	data, err := fs.ReadFile(fsys, rules.IndexFile)
	if err != nil {
		return nil, errors.Wrap(err, "read rule index")
	}
	var idx rawIndex
	if err := yaml.Unmarshal(data, &idx); err != nil {
		return nil, errors.Wrapf(err, "parse %s", rules.IndexFile)
	}
	if err := validate.Struct(idx); err != nil {
		return nil, errors.Wrapf(err, "validate %s", rules.IndexFile)
	}

	c := &Catalog{
		version: idx.Version,
		byID:    make(map[string]*Rule),
	}
	for _, name := range idx.Files {
		if err := c.loadFile(fsys, name); err != nil {
			return nil, err
		}
	}
	if len(c.rules) == 0 {
		return nil, errors.New("rule catalog is empty")
	}
	return c, nil
}

func (c *Catalog) loadFile(fsys fs.FS, name string) error {
	data, err := fs.ReadFile(fsys, name)
	if err != nil {
		return errors.Wrapf(err, "read %s", name)
	}
	var raw rawFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return errors.Wrapf(err, "parse %s", name)
	}
	if err := validate.Struct(raw); err != nil {
		return errors.Wrapf(err, "validate %s", name)
	}
	for i, rr := range raw.Rules {
		if rr.Category == "" {
			rr.Category = raw.Category
		}
		r, err := resolve(rr)
		if err != nil {
			return errors.Wrapf(err, "%s rules[%d] (%s)", name, i, rr.ID)
		}
		if _, dup := c.byID[r.ID]; dup {
			return errors.Errorf("%s: duplicate rule id %q", name, r.ID)
		}
		c.byID[r.ID] = r
		c.rules = append(c.rules, r)
	}
	return nil
}

// resolve converts a raw rule to a Rule, enforcing the taxonomy and
// reference invariants.
func resolve(rr rawRule) (*Rule, error) {
	r := &Rule{
		ID:             rr.ID,
		Name:           rr.Name,
		Description:    strings.TrimSpace(rr.Description),
		Severity:       Severity(rr.Severity),
		Category:       Category(rr.Category),
		OWASPCategory:  strings.TrimSpace(rr.OWASP),
		CWEID:          rr.CWE,
		FilePatterns:   append([]string(nil), rr.Files...),
		Confidence:     Confidence(rr.Confidence),
		Recommendation: strings.TrimSpace(rr.Recommendation),
		References:     append([]string(nil), rr.References...),
		ValidatorName:  rr.Validator,
	}
	if !r.Category.Valid() {
		return nil, errors.Errorf("unknown category %q", rr.Category)
	}
	if (r.Severity == SeverityCritical || r.Severity == SeverityHigh) && r.OWASPCategory == "" {
		return nil, errors.Errorf("%s rule needs an OWASP category", r.Severity)
	}
	if (r.OWASPCategory != "") != hasReference(r.References, "owasp.org") {
		return nil, errors.New("OWASP category and owasp.org reference must appear together")
	}
	if (r.CWEID > 0) != hasReference(r.References, "cwe.mitre.org") {
		return nil, errors.New("CWE id and cwe.mitre.org reference must appear together")
	}

	re, err := regexp.Compile("(?m)" + rr.Pattern)
	if err != nil {
		return nil, errors.Wrap(err, "compile pattern")
	}
	r.Pattern = re

	if err := r.compileFilePatterns(); err != nil {
		return nil, err
	}

	if rr.Validator != "" {
		v, ok := LookupValidator(rr.Validator)
		if !ok {
			return nil, errors.Errorf("unknown validator %q (known: %s)", rr.Validator, strings.Join(ValidatorNames(), ", "))
		}
		r.Validator = v
	}
	return r, nil
}

func hasReference(refs []string, host string) bool {
	for _, ref := range refs {
		if strings.Contains(ref, host) {
			return true
		}
	}
	return false
}

// MustLoad is like Load but panics on error. The catalog is embedded at
// compile time, so a failure here is a build defect.
func MustLoad(fsys fs.FS) *Catalog {
	c, err := Load(fsys)
	if err != nil {
		panic(fmt.Sprintf("secreview: load rule catalog: %v", err))
	}
	return c
}

// Default returns the process-wide catalog built from the embedded rules.
var Default = sync.OnceValue(func() *Catalog {
	return MustLoad(rules.FS)
})

// All returns every rule of the default catalog in catalog order.
func All() []*Rule {
	return Default().Rules()
}
