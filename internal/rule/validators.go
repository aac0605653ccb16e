package rule

import (
	"path/filepath"
	"sort"
	"strings"
)

// Match is a single regex hit handed to a Validator.
type Match struct {
	Text  string
	Start int
	End   int
}

// Validator is a pure predicate over a match, the full file content and the
// file path. Returning false discards the match. Validators must not do I/O.
type Validator func(m Match, content, path string) bool

var validators = map[string]Validator{
	"no_template_interpolation": noTemplateInterpolation,
	"code_only":                 codeOnly,
	"dynamic_html":              dynamicHTML,
	"unsanitized_html":          unsanitizedHTML,
	"not_placeholder":           notPlaceholder,
	"yaml_unsafe_load":          yamlUnsafeLoad,
	"remote_http":               remoteHTTP,
	"missing_integrity":         missingIntegrity,
	"package_manifest":          packageManifest,
}

// LookupValidator resolves a validator by the name used in the catalog.
func LookupValidator(name string) (Validator, bool) {
	v, ok := validators[name]
	return v, ok
}

// ValidatorNames returns the registered validator keys, sorted.
func ValidatorNames() []string {
	names := make([]string, 0, len(validators))
	for name := range validators {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LineAt returns the physical line containing offset, without its newline.
func LineAt(content string, offset int) string {
	if offset < 0 {
		offset = 0
	}
	if offset > len(content) {
		offset = len(content)
	}
	start := strings.LastIndexByte(content[:offset], '\n') + 1
	end := strings.IndexByte(content[offset:], '\n')
	if end < 0 {
		return content[start:]
	}
	return content[start : offset+end]
}

// noTemplateInterpolation rejects tokens assembled from ${...} at runtime.
func noTemplateInterpolation(m Match, _, _ string) bool {
	return !strings.Contains(m.Text, "${")
}

var commentLeaders = []string{"//", "#", "/*", "*", "<!--", "--"}

// codeOnly rejects matches on lines that are entirely comments.
func codeOnly(m Match, content, _ string) bool {
	line := strings.TrimSpace(LineAt(content, m.Start))
	for _, leader := range commentLeaders {
		if strings.HasPrefix(line, leader) {
			return false
		}
	}
	return true
}

var sanitizers = []string{"dompurify", "sanitize", "escapehtml", "escape(", "he.encode", "xss("}

func mentionsSanitizer(s string) bool {
	lower := strings.ToLower(s)
	for _, name := range sanitizers {
		if strings.Contains(lower, name) {
			return true
		}
	}
	return false
}

// dynamicHTML accepts an innerHTML assignment only when its right-hand side
// is dynamic and not passed through a known sanitizer.
func dynamicHTML(m Match, content, path string) bool {
	if !codeOnly(m, content, path) {
		return false
	}
	eq := strings.IndexByte(m.Text, '=')
	if eq < 0 {
		return true
	}
	rhs := strings.TrimSpace(m.Text[eq+1:])
	if mentionsSanitizer(rhs) {
		return false
	}
	return !isStaticLiteral(rhs)
}

// isStaticLiteral reports whether s is one quoted string with no
// concatenation or interpolation.
func isStaticLiteral(s string) bool {
	s = strings.TrimSuffix(strings.TrimSpace(s), ";")
	if len(s) < 2 {
		return false
	}
	q := s[0]
	if q != '"' && q != '\'' && q != '`' {
		return false
	}
	if s[len(s)-1] != q || strings.IndexByte(s[1:len(s)-1], q) >= 0 {
		return false
	}
	return q != '`' || !strings.Contains(s, "${")
}

func unsanitizedHTML(m Match, _, _ string) bool {
	return !mentionsSanitizer(m.Text)
}

var placeholderValues = map[string]bool{
	"password":      true,
	"none":          true,
	"null":          true,
	"string":        true,
	"your_password": true,
	"yourpassword":  true,
}

// notPlaceholder drops obvious placeholder values such as "<password>",
// "********", "${DB_PASSWORD}" or "{{ .Password }}".
func notPlaceholder(m Match, _, _ string) bool {
	value := quotedValue(m.Text)
	if value == "" {
		return false
	}
	switch {
	case strings.Contains(value, "${"), strings.Contains(value, "{{"), strings.Contains(value, "%("):
		return false
	case strings.HasPrefix(value, "<") && strings.HasSuffix(value, ">"):
		return false
	case strings.Trim(value, "*xX.") == "":
		return false
	case strings.HasPrefix(value, "process.env"), strings.HasPrefix(value, "os.environ"):
		return false
	}
	return !placeholderValues[strings.ToLower(value)]
}

// quotedValue returns the contents of the last quoted string in s.
func quotedValue(s string) string {
	end := strings.LastIndexAny(s, `"'`)
	if end <= 0 {
		return ""
	}
	start := strings.LastIndexByte(s[:end], s[end])
	if start < 0 {
		return ""
	}
	return s[start+1 : end]
}

func yamlUnsafeLoad(m Match, _, _ string) bool {
	if strings.Contains(m.Text, "safe_load") {
		return false
	}
	return !strings.Contains(m.Text, "SafeLoader") && !strings.Contains(m.Text, "BaseLoader")
}

var localHosts = []string{"localhost", "127.0.0.1", "0.0.0.0", "[::1]", "example.com", "example.org", "www.w3.org", "schemas.xmlsoap.org", "json-schema.org"}

// remoteHTTP ignores loopback addresses, documentation domains and XML
// namespace identifiers.
func remoteHTTP(m Match, _, _ string) bool {
	i := strings.Index(m.Text, "http://")
	if i < 0 {
		return false
	}
	host := m.Text[i+len("http://"):]
	if j := strings.IndexAny(host, "/:?#"); j >= 0 {
		host = host[:j]
	}
	host = strings.ToLower(host)
	for _, local := range localHosts {
		if host == local || strings.HasSuffix(host, "."+local) {
			return false
		}
	}
	return host != ""
}

func missingIntegrity(m Match, _, _ string) bool {
	return !strings.Contains(strings.ToLower(m.Text), "integrity=")
}

var manifestNames = map[string]bool{
	"package.json":  true,
	"composer.json": true,
	"bower.json":    true,
}

// packageManifest limits dependency rules to package manifests.
func packageManifest(_ Match, _, path string) bool {
	return manifestNames[strings.ToLower(filepath.Base(path))]
}
