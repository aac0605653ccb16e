package analyzer

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1homsi/secreview/internal/finding"
	"github.com/1homsi/secreview/internal/rule"
)

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestAnalyzeFileNonexistent(t *testing.T) {
	got := Default().AnalyzeFile(filepath.Join(t.TempDir(), "missing.js"), rule.SeverityInfo)
	require.NotNil(t, got)
	assert.Empty(t, got)
}

func TestAnalyzeFileDirectory(t *testing.T) {
	got := Default().AnalyzeFile(t.TempDir(), "")
	require.NotNil(t, got)
	assert.Empty(t, got)
}

func TestAnalyzeFileSQLInjection(t *testing.T) {
	path := writeTempFile(t, "query.js", `const query = "SELECT * FROM users WHERE id = " + userId;`+"\n")
	got := Default().AnalyzeFile(path, rule.SeverityInfo)

	require.Len(t, got, 1)
	f := got[0]
	assert.Equal(t, "sql_injection", f.ID)
	assert.Equal(t, 89, f.CWEID)
	assert.Equal(t, rule.SeverityCritical, f.Severity)
	assert.Equal(t, rule.CategoryInjection, f.Category)
	assert.Contains(t, f.Recommendation, "parameterized")
	assert.Equal(t, 1, f.Line)
	assert.Equal(t, path, f.File)
}

func TestAnalyzeFileSecretBoundary(t *testing.T) {
	a := Default()
	hit := writeTempFile(t, "a.js", `const apiKey = "abcdefghij0123456789";`)
	miss := writeTempFile(t, "b.js", `const apiKey = "abcdefghij012345678";`)

	assert.True(t, hasRule(a.AnalyzeFile(hit, ""), "hardcoded_api_key"))
	assert.False(t, hasRule(a.AnalyzeFile(miss, ""), "hardcoded_api_key"))
}

func TestAnalyzeFileTemplateLiteralSuppressed(t *testing.T) {
	path := writeTempFile(t, "c.js", "const stripeKey = `sk_live_${x}_key`;\nconst other = `sk_live_${secretSuffixFromVault}_key`;\n")
	got := Default().AnalyzeFile(path, "")
	assert.False(t, hasRule(got, "provider_secret_token"))
	assert.False(t, hasRule(got, "hardcoded_api_key"))
}

func TestAnalyzeFileCleanFile(t *testing.T) {
	path := writeTempFile(t, "clean.js", `import { sum } from "./math";

export function total(items) {
  return items.reduce((acc, item) => sum(acc, item.price), 0);
}
`)
	assert.Empty(t, Default().AnalyzeFile(path, ""))
}

func TestAnalyzeFileThreshold(t *testing.T) {
	content := "// TODO: remove\nconst query = \"SELECT * FROM t WHERE id = \" + id;\nconsole.log(query);\n"
	path := writeTempFile(t, "t.js", content)
	a := Default()

	all := a.AnalyzeFile(path, rule.SeverityInfo)
	critical := a.AnalyzeFile(path, rule.SeverityCritical)
	assert.Greater(t, len(all), len(critical))
	require.NotEmpty(t, critical)
	for _, f := range critical {
		assert.Equal(t, rule.SeverityCritical, f.Severity)
	}
	assert.Equal(t, all, a.AnalyzeFile(path, ""), "empty threshold means info")
}

func TestAnalyzeFileIdempotent(t *testing.T) {
	content := strings.Join([]string{
		`const password = "hunter2hunter2";`,
		`el.innerHTML = userInput;`,
		`eval(payload);`,
		`const h = crypto.createHash("md5");`,
	}, "\n")
	path := writeTempFile(t, "x.js", content)
	a := Default()
	first := a.AnalyzeFile(path, "")
	second := a.AnalyzeFile(path, "")
	require.NotEmpty(t, first)
	assert.Equal(t, first, second)
}

func TestAnalyzeFileOrder(t *testing.T) {
	content := "eval(a);\nconst q = \"SELECT * FROM t WHERE x = \" + b;\neval(c);\n"
	path := writeTempFile(t, "o.js", content)
	a := Default()
	got := a.AnalyzeFile(path, "")

	position := make(map[string]int)
	for i, r := range a.Catalog().Rules() {
		position[r.ID] = i
	}
	for i := 1; i < len(got); i++ {
		prev, cur := got[i-1], got[i]
		if prev.ID == cur.ID {
			assert.Less(t, prev.Line, cur.Line)
			continue
		}
		assert.Less(t, position[prev.ID], position[cur.ID], "catalog order outer")
	}
	assert.Equal(t, "sql_injection", got[0].ID, "injection rules come first")
}

func TestAnalyzeFileExtensionSelection(t *testing.T) {
	a := Default()
	// eval( is matched for code files but not for Markdown.
	js := writeTempFile(t, "doc.js", "eval(input);\n")
	md := writeTempFile(t, "doc.md", "eval(input);\n")
	assert.True(t, hasRule(a.AnalyzeFile(js, ""), "code_injection_eval"))
	assert.False(t, hasRule(a.AnalyzeFile(md, ""), "code_injection_eval"))
}

func TestReferenceInvariantsOnFindings(t *testing.T) {
	content := strings.Join([]string{
		`const query = "SELECT * FROM users WHERE id = " + userId;`,
		`const apiKey = "abcdefghij0123456789abc";`,
		`el.innerHTML = userInput;`,
		`const h = crypto.createHash("md5");`,
		`// TODO: tidy`,
		`console.log(user);`,
	}, "\n")
	got := Default().AnalyzeContent("mixed.js", content, "")
	require.NotEmpty(t, got)
	for _, f := range got {
		if f.Severity == rule.SeverityCritical || f.Severity == rule.SeverityHigh {
			assert.NotEmpty(t, f.OWASPCategory, f.ID)
		}
		assert.Equal(t, f.OWASPCategory != "", containsRef(f.References, "owasp.org"), f.ID)
		assert.Equal(t, f.CWEID != 0, containsRef(f.References, "cwe.mitre.org"), f.ID)
	}
}

func TestRulesSelection(t *testing.T) {
	a := Default()
	for _, r := range a.Rules("x.py", rule.SeverityHigh) {
		assert.True(t, r.Severity.AtLeast(rule.SeverityHigh))
		assert.True(t, r.AppliesTo("x.py"))
	}
	assert.Greater(t, len(a.Rules("x.py", "")), len(a.Rules("x.py", rule.SeverityHigh)))
}

func hasRule(findings []finding.Finding, id string) bool {
	for _, f := range findings {
		if f.ID == id {
			return true
		}
	}
	return false
}

func containsRef(refs []string, host string) bool {
	for _, r := range refs {
		if strings.Contains(r, host) {
			return true
		}
	}
	return false
}
