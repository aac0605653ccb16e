package analyzer

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	}
	return root
}

const sqlLine = `const query = "SELECT * FROM users WHERE id = " + userId;` + "\n"

func TestScanWorkspace(t *testing.T) {
	root := writeTree(t, map[string]string{
		"src/b.js":                sqlLine,
		"src/a.js":                "eval(input);\n",
		"src/clean.js":            "export const x = 1;\n",
		"node_modules/lib/x.js":   sqlLine,
		".git/hooks/pre-commit":   "eval(x)\n",
		"build/out.js":            sqlLine,
		"assets/logo.png":         "\x89PNG\x00\x00eval(x)",
		"test/fixtures/secret.js": sqlLine,
	})

	var seen []string
	total := -1
	res, err := ScanWorkspace(context.Background(), []string{root}, ScanOptions{
		Workers: 2,
		Exclude: []string{"test/**"},
		OnStart: func(n int) { total = n },
		OnFile:  func(path string, _ int) { seen = append(seen, path) },
	})
	require.NoError(t, err)

	assert.Equal(t, 3, res.FilesScanned)
	assert.Equal(t, 2, res.FilesSkipped, "excluded fixture and binary file")
	require.Len(t, res.Findings, 2)
	assert.Equal(t, filepath.Join(root, "src", "a.js"), res.Findings[0].File, "sorted path order")
	assert.Equal(t, "code_injection_eval", res.Findings[0].ID)
	assert.Equal(t, "sql_injection", res.Findings[1].ID)
	assert.True(t, sort.StringsAreSorted(res.Files))
	assert.Len(t, seen, 4, "OnFile fires for every read file, including the binary one")
	assert.Equal(t, 4, total)
	for _, f := range res.Findings {
		assert.False(t, strings.Contains(f.File, "node_modules"))
	}
}

func TestScanWorkspaceDeterministic(t *testing.T) {
	files := map[string]string{}
	for _, name := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		files["pkg/"+name+".js"] = sqlLine + "eval(x);\n"
	}
	root := writeTree(t, files)

	first, err := ScanWorkspace(context.Background(), []string{root}, ScanOptions{Workers: 4})
	require.NoError(t, err)
	second, err := ScanWorkspace(context.Background(), []string{root}, ScanOptions{Workers: 1})
	require.NoError(t, err)
	assert.Equal(t, first.Findings, second.Findings)
	assert.Len(t, first.Findings, 16)
}

func TestScanWorkspaceInlineSuppression(t *testing.T) {
	root := writeTree(t, map[string]string{
		"a.js": "// secreview:ignore sql_injection -- reviewed\n" + sqlLine,
	})
	res, err := ScanWorkspace(context.Background(), []string{root}, ScanOptions{})
	require.NoError(t, err)
	assert.Empty(t, res.Findings)
	assert.Equal(t, 1, res.Suppressed)

	res, err = ScanWorkspace(context.Background(), []string{root}, ScanOptions{NoInline: true})
	require.NoError(t, err)
	assert.Len(t, res.Findings, 1)
}

func TestScanWorkspaceLatin1Suppression(t *testing.T) {
	root := writeTree(t, map[string]string{
		"legacy.js": strings.TrimSuffix(sqlLine, "\n") + " // caf\xe9 \xe9\xe9\xe9 // secreview:ignore sql_injection\n",
		"other.js":  "// r\xe9sum\xe9\n" + sqlLine,
	})
	res, err := ScanWorkspace(context.Background(), []string{root}, ScanOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Suppressed)
	require.Len(t, res.Findings, 1)
	assert.Equal(t, filepath.Join(root, "other.js"), res.Findings[0].File)
}

func TestScanWorkspaceThresholdAndSize(t *testing.T) {
	big := strings.Repeat("// padding line\n", 100) + sqlLine
	root := writeTree(t, map[string]string{
		"small.js": "// TODO: later\n" + sqlLine,
		"big.js":   big,
	})
	res, err := ScanWorkspace(context.Background(), []string{root}, ScanOptions{
		Threshold:   "critical",
		MaxFileSize: int64(len(big) - 1),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.FilesScanned)
	assert.Equal(t, 1, res.FilesSkipped)
	require.Len(t, res.Findings, 1)
	assert.Equal(t, "sql_injection", res.Findings[0].ID)
}

func TestScanWorkspaceExplicitFile(t *testing.T) {
	root := writeTree(t, map[string]string{"one.js": sqlLine, "two.js": sqlLine})
	file := filepath.Join(root, "one.js")
	res, err := ScanWorkspace(context.Background(), []string{file, file}, ScanOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{file}, res.Files)
	assert.Len(t, res.Findings, 1)
}

func TestScanWorkspaceMissingRoot(t *testing.T) {
	_, err := ScanWorkspace(context.Background(), []string{filepath.Join(t.TempDir(), "nope")}, ScanOptions{})
	assert.Error(t, err)
}

func TestScanWorkspaceCancelled(t *testing.T) {
	root := writeTree(t, map[string]string{"a.js": sqlLine})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := ScanWorkspace(ctx, []string{root}, ScanOptions{})
	assert.ErrorIs(t, err, context.Canceled)
}
