// Package prdiff lists the files a branch or pull request touched so a scan
// can be limited to them.
package prdiff

import (
	"bufio"
	"bytes"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// ChangedFiles returns the files under dir that were added, copied, modified
// or renamed since baseRef. With an empty headRef the working tree is the
// head, so uncommitted edits count too. Paths are joined to dir and files no
// longer on disk are dropped.
func ChangedFiles(dir, baseRef, headRef string) ([]string, error) {
	if baseRef == "" {
		return nil, errors.New("base ref is required")
	}
	var out []byte
	var err error
	if headRef == "" {
		out, err = gitDiff(dir, baseRef)
	} else {
		// Merge-base diff first; fall back to a plain two-point diff for
		// refs without a common ancestor.
		out, err = gitDiff(dir, baseRef+"..."+headRef)
		if err != nil {
			out, err = gitDiff(dir, baseRef, headRef)
		}
	}
	if err != nil {
		return nil, errors.Wrapf(err, "git diff %s", baseRef)
	}
	return parseNameOnly(dir, out), nil
}

func gitDiff(dir string, refs ...string) ([]byte, error) {
	args := append([]string{"diff", "--name-only", "--relative", "--diff-filter=ACMR"}, refs...)
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, errors.Errorf("%s", msg)
		}
		return nil, err
	}
	return out, nil
}

func parseNameOnly(dir string, out []byte) []string {
	seen := make(map[string]bool)
	var files []string
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		path := filepath.Join(dir, filepath.FromSlash(line))
		if seen[path] {
			continue
		}
		if info, err := os.Stat(path); err != nil || info.IsDir() {
			continue
		}
		seen[path] = true
		files = append(files, path)
	}
	sort.Strings(files)
	return files
}
