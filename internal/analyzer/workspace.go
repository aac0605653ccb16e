package analyzer

import (
	"bytes"
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/1homsi/secreview/internal/finding"
	"github.com/1homsi/secreview/internal/policy"
	"github.com/1homsi/secreview/internal/rule"
)

// DefaultMaxFileSize bounds the files a workspace scan reads.
const DefaultMaxFileSize = 2 << 20

// SkipDirs are never descended into.
var SkipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"vendor":       true,
	"dist":         true,
	"build":        true,
	".next":        true,
	"coverage":     true,
}

// ScanOptions controls a workspace scan. The zero value scans everything at
// info with one worker per CPU.
type ScanOptions struct {
	Threshold   rule.Severity
	Workers     int
	MaxFileSize int64
	// Exclude holds path globs (see policy.MatchPath) for files to skip.
	Exclude []string
	// NoInline disables secreview:ignore comments.
	NoInline bool
	// OnStart is called once with the number of files about to be analyzed.
	OnStart func(total int)
	// OnFile is called once per file after it is analyzed. Calls are
	// serialized.
	OnFile func(path string, findings int)
}

// ScanResult is the outcome of a workspace scan. Findings are grouped by
// file in sorted path order.
type ScanResult struct {
	Findings     []finding.Finding
	Files        []string
	FilesScanned int
	FilesSkipped int
	Suppressed   int
	Elapsed      time.Duration
}

type fileResult struct {
	findings   []finding.Finding
	skipped    bool
	suppressed int
}

// ScanWorkspace scans roots with the embedded catalog.
func ScanWorkspace(ctx context.Context, roots []string, opts ScanOptions) (*ScanResult, error) {
	return Default().ScanWorkspace(ctx, roots, opts)
}

// ScanWorkspace walks roots (directories or files), analyzes every candidate
// file in parallel and returns the findings in sorted path order. The context
// is checked before each file; a cancelled scan returns ctx.Err().
func (a *Analyzer) ScanWorkspace(ctx context.Context, roots []string, opts ScanOptions) (*ScanResult, error) {
	start := time.Now()
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = DefaultMaxFileSize
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	files, skipped, err := collectFiles(roots, opts)
	if err != nil {
		return nil, err
	}

	if opts.OnStart != nil {
		opts.OnStart(len(files))
	}

	results := make([]fileResult, len(files))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, path := range files {
		if err := gctx.Err(); err != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = a.scanFile(path, opts)
			if opts.OnFile != nil {
				mu.Lock()
				opts.OnFile(path, len(results[i].findings))
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := &ScanResult{
		Findings:     []finding.Finding{},
		FilesSkipped: skipped,
	}
	for i, r := range results {
		if r.skipped {
			res.FilesSkipped++
			continue
		}
		res.Files = append(res.Files, files[i])
		res.FilesScanned++
		res.Suppressed += r.suppressed
		res.Findings = append(res.Findings, r.findings...)
	}
	res.Elapsed = time.Since(start)
	return res, nil
}

func (a *Analyzer) scanFile(path string, opts ScanOptions) fileResult {
	data, err := os.ReadFile(path)
	if err != nil {
		slog.Debug("skipping unreadable file", "path", path, "err", err)
		return fileResult{skipped: true}
	}
	if isBinary(data) {
		slog.Debug("skipping binary file", "path", path)
		return fileResult{skipped: true}
	}
	content := string(data)
	findings := a.AnalyzeContent(path, content, opts.Threshold)
	if opts.NoInline {
		return fileResult{findings: findings}
	}
	kept, suppressed := policy.FilterInline(content, findings)
	return fileResult{findings: kept, suppressed: suppressed}
}

// isBinary treats a NUL byte in the first 8000 bytes as binary content.
func isBinary(data []byte) bool {
	if len(data) > 8000 {
		data = data[:8000]
	}
	return bytes.IndexByte(data, 0) >= 0
}

// collectFiles expands roots into a sorted, de-duplicated file list and
// counts the files it passed over for size or exclusion.
func collectFiles(roots []string, opts ScanOptions) ([]string, int, error) {
	if len(roots) == 0 {
		roots = []string{"."}
	}
	seen := make(map[string]bool)
	var files []string
	skipped := 0

	excluded := func(path string) bool {
		for _, glob := range opts.Exclude {
			if policy.MatchPath(glob, path) {
				return true
			}
		}
		return false
	}
	add := func(path string, size int64) {
		if seen[path] {
			return
		}
		seen[path] = true
		if size > opts.MaxFileSize || excluded(path) {
			slog.Debug("skipping file", "path", path, "size", size)
			skipped++
			return
		}
		files = append(files, path)
	}

	for _, root := range roots {
		root = filepath.Clean(root)
		info, err := os.Stat(root)
		if err != nil {
			return nil, 0, errors.Wrapf(err, "scan root %s", root)
		}
		if !info.IsDir() {
			add(root, info.Size())
			continue
		}
		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				slog.Debug("walk error", "path", path, "err", walkErr)
				return nil
			}
			if d.IsDir() {
				if path != root && (SkipDirs[d.Name()] || excluded(path)) {
					return filepath.SkipDir
				}
				return nil
			}
			if !d.Type().IsRegular() {
				return nil
			}
			fi, err := d.Info()
			if err != nil {
				return nil
			}
			add(path, fi.Size())
			return nil
		})
		if err != nil {
			return nil, 0, errors.Wrapf(err, "walk %s", root)
		}
	}
	sort.Strings(files)
	return files, skipped, nil
}
