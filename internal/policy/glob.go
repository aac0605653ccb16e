package policy

import (
	"path/filepath"
	"regexp"
	"strings"
	"sync"
)

var globCache sync.Map // glob -> *regexp.Regexp (nil when invalid)

// MatchPath reports whether path matches glob. `**` spans directories, `*`
// and `?` stay within one segment. A relative glob also matches any path
// suffix that starts at a directory boundary, so "vendor/**" matches both
// "vendor/x.js" and "/abs/repo/vendor/x.js".
func MatchPath(glob, path string) bool {
	glob = strings.TrimSpace(glob)
	if glob == "" {
		return false
	}
	re := compileGlob(glob)
	if re == nil {
		return false
	}
	path = filepath.ToSlash(path)
	if re.MatchString(path) {
		return true
	}
	if strings.HasPrefix(glob, "/") {
		return false
	}
	for i := 0; i < len(path); i++ {
		if path[i] == '/' && re.MatchString(path[i+1:]) {
			return true
		}
	}
	return false
}

func compileGlob(glob string) *regexp.Regexp {
	if v, ok := globCache.Load(glob); ok {
		return v.(*regexp.Regexp)
	}
	re, err := regexp.Compile(globToRegex(glob))
	if err != nil {
		re = nil
	}
	globCache.Store(glob, re)
	return re
}

func globToRegex(glob string) string {
	var b strings.Builder
	b.WriteString("^")
	r := []rune(filepath.ToSlash(glob))
	for i := 0; i < len(r); i++ {
		switch r[i] {
		case '*':
			if i+1 < len(r) && r[i+1] == '*' {
				if i+2 < len(r) && r[i+2] == '/' {
					b.WriteString("(?:.*/)?")
					i += 2
					continue
				}
				b.WriteString(".*")
				i++
			} else {
				b.WriteString("[^/]*")
			}
		case '?':
			b.WriteString("[^/]")
		case '.', '+', '(', ')', '[', ']', '{', '}', '^', '$', '|', '\\':
			b.WriteString("\\")
			b.WriteRune(r[i])
		default:
			b.WriteRune(r[i])
		}
	}
	b.WriteString("$")
	return b.String()
}
