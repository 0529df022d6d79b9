// Package ignore evaluates gitignore-style exclusion rules for workspace
// traversals. Negated patterns (leading "!") are recognized but not
// applied; they are dropped with a debug log line.
package ignore

import (
	"log/slog"
	"path"
	"regexp"
	"strings"

	"github.com/karvel/ckpt/internal/fsx"
)

// IgnoreFileName is the per-directory rule file discovered during loading.
const IgnoreFileName = ".gitignore"

// DefaultPatterns are always active regardless of any ignore file.
var DefaultPatterns = []string{".git", "node_modules"}

type pattern struct {
	raw    string
	re     *regexp.Regexp // nil when compilation failed; fall back to raw
	hasSep bool
}

// Matcher holds an ordered pattern list rooted at one workspace directory.
type Matcher struct {
	patterns []pattern
	log      *slog.Logger
}

// NewMatcher builds a matcher from the default patterns, every ignore file
// discovered under root (skipping subtrees already excluded), and the
// user-configured custom patterns appended last.
func NewMatcher(fsys fsx.FS, root string, custom []string, log *slog.Logger) *Matcher {
	if log == nil {
		log = slog.Default()
	}
	m := &Matcher{log: log}
	for _, p := range DefaultPatterns {
		m.add(p)
	}
	m.discover(fsys, root, ".")
	for _, p := range custom {
		m.add(p)
	}
	return m
}

// NewMatcherFromPatterns builds a matcher from an explicit pattern list,
// without touching the filesystem. Used when replaying a recorded tree.
func NewMatcherFromPatterns(patterns []string, log *slog.Logger) *Matcher {
	if log == nil {
		log = slog.Default()
	}
	m := &Matcher{log: log}
	for _, p := range DefaultPatterns {
		m.add(p)
	}
	for _, p := range patterns {
		m.add(p)
	}
	return m
}

// discover walks the tree collecting ignore files, rewriting each pattern
// to be root-relative. rel is the directory being visited, "." for root.
func (m *Matcher) discover(fsys fsx.FS, root, rel string) {
	dir := path.Join(root, rel)
	if data, err := fsys.ReadFile(path.Join(dir, IgnoreFileName)); err == nil {
		for _, line := range strings.Split(string(data), "\n") {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			if strings.HasPrefix(line, "!") {
				m.log.Debug("negated ignore pattern not supported, skipping", "pattern", line)
				continue
			}
			m.add(rewrite(line, rel))
		}
	}

	entries, err := fsys.ReadDir(dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		child := path.Join(rel, e.Name())
		// Do not descend into trees excluded by what we have so far.
		if m.Match(child) {
			continue
		}
		m.discover(fsys, root, child)
	}
}

// rewrite makes a pattern found in dir (root-relative, "." for root)
// relative to the workspace root. Rooted patterns ("/x") and anchored
// patterns ("a/b") get the directory prefixed; bare names stay
// depth-independent.
func rewrite(p, dir string) string {
	dirOnly := strings.HasSuffix(p, "/")
	p = strings.TrimSuffix(p, "/")
	switch {
	case strings.HasPrefix(p, "/"):
		// Keep the leading slash so the pattern stays root-anchored even
		// when the join leaves it separator-free.
		p = "/" + joinPattern(dir, strings.TrimPrefix(p, "/"))
	case strings.Contains(p, "/"):
		p = joinPattern(dir, p)
	}
	if dirOnly {
		p += "/"
	}
	return p
}

func joinPattern(dir, p string) string {
	if dir == "." || dir == "" {
		return p
	}
	return dir + "/" + p
}

func (m *Matcher) add(raw string) {
	var p pattern
	// Directory patterns drop the trailing separator before matching.
	body := strings.TrimSuffix(raw, "/")
	// A leading slash anchors the pattern at the root whether or not a
	// separator survives inside it.
	if strings.HasPrefix(body, "/") {
		body = strings.TrimPrefix(body, "/")
		p.hasSep = true
	} else {
		p.hasSep = strings.Contains(body, "/")
	}
	p.re = translate(body)
	p.raw = body
	m.patterns = append(m.patterns, p)
}

// Match reports whether the root-relative path rel is excluded. Patterns
// containing a separator match against the whole path; bare patterns match
// any single path segment, so they exclude a name at any depth.
func (m *Matcher) Match(rel string) bool {
	rel = strings.Trim(path.Clean(strings.ReplaceAll(rel, "\\", "/")), "/")
	if rel == "." || rel == "" {
		return false
	}
	segments := strings.Split(rel, "/")
	for _, p := range m.patterns {
		if p.matches(rel, segments) {
			return true
		}
	}
	return false
}

func (p pattern) matches(rel string, segments []string) bool {
	if p.re == nil {
		// Compilation failed; compare literally.
		if p.hasSep {
			return rel == p.raw || strings.HasSuffix(rel, "/"+p.raw)
		}
		for _, s := range segments {
			if s == p.raw {
				return true
			}
		}
		return false
	}
	if p.hasSep {
		return p.re.MatchString(rel)
	}
	for _, s := range segments {
		if p.re.MatchString(s) {
			return true
		}
	}
	return false
}

// translate compiles a glob pattern to an anchored regular expression.
// "**" crosses separators, "*" stays within a segment, "?" matches one
// character. Returns nil when the result does not compile.
func translate(glob string) *regexp.Regexp {
	var b strings.Builder
	b.WriteString("^")
	runes := []rune(glob)
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		switch c {
		case '*':
			if i+1 < len(runes) && runes[i+1] == '*' {
				i++
				if i+1 < len(runes) && runes[i+1] == '/' {
					// "**/" also matches zero directories
					b.WriteString("(?:.*/)?")
					i++
				} else {
					b.WriteString(".*")
				}
			} else {
				b.WriteString("[^/]*")
			}
		case '?':
			b.WriteString("[^/]")
		case '.', '(', ')', '+', '|', '^', '$', '{', '}', '\\':
			b.WriteString("\\")
			b.WriteRune(c)
		case '[', ']':
			// character classes pass through
			b.WriteRune(c)
		default:
			b.WriteRune(c)
		}
	}
	b.WriteString("$")
	re, err := regexp.Compile(b.String())
	if err != nil {
		return nil
	}
	return re
}
