// Package walker traverses a workspace tree honoring an ignore matcher.
package walker

import (
	"path"
	"sort"

	"github.com/karvel/ckpt/internal/fsx"
	"github.com/karvel/ckpt/internal/ignore"
)

// Result is the outcome of one traversal. Paths are root-relative with
// forward slashes, sorted.
type Result struct {
	Files     []string
	EmptyDirs []string
}

// Walk scans root depth-first and returns every non-ignored file plus
// every directory left with zero non-ignored children. Empty directories
// carry no content to hash but must still be reproduced on restore.
// Unreadable subdirectories are skipped, not fatal.
func Walk(fsys fsx.FS, root string, m *ignore.Matcher) (Result, error) {
	var res Result
	walkDir(fsys, root, ".", m, &res)
	sort.Strings(res.Files)
	sort.Strings(res.EmptyDirs)
	return res, nil
}

// walkDir returns the number of surviving children of rel so the caller
// can tell whether its own directory ended up empty.
func walkDir(fsys fsx.FS, root, rel string, m *ignore.Matcher, res *Result) int {
	dir := root
	if rel != "." {
		dir = path.Join(root, rel)
	}
	entries, err := fsys.ReadDir(dir)
	if err != nil {
		return 0
	}

	kept := 0
	for _, e := range entries {
		child := e.Name()
		if rel != "." {
			child = rel + "/" + e.Name()
		}
		if m.Match(child) {
			continue
		}
		if e.IsDir() {
			if walkDir(fsys, root, child, m, res) == 0 {
				res.EmptyDirs = append(res.EmptyDirs, child)
			}
			kept++
			continue
		}
		res.Files = append(res.Files, child)
		kept++
	}
	return kept
}
