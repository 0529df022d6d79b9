package hashing

import "sort"

// DiffResult partitions the union of two hash maps' keys. Each slice is
// sorted by path so the outcome is deterministic across map iteration.
type DiffResult struct {
	Added    []string
	Modified []string
	Deleted  []string
}

// Empty reports whether the two states were identical.
func (d DiffResult) Empty() bool {
	return len(d.Added) == 0 && len(d.Modified) == 0 && len(d.Deleted) == 0
}

// Diff compares two path→hash maps. Paths only in new are added, paths in
// both with differing hashes are modified, paths only in old are deleted.
func Diff(oldHashes, newHashes map[string]string) DiffResult {
	var d DiffResult
	for p, h := range newHashes {
		old, ok := oldHashes[p]
		switch {
		case !ok:
			d.Added = append(d.Added, p)
		case old != h:
			d.Modified = append(d.Modified, p)
		}
	}
	for p := range oldHashes {
		if _, ok := newHashes[p]; !ok {
			d.Deleted = append(d.Deleted, p)
		}
	}
	sort.Strings(d.Added)
	sort.Strings(d.Modified)
	sort.Strings(d.Deleted)
	return d
}
