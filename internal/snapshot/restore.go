package snapshot

import (
	"path/filepath"

	"github.com/karvel/ckpt/internal/fsx"
	"github.com/karvel/ckpt/internal/hashing"
	"github.com/karvel/ckpt/internal/ignore"
	"github.com/karvel/ckpt/internal/walker"
)

// RestoreResult reports what a restore did. Skipped counts files whose
// content already matched the target.
type RestoreResult struct {
	Success  bool
	Restored int
	Deleted  int
	Skipped  int
	Err      error
}

func restoreFailure(err error) RestoreResult {
	return RestoreResult{Err: err}
}

// Restore rewinds the workspace to the given snapshot. The plan is the
// diff between the current tree and the target's recorded hash map, not
// the chain's internal change lists; the workspace may have drifted from
// any single snapshot's delta. Structural problems (missing snapshot,
// broken chain, missing payload) fail the whole restore before any file
// is touched; per-file problems are skipped with a warning.
func (s *Store) Restore(sessionID, snapshotID string) RestoreResult {
	// Restoring under an uncommitted edit would leave the tree
	// inconsistent, so pending edits go first. Best-effort.
	if s.hooks.CancelPendingEdits != nil {
		s.hooks.CancelPendingEdits()
	}

	if s.root == "" || !fsx.IsDir(s.fs, s.root) {
		return restoreFailure(ErrNoWorkspace)
	}
	records, err := s.records.LoadRecords(sessionID)
	if err != nil {
		return restoreFailure(err)
	}
	target, err := findRecord(records, snapshotID)
	if err != nil {
		return restoreFailure(err)
	}
	if target.Legacy() {
		return s.restoreLegacy(target)
	}

	chain, err := resolveChain(records, target)
	if err != nil {
		s.log.Error("restore aborted", "session", sessionID, "snapshot", snapshotID, "error", err)
		return restoreFailure(err)
	}
	if err := s.verifyPayloads(chain); err != nil {
		s.log.Error("restore aborted", "session", sessionID, "snapshot", snapshotID, "error", err)
		return restoreFailure(err)
	}

	matcher := ignore.NewMatcher(s.fs, s.root, s.cfg.IgnorePatterns, s.log)
	tree, err := walker.Walk(s.fs, s.root, matcher)
	if err != nil {
		return restoreFailure(err)
	}
	current := make(map[string]string, len(tree.Files))
	for _, rel := range tree.Files {
		h, err := hashing.HashFile(s.fs, filepath.Join(s.root, rel))
		if err != nil {
			s.log.Warn("hash failed during restore planning", "path", rel, "error", err)
			continue
		}
		current[rel] = h
	}

	d := hashing.Diff(current, target.FileHashes)
	deleted := s.deleteStale(d.Deleted, matcher)

	var changed []string
	for _, rel := range append(append([]string{}, d.Added...), d.Modified...) {
		src, ok := s.findFileInChain(chain, rel)
		if !ok {
			s.log.Warn("file unreachable in snapshot chain, skipping", "path", rel)
			continue
		}
		data, err := s.fs.ReadFile(src)
		if err != nil {
			s.log.Warn("payload read failed, skipping", "path", rel, "error", err)
			continue
		}
		// Guards against a silently corrupted chain entry.
		if hashing.Hash(data) != target.FileHashes[rel] {
			s.log.Warn("payload hash mismatch, skipping", "path", rel, "source", src)
			continue
		}
		if !s.writeWorkspaceFile(rel, data) {
			continue
		}
		changed = append(changed, rel)
	}

	s.recreateEmptyDirs(target.EmptyDirs)
	s.notifyRefresh(changed, deleted)

	s.log.Info("snapshot restored", "session", sessionID, "snapshot", snapshotID,
		"restored", len(changed), "deleted", len(deleted))
	return RestoreResult{
		Success:  true,
		Restored: len(changed),
		Deleted:  len(deleted),
		Skipped:  len(target.FileHashes) - len(d.Added) - len(d.Modified),
	}
}

// restoreLegacy handles records without a hash map: the payload holds the
// whole tree, so the plan is a direct payload-vs-workspace diff.
func (s *Store) restoreLegacy(target *Record) RestoreResult {
	payload := s.payloadPath(target)
	if !fsx.IsDir(s.fs, payload) {
		return restoreFailure(ErrPayloadMissing)
	}

	// The payload was written through the ignore rules, so only the
	// custom patterns apply when walking it back out.
	payloadMatcher := ignore.NewMatcherFromPatterns(s.cfg.IgnorePatterns, s.log)
	payloadTree, err := walker.Walk(s.fs, payload, payloadMatcher)
	if err != nil {
		return restoreFailure(err)
	}
	want := make(map[string]string, len(payloadTree.Files))
	for _, rel := range payloadTree.Files {
		h, err := hashing.HashFile(s.fs, filepath.Join(payload, rel))
		if err != nil {
			s.log.Warn("payload hash failed, skipping", "path", rel, "error", err)
			continue
		}
		want[rel] = h
	}

	matcher := ignore.NewMatcher(s.fs, s.root, s.cfg.IgnorePatterns, s.log)
	tree, err := walker.Walk(s.fs, s.root, matcher)
	if err != nil {
		return restoreFailure(err)
	}
	current := make(map[string]string, len(tree.Files))
	for _, rel := range tree.Files {
		h, err := hashing.HashFile(s.fs, filepath.Join(s.root, rel))
		if err != nil {
			continue
		}
		current[rel] = h
	}

	d := hashing.Diff(current, want)
	deleted := s.deleteStale(d.Deleted, matcher)

	var changed []string
	for _, rel := range append(append([]string{}, d.Added...), d.Modified...) {
		data, err := s.fs.ReadFile(filepath.Join(payload, rel))
		if err != nil {
			s.log.Warn("payload read failed, skipping", "path", rel, "error", err)
			continue
		}
		if !s.writeWorkspaceFile(rel, data) {
			continue
		}
		changed = append(changed, rel)
	}

	s.recreateEmptyDirs(payloadTree.EmptyDirs)
	s.notifyRefresh(changed, deleted)

	s.log.Info("legacy snapshot restored", "snapshot", target.ID,
		"restored", len(changed), "deleted", len(deleted))
	return RestoreResult{
		Success:  true,
		Restored: len(changed),
		Deleted:  len(deleted),
		Skipped:  len(want) - len(d.Added) - len(d.Modified),
	}
}

// deleteStale removes every listed workspace file, then prunes the
// directories the deletions emptied. Returns the paths actually removed.
func (s *Store) deleteStale(paths []string, matcher *ignore.Matcher) []string {
	var deleted []string
	for _, rel := range paths {
		if err := s.fs.Remove(filepath.Join(s.root, rel)); err != nil {
			s.log.Warn("stale file removal failed", "path", rel, "error", err)
			continue
		}
		deleted = append(deleted, rel)
	}
	if len(deleted) > 0 {
		s.pruneEmptyDirs(matcher, ".")
	}
	return deleted
}

// pruneEmptyDirs removes directories left with no entries, post-order,
// never descending into ignored subtrees and never touching the root.
func (s *Store) pruneEmptyDirs(matcher *ignore.Matcher, rel string) {
	dir := s.root
	if rel != "." {
		dir = filepath.Join(s.root, rel)
	}
	entries, err := s.fs.ReadDir(dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		child := e.Name()
		if rel != "." {
			child = rel + "/" + e.Name()
		}
		if matcher.Match(child) {
			continue
		}
		s.pruneEmptyDirs(matcher, child)
	}
	if rel == "." {
		return
	}
	if remaining, err := s.fs.ReadDir(dir); err == nil && len(remaining) == 0 {
		if err := s.fs.Remove(dir); err != nil {
			s.log.Warn("empty dir removal failed", "dir", rel, "error", err)
		}
	}
}

func (s *Store) writeWorkspaceFile(rel string, data []byte) bool {
	dst := filepath.Join(s.root, rel)
	if err := s.fs.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		s.log.Warn("restore mkdir failed", "path", rel, "error", err)
		return false
	}
	if err := s.fs.WriteFile(dst, data, 0o644); err != nil {
		s.log.Warn("restore write failed", "path", rel, "error", err)
		return false
	}
	return true
}

func (s *Store) recreateEmptyDirs(dirs []string) {
	for _, d := range dirs {
		if err := s.fs.MkdirAll(filepath.Join(s.root, d), 0o755); err != nil {
			s.log.Warn("empty dir restore failed", "dir", d, "error", err)
		}
	}
}

func (s *Store) notifyRefresh(changed, deleted []string) {
	if s.hooks.RefreshDocuments == nil {
		return
	}
	if len(changed) == 0 && len(deleted) == 0 {
		return
	}
	s.hooks.RefreshDocuments(changed, deleted)
}
