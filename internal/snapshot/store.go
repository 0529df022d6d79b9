package snapshot

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"time"

	"github.com/karvel/ckpt/internal/config"
	"github.com/karvel/ckpt/internal/fsx"
	"github.com/karvel/ckpt/internal/hashing"
	"github.com/karvel/ckpt/internal/ignore"
	"github.com/karvel/ckpt/internal/walker"
)

// Hooks are the host collaborator callbacks. Both are optional and
// best-effort; the engine never fails an operation over a hook.
type Hooks struct {
	// CancelPendingEdits is invoked before a restore mutates the tree.
	CancelPendingEdits func()

	// RefreshDocuments receives exactly the files a restore wrote and
	// exactly the files it deleted, so the host can refresh open views.
	RefreshDocuments func(changed, deleted []string)
}

// Store is the snapshot engine for one workspace. Create and Restore for
// the same session must not run concurrently; callers own that exclusion.
type Store struct {
	fs      fsx.FS
	records RecordStore
	cfg     config.Config
	root    string
	hooks   Hooks
	log     *slog.Logger
}

// New builds a Store over the given filesystem, record store and
// workspace root. A nil logger falls back to slog.Default.
func New(fsys fsx.FS, records RecordStore, cfg config.Config, root string, hooks Hooks, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{fs: fsys, records: records, cfg: cfg, root: root, hooks: hooks, log: log}
}

// UpdateBasePath points the store at a new payload area. Explicit
// reconfiguration; existing payload dirs are not moved.
func (s *Store) UpdateBasePath(dir string) {
	s.cfg.BasePath = dir
}

func (s *Store) payloadPath(r *Record) string {
	return filepath.Join(s.cfg.BasePath, r.PayloadDir)
}

// Create takes a snapshot of the workspace for the given session. Soft
// conditions (engine disabled, missing workspace root) return (nil, nil);
// only record-store failures surface as errors. The first snapshot of a
// session is full, every later one is incremental against the previous.
func (s *Store) Create(sessionID string, anchor int, label, phase string) (*Record, error) {
	if !s.cfg.Enabled {
		s.log.Debug("snapshotting disabled, skipping", "session", sessionID)
		return nil, nil
	}
	if s.root == "" || !fsx.IsDir(s.fs, s.root) {
		s.log.Warn("workspace root not available, skipping snapshot", "root", s.root)
		return nil, nil
	}

	matcher := ignore.NewMatcher(s.fs, s.root, s.cfg.IgnorePatterns, s.log)
	tree, err := walker.Walk(s.fs, s.root, matcher)
	if err != nil {
		s.log.Warn("workspace walk failed, skipping snapshot", "error", err)
		return nil, nil
	}

	currentHashes := make(map[string]string, len(tree.Files))
	for _, rel := range tree.Files {
		h, err := hashing.HashFile(s.fs, filepath.Join(s.root, rel))
		if err != nil {
			s.log.Warn("hash failed, file left out of snapshot", "path", rel, "error", err)
			continue
		}
		currentHashes[rel] = h
	}

	now := time.Now()
	rec := Record{
		ID:             newID(now),
		SessionID:      sessionID,
		SequenceAnchor: anchor,
		Phase:          phase,
		Label:          label,
		CreatedAt:      now,
		Signature:      hashing.TreeSignature(currentHashes, tree.EmptyDirs),
		FileHashes:     currentHashes,
		EmptyDirs:      tree.EmptyDirs,
	}
	rec.PayloadDir = rec.ID

	records, err := s.records.LoadRecords(sessionID)
	if err != nil {
		return nil, err
	}

	// The payload dir exists even for a zero-change incremental snapshot
	// so a later chain verification can tell "empty" from "deleted".
	if err := s.fs.MkdirAll(s.payloadPath(&rec), 0o755); err != nil {
		s.log.Warn("payload dir creation failed, skipping snapshot", "error", err)
		return nil, nil
	}

	if last := latest(records); last != nil && !last.Legacy() {
		s.buildIncremental(&rec, last)
	} else {
		s.buildFull(&rec, tree.EmptyDirs)
	}

	records = append(records, rec)
	if err := s.records.SaveRecords(sessionID, records); err != nil {
		return nil, err
	}
	if err := s.enforceRetention(sessionID, records); err != nil {
		s.log.Warn("retention cleanup failed", "session", sessionID, "error", err)
	}

	s.log.Info("snapshot created",
		"session", sessionID, "id", rec.ID, "kind", rec.Kind,
		"files", len(rec.FileHashes), "copied", rec.FileCount)
	return &rec, nil
}

// buildFull copies every recorded file into the payload and materializes
// every empty directory, so the payload alone can reproduce the tree.
func (s *Store) buildFull(rec *Record, emptyDirs []string) {
	rec.Kind = KindFull
	payload := s.payloadPath(rec)
	for rel := range rec.FileHashes {
		// A failed copy is unreachable in the chain from here on; restore
		// reports it per file instead of the whole snapshot failing.
		if s.copyIntoPayload(payload, rel) {
			rec.FileCount++
		}
	}
	for _, d := range emptyDirs {
		if err := s.fs.MkdirAll(filepath.Join(payload, d), 0o755); err != nil {
			s.log.Warn("payload empty dir failed", "dir", d, "error", err)
		}
	}
}

// buildIncremental records the delta against base and copies only added
// and modified files. A file that fails to copy stays in the change list
// but is unreachable in the chain; a restore that needs it reports it per
// file, never as a silent mismatch.
func (s *Store) buildIncremental(rec *Record, base *Record) {
	rec.Kind = KindIncremental
	rec.BaseSnapshotID = base.ID
	rec.Changes = []Change{}

	d := hashing.Diff(base.FileHashes, rec.FileHashes)
	payload := s.payloadPath(rec)
	for _, rel := range d.Added {
		rec.Changes = append(rec.Changes, Change{Path: rel, Type: ChangeAdded, Hash: rec.FileHashes[rel]})
		if s.copyIntoPayload(payload, rel) {
			rec.FileCount++
		}
	}
	for _, rel := range d.Modified {
		rec.Changes = append(rec.Changes, Change{Path: rel, Type: ChangeModified, Hash: rec.FileHashes[rel]})
		if s.copyIntoPayload(payload, rel) {
			rec.FileCount++
		}
	}
	for _, rel := range d.Deleted {
		rec.Changes = append(rec.Changes, Change{Path: rel, Type: ChangeDeleted})
	}
}

func (s *Store) copyIntoPayload(payload, rel string) bool {
	data, err := s.fs.ReadFile(filepath.Join(s.root, rel))
	if err != nil {
		s.log.Warn("payload copy read failed", "path", rel, "error", err)
		return false
	}
	dst := filepath.Join(payload, rel)
	if err := s.fs.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		s.log.Warn("payload copy mkdir failed", "path", rel, "error", err)
		return false
	}
	if err := s.fs.WriteFile(dst, data, 0o644); err != nil {
		s.log.Warn("payload copy write failed", "path", rel, "error", err)
		return false
	}
	return true
}

// List returns the session's snapshots ordered oldest first.
func (s *Store) List(sessionID string) ([]Record, error) {
	records, err := s.records.LoadRecords(sessionID)
	if err != nil {
		return nil, err
	}
	sortByCreation(records)
	return records, nil
}

func latest(records []Record) *Record {
	if len(records) == 0 {
		return nil
	}
	sortByCreation(records)
	return &records[len(records)-1]
}

func sortByCreation(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
}

func findRecord(records []Record, snapshotID string) (*Record, error) {
	for i := range records {
		if records[i].ID == snapshotID {
			return &records[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrSnapshotNotFound, snapshotID)
}
