// Package snapshot implements the incremental workspace snapshot store:
// creating hash-linked snapshot chains, restoring any point in a chain,
// and retention cleanup.
package snapshot

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind distinguishes snapshots whose payload holds the whole tree from
// snapshots holding only the delta against their base.
type Kind string

const (
	KindFull        Kind = "full"
	KindIncremental Kind = "incremental"
)

// ChangeType classifies one entry of an incremental snapshot's delta.
type ChangeType string

const (
	ChangeAdded    ChangeType = "added"
	ChangeModified ChangeType = "modified"
	ChangeDeleted  ChangeType = "deleted"
)

// Change is one file-level difference against the base snapshot.
// Hash is empty for deletions.
type Change struct {
	Path string     `json:"path"`
	Type ChangeType `json:"changeType"`
	Hash string     `json:"hash,omitempty"`
}

// Record describes one immutable snapshot. FileHashes is always the
// complete logical tree state regardless of Kind; only the payload on
// disk is incremental. Records without FileHashes are the legacy format
// restored by a whole-payload diff instead of chain resolution.
type Record struct {
	ID             string            `json:"id"`
	SessionID      string            `json:"sessionId"`
	SequenceAnchor int               `json:"sequenceAnchor"`
	Phase          string            `json:"phase"`
	Label          string            `json:"label"`
	CreatedAt      time.Time         `json:"createdAt"`
	PayloadDir     string            `json:"payloadDir"`
	FileCount      int               `json:"fileCount"`
	Signature      string            `json:"signature"`
	Kind           Kind              `json:"kind"`
	BaseSnapshotID string            `json:"baseSnapshotId,omitempty"`
	Changes        []Change          `json:"changes,omitempty"`
	// No omitempty: an empty-workspace snapshot must round-trip as an
	// empty map, not decode to nil and read as legacy.
	FileHashes map[string]string `json:"fileHashes"`
	EmptyDirs  []string          `json:"emptyDirs,omitempty"`
}

// Legacy reports whether the record predates chained restores. The
// variant tag is derived: a chained record always carries its full hash
// map, a legacy one never does.
func (r *Record) Legacy() bool {
	return r.FileHashes == nil
}

// newID returns a time-ordered unique snapshot id, never reused.
func newID(now time.Time) string {
	return fmt.Sprintf("%d-%s", now.UnixMilli(), uuid.NewString()[:8])
}
