package snapshot

import "errors"

var (
	// ErrSnapshotNotFound means the requested snapshot id has no record
	// in the session.
	ErrSnapshotNotFound = errors.New("snapshot not found")

	// ErrChainBroken means following baseSnapshotId links hit a missing
	// record before reaching a full snapshot.
	ErrChainBroken = errors.New("snapshot chain broken")

	// ErrPayloadMissing means a chain snapshot's payload directory is
	// gone from disk.
	ErrPayloadMissing = errors.New("snapshot payload missing")

	// ErrNoWorkspace means the workspace root does not exist.
	ErrNoWorkspace = errors.New("workspace root not available")
)
