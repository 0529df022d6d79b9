package snapshot

import (
	"fmt"
	"path/filepath"

	"github.com/karvel/ckpt/internal/fsx"
)

// resolveChain walks baseSnapshotId links from target back to the nearest
// full snapshot and returns the chain oldest first. A missing link is an
// explicit error; retention eviction can remove a base that a later
// incremental snapshot still references.
func resolveChain(records []Record, target *Record) ([]*Record, error) {
	byID := make(map[string]*Record, len(records))
	for i := range records {
		byID[records[i].ID] = &records[i]
	}

	var chain []*Record
	seen := make(map[string]bool)
	cur := target
	for {
		if seen[cur.ID] {
			return nil, fmt.Errorf("%w: cycle at %s", ErrChainBroken, cur.ID)
		}
		seen[cur.ID] = true
		chain = append([]*Record{cur}, chain...)
		if cur.Kind != KindIncremental {
			return chain, nil
		}
		base, ok := byID[cur.BaseSnapshotID]
		if !ok {
			return nil, fmt.Errorf("%w: snapshot %s references missing base %s",
				ErrChainBroken, cur.ID, cur.BaseSnapshotID)
		}
		cur = base
	}
}

// findFileInChain scans the chain newest to oldest for the first payload
// physically containing rel. A later payload always holds the most recent
// version of a changed file; an untouched file is only found at the base.
func (s *Store) findFileInChain(chain []*Record, rel string) (string, bool) {
	for i := len(chain) - 1; i >= 0; i-- {
		candidate := filepath.Join(s.payloadPath(chain[i]), rel)
		if fi, err := s.fs.Stat(candidate); err == nil && !fi.IsDir() {
			return candidate, true
		}
	}
	return "", false
}

// verifyPayloads checks that every chain snapshot's payload directory
// still exists before any file is touched.
func (s *Store) verifyPayloads(chain []*Record) error {
	for _, rec := range chain {
		if !fsx.IsDir(s.fs, s.payloadPath(rec)) {
			return fmt.Errorf("%w: snapshot %s", ErrPayloadMissing, rec.ID)
		}
	}
	return nil
}
