package snapshot

import (
	"path/filepath"
	"sort"
	"time"
)

// SessionInfo summarizes one session's snapshots for listings.
type SessionInfo struct {
	SessionID     string
	Title         string
	SnapshotCount int
	TotalBytes    int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Sessions lists every session holding snapshots, most recently updated
// first. Title is the label of the latest snapshot; the host may override
// it with its own session metadata.
func (s *Store) Sessions() ([]SessionInfo, error) {
	ids, err := s.records.SessionIDs()
	if err != nil {
		return nil, err
	}
	var infos []SessionInfo
	for _, id := range ids {
		records, err := s.records.LoadRecords(id)
		if err != nil {
			s.log.Warn("session records unreadable, skipping", "session", id, "error", err)
			continue
		}
		if len(records) == 0 {
			continue
		}
		sortByCreation(records)
		info := SessionInfo{
			SessionID:     id,
			Title:         records[len(records)-1].Label,
			SnapshotCount: len(records),
			CreatedAt:     records[0].CreatedAt,
			UpdatedAt:     records[len(records)-1].CreatedAt,
		}
		for i := range records {
			info.TotalBytes += s.dirSize(s.payloadPath(&records[i]))
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].UpdatedAt.After(infos[j].UpdatedAt)
	})
	return infos, nil
}

func (s *Store) dirSize(dir string) int64 {
	entries, err := s.fs.ReadDir(dir)
	if err != nil {
		return 0
	}
	var total int64
	for _, e := range entries {
		child := filepath.Join(dir, e.Name())
		if e.IsDir() {
			total += s.dirSize(child)
			continue
		}
		if fi, err := e.Info(); err == nil {
			total += fi.Size()
		}
	}
	return total
}
