package snapshot

// Deletion never cascades: removing a snapshot that a later incremental
// snapshot references as its base leaves that chain broken, and the break
// is reported when the later snapshot is restored. See enforceRetention.

// enforceRetention evicts the oldest snapshots until the session fits the
// configured cap. A negative cap means unlimited. Eviction can remove the
// base of a retained incremental snapshot; the broken chain surfaces as
// an explicit restore-time error, not here.
func (s *Store) enforceRetention(sessionID string, records []Record) error {
	max := s.cfg.MaxCheckpoints
	if max < 0 || len(records) <= max {
		return nil
	}
	sortByCreation(records)
	evicted := 0
	for len(records) > max {
		s.removePayload(&records[0])
		s.log.Debug("snapshot evicted by retention", "session", sessionID, "id", records[0].ID)
		records = records[1:]
		evicted++
	}
	if evicted == 0 {
		return nil
	}
	return s.records.SaveRecords(sessionID, records)
}

// Delete removes one snapshot's payload and record. Reports whether the
// snapshot existed.
func (s *Store) Delete(sessionID, snapshotID string) (bool, error) {
	records, err := s.records.LoadRecords(sessionID)
	if err != nil {
		return false, err
	}
	kept := records[:0]
	found := false
	for i := range records {
		if records[i].ID == snapshotID {
			s.removePayload(&records[i])
			found = true
			continue
		}
		kept = append(kept, records[i])
	}
	if !found {
		return false, nil
	}
	return true, s.records.SaveRecords(sessionID, kept)
}

// DeleteFrom removes every snapshot whose sequence anchor is at or past
// the threshold. Used when a turn is retried and its snapshots become
// invalid. Returns the number removed.
func (s *Store) DeleteFrom(sessionID string, anchor int) (int, error) {
	records, err := s.records.LoadRecords(sessionID)
	if err != nil {
		return 0, err
	}
	kept := records[:0]
	removed := 0
	for i := range records {
		if records[i].SequenceAnchor >= anchor {
			s.removePayload(&records[i])
			removed++
			continue
		}
		kept = append(kept, records[i])
	}
	if removed == 0 {
		return 0, nil
	}
	return removed, s.records.SaveRecords(sessionID, kept)
}

// DeleteAll removes every snapshot of a session.
func (s *Store) DeleteAll(sessionID string) (int, error) {
	records, err := s.records.LoadRecords(sessionID)
	if err != nil {
		return 0, err
	}
	for i := range records {
		s.removePayload(&records[i])
	}
	if len(records) == 0 {
		return 0, nil
	}
	return len(records), s.records.SaveRecords(sessionID, nil)
}

// SweepOrphans deletes all snapshots of every session not in the valid
// set. Returns the number of snapshots removed.
func (s *Store) SweepOrphans(valid []string) (int, error) {
	validSet := make(map[string]bool, len(valid))
	for _, id := range valid {
		validSet[id] = true
	}
	sessions, err := s.records.SessionIDs()
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, id := range sessions {
		if validSet[id] {
			continue
		}
		n, err := s.DeleteAll(id)
		if err != nil {
			s.log.Warn("orphan sweep failed for session", "session", id, "error", err)
			continue
		}
		s.log.Info("orphan session swept", "session", id, "snapshots", n)
		removed += n
	}
	return removed, nil
}

func (s *Store) removePayload(rec *Record) {
	if err := s.fs.RemoveAll(s.payloadPath(rec)); err != nil {
		s.log.Warn("payload removal failed", "snapshot", rec.ID, "error", err)
	}
}
