package snapshot

// RecordStore is the host's persistent record store, keyed by session id.
// Records are saved and loaded as whole per-session lists; the engine
// never mutates a persisted record in place.
type RecordStore interface {
	LoadRecords(sessionID string) ([]Record, error)
	SaveRecords(sessionID string, records []Record) error
	SessionIDs() ([]string, error)
	Close() error
}
