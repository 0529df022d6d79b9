package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dgraph-io/badger/v4"
)

const recordKeyPrefix = "snapshots/"

// BadgerStore persists snapshot records in an embedded BadgerDB, one
// JSON-encoded record list per session key.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadger opens (or creates) the record database at dir.
func OpenBadger(dir string, log *slog.Logger) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir).WithLogger(newBadgerLogger(log))
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open record store at %q: %w", dir, err)
	}
	return &BadgerStore{db: db}, nil
}

// OpenBadgerInMemory opens a throwaway in-memory record database.
// Intended for tests.
func OpenBadgerInMemory() (*BadgerStore, error) {
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open in-memory record store: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func sessionKey(sessionID string) []byte {
	return []byte(recordKeyPrefix + sessionID)
}

func (s *BadgerStore) LoadRecords(sessionID string) ([]Record, error) {
	var records []Record
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(sessionKey(sessionID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &records)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("load records for session %q: %w", sessionID, err)
	}
	return records, nil
}

func (s *BadgerStore) SaveRecords(sessionID string, records []Record) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		if len(records) == 0 {
			return txn.Delete(sessionKey(sessionID))
		}
		data, err := json.Marshal(records)
		if err != nil {
			return err
		}
		return txn.Set(sessionKey(sessionID), data)
	})
	if err != nil {
		return fmt.Errorf("save records for session %q: %w", sessionID, err)
	}
	return nil
}

func (s *BadgerStore) SessionIDs() ([]string, error) {
	var ids []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		prefix := []byte(recordKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := string(it.Item().Key())
			ids = append(ids, strings.TrimPrefix(key, recordKeyPrefix))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return ids, nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// badgerLogger adapts slog to Badger's logger interface.
type badgerLogger struct {
	log *slog.Logger
}

func newBadgerLogger(log *slog.Logger) badger.Logger {
	if log == nil {
		return nil
	}
	return &badgerLogger{log: log}
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.log.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.log.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...any) {
	l.log.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.log.Debug(fmt.Sprintf(format, args...))
}
