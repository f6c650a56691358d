// Package session persists conversation transcripts so a served dialogue can
// survive a process restart. Turns are appended per session; when a known
// session reappears after a restart, its transcript is replayed through a
// fresh agent instance to rebuild the dialog history.
package session

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"
)

// ErrNotFound is returned when a session has no stored transcript.
var ErrNotFound = errors.New("session not found")

const keyPrefix = "session/"

// Turn is one stored exchange: what the partner said and how the agent
// answered.
type Turn struct {
	Text        string    `msgpack:"text"`
	Labels      []string  `msgpack:"labels,omitempty"`
	EpisodeDone bool      `msgpack:"episode_done,omitempty"`
	Reply       string    `msgpack:"reply,omitempty"`
	At          time.Time `msgpack:"at"`
}

// Options configures the store.
type Options struct {
	// Dir is the directory for the store's data files. Required unless
	// InMemory is set.
	Dir string

	// InMemory runs the store without disk persistence, for tests.
	InMemory bool

	// Logger receives store-level logs. nil uses slog.Default().
	Logger *slog.Logger
}

// Store persists session transcripts in BadgerDB, one msgpack-encoded turn
// list per session.
type Store struct {
	db     *badger.DB
	logger *slog.Logger
}

// Open opens or creates a store.
func Open(opts Options) (*Store, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("session store dir is required for on-disk mode")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	dir := opts.Dir
	if opts.InMemory {
		// Badger rejects disk paths in disk-less mode.
		dir = ""
	}
	dbOpts := badger.DefaultOptions(dir).WithLogger(badgerLogger{logger}).WithInMemory(opts.InMemory)
	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

func key(id string) []byte { return []byte(keyPrefix + id) }

// Append adds one turn to a session's transcript, creating the session on
// first use.
func (s *Store) Append(id string, turn Turn) error {
	if id == "" {
		return errors.New("empty session id")
	}
	return s.db.Update(func(txn *badger.Txn) error {
		var turns []Turn
		item, err := txn.Get(key(id))
		switch {
		case err == nil:
			raw, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if err := msgpack.Unmarshal(raw, &turns); err != nil {
				return fmt.Errorf("failed to decode session %s: %w", id, err)
			}
		case errors.Is(err, badger.ErrKeyNotFound):
		default:
			return err
		}

		turns = append(turns, turn)
		raw, err := msgpack.Marshal(turns)
		if err != nil {
			return err
		}
		return txn.Set(key(id), raw)
	})
}

// Turns returns a session's stored transcript in arrival order.
func (s *Store) Turns(id string) ([]Turn, error) {
	var turns []Turn
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(id))
		if err != nil {
			return err
		}
		raw, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		return msgpack.Unmarshal(raw, &turns)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return turns, nil
}

// Exists reports whether a session has a stored transcript.
func (s *Store) Exists(id string) bool {
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(key(id))
		return err
	})
	return err == nil
}

// Delete removes a session's transcript. Deleting an unknown session is not
// an error.
func (s *Store) Delete(id string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key(id))
	})
}

// IDs lists every stored session id.
func (s *Store) IDs() ([]string, error) {
	var ids []string
	err := s.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Prefix = []byte(keyPrefix)
		iterOpts.PrefetchValues = false
		it := txn.NewIterator(iterOpts)
		defer it.Close()

		for it.Seek(iterOpts.Prefix); it.ValidForPrefix(iterOpts.Prefix); it.Next() {
			k := string(it.Item().KeyCopy(nil))
			ids = append(ids, strings.TrimPrefix(k, keyPrefix))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// badgerLogger routes badger's own output through slog, dropping the chatty
// info and debug levels.
type badgerLogger struct {
	logger *slog.Logger
}

func (l badgerLogger) Errorf(f string, v ...interface{}) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(f, v...)))
}

func (l badgerLogger) Warningf(f string, v ...interface{}) {
	l.logger.Warn(strings.TrimSpace(fmt.Sprintf(f, v...)))
}

func (l badgerLogger) Infof(string, ...interface{})  {}
func (l badgerLogger) Debugf(string, ...interface{}) {}
