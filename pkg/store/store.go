// Package store implements the raw ordered key/value layer: six
// byte-keyed B+Trees (OBJ, DIR, IDX, QUE, MAP/OIX, META) plus the
// secondary-index trees a schema declares, backed by a single append-only
// write-ahead log that is fully replayed on open. The store is
// single-writer; the object layer above it batches every commit into
// one Apply call.
package store

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	uerrors "github.com/kvobj/udb/pkg/errors"
)

const walFileName = "udb.wal"

// Options configures how a Store persists its WAL.
type Options struct {
	SyncPolicy   SyncPolicy
	SyncInterval time.Duration
}

func DefaultOptions() Options {
	return Options{SyncPolicy: SyncEveryWrite, SyncInterval: 200 * time.Millisecond}
}

// Store is the single-process, single-writer key/value engine underneath
// the object database. Every public method except TableNames acquires mu
// exactly once (TableNames relies on the table registry's own lock); they
// never call each other, so there is no recursive-locking hazard.
type Store struct {
	dir    string
	tables *tableRegistry
	wal    *walWriter
	mu     sync.Mutex
}

// Open creates dir if needed, opens its WAL, and replays every entry in
// it to rebuild the in-memory tables. The WAL is the only persisted
// state; there is no separate data file to keep in sync with it.
func Open(dir string, opts Options) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &uerrors.OpenDbFileError{Path: dir, Err: err}
	}

	s := &Store{dir: dir, tables: newTableRegistry()}

	walPath := filepath.Join(dir, walFileName)
	if err := replayWAL(walPath, s.applyReplayed); err != nil {
		return nil, err
	}

	w, err := openWAL(walPath, opts.SyncPolicy, opts.SyncInterval)
	if err != nil {
		return nil, err
	}
	s.wal = w
	return s, nil
}

func (s *Store) applyReplayed(e walEntry) {
	switch e.Op {
	case opCreateTable:
		s.tables.CreateTable(e.Table)
	case opDropTable:
		s.tables.DropTable(e.Table)
	case opClearTable:
		s.tables.ClearTable(e.Table)
	case opPut:
		t, _ := s.tables.CreateTable(e.Table)
		t.Upsert(e.Key, e.Value)
	case opDelete:
		if t := s.tables.Table(e.Table); t != nil {
			t.Delete(e.Key)
		}
	}
}

// Close flushes and closes the WAL. In-memory tables are discarded; the
// next Open rebuilds them from the log.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wal.Close()
}

// CreateTable registers name (idempotent) and durably logs the creation.
func (s *Store) CreateTable(name string) (*Tree, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.tables.CreateTable(name)
	if err != nil {
		return nil, err
	}
	if err := s.wal.WriteBatch([]walEntry{{Table: name, Op: opCreateTable}}); err != nil {
		return nil, &uerrors.CreateTableError{Reason: err.Error()}
	}
	return t, nil
}

// DropTable removes name.
func (s *Store) DropTable(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.tables.DropTable(name); err != nil {
		return err
	}
	return s.wal.WriteBatch([]walEntry{{Table: name, Op: opDropTable}})
}

// ClearTable empties name in place.
func (s *Store) ClearTable(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.tables.ClearTable(name); err != nil {
		return err
	}
	return s.wal.WriteBatch([]walEntry{{Table: name, Op: opClearTable}})
}

// Table returns the named tree, or nil if it was never created. Reads
// need no lock at the Store level: Tree itself is safe for concurrent
// use while a write transaction is building its Mutation batch, since
// that batch is only applied to the tree at Apply time.
func (s *Store) Table(name string) *Tree {
	s.mu.Lock()
	t := s.tables.Table(name)
	s.mu.Unlock()
	return t
}

// Mutation is one cell-level write or delete destined for a table,
// produced by a Transaction's commit step once every change has been
// validated.
type Mutation struct {
	Table string
	Key   []byte
	Value []byte // nil for a delete
	Del   bool
}

// Apply durably logs and applies a batch of mutations as a single
// critical section: nothing else observes the Store between the first
// and the last mutation, and the whole batch goes to disk as one WAL
// record, so a crash mid-commit replays either all of it or none of it.
// This is the only write path a Transaction uses at commit time.
func (s *Store) Apply(muts []Mutation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := make([]walEntry, 0, len(muts))
	for _, m := range muts {
		t := s.tables.tables[m.Table]
		if t == nil {
			return &uerrors.AccessCursorError{Reason: "unknown table " + m.Table}
		}
		op := opPut
		if m.Del {
			op = opDelete
		}
		entries = append(entries, walEntry{Table: m.Table, Op: op, Key: m.Key, Value: m.Value})
	}
	if err := s.wal.WriteBatch(entries); err != nil {
		return &uerrors.CommitTransError{Reason: err.Error()}
	}

	for _, m := range muts {
		t := s.tables.tables[m.Table]
		if m.Del {
			t.Delete(m.Key)
		} else {
			t.Upsert(m.Key, m.Value)
		}
	}
	return nil
}

// TableNames lists every registered table, sorted.
func (s *Store) TableNames() []string {
	return s.tables.Names()
}
