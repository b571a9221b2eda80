// Package udb implements the transactional object layer: OID/Atom/UUID
// identity, attribute CRUD, aggregation chains, FIFO queues, sparse maps,
// secondary indices and the write-buffered commit protocol, all layered
// on the ordered key/value tables of pkg/store.
package udb

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kvobj/udb/pkg/cell"
	uerrors "github.com/kvobj/udb/pkg/errors"
	"github.com/kvobj/udb/pkg/index"
	"github.com/kvobj/udb/pkg/metrics"
	"github.com/kvobj/udb/pkg/schema"
	"github.com/kvobj/udb/pkg/store"
)

// Options configures Database.Open.
type Options struct {
	Store    store.Options
	Registry prometheus.Registerer // nil uses prometheus.DefaultRegisterer
}

func DefaultOptions() Options {
	return Options{Store: store.DefaultOptions()}
}

// Database is the top-level handle: it owns the Store, the atom
// directory, the index registry, the persisted header, the per-OID write
// lock table and the observer set. mu guards the lock table and the
// observer set; not every public method takes it: the atom-directory
// methods rely on the Directory's own lock, and the private allocOID
// takes mu itself.
type Database struct {
	mu       sync.Mutex
	store    *store.Store
	dir      *schema.Directory
	idx      *index.Registry
	meta     *schema.Meta
	metrics  *metrics.Collector
	observers observerSet

	locks  map[uint32]*Transaction // per-OID write lock registry
	closed bool
}

// Open opens (creating if necessary) the database rooted at dir.
func Open(dirPath string, opts Options) (*Database, error) {
	s, err := store.Open(dirPath, opts.Store)
	if err != nil {
		return nil, err
	}
	d, err := schema.OpenDirectory(s)
	if err != nil {
		return nil, err
	}
	ix, err := index.OpenRegistry(s)
	if err != nil {
		return nil, err
	}
	m, err := schema.LoadOrCreateMeta(s)
	if err != nil {
		return nil, err
	}

	db := &Database{
		store:      s,
		dir:        d,
		idx:        ix,
		meta:       m,
		metrics: metrics.NewCollector(opts.Registry),
		locks:   make(map[uint32]*Transaction),
	}
	if _, err := s.CreateTable(OBJTable); err != nil {
		return nil, err
	}
	if _, err := s.CreateTable(QUETable); err != nil {
		return nil, err
	}
	if _, err := s.CreateTable(MAPTable); err != nil {
		return nil, err
	}
	if _, err := s.CreateTable(OIXTable); err != nil {
		return nil, err
	}
	return db, nil
}

// Close fires DbClosing and releases the underlying store.
func (db *Database) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil
	}
	db.observers.fire([]UpdateInfo{{Kind: DbClosing}})
	db.closed = true
	return db.store.Close()
}

// DBUUID returns this database's own identifying UUID (used by the
// MIME object-reference payload and xoid:// URLs).
func (db *Database) DBUUID() [16]byte { return db.meta.DBUUID }

// Intern interns name, allocating a fresh atom if it doesn't exist yet.
func (db *Database) Intern(name string) (schema.Atom, error) {
	return db.dir.Intern(name, true)
}

// LookupAtom resolves an existing atom without allocating one.
func (db *Database) LookupAtom(name string) (schema.Atom, error) {
	return db.dir.Intern(name, false)
}

// LookupAtomString is the reverse of Intern/LookupAtom.
func (db *Database) LookupAtomString(atom schema.Atom) (string, bool, error) {
	return db.dir.LookupAtomString(atom)
}

// Preset binds name to a fixed atom id at startup.
func (db *Database) Preset(name string, atom schema.Atom) error {
	return db.dir.Preset(name, atom)
}

// AddObserver registers a synchronous (inline) or decoupled (post-commit)
// observer.
func (db *Database) AddObserver(f Observer, decoupled bool) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if decoupled {
		db.observers.addDecoupled(f)
	} else {
		db.observers.addSync(f)
	}
}

// CreateIndex declares a new secondary index.
func (db *Database) CreateIndex(name string, meta index.IndexMeta) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.idx.Create(name, meta)
}

// DropIndex removes a previously declared index.
func (db *Database) DropIndex(name string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.idx.Remove(name)
}

// QueryIndex opens a cursor over a declared index for programmatic
// seek/first_key/next_key/prev_key traversal.
func (db *Database) QueryIndex(name string) (*index.Idx, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.idx.OpenIdx(name)
}

// RebuildIndex recomputes a declared index from the current committed
// state of every live object, e.g. after CreateIndex was declared over
// data that already existed. The rebuild
// clears the table and re-inserts through the WAL-logged write path so
// the result survives a reopen.
func (db *Database) RebuildIndex(name string) error {
	db.mu.Lock()
	meta, err := db.idx.Lookup(name)
	if err != nil {
		db.mu.Unlock()
		return err
	}
	tableName := db.idx.Table(name)
	obj := db.store.Table(OBJTable)
	db.mu.Unlock()

	var oids []uint32
	forEachOID(db, func(oid uint32) { oids = append(oids, oid) })

	get := func(oid, atom uint32) cell.Cell {
		v, ok := obj.Get(objAttrKey(oid, atom))
		if !ok {
			return cell.Null()
		}
		c, _, err := cell.ReadCell(v)
		if err != nil {
			return cell.Null()
		}
		return c
	}

	if err := db.store.ClearTable(tableName); err != nil {
		return err
	}
	var muts []store.Mutation
	seen := make(map[string]bool)
	for _, oid := range oids {
		key, ok := index.BuildKey(meta, oid, get)
		if !ok {
			continue
		}
		if meta.Kind == index.KindUnique {
			if seen[string(key)] {
				continue
			}
			seen[string(key)] = true
		}
		muts = append(muts, store.Mutation{Table: tableName, Key: key, Value: cellWriteOID(oid)})
	}
	return db.store.Apply(muts)
}

// RangeIndex walks every oid whose declared fields match the given
// leading values, in ascending key order, stopping early if fn returns
// false.
func (db *Database) RangeIndex(name string, fn func(oid uint32) bool, values ...cell.Cell) error {
	db.mu.Lock()
	m, err := db.idx.Lookup(name)
	if err != nil {
		db.mu.Unlock()
		return err
	}
	tree := db.store.Table(db.idx.Table(name))
	db.mu.Unlock()
	index.Range(tree, m, fn, values...)
	return nil
}

// checkLock enforces the per-object write lock: it binds oid
// to tx if free, succeeds if already bound to tx, and fails with
// RecordLocked if bound to a different transaction. Caller holds db.mu.
func (db *Database) checkLock(oid uint32, tx *Transaction) error {
	owner, ok := db.locks[oid]
	if !ok {
		db.locks[oid] = tx
		db.metrics.ActiveWriteLocks.Set(float64(len(db.locks)))
		return nil
	}
	if owner != tx {
		db.metrics.LockConflicts.Inc()
		return &uerrors.RecordLockedError{Oid: oid}
	}
	return nil
}

// releaseLock drops oid's write lock if tx is the holder. Caller holds
// db.mu.
func (db *Database) releaseLock(oid uint32, tx *Transaction) {
	if db.locks[oid] == tx {
		delete(db.locks, oid)
		db.metrics.ActiveWriteLocks.Set(float64(len(db.locks)))
	}
}

// Begin starts a new write transaction bound to this database.
func (db *Database) Begin() *Transaction {
	return newTransaction(db)
}

// allocOID returns the next OID and durably advances the counter. Held
// under the Database mutex so two transactions creating objects at once
// can't read the same counter value.
func (db *Database) allocOID() (uint32, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	tbl := db.store.Table(OBJTable)
	next := uint32(1)
	if v, ok := tbl.Get(objBareKey(0)); ok {
		c, err := cellReadOID(v)
		if err != nil {
			return 0, &uerrors.AccessRecordError{Reason: err.Error()}
		}
		next = c
	}
	if next == 0 || next == 0xFFFFFFFF {
		return 0, &uerrors.OidOutOfRangeError{}
	}
	if err := db.store.Apply([]store.Mutation{
		{Table: OBJTable, Key: objBareKey(0), Value: cellWriteOID(next + 1)},
	}); err != nil {
		return 0, err
	}
	return next, nil
}
