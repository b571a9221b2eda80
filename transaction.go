package udb

import (
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/kvobj/udb/pkg/cell"
	uerrors "github.com/kvobj/udb/pkg/errors"
	"github.com/kvobj/udb/pkg/index"
	"github.com/kvobj/udb/pkg/schema"
	"github.com/kvobj/udb/pkg/store"
)

type attrKey struct {
	OID  uint32
	Atom uint32
}

type queKey struct {
	OID uint32
	Nr  uint32
}

// mapEntry is one buffered structured/extended-map write; Del marks a
// buffered delete, drained as a row removal at commit.
type mapEntry struct {
	Table string // MAPTable or OIXTable
	Key   []byte
	Value cell.Cell
	Del   bool
}

// Transaction is the write buffer: every mutation an application makes
// is staged here and applied to the Store only at Commit, as one atomic
// batch.
type Transaction struct {
	db *Database

	changes map[attrKey]cell.Cell
	queue   map[queKey]cell.Cell
	queCounters map[uint32]uint32
	mapBuf  map[string]mapEntry // keyed by Table+string(Key)

	notify     []UpdateInfo
	uuidCache  map[uuid.UUID]uint32
	commitLock bool

	// individualNotify controls whether each buffered change is replayed
	// to synchronous observers ahead of the commit; when false, they see
	// only the bare PreCommit marker.
	individualNotify bool

	lockedOIDs map[uint32]bool
	deletes    map[uint32]bool

	done bool // committed or rolled back; further use panics like a dangling handle
}

func newTransaction(db *Database) *Transaction {
	return &Transaction{
		db:               db,
		individualNotify: true,
		changes:     make(map[attrKey]cell.Cell),
		queue:       make(map[queKey]cell.Cell),
		queCounters: make(map[uint32]uint32),
		mapBuf:      make(map[string]mapEntry),
		uuidCache:   make(map[uuid.UUID]uint32),
		lockedOIDs:  make(map[uint32]bool),
		deletes:     make(map[uint32]bool),
	}
}

// SetIndividualNotify controls whether synchronous observers receive
// each buffered change individually ahead of the commit, or only the
// batched PreCommit marker.
func (tx *Transaction) SetIndividualNotify(on bool) { tx.individualNotify = on }

func (tx *Transaction) checkLock(oid uint32) error {
	tx.db.mu.Lock()
	defer tx.db.mu.Unlock()
	if err := tx.db.checkLock(oid, tx); err != nil {
		return err
	}
	tx.lockedOIDs[oid] = true
	return nil
}

// Create allocates a fresh OID, buffers its type attribute (always
// written so the object has at least one OBJ row and so appears in the
// Extent even before any user attribute is set), and optionally buffers
// a new v4 UUID binding.
func (tx *Transaction) Create(typ schema.Atom, bindUUID bool) (uint32, error) {
	oid, err := tx.db.allocOID()
	if err != nil {
		return 0, err
	}
	if err := tx.checkLock(oid); err != nil {
		return 0, err
	}
	tx.changes[attrKey{oid, schema.FieldType}] = cell.SetAtom(typ)
	if bindUUID {
		u := uuid.New()
		tx.changes[attrKey{oid, 0}] = cell.SetUUID(u)
		tx.uuidCache[u] = oid
	}
	tx.notify = append(tx.notify, UpdateInfo{Kind: ObjectCreated, OID: oid})
	return oid, nil
}

// GetValue reads atom on oid: the buffered value if present and forceOld
// is false, else the committed value from OBJ (Null if never set).
func (tx *Transaction) GetValue(oid, atom uint32, forceOld bool) cell.Cell {
	if !forceOld {
		if c, ok := tx.changes[attrKey{oid, atom}]; ok {
			return c
		}
	}
	tbl := tx.db.store.Table(OBJTable)
	v, ok := tbl.Get(objAttrKey(oid, atom))
	if !ok {
		return cell.Null()
	}
	c, _, err := cell.ReadCell(v)
	if err != nil {
		return cell.Null()
	}
	return c
}

// setValue buffers a write of atom on oid. internal allows writes to the
// reserved range (used by aggregation/type-change machinery); ordinary
// callers must go through SetUserValue.
func (tx *Transaction) setValue(oid, atom uint32, c cell.Cell, internal bool) error {
	if tx.deletes[oid] {
		return &uerrors.RecordDeletedError{Oid: oid}
	}
	if !internal && schema.IsReserved(atom) {
		return &uerrors.ReservedNameError{Name: "reserved attribute"}
	}
	if err := tx.checkLock(oid); err != nil {
		return err
	}
	tx.changes[attrKey{oid, atom}] = c
	kind := ValueChanged
	if atom == schema.FieldType {
		kind = TypeChanged
	}
	tx.notify = append(tx.notify, UpdateInfo{Kind: kind, OID: oid})
	return nil
}

// SetUserValue is the public attribute write path; it rejects writes to
// the reserved attribute range.
func (tx *Transaction) SetUserValue(oid, atom uint32, c cell.Cell) error {
	return tx.setValue(oid, atom, c, false)
}

// setReserved writes a reserved-range attribute (FieldParent, FieldType,
// ...); only the aggregation machinery and Obj.SetType use this private
// path.
func (tx *Transaction) setReserved(oid, atom uint32, c cell.Cell) error {
	return tx.setValue(oid, atom, c, true)
}

// getPtr/setPtr read and write a reserved OID-valued pointer attribute
// (FieldParent/FieldPrevObj/.../FieldFirstObj/FieldLastObj), with the
// zero OID standing for "no pointer".
func (tx *Transaction) getPtr(oid, atom uint32) uint32 {
	return tx.GetValue(oid, atom, false).OID()
}

func (tx *Transaction) setPtr(oid, atom, value uint32) error {
	return tx.setReserved(oid, atom, cell.SetOID(value))
}

// IncCounter/DecCounter adjust a UInt32 counter attribute in place,
// buffered exactly like any other attribute write. A never-set counter
// reads as zero; DecCounter saturates at zero.
func (tx *Transaction) IncCounter(oid, atom uint32, delta uint32) (uint32, error) {
	cur := tx.GetValue(oid, atom, false)
	v := uint32(0)
	if !cur.IsNull() {
		v = cur.UInt32()
	}
	v += delta
	if err := tx.SetUserValue(oid, atom, cell.SetUInt32(v)); err != nil {
		return 0, err
	}
	return v, nil
}

func (tx *Transaction) DecCounter(oid, atom uint32, delta uint32) (uint32, error) {
	cur := tx.GetValue(oid, atom, false)
	v := uint32(0)
	if !cur.IsNull() {
		v = cur.UInt32()
	}
	if delta > v {
		v = 0
	} else {
		v -= delta
	}
	if err := tx.SetUserValue(oid, atom, cell.SetUInt32(v)); err != nil {
		return 0, err
	}
	return v, nil
}

// UsedFields returns the non-reserved atoms stored or buffered for oid.
func (tx *Transaction) UsedFields(oid uint32) []uint32 {
	return tx.fields(oid, false)
}

// AllFields enumerates every stored or buffered atom of oid, reserved
// attributes included; useful for integrity checks and debugging.
func (tx *Transaction) AllFields(oid uint32) []uint32 {
	return tx.fields(oid, true)
}

func (tx *Transaction) fields(oid uint32, includeReserved bool) []uint32 {
	set := make(map[uint32]bool)
	tbl := tx.db.store.Table(OBJTable)
	prefix := oidCell(oid)
	c := store.NewCursor(tbl)
	for ok := c.MoveTo(prefix, true); ok; ok = c.NextWithPrefix(prefix) {
		key := c.Key()
		if len(key) <= len(prefix) {
			continue // bare OID row (counter/UUID binding), not an attribute
		}
		ac, _, err := cell.ReadCell(key[len(prefix):])
		if err != nil {
			continue
		}
		atom := ac.Atom()
		if atom == 0 {
			continue // the UUID/tombstone slot, not a user attribute
		}
		if !includeReserved && schema.IsReserved(atom) {
			continue
		}
		set[atom] = true
	}
	for k := range tx.changes {
		if k.OID != oid || k.Atom == 0 {
			continue
		}
		if !includeReserved && schema.IsReserved(k.Atom) {
			continue
		}
		set[k.Atom] = true
	}
	out := make([]uint32, 0, len(set))
	for a := range set {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// UUID returns oid's bound UUID, creating one if absent and create is
// true.
func (tx *Transaction) UUID(oid uint32, create bool) (uuid.UUID, error) {
	if c, ok := tx.changes[attrKey{oid, 0}]; ok && c.Type() == cell.TypeUUID {
		return c.UUID(), nil
	}
	tbl := tx.db.store.Table(OBJTable)
	if v, ok := tbl.Get(objBareKey(oid)); ok {
		c, _, err := cell.ReadCell(v)
		if err == nil && c.Type() == cell.TypeUUID {
			return c.UUID(), nil
		}
	}
	if !create {
		return uuid.UUID{}, nil
	}
	if tx.deletes[oid] {
		return uuid.UUID{}, &uerrors.RecordDeletedError{Oid: oid}
	}
	u := uuid.New()
	if err := tx.checkLock(oid); err != nil {
		return uuid.UUID{}, err
	}
	tx.changes[attrKey{oid, 0}] = cell.SetUUID(u)
	tx.uuidCache[u] = oid
	return u, nil
}

// eraseOne tombstones oid: subsequent writes to it in this transaction
// fail with RecordDeleted, commit will delete all of its rows, and any
// queue/map writes already buffered for it are dropped so the commit
// drain can't resurrect rows the erase just purged.
func (tx *Transaction) eraseOne(oid uint32) error {
	if err := tx.checkLock(oid); err != nil {
		return err
	}
	tx.deletes[oid] = true
	tx.changes[attrKey{oid, 0}] = cell.Null()

	for k := range tx.queue {
		if k.OID == oid {
			delete(tx.queue, k)
		}
	}
	delete(tx.queCounters, oid)
	mapPfx := MAPTable + string(oidCell(oid))
	oixPfx := OIXTable + string(oidCell(oid))
	for k := range tx.mapBuf {
		if strings.HasPrefix(k, mapPfx) || strings.HasPrefix(k, oixPfx) {
			delete(tx.mapBuf, k)
		}
	}

	tx.notify = append(tx.notify, UpdateInfo{Kind: ObjectErased, OID: oid})
	return nil
}

// AppendSlot buffers a new queue slot for oid, returning its 1-based
// sequence number.
func (tx *Transaction) AppendSlot(oid uint32, c cell.Cell) (uint32, error) {
	if tx.deletes[oid] {
		return 0, &uerrors.RecordDeletedError{Oid: oid}
	}
	if err := tx.checkLock(oid); err != nil {
		return 0, err
	}
	nr, ok := tx.queCounters[oid]
	if !ok {
		tbl := tx.db.store.Table(QUETable)
		if v, ok := tbl.Get(queCounterKey(oid)); ok {
			cc, _, err := cell.ReadCell(v)
			if err == nil {
				nr = cc.Id32()
			}
		}
	}
	nr++
	tx.queCounters[oid] = nr
	tx.queue[queKey{oid, nr}] = c
	tx.notify = append(tx.notify, UpdateInfo{Kind: QueueAdded, OID: oid})
	return nr, nil
}

// SetSlot buffers an overwrite of one existing queue slot, posting
// QueueChanged. Slot 0 addresses the counter and is never writable.
func (tx *Transaction) SetSlot(oid, nr uint32, c cell.Cell) error {
	if nr == 0 {
		return &uerrors.AccessRecordError{Reason: "queue slot 0 addresses the counter"}
	}
	if tx.deletes[oid] {
		return &uerrors.RecordDeletedError{Oid: oid}
	}
	if err := tx.checkLock(oid); err != nil {
		return err
	}
	tx.queue[queKey{oid, nr}] = c
	tx.notify = append(tx.notify, UpdateInfo{Kind: QueueChanged, OID: oid})
	return nil
}

// EraseSlot buffers the removal of one queue slot, leaving a gap; the
// counter is unaffected.
func (tx *Transaction) EraseSlot(oid, nr uint32) error {
	if nr == 0 {
		return &uerrors.AccessRecordError{Reason: "queue slot 0 addresses the counter"}
	}
	if tx.deletes[oid] {
		return &uerrors.RecordDeletedError{Oid: oid}
	}
	if err := tx.checkLock(oid); err != nil {
		return err
	}
	tx.queue[queKey{oid, nr}] = cell.Null()
	tx.notify = append(tx.notify, UpdateInfo{Kind: QueueErased, OID: oid})
	return nil
}

// SetCell buffers a structured-map (MAP table) write; a null cell
// buffers a delete.
func (tx *Transaction) SetCell(oid uint32, fields []cell.Cell, value cell.Cell) error {
	if tx.deletes[oid] {
		return &uerrors.RecordDeletedError{Oid: oid}
	}
	if err := tx.checkLock(oid); err != nil {
		return err
	}
	key := mapKey(oid, fields)
	tx.mapBuf[MAPTable+string(key)] = mapEntry{Table: MAPTable, Key: key, Value: value, Del: value.IsNull()}
	tx.notify = append(tx.notify, UpdateInfo{Kind: MapChanged, OID: oid, Key: key})
	return nil
}

// GetCell reads a structured-map entry, buffer-aware.
func (tx *Transaction) GetCell(oid uint32, fields []cell.Cell) cell.Cell {
	key := mapKey(oid, fields)
	if e, ok := tx.mapBuf[MAPTable+string(key)]; ok {
		if e.Del {
			return cell.Null()
		}
		return e.Value
	}
	tbl := tx.db.store.Table(MAPTable)
	v, ok := tbl.Get(key)
	if !ok {
		return cell.Null()
	}
	c, _, err := cell.ReadCell(v)
	if err != nil {
		return cell.Null()
	}
	return c
}

// SetOIXCell buffers an extended-map (OIX table, raw byte tail) write.
func (tx *Transaction) SetOIXCell(oid uint32, tail []byte, value cell.Cell) error {
	if tx.deletes[oid] {
		return &uerrors.RecordDeletedError{Oid: oid}
	}
	if err := tx.checkLock(oid); err != nil {
		return err
	}
	key := oixKey(oid, tail)
	tx.mapBuf[OIXTable+string(key)] = mapEntry{Table: OIXTable, Key: key, Value: value, Del: value.IsNull()}
	tx.notify = append(tx.notify, UpdateInfo{Kind: OixChanged, OID: oid, Key: key})
	return nil
}

// GetOIXCell reads an extended-map entry, buffer-aware.
func (tx *Transaction) GetOIXCell(oid uint32, tail []byte) cell.Cell {
	key := oixKey(oid, tail)
	if e, ok := tx.mapBuf[OIXTable+string(key)]; ok {
		if e.Del {
			return cell.Null()
		}
		return e.Value
	}
	tbl := tx.db.store.Table(OIXTable)
	v, ok := tbl.Get(key)
	if !ok {
		return cell.Null()
	}
	c, _, err := cell.ReadCell(v)
	if err != nil {
		return cell.Null()
	}
	return c
}

// Rollback discards every buffered change and releases this
// transaction's write locks.
func (tx *Transaction) Rollback() {
	if tx.done {
		return
	}
	tx.done = true
	tx.db.observers.fire([]UpdateInfo{{Kind: PreRollback}})

	tx.db.mu.Lock()
	for oid := range tx.lockedOIDs {
		tx.db.releaseLock(oid, tx)
	}
	tx.db.metrics.Rollbacks.Inc()
	tx.db.mu.Unlock()

	tx.changes = nil
	tx.queue = nil
	tx.mapBuf = nil
	tx.uuidCache = nil

	tx.db.observers.fire([]UpdateInfo{{Kind: Rollback}})
}

// Commit applies every buffered change to the Store as one atomic
// batch: pre-commit notifications, index maintenance, the store write,
// lock release, then post-commit delivery.
func (tx *Transaction) Commit() error {
	if tx.done {
		return &uerrors.CommitTransError{Reason: "transaction already finished"}
	}
	if tx.commitLock {
		return &uerrors.CommitTransError{Reason: "re-entrant commit from a pre-commit observer"}
	}
	tx.commitLock = true
	defer func() { tx.commitLock = false }()

	// Step 1: PreCommit.
	tx.db.observers.fire([]UpdateInfo{{Kind: PreCommit}})
	if tx.individualNotify {
		tx.db.observers.fire(tx.notify)
	}

	muts, err := tx.buildMutations()
	if err != nil {
		return err
	}

	// buildMutations above already computed the row and index writes;
	// Store.Apply writes the whole batch in one critical section.
	if err := tx.db.store.Apply(muts); err != nil {
		return &uerrors.CommitTransError{Reason: err.Error()}
	}

	tx.db.mu.Lock()
	for oid := range tx.lockedOIDs {
		tx.db.releaseLock(oid, tx)
	}
	tx.db.metrics.Commits.Inc()
	tx.db.mu.Unlock()

	tx.done = true
	notify := tx.notify
	tx.changes, tx.queue, tx.mapBuf, tx.uuidCache, tx.notify = nil, nil, nil, nil, nil

	// Step 7/8: decoupled observers after the write completed, then Commit.
	tx.db.observers.fireDecoupled(notify)
	tx.db.observers.fire([]UpdateInfo{{Kind: Commit}})
	return nil
}

// buildMutations turns the buffered changes/queue/map maps and the
// delete list into the ordered batch Store.Apply expects, maintaining
// secondary indices as it goes.
func (tx *Transaction) buildMutations() ([]store.Mutation, error) {
	var muts []store.Mutation

	byOID := make(map[uint32][]attrKey)
	for k := range tx.changes {
		byOID[k.OID] = append(byOID[k.OID], k)
	}
	oids := make([]uint32, 0, len(byOID))
	for oid := range byOID {
		oids = append(oids, oid)
	}
	sort.Slice(oids, func(i, j int) bool { return oids[i] < oids[j] })

	for _, oid := range oids {
		if tx.deletes[oid] {
			ms, err := tx.eraseMutations(oid)
			if err != nil {
				return nil, err
			}
			muts = append(muts, ms...)
			continue
		}
		keys := byOID[oid]
		sort.Slice(keys, func(i, j int) bool { return keys[i].Atom < keys[j].Atom })
		for _, k := range keys {
			newCell := tx.changes[k]
			if k.Atom == 0 {
				if newCell.Type() == cell.TypeUUID {
					muts = append(muts,
						store.Mutation{Table: OBJTable, Key: objBareKey(oid), Value: cell.WriteCell(newCell)},
						store.Mutation{Table: OBJTable, Key: objUUIDRevKey(newCell.UUID()), Value: cellWriteOID(oid)},
					)
				}
				continue
			}
			idxNames := tx.db.idx.FindIndicesForAtom(k.Atom)
			for _, name := range idxNames {
				ms, err := tx.removeFromIndex(name, oid)
				if err != nil {
					return nil, err
				}
				muts = append(muts, ms...)
			}
			muts = append(muts, store.Mutation{Table: OBJTable, Key: objAttrKey(oid, k.Atom), Value: cell.WriteCell(newCell)})
			for _, name := range idxNames {
				ms, err := tx.addToIndex(name, oid)
				if err != nil {
					return nil, err
				}
				muts = append(muts, ms...)
			}
		}
	}

	muts = append(muts, tx.drainQueue()...)
	muts = append(muts, tx.drainMap()...)
	return muts, nil
}

// eraseMutations produces the OBJ/QUE/MAP/OIX deletions and index
// retractions for one erased OID.
func (tx *Transaction) eraseMutations(oid uint32) ([]store.Mutation, error) {
	var muts []store.Mutation
	tbl := tx.db.store.Table(OBJTable)
	prefix := oidCell(oid)
	c := store.NewCursor(tbl)
	for ok := c.MoveTo(prefix, true); ok; ok = c.NextWithPrefix(prefix) {
		key := append([]byte(nil), c.Key()...)
		muts = append(muts, store.Mutation{Table: OBJTable, Key: key, Del: true})
		if len(key) > len(prefix) {
			ac, _, err := cell.ReadCell(key[len(prefix):])
			if err == nil && ac.Atom() != 0 {
				for _, name := range tx.db.idx.FindIndicesForAtom(ac.Atom()) {
					ms, err := tx.removeFromIndex(name, oid)
					if err != nil {
						return nil, err
					}
					muts = append(muts, ms...)
				}
			}
		}
	}
	if v, ok := tbl.Get(objBareKey(oid)); ok {
		if uc, _, err := cell.ReadCell(v); err == nil && uc.Type() == cell.TypeUUID {
			muts = append(muts, store.Mutation{Table: OBJTable, Key: objUUIDRevKey(uc.UUID()), Del: true})
		}
	}

	quTbl := tx.db.store.Table(QUETable)
	qc := store.NewCursor(quTbl)
	for ok := qc.MoveTo(prefix, true); ok; ok = qc.NextWithPrefix(prefix) {
		muts = append(muts, store.Mutation{Table: QUETable, Key: append([]byte(nil), qc.Key()...), Del: true})
	}

	for _, tname := range []string{MAPTable, OIXTable} {
		mt := tx.db.store.Table(tname)
		mc := store.NewCursor(mt)
		for ok := mc.MoveTo(prefix, true); ok; ok = mc.NextWithPrefix(prefix) {
			muts = append(muts, store.Mutation{Table: tname, Key: append([]byte(nil), mc.Key()...), Del: true})
		}
	}
	return muts, nil
}

func (tx *Transaction) drainQueue() []store.Mutation {
	var muts []store.Mutation
	for oid, nr := range tx.queCounters {
		muts = append(muts, store.Mutation{Table: QUETable, Key: queCounterKey(oid), Value: cell.WriteCell(cell.SetId32(nr))})
	}
	for k, c := range tx.queue {
		if c.IsNull() {
			muts = append(muts, store.Mutation{Table: QUETable, Key: queSlotKey(k.OID, k.Nr), Del: true})
		} else {
			muts = append(muts, store.Mutation{Table: QUETable, Key: queSlotKey(k.OID, k.Nr), Value: cell.WriteCell(c)})
		}
	}
	return muts
}

func (tx *Transaction) drainMap() []store.Mutation {
	var muts []store.Mutation
	for _, e := range tx.mapBuf {
		if e.Del {
			muts = append(muts, store.Mutation{Table: e.Table, Key: e.Key, Del: true})
		} else {
			muts = append(muts, store.Mutation{Table: e.Table, Key: e.Key, Value: cell.WriteCell(e.Value)})
		}
	}
	return muts
}

// valueGetter resolves the post-change value of atom for oid during
// index maintenance: reads committed values for atoms not touched this
// transaction, buffered values for ones that are.
func (tx *Transaction) valueGetter() index.ValueGetter {
	return func(oid, atom uint32) cell.Cell {
		return tx.GetValue(oid, atom, false)
	}
}

// removeFromIndex resolves the index entry key as it stood before this
// transaction's changes and returns the mutation that retracts it, rather
// than touching the index tree directly, so the retraction rides the same
// WAL-logged Store.Apply batch as every other write this commit makes.
func (tx *Transaction) removeFromIndex(name string, oid uint32) ([]store.Mutation, error) {
	meta, err := tx.db.idx.Lookup(name)
	if err != nil {
		return nil, err
	}
	table := tx.db.idx.Table(name)
	key, ok := index.BuildKey(meta, oid, func(o, a uint32) cell.Cell { return tx.GetValue(o, a, true) })
	if !ok {
		return nil, nil
	}
	if meta.Kind == index.KindUnique {
		tree := tx.db.store.Table(table)
		v, found := tree.Get(key)
		if !found {
			return nil, nil
		}
		oc, _, err := cell.ReadCell(v)
		if err != nil || oc.OID() != oid {
			return nil, nil
		}
	}
	return []store.Mutation{{Table: table, Key: key, Del: true}}, nil
}

func (tx *Transaction) addToIndex(name string, oid uint32) ([]store.Mutation, error) {
	meta, err := tx.db.idx.Lookup(name)
	if err != nil {
		return nil, err
	}
	key, ok := index.BuildKey(meta, oid, tx.valueGetter())
	if !ok {
		return nil, nil
	}
	table := tx.db.idx.Table(name)
	if meta.Kind == index.KindUnique {
		tree := tx.db.store.Table(table)
		if v, exists := tree.Get(key); exists {
			oc, _, rerr := cell.ReadCell(v)
			if rerr == nil && oc.OID() != oid {
				return nil, nil // first-writer-wins: another object's entry stays
			}
			// Our own entry: re-insert so a paired retraction earlier in
			// this batch doesn't leave the key missing.
		}
	}
	return []store.Mutation{{Table: table, Key: key, Value: cellWriteOID(oid)}}, nil
}
