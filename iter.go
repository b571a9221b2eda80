package udb

import (
	"github.com/kvobj/udb/pkg/cell"
	"github.com/kvobj/udb/pkg/store"
)

// Extent iterates the set of all OIDs with at least one row in OBJ. It
// reads directly from the Store and never sees an open transaction's
// buffer.
type Extent struct {
	db      *Database
	cursor  *store.Cursor
	lastOID uint32
	valid   bool
}

func NewExtent(db *Database) *Extent {
	return &Extent{db: db, cursor: store.NewCursor(db.store.Table(OBJTable))}
}

// First positions on the smallest live OID.
func (e *Extent) First() bool {
	e.lastOID = 0
	if !e.cursor.MoveFirst() {
		e.valid = false
		return false
	}
	return e.advance(true)
}

// Next positions on the next live OID strictly greater than the current
// one.
func (e *Extent) Next() bool {
	if !e.valid {
		return false
	}
	if !e.cursor.Next() {
		e.valid = false
		return false
	}
	return e.advance(false)
}

// advance skips forward past every remaining row of e.lastOID (when
// fresh is false) and every row tagged something other than OID, landing
// on the next distinct OID prefix.
func (e *Extent) advance(fresh bool) bool {
	for {
		key := e.cursor.Key()
		if len(key) == 0 || key[0] != byte(cell.TypeOID) {
			if !e.cursor.Next() {
				e.valid = false
				return false
			}
			continue
		}
		c, _, err := cell.ReadCell(key)
		if err != nil {
			if !e.cursor.Next() {
				e.valid = false
				return false
			}
			continue
		}
		oid := c.OID()
		if oid == 0 || (!fresh && oid == e.lastOID) {
			if !e.cursor.Next() {
				e.valid = false
				return false
			}
			continue
		}
		e.lastOID = oid
		e.valid = true
		return true
	}
}

// OID returns the currently positioned live OID.
func (e *Extent) OID() uint32 { return e.lastOID }

// Qit iterates the queue slots of one OID, restricted to the slot range
// (nr != 0, the counter's own address).
type Qit struct {
	tx     *Transaction
	oid    uint32
	cursor *store.Cursor
	prefix []byte
	nr     uint32
}

func NewQit(tx *Transaction, oid uint32) *Qit {
	return &Qit{tx: tx, oid: oid, cursor: store.NewCursor(tx.db.store.Table(QUETable)), prefix: queCounterKey(oid)}
}

func (q *Qit) First() bool { return q.advance(q.cursor.MoveTo(q.prefix, true)) }
func (q *Qit) Next() bool  { return q.advance(q.cursor.NextWithPrefix(q.prefix)) }

// Last positions on the highest slot number still present; erased slots
// leave gaps, so this is not simply the counter.
func (q *Qit) Last() bool {
	ok := q.cursor.MoveLast()
	for ok {
		key := q.cursor.Key()
		if len(key) > len(q.prefix) && bytesHasPrefix(key, q.prefix) {
			break
		}
		if !bytesHasPrefix(key, q.prefix) && key != nil && string(key) < string(q.prefix) {
			ok = false
			break
		}
		ok = q.cursor.MovePrev()
	}
	return q.advance(ok)
}

func (q *Qit) advance(ok bool) bool {
	for ok {
		key := q.cursor.Key()
		if len(key) <= len(q.prefix) {
			ok = q.cursor.NextWithPrefix(q.prefix)
			continue
		}
		nc, _, err := cell.ReadCell(key[len(q.prefix):])
		if err != nil {
			ok = q.cursor.NextWithPrefix(q.prefix)
			continue
		}
		q.nr = nc.Id32()
		return true
	}
	return false
}

func (q *Qit) Nr() uint32        { return q.nr }
func (q *Qit) Value() cell.Cell {
	v, _, err := cell.ReadCell(q.cursor.Value())
	if err != nil {
		return cell.Null()
	}
	return v
}

func bytesHasPrefix(b, prefix []byte) bool {
	if len(b) < len(prefix) {
		return false
	}
	for i := range prefix {
		if b[i] != prefix[i] {
			return false
		}
	}
	return true
}

// Mit iterates structured-map entries for one OID.
type Mit struct {
	oid    uint32
	cursor *store.Cursor
	prefix []byte
}

func NewMit(tx *Transaction, oid uint32) *Mit {
	return &Mit{oid: oid, cursor: store.NewCursor(tx.db.store.Table(MAPTable)), prefix: mapKeyPrefix(oid)}
}

func (m *Mit) First() bool { return m.cursor.MoveTo(m.prefix, true) }
func (m *Mit) Next() bool  { return m.cursor.NextWithPrefix(m.prefix) }
func (m *Mit) Value() cell.Cell {
	v, _, err := cell.ReadCell(m.cursor.Value())
	if err != nil {
		return cell.Null()
	}
	return v
}
func (m *Mit) RawKey() []byte { return m.cursor.Key() }

// Xit iterates extended-map (OIX) entries for one OID, optionally
// restricted to a caller-chosen byte-tail prefix.
type Xit struct {
	oid    uint32
	cursor *store.Cursor
	prefix []byte
}

func NewXit(tx *Transaction, oid uint32, tailPrefix []byte) *Xit {
	prefix := oixKey(oid, tailPrefix)
	return &Xit{oid: oid, cursor: store.NewCursor(tx.db.store.Table(OIXTable)), prefix: prefix}
}

func (x *Xit) First() bool { return x.cursor.MoveTo(x.prefix, true) }
func (x *Xit) Next() bool  { return x.cursor.NextWithPrefix(x.prefix) }
func (x *Xit) Value() cell.Cell {
	v, _, err := cell.ReadCell(x.cursor.Value())
	if err != nil {
		return cell.Null()
	}
	return v
}
func (x *Xit) Tail() []byte {
	k := x.cursor.Key()
	prefixLen := len(oidCell(x.oid))
	if len(k) < prefixLen {
		return nil
	}
	return k[prefixLen:]
}
