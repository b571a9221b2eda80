package index

import (
	"bytes"

	"github.com/kvobj/udb/pkg/cell"
	"github.com/kvobj/udb/pkg/store"
)

// Idx is the value-typed cursor over one index's table:
// seek/first_key/next_key/prev_key restrict traversal to the seeked
// prefix, next/prev traverse unrestricted, get_oid reads the value at
// the current position.
type Idx struct {
	tree   *store.Tree
	meta   IndexMeta
	cursor *store.Cursor
	prefix []byte
}

// NewIdx opens a cursor over idxTree governed by meta.
func NewIdx(idxTree *store.Tree, meta IndexMeta) *Idx {
	return &Idx{tree: idxTree, meta: meta, cursor: store.NewCursor(idxTree)}
}

// Seek encodes the given leading field values (at most len(meta.Items))
// and partial-positions on the smallest key with that prefix.
func (x *Idx) Seek(values ...cell.Cell) bool {
	var key []byte
	for i, v := range values {
		if i >= len(x.meta.Items) {
			break
		}
		key = append(key, fieldBytes(x.meta.Items[i], v)...)
	}
	x.prefix = key
	return x.cursor.MoveTo(key, true)
}

// FirstKey positions on the smallest key of the last-seeked prefix.
func (x *Idx) FirstKey() bool { return x.cursor.MoveTo(x.prefix, true) }

// LastKey positions on the largest key still matching the last-seeked
// prefix, by descending to the tree end and walking backward.
func (x *Idx) LastKey() bool {
	if !x.cursor.MoveLast() {
		return false
	}
	for x.cursor.Valid() && bytes.Compare(x.cursor.Key(), x.prefix) > 0 && !bytes.HasPrefix(x.cursor.Key(), x.prefix) {
		if !x.cursor.MovePrev() {
			return false
		}
	}
	return x.cursor.Valid() && bytes.HasPrefix(x.cursor.Key(), x.prefix)
}

// NextKey advances within the last-seeked prefix restriction.
func (x *Idx) NextKey() bool { return x.cursor.NextWithPrefix(x.prefix) }

// PrevKey steps backward within the last-seeked prefix restriction.
func (x *Idx) PrevKey() bool { return x.cursor.PrevWithPrefix(x.prefix) }

// Next traverses unrestricted by any prefix.
func (x *Idx) Next() bool { return x.cursor.Next() }

// Prev traverses unrestricted by any prefix.
func (x *Idx) Prev() bool { return x.cursor.MovePrev() }

// Valid reports whether the cursor currently sits on an entry.
func (x *Idx) Valid() bool { return x.cursor.Valid() }

// GetOID reads the OID stored at the current position.
func (x *Idx) GetOID() (uint32, bool) {
	if !x.cursor.Valid() {
		return 0, false
	}
	c, _, err := cell.ReadCell(x.cursor.Value())
	if err != nil {
		return 0, false
	}
	return c.OID(), true
}

// Range walks every oid whose key matches the prefix built from values,
// in ascending key order, calling fn for each. It stops early if fn
// returns false. This is an ordered-cursor convenience over Idx, not a
// general query language.
func Range(idxTree *store.Tree, meta IndexMeta, fn func(oid uint32) bool, values ...cell.Cell) {
	x := NewIdx(idxTree, meta)
	if !x.Seek(values...) {
		return
	}
	for x.Valid() {
		oid, ok := x.GetOID()
		if !ok {
			return
		}
		if !fn(oid) {
			return
		}
		if !x.NextKey() {
			return
		}
	}
}

