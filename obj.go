package udb

import (
	"github.com/google/uuid"

	"github.com/kvobj/udb/pkg/cell"
	uerrors "github.com/kvobj/udb/pkg/errors"
	"github.com/kvobj/udb/pkg/schema"
)

// Obj is a handle to one object within the scope of a Transaction,
// bundling the attribute/aggregation/queue/map operations behind the
// object's OID.
type Obj struct {
	tx  *Transaction
	oid uint32
}

// NewObj returns a handle for an existing OID within tx. It does not
// verify the object exists; reads of a nonexistent object simply yield
// nulls.
func NewObj(tx *Transaction, oid uint32) *Obj { return &Obj{tx: tx, oid: oid} }

// CreateObj allocates a new object of the given type, optionally binding
// a fresh UUID.
func CreateObj(tx *Transaction, typ schema.Atom, bindUUID bool) (*Obj, error) {
	oid, err := tx.Create(typ, bindUUID)
	if err != nil {
		return nil, err
	}
	return &Obj{tx: tx, oid: oid}, nil
}

func (o *Obj) OID() uint32 { return o.oid }

func (o *Obj) Value(atom uint32) cell.Cell               { return o.tx.GetValue(o.oid, atom, false) }
func (o *Obj) ValueForceOld(atom uint32) cell.Cell        { return o.tx.GetValue(o.oid, atom, true) }
func (o *Obj) SetValue(atom uint32, c cell.Cell) error    { return o.tx.SetUserValue(o.oid, atom, c) }
func (o *Obj) IncCounter(atom uint32, by uint32) (uint32, error) { return o.tx.IncCounter(o.oid, atom, by) }
func (o *Obj) DecCounter(atom uint32, by uint32) (uint32, error) { return o.tx.DecCounter(o.oid, atom, by) }
func (o *Obj) UsedFields() []uint32                      { return o.tx.UsedFields(o.oid) }
func (o *Obj) AllFields() []uint32                        { return o.tx.AllFields(o.oid) }

// Type returns the object's FieldType attribute (0 if never set).
func (o *Obj) Type() uint32 { return o.tx.getPtr(o.oid, schema.FieldType) }

// SetType changes the object's type, posting TypeChanged. Index entries
// over the type attribute are not automatically invalidated by this
// call.
func (o *Obj) SetType(typ uint32) error { return o.tx.setReserved(o.oid, schema.FieldType, cell.SetAtom(typ)) }

// UUID returns the object's bound UUID, generating one if absent and
// create is true.
func (o *Obj) UUID(create bool) (uuid.UUID, error) { return o.tx.UUID(o.oid, create) }

func (o *Obj) Parent() uint32 { return o.tx.getPtr(o.oid, schema.FieldParent) }

// AggregateTo links o as a child of parent, directly before the sibling
// `before` (or appended at the end when before is 0). It first
// deaggregates o from wherever it currently sits.
func (o *Obj) AggregateTo(parent, before uint32) error {
	if err := o.Deaggregate(); err != nil {
		return err
	}
	if parent == 0 {
		return nil
	}

	if before == 0 {
		last := o.tx.getPtr(parent, schema.FieldLastObj)
		if last == 0 {
			if err := o.tx.setPtr(parent, schema.FieldFirstObj, o.oid); err != nil {
				return err
			}
		} else {
			if err := o.tx.setPtr(last, schema.FieldNextObj, o.oid); err != nil {
				return err
			}
			if err := o.tx.setPtr(o.oid, schema.FieldPrevObj, last); err != nil {
				return err
			}
		}
		if err := o.tx.setPtr(parent, schema.FieldLastObj, o.oid); err != nil {
			return err
		}
	} else {
		if o.tx.getPtr(before, schema.FieldParent) != parent {
			return &uerrors.WrongContextError{Reason: "before is not a child of parent"}
		}
		prev := o.tx.getPtr(before, schema.FieldPrevObj)
		if err := o.tx.setPtr(o.oid, schema.FieldNextObj, before); err != nil {
			return err
		}
		if err := o.tx.setPtr(o.oid, schema.FieldPrevObj, prev); err != nil {
			return err
		}
		if err := o.tx.setPtr(before, schema.FieldPrevObj, o.oid); err != nil {
			return err
		}
		if prev == 0 {
			if err := o.tx.setPtr(parent, schema.FieldFirstObj, o.oid); err != nil {
				return err
			}
		} else {
			if err := o.tx.setPtr(prev, schema.FieldNextObj, o.oid); err != nil {
				return err
			}
		}
	}

	if err := o.tx.setPtr(o.oid, schema.FieldParent, parent); err != nil {
		return err
	}
	o.tx.notify = append(o.tx.notify, UpdateInfo{Kind: Aggregated, OID: o.oid, Parent: parent, Before: before})
	return nil
}

// Deaggregate detaches o from its current parent's sibling chain, if any.
func (o *Obj) Deaggregate() error {
	parent := o.tx.getPtr(o.oid, schema.FieldParent)
	if parent == 0 {
		return nil
	}
	prev := o.tx.getPtr(o.oid, schema.FieldPrevObj)
	next := o.tx.getPtr(o.oid, schema.FieldNextObj)

	if prev != 0 {
		if err := o.tx.setPtr(prev, schema.FieldNextObj, next); err != nil {
			return err
		}
	} else if err := o.tx.setPtr(parent, schema.FieldFirstObj, next); err != nil {
		return err
	}

	if next != 0 {
		if err := o.tx.setPtr(next, schema.FieldPrevObj, prev); err != nil {
			return err
		}
	} else if err := o.tx.setPtr(parent, schema.FieldLastObj, prev); err != nil {
		return err
	}

	if err := o.tx.setPtr(o.oid, schema.FieldParent, 0); err != nil {
		return err
	}
	if err := o.tx.setPtr(o.oid, schema.FieldPrevObj, 0); err != nil {
		return err
	}
	if err := o.tx.setPtr(o.oid, schema.FieldNextObj, 0); err != nil {
		return err
	}
	o.tx.notify = append(o.tx.notify, UpdateInfo{Kind: Deaggregated, OID: o.oid, Parent: parent})
	return nil
}

func (o *Obj) FirstChild() uint32 { return o.tx.getPtr(o.oid, schema.FieldFirstObj) }
func (o *Obj) LastChild() uint32  { return o.tx.getPtr(o.oid, schema.FieldLastObj) }
func (o *Obj) Next() uint32       { return o.tx.getPtr(o.oid, schema.FieldNextObj) }
func (o *Obj) Prev() uint32       { return o.tx.getPtr(o.oid, schema.FieldPrevObj) }

// Erase recursively erases every aggregated child (reading the sibling
// list fresh at each step, since an erased child's Next pointer is no
// longer readable after it is tombstoned), then detaches and tombstones
// o itself.
func (o *Obj) Erase() error {
	child := o.FirstChild()
	for child != 0 {
		childObj := NewObj(o.tx, child)
		next := childObj.Next()
		if err := childObj.Erase(); err != nil {
			return err
		}
		child = next
	}
	if err := o.Deaggregate(); err != nil {
		return err
	}
	return o.tx.eraseOne(o.oid)
}

// AppendSlot adds a queue element, returning its sequence number.
func (o *Obj) AppendSlot(c cell.Cell) (uint32, error) { return o.tx.AppendSlot(o.oid, c) }

// SetSlot overwrites one existing queue element in place.
func (o *Obj) SetSlot(nr uint32, c cell.Cell) error { return o.tx.SetSlot(o.oid, nr, c) }

// EraseSlot removes one queue element, leaving a gap.
func (o *Obj) EraseSlot(nr uint32) error { return o.tx.EraseSlot(o.oid, nr) }

// SetCell/GetCell address the structured sparse map (MAP table).
func (o *Obj) SetCell(fields []cell.Cell, value cell.Cell) error { return o.tx.SetCell(o.oid, fields, value) }
func (o *Obj) GetCell(fields []cell.Cell) cell.Cell              { return o.tx.GetCell(o.oid, fields) }

// SetOIXCell/GetOIXCell address the extended sparse map (OIX table).
func (o *Obj) SetOIXCell(tail []byte, value cell.Cell) error { return o.tx.SetOIXCell(o.oid, tail, value) }
func (o *Obj) GetOIXCell(tail []byte) cell.Cell               { return o.tx.GetOIXCell(o.oid, tail) }
