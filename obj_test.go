package udb

import (
	"testing"

	"github.com/kvobj/udb/pkg/cell"
)

// Inserting an already-linked child in the middle of its own chain must
// relink rather than duplicate it.
func TestAggregationInsertMiddle(t *testing.T) {
	db := openTestDB(t)
	tx := db.Begin()

	p, err := CreateObj(tx, 0, false)
	if err != nil {
		t.Fatalf("CreateObj parent: %v", err)
	}
	a, _ := CreateObj(tx, 0, false)
	b, _ := CreateObj(tx, 0, false)
	c, _ := CreateObj(tx, 0, false)

	if err := a.AggregateTo(p.OID(), 0); err != nil {
		t.Fatalf("a.AggregateTo: %v", err)
	}
	if err := b.AggregateTo(p.OID(), 0); err != nil {
		t.Fatalf("b.AggregateTo: %v", err)
	}
	if err := c.AggregateTo(p.OID(), 0); err != nil {
		t.Fatalf("c.AggregateTo: %v", err)
	}
	// chain is now A,B,C

	if err := a.AggregateTo(p.OID(), c.OID()); err != nil {
		t.Fatalf("a.AggregateTo(before=c): %v", err)
	}

	if got := p.FirstChild(); got != b.OID() {
		t.Fatalf("First = %d, want B(%d)", got, b.OID())
	}
	if got := p.LastChild(); got != c.OID() {
		t.Fatalf("Last = %d, want C(%d)", got, c.OID())
	}
	// walk the chain: B, A, C
	order := []uint32{p.FirstChild()}
	for cur := order[0]; ; {
		next := NewObj(tx, cur).Next()
		if next == 0 {
			break
		}
		order = append(order, next)
		cur = next
	}
	want := []uint32{b.OID(), a.OID(), c.OID()}
	if len(order) != len(want) {
		t.Fatalf("chain = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("chain = %v, want %v", order, want)
		}
	}
	if NewObj(tx, a.OID()).Parent() != p.OID() {
		t.Fatalf("A.Parent != P after insert-middle")
	}

	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
}

func TestAggregateToWrongContextBefore(t *testing.T) {
	db := openTestDB(t)
	tx := db.Begin()
	p1, _ := CreateObj(tx, 0, false)
	p2, _ := CreateObj(tx, 0, false)
	a, _ := CreateObj(tx, 0, false)
	b, _ := CreateObj(tx, 0, false)

	if err := a.AggregateTo(p1.OID(), 0); err != nil {
		t.Fatalf("a.AggregateTo: %v", err)
	}
	if err := b.AggregateTo(p2.OID(), 0); err != nil {
		t.Fatalf("b.AggregateTo: %v", err)
	}
	// b lives under p2; trying to insert a before b under p1 is wrong context.
	if err := a.AggregateTo(p1.OID(), b.OID()); err == nil {
		t.Fatalf("AggregateTo with before belonging to a different parent succeeded")
	}
	tx.Rollback()
}

// Erasing a parent recursively erases every aggregated descendant and
// purges their attribute, queue and index rows.
func TestErasePropagation(t *testing.T) {
	db := openTestDB(t)
	tx := db.Begin()

	p, _ := CreateObj(tx, 0, false)
	a, _ := CreateObj(tx, 0, true)
	a1, _ := CreateObj(tx, 0, false)
	a2, _ := CreateObj(tx, 0, false)
	b, _ := CreateObj(tx, 0, false)

	if err := a.AggregateTo(p.OID(), 0); err != nil {
		t.Fatalf("a.AggregateTo: %v", err)
	}
	if err := b.AggregateTo(p.OID(), 0); err != nil {
		t.Fatalf("b.AggregateTo: %v", err)
	}
	if err := a1.AggregateTo(a.OID(), 0); err != nil {
		t.Fatalf("a1.AggregateTo: %v", err)
	}
	if err := a2.AggregateTo(a.OID(), 0); err != nil {
		t.Fatalf("a2.AggregateTo: %v", err)
	}

	attr, _ := db.Intern("X")
	if err := a1.SetValue(attr, cell.SetUInt32(1)); err != nil {
		t.Fatalf("SetValue: %v", err)
	}
	if _, err := a.AppendSlot(cell.SetUInt32(9)); err != nil {
		t.Fatalf("AppendSlot: %v", err)
	}

	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit setup: %v", err)
	}

	tx2 := db.Begin()
	if err := NewObj(tx2, p.OID()).Erase(); err != nil {
		t.Fatalf("Erase: %v", err)
	}
	if err := tx2.Commit(); err != nil {
		t.Fatalf("Commit erase: %v", err)
	}

	erased := map[uint32]bool{p.OID(): true, a.OID(): true, a1.OID(): true, a2.OID(): true, b.OID(): true}
	e := NewExtent(db)
	for ok := e.First(); ok; ok = e.Next() {
		if erased[e.OID()] {
			t.Fatalf("Extent still contains erased OID %d", e.OID())
		}
	}

	tx3 := db.Begin()
	if v := tx3.GetValue(a1.OID(), attr, true); !v.IsNull() {
		t.Fatalf("erased object's attribute still readable from store: %+v", v)
	}
	if NewQit(tx3, a.OID()).First() {
		t.Fatalf("erased object's queue slots still present")
	}
	tx3.Rollback()
}

// Erased slots leave gaps; the counter never rewinds.
func TestQueueOrderingWithGap(t *testing.T) {
	db := openTestDB(t)
	tx := db.Begin()
	oid, _ := tx.Create(0, false)

	n1, err := tx.AppendSlot(oid, cell.SetUInt32(10))
	if err != nil || n1 != 1 {
		t.Fatalf("AppendSlot #1 = %d, %v, want 1", n1, err)
	}
	n2, err := tx.AppendSlot(oid, cell.SetUInt32(20))
	if err != nil || n2 != 2 {
		t.Fatalf("AppendSlot #2 = %d, %v, want 2", n2, err)
	}
	n3, err := tx.AppendSlot(oid, cell.SetUInt32(30))
	if err != nil || n3 != 3 {
		t.Fatalf("AppendSlot #3 = %d, %v, want 3", n3, err)
	}
	if err := tx.EraseSlot(oid, n2); err != nil {
		t.Fatalf("EraseSlot: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	tx2 := db.Begin()
	qit := NewQit(tx2, oid)
	var nrs []uint32
	for ok := qit.First(); ok; ok = qit.Next() {
		nrs = append(nrs, qit.Nr())
	}
	if len(nrs) != 2 || nrs[0] != 1 || nrs[1] != 3 {
		t.Fatalf("queue iteration = %v, want [1 3]", nrs)
	}
	if !qit.Last() || qit.Nr() != 3 {
		t.Fatalf("Last() = %d, want 3", qit.Nr())
	}

	n4, err := tx2.AppendSlot(oid, cell.SetUInt32(40))
	if err != nil || n4 != 4 {
		t.Fatalf("AppendSlot after gap = %d, %v, want 4 (counter unaffected by erase)", n4, err)
	}
	tx2.Rollback()
}

func TestSetSlotOverwritesInPlace(t *testing.T) {
	db := openTestDB(t)
	tx := db.Begin()
	oid, _ := tx.Create(0, false)
	nr, err := tx.AppendSlot(oid, cell.SetUInt32(10))
	if err != nil {
		t.Fatalf("AppendSlot: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	tx2 := db.Begin()
	if err := tx2.SetSlot(oid, nr, cell.SetUInt32(99)); err != nil {
		t.Fatalf("SetSlot: %v", err)
	}
	if err := tx2.SetSlot(oid, 0, cell.SetUInt32(1)); err == nil {
		t.Fatalf("SetSlot(0) succeeded; slot 0 addresses the counter")
	}
	if err := tx2.Commit(); err != nil {
		t.Fatalf("Commit SetSlot: %v", err)
	}

	tx3 := db.Begin()
	qit := NewQit(tx3, oid)
	if !qit.First() || qit.Nr() != nr {
		t.Fatalf("queue iteration lost the overwritten slot")
	}
	if got := qit.Value(); got.UInt32() != 99 {
		t.Fatalf("slot value after SetSlot = %v, want 99", got.UInt32())
	}
	if n2, err := tx3.AppendSlot(oid, cell.SetUInt32(11)); err != nil || n2 != nr+1 {
		t.Fatalf("AppendSlot after SetSlot = %d, %v, want %d", n2, err, nr+1)
	}
	tx3.Rollback()
}

// Buffered queue/map writes for an OID erased later in the same
// transaction must not resurrect rows the erase purged, and further
// writes to the erased OID must fail.
func TestEraseDropsBufferedWritesAndRejectsNewOnes(t *testing.T) {
	db := openTestDB(t)
	tx := db.Begin()
	oid, _ := tx.Create(0, false)
	if _, err := tx.AppendSlot(oid, cell.SetUInt32(1)); err != nil {
		t.Fatalf("AppendSlot: %v", err)
	}
	if err := tx.SetCell(oid, []cell.Cell{cell.SetString("k")}, cell.SetUInt32(2)); err != nil {
		t.Fatalf("SetCell: %v", err)
	}
	if err := NewObj(tx, oid).Erase(); err != nil {
		t.Fatalf("Erase: %v", err)
	}

	if _, err := tx.AppendSlot(oid, cell.SetUInt32(3)); err == nil {
		t.Fatalf("AppendSlot on erased OID succeeded")
	}
	if err := tx.SetCell(oid, []cell.Cell{cell.SetString("k2")}, cell.SetUInt32(4)); err == nil {
		t.Fatalf("SetCell on erased OID succeeded")
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	tx2 := db.Begin()
	if NewQit(tx2, oid).First() {
		t.Fatalf("buffered queue slot survived erase")
	}
	if NewMit(tx2, oid).First() {
		t.Fatalf("buffered map entry survived erase")
	}
	tx2.Rollback()
}

func TestDeaggregateRestoresDetachedState(t *testing.T) {
	db := openTestDB(t)
	tx := db.Begin()
	p, _ := CreateObj(tx, 0, false)
	a, _ := CreateObj(tx, 0, false)

	if err := a.AggregateTo(p.OID(), 0); err != nil {
		t.Fatalf("AggregateTo: %v", err)
	}
	if err := a.Deaggregate(); err != nil {
		t.Fatalf("Deaggregate: %v", err)
	}
	if a.Parent() != 0 {
		t.Fatalf("Parent after Deaggregate = %d, want 0", a.Parent())
	}
	if p.FirstChild() != 0 || p.LastChild() != 0 {
		t.Fatalf("parent still references detached child: first=%d last=%d", p.FirstChild(), p.LastChild())
	}
	tx.Rollback()
}
