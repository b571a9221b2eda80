package udb

import (
	"testing"

	"github.com/kvobj/udb/pkg/cell"
	"github.com/kvobj/udb/pkg/schema"
)

func TestCheckDBRelinksDivergentParent(t *testing.T) {
	db := openTestDB(t)
	tx := db.Begin()
	p, _ := CreateObj(tx, 0, false)
	a, _ := CreateObj(tx, 0, false)
	if err := a.AggregateTo(p.OID(), 0); err != nil {
		t.Fatalf("AggregateTo: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	// Corrupt: detach a from the sibling chain directly (bypassing
	// Deaggregate) while leaving its FieldParent pointer intact, simulating
	// the chain/parent divergence CheckDB is meant to repair.
	tx2 := db.Begin()
	if err := tx2.setReserved(p.OID(), schema.FieldFirstObj, cell.SetOID(0)); err != nil {
		t.Fatalf("corrupt FieldFirstObj: %v", err)
	}
	if err := tx2.setReserved(p.OID(), schema.FieldLastObj, cell.SetOID(0)); err != nil {
		t.Fatalf("corrupt FieldLastObj: %v", err)
	}
	if err := tx2.Commit(); err != nil {
		t.Fatalf("Commit corrupt: %v", err)
	}

	report, err := CheckDB(db)
	if err != nil {
		t.Fatalf("CheckDB: %v", err)
	}
	if report.RelinkedChildren != 1 {
		t.Fatalf("RelinkedChildren = %d, want 1", report.RelinkedChildren)
	}

	tx3 := db.Begin()
	if got := NewObj(tx3, p.OID()).FirstChild(); got != a.OID() {
		t.Fatalf("parent.FirstChild after CheckDB = %d, want %d", got, a.OID())
	}
	tx3.Rollback()
}

func TestCheckDBDeletesGarbageObjects(t *testing.T) {
	db := openTestDB(t)
	tx := db.Begin()
	// A bare object with no parent, no UUID, no children, no slots, no map
	// entries is garbage once reachable only by raw OID.
	garbage, _ := CreateObj(tx, 0, false)
	kept, _ := CreateObj(tx, 0, true) // has a UUID, so it survives
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	report, err := CheckDB(db)
	if err != nil {
		t.Fatalf("CheckDB: %v", err)
	}
	deleted := map[uint32]bool{}
	for _, oid := range report.Deleted {
		deleted[oid] = true
	}
	if !deleted[garbage.OID()] {
		t.Fatalf("CheckDB did not delete garbage object %d", garbage.OID())
	}
	if deleted[kept.OID()] {
		t.Fatalf("CheckDB deleted object %d which has a bound UUID", kept.OID())
	}
}
