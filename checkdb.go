package udb

import (
	"fmt"

	"github.com/google/uuid"
)

// CheckReport summarizes the corrections CheckDB applied during one
// integrity pass.
type CheckReport struct {
	RelinkedChildren int
	Deleted          []uint32
}

// CheckDB walks the entire Extent once, verifying that every object's
// FieldParent agrees with some container's sibling chain (relinking it at
// the end of that chain if not), then sweeps again for garbage objects
// (parentless, UUID-less, childless, slotless and mapless), erasing them.
// Every fix is staged into a single transaction and committed as one
// batch, so observers see one coherent set of notifications.
func CheckDB(db *Database) (*CheckReport, error) {
	report := &CheckReport{}
	tx := db.Begin()

	type parentage struct {
		oid    uint32
		parent uint32
	}
	var toRelink []parentage
	forEachOID(db, func(oid uint32) {
		obj := NewObj(tx, oid)
		parent := obj.Parent()
		if parent != 0 && !chainContains(tx, parent, oid) {
			toRelink = append(toRelink, parentage{oid, parent})
		}
	})

	for _, p := range toRelink {
		obj := NewObj(tx, p.oid)
		// Deaggregate first in case FieldParent is stale but the sibling
		// pointers still reference a now-unrelated chain.
		if err := obj.Deaggregate(); err != nil {
			tx.Rollback()
			return nil, err
		}
		if err := obj.AggregateTo(p.parent, 0); err != nil {
			tx.Rollback()
			return nil, err
		}
		report.RelinkedChildren++
	}

	var toDelete []uint32
	forEachOID(db, func(oid uint32) {
		if isGarbage(tx, oid) {
			toDelete = append(toDelete, oid)
		}
	})
	for _, oid := range toDelete {
		obj := NewObj(tx, oid)
		if obj.Parent() != 0 || obj.FirstChild() != 0 {
			continue // a relink above may have adopted it since the sweep
		}
		if err := obj.Erase(); err != nil {
			tx.Rollback()
			return nil, err
		}
		report.Deleted = append(report.Deleted, oid)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	fmt.Printf("checkdb: relinked %d children, deleted %d garbage objects\n",
		report.RelinkedChildren, len(report.Deleted))
	return report, nil
}

// forEachOID visits every live OID in the Extent once, in ascending order.
func forEachOID(db *Database, fn func(oid uint32)) {
	e := NewExtent(db)
	for ok := e.First(); ok; ok = e.Next() {
		fn(e.OID())
	}
}

// chainContains reports whether child appears in parent's FirstObj..LastObj
// sibling chain, bounding the walk against a cyclic chain.
func chainContains(tx *Transaction, parent, child uint32) bool {
	obj := NewObj(tx, parent)
	cur := obj.FirstChild()
	seen := make(map[uint32]bool)
	for cur != 0 && !seen[cur] {
		if cur == child {
			return true
		}
		seen[cur] = true
		cur = NewObj(tx, cur).Next()
	}
	return false
}

// isGarbage reports whether oid has no parent, no bound UUID, no children,
// no queue slots and no map entries: an object reachable only by its raw
// OID, with nothing left pointing at or inside it.
func isGarbage(tx *Transaction, oid uint32) bool {
	obj := NewObj(tx, oid)
	if obj.Parent() != 0 || obj.FirstChild() != 0 {
		return false
	}
	u, err := obj.UUID(false)
	if err != nil {
		return false
	}
	if u != uuid.Nil {
		return false
	}
	if NewQit(tx, oid).First() {
		return false
	}
	if NewMit(tx, oid).First() {
		return false
	}
	return true
}
