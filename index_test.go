package udb

import (
	"fmt"
	"sort"
	"testing"

	"github.com/kvobj/udb/pkg/cell"
	"github.com/kvobj/udb/pkg/index"
	"github.com/kvobj/udb/pkg/store"
)

func dumpIndexPairs(t *testing.T, db *Database, name string) []string {
	t.Helper()
	tree := db.store.Table(db.idx.Table(name))
	var pairs []string
	c := store.NewCursor(tree)
	for ok := c.MoveFirst(); ok; ok = c.Next() {
		oc, _, err := cell.ReadCell(c.Value())
		if err != nil {
			t.Fatalf("ReadCell value: %v", err)
		}
		pairs = append(pairs, fmt.Sprintf("%x=%d", c.Key(), oc.OID()))
	}
	sort.Strings(pairs)
	return pairs
}

// Rebuilding an index from the extent must reproduce exactly the entry
// set incremental maintenance produced.
func TestIndexRebuildEquality(t *testing.T) {
	db := openTestDB(t)
	nameAtom, _ := db.Intern("Name")
	bdayAtom, _ := db.Intern("Birthday")

	if err := db.CreateIndex("by_name_bday", index.IndexMeta{
		Kind:  index.KindValue,
		Items: []index.Item{{Atom: nameAtom}, {Atom: bdayAtom}},
	}); err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}

	tx := db.Begin()
	names := []string{"alice", "bob", "carol"}
	for _, n := range names {
		oid, err := tx.Create(0, false)
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		if err := tx.SetUserValue(oid, nameAtom, cell.SetString(n)); err != nil {
			t.Fatalf("SetUserValue name: %v", err)
		}
		if err := tx.SetUserValue(oid, bdayAtom, cell.SetUInt32(uint32(len(n)))); err != nil {
			t.Fatalf("SetUserValue bday: %v", err)
		}
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	before := dumpIndexPairs(t, db, "by_name_bday")
	if len(before) != 3 {
		t.Fatalf("index has %d entries, want 3: %v", len(before), before)
	}

	if err := db.RebuildIndex("by_name_bday"); err != nil {
		t.Fatalf("RebuildIndex: %v", err)
	}
	after := dumpIndexPairs(t, db, "by_name_bday")

	if len(before) != len(after) {
		t.Fatalf("rebuild changed entry count: %d != %d", len(before), len(after))
	}
	for i := range before {
		if before[i] != after[i] {
			t.Fatalf("rebuild changed entry set: %v != %v", before, after)
		}
	}
}

// Unique index conflict: first writer wins.
func TestUniqueIndexFirstWriterWins(t *testing.T) {
	db := openTestDB(t)
	emailAtom, _ := db.Intern("Email")

	if err := db.CreateIndex("by_email", index.IndexMeta{
		Kind:  index.KindUnique,
		Items: []index.Item{{Atom: emailAtom}},
	}); err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}

	tx := db.Begin()
	oidA, err := tx.Create(0, false)
	if err != nil {
		t.Fatalf("Create A: %v", err)
	}
	if err := tx.SetUserValue(oidA, emailAtom, cell.SetString("x")); err != nil {
		t.Fatalf("SetUserValue A: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit A: %v", err)
	}

	tx2 := db.Begin()
	oidB, err := tx2.Create(0, false)
	if err != nil {
		t.Fatalf("Create B: %v", err)
	}
	if err := tx2.SetUserValue(oidB, emailAtom, cell.SetString("x")); err != nil {
		t.Fatalf("SetUserValue B: %v", err)
	}
	if err := tx2.Commit(); err != nil {
		t.Fatalf("Commit B: %v", err)
	}

	idx, err := db.QueryIndex("by_email")
	if err != nil {
		t.Fatalf("QueryIndex: %v", err)
	}
	if !idx.Seek(cell.SetString("x")) {
		t.Fatalf("Seek(x) found nothing")
	}
	oid, ok := idx.GetOID()
	if !ok {
		t.Fatalf("GetOID failed")
	}
	if oid != oidA {
		t.Fatalf("unique index entry for \"x\" = %d, want A(%d): B overwrote it", oid, oidA)
	}
}

// Rewriting the same unique value from its own object must keep the
// entry: the retraction and the re-insert ride the same commit batch.
func TestUniqueIndexSameValueRewriteKeepsEntry(t *testing.T) {
	db := openTestDB(t)
	emailAtom, _ := db.Intern("Email")
	if err := db.CreateIndex("by_email3", index.IndexMeta{
		Kind:  index.KindUnique,
		Items: []index.Item{{Atom: emailAtom}},
	}); err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}

	tx := db.Begin()
	oid, _ := tx.Create(0, false)
	if err := tx.SetUserValue(oid, emailAtom, cell.SetString("x")); err != nil {
		t.Fatalf("SetUserValue: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	tx2 := db.Begin()
	if err := tx2.SetUserValue(oid, emailAtom, cell.SetString("x")); err != nil {
		t.Fatalf("SetUserValue rewrite: %v", err)
	}
	if err := tx2.Commit(); err != nil {
		t.Fatalf("Commit rewrite: %v", err)
	}

	idx, err := db.QueryIndex("by_email3")
	if err != nil {
		t.Fatalf("QueryIndex: %v", err)
	}
	if !idx.Seek(cell.SetString("x")) {
		t.Fatalf("entry for \"x\" vanished after same-value rewrite")
	}
	got, ok := idx.GetOID()
	if !ok || got != oid {
		t.Fatalf("entry for \"x\" = %d, %v, want %d", got, ok, oid)
	}
}

func TestRebuildSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir, DefaultOptions())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	nameAtom, _ := db.Intern("Name")
	if err := db.CreateIndex("by_name_r", index.IndexMeta{
		Kind:  index.KindValue,
		Items: []index.Item{{Atom: nameAtom}},
	}); err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}
	tx := db.Begin()
	oid, _ := tx.Create(0, false)
	if err := tx.SetUserValue(oid, nameAtom, cell.SetString("dora")); err != nil {
		t.Fatalf("SetUserValue: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := db.RebuildIndex("by_name_r"); err != nil {
		t.Fatalf("RebuildIndex: %v", err)
	}
	want := dumpIndexPairs(t, db, "by_name_r")
	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	db2, err := Open(dir, DefaultOptions())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db2.Close()
	got := dumpIndexPairs(t, db2, "by_name_r")
	if len(got) != len(want) {
		t.Fatalf("index entries after reopen = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("index entries after reopen = %v, want %v", got, want)
		}
	}
}

func TestIndexEntryRemovedOnErase(t *testing.T) {
	db := openTestDB(t)
	emailAtom, _ := db.Intern("Email")
	if err := db.CreateIndex("by_email2", index.IndexMeta{
		Kind:  index.KindValue,
		Items: []index.Item{{Atom: emailAtom}},
	}); err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}

	tx := db.Begin()
	oid, _ := tx.Create(0, false)
	if err := tx.SetUserValue(oid, emailAtom, cell.SetString("y")); err != nil {
		t.Fatalf("SetUserValue: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	before := dumpIndexPairs(t, db, "by_email2")
	if len(before) != 1 {
		t.Fatalf("index has %d entries before erase, want 1", len(before))
	}

	tx2 := db.Begin()
	if err := NewObj(tx2, oid).Erase(); err != nil {
		t.Fatalf("Erase: %v", err)
	}
	if err := tx2.Commit(); err != nil {
		t.Fatalf("Commit erase: %v", err)
	}

	after := dumpIndexPairs(t, db, "by_email2")
	if len(after) != 0 {
		t.Fatalf("index still has entries after erase: %v", after)
	}
}
