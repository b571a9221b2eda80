package udb

import (
	"testing"

	"github.com/google/uuid"
)

func TestEncodeDecodeObjectRefsRoundTrip(t *testing.T) {
	db := openTestDB(t)
	tx := db.Begin()
	o1, _ := tx.Create(0, false)
	o2, _ := tx.Create(0, false)
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	payload := EncodeObjectRefs(db, []uint32{o1, o2})
	if !IsLocalObjectRefs(db, payload) {
		t.Fatalf("IsLocalObjectRefs = false for a payload this db produced")
	}
	got := DecodeObjectRefs(db, payload)
	if len(got) != 2 || got[0] != o1 || got[1] != o2 {
		t.Fatalf("DecodeObjectRefs = %v, want [%d %d]", got, o1, o2)
	}
}

func TestDecodeObjectRefsRejectsForeignDatabase(t *testing.T) {
	db1 := openTestDB(t)
	db2 := openTestDB(t)

	tx := db1.Begin()
	oid, _ := tx.Create(0, false)
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	payload := EncodeObjectRefs(db1, []uint32{oid})

	if IsLocalObjectRefs(db2, payload) {
		t.Fatalf("IsLocalObjectRefs = true for a payload from a different database")
	}
	if got := DecodeObjectRefs(db2, payload); got != nil {
		t.Fatalf("DecodeObjectRefs across databases = %v, want nil", got)
	}
}

func TestXoidURLRoundTrip(t *testing.T) {
	db := openTestDB(t)
	tx := db.Begin()
	oid, _ := tx.Create(0, false)
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	u := OidToURL(oid, uuid.UUID(db.DBUUID()))
	gotOID, gotID, err := ParseXoidURL(u)
	if err != nil {
		t.Fatalf("ParseXoidURL: %v", err)
	}
	if gotOID != oid {
		t.Fatalf("ParseXoidURL oid = %d, want %d", gotOID, oid)
	}
	if gotID != uuid.UUID(db.DBUUID()) {
		t.Fatalf("ParseXoidURL dbID = %v, want %v", gotID, uuid.UUID(db.DBUUID()))
	}
}
