package cell

import (
	"bytes"
	"testing"
	"time"
)

func TestWriteReadRoundTrip(t *testing.T) {
	cases := []Cell{
		Null(),
		SetBool(true),
		SetUInt32(42),
		SetInt32(-7),
		SetOID(123456),
		SetAtom(7),
		SetUUID(mustUUID(t)),
		SetDateTime(time.Unix(1710000000, 0).UTC()),
		SetString("héllo"),
		SetAscii([]byte("ASCII")),
	}
	for _, c := range cases {
		buf := WriteCell(c)
		got, n, err := ReadCell(buf)
		if err != nil {
			t.Fatalf("ReadCell(%v): %v", c, err)
		}
		if n != len(buf) {
			t.Fatalf("ReadCell consumed %d of %d bytes", n, len(buf))
		}
		if !Equal(c, got) {
			t.Fatalf("round trip mismatch: %v != %v", c, got)
		}
	}
}

func TestInt32OrderPreserving(t *testing.T) {
	values := []int32{-100, -1, 0, 1, 100}
	var prev []byte
	for _, v := range values {
		b := WriteCell(SetInt32(v))
		if prev != nil && bytes.Compare(prev, b) >= 0 {
			t.Fatalf("encoding for %d did not sort after previous value", v)
		}
		prev = b
	}
}

func TestUInt32OrderPreserving(t *testing.T) {
	values := []uint32{0, 1, 1000, 0xFFFFFFFE}
	var prev []byte
	for _, v := range values {
		b := WriteCell(SetUInt32(v))
		if prev != nil && bytes.Compare(prev, b) >= 0 {
			t.Fatalf("encoding for %d did not sort after previous value", v)
		}
		prev = b
	}
}

func TestTypeTagOrdersBeforePayload(t *testing.T) {
	// A Null cell must sort before any Bool cell, regardless of payload,
	// since the type tag is the most significant byte.
	if bytes.Compare(WriteCell(Null()), WriteCell(SetBool(false))) >= 0 {
		t.Fatalf("Null did not sort before Bool")
	}
}

func TestFoldCaseDiscrepancy(t *testing.T) {
	if got := FoldCase(TypeString, "STRASSE"); got != "strasse" {
		t.Fatalf("FoldCase(String) = %q", got)
	}
	if got := FoldCase(TypeAscii, "ABC"); got != "abc" {
		t.Fatalf("FoldCase(Ascii) = %q", got)
	}
}

func TestDecomposeCanonicalBaseStripsCombiningMarks(t *testing.T) {
	got := Decompose(CollationNFKDCanonicalBase, "café")
	if bytes.Contains(got, []byte{0xCC, 0x81}) {
		t.Fatalf("Decompose left a combining acute accent in %q", got)
	}
	if !bytes.HasPrefix(got, []byte("cafe")) {
		t.Fatalf("Decompose(%q) = %q, want base-letter prefix %q", "café", got, "cafe")
	}
}

func TestSlotWriterReaderRoundTrip(t *testing.T) {
	w := NewSlotWriter()
	w.Slot("a", SetUInt32(1))
	w.BeginFrame("item")
	w.Slot("b", SetString("x"))
	w.EndFrame()
	w.Slot("c", SetOID(9))

	flat, frames, err := Frames(w.Bytes())
	if err != nil {
		t.Fatalf("Frames: %v", err)
	}
	if flat["a"].UInt32() != 1 || flat["c"].OID() != 9 {
		t.Fatalf("flat slots wrong: %+v", flat)
	}
	if len(frames) != 1 || frames[0].Name != "item" {
		t.Fatalf("frames wrong: %+v", frames)
	}
	inner, err := Slots(frames[0].Body)
	if err != nil {
		t.Fatalf("Slots(frame body): %v", err)
	}
	if inner["b"].String() != "x" {
		t.Fatalf("frame slot b = %q", inner["b"].String())
	}
}

func mustUUID(t *testing.T) (u [16]byte) {
	t.Helper()
	for i := range u {
		u[i] = byte(i)
	}
	return u
}
